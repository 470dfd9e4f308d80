package ssh

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"os"
	"path/filepath"
	"strings"
	"testing"

	xssh "golang.org/x/crypto/ssh"
)

// writeTestKey writes an unencrypted OpenSSH ed25519 key and returns its
// path and authorized_keys line.
func writeTestKey(t *testing.T, dir string) (string, string) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	block, err := xssh.MarshalPrivateKey(priv, "")
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	path := filepath.Join(dir, "id_ed25519")
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0600); err != nil {
		t.Fatalf("write: %v", err)
	}
	sshPub, err := xssh.NewPublicKey(pub)
	if err != nil {
		t.Fatalf("public key: %v", err)
	}
	return path, string(xssh.MarshalAuthorizedKey(sshPub))
}

func TestLoadPrivateKeySigner(t *testing.T) {
	path, pub := writeTestKey(t, t.TempDir())
	signer, err := LoadPrivateKeySigner(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	got := string(xssh.MarshalAuthorizedKey(signer.PublicKey()))
	if got != pub {
		t.Fatalf("public key mismatch: %q != %q", got, pub)
	}
}

func TestLoadPrivateKeySignerMissing(t *testing.T) {
	if _, err := LoadPrivateKeySigner(filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Fatalf("expected error for missing key")
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	got, err := ExpandPath("~/.ssh/id_rsa")
	if err != nil {
		t.Fatalf("expand: %v", err)
	}
	if got != filepath.Join(home, ".ssh", "id_rsa") {
		t.Fatalf("unexpected path %s", got)
	}
	if p, _ := ExpandPath("/tmp/key"); p != "/tmp/key" {
		t.Fatalf("absolute path changed: %s", p)
	}
	if p, _ := ExpandPath("~user/key"); !strings.HasPrefix(p, "~user") {
		t.Fatalf("~user form should be left alone: %s", p)
	}
}
