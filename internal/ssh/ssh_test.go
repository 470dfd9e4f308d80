package ssh

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	xssh "golang.org/x/crypto/ssh"
)

func newSigner(t *testing.T) xssh.Signer {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	s, err := xssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	return s
}

// startServer runs an SSH server that answers exec requests with
// "ran: <command>". The command "false" exits with status 1.
func startServer(t *testing.T, authorized xssh.PublicKey) string {
	t.Helper()
	cfg := &xssh.ServerConfig{
		PublicKeyCallback: func(_ xssh.ConnMetadata, key xssh.PublicKey) (*xssh.Permissions, error) {
			if bytes.Equal(key.Marshal(), authorized.Marshal()) {
				return nil, nil
			}
			return nil, errors.New("unauthorized")
		},
	}
	cfg.AddHostKey(newSigner(t))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })
	go func() {
		for {
			nc, err := ln.Accept()
			if err != nil {
				return
			}
			go serveConn(nc, cfg)
		}
	}()
	return ln.Addr().String()
}

func serveConn(nc net.Conn, cfg *xssh.ServerConfig) {
	_, chans, reqs, err := xssh.NewServerConn(nc, cfg)
	if err != nil {
		_ = nc.Close()
		return
	}
	go xssh.DiscardRequests(reqs)
	for nch := range chans {
		if nch.ChannelType() != "session" {
			_ = nch.Reject(xssh.UnknownChannelType, "session only")
			continue
		}
		ch, in, err := nch.Accept()
		if err != nil {
			continue
		}
		go func() {
			defer ch.Close()
			for req := range in {
				if req.Type != "exec" {
					if req.WantReply {
						_ = req.Reply(false, nil)
					}
					continue
				}
				var payload struct{ Command string }
				_ = xssh.Unmarshal(req.Payload, &payload)
				_ = req.Reply(true, nil)
				fmt.Fprintf(ch, "ran: %s", payload.Command)
				var status uint32
				if payload.Command == "false" {
					status = 1
				}
				_, _ = ch.SendRequest("exit-status", false, xssh.Marshal(struct{ Status uint32 }{status}))
				return
			}
		}()
	}
}

func TestDialAndRunCommand(t *testing.T) {
	signer := newSigner(t)
	addr := startServer(t, signer.PublicKey())

	ctx := context.Background()
	cli, err := Dial(ctx, &Client{Addr: addr, User: "root", Signer: signer, Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer cli.Close()

	out, err := RunCommand(ctx, cli, "systemctl daemon-reload")
	if err != nil {
		t.Fatalf("RunCommand: %v", err)
	}
	if out != "ran: systemctl daemon-reload" {
		t.Errorf("output = %q", out)
	}

	out, err = RunCommand(ctx, cli, "false")
	if err == nil {
		t.Fatal("expected non-zero exit to fail")
	}
	if out != "ran: false" {
		t.Errorf("output = %q", out)
	}
}

func TestDialRecordsHostKeyOnFirstUse(t *testing.T) {
	signer := newSigner(t)
	addr := startServer(t, signer.PublicKey())
	khPath := filepath.Join(t.TempDir(), "known_hosts")
	cb, err := TrustOnFirstUse(khPath)
	if err != nil {
		t.Fatalf("TrustOnFirstUse: %v", err)
	}

	for i := 0; i < 2; i++ {
		cli, err := Dial(context.Background(), &Client{Addr: addr, User: "root", Signer: signer, KnownHosts: cb, Timeout: 5 * time.Second})
		if err != nil {
			t.Fatalf("Dial %d: %v", i, err)
		}
		_ = cli.Close()
	}
	data, err := os.ReadFile(khPath)
	if err != nil {
		t.Fatal(err)
	}
	if n := strings.Count(strings.TrimSpace(string(data)), "\n") + 1; n != 1 {
		t.Errorf("expected one known_hosts entry, got %d:\n%s", n, data)
	}
}

func TestDialRejectsUnknownClientKey(t *testing.T) {
	addr := startServer(t, newSigner(t).PublicKey())
	_, err := Dial(context.Background(), &Client{Addr: addr, User: "root", Signer: newSigner(t), Timeout: 5 * time.Second})
	if err == nil {
		t.Fatal("expected auth failure")
	}
}

type failingDialer struct{ calls atomic.Int32 }

func (d *failingDialer) DialContext(context.Context, string, string) (net.Conn, error) {
	d.calls.Add(1)
	return nil, errors.New("connection refused")
}

func TestDialRetries(t *testing.T) {
	d := &failingDialer{}
	_, err := Dial(context.Background(), &Client{
		Addr: "10.0.0.1:22", User: "root", Signer: newSigner(t),
		Retries: 2, Backoff: time.Millisecond, Dialer: d,
	})
	if err == nil || !strings.Contains(err.Error(), "connection refused") {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := d.calls.Load(); got != 3 {
		t.Errorf("dial attempts = %d, want 3", got)
	}
}

func TestDialRequiresSigner(t *testing.T) {
	if _, err := Dial(context.Background(), &Client{Addr: "x:22"}); err == nil {
		t.Fatal("expected error without signer")
	}
}
