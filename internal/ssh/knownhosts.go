package ssh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"
	xssh "golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// Runner runs a local command to completion.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) error
}

// ExecRunner runs commands with os/exec, discarding their output.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) error {
	var buf bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s: %w: %s", name, err, bytes.TrimSpace(buf.Bytes()))
	}
	return nil
}

// ClearKnownHosts removes the entries for each IP from the known_hosts file at
// path with `ssh-keygen -R`. An empty path leaves ssh-keygen on its default
// file. Cloud providers recycle addresses, so a stale key would otherwise fail
// the handshake with a fresh VM. Failures are ignored; successes are printed
// to out when it is non-nil.
func ClearKnownHosts(ctx context.Context, path string, ips []string, runner Runner, out io.Writer) {
	if runner == nil {
		runner = ExecRunner{}
	}
	var base []string
	if path != "" {
		expanded, err := ExpandPath(path)
		if err != nil {
			log.Debug().Str("path", path).Err(err).Msg("known_hosts path not expanded")
			return
		}
		base = []string{"-f", expanded}
	}
	for _, ip := range ips {
		args := append(append([]string{}, base...), "-R", ip)
		if err := runner.Run(ctx, "ssh-keygen", args...); err != nil {
			log.Debug().Str("ip", ip).Err(err).Msg("known_hosts entry not removed")
			continue
		}
		if out != nil {
			fmt.Fprintf(out, "Cleared known_hosts entry for %s\n", ip)
		}
	}
}

// EnsureKnownHostsFile makes sure the directory exists and the file is created.
func EnsureKnownHostsFile(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("mkdir known_hosts dir: %w", err)
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := os.WriteFile(path, []byte(""), 0600); err != nil {
			return fmt.Errorf("create known_hosts: %w", err)
		}
	}
	return nil
}

// AppendKnownHost appends a known_hosts entry for host.
func AppendKnownHost(path, host string, key xssh.PublicKey) error {
	if err := EnsureKnownHostsFile(path); err != nil {
		return err
	}
	line := knownhosts.Line([]string{host}, key)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("open known_hosts: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(line + "\n"); err != nil {
		return fmt.Errorf("write known_hosts: %w", err)
	}
	return nil
}

// TrustOnFirstUse returns a host key callback backed by the known_hosts file
// at path. Unknown hosts are accepted and recorded; a changed key is rejected.
func TrustOnFirstUse(path string) (xssh.HostKeyCallback, error) {
	if err := EnsureKnownHostsFile(path); err != nil {
		return nil, err
	}
	var mu sync.Mutex
	return func(hostname string, remote net.Addr, key xssh.PublicKey) error {
		mu.Lock()
		defer mu.Unlock()
		// Reloaded per call so entries appended by other hosts in the batch are seen.
		check, err := knownhosts.New(path)
		if err != nil {
			return fmt.Errorf("load known_hosts: %w", err)
		}
		err = check(hostname, remote, key)
		var keyErr *knownhosts.KeyError
		if errors.As(err, &keyErr) && len(keyErr.Want) == 0 {
			log.Debug().Str("host", hostname).Str("type", key.Type()).Msg("Recording new host key")
			return AppendKnownHost(path, hostname, key)
		}
		return err
	}, nil
}
