package orchestration

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	xssh "golang.org/x/crypto/ssh"

	gssh "github.com/saorsa-labs/saorsa-deploy/internal/ssh"
)

// SSHConnector opens sessions over SSH with key authentication.
type SSHConnector struct {
	// KnownHostsPath enables trust-on-first-use host key checking. Empty
	// disables host key verification.
	KnownHostsPath string
	Timeout        time.Duration
	Retries        int

	once     sync.Once
	hostKeys xssh.HostKeyCallback
	hkErr    error

	mu      sync.Mutex
	signers map[string]xssh.Signer
}

func (c *SSHConnector) Connect(ctx context.Context, host Host) (Session, error) {
	signer, err := c.signer(host.KeyPath)
	if err != nil {
		return nil, err
	}
	hostKeys, err := c.hostKeyCallback()
	if err != nil {
		return nil, err
	}
	port := host.Port
	if port == 0 {
		port = 22
	}
	timeout := c.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	cli, err := gssh.Dial(ctx, &gssh.Client{
		Addr:       net.JoinHostPort(host.Addr, strconv.Itoa(port)),
		User:       host.User,
		Signer:     signer,
		KnownHosts: hostKeys,
		Timeout:    timeout,
		Retries:    c.Retries,
	})
	if err != nil {
		return nil, err
	}
	return &sshSession{cli: cli}, nil
}

func (c *SSHConnector) signer(keyPath string) (xssh.Signer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.signers[keyPath]; ok {
		return s, nil
	}
	s, err := gssh.LoadPrivateKeySigner(keyPath)
	if err != nil {
		return nil, err
	}
	if c.signers == nil {
		c.signers = map[string]xssh.Signer{}
	}
	c.signers[keyPath] = s
	return s, nil
}

func (c *SSHConnector) hostKeyCallback() (xssh.HostKeyCallback, error) {
	c.once.Do(func() {
		if c.KnownHostsPath == "" {
			return
		}
		path, err := gssh.ExpandPath(c.KnownHostsPath)
		if err != nil {
			c.hkErr = err
			return
		}
		c.hostKeys, c.hkErr = gssh.TrustOnFirstUse(path)
	})
	if c.hkErr != nil {
		return nil, fmt.Errorf("known_hosts: %w", c.hkErr)
	}
	return c.hostKeys, nil
}

type sshSession struct {
	cli *xssh.Client
}

func (s *sshSession) Run(ctx context.Context, command string) (string, error) {
	return gssh.RunCommand(ctx, s.cli, command)
}

func (s *sshSession) Upload(ctx context.Context, localPath, remotePath string, mode os.FileMode) error {
	return gssh.PushFile(ctx, s.cli, localPath, remotePath, mode)
}

func (s *sshSession) Close() error { return s.cli.Close() }
