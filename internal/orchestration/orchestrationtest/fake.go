// Package orchestrationtest provides an in-memory Connector for tests.
package orchestrationtest

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"

	"github.com/saorsa-labs/saorsa-deploy/internal/orchestration"
)

// Connector records every connection, command and upload. Hosts listed in
// ConnectErrors fail to connect; a command on host H fails when it contains
// any substring in FailCommands[H].
type Connector struct {
	ConnectErrors map[string]error
	FailCommands  map[string][]string

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewConnector() *Connector {
	return &Connector{
		ConnectErrors: map[string]error{},
		FailCommands:  map[string][]string{},
		sessions:      map[string]*Session{},
	}
}

func (c *Connector) Connect(_ context.Context, host orchestration.Host) (orchestration.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ConnectErrors[host.Name]; err != nil {
		return nil, err
	}
	s := &Session{host: host, fail: c.FailCommands[host.Name]}
	c.sessions[host.Name] = s
	return s, nil
}

// Session returns the session opened for a host, or nil.
func (c *Connector) Session(name string) *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessions[name]
}

// Session is a recorded fake connection.
type Session struct {
	host orchestration.Host
	fail []string

	mu       sync.Mutex
	commands []string
	uploads  []orchestration.Upload
	closed   bool
}

func (s *Session) Run(_ context.Context, command string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commands = append(s.commands, command)
	for _, f := range s.fail {
		if strings.Contains(command, f) {
			return "simulated failure", errors.New("exit status 1")
		}
	}
	return "", nil
}

func (s *Session) Upload(_ context.Context, localPath, remotePath string, mode os.FileMode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uploads = append(s.uploads, orchestration.Upload{LocalPath: localPath, RemotePath: remotePath, Mode: mode})
	return nil
}

func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Host returns the inventory entry the session was opened for.
func (s *Session) Host() orchestration.Host { return s.host }

// Commands returns the commands run so far.
func (s *Session) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

// Uploads returns the uploads performed so far.
func (s *Session) Uploads() []orchestration.Upload {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]orchestration.Upload(nil), s.uploads...)
}

// Closed reports whether Close was called.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Recorder is an EventSink that keeps every event.
type Recorder struct {
	mu     sync.Mutex
	events []orchestration.Event
}

func (r *Recorder) Handle(ev orchestration.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

// Events returns the recorded events.
func (r *Recorder) Events() []orchestration.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]orchestration.Event(nil), r.events...)
}

// Count returns how many events of kind were recorded.
func (r *Recorder) Count(kind orchestration.EventKind) int {
	n := 0
	for _, ev := range r.Events() {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}
