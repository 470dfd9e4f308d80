// Package orchestration runs grouped shell operations over SSH against a set of
// hosts and reports lifecycle events to registered sinks.
//
// Connections are opened concurrently, one per host. Operations run in the
// order they were added; each operation runs on every still-healthy host in
// parallel, and a host that fails an operation is skipped for the rest of the
// run. Sinks are passive: they observe events and cannot change the outcome.
package orchestration

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Host is a single inventory entry.
type Host struct {
	Name    string
	Addr    string
	Port    int
	User    string
	KeyPath string
}

// Upload copies a local file to the host before an operation's commands run.
type Upload struct {
	LocalPath  string
	RemotePath string
	Mode       os.FileMode
}

// Operation is a named group of shell commands executed in order on a host.
type Operation struct {
	Name     string
	Uploads  []Upload
	Commands []string
}

// Session is an open connection to one host.
type Session interface {
	Run(ctx context.Context, command string) (string, error)
	Upload(ctx context.Context, localPath, remotePath string, mode os.FileMode) error
	Close() error
}

// Connector opens sessions to hosts.
type Connector interface {
	Connect(ctx context.Context, host Host) (Session, error)
}

// Engine holds the inventory, queued operations and per-host connection state
// for a single run.
type Engine struct {
	connector Connector
	hosts     []Host
	sinks     []EventSink

	mu       sync.Mutex
	ops      []Operation
	sessions map[string]Session
	failed   map[string]error
}

// New creates an engine for hosts. Sinks receive every lifecycle event.
func New(connector Connector, hosts []Host, sinks ...EventSink) *Engine {
	return &Engine{
		connector: connector,
		hosts:     hosts,
		sinks:     sinks,
		sessions:  map[string]Session{},
		failed:    map[string]error{},
	}
}

// Hosts returns the inventory.
func (e *Engine) Hosts() []Host { return e.hosts }

// AddSink registers another event sink. Call before ConnectAll.
func (e *Engine) AddSink(s EventSink) { e.sinks = append(e.sinks, s) }

// AddOp queues an operation.
func (e *Engine) AddOp(op Operation) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ops = append(e.ops, op)
}

// Ops returns the queued operations.
func (e *Engine) Ops() []Operation {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Operation, len(e.ops))
	copy(out, e.ops)
	return out
}

// ConnectAll connects to every host concurrently. A failed connection marks
// the host as failed and does not abort the others.
func (e *Engine) ConnectAll(ctx context.Context) {
	var wg sync.WaitGroup
	for _, h := range e.hosts {
		wg.Add(1)
		go func(h Host) {
			defer wg.Done()
			e.emit(Event{Kind: HostConnecting, Host: h.Name})
			sess, err := e.connector.Connect(ctx, h)
			if err != nil {
				log.Debug().Str("host", h.Name).Err(err).Msg("Connect failed")
				e.markFailed(h.Name, fmt.Errorf("connect: %w", err))
				e.emit(Event{Kind: HostConnectFailed, Host: h.Name, Err: err})
				return
			}
			e.mu.Lock()
			e.sessions[h.Name] = sess
			e.mu.Unlock()
			e.emit(Event{Kind: HostConnected, Host: h.Name})
		}(h)
	}
	wg.Wait()
}

// RunOps runs the queued operations against every connected host. Per-host
// failures are recorded and surface through FailedHosts; the returned error is
// only non-nil when ctx is cancelled.
func (e *Engine) RunOps(ctx context.Context) error {
	for _, op := range e.Ops() {
		if err := ctx.Err(); err != nil {
			return err
		}
		e.emit(Event{Kind: OpStarted, Op: op.Name})

		var wg sync.WaitGroup
		for _, h := range e.hosts {
			sess, ok := e.active(h.Name)
			if !ok {
				continue
			}
			wg.Add(1)
			go func(h Host, sess Session) {
				defer wg.Done()
				e.emit(Event{Kind: OpHostStarted, Host: h.Name, Op: op.Name})
				if err := runOp(ctx, sess, op); err != nil {
					log.Debug().Str("host", h.Name).Str("op", op.Name).Err(err).Msg("Operation failed")
					e.markFailed(h.Name, fmt.Errorf("%s: %w", op.Name, err))
					e.emit(Event{Kind: OpHostFailed, Host: h.Name, Op: op.Name, Err: err})
					return
				}
				e.emit(Event{Kind: OpHostSucceeded, Host: h.Name, Op: op.Name})
			}(h, sess)
		}
		wg.Wait()

		e.emit(Event{Kind: OpEnded, Op: op.Name})
	}
	return ctx.Err()
}

func runOp(ctx context.Context, sess Session, op Operation) error {
	for _, u := range op.Uploads {
		if err := sess.Upload(ctx, u.LocalPath, u.RemotePath, u.Mode); err != nil {
			return fmt.Errorf("upload %s: %w", u.RemotePath, err)
		}
	}
	for _, cmd := range op.Commands {
		out, err := sess.Run(ctx, cmd)
		if err != nil {
			if out != "" {
				return fmt.Errorf("%w: %s", err, out)
			}
			return err
		}
	}
	return nil
}

// DisconnectAll closes every open session. It is safe to call more than once.
func (e *Engine) DisconnectAll() {
	e.mu.Lock()
	sessions := e.sessions
	e.sessions = map[string]Session{}
	e.mu.Unlock()

	for name, sess := range sessions {
		if err := sess.Close(); err != nil {
			log.Debug().Str("host", name).Err(err).Msg("Disconnect failed")
		}
	}
}

// FailedHosts returns the names of failed hosts in inventory order.
func (e *Engine) FailedHosts() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []string
	for _, h := range e.hosts {
		if _, ok := e.failed[h.Name]; ok {
			out = append(out, h.Name)
		}
	}
	return out
}

// HostError returns the recorded failure for a host, if any.
func (e *Engine) HostError(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.failed[name]
}

func (e *Engine) active(name string) (Session, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, failed := e.failed[name]; failed {
		return nil, false
	}
	sess, ok := e.sessions[name]
	return sess, ok
}

func (e *Engine) markFailed(name string, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.failed[name]; !ok {
		e.failed[name] = err
	}
}

func (e *Engine) emit(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	for _, s := range e.sinks {
		s.Handle(ev)
	}
}
