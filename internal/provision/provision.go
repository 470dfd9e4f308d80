// Package provision installs the saorsa-node binary on hosts and runs it as
// systemd services.
package provision

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/saorsa-labs/saorsa-deploy/internal/orchestration"
	"github.com/saorsa-labs/saorsa-deploy/internal/progress"
)

// DefaultSSHUser is the account hosts are provisioned as unless Runtime.User is set.
const DefaultSSHUser = "root"

// URLResolver returns the download URL of the binary to install.
type URLResolver interface {
	LatestURL(ctx context.Context) (string, error)
}

// HostFailureError reports that one or more hosts failed. It is returned once,
// after every host has been attempted and all connections are closed.
type HostFailureError struct {
	Failed []string
	Total  int
}

func (e *HostFailureError) Error() string {
	return fmt.Sprintf("%d host(s) failed provisioning", len(e.Failed))
}

// Result summarises a provisioning run.
type Result struct {
	Total        int
	Succeeded    int
	Failed       []string
	NodesPerHost int
	Duration     time.Duration
}

// Runtime holds the collaborators shared by the provisioners.
type Runtime struct {
	Resolver  URLResolver
	Connector orchestration.Connector
	// User is the SSH login; empty means DefaultSSHUser.
	User string
	// Reporter renders progress; nil disables it.
	Reporter progress.Reporter
	// Sinks receive events in addition to Reporter.
	Sinks []orchestration.EventSink
	// Console receives user-facing messages; nil discards them.
	Console io.Writer
}

func (rt *Runtime) user() string {
	if rt.User == "" {
		return DefaultSSHUser
	}
	return rt.User
}

func (rt *Runtime) console() io.Writer {
	if rt.Console == nil {
		return io.Discard
	}
	return rt.Console
}

// installOp resolves how the binary reaches the host. Release resolution
// failures abort before any host is contacted.
func (rt *Runtime) installOp(ctx context.Context, binaryPath string) (orchestration.Operation, error) {
	out := rt.console()
	if binaryPath != "" {
		fmt.Fprintf(out, "Using local binary %s\n", binaryPath)
		return UploadInstallOp(binaryPath), nil
	}
	fmt.Fprintln(out, "Fetching latest release from GitHub...")
	url, err := rt.Resolver.LatestURL(ctx)
	if err != nil {
		return orchestration.Operation{}, err
	}
	fmt.Fprintf(out, "  Release URL: %s\n", url)
	return DownloadInstallOp(url), nil
}

// run connects to hosts, runs ops and always disconnects before returning.
func (rt *Runtime) run(ctx context.Context, hosts []orchestration.Host, ops []orchestration.Operation) (failed []string, err error) {
	engine := orchestration.New(rt.Connector, hosts, rt.Sinks...)
	engine.AddSink(orchestration.SinkFunc(func(ev orchestration.Event) {
		if ev.Kind == orchestration.OpHostFailed {
			log.Debug().Str("host", ev.Host).Str("op", ev.Op).Err(ev.Err).Msg("Operation failed")
		}
	}))
	if rt.Reporter != nil {
		engine.AddSink(rt.Reporter)
	}
	for _, op := range ops {
		engine.AddOp(op)
	}

	fmt.Fprintf(rt.console(), "Connecting to %d host(s) as %s...\n", len(engine.Hosts()), rt.user())
	if rt.Reporter != nil {
		rt.Reporter.Start()
	}
	defer func() {
		engine.DisconnectAll()
		if rt.Reporter != nil {
			rt.Reporter.Stop()
		}
		failed = engine.FailedHosts()
		for _, h := range failed {
			log.Debug().Str("host", h).Err(engine.HostError(h)).Msg("Host failed")
		}
	}()

	engine.ConnectAll(ctx)
	if err := engine.RunOps(ctx); err != nil {
		return nil, err
	}
	if rt.Reporter != nil {
		rt.Reporter.MarkAllDone()
	}
	return nil, nil
}

func (rt *Runtime) report(total, nodesPerHost int, failed []string, started time.Time) (*Result, error) {
	res := &Result{
		Total:        total,
		Succeeded:    total - len(failed),
		Failed:       failed,
		NodesPerHost: nodesPerHost,
		Duration:     time.Since(started),
	}
	out := rt.console()
	fmt.Fprintln(out)
	fmt.Fprintf(out, "Provisioning complete: %d/%d hosts succeeded, %d node(s) per host\n", res.Succeeded, res.Total, nodesPerHost)
	if len(failed) > 0 {
		for _, h := range failed {
			fmt.Fprintf(out, "  Failed: %s\n", h)
		}
		return res, &HostFailureError{Failed: failed, Total: total}
	}
	return res, nil
}

func (rt *Runtime) inventory(ips []string, keyPath string) []orchestration.Host {
	hosts := make([]orchestration.Host, 0, len(ips))
	for _, ip := range ips {
		hosts = append(hosts, orchestration.Host{Name: ip, Addr: ip, User: rt.user(), KeyPath: keyPath})
	}
	return hosts
}
