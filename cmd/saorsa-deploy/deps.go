package main

import (
	"context"
	"io"

	"github.com/fatih/color"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/saorsa-labs/saorsa-deploy/internal/core"
	"github.com/saorsa-labs/saorsa-deploy/internal/orchestration"
	"github.com/saorsa-labs/saorsa-deploy/internal/progress"
	"github.com/saorsa-labs/saorsa-deploy/internal/provision"
	"github.com/saorsa-labs/saorsa-deploy/internal/release"
	gssh "github.com/saorsa-labs/saorsa-deploy/internal/ssh"
	"github.com/saorsa-labs/saorsa-deploy/internal/state"
	"github.com/saorsa-labs/saorsa-deploy/internal/telemetry"
)

var (
	errorLabel = color.New(color.FgRed, color.Bold).SprintFunc()
	successMsg = color.New(color.FgGreen, color.Bold).SprintFunc()
	warningMsg = color.New(color.FgYellow).SprintFunc()
	dimMsg     = color.New(color.Faint).SprintFunc()
	boldMsg    = color.New(color.Bold).SprintFunc()
)

// deps holds collaborators that override the ones built from configuration.
// Zero values are filled in per command.
type deps struct {
	States      *state.Store
	Connector   orchestration.Connector
	Resolver    provision.URLResolver
	Runner      gssh.Runner
	History     *core.Store
	Interactive *bool
}

// env is everything a command needs, resolved from deps and the config file.
type env struct {
	cfg         core.Config
	out         io.Writer
	states      *state.Store
	connector   orchestration.Connector
	resolver    provision.URLResolver
	runner      gssh.Runner
	history     *core.Store
	metrics     *telemetry.Collector
	interactive bool

	closeHistory bool
}

// resolve loads configuration and builds any collaborator d does not supply.
// A history database that cannot be opened is logged and skipped.
func (d *deps) resolve(cmd *cobra.Command) (*env, error) {
	cfgPath, _ := cmd.Flags().GetString("config")
	cfg, err := core.LoadConfig(cfgPath)
	if err != nil {
		return nil, err
	}
	out := cmd.OutOrStdout()
	e := &env{
		cfg:       cfg,
		out:       out,
		states:    d.States,
		connector: d.Connector,
		resolver:  d.Resolver,
		runner:    d.Runner,
		history:   d.History,
		metrics:   telemetry.NewCollector(),
	}
	if d.Interactive != nil {
		e.interactive = *d.Interactive
	} else {
		e.interactive = progress.IsTerminal(out)
	}

	if e.states == nil {
		e.states, err = newStateStore(cmd.Context(), cfg.State)
		if err != nil {
			return nil, err
		}
	}
	if e.connector == nil {
		e.connector = &orchestration.SSHConnector{
			KnownHostsPath: cfg.SSH.KnownHosts,
			Timeout:        cfg.SSH.Timeout,
			Retries:        2,
		}
	}
	if e.resolver == nil {
		r := release.NewResolver()
		if cfg.Release.APIURL != "" {
			r.APIURL = cfg.Release.APIURL
		}
		if cfg.Release.Repo != "" {
			r.Repo = cfg.Release.Repo
		}
		if cfg.Release.Asset != "" {
			r.Asset = cfg.Release.Asset
		}
		e.resolver = r
	}
	if e.runner == nil {
		e.runner = gssh.ExecRunner{}
	}
	if e.history == nil && cfg.History.Path != "" {
		h, err := core.NewStore(cfg.History.Path)
		if err != nil {
			log.Warn().Err(err).Str("path", cfg.History.Path).Msg("Run history disabled")
		} else {
			e.history = h
			e.closeHistory = true
		}
	}
	return e, nil
}

func newStateStore(ctx context.Context, c core.StateConfig) (*state.Store, error) {
	client, err := state.NewS3Client(ctx, state.S3Options{
		Endpoint:  c.Endpoint,
		Region:    c.Region,
		AccessKey: c.AccessKey,
		SecretKey: c.SecretKey,
		PathStyle: c.PathStyle,
	})
	if err != nil {
		return nil, err
	}
	return state.NewStore(client, c.Bucket, c.Prefix), nil
}

func (e *env) close() {
	e.metrics.Flush(nil)
	if e.closeHistory && e.history != nil {
		_ = e.history.Close()
	}
}

// runtime returns the provisioning collaborators with a fresh progress reporter.
func (e *env) runtime() provision.Runtime {
	return provision.Runtime{
		Resolver:  e.resolver,
		Connector: e.connector,
		User:      e.cfg.SSH.User,
		Reporter:  progress.New(e.out, e.interactive),
		Sinks:     []orchestration.EventSink{telemetry.NewRunSink(e.metrics)},
		Console:   e.out,
	}
}

func (e *env) sshKeyPath(flag string) string {
	if flag != "" {
		return flag
	}
	return e.cfg.SSH.KeyPath
}

// record journals a finished run. Failures are logged only.
func (e *env) record(ctx context.Context, run core.Run) {
	e.metrics.Counter("provision_runs", 1, map[string]string{"kind": run.Kind, "status": string(run.Status)})
	if e.history == nil {
		return
	}
	if _, err := e.history.RecordRun(ctx, run); err != nil {
		log.Warn().Err(err).Str("deployment", run.Deployment).Msg("Failed to record run")
	}
}

