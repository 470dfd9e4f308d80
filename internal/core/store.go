package core

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/saorsa-labs/saorsa-deploy/pkg/api"
)

// Store is a SQLite-backed journal of provisioning runs.
type Store struct{ db *sql.DB }

//go:embed migrations/*.sql
var migrationFS embed.FS

// Run is one recorded provisioning run.
type Run struct {
	ID           int64
	Deployment   string
	Kind         string
	Status       api.RunStatus
	HostsTotal   int
	FailedHosts  []string
	NodesPerHost int
	Error        string
	StartedAt    time.Time
	Duration     time.Duration
}

const (
	RunKindGenesis = "genesis"
	RunKindNodes   = "nodes"
)

// NewStore opens (creating if needed) the database at path and applies the schema.
func NewStore(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create history dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// A single connection keeps ":memory:" databases shared across calls.
	db.SetMaxOpenConns(1)
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema, err := migrationFS.ReadFile("migrations/0001_init.sql")
	if err != nil {
		return err
	}
	if _, err := s.db.Exec(string(schema)); err != nil {
		return fmt.Errorf("apply migration: %w", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	if s.db == nil {
		return errors.New("db not initialized")
	}
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// RecordRun appends r to the journal and returns its id.
func (s *Store) RecordRun(ctx context.Context, r Run) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (deployment, kind, status, hosts_total, hosts_failed, nodes_per_host, failed_hosts, error, started_at, duration_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.Deployment, r.Kind, string(r.Status), r.HostsTotal, len(r.FailedHosts), r.NodesPerHost,
		strings.Join(r.FailedHosts, ","), r.Error, r.StartedAt.UnixMilli(), r.Duration.Milliseconds())
	if err != nil {
		return 0, fmt.Errorf("record run: %w", err)
	}
	return res.LastInsertId()
}

// ListRuns returns the most recent runs first. An empty deployment lists all
// deployments; limit <= 0 means no limit.
func (s *Store) ListRuns(ctx context.Context, deployment string, limit int) ([]Run, error) {
	q := `SELECT id, deployment, kind, status, hosts_total, nodes_per_host, failed_hosts, error, started_at, duration_ms FROM runs`
	var args []any
	if deployment != "" {
		q += ` WHERE deployment = ?`
		args = append(args, deployment)
	}
	q += ` ORDER BY started_at DESC, id DESC`
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var (
			r         Run
			status    string
			failed    string
			startedMs int64
			durMs     int64
		)
		if err := rows.Scan(&r.ID, &r.Deployment, &r.Kind, &status, &r.HostsTotal, &r.NodesPerHost, &failed, &r.Error, &startedMs, &durMs); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.Status = api.RunStatus(status)
		if failed != "" {
			r.FailedHosts = strings.Split(failed, ",")
		}
		r.StartedAt = time.UnixMilli(startedMs)
		r.Duration = time.Duration(durMs) * time.Millisecond
		out = append(out, r)
	}
	return out, rows.Err()
}

// RunStatusFor classifies a run from its host counts and error.
func RunStatusFor(total int, failed []string, err error) api.RunStatus {
	switch {
	case err == nil:
		return api.RunSucceeded
	case len(failed) > 0 && len(failed) < total:
		return api.RunPartial
	default:
		return api.RunFailed
	}
}
