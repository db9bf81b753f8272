package pgctl

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dd0wney/cluso-pgha/pkg/remote"
)

// recovery markers left in the data directory by pg_basebackup -R or by hand
var recoverySignals = []string{"standby.signal", "recovery.signal", "recovery.conf"}

// Querier is the subset of a pgx pool the engine queries through.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// EngineConfig describes one node's PostgreSQL installation and how to reach it.
type EngineConfig struct {
	DataDir   string
	ConfigDir string
	BinDir    string
	OSUser    string

	Address string
	Port    int

	AdminUser     string
	AdminPassword string
	AdminDatabase string
	SSLMode       string
}

// DSN is the connection string for the admin session. The password travels in
// the URL userinfo and is never logged.
func (c EngineConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.AdminUser, c.AdminPassword),
		Host:   net.JoinHostPort(c.Address, strconv.Itoa(c.Port)),
		Path:   "/" + c.AdminDatabase,
	}
	q := url.Values{}
	q.Set("sslmode", c.SSLMode)
	q.Set("connect_timeout", "5")
	q.Set("application_name", "pgha")
	u.RawQuery = q.Encode()
	return u.String()
}

// Engine is the control plane of one PostgreSQL instance.
type Engine struct {
	host remote.Host
	cfg  EngineConfig

	mu   sync.Mutex
	q    Querier
	pool *pgxpool.Pool
}

type EngineOption func(*Engine)

// WithQuerier bypasses connection setup; used by tests.
func WithQuerier(q Querier) EngineOption {
	return func(e *Engine) { e.q = q }
}

func NewEngine(host remote.Host, cfg EngineConfig, opts ...EngineOption) *Engine {
	if cfg.ConfigDir == "" {
		cfg.ConfigDir = cfg.DataDir
	}
	e := &Engine{host: host, cfg: cfg}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) DataDir() string { return e.cfg.DataDir }

func (e *Engine) RuntimeConfigPath() string {
	return filepath.Join(e.cfg.ConfigDir, "postgresql.conf")
}

func (e *Engine) AccessConfigPath() string {
	return filepath.Join(e.cfg.ConfigDir, "pg_hba.conf")
}

func (e *Engine) querier(ctx context.Context) (Querier, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.q != nil {
		return e.q, nil
	}

	config, err := pgxpool.ParseConfig(e.cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection config: %w", err)
	}
	config.MaxConns = 2
	config.MinConns = 0
	config.MaxConnLifetime = 5 * time.Minute
	config.MaxConnIdleTime = 1 * time.Minute
	// connections do not survive a restart of the engine
	config.BeforeAcquire = func(ctx context.Context, c *pgx.Conn) bool {
		return c.Ping(ctx) == nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrNotConnected, e.host.Name(), err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: %s: %w", ErrNotConnected, e.host.Name(), err)
	}
	e.pool, e.q = pool, pool
	return pool, nil
}

// Close releases the admin connection pool, if one was opened.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pool != nil {
		e.pool.Close()
		e.pool = nil
		e.q = nil
	}
}

// HasDataDir reports whether the data directory holds an initialized cluster.
func (e *Engine) HasDataDir(ctx context.Context) (bool, error) {
	return e.host.Exists(ctx, filepath.Join(e.cfg.DataDir, "PG_VERSION"))
}

// InRecovery asks a running engine whether it is a standby.
func (e *Engine) InRecovery(ctx context.Context) (bool, error) {
	q, err := e.querier(ctx)
	if err != nil {
		return false, err
	}
	var inRecovery bool
	if err := q.QueryRow(ctx, "SELECT pg_is_in_recovery()").Scan(&inRecovery); err != nil {
		return false, fmt.Errorf("querying recovery state: %w", err)
	}
	return inRecovery, nil
}

// HasRecoverySignal answers InRecovery for a stopped engine from the files a
// standby is started with.
func (e *Engine) HasRecoverySignal(ctx context.Context) (bool, error) {
	for _, name := range recoverySignals {
		ok, err := e.host.Exists(ctx, filepath.Join(e.cfg.DataDir, name))
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// ReplicationCount counts streaming standbys attached to this engine.
func (e *Engine) ReplicationCount(ctx context.Context) (int, error) {
	q, err := e.querier(ctx)
	if err != nil {
		return 0, err
	}
	var n int64
	err = q.QueryRow(ctx, "SELECT count(*) FROM pg_stat_replication WHERE state = 'streaming'").Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("querying pg_stat_replication: %w", err)
	}
	return int(n), nil
}

// PendingRestart lists the settings whose file value the running engine can
// only apply by restarting.
func (e *Engine) PendingRestart(ctx context.Context) ([]string, error) {
	q, err := e.querier(ctx)
	if err != nil {
		return nil, err
	}
	var names string
	err = q.QueryRow(ctx,
		"SELECT coalesce(string_agg(name, ',' ORDER BY name), '') FROM pg_settings WHERE pending_restart",
	).Scan(&names)
	if err != nil {
		return nil, fmt.Errorf("querying pending restarts: %w", err)
	}
	if names == "" {
		return nil, nil
	}
	return strings.Split(names, ","), nil
}

// Reload signals the postmaster to re-read its configuration files.
func (e *Engine) Reload(ctx context.Context) error {
	_, err := e.host.Run(ctx, e.asOSUser(e.bin("pg_ctl"), "reload", "-D", e.cfg.DataDir)...)
	if err != nil {
		return fmt.Errorf("reloading configuration: %w", err)
	}
	return nil
}

// InitDB creates a fresh cluster in the data directory.
func (e *Engine) InitDB(ctx context.Context) error {
	_, err := e.host.Run(ctx, e.asOSUser(e.bin("initdb"),
		"-D", e.cfg.DataDir,
		"--auth-local=peer",
		"--auth-host=scram-sha-256",
	)...)
	if err != nil {
		return fmt.Errorf("initdb: %w", err)
	}
	return nil
}

func (e *Engine) bin(name string) string {
	if e.cfg.BinDir == "" {
		return name
	}
	return filepath.Join(e.cfg.BinDir, name)
}

func (e *Engine) asOSUser(argv ...string) []string {
	return append([]string{"runuser", "-u", e.cfg.OSUser, "--"}, argv...)
}
