// Package pool owns one bounded connection pool per datasource and hands
// out exclusive leases on physical connections.
package pool

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/marcboeker/go-duckdb/v2"
	_ "modernc.org/sqlite"

	"github.com/LeonAdeoye/query-service/internal/config"
	"github.com/LeonAdeoye/query-service/internal/errcode"
)

const defaultAcquireTimeout = 30 * time.Second

// Open builds a tuned *sql.DB for one datasource and verifies connectivity.
func Open(ctx context.Context, driverName string, cfg config.DatasourceConfig) (*sql.DB, error) {
	db, err := sql.Open(driverName, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open datasource %q: %w", cfg.ID, err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping datasource %q: %w", cfg.ID, err)
	}

	return db, nil
}

type entry struct {
	db             *sql.DB
	acquireTimeout time.Duration
}

// Manager maps datasource ids to their pools. Registration happens once at
// startup; lookups after that are unsynchronized reads.
type Manager struct {
	logger  *slog.Logger
	entries map[string]*entry
}

func NewManager(logger *slog.Logger) *Manager {
	return &Manager{logger: logger, entries: map[string]*entry{}}
}

// Register adds a datasource pool. Not safe to call once Acquire is in use.
func (m *Manager) Register(id string, db *sql.DB, acquireTimeout time.Duration) {
	if acquireTimeout <= 0 {
		acquireTimeout = defaultAcquireTimeout
	}
	m.entries[id] = &entry{db: db, acquireTimeout: acquireTimeout}
}

// Lease is an exclusive handle on one physical connection. It must be
// released on every exit path; Release is safe to call more than once.
type Lease struct {
	DatasourceID string
	conn         *sql.Conn
	once         sync.Once
}

func (l *Lease) Conn() *sql.Conn {
	return l.conn
}

func (l *Lease) Release() {
	l.once.Do(func() {
		_ = l.conn.Close()
	})
}

// Acquire leases a connection from the datasource's pool, waiting up to the
// configured acquire timeout. A timed-out wait surfaces as
// ConnectionPoolExhausted; any other connectivity failure as
// DatabaseConnectionFailure. Unknown ids never touch a pool.
func (m *Manager) Acquire(ctx context.Context, datasourceID string) (*Lease, error) {
	e, ok := m.entries[datasourceID]
	if !ok {
		return nil, errcode.New(errcode.DatasourceNotFound,
			"unknown datasource id: %s. Valid ids: %s", datasourceID, strings.Join(m.ids(), ", "))
	}

	acquireCtx, cancel := context.WithTimeout(ctx, e.acquireTimeout)
	defer cancel()

	conn, err := e.db.Conn(acquireCtx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, errcode.Wrap(errcode.ConnectionPoolExhausted, err,
				"timed out acquiring connection for %s after %s", datasourceID, e.acquireTimeout)
		}
		return nil, errcode.Wrap(errcode.DatabaseConnectionFailure, err,
			"failed to get connection for %s", datasourceID)
	}

	return &Lease{DatasourceID: datasourceID, conn: conn}, nil
}

// Stats reports pool occupancy for operational visibility. Waiting is the
// cumulative count of acquisitions that had to wait.
type Stats struct {
	Active  int
	Idle    int
	Total   int
	Waiting int64
}

func (m *Manager) Stats(datasourceID string) (Stats, error) {
	e, ok := m.entries[datasourceID]
	if !ok {
		return Stats{}, errcode.New(errcode.DatasourceNotFound, "unknown datasource id: %s", datasourceID)
	}
	s := e.db.Stats()
	return Stats{
		Active:  s.InUse,
		Idle:    s.Idle,
		Total:   s.OpenConnections,
		Waiting: s.WaitCount,
	}, nil
}

// HealthCheck probes the datasource with a short timeout. It never returns
// an error; an unknown id or failed probe is simply unhealthy.
func (m *Manager) HealthCheck(ctx context.Context, datasourceID string) bool {
	e, ok := m.entries[datasourceID]
	if !ok {
		return false
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := e.db.PingContext(pingCtx); err != nil {
		if m.logger != nil {
			m.logger.ErrorContext(ctx, "health check failed",
				slog.String("datasource", datasourceID), slog.Any("error", err))
		}
		return false
	}
	return true
}

func (m *Manager) Close() error {
	var firstErr error
	for id, e := range m.entries {
		if err := e.db.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close pool %q: %w", id, err)
		}
	}
	return firstErr
}

func (m *Manager) ids() []string {
	out := make([]string, 0, len(m.entries))
	for id := range m.entries {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
