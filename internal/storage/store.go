package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	logx "lightsout/pkg/logx"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

const (
	defaultOpTimeout   = 5 * time.Second
	defaultPingTimeout = 2 * time.Second
)

// Store is a database session. Every operation first pings the pool and,
// if the ping fails, reopens it once before giving up with ErrUnavailable.
type Store struct {
	cfg       Config
	d         dialect
	log       logx.Logger
	opTimeout time.Duration

	mu     sync.RWMutex
	db     *sql.DB
	closed bool

	reconnects atomic.Uint64
}

// Open connects to the configured database and applies migrations.
func Open(ctx context.Context, cfg Config, log logx.Logger) (*Store, error) {
	d, err := parseDialect(cfg.Driver)
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	switch d {
	case dialectSQLite:
		if strings.TrimSpace(cfg.Path) == "" {
			return nil, errors.New("sqlite path is required")
		}
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
			return nil, err
		}
	case dialectPostgres, dialectMySQL:
		if strings.TrimSpace(cfg.Host) == "" {
			return nil, fmt.Errorf("%s host is required", d)
		}
	}

	s := &Store{
		cfg:       cfg,
		d:         d,
		log:       log.With(logx.String("comp", "storage"), logx.String("driver", d.String())),
		opTimeout: cfg.OpTimeout,
	}
	if s.opTimeout <= 0 {
		s.opTimeout = defaultOpTimeout
	}

	db, err := s.open(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err := migrateUp(db, d); err != nil {
		_ = db.Close()
		return nil, err
	}
	s.db = db
	s.log.Info("storage opened")
	return s, nil
}

func (s *Store) open(ctx context.Context) (*sql.DB, error) {
	db, err := sql.Open(s.d.sqlDriver(), s.d.dsn(s.cfg))
	if err != nil {
		return nil, err
	}
	if s.d == dialectSQLite {
		// Writers serialize on the file lock; keep the pool small.
		db.SetMaxOpenConns(4)
		db.SetMaxIdleConns(4)
	} else {
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxIdleTime(5 * time.Minute)
	}

	pctx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()
	if err := db.PingContext(pctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// Driver reports the active dialect name.
func (s *Store) Driver() string { return s.d.String() }

// Reconnects counts how many times the pool was reopened.
func (s *Store) Reconnects() uint64 { return s.reconnects.Load() }

// Close releases the pool. Further operations return ErrClosed.
func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.log.Info("storage closed")
	return err
}

// Ping verifies the session, reconnecting if needed.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()
	_, err := s.conn(ctx)
	return err
}

func (s *Store) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.opTimeout)
}

// conn returns a live pool.
func (s *Store) conn(ctx context.Context) (*sql.DB, error) {
	s.mu.RLock()
	db, closed := s.db, s.closed
	s.mu.RUnlock()
	if closed || db == nil {
		return nil, ErrClosed
	}

	pctx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	err := db.PingContext(pctx)
	cancel()
	if err == nil {
		return db, nil
	}
	if ctx.Err() != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, ctx.Err())
	}
	return s.reconnect(ctx, db, err)
}

func (s *Store) reconnect(ctx context.Context, stale *sql.DB, cause error) (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if s.db != stale {
		// Another caller already swapped the pool.
		return s.db, nil
	}

	s.log.Warn("database ping failed, reconnecting", logx.Err(cause))
	db, err := s.open(ctx)
	if err != nil {
		s.log.Error("database reconnect failed", logx.Err(err))
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	s.db = db
	s.reconnects.Add(1)
	// Close waits for in-flight queries on the old pool.
	go func() { _ = stale.Close() }()
	s.log.Info("database reconnected")
	return db, nil
}

// Tx runs fn inside a transaction on a live session. fn's error rolls back.
func (s *Store) Tx(ctx context.Context, fn func(tx *Tx) error) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()
	db, err := s.conn(ctx)
	if err != nil {
		return err
	}
	sqlTx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	tx := &Tx{tx: sqlTx, d: s.d}
	if err := fn(tx); err != nil {
		_ = sqlTx.Rollback()
		return err
	}
	return sqlTx.Commit()
}

// Tx is a transaction handle passed to Store.Tx callbacks.
type Tx struct {
	tx *sql.Tx
	d  dialect
}
