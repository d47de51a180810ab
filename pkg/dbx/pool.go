package dbx

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"groundwork/pkg/logx"
)

var ErrPoolClosed = errors.New("dbx: pool closed")

// PoolConfig bounds the pool. Min connections are opened eagerly at
// construction; Max bounds concurrent checkouts; Keep is the ceiling for the
// adaptive warm-minimum (how many idle connections stay open between uses).
type PoolConfig struct {
	Min  int
	Keep int
	Max  int

	// BusyTimeout is applied as a sqlite pragma by OpenSQLite; 0 means the
	// driver default.
	BusyTimeout time.Duration
}

func (c PoolConfig) withDefaults() PoolConfig {
	if c.Min <= 0 {
		c.Min = 1
	}
	if c.Keep <= 0 {
		c.Keep = 10
	}
	if c.Max <= 0 {
		c.Max = 10
	}
	if c.Max < c.Min {
		c.Max = c.Min
	}
	if c.Keep > c.Max {
		c.Keep = c.Max
	}
	return c
}

// Pool is a bounded set of connections over a database/sql DB. Acquire
// blocks when Max connections are checked out; after each acquisition the
// warm-minimum is recomputed as min(Keep, checked-out), so the pool keeps
// fewer connections warm during low load and ramps toward Keep as load
// rises.
type Pool struct {
	db  *sql.DB
	log logx.Logger
	sem chan struct{}

	mu      sync.Mutex
	idle    []*sql.Conn
	used    int
	warmMin int
	keep    int
	closed  bool

	ownsDB bool
}

// NewPool builds a pool over an existing DB handle. The Min connections are
// opened eagerly; a failure there aborts construction.
func NewPool(ctx context.Context, db *sql.DB, cfg PoolConfig, log logx.Logger) (*Pool, error) {
	cfg = cfg.withDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	db.SetMaxOpenConns(cfg.Max)
	db.SetMaxIdleConns(cfg.Max)

	p := &Pool{
		db:      db,
		log:     log,
		sem:     make(chan struct{}, cfg.Max),
		warmMin: cfg.Min,
		keep:    cfg.Keep,
	}
	for i := 0; i < cfg.Min; i++ {
		c, err := db.Conn(ctx)
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("dbx: warming pool: %w", err)
		}
		p.idle = append(p.idle, c)
	}
	return p, nil
}

// OpenSQLite opens a sqlite database file and builds a pool over it, applying
// the same pragmas the rest of this repo expects (WAL, normal sync). The pool
// owns the DB handle and closes it on Close.
func OpenSQLite(ctx context.Context, path string, cfg PoolConfig, log logx.Logger) (*Pool, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("dbx: sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	cfg = cfg.withDefaults()
	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	p, err := NewPool(ctx, db, cfg, log)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	p.ownsDB = true
	return p, nil
}

// Acquire checks a connection out, blocking while Max are already out.
// Exhaustion is surfaced through ctx cancellation; the pool never retries on
// the caller's behalf.
func (p *Pool) Acquire(ctx context.Context) (*sql.Conn, error) {
	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		<-p.sem
		return nil, ErrPoolClosed
	}
	var c *sql.Conn
	if n := len(p.idle); n > 0 {
		c = p.idle[n-1]
		p.idle = p.idle[:n-1]
	}
	p.used++
	p.warmMin = min(p.keep, p.used)
	p.mu.Unlock()

	if c != nil {
		return c, nil
	}
	c, err := p.db.Conn(ctx)
	if err != nil {
		p.mu.Lock()
		p.used--
		p.mu.Unlock()
		<-p.sem
		return nil, err
	}
	return c, nil
}

// Release returns a connection. It stays warm only while the idle set is
// below the current warm-minimum; otherwise it is closed.
func (p *Pool) Release(c *sql.Conn) {
	if c == nil {
		return
	}
	p.mu.Lock()
	if p.used > 0 {
		p.used--
	}
	keepWarm := !p.closed && len(p.idle) < p.warmMin
	if keepWarm {
		p.idle = append(p.idle, c)
	}
	p.mu.Unlock()

	if !keepWarm {
		_ = c.Close()
	}
	<-p.sem
}

// Close drains and closes all idle connections. Idempotent. Connections still
// checked out are closed as they are released.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	idle := p.idle
	p.idle = nil
	p.mu.Unlock()

	for _, c := range idle {
		_ = c.Close()
	}
	if p.ownsDB {
		return p.db.Close()
	}
	return nil
}

// PoolStats is a point-in-time view for diagnostics and tests.
type PoolStats struct {
	Used    int
	Idle    int
	WarmMin int
	Keep    int
	Max     int
}

func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PoolStats{
		Used:    p.used,
		Idle:    len(p.idle),
		WarmMin: p.warmMin,
		Keep:    p.keep,
		Max:     cap(p.sem),
	}
}
