// Package maintain runs adaptive database maintenance: a cheap periodic
// optimize pass, plus a size check that escalates to a rate-limited full
// pass when the database outgrows a configured threshold.
package maintain

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"groundwork/pkg/dbx"
	"groundwork/pkg/logx"
	"groundwork/pkg/timer"
	"groundwork/pkg/work"
)

// Config tunes a Controller. Zero values fall back to the defaults noted on
// each field. The command strings are issued verbatim, so the controller
// itself stays resource-agnostic; the defaults target sqlite.
type Config struct {
	// Table scopes the analyze pass; empty analyzes the whole database.
	Table string

	// Period paces the regular (cheap) pass. Default 10m.
	Period time.Duration
	// SizePeriod paces the size check. Default 1m.
	SizePeriod time.Duration

	// FullSize is the size threshold in bytes above which the controller
	// escalates to the full pass. 0 disables escalation.
	FullSize int64
	// FullRate bounds full passes to roughly this fraction of wall-clock
	// time: after a pass taking D, the next is allowed no sooner than
	// D/FullRate later. Default 0.01.
	FullRate float64

	// SizeQuery must select a single integer size metric.
	// Default: whole-database size from the sqlite page pragmas.
	SizeQuery string
	// FullCmd is the expensive pass. Default "VACUUM".
	FullCmd string
	// AnalyzeCmd is the cheap pass. Default "PRAGMA optimize", or
	// "ANALYZE <table>" when Table is set.
	AnalyzeCmd string

	// Semaphore optionally extends the pass exclusion across processes.
	Semaphore Semaphore
}

const defaultSizeQuery = "SELECT (SELECT * FROM pragma_page_count()) * (SELECT * FROM pragma_page_size())"

func (c Config) withDefaults() Config {
	if c.Period <= 0 {
		c.Period = 10 * time.Minute
	}
	if c.SizePeriod <= 0 {
		c.SizePeriod = time.Minute
	}
	if c.FullRate <= 0 {
		c.FullRate = 0.01
	}
	if c.SizeQuery == "" {
		c.SizeQuery = defaultSizeQuery
	}
	if c.FullCmd == "" {
		c.FullCmd = "VACUUM"
	}
	if c.AnalyzeCmd == "" {
		if c.Table != "" {
			c.AnalyzeCmd = "ANALYZE " + c.Table
		} else {
			c.AnalyzeCmd = "PRAGMA optimize"
		}
	}
	return c
}

// Controller is a state machine over two paced loops sharing one lock: the
// size-check loop (escalating past the threshold, rate-limited by fullNext)
// and the regular pass loop. At most one pass of either kind runs at a time
// per controller.
type Controller struct {
	cfg  Config
	pool *dbx.Pool
	log  logx.Logger

	// passMu serializes the maintenance command itself, not the size check.
	passMu sync.Mutex

	// fullNext is touched only from the size-check path, which is
	// single-threaded (one synchronous check at Start, then the loop).
	fullNext time.Time
	tooBig   atomic.Bool

	now func() time.Time

	sizeTask *work.Task
	passTask *work.Task
}

func New(pool *dbx.Pool, cfg Config, log logx.Logger) *Controller {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Controller{
		cfg:  cfg.withDefaults(),
		pool: pool,
		log:  log,
		now:  time.Now,
	}
}

// TooBig reports whether the last size check exceeded the threshold.
func (c *Controller) TooBig() bool { return c.tooBig.Load() }

// Start runs one size check synchronously (a failure here is a construction
// failure and aborts startup), then launches both loops.
func (c *Controller) Start(ctx context.Context) error {
	if err := c.checkSize(ctx); err != nil {
		return err
	}
	c.sizeTask = work.New(c.checkSize,
		work.WithTimer(timer.Every(c.cfg.SizePeriod)),
		work.WithLogger(c.log.With(logx.String("loop", "size"))),
		work.WithContext(ctx),
	).Start()
	c.passTask = work.New(func(ctx context.Context) error { return c.runPass(ctx, false) },
		work.WithTimer(timer.Every(c.cfg.Period)),
		work.WithLogger(c.log.With(logx.String("loop", "pass"))),
		work.WithContext(ctx),
	).Start()
	return nil
}

// Stop cooperatively stops both loops and waits for them to exit.
func (c *Controller) Stop() {
	if c.sizeTask != nil {
		c.sizeTask.Stop()
	}
	if c.passTask != nil {
		c.passTask.Stop()
	}
	if c.sizeTask != nil {
		c.sizeTask.Join()
	}
	if c.passTask != nil {
		c.passTask.Join()
	}
}

func (c *Controller) checkSize(ctx context.Context) error {
	var size int64
	err := dbx.With(ctx, c.pool, func(ctx context.Context, tx *dbx.Tx) error {
		return tx.QueryRow(ctx, c.cfg.SizeQuery).Scan(&size)
	})
	if err != nil {
		return err
	}

	tooBig := c.cfg.FullSize > 0 && size > c.cfg.FullSize
	c.tooBig.Store(tooBig)
	if !tooBig {
		return nil
	}

	start := c.now()
	if start.Before(c.fullNext) {
		return nil
	}
	c.log.Warn("database too big, running full maintenance",
		logx.Int64("size", size), logx.Int64("threshold", c.cfg.FullSize))
	if err := c.runPass(ctx, true); err != nil {
		return err
	}
	elapsed := c.now().Sub(start)
	// Full passes occupy at most ~FullRate of wall-clock time.
	c.fullNext = start.Add(time.Duration(float64(elapsed) / c.cfg.FullRate))
	c.log.Info("full maintenance pass done",
		logx.Duration("dur", elapsed), logx.Time("next_allowed", c.fullNext))
	return nil
}

// runPass issues one maintenance command under the pass lock and, if
// configured, the cross-process semaphore. The command runs on a raw pooled
// connection outside any transaction; sqlite refuses VACUUM inside one.
func (c *Controller) runPass(ctx context.Context, full bool) error {
	c.passMu.Lock()
	defer c.passMu.Unlock()

	if c.cfg.Semaphore != nil {
		if err := c.cfg.Semaphore.Acquire(ctx); err != nil {
			return err
		}
		defer func() {
			if err := c.cfg.Semaphore.Release(); err != nil {
				c.log.Error("semaphore release failed", logx.Err(err))
			}
		}()
	}

	cmd := c.cfg.AnalyzeCmd
	if full {
		cmd = c.cfg.FullCmd
	}
	conn, err := c.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer c.pool.Release(conn)
	_, err = conn.ExecContext(ctx, cmd)
	return err
}

// SetAuto toggles sqlite incremental auto-vacuum for the database, under the
// same exclusion as a maintenance pass. The mode change only takes effect at
// the next full pass, which is why it lives on the controller.
func (c *Controller) SetAuto(ctx context.Context, enable bool) error {
	c.passMu.Lock()
	defer c.passMu.Unlock()

	mode := "NONE"
	if enable {
		mode = "INCREMENTAL"
	}
	conn, err := c.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer c.pool.Release(conn)
	_, err = conn.ExecContext(ctx, "PRAGMA auto_vacuum = "+mode)
	return err
}
