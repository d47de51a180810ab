// Package app wires the substrate into the groundworkd daemon: config,
// logging, the connection pool, the event store, and the maintenance
// controller, with config hot-reload applied across all of them.
package app

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/time/rate"

	"groundwork/internal/config"
	"groundwork/internal/store"
	"groundwork/pkg/dbx"
	"groundwork/pkg/logx"
	"groundwork/pkg/maintain"
)

type App struct {
	cfgMgr *config.Manager
	logSvc *logx.Service
	log    logx.Logger

	mu      sync.Mutex
	pool    *dbx.Pool
	store   *store.Store
	ctrl    *maintain.Controller
	limiter *rate.Limiter

	watchCancel context.CancelFunc
	watchDone   chan struct{}
}

func New(cfgPath string) (*App, error) {
	boot := logx.NewConsole("info")
	mgr := config.NewManager(cfgPath, boot)
	cfg, err := mgr.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	logSvc, log := logx.New(logConfig(cfg.Log))
	return &App{cfgMgr: mgr, logSvc: logSvc, log: log}, nil
}

func (a *App) Log() logx.Logger { return a.log }

// Start opens the pool and store, starts maintenance, and begins watching
// the config file. Construction failures here abort startup.
func (a *App) Start(ctx context.Context) error {
	cfg := a.cfgMgr.Get()

	pool, err := dbx.OpenSQLite(ctx, cfg.DB.Path, poolConfig(cfg.DB), a.log)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	st, err := store.Open(ctx, pool, a.log)
	if err != nil {
		_ = pool.Close()
		return fmt.Errorf("opening store: %w", err)
	}

	a.mu.Lock()
	a.pool = pool
	a.store = st
	a.limiter = ingestLimiter(cfg.Ingest)
	a.mu.Unlock()

	if cfg.Maintenance.IsEnabled() {
		ctrl := maintain.New(pool, maintenanceConfig(cfg.Maintenance), a.log)
		if err := ctrl.Start(ctx); err != nil {
			_ = pool.Close()
			return fmt.Errorf("starting maintenance: %w", err)
		}
		a.mu.Lock()
		a.ctrl = ctrl
		a.mu.Unlock()
	}

	watchCtx, cancel := context.WithCancel(ctx)
	a.watchCancel = cancel
	a.watchDone = make(chan struct{})
	go func() {
		defer close(a.watchDone)
		a.watchConfig(watchCtx)
	}()

	a.log.Info("groundworkd started", logx.String("db", cfg.DB.Path))
	return nil
}

// Stop shuts everything down in dependency order: maintenance first (it
// issues commands through the pool), then the pool, then logging.
func (a *App) Stop() {
	if a.watchCancel != nil {
		a.watchCancel()
		<-a.watchDone
	}

	a.mu.Lock()
	ctrl := a.ctrl
	pool := a.pool
	a.ctrl = nil
	a.pool = nil
	a.mu.Unlock()

	if ctrl != nil {
		ctrl.Stop()
	}
	if pool != nil {
		_ = pool.Close()
	}
	a.log.Info("groundworkd stopped")
	_ = a.logSvc.Close()
}

func (a *App) watchConfig(ctx context.Context) {
	ch := a.cfgMgr.Subscribe(1)
	defer a.cfgMgr.Unsubscribe(ch)

	go func() {
		if err := a.cfgMgr.Watch(ctx); err != nil {
			a.log.Warn("config watch failed", logx.Err(err))
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-ch:
			if !ok {
				return
			}
			a.apply(ctx, cfg)
		}
	}
}

// apply reconfigures running services from a new config snapshot. The
// maintenance controller is replaced rather than retuned: scheduled tasks
// are not restartable, and replacing keeps the escalation state machine
// simple.
func (a *App) apply(ctx context.Context, cfg *config.Config) {
	a.logSvc.Apply(logConfig(cfg.Log))

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.limiter != nil {
		if lim := ingestLimiter(cfg.Ingest); lim != nil {
			a.limiter.SetLimit(lim.Limit())
			a.limiter.SetBurst(lim.Burst())
		}
	}

	if a.pool == nil {
		return
	}
	if a.ctrl != nil {
		a.ctrl.Stop()
		a.ctrl = nil
	}
	if cfg.Maintenance.IsEnabled() {
		ctrl := maintain.New(a.pool, maintenanceConfig(cfg.Maintenance), a.log)
		if err := ctrl.Start(ctx); err != nil {
			a.log.Error("restarting maintenance failed", logx.Err(err))
			return
		}
		a.ctrl = ctrl
	}
	a.log.Info("config applied")
}
