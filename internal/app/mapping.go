package app

import (
	"time"

	"golang.org/x/time/rate"

	"groundwork/internal/config"
	"groundwork/pkg/dbx"
	"groundwork/pkg/logx"
	"groundwork/pkg/maintain"
)

// Mapping from the on-disk config schema onto component configs. Defaults
// live here, so the config file only states what differs.

func logConfig(c config.LogConfig) logx.Config {
	return logx.Config{
		Level:   c.Level,
		Console: c.ConsoleEnabled(),
		File: logx.FileConfig{
			Enabled: c.File.Enabled,
			Path:    c.File.Path,
		},
	}
}

func poolConfig(c config.DBConfig) dbx.PoolConfig {
	busy, _ := config.ParseDurationField("db.busy_timeout", c.BusyTimeout)
	return dbx.PoolConfig{
		Min:         c.Pool.Min,
		Keep:        c.Pool.Keep,
		Max:         c.Pool.Max,
		BusyTimeout: busy,
	}
}

func maintenanceConfig(c config.MaintenanceConfig) maintain.Config {
	period, _ := config.ParseDurationOrDefault("maintenance.period", c.Period, 10*time.Minute)
	sizePeriod, _ := config.ParseDurationOrDefault("maintenance.size_period", c.SizePeriod, time.Minute)
	cfg := maintain.Config{
		Table:      c.Table,
		Period:     period,
		SizePeriod: sizePeriod,
		FullSize:   c.FullSize,
		FullRate:   c.FullRate,
	}
	if c.LockPath != "" {
		cfg.Semaphore = maintain.NewFileSemaphore(c.LockPath)
	}
	return cfg
}

func ingestLimiter(c config.IngestConfig) *rate.Limiter {
	if c.RatePerSec <= 0 {
		return nil
	}
	burst := c.Burst
	if burst <= 0 {
		burst = c.RatePerSec
	}
	return rate.NewLimiter(rate.Limit(c.RatePerSec), burst)
}
