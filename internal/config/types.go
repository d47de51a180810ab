// Package config loads and watches the daemon configuration.
//
// Configs are YAML or JSON; YAML is coerced to JSON so both formats share
// one strict decoder (unknown fields are rejected). Durations are Go
// duration strings (e.g. "500ms", "10s", "1m").
package config

import (
	"fmt"
	"strings"
)

type Config struct {
	Log         LogConfig         `json:"log"`
	DB          DBConfig          `json:"db"`
	Ingest      IngestConfig      `json:"ingest"`
	Replay      ReplayConfig      `json:"replay"`
	Maintenance MaintenanceConfig `json:"maintenance"`
}

type LogConfig struct {
	Level string `json:"level,omitempty"`
	// Console is a pointer so "omitted" defaults to true.
	Console *bool          `json:"console,omitempty"`
	File    FileLogSection `json:"file,omitempty"`
}

type FileLogSection struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

type DBConfig struct {
	Path        string      `json:"path"`
	BusyTimeout string      `json:"busy_timeout,omitempty"`
	Pool        PoolSection `json:"pool,omitempty"`
}

// PoolSection bounds the connection pool.
//
// Defaults (when omitted/zero): min 1, keep 10, max 10.
type PoolSection struct {
	Min  int `json:"min,omitempty"`
	Keep int `json:"keep,omitempty"`
	Max  int `json:"max,omitempty"`
}

// IngestConfig tunes the stdin -> store batch worker.
type IngestConfig struct {
	// Schedule paces batch flushes: a duration ("1s") or cron expression.
	Schedule string `json:"schedule,omitempty"`
	// HWM bounds the ingest queue (default 10000).
	HWM int `json:"hwm,omitempty"`
	// RatePerSec throttles how fast stdin is consumed. 0 disables the
	// throttle.
	RatePerSec int `json:"rate_per_sec,omitempty"`
	Burst      int `json:"burst,omitempty"`
}

// ReplayConfig tunes the store -> stdout stream worker.
type ReplayConfig struct {
	Schedule string `json:"schedule,omitempty"`
	HWM      int    `json:"hwm,omitempty"`
	// PageSize caps rows loaded per tick (default 100).
	PageSize int `json:"page_size,omitempty"`
}

// MaintenanceConfig tunes the adaptive maintenance controller.
type MaintenanceConfig struct {
	// Enabled is a pointer so "omitted" defaults to true.
	Enabled *bool  `json:"enabled,omitempty"`
	Table   string `json:"table,omitempty"`
	// Period paces the cheap optimize pass (default "10m").
	Period string `json:"period,omitempty"`
	// SizePeriod paces the size check (default "1m").
	SizePeriod string `json:"size_period,omitempty"`
	// FullSize is the escalation threshold in bytes; 0 disables escalation.
	FullSize int64 `json:"full_size,omitempty"`
	// FullRate bounds full passes to this fraction of wall-clock time
	// (default 0.01).
	FullRate float64 `json:"full_rate,omitempty"`
	// LockPath enables a flock-based cross-process semaphore around passes.
	LockPath string `json:"lock_path,omitempty"`
}

// Validate rejects configs that cannot possibly run. Component-level
// defaults are applied later, when the config is mapped onto services.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.DB.Path) == "" {
		return fmt.Errorf("db.path is required")
	}
	if c.Maintenance.FullRate < 0 || c.Maintenance.FullRate > 1 {
		return fmt.Errorf("maintenance.full_rate must be in (0, 1]")
	}
	if c.Ingest.RatePerSec < 0 {
		return fmt.Errorf("ingest.rate_per_sec must be >= 0")
	}
	for path, raw := range map[string]string{
		"db.busy_timeout":         c.DB.BusyTimeout,
		"maintenance.period":      c.Maintenance.Period,
		"maintenance.size_period": c.Maintenance.SizePeriod,
	} {
		if _, err := ParseDurationField(path, raw); err != nil {
			return err
		}
	}
	return nil
}

func (c *LogConfig) ConsoleEnabled() bool {
	return c.Console == nil || *c.Console
}

func (c *MaintenanceConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}
