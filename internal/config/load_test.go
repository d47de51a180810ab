package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"groundwork/pkg/logx"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestParseYAML(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "groundwork.yaml", `
log:
  level: debug
  console: false
db:
  path: /var/lib/groundwork/events.db
  busy_timeout: 500ms
  pool:
    min: 2
    keep: 4
    max: 8
ingest:
  schedule: 250ms
  hwm: 5000
  rate_per_sec: 100
replay:
  page_size: 50
maintenance:
  table: events
  period: 5m
  full_size: 1048576
  full_rate: 0.05
  lock_path: /run/groundwork.lock
`)
	cfg, err := Parse(path)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if cfg.Log.Level != "debug" || cfg.Log.ConsoleEnabled() {
		t.Fatalf("log = %+v", cfg.Log)
	}
	if cfg.DB.Path != "/var/lib/groundwork/events.db" {
		t.Fatalf("db.path = %s", cfg.DB.Path)
	}
	if cfg.DB.Pool.Min != 2 || cfg.DB.Pool.Keep != 4 || cfg.DB.Pool.Max != 8 {
		t.Fatalf("pool = %+v", cfg.DB.Pool)
	}
	if cfg.Ingest.Schedule != "250ms" || cfg.Ingest.HWM != 5000 || cfg.Ingest.RatePerSec != 100 {
		t.Fatalf("ingest = %+v", cfg.Ingest)
	}
	if cfg.Replay.PageSize != 50 {
		t.Fatalf("replay = %+v", cfg.Replay)
	}
	if cfg.Maintenance.Table != "events" || cfg.Maintenance.FullSize != 1048576 || cfg.Maintenance.FullRate != 0.05 {
		t.Fatalf("maintenance = %+v", cfg.Maintenance)
	}
	if !cfg.Maintenance.IsEnabled() {
		t.Fatal("maintenance must default to enabled")
	}
}

func TestParseJSON(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "groundwork.json", `{"db": {"path": "/tmp/events.db"}}`)
	cfg, err := Parse(path)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.DB.Path != "/tmp/events.db" {
		t.Fatalf("db.path = %s", cfg.DB.Path)
	}
	if !cfg.Log.ConsoleEnabled() {
		t.Fatal("console logging must default to enabled")
	}
}

func TestParseRejectsBadConfigs(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{name: "unknown field", file: "c.yaml", content: "db:\n  path: /tmp/x.db\n  flavor: espresso\n"},
		{name: "missing db path", file: "c.yaml", content: "log:\n  level: info\n"},
		{name: "bad duration", file: "c.yaml", content: "db:\n  path: /tmp/x.db\nmaintenance:\n  period: soon\n"},
		{name: "full rate too high", file: "c.yaml", content: "db:\n  path: /tmp/x.db\nmaintenance:\n  full_rate: 1.5\n"},
		{name: "negative rate", file: "c.yaml", content: "db:\n  path: /tmp/x.db\ningest:\n  rate_per_sec: -1\n"},
		{name: "trailing json", file: "c.json", content: `{"db":{"path":"/tmp/x.db"}}{"extra":true}`},
		{name: "broken yaml", file: "c.yaml", content: "db: [unbalanced\n"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			path := writeConfig(t, tt.file, tt.content)
			if _, err := Parse(path); err == nil {
				t.Fatalf("Parse accepted %s", tt.name)
			}
		})
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	if d, err := ParseDurationField("x", "  1m30s "); err != nil || d != 90*time.Second {
		t.Fatalf("got %v, %v", d, err)
	}
	if d, err := ParseDurationField("x", ""); err != nil || d != 0 {
		t.Fatalf("empty = %v, %v; want zero without error", d, err)
	}
	if _, err := ParseDurationField("x", "-5s"); err == nil {
		t.Fatal("negative duration accepted")
	}
	if d, err := ParseDurationOrDefault("x", "", time.Minute); err != nil || d != time.Minute {
		t.Fatalf("default = %v, %v", d, err)
	}
}

func TestManagerLoadAndSubscribe(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "groundwork.yaml", "db:\n  path: /tmp/x.db\n")
	m := NewManager(path, logx.Nop())

	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if m.Get() != cfg {
		t.Fatal("Get does not return the committed config")
	}

	ch := m.Subscribe(1)
	m.publish(cfg)
	select {
	case got := <-ch:
		if got != cfg {
			t.Fatal("subscriber received a different config")
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber never received the published config")
	}

	m.Unsubscribe(ch)
	if _, ok := <-ch; ok {
		t.Fatal("channel still open after Unsubscribe")
	}
}

func TestPublishDropsOldestForSlowSubscriber(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "groundwork.yaml", "db:\n  path: /tmp/x.db\n")
	m := NewManager(path, logx.Nop())
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}

	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	older := &Config{}
	newer := &Config{}
	m.publish(older)
	m.publish(newer)

	if got := <-ch; got != newer {
		t.Fatal("slow subscriber did not converge on the newest config")
	}
}
