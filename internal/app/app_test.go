package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"groundwork/internal/store"
)

func writeAppConfig(t *testing.T, dir string) string {
	t.Helper()
	dbPath := filepath.Join(dir, "events.db")
	cfgPath := filepath.Join(dir, "groundwork.yaml")
	content := fmt.Sprintf(`
log:
  console: false
db:
  path: %s
  busy_timeout: 500ms
ingest:
  schedule: 20ms
replay:
  schedule: 20ms
maintenance:
  enabled: false
`, dbPath)
	if err := os.WriteFile(cfgPath, []byte(content), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return cfgPath
}

func TestIngestReplayRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	a, err := New(writeAppConfig(t, t.TempDir()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer a.Stop()

	input := strings.Join([]string{
		`{"kind":"login","at":"2026-08-24T10:00:00Z","payload":{"user":"a"}}`,
		`{"kind":"click","at":"2026-08-24T10:00:01Z"}`,
		``,
		`this line is not json`,
	}, "\n") + "\n"
	if err := a.Ingest(ctx, strings.NewReader(input)); err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	var buf bytes.Buffer
	if err := a.Replay(ctx, &buf); err != nil {
		t.Fatalf("Replay: %v", err)
	}

	var events []store.Event
	dec := json.NewDecoder(&buf)
	for dec.More() {
		var e store.Event
		if err := dec.Decode(&e); err != nil {
			t.Fatalf("decoding replay output: %v", err)
		}
		events = append(events, e)
	}

	if len(events) != 3 {
		t.Fatalf("replayed %d events, want 3 (blank line skipped)", len(events))
	}
	if events[0].Kind != "login" || string(events[0].Payload) != `{"user":"a"}` {
		t.Fatalf("events[0] = %+v", events[0])
	}
	if events[1].Kind != "click" {
		t.Fatalf("events[1].Kind = %s", events[1].Kind)
	}
	if events[2].Kind != "raw" {
		t.Fatalf("unparseable line stored as kind %s, want raw", events[2].Kind)
	}
	var rawLine string
	if err := json.Unmarshal(events[2].Payload, &rawLine); err != nil || rawLine != "this line is not json" {
		t.Fatalf("raw payload = %s (%v)", events[2].Payload, err)
	}
}

func TestReplayEmptyStore(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	a, err := New(writeAppConfig(t, t.TempDir()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer a.Stop()

	var buf bytes.Buffer
	if err := a.Replay(ctx, &buf); err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if buf.Len() != 0 {
		t.Fatalf("replay of an empty store wrote %q", buf.String())
	}
}
