package timer

import (
	"testing"
	"time"
)

func TestParseVariants(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		raw  string
		// every is the expected interval; zero means a cron timer.
		every time.Duration
	}{
		{name: "cron", raw: "*/5 * * * *"},
		{name: "cron with seconds", raw: "30 */5 * * * *"},
		{name: "descriptor", raw: "@hourly"},
		{name: "descriptor every", raw: "@every 55m"},
		{name: "prefixed cron", raw: "cron:0 0 * * *"},
		{name: "duration", raw: "55m", every: 55 * time.Minute},
		{name: "compound duration", raw: "2h30m", every: 2*time.Hour + 30*time.Minute},
		{name: "prefixed interval", raw: "interval:45s", every: 45 * time.Second},
		{name: "every prefix", raw: "every:500ms", every: 500 * time.Millisecond},
		{name: "surrounding space", raw: "  10s  ", every: 10 * time.Second},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.raw)
			if err != nil {
				t.Fatalf("Parse(%q) error: %v", tt.raw, err)
			}
			if tt.every > 0 {
				iv, ok := got.(interval)
				if !ok {
					t.Fatalf("Parse(%q) = %T, want interval", tt.raw, got)
				}
				if time.Duration(iv) != tt.every {
					t.Fatalf("interval = %v, want %v", time.Duration(iv), tt.every)
				}
				return
			}
			if _, ok := got.(cronTimer); !ok {
				t.Fatalf("Parse(%q) = %T, want cron timer", tt.raw, got)
			}
		})
	}
}

func TestParseInvalid(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{"", "   ", "nonsense", "cron:", "interval:", "every:", "-5s", "0s", "cron:bad spec here"} {
		if _, err := Parse(raw); err == nil {
			t.Fatalf("Parse(%q): expected error", raw)
		}
	}
}
