package timer

import (
	"context"
	"testing"
	"time"

	"golang.org/x/time/rate"
)

func TestEveryWaitsTheInterval(t *testing.T) {
	t.Parallel()
	tm := Every(30 * time.Millisecond)
	start := time.Now()
	if err := tm.Wait(context.Background()); err != nil {
		t.Fatalf("Wait error: %v", err)
	}
	if el := time.Since(start); el < 20*time.Millisecond {
		t.Fatalf("Wait returned after %v, want ~30ms", el)
	}
}

func TestWaitHonorsCancellation(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		tm   Timer
	}{
		{name: "interval", tm: Every(time.Hour)},
		{name: "cron", tm: mustParse(t, "@every 1h")},
		{name: "limiter", tm: Limiter(rate.NewLimiter(rate.Every(time.Hour), 1))},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if tt.name == "limiter" {
				// Burn the burst token so Wait actually blocks.
				ctx, cancel := context.WithTimeout(context.Background(), time.Second)
				defer cancel()
				_ = tt.tm.Wait(ctx)
			}
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
			defer cancel()
			start := time.Now()
			if err := tt.tm.Wait(ctx); err == nil {
				t.Fatal("expected cancellation error")
			}
			if el := time.Since(start); el > time.Second {
				t.Fatalf("Wait took %v to notice cancellation", el)
			}
		})
	}
}

func TestLimiterPacesTicks(t *testing.T) {
	t.Parallel()
	tm := Limiter(rate.NewLimiter(rate.Every(25*time.Millisecond), 1))
	ctx := context.Background()

	// First Wait consumes the burst token and returns at once.
	if err := tm.Wait(ctx); err != nil {
		t.Fatalf("Wait error: %v", err)
	}
	start := time.Now()
	if err := tm.Wait(ctx); err != nil {
		t.Fatalf("Wait error: %v", err)
	}
	if el := time.Since(start); el < 15*time.Millisecond {
		t.Fatalf("second Wait returned after %v, want ~25ms", el)
	}
}

func mustParse(t *testing.T, raw string) Timer {
	t.Helper()
	tm, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse(%q): %v", raw, err)
	}
	return tm
}
