// Package timer provides the tick sources that pace scheduled workers.
//
// A Timer is anything that can block until the next tick: a fixed interval,
// a cron schedule, or a rate limiter acting as an external pacing source.
package timer

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/time/rate"
)

// Timer blocks until the next tick or until ctx is done.
type Timer interface {
	Wait(ctx context.Context) error
}

// Every returns a Timer that ticks a fixed duration after each Wait call.
func Every(d time.Duration) Timer {
	if d <= 0 {
		d = time.Second
	}
	return interval(d)
}

type interval time.Duration

func (iv interval) Wait(ctx context.Context) error {
	return sleep(ctx, time.Duration(iv))
}

// Cron returns a Timer that ticks at the next activation of a cron schedule.
func Cron(sched cron.Schedule) Timer {
	return cronTimer{sched: sched}
}

type cronTimer struct {
	sched cron.Schedule
}

func (c cronTimer) Wait(ctx context.Context) error {
	next := c.sched.Next(time.Now())
	return sleep(ctx, time.Until(next))
}

// Limiter adapts a token-bucket limiter into a Timer. Each Wait consumes one
// token, so ticks are paced at the limiter's rate with its configured burst.
func Limiter(l *rate.Limiter) Timer {
	return limiterTimer{l: l}
}

type limiterTimer struct {
	l *rate.Limiter
}

func (t limiterTimer) Wait(ctx context.Context) error {
	return t.l.Wait(ctx)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		// Still honor cancellation on zero-length waits.
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			return nil
		}
	}
	tmr := time.NewTimer(d)
	defer tmr.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-tmr.C:
		return nil
	}
}
