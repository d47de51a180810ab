package app

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"strings"
	"time"

	"groundwork/internal/store"
	"groundwork/pkg/logx"
	"groundwork/pkg/timer"
	"groundwork/pkg/work"
)

// Ingest reads JSON event lines from r into the store through a batch
// worker, one bulk insert per flush tick. It returns once r is exhausted and
// every read line has been committed (graceful drain), or when ctx ends.
func (a *App) Ingest(ctx context.Context, r io.Reader) error {
	cfg := a.cfgMgr.Get()

	tm, err := flushTimer(cfg.Ingest.Schedule)
	if err != nil {
		return err
	}

	a.mu.Lock()
	st := a.store
	lim := a.limiter
	a.mu.Unlock()

	var total int
	b := work.NewBatcher(func(ctx context.Context, batch []store.Event) error {
		if err := st.InsertBatch(ctx, batch); err != nil {
			return err
		}
		total += len(batch)
		if len(batch) > 0 {
			a.log.Debug("batch committed", logx.Int("events", len(batch)), logx.Int("total", total))
		}
		return nil
	},
		work.WithTimer(tm),
		work.WithHWM(cfg.Ingest.HWM),
		work.WithLogger(a.log.With(logx.String("worker", "ingest"))),
		// The drain must survive a shutdown signal: everything read from r
		// before cancellation is still committed by Join.
		work.WithContext(context.Background()),
	).Start()

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() && ctx.Err() == nil {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if lim != nil {
			if err := lim.Wait(ctx); err != nil {
				break
			}
		}
		if err := b.Add(context.Background(), parseEvent(line)); err != nil {
			break
		}
	}

	if err := b.Join(context.Background()); err != nil {
		return err
	}
	a.log.Info("ingest finished", logx.Int("events", total))
	return sc.Err()
}

// parseEvent decodes a JSON event line; anything that doesn't decode is kept
// as a raw-kind event so ingest never drops input.
func parseEvent(line string) store.Event {
	var e store.Event
	if err := json.Unmarshal([]byte(line), &e); err == nil && e.Kind != "" {
		e.ID = 0
		return e
	}
	payload, _ := json.Marshal(line)
	return store.Event{At: time.Now(), Kind: "raw", Payload: payload}
}

func flushTimer(schedule string) (timer.Timer, error) {
	if strings.TrimSpace(schedule) == "" {
		return timer.Every(time.Second), nil
	}
	return timer.Parse(schedule)
}
