package app

import (
	"context"
	"encoding/json"
	"io"

	"groundwork/internal/store"
	"groundwork/pkg/logx"
	"groundwork/pkg/work"
)

// Replay streams the whole events table to w as JSON lines, paging rows out
// of the store through a stream worker. An empty page means the table has
// been walked to the end.
func (a *App) Replay(ctx context.Context, w io.Writer) error {
	cfg := a.cfgMgr.Get()

	tm, err := flushTimer(cfg.Replay.Schedule)
	if err != nil {
		return err
	}
	pageSize := cfg.Replay.PageSize
	if pageSize <= 0 {
		pageSize = 100
	}

	a.mu.Lock()
	st := a.store
	a.mu.Unlock()

	var afterID int64
	s := work.NewStreamer(func(ctx context.Context, hint work.Hint, emit func(store.Event) error) error {
		limit := min(pageSize, hint.Capacity)
		page, err := st.Page(ctx, afterID, limit)
		if err != nil {
			return err
		}
		for _, e := range page {
			if err := emit(e); err != nil {
				return err
			}
			afterID = e.ID
		}
		if len(page) < limit {
			return work.ErrStop
		}
		return nil
	},
		work.WithTimer(tm),
		work.WithHWM(cfg.Replay.HWM),
		work.WithLogger(a.log.With(logx.String("worker", "replay"))),
		work.WithContext(ctx),
	).Start()

	enc := json.NewEncoder(w)
	var total int
	for {
		e, ok, err := s.Next(ctx)
		if err != nil {
			s.Stop()
			s.Join()
			return err
		}
		if !ok {
			break
		}
		if err := enc.Encode(e); err != nil {
			s.Stop()
			s.Join()
			return err
		}
		total++
	}
	s.Join()
	a.log.Info("replay finished", logx.Int("events", total))
	return nil
}
