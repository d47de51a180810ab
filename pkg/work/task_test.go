package work

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestTaskStopsOnErrStop(t *testing.T) {
	t.Parallel()
	var calls int
	task := New(func(ctx context.Context) error {
		calls++
		if calls == 3 {
			return ErrStop
		}
		return nil
	}, WithPeriod(5*time.Millisecond)).Start()

	task.Join()
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestTaskContinuesAfterError(t *testing.T) {
	t.Parallel()
	var calls int
	task := New(func(ctx context.Context) error {
		calls++
		if calls == 1 {
			return errors.New("transient")
		}
		return ErrStop
	}, WithPeriod(5*time.Millisecond)).Start()

	task.Join()
	if calls != 2 {
		t.Fatalf("calls = %d, want 2 (loop must survive the error)", calls)
	}
}

func TestTaskRecoversFromPanic(t *testing.T) {
	t.Parallel()
	var calls int
	task := New(func(ctx context.Context) error {
		calls++
		if calls == 1 {
			panic("callback exploded")
		}
		return ErrStop
	}, WithPeriod(5*time.Millisecond)).Start()

	task.Join()
	if calls != 2 {
		t.Fatalf("calls = %d, want 2 (loop must survive the panic)", calls)
	}
}

func TestTaskStopWakesTimerWait(t *testing.T) {
	t.Parallel()
	task := New(func(ctx context.Context) error {
		t.Error("callback ran despite Stop before the first tick")
		return ErrStop
	}, WithPeriod(time.Hour)).Start()

	task.Stop()
	joined := make(chan struct{})
	go func() {
		task.Join()
		close(joined)
	}()
	select {
	case <-joined:
	case <-time.After(2 * time.Second):
		t.Fatal("Join did not return after Stop")
	}
}

func TestTaskStopDoesNotPreemptCallback(t *testing.T) {
	t.Parallel()
	started := make(chan struct{})
	var finished bool
	task := New(func(ctx context.Context) error {
		close(started)
		time.Sleep(50 * time.Millisecond)
		if ctx.Err() != nil {
			t.Error("callback context cancelled by Stop")
		}
		finished = true
		return ErrStop
	}, WithPeriod(time.Millisecond)).Start()

	<-started
	task.Stop()
	task.Join()
	if !finished {
		t.Fatal("in-flight callback did not run to completion")
	}
}

func TestTaskBaseContextEndsLoop(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	task := New(func(ctx context.Context) error {
		return nil
	}, WithPeriod(time.Hour), WithContext(ctx)).Start()

	cancel()
	joined := make(chan struct{})
	go func() {
		task.Join()
		close(joined)
	}()
	select {
	case <-joined:
	case <-time.After(2 * time.Second):
		t.Fatal("Join did not return after base context cancellation")
	}
}
