package work

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestStreamerYieldsInOrderThenEnds(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	next := 0
	s := NewStreamer(func(ctx context.Context, hint Hint, emit func(int) error) error {
		if hint.Capacity <= 0 {
			t.Error("hint carries no capacity")
		}
		if next >= 9 {
			return ErrStop
		}
		for i := 0; i < 3; i++ {
			if err := emit(next); err != nil {
				return err
			}
			next++
		}
		return nil
	}, WithPeriod(5*time.Millisecond), WithHWM(32)).Start()

	var got []int
	for {
		v, ok, err := s.Next(ctx)
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if !ok {
			break
		}
		got = append(got, v)
	}
	s.Join()

	if len(got) != 9 {
		t.Fatalf("streamed %d items, want 9", len(got))
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("got[%d] = %d, want %d", i, v, i)
		}
	}
}

func TestStreamerSurvivesProducerError(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	var calls int
	s := NewStreamer(func(ctx context.Context, hint Hint, emit func(int) error) error {
		calls++
		if calls == 1 {
			return errors.New("source unavailable")
		}
		if err := emit(7); err != nil {
			return err
		}
		return ErrStop
	}, WithPeriod(5*time.Millisecond)).Start()

	v, ok, err := s.Next(ctx)
	if err != nil || !ok || v != 7 {
		t.Fatalf("Next = %d ok=%v err=%v, want 7 after the retry", v, ok, err)
	}
	if _, ok, err := s.Next(ctx); err != nil || ok {
		t.Fatalf("Next after end-of-stream: ok=%v err=%v", ok, err)
	}
	s.Join()
	if calls != 2 {
		t.Fatalf("producer calls = %d, want 2", calls)
	}
}

func TestStreamerStopWakesBlockedProducer(t *testing.T) {
	t.Parallel()

	// The producer emits forever into a tiny queue, so it is guaranteed to be
	// blocked on backpressure when Stop arrives.
	s := NewStreamer(func(ctx context.Context, hint Hint, emit func(int) error) error {
		for i := 0; ; i++ {
			if err := emit(i); err != nil {
				return err
			}
		}
	}, WithPeriod(time.Millisecond), WithHWM(2)).Start()

	time.Sleep(20 * time.Millisecond)
	s.Stop()
	joined := make(chan struct{})
	go func() {
		s.Join()
		close(joined)
	}()
	select {
	case <-joined:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not wake the producer blocked on a full queue")
	}

	// Items buffered before the stop are still consumable.
	v, ok, err := s.Next(context.Background())
	if err != nil || !ok || v != 0 {
		t.Fatalf("Next = %d ok=%v err=%v, want buffered item 0", v, ok, err)
	}
}
