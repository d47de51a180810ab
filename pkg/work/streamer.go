package work

import (
	"context"
	"errors"
	"time"
)

// Hint carries the queue capacity and tick period to a producer, as sizing
// hints for how much it should load per invocation.
type Hint struct {
	Capacity int
	Period   time.Duration
}

// Producer loads items on each tick, pushing them through emit. Emit blocks
// while the queue is full, applying backpressure to the producer. Returning
// ErrStop ends the stream after the items emitted so far; returning any other
// error logs it and retries on the next tick.
type Producer[T any] func(ctx context.Context, hint Hint, emit func(T) error) error

// Streamer runs a producer once per tick and exposes the produced items
// through a blocking pull interface. End-of-stream is a normal termination,
// not an error.
type Streamer[T any] struct {
	task *Task
	q    *Queue[T]
	hint Hint
}

func NewStreamer[T any](produce Producer[T], opts ...Option) *Streamer[T] {
	o := buildOptions(opts)
	s := &Streamer[T]{
		q: NewQueue[T](o.queueCap()),
	}
	period := o.period
	if period <= 0 {
		period = DefaultPeriod
	}
	s.hint = Hint{Capacity: s.q.Cap(), Period: period}
	s.task = New(s.callback(produce), opts...)
	return s
}

// Start begins the producer loop. It returns the streamer for chaining.
func (s *Streamer[T]) Start() *Streamer[T] {
	s.task.Start()
	return s
}

// Next blocks for the next item. ok is false once the stream has ended.
func (s *Streamer[T]) Next(ctx context.Context) (v T, ok bool, err error) {
	return s.q.Get(ctx)
}

// Stop requests cooperative termination of the producer loop.
func (s *Streamer[T]) Stop() *Streamer[T] {
	s.task.Stop()
	return s
}

// Join blocks until the producer loop has exited. Items already buffered can
// still be consumed through Next afterwards.
func (s *Streamer[T]) Join() {
	s.task.Join()
}

func (s *Streamer[T]) callback(produce Producer[T]) Callback {
	return func(ctx context.Context) error {
		emit := func(v T) error {
			// Block on the stop-aware context so a Stop() wakes a producer
			// stalled on a full queue.
			return s.q.Put(s.task.waitCtx, v)
		}
		err := produce(ctx, s.hint, emit)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrStop) {
			if perr := s.q.PutStop(s.task.waitCtx); perr != nil {
				return ErrStop
			}
			return ErrStop
		}
		if errors.Is(err, context.Canceled) {
			return ErrStop
		}
		return err
	}
}
