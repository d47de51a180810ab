package work

import (
	"context"
)

// DefaultHWM is the default queue capacity (high-water mark). It trades
// memory for backpressure: a full queue blocks producers.
const DefaultHWM = 10000

// frame is a queue element: either a payload value or the stop marker.
// The marker is tagged at the type level so it can never collide with
// ordinary data. Fields are exported for gob when frames cross a process
// boundary.
type frame[T any] struct {
	Val  T
	Stop bool
}

// Queue is a bounded FIFO shared between one producer path and one consumer
// path. Put blocks when full, Get blocks when empty. Once the stop marker has
// been dequeued, no later payload is delivered: items enqueued behind the
// marker are discarded by consumers honoring the Get contract.
type Queue[T any] struct {
	ch chan frame[T]
}

func NewQueue[T any](hwm int) *Queue[T] {
	if hwm <= 0 {
		hwm = DefaultHWM
	}
	return &Queue[T]{ch: make(chan frame[T], hwm)}
}

func (q *Queue[T]) Cap() int { return cap(q.ch) }
func (q *Queue[T]) Len() int { return len(q.ch) }

// Put enqueues a payload value, blocking while the queue is full.
func (q *Queue[T]) Put(ctx context.Context, v T) error {
	select {
	case q.ch <- frame[T]{Val: v}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PutStop enqueues the stop marker. The caller must not Put payload values
// afterwards; consumers treat the marker as end-of-work.
func (q *Queue[T]) PutStop(ctx context.Context) error {
	select {
	case q.ch <- frame[T]{Stop: true}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Get dequeues the next element, blocking while the queue is empty.
// ok is false when the stop marker was dequeued.
func (q *Queue[T]) Get(ctx context.Context) (v T, ok bool, err error) {
	select {
	case f := <-q.ch:
		if f.Stop {
			return v, false, nil
		}
		return f.Val, true, nil
	case <-ctx.Done():
		return v, false, ctx.Err()
	}
}

// Drain blocks for at least atLeast elements, then keeps dequeuing without
// blocking until the queue is momentarily empty. It returns the payload items
// in FIFO order and whether the stop marker was seen; the marker itself is
// stripped and always ends the drain.
func (q *Queue[T]) Drain(ctx context.Context, atLeast int) (items []T, stopped bool, err error) {
	for len(items) < atLeast {
		select {
		case f := <-q.ch:
			if f.Stop {
				return items, true, nil
			}
			items = append(items, f.Val)
		case <-ctx.Done():
			return items, false, ctx.Err()
		}
	}
	for {
		select {
		case f := <-q.ch:
			if f.Stop {
				return items, true, nil
			}
			items = append(items, f.Val)
		default:
			return items, false, nil
		}
	}
}
