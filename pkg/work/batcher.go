package work

import (
	"context"

	"groundwork/pkg/logx"
)

// Handler receives one drained batch per tick. It must tolerate empty
// batches: the final delivery after Join may carry nothing but the stripped
// stop marker.
type Handler[T any] func(ctx context.Context, batch []T) error

// Batcher accumulates items in a bounded queue and periodically hands the
// drained batch to a handler. Join enqueues the stop marker and waits for the
// final delivery, so every item added before Join is handled exactly once.
type Batcher[T any] struct {
	task *Task
	q    *Queue[T]
	log  logx.Logger
}

func NewBatcher[T any](handle Handler[T], opts ...Option) *Batcher[T] {
	o := buildOptions(opts)
	b := &Batcher[T]{
		q:   NewQueue[T](o.queueCap()),
		log: o.log,
	}
	b.task = New(b.callback(handle), opts...)
	return b
}

// Start begins the drain loop. It returns the batcher for chaining.
func (b *Batcher[T]) Start() *Batcher[T] {
	b.task.Start()
	return b
}

// Add enqueues an item, blocking while the queue is at capacity.
func (b *Batcher[T]) Add(ctx context.Context, v T) error {
	return b.q.Put(ctx, v)
}

// Len reports the number of items currently buffered.
func (b *Batcher[T]) Len() int { return b.q.Len() }

// Join signals end-of-input and blocks until every previously added item has
// been delivered to the handler.
func (b *Batcher[T]) Join(ctx context.Context) error {
	if err := b.q.PutStop(ctx); err != nil {
		return err
	}
	b.task.Join()
	return nil
}

// Stop requests cooperative termination without draining. Items still
// buffered are not delivered; use Join for a graceful drain.
func (b *Batcher[T]) Stop() *Batcher[T] {
	b.task.Stop()
	return b
}

func (b *Batcher[T]) callback(handle Handler[T]) Callback {
	return func(ctx context.Context) error {
		// The drain waits on the stop-aware context so a Stop() wakes a
		// worker blocked on an empty queue.
		batch, stopped, err := b.q.Drain(b.task.waitCtx, 1)
		if err != nil {
			return ErrStop
		}
		herr := handle(ctx, batch)
		if stopped {
			if herr != nil {
				b.log.Error("final batch handler failed", logx.Err(herr))
			}
			return ErrStop
		}
		return herr
	}
}
