// Package work provides the scheduled-worker substrate: periodic tasks paced
// by a timer, a bounded FIFO queue with an in-band (but type-tagged) stop
// marker, and the batching/streaming workers built on top of both.
//
// Tasks run either on a goroutine or on an isolated subprocess (a re-exec of
// the current binary running a callback registered by name). Cancellation is
// cooperative: Stop() is observed at the next suspension point and never
// preempts an in-flight callback.
package work
