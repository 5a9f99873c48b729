// Package ringchan provides a bounded channel that drops its oldest element
// instead of blocking the producer.
package ringchan

import (
	"context"
	"sync"
	"sync/atomic"
)

// RingChannel is a buffered channel with overwrite-oldest semantics.
type RingChannel[T any] struct {
	ch     chan T
	sendMu sync.Mutex
	closed atomic.Bool

	written     atomic.Int64
	overwritten atomic.Int64
	processed   atomic.Int64
}

// Stats is a snapshot of the channel counters.
type Stats struct {
	Written     int64
	Overwritten int64
	Processed   int64
}

// New creates a ring channel; capacity must be positive.
func New[T any](capacity int) *RingChannel[T] {
	if capacity <= 0 {
		panic("ringchan: capacity must be > 0")
	}
	return &RingChannel[T]{ch: make(chan T, capacity)}
}

// Send enqueues v, discarding the oldest element when full. It reports
// whether an element was dropped. Sending on a closed channel is a no-op.
func (rc *RingChannel[T]) Send(v T) (dropped bool) {
	rc.sendMu.Lock()
	defer rc.sendMu.Unlock()
	if rc.closed.Load() {
		return false
	}
	for {
		select {
		case rc.ch <- v:
			rc.written.Add(1)
			return dropped
		default:
		}
		select {
		case <-rc.ch:
			rc.overwritten.Add(1)
			dropped = true
		default:
		}
	}
}

// Receive blocks for the next value; ok is false once the channel is
// closed and drained or ctx is done.
func (rc *RingChannel[T]) Receive(ctx context.Context) (v T, ok bool) {
	select {
	case v, ok = <-rc.ch:
		if ok {
			rc.processed.Add(1)
		}
		return v, ok
	case <-ctx.Done():
		return v, false
	}
}

// Close closes the channel once; later sends are dropped silently.
func (rc *RingChannel[T]) Close() {
	rc.sendMu.Lock()
	defer rc.sendMu.Unlock()
	if rc.closed.CompareAndSwap(false, true) {
		close(rc.ch)
	}
}

func (rc *RingChannel[T]) Stats() Stats {
	return Stats{
		Written:     rc.written.Load(),
		Overwritten: rc.overwritten.Load(),
		Processed:   rc.processed.Load(),
	}
}
