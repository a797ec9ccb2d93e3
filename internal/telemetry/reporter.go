// Package telemetry records calls, detections, and decisions for the
// dashboard. Reporting never blocks the call path beyond enqueueing;
// telemetry loss under pressure is acceptable, governance correctness is not.
package telemetry

import (
	"context"
	"sync"
	"time"
)

const (
	// DefaultQueueSize bounds the in-memory event queue.
	DefaultQueueSize = 1024

	maxBatch   = 64
	flushPause = 100 * time.Millisecond
	drainGrace = 2 * time.Second
)

// Reporter buffers events in a bounded queue and delivers them to the sink
// from a single consumer goroutine. When the queue is full the oldest event
// is dropped. A nil sink degrades the reporter to a counting no-op.
type Reporter struct {
	sink Sink
	size int

	mu     sync.Mutex
	queue  []Event
	wake   chan struct{}
	closed bool

	done chan struct{}
}

// NewReporter creates a Reporter and starts its dispatch loop. size <= 0
// falls back to DefaultQueueSize.
func NewReporter(sink Sink, size int) *Reporter {
	if size <= 0 {
		size = DefaultQueueSize
	}
	r := &Reporter{
		sink: sink,
		size: size,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go r.run()
	return r
}

// Report enqueues one event. Never blocks: under sustained backpressure the
// oldest queued event is evicted to make room.
func (r *Reporter) Report(ev Event) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	if len(r.queue) >= r.size {
		r.queue = r.queue[1:]
		eventsDropped.Inc()
	}
	r.queue = append(r.queue, ev)
	eventsEnqueued.Inc()
	r.mu.Unlock()

	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// QueueLen reports the current backlog. For tests and diagnostics.
func (r *Reporter) QueueLen() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queue)
}

// Close stops the dispatch loop after a best-effort drain. Events still
// queued past the grace period are lost, by design.
func (r *Reporter) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.mu.Unlock()

	select {
	case r.wake <- struct{}{}:
	default:
	}

	select {
	case <-r.done:
	case <-time.After(drainGrace):
	}
}

func (r *Reporter) run() {
	defer close(r.done)

	for {
		batch, closed := r.takeBatch()
		if len(batch) > 0 {
			r.deliver(batch)
			continue
		}
		if closed {
			return
		}

		select {
		case <-r.wake:
		case <-time.After(flushPause):
		}
	}
}

func (r *Reporter) takeBatch() ([]Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := len(r.queue)
	if n > maxBatch {
		n = maxBatch
	}
	if n == 0 {
		return nil, r.closed
	}
	batch := make([]Event, n)
	copy(batch, r.queue[:n])
	r.queue = r.queue[n:]
	return batch, r.closed
}

func (r *Reporter) deliver(batch []Event) {
	if r.sink == nil {
		// No destination configured: telemetry degrades to a no-op.
		eventsDelivered.Add(float64(len(batch)))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := r.sink.Deliver(ctx, batch); err != nil {
		// Delivery failure is always recovered locally and never reaches
		// the call path.
		batchesFailed.Inc()
		return
	}
	eventsDelivered.Add(float64(len(batch)))
}
