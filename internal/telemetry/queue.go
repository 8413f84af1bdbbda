// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package telemetry

import (
	"sync/atomic"
	"time"

	"github.com/nexus-edge/opcua-gateway/internal/clock"
	"github.com/nexus-edge/opcua-gateway/internal/logging"
)

var log = logging.Get("telemetry")

// Queue is a bounded FIFO of telemetry records. Enqueue never blocks the
// calling notification callback: a full queue increments enqueueFailures
// and drops the record.
type Queue struct {
	ch              chan Record
	enqueueFailures atomic.Uint64
	enqueued        atomic.Uint64
}

// NewQueue returns a Queue with the given capacity.
func NewQueue(capacity int) *Queue {
	return &Queue{ch: make(chan Record, capacity)}
}

// Enqueue attempts a non-blocking send. On overflow it increments the
// failure counter and logs every 10,000th failure.
func (q *Queue) Enqueue(r Record) bool {
	select {
	case q.ch <- r:
		q.enqueued.Add(1)
		return true
	default:
		n := q.enqueueFailures.Add(1)
		if n%10000 == 0 {
			log.Warn("telemetry queue overflow", "failures", n)
		}
		return false
	}
}

// Infinite signals TryTake to block until a record arrives or done closes,
// used when send-interval is 0 and the pipeline is not shutting down.
const Infinite time.Duration = -1

// TryTake blocks until a record is available, wait elapses, or done is
// closed. wait == 0 returns immediately if nothing is queued; wait ==
// Infinite blocks with no timeout.
func (q *Queue) TryTake(clk clock.Clock, wait time.Duration, done <-chan struct{}) (Record, bool) {
	select {
	case r := <-q.ch:
		return r, true
	default:
	}
	if wait == 0 {
		return Record{}, false
	}

	var timeout <-chan time.Time
	if wait != Infinite {
		timeout = clk.After(wait)
	}

	select {
	case r := <-q.ch:
		return r, true
	case <-timeout:
		return Record{}, false
	case <-done:
		return Record{}, false
	}
}

// Len reports the current queue depth, for diagnostics.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Cap reports the configured capacity.
func (q *Queue) Cap() int {
	return cap(q.ch)
}

// EnqueueFailures reports the cumulative overflow count.
func (q *Queue) EnqueueFailures() uint64 {
	return q.enqueueFailures.Load()
}

// Enqueued reports the cumulative successful-enqueue count.
func (q *Queue) Enqueued() uint64 {
	return q.enqueued.Load()
}
