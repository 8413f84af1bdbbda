// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package telemetry

import (
	"testing"
	"time"

	"github.com/nexus-edge/opcua-gateway/internal/clock"
	"github.com/stretchr/testify/assert"
)

func TestQueue_OverflowNeverBlocks(t *testing.T) {
	q := NewQueue(4)
	for i := 0; i < 4; i++ {
		assert.True(t, q.Enqueue(Record{NodeID: "n"}))
	}
	// capacity reached: further enqueues must fail, not block.
	done := make(chan bool, 1)
	go func() { done <- q.Enqueue(Record{NodeID: "overflow"}) }()
	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("Enqueue blocked on a full queue")
	}
	assert.Equal(t, uint64(1), q.EnqueueFailures())
}

func TestQueue_TryTake_Immediate(t *testing.T) {
	q := NewQueue(4)
	q.Enqueue(Record{NodeID: "a"})
	clk := clock.NewMockClock(time.Unix(0, 0))
	r, ok := q.TryTake(clk, 0, make(chan struct{}))
	assert.True(t, ok)
	assert.Equal(t, "a", r.NodeID)
}

func TestQueue_TryTake_TimesOut(t *testing.T) {
	q := NewQueue(4)
	clk := clock.NewMockClock(time.Unix(0, 0))
	done := make(chan struct{})
	resultCh := make(chan bool, 1)
	go func() {
		_, ok := q.TryTake(clk, time.Second, done)
		resultCh <- ok
	}()
	// give the goroutine time to enter the blocking select
	time.Sleep(20 * time.Millisecond)
	clk.Advance(2 * time.Second)
	select {
	case ok := <-resultCh:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("TryTake did not observe the advanced clock")
	}
}

func TestQueue_TryTake_DoneClosed(t *testing.T) {
	q := NewQueue(4)
	clk := clock.NewMockClock(time.Unix(0, 0))
	done := make(chan struct{})
	close(done)
	_, ok := q.TryTake(clk, Infinite, done)
	assert.False(t, ok)
}
