// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package telemetry

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/nexus-edge/opcua-gateway/internal/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	mu       sync.Mutex
	bodies   [][]byte
	failNext bool
}

func (f *fakeSender) Send(body []byte, contentType, contentEncoding string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext {
		f.failNext = false
		return fmt.Errorf("send failed")
	}
	cp := make([]byte, len(body))
	copy(cp, body)
	f.bodies = append(f.bodies, cp)
	return nil
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.bodies)
}

func (f *fakeSender) last() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bodies[len(f.bodies)-1]
}

// TestPipeline_BatchedModeThreeMessages reproduces scenario S1: 30
// records enqueued ten per 10 s send interval, expecting 3 ten-item batches.
func TestPipeline_BatchedModeThreeMessages(t *testing.T) {
	q := NewQueue(1024)
	sender := &fakeSender{}
	clk := clock.NewMockClock(time.Unix(0, 0))
	p := NewPipeline(q, sender, clk, DefaultFieldMask(), 10, 260000)

	go p.Run()

	for batch := 0; batch < 3; batch++ {
		for i := 0; i < 10; i++ {
			v := batch*10 + i + 1
			q.Enqueue(Record{
				EndpointURL:     "opc.tcp://srv:4840",
				NodeID:          "ns=2;i=10",
				DisplayName:     "tag",
				Value:           fmt.Sprintf("%d", v),
				SourceTimestamp: clk.Now(),
				StatusSymbolic:  "Good",
			})
		}
		waitForCount(t, func() int { return sender.count() }, batch) // not yet flushed
		clk.Advance(10 * time.Second)
		waitForCount(t, func() int { return sender.count() }, batch+1)
	}

	require.Equal(t, 3, sender.count())
	var arr []map[string]any
	require.NoError(t, json.Unmarshal(sender.last(), &arr))
	assert.Len(t, arr, 10)

	c := p.Counters()
	assert.Equal(t, uint64(3), c.SentMessages)
	assert.True(t, c.SentBytes > 0)
	assert.Equal(t, uint64(0), c.FailedMessages)

	p.Stop()
}

func TestPipeline_SingleMessageMode(t *testing.T) {
	q := NewQueue(16)
	sender := &fakeSender{}
	clk := clock.NewMockClock(time.Unix(0, 0))
	p := NewPipeline(q, sender, clk, DefaultFieldMask(), 0, 0)

	go p.Run()

	q.Enqueue(Record{NodeID: "ns=1;i=1", Value: "7", SourceTimestamp: clk.Now()})
	waitForCount(t, func() int { return sender.count() }, 1)

	var obj map[string]any
	require.NoError(t, json.Unmarshal(sender.last(), &obj))
	assert.Equal(t, "ns=1;i=1", obj["NodeId"])

	p.Stop()
}

func TestPipeline_SendFailureIncrementsFailedMessages(t *testing.T) {
	q := NewQueue(16)
	sender := &fakeSender{failNext: true}
	clk := clock.NewMockClock(time.Unix(0, 0))
	p := NewPipeline(q, sender, clk, DefaultFieldMask(), 0, 0)

	go p.Run()
	q.Enqueue(Record{NodeID: "ns=1;i=1", Value: "1"})

	require.Eventually(t, func() bool { return p.Counters().FailedMessages == 1 }, time.Second, time.Millisecond)
	p.Stop()
}

func waitForCount(t *testing.T, get func() int, want int) {
	t.Helper()
	require.Eventually(t, func() bool { return get() == want }, time.Second, time.Millisecond)
}
