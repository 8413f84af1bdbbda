// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package telemetry

import (
	"bytes"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nexus-edge/opcua-gateway/internal/clock"
)

// Sender delivers a batch of encoded JSON to the cloud hub. It is the one
// interface boundary onto the hub device-client SDK; implementations wrap
// whatever SDK the process is built with.
type Sender interface {
	Send(body []byte, contentType, contentEncoding string) error
}

const (
	contentType     = "application/opcua+uajson"
	contentEncoding = "UTF-8"
)

// Counters are the Dispatch Pipeline's cumulative diagnostics.
type Counters struct {
	SentMessages       uint64
	SentBytes          uint64
	FailedMessages     uint64
	TooLarge           uint64
	MissedSendInterval uint64
}

// Pipeline is the single consumer of a Queue.
type Pipeline struct {
	queue  *Queue
	sender Sender
	clock  clock.Clock
	mask   FieldMask

	sendIntervalSeconds int
	bufferBudget        int

	sentMessages       atomic.Uint64
	sentBytes          atomic.Uint64
	failedMessages     atomic.Uint64
	tooLarge           atomic.Uint64
	missedSendInterval atomic.Uint64

	mu   sync.Mutex
	done chan struct{}
	wg   sync.WaitGroup
}

// NewPipeline builds a Pipeline. bufferBudget is the effective JSON buffer
// size after subtracting system/application property overhead and the
// outer `[`/`]` bytes.
func NewPipeline(q *Queue, sender Sender, clk clock.Clock, mask FieldMask, sendIntervalSeconds, bufferBudget int) *Pipeline {
	return &Pipeline{
		queue:               q,
		sender:              sender,
		clock:               clk,
		mask:                mask,
		sendIntervalSeconds: sendIntervalSeconds,
		bufferBudget:        bufferBudget,
		done:                make(chan struct{}),
	}
}

// singleMessageMode reports whether the send interval and buffer budget
// have both been set to 0 by the caller.
func (p *Pipeline) singleMessageMode() bool {
	return p.sendIntervalSeconds == 0 && p.bufferBudget <= 0
}

// Run drives the dispatch loop until Stop is called. It is meant to run on
// its own goroutine: it is the pipeline's single consumer task, the only
// place records are dequeued and handed to Sender.
func (p *Pipeline) Run() {
	p.wg.Add(1)
	defer p.wg.Done()

	if p.singleMessageMode() {
		p.runSingleMessageMode()
		return
	}
	p.runBatchedMode()
}

func (p *Pipeline) runSingleMessageMode() {
	for {
		rec, ok := p.queue.TryTake(p.clock, Infinite, p.done)
		if !ok {
			return
		}
		encoded, err := Encode(rec, p.mask)
		if err != nil {
			p.tooLarge.Add(1)
			continue
		}
		p.send([]byte(encoded))
	}
}

func (p *Pipeline) runBatchedMode() {
	deadline := p.clock.Now().Add(time.Duration(p.sendIntervalSeconds) * time.Second)
	var buf bytes.Buffer
	buf.WriteByte('[')
	count := 0

	for {
		now := p.clock.Now()
		var wait time.Duration
		shuttingDown := p.isShuttingDown()

		if p.sendIntervalSeconds == 0 {
			if shuttingDown {
				wait = 0
			} else {
				wait = Infinite
			}
		} else {
			wait = deadline.Sub(now)
			if wait < 0 {
				p.missedSendInterval.Add(1)
				wait = 0
			}
		}

		rec, ok := p.queue.TryTake(p.clock, wait, p.done)
		if !ok {
			if shuttingDown {
				p.flush(&buf, count)
				return
			}
			if count == 0 {
				if p.sendIntervalSeconds > 0 {
					deadline = deadline.Add(time.Duration(p.sendIntervalSeconds) * time.Second)
				}
				continue
			}
			p.flush(&buf, count)
			buf.Reset()
			buf.WriteByte('[')
			count = 0
			if p.sendIntervalSeconds > 0 {
				deadline = deadline.Add(time.Duration(p.sendIntervalSeconds) * time.Second)
			}
			continue
		}

		encoded, err := Encode(rec, p.mask)
		if err != nil {
			p.tooLarge.Add(1)
			continue
		}
		if len(encoded) > p.bufferBudget {
			p.tooLarge.Add(1)
			continue
		}

		extra := len(encoded)
		if count > 0 {
			extra++ // separating comma
		}
		if buf.Len()-1+extra > p.bufferBudget {
			p.flush(&buf, count)
			buf.Reset()
			buf.WriteByte('[')
			count = 0
			if p.sendIntervalSeconds > 0 {
				deadline = deadline.Add(time.Duration(p.sendIntervalSeconds) * time.Second)
			}
		}

		if count > 0 {
			buf.WriteByte(',')
		}
		buf.WriteString(encoded)
		count++
	}
}

func (p *Pipeline) flush(buf *bytes.Buffer, count int) {
	if count == 0 {
		return
	}
	buf.WriteByte(']')
	p.send(buf.Bytes())
}

func (p *Pipeline) send(body []byte) {
	if err := p.sender.Send(body, contentType, contentEncoding); err != nil {
		p.failedMessages.Add(1)
		return
	}
	p.sentMessages.Add(1)
	p.sentBytes.Add(uint64(len(body)))
}

func (p *Pipeline) isShuttingDown() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// Stop signals the pipeline to drain the queue and send a final buffer if
// non-empty, then return. It blocks until Run has returned.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	select {
	case <-p.done:
	default:
		close(p.done)
	}
	p.mu.Unlock()
	p.wg.Wait()
}

// Counters returns a snapshot of cumulative dispatch counters.
func (p *Pipeline) Counters() Counters {
	return Counters{
		SentMessages:       p.sentMessages.Load(),
		SentBytes:          p.sentBytes.Load(),
		FailedMessages:     p.failedMessages.Load(),
		TooLarge:           p.tooLarge.Load(),
		MissedSendInterval: p.missedSendInterval.Load(),
	}
}
