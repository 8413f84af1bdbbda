// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package session

import (
	"time"

	"github.com/nexus-edge/opcua-gateway/internal/clock"
)

// rearmHeartbeat arms or resets the item's heartbeat timer; it is created
// lazily since a heartbeat cannot replay a value that has never arrived.
func (it *MonitoredItem) rearmHeartbeat(clk clock.Clock, interval time.Duration, onFire func()) {
	it.hbMu.Lock()
	defer it.hbMu.Unlock()

	if it.hbTimer == nil {
		timer := clk.NewTimer(interval)
		it.hbTimer = timer
		go it.runHeartbeat(timer, interval, onFire)
		return
	}
	it.hbTimer.Reset(interval)
}

// runHeartbeat fires onFire every interval until the item's heartbeat is
// disarmed, self-renewing the timer after each fire.
func (it *MonitoredItem) runHeartbeat(timer clock.Timer, interval time.Duration, onFire func()) {
	for {
		select {
		case <-it.heartbeatDone():
			return
		case <-timer.C():
			onFire()
			it.hbMu.Lock()
			stopped := it.hbTimer == nil
			if !stopped {
				it.hbTimer.Reset(interval)
			}
			it.hbMu.Unlock()
			if stopped {
				return
			}
		}
	}
}

// heartbeatDone returns the channel that closes when the item's heartbeat
// is disarmed (item removed or reconfigured without a heartbeat).
func (it *MonitoredItem) heartbeatDone() <-chan struct{} {
	it.hbMu.Lock()
	defer it.hbMu.Unlock()
	if it.hbDone == nil {
		it.hbDone = make(chan struct{})
	}
	return it.hbDone
}

// disarmHeartbeat stops the item's heartbeat timer and goroutine, called
// when the item is removed.
func (it *MonitoredItem) disarmHeartbeat() {
	it.hbMu.Lock()
	defer it.hbMu.Unlock()
	if it.hbTimer != nil {
		it.hbTimer.Stop()
		it.hbTimer = nil
	}
	if it.hbDone != nil {
		select {
		case <-it.hbDone:
		default:
			close(it.hbDone)
		}
	}
}

// cacheLastValue stores snap as the item's heartbeat replay baseline,
// bumping the source timestamp by 1ms if it would not otherwise be
// strictly greater than the previously cached timestamp.
func (it *MonitoredItem) cacheLastValue(snap recordSnapshot) recordSnapshot {
	it.hbMu.Lock()
	defer it.hbMu.Unlock()
	if it.lastRecord != nil && !snap.sourceTimestamp.After(it.lastRecord.sourceTimestamp) {
		snap.sourceTimestamp = it.lastRecord.sourceTimestamp.Add(time.Millisecond)
	}
	it.lastRecord = &snap
	return snap
}

// advanceAndSnapshotHeartbeat advances the cached record's source
// timestamp by the heartbeat interval and returns a copy to enqueue.
func (it *MonitoredItem) advanceAndSnapshotHeartbeat(interval time.Duration) (recordSnapshot, bool) {
	it.hbMu.Lock()
	defer it.hbMu.Unlock()
	if it.lastRecord == nil {
		return recordSnapshot{}, false
	}
	it.lastRecord.sourceTimestamp = it.lastRecord.sourceTimestamp.Add(interval)
	return *it.lastRecord, true
}
