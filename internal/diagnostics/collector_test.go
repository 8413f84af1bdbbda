// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package diagnostics

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexus-edge/opcua-gateway/internal/clock"
	"github.com/nexus-edge/opcua-gateway/internal/logging"
)

type stubStats struct{ snap Snapshot }

func (s stubStats) Stats() Snapshot { return s.snap }

func TestCollector_RecentLogHoldsRingCapLines(t *testing.T) {
	logging.MarkReady()
	c := NewCollector(3, stubStats{}, clock.Real)

	log := logging.Get("diagnostics-test")
	for i := 0; i < 5; i++ {
		log.Info("line")
	}

	lines := c.RecentLog()
	require.Len(t, lines, 3)
}

func TestCollector_MissedLogCountTracksOverwrittenLines(t *testing.T) {
	logging.MarkReady()
	c := NewCollector(2, stubStats{}, clock.Real)

	log := logging.Get("diagnostics-test")
	for i := 0; i < 5; i++ {
		log.Info("line")
	}

	// 2 lines fit in the ring; the remaining 3 overwrite a slot each.
	assert.Equal(t, uint64(3), c.MissedLogCount())
}

func TestCollector_StartupLogReturnsCapturedLines(t *testing.T) {
	c := NewCollector(10, stubStats{}, clock.Real)

	// The ready flag cannot be reset, so the startup log is seeded directly.
	startupLine := LogLine{Time: time.Now(), Level: "info", Message: "starting up"}
	c.mu.Lock()
	c.startupLog = append(c.startupLog, startupLine)
	c.mu.Unlock()

	startup := c.StartupLog()
	require.NotEmpty(t, startup)
	assert.Equal(t, "starting up", startup[len(startup)-1].Message)
}

func TestCollector_SnapshotDelegatesToSource(t *testing.T) {
	want := Snapshot{QueueDepth: 42, SessionsConnected: 2}
	c := NewCollector(10, stubStats{snap: want}, clock.Real)
	assert.Equal(t, want, c.Snapshot())
}

func TestMetrics_CollectReportsLiveSnapshot(t *testing.T) {
	c := NewCollector(10, stubStats{snap: Snapshot{QueueDepth: 7, SentMessages: 3}}, clock.Real)
	m := c.Metrics()

	assert.Equal(t, 10, testutil.CollectAndCount(m))

	expected := strings.NewReader(`
# HELP opcua_gateway_queue_depth Current number of telemetry records buffered in the queue.
# TYPE opcua_gateway_queue_depth gauge
opcua_gateway_queue_depth 7
`)
	require.NoError(t, testutil.CollectAndCompare(m, expected, "opcua_gateway_queue_depth"))
}
