// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package diagnostics implements the Diagnostics Collector: a bounded
// ring buffer of recent log lines, an unbounded startup log, a snapshot
// of process counters exposed to the Method Dispatcher's
// GetDiagnosticInfo, and the same counters exposed as Prometheus metrics.
package diagnostics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nexus-edge/opcua-gateway/internal/clock"
	"github.com/nexus-edge/opcua-gateway/internal/logging"
)

// LogLine is one captured log record.
type LogLine struct {
	Time    time.Time
	Level   string
	Message string
}

// Snapshot is the counters GetDiagnosticInfo reports.
type Snapshot struct {
	QueueDepth               int
	QueueCapacity            int
	Enqueued                 uint64
	EnqueueFailures          uint64
	SentMessages             uint64
	SentBytes                uint64
	FailedMessages           uint64
	TooLarge                 uint64
	MissedSendInterval       uint64
	WorkingSetMB             float64
	SessionsConfigured       int
	SessionsConnected        int
	SubscriptionsConfigured  int
	MonitoredItemsConfigured int
	MonitoredItemsMonitored  int
	MonitoredItemsToRemove   int
	SendIntervalSeconds      int
	HubMessageSizeBytes      int
}

// StatsSource supplies the live values a Snapshot is built from. The
// gateway's root app struct implements this by reading its queue, pipeline,
// and session supervisor.
type StatsSource interface {
	Stats() Snapshot
}

// Collector owns the ring buffer, the startup log, and the periodic
// logging task, on a ticker-driven update loop.
type Collector struct {
	mu         sync.Mutex
	ring       []LogLine
	ringCap    int
	ringPos    int
	ringLen    int
	ringMissed uint64
	startupLog []LogLine

	source StatsSource
	clock  clock.Clock

	metrics *Metrics

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewCollector builds a Collector with a ring buffer of ringCap lines,
// defaulting to 100 when ringCap is not positive.
func NewCollector(ringCap int, source StatsSource, clk clock.Clock) *Collector {
	if ringCap < 1 {
		ringCap = 100
	}
	c := &Collector{
		ring:    make([]LogLine, ringCap),
		ringCap: ringCap,
		source:  source,
		clock:   clk,
		metrics: newMetrics(source),
		stopCh:  make(chan struct{}),
	}
	logging.AddSink(c.onLogLine)
	return c
}

func (c *Collector) onLogLine(level, msg string) {
	line := LogLine{Time: c.clock.Now(), Level: level, Message: msg}
	c.mu.Lock()
	defer c.mu.Unlock()
	if logging.IsStartup() {
		c.startupLog = append(c.startupLog, line)
		return
	}
	if c.ringLen == c.ringCap {
		c.ringMissed++
	}
	c.ring[c.ringPos] = line
	c.ringPos = (c.ringPos + 1) % c.ringCap
	if c.ringLen < c.ringCap {
		c.ringLen++
	}
}

// MissedLogCount reports how many ring-buffer lines have been overwritten
// before GetDiagnosticLog could observe them.
func (c *Collector) MissedLogCount() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ringMissed
}

// RecentLog returns the ring buffer's contents, oldest first.
func (c *Collector) RecentLog() []LogLine {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]LogLine, 0, c.ringLen)
	start := c.ringPos - c.ringLen
	for i := 0; i < c.ringLen; i++ {
		idx := (start + i + c.ringCap) % c.ringCap
		out = append(out, c.ring[idx])
	}
	return out
}

// StartupLog returns every line logged before logging.MarkReady was called.
func (c *Collector) StartupLog() []LogLine {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]LogLine, len(c.startupLog))
	copy(out, c.startupLog)
	return out
}

// Snapshot returns the current diagnostics snapshot.
func (c *Collector) Snapshot() Snapshot {
	return c.source.Stats()
}

// Metrics returns the Prometheus-registerable metrics surface.
func (c *Collector) Metrics() *Metrics {
	return c.metrics
}

// Run periodically logs the diagnostics snapshot at the configured
// interval; interval <= 0 disables it.
func (c *Collector) Run(interval time.Duration) {
	if interval <= 0 {
		return
	}
	c.wg.Add(1)
	defer c.wg.Done()

	log := logging.Get("diagnostics")
	timer := c.clock.NewTimer(interval)
	defer timer.Stop()
	for {
		select {
		case <-c.stopCh:
			return
		case <-timer.C():
			snap := c.Snapshot()
			log.Info("diagnostics snapshot",
				"queue_depth", snap.QueueDepth,
				"sent_messages", snap.SentMessages,
				"sessions_connected", snap.SessionsConnected,
				"monitored_items_monitored", snap.MonitoredItemsMonitored,
			)
			timer.Reset(interval)
		}
	}
}

// Stop ends the periodic logging task, if running.
func (c *Collector) Stop() {
	select {
	case <-c.stopCh:
	default:
		close(c.stopCh)
	}
	c.wg.Wait()
}

// Metrics is the Diagnostics Collector's Prometheus surface. It implements
// prometheus.Collector by pulling a fresh Snapshot at scrape time, so the
// cumulative counters behind the snapshot are reported exactly once rather
// than re-accumulated.
type Metrics struct {
	source StatsSource

	queueDepth         *prometheus.Desc
	enqueued           *prometheus.Desc
	enqueueFailures    *prometheus.Desc
	sentMessages       *prometheus.Desc
	sentBytes          *prometheus.Desc
	failedMessages     *prometheus.Desc
	tooLarge           *prometheus.Desc
	missedSendInterval *prometheus.Desc
	sessionsConnected  *prometheus.Desc
	itemsMonitored     *prometheus.Desc
}

func newMetrics(source StatsSource) *Metrics {
	return &Metrics{
		source: source,
		queueDepth: prometheus.NewDesc("opcua_gateway_queue_depth",
			"Current number of telemetry records buffered in the queue.", nil, nil),
		enqueued: prometheus.NewDesc("opcua_gateway_enqueued_total",
			"Total telemetry records enqueued.", nil, nil),
		enqueueFailures: prometheus.NewDesc("opcua_gateway_enqueue_failures_total",
			"Total telemetry records dropped due to a full queue.", nil, nil),
		sentMessages: prometheus.NewDesc("opcua_gateway_sent_messages_total",
			"Total hub messages sent.", nil, nil),
		sentBytes: prometheus.NewDesc("opcua_gateway_sent_bytes_total",
			"Total bytes sent to the hub.", nil, nil),
		failedMessages: prometheus.NewDesc("opcua_gateway_failed_messages_total",
			"Total hub send failures.", nil, nil),
		tooLarge: prometheus.NewDesc("opcua_gateway_records_too_large_total",
			"Total telemetry records discarded for exceeding the message size budget.", nil, nil),
		missedSendInterval: prometheus.NewDesc("opcua_gateway_missed_send_interval_total",
			"Total dispatch cycles where the send-interval deadline had already elapsed.", nil, nil),
		sessionsConnected: prometheus.NewDesc("opcua_gateway_sessions_connected",
			"Current number of connected OPC UA sessions.", nil, nil),
		itemsMonitored: prometheus.NewDesc("opcua_gateway_monitored_items_active",
			"Current number of actively monitored items.", nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	ch <- m.queueDepth
	ch <- m.enqueued
	ch <- m.enqueueFailures
	ch <- m.sentMessages
	ch <- m.sentBytes
	ch <- m.failedMessages
	ch <- m.tooLarge
	ch <- m.missedSendInterval
	ch <- m.sessionsConnected
	ch <- m.itemsMonitored
}

// Collect implements prometheus.Collector.
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	s := m.source.Stats()
	ch <- prometheus.MustNewConstMetric(m.queueDepth, prometheus.GaugeValue, float64(s.QueueDepth))
	ch <- prometheus.MustNewConstMetric(m.enqueued, prometheus.CounterValue, float64(s.Enqueued))
	ch <- prometheus.MustNewConstMetric(m.enqueueFailures, prometheus.CounterValue, float64(s.EnqueueFailures))
	ch <- prometheus.MustNewConstMetric(m.sentMessages, prometheus.CounterValue, float64(s.SentMessages))
	ch <- prometheus.MustNewConstMetric(m.sentBytes, prometheus.CounterValue, float64(s.SentBytes))
	ch <- prometheus.MustNewConstMetric(m.failedMessages, prometheus.CounterValue, float64(s.FailedMessages))
	ch <- prometheus.MustNewConstMetric(m.tooLarge, prometheus.CounterValue, float64(s.TooLarge))
	ch <- prometheus.MustNewConstMetric(m.missedSendInterval, prometheus.CounterValue, float64(s.MissedSendInterval))
	ch <- prometheus.MustNewConstMetric(m.sessionsConnected, prometheus.GaugeValue, float64(s.SessionsConnected))
	ch <- prometheus.MustNewConstMetric(m.itemsMonitored, prometheus.GaugeValue, float64(s.MonitoredItemsMonitored))
}
