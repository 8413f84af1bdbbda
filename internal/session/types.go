// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package session implements the Session Supervisor: one cooperative
// per-endpoint loop that connects to an OPC UA server, resolves and
// installs monitored items, prunes empty subscriptions and sessions, and
// tracks keep-alive health. The stack itself is reached only through
// internal/opcadapter's narrow Adapter interface.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/nexus-edge/opcua-gateway/internal/clock"
	"github.com/nexus-edge/opcua-gateway/internal/nodeconfig"
	"github.com/nexus-edge/opcua-gateway/internal/opcadapter"
)

// State is a Session's connection state.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	default:
		return "Disconnected"
	}
}

// ItemState is a Monitored Item's lifecycle state.
type ItemState int

const (
	Unmonitored ItemState = iota
	UnmonitoredAwaitingNamespaceResolution
	Monitored
	RemovalRequested
)

// MonitoredItem is one configured node within a Subscription.
type MonitoredItem struct {
	RawID        string
	Identifier   nodeconfig.Identifier
	DisplayName  string
	ClientHandle uint32
	State        ItemState

	ResolvedNode   opcadapter.ResolvedNodeID
	ExpandedNodeID string

	SamplingRequested time.Duration
	SamplingRevised   time.Duration
	QueueSize         uint32
	DiscardOldest     bool

	HeartbeatIntervalSeconds int
	SkipFirst                bool

	MonitoredItemID uint32

	// installFailed is set when the server rejected the item (bad or
	// unknown node id). The item stays Unmonitored and is not retried
	// until it is removed and published again.
	installFailed bool

	hbMu       sync.Mutex
	hbTimer    clock.Timer
	hbDone     chan struct{}
	lastRecord *recordSnapshot
	skipNext   bool
}

// recordSnapshot is the minimal heartbeat replay state; buildRecord turns
// it into a telemetry.Record.
type recordSnapshot struct {
	value           string
	preserveQuotes  bool
	statusCode      uint32
	statusSymbolic  string
	sourceTimestamp time.Time
}

// Subscription is a per-(session, publishing-interval) group of monitored
// items sharing one stack-level subscription handle.
type Subscription struct {
	RequestedInterval time.Duration
	RevisedInterval   time.Duration
	Handle            opcadapter.SubscriptionHandle

	mu               sync.Mutex
	items            map[string]*MonitoredItem // canonical identifier -> item
	nextClientHandle uint32
}

func newSubscription(requested time.Duration) *Subscription {
	return &Subscription{
		RequestedInterval: requested,
		items:             make(map[string]*MonitoredItem),
	}
}

func (s *Subscription) allocateClientHandle() uint32 {
	s.nextClientHandle++
	return s.nextClientHandle
}

func (s *Subscription) isEmpty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items) == 0
}

// Session is one endpoint's connection and the subscriptions configured
// under it.
type Session struct {
	EndpointURL string
	UseSecurity bool
	Auth        nodeconfig.Auth

	mu              sync.Mutex
	state           State
	failureCount    int
	missedKeepAlive int
	namespaces      []string
	subscriptions   map[time.Duration]*Subscription // keyed by requested publishing interval

	adapter       opcadapter.Adapter
	wakeup        chan struct{}
	cancel        chan struct{}
	liveCancel    context.CancelFunc // cancels the keep-alive context for the current connection
	notifyStarted bool               // the notification consumer is started once per session, not per reconnect
}

func newSession(endpointURL string, useSecurity bool, auth nodeconfig.Auth, adapter opcadapter.Adapter) *Session {
	return &Session{
		EndpointURL:   endpointURL,
		UseSecurity:   useSecurity,
		Auth:          auth,
		subscriptions: make(map[time.Duration]*Subscription),
		adapter:       adapter,
		wakeup:        make(chan struct{}, 1),
		cancel:        make(chan struct{}),
	}
}

// Wake schedules an immediate supervisor cycle for this session.
func (s *Session) Wake() {
	select {
	case s.wakeup <- struct{}{}:
	default:
	}
}

// State reports the session's current connection state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// FailureCount reports the consecutive connect-failure count, for
// diagnostics and backoff scaling.
func (s *Session) FailureCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failureCount
}

// SubscriptionCount reports how many subscriptions are currently held.
func (s *Session) SubscriptionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subscriptions)
}

// MonitoredItemCounts reports {configured, monitored, toRemove} across all
// subscriptions, for the diagnostics counters snapshot.
func (s *Session) MonitoredItemCounts() (configured, monitored, toRemove int) {
	s.mu.Lock()
	subs := make([]*Subscription, 0, len(s.subscriptions))
	for _, sub := range s.subscriptions {
		subs = append(subs, sub)
	}
	s.mu.Unlock()

	for _, sub := range subs {
		sub.mu.Lock()
		for _, it := range sub.items {
			configured++
			switch it.State {
			case Monitored:
				monitored++
			case RemovalRequested:
				toRemove++
			}
		}
		sub.mu.Unlock()
	}
	return
}
