// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package opcadapter narrows the gopcua/opcua client surface down to the
// handful of operations the Session Supervisor needs, so the supervisor's
// connect/reconnect/backoff and subscription bookkeeping can be exercised
// against a Fake in tests instead of a live OPC UA server. The concrete
// Adapter wraps github.com/gopcua/opcua.
package opcadapter

import (
	"context"
	"time"
)

// ConnectOptions carries the per-endpoint connection parameters the
// Session Supervisor assembles from nodeconfig.EndpointEntry.
type ConnectOptions struct {
	UseSecurity bool
	Username    string
	Password    string // plaintext, unsealed by the caller just before Connect
	DialTimeout time.Duration
}

// ResolvedNodeID is a node identifier with its namespace already resolved
// to a namespace index against the live server's namespace array.
type ResolvedNodeID struct {
	NamespaceIndex uint16
	Identifier     string // the identifier part only, e.g. "s=Temperature" payload after ns=i;
}

// MonitoredItemRequest is one node to subscribe to.
type MonitoredItemRequest struct {
	ClientHandle     uint32
	NodeID           ResolvedNodeID
	SamplingInterval time.Duration
	QueueSize        uint32
	DiscardOldest    bool
}

// MonitoredItemResult is the server's per-item response to a create
// request.
type MonitoredItemResult struct {
	ClientHandle            uint32
	MonitoredItemID         uint32
	StatusCode              uint32
	RevisedSamplingInterval time.Duration
}

// SubscriptionHandle identifies a live subscription on the server.
type SubscriptionHandle uint32

// Notification is one data-change notification from a monitored item.
type Notification struct {
	ClientHandle    uint32
	Value           any
	SourceTimestamp time.Time
	StatusCode      uint32
}

// Adapter is the narrow surface the Session Supervisor drives. All methods
// that touch the network take a context and may block. The supervisor
// calls Connect, CreateSubscription, CreateMonitoredItems,
// DeleteMonitoredItems and ReadDisplayName with its per-session mutex
// released; NamespaceArray, and on some paths Close and
// DeleteSubscription, are called with that mutex held.
type Adapter interface {
	// Connect establishes a session against endpointURL. Calling Connect
	// on an already-connected Adapter first closes the existing session.
	Connect(ctx context.Context, endpointURL string, opts ConnectOptions) error

	// Close tears down the session. Safe to call when not connected.
	Close(ctx context.Context) error

	// IsConnected reports whether the last Connect succeeded and Close
	// has not since been called.
	IsConnected() bool

	// NamespaceArray returns the live server's namespace table, used to
	// resolve nsu= expanded node ids to a namespace index.
	NamespaceArray(ctx context.Context) ([]string, error)

	// CreateSubscription creates a server-side subscription at the given
	// publishing interval and returns its handle plus the server-revised
	// interval.
	CreateSubscription(ctx context.Context, publishingInterval time.Duration) (SubscriptionHandle, time.Duration, error)

	// DeleteSubscription removes a previously created subscription.
	DeleteSubscription(ctx context.Context, sub SubscriptionHandle) error

	// CreateMonitoredItems adds items to an existing subscription.
	CreateMonitoredItems(ctx context.Context, sub SubscriptionHandle, items []MonitoredItemRequest) ([]MonitoredItemResult, error)

	// DeleteMonitoredItems removes items, identified by their server
	// MonitoredItemID, from a subscription.
	DeleteMonitoredItems(ctx context.Context, sub SubscriptionHandle, monitoredItemIDs []uint32) error

	// ReadDisplayName reads the DisplayName attribute of a node, used when
	// the gateway is configured to enrich telemetry with human-readable
	// names.
	ReadDisplayName(ctx context.Context, nodeID ResolvedNodeID) (string, error)

	// Notifications returns the channel data-change notifications arrive
	// on. The same channel serves every connection of the Adapter and is
	// not closed when a session drops; keep-alive results arrive on the
	// channel StartKeepAlive returns.
	Notifications() <-chan Notification

	// StartKeepAlive begins probing the session at interval, emitting true
	// on a successful probe and false on failure, until ctx is done.
	StartKeepAlive(ctx context.Context, interval time.Duration) <-chan bool
}
