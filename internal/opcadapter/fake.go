// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package opcadapter

import (
	"context"
	"sync"
	"time"

	"github.com/nexus-edge/opcua-gateway/internal/errors"
)

// Fake is an in-memory Adapter for Session Supervisor tests. It never
// touches the network; ConnectErr/CreateSubErr/CreateItemsErr let a test
// script failures at each step to exercise reconnect/backoff behavior.
type Fake struct {
	mu sync.Mutex

	ConnectErr     error
	CreateSubErr   error
	CreateItemsErr error
	Namespaces     []string

	connected      bool
	nextSub        uint32
	nextItem       uint32
	subscriptions  map[SubscriptionHandle]bool
	monitoredItems map[SubscriptionHandle]map[uint32]uint32 // clientHandle -> monitoredItemID
	notifyCh       chan Notification
	connectCount   int
	closeCount     int

	keepAliveCh chan bool
}

// NewFake returns a ready-to-use Fake.
func NewFake() *Fake {
	return &Fake{
		subscriptions:  make(map[SubscriptionHandle]bool),
		monitoredItems: make(map[SubscriptionHandle]map[uint32]uint32),
		notifyCh:       make(chan Notification, 256),
		keepAliveCh:    make(chan bool, 16),
		Namespaces:     []string{"http://opcfoundation.org/UA/"},
	}
}

// StartKeepAlive implements Adapter. Tests drive keep-alive behavior
// directly by calling EmitKeepAlive; interval and ctx are ignored.
func (f *Fake) StartKeepAlive(ctx context.Context, interval time.Duration) <-chan bool {
	return f.keepAliveCh
}

// EmitKeepAlive pushes a synthetic keep-alive result for tests.
func (f *Fake) EmitKeepAlive(good bool) {
	f.keepAliveCh <- good
}

func (f *Fake) Connect(ctx context.Context, endpointURL string, opts ConnectOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connectCount++
	if f.ConnectErr != nil {
		return f.ConnectErr
	}
	f.connected = true
	return nil
}

func (f *Fake) Close(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeCount++
	f.connected = false
	return nil
}

func (f *Fake) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *Fake) NamespaceArray(ctx context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return nil, errors.New(errors.KindUnavailable, "not connected")
	}
	return f.Namespaces, nil
}

func (f *Fake) CreateSubscription(ctx context.Context, publishingInterval time.Duration) (SubscriptionHandle, time.Duration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CreateSubErr != nil {
		return 0, 0, f.CreateSubErr
	}
	f.nextSub++
	h := SubscriptionHandle(f.nextSub)
	f.subscriptions[h] = true
	f.monitoredItems[h] = make(map[uint32]uint32)
	return h, publishingInterval, nil
}

func (f *Fake) DeleteSubscription(ctx context.Context, sub SubscriptionHandle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.subscriptions, sub)
	delete(f.monitoredItems, sub)
	return nil
}

func (f *Fake) CreateMonitoredItems(ctx context.Context, sub SubscriptionHandle, items []MonitoredItemRequest) ([]MonitoredItemResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CreateItemsErr != nil {
		return nil, f.CreateItemsErr
	}
	if !f.subscriptions[sub] {
		return nil, errors.New(errors.KindNotFound, "unknown subscription")
	}
	results := make([]MonitoredItemResult, 0, len(items))
	for _, it := range items {
		f.nextItem++
		f.monitoredItems[sub][it.ClientHandle] = f.nextItem
		results = append(results, MonitoredItemResult{
			ClientHandle:            it.ClientHandle,
			MonitoredItemID:         f.nextItem,
			StatusCode:              0,
			RevisedSamplingInterval: it.SamplingInterval,
		})
	}
	return results, nil
}

func (f *Fake) DeleteMonitoredItems(ctx context.Context, sub SubscriptionHandle, monitoredItemIDs []uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	items, ok := f.monitoredItems[sub]
	if !ok {
		return errors.New(errors.KindNotFound, "unknown subscription")
	}
	want := make(map[uint32]bool, len(monitoredItemIDs))
	for _, id := range monitoredItemIDs {
		want[id] = true
	}
	for ch, id := range items {
		if want[id] {
			delete(items, ch)
		}
	}
	return nil
}

func (f *Fake) ReadDisplayName(ctx context.Context, nodeID ResolvedNodeID) (string, error) {
	return nodeID.Identifier, nil
}

func (f *Fake) Notifications() <-chan Notification {
	return f.notifyCh
}

// Emit pushes a notification into the adapter's channel, as if the server
// had sent a data-change notification, for supervisor tests.
func (f *Fake) Emit(n Notification) {
	f.notifyCh <- n
}

// ConnectCount reports how many times Connect has been called.
func (f *Fake) ConnectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connectCount
}
