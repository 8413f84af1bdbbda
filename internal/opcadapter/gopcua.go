// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package opcadapter

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gopcua/opcua"
	"github.com/gopcua/opcua/ua"

	"github.com/nexus-edge/opcua-gateway/internal/errors"
	"github.com/nexus-edge/opcua-gateway/internal/logging"
)

var log = logging.Get("opcadapter")

// GopcuaAdapter is the production Adapter, wrapping a single
// github.com/gopcua/opcua client/session. One GopcuaAdapter backs exactly
// one Session Supervisor endpoint loop.
type GopcuaAdapter struct {
	mu            sync.RWMutex
	client        *opcua.Client
	connected     bool
	notifyCh      chan Notification
	rawCh         chan *opcua.PublishNotificationData
	subscriptions map[SubscriptionHandle]*opcua.Subscription
	cancel        context.CancelFunc
	wg            sync.WaitGroup
}

// NewGopcuaAdapter returns an unconnected adapter.
func NewGopcuaAdapter() *GopcuaAdapter {
	return &GopcuaAdapter{
		notifyCh:      make(chan Notification, 256),
		subscriptions: make(map[SubscriptionHandle]*opcua.Subscription),
	}
}

// Connect implements Adapter.
func (a *GopcuaAdapter) Connect(ctx context.Context, endpointURL string, opts ConnectOptions) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.client != nil {
		a.closeLocked(ctx)
	}

	clientOpts := []opcua.Option{opcua.DialTimeout(opts.DialTimeout)}
	if opts.UseSecurity {
		clientOpts = append(clientOpts, opcua.SecurityMode(ua.MessageSecurityModeSignAndEncrypt))
	} else {
		clientOpts = append(clientOpts, opcua.SecurityMode(ua.MessageSecurityModeNone))
	}
	if opts.Username != "" {
		clientOpts = append(clientOpts, opcua.AuthUsername(opts.Username, opts.Password))
	} else {
		clientOpts = append(clientOpts, opcua.AuthAnonymous())
	}

	client, err := opcua.NewClient(endpointURL, clientOpts...)
	if err != nil {
		return errors.Wrap(err, errors.KindUnavailable, "failed to build OPC UA client")
	}
	if err := client.Connect(ctx); err != nil {
		return errors.Wrap(err, errors.KindUnavailable, "failed to connect to OPC UA endpoint")
	}

	runCtx, cancel := context.WithCancel(context.Background())
	a.client = client
	a.connected = true
	a.cancel = cancel
	a.rawCh = make(chan *opcua.PublishNotificationData, 256)
	a.subscriptions = make(map[SubscriptionHandle]*opcua.Subscription)

	a.wg.Add(1)
	go a.pump(runCtx, a.rawCh)

	return nil
}

// pump drains the raw gopcua notification channel and translates
// ua.DataChangeNotification items into Notification, matching the
// dispatch shape of the retrieved subscription-manager reference.
func (a *GopcuaAdapter) pump(ctx context.Context, rawCh <-chan *opcua.PublishNotificationData) {
	defer a.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-rawCh:
			if !ok {
				return
			}
			if msg == nil || msg.Value == nil {
				continue
			}
			switch v := msg.Value.(type) {
			case *ua.DataChangeNotification:
				for _, item := range v.MonitoredItems {
					if item == nil || item.Value == nil {
						continue
					}
					n := Notification{
						ClientHandle: item.ClientHandle,
						StatusCode:   uint32(item.Value.Status),
					}
					if item.Value.Value != nil {
						n.Value = item.Value.Value.Value()
					}
					if item.Value.SourceTimestamp.IsZero() {
						n.SourceTimestamp = time.Now()
					} else {
						n.SourceTimestamp = item.Value.SourceTimestamp
					}
					select {
					case a.notifyCh <- n:
					case <-ctx.Done():
						return
					}
				}
			default:
				log.Debug("ignoring non-data-change notification")
			}
		}
	}
}

// Close implements Adapter.
func (a *GopcuaAdapter) Close(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closeLocked(ctx)
}

func (a *GopcuaAdapter) closeLocked(ctx context.Context) error {
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	a.wg.Wait()
	var err error
	if a.client != nil {
		err = a.client.Close(ctx)
	}
	a.client = nil
	a.connected = false
	a.subscriptions = make(map[SubscriptionHandle]*opcua.Subscription)
	if err != nil {
		return errors.Wrap(err, errors.KindInternal, "failed to close OPC UA session")
	}
	return nil
}

// IsConnected implements Adapter.
func (a *GopcuaAdapter) IsConnected() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.connected
}

// NamespaceArray implements Adapter.
func (a *GopcuaAdapter) NamespaceArray(ctx context.Context) ([]string, error) {
	a.mu.RLock()
	client := a.client
	a.mu.RUnlock()
	if client == nil {
		return nil, errors.New(errors.KindUnavailable, "not connected")
	}
	namespaces, err := client.NamespaceArray(ctx)
	if err != nil {
		return nil, wrapStackError(err, "failed to read namespace array")
	}
	return namespaces, nil
}

// CreateSubscription implements Adapter.
func (a *GopcuaAdapter) CreateSubscription(ctx context.Context, publishingInterval time.Duration) (SubscriptionHandle, time.Duration, error) {
	a.mu.RLock()
	client := a.client
	rawCh := a.rawCh
	a.mu.RUnlock()
	if client == nil {
		return 0, 0, errors.New(errors.KindUnavailable, "not connected")
	}

	params := &opcua.SubscriptionParameters{
		Interval:                   publishingInterval,
		LifetimeCount:              60,
		MaxKeepAliveCount:          20,
		MaxNotificationsPerPublish: 1000,
		Priority:                   0,
	}
	sub, err := client.Subscribe(ctx, params, rawCh)
	if err != nil {
		return 0, 0, wrapStackError(err, "failed to create subscription")
	}

	handle := SubscriptionHandle(sub.SubscriptionID)
	a.mu.Lock()
	a.subscriptions[handle] = sub
	a.mu.Unlock()
	return handle, sub.RevisedPublishingInterval, nil
}

func (a *GopcuaAdapter) subscription(handle SubscriptionHandle) (*opcua.Subscription, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.client == nil {
		return nil, errors.New(errors.KindUnavailable, "not connected")
	}
	sub, ok := a.subscriptions[handle]
	if !ok {
		return nil, errors.New(errors.KindInvalidated, "unknown subscription handle")
	}
	return sub, nil
}

// DeleteSubscription implements Adapter.
func (a *GopcuaAdapter) DeleteSubscription(ctx context.Context, handle SubscriptionHandle) error {
	sub, err := a.subscription(handle)
	if err != nil {
		return err
	}
	a.mu.Lock()
	delete(a.subscriptions, handle)
	a.mu.Unlock()
	if err := sub.Cancel(ctx); err != nil {
		return wrapStackError(err, "failed to delete subscription")
	}
	return nil
}

// CreateMonitoredItems implements Adapter.
func (a *GopcuaAdapter) CreateMonitoredItems(ctx context.Context, handle SubscriptionHandle, items []MonitoredItemRequest) ([]MonitoredItemResult, error) {
	sub, err := a.subscription(handle)
	if err != nil {
		return nil, err
	}

	toCreate := make([]*ua.MonitoredItemCreateRequest, 0, len(items))
	for _, it := range items {
		nodeID, err := ua.ParseNodeID(fmt.Sprintf("ns=%d;%s", it.NodeID.NamespaceIndex, it.NodeID.Identifier))
		if err != nil {
			return nil, errors.Wrap(err, errors.KindNodeUnresolvable, "failed to build node id")
		}
		toCreate = append(toCreate, &ua.MonitoredItemCreateRequest{
			ItemToMonitor: &ua.ReadValueID{
				NodeID:       nodeID,
				AttributeID:  ua.AttributeIDValue,
				DataEncoding: &ua.QualifiedName{},
			},
			MonitoringMode: ua.MonitoringModeReporting,
			RequestedParameters: &ua.MonitoringParameters{
				ClientHandle:     it.ClientHandle,
				SamplingInterval: float64(it.SamplingInterval.Milliseconds()),
				QueueSize:        it.QueueSize,
				DiscardOldest:    it.DiscardOldest,
			},
		})
	}

	resp, err := sub.Monitor(ctx, ua.TimestampsToReturnBoth, toCreate...)
	if err != nil {
		return nil, wrapStackError(err, "failed to create monitored items")
	}

	results := make([]MonitoredItemResult, 0, len(resp.Results))
	for i, r := range resp.Results {
		results = append(results, MonitoredItemResult{
			ClientHandle:            items[i].ClientHandle,
			MonitoredItemID:         r.MonitoredItemID,
			StatusCode:              uint32(r.StatusCode),
			RevisedSamplingInterval: time.Duration(r.RevisedSamplingInterval) * time.Millisecond,
		})
	}
	return results, nil
}

// DeleteMonitoredItems implements Adapter.
func (a *GopcuaAdapter) DeleteMonitoredItems(ctx context.Context, handle SubscriptionHandle, monitoredItemIDs []uint32) error {
	sub, err := a.subscription(handle)
	if err != nil {
		return err
	}
	if _, err := sub.Unmonitor(ctx, monitoredItemIDs...); err != nil {
		return wrapStackError(err, "failed to delete monitored items")
	}
	return nil
}

// ReadDisplayName implements Adapter.
func (a *GopcuaAdapter) ReadDisplayName(ctx context.Context, nodeID ResolvedNodeID) (string, error) {
	a.mu.RLock()
	client := a.client
	a.mu.RUnlock()
	if client == nil {
		return "", errors.New(errors.KindUnavailable, "not connected")
	}
	id, err := ua.ParseNodeID(fmt.Sprintf("ns=%d;%s", nodeID.NamespaceIndex, nodeID.Identifier))
	if err != nil {
		return "", errors.Wrap(err, errors.KindNodeUnresolvable, "failed to build node id")
	}
	resp, err := client.Read(ctx, &ua.ReadRequest{
		NodesToRead: []*ua.ReadValueID{{
			NodeID:      id,
			AttributeID: ua.AttributeIDDisplayName,
		}},
	})
	if err != nil {
		return "", wrapStackError(err, "failed to read display name")
	}
	if len(resp.Results) == 0 || resp.Results[0].Value == nil {
		return "", errors.New(errors.KindUnavailable, "empty display name read result")
	}
	if lt, ok := resp.Results[0].Value.Value().(*ua.LocalizedText); ok {
		return lt.Text, nil
	}
	return "", errors.New(errors.KindInternal, "unexpected display name value type")
}

// Notifications implements Adapter.
func (a *GopcuaAdapter) Notifications() <-chan Notification {
	return a.notifyCh
}

// StartKeepAlive implements Adapter by periodically reading the server's
// ServerStatus.CurrentTime node (ns=0;i=2258): a successful read stands in
// for a good keep-alive, a failed one for a missed keep-alive.
func (a *GopcuaAdapter) StartKeepAlive(ctx context.Context, interval time.Duration) <-chan bool {
	out := make(chan bool, 4)
	go func() {
		defer close(out)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				select {
				case out <- a.probe(ctx):
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

func (a *GopcuaAdapter) probe(ctx context.Context) bool {
	a.mu.RLock()
	client := a.client
	a.mu.RUnlock()
	if client == nil {
		return false
	}
	_, err := client.Read(ctx, &ua.ReadRequest{
		NodesToRead: []*ua.ReadValueID{{
			NodeID:      ua.NewNumericNodeID(0, 2258), // ServerStatus.CurrentTime
			AttributeID: ua.AttributeIDValue,
		}},
	})
	return err == nil
}

// wrapStackError tags a gopcua error with the Kind the supervisor keys its
// recovery on: session/subscription-id-invalid forces an internal
// disconnect, bad/unknown node id maps to KindNodeUnresolvable, and
// everything else is KindUnavailable, retried on a later cycle.
func wrapStackError(err error, msg string) error {
	var code ua.StatusCode
	if errors.As(err, &code) {
		switch code {
		case ua.StatusBadSessionIDInvalid, ua.StatusBadSubscriptionIDInvalid:
			return errors.Wrap(err, errors.KindInvalidated, msg)
		case ua.StatusBadNodeIDInvalid, ua.StatusBadNodeIDUnknown:
			return errors.Wrap(err, errors.KindNodeUnresolvable, msg)
		}
	}
	return errors.Wrap(err, errors.KindUnavailable, msg)
}
