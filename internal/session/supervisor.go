// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package session

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nexus-edge/opcua-gateway/internal/clock"
	"github.com/nexus-edge/opcua-gateway/internal/errors"
	"github.com/nexus-edge/opcua-gateway/internal/logging"
	"github.com/nexus-edge/opcua-gateway/internal/nodeconfig"
	"github.com/nexus-edge/opcua-gateway/internal/opcadapter"
	"github.com/nexus-edge/opcua-gateway/internal/settings"
	"github.com/nexus-edge/opcua-gateway/internal/telemetry"
)

var log = logging.Get("session")

// maxBatchedItemAdds is the batch size at which the supervisor commits
// pending monitored-item additions to the stack subscription before
// continuing, bounding how many items stay uncommitted in one pass.
const maxBatchedItemAdds = 10000

// AdapterFactory builds a fresh, unconnected Adapter for one session.
type AdapterFactory func() opcadapter.Adapter

// Supervisor is the sessions-list registry plus the per-endpoint
// cooperative loops it owns.
type Supervisor struct {
	mu       sync.Mutex // sessions-list mutex
	sessions map[string]*Session

	store          *nodeconfig.Store
	unsealer       *nodeconfig.Unsealer
	adapterFactory AdapterFactory
	queue          *telemetry.Queue
	clock          clock.Clock
	settings       settings.Settings
	applicationURI string

	wg sync.WaitGroup
}

// NewSupervisor builds a Supervisor. No sessions exist until
// EnsureSession is called, typically once per endpoint found in store at
// startup and once per PublishNodes call thereafter.
func NewSupervisor(store *nodeconfig.Store, unsealer *nodeconfig.Unsealer, factory AdapterFactory, queue *telemetry.Queue, clk clock.Clock, cfg settings.Settings, applicationURI string) *Supervisor {
	return &Supervisor{
		sessions:       make(map[string]*Session),
		store:          store,
		unsealer:       unsealer,
		adapterFactory: factory,
		queue:          queue,
		clock:          clk,
		settings:       cfg,
		applicationURI: applicationURI,
	}
}

// EnsureSession finds or creates the Session for endpointURL and starts
// its cooperative loop if it is new.
func (sv *Supervisor) EnsureSession(endpointURL string, useSecurity bool, auth nodeconfig.Auth) *Session {
	sv.mu.Lock()
	defer sv.mu.Unlock()

	if sess, ok := sv.sessions[endpointURL]; ok {
		return sess
	}

	sess := newSession(endpointURL, useSecurity, auth, sv.adapterFactory())
	sv.sessions[endpointURL] = sess
	sv.wg.Add(1)
	go sv.runSession(sess)
	return sess
}

// Session returns the session for endpointURL, if one exists.
func (sv *Supervisor) Session(endpointURL string) (*Session, bool) {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	sess, ok := sv.sessions[endpointURL]
	return sess, ok
}

// WakeAll schedules an immediate cycle on every session, used after a
// configuration mutation affecting any endpoint.
func (sv *Supervisor) WakeAll() {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	for _, sess := range sv.sessions {
		sess.Wake()
	}
}

// Wake schedules an immediate cycle on one endpoint's session, if it
// exists.
func (sv *Supervisor) Wake(endpointURL string) {
	sv.mu.Lock()
	sess, ok := sv.sessions[endpointURL]
	sv.mu.Unlock()
	if ok {
		sess.Wake()
	}
}

// SessionCount reports the number of live sessions, for diagnostics.
func (sv *Supervisor) SessionCount() (configured, connected int) {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	for _, sess := range sv.sessions {
		configured++
		if sess.State() == Connected {
			connected++
		}
	}
	return
}

// ItemCounts aggregates subscription and monitored-item counts across
// every live session, for the diagnostics counters snapshot.
func (sv *Supervisor) ItemCounts() (subscriptionsConfigured, itemsConfigured, itemsMonitored, itemsToRemove int) {
	sv.mu.Lock()
	sessions := make([]*Session, 0, len(sv.sessions))
	for _, sess := range sv.sessions {
		sessions = append(sessions, sess)
	}
	sv.mu.Unlock()

	for _, sess := range sessions {
		subscriptionsConfigured += sess.SubscriptionCount()
		configured, monitored, toRemove := sess.MonitoredItemCounts()
		itemsConfigured += configured
		itemsMonitored += monitored
		itemsToRemove += toRemove
	}
	return
}

// ReconnectOnAuthChange triggers an internal disconnect for endpointURL's
// session: the next cycle reconnects with the (now updated) credentials.
func (sv *Supervisor) ReconnectOnAuthChange(endpointURL string, auth nodeconfig.Auth) {
	sv.mu.Lock()
	sess, ok := sv.sessions[endpointURL]
	sv.mu.Unlock()
	if !ok {
		return
	}
	sess.mu.Lock()
	sess.Auth = auth
	sv.internalDisconnectLocked(sess)
	sess.mu.Unlock()
	sess.Wake()
}

// Shutdown tears down every live session concurrently, one goroutine per
// endpoint under a shared cancellation scope, then waits for each
// session's own run loop to exit.
func (sv *Supervisor) Shutdown(ctx context.Context) {
	sv.mu.Lock()
	sessions := make([]*Session, 0, len(sv.sessions))
	for _, sess := range sv.sessions {
		sessions = append(sessions, sess)
	}
	sv.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, sess := range sessions {
		sess := sess
		g.Go(func() error {
			sv.shutdownSession(gctx, sess)
			return nil
		})
	}
	_ = g.Wait()
	sv.wg.Wait()
}

func (sv *Supervisor) runSession(sess *Session) {
	defer sv.wg.Done()

	wait := sv.settings.SessionConnectWaitSeconds
	if wait < 1 {
		wait = 10
	}
	timer := sv.clock.NewTimer(time.Duration(wait) * time.Second)
	defer timer.Stop()

	for {
		select {
		case <-sess.cancel:
			return
		case <-sess.wakeup:
		case <-timer.C():
		}
		timer.Reset(time.Duration(wait) * time.Second)

		if sv.runCycle(sess) {
			sv.removeSession(sess.EndpointURL)
			return
		}
	}
}

// runCycle performs one supervisor cycle: connect if needed, reconcile
// configuration against live state, install/remove monitored items, prune
// empty subscriptions, and persist if anything structural changed. It
// reports whether the session is now empty and should be torn down.
func (sv *Supervisor) runCycle(sess *Session) bool {
	ctx := context.Background()

	sv.connectIfNeeded(ctx, sess)
	sv.reconcile(sess)

	if sess.State() == Connected {
		sv.installUnmonitoredItems(ctx, sess)
	}
	sv.removeRequestedItems(ctx, sess)
	sv.pruneEmptySubscriptions(ctx, sess)

	// Persist whenever the version moved past what is on disk, whether the
	// mutation happened in this cycle or arrived from a method call while
	// the endpoint was unreachable.
	if sv.store.Dirty() {
		if err := sv.store.Persist(); err != nil {
			log.WithError(err).Error("failed to persist node configuration")
		}
	}

	return sv.isEmpty(sess)
}

func (sv *Supervisor) isEmpty(sess *Session) bool {
	return sess.SubscriptionCount() == 0
}

// connectIfNeeded connects the session if it is currently disconnected,
// applying the connect-failure backoff before retrying.
func (sv *Supervisor) connectIfNeeded(ctx context.Context, sess *Session) {
	sess.mu.Lock()
	if sess.state == Connected || sess.state == Connecting {
		sess.mu.Unlock()
		return
	}
	sess.state = Connecting
	failureCount := sess.failureCount
	useSecurity := sess.UseSecurity
	auth := sess.Auth
	adapter := sess.adapter
	endpointURL := sess.EndpointURL
	sess.mu.Unlock()

	backoffMax := sv.settings.SessionCreationBackoffMax
	if backoffMax < 1 {
		backoffMax = 1
	}
	multiplier := failureCount + 1
	if multiplier > backoffMax {
		multiplier = backoffMax
	}
	timeout := sv.settings.SessionCreationTimeout * time.Duration(multiplier)

	connectOpts := opcadapter.ConnectOptions{UseSecurity: useSecurity, DialTimeout: timeout}
	if auth.Mode == nodeconfig.AuthUsernamePassword {
		plain, err := sv.unsealer.Unseal(auth.PasswordCipher)
		if err != nil {
			log.WithError(err).Error("failed to unseal credential", "endpoint", endpointURL)
		} else {
			connectOpts.Username = auth.Username
			connectOpts.Password = plain
		}
	}

	connectCtx, cancel := context.WithTimeout(ctx, timeout)
	err := adapter.Connect(connectCtx, endpointURL, connectOpts)
	cancel()

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if err != nil {
		sess.failureCount++
		sess.state = Disconnected
		sv.store.SetLastConnectError(endpointURL, err.Error())
		log.WithError(err).Warn("failed to connect", "endpoint", endpointURL)
		return
	}

	namespaces, nsErr := adapter.NamespaceArray(ctx)
	if nsErr != nil {
		sess.failureCount++
		sess.state = Disconnected
		adapter.Close(ctx)
		sv.store.SetLastConnectError(endpointURL, nsErr.Error())
		log.WithError(nsErr).Warn("failed to read namespace array", "endpoint", endpointURL)
		return
	}

	sess.failureCount = 0
	sess.namespaces = namespaces
	sess.state = Connected
	sv.store.SetLastConnectError(endpointURL, "")

	keepAliveInterval := sv.settings.KeepAliveInterval
	if keepAliveInterval <= 0 {
		keepAliveInterval = 2 * time.Second
	}
	liveCtx, cancel := context.WithCancel(context.Background())
	sess.liveCancel = cancel
	go sv.watchKeepAlive(sess, adapter.StartKeepAlive(liveCtx, keepAliveInterval))

	if !sess.notifyStarted {
		sess.notifyStarted = true
		go sv.consumeNotifications(sess, adapter.Notifications())
	}
}

func (sv *Supervisor) watchKeepAlive(sess *Session, events <-chan bool) {
	threshold := sv.settings.KeepAliveDisconnectAfter
	if threshold < 2 {
		threshold = 3
	}
	for good := range events {
		sess.mu.Lock()
		if good {
			sess.missedKeepAlive = 0
		} else {
			sess.missedKeepAlive++
			if sess.missedKeepAlive >= threshold {
				// The next periodic cycle reconnects.
				sv.internalDisconnectLocked(sess)
				sess.mu.Unlock()
				continue
			}
		}
		sess.mu.Unlock()
	}
}

// internalDisconnectLocked tears down the stack session and resets every
// item to await re-resolution, without touching configuration. Used when
// the stack reports the session or subscription id invalid. Caller must
// hold sess.mu.
func (sv *Supervisor) internalDisconnectLocked(sess *Session) {
	if sess.state == Disconnected {
		return
	}
	sess.adapter.Close(context.Background())
	if sess.liveCancel != nil {
		sess.liveCancel()
		sess.liveCancel = nil
	}
	sess.state = Disconnected
	sess.namespaces = nil
	sess.missedKeepAlive = 0
	for _, sub := range sess.subscriptions {
		sub.mu.Lock()
		sub.Handle = 0
		for _, it := range sub.items {
			if it.State == Monitored {
				it.State = UnmonitoredAwaitingNamespaceResolution
				it.MonitoredItemID = 0
			}
		}
		sub.mu.Unlock()
	}
}

func (sv *Supervisor) consumeNotifications(sess *Session, notifications <-chan opcadapter.Notification) {
	for n := range notifications {
		item, subEndpointURL := sv.findItemByClientHandle(sess, n.ClientHandle)
		if item == nil {
			continue
		}
		suppressed := make(map[uint32]bool, len(sv.settings.SuppressedStatusCodes))
		for _, c := range sv.settings.SuppressedStatusCodes {
			suppressed[c] = true
		}
		record, ok, err := HandleNotification(item, n, NotificationContext{
			EndpointURL:    subEndpointURL,
			ApplicationURI: sv.applicationURI,
			Suppressed:     suppressed,
			Clock:          sv.clock,
			OnHeartbeat: func(r telemetry.Record) {
				sv.queue.Enqueue(r)
			},
		})
		if err != nil {
			log.WithError(err).Error("failed to handle notification")
			continue
		}
		if ok {
			sv.queue.Enqueue(record)
		}
	}
}

func (sv *Supervisor) findItemByClientHandle(sess *Session, handle uint32) (*MonitoredItem, string) {
	sess.mu.Lock()
	subs := make([]*Subscription, 0, len(sess.subscriptions))
	for _, sub := range sess.subscriptions {
		subs = append(subs, sub)
	}
	endpointURL := sess.EndpointURL
	sess.mu.Unlock()

	for _, sub := range subs {
		sub.mu.Lock()
		for _, it := range sub.items {
			if it.ClientHandle == handle {
				sub.mu.Unlock()
				return it, endpointURL
			}
		}
		sub.mu.Unlock()
	}
	return nil, endpointURL
}

// reconcile compares the store's configured nodes for this endpoint
// against the session's in-memory items, creating new Unmonitored items
// and marking vanished ones RemovalRequested.
func (sv *Supervisor) reconcile(sess *Session) {
	entries, _ := sv.store.Enumerate(&sess.EndpointURL)
	configured := make(map[string]nodeconfig.NodeEntry)
	if len(entries) > 0 {
		for _, n := range entries[0].Nodes {
			configured[n.Identifier.Canonical()] = n
		}
	}

	sess.mu.Lock()
	existing := make(map[string]*MonitoredItem)
	for _, sub := range sess.subscriptions {
		sub.mu.Lock()
		for key, it := range sub.items {
			existing[key] = it
		}
		sub.mu.Unlock()
	}
	sess.mu.Unlock()

	for key, n := range configured {
		if _, ok := existing[key]; ok {
			continue
		}
		interval := intOverrideOrDefault(n.PublishingIntervalMS, sv.settings.PublishingIntervalMS)
		sub := sv.getOrCreateSubscription(sess, time.Duration(interval)*time.Millisecond)

		// A negative sampling interval means "follow the publishing
		// interval".
		sampling := intOverrideOrDefault(n.SamplingIntervalMS, sv.settings.SamplingIntervalMS)
		if sampling < 0 {
			sampling = interval
		}

		item := &MonitoredItem{
			RawID:                    n.RawID,
			Identifier:               n.Identifier,
			DisplayName:              n.DisplayName,
			State:                    Unmonitored,
			SamplingRequested:        time.Duration(sampling) * time.Millisecond,
			QueueSize:                10,
			DiscardOldest:            true,
			HeartbeatIntervalSeconds: intOverrideOrDefault(n.HeartbeatIntervalSeconds, sv.settings.HeartbeatIntervalDefault),
			SkipFirst:                boolOverrideOrDefault(n.SkipFirst, sv.settings.SkipFirstDefault),
		}
		if item.SkipFirst {
			item.skipNext = true
		}

		sub.mu.Lock()
		sub.items[key] = item
		sub.mu.Unlock()
	}

	for key, it := range existing {
		if _, ok := configured[key]; ok {
			continue
		}
		sess.mu.Lock()
		for _, sub := range sess.subscriptions {
			sub.mu.Lock()
			if cur, ok := sub.items[key]; ok && cur == it {
				it.State = RemovalRequested
			}
			sub.mu.Unlock()
		}
		sess.mu.Unlock()
	}
}

func (sv *Supervisor) getOrCreateSubscription(sess *Session, interval time.Duration) *Subscription {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sub, ok := sess.subscriptions[interval]; ok {
		return sub
	}
	sub := newSubscription(interval)
	sess.subscriptions[interval] = sub
	return sub
}

// installUnmonitoredItems resolves and installs every item still waiting
// to be monitored, in batches of maxBatchedItemAdds. Each item that
// reaches Monitored advances NodeConfigVersion by one.
func (sv *Supervisor) installUnmonitoredItems(ctx context.Context, sess *Session) {
	sess.mu.Lock()
	namespaces := sess.namespaces
	subs := make([]*Subscription, 0, len(sess.subscriptions))
	for _, sub := range sess.subscriptions {
		subs = append(subs, sub)
	}
	adapter := sess.adapter
	sess.mu.Unlock()

	for _, sub := range subs {
		if sub.Handle == 0 {
			handle, revised, err := adapter.CreateSubscription(ctx, sub.RequestedInterval)
			if err != nil {
				if errors.GetKind(err) == errors.KindInvalidated {
					sess.mu.Lock()
					sv.internalDisconnectLocked(sess)
					sess.mu.Unlock()
					return
				}
				log.WithError(err).Error("failed to create subscription")
				continue
			}
			sub.Handle = handle
			sub.RevisedInterval = revised
		}

		var pending []*MonitoredItem
		sub.mu.Lock()
		for _, it := range sub.items {
			if (it.State == Unmonitored && !it.installFailed) || it.State == UnmonitoredAwaitingNamespaceResolution {
				resolved, expanded, err := resolveIdentifier(it.Identifier, namespaces)
				if err != nil {
					if it.State != UnmonitoredAwaitingNamespaceResolution {
						log.WithError(err).Debug("node not yet resolvable", "node", it.RawID)
					}
					it.State = UnmonitoredAwaitingNamespaceResolution
					continue
				}
				it.ResolvedNode = resolved
				it.ExpandedNodeID = expanded
				if it.ClientHandle == 0 {
					it.ClientHandle = sub.allocateClientHandle()
				}
				pending = append(pending, it)
			}
		}
		sub.mu.Unlock()

		for start := 0; start < len(pending); start += maxBatchedItemAdds {
			end := start + maxBatchedItemAdds
			if end > len(pending) {
				end = len(pending)
			}
			batch := pending[start:end]

			requests := make([]opcadapter.MonitoredItemRequest, 0, len(batch))
			for _, it := range batch {
				requests = append(requests, opcadapter.MonitoredItemRequest{
					ClientHandle:     it.ClientHandle,
					NodeID:           it.ResolvedNode,
					SamplingInterval: it.SamplingRequested,
					QueueSize:        it.QueueSize,
					DiscardOldest:    it.DiscardOldest,
				})
			}

			results, err := adapter.CreateMonitoredItems(ctx, sub.Handle, requests)
			if err != nil {
				if errors.GetKind(err) == errors.KindInvalidated {
					sess.mu.Lock()
					sv.internalDisconnectLocked(sess)
					sess.mu.Unlock()
					return
				}
				log.WithError(err).Error("failed to create monitored items")
				continue
			}

			for i, res := range results {
				it := batch[i]
				if res.StatusCode != 0 {
					log.Warn("failed to create monitored item", "node", it.RawID, "status", res.StatusCode)
					it.State = Unmonitored
					it.installFailed = true
					continue
				}
				it.MonitoredItemID = res.MonitoredItemID
				if res.RevisedSamplingInterval != it.SamplingRequested {
					it.SamplingRevised = res.RevisedSamplingInterval
				}
				it.State = Monitored
				sv.store.Bump()
			}
		}

		if sv.settings.FetchDisplayName {
			for _, it := range pending {
				if it.State != Monitored || it.DisplayName != "" {
					continue
				}
				if name, err := adapter.ReadDisplayName(ctx, it.ResolvedNode); err == nil {
					it.DisplayName = name
				}
			}
		}
	}
}

// removeRequestedItems tears down every item marked RemovalRequested,
// advancing NodeConfigVersion once per removed item.
func (sv *Supervisor) removeRequestedItems(ctx context.Context, sess *Session) {
	sess.mu.Lock()
	subs := make([]*Subscription, 0, len(sess.subscriptions))
	for _, sub := range sess.subscriptions {
		subs = append(subs, sub)
	}
	adapter := sess.adapter
	sess.mu.Unlock()

	for _, sub := range subs {
		var toRemove []uint32
		var keys []string
		sub.mu.Lock()
		for key, it := range sub.items {
			if it.State == RemovalRequested {
				if it.MonitoredItemID != 0 {
					toRemove = append(toRemove, it.MonitoredItemID)
				}
				keys = append(keys, key)
			}
		}
		sub.mu.Unlock()

		if len(keys) == 0 {
			continue
		}
		if len(toRemove) > 0 && sub.Handle != 0 {
			if err := adapter.DeleteMonitoredItems(ctx, sub.Handle, toRemove); err != nil {
				log.WithError(err).Error("failed to delete monitored items")
			}
		}

		sub.mu.Lock()
		for _, key := range keys {
			if it, ok := sub.items[key]; ok {
				it.disarmHeartbeat()
				delete(sub.items, key)
				sv.store.Bump()
			}
		}
		sub.mu.Unlock()
	}
}

// pruneEmptySubscriptions removes every subscription left with zero
// monitored items, advancing NodeConfigVersion once per removal.
func (sv *Supervisor) pruneEmptySubscriptions(ctx context.Context, sess *Session) {
	sess.mu.Lock()
	var empty []time.Duration
	for key, sub := range sess.subscriptions {
		if sub.isEmpty() {
			empty = append(empty, key)
		}
	}
	adapter := sess.adapter
	sess.mu.Unlock()

	if len(empty) == 0 {
		return
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	for _, key := range empty {
		sub, ok := sess.subscriptions[key]
		if !ok {
			continue
		}
		if sub.Handle != 0 {
			if err := adapter.DeleteSubscription(ctx, sub.Handle); err != nil {
				log.WithError(err).Error("failed to delete subscription")
			}
		}
		delete(sess.subscriptions, key)
		sv.store.Bump()
	}
}

func (sv *Supervisor) removeSession(endpointURL string) {
	sv.mu.Lock()
	sess, ok := sv.sessions[endpointURL]
	if ok {
		delete(sv.sessions, endpointURL)
	}
	sv.mu.Unlock()
	if !ok {
		return
	}
	sv.shutdownSession(context.Background(), sess)
	sv.store.Bump()
}

// shutdownSession disarms every monitored item's heartbeat, deletes every
// subscription, and closes the underlying adapter connection.
func (sv *Supervisor) shutdownSession(ctx context.Context, sess *Session) {
	sess.mu.Lock()
	subs := make([]*Subscription, 0, len(sess.subscriptions))
	for _, sub := range sess.subscriptions {
		subs = append(subs, sub)
	}
	adapter := sess.adapter
	sess.mu.Unlock()

	for _, sub := range subs {
		sub.mu.Lock()
		for _, it := range sub.items {
			it.disarmHeartbeat()
		}
		sub.mu.Unlock()
		if sub.Handle != 0 {
			adapter.DeleteSubscription(ctx, sub.Handle)
		}
	}

	adapter.Close(ctx)

	sess.mu.Lock()
	if sess.liveCancel != nil {
		sess.liveCancel()
		sess.liveCancel = nil
	}
	sess.state = Disconnected
	sess.subscriptions = make(map[time.Duration]*Subscription)
	sess.mu.Unlock()

	select {
	case <-sess.cancel:
	default:
		close(sess.cancel)
	}
}

func intOverrideOrDefault(override *int, fallback int) int {
	if override != nil {
		return *override
	}
	return fallback
}

func boolOverrideOrDefault(override *bool, fallback bool) bool {
	if override != nil {
		return *override
	}
	return fallback
}
