// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package session

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nexus-edge/opcua-gateway/internal/clock"
	"github.com/nexus-edge/opcua-gateway/internal/nodeconfig"
	"github.com/nexus-edge/opcua-gateway/internal/opcadapter"
	"github.com/nexus-edge/opcua-gateway/internal/settings"
	"github.com/nexus-edge/opcua-gateway/internal/telemetry"
)

func newTestSupervisor(t *testing.T, fake *opcadapter.Fake) (*Supervisor, *nodeconfig.Store) {
	t.Helper()
	store := nodeconfig.New(filepath.Join(t.TempDir(), "nodes.json"), nodeconfig.NewSealer(nil))
	queue := telemetry.NewQueue(64)
	cfg := settings.Default()
	cfg.SessionConnectWaitSeconds = 10
	sv := NewSupervisor(store, nodeconfig.NewUnsealer(nil), func() opcadapter.Adapter { return fake }, queue, clock.Real, cfg, "urn:test:gateway")
	return sv, store
}

func awaitCondition(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.True(t, cond(), "condition not met within %s", timeout)
}

func TestSupervisor_ConnectsAndInstallsConfiguredNode(t *testing.T) {
	fake := opcadapter.NewFake()
	sv, store := newTestSupervisor(t, fake)

	_, err := store.AddNodes("opc.tcp://plant:4840", false, nodeconfig.Auth{}, []nodeconfig.NodeEntry{
		{Identifier: mustIdentifier(t, "ns=2;s=Temperature"), RawID: "ns=2;s=Temperature"},
	})
	require.NoError(t, err)

	sess := sv.EnsureSession("opc.tcp://plant:4840", false, nodeconfig.Auth{})
	sess.Wake()

	awaitCondition(t, time.Second, func() bool {
		configured, monitored, _ := sess.MonitoredItemCounts()
		return configured == 1 && monitored == 1
	})
	require.Equal(t, Connected, sess.State())
	require.GreaterOrEqual(t, fake.ConnectCount(), 1)
}

func TestSupervisor_NotificationReachesQueue(t *testing.T) {
	fake := opcadapter.NewFake()
	sv, store := newTestSupervisor(t, fake)

	id := mustIdentifier(t, "ns=2;s=Temperature")
	_, err := store.AddNodes("opc.tcp://plant:4840", false, nodeconfig.Auth{}, []nodeconfig.NodeEntry{
		{Identifier: id, RawID: "ns=2;s=Temperature"},
	})
	require.NoError(t, err)

	sess := sv.EnsureSession("opc.tcp://plant:4840", false, nodeconfig.Auth{})
	sess.Wake()

	awaitCondition(t, time.Second, func() bool {
		_, monitored, _ := sess.MonitoredItemCounts()
		return monitored == 1
	})

	fake.Emit(opcadapter.Notification{ClientHandle: 1, Value: 21.5, SourceTimestamp: time.Now(), StatusCode: 0})

	awaitCondition(t, time.Second, func() bool {
		return sv.queue.Len() == 1
	})
}

func TestSupervisor_UnpublishRemovesItem(t *testing.T) {
	fake := opcadapter.NewFake()
	sv, store := newTestSupervisor(t, fake)

	id := mustIdentifier(t, "ns=2;s=Temperature")
	_, err := store.AddNodes("opc.tcp://plant:4840", false, nodeconfig.Auth{}, []nodeconfig.NodeEntry{
		{Identifier: id, RawID: "ns=2;s=Temperature"},
	})
	require.NoError(t, err)

	sess := sv.EnsureSession("opc.tcp://plant:4840", false, nodeconfig.Auth{})
	sess.Wake()
	awaitCondition(t, time.Second, func() bool {
		_, monitored, _ := sess.MonitoredItemCounts()
		return monitored == 1
	})

	_, err = store.RemoveNodes("opc.tcp://plant:4840", []nodeconfig.Identifier{id})
	require.NoError(t, err)
	sess.Wake()

	awaitCondition(t, time.Second, func() bool {
		configured, _, _ := sess.MonitoredItemCounts()
		return configured == 0
	})
}

func TestSupervisor_KeepAliveThresholdTriggersInternalDisconnect(t *testing.T) {
	fake := opcadapter.NewFake()
	sv, store := newTestSupervisor(t, fake)

	id := mustIdentifier(t, "ns=2;s=Temperature")
	_, err := store.AddNodes("opc.tcp://plant:4840", false, nodeconfig.Auth{}, []nodeconfig.NodeEntry{
		{Identifier: id, RawID: "ns=2;s=Temperature"},
	})
	require.NoError(t, err)

	sess := sv.EnsureSession("opc.tcp://plant:4840", false, nodeconfig.Auth{})
	sess.Wake()
	awaitCondition(t, time.Second, func() bool { return sess.State() == Connected })

	connectsBefore := fake.ConnectCount()
	fake.EmitKeepAlive(false)
	fake.EmitKeepAlive(false)
	fake.EmitKeepAlive(false)

	awaitCondition(t, time.Second, func() bool { return sess.State() == Disconnected })

	sess.Wake()
	awaitCondition(t, time.Second, func() bool { return fake.ConnectCount() > connectsBefore })
}

func mustIdentifier(t *testing.T, raw string) nodeconfig.Identifier {
	t.Helper()
	id, err := nodeconfig.ParseIdentifier(raw)
	require.NoError(t, err)
	return id
}
