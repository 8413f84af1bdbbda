// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package opcadapter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFake_ConnectSubscribeMonitor(t *testing.T) {
	f := NewFake()
	ctx := context.Background()

	require.NoError(t, f.Connect(ctx, "opc.tcp://plant:4840", ConnectOptions{}))
	assert.True(t, f.IsConnected())
	assert.Equal(t, 1, f.ConnectCount())

	sub, revised, err := f.CreateSubscription(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, time.Second, revised)

	results, err := f.CreateMonitoredItems(ctx, sub, []MonitoredItemRequest{
		{ClientHandle: 1, NodeID: ResolvedNodeID{NamespaceIndex: 2, Identifier: "s=Temperature"}},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, uint32(1), results[0].ClientHandle)

	f.Emit(Notification{ClientHandle: 1, Value: 42.0})
	select {
	case n := <-f.Notifications():
		assert.Equal(t, uint32(1), n.ClientHandle)
	case <-time.After(time.Second):
		t.Fatal("expected notification")
	}
}

func TestFake_ConnectErr(t *testing.T) {
	f := NewFake()
	f.ConnectErr = assert.AnError
	err := f.Connect(context.Background(), "opc.tcp://plant:4840", ConnectOptions{})
	assert.Error(t, err)
	assert.False(t, f.IsConnected())
}

func TestFake_DeleteMonitoredItems(t *testing.T) {
	f := NewFake()
	ctx := context.Background()
	require.NoError(t, f.Connect(ctx, "opc.tcp://plant:4840", ConnectOptions{}))
	sub, _, _ := f.CreateSubscription(ctx, time.Second)
	results, _ := f.CreateMonitoredItems(ctx, sub, []MonitoredItemRequest{{ClientHandle: 1}})

	require.NoError(t, f.DeleteMonitoredItems(ctx, sub, []uint32{results[0].MonitoredItemID}))
}
