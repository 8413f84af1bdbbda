// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package methods

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nexus-edge/opcua-gateway/internal/clock"
	"github.com/nexus-edge/opcua-gateway/internal/diagnostics"
	"github.com/nexus-edge/opcua-gateway/internal/nodeconfig"
	"github.com/nexus-edge/opcua-gateway/internal/opcadapter"
	"github.com/nexus-edge/opcua-gateway/internal/session"
	"github.com/nexus-edge/opcua-gateway/internal/settings"
	"github.com/nexus-edge/opcua-gateway/internal/telemetry"
)

type fakeStatsSource struct{}

func (fakeStatsSource) Stats() diagnostics.Snapshot {
	return diagnostics.Snapshot{QueueDepth: 3, QueueCapacity: 1024, SessionsConnected: 1}
}

func newTestDispatcher(t *testing.T) (*Dispatcher, *nodeconfig.Store, *session.Supervisor, *opcadapter.Fake) {
	t.Helper()
	store := nodeconfig.New(filepath.Join(t.TempDir(), "nodes.json"), nodeconfig.NewSealer(nil))
	fake := opcadapter.NewFake()
	queue := telemetry.NewQueue(64)
	cfg := settings.Default()
	cfg.SessionConnectWaitSeconds = 10
	sv := session.NewSupervisor(store, nodeconfig.NewUnsealer(nil), func() opcadapter.Adapter { return fake }, queue, clock.Real, cfg, "urn:test:gateway")
	diag := diagnostics.NewCollector(100, fakeStatsSource{}, clock.Real)
	d := New(store, nodeconfig.NewSealer(nil), sv, diag, cfg, clock.Real, "test-1", time.Now(), nil)
	return d, store, sv, fake
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func TestDispatcher_PublishNodes_AddsAndReportsStatus(t *testing.T) {
	d, _, sv, _ := newTestDispatcher(t)
	sess := sv.EnsureSession("opc.tcp://plant:4840", false, nodeconfig.Auth{})
	require.NotNil(t, sess)

	req := PublishNodesRequest{
		EndpointURL: "opc.tcp://plant:4840",
		Nodes: []NodeRequest{
			{ID: "ns=2;s=Temperature"},
		},
	}
	body, status := d.Dispatch("PublishNodes", mustJSON(t, req))
	require.Equal(t, StatusAccepted, status)

	var resp StatusListResponse
	require.NoError(t, json.Unmarshal(body, &resp))
	require.Len(t, resp.StatusMessages, 1)
	require.Contains(t, resp.StatusMessages[0], "added")
}

func TestDispatcher_PublishNodes_DuplicateReportsAlreadyMonitored(t *testing.T) {
	d, _, sv, _ := newTestDispatcher(t)
	sv.EnsureSession("opc.tcp://plant:4840", false, nodeconfig.Auth{})

	req := PublishNodesRequest{
		EndpointURL: "opc.tcp://plant:4840",
		Nodes:       []NodeRequest{{ID: "ns=2;s=Temperature"}},
	}
	_, status := d.Dispatch("PublishNodes", mustJSON(t, req))
	require.Equal(t, StatusAccepted, status)

	body, status := d.Dispatch("PublishNodes", mustJSON(t, req))
	require.Equal(t, StatusOK, status)

	var resp StatusListResponse
	require.NoError(t, json.Unmarshal(body, &resp))
	require.Contains(t, resp.StatusMessages[0], "already monitored")
}

func TestDispatcher_PublishNodes_BadIdentifierIsNotAcceptable(t *testing.T) {
	d, _, sv, _ := newTestDispatcher(t)
	sv.EnsureSession("opc.tcp://plant:4840", false, nodeconfig.Auth{})

	req := PublishNodesRequest{
		EndpointURL: "opc.tcp://plant:4840",
		Nodes:       []NodeRequest{{ID: "   "}},
	}
	body, status := d.Dispatch("PublishNodes", mustJSON(t, req))
	require.Equal(t, StatusNotAcceptable, status)

	var resp StatusListResponse
	require.NoError(t, json.Unmarshal(body, &resp))
	require.Contains(t, resp.StatusMessages[0], "parse error")
}

func TestDispatcher_PublishNodes_MissingEndpointURLIsValidationError(t *testing.T) {
	d, _, _, _ := newTestDispatcher(t)

	body, status := d.Dispatch("PublishNodes", mustJSON(t, PublishNodesRequest{}))
	require.Equal(t, StatusNotAcceptable, status)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(body, &resp))
	require.NotEmpty(t, resp.Message)
}

func TestDispatcher_UnpublishNodes_RemovesConfiguredNode(t *testing.T) {
	d, store, sv, _ := newTestDispatcher(t)
	sv.EnsureSession("opc.tcp://plant:4840", false, nodeconfig.Auth{})
	_, err := store.AddNodes("opc.tcp://plant:4840", false, nodeconfig.Auth{}, []nodeconfig.NodeEntry{
		{Identifier: nodeconfig.Identifier{Raw: "ns=2;s=Temperature"}, RawID: "ns=2;s=Temperature"},
	})
	require.NoError(t, err)

	req := UnpublishNodesRequest{EndpointURL: "opc.tcp://plant:4840", Nodes: []string{"ns=2;s=Temperature"}}
	body, status := d.Dispatch("UnpublishNodes", mustJSON(t, req))
	require.Equal(t, StatusOK, status)

	var resp StatusListResponse
	require.NoError(t, json.Unmarshal(body, &resp))
	require.Contains(t, resp.StatusMessages[0], "removed")

	entries, _ := store.Enumerate(nil)
	require.Empty(t, entries[0].Nodes)
}

func TestDispatcher_UnpublishNodes_EmptyListRemovesAll(t *testing.T) {
	d, store, sv, _ := newTestDispatcher(t)
	sv.EnsureSession("opc.tcp://plant:4840", false, nodeconfig.Auth{})
	_, err := store.AddNodes("opc.tcp://plant:4840", false, nodeconfig.Auth{}, []nodeconfig.NodeEntry{
		{Identifier: nodeconfig.Identifier{Raw: "ns=2;s=Temperature"}, RawID: "ns=2;s=Temperature"},
		{Identifier: nodeconfig.Identifier{Raw: "ns=2;s=Pressure"}, RawID: "ns=2;s=Pressure"},
	})
	require.NoError(t, err)

	req := UnpublishNodesRequest{EndpointURL: "opc.tcp://plant:4840"}
	_, status := d.Dispatch("UnpublishNodes", mustJSON(t, req))
	require.Equal(t, StatusOK, status)

	entries, _ := store.Enumerate(nil)
	require.Empty(t, entries[0].Nodes)
}

func TestDispatcher_UnpublishAllNodes_SpecificEndpointNotConfiguredIsGone(t *testing.T) {
	d, _, _, _ := newTestDispatcher(t)

	req := UnpublishAllNodesRequest{EndpointURL: "opc.tcp://unknown:4840"}
	_, status := d.Dispatch("UnpublishAllNodes", mustJSON(t, req))
	require.Equal(t, StatusGone, status)
}

func TestDispatcher_GetConfiguredEndpoints_PaginatesAndDetectsStaleToken(t *testing.T) {
	d, store, _, _ := newTestDispatcher(t)
	for i := 0; i < endpointsPageSize+5; i++ {
		url := fmt.Sprintf("opc.tcp://plant-%d:4840", i)
		_, err := store.AddNodes(url, false, nodeconfig.Auth{}, nil)
		require.NoError(t, err)
	}

	body, status := d.Dispatch("GetConfiguredEndpoints", nil)
	require.Equal(t, StatusOK, status)

	var resp GetConfiguredEndpointsResponse
	require.NoError(t, json.Unmarshal(body, &resp))
	require.Len(t, resp.Endpoints, endpointsPageSize)
	require.NotEmpty(t, resp.ContinuationToken)

	// Mutating the store (adding a node under another endpoint) advances the version,
	// invalidating the token we just received.
	_, err := store.AddNodes("opc.tcp://plantzz:4840", false, nodeconfig.Auth{}, []nodeconfig.NodeEntry{
		{Identifier: nodeconfig.Identifier{Raw: "ns=2;s=X"}, RawID: "ns=2;s=X"},
	})
	require.NoError(t, err)

	req := GetConfiguredEndpointsRequest{ContinuationToken: resp.ContinuationToken}
	body, status = d.Dispatch("GetConfiguredEndpoints", mustJSON(t, req))
	require.Equal(t, StatusGone, status)

	var errResp ErrorResponse
	require.NoError(t, json.Unmarshal(body, &errResp))
	require.Contains(t, errResp.Message, "Requested version")
	require.Contains(t, errResp.Message, "Current version")
}

func TestDispatcher_GetConfiguredNodesOnEndpoint_UnknownEndpointIsGone(t *testing.T) {
	d, _, _, _ := newTestDispatcher(t)

	req := GetConfiguredNodesOnEndpointRequest{EndpointURL: "opc.tcp://unknown:4840"}
	_, status := d.Dispatch("GetConfiguredNodesOnEndpoint", mustJSON(t, req))
	require.Equal(t, StatusGone, status)
}

func TestDispatcher_GetDiagnosticInfo_ReflectsCollectorSnapshot(t *testing.T) {
	d, _, _, _ := newTestDispatcher(t)

	body, status := d.Dispatch("GetDiagnosticInfo", nil)
	require.Equal(t, StatusOK, status)

	var resp DiagnosticInfoResponse
	require.NoError(t, json.Unmarshal(body, &resp))
	require.Equal(t, 3, resp.QueueDepth)
	require.Equal(t, 1024, resp.QueueCapacity)
	require.NotEmpty(t, resp.SuppressedStatusCodes)
}

func TestDispatcher_GetInfo_ReportsVersionAndSessionCounts(t *testing.T) {
	d, _, sv, _ := newTestDispatcher(t)
	sv.EnsureSession("opc.tcp://plant:4840", false, nodeconfig.Auth{})

	body, status := d.Dispatch("GetInfo", nil)
	require.Equal(t, StatusOK, status)

	var resp GetInfoResponse
	require.NoError(t, json.Unmarshal(body, &resp))
	require.Equal(t, "test-1", resp.Version)
	require.Equal(t, 1, resp.SessionsConfigured)
}

func TestDispatcher_ExitApplication_SchedulesAndAcknowledges(t *testing.T) {
	store := nodeconfig.New(filepath.Join(t.TempDir(), "nodes.json"), nodeconfig.NewSealer(nil))
	fake := opcadapter.NewFake()
	queue := telemetry.NewQueue(64)
	cfg := settings.Default()
	sv := session.NewSupervisor(store, nodeconfig.NewUnsealer(nil), func() opcadapter.Adapter { return fake }, queue, clock.Real, cfg, "urn:test:gateway")
	diag := diagnostics.NewCollector(100, fakeStatsSource{}, clock.Real)

	var scheduled time.Duration
	var called bool
	d := New(store, nodeconfig.NewSealer(nil), sv, diag, cfg, clock.Real, "test-1", time.Now(), func(delay time.Duration) {
		called = true
		scheduled = delay
	})

	body, status := d.Dispatch("ExitApplication", mustJSON(t, ExitApplicationRequest{SecondsTillExit: 5}))
	require.Equal(t, StatusOK, status)
	require.True(t, called)
	require.Equal(t, 5*time.Second, scheduled)

	var resp ExitApplicationResponse
	require.NoError(t, json.Unmarshal(body, &resp))
	require.True(t, resp.Acknowledged)
	require.Equal(t, 5, resp.ExitingInSeconds)
}

func TestDispatcher_UnknownMethodIsNotImplemented(t *testing.T) {
	d, _, _, _ := newTestDispatcher(t)

	body, status := d.Dispatch("SomeFutureMethod", nil)
	require.Equal(t, StatusNotImplemented, status)

	var resp NotImplementedResponse
	require.NoError(t, json.Unmarshal(body, &resp))
	require.Contains(t, resp.Message, "SomeFutureMethod")
}
