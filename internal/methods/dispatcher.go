// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package methods implements the Method Dispatcher: the registry of named
// handlers the cloud hub invokes to mutate the Configuration Store and
// Session Supervisor, query configuration and diagnostics, and request
// shutdown. Rather than raising and catching per-item errors, each handler
// accumulates per-item result strings in a slice and the dispatcher maps
// the accumulated results to a single outer numeric status at the end.
package methods

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nexus-edge/opcua-gateway/internal/clock"
	"github.com/nexus-edge/opcua-gateway/internal/diagnostics"
	"github.com/nexus-edge/opcua-gateway/internal/errors"
	"github.com/nexus-edge/opcua-gateway/internal/logging"
	"github.com/nexus-edge/opcua-gateway/internal/nodeconfig"
	"github.com/nexus-edge/opcua-gateway/internal/session"
	"github.com/nexus-edge/opcua-gateway/internal/settings"
)

var log = logging.Get("methods")

const (
	endpointsPageSize = 64
	nodesPageSize     = 256
)

// Dispatcher is the method registry. It holds the global mutation lock
// that every mutating method acquires at entry and releases at exit;
// per-session mutation still goes through the Session Supervisor's own
// per-session mutex, always acquired after this one.
type Dispatcher struct {
	mu sync.Mutex

	store      *nodeconfig.Store
	sealer     *nodeconfig.Sealer
	supervisor *session.Supervisor
	diag       *diagnostics.Collector
	settings   settings.Settings
	clock      clock.Clock

	version   string
	startedAt time.Time

	// scheduleExit delays a process-wide cancellation, giving the dispatch
	// pipeline time to drain before ExitApplication tears the process down.
	scheduleExit func(delay time.Duration)
}

// New builds a Dispatcher. scheduleExit may be nil in tests that do not
// exercise ExitApplication.
func New(store *nodeconfig.Store, sealer *nodeconfig.Sealer, sv *session.Supervisor, diag *diagnostics.Collector, cfg settings.Settings, clk clock.Clock, version string, startedAt time.Time, scheduleExit func(time.Duration)) *Dispatcher {
	return &Dispatcher{
		store:        store,
		sealer:       sealer,
		supervisor:   sv,
		diag:         diag,
		settings:     cfg,
		clock:        clk,
		version:      version,
		startedAt:    startedAt,
		scheduleExit: scheduleExit,
	}
}

// Dispatch invokes the named method against payload and returns the
// response body plus numeric status.
func (d *Dispatcher) Dispatch(method string, payload []byte) ([]byte, int) {
	corrID := uuid.NewString()
	l := log.With("method", method, "correlation_id", corrID)
	l.Debug("method invoked")

	body, status := d.route(method, payload)

	l.With("status", status).Debug("method completed")
	return body, status
}

func (d *Dispatcher) route(method string, payload []byte) ([]byte, int) {
	switch method {
	case "PublishNodes":
		return d.publishNodes(payload)
	case "UnpublishNodes":
		return d.unpublishNodes(payload)
	case "UnpublishAllNodes":
		return d.unpublishAllNodes(payload)
	case "GetConfiguredEndpoints":
		return d.getConfiguredEndpoints(payload)
	case "GetConfiguredNodesOnEndpoint":
		return d.getConfiguredNodesOnEndpoint(payload)
	case "GetDiagnosticInfo":
		return d.getDiagnosticInfo()
	case "GetDiagnosticLog":
		return d.getDiagnosticLog()
	case "GetDiagnosticStartupLog":
		return d.getDiagnosticStartupLog()
	case "ExitApplication":
		return d.exitApplication(payload)
	case "GetInfo":
		return d.getInfo()
	default:
		return d.notImplemented(method)
	}
}

// maxStatus returns the more severe of two method statuses. The status
// values happen to be ordered by severity (200 < 202 < 406 < 409 < 410 <
// 500), so a plain numeric max works as the "worst status wins" rule
// across per-node results.
func maxStatus(a, b int) int {
	if b > a {
		return b
	}
	return a
}

func (d *Dispatcher) resolveAuth(mode string, cred *Credential) (nodeconfig.Auth, error) {
	switch mode {
	case "", "Anonymous":
		return nodeconfig.Auth{Mode: nodeconfig.AuthAnonymous}, nil
	case "UsernamePassword":
		if cred == nil {
			return nodeconfig.Auth{}, errors.New(errors.KindValidation, "credential is required for UsernamePassword auth")
		}
		cipher, err := d.sealer.Seal(cred.Password)
		if err != nil {
			return nodeconfig.Auth{}, err
		}
		return nodeconfig.Auth{Mode: nodeconfig.AuthUsernamePassword, Username: cred.Username, PasswordCipher: cipher}, nil
	default:
		return nodeconfig.Auth{}, errors.Errorf(errors.KindValidation, "unknown authentication mode: %s", mode)
	}
}

func (d *Dispatcher) publishNodes(payload []byte) ([]byte, int) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var req PublishNodesRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return d.errorResponse(errors.Wrap(err, errors.KindValidation, "malformed PublishNodes request"))
	}
	if req.EndpointURL == "" {
		return d.errorResponse(errors.New(errors.KindValidation, "endpointUrl is required"))
	}

	auth, err := d.resolveAuth(req.Auth, req.Credential)
	if err != nil {
		return d.errorResponse(err)
	}

	priorAuth, hadEndpoint := d.store.EndpointAuth(req.EndpointURL)
	d.supervisor.EnsureSession(req.EndpointURL, req.UseSecurity, auth)
	if hadEndpoint && priorAuth != auth {
		if serr := d.store.SetAuth(req.EndpointURL, auth); serr != nil {
			log.WithError(serr).Error("failed to update endpoint auth", "endpoint", req.EndpointURL)
		} else {
			d.supervisor.ReconnectOnAuthChange(req.EndpointURL, auth)
		}
	}

	statuses := make([]string, 0, len(req.Nodes))
	worst := StatusOK
	for _, n := range req.Nodes {
		id, perr := nodeconfig.ParseIdentifier(n.ID)
		if perr != nil {
			statuses = append(statuses, fmt.Sprintf("'%s': parse error: %v", n.ID, perr))
			worst = maxStatus(worst, StatusNotAcceptable)
			continue
		}
		if _, ok := d.supervisor.Session(req.EndpointURL); !ok {
			statuses = append(statuses, fmt.Sprintf("'%s': session gone", n.ID))
			worst = maxStatus(worst, StatusGone)
			continue
		}

		entry := nodeconfig.NodeEntry{
			Identifier:               id,
			RawID:                    n.ID,
			DisplayName:              n.DisplayName,
			PublishingIntervalMS:     n.OpcPublishingInterval,
			SamplingIntervalMS:       n.OpcSamplingInterval,
			HeartbeatIntervalSeconds: n.HeartbeatInterval,
			SkipFirst:                n.SkipFirst,
		}
		added, aerr := d.store.AddNodes(req.EndpointURL, req.UseSecurity, auth, []nodeconfig.NodeEntry{entry})
		switch {
		case aerr != nil:
			statuses = append(statuses, fmt.Sprintf("'%s': internal error: %v", n.ID, aerr))
			worst = maxStatus(worst, StatusInternalServerError)
		case added == 0:
			// A duplicate publish, even with different intervals, is
			// reported as already monitored rather than updating the entry.
			statuses = append(statuses, fmt.Sprintf("'%s': already monitored", n.ID))
		default:
			statuses = append(statuses, fmt.Sprintf("'%s': added", n.ID))
			worst = maxStatus(worst, StatusAccepted)
		}
	}
	d.supervisor.Wake(req.EndpointURL)

	body := marshalCroppedList(func(items []string, cropped bool) any {
		return StatusListResponse{StatusMessages: items, ResultsCropped: cropped}
	}, statuses, d.settings.MaxResponsePayloadLength)
	return body, worst
}

func (d *Dispatcher) unpublishNodes(payload []byte) ([]byte, int) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var req UnpublishNodesRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return d.errorResponse(errors.Wrap(err, errors.KindValidation, "malformed UnpublishNodes request"))
	}
	if req.EndpointURL == "" {
		return d.errorResponse(errors.New(errors.KindValidation, "endpointUrl is required"))
	}

	if len(req.Nodes) == 0 {
		removed := d.store.RemoveAllNodes(&req.EndpointURL)
		d.supervisor.Wake(req.EndpointURL)
		body := marshalCapped(StatusListResponse{
			StatusMessages: []string{fmt.Sprintf("removed %d nodes from '%s'", removed, req.EndpointURL)},
		}, d.settings.MaxResponsePayloadLength)
		return body, StatusOK
	}

	statuses := make([]string, 0, len(req.Nodes))
	worst := StatusOK
	for _, raw := range req.Nodes {
		id, perr := nodeconfig.ParseIdentifier(raw)
		if perr != nil {
			statuses = append(statuses, fmt.Sprintf("'%s': parse error: %v", raw, perr))
			worst = maxStatus(worst, StatusNotAcceptable)
			continue
		}
		removed, rerr := d.store.RemoveNodes(req.EndpointURL, []nodeconfig.Identifier{id})
		switch {
		case rerr != nil:
			statuses = append(statuses, fmt.Sprintf("'%s': %v", raw, rerr))
			worst = maxStatus(worst, StatusGone)
		case removed == 0:
			statuses = append(statuses, fmt.Sprintf("'%s': not found", raw))
		default:
			statuses = append(statuses, fmt.Sprintf("'%s': removed", raw))
		}
	}
	d.supervisor.Wake(req.EndpointURL)

	body := marshalCroppedList(func(items []string, cropped bool) any {
		return StatusListResponse{StatusMessages: items, ResultsCropped: cropped}
	}, statuses, d.settings.MaxResponsePayloadLength)
	return body, worst
}

func (d *Dispatcher) unpublishAllNodes(payload []byte) ([]byte, int) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var req UnpublishAllNodesRequest
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &req); err != nil {
			return d.errorResponse(errors.Wrap(err, errors.KindValidation, "malformed UnpublishAllNodes request"))
		}
	}

	if req.EndpointURL != "" {
		if !d.store.HasEndpoint(req.EndpointURL) {
			return d.errorResponse(errors.New(errors.KindNotFound, "endpoint not configured: "+req.EndpointURL))
		}
		removed := d.store.RemoveAllNodes(&req.EndpointURL)
		d.supervisor.Wake(req.EndpointURL)
		body := marshalCapped(UnpublishAllNodesResponse{NodesRemoved: removed, EndpointsAffected: 1}, d.settings.MaxResponsePayloadLength)
		return body, StatusOK
	}

	entries, _ := d.store.Enumerate(nil)
	removed := d.store.RemoveAllNodes(nil)
	d.supervisor.WakeAll()
	body := marshalCapped(UnpublishAllNodesResponse{NodesRemoved: removed, EndpointsAffected: len(entries)}, d.settings.MaxResponsePayloadLength)
	return body, StatusOK
}

func (d *Dispatcher) getConfiguredEndpoints(payload []byte) ([]byte, int) {
	var req GetConfiguredEndpointsRequest
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &req); err != nil {
			return d.errorResponse(errors.Wrap(err, errors.KindValidation, "malformed GetConfiguredEndpoints request"))
		}
	}

	entries, version := d.store.Enumerate(nil)

	var offset uint32
	if req.ContinuationToken != "" {
		tok, terr := nodeconfig.ParseContinuationToken(req.ContinuationToken)
		if terr != nil {
			return d.errorResponse(terr)
		}
		if tok.Version() != version {
			return d.errorResponse(errors.Errorf(errors.KindInvalidated, "Requested version %d, Current version %d", tok.Version(), version))
		}
		offset = tok.Offset()
	}

	page, next := pageEntries(entries, offset, version, endpointsPageSize)
	out := make([]ConfiguredEndpoint, 0, len(page))
	for _, ep := range page {
		out = append(out, ConfiguredEndpoint{EndpointURL: ep.EndpointURL, UseSecurity: ep.UseSecurity, LastConnectError: ep.LastConnectError})
	}

	body := marshalCroppedList(func(items []ConfiguredEndpoint, cropped bool) any {
		return GetConfiguredEndpointsResponse{Endpoints: items, ContinuationToken: next, ResultsCropped: cropped}
	}, out, d.settings.MaxResponsePayloadLength)
	return body, StatusOK
}

func (d *Dispatcher) getConfiguredNodesOnEndpoint(payload []byte) ([]byte, int) {
	var req GetConfiguredNodesOnEndpointRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return d.errorResponse(errors.Wrap(err, errors.KindValidation, "malformed GetConfiguredNodesOnEndpoint request"))
	}
	if req.EndpointURL == "" {
		return d.errorResponse(errors.New(errors.KindValidation, "endpointUrl is required"))
	}

	entries, version := d.store.Enumerate(&req.EndpointURL)
	if len(entries) == 0 {
		return d.errorResponse(errors.New(errors.KindNotFound, "endpoint not configured: "+req.EndpointURL))
	}
	nodes := entries[0].Nodes

	var offset uint32
	if req.ContinuationToken != "" {
		tok, terr := nodeconfig.ParseContinuationToken(req.ContinuationToken)
		if terr != nil {
			return d.errorResponse(terr)
		}
		if tok.Version() != version {
			return d.errorResponse(errors.Errorf(errors.KindInvalidated, "Requested version %d, Current version %d", tok.Version(), version))
		}
		offset = tok.Offset()
	}

	page, next := pageEntries(nodes, offset, version, nodesPageSize)
	out := make([]ConfiguredNode, 0, len(page))
	for _, n := range page {
		out = append(out, ConfiguredNode{
			ID:                    n.RawID,
			DisplayName:           n.DisplayName,
			OpcPublishingInterval: n.PublishingIntervalMS,
			OpcSamplingInterval:   n.SamplingIntervalMS,
			HeartbeatInterval:     n.HeartbeatIntervalSeconds,
			SkipFirst:             n.SkipFirst,
		})
	}

	body := marshalCroppedList(func(items []ConfiguredNode, cropped bool) any {
		return GetConfiguredNodesOnEndpointResponse{EndpointURL: req.EndpointURL, OpcNodes: items, ContinuationToken: next, ResultsCropped: cropped}
	}, out, d.settings.MaxResponsePayloadLength)
	return body, StatusOK
}

// pageEntries slices a continuation-token page out of a flat list. The
// opaque token's low 32 bits are the next offset, its high 32 bits the
// configuration version the enumeration was taken at.
func pageEntries[T any](entries []T, offset uint32, version uint64, pageSize uint32) (page []T, next string) {
	if int(offset) >= len(entries) {
		return nil, ""
	}
	end := offset + pageSize
	if int(end) > len(entries) {
		end = uint32(len(entries))
	}
	page = entries[offset:end]
	if int(end) < len(entries) {
		next = nodeconfig.EncodeContinuationToken(version, end).String()
	}
	return page, next
}

func (d *Dispatcher) getDiagnosticInfo() ([]byte, int) {
	snap := d.diag.Snapshot()
	resp := DiagnosticInfoResponse{
		QueueDepth:               snap.QueueDepth,
		QueueCapacity:            snap.QueueCapacity,
		Enqueued:                 snap.Enqueued,
		EnqueueFailures:          snap.EnqueueFailures,
		SentMessages:             snap.SentMessages,
		SentBytes:                snap.SentBytes,
		FailedMessages:           snap.FailedMessages,
		TooLarge:                 snap.TooLarge,
		MissedSendInterval:       snap.MissedSendInterval,
		WorkingSetMB:             snap.WorkingSetMB,
		SessionsConfigured:       snap.SessionsConfigured,
		SessionsConnected:        snap.SessionsConnected,
		SubscriptionsConfigured:  snap.SubscriptionsConfigured,
		MonitoredItemsConfigured: snap.MonitoredItemsConfigured,
		MonitoredItemsMonitored:  snap.MonitoredItemsMonitored,
		MonitoredItemsToRemove:   snap.MonitoredItemsToRemove,
		SendIntervalSeconds:      snap.SendIntervalSeconds,
		HubMessageSizeBytes:      snap.HubMessageSizeBytes,
		SuppressedStatusCodes:    d.settings.SuppressedStatusCodes,
	}
	return marshalCapped(resp, d.settings.MaxResponsePayloadLength), StatusOK
}

func (d *Dispatcher) getDiagnosticLog() ([]byte, int) {
	// A negative diagnostics interval disables remote log retrieval
	// entirely, on top of disabling the periodic snapshot output.
	if d.settings.DiagnosticsIntervalSeconds < 0 {
		body := marshalCapped(DiagnosticLogResponse{Log: []LogEntry{}}, d.settings.MaxResponsePayloadLength)
		return body, StatusOK
	}

	lines := d.diag.RecentLog()
	entries := make([]LogEntry, 0, len(lines))
	for _, l := range lines {
		entries = append(entries, LogEntry{Time: l.Time, Level: l.Level, Message: l.Message})
	}
	missed := d.diag.MissedLogCount()

	body := marshalCroppedList(func(items []LogEntry, cropped bool) any {
		return DiagnosticLogResponse{Log: items, LogMessageCount: len(items), MissedMessageCount: missed, ResultsCropped: cropped}
	}, entries, d.settings.MaxResponsePayloadLength)
	return body, StatusOK
}

func (d *Dispatcher) getDiagnosticStartupLog() ([]byte, int) {
	lines := d.diag.StartupLog()
	entries := make([]LogEntry, 0, len(lines))
	for _, l := range lines {
		entries = append(entries, LogEntry{Time: l.Time, Level: l.Level, Message: l.Message})
	}

	body := marshalCroppedList(func(items []LogEntry, cropped bool) any {
		return DiagnosticStartupLogResponse{Log: items, LogMessageCount: len(items), ResultsCropped: cropped}
	}, entries, d.settings.MaxResponsePayloadLength)
	return body, StatusOK
}

func (d *Dispatcher) exitApplication(payload []byte) ([]byte, int) {
	var req ExitApplicationRequest
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &req); err != nil {
			return d.errorResponse(errors.Wrap(err, errors.KindValidation, "malformed ExitApplication request"))
		}
	}
	if req.SecondsTillExit < 0 {
		return d.errorResponse(errors.New(errors.KindValidation, "secondsTillExit must be >= 0"))
	}

	if d.scheduleExit != nil {
		d.scheduleExit(time.Duration(req.SecondsTillExit) * time.Second)
	}

	body := marshalCapped(ExitApplicationResponse{Acknowledged: true, ExitingInSeconds: req.SecondsTillExit}, d.settings.MaxResponsePayloadLength)
	return body, StatusOK
}

func (d *Dispatcher) getInfo() ([]byte, int) {
	configured, connected := d.supervisor.SessionCount()
	resp := GetInfoResponse{
		Version:             d.version,
		StartTime:           d.startedAt,
		UptimeSeconds:       d.clock.Now().Sub(d.startedAt).Seconds(),
		SessionsConfigured:  configured,
		SessionsConnected:   connected,
		SendIntervalSeconds: d.settings.SendIntervalSeconds,
		HubMessageSizeBytes: d.settings.HubMessageSize,
	}
	return marshalCapped(resp, d.settings.MaxResponsePayloadLength), StatusOK
}

func (d *Dispatcher) notImplemented(method string) ([]byte, int) {
	body := marshalCapped(NotImplementedResponse{Message: fmt.Sprintf("method not implemented: %s", method)}, d.settings.MaxResponsePayloadLength)
	return body, StatusNotImplemented
}

func (d *Dispatcher) errorResponse(err error) ([]byte, int) {
	status := errors.ToMethodStatus(err)
	body := marshalCapped(ErrorResponse{Message: err.Error()}, d.settings.MaxResponsePayloadLength)
	return body, status
}
