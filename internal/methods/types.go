// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package methods

import "time"

// Numeric status codes the Method Dispatcher returns, mirroring HTTP.
const (
	StatusOK                  = 200
	StatusAccepted            = 202
	StatusConflict            = 409
	StatusNotAcceptable       = 406
	StatusGone                = 410
	StatusInternalServerError = 500
	StatusNotImplemented      = 501
)

// Credential carries a username/password pair supplied in a PublishNodes
// request; the plaintext password never survives past the call that seals
// it into the Configuration Store.
type Credential struct {
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}

// NodeRequest is one node entry within a PublishNodes request's OpcNodes
// list.
type NodeRequest struct {
	ID                    string `json:"Id"`
	OpcPublishingInterval *int   `json:"OpcPublishingInterval,omitempty"`
	OpcSamplingInterval   *int   `json:"OpcSamplingInterval,omitempty"`
	DisplayName           string `json:"DisplayName,omitempty"`
	HeartbeatInterval     *int   `json:"HeartbeatInterval,omitempty"`
	SkipFirst             *bool  `json:"SkipFirst,omitempty"`
}

// PublishNodesRequest is the PublishNodes method input.
type PublishNodesRequest struct {
	EndpointURL string        `json:"endpointUrl"`
	UseSecurity bool          `json:"useSecurity"`
	Auth        string        `json:"auth,omitempty"` // "Anonymous" | "UsernamePassword"
	Credential  *Credential   `json:"credential,omitempty"`
	Nodes       []NodeRequest `json:"nodes"`
}

// StatusListResponse is the common shape of PublishNodes/UnpublishNodes
// output: one English status string per requested node.
type StatusListResponse struct {
	StatusMessages []string `json:"statusMessages"`
	ResultsCropped bool     `json:"resultsCropped,omitempty"`
}

// UnpublishNodesRequest is the UnpublishNodes method input. An empty Nodes
// list means "every node on this endpoint".
type UnpublishNodesRequest struct {
	EndpointURL string   `json:"endpointUrl"`
	Nodes       []string `json:"nodes"`
}

// UnpublishAllNodesRequest is the UnpublishAllNodes method input. An empty
// EndpointURL means "every configured endpoint".
type UnpublishAllNodesRequest struct {
	EndpointURL string `json:"endpointUrl,omitempty"`
}

// UnpublishAllNodesResponse summarizes an UnpublishAllNodes call.
type UnpublishAllNodesResponse struct {
	NodesRemoved      int `json:"nodesRemoved"`
	EndpointsAffected int `json:"endpointsAffected"`
}

// ConfiguredEndpoint is one entry in a GetConfiguredEndpoints response.
type ConfiguredEndpoint struct {
	EndpointURL      string `json:"endpointUrl"`
	UseSecurity      bool   `json:"useSecurity"`
	LastConnectError string `json:"lastConnectError,omitempty"`
}

// GetConfiguredEndpointsRequest is the GetConfiguredEndpoints method input.
type GetConfiguredEndpointsRequest struct {
	ContinuationToken string `json:"continuationToken,omitempty"`
}

// GetConfiguredEndpointsResponse is the GetConfiguredEndpoints method
// output.
type GetConfiguredEndpointsResponse struct {
	Endpoints         []ConfiguredEndpoint `json:"endpoints"`
	ContinuationToken string               `json:"continuationToken,omitempty"`
	ResultsCropped    bool                 `json:"resultsCropped,omitempty"`
}

// ConfiguredNode is one entry in a GetConfiguredNodesOnEndpoint response.
type ConfiguredNode struct {
	ID                    string `json:"Id"`
	DisplayName           string `json:"DisplayName,omitempty"`
	OpcPublishingInterval *int   `json:"OpcPublishingInterval,omitempty"`
	OpcSamplingInterval   *int   `json:"OpcSamplingInterval,omitempty"`
	HeartbeatInterval     *int   `json:"HeartbeatInterval,omitempty"`
	SkipFirst             *bool  `json:"SkipFirst,omitempty"`
}

// GetConfiguredNodesOnEndpointRequest is the method input.
type GetConfiguredNodesOnEndpointRequest struct {
	EndpointURL       string `json:"endpointUrl"`
	ContinuationToken string `json:"continuationToken,omitempty"`
}

// GetConfiguredNodesOnEndpointResponse is the method output.
type GetConfiguredNodesOnEndpointResponse struct {
	EndpointURL       string           `json:"endpointUrl"`
	OpcNodes          []ConfiguredNode `json:"opcNodes"`
	ContinuationToken string           `json:"continuationToken,omitempty"`
	ResultsCropped    bool             `json:"resultsCropped,omitempty"`
}

// DiagnosticInfoResponse is the GetDiagnosticInfo method output.
type DiagnosticInfoResponse struct {
	QueueDepth               int     `json:"queueDepth"`
	QueueCapacity            int     `json:"queueCapacity"`
	Enqueued                 uint64  `json:"enqueued"`
	EnqueueFailures          uint64  `json:"enqueueFailures"`
	SentMessages             uint64  `json:"sentMessages"`
	SentBytes                uint64  `json:"sentBytes"`
	FailedMessages           uint64  `json:"failedMessages"`
	TooLarge                 uint64  `json:"tooLarge"`
	MissedSendInterval       uint64  `json:"missedSendInterval"`
	WorkingSetMB             float64 `json:"workingSetMB"`
	SessionsConfigured       int     `json:"sessionsConfigured"`
	SessionsConnected        int     `json:"sessionsConnected"`
	SubscriptionsConfigured  int     `json:"subscriptionsConfigured"`
	MonitoredItemsConfigured int     `json:"monitoredItemsConfigured"`
	MonitoredItemsMonitored  int     `json:"monitoredItemsMonitored"`
	MonitoredItemsToRemove   int     `json:"monitoredItemsToRemove"`
	SendIntervalSeconds      int     `json:"sendIntervalSeconds"`
	HubMessageSizeBytes      int     `json:"hubMessageSizeBytes"`
	// SuppressedStatusCodes is a read-only view of the notification
	// handler's status-code suppression set.
	SuppressedStatusCodes []uint32 `json:"suppressedStatusCodes"`
}

// LogEntry is one captured log line, returned by GetDiagnosticLog and
// GetDiagnosticStartupLog.
type LogEntry struct {
	Time    time.Time `json:"time"`
	Level   string    `json:"level"`
	Message string    `json:"message"`
}

// DiagnosticLogResponse is the GetDiagnosticLog method output.
type DiagnosticLogResponse struct {
	Log                []LogEntry `json:"log"`
	LogMessageCount    int        `json:"logMessageCount"`
	MissedMessageCount uint64     `json:"missedMessageCount"`
	ResultsCropped     bool       `json:"resultsCropped,omitempty"`
}

// DiagnosticStartupLogResponse is the GetDiagnosticStartupLog method
// output.
type DiagnosticStartupLogResponse struct {
	Log             []LogEntry `json:"log"`
	LogMessageCount int        `json:"logMessageCount"`
	ResultsCropped  bool       `json:"resultsCropped,omitempty"`
}

// ExitApplicationRequest is the ExitApplication method input.
type ExitApplicationRequest struct {
	SecondsTillExit int `json:"secondsTillExit"`
}

// ExitApplicationResponse acknowledges a scheduled shutdown.
type ExitApplicationResponse struct {
	Acknowledged     bool `json:"acknowledged"`
	ExitingInSeconds int  `json:"exitingInSeconds"`
}

// GetInfoResponse is the GetInfo method output, extended with process
// start time, session counts, and the active send-interval/message-size
// pair.
type GetInfoResponse struct {
	Version             string    `json:"version"`
	StartTime           time.Time `json:"startTime"`
	UptimeSeconds       float64   `json:"uptimeSeconds"`
	SessionsConfigured  int       `json:"sessionsConfigured"`
	SessionsConnected   int       `json:"sessionsConnected"`
	SendIntervalSeconds int       `json:"sendIntervalSeconds"`
	HubMessageSizeBytes int       `json:"hubMessageSizeBytes"`
}

// NotImplementedResponse is the default handler's output for any method
// name not in the registry.
type NotImplementedResponse struct {
	Message string `json:"message"`
}

// ErrorResponse is returned whenever a handler maps an error to a non-OK
// status.
type ErrorResponse struct {
	Message string `json:"message"`
}
