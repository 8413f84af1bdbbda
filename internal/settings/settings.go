// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package settings holds the gateway's process-wide runtime knobs. Unlike
// the node configuration (internal/nodeconfig), these are loaded once at
// startup from the environment and are immutable for the life of the
// process.
package settings

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/nexus-edge/opcua-gateway/internal/errors"
)

// Settings holds every gateway runtime knob.
type Settings struct {
	QueueCapacity              int
	HubMessageSize             int
	SendIntervalSeconds        int
	DiagnosticsIntervalSeconds int
	SessionConnectWaitSeconds  int
	SessionCreationTimeout     time.Duration
	SessionCreationBackoffMax  int
	KeepAliveInterval          time.Duration
	KeepAliveDisconnectAfter   int
	PublishingIntervalMS       int
	SamplingIntervalMS         int
	HeartbeatIntervalDefault   int
	SkipFirstDefault           bool
	FetchDisplayName           bool
	SuppressedStatusCodes      []uint32
	MaxResponsePayloadLength   int
}

// Default suppressed status codes: notifications carrying these are
// dropped before reaching the telemetry queue.
const (
	StatusBadNoCommunication       uint32 = 0x80310000
	StatusBadWaitingForInitialData uint32 = 0x80320000
)

// Default returns the gateway's out-of-the-box settings.
func Default() Settings {
	return Settings{
		QueueCapacity:              8192,
		HubMessageSize:             262144,
		SendIntervalSeconds:        10,
		DiagnosticsIntervalSeconds: 0,
		SessionConnectWaitSeconds:  10,
		SessionCreationTimeout:     15 * time.Second,
		SessionCreationBackoffMax:  5,
		KeepAliveInterval:          2 * time.Second,
		KeepAliveDisconnectAfter:   3,
		PublishingIntervalMS:       1000,
		SamplingIntervalMS:         500,
		HeartbeatIntervalDefault:   0,
		SkipFirstDefault:           false,
		FetchDisplayName:           false,
		SuppressedStatusCodes:      []uint32{StatusBadNoCommunication, StatusBadWaitingForInitialData},
		MaxResponsePayloadLength:   128 * 1024,
	}
}

// FromEnv builds Settings from Default() overridden by any of the
// OPCUA_GATEWAY_-prefixed environment variables that name a knob.
func FromEnv() Settings {
	s := Default()
	s.QueueCapacity = envInt("OPCUA_GATEWAY_MONITORED_ITEMS_QUEUE_CAPACITY", s.QueueCapacity)
	s.HubMessageSize = envInt("OPCUA_GATEWAY_HUB_MESSAGE_SIZE", s.HubMessageSize)
	s.SendIntervalSeconds = envInt("OPCUA_GATEWAY_SEND_INTERVAL_SECONDS", s.SendIntervalSeconds)
	s.DiagnosticsIntervalSeconds = envInt("OPCUA_GATEWAY_DIAGNOSTICS_INTERVAL", s.DiagnosticsIntervalSeconds)
	s.SessionConnectWaitSeconds = envInt("OPCUA_GATEWAY_SESSION_CONNECT_WAIT_SECONDS", s.SessionConnectWaitSeconds)
	s.SessionCreationTimeout = envDuration("OPCUA_GATEWAY_OPC_SESSION_CREATION_TIMEOUT", s.SessionCreationTimeout)
	s.SessionCreationBackoffMax = envInt("OPCUA_GATEWAY_OPC_SESSION_CREATION_BACKOFF_MAX", s.SessionCreationBackoffMax)
	s.KeepAliveInterval = envDuration("OPCUA_GATEWAY_OPC_KEEP_ALIVE_INTERVAL_SECONDS", s.KeepAliveInterval)
	s.KeepAliveDisconnectAfter = envInt("OPCUA_GATEWAY_OPC_KEEP_ALIVE_DISCONNECT_THRESHOLD", s.KeepAliveDisconnectAfter)
	s.PublishingIntervalMS = envInt("OPCUA_GATEWAY_OPC_PUBLISHING_INTERVAL", s.PublishingIntervalMS)
	s.SamplingIntervalMS = envInt("OPCUA_GATEWAY_OPC_SAMPLING_INTERVAL", s.SamplingIntervalMS)
	s.HeartbeatIntervalDefault = envInt("OPCUA_GATEWAY_HEARTBEAT_INTERVAL_DEFAULT", s.HeartbeatIntervalDefault)
	s.SkipFirstDefault = envBool("OPCUA_GATEWAY_SKIP_FIRST_DEFAULT", s.SkipFirstDefault)
	s.FetchDisplayName = envBool("OPCUA_GATEWAY_FETCH_DISPLAY_NAME", s.FetchDisplayName)
	s.MaxResponsePayloadLength = envInt("OPCUA_GATEWAY_MAX_RESPONSE_PAYLOAD_LENGTH", s.MaxResponsePayloadLength)
	if codes := envUint32List("OPCUA_GATEWAY_SUPPRESSED_OPC_STATUS_CODES"); codes != nil {
		s.SuppressedStatusCodes = codes
	}
	return s
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return time.Duration(n) * time.Second
		}
	}
	return fallback
}

func envUint32List(key string) []uint32 {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]uint32, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.ParseUint(strings.TrimSpace(p), 0, 32)
		if err != nil {
			continue
		}
		out = append(out, uint32(n))
	}
	return out
}

// Validate enforces the documented bounds for each knob.
func (s Settings) Validate() error {
	if s.QueueCapacity < 1024 {
		return errors.New(errors.KindValidation, "monitored-items-queue-capacity must be >= 1024")
	}
	if s.HubMessageSize < 0 || s.HubMessageSize > 262144 {
		return errors.New(errors.KindValidation, "hub-message-size must be within 0..262144")
	}
	if s.SendIntervalSeconds < 0 {
		return errors.New(errors.KindValidation, "send-interval-seconds must be >= 0")
	}
	if s.SessionConnectWaitSeconds < 10 {
		return errors.New(errors.KindValidation, "session-connect-wait-seconds must be >= 10")
	}
	if s.SessionCreationTimeout <= time.Second {
		return errors.New(errors.KindValidation, "opc-session-creation-timeout must be > 1s")
	}
	if s.KeepAliveInterval < 2*time.Second {
		return errors.New(errors.KindValidation, "opc-keep-alive-interval-seconds must be >= 2")
	}
	if s.KeepAliveDisconnectAfter <= 1 {
		return errors.New(errors.KindValidation, "opc-keep-alive-disconnect-threshold must be > 1")
	}
	return nil
}

// IsSingleMessageMode reports whether the dispatch pipeline should run in
// single-message mode: every record sent as its own message the instant
// it's dequeued, rather than batched.
func (s Settings) IsSingleMessageMode() bool {
	return s.SendIntervalSeconds == 0 && s.HubMessageSize == 0
}
