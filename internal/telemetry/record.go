// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package telemetry implements the Telemetry Queue and Dispatch Pipeline:
// a bounded FIFO fed by monitored-item notification callbacks and drained
// by a single consumer that batches records into hub messages bounded by
// a byte budget or a send-interval deadline.
package telemetry

import "time"

// Record is one OPC UA value change formatted for the hub.
type Record struct {
	EndpointURL         string
	NodeID              string
	ExpandedNodeID      string
	ApplicationURI      string
	DisplayName         string
	Value               string // already-encoded JSON fragment
	PreserveValueQuotes bool
	SourceTimestamp     time.Time
	StatusCode          uint32
	StatusSymbolic      string
}

// FieldMask controls which Record fields are emitted, per-endpoint. A
// zero-value FieldMask emits nothing; DefaultFieldMask gives the
// publish-everything starting point most endpoints use.
type FieldMask struct {
	EndpointURL     bool
	NodeID          bool
	ExpandedNodeID  bool
	ApplicationURI  bool
	DisplayName     bool
	Value           bool
	SourceTimestamp bool
	StatusCode      bool
	StatusSymbolic  bool

	// Flat controls whether "MonitoredItem" and "Value" sub-objects are
	// emitted as nested objects (false) or flattened into the top level
	// (true).
	Flat bool

	// IoTCentral reduces the record to {DisplayName: rawValue} with no
	// grouping or metadata, overriding every other field above.
	IoTCentral bool
}

// DefaultFieldMask is the default publish set, producing the wire shape
// {EndpointUrl, NodeId, MonitoredItem:{ApplicationUri, DisplayName},
// Value:{Value, SourceTimestamp, StatusCode, Status}}.
func DefaultFieldMask() FieldMask {
	return FieldMask{
		EndpointURL:     true,
		NodeID:          true,
		ApplicationURI:  true,
		DisplayName:     true,
		Value:           true,
		SourceTimestamp: true,
		StatusCode:      true,
		StatusSymbolic:  true,
	}
}
