// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package telemetry

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Encode renders a Record to its JSON object form under mask, grouping
// fields into MonitoredItem/Value sub-objects unless mask.Flat or
// mask.IoTCentral request a flatter shape.
func Encode(r Record, mask FieldMask) (string, error) {
	if mask.IoTCentral {
		var buf bytes.Buffer
		buf.WriteByte('{')
		nameBytes, err := json.Marshal(r.DisplayName)
		if err != nil {
			return "", fmt.Errorf("encode display name: %w", err)
		}
		buf.Write(nameBytes)
		buf.WriteByte(':')
		buf.WriteString(rawOrQuoted(r))
		buf.WriteByte('}')
		return buf.String(), nil
	}

	top := orderedFields{}
	if mask.EndpointURL {
		top.add("EndpointUrl", jsonString(r.EndpointURL))
	}
	if mask.NodeID {
		top.add("NodeId", jsonString(r.NodeID))
	}
	if mask.ExpandedNodeID {
		top.add("ExpandedNodeId", jsonString(r.ExpandedNodeID))
	}

	item := orderedFields{}
	if mask.ApplicationURI {
		item.add("ApplicationUri", jsonString(r.ApplicationURI))
	}
	if mask.DisplayName {
		item.add("DisplayName", jsonString(r.DisplayName))
	}

	value := orderedFields{}
	if mask.Value {
		value.add("Value", rawOrQuoted(r))
	}
	if mask.SourceTimestamp {
		value.add("SourceTimestamp", jsonString(r.SourceTimestamp.UTC().Format("2006-01-02T15:04:05.000Z07:00")))
	}
	if mask.StatusCode {
		value.add("StatusCode", fmt.Sprintf("%d", r.StatusCode))
	}
	if mask.StatusSymbolic {
		value.add("Status", jsonString(r.StatusSymbolic))
	}

	if mask.Flat {
		top.append(item)
		top.append(value)
		return top.render(), nil
	}

	if len(item) > 0 {
		top.add("MonitoredItem", item.render())
	}
	if len(value) > 0 {
		top.add("Value", value.render())
	}
	return top.render(), nil
}

func jsonString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

// rawOrQuoted returns the record's pre-encoded value fragment, quoted if
// PreserveValueQuotes requires it. r.Value already had its encoder-wrapper
// stripped at notification time, so this only decides quoting.
func rawOrQuoted(r Record) string {
	if r.PreserveValueQuotes {
		return jsonString(r.Value)
	}
	return r.Value
}

// orderedFields renders a flat {k:v,...} object preserving insertion order,
// since the wire shape's field order is part of parity with existing hub
// consumers even though JSON objects are unordered by spec.
type orderedFields []field

type field struct {
	key string
	val string
}

func (o *orderedFields) add(key, val string) {
	*o = append(*o, field{key, val})
}

func (o *orderedFields) append(other orderedFields) {
	*o = append(*o, other...)
}

func (o orderedFields) render() string {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range o {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteString(jsonString(f.key))
		buf.WriteByte(':')
		buf.WriteString(f.val)
	}
	buf.WriteByte('}')
	return buf.String()
}
