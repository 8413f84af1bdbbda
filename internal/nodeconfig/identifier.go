// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package nodeconfig

import (
	"strings"

	"github.com/nexus-edge/opcua-gateway/internal/errors"
)

// IdentifierKind distinguishes a namespace-index node id from a
// namespace-uri expanded node id.
type IdentifierKind int

const (
	// IdentifierNamespaceIndex is an "ns=i;..." identifier.
	IdentifierNamespaceIndex IdentifierKind = iota
	// IdentifierNamespaceURI is an "nsu=..." expanded identifier.
	IdentifierNamespaceURI
)

// Identifier is a parsed, canonicalized node identifier. Equality of two
// node entries is by endpoint + canonicalized identifier.
type Identifier struct {
	Kind IdentifierKind
	Raw  string
}

// ParseIdentifier parses a configured node id string. Strings starting with
// "nsu=" are namespace-uri expanded node ids; everything else is treated as
// a namespace-index node id.
func ParseIdentifier(s string) (Identifier, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return Identifier{}, errors.New(errors.KindValidation, "node identifier must not be empty")
	}
	if strings.HasPrefix(trimmed, "nsu=") {
		return Identifier{Kind: IdentifierNamespaceURI, Raw: trimmed}, nil
	}
	return Identifier{Kind: IdentifierNamespaceIndex, Raw: trimmed}, nil
}

// Canonical returns the canonical string form used for equality: lowercase,
// with all whitespace stripped.
func (id Identifier) Canonical() string {
	return strings.ToLower(strings.Join(strings.Fields(id.Raw), ""))
}

// String implements fmt.Stringer.
func (id Identifier) String() string {
	return id.Raw
}
