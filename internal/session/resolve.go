// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package session

import (
	"strconv"
	"strings"

	"github.com/nexus-edge/opcua-gateway/internal/errors"
	"github.com/nexus-edge/opcua-gateway/internal/nodeconfig"
	"github.com/nexus-edge/opcua-gateway/internal/opcadapter"
)

// resolveIdentifier converts a configured node identifier into a
// namespace-index node id usable against the live session, deriving the
// expanded (nsu=) form alongside it, once the session's namespace array is
// available.
func resolveIdentifier(id nodeconfig.Identifier, namespaces []string) (opcadapter.ResolvedNodeID, string, error) {
	if id.Kind == nodeconfig.IdentifierNamespaceURI {
		rest := strings.TrimPrefix(id.Raw, "nsu=")
		parts := strings.SplitN(rest, ";", 2)
		if len(parts) != 2 {
			return opcadapter.ResolvedNodeID{}, "", errors.New(errors.KindNodeUnresolvable, "malformed namespace-uri identifier: "+id.Raw)
		}
		uri, identPart := parts[0], parts[1]
		idx := indexOfNamespace(namespaces, uri)
		if idx < 0 {
			return opcadapter.ResolvedNodeID{}, "", errors.New(errors.KindNodeUnresolvable, "namespace uri not in server namespace table: "+uri)
		}
		return opcadapter.ResolvedNodeID{NamespaceIndex: uint16(idx), Identifier: identPart}, id.Raw, nil
	}

	ns := 0
	identPart := id.Raw
	if strings.HasPrefix(id.Raw, "ns=") {
		rest := strings.TrimPrefix(id.Raw, "ns=")
		parts := strings.SplitN(rest, ";", 2)
		if len(parts) == 2 {
			if n, err := strconv.Atoi(parts[0]); err == nil {
				ns = n
			}
			identPart = parts[1]
		}
	}

	expanded := ""
	if ns >= 0 && ns < len(namespaces) {
		expanded = "nsu=" + namespaces[ns] + ";" + identPart
	}
	return opcadapter.ResolvedNodeID{NamespaceIndex: uint16(ns), Identifier: identPart}, expanded, nil
}

func indexOfNamespace(namespaces []string, uri string) int {
	for i, ns := range namespaces {
		if ns == uri {
			return i
		}
	}
	return -1
}
