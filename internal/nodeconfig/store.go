// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package nodeconfig implements the Configuration Store: the durable
// record of which OPC UA endpoints and nodes the gateway publishes,
// loaded from and persisted to a JSON file on disk via
// SecureWriteFile/SecureReadFile.
package nodeconfig

import (
	"sync"

	"github.com/nexus-edge/opcua-gateway/internal/errors"
	"github.com/nexus-edge/opcua-gateway/internal/logging"
)

var log = logging.Get("nodeconfig")

// Store holds the in-memory node configuration plus the version counter
// that every structural mutation advances by exactly one, whether the
// mutation originates here or from the Session Supervisor pruning a dead
// subscription or session. The in-memory state is the source of truth; a
// failed Persist leaves it intact and is reported to the caller rather
// than rolled back (see DESIGN.md, "Dirty tracking").
type Store struct {
	mu        sync.Mutex
	path      string
	sealer    *Sealer
	version   uint64
	persisted uint64 // version the on-disk document was last written at
	entries   map[string]*EndpointEntry
	order     []string
}

// New returns an empty Store that will persist to path.
func New(path string, sealer *Sealer) *Store {
	return &Store{
		path:    path,
		sealer:  sealer,
		entries: make(map[string]*EndpointEntry),
	}
}

// Load reads path (if it exists) and replaces the in-memory document with
// its contents. A missing file is not an error: the gateway starts with an
// empty configuration.
func (s *Store) Load() error {
	data, err := SecureReadFile(s.path)
	if err != nil {
		log.Info("no existing node configuration file, starting empty", "path", s.path)
		return nil
	}
	doc, err := ParseDocument(data, s.sealer)
	if err != nil {
		return errors.Wrap(err, errors.KindInternal, "failed to load node configuration")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]*EndpointEntry)
	s.order = nil
	for i := range doc.Endpoints {
		ep := doc.Endpoints[i]
		key := endpointKey(ep.EndpointURL)
		s.entries[key] = &ep
		s.order = append(s.order, key)
	}
	log.Info("loaded node configuration", "endpoints", len(s.order))
	return nil
}

// Version returns the current NodeConfigVersion.
func (s *Store) Version() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

// Bump advances NodeConfigVersion by exactly one and returns the new
// value. The Session Supervisor calls this directly (without going through
// a Store mutation method) when it structurally removes a dead
// subscription, monitored item, or session, since those mutations do not
// touch the durable document.
func (s *Store) Bump() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.version++
	return s.version
}

// Enumerate returns a snapshot of configured endpoints (optionally filtered
// to one endpoint URL) and the NodeConfigVersion the snapshot was taken at,
// for GetConfiguredEndpoints/GetConfiguredNodesOnEndpoint pagination.
func (s *Store) Enumerate(endpointFilter *string) ([]EndpointEntry, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]EndpointEntry, 0, len(s.order))
	for _, key := range s.order {
		ep := s.entries[key]
		if endpointFilter != nil && ep.EndpointURL != *endpointFilter {
			continue
		}
		out = append(out, *ep)
	}
	return out, s.version
}

// AddNodes registers endpointURL (creating it if new) and appends nodes not
// already present under it, comparing by canonicalized identifier. Nodes
// already present are left untouched and are not reported as an error:
// publishing an already-monitored node is idempotent, not a conflict.
// NodeConfigVersion advances by one per node actually added.
func (s *Store) AddNodes(endpointURL string, useSecurity bool, auth Auth, nodes []NodeEntry) (added int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := endpointKey(endpointURL)
	ep, ok := s.entries[key]
	if !ok {
		ep = &EndpointEntry{EndpointURL: endpointURL, UseSecurity: useSecurity, Auth: auth}
		s.entries[key] = ep
		s.order = append(s.order, key)
	}

	existing := make(map[string]bool, len(ep.Nodes))
	for _, n := range ep.Nodes {
		existing[n.Identifier.Canonical()] = true
	}
	for _, n := range nodes {
		if existing[n.Identifier.Canonical()] {
			continue
		}
		ep.Nodes = append(ep.Nodes, n)
		existing[n.Identifier.Canonical()] = true
		added++
	}
	s.version += uint64(added)
	return added, nil
}

// RemoveNodes removes nodes matching the given identifiers from
// endpointURL, comparing by canonicalized identifier. Returns the number
// actually removed; NodeConfigVersion advances by one per removed node.
func (s *Store) RemoveNodes(endpointURL string, ids []Identifier) (removed int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := endpointKey(endpointURL)
	ep, ok := s.entries[key]
	if !ok {
		return 0, errors.New(errors.KindNotFound, "endpoint not configured: "+endpointURL)
	}

	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id.Canonical()] = true
	}
	kept := ep.Nodes[:0]
	for _, n := range ep.Nodes {
		if want[n.Identifier.Canonical()] {
			removed++
			continue
		}
		kept = append(kept, n)
	}
	ep.Nodes = kept
	s.version += uint64(removed)
	return removed, nil
}

// RemoveAllNodes removes every node under endpointURL, or under every
// endpoint when endpointURL is nil. Each removed node is its own
// structural mutation: NodeConfigVersion advances by one per node, so a
// continuation token issued against any intermediate version reads as
// stale afterwards.
func (s *Store) RemoveAllNodes(endpointURL *string) (removed int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, key := range s.order {
		ep := s.entries[key]
		if endpointURL != nil && ep.EndpointURL != *endpointURL {
			continue
		}
		removed += len(ep.Nodes)
		ep.Nodes = nil
	}
	s.version += uint64(removed)
	return removed
}

// Persist writes the current in-memory document to disk. The in-memory
// state remains authoritative regardless of the outcome; a failure is
// returned to the caller rather than retried internally, and the Store
// stays Dirty, so the supervisor's next cycle writes again (DESIGN.md,
// "Dirty tracking").
func (s *Store) Persist() error {
	s.mu.Lock()
	version := s.version
	doc := Document{Endpoints: make([]EndpointEntry, 0, len(s.order))}
	for _, key := range s.order {
		doc.Endpoints = append(doc.Endpoints, *s.entries[key])
	}
	s.mu.Unlock()

	data, err := MarshalDocument(doc)
	if err != nil {
		return errors.Wrap(err, errors.KindInternal, "failed to marshal node configuration")
	}
	if err := SecureWriteFile(s.path, data); err != nil {
		return errors.Wrap(err, errors.KindInternal, "failed to persist node configuration")
	}
	s.mu.Lock()
	if version > s.persisted {
		s.persisted = version
	}
	s.mu.Unlock()
	return nil
}

// Dirty reports whether the in-memory document has advanced past the
// version last written to disk. The Session Supervisor checks this at the
// end of every cycle and persists when true, so a mutation made while an
// endpoint is unreachable still reaches disk even though no item changed
// state this cycle. A failed Persist leaves Dirty true, retried next cycle.
func (s *Store) Dirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version != s.persisted
}

// HasEndpoint reports whether endpointURL is already configured.
func (s *Store) HasEndpoint(endpointURL string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[endpointKey(endpointURL)]
	return ok
}

// EndpointAuth returns the Auth currently stored for endpointURL, if
// configured. Callers use this to detect whether a PublishNodes request
// supplied an auth mode or credential that differs from what is already
// on file for the endpoint.
func (s *Store) EndpointAuth(endpointURL string) (Auth, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ep, ok := s.entries[endpointKey(endpointURL)]
	if !ok {
		return Auth{}, false
	}
	return ep.Auth, true
}

// SetAuth updates endpointURL's stored Auth. Unlike node add/remove, an
// auth-only change is not a structural mutation and does not advance
// NodeConfigVersion.
func (s *Store) SetAuth(endpointURL string, auth Auth) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ep, ok := s.entries[endpointKey(endpointURL)]
	if !ok {
		return errors.New(errors.KindNotFound, "endpoint not configured: "+endpointURL)
	}
	ep.Auth = auth
	return nil
}

// SetLastConnectError records the most recent connect/keep-alive failure
// for endpointURL, surfaced through GetConfiguredEndpoints. It does not
// advance NodeConfigVersion: it is status, not structural configuration.
func (s *Store) SetLastConnectError(endpointURL string, errMsg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ep, ok := s.entries[endpointKey(endpointURL)]; ok {
		ep.LastConnectError = errMsg
	}
}
