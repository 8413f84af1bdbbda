// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package nodeconfig

import (
	"encoding/json"

	"github.com/nexus-edge/opcua-gateway/internal/errors"
)

// rawEntry covers both shapes the node-configuration file is accepted in:
// the legacy flat shape, one node per entry, and the nested shape, many
// nodes per endpoint. ParseDocument merges both into Document, grouping by
// endpoint.
type rawEntry struct {
	EndpointURL string `json:"EndpointUrl"`
	UseSecurity *bool  `json:"UseSecurity,omitempty"`

	// Flat legacy shape: one node per entry.
	NodeID string `json:"NodeId,omitempty"`

	// Nested shape: many nodes per entry.
	OpcNodes []rawNode `json:"OpcNodes,omitempty"`

	Auth *rawAuth `json:"OpcAuthenticationMode,omitempty"`
}

type rawNode struct {
	ID                    string `json:"Id"`
	DisplayName           string `json:"DisplayName,omitempty"`
	OpcPublishingInterval *int   `json:"OpcPublishingInterval,omitempty"`
	OpcSamplingInterval   *int   `json:"OpcSamplingInterval,omitempty"`
	HeartbeatInterval     *int   `json:"HeartbeatInterval,omitempty"`
	SkipFirst             *bool  `json:"SkipFirst,omitempty"`
}

type rawAuth struct {
	Mode     string `json:"Mode"`
	Username string `json:"UserName,omitempty"`
	// Password is plaintext, accepted only from hand-written legacy files
	// and sealed during parse. EncryptedPassword is what Persist writes
	// back; it is already sealed and must not be sealed again on reload.
	Password          string `json:"Password,omitempty"`
	EncryptedPassword string `json:"EncryptedPassword,omitempty"`
}

// ParseDocument parses the node-configuration file body, in either its
// legacy flat shape or its nested shape, and merges entries that share an
// endpoint URL into a single EndpointEntry. When sealer is non-nil, any
// plaintext Password found in the legacy shape is sealed immediately; the
// plaintext never reaches Document or Store state.
func ParseDocument(data []byte, sealer *Sealer) (Document, error) {
	var entries []rawEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return Document{}, errors.Wrap(err, errors.KindValidation, "malformed node configuration file")
	}

	byEndpoint := make(map[string]*EndpointEntry)
	var order []string

	for _, e := range entries {
		if e.EndpointURL == "" {
			return Document{}, errors.New(errors.KindValidation, "node configuration entry missing EndpointUrl")
		}
		key := endpointKey(e.EndpointURL)
		ep, ok := byEndpoint[key]
		if !ok {
			ep = &EndpointEntry{EndpointURL: e.EndpointURL}
			byEndpoint[key] = ep
			order = append(order, key)
		}
		if e.UseSecurity != nil {
			ep.UseSecurity = *e.UseSecurity
		}
		if e.Auth != nil {
			auth, err := sealAuth(*e.Auth, sealer)
			if err != nil {
				return Document{}, err
			}
			ep.Auth = auth
		}

		if e.NodeID != "" {
			id, err := ParseIdentifier(e.NodeID)
			if err != nil {
				return Document{}, err
			}
			ep.Nodes = append(ep.Nodes, NodeEntry{Identifier: id, RawID: e.NodeID})
		}
		for _, n := range e.OpcNodes {
			id, err := ParseIdentifier(n.ID)
			if err != nil {
				return Document{}, err
			}
			ep.Nodes = append(ep.Nodes, NodeEntry{
				Identifier:               id,
				RawID:                    n.ID,
				DisplayName:              n.DisplayName,
				PublishingIntervalMS:     n.OpcPublishingInterval,
				SamplingIntervalMS:       n.OpcSamplingInterval,
				HeartbeatIntervalSeconds: n.HeartbeatInterval,
				SkipFirst:                n.SkipFirst,
			})
		}
	}

	doc := Document{}
	for _, key := range order {
		doc.Endpoints = append(doc.Endpoints, *byEndpoint[key])
	}
	return doc, nil
}

func sealAuth(raw rawAuth, sealer *Sealer) (Auth, error) {
	switch raw.Mode {
	case "", "Anonymous":
		return Auth{Mode: AuthAnonymous}, nil
	case "UsernamePassword":
		if raw.EncryptedPassword != "" {
			return Auth{Mode: AuthUsernamePassword, Username: raw.Username, PasswordCipher: raw.EncryptedPassword}, nil
		}
		cipher, err := sealer.Seal(raw.Password)
		if err != nil {
			return Auth{}, err
		}
		return Auth{Mode: AuthUsernamePassword, Username: raw.Username, PasswordCipher: cipher}, nil
	default:
		return Auth{}, errors.New(errors.KindValidation, "unknown authentication mode: "+raw.Mode)
	}
}

// MarshalDocument serializes doc back to the nested JSON shape, the only
// shape Persist ever writes; legacy flat entries are only ever read, never
// re-written.
func MarshalDocument(doc Document) ([]byte, error) {
	type wireNode struct {
		ID                    string `json:"Id"`
		DisplayName           string `json:"DisplayName,omitempty"`
		OpcPublishingInterval *int   `json:"OpcPublishingInterval,omitempty"`
		OpcSamplingInterval   *int   `json:"OpcSamplingInterval,omitempty"`
		HeartbeatInterval     *int   `json:"HeartbeatInterval,omitempty"`
		SkipFirst             *bool  `json:"SkipFirst,omitempty"`
	}
	type wireAuth struct {
		Mode              string `json:"Mode"`
		Username          string `json:"UserName,omitempty"`
		EncryptedPassword string `json:"EncryptedPassword,omitempty"`
	}
	type wireEntry struct {
		EndpointURL string     `json:"EndpointUrl"`
		UseSecurity bool       `json:"UseSecurity"`
		Auth        *wireAuth  `json:"OpcAuthenticationMode,omitempty"`
		OpcNodes    []wireNode `json:"OpcNodes"`
	}

	out := make([]wireEntry, 0, len(doc.Endpoints))
	for _, ep := range doc.Endpoints {
		we := wireEntry{EndpointURL: ep.EndpointURL, UseSecurity: ep.UseSecurity}
		if ep.Auth.Mode != AuthAnonymous {
			we.Auth = &wireAuth{Mode: "UsernamePassword", Username: ep.Auth.Username, EncryptedPassword: ep.Auth.PasswordCipher}
		}
		for _, n := range ep.Nodes {
			we.OpcNodes = append(we.OpcNodes, wireNode{
				ID:                    n.RawID,
				DisplayName:           n.DisplayName,
				OpcPublishingInterval: n.PublishingIntervalMS,
				OpcSamplingInterval:   n.SamplingIntervalMS,
				HeartbeatInterval:     n.HeartbeatIntervalSeconds,
				SkipFirst:             n.SkipFirst,
			})
		}
		out = append(out, we)
	}
	return json.MarshalIndent(out, "", "  ")
}
