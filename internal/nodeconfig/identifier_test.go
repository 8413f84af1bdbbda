// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package nodeconfig

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseIdentifier_NamespaceIndex(t *testing.T) {
	id, err := ParseIdentifier("ns=2;s=Temperature")
	require.NoError(t, err)
	assert.Equal(t, IdentifierNamespaceIndex, id.Kind)
}

func TestParseIdentifier_NamespaceURI(t *testing.T) {
	id, err := ParseIdentifier("nsu=http://example.com/UA;s=Temperature")
	require.NoError(t, err)
	assert.Equal(t, IdentifierNamespaceURI, id.Kind)
}

func TestParseIdentifier_Empty(t *testing.T) {
	_, err := ParseIdentifier("   ")
	assert.Error(t, err)
}

func TestIdentifier_CanonicalIgnoresWhitespaceAndCase(t *testing.T) {
	a, _ := ParseIdentifier("NS=2;S=Temperature")
	b, _ := ParseIdentifier("ns = 2 ; s = temperature")
	assert.Equal(t, a.Canonical(), b.Canonical())
}
