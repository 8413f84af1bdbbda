// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package nodeconfig

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContinuationToken_EncodeDecode(t *testing.T) {
	tok := EncodeContinuationToken(7, 64)
	assert.Equal(t, uint64(7), tok.Version())
	assert.Equal(t, uint32(64), tok.Offset())
}

func TestContinuationToken_StringRoundTrip(t *testing.T) {
	tok := EncodeContinuationToken(12345, 987654)
	parsed, err := ParseContinuationToken(tok.String())
	require.NoError(t, err)
	assert.Equal(t, tok, parsed)
	assert.Equal(t, uint64(12345), parsed.Version())
	assert.Equal(t, uint32(987654), parsed.Offset())
}

func TestContinuationToken_ValidateRejectsStaleVersion(t *testing.T) {
	tok := EncodeContinuationToken(1, 0)
	assert.NoError(t, tok.Validate(1))
	assert.Error(t, tok.Validate(2))
}

func TestParseContinuationToken_MalformedIsValidationError(t *testing.T) {
	_, err := ParseContinuationToken("not-a-number")
	require.Error(t, err)
}
