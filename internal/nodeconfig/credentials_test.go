// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package nodeconfig

import (
	"crypto/rand"
	"crypto/rsa"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSealer_RoundTrip(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	sealer := NewSealer(&priv.PublicKey)
	unsealer := NewUnsealer(priv)

	cipher, err := sealer.Seal("correct horse battery staple")
	require.NoError(t, err)
	assert.NotEmpty(t, cipher)

	plain, err := unsealer.Unseal(cipher)
	require.NoError(t, err)
	assert.Equal(t, "correct horse battery staple", plain)
}

func TestSealer_NilKeyIsError(t *testing.T) {
	var sealer *Sealer
	_, err := sealer.Seal("password")
	assert.Error(t, err)
}
