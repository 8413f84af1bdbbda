// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package nodeconfig

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"

	"github.com/nexus-edge/opcua-gateway/internal/errors"
)

// AuthMode identifies how a session authenticates to its endpoint.
type AuthMode int

const (
	// AuthAnonymous is the default: no credentials presented.
	AuthAnonymous AuthMode = iota
	// AuthUsernamePassword authenticates with a username and a password
	// held encrypted in memory.
	AuthUsernamePassword
)

// Auth is an endpoint's authentication descriptor. The password is never
// held in plaintext outside of the single call that seals it: Sealer
// encrypts it against the process application certificate's public key
// using RSA-OAEP (SHA-256), and only PasswordCipher (the sealed bytes) is
// ever stored or serialized.
type Auth struct {
	Mode           AuthMode `json:"mode"`
	Username       string   `json:"username,omitempty"`
	PasswordCipher string   `json:"passwordCipher,omitempty"` // base64 RSA-OAEP ciphertext
}

// Sealer encrypts plaintext credentials against the application
// certificate's public key. Sealer never touches the private half —
// decryption happens only through Unsealer, which the Session Supervisor
// calls at the moment an identity must be constructed for a connect
// attempt; this
// package never implements the certificate store's own lifecycle.
type Sealer struct {
	pub *rsa.PublicKey
}

// NewSealer builds a Sealer around the application certificate's public key.
func NewSealer(pub *rsa.PublicKey) *Sealer {
	return &Sealer{pub: pub}
}

// Seal encrypts password with RSA-OAEP/SHA-256 and returns it base64
// encoded, ready to store in Auth.PasswordCipher.
func (s *Sealer) Seal(password string) (string, error) {
	if s == nil || s.pub == nil {
		return "", errors.New(errors.KindInternal, "no application certificate public key available")
	}
	ct, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, s.pub, []byte(password), nil)
	if err != nil {
		return "", errors.Wrap(err, errors.KindInternal, "failed to seal credential")
	}
	return base64.StdEncoding.EncodeToString(ct), nil
}

// Unsealer decrypts PasswordCipher back to plaintext using the application
// certificate's private key. Held separately from Sealer so that components
// which only ever write configuration (the Method Dispatcher) need not be
// handed the private key.
type Unsealer struct {
	priv *rsa.PrivateKey
}

// NewUnsealer builds an Unsealer around the application certificate's
// private key.
func NewUnsealer(priv *rsa.PrivateKey) *Unsealer {
	return &Unsealer{priv: priv}
}

// Unseal decrypts a base64 RSA-OAEP ciphertext produced by Sealer.Seal.
func (u *Unsealer) Unseal(cipherB64 string) (string, error) {
	if u == nil || u.priv == nil {
		return "", errors.New(errors.KindInternal, "no application certificate private key available")
	}
	ct, err := base64.StdEncoding.DecodeString(cipherB64)
	if err != nil {
		return "", errors.Wrap(err, errors.KindValidation, "malformed credential ciphertext")
	}
	pt, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, u.priv, ct, nil)
	if err != nil {
		return "", errors.Wrap(err, errors.KindInternal, "failed to unseal credential")
	}
	return string(pt), nil
}
