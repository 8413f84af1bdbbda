// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package nodeconfig

import (
	"strconv"

	"github.com/nexus-edge/opcua-gateway/internal/errors"
)

// ContinuationToken packs a configuration version and an item offset into
// one opaque uint64: a token issued against one NodeConfigVersion is
// invalid (Gone) once that version has advanced, since the offset it
// encodes may no longer line up with the same entries.
type ContinuationToken uint64

// EncodeContinuationToken packs version and offset into a single token.
func EncodeContinuationToken(version uint64, offset uint32) ContinuationToken {
	return ContinuationToken(version<<32 | uint64(offset))
}

// Version returns the NodeConfigVersion this token was issued against.
func (t ContinuationToken) Version() uint64 {
	return uint64(t) >> 32
}

// Offset returns the item offset encoded in this token.
func (t ContinuationToken) Offset() uint32 {
	return uint32(uint64(t) & 0xFFFFFFFF)
}

// Validate returns a KindInvalidated error if t was issued against a
// configuration version other than currentVersion.
func (t ContinuationToken) Validate(currentVersion uint64) error {
	if t.Version() != currentVersion {
		return errors.New(errors.KindInvalidated, "continuation token was issued against a stale configuration version")
	}
	return nil
}

// String renders t as a decimal string, the wire form the Method
// Dispatcher hands back to callers as "continuationToken": a plain uint64
// would risk silent precision loss in a JSON-number-backed client.
func (t ContinuationToken) String() string {
	return strconv.FormatUint(uint64(t), 10)
}

// ParseContinuationToken parses the decimal string form String produces.
func ParseContinuationToken(s string) (ContinuationToken, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, errors.Wrap(err, errors.KindValidation, "malformed continuation token")
	}
	return ContinuationToken(v), nil
}
