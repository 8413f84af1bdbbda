// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package errors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError(t *testing.T) {
	err := New(KindValidation, "invalid input")
	assert.Equal(t, "invalid input", err.Error())

	wrapped := Wrap(err, KindInternal, "failed to validate")
	assert.Equal(t, "failed to validate: invalid input", wrapped.Error())
}

func TestGetKind(t *testing.T) {
	err := New(KindValidation, "invalid input")
	assert.Equal(t, KindValidation, GetKind(err))

	wrapped := Wrap(err, KindInternal, "failed")
	assert.Equal(t, KindInternal, GetKind(wrapped))

	assert.Equal(t, KindUnknown, GetKind(errors.New("std error")))
}

func TestAttributes(t *testing.T) {
	err := New(KindValidation, "invalid input")
	err = Attr(err, "field", "port")
	err = Attr(err, "value", 80)

	attrs := GetAttributes(err)
	assert.Equal(t, "port", attrs["field"])
	assert.Equal(t, 80, attrs["value"])

	wrapped := Wrap(err, KindInternal, "failed")
	wrapped = Attr(wrapped, "operation", "start")

	allAttrs := GetAttributes(wrapped)
	assert.Equal(t, "port", allAttrs["field"])
	assert.Equal(t, "start", allAttrs["operation"])
}

func TestTransientInvalidatedNodeUnresolvableRoundTrip(t *testing.T) {
	transient := New(KindTransient, "dial timeout")
	assert.Equal(t, KindTransient, GetKind(transient))
	assert.Equal(t, "transient", KindTransient.String())

	invalidated := New(KindInvalidated, "session id invalid")
	assert.Equal(t, KindInvalidated, GetKind(invalidated))
	assert.Equal(t, "invalidated", KindInvalidated.String())

	unresolvable := New(KindNodeUnresolvable, "unknown namespace uri")
	assert.Equal(t, KindNodeUnresolvable, GetKind(unresolvable))
	assert.Equal(t, "node_unresolvable", KindNodeUnresolvable.String())

	wrapped := Wrap(transient, KindInvalidated, "reconnect required")
	assert.Equal(t, KindInvalidated, GetKind(wrapped))
	assert.ErrorIs(t, wrapped, transient)
}

func TestToMethodStatus(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"nil error is OK", nil, 200},
		{"plain std error is internal", errors.New("boom"), 500},
		{"validation is not acceptable", New(KindValidation, "bad input"), 406},
		{"node unresolvable is not acceptable", New(KindNodeUnresolvable, "bad node id"), 406},
		{"not found is gone", New(KindNotFound, "no such endpoint"), 410},
		{"unavailable is gone", New(KindUnavailable, "no session"), 410},
		{"invalidated is gone", New(KindInvalidated, "session id invalid"), 410},
		{"conflict is conflict", New(KindConflict, "already monitored"), 409},
		{"internal is internal server error", New(KindInternal, "unexpected"), 500},
		{"transient is internal server error", New(KindTransient, "dial timeout"), 500},
		{"timeout is internal server error", New(KindTimeout, "deadline exceeded"), 500},
		{"permission is internal server error", New(KindPermission, "denied"), 500},
		{"unknown is internal server error", New(KindUnknown, "?"), 500},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ToMethodStatus(tc.err))
		})
	}
}
