// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package settings

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_PassesValidation(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestValidate_RejectsOutOfBoundsKnobs(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Settings)
	}{
		{"queue capacity below 1024", func(s *Settings) { s.QueueCapacity = 512 }},
		{"hub message size above 256KiB", func(s *Settings) { s.HubMessageSize = 262145 }},
		{"negative send interval", func(s *Settings) { s.SendIntervalSeconds = -1 }},
		{"session connect wait below 10s", func(s *Settings) { s.SessionConnectWaitSeconds = 5 }},
		{"session creation timeout at 1s", func(s *Settings) { s.SessionCreationTimeout = time.Second }},
		{"keep-alive interval below 2s", func(s *Settings) { s.KeepAliveInterval = time.Second }},
		{"keep-alive threshold at 1", func(s *Settings) { s.KeepAliveDisconnectAfter = 1 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := Default()
			tc.mutate(&s)
			assert.Error(t, s.Validate())
		})
	}
}

func TestFromEnv_OverridesDefaults(t *testing.T) {
	t.Setenv("OPCUA_GATEWAY_SEND_INTERVAL_SECONDS", "0")
	t.Setenv("OPCUA_GATEWAY_HUB_MESSAGE_SIZE", "0")
	t.Setenv("OPCUA_GATEWAY_SKIP_FIRST_DEFAULT", "true")
	t.Setenv("OPCUA_GATEWAY_SUPPRESSED_OPC_STATUS_CODES", "0x80310000, 0x80320000")

	s := FromEnv()
	assert.Zero(t, s.SendIntervalSeconds)
	assert.Zero(t, s.HubMessageSize)
	assert.True(t, s.SkipFirstDefault)
	assert.Equal(t, []uint32{0x80310000, 0x80320000}, s.SuppressedStatusCodes)
	assert.True(t, s.IsSingleMessageMode())
}

func TestIsSingleMessageMode_RequiresBothZero(t *testing.T) {
	s := Default()
	assert.False(t, s.IsSingleMessageMode())
	s.SendIntervalSeconds = 0
	assert.False(t, s.IsSingleMessageMode())
	s.HubMessageSize = 0
	assert.True(t, s.IsSingleMessageMode())
}
