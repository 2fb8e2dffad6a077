package capabilities

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deskwire/extensions/internal/domain/manifest"
)

func TestValidator_CheckSubscribe(t *testing.T) {
	v := New(manifest.Permissions{Subscribe: []string{"discord.*"}})

	tests := []struct {
		name    string
		pattern string
		wantErr bool
	}{
		{name: "exact ceiling", pattern: "discord.*", wantErr: false},
		{name: "narrower than ceiling", pattern: "discord.voice_*", wantErr: false},
		{name: "different module", pattern: "slack.*", wantErr: true},
		{name: "wider than ceiling", pattern: "*", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.CheckSubscribe(tt.pattern)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidator_CheckSubscribe_DenyByDefault(t *testing.T) {
	v := New(manifest.Permissions{})
	assert.Error(t, v.CheckSubscribe("anything.*"))
}

func TestValidator_CheckCall(t *testing.T) {
	v := New(manifest.Permissions{Call: []string{"discord-bridge@1"}})

	require.NoError(t, v.CheckCall("discord-bridge", "send-message", 1))
	assert.Error(t, v.CheckCall("discord-bridge", "send-message", 2))
	assert.Error(t, v.CheckCall("slack-bridge", "send-message", 1))
}

func TestValidator_CheckCall_DenyByDefault(t *testing.T) {
	v := New(manifest.Permissions{})
	assert.Error(t, v.CheckCall("discord-bridge", "send-message", 1))
}

func TestValidator_BooleanFlags_DenyByDefault(t *testing.T) {
	v := New(manifest.Permissions{})

	assert.Error(t, v.CheckNetworkHTTP())
	assert.Error(t, v.CheckNetworkWebsocket())
	assert.Error(t, v.CheckNetworkTCP())
	assert.Error(t, v.CheckStorage())
	assert.Error(t, v.CheckTimers())
}

func TestValidator_BooleanFlags_Granted(t *testing.T) {
	v := New(manifest.Permissions{
		NetworkHTTP:      true,
		NetworkWebsocket: true,
		NetworkTCP:       true,
		Storage:          true,
		Timers:           true,
	})

	assert.NoError(t, v.CheckNetworkHTTP())
	assert.NoError(t, v.CheckNetworkWebsocket())
	assert.NoError(t, v.CheckNetworkTCP())
	assert.NoError(t, v.CheckStorage())
	assert.NoError(t, v.CheckTimers())
}
