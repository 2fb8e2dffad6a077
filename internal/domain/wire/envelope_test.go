package wire_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deskwire/extensions/internal/domain/wire"
)

func TestDecodeInbound_Call_RoundTrip(t *testing.T) {
	original := wire.Call{
		RequestID: "abc",
		Module:    "discord",
		Name:      "voice.set_mute",
		Version:   1,
		Params:    json.RawMessage(`{"mute":true}`),
	}
	raw, err := json.Marshal(original)
	require.NoError(t, err)

	in, err := wire.DecodeInbound(raw)
	require.NoError(t, err)
	require.NotNil(t, in.Call)
	assert.Nil(t, in.Subscribe)
	assert.Equal(t, original.RequestID, in.Call.RequestID)
	assert.Equal(t, original.Module, in.Call.Module)
	assert.Equal(t, original.Name, in.Call.Name)
	assert.Equal(t, original.Version, in.Call.Version)
	assert.JSONEq(t, string(original.Params), string(in.Call.Params))
}

func TestDecodeInbound_Call_DefaultsVersion(t *testing.T) {
	raw := []byte(`{"type":"call","request_id":"r1","module":"m","name":"n","params":{}}`)
	in, err := wire.DecodeInbound(raw)
	require.NoError(t, err)
	require.NotNil(t, in.Call)
	assert.Equal(t, 1, in.Call.Version)
}

func TestDecodeInbound_Subscribe_RoundTrip(t *testing.T) {
	original := wire.Subscribe{Module: "discord", Name: "system.window.*"}
	raw, err := json.Marshal(original)
	require.NoError(t, err)

	in, err := wire.DecodeInbound(raw)
	require.NoError(t, err)
	require.NotNil(t, in.Subscribe)
	assert.Equal(t, original, *in.Subscribe)
}

func TestDecodeInbound_UnknownType(t *testing.T) {
	_, err := wire.DecodeInbound([]byte(`{"type":"bogus"}`))
	assert.Error(t, err)
}

func TestEvent_MarshalJSON_RoundTrip(t *testing.T) {
	original := wire.Event{
		Module:    "system",
		Name:      "window.focus_changed",
		Version:   1,
		Data:      json.RawMessage(`{"app":"Discord"}`),
		Timestamp: 1700000000,
	}
	raw, err := json.Marshal(original)
	require.NoError(t, err)

	var decoded wire.Event
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, original, decoded)

	var tag struct {
		Type string `json:"type"`
	}
	require.NoError(t, json.Unmarshal(raw, &tag))
	assert.Equal(t, "event", tag.Type)
}

func TestResponse_MarshalJSON_EchoesRequestID(t *testing.T) {
	original := wire.Response{RequestID: "abc", Success: true, Data: json.RawMessage(`{}`)}
	raw, err := json.Marshal(original)
	require.NoError(t, err)

	var decoded wire.Response
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, original, decoded)
}
