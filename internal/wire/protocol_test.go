package wire

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAgentMediaMessageOmitsTrack(t *testing.T) {
	msg := NewMediaMessage("MZ1", []byte{0xFF, 0x7F, 0x00})
	data, err := json.Marshal(msg)
	require.NoError(t, err)

	assert.NotContains(t, string(data), `"track"`)
	assert.Contains(t, string(data), `"streamSid":"MZ1"`)

	var back Message
	require.NoError(t, json.Unmarshal(data, &back))
	payload, err := back.Media.DecodePayload()
	require.NoError(t, err)
	assert.Equal(t, []byte{0xFF, 0x7F, 0x00}, payload)
}

func TestMarkMessageShape(t *testing.T) {
	data, err := json.Marshal(NewMarkMessage("MZ1", "mark-abc"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"mark","streamSid":"MZ1","mark":{"name":"mark-abc"}}`, string(data))
}

func TestInboundStartParsing(t *testing.T) {
	raw := `{"event":"start","streamSid":"MZ9","start":{"streamSid":"MZ9","callSid":"CA9","accountSid":"AC9","tracks":["inbound"]}}`
	var msg Message
	require.NoError(t, json.Unmarshal([]byte(raw), &msg))
	assert.Equal(t, EventStart, msg.Event)
	require.NotNil(t, msg.Start)
	assert.Equal(t, "CA9", msg.Start.CallSid)
	assert.Equal(t, "MZ9", msg.Start.StreamSid)
}

func TestInboundMediaTrackPreserved(t *testing.T) {
	raw := `{"event":"media","streamSid":"MZ9","media":{"track":"inbound","payload":"//8A"}}`
	var msg Message
	require.NoError(t, json.Unmarshal([]byte(raw), &msg))
	require.NotNil(t, msg.Media)
	assert.Equal(t, TrackInbound, msg.Media.Track)
}
