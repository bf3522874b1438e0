package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGreetingScheduledOnce(t *testing.T) {
	sess := New("CA1", &fakeTransport{}, TTSBinding{})
	assert.True(t, sess.TryScheduleGreeting())
	assert.False(t, sess.TryScheduleGreeting())
}

func TestReadyRequiresBothHandshakeEvents(t *testing.T) {
	sess := New("CA1", &fakeTransport{}, TTSBinding{})
	assert.False(t, sess.Ready())
	sess.MarkConnected()
	assert.False(t, sess.Ready())
	sess.MarkStarted("MZ1")
	assert.True(t, sess.Ready())
	assert.Equal(t, "MZ1", sess.StreamSid())
}

func TestHistoryWindow(t *testing.T) {
	sess := New("CA1", &fakeTransport{}, TTSBinding{})
	sess.AppendHistory("user", "one")
	sess.AppendHistory("assistant", "two")
	sess.AppendHistory("user", "three")

	last := sess.LastHistory(2)
	require.Len(t, last, 2)
	assert.Equal(t, "two", last[0].Content)
	assert.Equal(t, "three", last[1].Content)

	assert.Equal(t, 2, sess.TurnCount())
	assert.Equal(t, 3, sess.HistoryLen())
}

func TestPostAfterCloseReturnsFalse(t *testing.T) {
	sess := New("CA1", &fakeTransport{}, TTSBinding{})
	require.True(t, sess.Post(ConnectedEvent{}))
	sess.Close()
	assert.False(t, sess.Post(ConnectedEvent{}))
}

func TestAIEnabledDefaultsOn(t *testing.T) {
	sess := New("CA1", &fakeTransport{}, TTSBinding{})
	assert.True(t, sess.AIEnabled())
	sess.SetAIEnabled(false)
	assert.False(t, sess.AIEnabled())
}

func TestTTSBindingReplaceable(t *testing.T) {
	sess := New("CA1", &fakeTransport{}, TTSBinding{Engine: "openai", Voice: "alloy", Speed: 1})
	sess.SetTTSBinding(TTSBinding{Engine: "google", Voice: "en-US-Neural2-C", Speed: 1.1})
	b := sess.TTSBinding()
	assert.Equal(t, "google", b.Engine)
	assert.Equal(t, "en-US-Neural2-C", b.Voice)
}
