package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ClareAI/astra-call-agent/internal/audio"
	"github.com/ClareAI/astra-call-agent/internal/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTransport struct {
	mu     sync.Mutex
	msgs   []wire.Message
	closed bool
}

func (f *fakeTransport) WriteJSON(v interface{}) error {
	msg, ok := v.(wire.Message)
	if !ok {
		return nil
	}
	f.mu.Lock()
	f.msgs = append(f.msgs, msg)
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) snapshot() []wire.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]wire.Message, len(f.msgs))
	copy(out, f.msgs)
	return out
}

func (f *fakeTransport) countByEvent(event string) int {
	n := 0
	for _, m := range f.snapshot() {
		if m.Event == event {
			n++
		}
	}
	return n
}

func newTestSession(t *testing.T) (*Session, *fakeTransport) {
	t.Helper()
	ft := &fakeTransport{}
	sess := New("CA123", ft, TTSBinding{Engine: "openai", Voice: "alloy", Speed: 1.0})
	sess.MarkConnected()
	sess.MarkStarted("MZ123")
	return sess, ft
}

func payload(frames int) []byte {
	return make([]byte, frames*audio.FrameBytes)
}

func TestSendAudioCompletesWithMark(t *testing.T) {
	sess, ft := newTestSession(t)

	start := time.Now()
	completed, err := sess.SendAudio(context.Background(), payload(3), SendOptions{Label: LabelReply})
	require.NoError(t, err)
	assert.True(t, completed)

	// Two inter-frame gaps of 20 ms each, minus timer granularity.
	assert.GreaterOrEqual(t, time.Since(start), 35*time.Millisecond)

	msgs := ft.snapshot()
	require.Len(t, msgs, 4)
	for i := 0; i < 3; i++ {
		assert.Equal(t, wire.EventMedia, msgs[i].Event)
		assert.Equal(t, "MZ123", msgs[i].StreamSid)
		raw, err := msgs[i].Media.DecodePayload()
		require.NoError(t, err)
		assert.Len(t, raw, audio.FrameBytes)
		assert.Empty(t, msgs[i].Media.Track, "agent media must omit the track field")
	}
	assert.Equal(t, wire.EventMark, msgs[3].Event)
	assert.NotEmpty(t, msgs[3].Mark.Name)
	assert.False(t, sess.Sending())
}

func TestSendAudioRequiresStream(t *testing.T) {
	ft := &fakeTransport{}
	sess := New("CA123", ft, TTSBinding{})

	_, err := sess.SendAudio(context.Background(), payload(1), SendOptions{})
	assert.ErrorIs(t, err, ErrNoStream)
}

func TestSendAudioRejectsOverlap(t *testing.T) {
	sess, _ := newTestSession(t)

	future := sess.SendAudioAsync(context.Background(), payload(10), SendOptions{Label: LabelReply})
	require.Eventually(t, sess.Sending, time.Second, 5*time.Millisecond)

	_, err := sess.SendAudio(context.Background(), payload(1), SendOptions{})
	assert.ErrorIs(t, err, ErrSendInProgress)

	sess.RequestStop("test")
	r := future.Wait(context.Background())
	assert.False(t, r.Completed)
}

func TestRequestStopCancelsWithinOneTick(t *testing.T) {
	sess, ft := newTestSession(t)

	future := sess.SendAudioAsync(context.Background(), payload(50), SendOptions{Label: LabelReply})
	require.Eventually(t, sess.Sending, time.Second, 5*time.Millisecond)
	time.Sleep(60 * time.Millisecond)

	require.True(t, sess.RequestStop("caller_speech"))
	r := future.Wait(context.Background())
	assert.False(t, r.Completed)
	assert.NoError(t, r.Err)

	// Cancelled sends never emit a mark, and far fewer than all frames went
	// out.
	assert.Equal(t, 0, ft.countByEvent(wire.EventMark))
	assert.Less(t, ft.countByEvent(wire.EventMedia), 50)
	assert.False(t, sess.Sending())
}

func TestUninterruptibleIgnoresStop(t *testing.T) {
	sess, ft := newTestSession(t)

	future := sess.SendAudioAsync(context.Background(), payload(8), SendOptions{
		Label:           LabelGreeting,
		Uninterruptible: true,
	})
	require.Eventually(t, sess.GreetingInProgress, time.Second, 5*time.Millisecond)

	assert.False(t, sess.RequestStop("caller_speech"), "stop request on the greeting is ignored")

	r := future.Wait(context.Background())
	assert.True(t, r.Completed)
	assert.NoError(t, r.Err)

	// Every chunk plus the final mark made it out.
	assert.Equal(t, 8, ft.countByEvent(wire.EventMedia))
	assert.Equal(t, 1, ft.countByEvent(wire.EventMark))
	assert.False(t, sess.GreetingInProgress())
}

func TestStopAndWaitBlocksUntilSendFinishes(t *testing.T) {
	sess, _ := newTestSession(t)

	future := sess.SendAudioAsync(context.Background(), payload(30), SendOptions{Label: LabelFiller})
	require.Eventually(t, sess.Sending, time.Second, 5*time.Millisecond)

	sess.StopAndWait(context.Background(), "new_reply")
	assert.False(t, sess.Sending(), "stop_and_wait returns only after the send released the session")

	r := future.Wait(context.Background())
	assert.False(t, r.Completed)
}

func TestSequentialSendsEachGetAMark(t *testing.T) {
	sess, ft := newTestSession(t)

	for i := 0; i < 2; i++ {
		completed, err := sess.SendAudio(context.Background(), payload(2), SendOptions{Label: LabelReply})
		require.NoError(t, err)
		require.True(t, completed)
	}
	assert.Equal(t, 4, ft.countByEvent(wire.EventMedia))
	assert.Equal(t, 2, ft.countByEvent(wire.EventMark))
}

func TestCloseCancelsInFlightSend(t *testing.T) {
	sess, ft := newTestSession(t)

	future := sess.SendAudioAsync(context.Background(), payload(100), SendOptions{Label: LabelReply})
	require.Eventually(t, sess.Sending, time.Second, 5*time.Millisecond)

	sess.Close()
	r := future.Wait(context.Background())
	assert.False(t, r.Completed)
	assert.ErrorIs(t, r.Err, ErrSessionClosed)

	ft.mu.Lock()
	closed := ft.closed
	ft.mu.Unlock()
	assert.True(t, closed)
}
