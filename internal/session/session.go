// Package session owns the per-call mutable state and the paced,
// generation-tagged audio sender. One Session exists per live media-stream
// WebSocket; all state transitions flow through a single event loop run by
// the engine, with bounded worker goroutines for blocking I/O.
package session

import (
	"sync"
	"time"
)

// Transport is the outbound side of the media stream. *websocket.Conn
// satisfies it.
type Transport interface {
	WriteJSON(v interface{}) error
	Close() error
}

// Message is one local conversation-log entry (mirror of the persisted log).
type Message struct {
	Role    string
	Content string
}

// TTSBinding is the session's synthesis configuration.
type TTSBinding struct {
	Engine string
	Voice  string
	Speed  float64
}

// Session is the per-call state machine value.
type Session struct {
	CallID    string
	StartedAt time.Time

	transport Transport
	writeMu   sync.Mutex

	mu sync.Mutex

	streamSid         string
	connected         bool
	startReceived     bool
	initialSent       bool
	greetingScheduled bool

	// Audio-send state. Generations increase monotonically; a stop request
	// names the generation it wants to stop, and the uninterruptible marker
	// exempts exactly one generation (the initial greeting).
	activeGen          uint64
	stopGen            uint64
	uninterruptibleGen uint64
	sending            bool
	greetingInProgress bool
	sendDone           chan SendResult

	tts TTSBinding

	closingAsked    bool
	purposeCaptured bool
	farewellSaid    bool
	aiEnabled       bool

	history   []Message
	turnCount int

	events    chan Event
	closed    chan struct{}
	closeOnce sync.Once
}

// New creates a session bound to a transport. The TTS binding starts from
// the server defaults and may be replaced once the per-call configuration is
// known.
func New(callID string, transport Transport, defaults TTSBinding) *Session {
	return &Session{
		CallID:    callID,
		StartedAt: time.Now(),
		transport: transport,
		tts:       defaults,
		aiEnabled: true,
		events:    make(chan Event, 256),
		closed:    make(chan struct{}),
	}
}

// Post enqueues an event for the session loop. Returns false once the
// session is closed.
func (s *Session) Post(ev Event) bool {
	select {
	case <-s.closed:
		return false
	default:
	}
	select {
	case s.events <- ev:
		return true
	case <-s.closed:
		return false
	}
}

// Events is the serialized inbound event stream.
func (s *Session) Events() <-chan Event { return s.events }

// Done is closed when the session is torn down.
func (s *Session) Done() <-chan struct{} { return s.closed }

// Close tears the session down: the in-flight send observes the closed
// channel and stops, pending timers become stale, and the transport is
// closed. Safe to call more than once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.closed)
		_ = s.transport.Close()
	})
}

func (s *Session) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

// SetCallID binds the call identifier after a late lookup.
func (s *Session) SetCallID(callID string) {
	s.mu.Lock()
	s.CallID = callID
	s.mu.Unlock()
}

// MarkConnected records the protocol connected event.
func (s *Session) MarkConnected() {
	s.mu.Lock()
	s.connected = true
	s.mu.Unlock()
}

// MarkStarted records the start event and the peer-assigned stream id.
func (s *Session) MarkStarted(streamSid string) {
	s.mu.Lock()
	s.streamSid = streamSid
	s.startReceived = true
	s.mu.Unlock()
}

// Ready reports whether both handshake events have arrived.
func (s *Session) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected && s.startReceived
}

// StreamSid returns the peer-assigned stream id, empty before start.
func (s *Session) StreamSid() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streamSid
}

// TryScheduleGreeting flips the one-shot greeting guard. Only the first
// caller gets true.
func (s *Session) TryScheduleGreeting() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.greetingScheduled {
		return false
	}
	s.greetingScheduled = true
	return true
}

// MarkInitialSent records that the greeting finished.
func (s *Session) MarkInitialSent() {
	s.mu.Lock()
	s.initialSent = true
	s.mu.Unlock()
}

// InitialSent reports whether the greeting has completed.
func (s *Session) InitialSent() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initialSent
}

// Sending reports whether an audio generation is in flight.
func (s *Session) Sending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sending
}

// GreetingInProgress reports whether the uninterruptible greeting is being
// streamed. While true, inbound media is dropped entirely.
func (s *Session) GreetingInProgress() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.greetingInProgress
}

// SetTTSBinding replaces the per-call synthesis configuration.
func (s *Session) SetTTSBinding(b TTSBinding) {
	s.mu.Lock()
	s.tts = b
	s.mu.Unlock()
}

// TTSBinding returns the session's synthesis configuration.
func (s *Session) TTSBinding() TTSBinding {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tts
}

// SetAIEnabled toggles automatic replies. Manual operator replies are not
// affected.
func (s *Session) SetAIEnabled(enabled bool) {
	s.mu.Lock()
	s.aiEnabled = enabled
	s.mu.Unlock()
}

// AIEnabled reports whether automatic replies are on.
func (s *Session) AIEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.aiEnabled
}

// SetClosingAsked records that the closing question was posed.
func (s *Session) SetClosingAsked(v bool) {
	s.mu.Lock()
	s.closingAsked = v
	s.mu.Unlock()
}

// ClosingAsked reports whether the closing question was posed.
func (s *Session) ClosingAsked() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closingAsked
}

// SetPurposeCaptured records that the caller's purpose was captured.
func (s *Session) SetPurposeCaptured(v bool) {
	s.mu.Lock()
	s.purposeCaptured = v
	s.mu.Unlock()
}

// PurposeCaptured reports whether the caller's purpose was captured.
func (s *Session) PurposeCaptured() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.purposeCaptured
}

// SetFarewellSaid records that the farewell was spoken; the engine stops
// initiating further model calls afterwards.
func (s *Session) SetFarewellSaid() {
	s.mu.Lock()
	s.farewellSaid = true
	s.mu.Unlock()
}

// FarewellSaid reports whether the farewell was spoken.
func (s *Session) FarewellSaid() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.farewellSaid
}

// AppendHistory adds one entry to the local conversation mirror and counts
// completed user turns.
func (s *Session) AppendHistory(role, content string) {
	s.mu.Lock()
	s.history = append(s.history, Message{Role: role, Content: content})
	if role == "user" {
		s.turnCount++
	}
	s.mu.Unlock()
}

// LastHistory returns up to n most recent entries in order.
func (s *Session) LastHistory(n int) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	start := len(s.history) - n
	if start < 0 {
		start = 0
	}
	out := make([]Message, len(s.history)-start)
	copy(out, s.history[start:])
	return out
}

// TurnCount returns the number of completed user turns.
func (s *Session) TurnCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.turnCount
}

// HistoryLen returns the local conversation-log length.
func (s *Session) HistoryLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.history)
}

func (s *Session) writeJSON(v interface{}) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.transport.WriteJSON(v)
}
