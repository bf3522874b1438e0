// Package engine runs the per-call dialog loop: it consumes the serialized
// session event stream, feeds media through voice activity detection, merges
// end-of-speech segments into turns, and coordinates greeting, filler, and
// reply audio through the session's generation-tagged sender.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/ClareAI/astra-call-agent/internal/config"
	"github.com/ClareAI/astra-call-agent/internal/llm"
	"github.com/ClareAI/astra-call-agent/internal/registry"
	"github.com/ClareAI/astra-call-agent/internal/session"
	"github.com/ClareAI/astra-call-agent/internal/tts"
	"github.com/ClareAI/astra-call-agent/internal/vad"
	"github.com/ClareAI/astra-call-agent/internal/wire"
	"github.com/ClareAI/astra-call-agent/pkg/logger"
	"github.com/ClareAI/astra-call-agent/pkg/pubsub"
	"github.com/bytedance/gopkg/util/gopool"
	"go.uber.org/zap"
)

const (
	greetingReadyWait = 2 * time.Second
	frameLogEvery     = 250
)

// Transcriber converts a caller utterance WAV to text.
type Transcriber interface {
	Transcribe(ctx context.Context, wav []byte) (string, error)
}

// Chat runs one chat completion.
type Chat interface {
	Complete(ctx context.Context, messages []llm.Message, opts llm.Options) (string, error)
}

// Voice renders text to mu-law.
type Voice interface {
	SynthesizeULaw(ctx context.Context, engine, voice string, speed float64, text string) ([]byte, error)
}

// SegmentTranscoder prepares a mu-law segment for transcription.
type SegmentTranscoder interface {
	ULawToWAV16k(ctx context.Context, mulaw []byte, filterChain string) ([]byte, error)
}

// Registry is the external call registry surface the engine consumes. May be
// absent; sessions then run without persistence.
type Registry interface {
	EnsureCall(ctx context.Context, callSid string) (*registry.CallRecord, error)
	MostRecentRinging(ctx context.Context) (*registry.CallRecord, error)
	TTSBindingFor(ctx context.Context, callSid string) (*registry.TTSBinding, error)
	Update(ctx context.Context, callSid string, req *registry.UpdateCallRequest) (*registry.CallRecord, error)
	MarkCompleted(ctx context.Context, callSid string) (*registry.CallRecord, error)
	AppendMessage(ctx context.Context, callSid, role, content string) error
}

// SummaryPublisher feeds the post-call pipeline. May be absent.
type SummaryPublisher interface {
	PublishCallSummary(ctx context.Context, summary pubsub.CallSummaryEvent) error
}

// CallRedirector executes an operator transfer downstream. May be absent.
type CallRedirector interface {
	RedirectCall(callSid, target string) error
}

// Engine wires the dialog components together. One Engine serves all calls.
type Engine struct {
	cfg       *config.Config
	stt       Transcriber
	chat      Chat
	voice     Voice
	cache     *tts.PromptCache
	transcode SegmentTranscoder
	reg       Registry
	publisher SummaryPublisher
	redirect  CallRedirector

	mu       sync.Mutex
	sessions map[string]*session.Session
}

// New creates an engine. reg, publisher, and redirect may be nil.
func New(cfg *config.Config, stt Transcriber, chat Chat, voice Voice, cache *tts.PromptCache,
	transcode SegmentTranscoder, reg Registry, publisher SummaryPublisher, redirect CallRedirector) *Engine {
	return &Engine{
		cfg:       cfg,
		stt:       stt,
		chat:      chat,
		voice:     voice,
		cache:     cache,
		transcode: transcode,
		reg:       reg,
		publisher: publisher,
		redirect:  redirect,
		sessions:  make(map[string]*session.Session),
	}
}

// DefaultBinding is the server-default TTS configuration.
func (e *Engine) DefaultBinding() session.TTSBinding {
	return session.TTSBinding{Engine: e.cfg.TTSEngine, Voice: e.cfg.TTSVoice, Speed: e.cfg.TTSSpeed}
}

// Register makes a session reachable by call id for operator commands.
func (e *Engine) Register(sess *session.Session) {
	e.mu.Lock()
	if sess.CallID != "" {
		e.sessions[sess.CallID] = sess
	}
	e.mu.Unlock()
}

// Lookup finds a live session by call id.
func (e *Engine) Lookup(callID string) (*session.Session, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	sess, ok := e.sessions[callID]
	return sess, ok
}

// CloseAll tears down every registered session, used on server shutdown.
func (e *Engine) CloseAll() {
	e.mu.Lock()
	sessions := make([]*session.Session, 0, len(e.sessions))
	for _, s := range e.sessions {
		sessions = append(sessions, s)
	}
	e.mu.Unlock()
	for _, s := range sessions {
		s.Close()
	}
}

func (e *Engine) unregister(sess *session.Session) {
	e.mu.Lock()
	if cur, ok := e.sessions[sess.CallID]; ok && cur == sess {
		delete(e.sessions, sess.CallID)
	}
	e.mu.Unlock()
}

// sessionRuntime is the loop-local state that never leaves the RunSession
// goroutine.
type sessionRuntime struct {
	sess     *session.Session
	detector *vad.Detector

	pendingSegments [][]byte
	mergeSeq        int

	segmentQueue   [][]byte
	segmentRunning bool

	frameCount int
}

// RunSession consumes the session event stream until the session closes.
// Call it on its own goroutine, one per session.
func (e *Engine) RunSession(sess *session.Session) {
	rt := &sessionRuntime{
		sess: sess,
		detector: vad.NewDetector(vad.Config{
			IdleThreshold:    e.cfg.VADThreshold,
			PlayingThreshold: e.cfg.VADThresholdWhilePlaying,
			WarmupIdle:       e.cfg.SpeechWarmupFrames,
			WarmupPlaying:    e.cfg.SpeechWarmupWhilePlaying,
			SilenceMs:        e.cfg.SilenceMs,
			MinSpeechFrames:  e.cfg.MinSpeechFrames,
			MinSpeechBytes:   e.cfg.MinSpeechBytes,
			MinSpeechMs:      e.cfg.MinSpeechMs,
		}),
	}

	defer e.teardown(rt)

	for {
		select {
		case <-sess.Done():
			return
		case ev := <-sess.Events():
			switch ev := ev.(type) {
			case session.ConnectedEvent:
				sess.MarkConnected()
				e.maybeScheduleGreeting(sess)
			case session.StartEvent:
				e.onStart(sess, ev)
			case session.FrameEvent:
				e.onFrame(rt, ev)
			case session.MarkEvent:
				// informational
			case session.StopEvent:
				sess.RequestStop("peer_stop")
				sess.Close()
				return
			case session.MergeDeadlineEvent:
				e.onMergeDeadline(rt, ev.Seq)
			case session.TurnDoneEvent:
				rt.segmentRunning = false
				e.maybeStartTurn(rt)
			case session.OperatorEvent:
				e.onOperator(sess, ev)
			}
		}
	}
}

func (e *Engine) onStart(sess *session.Session, ev session.StartEvent) {
	sess.MarkStarted(ev.StreamSid)

	if sess.CallID == "" {
		e.bindCallID(sess, ev)
	}
	if sess.CallID != "" {
		e.Register(sess)
		if e.reg != nil {
			callID := sess.CallID
			gopool.Go(func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if _, err := e.reg.EnsureCall(ctx, callID); err != nil {
					logger.Base().Warn("call record ensure failed", zap.String("call_id", callID), zap.Error(err))
					return
				}
				if _, err := e.reg.Update(ctx, callID, &registry.UpdateCallRequest{Status: registry.CallStatusInProgress}); err != nil {
					logger.Base().Warn("call status update failed", zap.String("call_id", callID), zap.Error(err))
				}
			})
		}
	}

	e.maybeScheduleGreeting(sess)
}

// bindCallID resolves the call identifier for streams that arrived without
// one on the upgrade URL: start.callSid, then accountSid, then the most
// recent ringing registry entry.
func (e *Engine) bindCallID(sess *session.Session, ev session.StartEvent) {
	switch {
	case ev.CallSid != "":
		sess.SetCallID(ev.CallSid)
	case ev.AccountSid != "":
		sess.SetCallID(ev.AccountSid)
	default:
		if e.reg == nil {
			break
		}
		ctx, cancel := context.WithTimeout(context.Background(), greetingReadyWait)
		record, err := e.reg.MostRecentRinging(ctx)
		cancel()
		if err != nil || record == nil {
			logger.Base().Error("call binding failed, continuing without persistence",
				zap.String("stream_sid", ev.StreamSid),
				zap.Error(err))
			return
		}
		sess.SetCallID(record.CallSid)
	}
}

func (e *Engine) onFrame(rt *sessionRuntime, ev session.FrameEvent) {
	// Outbound/both tracks are the agent's own echo.
	if ev.Track != "" && ev.Track != wire.TrackInbound {
		return
	}
	sess := rt.sess

	// The greeting never barges itself out: media is dropped entirely while
	// it plays.
	if sess.GreetingInProgress() {
		return
	}

	rt.frameCount++
	if rt.frameCount%frameLogEvery == 0 {
		logger.Base().Debug("media frames processed",
			zap.String("call_id", sess.CallID),
			zap.Int("frames", rt.frameCount),
			zap.Bool("speech_active", rt.detector.SpeechActive()))
	}

	result := rt.detector.ProcessFrame(ev.Payload, time.Now().UnixMilli(), sess.Sending())
	if result.SpeechStart {
		sess.OnCallerSpeechStart()
		// A new utterance reopens the merge window: any armed deadline is
		// stale until this segment reaches end-of-speech.
		rt.mergeSeq++
	}
	if result.Segment != nil {
		e.enqueueSegment(rt, result.Segment)
	}
}

// enqueueSegment merges the segment with any pending ones and (re)arms the
// merge deadline.
func (e *Engine) enqueueSegment(rt *sessionRuntime, segment []byte) {
	rt.pendingSegments = append(rt.pendingSegments, segment)
	rt.mergeSeq++
	seq := rt.mergeSeq

	window := e.cfg.MergeWindowMs
	if rt.sess.Sending() {
		window = e.cfg.MergeWindowMsWhilePlaying
	}

	sess := rt.sess
	time.AfterFunc(time.Duration(window)*time.Millisecond, func() {
		sess.Post(session.MergeDeadlineEvent{Seq: seq})
	})
}

func (e *Engine) onMergeDeadline(rt *sessionRuntime, seq int) {
	if seq != rt.mergeSeq || len(rt.pendingSegments) == 0 {
		return
	}

	size := 0
	for _, s := range rt.pendingSegments {
		size += len(s)
	}
	merged := make([]byte, 0, size)
	for _, s := range rt.pendingSegments {
		merged = append(merged, s...)
	}
	rt.pendingSegments = nil

	rt.segmentQueue = append(rt.segmentQueue, merged)
	e.maybeStartTurn(rt)
}

// maybeStartTurn starts the next queued segment unless a turn is already
// running; the turn handler is non-reentrant per session.
func (e *Engine) maybeStartTurn(rt *sessionRuntime) {
	if rt.segmentRunning || len(rt.segmentQueue) == 0 {
		return
	}
	segment := rt.segmentQueue[0]
	rt.segmentQueue = rt.segmentQueue[1:]
	rt.segmentRunning = true

	sess := rt.sess
	gopool.Go(func() {
		e.runTurn(sess, segment)
		sess.Post(session.TurnDoneEvent{})
	})
}

func (e *Engine) onOperator(sess *session.Session, ev session.OperatorEvent) {
	switch ev.Kind {
	case session.OpSetAI:
		sess.SetAIEnabled(ev.Enabled)
		logger.Base().Info("ai responses toggled",
			zap.String("call_id", sess.CallID),
			zap.Bool("enabled", ev.Enabled))
	case session.OpSpeak:
		text := ev.Text
		gopool.Go(func() {
			e.speak(sess, text, true)
		})
	case session.OpTransfer:
		text, target := ev.Text, ev.Target
		gopool.Go(func() {
			if text != "" {
				e.speak(sess, text, true)
			}
			if e.redirect != nil {
				if err := e.redirect.RedirectCall(sess.CallID, target); err != nil {
					logger.Base().Error("transfer redirect failed",
						zap.String("call_id", sess.CallID),
						zap.Error(err))
				}
			}
		})
	}
}

func (e *Engine) teardown(rt *sessionRuntime) {
	sess := rt.sess
	sess.Close()
	e.unregister(sess)

	callID := sess.CallID
	if callID == "" {
		return
	}
	turnCount := sess.TurnCount()
	messageCount := sess.HistoryLen()
	startedAt := sess.StartedAt

	gopool.Go(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		var record *registry.CallRecord
		if e.reg != nil {
			var err error
			record, err = e.reg.MarkCompleted(ctx, callID)
			if err != nil {
				logger.Base().Warn("call completion update failed", zap.String("call_id", callID), zap.Error(err))
			}
		}
		if e.publisher == nil {
			return
		}

		summary := pubsub.CallSummaryEvent{
			CallSid:         callID,
			StartedAt:       startedAt,
			EndedAt:         time.Now(),
			DurationSeconds: int(time.Since(startedAt).Seconds()),
			TurnCount:       turnCount,
			MessageCount:    messageCount,
		}
		if record != nil {
			summary.From = record.FromNumber
			summary.To = record.ToNumber
			summary.CapturedPurpose = record.CapturedPurpose
		}
		if err := e.publisher.PublishCallSummary(ctx, summary); err != nil {
			logger.Base().Warn("call summary publish failed", zap.String("call_id", callID), zap.Error(err))
		}
	})
}
