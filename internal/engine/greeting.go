package engine

import (
	"context"
	"time"

	"github.com/ClareAI/astra-call-agent/internal/session"
	"github.com/ClareAI/astra-call-agent/internal/tts"
	"github.com/ClareAI/astra-call-agent/pkg/logger"
	"github.com/bytedance/gopkg/util/gopool"
	"go.uber.org/zap"
)

// maybeScheduleGreeting arms the initial greeting exactly once, as soon as
// both handshake events have arrived.
func (e *Engine) maybeScheduleGreeting(sess *session.Session) {
	if !sess.Ready() {
		return
	}
	if !sess.TryScheduleGreeting() {
		return
	}
	gopool.Go(func() {
		e.sendGreeting(sess)
	})
}

// sendGreeting plays the initial greeting as an uninterruptible generation.
//
// Fast path: the default-config pre-rendered greeting is already in memory,
// so the send starts without waiting for the per-call TTS binding lookup.
// Slow path: resolve the binding from the registry (falling back to server
// defaults) and go through the full cache lookup, synthesizing on miss.
func (e *Engine) sendGreeting(sess *session.Session) {
	if !e.waitForStream(sess) {
		logger.Base().Error("greeting skipped: stream never became ready",
			zap.String("call_id", sess.CallID))
		return
	}

	defaults := e.DefaultBinding()
	greetingKey := tts.Key{Role: tts.RoleGreeting, Engine: defaults.Engine, Voice: defaults.Voice, Speed: defaults.Speed}

	audio, ok := e.cache.Peek(greetingKey, e.cfg.GreetingText)
	if !ok {
		binding := defaults
		if e.reg != nil && sess.CallID != "" {
			ctx, cancel := context.WithTimeout(context.Background(), greetingReadyWait)
			if b, err := e.reg.TTSBindingFor(ctx, sess.CallID); err == nil && b != nil {
				binding = session.TTSBinding{Engine: b.Engine, Voice: b.Voice, Speed: b.Speed}
				sess.SetTTSBinding(binding)
			}
			cancel()
		}

		key := tts.Key{Role: tts.RoleGreeting, Engine: binding.Engine, Voice: binding.Voice, Speed: binding.Speed}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		var err error
		audio, err = e.cache.Lookup(ctx, key, e.cfg.GreetingText)
		cancel()
		if err != nil {
			logger.Base().Error("greeting synthesis failed",
				zap.String("call_id", sess.CallID),
				zap.Error(err))
			return
		}
	}

	completed, err := sess.SendAudio(context.Background(), audio, session.SendOptions{
		Label:           session.LabelGreeting,
		Uninterruptible: true,
	})
	if err != nil {
		logger.Base().Error("greeting send failed",
			zap.String("call_id", sess.CallID),
			zap.Error(err))
		return
	}
	sess.MarkInitialSent()
	logger.Base().Info("greeting sent",
		zap.String("call_id", sess.CallID),
		zap.Int("bytes", len(audio)),
		zap.Bool("completed", completed))
}

// waitForStream polls briefly for the stream id; the greeting is skipped
// with an error when the handshake stalls.
func (e *Engine) waitForStream(sess *session.Session) bool {
	deadline := time.Now().Add(greetingReadyWait)
	for time.Now().Before(deadline) {
		select {
		case <-sess.Done():
			return false
		default:
		}
		if sess.StreamSid() != "" {
			return true
		}
		time.Sleep(50 * time.Millisecond)
	}
	return sess.StreamSid() != ""
}

// maybePlayFiller plays the pre-rendered "thinking" acknowledgement while
// the real reply is being generated. Any in-flight send is stopped first
// (subject to the uninterruptible rule); the filler itself is interruptible
// and runs concurrently with the reply pipeline.
func (e *Engine) maybePlayFiller(sess *session.Session) *session.SendFuture {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if sess.Sending() {
		sess.StopAndWait(ctx, "filler_start")
	}

	binding := sess.TTSBinding()
	key := tts.Key{Role: tts.RoleFiller, Engine: binding.Engine, Voice: binding.Voice, Speed: binding.Speed}
	audio, err := e.cache.Lookup(ctx, key, e.cfg.FillerText)
	if err != nil {
		logger.Base().Warn("filler unavailable",
			zap.String("call_id", sess.CallID),
			zap.Error(err))
		return nil
	}

	return sess.SendAudioAsync(context.Background(), audio, session.SendOptions{Label: session.LabelFiller})
}
