package engine

import (
	"context"
	"strings"
	"time"

	"github.com/ClareAI/astra-call-agent/internal/llm"
	"github.com/ClareAI/astra-call-agent/internal/registry"
	"github.com/ClareAI/astra-call-agent/internal/session"
	"github.com/ClareAI/astra-call-agent/pkg/logger"
	"github.com/bytedance/gopkg/util/gopool"
	"go.uber.org/zap"
)

const (
	turnTimeout     = 45 * time.Second
	historyContext  = 10
	chatTemperature = 0.3
	chatMaxTokens   = 80
)

// runTurn processes one merged caller segment: STT, intent classification,
// routing, reply generation, synthesis, and paced send. Single-flight per
// session; the engine queues further segments until this returns.
func (e *Engine) runTurn(sess *session.Session, segment []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), turnTimeout)
	defer cancel()

	start := time.Now()

	// The "thinking" acknowledgement overlaps reply generation; its future
	// is not awaited so the pipeline below is never blocked on it.
	if sess.AIEnabled() {
		e.maybePlayFiller(sess)
	}

	wav, err := e.transcode.ULawToWAV16k(ctx, segment, e.cfg.WhisperFilterChain())
	if err != nil {
		logger.Base().Error("segment transcode failed",
			zap.String("call_id", sess.CallID),
			zap.Error(err))
		return
	}

	text, err := e.stt.Transcribe(ctx, wav)
	if err != nil {
		logger.Base().Error("transcription failed",
			zap.String("call_id", sess.CallID),
			zap.Error(err))
		return
	}
	if text == "" {
		// Nothing usable was heard; no user message is logged for this turn.
		e.speak(sess, apologyText, false)
		return
	}

	logger.Base().Info("caller said",
		zap.String("call_id", sess.CallID),
		zap.String("text", text),
		zap.Duration("stt_latency", time.Since(start)))

	e.appendLog(sess, registry.MessageRoleUser, text)

	if !sess.AIEnabled() {
		// Operator has taken over; the transcript still accumulates.
		return
	}
	if sess.FarewellSaid() {
		return
	}

	action := e.classify(ctx, sess.ClosingAsked(), text)
	logger.Base().Info("intent classified",
		zap.String("call_id", sess.CallID),
		zap.String("action", action))

	switch action {
	case ActionFarewell:
		e.sayFarewell(sess)
	case ActionTakeMessage:
		e.speak(sess, takeMessageText, true)
	case ActionClosing:
		sess.SetPurposeCaptured(true)
		sess.SetClosingAsked(true)
		e.persistPurpose(sess, text)
		e.speak(sess, "Understood. "+closingQuestion, true)
	default:
		if sess.ClosingAsked() && matchesNothingFurther(text) {
			e.sayFarewell(sess)
			return
		}
		reply, err := e.generateReply(ctx, sess)
		if err != nil {
			logger.Base().Error("reply generation failed, skipping turn",
				zap.String("call_id", sess.CallID),
				zap.Error(err))
			return
		}
		e.speak(sess, reply, true)
	}
}

func (e *Engine) sayFarewell(sess *session.Session) {
	sess.SetFarewellSaid()
	e.speak(sess, farewellText, true)
}

// generateReply calls the conversational model with the recent history.
func (e *Engine) generateReply(ctx context.Context, sess *session.Session) (string, error) {
	messages := []llm.Message{{Role: "system", Content: chatSystemPrompt}}
	for _, m := range sess.LastHistory(historyContext) {
		messages = append(messages, llm.Message{Role: m.Role, Content: m.Content})
	}

	reply, err := e.chat.Complete(ctx, messages, llm.Options{
		Model:       e.cfg.ChatModel,
		Temperature: chatTemperature,
		MaxTokens:   chatMaxTokens,
	})
	if err != nil {
		return "", err
	}
	return truncateReply(reply, e.cfg.MaxResponseChars), nil
}

// speak appends the assistant message (when logged), stops any in-flight
// audio honoring the uninterruptible rule, synthesizes the reply, and
// streams it. The log append always happens before the send begins.
func (e *Engine) speak(sess *session.Session, text string, logged bool) {
	ctx, cancel := context.WithTimeout(context.Background(), turnTimeout)
	defer cancel()

	if logged {
		e.appendLog(sess, registry.MessageRoleAssistant, text)
	}

	sess.StopAndWait(ctx, "new_reply")

	binding := sess.TTSBinding()
	audio, err := e.voice.SynthesizeULaw(ctx, binding.Engine, binding.Voice, binding.Speed, text)
	if err != nil {
		logger.Base().Error("reply synthesis failed",
			zap.String("call_id", sess.CallID),
			zap.Error(err))
		return
	}

	completed, err := sess.SendAudio(context.Background(), audio, session.SendOptions{Label: session.LabelReply})
	if err != nil {
		logger.Base().Error("reply send failed",
			zap.String("call_id", sess.CallID),
			zap.Error(err))
		return
	}
	logger.Base().Info("assistant said",
		zap.String("call_id", sess.CallID),
		zap.String("text", text),
		zap.Bool("completed", completed))
}

func (e *Engine) appendLog(sess *session.Session, role, content string) {
	sess.AppendHistory(role, content)
	if e.reg == nil || sess.CallID == "" {
		return
	}

	callID := sess.CallID
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := e.reg.EnsureCall(ctx, callID); err != nil {
		logger.Base().Warn("call record ensure failed", zap.String("call_id", callID), zap.Error(err))
		return
	}
	if err := e.reg.AppendMessage(ctx, callID, role, content); err != nil {
		logger.Base().Warn("conversation log append failed", zap.String("call_id", callID), zap.Error(err))
	}
}

func (e *Engine) persistPurpose(sess *session.Session, purpose string) {
	if e.reg == nil || sess.CallID == "" {
		return
	}
	callID := sess.CallID
	gopool.Go(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := e.reg.Update(ctx, callID, &registry.UpdateCallRequest{CapturedPurpose: purpose}); err != nil {
			logger.Base().Warn("purpose persist failed", zap.String("call_id", callID), zap.Error(err))
		}
	})
}

// truncateReply bounds the spoken reply length, appending an ellipsis on
// overflow.
func truncateReply(reply string, maxChars int) string {
	reply = strings.TrimSpace(reply)
	if maxChars <= 0 {
		return reply
	}
	runes := []rune(reply)
	if len(runes) <= maxChars {
		return reply
	}
	return strings.TrimSpace(string(runes[:maxChars])) + "…"
}
