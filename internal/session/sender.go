package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/ClareAI/astra-call-agent/internal/audio"
	"github.com/ClareAI/astra-call-agent/internal/wire"
	"github.com/ClareAI/astra-call-agent/pkg/logger"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Typed sender errors.
var (
	ErrSessionClosed  = errors.New("session closed")
	ErrNoStream       = errors.New("stream id not known")
	ErrSendInProgress = errors.New("audio send already in flight")
)

// Send labels with scheduler-visible meaning.
const (
	LabelGreeting = "greeting"
	LabelFiller   = "filler"
	LabelReply    = "reply"
)

// SendOptions tags one audio send.
type SendOptions struct {
	Label           string
	Uninterruptible bool
}

// SendResult is the completion value of one audio generation.
type SendResult struct {
	Completed bool
	Err       error
}

// SendFuture is a handle on an asynchronous send.
type SendFuture struct {
	ch chan SendResult
}

// Wait blocks for the send to finish or ctx to expire.
func (f *SendFuture) Wait(ctx context.Context) SendResult {
	select {
	case r := <-f.ch:
		return r
	case <-ctx.Done():
		return SendResult{Err: ctx.Err()}
	}
}

// SendAudio streams a mu-law payload to the peer as exact 160-byte media
// frames spaced 20 ms apart, followed by a mark event on natural completion.
// It blocks until the send finishes or is cancelled and reports whether every
// chunk was emitted. Only one send may be in flight; callers stop the
// previous generation first.
func (s *Session) SendAudio(ctx context.Context, mulaw []byte, opts SendOptions) (bool, error) {
	s.mu.Lock()
	if s.isClosed() {
		s.mu.Unlock()
		return false, ErrSessionClosed
	}
	if s.streamSid == "" {
		s.mu.Unlock()
		return false, ErrNoStream
	}
	if s.sending {
		s.mu.Unlock()
		return false, ErrSendInProgress
	}

	s.activeGen++
	gen := s.activeGen
	s.sending = true
	if opts.Uninterruptible {
		s.uninterruptibleGen = gen
	}
	if opts.Label == LabelGreeting {
		s.greetingInProgress = true
	}
	done := make(chan SendResult, 1)
	s.sendDone = done
	streamSid := s.streamSid
	s.mu.Unlock()

	completed, err := s.streamChunks(ctx, streamSid, gen, mulaw)

	s.mu.Lock()
	s.sending = false
	if s.uninterruptibleGen == gen {
		s.uninterruptibleGen = 0
	}
	if opts.Label == LabelGreeting {
		s.greetingInProgress = false
	}
	s.sendDone = nil
	s.mu.Unlock()

	done <- SendResult{Completed: completed, Err: err}

	logger.Base().Debug("audio send finished",
		zap.String("call_id", s.CallID),
		zap.String("label", opts.Label),
		zap.Uint64("gen", gen),
		zap.Bool("completed", completed))
	return completed, err
}

// SendAudioAsync runs SendAudio in a goroutine and returns its future.
func (s *Session) SendAudioAsync(ctx context.Context, mulaw []byte, opts SendOptions) *SendFuture {
	f := &SendFuture{ch: make(chan SendResult, 1)}
	go func() {
		completed, err := s.SendAudio(ctx, mulaw, opts)
		f.ch <- SendResult{Completed: completed, Err: err}
	}()
	return f
}

func (s *Session) streamChunks(ctx context.Context, streamSid string, gen uint64, mulaw []byte) (bool, error) {
	limiter := rate.NewLimiter(rate.Every(audio.FrameDuration), 1)
	for _, chunk := range audio.Chunk(mulaw) {
		if err := limiter.Wait(ctx); err != nil {
			return false, err
		}
		if s.isClosed() {
			return false, ErrSessionClosed
		}

		s.mu.Lock()
		stopped := s.stopGen == gen
		s.mu.Unlock()
		if stopped {
			return false, nil
		}

		msg := wire.NewMediaMessage(streamSid, chunk)
		if err := s.writeJSON(msg); err != nil {
			return false, fmt.Errorf("media write failed: %w", err)
		}
	}

	markName := "mark-" + uuid.New().String()
	if err := s.writeJSON(wire.NewMarkMessage(streamSid, markName)); err != nil {
		return false, fmt.Errorf("mark write failed: %w", err)
	}
	return true, nil
}

// RequestStop asks the in-flight generation to stop at its next 20 ms tick.
// The request is ignored when that generation is uninterruptible. Returns
// whether a stop was actually requested.
func (s *Session) RequestStop(reason string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.sending {
		return false
	}
	if s.uninterruptibleGen == s.activeGen {
		return false
	}
	s.stopGen = s.activeGen
	logger.Base().Debug("audio stop requested",
		zap.String("call_id", s.CallID),
		zap.Uint64("gen", s.activeGen),
		zap.String("reason", reason))
	return true
}

// StopAndWait requests a stop and then waits for the in-flight send to
// finish, whether it was cancelled or (for an uninterruptible generation)
// ran to natural completion.
func (s *Session) StopAndWait(ctx context.Context, reason string) {
	s.RequestStop(reason)

	s.mu.Lock()
	done := s.sendDone
	s.mu.Unlock()
	if done == nil {
		return
	}

	select {
	case r := <-done:
		// Put the result back for any other StopAndWait caller waiting on
		// this send.
		done <- r
	case <-ctx.Done():
	case <-s.closed:
	}
}

// OnCallerSpeechStart applies the barge-in rule: confirmed caller speech
// cancels the agent's current utterance unless it is the greeting.
func (s *Session) OnCallerSpeechStart() {
	s.RequestStop("caller_speech")
}
