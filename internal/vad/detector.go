// Package vad implements energy-based voice activity detection and speech
// segmentation over 20 ms mu-law frames.
package vad

import (
	"github.com/ClareAI/astra-call-agent/internal/audio"
)

// Config holds the detection thresholds. Two threshold/warmup pairs apply
// depending on whether the agent is currently playing audio: the higher pair
// resists the caller-side echo of the agent's own voice.
type Config struct {
	IdleThreshold    int // level required to count a frame as speech while the agent is quiet
	PlayingThreshold int // level required while the agent is speaking
	WarmupIdle       int // consecutive speech frames to confirm start while quiet
	WarmupPlaying    int // consecutive speech frames to confirm start while playing
	SilenceMs        int // trailing-silence gap that ends a segment
	MinSpeechFrames  int
	MinSpeechBytes   int
	MinSpeechMs      int
}

// DefaultConfig mirrors the documented defaults.
func DefaultConfig() Config {
	return Config{
		IdleThreshold:    2,
		PlayingThreshold: 6,
		WarmupIdle:       2,
		WarmupPlaying:    4,
		SilenceMs:        400,
		MinSpeechFrames:  10,
		MinSpeechBytes:   1600,
		MinSpeechMs:      400,
	}
}

// Result reports what one frame did to the segmentation state.
type Result struct {
	SpeechStart bool
	// Segment is a completed utterance, trimmed to its last non-silent frame.
	// Nil unless this frame confirmed end-of-speech for a segment that met the
	// minimum size requirements.
	Segment []byte
	// Discarded is true when an end-of-speech segment was dropped as noise.
	Discarded bool
}

// Detector assembles speech segments from a stream of mu-law frames.
// It is owned by one session loop and is not safe for concurrent use.
type Detector struct {
	cfg Config

	speechActive  bool
	warmupCount   int
	segmentFrames [][]byte
	lastNonsilent int // index into segmentFrames of the last speech frame
	speechStartMs int64
	lastSpeechMs  int64
	pendingWarmup [][]byte // frames buffered while confirming speech start
}

// NewDetector creates a detector with the given thresholds.
func NewDetector(cfg Config) *Detector {
	return &Detector{cfg: cfg, lastNonsilent: -1}
}

// SpeechActive reports whether a segment is currently being accumulated.
func (d *Detector) SpeechActive() bool { return d.speechActive }

// Reset drops all in-flight state.
func (d *Detector) Reset() {
	d.speechActive = false
	d.warmupCount = 0
	d.segmentFrames = nil
	d.pendingWarmup = nil
	d.lastNonsilent = -1
	d.speechStartMs = 0
	d.lastSpeechMs = 0
}

// ProcessFrame feeds one frame at wall-clock time nowMs. agentPlaying selects
// the echo-resistant threshold pair. While the initial greeting is in
// progress the caller must not feed frames at all; that guard lives in the
// session loop.
func (d *Detector) ProcessFrame(frame []byte, nowMs int64, agentPlaying bool) Result {
	threshold := d.cfg.IdleThreshold
	warmup := d.cfg.WarmupIdle
	if agentPlaying {
		threshold = d.cfg.PlayingThreshold
		warmup = d.cfg.WarmupPlaying
	}

	level := audio.Level(frame)
	loud := level >= threshold

	if !d.speechActive {
		if !loud {
			d.warmupCount = 0
			d.pendingWarmup = nil
			return Result{}
		}
		// Click-style false positives are suppressed by requiring warmup
		// consecutive loud frames before confirming speech start.
		d.warmupCount++
		d.pendingWarmup = append(d.pendingWarmup, cloneFrame(frame))
		if d.warmupCount < warmup {
			return Result{}
		}
		d.speechActive = true
		d.segmentFrames = d.pendingWarmup
		d.pendingWarmup = nil
		d.warmupCount = 0
		d.lastNonsilent = len(d.segmentFrames) - 1
		d.speechStartMs = nowMs - int64(len(d.segmentFrames)-1)*20
		d.lastSpeechMs = nowMs
		return Result{SpeechStart: true}
	}

	// Silence in the middle of speech is kept verbatim; dropping it distorts
	// the transcription.
	d.segmentFrames = append(d.segmentFrames, cloneFrame(frame))
	if loud {
		d.lastNonsilent = len(d.segmentFrames) - 1
		d.lastSpeechMs = nowMs
		return Result{}
	}

	if nowMs-d.lastSpeechMs <= int64(d.cfg.SilenceMs) {
		return Result{}
	}

	// End of speech: trim to the last non-silent frame, then apply the noise
	// floor.
	trimmed := d.segmentFrames[:d.lastNonsilent+1]
	frames := len(trimmed)
	bytes := 0
	for _, f := range trimmed {
		bytes += len(f)
	}
	durationMs := d.lastSpeechMs - d.speechStartMs + 20

	d.Reset()

	if frames < d.cfg.MinSpeechFrames || bytes < d.cfg.MinSpeechBytes || durationMs < int64(d.cfg.MinSpeechMs) {
		return Result{Discarded: true}
	}

	segment := make([]byte, 0, bytes)
	for _, f := range trimmed {
		segment = append(segment, f...)
	}
	return Result{Segment: segment}
}

func cloneFrame(frame []byte) []byte {
	out := make([]byte, len(frame))
	copy(out, frame)
	return out
}
