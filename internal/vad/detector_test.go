package vad

import (
	"testing"

	"github.com/ClareAI/astra-call-agent/internal/audio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loudFrame() []byte {
	pcm := make([]int16, audio.FrameBytes)
	for i := range pcm {
		pcm[i] = 8000
	}
	return audio.Encode(pcm)
}

func silentFrame() []byte {
	frame := make([]byte, audio.FrameBytes)
	for i := range frame {
		frame[i] = audio.SilenceByte
	}
	return frame
}

// feed pushes frames 20 ms apart starting at startMs and returns every
// per-frame result plus the advanced clock.
func feed(d *Detector, frames [][]byte, startMs int64, playing bool) ([]Result, int64) {
	results := make([]Result, 0, len(frames))
	now := startMs
	for _, f := range frames {
		results = append(results, d.ProcessFrame(f, now, playing))
		now += 20
	}
	return results, now
}

func repeat(frame []byte, n int) [][]byte {
	out := make([][]byte, n)
	for i := range out {
		out[i] = frame
	}
	return out
}

func findSegment(results []Result) ([]byte, bool) {
	for _, r := range results {
		if r.Segment != nil {
			return r.Segment, true
		}
	}
	return nil, false
}

func sawDiscard(results []Result) bool {
	for _, r := range results {
		if r.Discarded {
			return true
		}
	}
	return false
}

func TestSpeechStartRequiresWarmup(t *testing.T) {
	d := NewDetector(DefaultConfig())

	r := d.ProcessFrame(loudFrame(), 0, false)
	assert.False(t, r.SpeechStart, "one loud frame is a click, not speech")

	r = d.ProcessFrame(loudFrame(), 20, false)
	assert.True(t, r.SpeechStart, "second consecutive loud frame confirms start")
	assert.True(t, d.SpeechActive())
}

func TestSpeechStartWarmupResetOnSilence(t *testing.T) {
	d := NewDetector(DefaultConfig())

	d.ProcessFrame(loudFrame(), 0, false)
	d.ProcessFrame(silentFrame(), 20, false)
	r := d.ProcessFrame(loudFrame(), 40, false)
	assert.False(t, r.SpeechStart, "warmup counter resets on an intervening silent frame")
}

func TestWhilePlayingWarmupIsLonger(t *testing.T) {
	d := NewDetector(DefaultConfig())

	results, _ := feed(d, repeat(loudFrame(), 4), 0, true)
	assert.False(t, results[2].SpeechStart)
	assert.True(t, results[3].SpeechStart, "four consecutive frames confirm start while playing")
}

func TestSegmentBelowMinimumIsDiscarded(t *testing.T) {
	d := NewDetector(DefaultConfig())

	// 150 ms burst: confirmed speech, but far under every minimum.
	_, now := feed(d, repeat(loudFrame(), 7), 0, false)
	require.True(t, d.SpeechActive())

	results, _ := feed(d, repeat(silentFrame(), 30), now, false)
	assert.True(t, sawDiscard(results))
	_, found := findSegment(results)
	assert.False(t, found)
	assert.False(t, d.SpeechActive(), "speech_active returns to false")
}

func TestSegmentAcceptedAndTrimmed(t *testing.T) {
	cfg := DefaultConfig()
	d := NewDetector(cfg)

	// 800 ms of speech.
	_, now := feed(d, repeat(loudFrame(), 40), 0, false)
	require.True(t, d.SpeechActive())

	results, _ := feed(d, repeat(silentFrame(), 40), now, false)
	segment, found := findSegment(results)
	require.True(t, found)

	// Trailing silence is trimmed: the segment is exactly the loud frames.
	assert.Equal(t, 40*audio.FrameBytes, len(segment))
	assert.GreaterOrEqual(t, len(segment), cfg.MinSpeechBytes)
	assert.False(t, d.SpeechActive())
}

func TestMidSpeechSilenceIsKept(t *testing.T) {
	d := NewDetector(DefaultConfig())

	_, now := feed(d, repeat(loudFrame(), 20), 0, false)
	// A short pause, below the EOS gap.
	_, now = feed(d, repeat(silentFrame(), 5), now, false)
	_, now = feed(d, repeat(loudFrame(), 20), now, false)

	results, _ := feed(d, repeat(silentFrame(), 40), now, false)
	segment, found := findSegment(results)
	require.True(t, found)
	// 20 loud + 5 silent + 20 loud frames survive the trim.
	assert.Equal(t, 45*audio.FrameBytes, len(segment))
}

func TestNoEOSBeforeSilenceGap(t *testing.T) {
	d := NewDetector(DefaultConfig())

	_, now := feed(d, repeat(loudFrame(), 30), 0, false)
	// 300 ms of silence with a 400 ms gap: no EOS yet.
	results, _ := feed(d, repeat(silentFrame(), 15), now, false)
	_, found := findSegment(results)
	assert.False(t, found)
	assert.False(t, sawDiscard(results))
	assert.True(t, d.SpeechActive())
}

func TestResetDropsState(t *testing.T) {
	d := NewDetector(DefaultConfig())
	feed(d, repeat(loudFrame(), 10), 0, false)
	require.True(t, d.SpeechActive())
	d.Reset()
	assert.False(t, d.SpeechActive())
}
