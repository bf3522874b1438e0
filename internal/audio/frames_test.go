package audio

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loudFrame(sample int16) []byte {
	pcm := make([]int16, FrameBytes)
	for i := range pcm {
		pcm[i] = sample
	}
	return Encode(pcm)
}

func silentFrame() []byte {
	frame := make([]byte, FrameBytes)
	for i := range frame {
		frame[i] = SilenceByte
	}
	return frame
}

func TestChunkExactFrames(t *testing.T) {
	payload := make([]byte, FrameBytes*3)
	chunks := Chunk(payload)
	require.Len(t, chunks, 3)
	for _, c := range chunks {
		assert.Len(t, c, FrameBytes)
	}
}

func TestChunkPadsTail(t *testing.T) {
	payload := make([]byte, FrameBytes+10)
	chunks := Chunk(payload)
	require.Len(t, chunks, 2)
	assert.Len(t, chunks[1], FrameBytes)
	for i := 10; i < FrameBytes; i++ {
		assert.Equal(t, byte(SilenceByte), chunks[1][i])
	}
}

func TestChunkEmpty(t *testing.T) {
	assert.Nil(t, Chunk(nil))
}

func TestLevelSilenceFastPath(t *testing.T) {
	assert.Equal(t, 0, Level(silentFrame()))

	// A few non-idle bytes still land under the 95% idle fast path.
	frame := silentFrame()
	frame[0] = 0x00
	frame[1] = 0x00
	assert.Equal(t, 0, Level(frame))
}

func TestLevelLoudFrame(t *testing.T) {
	level := Level(loudFrame(8000))
	assert.Greater(t, level, 6, "clearly audible speech must exceed the playing threshold")
	assert.LessOrEqual(t, level, 100)
}

func TestLevelQuietButNotIdle(t *testing.T) {
	level := Level(loudFrame(300))
	assert.Less(t, level, 6)
}

func TestDurationOf(t *testing.T) {
	assert.Equal(t, FrameDuration, DurationOf(make([]byte, FrameBytes)))
	assert.Equal(t, time.Second, DurationOf(make([]byte, SampleRate)))
}
