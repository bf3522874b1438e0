package audio

import (
	"math"
	"time"
)

// Telephony media stream framing: 8 kHz mono mu-law, 20 ms per frame.
const (
	SampleRate    = 8000
	FrameBytes    = 160
	FrameDuration = 20 * time.Millisecond

	// SilenceByte is the mu-law encoding of linear zero.
	SilenceByte = 0xFF
)

// Chunk splits a mu-law payload into exact 160-byte frames. A short tail is
// padded with mu-law silence so the peer always receives full 20 ms frames.
func Chunk(mulaw []byte) [][]byte {
	if len(mulaw) == 0 {
		return nil
	}
	n := (len(mulaw) + FrameBytes - 1) / FrameBytes
	chunks := make([][]byte, 0, n)
	for off := 0; off < len(mulaw); off += FrameBytes {
		end := off + FrameBytes
		if end <= len(mulaw) {
			chunks = append(chunks, mulaw[off:end])
			continue
		}
		frame := make([]byte, FrameBytes)
		copied := copy(frame, mulaw[off:])
		for i := copied; i < FrameBytes; i++ {
			frame[i] = SilenceByte
		}
		chunks = append(chunks, frame)
	}
	return chunks
}

// Level computes a 0-100 activity level for one mu-law frame.
//
// Fast path: a frame whose first 160 bytes are >=95% idle (0xFF) is declared
// level 0 without decoding. Otherwise the frame is decoded to linear PCM and
// the RMS is normalized onto the 0-100 scale.
func Level(frame []byte) int {
	if len(frame) == 0 {
		return 0
	}

	probe := frame
	if len(probe) > FrameBytes {
		probe = probe[:FrameBytes]
	}
	idle := 0
	for _, b := range probe {
		if b == SilenceByte {
			idle++
		}
	}
	if idle*100 >= len(probe)*95 {
		return 0
	}

	var sum float64
	for _, b := range frame {
		s := float64(DecodeSample(b))
		sum += s * s
	}
	rms := math.Sqrt(sum / float64(len(frame)))
	level := int(math.Round(rms / 327.68))
	if level > 100 {
		level = 100
	}
	return level
}

// DurationOf returns the play time of a mu-law payload at 8 kHz.
func DurationOf(mulaw []byte) time.Duration {
	return time.Duration(len(mulaw)) * time.Second / SampleRate
}
