package audio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMulawByteRoundTrip(t *testing.T) {
	// decode -> encode is the identity at byte level, outside of the
	// sign-magnitude zero equivalence (0x7F and 0xFF both decode to 0, and 0
	// re-encodes as 0xFF).
	for i := 0; i < 256; i++ {
		b := byte(i)
		got := EncodeSample(DecodeSample(b))
		if b == 0x7F {
			assert.Equal(t, byte(0xFF), got, "negative zero re-encodes as positive zero")
			continue
		}
		assert.Equal(t, b, got, "byte 0x%02x", b)
	}
}

func TestMulawSampleRoundTripWithinQuantization(t *testing.T) {
	// encode -> decode stays within the G.711 quantization step for the
	// sample's magnitude range.
	for _, s := range []int16{0, 1, -1, 7, 100, -100, 1000, -1000, 8000, -8000, 30000, -30000, 32635} {
		decoded := DecodeSample(EncodeSample(s))
		diff := int32(s) - int32(decoded)
		if diff < 0 {
			diff = -diff
		}
		// Worst-case step at full scale is 1024/2.
		assert.LessOrEqualf(t, diff, int32(512), "sample %d decoded as %d", s, decoded)
	}
}

func TestMulawEncodeEdgeCases(t *testing.T) {
	assert.Equal(t, byte(0xFF), EncodeSample(0))

	// -32768 saturates to 32767 after negation instead of overflowing.
	assert.Equal(t, EncodeSample(-32767), EncodeSample(-32768))

	// Values past the clip point encode like the clip point.
	assert.Equal(t, EncodeSample(32635), EncodeSample(32700))
	assert.Equal(t, EncodeSample(32635), EncodeSample(32767))
}

func TestMulawBulkConversions(t *testing.T) {
	pcm := []int16{0, 1000, -1000, 32000, -32000}
	mulaw := Encode(pcm)
	require.Len(t, mulaw, len(pcm))

	back := Decode(mulaw)
	require.Len(t, back, len(pcm))
	for i := range pcm {
		diff := int32(pcm[i]) - int32(back[i])
		if diff < 0 {
			diff = -diff
		}
		assert.LessOrEqual(t, diff, int32(1024))
	}
}

func TestPCMBytesRoundTrip(t *testing.T) {
	pcm := []int16{0, 1, -1, 32767, -32768, 12345}
	assert.Equal(t, pcm, BytesToPCM(PCMToBytes(pcm)))
}
