package main

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/ClareAI/astra-call-agent/internal/audio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildWAV(format uint16, sampleRate uint32, payload []byte) []byte {
	var buf bytes.Buffer
	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+len(payload)))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, format)
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // mono
	binary.Write(&buf, binary.LittleEndian, sampleRate)
	binary.Write(&buf, binary.LittleEndian, sampleRate) // byte rate, unused here
	binary.Write(&buf, binary.LittleEndian, uint16(1))
	binary.Write(&buf, binary.LittleEndian, uint16(8))

	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(len(payload)))
	buf.Write(payload)
	return buf.Bytes()
}

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestLoadULawPassesThroughMulawWAV(t *testing.T) {
	payload := []byte{0xFF, 0x7F, 0x00, 0x80}
	path := writeFile(t, "in.wav", buildWAV(7, 8000, payload))

	got, err := loadULaw(path)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestLoadULawConvertsPCM16(t *testing.T) {
	pcm := []int16{0, 1000, -1000, 8000}
	path := writeFile(t, "in.wav", buildWAV(1, 8000, audio.PCMToBytes(pcm)))

	got, err := loadULaw(path)
	require.NoError(t, err)
	assert.Equal(t, audio.Encode(pcm), got)
}

func TestLoadULawResamplesPCM16(t *testing.T) {
	pcm := make([]int16, 1600) // 100 ms at 16 kHz
	path := writeFile(t, "in.wav", buildWAV(1, 16000, audio.PCMToBytes(pcm)))

	got, err := loadULaw(path)
	require.NoError(t, err)
	// 100 ms at 8 kHz, give or take the interpolation boundary.
	assert.InDelta(t, 800, len(got), 2)
}

func TestLoadULawRawPassThrough(t *testing.T) {
	payload := []byte{1, 2, 3, 4}
	path := writeFile(t, "in.ulaw", payload)

	got, err := loadULaw(path)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestLoadULawRejectsGarbage(t *testing.T) {
	path := writeFile(t, "in.wav", []byte("not a wav at all"))
	_, err := loadULaw(path)
	assert.Error(t, err)
}

func TestLoadULawRejectsUnknownFormat(t *testing.T) {
	path := writeFile(t, "in.wav", buildWAV(3, 8000, []byte{0, 0}))
	_, err := loadULaw(path)
	assert.Error(t, err)
}
