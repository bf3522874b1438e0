package main

import (
	"encoding/binary"
	"fmt"
	"os"
	"strings"

	"github.com/ClareAI/astra-call-agent/internal/audio"
)

// loadULaw reads an audio file and returns 8 kHz mono mu-law bytes.
// Supported inputs: raw .ulaw, WAV with PCM16 mono at any sample rate, and
// WAV already containing mu-law.
func loadULaw(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	if strings.HasSuffix(strings.ToLower(path), ".ulaw") {
		return data, nil
	}

	format, sampleRate, channels, payload, err := parseWAV(data)
	if err != nil {
		return nil, err
	}
	if channels != 1 {
		return nil, fmt.Errorf("only mono input is supported, got %d channels", channels)
	}

	switch format {
	case 7: // mu-law
		if sampleRate != audio.SampleRate {
			pcm := audio.Decode(payload)
			pcm = audio.NewResampler(sampleRate, audio.SampleRate).Process(pcm)
			return audio.Encode(pcm), nil
		}
		return payload, nil
	case 1: // PCM16
		pcm := audio.BytesToPCM(payload)
		if sampleRate != audio.SampleRate {
			pcm = audio.NewResampler(sampleRate, audio.SampleRate).Process(pcm)
		}
		return audio.Encode(pcm), nil
	default:
		return nil, fmt.Errorf("unsupported WAV format code %d", format)
	}
}

// parseWAV walks the RIFF chunks and returns the fmt fields plus the data
// payload.
func parseWAV(data []byte) (format uint16, sampleRate int, channels int, payload []byte, err error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return 0, 0, 0, nil, fmt.Errorf("not a WAV file")
	}

	off := 12
	var haveFmt bool
	for off+8 <= len(data) {
		id := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		body := off + 8
		if body+size > len(data) {
			size = len(data) - body
		}

		switch id {
		case "fmt ":
			if size < 16 {
				return 0, 0, 0, nil, fmt.Errorf("short fmt chunk")
			}
			format = binary.LittleEndian.Uint16(data[body : body+2])
			channels = int(binary.LittleEndian.Uint16(data[body+2 : body+4]))
			sampleRate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
			haveFmt = true
		case "data":
			payload = data[body : body+size]
		}

		// Chunks are word-aligned.
		off = body + size
		if size%2 == 1 {
			off++
		}
	}

	if !haveFmt || payload == nil {
		return 0, 0, 0, nil, fmt.Errorf("missing fmt or data chunk")
	}
	return format, sampleRate, channels, payload, nil
}
