package tts

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/ClareAI/astra-call-agent/pkg/logger"
	"go.uber.org/zap"
)

const transcodeTimeout = 2 * time.Minute

// Transcoder shells out to ffmpeg for the format conversions the call path
// needs: MP3-family synthesis output down to raw 8 kHz mono mu-law, and
// mu-law segments up to cleaned 16 kHz WAV for transcription. Temporary
// files are removed on every exit path.
type Transcoder struct {
	ffmpegPath string
}

// NewTranscoder creates a transcoder. An empty path resolves "ffmpeg" from
// PATH.
func NewTranscoder(ffmpegPath string) *Transcoder {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &Transcoder{ffmpegPath: ffmpegPath}
}

// MP3ToULaw converts an MP3-family buffer to raw mu-law at 8 kHz mono.
func (t *Transcoder) MP3ToULaw(ctx context.Context, mp3 []byte) ([]byte, error) {
	in, err := writeTemp("tts-in-*.mp3", mp3)
	if err != nil {
		return nil, err
	}
	defer os.Remove(in)

	out, err := tempName("tts-out-*.ulaw")
	if err != nil {
		return nil, err
	}
	defer os.Remove(out)

	args := []string{
		"-i", in,
		"-ar", "8000",
		"-ac", "1",
		"-f", "mulaw",
		"-y", out,
	}
	if err := t.run(ctx, args); err != nil {
		return nil, err
	}
	return os.ReadFile(out)
}

// ULawToWAV16k converts a raw mu-law segment to a 16 kHz mono WAV, applying
// the cleanup filter chain that improves transcription of low-amplitude
// phone audio.
func (t *Transcoder) ULawToWAV16k(ctx context.Context, mulaw []byte, filterChain string) ([]byte, error) {
	in, err := writeTemp("stt-in-*.ulaw", mulaw)
	if err != nil {
		return nil, err
	}
	defer os.Remove(in)

	out, err := tempName("stt-out-*.wav")
	if err != nil {
		return nil, err
	}
	defer os.Remove(out)

	args := []string{
		"-f", "mulaw",
		"-ar", "8000",
		"-ac", "1",
		"-i", in,
	}
	if filterChain != "" {
		args = append(args, "-af", filterChain)
	}
	args = append(args,
		"-ar", "16000",
		"-ac", "1",
		"-f", "wav",
		"-y", out,
	)
	if err := t.run(ctx, args); err != nil {
		return nil, err
	}
	return os.ReadFile(out)
}

func (t *Transcoder) run(ctx context.Context, args []string) error {
	runCtx, cancel := context.WithTimeout(ctx, transcodeTimeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, t.ffmpegPath, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		logger.Base().Error("ffmpeg failed",
			zap.Strings("args", args),
			zap.String("output", string(output)),
			zap.Error(err))
		return fmt.Errorf("ffmpeg failed: %w", err)
	}
	return nil
}

func writeTemp(pattern string, data []byte) (string, error) {
	f, err := os.CreateTemp("", pattern)
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	name := f.Name()
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(name)
		return "", fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(name)
		return "", err
	}
	return name, nil
}

func tempName(pattern string) (string, error) {
	f, err := os.CreateTemp("", pattern)
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	name := f.Name()
	f.Close()
	return name, nil
}
