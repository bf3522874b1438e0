// Command simulator speaks the telephony provider's media-stream protocol
// against a running agent, end to end, without a real call: it decodes an
// audio file, resamples it to 8 kHz mono, encodes mu-law, and streams 160-byte
// frames at a (scalable) 20 ms pace framed by connected/start/media/stop
// events with synthetic identifiers. The server cannot tell it apart from a
// provider stream.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/ClareAI/astra-call-agent/internal/audio"
	"github.com/ClareAI/astra-call-agent/internal/wire"
	"github.com/ClareAI/astra-call-agent/pkg/logger"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

func main() {
	serverURL := flag.String("url", "ws://localhost:8080/streams", "agent stream endpoint")
	audioFile := flag.String("file", "", "input audio file (PCM16 or mu-law WAV, or raw .ulaw)")
	speed := flag.Float64("speed", 1.0, "pacing multiplier (2.0 sends twice as fast)")
	holdSec := flag.Int("hold", 20, "seconds to keep listening after the file is sent")
	flag.Parse()

	if _, err := logger.Init(os.Getenv("LOG_ENV")); err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
	}
	lg := logger.Base()

	if *audioFile == "" {
		fmt.Fprintln(os.Stderr, "usage: simulator -file caller.wav [-url ws://...] [-speed 1.0]")
		os.Exit(2)
	}

	mulaw, err := loadULaw(*audioFile)
	if err != nil {
		lg.Fatal("failed to load audio", zap.Error(err))
	}

	callSid := "SIM" + uuid.New().String()
	streamSid := "MZ" + uuid.New().String()
	dialURL := *serverURL + "?call_id=" + callSid

	conn, _, err := websocket.DefaultDialer.Dial(dialURL, nil)
	if err != nil {
		lg.Fatal("dial failed", zap.String("url", dialURL), zap.Error(err))
	}
	defer conn.Close()
	lg.Info("connected", zap.String("call_sid", callSid), zap.String("stream_sid", streamSid))

	// Drain server events concurrently: count media bytes, log marks.
	done := make(chan struct{})
	go readServerEvents(conn, lg, done)

	must := func(err error) {
		if err != nil {
			lg.Fatal("write failed", zap.Error(err))
		}
	}

	must(conn.WriteJSON(wire.Message{Event: wire.EventConnected}))
	must(conn.WriteJSON(wire.Message{
		Event:     wire.EventStart,
		StreamSid: streamSid,
		Start: &wire.StartPayload{
			StreamSid:  streamSid,
			CallSid:    callSid,
			AccountSid: "ACSIMULATOR",
			Tracks:     []string{wire.TrackInbound},
		},
	}))

	interval := time.Duration(float64(audio.FrameDuration) / *speed)
	limiter := rate.NewLimiter(rate.Every(interval), 1)
	sent := 0
	for _, chunk := range audio.Chunk(mulaw) {
		if err := limiter.Wait(context.Background()); err != nil {
			break
		}
		msg := wire.Message{
			Event:     wire.EventMedia,
			StreamSid: streamSid,
			Media: &wire.MediaPayload{
				Track:   wire.TrackInbound,
				Payload: wire.NewMediaMessage(streamSid, chunk).Media.Payload,
			},
		}
		must(conn.WriteJSON(msg))
		sent++
	}
	lg.Info("file sent", zap.Int("frames", sent))

	// Keep feeding silence so the agent's VAD sees end-of-speech and the
	// reply audio has somewhere to go.
	silence := make([]byte, audio.FrameBytes)
	for i := range silence {
		silence[i] = audio.SilenceByte
	}
	holdFrames := int(time.Duration(*holdSec) * time.Second / interval)
	for i := 0; i < holdFrames; i++ {
		if err := limiter.Wait(context.Background()); err != nil {
			break
		}
		msg := wire.Message{
			Event:     wire.EventMedia,
			StreamSid: streamSid,
			Media: &wire.MediaPayload{
				Track:   wire.TrackInbound,
				Payload: wire.NewMediaMessage(streamSid, silence).Media.Payload,
			},
		}
		if err := conn.WriteJSON(msg); err != nil {
			break
		}
	}

	_ = conn.WriteJSON(wire.Message{Event: wire.EventStop, StreamSid: streamSid})
	lg.Info("stop sent")

	select {
	case <-done:
	case <-time.After(2 * time.Second):
	}
}

func readServerEvents(conn *websocket.Conn, lg *zap.Logger, done chan<- struct{}) {
	defer close(done)
	var mediaFrames, mediaBytes int
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			lg.Info("server stream ended",
				zap.Int("media_frames", mediaFrames),
				zap.Int("media_bytes", mediaBytes))
			return
		}
		var msg wire.Message
		if json.Unmarshal(data, &msg) != nil {
			continue
		}
		switch msg.Event {
		case wire.EventMedia:
			if msg.Media != nil {
				if payload, err := msg.Media.DecodePayload(); err == nil {
					mediaFrames++
					mediaBytes += len(payload)
				}
			}
		case wire.EventMark:
			name := ""
			if msg.Mark != nil {
				name = msg.Mark.Name
			}
			lg.Info("mark received",
				zap.String("name", name),
				zap.Int("media_frames", mediaFrames),
				zap.Int("media_bytes", mediaBytes))
		}
	}
}
