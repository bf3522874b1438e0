package handler

import (
	"encoding/json"
	"net/http"

	"github.com/ClareAI/astra-call-agent/internal/engine"
	"github.com/ClareAI/astra-call-agent/internal/session"
	"github.com/ClareAI/astra-call-agent/internal/wire"
	"github.com/ClareAI/astra-call-agent/pkg/logger"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// StreamPath is the only path on which the media-stream upgrade is accepted.
const StreamPath = "/streams"

var streamUpgrader = websocket.Upgrader{
	ReadBufferSize:  65536,
	WriteBufferSize: 65536,
	CheckOrigin: func(r *http.Request) bool {
		// The telephony provider does not send a browser origin.
		return true
	},
}

// StreamHandler terminates media-stream WebSockets and pumps their events
// into per-session engine loops.
type StreamHandler struct {
	engine *engine.Engine
}

// NewStreamHandler creates the stream handler.
func NewStreamHandler(eng *engine.Engine) *StreamHandler {
	return &StreamHandler{engine: eng}
}

// ServeStream upgrades the connection and runs the read pump until the peer
// disconnects. Query parameters survive the upgrade, so call_id is read from
// the URL when the webhook put it there.
func (h *StreamHandler) ServeStream(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != StreamPath {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	conn, err := streamUpgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Base().Error("stream upgrade failed", zap.Error(err))
		return
	}

	callID := r.URL.Query().Get("call_id")
	sess := session.New(callID, conn, h.engine.DefaultBinding())
	if callID != "" {
		h.engine.Register(sess)
	}
	logger.Base().Info("media stream connected",
		zap.String("call_id", callID),
		zap.String("remote_addr", r.RemoteAddr))

	go h.engine.RunSession(sess)
	h.readPump(sess, conn)
}

// readPump is the only reader of the socket; inbound events enter the
// session's serialized queue in the exact order received.
func (h *StreamHandler) readPump(sess *session.Session, conn *websocket.Conn) {
	defer func() {
		sess.Post(session.StopEvent{})
		sess.Close()
	}()

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			logger.Base().Info("media stream closed",
				zap.String("call_id", sess.CallID),
				zap.Error(err))
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		var msg wire.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			logger.Base().Warn("malformed stream message dropped",
				zap.String("call_id", sess.CallID),
				zap.Error(err))
			continue
		}

		if !h.dispatch(sess, &msg) {
			return
		}
	}
}

// dispatch maps one wire message to session events. Returns false when the
// session should end.
func (h *StreamHandler) dispatch(sess *session.Session, msg *wire.Message) bool {
	switch msg.Event {
	case wire.EventConnected:
		sess.Post(session.ConnectedEvent{})
	case wire.EventStart:
		if msg.Start == nil {
			return true
		}
		streamSid := msg.Start.StreamSid
		if streamSid == "" {
			streamSid = msg.StreamSid
		}
		sess.Post(session.StartEvent{
			StreamSid:  streamSid,
			CallSid:    msg.Start.CallSid,
			AccountSid: msg.Start.AccountSid,
		})
	case wire.EventMedia:
		if msg.Media == nil {
			return true
		}
		// Media before start is recoverable when the frame itself names the
		// stream: synthesize the start event rather than dropping the call.
		if !sess.Ready() && msg.StreamSid != "" {
			sess.Post(session.ConnectedEvent{})
			sess.Post(session.StartEvent{StreamSid: msg.StreamSid})
		}
		payload, err := msg.Media.DecodePayload()
		if err != nil {
			logger.Base().Warn("undecodable media payload dropped",
				zap.String("call_id", sess.CallID),
				zap.Error(err))
			return true
		}
		sess.Post(session.FrameEvent{Track: msg.Media.Track, Payload: payload})
	case wire.EventMark:
		if msg.Mark != nil {
			sess.Post(session.MarkEvent{Name: msg.Mark.Name})
		}
	case wire.EventStop:
		sess.Post(session.StopEvent{})
		return false
	default:
		logger.Base().Warn("unexpected stream event",
			zap.String("call_id", sess.CallID),
			zap.String("event", msg.Event))
	}
	return true
}
