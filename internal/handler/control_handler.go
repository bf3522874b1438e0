package handler

import (
	"encoding/json"
	"net/http"

	"github.com/ClareAI/astra-call-agent/internal/engine"
	"github.com/ClareAI/astra-call-agent/internal/session"
	"github.com/ClareAI/astra-call-agent/pkg/logger"
	"go.uber.org/zap"
)

// ControlHandler is the small HTTP surface for the operator dashboard:
// health, transfer, manual reply, and the AI on/off toggle. Commands are
// routed through the session's serialized event queue so they cannot race
// the turn handler.
type ControlHandler struct {
	engine *engine.Engine
}

// NewControlHandler creates the control handler.
func NewControlHandler(eng *engine.Engine) *ControlHandler {
	return &ControlHandler{engine: eng}
}

// HandleHealth is the liveness endpoint.
func (h *ControlHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

type transferRequest struct {
	CallID  string `json:"call_id"`
	Message string `json:"message"`
	Target  string `json:"target"`
}

// HandleTransfer speaks a guidance message on the call and redirects it to
// the target via the telephony provider.
func (h *ControlHandler) HandleTransfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.CallID == "" || req.Target == "" {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	sess, ok := h.engine.Lookup(req.CallID)
	if !ok {
		http.Error(w, "unknown call", http.StatusNotFound)
		return
	}

	sess.Post(session.OperatorEvent{Kind: session.OpTransfer, Text: req.Message, Target: req.Target})
	logger.Base().Info("transfer requested",
		zap.String("call_id", req.CallID),
		zap.String("target", req.Target))
	writeJSONOK(w)
}

type aiResponseRequest struct {
	CallID  string `json:"call_id"`
	Enabled bool   `json:"enabled"`
}

// HandleAIResponse toggles automatic replies for a call.
func (h *ControlHandler) HandleAIResponse(w http.ResponseWriter, r *http.Request) {
	var req aiResponseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.CallID == "" {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	sess, ok := h.engine.Lookup(req.CallID)
	if !ok {
		http.Error(w, "unknown call", http.StatusNotFound)
		return
	}

	sess.Post(session.OperatorEvent{Kind: session.OpSetAI, Enabled: req.Enabled})
	writeJSONOK(w)
}

type speakRequest struct {
	CallID string `json:"call_id"`
	Text   string `json:"text"`
}

// HandleSpeak forces a manual assistant reply, regardless of the AI toggle.
func (h *ControlHandler) HandleSpeak(w http.ResponseWriter, r *http.Request) {
	var req speakRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.CallID == "" || req.Text == "" {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	sess, ok := h.engine.Lookup(req.CallID)
	if !ok {
		http.Error(w, "unknown call", http.StatusNotFound)
		return
	}

	sess.Post(session.OperatorEvent{Kind: session.OpSpeak, Text: req.Text})
	writeJSONOK(w)
}

func writeJSONOK(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status": "ok"}`))
}
