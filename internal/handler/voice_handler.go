package handler

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/ClareAI/astra-call-agent/internal/registry"
	"github.com/ClareAI/astra-call-agent/pkg/logger"
	"github.com/bytedance/gopkg/util/gopool"
	"go.uber.org/zap"
)

// VoiceWebhookHandler answers the telephony provider's inbound-call webhook:
// it registers the ringing call and returns the markup that connects the
// call's media stream to /streams.
type VoiceWebhookHandler struct {
	registry  *registry.CallRegistry // may be nil
	authToken string
	baseURL   string // public https base, e.g. https://agent.example.com
}

// NewVoiceWebhookHandler creates the webhook handler. When authToken is
// empty the signature check is skipped (local development).
func NewVoiceWebhookHandler(reg *registry.CallRegistry, authToken, baseURL string) *VoiceWebhookHandler {
	return &VoiceWebhookHandler{registry: reg, authToken: authToken, baseURL: baseURL}
}

// HandleVoice serves POST /voice.
func (h *VoiceWebhookHandler) HandleVoice(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "failed to parse form", http.StatusBadRequest)
		return
	}

	params := make(map[string]string, len(r.PostForm))
	for key, values := range r.PostForm {
		if len(values) > 0 {
			params[key] = values[0]
		}
	}

	if h.authToken != "" {
		signature := r.Header.Get("X-Twilio-Signature")
		if !h.validateSignature(signature, h.requestURL(r), params) {
			http.Error(w, "invalid signature", http.StatusUnauthorized)
			return
		}
	}

	callSid := params["CallSid"]
	from := params["From"]
	to := params["To"]
	logger.Base().Info("inbound call",
		zap.String("call_sid", callSid),
		zap.String("from", from))

	if h.registry != nil && callSid != "" {
		reg := h.registry
		record := &registry.CallRecord{
			CallSid:    callSid,
			AccountSid: params["AccountSid"],
			FromNumber: from,
			ToNumber:   to,
		}
		gopool.Go(func() {
			ctx, cancel := contextWithWebhookTimeout()
			defer cancel()
			if err := reg.CreateRinging(ctx, record); err != nil {
				logger.Base().Warn("ringing call registration failed",
					zap.String("call_sid", callSid),
					zap.Error(err))
			}
		})
	}

	streamURL := h.streamURL(r, callSid)
	twiml := fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<Response>
  <Connect>
    <Stream url="%s" />
  </Connect>
</Response>`, streamURL)

	w.Header().Set("Content-Type", "text/xml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(twiml))
}

func (h *VoiceWebhookHandler) streamURL(r *http.Request, callSid string) string {
	base := h.baseURL
	if base == "" {
		base = "https://" + r.Host
	}
	wsBase := strings.Replace(base, "https://", "wss://", 1)
	wsBase = strings.Replace(wsBase, "http://", "ws://", 1)
	url := wsBase + StreamPath
	if callSid != "" {
		url += "?call_id=" + callSid
	}
	return url
}

func (h *VoiceWebhookHandler) requestURL(r *http.Request) string {
	scheme := "https"
	host := r.Header.Get("X-Forwarded-Host")
	if host == "" {
		host = r.Host
		if strings.Contains(host, "localhost") || strings.Contains(host, "127.0.0.1") {
			scheme = "http"
		}
	}
	return fmt.Sprintf("%s://%s%s", scheme, host, r.URL.Path)
}

func contextWithWebhookTimeout() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 5*time.Second)
}

// validateSignature checks the provider's HMAC-SHA1 request signature: the
// URL concatenated with the sorted POST parameters, signed with the auth
// token.
func (h *VoiceWebhookHandler) validateSignature(signature, url string, params map[string]string) bool {
	data := url
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		data += k + params[k]
	}

	mac := hmac.New(sha1.New, []byte(h.authToken))
	mac.Write([]byte(data))
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(signature), []byte(expected))
}
