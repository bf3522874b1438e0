package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ClareAI/astra-call-agent/internal/llm"
	"github.com/ClareAI/astra-call-agent/pkg/logger"
	"go.uber.org/zap"
)

// Classifier actions.
const (
	ActionNormal      = "normal"
	ActionTakeMessage = "take_message"
	ActionClosing     = "closing"
	ActionFarewell    = "farewell"
)

// Fixed assistant utterances.
const (
	apologyText     = "Sorry, I couldn't catch that. Could you repeat?"
	farewellText    = "Thank you for calling. Goodbye!"
	takeMessageText = "I can take a message. May I have your name, a callback number, and the details?"
	closingQuestion = "Anything else? If not, you may hang up."
)

const classifierSystemPrompt = `You are an intent classifier for a phone call agent.
Given whether the closing question has already been asked and the caller's latest message,
respond with strict JSON of the form {"action": "...", "reason": "..."}.
The action must be exactly one of: "normal", "take_message", "closing", "farewell".
Use "closing" when the caller has stated their purpose clearly enough to be recorded.
Use "take_message" when the caller wants to leave a message for a person.
Use "farewell" when the caller is saying goodbye.
Otherwise use "normal".`

const chatSystemPrompt = `You are a friendly phone agent on a live call.
Reply in one or two short sentences of plain spoken language.
No markdown, no lists, no special characters.`

type intentResult struct {
	Action string `json:"action"`
	Reason string `json:"reason"`
}

// classify runs the constrained intent model. Any failure, parse error, or
// unknown action falls back to normal.
func (e *Engine) classify(ctx context.Context, closingAsked bool, userMessage string) string {
	messages := []llm.Message{
		{Role: "system", Content: classifierSystemPrompt},
		{Role: "user", Content: fmt.Sprintf(`{"closing_asked": %t, "user_message": %q}`, closingAsked, userMessage)},
	}

	out, err := e.chat.Complete(ctx, messages, llm.Options{
		Model:       e.cfg.ClassifierModel,
		Temperature: 0,
		MaxTokens:   60,
		JSONObject:  true,
	})
	if err != nil {
		logger.Base().Warn("classifier call failed, falling back to normal", zap.Error(err))
		return ActionNormal
	}

	var result intentResult
	if err := json.Unmarshal([]byte(out), &result); err != nil {
		logger.Base().Warn("classifier returned invalid json, falling back to normal",
			zap.String("output", out))
		return ActionNormal
	}

	switch result.Action {
	case ActionNormal, ActionTakeMessage, ActionClosing, ActionFarewell:
		return result.Action
	default:
		return ActionNormal
	}
}

// nothingFurtherPhrases end the call once the closing question has been
// asked. Short entries require an exact match; longer ones may appear
// anywhere in the normalized message.
var nothingFurtherPhrases = []string{
	"no",
	"nope",
	"bye",
	"goodbye",
	"no thanks",
	"no thank you",
	"nothing else",
	"nothing further",
	"nothing more",
	"that's all",
	"that is all",
	"that's it",
	"i'm good",
	"im good",
	"all set",
}

// matchesNothingFurther reports whether the caller declined further help.
func matchesNothingFurther(text string) bool {
	normalized := normalizePhrase(text)
	if normalized == "" {
		return false
	}
	for _, phrase := range nothingFurtherPhrases {
		if len(phrase) <= 4 {
			if normalized == phrase {
				return true
			}
			continue
		}
		if strings.Contains(normalized, phrase) {
			return true
		}
	}
	return false
}

func normalizePhrase(text string) string {
	lower := strings.ToLower(strings.TrimSpace(text))
	var b strings.Builder
	for _, r := range lower {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == ' ', r == '\'':
			b.WriteRune(r)
		case r == '.' || r == ',' || r == '!' || r == '?':
			// dropped
		default:
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
