package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/ClareAI/astra-call-agent/internal/llm"
	"github.com/stretchr/testify/assert"
)

func TestClassifyFallsBackOnError(t *testing.T) {
	rig := newTestRig(t)
	rig.chat.classifierErr = errors.New("boom")
	assert.Equal(t, ActionNormal, rig.engine.classify(context.Background(), false, "hello"))
}

func TestClassifyFallsBackOnUnknownAction(t *testing.T) {
	rig := newTestRig(t)
	rig.chat.classifierOut = `{"action":"escalate","reason":"?"}`
	assert.Equal(t, ActionNormal, rig.engine.classify(context.Background(), false, "hello"))
}

func TestClassifyPassesThroughValidActions(t *testing.T) {
	rig := newTestRig(t)
	for _, action := range []string{ActionNormal, ActionTakeMessage, ActionClosing, ActionFarewell} {
		rig.chat.classifierOut = `{"action":"` + action + `","reason":"r"}`
		assert.Equal(t, action, rig.engine.classify(context.Background(), true, "msg"))
	}
}

func TestClassifierUsesJSONMode(t *testing.T) {
	rig := newTestRig(t)
	rig.chat.classifierOut = `{"action":"normal","reason":""}`
	rig.engine.classify(context.Background(), false, "hi")
	classifierCalls, chatCalls := rig.chat.counts()
	assert.Equal(t, 1, classifierCalls)
	assert.Zero(t, chatCalls)
}

func TestMatchesNothingFurther(t *testing.T) {
	cases := []struct {
		in   string
		want bool
	}{
		{"No.", true},
		{"no thanks", true},
		{"No thank you, that's all.", true},
		{"Nothing else, goodbye!", true},
		{"That's it", true},
		{"I'm good.", true},
		{"Bye", true},
		{"Actually yes, one more thing", false},
		{"No idea what you mean", false}, // "no" only matches alone
		{"", false},
		{"Can you tell me more?", false},
	}
	for _, tc := range cases {
		assert.Equalf(t, tc.want, matchesNothingFurther(tc.in), "input %q", tc.in)
	}
}

func TestTruncateReply(t *testing.T) {
	assert.Equal(t, "short", truncateReply("  short  ", 140))

	long := ""
	for i := 0; i < 30; i++ {
		long += "abcdefghij"
	}
	got := truncateReply(long, 140)
	assert.Len(t, []rune(got), 141)
	assert.Equal(t, "…", string([]rune(got)[140:]))

	assert.Equal(t, "unbounded", truncateReply("unbounded", 0))
}

func TestReplyContextStartsWithSystemAndEndsWithUser(t *testing.T) {
	rig := newTestRig(t)
	rig.chat.classifierOut = `{"action":"normal","reason":""}`
	rig.chat.chatOut = "ok"
	rig.stt.text = "hello"

	rig.engine.runTurn(rig.sess, make([]byte, 3200))

	rig.chat.mu.Lock()
	msgs := rig.chat.lastChatMsgs
	rig.chat.mu.Unlock()
	assert.Equal(t, "system", msgs[0].Role)
	// The latest user message is the final context entry.
	assert.Equal(t, llm.Message{Role: "user", Content: "hello"}, msgs[len(msgs)-1])
}
