package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetectBackground(t *testing.T) {
	cases := []struct {
		name  string
		texts []string
		want  bool
	}{
		{"title generation", []string{"Please write a 3-5 word title for this conversation."}, true},
		{"summary request", []string{"Summarize the discussion so far."}, true},
		{"warm up ping", []string{"hello"}, true},
		{"follow up chips", []string{"Suggest three follow-up questions the user might ask."}, true},
		{"reformat output", []string{"Reformat the previous response as JSON."}, true},
		{"plain question", []string{"What is the capital of France?"}, false},
		{"negated by implement", []string{"Write a title for this module, then implement the parser."}, false},
		{"negation in earlier message", []string{"Refactor the session store.", "Now summarize what you did."}, false},
		{"empty window", nil, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, DetectBackground(tc.texts))
		})
	}
}

func TestDetectVision(t *testing.T) {
	openaiImage := []byte(`{"messages":[{"role":"user","content":[{"type":"text","text":"what is this"},{"type":"image_url","image_url":{"url":"data:image/png;base64,AAAA"}}]}]}`)
	assert.True(t, DetectVision(openaiImage, ProtocolOpenAI))

	claudeImage := []byte(`{"messages":[{"role":"user","content":[{"type":"image","source":{"type":"base64","media_type":"image/png","data":"AAAA"}}]}]}`)
	assert.True(t, DetectVision(claudeImage, ProtocolClaude))

	geminiImage := []byte(`{"contents":[{"role":"user","parts":[{"inlineData":{"mimeType":"image/png","data":"AAAA"}}]}]}`)
	assert.True(t, DetectVision(geminiImage, ProtocolGemini))

	textOnly := []byte(`{"messages":[{"role":"user","content":"hello"},{"role":"assistant","content":[{"type":"text","text":"hi"}]}]}`)
	assert.False(t, DetectVision(textOnly, ProtocolOpenAI))
	assert.False(t, DetectVision(textOnly, ProtocolClaude))
}

func TestDetectThinking(t *testing.T) {
	withField := []byte(`{"model":"claude-sonnet-4-5","thinking":{"type":"enabled","budget_tokens":2048},"messages":[]}`)
	assert.True(t, DetectThinking(withField, ProtocolClaude, "claude-sonnet-4-5"))

	withMetadata := []byte(`{"model":"claude-sonnet-4-5","metadata":{"thinking":true},"messages":[]}`)
	assert.True(t, DetectThinking(withMetadata, ProtocolClaude, "claude-sonnet-4-5"))

	byName := []byte(`{"messages":[]}`)
	assert.True(t, DetectThinking(byName, ProtocolClaude, "claude-opus-4-6-thinking"))

	plain := []byte(`{"model":"claude-sonnet-4-5","messages":[]}`)
	assert.False(t, DetectThinking(plain, ProtocolClaude, "claude-sonnet-4-5"))

	// Only the Claude wire format carries a thinking request.
	assert.False(t, DetectThinking(withField, ProtocolOpenAI, "claude-sonnet-4-5"))
}

func TestLastMessageTextsWindow(t *testing.T) {
	body := []byte(`{"messages":[
		{"role":"user","content":"one"},
		{"role":"assistant","content":"two"},
		{"role":"user","content":"three"},
		{"role":"assistant","content":[{"type":"text","text":"four"}]},
		{"role":"user","content":"five"}
	]}`)
	texts := lastMessageTexts(body, ProtocolOpenAI, 3)
	assert.Equal(t, []string{"three", "four", "five"}, texts)

	gemini := []byte(`{"contents":[{"role":"user","parts":[{"text":"a"},{"text":"b"}]}]}`)
	assert.Equal(t, []string{"a\nb"}, lastMessageTexts(gemini, ProtocolGemini, 3))
}
