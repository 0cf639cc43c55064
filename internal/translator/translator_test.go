package translator

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func TestRegistryPassThrough(t *testing.T) {
	reg := NewRegistry()

	body := []byte(`{"untouched":true}`)
	assert.Equal(t, body, reg.TranslateRequest(FormatOpenAI, FormatGemini, "m", body, false))

	out, err := reg.TranslateResponse(context.Background(), FormatGemini, FormatOpenAI, "m", body)
	require.NoError(t, err)
	assert.Equal(t, body, out)

	assert.False(t, reg.HasResponseTransformer(FormatGemini, FormatOpenAI))
	assert.False(t, reg.HasStreamTransformer(FormatGemini, FormatClaude))
}

func TestRegistryMergesPartialRegistrations(t *testing.T) {
	reg := NewRegistry()

	reg.Register(FormatGemini, FormatOpenAI, TranslatorConfig{
		ResponseTransform: GeminiToOpenAIResponse,
	})
	reg.Register(FormatGemini, FormatOpenAI, TranslatorConfig{
		StreamTransform: GeminiToOpenAIStream,
	})

	assert.True(t, reg.HasResponseTransformer(FormatGemini, FormatOpenAI))
	assert.True(t, reg.HasStreamTransformer(FormatGemini, FormatOpenAI))
}

func TestDefaultRegistryPairs(t *testing.T) {
	reg := Default()

	assert.True(t, reg.HasResponseTransformer(FormatGemini, FormatOpenAI))
	assert.True(t, reg.HasStreamTransformer(FormatGemini, FormatOpenAI))
	assert.True(t, reg.HasResponseTransformer(FormatGemini, FormatClaude))
	assert.True(t, reg.HasStreamTransformer(FormatGemini, FormatClaude))
	assert.True(t, reg.HasStreamTransformer(FormatGemini, FormatGemini))
}

func TestOpenAIToGeminiRequestMessages(t *testing.T) {
	input := `{
		"model": "gpt-4o",
		"messages": [
			{"role": "system", "content": "You are terse."},
			{"role": "system", "content": "Answer in English."},
			{"role": "user", "content": "Hello"},
			{"role": "user", "content": "there"},
			{"role": "assistant", "content": "Hi"}
		]
	}`

	out := gjson.ParseBytes(OpenAIToGeminiRequest("gemini-3-flash", []byte(input), false))

	assert.Equal(t, "You are terse.\n\nAnswer in English.", out.Get("systemInstruction.parts.0.text").String())

	contents := out.Get("contents").Array()
	require.Len(t, contents, 2, "consecutive user messages should merge")
	assert.Equal(t, "user", contents[0].Get("role").String())
	assert.Equal(t, "Hello", contents[0].Get("parts.0.text").String())
	assert.Equal(t, "there", contents[0].Get("parts.1.text").String())
	assert.Equal(t, "model", contents[1].Get("role").String())
	assert.Equal(t, "Hi", contents[1].Get("parts.0.text").String())
}

func TestOpenAIToGeminiRequestMultimodal(t *testing.T) {
	input := `{
		"model": "gpt-4o",
		"messages": [
			{"role": "user", "content": [
				{"type": "text", "text": "What is this?"},
				{"type": "image_url", "image_url": {"url": "data:image/png;base64,AAAA"}},
				{"type": "image_url", "image_url": {"url": "https://example.com/cat.png"}}
			]}
		]
	}`

	out := gjson.ParseBytes(OpenAIToGeminiRequest("gemini-3-pro-high", []byte(input), false))

	parts := out.Get("contents.0.parts").Array()
	require.Len(t, parts, 3)
	assert.Equal(t, "What is this?", parts[0].Get("text").String())
	assert.Equal(t, "image/png", parts[1].Get("inlineData.mimeType").String())
	assert.Equal(t, "AAAA", parts[1].Get("inlineData.data").String())
	assert.Equal(t, "[image: https://example.com/cat.png]", parts[2].Get("text").String())
}

func TestOpenAIToGeminiRequestToolFlow(t *testing.T) {
	input := `{
		"model": "gpt-4o",
		"messages": [
			{"role": "user", "content": "Weather in Oslo?"},
			{"role": "assistant", "content": "", "tool_calls": [
				{"id": "call_get_weather_0", "type": "function", "function": {"name": "get_weather", "arguments": "{\"city\":\"Oslo\"}"}}
			]},
			{"role": "tool", "tool_call_id": "call_get_weather_0", "content": "{\"temp\":12}"}
		]
	}`

	out := gjson.ParseBytes(OpenAIToGeminiRequest("gemini-3-flash", []byte(input), false))

	contents := out.Get("contents").Array()
	require.Len(t, contents, 3)

	call := contents[1].Get("parts.0.functionCall")
	assert.Equal(t, "model", contents[1].Get("role").String())
	assert.Equal(t, "get_weather", call.Get("name").String())
	assert.Equal(t, "Oslo", call.Get("args.city").String())

	resp := contents[2].Get("parts.0.functionResponse")
	assert.Equal(t, "user", contents[2].Get("role").String())
	assert.Equal(t, "call_get_weather_0", resp.Get("name").String())
	assert.Equal(t, int64(12), resp.Get("response.temp").Int())
}

func TestOpenAIToGeminiRequestToolTextResult(t *testing.T) {
	input := `{
		"messages": [
			{"role": "tool", "tool_call_id": "call_x_0", "content": "plain output"}
		]
	}`

	out := gjson.ParseBytes(OpenAIToGeminiRequest("gemini-3-flash", []byte(input), false))
	assert.Equal(t, "plain output", out.Get("contents.0.parts.0.functionResponse.response.result").String())
}

func TestOpenAIToGeminiRequestMalformedArguments(t *testing.T) {
	input := `{
		"messages": [
			{"role": "assistant", "tool_calls": [
				{"id": "call_x_0", "type": "function", "function": {"name": "x", "arguments": "{not json"}}
			]}
		]
	}`

	out := gjson.ParseBytes(OpenAIToGeminiRequest("gemini-3-flash", []byte(input), false))

	call := out.Get("contents.0.parts.0.functionCall")
	assert.Equal(t, "x", call.Get("name").String())
	assert.True(t, call.Get("args").IsObject())
	assert.Len(t, call.Get("args").Map(), 0)
}

func TestOpenAIToGeminiGenerationConfig(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  map[string]string
	}{
		{
			name:  "all four params",
			input: `{"messages":[],"temperature":0.5,"top_p":0.9,"max_tokens":100,"stop":"END"}`,
			want: map[string]string{
				"generationConfig.temperature":     "0.5",
				"generationConfig.topP":            "0.9",
				"generationConfig.maxOutputTokens": "100",
				"generationConfig.stopSequences.0": "END",
			},
		},
		{
			name:  "max_completion_tokens fallback",
			input: `{"messages":[],"max_completion_tokens":256}`,
			want:  map[string]string{"generationConfig.maxOutputTokens": "256"},
		},
		{
			name:  "stop array",
			input: `{"messages":[],"stop":["a","b"]}`,
			want: map[string]string{
				"generationConfig.stopSequences.0": "a",
				"generationConfig.stopSequences.1": "b",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := OpenAIToGeminiRequest("gemini-3-flash", []byte(tt.input), false)
			for path, want := range tt.want {
				assert.Equal(t, want, gjson.GetBytes(out, path).String(), "path %s", path)
			}
		})
	}
}

func TestOpenAIToGeminiTools(t *testing.T) {
	input := `{
		"messages": [{"role": "user", "content": "go"}],
		"tools": [
			{"type": "function", "function": {"name": "a", "description": "first", "parameters": {
				"type": "object",
				"$schema": "http://json-schema.org/draft-07/schema#",
				"additionalProperties": false,
				"properties": {"q": {"type": "string", "default": "x"}},
				"required": ["q"]
			}}},
			{"type": "function", "function": {"name": "b"}}
		],
		"tool_choice": "auto"
	}`

	out := gjson.ParseBytes(OpenAIToGeminiRequest("gemini-3-flash", []byte(input), false))

	tools := out.Get("tools").Array()
	require.Len(t, tools, 1, "declarations collapse into one tools entry")
	decls := tools[0].Get("functionDeclarations").Array()
	require.Len(t, decls, 2)

	params := decls[0].Get("parameters")
	assert.False(t, params.Get("$schema").Exists())
	assert.False(t, params.Get("additionalProperties").Exists())
	assert.False(t, params.Get("properties.q.default").Exists())
	assert.Equal(t, "string", params.Get("properties.q.type").String())
	assert.Equal(t, "q", params.Get("required.0").String())

	assert.Equal(t, "AUTO", out.Get("toolConfig.functionCallingConfig.mode").String())
}

func TestOpenAIToGeminiToolChoice(t *testing.T) {
	t.Run("none drops tools", func(t *testing.T) {
		out := OpenAIToGeminiRequest("m", []byte(`{"messages":[],"tools":[{"type":"function","function":{"name":"a"}}],"tool_choice":"none"}`), false)
		assert.False(t, gjson.GetBytes(out, "tools").Exists())
	})

	t.Run("forced function", func(t *testing.T) {
		out := OpenAIToGeminiRequest("m", []byte(`{"messages":[],"tools":[{"type":"function","function":{"name":"a"}}],"tool_choice":{"type":"function","function":{"name":"a"}}}`), false)
		assert.Equal(t, "ANY", gjson.GetBytes(out, "toolConfig.functionCallingConfig.mode").String())
		assert.Equal(t, "a", gjson.GetBytes(out, "toolConfig.functionCallingConfig.allowedFunctionNames.0").String())
	})

	t.Run("required", func(t *testing.T) {
		out := OpenAIToGeminiRequest("m", []byte(`{"messages":[],"tools":[{"type":"function","function":{"name":"a"}}],"tool_choice":"required"}`), false)
		assert.Equal(t, "ANY", gjson.GetBytes(out, "toolConfig.functionCallingConfig.mode").String())
	})
}

func TestGeminiToOpenAIResponse(t *testing.T) {
	body := `{"response": {
		"candidates": [{
			"content": {"role": "model", "parts": [{"text": "Hi"}]},
			"finishReason": "STOP"
		}],
		"usageMetadata": {"promptTokenCount": 5, "candidatesTokenCount": 2, "totalTokenCount": 7}
	}}`

	out, err := GeminiToOpenAIResponse(context.Background(), "gpt-4o", []byte(body))
	require.NoError(t, err)

	res := gjson.ParseBytes(out)
	assert.Equal(t, "chat.completion", res.Get("object").String())
	assert.Equal(t, "gpt-4o", res.Get("model").String())
	assert.True(t, res.Get("id").Exists())
	assert.Contains(t, res.Get("id").String(), "chatcmpl-")

	choice := res.Get("choices.0")
	assert.Equal(t, "assistant", choice.Get("message.role").String())
	assert.Equal(t, "Hi", choice.Get("message.content").String())
	assert.Equal(t, "stop", choice.Get("finish_reason").String())

	assert.Equal(t, int64(5), res.Get("usage.prompt_tokens").Int())
	assert.Equal(t, int64(2), res.Get("usage.completion_tokens").Int())
	assert.Equal(t, int64(7), res.Get("usage.total_tokens").Int())
}

func TestGeminiToOpenAIResponseToolCalls(t *testing.T) {
	body := `{
		"candidates": [{
			"content": {"parts": [
				{"text": "calling"},
				{"functionCall": {"name": "get_weather", "args": {"city":"Oslo"}}}
			]},
			"finishReason": "STOP"
		}]
	}`

	out, err := GeminiToOpenAIResponse(context.Background(), "gpt-4o", []byte(body))
	require.NoError(t, err)

	res := gjson.ParseBytes(out)
	choice := res.Get("choices.0")
	assert.Equal(t, "tool_calls", choice.Get("finish_reason").String())
	assert.Equal(t, gjson.Null, choice.Get("message.content").Type)

	call := choice.Get("message.tool_calls.0")
	assert.Equal(t, "call_get_weather_0", call.Get("id").String())
	assert.Equal(t, "function", call.Get("type").String())
	assert.Equal(t, "get_weather", call.Get("function.name").String())
	assert.Equal(t, "Oslo", gjson.Parse(call.Get("function.arguments").String()).Get("city").String())
}

func TestGeminiToOpenAIResponseReasoning(t *testing.T) {
	body := `{
		"candidates": [{
			"content": {"parts": [
				{"text": "planning", "thought": true},
				{"text": "Answer"}
			]},
			"finishReason": "MAX_TOKENS"
		}]
	}`

	out, err := GeminiToOpenAIResponse(context.Background(), "o1", []byte(body))
	require.NoError(t, err)

	res := gjson.ParseBytes(out)
	assert.Equal(t, "planning", res.Get("choices.0.message.reasoning_content").String())
	assert.Equal(t, "Answer", res.Get("choices.0.message.content").String())
	assert.Equal(t, "length", res.Get("choices.0.finish_reason").String())
}

func TestGeminiToOpenAIResponseFirstCandidateOnly(t *testing.T) {
	body := `{
		"candidates": [
			{"content": {"parts": [{"text": "first"}]}, "finishReason": "STOP"},
			{"content": {"parts": [{"text": "second"}]}, "finishReason": "STOP"}
		]
	}`

	out, err := GeminiToOpenAIResponse(context.Background(), "gpt-4o", []byte(body))
	require.NoError(t, err)

	res := gjson.ParseBytes(out)
	require.Len(t, res.Get("choices").Array(), 1)
	assert.Equal(t, "first", res.Get("choices.0.message.content").String())
}

func TestGeminiToOpenAIResponseErrorPassThrough(t *testing.T) {
	body := []byte(`{"error": {"code": 400, "message": "bad"}}`)

	out, err := GeminiToOpenAIResponse(context.Background(), "gpt-4o", body)
	require.NoError(t, err)
	assert.Equal(t, body, out)
}

func TestClaudeToGeminiRequestBlocks(t *testing.T) {
	input := `{
		"model": "claude-sonnet-4-5",
		"max_tokens": 512,
		"system": [
			{"type": "text", "text": "Be brief."},
			{"type": "text", "text": "Stay safe."}
		],
		"messages": [
			{"role": "user", "content": [
				{"type": "text", "text": "Look:"},
				{"type": "image", "source": {"type": "base64", "media_type": "image/jpeg", "data": "QUJD"}}
			]},
			{"role": "assistant", "content": [
				{"type": "thinking", "thinking": "inspect the image", "signature": "sig-0123456789"},
				{"type": "tool_use", "id": "toolu_1", "name": "lens", "input": {"zoom": 2}}
			]},
			{"role": "user", "content": [
				{"type": "tool_result", "tool_use_id": "toolu_1", "content": [{"type": "text", "text": "a cat"}]}
			]}
		]
	}`

	out := gjson.ParseBytes(ClaudeToGeminiRequest("claude-sonnet-4-5", []byte(input), false))

	assert.Equal(t, "Be brief.\nStay safe.", out.Get("systemInstruction.parts.0.text").String())

	contents := out.Get("contents").Array()
	require.Len(t, contents, 3)

	assert.Equal(t, "Look:", contents[0].Get("parts.0.text").String())
	assert.Equal(t, "image/jpeg", contents[0].Get("parts.1.inlineData.mimeType").String())
	assert.Equal(t, "QUJD", contents[0].Get("parts.1.inlineData.data").String())

	assert.Equal(t, "model", contents[1].Get("role").String())
	assert.Equal(t, "<thinking>inspect the image</thinking>", contents[1].Get("parts.0.text").String())
	assert.Equal(t, "lens", contents[1].Get("parts.1.functionCall.name").String())
	assert.Equal(t, int64(2), contents[1].Get("parts.1.functionCall.args.zoom").Int())

	resp := contents[2].Get("parts.0.functionResponse")
	assert.Equal(t, "toolu_1", resp.Get("name").String())
	assert.Equal(t, "a cat", resp.Get("response.result").String())

	assert.Equal(t, int64(512), out.Get("generationConfig.maxOutputTokens").Int())
}

func TestClaudeToGeminiThinkingConfig(t *testing.T) {
	tests := []struct {
		name       string
		model      string
		input      string
		wantKeys   map[string]string
		wantAbsent []string
	}{
		{
			name:  "claude target uses snake_case",
			model: "claude-sonnet-4-5-thinking",
			input: `{"max_tokens":1024,"thinking":{"type":"enabled","budget_tokens":2048},"messages":[]}`,
			wantKeys: map[string]string{
				"generationConfig.thinkingConfig.include_thoughts": "true",
				"generationConfig.thinkingConfig.thinking_budget":  "2048",
				"generationConfig.maxOutputTokens":                 "10240",
			},
		},
		{
			name:  "gemini target uses camelCase",
			model: "gemini-3-pro-high",
			input: `{"max_tokens":32000,"thinking":{"type":"enabled","budget_tokens":2048},"messages":[]}`,
			wantKeys: map[string]string{
				"generationConfig.thinkingConfig.includeThoughts": "true",
				"generationConfig.thinkingConfig.thinkingBudget":  "2048",
				"generationConfig.maxOutputTokens":                "32000",
			},
		},
		{
			name:  "thinking variant auto-enables",
			model: "claude-opus-4-6-thinking",
			input: `{"max_tokens":64000,"messages":[]}`,
			wantKeys: map[string]string{
				"generationConfig.thinkingConfig.thinking_budget": "16000",
			},
		},
		{
			name:       "base model stays plain",
			model:      "claude-sonnet-4-5",
			input:      `{"max_tokens":1024,"messages":[]}`,
			wantAbsent: []string{"generationConfig.thinkingConfig"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := ClaudeToGeminiRequest(tt.model, []byte(tt.input), false)
			for path, want := range tt.wantKeys {
				assert.Equal(t, want, gjson.GetBytes(out, path).String(), "path %s", path)
			}
			for _, path := range tt.wantAbsent {
				assert.False(t, gjson.GetBytes(out, path).Exists(), "path %s should be absent", path)
			}
		})
	}
}

func TestClaudeToGeminiTools(t *testing.T) {
	input := `{
		"messages": [],
		"tools": [
			{"name": "search", "description": "find things", "input_schema": {
				"type": "object",
				"properties": {"q": {"type": "string"}},
				"additionalProperties": false
			}}
		],
		"tool_choice": {"type": "tool", "name": "search"}
	}`

	out := gjson.ParseBytes(ClaudeToGeminiRequest("claude-sonnet-4-5", []byte(input), false))

	decl := out.Get("tools.0.functionDeclarations.0")
	assert.Equal(t, "search", decl.Get("name").String())
	assert.Equal(t, "find things", decl.Get("description").String())
	assert.False(t, decl.Get("parameters.additionalProperties").Exists())

	cfg := out.Get("toolConfig.functionCallingConfig")
	assert.Equal(t, "ANY", cfg.Get("mode").String())
	assert.Equal(t, "search", cfg.Get("allowedFunctionNames.0").String())
}

func TestGeminiToClaudeResponse(t *testing.T) {
	body := `{"response": {
		"candidates": [{
			"content": {"parts": [
				{"text": "plan", "thought": true, "thoughtSignature": "sig-0123456789"},
				{"text": "Using the tool."},
				{"functionCall": {"name": "lens", "args": {"zoom": 2}}}
			]},
			"finishReason": "STOP"
		}],
		"usageMetadata": {"promptTokenCount": 9, "candidatesTokenCount": 4}
	}}`

	out, err := GeminiToClaudeResponse(context.Background(), "claude-sonnet-4-5", []byte(body))
	require.NoError(t, err)

	res := gjson.ParseBytes(out)
	assert.Equal(t, "message", res.Get("type").String())
	assert.Equal(t, "assistant", res.Get("role").String())
	assert.Contains(t, res.Get("id").String(), "msg_")

	blocks := res.Get("content").Array()
	require.Len(t, blocks, 3)
	assert.Equal(t, "thinking", blocks[0].Get("type").String())
	assert.Equal(t, "plan", blocks[0].Get("thinking").String())
	assert.Equal(t, "sig-0123456789", blocks[0].Get("signature").String())
	assert.Equal(t, "Using the tool.", blocks[1].Get("text").String())
	assert.Equal(t, "tool_use", blocks[2].Get("type").String())
	assert.Contains(t, blocks[2].Get("id").String(), "toolu_")
	assert.Equal(t, "lens", blocks[2].Get("name").String())
	assert.Equal(t, int64(2), blocks[2].Get("input.zoom").Int())

	assert.Equal(t, "tool_use", res.Get("stop_reason").String())
	assert.Equal(t, int64(9), res.Get("usage.input_tokens").Int())
	assert.Equal(t, int64(4), res.Get("usage.output_tokens").Int())
}

func TestGeminiToClaudeStopReasons(t *testing.T) {
	tests := []struct {
		name   string
		finish string
		want   string
	}{
		{"stop maps to end_turn", "STOP", "end_turn"},
		{"max tokens", "MAX_TOKENS", "max_tokens"},
		{"safety folds into end_turn", "SAFETY", "end_turn"},
		{"unknown defaults to end_turn", "WEIRD", "end_turn"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := `{"candidates":[{"content":{"parts":[{"text":"x"}]},"finishReason":"` + tt.finish + `"}]}`
			out, err := GeminiToClaudeResponse(context.Background(), "claude-sonnet-4-5", []byte(body))
			require.NoError(t, err)
			assert.Equal(t, tt.want, gjson.GetBytes(out, "stop_reason").String())
		})
	}
}

func TestRoundTripTextVerbatim(t *testing.T) {
	const text = "He said \"hi\" über alles.\nSecond line.\ttabbed é"

	openAIReq := `{"messages":[{"role":"user","content":` + string(mustJSON(t, text)) + `}]}`
	mapped := OpenAIToGeminiRequest("gemini-3-flash", []byte(openAIReq), false)
	assert.Equal(t, text, gjson.GetBytes(mapped, "contents.0.parts.0.text").String())

	geminiResp := `{"candidates":[{"content":{"parts":[{"text":` + string(mustJSON(t, text)) + `}]},"finishReason":"STOP"}]}`
	out, err := GeminiToOpenAIResponse(context.Background(), "gpt-4o", []byte(geminiResp))
	require.NoError(t, err)
	assert.Equal(t, text, gjson.GetBytes(out, "choices.0.message.content").String())

	claudeOut, err := GeminiToClaudeResponse(context.Background(), "claude-sonnet-4-5", []byte(geminiResp))
	require.NoError(t, err)
	assert.Equal(t, text, gjson.GetBytes(claudeOut, "content.0.text").String())
}

func TestCountClaudeTokens(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  int64
	}{
		{
			name:  "system plus message",
			input: `{"system":"abcd","messages":[{"role":"user","content":"efgh"}]}`,
			want:  2,
		},
		{
			name:  "rounds up",
			input: `{"messages":[{"role":"user","content":[{"type":"text","text":"abcde"},{"type":"image","source":{}}]}]}`,
			want:  2,
		},
		{
			name:  "system block array",
			input: `{"system":[{"type":"text","text":"abcdefgh"}],"messages":[]}`,
			want:  2,
		},
		{
			name:  "empty request",
			input: `{"messages":[]}`,
			want:  0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CountClaudeTokens([]byte(tt.input)))
		})
	}
}

func mustJSON(t *testing.T, v interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}
