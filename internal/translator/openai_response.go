package translator

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

func init() {
	Register(FormatGemini, FormatOpenAI, TranslatorConfig{
		ResponseTransform: GeminiToOpenAIResponse,
		StreamTransform:   GeminiToOpenAIStream,
	})
}

var openAIFinishReasons = map[string]string{
	"STOP":       "stop",
	"MAX_TOKENS": "length",
	"SAFETY":     "content_filter",
	"RECITATION": "content_filter",
}

func openAIFinishReason(reason string) string {
	if mapped, ok := openAIFinishReasons[reason]; ok {
		return mapped
	}
	return "stop"
}

// GeminiToOpenAIResponse converts a unary Gemini response into an OpenAI
// chat completion. Only the first candidate is surfaced.
func GeminiToOpenAIResponse(ctx context.Context, model string, responseBody []byte) ([]byte, error) {
	root := unwrapResponse(responseBody)
	if root.Get("error").Exists() {
		return responseBody, nil
	}

	cand := root.Get("candidates.0")
	if !cand.Exists() {
		return responseBody, nil
	}

	var text, reasoning strings.Builder
	var toolCalls []interface{}

	cand.Get("content.parts").ForEach(func(_, part gjson.Result) bool {
		switch {
		case part.Get("thought").Bool():
			reasoning.WriteString(part.Get("text").String())
		case part.Get("functionCall").Exists():
			call := part.Get("functionCall")
			toolCalls = append(toolCalls, map[string]interface{}{
				"id":   fmt.Sprintf("call_%s_%d", call.Get("name").String(), len(toolCalls)),
				"type": "function",
				"function": map[string]interface{}{
					"name":      call.Get("name").String(),
					"arguments": stringifiedArgs(call),
				},
			})
		case part.Get("text").Exists():
			text.WriteString(part.Get("text").String())
		}
		return true
	})

	message := map[string]interface{}{"role": "assistant"}
	finish := openAIFinishReason(cand.Get("finishReason").String())
	if len(toolCalls) > 0 {
		message["content"] = nil
		message["tool_calls"] = toolCalls
		finish = "tool_calls"
	} else {
		message["content"] = text.String()
	}
	if reasoning.Len() > 0 {
		message["reasoning_content"] = reasoning.String()
	}

	out := map[string]interface{}{
		"id":      fmt.Sprintf("chatcmpl-%d", time.Now().Unix()),
		"object":  "chat.completion",
		"created": time.Now().Unix(),
		"model":   model,
		"choices": []interface{}{map[string]interface{}{
			"index":         0,
			"message":       message,
			"finish_reason": finish,
		}},
		"usage": usageFromMetadata(root.Get("usageMetadata")),
	}

	return json.Marshal(out)
}

func stringifiedArgs(call gjson.Result) string {
	if args := call.Get("args"); args.Exists() {
		return args.Raw
	}
	return "{}"
}

func usageFromMetadata(meta gjson.Result) map[string]interface{} {
	return map[string]interface{}{
		"prompt_tokens":     meta.Get("promptTokenCount").Int(),
		"completion_tokens": meta.Get("candidatesTokenCount").Int(),
		"total_tokens":      meta.Get("totalTokenCount").Int(),
	}
}

// GeminiToOpenAIStream converts upstream SSE into OpenAI chat completion
// chunks terminated by a [DONE] sentinel. One chunk is emitted per upstream
// chunk; the finish reason rides on a final empty-delta chunk.
func GeminiToOpenAIStream(ctx context.Context, model string, reader io.Reader) (io.Reader, error) {
	pr, pw := io.Pipe()

	go func() {
		defer pw.Close()

		id := fmt.Sprintf("chatcmpl-%d", time.Now().Unix())
		created := time.Now().Unix()
		roleSent := false
		toolIndex := 0
		finish := ""
		var usage map[string]interface{}

		writeChunk := func(delta map[string]interface{}, finishReason interface{}, withUsage bool) error {
			chunk := map[string]interface{}{
				"id":      id,
				"object":  "chat.completion.chunk",
				"created": created,
				"model":   model,
				"choices": []interface{}{map[string]interface{}{
					"index":         0,
					"delta":         delta,
					"finish_reason": finishReason,
				}},
			}
			if withUsage && usage != nil {
				chunk["usage"] = usage
			}
			data, err := json.Marshal(chunk)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(pw, "data: %s\n\n", data)
			return err
		}

		scanner := newSSEScanner(reader)
		for scanner.Scan() {
			payload, ok := ssePayload(scanner.Text())
			if !ok {
				continue
			}
			chunk := unwrapChunk(payload)

			if meta := chunk.Get("usageMetadata"); meta.Exists() {
				usage = usageFromMetadata(meta)
			}
			if reason := chunk.Get("candidates.0.finishReason").String(); reason != "" {
				finish = openAIFinishReason(reason)
			}

			var text, reasoning strings.Builder
			var toolCalls []interface{}
			chunk.Get("candidates.0.content.parts").ForEach(func(_, part gjson.Result) bool {
				switch {
				case part.Get("thought").Bool():
					reasoning.WriteString(part.Get("text").String())
				case part.Get("functionCall").Exists():
					call := part.Get("functionCall")
					toolCalls = append(toolCalls, map[string]interface{}{
						"index": toolIndex,
						"id":    fmt.Sprintf("call_%s_%d", call.Get("name").String(), toolIndex),
						"type":  "function",
						"function": map[string]interface{}{
							"name":      call.Get("name").String(),
							"arguments": stringifiedArgs(call),
						},
					})
					toolIndex++
				case part.Get("text").Exists():
					text.WriteString(part.Get("text").String())
				}
				return true
			})

			delta := map[string]interface{}{}
			if text.Len() > 0 {
				delta["content"] = text.String()
			}
			if reasoning.Len() > 0 {
				delta["reasoning_content"] = reasoning.String()
			}
			if len(toolCalls) > 0 {
				delta["tool_calls"] = toolCalls
			}
			if len(delta) == 0 {
				continue
			}
			if !roleSent {
				delta["role"] = "assistant"
				roleSent = true
			}
			if err := writeChunk(delta, nil, false); err != nil {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			pw.CloseWithError(err)
			return
		}

		final := map[string]interface{}{}
		if !roleSent {
			final["role"] = "assistant"
		}
		if finish == "" {
			finish = "stop"
		}
		if err := writeChunk(final, finish, true); err != nil {
			return
		}
		_, _ = io.WriteString(pw, "data: [DONE]\n\n")
	}()

	return pr, nil
}
