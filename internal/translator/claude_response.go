package translator

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
)

func init() {
	Register(FormatGemini, FormatClaude, TranslatorConfig{
		ResponseTransform: GeminiToClaudeResponse,
		StreamTransform:   GeminiToClaudeStream,
	})
}

var claudeStopReasons = map[string]string{
	"STOP":       "end_turn",
	"MAX_TOKENS": "max_tokens",
	"SAFETY":     "end_turn",
	"RECITATION": "end_turn",
}

func claudeStopReason(reason string) string {
	if mapped, ok := claudeStopReasons[reason]; ok {
		return mapped
	}
	return "end_turn"
}

func newMessageID() string { return "msg_" + uuid.NewString() }
func newToolUseID() string { return "toolu_" + uuid.NewString() }

// GeminiToClaudeResponse converts a unary Gemini response into an Anthropic
// message.
func GeminiToClaudeResponse(ctx context.Context, model string, responseBody []byte) ([]byte, error) {
	root := unwrapResponse(responseBody)
	if root.Get("error").Exists() {
		return responseBody, nil
	}

	cand := root.Get("candidates.0")
	if !cand.Exists() {
		return responseBody, nil
	}

	blocks := []interface{}{}
	hasToolUse := false

	cand.Get("content.parts").ForEach(func(_, part gjson.Result) bool {
		switch {
		case part.Get("thought").Bool():
			blk := map[string]interface{}{
				"type":     "thinking",
				"thinking": part.Get("text").String(),
			}
			if sig := part.Get("thoughtSignature").String(); sig != "" {
				blk["signature"] = sig
			}
			blocks = append(blocks, blk)
		case part.Get("functionCall").Exists():
			call := part.Get("functionCall")
			input := map[string]interface{}{}
			if m, ok := call.Get("args").Value().(map[string]interface{}); ok {
				input = m
			}
			blocks = append(blocks, map[string]interface{}{
				"type":  "tool_use",
				"id":    newToolUseID(),
				"name":  call.Get("name").String(),
				"input": input,
			})
			hasToolUse = true
		case part.Get("text").Exists():
			blocks = append(blocks, map[string]interface{}{
				"type": "text",
				"text": part.Get("text").String(),
			})
		}
		return true
	})

	stop := claudeStopReason(cand.Get("finishReason").String())
	if hasToolUse && cand.Get("finishReason").String() == "STOP" {
		stop = "tool_use"
	}

	meta := root.Get("usageMetadata")
	out := map[string]interface{}{
		"id":            newMessageID(),
		"type":          "message",
		"role":          "assistant",
		"model":         model,
		"content":       blocks,
		"stop_reason":   stop,
		"stop_sequence": nil,
		"usage": map[string]interface{}{
			"input_tokens":  meta.Get("promptTokenCount").Int(),
			"output_tokens": meta.Get("candidatesTokenCount").Int(),
		},
	}

	return json.Marshal(out)
}

// GeminiToClaudeStream converts upstream SSE into the Anthropic event
// sequence. A text block is opened up front; tool_use blocks are emitted
// atomically as start, full input_json_delta, stop.
func GeminiToClaudeStream(ctx context.Context, model string, reader io.Reader) (io.Reader, error) {
	pr, pw := io.Pipe()

	go func() {
		defer pw.Close()

		s := &claudeStream{pw: pw, model: model}
		if err := s.begin(); err != nil {
			return
		}

		scanner := newSSEScanner(reader)
		for scanner.Scan() {
			payload, ok := ssePayload(scanner.Text())
			if !ok {
				continue
			}
			done, err := s.consume(unwrapChunk(payload))
			if err != nil {
				return
			}
			if done {
				break
			}
		}
		if err := scanner.Err(); err != nil {
			pw.CloseWithError(err)
			return
		}
		_ = s.finish()
	}()

	return pr, nil
}

// claudeStream tracks block indices across chunks. Exactly one block is open
// at a time; openType is empty between blocks.
type claudeStream struct {
	pw    *io.PipeWriter
	model string

	index     int
	openType  string
	signature string
	finished  bool

	inputTokens  int64
	outputTokens int64
	stopReason   string
}

func (s *claudeStream) event(name string, payload map[string]interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(s.pw, "event: %s\ndata: %s\n\n", name, data)
	return err
}

func (s *claudeStream) begin() error {
	err := s.event("message_start", map[string]interface{}{
		"type": "message_start",
		"message": map[string]interface{}{
			"id":            newMessageID(),
			"type":          "message",
			"role":          "assistant",
			"model":         s.model,
			"content":       []interface{}{},
			"stop_reason":   nil,
			"stop_sequence": nil,
			"usage": map[string]interface{}{
				"input_tokens":  0,
				"output_tokens": 0,
			},
		},
	})
	if err != nil {
		return err
	}

	s.openType = "text"
	return s.event("content_block_start", map[string]interface{}{
		"type":          "content_block_start",
		"index":         0,
		"content_block": map[string]interface{}{"type": "text", "text": ""},
	})
}

func (s *claudeStream) consume(chunk gjson.Result) (bool, error) {
	if meta := chunk.Get("usageMetadata"); meta.Exists() {
		s.inputTokens = meta.Get("promptTokenCount").Int()
		s.outputTokens = meta.Get("candidatesTokenCount").Int()
	}

	var err error
	chunk.Get("candidates.0.content.parts").ForEach(func(_, part gjson.Result) bool {
		switch {
		case part.Get("thought").Bool():
			err = s.thinkingDelta(part)
		case part.Get("functionCall").Exists():
			err = s.toolUse(part.Get("functionCall"))
		case part.Get("text").Exists():
			err = s.textDelta(part.Get("text").String())
		}
		return err == nil
	})
	if err != nil {
		return false, err
	}

	if reason := chunk.Get("candidates.0.finishReason").String(); reason != "" {
		s.stopReason = claudeStopReason(reason)
		return true, s.finish()
	}
	return false, nil
}

func (s *claudeStream) textDelta(text string) error {
	if s.openType != "text" {
		if err := s.startBlock("text"); err != nil {
			return err
		}
	}
	return s.event("content_block_delta", map[string]interface{}{
		"type":  "content_block_delta",
		"index": s.index,
		"delta": map[string]interface{}{"type": "text_delta", "text": text},
	})
}

func (s *claudeStream) thinkingDelta(part gjson.Result) error {
	if s.openType != "thinking" {
		if err := s.startBlock("thinking"); err != nil {
			return err
		}
	}
	if sig := part.Get("thoughtSignature").String(); sig != "" {
		s.signature = sig
	}
	return s.event("content_block_delta", map[string]interface{}{
		"type":  "content_block_delta",
		"index": s.index,
		"delta": map[string]interface{}{"type": "thinking_delta", "thinking": part.Get("text").String()},
	})
}

func (s *claudeStream) toolUse(call gjson.Result) error {
	if err := s.closeBlock(); err != nil {
		return err
	}
	s.index++

	if err := s.event("content_block_start", map[string]interface{}{
		"type":  "content_block_start",
		"index": s.index,
		"content_block": map[string]interface{}{
			"type":  "tool_use",
			"id":    newToolUseID(),
			"name":  call.Get("name").String(),
			"input": map[string]interface{}{},
		},
	}); err != nil {
		return err
	}
	if err := s.event("content_block_delta", map[string]interface{}{
		"type":  "content_block_delta",
		"index": s.index,
		"delta": map[string]interface{}{"type": "input_json_delta", "partial_json": stringifiedArgs(call)},
	}); err != nil {
		return err
	}
	return s.event("content_block_stop", map[string]interface{}{
		"type":  "content_block_stop",
		"index": s.index,
	})
}

// startBlock closes the open block and opens a new one of the given type.
func (s *claudeStream) startBlock(kind string) error {
	if err := s.closeBlock(); err != nil {
		return err
	}
	s.index++
	s.openType = kind

	block := map[string]interface{}{"type": kind}
	switch kind {
	case "text":
		block["text"] = ""
	case "thinking":
		block["thinking"] = ""
	}
	return s.event("content_block_start", map[string]interface{}{
		"type":          "content_block_start",
		"index":         s.index,
		"content_block": block,
	})
}

func (s *claudeStream) closeBlock() error {
	if s.openType == "" {
		return nil
	}
	if s.openType == "thinking" && s.signature != "" {
		if err := s.event("content_block_delta", map[string]interface{}{
			"type":  "content_block_delta",
			"index": s.index,
			"delta": map[string]interface{}{"type": "signature_delta", "signature": s.signature},
		}); err != nil {
			return err
		}
		s.signature = ""
	}
	err := s.event("content_block_stop", map[string]interface{}{
		"type":  "content_block_stop",
		"index": s.index,
	})
	s.openType = ""
	return err
}

func (s *claudeStream) finish() error {
	if s.finished {
		return nil
	}
	s.finished = true

	if err := s.closeBlock(); err != nil {
		return err
	}

	stop := s.stopReason
	if stop == "" {
		stop = "end_turn"
	}
	if err := s.event("message_delta", map[string]interface{}{
		"type":  "message_delta",
		"delta": map[string]interface{}{"stop_reason": stop, "stop_sequence": nil},
		"usage": map[string]interface{}{
			"input_tokens":  s.inputTokens,
			"output_tokens": s.outputTokens,
		},
	}); err != nil {
		return err
	}
	return s.event("message_stop", map[string]interface{}{"type": "message_stop"})
}
