package translator

import (
	"encoding/json"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// minThinkingSignature is the shortest signature accepted as proof that a
// thinking block can be replayed verbatim.
const minThinkingSignature = 10

// validThinkingSignature reports whether a thinking block may be resent as-is.
func validThinkingSignature(thinking, signature string) bool {
	if len(signature) >= minThinkingSignature {
		return true
	}
	return thinking == "" && signature != ""
}

// wrapThinkingText renders reasoning as inline text for upstreams that cannot
// verify a signature.
func wrapThinkingText(text string) string {
	return "<thinking>" + text + "</thinking>"
}

// SanitizeClaudeThinking returns a copy of an Anthropic request with
// historical thinking blocks normalized: validly signed blocks are stripped
// to their canonical keys, unsigned reasoning is downgraded to tagged text
// and redacted blocks are removed. cache_control markers are dropped from
// every content block, system blocks included.
func SanitizeClaudeThinking(rawJSON []byte) []byte {
	messages := gjson.GetBytes(rawJSON, "messages")
	if !messages.IsArray() {
		return rawJSON
	}

	rebuilt := make([]interface{}, 0, len(messages.Array()))
	messages.ForEach(func(_, msg gjson.Result) bool {
		m, ok := msg.Value().(map[string]interface{})
		if !ok {
			rebuilt = append(rebuilt, msg.Value())
			return true
		}
		if content := msg.Get("content"); content.IsArray() {
			if msg.Get("role").String() == "assistant" {
				m["content"] = sanitizeAssistantContent(content)
			} else {
				m["content"] = stripBlockCacheControl(content)
			}
		}
		rebuilt = append(rebuilt, m)
		return true
	})

	msgJSON, err := json.Marshal(rebuilt)
	if err != nil {
		return rawJSON
	}
	out, err := sjson.SetRawBytes(rawJSON, "messages", msgJSON)
	if err != nil {
		return rawJSON
	}

	if system := gjson.GetBytes(out, "system"); system.IsArray() {
		if sysJSON, err := json.Marshal(stripBlockCacheControl(system)); err == nil {
			out, _ = sjson.SetRawBytes(out, "system", sysJSON)
		}
	}

	return out
}

func sanitizeAssistantContent(content gjson.Result) []interface{} {
	blocks := content.Array()

	// Unsigned thinking at the tail is the current turn's live reasoning;
	// replaying it is rejected upstream, so it is cut rather than downgraded.
	// Redacted blocks are transparent to the scan since they go away anyway.
	end := len(blocks)
	for end > 0 {
		typ := blocks[end-1].Get("type").String()
		if typ == "redacted_thinking" {
			end--
			continue
		}
		if typ == "thinking" && blocks[end-1].Get("signature").String() == "" {
			end--
			continue
		}
		break
	}

	out := make([]interface{}, 0, end)
	for _, blk := range blocks[:end] {
		switch blk.Get("type").String() {
		case "thinking":
			thinking := blk.Get("thinking").String()
			signature := blk.Get("signature").String()
			switch {
			case validThinkingSignature(thinking, signature):
				out = append(out, map[string]interface{}{
					"type":      "thinking",
					"thinking":  thinking,
					"signature": signature,
				})
			case thinking != "":
				out = append(out, map[string]interface{}{
					"type": "text",
					"text": wrapThinkingText(thinking),
				})
			}
		case "redacted_thinking":
			// dropped
		default:
			out = append(out, stripCacheControl(blk))
		}
	}

	if len(out) == 0 {
		out = append(out, map[string]interface{}{"type": "text", "text": ""})
	}
	return out
}

func stripCacheControl(blk gjson.Result) interface{} {
	m, ok := blk.Value().(map[string]interface{})
	if !ok {
		return blk.Value()
	}
	delete(m, "cache_control")
	return m
}

func stripBlockCacheControl(content gjson.Result) []interface{} {
	blocks := content.Array()
	out := make([]interface{}, 0, len(blocks))
	for _, blk := range blocks {
		out = append(out, stripCacheControl(blk))
	}
	return out
}
