package translator

import (
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

func init() {
	Register(FormatClaude, FormatGemini, TranslatorConfig{
		RequestTransform: ClaudeToGeminiRequest,
	})
}

const (
	defaultThinkingBudget = 16000
	thinkingOutputMargin  = 8192
)

// ClaudeToGeminiRequest converts an Anthropic messages request into a Gemini
// generateContent body. Callers run SanitizeClaudeThinking first.
func ClaudeToGeminiRequest(model string, rawJSON []byte, stream bool) []byte {
	out := `{"contents":[]}`

	contents := claudeContents(rawJSON)
	contents = mergeAdjacentRoles(contents)
	contentsJSON, _ := json.Marshal(contents)
	out, _ = sjson.SetRaw(out, "contents", string(contentsJSON))

	if system := claudeSystemText(gjson.GetBytes(rawJSON, "system")); system != "" {
		sysJSON, _ := json.Marshal(map[string]interface{}{
			"parts": []interface{}{map[string]interface{}{"text": system}},
		})
		out, _ = sjson.SetRaw(out, "systemInstruction", string(sysJSON))
	}

	if cfg := claudeGenerationConfig(rawJSON, model); len(cfg) > 0 {
		cfgJSON, _ := json.Marshal(cfg)
		out, _ = sjson.SetRaw(out, "generationConfig", string(cfgJSON))
	}

	out = applyClaudeTools(out, rawJSON)

	return []byte(out)
}

// claudeSystemText flattens the string-or-block-array system field.
func claudeSystemText(system gjson.Result) string {
	switch {
	case system.Type == gjson.String:
		return system.String()
	case system.IsArray():
		var segs []string
		system.ForEach(func(_, blk gjson.Result) bool {
			if blk.Get("type").String() == "text" {
				segs = append(segs, blk.Get("text").String())
			}
			return true
		})
		return strings.Join(segs, "\n")
	}
	return ""
}

func claudeContents(rawJSON []byte) []map[string]interface{} {
	var contents []map[string]interface{}

	gjson.GetBytes(rawJSON, "messages").ForEach(func(_, msg gjson.Result) bool {
		role := "user"
		if msg.Get("role").String() == "assistant" {
			role = "model"
		}
		if parts := claudeParts(msg.Get("content")); len(parts) > 0 {
			contents = append(contents, map[string]interface{}{"role": role, "parts": parts})
		}
		return true
	})

	return contents
}

// claudeParts maps Anthropic content blocks onto Gemini parts. Surviving
// thinking blocks render as tagged text; redacted blocks never reach the
// upstream.
func claudeParts(content gjson.Result) []interface{} {
	var parts []interface{}

	if content.Type == gjson.String {
		if content.String() != "" {
			parts = append(parts, map[string]interface{}{"text": content.String()})
		}
		return parts
	}

	content.ForEach(func(_, blk gjson.Result) bool {
		switch blk.Get("type").String() {
		case "text":
			if text := blk.Get("text").String(); text != "" {
				parts = append(parts, map[string]interface{}{"text": text})
			}
		case "image":
			if blk.Get("source.type").String() == "base64" {
				parts = append(parts, map[string]interface{}{
					"inlineData": map[string]interface{}{
						"mimeType": blk.Get("source.media_type").String(),
						"data":     blk.Get("source.data").String(),
					},
				})
			}
		case "tool_use":
			input := map[string]interface{}{}
			if m, ok := blk.Get("input").Value().(map[string]interface{}); ok {
				input = m
			}
			parts = append(parts, map[string]interface{}{
				"functionCall": map[string]interface{}{
					"name": blk.Get("name").String(),
					"args": input,
				},
			})
		case "tool_result":
			parts = append(parts, map[string]interface{}{
				"functionResponse": map[string]interface{}{
					"name":     blk.Get("tool_use_id").String(),
					"response": responsePayload(blk.Get("content")),
				},
			})
		case "thinking":
			if text := blk.Get("thinking").String(); text != "" {
				parts = append(parts, map[string]interface{}{"text": wrapThinkingText(text)})
			}
		}
		return true
	})

	return parts
}

func claudeGenerationConfig(rawJSON []byte, model string) map[string]interface{} {
	cfg := make(map[string]interface{})

	if v := gjson.GetBytes(rawJSON, "temperature"); v.Exists() {
		cfg["temperature"] = v.Float()
	}
	if v := gjson.GetBytes(rawJSON, "top_p"); v.Exists() {
		cfg["topP"] = v.Float()
	}
	if stops := stopSequences(gjson.GetBytes(rawJSON, "stop_sequences")); len(stops) > 0 {
		cfg["stopSequences"] = stops
	}

	maxTokens := gjson.GetBytes(rawJSON, "max_tokens").Int()
	if thinking, budget := claudeThinkingConfig(rawJSON, model); thinking != nil {
		cfg["thinkingConfig"] = thinking
		// The output cap must leave room beyond the thought budget.
		if maxTokens > 0 && maxTokens <= budget {
			maxTokens = budget + thinkingOutputMargin
		}
	}
	if maxTokens > 0 {
		cfg["maxOutputTokens"] = maxTokens
	}

	return cfg
}

// claudeThinkingConfig enables thought output when the request asks for it or
// the routed model is a thinking variant. The upstream expects snake_case
// keys for claude targets and camelCase for gemini targets.
func claudeThinkingConfig(rawJSON []byte, model string) (map[string]interface{}, int64) {
	enabled := gjson.GetBytes(rawJSON, "thinking.type").String() == "enabled"
	if !enabled && !strings.Contains(model, "thinking") {
		return nil, 0
	}

	budget := gjson.GetBytes(rawJSON, "thinking.budget_tokens").Int()
	if budget <= 0 {
		budget = defaultThinkingBudget
	}

	if strings.HasPrefix(model, "claude-") {
		return map[string]interface{}{
			"include_thoughts": true,
			"thinking_budget":  budget,
		}, budget
	}
	return map[string]interface{}{
		"includeThoughts": true,
		"thinkingBudget":  budget,
	}, budget
}

// applyClaudeTools shapes Anthropic tool definitions into a single
// functionDeclarations entry and maps tool_choice onto toolConfig.
func applyClaudeTools(out string, rawJSON []byte) string {
	choice := gjson.GetBytes(rawJSON, "tool_choice.type").String()
	if choice == "none" {
		return out
	}

	tools := gjson.GetBytes(rawJSON, "tools")
	if !tools.IsArray() {
		return out
	}

	var decls []interface{}
	tools.ForEach(func(_, tool gjson.Result) bool {
		name := tool.Get("name").String()
		if name == "" {
			return true
		}
		decl := map[string]interface{}{"name": name}
		if desc := tool.Get("description").String(); desc != "" {
			decl["description"] = desc
		}
		if schema, ok := tool.Get("input_schema").Value().(map[string]interface{}); ok {
			decl["parameters"] = cleanSchema(schema)
		}
		decls = append(decls, decl)
		return true
	})
	if len(decls) == 0 {
		return out
	}

	toolsJSON, _ := json.Marshal([]interface{}{
		map[string]interface{}{"functionDeclarations": decls},
	})
	out, _ = sjson.SetRaw(out, "tools", string(toolsJSON))

	var cfg map[string]interface{}
	switch choice {
	case "auto":
		cfg = map[string]interface{}{"mode": "AUTO"}
	case "any":
		cfg = map[string]interface{}{"mode": "ANY"}
	case "tool":
		cfg = map[string]interface{}{"mode": "ANY"}
		if name := gjson.GetBytes(rawJSON, "tool_choice.name").String(); name != "" {
			cfg["allowedFunctionNames"] = []string{name}
		}
	}
	if cfg != nil {
		cfgJSON, _ := json.Marshal(cfg)
		out, _ = sjson.SetRaw(out, "toolConfig.functionCallingConfig", string(cfgJSON))
	}

	return out
}
