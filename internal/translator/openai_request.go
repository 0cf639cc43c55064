package translator

import (
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

func init() {
	Register(FormatOpenAI, FormatGemini, TranslatorConfig{
		RequestTransform: OpenAIToGeminiRequest,
	})
}

// OpenAIToGeminiRequest converts an OpenAI chat completions request into a
// Gemini generateContent body.
func OpenAIToGeminiRequest(model string, rawJSON []byte, stream bool) []byte {
	out := `{"contents":[]}`

	contents, system := openAIContents(rawJSON)
	contents = mergeAdjacentRoles(contents)
	contentsJSON, _ := json.Marshal(contents)
	out, _ = sjson.SetRaw(out, "contents", string(contentsJSON))

	if system != "" {
		sysJSON, _ := json.Marshal(map[string]interface{}{
			"parts": []interface{}{map[string]interface{}{"text": system}},
		})
		out, _ = sjson.SetRaw(out, "systemInstruction", string(sysJSON))
	}

	if cfg := openAIGenerationConfig(rawJSON); len(cfg) > 0 {
		cfgJSON, _ := json.Marshal(cfg)
		out, _ = sjson.SetRaw(out, "generationConfig", string(cfgJSON))
	}

	out = applyOpenAITools(out, rawJSON)

	return []byte(out)
}

// openAIContents converts the messages array, returning Gemini contents and
// the concatenated system prompt.
func openAIContents(rawJSON []byte) ([]map[string]interface{}, string) {
	var contents []map[string]interface{}
	var system []string

	gjson.GetBytes(rawJSON, "messages").ForEach(func(_, msg gjson.Result) bool {
		switch msg.Get("role").String() {
		case "system":
			if text := openAIMessageText(msg.Get("content")); text != "" {
				system = append(system, text)
			}
		case "tool":
			contents = append(contents, map[string]interface{}{
				"role":  "user",
				"parts": []interface{}{openAIToolResponsePart(msg)},
			})
		case "assistant":
			if parts := openAIParts(msg); len(parts) > 0 {
				contents = append(contents, map[string]interface{}{"role": "model", "parts": parts})
			}
		default:
			if parts := openAIParts(msg); len(parts) > 0 {
				contents = append(contents, map[string]interface{}{"role": "user", "parts": parts})
			}
		}
		return true
	})

	return contents, strings.Join(system, "\n\n")
}

// openAIMessageText flattens string or multi-part content to plain text.
func openAIMessageText(content gjson.Result) string {
	if content.Type == gjson.String {
		return content.String()
	}
	var segs []string
	content.ForEach(func(_, part gjson.Result) bool {
		if part.Get("type").String() == "text" {
			segs = append(segs, part.Get("text").String())
		}
		return true
	})
	return strings.Join(segs, "\n")
}

// openAIParts maps message content and tool_calls onto Gemini parts.
func openAIParts(msg gjson.Result) []interface{} {
	var parts []interface{}

	content := msg.Get("content")
	switch {
	case content.Type == gjson.String:
		if content.String() != "" {
			parts = append(parts, map[string]interface{}{"text": content.String()})
		}
	case content.IsArray():
		content.ForEach(func(_, part gjson.Result) bool {
			switch part.Get("type").String() {
			case "text":
				parts = append(parts, map[string]interface{}{"text": part.Get("text").String()})
			case "image_url":
				parts = append(parts, openAIImagePart(part.Get("image_url.url").String()))
			}
			return true
		})
	}

	msg.Get("tool_calls").ForEach(func(_, call gjson.Result) bool {
		var args map[string]interface{}
		if raw := call.Get("function.arguments").String(); raw != "" {
			_ = json.Unmarshal([]byte(raw), &args)
		}
		if args == nil {
			args = map[string]interface{}{}
		}
		parts = append(parts, map[string]interface{}{
			"functionCall": map[string]interface{}{
				"name": call.Get("function.name").String(),
				"args": args,
			},
		})
		return true
	})

	return parts
}

// openAIImagePart maps a data URL onto inlineData. Remote URLs cannot be
// fetched on the upstream's behalf and degrade to a text placeholder.
func openAIImagePart(url string) map[string]interface{} {
	if strings.HasPrefix(url, "data:") {
		meta, data, found := strings.Cut(strings.TrimPrefix(url, "data:"), ",")
		if found {
			return map[string]interface{}{
				"inlineData": map[string]interface{}{
					"mimeType": strings.TrimSuffix(meta, ";base64"),
					"data":     data,
				},
			}
		}
	}
	return map[string]interface{}{"text": "[image: " + url + "]"}
}

// openAIToolResponsePart turns a tool-role message into a functionResponse.
func openAIToolResponsePart(msg gjson.Result) map[string]interface{} {
	name := msg.Get("name").String()
	if name == "" {
		name = msg.Get("tool_call_id").String()
	}
	return map[string]interface{}{
		"functionResponse": map[string]interface{}{
			"name":     name,
			"response": responsePayload(msg.Get("content")),
		},
	}
}

// responsePayload coerces tool output into the JSON object the upstream
// functionResponse field requires.
func responsePayload(content gjson.Result) map[string]interface{} {
	text := ""
	switch {
	case !content.Exists():
		return map[string]interface{}{}
	case content.Type == gjson.String:
		text = content.String()
	case content.IsObject():
		if m, ok := content.Value().(map[string]interface{}); ok {
			return m
		}
	case content.IsArray():
		var segs []string
		content.ForEach(func(_, blk gjson.Result) bool {
			if blk.Get("type").String() == "text" {
				segs = append(segs, blk.Get("text").String())
			}
			return true
		})
		text = strings.Join(segs, "\n")
	}

	var parsed map[string]interface{}
	if err := json.Unmarshal([]byte(text), &parsed); err == nil && parsed != nil {
		return parsed
	}
	return map[string]interface{}{"result": text}
}

// mergeAdjacentRoles folds consecutive same-role entries together so the
// upstream sees strict user/model alternation.
func mergeAdjacentRoles(contents []map[string]interface{}) []map[string]interface{} {
	if len(contents) < 2 {
		return contents
	}
	merged := contents[:1]
	for _, cur := range contents[1:] {
		last := merged[len(merged)-1]
		if last["role"] == cur["role"] {
			last["parts"] = append(last["parts"].([]interface{}), cur["parts"].([]interface{})...)
			continue
		}
		merged = append(merged, cur)
	}
	return merged
}

func openAIGenerationConfig(rawJSON []byte) map[string]interface{} {
	cfg := make(map[string]interface{})

	if v := gjson.GetBytes(rawJSON, "temperature"); v.Exists() {
		cfg["temperature"] = v.Float()
	}
	if v := gjson.GetBytes(rawJSON, "top_p"); v.Exists() {
		cfg["topP"] = v.Float()
	}
	if v := gjson.GetBytes(rawJSON, "max_tokens"); v.Exists() {
		cfg["maxOutputTokens"] = v.Int()
	} else if v := gjson.GetBytes(rawJSON, "max_completion_tokens"); v.Exists() {
		cfg["maxOutputTokens"] = v.Int()
	}
	if stops := stopSequences(gjson.GetBytes(rawJSON, "stop")); len(stops) > 0 {
		cfg["stopSequences"] = stops
	}

	return cfg
}

// stopSequences accepts the string-or-array shape both protocols allow.
func stopSequences(v gjson.Result) []string {
	switch {
	case v.Type == gjson.String:
		return []string{v.String()}
	case v.IsArray():
		var out []string
		v.ForEach(func(_, s gjson.Result) bool {
			out = append(out, s.String())
			return true
		})
		return out
	}
	return nil
}

// applyOpenAITools shapes tools[].function into a single functionDeclarations
// entry and maps tool_choice onto toolConfig.
func applyOpenAITools(out string, rawJSON []byte) string {
	choice := gjson.GetBytes(rawJSON, "tool_choice")
	if choice.Type == gjson.String && choice.String() == "none" {
		return out
	}

	tools := gjson.GetBytes(rawJSON, "tools")
	if !tools.IsArray() {
		return out
	}

	var decls []interface{}
	tools.ForEach(func(_, tool gjson.Result) bool {
		fn := tool.Get("function")
		if !fn.Exists() || fn.Get("name").String() == "" {
			return true
		}
		decl := map[string]interface{}{"name": fn.Get("name").String()}
		if desc := fn.Get("description").String(); desc != "" {
			decl["description"] = desc
		}
		if params, ok := fn.Get("parameters").Value().(map[string]interface{}); ok {
			decl["parameters"] = cleanSchema(params)
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

	if cfg := openAIFunctionCallingConfig(choice); cfg != nil {
		cfgJSON, _ := json.Marshal(cfg)
		out, _ = sjson.SetRaw(out, "toolConfig.functionCallingConfig", string(cfgJSON))
	}

	return out
}

func openAIFunctionCallingConfig(choice gjson.Result) map[string]interface{} {
	switch {
	case choice.Type == gjson.String && choice.String() == "auto":
		return map[string]interface{}{"mode": "AUTO"}
	case choice.Type == gjson.String && choice.String() == "required":
		return map[string]interface{}{"mode": "ANY"}
	case choice.IsObject():
		cfg := map[string]interface{}{"mode": "ANY"}
		if name := choice.Get("function.name").String(); name != "" {
			cfg["allowedFunctionNames"] = []string{name}
		}
		return cfg
	}
	return nil
}
