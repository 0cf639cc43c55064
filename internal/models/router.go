package models

import (
	"strings"

	"ag2api-go/internal/config"
)

// Decision is the routing outcome for one request.
type Decision struct {
	Model            string `json:"model"`
	Reason           string `json:"reason"`
	IsBackground     bool   `json:"isBackground"`
	RequiresVision   bool   `json:"requiresVision"`
	RequiresThinking bool   `json:"requiresThinking"`
}

// Routing reasons surfaced in monitor logs.
const (
	ReasonBackground      = "background"
	ReasonCustomMapping   = "custom-mapping"
	ReasonProtocolMapping = "protocol-mapping"
	ReasonExact           = "exact"
	ReasonBuiltinMapping  = "builtin-mapping"
	ReasonPassthrough     = "gemini-passthrough"
	ReasonDefault         = "default"
	ReasonThinkingUpgrade = "thinking-upgrade"
	ReasonVisionUpgrade   = "vision-upgrade"
)

// builtinMappings translate well-known public model names onto the upstream
// catalog. Names that slip past this table fall to the class heuristics in
// builtinFor.
var builtinMappings = map[string]string{
	"gpt-4o":           "claude-sonnet-4-5",
	"gpt-4o-mini":      "gemini-3-flash",
	"gpt-4-turbo":      "claude-sonnet-4-5",
	"gpt-4.1":          "claude-sonnet-4-5",
	"gpt-4.1-mini":     "gemini-3-flash",
	"gpt-3.5-turbo":    "gemini-3-flash",
	"o1":               "claude-sonnet-4-5-thinking",
	"o1-mini":          "claude-sonnet-4-5-thinking",
	"o3":               "claude-opus-4-6-thinking",
	"o3-mini":          "claude-sonnet-4-5-thinking",
	"gemini-2.5-pro":   "gemini-3-pro-high",
	"gemini-2.5-flash": "gemini-3-flash",
	"gemini-2.0-flash": "gemini-3-flash",
	"gemini-1.5-pro":   "gemini-3-pro-low",
	"gemini-1.5-flash": "gemini-3-flash",
}

// Route picks the upstream model for one request. It is pure: same body,
// protocol and mappings always yield the same decision.
func Route(requested string, body []byte, protocol Protocol, mappings config.ModelMappings) Decision {
	d := Decision{
		IsBackground:     DetectBackground(lastMessageTexts(body, protocol, backgroundScanDepth)),
		RequiresVision:   DetectVision(body, protocol),
		RequiresThinking: DetectThinking(body, protocol, requested),
	}

	if d.IsBackground && !d.RequiresVision && !d.RequiresThinking {
		d.Model = BackgroundTaskModel
		d.Reason = ReasonBackground
		return d
	}

	d.Model, d.Reason = resolve(requested, protocol, mappings)
	if d.RequiresThinking && !SupportsThinking(d.Model) {
		if v := ThinkingVariantOf(d.Model); v != "" {
			d.Model = v
		} else {
			d.Model = DefaultThinkingModel
		}
		d.Reason = ReasonThinkingUpgrade
	}
	if d.RequiresVision && !SupportsVision(d.Model) {
		d.Model = VisionModel
		d.Reason = ReasonVisionUpgrade
	}
	return d
}

// resolve runs the three mapping layers, then exact catalog names, then the
// gemini passthrough, and finally the default model.
func resolve(requested string, protocol Protocol, mappings config.ModelMappings) (string, string) {
	name := normalize(requested)
	if name == "" {
		return DefaultModel, ReasonDefault
	}

	if target := mappings.Custom[name]; target != "" {
		return target, ReasonCustomMapping
	}

	var protoMap map[string]string
	switch protocol {
	case ProtocolOpenAI:
		protoMap = mappings.OpenAI
	case ProtocolClaude:
		protoMap = mappings.Anthropic
	}
	if target := protoMap[name]; target != "" {
		return target, ReasonProtocolMapping
	}

	if Known(name) {
		return name, ReasonExact
	}
	if target, ok := builtinFor(name); ok {
		return target, ReasonBuiltinMapping
	}
	if strings.HasPrefix(name, "gemini-") {
		return name, ReasonPassthrough
	}
	return DefaultModel, ReasonDefault
}

// builtinFor classifies dated or versioned public names by model class, so
// claude-3-5-haiku-20241022 style ids route sensibly without a table entry.
func builtinFor(name string) (string, bool) {
	if target, ok := builtinMappings[name]; ok {
		return target, true
	}
	thinking := strings.Contains(name, "thinking")
	switch {
	case strings.Contains(name, "opus"):
		if thinking {
			return "claude-opus-4-6-thinking", true
		}
		return "claude-opus-4-6", true
	case strings.Contains(name, "sonnet"):
		if thinking {
			return "claude-sonnet-4-5-thinking", true
		}
		return "claude-sonnet-4-5", true
	case strings.Contains(name, "haiku"):
		return BackgroundTaskModel, true
	}
	return "", false
}
