package models

import (
	"sort"
	"strings"
)

// Family groups models by provider naming.
type Family string

const (
	FamilyGemini Family = "gemini"
	FamilyClaude Family = "claude"
)

// Well-known routing targets.
const (
	// DefaultModel serves requests whose name resolves nowhere.
	DefaultModel = "claude-sonnet-4-5"
	// DefaultThinkingModel is the thinking upgrade when a model has no
	// thinking variant of its own.
	DefaultThinkingModel = "claude-sonnet-4-5-thinking"
	// BackgroundTaskModel absorbs title/summary style housekeeping requests.
	BackgroundTaskModel = "gemini-3-flash"
	// VisionModel is the upgrade target for image-bearing requests.
	VisionModel = "gemini-3-pro-high"
)

// Descriptor describes one upstream model.
type Descriptor struct {
	ID              string
	DisplayName     string
	Family          Family
	ContextWindow   int
	MaxOutputTokens int
	Vision          bool
	Thinking        bool
	// ThinkingVariant names the thinking counterpart for models that have
	// one; empty otherwise.
	ThinkingVariant string
	// Fallback is the next model one tier down, empty at the bottom.
	Fallback string
}

var catalog = map[string]Descriptor{
	"gemini-3-pro-high": {
		ID:              "gemini-3-pro-high",
		DisplayName:     "Gemini 3 Pro (High)",
		Family:          FamilyGemini,
		ContextWindow:   1048576,
		MaxOutputTokens: 65536,
		Vision:          true,
		Thinking:        true,
		Fallback:        "gemini-3-pro-low",
	},
	"gemini-3-pro-low": {
		ID:              "gemini-3-pro-low",
		DisplayName:     "Gemini 3 Pro (Low)",
		Family:          FamilyGemini,
		ContextWindow:   1048576,
		MaxOutputTokens: 65536,
		Vision:          true,
		Thinking:        true,
		Fallback:        "gemini-3-flash",
	},
	"gemini-3-flash": {
		ID:              "gemini-3-flash",
		DisplayName:     "Gemini 3 Flash",
		Family:          FamilyGemini,
		ContextWindow:   1048576,
		MaxOutputTokens: 65536,
		Vision:          true,
		Thinking:        true,
	},
	"claude-sonnet-4-5": {
		ID:              "claude-sonnet-4-5",
		DisplayName:     "Claude Sonnet 4.5",
		Family:          FamilyClaude,
		ContextWindow:   200000,
		MaxOutputTokens: 64000,
		ThinkingVariant: "claude-sonnet-4-5-thinking",
	},
	"claude-sonnet-4-5-thinking": {
		ID:              "claude-sonnet-4-5-thinking",
		DisplayName:     "Claude Sonnet 4.5 (Thinking)",
		Family:          FamilyClaude,
		ContextWindow:   200000,
		MaxOutputTokens: 64000,
		Thinking:        true,
		Fallback:        "claude-sonnet-4-5",
	},
	"claude-opus-4-6": {
		ID:              "claude-opus-4-6",
		DisplayName:     "Claude Opus 4.6",
		Family:          FamilyClaude,
		ContextWindow:   200000,
		MaxOutputTokens: 64000,
		ThinkingVariant: "claude-opus-4-6-thinking",
		Fallback:        "claude-sonnet-4-5",
	},
	"claude-opus-4-6-thinking": {
		ID:              "claude-opus-4-6-thinking",
		DisplayName:     "Claude Opus 4.6 (Thinking)",
		Family:          FamilyClaude,
		ContextWindow:   200000,
		MaxOutputTokens: 64000,
		Thinking:        true,
		Fallback:        "claude-sonnet-4-5-thinking",
	},
}

// Describe returns catalog metadata for a model id.
func Describe(id string) (Descriptor, bool) {
	desc, ok := catalog[normalize(id)]
	return desc, ok
}

// Known reports whether the id is in the upstream catalog.
func Known(id string) bool {
	_, ok := catalog[normalize(id)]
	return ok
}

// All returns the catalog sorted by id, for the model listing endpoints.
func All() []Descriptor {
	out := make([]Descriptor, 0, len(catalog))
	for _, desc := range catalog {
		out = append(out, desc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// FamilyOf classifies a model name by its provider prefix.
func FamilyOf(id string) Family {
	name := normalize(id)
	if strings.HasPrefix(name, "claude") {
		return FamilyClaude
	}
	return FamilyGemini
}

// SupportsVision reports image capability. Unknown gemini names are assumed
// multimodal, unknown claude names are not.
func SupportsVision(id string) bool {
	if desc, ok := Describe(id); ok {
		return desc.Vision
	}
	return FamilyOf(id) == FamilyGemini
}

// SupportsThinking reports native reasoning output. Unknown names count as
// thinking models when the name says so.
func SupportsThinking(id string) bool {
	if desc, ok := Describe(id); ok {
		return desc.Thinking
	}
	return strings.Contains(normalize(id), "thinking")
}

// ThinkingVariantOf returns the thinking counterpart for a model, or empty
// when none is known.
func ThinkingVariantOf(id string) string {
	if desc, ok := Describe(id); ok {
		if desc.Thinking {
			return desc.ID
		}
		return desc.ThinkingVariant
	}
	return ""
}

// FallbackFor steps one tier down (thinking to base, high to low). Empty
// means the chain is exhausted.
func FallbackFor(id string) string {
	if desc, ok := Describe(id); ok {
		return desc.Fallback
	}
	return ""
}

func normalize(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}
