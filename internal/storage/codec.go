package storage

import (
	"encoding/json"
	"fmt"

	"ag2api-go/internal/config"
)

// The SQL backends persist list- and map-valued proxy config fields as JSON
// columns; the document backends persist whole structs.

func encodeProxyConfigJSON(cfg *config.ProxyConfig) (allowed, mappings, anthropic string, err error) {
	allowedBytes, err := json.Marshal(cfg.AllowedModels)
	if err != nil {
		return "", "", "", fmt.Errorf("encode allowed models: %w", err)
	}
	mappingBytes, err := json.Marshal(cfg.ModelMappings)
	if err != nil {
		return "", "", "", fmt.Errorf("encode model mappings: %w", err)
	}
	anthropicBytes, err := json.Marshal(cfg.Anthropic)
	if err != nil {
		return "", "", "", fmt.Errorf("encode anthropic provider: %w", err)
	}
	return string(allowedBytes), string(mappingBytes), string(anthropicBytes), nil
}

func decodeProxyConfigJSON(cfg *config.ProxyConfig, allowed, mappings, anthropic string) error {
	if allowed != "" {
		if err := json.Unmarshal([]byte(allowed), &cfg.AllowedModels); err != nil {
			return fmt.Errorf("decode allowed models: %w", err)
		}
	}
	if mappings != "" {
		if err := json.Unmarshal([]byte(mappings), &cfg.ModelMappings); err != nil {
			return fmt.Errorf("decode model mappings: %w", err)
		}
	}
	if anthropic != "" {
		if err := json.Unmarshal([]byte(anthropic), &cfg.Anthropic); err != nil {
			return fmt.Errorf("decode anthropic provider: %w", err)
		}
	}
	return nil
}
