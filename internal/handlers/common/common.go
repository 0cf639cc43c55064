// Package common holds what the protocol handler packages share: the
// dispatcher and config seams, body reading, error rendering and the SSE
// pump. Handlers stay thin: they parse the wire request, hand it to the
// dispatcher and render the reply. Everything generic about those steps
// lives here.
package common

import (
	"context"

	"ag2api-go/internal/config"
	"ag2api-go/internal/dispatch"
)

// Dispatcher is the slice of the dispatch layer the handlers call.
type Dispatcher interface {
	Dispatch(ctx context.Context, req dispatch.Request) (*dispatch.Reply, error)
	CountTokens(ctx context.Context, model string, body []byte) (*dispatch.Reply, error)
}

var _ Dispatcher = (*dispatch.Dispatcher)(nil)

// ConfigSource yields the live proxy config snapshot.
type ConfigSource interface {
	Current() *config.ProxyConfig
}

// AllowedSet is the advertised-model filter from ProxyConfig.AllowedModels.
// An empty list advertises everything.
type AllowedSet map[string]struct{}

// Allowed builds the filter from the live config.
func Allowed(cfg *config.ProxyConfig) AllowedSet {
	if cfg == nil || len(cfg.AllowedModels) == 0 {
		return nil
	}
	set := make(AllowedSet, len(cfg.AllowedModels))
	for _, id := range cfg.AllowedModels {
		if id != "" {
			set[id] = struct{}{}
		}
	}
	return set
}

// Permits reports whether a model id may be advertised.
func (s AllowedSet) Permits(id string) bool {
	if len(s) == 0 {
		return true
	}
	_, ok := s[id]
	return ok
}
