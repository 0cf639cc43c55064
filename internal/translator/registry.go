package translator

import (
	"context"
	"io"
	"sync"
)

type pairKey struct {
	from Format
	to   Format
}

// Registry holds the translation functions between wire formats. Lookups for
// unregistered pairs fall back to pass-through.
type Registry struct {
	mu          sync.RWMutex
	translators map[pairKey]TranslatorConfig
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{translators: make(map[pairKey]TranslatorConfig)}
}

var defaultRegistry = NewRegistry()

// Default returns the process-wide registry populated by package init.
func Default() *Registry { return defaultRegistry }

// Register merges cfg into the entry for the (from, to) pair. Nil fields
// leave any previously registered transform in place.
func (r *Registry) Register(from, to Format, cfg TranslatorConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := pairKey{from: from, to: to}
	cur := r.translators[key]
	if cfg.RequestTransform != nil {
		cur.RequestTransform = cfg.RequestTransform
	}
	if cfg.ResponseTransform != nil {
		cur.ResponseTransform = cfg.ResponseTransform
	}
	if cfg.StreamTransform != nil {
		cur.StreamTransform = cfg.StreamTransform
	}
	r.translators[key] = cur
}

// TranslateRequest converts a request payload between formats. The payload is
// returned unchanged when no translator is registered.
func (r *Registry) TranslateRequest(from, to Format, model string, rawJSON []byte, stream bool) []byte {
	r.mu.RLock()
	fn := r.translators[pairKey{from: from, to: to}].RequestTransform
	r.mu.RUnlock()

	if fn == nil {
		return rawJSON
	}
	return fn(model, rawJSON, stream)
}

// TranslateResponse converts a non-streaming response between formats.
func (r *Registry) TranslateResponse(ctx context.Context, from, to Format, model string, responseBody []byte) ([]byte, error) {
	r.mu.RLock()
	fn := r.translators[pairKey{from: from, to: to}].ResponseTransform
	r.mu.RUnlock()

	if fn == nil {
		return responseBody, nil
	}
	return fn(ctx, model, responseBody)
}

// TranslateStream converts a streaming response between formats.
func (r *Registry) TranslateStream(ctx context.Context, from, to Format, model string, reader io.Reader) (io.Reader, error) {
	r.mu.RLock()
	fn := r.translators[pairKey{from: from, to: to}].StreamTransform
	r.mu.RUnlock()

	if fn == nil {
		return reader, nil
	}
	return fn(ctx, model, reader)
}

// HasResponseTransformer reports whether a unary translator is registered.
func (r *Registry) HasResponseTransformer(from, to Format) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.translators[pairKey{from: from, to: to}].ResponseTransform != nil
}

// HasStreamTransformer reports whether a stream translator is registered.
func (r *Registry) HasStreamTransformer(from, to Format) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.translators[pairKey{from: from, to: to}].StreamTransform != nil
}

// Register adds transforms to the default registry.
func Register(from, to Format, cfg TranslatorConfig) {
	defaultRegistry.Register(from, to, cfg)
}

// TranslateRequest uses the default registry.
func TranslateRequest(from, to Format, model string, rawJSON []byte, stream bool) []byte {
	return defaultRegistry.TranslateRequest(from, to, model, rawJSON, stream)
}

// TranslateResponse uses the default registry.
func TranslateResponse(ctx context.Context, from, to Format, model string, responseBody []byte) ([]byte, error) {
	return defaultRegistry.TranslateResponse(ctx, from, to, model, responseBody)
}

// TranslateStream uses the default registry.
func TranslateStream(ctx context.Context, from, to Format, model string, reader io.Reader) (io.Reader, error) {
	return defaultRegistry.TranslateStream(ctx, from, to, model, reader)
}
