package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"ag2api-go/internal/config"
	"ag2api-go/internal/constants"
	"ag2api-go/internal/errors"
)

const (
	defaultBaseURL   = "https://api.anthropic.com"
	anthropicVersion = "2023-06-01"
)

// Provider forwards Claude Messages traffic to an Anthropic-compatible
// endpoint. Bodies pass through unchanged apart from model remapping and
// cache_control removal; responses are the caller's to relay byte for byte.
type Provider struct {
	cli *http.Client
}

// New builds a Provider with a pooled transport.
func New() *Provider {
	return &Provider{
		cli: &http.Client{
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				ForceAttemptHTTP2:     true,
				TLSHandshakeTimeout:   constants.TLSHandshakeTimeout,
				ResponseHeaderTimeout: constants.ResponseHeaderTimeout,
				MaxIdleConns:          constants.MaxIdleConns,
				MaxIdleConnsPerHost:   constants.MaxIdleConnsPerHost,
				IdleConnTimeout:       constants.IdleConnTimeout,
			},
			Timeout: 0,
		},
	}
}

// ShouldHandle reports whether the passthrough takes this model, and whether
// it does so exclusively (always mode) or only after the pool path has
// exhausted its retries (fallback mode).
func ShouldHandle(cfg config.AnthropicProvider, model string) (handle, exclusive bool) {
	if !cfg.Enabled || strings.TrimSpace(cfg.BaseURL) == "" {
		return false, false
	}
	if !strings.HasPrefix(model, "claude-") {
		return false, false
	}
	switch cfg.DispatchMode {
	case config.DispatchAlways:
		return true, true
	case config.DispatchFallback:
		return true, false
	}
	return false, false
}

// Do POSTs the prepared Messages body. Non-2xx responses are returned
// verbatim so the caller can relay the provider's own error envelope.
//
// Caller is responsible for closing resp.Body when err is nil.
func (p *Provider) Do(ctx context.Context, cfg config.AnthropicProvider, body []byte, stream bool) (*http.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, constants.RequestDeadline)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, messagesURL(cfg.BaseURL), bytes.NewReader(body))
	if err != nil {
		cancel()
		return nil, errors.Wrap(errors.KindMappingError, "build passthrough request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("anthropic-version", anthropicVersion)
	if cfg.APIKey != "" {
		req.Header.Set("x-api-key", cfg.APIKey)
	}
	if stream {
		req.Header.Set("Accept", "text/event-stream")
	} else {
		req.Header.Set("Accept", "application/json")
	}

	resp, err := p.cli.Do(req)
	if err != nil {
		cancel()
		return nil, errors.FromNetwork(err)
	}
	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

func messagesURL(base string) string {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	if base == "" {
		base = defaultBaseURL
	}
	if strings.HasSuffix(base, "/v1") {
		return base + "/messages"
	}
	return base + "/v1/messages"
}

// PrepareBody rewrites an outbound Messages body: the model goes through the
// configured mapping, and cache_control entries are removed at every depth.
// The passthrough endpoint rejects cache markers it did not issue.
func PrepareBody(body []byte, mapping map[string]string) []byte {
	out := body
	if model := gjson.GetBytes(out, "model").String(); model != "" {
		if mapped, ok := mapping[model]; ok && mapped != "" && mapped != model {
			out, _ = sjson.SetBytes(out, "model", mapped)
		}
	}
	if !bytes.Contains(out, []byte(`"cache_control"`)) {
		return out
	}
	var doc interface{}
	if err := json.Unmarshal(out, &doc); err != nil {
		return out
	}
	cleaned, err := json.Marshal(stripCacheControl(doc))
	if err != nil {
		return out
	}
	return cleaned
}

func stripCacheControl(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		delete(t, "cache_control")
		for k, child := range t {
			t[k] = stripCacheControl(child)
		}
	case []interface{}:
		for i, child := range t {
			t[i] = stripCacheControl(child)
		}
	}
	return v
}

// RemappedModel resolves the model the provider will actually see.
func RemappedModel(model string, mapping map[string]string) string {
	if mapped, ok := mapping[model]; ok && mapped != "" {
		return mapped
	}
	return model
}

// cancelOnClose ties the request deadline to the response body, so streams
// hold the timer exactly as long as they read.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelOnClose) Close() error {
	b.cancel()
	return b.ReadCloser.Close()
}
