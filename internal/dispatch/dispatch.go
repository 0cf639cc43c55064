// Package dispatch owns the request lifecycle between the protocol handlers
// and the upstream: model routing, account selection, translation, the retry
// loop and the optional Anthropic passthrough. Handlers parse and render;
// everything in between happens here.
package dispatch

import (
	"context"
	"io"
	"math/rand"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"ag2api-go/internal/config"
	"ag2api-go/internal/errors"
	"ag2api-go/internal/pool"
	"ag2api-go/internal/translator"
	"ag2api-go/internal/upstream/anthropic"
	"ag2api-go/internal/upstream/cloudcode"
)

// TokenSource hands out pool credentials and absorbs rate-limit marks.
// *pool.Manager implements it.
type TokenSource interface {
	GetToken(ctx context.Context, quotaGroup string, forceRotate bool, sessionID string) (pool.Token, error)
	MarkRateLimited(identifier string, status int, retryAfterHeader, body string)
	Size() int
}

// Upstream is the Cloud Code call surface. *cloudcode.Client implements it.
type Upstream interface {
	Generate(ctx context.Context, call cloudcode.Call) (*http.Response, error)
	Stream(ctx context.Context, call cloudcode.Call) (*http.Response, error)
	CountTokens(ctx context.Context, call cloudcode.Call) (*http.Response, error)
}

// ConfigSource yields the live proxy config snapshot. *config.Manager
// implements it.
type ConfigSource interface {
	Current() *config.ProxyConfig
}

// Options wires the dispatcher's collaborators.
type Options struct {
	Pool        TokenSource
	Upstream    Upstream
	Anthropic   *anthropic.Provider
	Config      ConfigSource
	Translators *translator.Registry
}

// Dispatcher runs the shared attempt loop for every protocol handler.
type Dispatcher struct {
	pool      TokenSource
	upstream  Upstream
	anthropic *anthropic.Provider
	config    ConfigSource
	reg       *translator.Registry

	sleep  func(ctx context.Context, d time.Duration) error
	jitter func() float64
}

// New builds a dispatcher. Translators defaults to the process-wide registry.
func New(opts Options) *Dispatcher {
	d := &Dispatcher{
		pool:      opts.Pool,
		upstream:  opts.Upstream,
		anthropic: opts.Anthropic,
		config:    opts.Config,
		reg:       opts.Translators,
		sleep:     sleepContext,
		jitter:    rand.Float64,
	}
	if d.reg == nil {
		d.reg = translator.Default()
	}
	return d
}

// Request is one inbound call after the handler has pulled out the
// essentials. Body stays in the caller's wire format; the dispatcher
// translates it per attempt so model fallback can re-shape thinking config.
type Request struct {
	Protocol translator.Format
	Model    string
	Body     []byte
	Stream   bool

	// SessionID overrides the derived stickiness key when non-empty.
	SessionID string
}

// Usage is the token accounting for one dispatched request. Stream replies
// fill it as usage frames arrive; the values are settled once the stream
// reader returns EOF.
type Usage struct {
	InputTokens  int64
	OutputTokens int64
}

// Reply is a completed dispatch the handler relays to the client. Exactly
// one of Body and Stream is set. Stream replies own an upstream connection:
// the handler must drain the reader and Close it on every exit path.
type Reply struct {
	Status   int
	Body     []byte
	Stream   io.ReadCloser
	Model    string
	Reason   string
	Email    string
	Usage    *Usage
	Attempts int
}

// stream couples the translated reader with the upstream body and the
// request's deadline timer. Close releases both.
type stream struct {
	io.Reader
	body   io.ReadCloser
	cancel context.CancelFunc
}

func (s *stream) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	return s.body.Close()
}

// Dispatch routes, translates and sends one request, rotating pool accounts
// until an answer arrives or the attempt budget runs out. The returned error
// is always a *ProxyError ready for protocol-shaped rendering.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (*Reply, error) {
	if perr := validate(req.Protocol, req.Body); perr != nil {
		return nil, perr
	}

	cfg := d.config.Current()
	if req.Protocol == translator.FormatClaude {
		if handle, exclusive := anthropic.ShouldHandle(cfg.Anthropic, req.Model); handle && exclusive {
			return d.passthrough(ctx, cfg.Anthropic, req)
		}
	}

	reply, err := d.run(ctx, req, callFor(req.Stream))
	if err == nil {
		return reply, nil
	}
	if req.Protocol == translator.FormatClaude && ctx.Err() == nil {
		if handle, exclusive := anthropic.ShouldHandle(cfg.Anthropic, req.Model); handle && !exclusive {
			log.WithError(err).WithField("model", req.Model).
				Info("pool path exhausted, falling back to Anthropic provider")
			return d.passthrough(ctx, cfg.Anthropic, req)
		}
	}
	return nil, err
}

// CountTokens proxies a Gemini-native token count through the pool. Callers
// send either the bare {contents} form or a generateContentRequest wrapper;
// both reach upstream in the same envelope.
func (d *Dispatcher) CountTokens(ctx context.Context, model string, body []byte) (*Reply, error) {
	if inner := gjson.GetBytes(body, "generateContentRequest"); inner.Exists() {
		body = []byte(inner.Raw)
	}
	req := Request{Protocol: translator.FormatGemini, Model: model, Body: body}
	if perr := validate(req.Protocol, req.Body); perr != nil {
		return nil, perr
	}
	return d.run(ctx, req, callCountTokens)
}

// validate enforces the minimum inbound shape before any account is spent.
func validate(proto translator.Format, body []byte) *errors.ProxyError {
	key := "messages"
	if proto == translator.FormatGemini {
		key = "contents"
	}
	list := gjson.GetBytes(body, key)
	if !list.IsArray() || len(list.Array()) == 0 {
		return errors.Newf(errors.KindInvalidRequest, "%s must be a non-empty array", key)
	}
	return nil
}
