package dispatch

import (
	"context"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"ag2api-go/internal/constants"
	"ag2api-go/internal/errors"
	"ag2api-go/internal/models"
	"ag2api-go/internal/monitoring"
	"ag2api-go/internal/monitoring/tracing"
	"ag2api-go/internal/pool"
	"ag2api-go/internal/translator"
	"ag2api-go/internal/upstream/cloudcode"
)

type callKind int

const (
	callGenerate callKind = iota
	callStream
	callCountTokens
)

func callFor(stream bool) callKind {
	if stream {
		return callStream
	}
	return callGenerate
}

func (d *Dispatcher) send(ctx context.Context, kind callKind, call cloudcode.Call) (*http.Response, error) {
	switch kind {
	case callStream:
		return d.upstream.Stream(ctx, call)
	case callCountTokens:
		return d.upstream.CountTokens(ctx, call)
	default:
		return d.upstream.Generate(ctx, call)
	}
}

// run is the shared attempt loop. One deadline covers every attempt and
// backoff sleep combined; a stream reply inherits the remainder and releases
// it on Close. Rotation, model fallback and the retry budget all live here,
// so the handlers never see a transient failure the pool could still absorb.
func (d *Dispatcher) run(ctx context.Context, req Request, kind callKind) (*Reply, error) {
	cfg := d.config.Current()
	decision := models.Route(req.Model, req.Body, routeProtocol(req.Protocol), cfg.ModelMappings)
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = SessionID(req.Protocol, req.Body)
	}

	ctx, cancel := context.WithTimeout(ctx, constants.RequestDeadline)
	handedOff := false
	defer func() {
		if !handedOff {
			cancel()
		}
	}()

	ctx, span := tracing.StartSpan(ctx, "dispatch", "Dispatch",
		trace.WithAttributes(
			attribute.String("proxy.protocol", string(req.Protocol)),
			attribute.String("proxy.model.requested", req.Model),
			attribute.String("proxy.model.routed", decision.Model),
			attribute.Bool("proxy.stream", kind == callStream),
		))
	defer span.End()

	fail := func(perr *errors.ProxyError) (*Reply, error) {
		span.RecordError(perr)
		span.SetStatus(codes.Error, perr.Message)
		return nil, perr
	}

	attempts := constants.MaxRetryAttempts
	if n := d.pool.Size(); n < attempts {
		attempts = n
	}
	if attempts < 1 {
		attempts = 1
	}

	log.WithFields(log.Fields{
		"protocol": req.Protocol,
		"model":    req.Model,
		"routed":   decision.Model,
		"reason":   decision.Reason,
		"stream":   kind == callStream,
	}).Debug("dispatching request")

	model := decision.Model
	var lastErr *errors.ProxyError
	for attempt := 0; attempt < attempts; attempt++ {
		tok, err := d.pool.GetToken(ctx, quotaGroupFor(model), attempt > 0, sessionID)
		if err != nil {
			// The pool already walked every account; nothing left to rotate.
			d.observe(span, req.Protocol, attempt, "", "pool_error")
			return fail(errors.AsProxyError(err))
		}

		body := d.reg.TranslateRequest(req.Protocol, translator.FormatGemini, model, req.Body, kind == callStream)
		resp, err := d.send(ctx, kind, cloudcode.Call{
			Model:       model,
			ProjectID:   tok.ProjectID,
			AccessToken: tok.AccessToken,
			Body:        body,
		})
		switch {
		case err != nil:
			perr := errors.AsProxyError(err)
			lastErr = perr
			d.observe(span, req.Protocol, attempt, tok.Email, "network_error")
			if ctx.Err() != nil {
				return fail(perr)
			}
			log.WithError(err).WithFields(log.Fields{
				"email":   tok.Email,
				"model":   model,
				"attempt": attempt,
			}).Warn("upstream call failed, rotating account")

		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			reply, perr := d.finish(ctx, cancel, req.Protocol, kind, model, resp)
			if perr == nil {
				reply.Model = model
				reply.Reason = decision.Reason
				reply.Email = tok.Email
				reply.Attempts = attempt + 1
				if reply.Stream != nil {
					handedOff = true
				}
				d.observe(span, req.Protocol, attempt, tok.Email, "ok")
				span.SetStatus(codes.Ok, "")
				return reply, nil
			}
			lastErr = perr
			if !perr.Retryable() {
				d.observe(span, req.Protocol, attempt, tok.Email, "fatal")
				return fail(perr)
			}
			d.observe(span, req.Protocol, attempt, tok.Email, "retryable")

		case resp.StatusCode == http.StatusTooManyRequests ||
			resp.StatusCode == http.StatusServiceUnavailable ||
			resp.StatusCode == 529:
			data := readErrBody(resp)
			d.pool.MarkRateLimited(tok.Email, resp.StatusCode, resp.Header.Get("Retry-After"), string(data))
			lastErr = errors.FromUpstream(resp.StatusCode, data)
			d.observe(span, req.Protocol, attempt, tok.Email, "rate_limited")
			log.WithFields(log.Fields{
				"email":   tok.Email,
				"model":   model,
				"status":  resp.StatusCode,
				"attempt": attempt,
			}).Warn("account rate limited, rotating")

		case resp.StatusCode >= 400 && resp.StatusCode < 500:
			data := readErrBody(resp)
			lastErr = errors.FromUpstream(resp.StatusCode, data)
			d.observe(span, req.Protocol, attempt, tok.Email, "fatal")
			if fb := models.FallbackFor(model); fb != "" && attempt < attempts-1 {
				log.WithFields(log.Fields{
					"from":   model,
					"to":     fb,
					"status": resp.StatusCode,
				}).Info("retrying on fallback model")
				model = fb
				continue
			}
			return fail(lastErr)

		default:
			data := readErrBody(resp)
			lastErr = errors.FromUpstream(resp.StatusCode, data)
			d.observe(span, req.Protocol, attempt, tok.Email, "retryable")
			log.WithFields(log.Fields{
				"email":   tok.Email,
				"model":   model,
				"status":  resp.StatusCode,
				"attempt": attempt,
			}).Warn("upstream error, retrying")
		}

		if attempt < attempts-1 {
			if err := d.sleep(ctx, d.backoff(attempt)); err != nil {
				return fail(errors.Wrap(errors.KindTimeout, "request canceled during retry backoff", err))
			}
		}
	}

	if lastErr == nil {
		lastErr = errors.New(errors.KindServerOverload, "attempt budget exhausted")
	}
	return fail(lastErr)
}

// finish turns a 2xx upstream response into a Reply. Unary bodies are read,
// unwrapped and translated here; streams are handed back lazily with the
// usage sniffer spliced in ahead of the translator.
func (d *Dispatcher) finish(ctx context.Context, cancel context.CancelFunc, proto translator.Format, kind callKind, model string, resp *http.Response) (*Reply, *errors.ProxyError) {
	if kind == callStream {
		usage := &Usage{}
		translated, err := d.reg.TranslateStream(ctx, translator.FormatGemini, proto, model, sniffUsage(resp.Body, usage))
		if err != nil {
			resp.Body.Close()
			return nil, errors.Wrap(errors.KindMappingError, "stream translator failed", err)
		}
		return &Reply{
			Status: resp.StatusCode,
			Stream: &stream{Reader: translated, body: resp.Body, cancel: cancel},
			Usage:  usage,
		}, nil
	}

	raw, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, errors.Wrap(errors.KindNetworkError, "reading upstream response", err)
	}
	out := cloudcode.UnwrapResponse(raw)
	usage := usageFromGemini(out)
	if kind != callCountTokens && proto != translator.FormatGemini {
		out, err = d.reg.TranslateResponse(ctx, translator.FormatGemini, proto, model, out)
		if err != nil {
			return nil, errors.Wrap(errors.KindMappingError, "response translator failed", err)
		}
	}
	return &Reply{Status: resp.StatusCode, Body: out, Usage: usage}, nil
}

func (d *Dispatcher) observe(span trace.Span, proto translator.Format, attempt int, email, outcome string) {
	monitoring.DispatchAttemptsTotal.WithLabelValues(string(proto), outcome).Inc()
	attrs := []attribute.KeyValue{
		attribute.Int("dispatch.attempt", attempt),
		attribute.String("dispatch.outcome", outcome),
	}
	if email != "" {
		attrs = append(attrs, attribute.String("account.email", email))
	}
	span.AddEvent("attempt", trace.WithAttributes(attrs...))
}

// backoff implements exponential delay with a ±10% jitter, capped at one
// minute. The jitter keeps a burst of concurrent failures from retrying in
// lockstep.
func (d *Dispatcher) backoff(attempt int) time.Duration {
	ms := float64(constants.BackoffBaseMs) * math.Pow(2, float64(attempt))
	ms *= 1 + constants.BackoffJitter*(2*d.jitter()-1)
	if ms > float64(constants.BackoffMaxMs) {
		ms = float64(constants.BackoffMaxMs)
	}
	return time.Duration(ms) * time.Millisecond
}

// readErrBody drains a failed response so the connection can be reused. The
// cap keeps a hostile error page from ballooning memory.
func readErrBody(resp *http.Response) []byte {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	resp.Body.Close()
	return data
}

// quotaGroupFor buckets image generation separately: those calls burn a
// different upstream quota and must not pin the hot account.
func quotaGroupFor(model string) string {
	if strings.Contains(strings.ToLower(model), "image") {
		return pool.QuotaGroupImageGen
	}
	return pool.QuotaGroupDefault
}

func routeProtocol(f translator.Format) models.Protocol {
	switch f {
	case translator.FormatClaude:
		return models.ProtocolClaude
	case translator.FormatGemini:
		return models.ProtocolGemini
	default:
		return models.ProtocolOpenAI
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
