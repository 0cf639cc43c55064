package dispatch

import (
	"context"
	"io"
	"net/http"

	log "github.com/sirupsen/logrus"

	"ag2api-go/internal/config"
	"ag2api-go/internal/errors"
	"ag2api-go/internal/monitoring"
	"ag2api-go/internal/translator"
	"ag2api-go/internal/upstream/anthropic"
)

// passthroughReason marks monitor entries served by the Anthropic provider.
const passthroughReason = "anthropic-passthrough"

// passthrough hands a Claude request to the configured Anthropic-compatible
// endpoint. No translation happens: the body goes out in Messages format
// (model remapped, cache markers stripped) and the answer is relayed
// verbatim, including provider error envelopes.
func (d *Dispatcher) passthrough(ctx context.Context, cfg config.AnthropicProvider, req Request) (*Reply, error) {
	if d.anthropic == nil {
		return nil, errors.New(errors.KindAccountError, "anthropic provider not wired")
	}

	model := anthropic.RemappedModel(req.Model, cfg.ModelMapping)
	body := anthropic.PrepareBody(req.Body, cfg.ModelMapping)
	monitoring.DispatchAttemptsTotal.WithLabelValues(string(translator.FormatClaude), "passthrough").Inc()

	resp, err := d.anthropic.Do(ctx, cfg, body, req.Stream)
	if err != nil {
		return nil, errors.AsProxyError(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		resp.Body.Close()
		log.WithFields(log.Fields{
			"status": resp.StatusCode,
			"model":  model,
		}).Warn("anthropic provider returned an error")
		return &Reply{
			Status:   resp.StatusCode,
			Body:     data,
			Model:    model,
			Reason:   passthroughReason,
			Usage:    &Usage{},
			Attempts: 1,
		}, nil
	}

	if req.Stream {
		usage := &Usage{}
		relay := anthropic.SniffUsage(resp.Body, func(u anthropic.Usage) {
			usage.InputTokens = u.InputTokens
			usage.OutputTokens = u.OutputTokens
		})
		return &Reply{
			Status:   http.StatusOK,
			Stream:   &stream{Reader: relay, body: resp.Body},
			Model:    model,
			Reason:   passthroughReason,
			Usage:    usage,
			Attempts: 1,
		}, nil
	}

	data, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, errors.Wrap(errors.KindNetworkError, "reading anthropic response", err)
	}
	u := anthropic.ParseUsage(data)
	return &Reply{
		Status:   resp.StatusCode,
		Body:     data,
		Model:    model,
		Reason:   passthroughReason,
		Usage:    &Usage{InputTokens: u.InputTokens, OutputTokens: u.OutputTokens},
		Attempts: 1,
	}, nil
}
