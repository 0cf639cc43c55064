package cloudcode

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/dnscache"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"ag2api-go/internal/config"
	"ag2api-go/internal/constants"
	"ag2api-go/internal/errors"
	"ag2api-go/internal/monitoring"
	"ag2api-go/internal/monitoring/tracing"
)

// Client speaks the Cloud Code v1internal dialect: enveloped payloads POSTed
// to "<base>:<method>" with status-driven failover across an ordered base
// list. Credentials arrive per call, so one Client serves the whole account
// pool and is safe for concurrent use.
type Client struct {
	cli     *http.Client
	bases   []string
	timeout time.Duration
}

// New builds a Client over a pooled transport. A nil resolver disables DNS
// caching; otherwise lookups go through it and the caller owns its refresh
// loop.
func New(s *config.Settings, resolver *dnscache.Resolver) *Client {
	proxy := http.ProxyFromEnvironment
	if s != nil && strings.TrimSpace(s.UpstreamProxy) != "" {
		if u, err := url.Parse(strings.TrimSpace(s.UpstreamProxy)); err == nil {
			proxy = http.ProxyURL(u)
		} else {
			log.WithError(err).Warn("Invalid upstream proxy, using environment")
		}
	}

	dialer := &net.Dialer{
		Timeout:   constants.DialTimeout,
		KeepAlive: constants.KeepAlive,
	}
	transport := &http.Transport{
		Proxy:                 proxy,
		DialContext:           dialContext(dialer, resolver),
		ForceAttemptHTTP2:     true,
		TLSHandshakeTimeout:   constants.TLSHandshakeTimeout,
		ResponseHeaderTimeout: constants.ResponseHeaderTimeout,
		ExpectContinueTimeout: constants.ExpectContinueTimeout,
		MaxIdleConns:          constants.MaxIdleConns,
		MaxIdleConnsPerHost:   constants.MaxIdleConnsPerHost,
		MaxConnsPerHost:       constants.MaxConnsPerHost,
		IdleConnTimeout:       constants.IdleConnTimeout,
		WriteBufferSize:       constants.WriteBufferSize,
		ReadBufferSize:        constants.ReadBufferSize,
	}

	timeout := constants.RequestDeadline
	if s != nil && s.UpstreamTimeoutSeconds > 0 {
		timeout = time.Duration(s.UpstreamTimeoutSeconds) * time.Second
	}

	return &Client{
		// Client.Timeout stays zero so streaming bodies outlive the header
		// exchange; the per-call context carries the real deadline.
		cli:     &http.Client{Transport: transport, Timeout: 0},
		bases:   append([]string(nil), constants.CloudCodeBaseURLs...),
		timeout: timeout,
	}
}

func dialContext(dialer *net.Dialer, resolver *dnscache.Resolver) func(context.Context, string, string) (net.Conn, error) {
	if resolver == nil {
		return dialer.DialContext
	}
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		host, port, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, err
		}
		ips, err := resolver.LookupHost(ctx, host)
		if err != nil {
			return nil, err
		}
		var lastErr error
		for _, ip := range ips {
			conn, dialErr := dialer.DialContext(ctx, network, net.JoinHostPort(ip, port))
			if dialErr == nil {
				return conn, nil
			}
			lastErr = dialErr
		}
		return nil, lastErr
	}
}

// Call describes one upstream invocation. Body is the protocol-mapped
// request; the client wraps it in the v1internal envelope before sending.
type Call struct {
	Model       string
	ProjectID   string
	AccessToken string
	Body        []byte
}

// Generate performs a unary generateContent call. Non-2xx responses are
// returned verbatim so the dispatcher can classify them by status and body.
func (c *Client) Generate(ctx context.Context, call Call) (*http.Response, error) {
	return c.post(ctx, constants.MethodGenerateContent, "", call)
}

// Stream performs streamGenerateContent with SSE framing.
func (c *Client) Stream(ctx context.Context, call Call) (*http.Response, error) {
	return c.post(ctx, constants.MethodStreamGenerateContent, constants.StreamQuery, call)
}

// CountTokens performs a unary countTokens call.
func (c *Client) CountTokens(ctx context.Context, call Call) (*http.Response, error) {
	return c.post(ctx, constants.MethodCountTokens, "", call)
}

// post wraps the body in the envelope and walks the base list. One deadline
// spans every attempt combined; the winning response's body releases it on
// Close. Statuses 429, 408, 404 and 5xx fail over to the next base, anything
// else is the caller's to handle.
//
// Caller is responsible for closing resp.Body when err is nil.
func (c *Client) post(ctx context.Context, method, query string, call Call) (*http.Response, error) {
	payload, err := Envelope(call.ProjectID, call.Model, call.Body)
	if err != nil {
		return nil, errors.Wrap(errors.KindMappingError, "envelope upstream request", err)
	}

	cancel := context.CancelFunc(func() {})
	if c.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
	}

	ctx, span := tracing.StartSpan(ctx, "upstream/cloudcode", "CloudCode.Post",
		trace.WithAttributes(
			attribute.String("http.method", http.MethodPost),
			attribute.String("cloudcode.method", method),
			attribute.String("cloudcode.model", call.Model),
		))
	defer span.End()

	finishSpan := func(status int, err error) {
		span.SetAttributes(attribute.Int("http.status_code", status))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else if status >= 400 {
			span.SetStatus(codes.Error, fmt.Sprintf("http_status=%d", status))
		} else {
			span.SetStatus(codes.Ok, "")
		}
	}

	var lastErr error
	for i, base := range c.bases {
		u := base + ":" + method
		if query != "" {
			u += "?" + query
		}
		last := i == len(c.bases)-1

		resp, status, err := c.doOnce(ctx, u, payload, call.AccessToken, query)
		monitoring.UpstreamRequestsTotal.
			WithLabelValues(hostOf(base), method, monitoring.StatusClass(status)).
			Inc()
		span.AddEvent("attempt", trace.WithAttributes(
			attribute.String("cloudcode.base", base),
			attribute.Int("http.status_code", status),
		))

		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				// Deadline or cancellation ends the walk regardless of
				// remaining bases.
				cancel()
				finishSpan(0, err)
				return nil, errors.FromNetwork(err)
			}
			log.WithError(err).WithFields(log.Fields{
				"base":   base,
				"method": method,
				"class":  classifyErr(err),
			}).Warn("Cloud Code base unreachable")
			if last {
				cancel()
				finishSpan(0, err)
				return nil, errors.Wrap(errors.KindNetworkError, "all upstream bases unreachable", lastErr)
			}
			continue
		}

		if failoverStatus(status) && !last {
			drainAndClose(resp.Body)
			log.WithFields(log.Fields{
				"base":   base,
				"method": method,
				"status": status,
			}).Info("Failing over to next Cloud Code base")
			continue
		}

		finishSpan(status, nil)
		resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
		return resp, nil
	}

	// Unreachable: the last base always returns above.
	cancel()
	return nil, errors.Wrap(errors.KindNetworkError, "upstream base list exhausted", lastErr)
}

// doOnce issues a single POST. It never retries; base failover is the only
// retry the client performs, everything else belongs to the dispatcher.
func (c *Client) doOnce(ctx context.Context, url string, payload []byte, bearer, query string) (*http.Response, int, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, 0, err
	}
	applyDefaultHeaders(req, bearer, strings.Contains(query, "alt=sse"))

	start := time.Now()
	resp, err := c.cli.Do(req)
	duration := time.Since(start)
	if err != nil {
		monitoring.UpstreamRequestDuration.
			WithLabelValues(hostOf(url), methodOf(url), "error").
			Observe(duration.Seconds())
		return nil, 0, err
	}
	monitoring.UpstreamRequestDuration.
		WithLabelValues(hostOf(url), methodOf(url), monitoring.StatusClass(resp.StatusCode)).
		Observe(duration.Seconds())
	return resp, resp.StatusCode, nil
}

func hostOf(raw string) string {
	if u, err := url.Parse(raw); err == nil && u.Host != "" {
		return u.Host
	}
	return raw
}

func methodOf(raw string) string {
	if i := strings.LastIndexByte(raw, ':'); i >= 0 {
		m := raw[i+1:]
		if j := strings.IndexByte(m, '?'); j >= 0 {
			m = m[:j]
		}
		return m
	}
	return "unknown"
}

// failoverStatus reports whether another base should absorb the request.
func failoverStatus(status int) bool {
	switch status {
	case http.StatusTooManyRequests, http.StatusRequestTimeout, http.StatusNotFound:
		return true
	}
	return status >= 500
}

func drainAndClose(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, 8*1024))
	_ = body.Close()
}

// cancelOnClose ties the call-spanning deadline to the response body, so the
// timer is released exactly when the caller finishes reading.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelOnClose) Close() error {
	b.cancel()
	return b.ReadCloser.Close()
}
