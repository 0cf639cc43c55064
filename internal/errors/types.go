package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// Kind classifies a proxy failure. The dispatcher keys its retry decisions on
// the kind, and the wire layer maps kinds onto each protocol's error envelope.
type Kind string

const (
	KindInvalidRequest Kind = "invalid_request"
	KindUnauthorized   Kind = "unauthorized"
	KindForbidden      Kind = "forbidden"
	KindNotFound       Kind = "not_found"
	KindTimeout        Kind = "timeout"
	KindRateLimit      Kind = "rate_limit"
	KindServerOverload Kind = "server_overload"
	KindMappingError   Kind = "mapping_error"
	KindAccountError   Kind = "account_error"
	KindNetworkError   Kind = "network_error"
	KindStreamError    Kind = "stream_error"
)

// ErrorFormat selects the wire envelope an error is rendered into.
type ErrorFormat string

const (
	FormatOpenAI ErrorFormat = "openai"
	FormatClaude ErrorFormat = "claude"
	FormatGemini ErrorFormat = "gemini"
)

// ProxyError is the standardized error carried through the dispatcher.
type ProxyError struct {
	Kind       Kind
	StatusCode int
	Message    string
	// RetryAfter is a cooldown hint in seconds when the upstream provided
	// one; zero means no hint.
	RetryAfter int
	cause      error
}

func (e *ProxyError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *ProxyError) Unwrap() error { return e.cause }

// Retryable reports whether the dispatcher may try another attempt after
// seeing this error. StreamError is never retryable: by the time it occurs,
// response bytes have already left the server.
func (e *ProxyError) Retryable() bool {
	switch e.Kind {
	case KindTimeout, KindRateLimit, KindServerOverload, KindNetworkError:
		return true
	}
	return false
}

// New builds a ProxyError of the given kind with the kind's default HTTP
// status.
func New(kind Kind, message string) *ProxyError {
	return &ProxyError{Kind: kind, StatusCode: statusFor(kind), Message: message}
}

// Newf is New with formatting.
func Newf(kind Kind, format string, args ...interface{}) *ProxyError {
	return New(kind, fmt.Sprintf(format, args...))
}

// Wrap attaches a cause. The cause participates in errors.Is/As chains.
func Wrap(kind Kind, message string, cause error) *ProxyError {
	e := New(kind, message)
	e.cause = cause
	return e
}

// WithStatus overrides the HTTP status (used when the upstream status should
// surface verbatim).
func (e *ProxyError) WithStatus(status int) *ProxyError {
	e.StatusCode = status
	return e
}

// WithRetryAfter records an upstream cooldown hint in seconds.
func (e *ProxyError) WithRetryAfter(seconds int) *ProxyError {
	e.RetryAfter = seconds
	return e
}

func statusFor(kind Kind) int {
	switch kind {
	case KindInvalidRequest:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindTimeout:
		return http.StatusRequestTimeout
	case KindRateLimit:
		return http.StatusTooManyRequests
	case KindServerOverload, KindAccountError:
		return http.StatusServiceUnavailable
	case KindNetworkError:
		return http.StatusBadGateway
	case KindMappingError, KindStreamError:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// AsProxyError extracts a *ProxyError from an error chain, or wraps a plain
// error as an internal MappingError so every failure renders consistently.
func AsProxyError(err error) *ProxyError {
	if err == nil {
		return nil
	}
	var pe *ProxyError
	if stderrors.As(err, &pe) {
		return pe
	}
	return Wrap(KindMappingError, "internal error", err)
}
