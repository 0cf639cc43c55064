// Package middleware carries the gin handlers wrapped around every route:
// edge auth, per-caller rate limiting, request IDs, CORS, panic recovery,
// structured request logging, Prometheus instrumentation and the
// monitor-log writer.
//
// Handlers publish per-request facts through the context keys below so the
// tail middlewares (logger, monitor) can report them without re-parsing
// request or response bodies.
package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"ag2api-go/internal/errors"
)

// Context keys shared between handlers and middleware.
const (
	KeyRequestID    = "request_id"
	KeyAPIKey       = "api_key"
	KeyModel        = "model"
	KeyAccountEmail = "account_email"
	KeyInputTokens  = "input_tokens"
	KeyOutputTokens = "output_tokens"
	KeyErrorMessage = "error_message"
)

// errorFormatFor picks the envelope dialect for a path so middleware
// rejections read like the API the caller was speaking.
func errorFormatFor(c *gin.Context) errors.ErrorFormat {
	path := c.Request.URL.Path
	switch {
	case strings.HasPrefix(path, "/v1/messages"), strings.HasPrefix(path, "/mcp"):
		return errors.FormatClaude
	case strings.HasPrefix(path, "/v1beta"):
		return errors.FormatGemini
	default:
		return errors.FormatOpenAI
	}
}

// respondError renders a ProxyError in the caller's dialect and stops the
// handler chain.
func respondError(c *gin.Context, perr *errors.ProxyError) {
	c.Data(perr.StatusCode, "application/json", perr.ToJSON(errorFormatFor(c)))
	c.Abort()
}
