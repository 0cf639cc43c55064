package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"ag2api-go/internal/errors"
)

// Auth guards the proxy surface with the API key from the live config. The
// key source is a function because the config can be rewritten at runtime;
// an empty key leaves the surface open.
//
// Clients present the key however their dialect does:
//
//	Authorization: Bearer <key>
//	x-api-key: <key>       (Claude clients)
//	x-goog-api-key: <key>  (Gemini clients)
//	?key=<key>             (Gemini query form)
func Auth(currentKey func() string) gin.HandlerFunc {
	return func(c *gin.Context) {
		required := strings.TrimSpace(currentKey())
		if required == "" {
			c.Next()
			return
		}

		provided := extractAPIKey(c)
		if provided == "" {
			respondError(c, errors.New(errors.KindUnauthorized, "API key not provided"))
			return
		}
		if provided != required {
			respondError(c, errors.New(errors.KindUnauthorized, "invalid API key"))
			return
		}

		c.Set(KeyAPIKey, provided)
		c.Next()
	}
}

// extractAPIKey walks the places the three dialects put credentials. The
// context value wins so downstream middleware sees the key auth validated.
// A bare Authorization header without the Bearer prefix is treated as the
// key itself.
func extractAPIKey(c *gin.Context) string {
	if v, ok := c.Get(KeyAPIKey); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	if auth := strings.TrimSpace(c.GetHeader("Authorization")); auth != "" {
		if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
			return strings.TrimSpace(auth[7:])
		}
		return auth
	}
	if v := strings.TrimSpace(c.GetHeader("x-api-key")); v != "" {
		return v
	}
	if v := strings.TrimSpace(c.GetHeader("x-goog-api-key")); v != "" {
		return v
	}
	return strings.TrimSpace(c.Query("key"))
}
