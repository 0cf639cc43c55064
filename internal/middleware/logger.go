package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"ag2api-go/internal/logging"
)

// RequestLogger emits one structured line per request after the handler
// chain finishes. Paths in skip (health probes, metric scrapes) stay quiet.
func RequestLogger(skip ...string) gin.HandlerFunc {
	skipSet := make(map[string]struct{}, len(skip))
	for _, p := range skip {
		skipSet[p] = struct{}{}
	}
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		if _, ok := skipSet[c.Request.URL.Path]; ok {
			return
		}

		model, _ := c.Get(KeyModel)
		account, _ := c.Get(KeyAccountEmail)
		extras := log.Fields{
			"status":     c.Writer.Status(),
			"latency_ms": logging.DurationMS(time.Since(start)),
			"user_agent": c.Request.UserAgent(),
			"model":      model,
			"account":    account,
		}
		if msg := c.GetString(KeyErrorMessage); msg != "" {
			extras["error"] = msg
		}
		logging.WithReq(c, extras).Info("http_request")
	}
}
