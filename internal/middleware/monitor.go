package middleware

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"ag2api-go/internal/constants"
	"ag2api-go/internal/logging"
	"ag2api-go/internal/storage"
)

// MonitorStore is the slice of the storage layer the monitor writes to.
type MonitorStore interface {
	InsertMonitorLog(ctx context.Context, entry *storage.MonitorLog) error
}

// Monitor persists one observation row per API request. Handlers leave the
// model, account and token counts in the context; everything else comes
// from the response writer. The insert runs off the request goroutine with
// its own deadline so a slow store never holds a connection open.
func Monitor(store MonitorStore, skip ...string) gin.HandlerFunc {
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

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		entry := &storage.MonitorLog{
			Timestamp:    start,
			Method:       c.Request.Method,
			Path:         path,
			StatusCode:   c.Writer.Status(),
			LatencyMS:    logging.DurationMS(time.Since(start)),
			AccountEmail: c.GetString(KeyAccountEmail),
			Model:        c.GetString(KeyModel),
			InputTokens:  getInt64(c, KeyInputTokens),
			OutputTokens: getInt64(c, KeyOutputTokens),
			ErrorMessage: c.GetString(KeyErrorMessage),
		}

		SafeGo("monitor-log", func() {
			ctx, cancel := context.WithTimeout(context.Background(), constants.MonitorWriteTimeout)
			defer cancel()
			if err := store.InsertMonitorLog(ctx, entry); err != nil {
				log.WithError(err).Warn("monitor log write failed")
			}
		})
	}
}

func getInt64(c *gin.Context, key string) int64 {
	v, ok := c.Get(key)
	if !ok {
		return 0
	}
	n, _ := v.(int64)
	return n
}
