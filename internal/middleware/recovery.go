package middleware

import (
	"runtime/debug"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"ag2api-go/internal/errors"
)

// Recovery converts handler panics into 500 responses instead of torn
// connections. Once the handler has started writing (a stream mid-flight)
// the panic can only be logged.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.WithFields(log.Fields{
					"error":  r,
					"stack":  string(debug.Stack()),
					"path":   c.Request.URL.Path,
					"method": c.Request.Method,
					"ip":     c.ClientIP(),
				}).Error("panic recovered")

				if c.Writer.Written() {
					c.Abort()
					return
				}
				respondError(c, errors.New(errors.KindMappingError, "internal server error"))
			}
		}()
		c.Next()
	}
}

// SafeGo runs fn on its own goroutine and keeps a panic there from taking
// the process down.
func SafeGo(name string, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.WithFields(log.Fields{
					"goroutine": name,
					"error":     r,
					"stack":     string(debug.Stack()),
				}).Error("goroutine panic recovered")
			}
		}()
		fn()
	}()
}
