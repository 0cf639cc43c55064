package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// health reports liveness plus the pool numbers an operator checks first
// when requests start failing.
func (s *Server) health(c *gin.Context) {
	size := s.pool.Size()
	available := s.pool.AvailableCount()

	status := "ok"
	if size == 0 || available == 0 {
		status = "degraded"
	}

	c.JSON(http.StatusOK, gin.H{
		"status":         status,
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
		"backend":        s.store.Backend(),
		"accounts": gin.H{
			"total":     size,
			"available": available,
			"cooling":   s.pool.Limits().ActiveCount(),
		},
		"sessions": s.pool.Sessions().Count(),
	})
}
