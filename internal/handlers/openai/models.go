package openai

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	common "ag2api-go/internal/handlers/common"
	"ag2api-go/internal/models"
)

// ListModels handles GET /v1/models. The catalog is filtered by the
// allowedModels config when one is set.
func (h *Handler) ListModels(c *gin.Context) {
	allowed := common.Allowed(h.cfg.Current())
	created := time.Now().Unix()

	items := make([]any, 0)
	for _, desc := range models.All() {
		if !allowed.Permits(desc.ID) {
			continue
		}
		items = append(items, gin.H{
			"id":             desc.ID,
			"object":         "model",
			"created":        created,
			"owned_by":       ownerOf(desc.Family),
			"context_length": desc.ContextWindow,
		})
	}
	c.JSON(http.StatusOK, gin.H{"object": "list", "data": items})
}

func ownerOf(family models.Family) string {
	if family == models.FamilyClaude {
		return "anthropic"
	}
	return "google"
}
