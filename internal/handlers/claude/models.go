package claude

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	common "ag2api-go/internal/handlers/common"
	"ag2api-go/internal/models"
)

// ListModels handles GET /v1/models/claude. Only the claude family is
// advertised here; the Anthropic listing shape has no place for Gemini ids.
func (h *Handler) ListModels(c *gin.Context) {
	allowed := common.Allowed(h.cfg.Current())
	createdAt := time.Now().UTC().Format(time.RFC3339)

	data := make([]any, 0)
	var firstID, lastID string
	for _, desc := range models.All() {
		if desc.Family != models.FamilyClaude || !allowed.Permits(desc.ID) {
			continue
		}
		if firstID == "" {
			firstID = desc.ID
		}
		lastID = desc.ID
		data = append(data, gin.H{
			"type":         "model",
			"id":           desc.ID,
			"display_name": desc.DisplayName,
			"created_at":   createdAt,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"data":     data,
		"has_more": false,
		"first_id": firstID,
		"last_id":  lastID,
	})
}
