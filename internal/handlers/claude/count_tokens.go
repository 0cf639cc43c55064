package claude

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"ag2api-go/internal/errors"
	common "ag2api-go/internal/handlers/common"
	"ag2api-go/internal/translator"
)

// CountTokens handles POST /v1/messages/count_tokens. The estimate is local
// (chars/4 over text content) so no account is spent on it.
func (h *Handler) CountTokens(c *gin.Context) {
	body, perr := common.ReadBody(c)
	if perr != nil {
		common.WriteProxyError(c, errors.FormatClaude, perr)
		return
	}
	c.JSON(http.StatusOK, gin.H{"input_tokens": translator.CountClaudeTokens(body)})
}
