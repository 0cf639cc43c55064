// Package claude serves the Anthropic-compatible surface: the Messages API,
// its token counter, the MCP bridge and the Claude model listing.
package claude

import (
	"github.com/gin-gonic/gin"
	"github.com/tidwall/gjson"

	"ag2api-go/internal/dispatch"
	"ag2api-go/internal/errors"
	common "ag2api-go/internal/handlers/common"
	"ag2api-go/internal/translator"
)

// Handler aggregates the dependencies of the Claude-compatible endpoints.
type Handler struct {
	dispatcher common.Dispatcher
	cfg        common.ConfigSource
}

func New(dispatcher common.Dispatcher, cfg common.ConfigSource) *Handler {
	return &Handler{dispatcher: dispatcher, cfg: cfg}
}

// Messages handles POST /v1/messages.
func (h *Handler) Messages(c *gin.Context) {
	h.dispatchMessages(c, true)
}

// MCPMessages handles POST /mcp/messages. The MCP bridge speaks the Messages
// shape but always gets a unary answer, whatever the body's stream flag says.
func (h *Handler) MCPMessages(c *gin.Context) {
	h.dispatchMessages(c, false)
}

func (h *Handler) dispatchMessages(c *gin.Context, allowStream bool) {
	body, perr := common.ReadBody(c)
	if perr != nil {
		common.WriteProxyError(c, errors.FormatClaude, perr)
		return
	}

	stream := allowStream && gjson.GetBytes(body, "stream").Bool()
	reply, err := h.dispatcher.Dispatch(c.Request.Context(), dispatch.Request{
		Protocol: translator.FormatClaude,
		Model:    gjson.GetBytes(body, "model").String(),
		Body:     body,
		Stream:   stream,
	})
	if err != nil {
		common.WriteProxyError(c, errors.FormatClaude, errors.AsProxyError(err))
		return
	}

	if stream {
		common.StreamReply(c, errors.FormatClaude, reply)
		return
	}
	common.WriteUnary(c, reply)
}
