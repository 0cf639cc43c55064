// Package openai serves the OpenAI-compatible surface: chat completions
// and the model listing.
package openai

import (
	"github.com/gin-gonic/gin"
	"github.com/tidwall/gjson"

	"ag2api-go/internal/dispatch"
	"ag2api-go/internal/errors"
	common "ag2api-go/internal/handlers/common"
	"ag2api-go/internal/translator"
)

// Handler aggregates the dependencies of the OpenAI-compatible endpoints.
type Handler struct {
	dispatcher common.Dispatcher
	cfg        common.ConfigSource
}

func New(dispatcher common.Dispatcher, cfg common.ConfigSource) *Handler {
	return &Handler{dispatcher: dispatcher, cfg: cfg}
}

// ChatCompletions handles POST /v1/chat/completions.
func (h *Handler) ChatCompletions(c *gin.Context) {
	body, perr := common.ReadBody(c)
	if perr != nil {
		common.WriteProxyError(c, errors.FormatOpenAI, perr)
		return
	}

	stream := gjson.GetBytes(body, "stream").Bool()
	reply, err := h.dispatcher.Dispatch(c.Request.Context(), dispatch.Request{
		Protocol: translator.FormatOpenAI,
		Model:    gjson.GetBytes(body, "model").String(),
		Body:     body,
		Stream:   stream,
	})
	if err != nil {
		common.WriteProxyError(c, errors.FormatOpenAI, errors.AsProxyError(err))
		return
	}

	if stream {
		common.StreamReply(c, errors.FormatOpenAI, reply)
		return
	}
	common.WriteUnary(c, reply)
}
