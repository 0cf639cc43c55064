// Package gemini serves the Gemini-native surface. Gin cannot mix a path
// param with a literal colon in one segment, so the action routes register a
// single :action param holding "model:method" and split it here.
package gemini

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"ag2api-go/internal/dispatch"
	"ag2api-go/internal/errors"
	common "ag2api-go/internal/handlers/common"
	"ag2api-go/internal/models"
	"ag2api-go/internal/translator"
)

// Handler aggregates the dependencies of the Gemini-native endpoints.
type Handler struct {
	dispatcher common.Dispatcher
	cfg        common.ConfigSource
}

func New(dispatcher common.Dispatcher, cfg common.ConfigSource) *Handler {
	return &Handler{dispatcher: dispatcher, cfg: cfg}
}

// Action handles POST /v1beta/models/:action where the param carries
// "model:method". The method name follows the last colon so model ids with
// colons in them keep working.
func (h *Handler) Action(c *gin.Context) {
	action := c.Param("action")
	idx := strings.LastIndex(action, ":")
	if idx <= 0 || idx == len(action)-1 {
		common.WriteProxyError(c, errors.FormatGemini,
			errors.Newf(errors.KindNotFound, "unknown action %q", action))
		return
	}
	model, method := action[:idx], action[idx+1:]

	switch method {
	case "generateContent":
		h.generate(c, model, false)
	case "streamGenerateContent":
		h.generate(c, model, true)
	case "countTokens":
		h.countTokens(c, model)
	default:
		common.WriteProxyError(c, errors.FormatGemini,
			errors.Newf(errors.KindNotFound, "method %q is not supported", method))
	}
}

func (h *Handler) generate(c *gin.Context, model string, stream bool) {
	body, perr := common.ReadBody(c)
	if perr != nil {
		common.WriteProxyError(c, errors.FormatGemini, perr)
		return
	}

	reply, err := h.dispatcher.Dispatch(c.Request.Context(), dispatch.Request{
		Protocol: translator.FormatGemini,
		Model:    model,
		Body:     body,
		Stream:   stream,
	})
	if err != nil {
		common.WriteProxyError(c, errors.FormatGemini, errors.AsProxyError(err))
		return
	}

	if stream {
		common.StreamReply(c, errors.FormatGemini, reply)
		return
	}
	common.WriteUnary(c, reply)
}

func (h *Handler) countTokens(c *gin.Context, model string) {
	body, perr := common.ReadBody(c)
	if perr != nil {
		common.WriteProxyError(c, errors.FormatGemini, perr)
		return
	}

	reply, err := h.dispatcher.CountTokens(c.Request.Context(), model, body)
	if err != nil {
		common.WriteProxyError(c, errors.FormatGemini, errors.AsProxyError(err))
		return
	}
	common.WriteUnary(c, reply)
}

// ListModels handles GET /v1beta/models.
func (h *Handler) ListModels(c *gin.Context) {
	allowed := common.Allowed(h.cfg.Current())

	items := make([]any, 0)
	for _, desc := range models.All() {
		if !allowed.Permits(desc.ID) {
			continue
		}
		items = append(items, descriptorJSON(desc))
	}
	c.JSON(http.StatusOK, gin.H{"models": items})
}

// GetModel handles GET /v1beta/models/:action where the param is a bare
// model id.
func (h *Handler) GetModel(c *gin.Context) {
	id := strings.TrimPrefix(c.Param("action"), "models/")
	desc, ok := models.Describe(id)
	if !ok || !common.Allowed(h.cfg.Current()).Permits(desc.ID) {
		common.WriteProxyError(c, errors.FormatGemini,
			errors.Newf(errors.KindNotFound, "model %q not found", id))
		return
	}
	c.JSON(http.StatusOK, descriptorJSON(desc))
}

func descriptorJSON(desc models.Descriptor) gin.H {
	return gin.H{
		"name":                       "models/" + desc.ID,
		"displayName":                desc.DisplayName,
		"description":                desc.DisplayName + " via Cloud Code",
		"inputTokenLimit":            desc.ContextWindow,
		"outputTokenLimit":           desc.MaxOutputTokens,
		"supportedGenerationMethods": []string{"generateContent", "streamGenerateContent", "countTokens"},
		"temperature":                1.0,
		"topP":                       0.95,
	}
}
