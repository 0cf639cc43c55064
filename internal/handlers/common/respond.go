package common

import (
	"bytes"
	stderrors "errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/tidwall/gjson"

	"ag2api-go/internal/dispatch"
	"ag2api-go/internal/errors"
	"ag2api-go/internal/middleware"
)

// ReadBody slurps and sanity-checks the request body. The body-limit
// middleware surfaces as *http.MaxBytesError here.
func ReadBody(c *gin.Context) ([]byte, *errors.ProxyError) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		var mbe *http.MaxBytesError
		if stderrors.As(err, &mbe) {
			return nil, errors.Newf(errors.KindInvalidRequest, "request body exceeds %d bytes", mbe.Limit)
		}
		return nil, errors.Wrap(errors.KindInvalidRequest, "reading request body", err)
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, errors.New(errors.KindInvalidRequest, "request body is empty")
	}
	if !gjson.ValidBytes(body) {
		return nil, errors.New(errors.KindInvalidRequest, "request body is not valid JSON")
	}
	return body, nil
}

// WriteProxyError renders err in the handler's protocol envelope and leaves
// the message where the logger and monitor pick it up.
func WriteProxyError(c *gin.Context, format errors.ErrorFormat, perr *errors.ProxyError) {
	if perr == nil {
		perr = errors.New(errors.KindMappingError, "internal error")
	}
	c.Set(middleware.KeyErrorMessage, perr.Message)
	if perr.RetryAfter > 0 {
		c.Header("Retry-After", strconv.Itoa(perr.RetryAfter))
	}
	c.Data(perr.StatusCode, "application/json", perr.ToJSON(format))
	c.Abort()
}

// PublishReply leaves the reply facts in the context for the tail
// middlewares. For streams, call it only after the pump finishes: the usage
// counters settle when the stream reader hits EOF.
func PublishReply(c *gin.Context, reply *dispatch.Reply) {
	if reply.Model != "" {
		c.Set(middleware.KeyModel, reply.Model)
	}
	if reply.Email != "" {
		c.Set(middleware.KeyAccountEmail, reply.Email)
	}
	if reply.Usage != nil {
		c.Set(middleware.KeyInputTokens, reply.Usage.InputTokens)
		c.Set(middleware.KeyOutputTokens, reply.Usage.OutputTokens)
	}
}

// WriteUnary sends a unary reply body. The status comes from the reply so
// passthrough error relays keep their upstream code.
func WriteUnary(c *gin.Context, reply *dispatch.Reply) {
	PublishReply(c, reply)
	c.Data(reply.Status, "application/json", reply.Body)
}
