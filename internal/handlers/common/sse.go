package common

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"ag2api-go/internal/dispatch"
	"ag2api-go/internal/errors"
	"ag2api-go/internal/middleware"
)

// StreamHeaders presets the SSE response headers. They must be in place
// before the first byte leaves; X-Accel-Buffering stops nginx-style proxies
// from coalescing events.
func StreamHeaders(c *gin.Context) {
	h := c.Writer.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
}

// CopyStream pumps translated SSE bytes to the client, flushing after every
// read so events leave as they arrive. It returns how many bytes were
// written: zero means the response line has not sent and a JSON error is
// still possible.
func CopyStream(c *gin.Context, r io.Reader) (int64, error) {
	var written int64
	buf := make([]byte, 32*1024)
	for {
		n, rerr := r.Read(buf)
		if n > 0 {
			wn, werr := c.Writer.Write(buf[:n])
			written += int64(wn)
			if werr != nil {
				return written, werr
			}
			c.Writer.Flush()
		}
		if rerr == io.EOF {
			return written, nil
		}
		if rerr != nil {
			return written, rerr
		}
	}
}

// StreamReply drives a streaming reply end to end: headers, pump, release,
// usage publication. Once any byte is out the exchange is terminal; a
// mid-stream failure gets a best-effort protocol error event, never a retry.
func StreamReply(c *gin.Context, format errors.ErrorFormat, reply *dispatch.Reply) {
	StreamHeaders(c)
	written, err := CopyStream(c, reply.Stream)
	_ = reply.Stream.Close()
	PublishReply(c, reply)
	if err == nil {
		return
	}

	perr := errors.AsProxyError(err)
	c.Set(middleware.KeyErrorMessage, perr.Message)
	if written == 0 {
		// Headers are staged but unsent; undo the SSE content type.
		c.Writer.Header().Set("Content-Type", "application/json")
		c.Data(perr.StatusCode, "application/json", perr.ToJSON(format))
		return
	}
	writeStreamError(c, format, perr)
}

// writeStreamError appends a protocol-shaped error event to a stream that
// already carried bytes.
func writeStreamError(c *gin.Context, format errors.ErrorFormat, perr *errors.ProxyError) {
	w := c.Writer
	if format == errors.FormatClaude {
		_, _ = w.WriteString("event: error\n")
	}
	_, _ = w.WriteString("data: ")
	_, _ = w.Write(perr.ToJSON(format))
	_, _ = w.WriteString("\n\n")
	w.Flush()
}
