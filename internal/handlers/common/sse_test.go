package common

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"ag2api-go/internal/dispatch"
	"ag2api-go/internal/errors"
)

type failingReader struct {
	data string
	err  error
	read bool
}

func (r *failingReader) Read(p []byte) (int, error) {
	if !r.read {
		r.read = true
		n := copy(p, r.data)
		if len(r.data) > 0 {
			return n, nil
		}
	}
	return 0, r.err
}

func (r *failingReader) Close() error { return nil }

func TestStreamHeaders(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest("POST", "/v1/chat/completions", nil)

	StreamHeaders(c)
	c.Writer.WriteHeaderNow()

	if got := w.Header().Get("Content-Type"); got != "text/event-stream" {
		t.Errorf("expected text/event-stream, got %q", got)
	}
	if got := w.Header().Get("Cache-Control"); got != "no-cache" {
		t.Errorf("expected no-cache, got %q", got)
	}
	if got := w.Header().Get("Connection"); got != "keep-alive" {
		t.Errorf("expected keep-alive, got %q", got)
	}
	if got := w.Header().Get("X-Accel-Buffering"); got != "no" {
		t.Errorf("expected X-Accel-Buffering no, got %q", got)
	}
}

func TestCopyStreamForwardsAllBytes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest("POST", "/v1/chat/completions", nil)

	payload := "data: {\"a\":1}\n\ndata: [DONE]\n\n"
	n, err := CopyStream(c, strings.NewReader(payload))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != int64(len(payload)) {
		t.Errorf("expected %d bytes written, got %d", len(payload), n)
	}
	if w.Body.String() != payload {
		t.Errorf("body mismatch: %q", w.Body.String())
	}
}

func TestStreamReplyAppendsErrorEventMidStream(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest("POST", "/v1/messages", nil)

	reply := &dispatch.Reply{
		Status: 200,
		Stream: &failingReader{
			data: "event: message_start\ndata: {}\n\n",
			err:  errors.New(errors.KindStreamError, "upstream hung up"),
		},
	}
	StreamReply(c, errors.FormatClaude, reply)

	body := w.Body.String()
	if !strings.HasPrefix(body, "event: message_start\n") {
		t.Errorf("expected the relayed prefix, got: %q", body)
	}
	if !strings.Contains(body, "event: error\n") {
		t.Errorf("expected a trailing error event, got: %q", body)
	}
	if !strings.Contains(body, "upstream hung up") {
		t.Errorf("expected the error message in the event, got: %q", body)
	}
	if w.Code != 200 {
		t.Errorf("status must stay 200 once bytes are out, got %d", w.Code)
	}
}

func TestStreamReplyFailingFirstReadRendersJSON(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest("POST", "/v1/chat/completions", nil)

	reply := &dispatch.Reply{
		Status: 200,
		Stream: &failingReader{err: errors.New(errors.KindStreamError, "translator failed")},
	}
	StreamReply(c, errors.FormatOpenAI, reply)

	if w.Code != 500 {
		t.Errorf("expected status 500, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "translator failed") {
		t.Errorf("expected a JSON error body, got: %q", w.Body.String())
	}
}

func TestStreamReplyPublishesSettledUsage(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest("POST", "/v1/chat/completions", nil)

	usage := &dispatch.Usage{}
	reply := &dispatch.Reply{
		Status: 200,
		Model:  "gemini-3-flash",
		Email:  "a@example.com",
		Usage:  usage,
		Stream: &settlingStream{usage: usage},
	}
	StreamReply(c, errors.FormatOpenAI, reply)

	if v, _ := c.Get("input_tokens"); v != int64(5) {
		t.Errorf("expected input tokens published after EOF, got %v", v)
	}
	if v, _ := c.Get("output_tokens"); v != int64(9) {
		t.Errorf("expected output tokens published after EOF, got %v", v)
	}
}

// settlingStream writes counts into the shared usage only at EOF, the way
// the dispatcher's sniffer does.
type settlingStream struct {
	usage *dispatch.Usage
	done  bool
}

func (s *settlingStream) Read(p []byte) (int, error) {
	if s.done {
		return 0, io.EOF
	}
	s.done = true
	s.usage.InputTokens = 5
	s.usage.OutputTokens = 9
	return copy(p, "data: [DONE]\n\n"), nil
}

func (s *settlingStream) Close() error { return nil }
