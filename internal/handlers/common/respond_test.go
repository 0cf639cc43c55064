package common

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"ag2api-go/internal/config"
	"ag2api-go/internal/errors"
	"ag2api-go/internal/middleware"
)

func TestReadBodyRejectsMalformedInput(t *testing.T) {
	gin.SetMode(gin.TestMode)

	cases := []struct {
		name string
		body string
		want string
	}{
		{"Empty body", "", "request body is empty"},
		{"Whitespace only", "  \n ", "request body is empty"},
		{"Broken JSON", `{"model": `, "not valid JSON"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c, _ := gin.CreateTestContext(httptest.NewRecorder())
			c.Request = httptest.NewRequest("POST", "/v1/chat/completions", strings.NewReader(tc.body))

			_, perr := ReadBody(c)
			if perr == nil {
				t.Fatal("expected an error")
			}
			if perr.Kind != errors.KindInvalidRequest {
				t.Errorf("expected invalid_request, got %s", perr.Kind)
			}
			if !strings.Contains(perr.Message, tc.want) {
				t.Errorf("expected %q in message, got %q", tc.want, perr.Message)
			}
		})
	}
}

func TestReadBodyMapsBodyLimit(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest("POST", "/v1/messages", strings.NewReader(strings.Repeat("x", 100)))
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, 10)

	_, perr := ReadBody(c)
	if perr == nil {
		t.Fatal("expected an error")
	}
	if perr.Kind != errors.KindInvalidRequest {
		t.Errorf("expected invalid_request, got %s", perr.Kind)
	}
	if !strings.Contains(perr.Message, "exceeds 10 bytes") {
		t.Errorf("unexpected message: %q", perr.Message)
	}
}

func TestWriteProxyErrorRendersEnvelopeAndContext(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest("POST", "/v1/messages", nil)

	perr := errors.New(errors.KindRateLimit, "all accounts limited, retry in 30s").WithRetryAfter(30)
	WriteProxyError(c, errors.FormatClaude, perr)

	if w.Code != http.StatusTooManyRequests {
		t.Errorf("expected status 429, got %d", w.Code)
	}
	if got := w.Header().Get("Retry-After"); got != "30" {
		t.Errorf("expected Retry-After 30, got %q", got)
	}
	body := w.Body.String()
	if !strings.Contains(body, `"type":"error"`) || !strings.Contains(body, "rate_limit_error") {
		t.Errorf("expected claude rate limit envelope, got: %s", body)
	}
	if got := c.GetString(middleware.KeyErrorMessage); got != "all accounts limited, retry in 30s" {
		t.Errorf("expected error message in context, got %q", got)
	}
}

func TestWriteProxyErrorNilDefaultsToInternal(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest("POST", "/v1/chat/completions", nil)

	WriteProxyError(c, errors.FormatOpenAI, nil)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("expected status 500, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "internal error") {
		t.Errorf("unexpected body: %s", w.Body.String())
	}
}

func TestAllowedSetFiltersAdvertisedModels(t *testing.T) {
	open := Allowed(&config.ProxyConfig{})
	if !open.Permits("claude-sonnet-4-5") {
		t.Error("empty allow list should permit everything")
	}

	set := Allowed(&config.ProxyConfig{AllowedModels: []string{"gemini-3-flash"}})
	if !set.Permits("gemini-3-flash") {
		t.Error("listed model should be permitted")
	}
	if set.Permits("claude-opus-4-6") {
		t.Error("unlisted model should be filtered")
	}
}
