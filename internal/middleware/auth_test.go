package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func authRouter(key string) *gin.Engine {
	router := gin.New()
	router.Use(Auth(func() string { return key }))
	handler := func(c *gin.Context) { c.String(200, "OK") }
	router.GET("/v1/models", handler)
	router.POST("/v1/messages", handler)
	return router
}

func TestAuthOpenWhenNoKeyConfigured(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := authRouter("")

	req := httptest.NewRequest("GET", "/v1/models", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != 200 {
		t.Errorf("expected status 200, got %d", w.Code)
	}
}

func TestAuthAcceptsEveryDialect(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := authRouter("sk-secret")

	cases := []struct {
		name  string
		setup func(r *http.Request)
	}{
		{"Bearer token", func(r *http.Request) { r.Header.Set("Authorization", "Bearer sk-secret") }},
		{"Bare authorization header", func(r *http.Request) { r.Header.Set("Authorization", "sk-secret") }},
		{"Claude x-api-key", func(r *http.Request) { r.Header.Set("x-api-key", "sk-secret") }},
		{"Gemini x-goog-api-key", func(r *http.Request) { r.Header.Set("x-goog-api-key", "sk-secret") }},
		{"Query parameter", func(r *http.Request) {
			q := r.URL.Query()
			q.Set("key", "sk-secret")
			r.URL.RawQuery = q.Encode()
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/v1/models", nil)
			tc.setup(req)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			if w.Code != 200 {
				t.Errorf("expected status 200, got %d: %s", w.Code, w.Body.String())
			}
		})
	}
}

func TestAuthRejectsMissingKey(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := authRouter("sk-secret")

	req := httptest.NewRequest("GET", "/v1/models", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "API key not provided") {
		t.Errorf("unexpected body: %s", w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "authentication_error") {
		t.Errorf("expected openai error type, got: %s", w.Body.String())
	}
}

func TestAuthRejectsWrongKey(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := authRouter("sk-secret")

	req := httptest.NewRequest("GET", "/v1/models", nil)
	req.Header.Set("Authorization", "Bearer sk-wrong")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "invalid API key") {
		t.Errorf("unexpected body: %s", w.Body.String())
	}
}

func TestAuthClaudeEnvelopeOnMessagesRoute(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := authRouter("sk-secret")

	req := httptest.NewRequest("POST", "/v1/messages", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, `"type":"error"`) {
		t.Errorf("expected claude error envelope, got: %s", body)
	}
	if !strings.Contains(body, "authentication_error") {
		t.Errorf("expected authentication_error type, got: %s", body)
	}
}

func TestAuthStoresKeyInContext(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(Auth(func() string { return "sk-secret" }))
	router.GET("/v1/models", func(c *gin.Context) {
		if got := c.GetString(KeyAPIKey); got != "sk-secret" {
			t.Errorf("expected api key in context, got %q", got)
		}
		c.String(200, "OK")
	})

	req := httptest.NewRequest("GET", "/v1/models", nil)
	req.Header.Set("x-api-key", "sk-secret")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != 200 {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
}
