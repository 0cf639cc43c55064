package middleware

import (
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus/hooks/test"
)

func TestRequestLoggerEmitsStructuredLine(t *testing.T) {
	gin.SetMode(gin.TestMode)
	hook := test.NewGlobal()
	defer hook.Reset()

	router := gin.New()
	router.Use(RequestID(), RequestLogger())
	router.GET("/v1/models", func(c *gin.Context) {
		c.Set(KeyModel, "gemini-3-flash")
		c.Set(KeyAccountEmail, "a@example.com")
		c.String(200, "OK")
	})

	req := httptest.NewRequest("GET", "/v1/models", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var entryFound bool
	for _, e := range hook.AllEntries() {
		if e.Message != "http_request" {
			continue
		}
		entryFound = true
		if e.Data["status"] != 200 {
			t.Errorf("expected status field 200, got %v", e.Data["status"])
		}
		if e.Data["model"] != "gemini-3-flash" {
			t.Errorf("expected model field, got %v", e.Data["model"])
		}
		if e.Data["account"] != "a@example.com" {
			t.Errorf("expected account field, got %v", e.Data["account"])
		}
		if e.Data["path"] != "/v1/models" {
			t.Errorf("expected path field, got %v", e.Data["path"])
		}
		if e.Data["request_id"] == "" {
			t.Error("expected request_id field")
		}
	}
	if !entryFound {
		t.Fatal("expected an http_request log entry")
	}
}

func TestRequestLoggerRecordsErrorMessage(t *testing.T) {
	gin.SetMode(gin.TestMode)
	hook := test.NewGlobal()
	defer hook.Reset()

	router := gin.New()
	router.Use(RequestLogger())
	router.GET("/test", func(c *gin.Context) {
		c.Set(KeyErrorMessage, "invalid API key")
		c.String(401, "nope")
	})

	req := httptest.NewRequest("GET", "/test", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	entries := hook.AllEntries()
	if len(entries) == 0 {
		t.Fatal("expected a log entry")
	}
	last := entries[len(entries)-1]
	if last.Data["error"] != "invalid API key" {
		t.Errorf("expected error field, got %v", last.Data["error"])
	}
	if last.Data["status"] != 401 {
		t.Errorf("expected status field 401, got %v", last.Data["status"])
	}
}

func TestRequestLoggerSkipsQuietPaths(t *testing.T) {
	gin.SetMode(gin.TestMode)
	hook := test.NewGlobal()
	defer hook.Reset()

	router := gin.New()
	router.Use(RequestLogger("/health"))
	router.GET("/health", func(c *gin.Context) {
		c.String(200, "ok")
	})

	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	for _, e := range hook.AllEntries() {
		if e.Message == "http_request" {
			t.Error("expected no http_request entry for a skipped path")
		}
	}
}
