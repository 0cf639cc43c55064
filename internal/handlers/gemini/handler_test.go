package gemini

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ag2api-go/internal/config"
	"ag2api-go/internal/dispatch"
	"ag2api-go/internal/errors"
	"ag2api-go/internal/translator"
)

type stubDispatcher struct {
	reply      *dispatch.Reply
	err        error
	calls      []dispatch.Request
	countCalls []dispatch.Request
}

func (s *stubDispatcher) Dispatch(_ context.Context, req dispatch.Request) (*dispatch.Reply, error) {
	s.calls = append(s.calls, req)
	if s.err != nil {
		return nil, s.err
	}
	return s.reply, nil
}

func (s *stubDispatcher) CountTokens(_ context.Context, model string, body []byte) (*dispatch.Reply, error) {
	s.countCalls = append(s.countCalls, dispatch.Request{Model: model, Body: body})
	if s.err != nil {
		return nil, s.err
	}
	return s.reply, nil
}

type stubConfig struct {
	cfg *config.ProxyConfig
}

func (s stubConfig) Current() *config.ProxyConfig {
	if s.cfg != nil {
		return s.cfg
	}
	return config.DefaultProxyConfig()
}

func router(h *Handler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/v1beta/models", h.ListModels)
	r.GET("/v1beta/models/:action", h.GetModel)
	r.POST("/v1beta/models/:action", h.Action)
	return r
}

func TestActionGenerateContentUnary(t *testing.T) {
	sd := &stubDispatcher{reply: &dispatch.Reply{
		Status: http.StatusOK,
		Body:   []byte(`{"candidates":[{"content":{"parts":[{"text":"hi"}]}}]}`),
		Model:  "gemini-3-flash",
	}}
	r := router(New(sd, stubConfig{}))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1beta/models/gemini-3-flash:generateContent",
		strings.NewReader(`{"contents":[{"role":"user","parts":[{"text":"hi"}]}]}`))
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"candidates"`)
	require.Len(t, sd.calls, 1)
	assert.Equal(t, translator.FormatGemini, sd.calls[0].Protocol)
	assert.Equal(t, "gemini-3-flash", sd.calls[0].Model)
	assert.False(t, sd.calls[0].Stream)
}

func TestActionStreamGenerateContent(t *testing.T) {
	frames := "data: {\"candidates\":[]}\n\n"
	sd := &stubDispatcher{reply: &dispatch.Reply{
		Status: http.StatusOK,
		Stream: io.NopCloser(strings.NewReader(frames)),
	}}
	r := router(New(sd, stubConfig{}))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1beta/models/gemini-3-flash:streamGenerateContent?alt=sse",
		strings.NewReader(`{"contents":[{"role":"user","parts":[{"text":"hi"}]}]}`))
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	assert.Equal(t, frames, w.Body.String())
	require.Len(t, sd.calls, 1)
	assert.True(t, sd.calls[0].Stream)
}

func TestActionCountTokens(t *testing.T) {
	sd := &stubDispatcher{reply: &dispatch.Reply{
		Status: http.StatusOK,
		Body:   []byte(`{"totalTokens":42}`),
	}}
	r := router(New(sd, stubConfig{}))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1beta/models/gemini-3-flash:countTokens",
		strings.NewReader(`{"contents":[{"role":"user","parts":[{"text":"hi"}]}]}`))
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"totalTokens":42}`, w.Body.String())
	assert.Empty(t, sd.calls)
	require.Len(t, sd.countCalls, 1)
	assert.Equal(t, "gemini-3-flash", sd.countCalls[0].Model)
}

func TestActionUnknownMethod(t *testing.T) {
	sd := &stubDispatcher{}
	r := router(New(sd, stubConfig{}))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1beta/models/gemini-3-flash:embedContent",
		strings.NewReader(`{"contents":[]}`))
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"NOT_FOUND"`)
	assert.Empty(t, sd.calls)
}

func TestActionWithoutMethodSuffix(t *testing.T) {
	r := router(New(&stubDispatcher{}, stubConfig{}))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1beta/models/gemini-3-flash",
		strings.NewReader(`{"contents":[]}`))
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"NOT_FOUND"`)
}

func TestActionDispatchErrorRendersGeminiEnvelope(t *testing.T) {
	sd := &stubDispatcher{err: errors.New(errors.KindRateLimit, "quota exhausted")}
	r := router(New(sd, stubConfig{}))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1beta/models/gemini-3-flash:generateContent",
		strings.NewReader(`{"contents":[{"role":"user","parts":[{"text":"hi"}]}]}`))
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"RESOURCE_EXHAUSTED"`)
	assert.Contains(t, w.Body.String(), `"code":429`)
}

func TestListModelsShape(t *testing.T) {
	r := router(New(&stubDispatcher{}, stubConfig{}))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1beta/models", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Models []struct {
			Name             string   `json:"name"`
			DisplayName      string   `json:"displayName"`
			InputTokenLimit  int      `json:"inputTokenLimit"`
			OutputTokenLimit int      `json:"outputTokenLimit"`
			Methods          []string `json:"supportedGenerationMethods"`
		} `json:"models"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Models, 7)
	for _, m := range resp.Models {
		assert.True(t, strings.HasPrefix(m.Name, "models/"), "name %q", m.Name)
		assert.NotEmpty(t, m.DisplayName)
		assert.Greater(t, m.InputTokenLimit, 0)
		assert.Greater(t, m.OutputTokenLimit, 0)
		assert.Contains(t, m.Methods, "streamGenerateContent")
	}
}

func TestGetModel(t *testing.T) {
	r := router(New(&stubDispatcher{}, stubConfig{}))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1beta/models/gemini-3-pro-high", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"name":"models/gemini-3-pro-high"`)
	assert.Contains(t, w.Body.String(), `"inputTokenLimit":1048576`)
}

func TestGetModelUnknown(t *testing.T) {
	r := router(New(&stubDispatcher{}, stubConfig{}))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1beta/models/gemini-9-ultra", nil))

	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"NOT_FOUND"`)
}

func TestListModelsHonorsAllowedModels(t *testing.T) {
	cfg := config.DefaultProxyConfig()
	cfg.AllowedModels = []string{"claude-opus-4-6"}
	r := router(New(&stubDispatcher{}, stubConfig{cfg: cfg}))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1beta/models", nil))

	var resp struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Models, 1)
	assert.Equal(t, "models/claude-opus-4-6", resp.Models[0].Name)
}
