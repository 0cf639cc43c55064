package claude

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
	"ag2api-go/internal/middleware"
	"ag2api-go/internal/translator"
)

type stubDispatcher struct {
	reply *dispatch.Reply
	err   error
	calls []dispatch.Request
}

func (s *stubDispatcher) Dispatch(_ context.Context, req dispatch.Request) (*dispatch.Reply, error) {
	s.calls = append(s.calls, req)
	if s.err != nil {
		return nil, s.err
	}
	return s.reply, nil
}

func (s *stubDispatcher) CountTokens(_ context.Context, model string, body []byte) (*dispatch.Reply, error) {
	s.calls = append(s.calls, dispatch.Request{Model: model, Body: body})
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

func post(t *testing.T, h gin.HandlerFunc, path, body string) (*httptest.ResponseRecorder, *gin.Context) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	c.Request.Header.Set("Content-Type", "application/json")
	h(c)
	return w, c
}

func TestMessagesUnary(t *testing.T) {
	sd := &stubDispatcher{reply: &dispatch.Reply{
		Status: http.StatusOK,
		Body:   []byte(`{"id":"msg_1","type":"message","role":"assistant"}`),
		Model:  "claude-sonnet-4-5",
		Email:  "a@example.com",
		Usage:  &dispatch.Usage{InputTokens: 9, OutputTokens: 21},
	}}
	h := New(sd, stubConfig{})

	w, c := post(t, h.Messages, "/v1/messages",
		`{"model":"claude-sonnet-4-5","messages":[{"role":"user","content":"hi"}]}`)

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"id":"msg_1","type":"message","role":"assistant"}`, w.Body.String())

	require.Len(t, sd.calls, 1)
	assert.Equal(t, translator.FormatClaude, sd.calls[0].Protocol)
	assert.Equal(t, "claude-sonnet-4-5", sd.calls[0].Model)
	assert.False(t, sd.calls[0].Stream)
	assert.Equal(t, "claude-sonnet-4-5", c.GetString(middleware.KeyModel))
	out, _ := c.Get(middleware.KeyOutputTokens)
	assert.Equal(t, int64(21), out)
}

func TestMessagesStream(t *testing.T) {
	frames := "event: message_start\ndata: {}\n\nevent: message_stop\ndata: {}\n\n"
	sd := &stubDispatcher{reply: &dispatch.Reply{
		Status: http.StatusOK,
		Stream: io.NopCloser(strings.NewReader(frames)),
		Model:  "claude-sonnet-4-5",
	}}
	h := New(sd, stubConfig{})

	w, _ := post(t, h.Messages, "/v1/messages",
		`{"model":"claude-sonnet-4-5","messages":[{"role":"user","content":"hi"}],"stream":true}`)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	assert.Equal(t, frames, w.Body.String())
	require.Len(t, sd.calls, 1)
	assert.True(t, sd.calls[0].Stream)
}

func TestMessagesErrorRendersClaudeEnvelope(t *testing.T) {
	sd := &stubDispatcher{err: errors.New(errors.KindServerOverload, "upstream said no")}
	h := New(sd, stubConfig{})

	w, _ := post(t, h.Messages, "/v1/messages",
		`{"model":"claude-sonnet-4-5","messages":[{"role":"user","content":"hi"}]}`)

	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), `"type":"error"`)
	assert.Contains(t, w.Body.String(), `"type":"overloaded_error"`)
}

func TestMCPMessagesForcesUnary(t *testing.T) {
	sd := &stubDispatcher{reply: &dispatch.Reply{
		Status: http.StatusOK,
		Body:   []byte(`{"id":"msg_2","type":"message"}`),
	}}
	h := New(sd, stubConfig{})

	w, _ := post(t, h.MCPMessages, "/mcp/messages",
		`{"model":"claude-sonnet-4-5","messages":[{"role":"user","content":"hi"}],"stream":true}`)

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"id":"msg_2","type":"message"}`, w.Body.String())
	require.Len(t, sd.calls, 1)
	assert.False(t, sd.calls[0].Stream, "mcp bridge never streams")
}

func TestCountTokensEstimatesLocally(t *testing.T) {
	sd := &stubDispatcher{}
	h := New(sd, stubConfig{})

	// 7 chars of system + 11 chars of text = 18, ceil(18/4) = 5.
	w, _ := post(t, h.CountTokens, "/v1/messages/count_tokens",
		`{"model":"claude-sonnet-4-5","system":"be kind","messages":[{"role":"user","content":"hello there"}]}`)

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"input_tokens":5}`, w.Body.String())
	assert.Empty(t, sd.calls, "token estimate must not spend an account")
}

func TestCountTokensRejectsMalformedBody(t *testing.T) {
	h := New(&stubDispatcher{}, stubConfig{})

	w, _ := post(t, h.CountTokens, "/v1/messages/count_tokens", `not json`)

	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), `"type":"error"`)
	assert.Contains(t, w.Body.String(), `"type":"invalid_request_error"`)
}

func TestListModelsClaudeFamilyOnly(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := New(&stubDispatcher{}, stubConfig{})

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/v1/models/claude", nil)
	h.ListModels(c)

	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Data []struct {
			Type        string `json:"type"`
			ID          string `json:"id"`
			DisplayName string `json:"display_name"`
		} `json:"data"`
		HasMore bool   `json:"has_more"`
		FirstID string `json:"first_id"`
		LastID  string `json:"last_id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	require.Len(t, resp.Data, 4)
	for _, m := range resp.Data {
		assert.Equal(t, "model", m.Type)
		assert.True(t, strings.HasPrefix(m.ID, "claude-"), "unexpected id %q", m.ID)
		assert.NotEmpty(t, m.DisplayName)
	}
	assert.False(t, resp.HasMore)
	assert.Equal(t, resp.Data[0].ID, resp.FirstID)
	assert.Equal(t, resp.Data[len(resp.Data)-1].ID, resp.LastID)
}
