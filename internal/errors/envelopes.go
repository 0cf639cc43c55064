package errors

import (
	"encoding/json"
	"net/http"
)

// OpenAIError mirrors OpenAI's error envelope.
type OpenAIError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code,omitempty"`
	} `json:"error"`
}

// ClaudeError mirrors Anthropic's error envelope.
type ClaudeError struct {
	Type  string `json:"type"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// GeminiError mirrors the Gemini API error structure.
type GeminiError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// ToJSON renders the error in the given protocol's envelope.
func (e *ProxyError) ToJSON(format ErrorFormat) []byte {
	switch format {
	case FormatClaude:
		return e.toClaudeJSON()
	case FormatGemini:
		return e.toGeminiJSON()
	default:
		return e.toOpenAIJSON()
	}
}

func (e *ProxyError) toOpenAIJSON() []byte {
	var out OpenAIError
	out.Error.Message = e.Message
	out.Error.Type = e.openAIType()
	out.Error.Code = string(e.Kind)
	b, _ := json.Marshal(out)
	return b
}

func (e *ProxyError) toClaudeJSON() []byte {
	var out ClaudeError
	out.Type = "error"
	out.Error.Type = e.claudeType()
	out.Error.Message = e.Message
	b, _ := json.Marshal(out)
	return b
}

func (e *ProxyError) toGeminiJSON() []byte {
	var out GeminiError
	out.Error.Code = e.StatusCode
	out.Error.Message = e.Message
	out.Error.Status = e.geminiStatus()
	b, _ := json.Marshal(out)
	return b
}

func (e *ProxyError) openAIType() string {
	switch e.Kind {
	case KindInvalidRequest, KindNotFound:
		return "invalid_request_error"
	case KindUnauthorized:
		return "authentication_error"
	case KindForbidden:
		return "permission_error"
	case KindRateLimit:
		return "rate_limit_error"
	case KindTimeout:
		return "timeout_error"
	default:
		return "server_error"
	}
}

func (e *ProxyError) claudeType() string {
	switch e.Kind {
	case KindInvalidRequest:
		return "invalid_request_error"
	case KindUnauthorized:
		return "authentication_error"
	case KindForbidden:
		return "permission_error"
	case KindNotFound:
		return "not_found_error"
	case KindRateLimit:
		return "rate_limit_error"
	case KindServerOverload, KindAccountError:
		return "overloaded_error"
	default:
		return "api_error"
	}
}

func (e *ProxyError) geminiStatus() string {
	switch e.StatusCode {
	case http.StatusBadRequest:
		return "INVALID_ARGUMENT"
	case http.StatusUnauthorized:
		return "UNAUTHENTICATED"
	case http.StatusForbidden:
		return "PERMISSION_DENIED"
	case http.StatusNotFound:
		return "NOT_FOUND"
	case http.StatusRequestTimeout:
		return "DEADLINE_EXCEEDED"
	case http.StatusTooManyRequests:
		return "RESOURCE_EXHAUSTED"
	case http.StatusInternalServerError:
		return "INTERNAL"
	case http.StatusBadGateway, http.StatusServiceUnavailable:
		return "UNAVAILABLE"
	default:
		return "UNKNOWN"
	}
}
