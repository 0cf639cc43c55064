package errors

import (
	"encoding/json"
	"fmt"
)

// FromUpstream classifies a non-2xx upstream response into the taxonomy the
// dispatcher retries on. 429 and 5xx-class statuses are retryable; other 4xx
// short-circuit the attempt loop.
func FromUpstream(statusCode int, body []byte) *ProxyError {
	msg := extractUpstreamMessage(body)

	switch {
	case statusCode == 400:
		return New(KindInvalidRequest, firstNonEmpty(msg, "invalid request")).WithStatus(statusCode)
	case statusCode == 401:
		return New(KindUnauthorized, firstNonEmpty(msg, "upstream rejected credentials")).WithStatus(statusCode)
	case statusCode == 403:
		return New(KindForbidden, firstNonEmpty(msg, "permission denied")).WithStatus(statusCode)
	case statusCode == 404:
		return New(KindNotFound, firstNonEmpty(msg, "not found")).WithStatus(statusCode)
	case statusCode == 408:
		return New(KindTimeout, firstNonEmpty(msg, "request timeout")).WithStatus(statusCode)
	case statusCode == 429:
		return New(KindRateLimit, firstNonEmpty(msg, "rate limit exceeded")).WithStatus(statusCode)
	case statusCode == 503 || statusCode == 529 || statusCode >= 500:
		return New(KindServerOverload, firstNonEmpty(msg, "upstream overloaded")).WithStatus(statusCode)
	case statusCode >= 400 && statusCode < 500:
		return New(KindInvalidRequest, firstNonEmpty(msg, fmt.Sprintf("upstream HTTP %d", statusCode))).WithStatus(statusCode)
	default:
		return New(KindServerOverload, firstNonEmpty(msg, fmt.Sprintf("upstream HTTP %d", statusCode))).WithStatus(statusCode)
	}
}

func extractUpstreamMessage(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	var payload map[string]interface{}
	if err := json.Unmarshal(body, &payload); err == nil {
		if errObj, ok := payload["error"].(map[string]interface{}); ok {
			if m, ok := errObj["message"].(string); ok && m != "" {
				return m
			}
		}
	}
	msg := string(body)
	if len(msg) > 200 {
		return msg[:200] + "..."
	}
	return msg
}

func firstNonEmpty(strs ...string) string {
	for _, s := range strs {
		if s != "" {
			return s
		}
	}
	return ""
}
