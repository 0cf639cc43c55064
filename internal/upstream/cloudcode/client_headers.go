package cloudcode

import (
	"net/http"

	"ag2api-go/internal/constants"
)

// applyDefaultHeaders stamps every upstream request with the Antigravity
// client fingerprint. The upstream rejects or deprioritizes callers it does
// not recognize, so the fingerprint is forced rather than defaulted.
func applyDefaultHeaders(req *http.Request, bearer string, sse bool) {
	req.Header.Set("Content-Type", "application/json")
	if sse {
		req.Header.Set("Accept", "text/event-stream")
	} else {
		req.Header.Set("Accept", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	req.Header.Set("User-Agent", constants.UserAgent())
	req.Header.Set("X-Goog-Api-Client", constants.XGoogAPIClient)
	req.Header.Set("Client-Metadata", constants.ClientMetadata())
}
