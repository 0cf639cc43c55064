package cloudcode

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"ag2api-go/internal/constants"
)

// Envelope wraps a protocol-mapped request body in the v1internal wrapper.
// The body is embedded raw so its fields survive byte for byte.
func Envelope(projectID, model string, body []byte) ([]byte, error) {
	if len(body) == 0 {
		body = []byte(`{}`)
	}
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("request body is not valid JSON")
	}
	out := []byte(`{}`)
	out, _ = sjson.SetBytes(out, "project", projectID)
	out, _ = sjson.SetBytes(out, "requestId", constants.EnvelopeRequestIDPrefix+uuid.NewString())
	out, _ = sjson.SetRawBytes(out, "request", body)
	out, _ = sjson.SetBytes(out, "model", model)
	out, _ = sjson.SetBytes(out, "userAgent", constants.EnvelopeUserAgent)
	out, _ = sjson.SetBytes(out, "requestType", constants.EnvelopeRequestType)
	return out, nil
}

// UnwrapResponse peels the envelope from a unary body: the "response" value
// when present, otherwise the body itself.
func UnwrapResponse(body []byte) []byte {
	if r := gjson.GetBytes(body, "response"); r.Exists() {
		return []byte(r.Raw)
	}
	return body
}

// UnwrapStreamChunk peels the envelope from one SSE data payload.
func UnwrapStreamChunk(payload []byte) []byte {
	return UnwrapResponse(payload)
}
