package translator

import (
	"context"
	"io"
)

// Format identifies a client-facing wire protocol.
type Format string

const (
	FormatOpenAI Format = "openai"
	FormatClaude Format = "claude"
	FormatGemini Format = "gemini"
)

// String returns the string representation of a Format.
func (f Format) String() string { return string(f) }

// RequestTransform converts a request body from one format to another.
// Implementations must not mutate rawJSON.
type RequestTransform func(model string, rawJSON []byte, stream bool) []byte

// ResponseTransform converts a non-streaming response body between formats.
type ResponseTransform func(ctx context.Context, model string, responseBody []byte) ([]byte, error)

// StreamTransform consumes upstream SSE from reader and returns a reader
// producing the target protocol's event stream.
type StreamTransform func(ctx context.Context, model string, reader io.Reader) (io.Reader, error)

// TranslatorConfig bundles the transforms registered for a format pair.
type TranslatorConfig struct {
	RequestTransform  RequestTransform
	ResponseTransform ResponseTransform
	StreamTransform   StreamTransform
}
