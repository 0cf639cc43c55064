package translator

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/tidwall/gjson"
)

const (
	sseScanBuffer  = 64 * 1024
	sseScanMaxSize = 4 * 1024 * 1024
)

func init() {
	// Gemini-native clients still need each chunk peeled out of the RPC
	// envelope before it goes back on the wire.
	Register(FormatGemini, FormatGemini, TranslatorConfig{
		StreamTransform: GeminiPassthroughStream,
	})
}

// newSSEScanner returns a line scanner sized for large streaming chunks.
func newSSEScanner(r io.Reader) *bufio.Scanner {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, sseScanBuffer), sseScanMaxSize)
	return scanner
}

// ssePayload extracts the JSON payload from a "data:" line. Blank lines,
// comments and the [DONE] sentinel report ok=false.
func ssePayload(line string) (string, bool) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "data:") {
		return "", false
	}
	payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
	if payload == "" || payload == "[DONE]" {
		return "", false
	}
	return payload, true
}

// unwrapChunk parses a streamed chunk and peels the RPC envelope when present.
func unwrapChunk(payload string) gjson.Result {
	parsed := gjson.Parse(payload)
	if inner := parsed.Get("response"); inner.Exists() {
		return inner
	}
	return parsed
}

// unwrapResponse peels the RPC envelope from a unary body when present.
func unwrapResponse(body []byte) gjson.Result {
	parsed := gjson.ParseBytes(body)
	if inner := parsed.Get("response"); inner.Exists() {
		return inner
	}
	return parsed
}

// GeminiPassthroughStream re-emits upstream chunks as plain Gemini SSE with
// the RPC envelope removed.
func GeminiPassthroughStream(ctx context.Context, model string, reader io.Reader) (io.Reader, error) {
	pr, pw := io.Pipe()

	go func() {
		defer pw.Close()

		scanner := newSSEScanner(reader)
		for scanner.Scan() {
			payload, ok := ssePayload(scanner.Text())
			if !ok {
				continue
			}
			chunk := unwrapChunk(payload)
			if _, err := fmt.Fprintf(pw, "data: %s\n\n", chunk.Raw); err != nil {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			pw.CloseWithError(err)
		}
	}()

	return pr, nil
}
