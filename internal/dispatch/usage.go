package dispatch

import (
	"bytes"
	"io"

	"github.com/tidwall/gjson"
)

// maxSniffLine drops sniffing for pathological single lines; forwarding is
// unaffected.
const maxSniffLine = 1 << 20

// sniffUsage wraps the upstream SSE body, forwarding every byte unchanged
// while watching data payloads for usageMetadata frames. The latest frame
// wins; usage is settled once the reader returns EOF.
func sniffUsage(r io.Reader, usage *Usage) io.Reader {
	if usage == nil {
		return r
	}
	return &usageSniffer{r: r, usage: usage}
}

// usageFromGemini reads usage counts off an unwrapped unary response.
func usageFromGemini(body []byte) *Usage {
	meta := gjson.GetBytes(body, "usageMetadata")
	return &Usage{
		InputTokens:  meta.Get("promptTokenCount").Int(),
		OutputTokens: meta.Get("candidatesTokenCount").Int(),
	}
}

type usageSniffer struct {
	r     io.Reader
	usage *Usage
	pend  []byte
}

func (s *usageSniffer) Read(p []byte) (int, error) {
	n, err := s.r.Read(p)
	if n > 0 {
		s.scan(p[:n])
	}
	return n, err
}

func (s *usageSniffer) scan(chunk []byte) {
	s.pend = append(s.pend, chunk...)
	if len(s.pend) > maxSniffLine {
		s.pend = s.pend[:0]
		return
	}
	for {
		i := bytes.IndexByte(s.pend, '\n')
		if i < 0 {
			return
		}
		s.line(bytes.TrimSpace(s.pend[:i]))
		s.pend = s.pend[i+1:]
	}
}

func (s *usageSniffer) line(line []byte) {
	if !bytes.HasPrefix(line, []byte("data:")) {
		return
	}
	payload := bytes.TrimSpace(line[len("data:"):])
	if len(payload) == 0 || bytes.Equal(payload, []byte("[DONE]")) {
		return
	}
	chunk := gjson.ParseBytes(payload)
	if inner := chunk.Get("response"); inner.Exists() {
		chunk = inner
	}
	meta := chunk.Get("usageMetadata")
	if !meta.Exists() {
		return
	}
	if v := meta.Get("promptTokenCount"); v.Exists() {
		s.usage.InputTokens = v.Int()
	}
	if v := meta.Get("candidatesTokenCount"); v.Exists() {
		s.usage.OutputTokens = v.Int()
	}
}
