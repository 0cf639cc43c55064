package anthropic

import (
	"bytes"
	"io"

	"github.com/tidwall/gjson"
)

// Usage is the token accounting sniffed from a Messages response.
type Usage struct {
	InputTokens  int64
	OutputTokens int64
}

// maxSniffLine drops sniffing for pathological single lines; forwarding is
// unaffected.
const maxSniffLine = 1 << 20

// SniffUsage wraps an SSE body, forwarding every byte unchanged while
// watching data payloads for usage fragments. done fires exactly once when
// the stream ends, with whatever counts were seen. A nil done returns r
// untouched.
func SniffUsage(r io.Reader, done func(Usage)) io.Reader {
	if done == nil {
		return r
	}
	return &usageSniffer{r: r, done: done}
}

// ParseUsage extracts usage counts from a unary Messages response body.
func ParseUsage(body []byte) Usage {
	u := gjson.GetBytes(body, "usage")
	return Usage{
		InputTokens:  u.Get("input_tokens").Int(),
		OutputTokens: u.Get("output_tokens").Int(),
	}
}

type usageSniffer struct {
	r    io.Reader
	done func(Usage)
	pend []byte
	u    Usage
	sent bool
}

func (s *usageSniffer) Read(p []byte) (int, error) {
	n, err := s.r.Read(p)
	if n > 0 {
		s.scan(p[:n])
	}
	if err != nil && !s.sent {
		s.sent = true
		s.done(s.u)
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
	// message_start nests usage under message; message_delta carries it at
	// the top level.
	usage := gjson.GetBytes(payload, "usage")
	if !usage.Exists() {
		usage = gjson.GetBytes(payload, "message.usage")
	}
	if !usage.Exists() {
		return
	}
	if v := usage.Get("input_tokens"); v.Exists() {
		s.u.InputTokens = v.Int()
	}
	if v := usage.Get("output_tokens"); v.Exists() {
		s.u.OutputTokens = v.Int()
	}
}
