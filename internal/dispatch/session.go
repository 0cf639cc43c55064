package dispatch

import (
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"ag2api-go/internal/translator"
)

// sessionHashDepth caps how many leading messages feed the fallback hash.
// Conversations grow at the tail, so the head stays stable turn over turn.
const sessionHashDepth = 3

// SessionID derives the stickiness key for a request. An explicit user
// identifier wins; otherwise the leading message contents are hashed so one
// conversation keeps landing on the same account.
func SessionID(proto translator.Format, body []byte) string {
	switch proto {
	case translator.FormatOpenAI:
		if user := gjson.GetBytes(body, "user"); user.Type == gjson.String && user.Str != "" {
			return "openai:" + user.Str
		}
	case translator.FormatClaude:
		if user := gjson.GetBytes(body, "metadata.user_id"); user.Type == gjson.String && user.Str != "" {
			return "claude:" + user.Str
		}
	}

	key, field := "messages", "content"
	if proto == translator.FormatGemini {
		key, field = "contents", "parts"
	}
	var sb strings.Builder
	for i, msg := range gjson.GetBytes(body, key).Array() {
		if i == sessionHashDepth {
			break
		}
		content := msg.Get(field)
		switch {
		case content.Type == gjson.String:
			sb.WriteString(content.Str)
		case content.Exists():
			sb.WriteString(content.Raw)
		}
	}
	return hash36(sb.String())
}

// hash36 is a djb2-style shift-add rolling hash rendered in base 36. It only
// needs to spread conversations across accounts, not resist collisions.
func hash36(s string) string {
	h := uint64(5381)
	for i := 0; i < len(s); i++ {
		h = (h << 5) + h + uint64(s[i])
	}
	return strconv.FormatUint(h, 36)
}
