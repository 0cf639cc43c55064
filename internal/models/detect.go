package models

import (
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
)

// Protocol identifies the inbound wire format a request arrived in.
type Protocol string

const (
	ProtocolOpenAI Protocol = "openai"
	ProtocolClaude Protocol = "claude"
	ProtocolGemini Protocol = "gemini"
)

// backgroundScanDepth bounds how many trailing messages the background
// detector reads. Housekeeping prompts sit at the end of the transcript.
const backgroundScanDepth = 3

// backgroundPatterns match the housekeeping prompts agent frontends fire
// between turns: titles, summaries, suggestion chips, warm-up pings and
// output reformatting. Any hit makes the request a background candidate.
var backgroundPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(generate|create|write|provide|give)\b.{0,40}\btitle\b`),
	regexp.MustCompile(`(?i)\bconcise\b.{0,30}\btitle\b`),
	regexp.MustCompile(`(?i)\bsummar(y|ize|ise|izing)\b`),
	regexp.MustCompile(`(?i)\btl;?dr\b`),
	regexp.MustCompile(`(?i)\bsuggest\b.{0,50}\b(follow.?ups?|next steps?|quest(ions?)|prompts?|repl(y|ies))\b`),
	regexp.MustCompile(`(?i)\bfollow.?up (questions?|suggestions?)\b`),
	regexp.MustCompile(`(?i)^\s*(hi|hello|hey|ping|test|warm.?up)[.!?]*\s*$`),
	regexp.MustCompile(`(?i)\bre?format\b.{0,40}\b(json|yaml|markdown|output|response|text)\b`),
	regexp.MustCompile(`(?i)\brespond\b.{0,30}\b(one|a single) (word|line|sentence)\b`),
	regexp.MustCompile(`(?i)\bclassify\b.{0,40}\b(intent|category|sentiment)\b`),
}

// backgroundNegations veto the background route. A prompt that asks for real
// engineering work is never a housekeeping task no matter what else matches.
var backgroundNegations = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bimplement(ation|ing)?\b`),
	regexp.MustCompile(`(?i)\bdebug(ging)?\b`),
	regexp.MustCompile(`(?i)\bdetailed\b|\bin detail\b`),
	regexp.MustCompile(`(?i)\brefactor(ing)?\b`),
	regexp.MustCompile(`(?i)\bwrite\b.{0,20}\b(code|tests?|functions?)\b`),
	regexp.MustCompile(`(?i)\bfix\b.{0,20}\b(bug|issue|error|test)\b`),
	regexp.MustCompile(`(?i)\bstep.?by.?step\b`),
	regexp.MustCompile(`(?i)\banaly(ze|se|sis)\b`),
	regexp.MustCompile(`(?i)\bexplain\b.{0,30}\b(why|how)\b`),
}

// DetectBackground reports whether the trailing message texts look like a
// housekeeping task: at least one positive pattern and no negation across
// the scanned window.
func DetectBackground(texts []string) bool {
	matched := false
	for _, text := range texts {
		if text == "" {
			continue
		}
		for _, re := range backgroundNegations {
			if re.MatchString(text) {
				return false
			}
		}
		if !matched {
			for _, re := range backgroundPatterns {
				if re.MatchString(text) {
					matched = true
					break
				}
			}
		}
	}
	return matched
}

// DetectVision reports whether any message carries an image block.
func DetectVision(body []byte, protocol Protocol) bool {
	found := false
	eachMessage(body, protocol, func(msg gjson.Result) bool {
		switch protocol {
		case ProtocolGemini:
			msg.Get("parts").ForEach(func(_, part gjson.Result) bool {
				if part.Get("inlineData").Exists() || part.Get("inline_data").Exists() || part.Get("fileData").Exists() {
					found = true
				}
				return !found
			})
		default:
			content := msg.Get("content")
			if !content.IsArray() {
				return true
			}
			content.ForEach(func(_, block gjson.Result) bool {
				t := block.Get("type").String()
				if t == "image" || t == "image_url" {
					found = true
				}
				return !found
			})
		}
		return !found
	})
	return found
}

// DetectThinking reports whether the request asks for reasoning output. Only
// the Claude wire format carries an explicit thinking request.
func DetectThinking(body []byte, protocol Protocol, model string) bool {
	if protocol != ProtocolClaude {
		return false
	}
	if strings.Contains(normalize(model), "thinking") {
		return true
	}
	return gjson.GetBytes(body, "thinking").Exists() ||
		gjson.GetBytes(body, "metadata.thinking").Exists()
}

// lastMessageTexts flattens the text of up to the last n messages.
func lastMessageTexts(body []byte, protocol Protocol, n int) []string {
	var msgs []gjson.Result
	if protocol == ProtocolGemini {
		msgs = gjson.GetBytes(body, "contents").Array()
	} else {
		msgs = gjson.GetBytes(body, "messages").Array()
	}
	if len(msgs) > n {
		msgs = msgs[len(msgs)-n:]
	}
	texts := make([]string, 0, len(msgs))
	for _, msg := range msgs {
		texts = append(texts, messageText(msg, protocol))
	}
	return texts
}

func messageText(msg gjson.Result, protocol Protocol) string {
	var sb strings.Builder
	if protocol == ProtocolGemini {
		msg.Get("parts").ForEach(func(_, part gjson.Result) bool {
			if t := part.Get("text"); t.Exists() {
				if sb.Len() > 0 {
					sb.WriteByte('\n')
				}
				sb.WriteString(t.String())
			}
			return true
		})
		return sb.String()
	}

	content := msg.Get("content")
	if content.Type == gjson.String {
		return content.String()
	}
	content.ForEach(func(_, block gjson.Result) bool {
		if block.Get("type").String() == "text" {
			if sb.Len() > 0 {
				sb.WriteByte('\n')
			}
			sb.WriteString(block.Get("text").String())
		}
		return true
	})
	return sb.String()
}

func eachMessage(body []byte, protocol Protocol, fn func(gjson.Result) bool) {
	path := "messages"
	if protocol == ProtocolGemini {
		path = "contents"
	}
	gjson.GetBytes(body, path).ForEach(func(_, msg gjson.Result) bool {
		return fn(msg)
	})
}
