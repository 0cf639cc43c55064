package translator

import (
	"unicode/utf8"

	"github.com/tidwall/gjson"
)

// CountClaudeTokens approximates Anthropic token counting at four characters
// per token, rounded up. Non-text blocks count as zero.
func CountClaudeTokens(rawJSON []byte) int64 {
	var chars int64

	chars += claudeTextChars(gjson.GetBytes(rawJSON, "system"))
	gjson.GetBytes(rawJSON, "messages").ForEach(func(_, msg gjson.Result) bool {
		chars += claudeTextChars(msg.Get("content"))
		return true
	})

	return (chars + 3) / 4
}

func claudeTextChars(content gjson.Result) int64 {
	switch {
	case content.Type == gjson.String:
		return int64(utf8.RuneCountInString(content.String()))
	case content.IsArray():
		var n int64
		content.ForEach(func(_, blk gjson.Result) bool {
			if blk.Get("type").String() == "text" {
				n += int64(utf8.RuneCountInString(blk.Get("text").String()))
			}
			return true
		})
		return n
	}
	return 0
}
