package ratelimit

import (
	"strconv"
	"strings"
	"time"

	"ag2api-go/internal/constants"
	"github.com/tidwall/gjson"
)

// classify maps the upstream (status, Retry-After, body) triplet onto a
// cooldown reason and duration in seconds.
//
//	403            → AccountForbidden, 3600
//	429 + QUOTA_EXHAUSTED → QuotaExhausted, quotaResetDelay else 3600
//	429 other      → RateLimitExceeded, numeric Retry-After else 60
//	5xx / 529      → ServerError, 30
func classify(status int, retryAfterHeader, body string) (Reason, int) {
	switch {
	case status == 403:
		return AccountForbidden, int(constants.CooldownForbidden.Seconds())

	case status == 429 && strings.Contains(body, "QUOTA_EXHAUSTED"):
		if sec, ok := parseQuotaResetDelay(body); ok {
			return QuotaExhausted, sec
		}
		return QuotaExhausted, int(constants.CooldownQuotaExhausted.Seconds())

	case status == 429:
		if sec, ok := parseRetryAfter(retryAfterHeader); ok {
			return RateLimitExceeded, sec
		}
		return RateLimitExceeded, int(constants.CooldownRateLimited.Seconds())

	default:
		return ServerError, int(constants.CooldownServerError.Seconds())
	}
}

// parseRetryAfter accepts the numeric form of the Retry-After header. The
// HTTP-date form is rare on this upstream and is ignored.
func parseRetryAfter(header string) (int, bool) {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0, false
	}
	n, err := strconv.Atoi(header)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// parseQuotaResetDelay walks error.details[].metadata.quotaResetDelay, a Go
// duration string such as "1h3m20s" or "12.345s". A bare-seconds integer is
// accepted as a fallback.
func parseQuotaResetDelay(body string) (int, bool) {
	var found string
	gjson.Get(body, "error.details").ForEach(func(_, detail gjson.Result) bool {
		if v := detail.Get("metadata.quotaResetDelay"); v.Exists() {
			found = v.String()
			return false
		}
		return true
	})
	if found == "" {
		// Some variants put the field at the top of the error object.
		found = gjson.Get(body, "error.quotaResetDelay").String()
	}
	if found == "" {
		return 0, false
	}
	if d, err := time.ParseDuration(found); err == nil && d > 0 {
		sec := int(d.Seconds())
		if sec < 1 {
			sec = 1
		}
		return sec, true
	}
	if n, err := strconv.Atoi(found); err == nil && n > 0 {
		return n, true
	}
	return 0, false
}

func truncateBody(body string) string {
	if len(body) > constants.RateLimitBodyTruncate {
		return body[:constants.RateLimitBodyTruncate]
	}
	return body
}
