package constants

import (
	"encoding/json"
	"fmt"
	"runtime"
)

// Cloud Code v1internal base URLs, in failover order. The production host is
// preferred; the daily sandbox absorbs traffic when production rejects the
// request with a retryable status.
var CloudCodeBaseURLs = []string{
	"https://cloudcode-pa.googleapis.com/v1internal",
	"https://daily-cloudcode-pa.sandbox.googleapis.com/v1internal",
}

// Upstream method suffixes, appended to a base URL as "<base>:<method>".
const (
	MethodGenerateContent       = "generateContent"
	MethodStreamGenerateContent = "streamGenerateContent"
	MethodCountTokens           = "countTokens"
	MethodLoadCodeAssist        = "loadCodeAssist"
)

// StreamQuery is appended to streamGenerateContent calls.
const StreamQuery = "alt=sse"

// Envelope fields required by v1internal (see upstream/cloudcode).
const (
	EnvelopeUserAgent       = "antigravity"
	EnvelopeRequestType     = "agent"
	EnvelopeRequestIDPrefix = "agent-"
)

// Client identification enums from the v1internal ClientMetadata message.
const (
	ideTypeAntigravity = 6
	pluginTypeGemini   = 2

	platformUnspecified = 0
	platformWindows     = 1
	platformLinux       = 2
	platformMacOS       = 3
)

// ClientVersion is the upstream client version we present.
const ClientVersion = "1.16.5"

// UserAgent returns the platform-specific User-Agent header value.
func UserAgent() string {
	return fmt.Sprintf("antigravity/%s %s/%s", ClientVersion, runtime.GOOS, runtime.GOARCH)
}

// XGoogAPIClient is sent verbatim on every upstream call.
const XGoogAPIClient = "google-cloud-sdk vscode_cloudshelleditor/0.1"

func platformEnum() int {
	switch runtime.GOOS {
	case "darwin":
		return platformMacOS
	case "windows":
		return platformWindows
	case "linux":
		return platformLinux
	default:
		return platformUnspecified
	}
}

// ClientMetadata returns the Client-Metadata header value: a JSON object of
// numeric enums identifying this process as an Antigravity IDE client.
func ClientMetadata() string {
	b, _ := json.Marshal(map[string]int{
		"ideType":    ideTypeAntigravity,
		"platform":   platformEnum(),
		"pluginType": pluginTypeGemini,
	})
	return string(b)
}
