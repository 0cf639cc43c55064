package cloudcode

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	log "github.com/sirupsen/logrus"

	"ag2api-go/internal/constants"
	"ag2api-go/internal/errors"
)

// ProjectInfo is the onboarding result for one account: the Cloud AI
// companion project and the parsed subscription tier.
type ProjectInfo struct {
	ProjectID string
	Tier      string
}

type loadCodeAssistRequest struct {
	Metadata loadCodeAssistMetadata `json:"metadata"`
}

type loadCodeAssistMetadata struct {
	IDEType    string `json:"ideType"`
	Platform   string `json:"platform"`
	PluginType string `json:"pluginType"`
}

type tierInfo struct {
	ID        string `json:"id"`
	IsDefault bool   `json:"isDefault"`
}

type loadCodeAssistResponse struct {
	// cloudaicompanionProject arrives as a bare string or as an object
	// carrying an id.
	CloudAICompanionProject interface{} `json:"cloudaicompanionProject"`
	PaidTier                *tierInfo   `json:"paidTier"`
	CurrentTier             *tierInfo   `json:"currentTier"`
	AllowedTiers            []*tierInfo `json:"allowedTiers"`
}

// FetchProject resolves the companion project and subscription tier for an
// access token via the loadCodeAssist probe. Accounts without a provisioned
// project get a readable ID derived from the token, so repeated probes for
// the same token always agree.
func (c *Client) FetchProject(ctx context.Context, accessToken string) (ProjectInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, constants.ProjectFetchTimeout)
	defer cancel()

	body, _ := json.Marshal(loadCodeAssistRequest{
		Metadata: loadCodeAssistMetadata{
			IDEType:    "IDE_UNSPECIFIED",
			Platform:   "PLATFORM_UNSPECIFIED",
			PluginType: "GEMINI",
		},
	})

	var lastErr error
	for i, base := range c.bases {
		last := i == len(c.bases)-1

		resp, status, err := c.doOnce(ctx, base+":"+constants.MethodLoadCodeAssist, body, accessToken, "")
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				return ProjectInfo{}, errors.FromNetwork(err)
			}
			if last {
				return ProjectInfo{}, errors.Wrap(errors.KindNetworkError, "loadCodeAssist unreachable", lastErr)
			}
			continue
		}

		data, readErr := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		resp.Body.Close()
		if readErr != nil {
			lastErr = readErr
			if last {
				return ProjectInfo{}, errors.Wrap(errors.KindNetworkError, "read loadCodeAssist response", readErr)
			}
			continue
		}

		if failoverStatus(status) && !last {
			log.WithFields(log.Fields{"base": base, "status": status}).
				Info("loadCodeAssist failing over to next base")
			continue
		}
		if status != http.StatusOK {
			return ProjectInfo{}, errors.Newf(errors.KindAccountError,
				"loadCodeAssist status %d: %s", status, truncate(string(data), 200)).WithStatus(status)
		}

		var payload loadCodeAssistResponse
		if err := json.Unmarshal(UnwrapResponse(data), &payload); err != nil {
			return ProjectInfo{}, errors.Wrap(errors.KindAccountError, "decode loadCodeAssist response", err)
		}

		info := ProjectInfo{
			ProjectID: companionProjectID(payload.CloudAICompanionProject),
			Tier:      subscriptionTier(&payload),
		}
		if info.ProjectID == "" {
			info.ProjectID = SynthProjectID(accessToken)
			log.WithField("project", info.ProjectID).Info("No companion project, synthesized fallback ID")
		}
		return info, nil
	}
	return ProjectInfo{}, errors.Wrap(errors.KindNetworkError, "loadCodeAssist base list exhausted", lastErr)
}

func companionProjectID(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case map[string]interface{}:
		if id, ok := t["id"].(string); ok {
			return id
		}
	}
	return ""
}

// subscriptionTier prefers the paid tier over the currently active one, then
// the default allowed tier. Unparseable IDs fall through to the next source.
func subscriptionTier(r *loadCodeAssistResponse) string {
	tier := "unknown"
	if r.PaidTier != nil && r.PaidTier.ID != "" {
		tier = ParseTierID(r.PaidTier.ID)
	}
	if tier == "unknown" && r.CurrentTier != nil && r.CurrentTier.ID != "" {
		tier = ParseTierID(r.CurrentTier.ID)
	}
	if tier == "unknown" && len(r.AllowedTiers) > 0 {
		chosen := r.AllowedTiers[0]
		for _, t := range r.AllowedTiers {
			if t != nil && t.IsDefault {
				chosen = t
				break
			}
		}
		if chosen != nil && chosen.ID != "" {
			tier = ParseTierID(chosen.ID)
		}
	}
	return tier
}

// ParseTierID normalizes a raw tier identifier to ultra, pro, free or
// unknown. "standard-tier" is the paid Gemini Code Assist plan.
func ParseTierID(tierID string) string {
	if tierID == "" {
		return "unknown"
	}
	lower := strings.ToLower(tierID)
	switch {
	case strings.Contains(lower, "ultra"):
		return "ultra"
	case lower == "standard-tier":
		return "pro"
	case strings.Contains(lower, "pro"), strings.Contains(lower, "premium"):
		return "pro"
	case strings.Contains(lower, "free"):
		return "free"
	}
	return "unknown"
}

var (
	projectAdjectives = []string{
		"amber", "bold", "brisk", "calm", "clever", "crimson", "eager", "gentle",
		"golden", "lively", "mellow", "noble", "quiet", "rapid", "silver", "vivid",
	}
	projectNouns = []string{
		"aurora", "breeze", "canyon", "comet", "falcon", "garden", "harbor", "meadow",
		"nebula", "osprey", "prairie", "quartz", "ridge", "summit", "tundra", "willow",
	}
)

// SynthProjectID derives a readable placeholder project ID from an access
// token. The same token always yields the same ID.
func SynthProjectID(accessToken string) string {
	sum := sha256.Sum256([]byte(accessToken))
	adj := projectAdjectives[int(sum[0])%len(projectAdjectives)]
	noun := projectNouns[int(sum[1])%len(projectNouns)]
	return fmt.Sprintf("%s-%s-%s", adj, noun, hex.EncodeToString(sum[2:5])[:5])
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
