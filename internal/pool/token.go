package pool

import (
	"context"
	"sort"
	"strings"
	"time"

	"ag2api-go/internal/storage"
)

// ProxyToken is the in-memory view of one pool account. Field access is
// guarded by the owning Manager's mutex; tokens live for the process.
type ProxyToken struct {
	AccountID    string
	Email        string
	DisplayName  string
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time

	// ProjectID and Tier are learned from the upstream onboarding probe on
	// first use and cached for the process lifetime.
	ProjectID string
	Tier      string
}

func newProxyToken(a storage.Account) *ProxyToken {
	return &ProxyToken{
		AccountID:    a.ID,
		Email:        a.Email,
		DisplayName:  a.DisplayName,
		AccessToken:  a.AccessToken,
		RefreshToken: a.RefreshToken,
		ExpiresAt:    a.ExpiresAt,
	}
}

// Token is the credential bundle handed to the dispatcher for one upstream
// call.
type Token struct {
	AccountID   string
	Email       string
	AccessToken string
	ProjectID   string
}

// ProjectInfo is what the upstream onboarding probe yields for an account.
type ProjectInfo struct {
	ProjectID string
	Tier      string
}

// ProjectFetcher resolves the Cloud Code companion project (and subscription
// tier) for an access token. The upstream client implements it.
type ProjectFetcher interface {
	FetchProject(ctx context.Context, accessToken string) (ProjectInfo, error)
}

// tierRank orders subscription tiers for scheduling: paid tiers drain first
// so free quota stays in reserve.
func tierRank(tier string) int {
	switch strings.ToLower(tier) {
	case "ultra":
		return 0
	case "pro":
		return 1
	case "free":
		return 2
	default:
		return 3
	}
}

// sortByTier stably orders tokens by tier priority, preserving pool order
// within a tier.
func sortByTier(tokens []*ProxyToken) {
	sort.SliceStable(tokens, func(i, j int) bool {
		return tierRank(tokens[i].Tier) < tierRank(tokens[j].Tier)
	})
}
