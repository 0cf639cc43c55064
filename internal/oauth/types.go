package oauth

import (
	"time"
)

// Credentials is the mutable token pair for one pool account. Refresh
// rewrites AccessToken and ExpiresAt in place.
type Credentials struct {
	AccessToken  string    `json:"access_token,omitempty"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at,omitempty"`
}

// ExpiringWithin reports whether the access token is absent, already
// expired, or will expire inside the window.
func (c *Credentials) ExpiringWithin(now time.Time, window time.Duration) bool {
	if c.AccessToken == "" || c.ExpiresAt.IsZero() {
		return true
	}
	return !now.Add(window).Before(c.ExpiresAt)
}

// TokenResponse is the token endpoint's JSON body for a refresh grant.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiresIn    int    `json:"expires_in"`
	TokenType    string `json:"token_type"`
	Scope        string `json:"scope,omitempty"`
}

// UserProfile is the Google userinfo payload, used to backfill account
// metadata after a refresh.
type UserProfile struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	VerifiedEmail bool   `json:"verified_email"`
	Name          string `json:"name"`
	GivenName     string `json:"given_name"`
	FamilyName    string `json:"family_name"`
	Picture       string `json:"picture"`
}
