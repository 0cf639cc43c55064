package oauth

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	log "github.com/sirupsen/logrus"
	"golang.org/x/oauth2"

	"ag2api-go/internal/constants"
)

// Endpoint is the Google OAuth endpoint pair the pool accounts were
// authorized against. AuthStyleInParams matches what the token endpoint
// expects from this client.
var Endpoint = oauth2.Endpoint{
	AuthURL:   constants.OAuthAuthURL,
	TokenURL:  constants.OAuthTokenURL,
	AuthStyle: oauth2.AuthStyleInParams,
}

// ManagerOption customizes Manager creation.
type ManagerOption func(*Manager)

// Manager performs the refresh-token grant and userinfo lookups for pool
// accounts. It holds no per-account state; callers own their Credentials.
type Manager struct {
	clientID     string
	clientSecret string
	endpoint     oauth2.Endpoint
	userInfoURL  string
	httpClient   *http.Client
}

// NewManager creates a Manager bound to the Antigravity OAuth client.
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		clientID:     constants.OAuthClientID,
		clientSecret: constants.OAuthClientSecret,
		endpoint:     Endpoint,
		userInfoURL:  constants.OAuthUserInfoURL,
		httpClient:   &http.Client{Timeout: constants.OAuthRequestTimeout},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

// WithClientCredentials overrides the OAuth client id and secret.
func WithClientCredentials(clientID, clientSecret string) ManagerOption {
	return func(m *Manager) {
		if clientID != "" && clientSecret != "" {
			m.clientID = clientID
			m.clientSecret = clientSecret
		}
	}
}

// WithHTTPClient overrides the HTTP client used for outbound calls.
func WithHTTPClient(client *http.Client) ManagerOption {
	return func(m *Manager) {
		if client != nil {
			m.httpClient = client
		}
	}
}

// WithEndpoint overrides the OAuth endpoint pair.
func WithEndpoint(endpoint oauth2.Endpoint) ManagerOption {
	return func(m *Manager) {
		if endpoint.TokenURL != "" {
			m.endpoint = endpoint
		}
	}
}

// WithUserInfoURL overrides the userinfo endpoint.
func WithUserInfoURL(endpoint string) ManagerOption {
	return func(m *Manager) {
		if endpoint != "" {
			m.userInfoURL = endpoint
		}
	}
}

func (m *Manager) ensureClientCredentials() error {
	if strings.TrimSpace(m.clientID) == "" || strings.TrimSpace(m.clientSecret) == "" {
		return fmt.Errorf("oauth client credentials not configured")
	}
	return nil
}

// RefreshToken exchanges the stored refresh token for a fresh access token
// and rewrites creds in place. A rotated refresh token, when the endpoint
// returns one, replaces the stored value.
func (m *Manager) RefreshToken(ctx context.Context, creds *Credentials) error {
	if creds == nil || creds.RefreshToken == "" {
		return fmt.Errorf("no refresh token available")
	}
	if err := m.ensureClientCredentials(); err != nil {
		return err
	}

	if m.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, m.httpClient)
	}
	conf := &oauth2.Config{
		ClientID:     m.clientID,
		ClientSecret: m.clientSecret,
		Endpoint:     m.endpoint,
	}
	token, err := conf.TokenSource(ctx, &oauth2.Token{RefreshToken: creds.RefreshToken}).Token()
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if stderrors.As(err, &retrieveErr) {
			return fmt.Errorf("token refresh failed with status %d: %s",
				retrieveErr.Response.StatusCode, string(retrieveErr.Body))
		}
		return fmt.Errorf("token refresh: %w", err)
	}

	creds.AccessToken = token.AccessToken
	if token.RefreshToken != "" {
		creds.RefreshToken = token.RefreshToken
	}
	creds.ExpiresAt = token.Expiry

	log.WithField("expires_at", creds.ExpiresAt).Debug("access token refreshed")
	return nil
}

// GetUserProfile retrieves the account's Google profile.
func (m *Manager) GetUserProfile(ctx context.Context, accessToken string) (*UserProfile, error) {
	if accessToken == "" {
		return nil, fmt.Errorf("access token is required")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.userInfoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to get user profile: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("failed to get user profile: %d %s", resp.StatusCode, string(body))
	}

	var profile UserProfile
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		return nil, fmt.Errorf("failed to decode user profile: %w", err)
	}
	return &profile, nil
}
