package pool

import (
	"context"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"ag2api-go/internal/config"
	"ag2api-go/internal/constants"
	"ag2api-go/internal/errors"
	"ag2api-go/internal/monitoring"
	"ag2api-go/internal/oauth"
	"ag2api-go/internal/ratelimit"
	"ag2api-go/internal/session"
	"ag2api-go/internal/storage"
)

// Quota groups let the scheduler treat expensive request classes differently.
// Image generation never reuses the hot account because a single account's
// image quota drains too fast to be worth the cache affinity.
const (
	QuotaGroupDefault  = "default"
	QuotaGroupImageGen = "image_gen"
)

// AccountStore is the slice of the persistent store the pool depends on.
type AccountStore interface {
	ListActiveAccounts(ctx context.Context) ([]storage.Account, error)
	GetCurrentAccountID(ctx context.Context) (string, error)
	UpdateAccountTokens(ctx context.Context, id, accessToken, refreshToken string, expiresAt time.Time) error
	UpdateAccountProfile(ctx context.Context, id, email, displayName, photoURL string) error
}

// TokenRefresher performs the OAuth refresh grant and userinfo lookup.
// *oauth.Manager implements it.
type TokenRefresher interface {
	RefreshToken(ctx context.Context, creds *oauth.Credentials) error
	GetUserProfile(ctx context.Context, accessToken string) (*oauth.UserProfile, error)
}

// ConfigSource yields the current proxy config snapshot. *config.Manager
// implements it.
type ConfigSource interface {
	Current() *config.ProxyConfig
}

// Options wires the manager's collaborators.
type Options struct {
	Store    AccountStore
	OAuth    TokenRefresher
	Config   ConfigSource
	Limits   *ratelimit.Registry
	Sessions *session.Registry
	Projects ProjectFetcher
}

type lastUsed struct {
	accountID string
	at        time.Time
}

// Manager owns the in-memory account pool and hands out upstream credentials.
// Selection prefers session-bound accounts, then the hot account, then
// round-robin from a cursor; paid tiers sort ahead of free ones so they drain
// first. The mutex guards tokens, cursor and hot; it is never held across a
// sleep, refresh or network call.
type Manager struct {
	store    AccountStore
	oauth    TokenRefresher
	config   ConfigSource
	limits   *ratelimit.Registry
	sessions *session.Registry
	projects ProjectFetcher

	mu     sync.Mutex
	tokens []*ProxyToken
	cursor int
	hot    *lastUsed

	refreshes *inflightGroup
	now       func() time.Time
	sleep     func(ctx context.Context, d time.Duration) error
}

// NewManager builds a pool manager. Limits and Sessions default to fresh
// registries when nil.
func NewManager(opts Options) *Manager {
	m := &Manager{
		store:     opts.Store,
		oauth:     opts.OAuth,
		config:    opts.Config,
		limits:    opts.Limits,
		sessions:  opts.Sessions,
		projects:  opts.Projects,
		refreshes: newInflightGroup(),
		now:       time.Now,
		sleep:     sleepContext,
	}
	if m.limits == nil {
		m.limits = ratelimit.NewRegistry()
	}
	if m.sessions == nil {
		m.sessions = session.NewRegistry()
	}
	return m
}

// Limits exposes the cooldown registry shared with the dispatcher.
func (m *Manager) Limits() *ratelimit.Registry { return m.limits }

// Sessions exposes the session binding registry.
func (m *Manager) Sessions() *session.Registry { return m.sessions }

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Load replaces the pool with the store's active accounts. Project ids and
// tiers already learned for surviving accounts carry over. The cursor is
// seeded from the persisted current-account pointer so restarts resume
// rotation near where they left off.
func (m *Manager) Load(ctx context.Context) error {
	accounts, err := m.store.ListActiveAccounts(ctx)
	if err != nil {
		return fmt.Errorf("load accounts: %w", err)
	}
	current, err := m.store.GetCurrentAccountID(ctx)
	if err != nil {
		log.WithError(err).Warn("reading current account pointer failed")
		current = ""
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	known := make(map[string]*ProxyToken, len(m.tokens))
	for _, tok := range m.tokens {
		known[tok.AccountID] = tok
	}

	tokens := make([]*ProxyToken, 0, len(accounts))
	for i := range accounts {
		if accounts[i].RefreshToken == "" {
			log.WithField("email", accounts[i].Email).Warn("skipping account without refresh token")
			continue
		}
		tok := newProxyToken(accounts[i])
		if old := known[tok.AccountID]; old != nil {
			tok.ProjectID = old.ProjectID
			tok.Tier = old.Tier
		}
		tokens = append(tokens, tok)
	}
	sortByTier(tokens)

	cursor := 0
	for i, tok := range tokens {
		if current != "" && tok.AccountID == current {
			cursor = i
			break
		}
	}

	m.tokens = tokens
	m.cursor = cursor
	if m.hot != nil && m.findLocked(m.hot.accountID) == nil {
		m.hot = nil
	}

	log.WithField("accounts", len(tokens)).Info("account pool loaded")
	return nil
}

// GetToken selects an account and returns ready-to-use upstream credentials.
// quotaGroup tags the request class, forceRotate skips affinity after an
// upstream failure, and sessionID (optional) keeps conversations pinned to
// one account for prompt-cache reuse.
func (m *Manager) GetToken(ctx context.Context, quotaGroup string, forceRotate bool, sessionID string) (Token, error) {
	cfg := m.config.Current()
	mode := cfg.SchedulingMode
	maxWait := cfg.MaxWaitSeconds
	if maxWait <= 0 {
		maxWait = constants.DefaultMaxWaitSeconds
	}
	if !cfg.SessionStickiness {
		sessionID = ""
	}

	m.mu.Lock()
	poolSize := len(m.tokens)
	m.mu.Unlock()
	if poolSize == 0 {
		return Token{}, errors.New(errors.KindAccountError, "account pool is empty")
	}

	attempted := make(map[string]bool, poolSize)
	for attempt := 0; attempt < poolSize; attempt++ {
		tok, wait, err := m.pick(attempted, quotaGroup, forceRotate, sessionID, mode, maxWait)
		if err != nil {
			return Token{}, err
		}
		if wait > 0 {
			log.WithFields(log.Fields{"email": tok.Email, "wait": wait}).
				Info("waiting out cooldown for session-bound account")
			if err := m.sleep(ctx, wait); err != nil {
				return Token{}, errors.Wrap(errors.KindTimeout, "canceled while waiting for account cooldown", err)
			}
		}
		attempted[tok.AccountID] = true

		issued, err := m.prepare(ctx, tok)
		if err != nil {
			log.WithError(err).WithField("email", tok.Email).Warn("account unusable, rotating")
			m.dropHot(tok.AccountID)
			continue
		}

		m.mu.Lock()
		m.hot = &lastUsed{accountID: tok.AccountID, at: m.now()}
		m.mu.Unlock()
		if sessionID != "" && mode != config.PerformanceFirst {
			m.sessions.RecordBinding(sessionID, tok.AccountID, tok.Email)
		}
		return issued, nil
	}
	return Token{}, errors.New(errors.KindAccountError, "no usable account: every candidate failed to prepare")
}

// pick chooses the next candidate under the pool lock. A non-zero wait means
// the caller must sleep that long before using the token (cache-first mode
// riding out a short cooldown on the session's bound account).
func (m *Manager) pick(attempted map[string]bool, quotaGroup string, forceRotate bool, sessionID string, mode config.SchedulingMode, maxWaitSeconds int) (*ProxyToken, time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Session binding first. Bindings survive cooldowns in cache-first mode
	// as long as the wait fits the budget; otherwise the session rebinds.
	if !forceRotate && sessionID != "" && mode != config.PerformanceFirst {
		if binding, ok := m.sessions.Lookup(sessionID); ok {
			tok := m.findLocked(binding.AccountID)
			switch {
			case tok == nil:
				m.sessions.Unbind(sessionID)
			case attempted[tok.AccountID]:
				// Already failed this request; rotate below.
			default:
				if remaining := m.limits.RemainingSeconds(tok.AccountID); remaining > 0 {
					if mode == config.CacheFirst && remaining <= maxWaitSeconds {
						return tok, time.Duration(remaining) * time.Second, nil
					}
					m.sessions.Unbind(sessionID)
				} else {
					return tok, 0, nil
				}
			}
		}
	}

	// Hot account: reusing the most recent account within the window keeps
	// upstream prompt caches warm.
	if !forceRotate && quotaGroup != QuotaGroupImageGen && m.hot != nil &&
		m.now().Sub(m.hot.at) <= constants.HotAccountWindow {
		if tok := m.findLocked(m.hot.accountID); tok != nil &&
			!attempted[tok.AccountID] && !m.limits.IsRateLimited(tok.AccountID) {
			return tok, 0, nil
		}
	}

	// Round-robin from the cursor over the tier-sorted pool.
	n := len(m.tokens)
	for i := 0; i < n; i++ {
		idx := (m.cursor + i) % n
		tok := m.tokens[idx]
		if attempted[tok.AccountID] || m.limits.IsRateLimited(tok.AccountID) {
			continue
		}
		m.cursor = (idx + 1) % n
		monitoring.AccountRotationsTotal.Inc()
		return tok, 0, nil
	}

	ids := make([]string, 0, n)
	for _, tok := range m.tokens {
		ids = append(ids, tok.AccountID)
	}
	minWait := m.limits.MinWaitSeconds(ids)
	return nil, 0, errors.Newf(errors.KindAccountError, "all accounts limited, retry in %ds", minWait).
		WithRetryAfter(minWait)
}

func (m *Manager) findLocked(accountID string) *ProxyToken {
	for _, tok := range m.tokens {
		if tok.AccountID == accountID {
			return tok
		}
	}
	return nil
}

// prepare makes the chosen token servable: refreshes it when it expires
// within the refresh-ahead window and resolves its project id on first use.
func (m *Manager) prepare(ctx context.Context, tok *ProxyToken) (Token, error) {
	m.mu.Lock()
	creds := oauth.Credentials{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.ExpiresAt,
	}
	m.mu.Unlock()

	if creds.ExpiringWithin(m.now(), constants.RefreshAheadWindow) {
		if err := m.refresh(ctx, tok); err != nil {
			return Token{}, err
		}
	}

	m.mu.Lock()
	issued := Token{
		AccountID:   tok.AccountID,
		Email:       tok.Email,
		AccessToken: tok.AccessToken,
		ProjectID:   tok.ProjectID,
	}
	m.mu.Unlock()

	if issued.ProjectID == "" {
		issued.ProjectID = m.resolveProject(ctx, tok, issued.AccessToken)
	}
	return issued, nil
}

// refresh renews the access token through the single-flight group so
// concurrent requests for the same account share one grant.
func (m *Manager) refresh(ctx context.Context, tok *ProxyToken) error {
	return m.refreshes.Do(ctx, tok.AccountID, func(ctx context.Context) error {
		m.mu.Lock()
		creds := oauth.Credentials{
			AccessToken:  tok.AccessToken,
			RefreshToken: tok.RefreshToken,
			ExpiresAt:    tok.ExpiresAt,
		}
		email := tok.Email
		m.mu.Unlock()

		// A flight that finished while we queued may have renewed it already.
		if !creds.ExpiringWithin(m.now(), constants.RefreshAheadWindow) {
			return nil
		}
		if creds.RefreshToken == "" {
			return errors.New(errors.KindAccountError, "account has no refresh token")
		}

		if err := m.oauth.RefreshToken(ctx, &creds); err != nil {
			monitoring.AccountRefreshesTotal.WithLabelValues("error").Inc()
			return errors.Wrap(errors.KindAccountError, "token refresh failed", err)
		}
		monitoring.AccountRefreshesTotal.WithLabelValues("ok").Inc()

		m.mu.Lock()
		tok.AccessToken = creds.AccessToken
		tok.RefreshToken = creds.RefreshToken
		tok.ExpiresAt = creds.ExpiresAt
		m.mu.Unlock()

		if err := m.store.UpdateAccountTokens(ctx, tok.AccountID, creds.AccessToken, creds.RefreshToken, creds.ExpiresAt); err != nil {
			log.WithError(err).WithField("email", email).Warn("persisting refreshed token failed")
		}
		if email == "" {
			m.backfillProfile(ctx, tok, creds.AccessToken)
		}
		log.WithField("email", email).Debug("access token refreshed")
		return nil
	})
}

// backfillProfile fills in identity fields for accounts imported with bare
// tokens. Best effort; the pool works without an email.
func (m *Manager) backfillProfile(ctx context.Context, tok *ProxyToken, accessToken string) {
	profile, err := m.oauth.GetUserProfile(ctx, accessToken)
	if err != nil {
		log.WithError(err).Warn("userinfo lookup failed")
		return
	}
	m.mu.Lock()
	tok.Email = profile.Email
	tok.DisplayName = profile.Name
	m.mu.Unlock()
	if err := m.store.UpdateAccountProfile(ctx, tok.AccountID, profile.Email, profile.Name, profile.Picture); err != nil {
		log.WithError(err).Warn("persisting account profile failed")
	}
}

// resolveProject fetches the cloud project for the account on first use. On
// failure it synthesizes a throwaway id so the request can still go out, and
// leaves the token unset so the next request retries the lookup.
func (m *Manager) resolveProject(ctx context.Context, tok *ProxyToken, accessToken string) string {
	if m.projects == nil {
		return fmt.Sprintf("fallback-%d", m.now().UnixMilli())
	}
	info, err := m.projects.FetchProject(ctx, accessToken)
	if err != nil || info.ProjectID == "" {
		log.WithError(err).WithField("email", tok.Email).Warn("project lookup failed, using synthetic project id")
		return fmt.Sprintf("fallback-%d", m.now().UnixMilli())
	}
	m.storeProject(tok, info)
	return info.ProjectID
}

// storeProject caches the learned project id and tier. A tier change re-sorts
// the pool; the cursor follows the token it pointed at so rotation order is
// preserved.
func (m *Manager) storeProject(tok *ProxyToken, info ProjectInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tok.ProjectID = info.ProjectID
	if info.Tier == "" || info.Tier == tok.Tier {
		return
	}
	tok.Tier = info.Tier
	if len(m.tokens) == 0 {
		return
	}
	next := m.tokens[m.cursor%len(m.tokens)]
	sortByTier(m.tokens)
	for i, t := range m.tokens {
		if t == next {
			m.cursor = i
			break
		}
	}
}

func (m *Manager) dropHot(accountID string) {
	m.mu.Lock()
	if m.hot != nil && m.hot.accountID == accountID {
		m.hot = nil
	}
	m.mu.Unlock()
}

// MarkRateLimited records an upstream cooldown for the account. The
// identifier may be an account id or an email; unknown identifiers are
// recorded as-is so the cooldown still takes effect.
func (m *Manager) MarkRateLimited(identifier string, status int, retryAfterHeader, body string) {
	rec := m.limits.Mark(m.resolveID(identifier), status, retryAfterHeader, body)
	log.WithFields(log.Fields{
		"account": identifier,
		"status":  status,
		"until":   rec.Until.Format(time.RFC3339),
	}).Warn("account rate limited")
}

func (m *Manager) resolveID(identifier string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, tok := range m.tokens {
		if tok.AccountID == identifier || (tok.Email != "" && tok.Email == identifier) {
			return tok.AccountID
		}
	}
	return identifier
}

// Size returns the number of pooled accounts.
func (m *Manager) Size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tokens)
}

// AvailableCount returns pooled accounts not currently cooling down.
func (m *Manager) AvailableCount() int {
	m.mu.Lock()
	ids := make([]string, 0, len(m.tokens))
	for _, tok := range m.tokens {
		ids = append(ids, tok.AccountID)
	}
	m.mu.Unlock()

	n := 0
	for _, id := range ids {
		if !m.limits.IsRateLimited(id) {
			n++
		}
	}
	return n
}

// AccountView is a redacted pool row for health and admin surfaces.
type AccountView struct {
	AccountID       string    `json:"accountId"`
	Email           string    `json:"email"`
	Tier            string    `json:"tier,omitempty"`
	ProjectID       string    `json:"projectId,omitempty"`
	ExpiresAt       time.Time `json:"expiresAt"`
	RateLimited     bool      `json:"rateLimited"`
	CooldownSeconds int       `json:"cooldownSeconds,omitempty"`
}

// Snapshot returns the pool in rotation order without secrets.
func (m *Manager) Snapshot() []AccountView {
	m.mu.Lock()
	views := make([]AccountView, len(m.tokens))
	for i, tok := range m.tokens {
		views[i] = AccountView{
			AccountID: tok.AccountID,
			Email:     tok.Email,
			Tier:      tok.Tier,
			ProjectID: tok.ProjectID,
			ExpiresAt: tok.ExpiresAt,
		}
	}
	m.mu.Unlock()

	for i := range views {
		views[i].CooldownSeconds = m.limits.RemainingSeconds(views[i].AccountID)
		views[i].RateLimited = views[i].CooldownSeconds > 0
	}
	return views
}

// Warmup refreshes near-expiry tokens ahead of traffic so first requests do
// not pay refresh latency. Failures are logged and skipped.
func (m *Manager) Warmup(ctx context.Context, concurrency int) {
	if concurrency <= 0 {
		concurrency = 4
	}
	m.mu.Lock()
	tokens := append([]*ProxyToken(nil), m.tokens...)
	m.mu.Unlock()

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, tok := range tokens {
		tok := tok
		m.mu.Lock()
		creds := oauth.Credentials{
			AccessToken:  tok.AccessToken,
			RefreshToken: tok.RefreshToken,
			ExpiresAt:    tok.ExpiresAt,
		}
		email := tok.Email
		m.mu.Unlock()
		if !creds.ExpiringWithin(m.now(), constants.RefreshAheadWindow) {
			continue
		}
		g.Go(func() error {
			if err := m.refresh(ctx, tok); err != nil {
				log.WithError(err).WithField("email", email).Warn("warmup refresh failed")
			}
			return nil
		})
	}
	_ = g.Wait()
}
