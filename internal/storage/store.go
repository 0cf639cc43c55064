package storage

import (
	"context"
	"errors"
	"time"

	"ag2api-go/internal/config"
)

const opTimeout = 5 * time.Second

// Account is one pool member's persisted row.
type Account struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	DisplayName  string    `json:"displayName,omitempty"`
	PhotoURL     string    `json:"photoUrl,omitempty"`
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken"`
	ExpiresAt    time.Time `json:"expiresAt"`
	IsActive     bool      `json:"isActive"`
	SortOrder    int       `json:"sortOrder"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// MonitorLog is one request observation written by the monitor middleware.
type MonitorLog struct {
	ID           int64     `json:"id"`
	Timestamp    time.Time `json:"timestamp"`
	Method       string    `json:"method"`
	Path         string    `json:"path"`
	StatusCode   int       `json:"statusCode"`
	LatencyMS    int64     `json:"latencyMs"`
	AccountEmail string    `json:"accountEmail,omitempty"`
	Model        string    `json:"model,omitempty"`
	InputTokens  int64     `json:"inputTokens,omitempty"`
	OutputTokens int64     `json:"outputTokens,omitempty"`
	ErrorMessage string    `json:"errorMessage,omitempty"`
}

// Stats summarizes a backend for the health surface.
type Stats struct {
	Backend         string `json:"backend"`
	Healthy         bool   `json:"healthy"`
	AccountCount    int    `json:"accountCount"`
	MonitorLogCount int    `json:"monitorLogCount"`
}

// Store is the persistence contract: the account pool, the round-robin seed,
// the proxy config singleton, and the request monitor log.
type Store interface {
	Init(ctx context.Context) error
	Close() error
	Health(ctx context.Context) error
	Backend() string

	ListAccounts(ctx context.Context) ([]Account, error)
	ListActiveAccounts(ctx context.Context) ([]Account, error)
	GetAccount(ctx context.Context, id string) (*Account, error)
	GetAccountByEmail(ctx context.Context, email string) (*Account, error)
	UpsertAccount(ctx context.Context, account *Account) error
	UpdateAccountTokens(ctx context.Context, id, accessToken, refreshToken string, expiresAt time.Time) error
	UpdateAccountProfile(ctx context.Context, id, email, displayName, photoURL string) error
	SetAccountActive(ctx context.Context, id string, active bool) error
	DeleteAccount(ctx context.Context, id string) error

	GetCurrentAccountID(ctx context.Context) (string, error)
	SetCurrentAccountID(ctx context.Context, id string) error

	GetProxyConfig(ctx context.Context) (*config.ProxyConfig, error)
	SetProxyConfig(ctx context.Context, cfg *config.ProxyConfig) error

	InsertMonitorLog(ctx context.Context, entry *MonitorLog) error
	ListMonitorLogs(ctx context.Context, limit int) ([]MonitorLog, error)
	PruneMonitorLogs(ctx context.Context, before time.Time) (int64, error)

	Stats(ctx context.Context) (Stats, error)
}

// ErrNotFound is returned when a row does not exist.
type ErrNotFound struct {
	Key string
}

func (e *ErrNotFound) Error() string {
	return "not found: " + e.Key
}

// IsNotFound reports whether err is a missing-row error.
func IsNotFound(err error) bool {
	var target *ErrNotFound
	return errors.As(err, &target)
}

func opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, opTimeout)
}
