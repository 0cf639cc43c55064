package storage

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"ag2api-go/internal/config"
	"ag2api-go/internal/monitoring"
	"ag2api-go/internal/monitoring/tracing"
)

// WithInstrumentation wraps a store with tracing spans and latency metrics.
func WithInstrumentation(inner Store) Store {
	if inner == nil {
		return nil
	}
	return &instrumentedStore{inner: inner, label: inner.Backend()}
}

type instrumentedStore struct {
	inner Store
	label string
}

func (i *instrumentedStore) instrument(ctx context.Context, op string, fn func(context.Context) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, span := tracing.StartSpan(ctx, "storage", i.label+"/"+op)
	span.SetAttributes(
		attribute.String("storage.backend", i.label),
		attribute.String("storage.operation", op),
	)
	start := time.Now()
	err := fn(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()

	status := "ok"
	if err != nil {
		status = "error"
	}
	monitoring.StoreOpDuration.WithLabelValues(i.label, op, status).
		Observe(time.Since(start).Seconds())
	return err
}

func (i *instrumentedStore) Backend() string { return i.inner.Backend() }

func (i *instrumentedStore) Init(ctx context.Context) error {
	return i.instrument(ctx, "init", i.inner.Init)
}

func (i *instrumentedStore) Close() error {
	return i.inner.Close()
}

func (i *instrumentedStore) Health(ctx context.Context) error {
	return i.instrument(ctx, "health", i.inner.Health)
}

func (i *instrumentedStore) ListAccounts(ctx context.Context) ([]Account, error) {
	var result []Account
	err := i.instrument(ctx, "list_accounts", func(ctx context.Context) error {
		var innerErr error
		result, innerErr = i.inner.ListAccounts(ctx)
		return innerErr
	})
	return result, err
}

func (i *instrumentedStore) ListActiveAccounts(ctx context.Context) ([]Account, error) {
	var result []Account
	err := i.instrument(ctx, "list_active_accounts", func(ctx context.Context) error {
		var innerErr error
		result, innerErr = i.inner.ListActiveAccounts(ctx)
		return innerErr
	})
	return result, err
}

func (i *instrumentedStore) GetAccount(ctx context.Context, id string) (*Account, error) {
	var result *Account
	err := i.instrument(ctx, "get_account", func(ctx context.Context) error {
		var innerErr error
		result, innerErr = i.inner.GetAccount(ctx, id)
		return innerErr
	})
	return result, err
}

func (i *instrumentedStore) GetAccountByEmail(ctx context.Context, email string) (*Account, error) {
	var result *Account
	err := i.instrument(ctx, "get_account_by_email", func(ctx context.Context) error {
		var innerErr error
		result, innerErr = i.inner.GetAccountByEmail(ctx, email)
		return innerErr
	})
	return result, err
}

func (i *instrumentedStore) UpsertAccount(ctx context.Context, account *Account) error {
	return i.instrument(ctx, "upsert_account", func(ctx context.Context) error {
		return i.inner.UpsertAccount(ctx, account)
	})
}

func (i *instrumentedStore) UpdateAccountTokens(ctx context.Context, id, accessToken, refreshToken string, expiresAt time.Time) error {
	return i.instrument(ctx, "update_account_tokens", func(ctx context.Context) error {
		return i.inner.UpdateAccountTokens(ctx, id, accessToken, refreshToken, expiresAt)
	})
}

func (i *instrumentedStore) UpdateAccountProfile(ctx context.Context, id, email, displayName, photoURL string) error {
	return i.instrument(ctx, "update_account_profile", func(ctx context.Context) error {
		return i.inner.UpdateAccountProfile(ctx, id, email, displayName, photoURL)
	})
}

func (i *instrumentedStore) SetAccountActive(ctx context.Context, id string, active bool) error {
	return i.instrument(ctx, "set_account_active", func(ctx context.Context) error {
		return i.inner.SetAccountActive(ctx, id, active)
	})
}

func (i *instrumentedStore) DeleteAccount(ctx context.Context, id string) error {
	return i.instrument(ctx, "delete_account", func(ctx context.Context) error {
		return i.inner.DeleteAccount(ctx, id)
	})
}

func (i *instrumentedStore) GetCurrentAccountID(ctx context.Context) (string, error) {
	var result string
	err := i.instrument(ctx, "get_current_account", func(ctx context.Context) error {
		var innerErr error
		result, innerErr = i.inner.GetCurrentAccountID(ctx)
		return innerErr
	})
	return result, err
}

func (i *instrumentedStore) SetCurrentAccountID(ctx context.Context, id string) error {
	return i.instrument(ctx, "set_current_account", func(ctx context.Context) error {
		return i.inner.SetCurrentAccountID(ctx, id)
	})
}

func (i *instrumentedStore) GetProxyConfig(ctx context.Context) (*config.ProxyConfig, error) {
	var result *config.ProxyConfig
	err := i.instrument(ctx, "get_proxy_config", func(ctx context.Context) error {
		var innerErr error
		result, innerErr = i.inner.GetProxyConfig(ctx)
		return innerErr
	})
	return result, err
}

func (i *instrumentedStore) SetProxyConfig(ctx context.Context, cfg *config.ProxyConfig) error {
	return i.instrument(ctx, "set_proxy_config", func(ctx context.Context) error {
		return i.inner.SetProxyConfig(ctx, cfg)
	})
}

func (i *instrumentedStore) InsertMonitorLog(ctx context.Context, entry *MonitorLog) error {
	return i.instrument(ctx, "insert_monitor_log", func(ctx context.Context) error {
		return i.inner.InsertMonitorLog(ctx, entry)
	})
}

func (i *instrumentedStore) ListMonitorLogs(ctx context.Context, limit int) ([]MonitorLog, error) {
	var result []MonitorLog
	err := i.instrument(ctx, "list_monitor_logs", func(ctx context.Context) error {
		var innerErr error
		result, innerErr = i.inner.ListMonitorLogs(ctx, limit)
		return innerErr
	})
	return result, err
}

func (i *instrumentedStore) PruneMonitorLogs(ctx context.Context, before time.Time) (int64, error) {
	var result int64
	err := i.instrument(ctx, "prune_monitor_logs", func(ctx context.Context) error {
		var innerErr error
		result, innerErr = i.inner.PruneMonitorLogs(ctx, before)
		return innerErr
	})
	return result, err
}

func (i *instrumentedStore) Stats(ctx context.Context) (Stats, error) {
	var result Stats
	err := i.instrument(ctx, "stats", func(ctx context.Context) error {
		var innerErr error
		result, innerErr = i.inner.Stats(ctx)
		return innerErr
	})
	return result, err
}
