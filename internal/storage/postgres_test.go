package storage

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockPostgresStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	store := newPostgresStoreFromDB(db)
	t.Cleanup(func() { _ = store.Close() })
	return store, mock
}

var pgAccountRowColumns = []string{
	"id", "email", "display_name", "photo_url", "access_token", "refresh_token",
	"expires_at", "is_active", "sort_order", "created_at", "updated_at",
}

func TestPostgresStore_GetAccount(t *testing.T) {
	store, mock := newMockPostgresStore(t)
	ctx := context.Background()

	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	expires := created.Add(time.Hour)
	mock.ExpectQuery(`SELECT .+ FROM accounts WHERE id = \$1`).
		WithArgs("acct-1").
		WillReturnRows(sqlmock.NewRows(pgAccountRowColumns).
			AddRow("acct-1", "one@example.com", "One", "pic", "tok", "ref",
				expires, true, 0, created, created))

	got, err := store.GetAccount(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, "one@example.com", got.Email)
	assert.True(t, expires.Equal(got.ExpiresAt))
	assert.True(t, got.IsActive)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetAccountNullExpiry(t *testing.T) {
	store, mock := newMockPostgresStore(t)

	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	mock.ExpectQuery(`SELECT .+ FROM accounts WHERE id = \$1`).
		WithArgs("acct-1").
		WillReturnRows(sqlmock.NewRows(pgAccountRowColumns).
			AddRow("acct-1", "one@example.com", "", "", "", "ref",
				nil, true, 0, created, created))

	got, err := store.GetAccount(context.Background(), "acct-1")
	require.NoError(t, err)
	assert.True(t, got.ExpiresAt.IsZero())

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetAccountNotFound(t *testing.T) {
	store, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT .+ FROM accounts WHERE id = \$1`).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := store.GetAccount(context.Background(), "missing")
	assert.True(t, IsNotFound(err))

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateAccountTokens(t *testing.T) {
	store, mock := newMockPostgresStore(t)
	expiry := time.Date(2026, 1, 2, 4, 4, 5, 0, time.UTC)

	t.Run("row updated", func(t *testing.T) {
		mock.ExpectExec(`UPDATE accounts SET access_token = \$1`).
			WithArgs("tok", "ref", expiry, sqlmock.AnyArg(), "acct-1").
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, store.UpdateAccountTokens(context.Background(), "acct-1", "tok", "ref", expiry))
	})

	t.Run("missing row maps to ErrNotFound", func(t *testing.T) {
		mock.ExpectExec(`UPDATE accounts SET access_token = \$1`).
			WithArgs("tok", "ref", expiry, sqlmock.AnyArg(), "missing").
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := store.UpdateAccountTokens(context.Background(), "missing", "tok", "ref", expiry)
		assert.True(t, IsNotFound(err))
	})

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_DeleteAccountClearsCurrent(t *testing.T) {
	store, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM current_account WHERE account_id = $1`)).
		WithArgs("acct-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM accounts WHERE id = $1`)).
		WithArgs("acct-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, store.DeleteAccount(context.Background(), "acct-1"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetCurrentAccountIDUnset(t *testing.T) {
	store, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT account_id FROM current_account`).
		WillReturnError(sql.ErrNoRows)

	id, err := store.GetCurrentAccountID(context.Background())
	require.NoError(t, err)
	assert.Empty(t, id)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetProxyConfigDecodesJSONColumns(t *testing.T) {
	store, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT api_key, scheduling_mode`).
		WillReturnRows(sqlmock.NewRows([]string{
			"api_key", "scheduling_mode", "session_stickiness", "max_wait_seconds",
			"session_ttl_seconds", "allowed_models", "model_mappings", "anthropic",
		}).AddRow(
			"sk-test", "cache-first", true, 90, 1800,
			`["gemini-3-flash"]`,
			`{"custom":{"alias":"gemini-3-pro-high"}}`,
			`{"enabled":true,"dispatchMode":"fallback"}`,
		))

	cfg, err := store.GetProxyConfig(context.Background())
	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.Equal(t, "sk-test", cfg.APIKey)
	assert.Equal(t, "cache-first", string(cfg.SchedulingMode))
	assert.Equal(t, []string{"gemini-3-flash"}, cfg.AllowedModels)
	assert.Equal(t, "gemini-3-pro-high", cfg.ModelMappings.Custom["alias"])
	assert.True(t, cfg.Anthropic.Enabled)
	assert.Equal(t, "fallback", cfg.Anthropic.DispatchMode)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetProxyConfigUnset(t *testing.T) {
	store, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT api_key, scheduling_mode`).
		WillReturnError(sql.ErrNoRows)

	cfg, err := store.GetProxyConfig(context.Background())
	require.NoError(t, err)
	assert.Nil(t, cfg)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_InsertMonitorLogReturnsID(t *testing.T) {
	store, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`INSERT INTO proxy_monitor_logs`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(42)))

	entry := &MonitorLog{
		Timestamp:  time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Method:     "POST",
		Path:       "/v1/messages",
		StatusCode: 200,
	}
	require.NoError(t, store.InsertMonitorLog(context.Background(), entry))
	assert.Equal(t, int64(42), entry.ID)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListMonitorLogsHandlesNulls(t *testing.T) {
	store, mock := newMockPostgresStore(t)

	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	mock.ExpectQuery(`SELECT id, timestamp, method, path`).
		WithArgs(100).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "timestamp", "method", "path", "status_code", "latency_ms",
			"account_email", "model", "input_tokens", "output_tokens", "error_message",
		}).AddRow(int64(1), ts, "GET", "/v1/models", 200, int64(3),
			nil, nil, nil, nil, nil))

	logs, err := store.ListMonitorLogs(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Empty(t, logs[0].AccountEmail)
	assert.Zero(t, logs[0].InputTokens)
	assert.Equal(t, "/v1/models", logs[0].Path)

	require.NoError(t, mock.ExpectationsWereMet())
}
