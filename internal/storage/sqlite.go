package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"ag2api-go/internal/config"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS accounts (
    id            TEXT PRIMARY KEY,
    email         TEXT NOT NULL UNIQUE,
    display_name  TEXT NOT NULL DEFAULT '',
    photo_url     TEXT NOT NULL DEFAULT '',
    access_token  TEXT NOT NULL DEFAULT '',
    refresh_token TEXT NOT NULL,
    expires_at    INTEGER NOT NULL DEFAULT 0,
    is_active     INTEGER NOT NULL DEFAULT 1,
    sort_order    INTEGER NOT NULL DEFAULT 0,
    created_at    INTEGER NOT NULL,
    updated_at    INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS current_account (
    id         INTEGER PRIMARY KEY CHECK (id = 1),
    account_id TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS proxy_config (
    id                  INTEGER PRIMARY KEY CHECK (id = 1),
    api_key             TEXT NOT NULL DEFAULT '',
    scheduling_mode     TEXT NOT NULL DEFAULT 'balanced',
    session_stickiness  INTEGER NOT NULL DEFAULT 1,
    max_wait_seconds    INTEGER NOT NULL DEFAULT 60,
    session_ttl_seconds INTEGER NOT NULL DEFAULT 3600,
    allowed_models      TEXT NOT NULL DEFAULT '[]',
    model_mappings      TEXT NOT NULL DEFAULT '{}',
    anthropic           TEXT NOT NULL DEFAULT '{}',
    created_at          INTEGER NOT NULL,
    updated_at          INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS proxy_monitor_logs (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    timestamp     INTEGER NOT NULL,
    method        TEXT NOT NULL,
    path          TEXT NOT NULL,
    status_code   INTEGER NOT NULL,
    latency_ms    INTEGER NOT NULL DEFAULT 0,
    account_email TEXT NOT NULL DEFAULT '',
    model         TEXT NOT NULL DEFAULT '',
    input_tokens  INTEGER NOT NULL DEFAULT 0,
    output_tokens INTEGER NOT NULL DEFAULT 0,
    error_message TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_accounts_active_order ON accounts (is_active, sort_order, id);
CREATE INDEX IF NOT EXISTS idx_monitor_logs_timestamp ON proxy_monitor_logs (timestamp);
`

// SQLiteStore is the default single-file store.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore opens (or creates) the database at path. ":memory:" yields
// an ephemeral store for tests.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is empty")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection serializes writers and keeps :memory: databases alive.
	db.SetMaxOpenConns(1)
	return &SQLiteStore{db: db, now: time.Now}, nil
}

func (s *SQLiteStore) Backend() string { return "sqlite" }

func (s *SQLiteStore) Init(ctx context.Context) error {
	ctx, cancel := opContext(ctx)
	defer cancel()
	if _, err := s.db.ExecContext(ctx, sqliteSchema); err != nil {
		return fmt.Errorf("apply sqlite schema: %w", err)
	}
	log.Info("Connected to sqlite storage backend")
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Health(ctx context.Context) error {
	ctx, cancel := opContext(ctx)
	defer cancel()
	return s.db.PingContext(ctx)
}

const sqliteAccountColumns = `id, email, display_name, photo_url, access_token, refresh_token,
    expires_at, is_active, sort_order, created_at, updated_at`

func scanSQLiteAccount(row interface{ Scan(...any) error }) (*Account, error) {
	var a Account
	var expiresMs, createdMs, updatedMs int64
	if err := row.Scan(&a.ID, &a.Email, &a.DisplayName, &a.PhotoURL, &a.AccessToken,
		&a.RefreshToken, &expiresMs, &a.IsActive, &a.SortOrder, &createdMs, &updatedMs); err != nil {
		return nil, err
	}
	a.ExpiresAt = msToTime(expiresMs)
	a.CreatedAt = msToTime(createdMs)
	a.UpdatedAt = msToTime(updatedMs)
	return &a, nil
}

func (s *SQLiteStore) listAccounts(ctx context.Context, query string, args ...any) ([]Account, error) {
	ctx, cancel := opContext(ctx)
	defer cancel()
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []Account
	for rows.Next() {
		a, err := scanSQLiteAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		accounts = append(accounts, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("account rows: %w", err)
	}
	return accounts, nil
}

func (s *SQLiteStore) ListAccounts(ctx context.Context) ([]Account, error) {
	return s.listAccounts(ctx,
		`SELECT `+sqliteAccountColumns+` FROM accounts ORDER BY sort_order, id`)
}

func (s *SQLiteStore) ListActiveAccounts(ctx context.Context) ([]Account, error) {
	return s.listAccounts(ctx,
		`SELECT `+sqliteAccountColumns+` FROM accounts WHERE is_active = 1 ORDER BY sort_order, id`)
}

func (s *SQLiteStore) GetAccount(ctx context.Context, id string) (*Account, error) {
	ctx, cancel := opContext(ctx)
	defer cancel()
	a, err := scanSQLiteAccount(s.db.QueryRowContext(ctx,
		`SELECT `+sqliteAccountColumns+` FROM accounts WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &ErrNotFound{Key: id}
	}
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	return a, nil
}

func (s *SQLiteStore) GetAccountByEmail(ctx context.Context, email string) (*Account, error) {
	ctx, cancel := opContext(ctx)
	defer cancel()
	a, err := scanSQLiteAccount(s.db.QueryRowContext(ctx,
		`SELECT `+sqliteAccountColumns+` FROM accounts WHERE email = ?`, email))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &ErrNotFound{Key: email}
	}
	if err != nil {
		return nil, fmt.Errorf("get account by email: %w", err)
	}
	return a, nil
}

func (s *SQLiteStore) UpsertAccount(ctx context.Context, account *Account) error {
	if account == nil || account.ID == "" {
		return fmt.Errorf("account id is required")
	}
	ctx, cancel := opContext(ctx)
	defer cancel()

	now := s.now()
	created := account.CreatedAt
	if created.IsZero() {
		created = now
	}
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO accounts (`+sqliteAccountColumns+`)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT (id) DO UPDATE SET
            email = excluded.email,
            display_name = excluded.display_name,
            photo_url = excluded.photo_url,
            access_token = excluded.access_token,
            refresh_token = excluded.refresh_token,
            expires_at = excluded.expires_at,
            is_active = excluded.is_active,
            sort_order = excluded.sort_order,
            updated_at = excluded.updated_at`,
		account.ID, account.Email, account.DisplayName, account.PhotoURL,
		account.AccessToken, account.RefreshToken, timeToMs(account.ExpiresAt),
		account.IsActive, account.SortOrder, timeToMs(created), timeToMs(now))
	if err != nil {
		return fmt.Errorf("upsert account: %w", err)
	}
	return nil
}

func (s *SQLiteStore) UpdateAccountTokens(ctx context.Context, id, accessToken, refreshToken string, expiresAt time.Time) error {
	ctx, cancel := opContext(ctx)
	defer cancel()
	res, err := s.db.ExecContext(ctx, `
        UPDATE accounts SET access_token = ?, refresh_token = ?, expires_at = ?, updated_at = ?
        WHERE id = ?`,
		accessToken, refreshToken, timeToMs(expiresAt), timeToMs(s.now()), id)
	if err != nil {
		return fmt.Errorf("update account tokens: %w", err)
	}
	return requireRow(res, id)
}

func (s *SQLiteStore) UpdateAccountProfile(ctx context.Context, id, email, displayName, photoURL string) error {
	ctx, cancel := opContext(ctx)
	defer cancel()
	res, err := s.db.ExecContext(ctx, `
        UPDATE accounts SET email = ?, display_name = ?, photo_url = ?, updated_at = ?
        WHERE id = ?`,
		email, displayName, photoURL, timeToMs(s.now()), id)
	if err != nil {
		return fmt.Errorf("update account profile: %w", err)
	}
	return requireRow(res, id)
}

func (s *SQLiteStore) SetAccountActive(ctx context.Context, id string, active bool) error {
	ctx, cancel := opContext(ctx)
	defer cancel()
	res, err := s.db.ExecContext(ctx,
		`UPDATE accounts SET is_active = ?, updated_at = ? WHERE id = ?`,
		active, timeToMs(s.now()), id)
	if err != nil {
		return fmt.Errorf("set account active: %w", err)
	}
	return requireRow(res, id)
}

func (s *SQLiteStore) DeleteAccount(ctx context.Context, id string) error {
	ctx, cancel := opContext(ctx)
	defer cancel()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete account: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM accounts WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete account: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM current_account WHERE account_id = ?`, id); err != nil {
		return fmt.Errorf("clear current account: %w", err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) GetCurrentAccountID(ctx context.Context) (string, error) {
	ctx, cancel := opContext(ctx)
	defer cancel()
	var id string
	err := s.db.QueryRowContext(ctx, `SELECT account_id FROM current_account WHERE id = 1`).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get current account: %w", err)
	}
	return id, nil
}

func (s *SQLiteStore) SetCurrentAccountID(ctx context.Context, id string) error {
	ctx, cancel := opContext(ctx)
	defer cancel()
	if id == "" {
		_, err := s.db.ExecContext(ctx, `DELETE FROM current_account WHERE id = 1`)
		return err
	}
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO current_account (id, account_id) VALUES (1, ?)
        ON CONFLICT (id) DO UPDATE SET account_id = excluded.account_id`, id)
	if err != nil {
		return fmt.Errorf("set current account: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetProxyConfig(ctx context.Context) (*config.ProxyConfig, error) {
	ctx, cancel := opContext(ctx)
	defer cancel()
	var (
		cfg                          config.ProxyConfig
		mode                         string
		allowed, mappings, anthropic string
	)
	err := s.db.QueryRowContext(ctx, `
        SELECT api_key, scheduling_mode, session_stickiness, max_wait_seconds,
               session_ttl_seconds, allowed_models, model_mappings, anthropic
        FROM proxy_config WHERE id = 1`).Scan(
		&cfg.APIKey, &mode, &cfg.SessionStickiness, &cfg.MaxWaitSeconds,
		&cfg.SessionTTLSeconds, &allowed, &mappings, &anthropic)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get proxy config: %w", err)
	}
	cfg.SchedulingMode = config.ParseSchedulingMode(mode)
	if err := decodeProxyConfigJSON(&cfg, allowed, mappings, anthropic); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (s *SQLiteStore) SetProxyConfig(ctx context.Context, cfg *config.ProxyConfig) error {
	if cfg == nil {
		return fmt.Errorf("proxy config is nil")
	}
	allowed, mappings, anthropic, err := encodeProxyConfigJSON(cfg)
	if err != nil {
		return err
	}
	ctx, cancel := opContext(ctx)
	defer cancel()
	nowMs := timeToMs(s.now())
	_, err = s.db.ExecContext(ctx, `
        INSERT INTO proxy_config (id, api_key, scheduling_mode, session_stickiness,
            max_wait_seconds, session_ttl_seconds, allowed_models, model_mappings,
            anthropic, created_at, updated_at)
        VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT (id) DO UPDATE SET
            api_key = excluded.api_key,
            scheduling_mode = excluded.scheduling_mode,
            session_stickiness = excluded.session_stickiness,
            max_wait_seconds = excluded.max_wait_seconds,
            session_ttl_seconds = excluded.session_ttl_seconds,
            allowed_models = excluded.allowed_models,
            model_mappings = excluded.model_mappings,
            anthropic = excluded.anthropic,
            updated_at = excluded.updated_at`,
		cfg.APIKey, string(cfg.SchedulingMode), cfg.SessionStickiness,
		cfg.MaxWaitSeconds, cfg.SessionTTLSeconds, allowed, mappings, anthropic,
		nowMs, nowMs)
	if err != nil {
		return fmt.Errorf("set proxy config: %w", err)
	}
	return nil
}

func (s *SQLiteStore) InsertMonitorLog(ctx context.Context, entry *MonitorLog) error {
	if entry == nil {
		return fmt.Errorf("monitor log is nil")
	}
	ctx, cancel := opContext(ctx)
	defer cancel()
	ts := entry.Timestamp
	if ts.IsZero() {
		ts = s.now()
	}
	res, err := s.db.ExecContext(ctx, `
        INSERT INTO proxy_monitor_logs (timestamp, method, path, status_code, latency_ms,
            account_email, model, input_tokens, output_tokens, error_message)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		timeToMs(ts), entry.Method, entry.Path, entry.StatusCode, entry.LatencyMS,
		entry.AccountEmail, entry.Model, entry.InputTokens, entry.OutputTokens, entry.ErrorMessage)
	if err != nil {
		return fmt.Errorf("insert monitor log: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		entry.ID = id
	}
	return nil
}

func (s *SQLiteStore) ListMonitorLogs(ctx context.Context, limit int) ([]MonitorLog, error) {
	if limit <= 0 {
		limit = 100
	}
	ctx, cancel := opContext(ctx)
	defer cancel()
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, timestamp, method, path, status_code, latency_ms,
               account_email, model, input_tokens, output_tokens, error_message
        FROM proxy_monitor_logs ORDER BY timestamp DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list monitor logs: %w", err)
	}
	defer rows.Close()

	var logs []MonitorLog
	for rows.Next() {
		var entry MonitorLog
		var ts int64
		if err := rows.Scan(&entry.ID, &ts, &entry.Method, &entry.Path, &entry.StatusCode,
			&entry.LatencyMS, &entry.AccountEmail, &entry.Model, &entry.InputTokens,
			&entry.OutputTokens, &entry.ErrorMessage); err != nil {
			return nil, fmt.Errorf("scan monitor log: %w", err)
		}
		entry.Timestamp = msToTime(ts)
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("monitor log rows: %w", err)
	}
	return logs, nil
}

func (s *SQLiteStore) PruneMonitorLogs(ctx context.Context, before time.Time) (int64, error) {
	ctx, cancel := opContext(ctx)
	defer cancel()
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM proxy_monitor_logs WHERE timestamp < ?`, timeToMs(before))
	if err != nil {
		return 0, fmt.Errorf("prune monitor logs: %w", err)
	}
	return res.RowsAffected()
}

func (s *SQLiteStore) Stats(ctx context.Context) (Stats, error) {
	stats := Stats{Backend: s.Backend()}
	ctx, cancel := opContext(ctx)
	defer cancel()
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM accounts`).Scan(&stats.AccountCount); err != nil {
		return stats, fmt.Errorf("count accounts: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM proxy_monitor_logs`).Scan(&stats.MonitorLogCount); err != nil {
		return stats, fmt.Errorf("count monitor logs: %w", err)
	}
	stats.Healthy = true
	return stats, nil
}

func requireRow(res sql.Result, key string) error {
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return &ErrNotFound{Key: key}
	}
	return nil
}

func msToTime(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func timeToMs(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}
