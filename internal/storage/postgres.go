package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	log "github.com/sirupsen/logrus"

	"ag2api-go/internal/config"
	"ag2api-go/internal/migrations"
)

// PostgresStore backs the pool with a shared PostgreSQL database. Schema is
// managed by embedded migrations.
type PostgresStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres dsn is empty")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	return &PostgresStore{db: db, now: time.Now}, nil
}

func newPostgresStoreFromDB(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, now: time.Now}
}

func (s *PostgresStore) Backend() string { return "postgres" }

func (s *PostgresStore) Init(ctx context.Context) error {
	pingCtx, cancel := opContext(ctx)
	defer cancel()
	if err := s.db.PingContext(pingCtx); err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	if err := migrations.PostgresUp(s.db); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	log.Info("Connected to postgres storage backend")
	return nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) Health(ctx context.Context) error {
	ctx, cancel := opContext(ctx)
	defer cancel()
	return s.db.PingContext(ctx)
}

const pgAccountColumns = `id, email, display_name, photo_url, access_token, refresh_token,
    expires_at, is_active, sort_order, created_at, updated_at`

func scanPGAccount(row interface{ Scan(...any) error }) (*Account, error) {
	var a Account
	var expires sql.NullTime
	if err := row.Scan(&a.ID, &a.Email, &a.DisplayName, &a.PhotoURL, &a.AccessToken,
		&a.RefreshToken, &expires, &a.IsActive, &a.SortOrder, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	if expires.Valid {
		a.ExpiresAt = expires.Time
	}
	return &a, nil
}

func (s *PostgresStore) listAccounts(ctx context.Context, query string, args ...any) ([]Account, error) {
	ctx, cancel := opContext(ctx)
	defer cancel()
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []Account
	for rows.Next() {
		a, err := scanPGAccount(rows)
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

func (s *PostgresStore) ListAccounts(ctx context.Context) ([]Account, error) {
	return s.listAccounts(ctx,
		`SELECT `+pgAccountColumns+` FROM accounts ORDER BY sort_order, id`)
}

func (s *PostgresStore) ListActiveAccounts(ctx context.Context) ([]Account, error) {
	return s.listAccounts(ctx,
		`SELECT `+pgAccountColumns+` FROM accounts WHERE is_active ORDER BY sort_order, id`)
}

func (s *PostgresStore) GetAccount(ctx context.Context, id string) (*Account, error) {
	ctx, cancel := opContext(ctx)
	defer cancel()
	a, err := scanPGAccount(s.db.QueryRowContext(ctx,
		`SELECT `+pgAccountColumns+` FROM accounts WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &ErrNotFound{Key: id}
	}
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	return a, nil
}

func (s *PostgresStore) GetAccountByEmail(ctx context.Context, email string) (*Account, error) {
	ctx, cancel := opContext(ctx)
	defer cancel()
	a, err := scanPGAccount(s.db.QueryRowContext(ctx,
		`SELECT `+pgAccountColumns+` FROM accounts WHERE email = $1`, email))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &ErrNotFound{Key: email}
	}
	if err != nil {
		return nil, fmt.Errorf("get account by email: %w", err)
	}
	return a, nil
}

func (s *PostgresStore) UpsertAccount(ctx context.Context, account *Account) error {
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
        INSERT INTO accounts (`+pgAccountColumns+`)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
        ON CONFLICT (id) DO UPDATE SET
            email = EXCLUDED.email,
            display_name = EXCLUDED.display_name,
            photo_url = EXCLUDED.photo_url,
            access_token = EXCLUDED.access_token,
            refresh_token = EXCLUDED.refresh_token,
            expires_at = EXCLUDED.expires_at,
            is_active = EXCLUDED.is_active,
            sort_order = EXCLUDED.sort_order,
            updated_at = EXCLUDED.updated_at`,
		account.ID, account.Email, account.DisplayName, account.PhotoURL,
		account.AccessToken, account.RefreshToken, nullTime(account.ExpiresAt),
		account.IsActive, account.SortOrder, created, now)
	if err != nil {
		return fmt.Errorf("upsert account: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateAccountTokens(ctx context.Context, id, accessToken, refreshToken string, expiresAt time.Time) error {
	ctx, cancel := opContext(ctx)
	defer cancel()
	res, err := s.db.ExecContext(ctx, `
        UPDATE accounts SET access_token = $1, refresh_token = $2, expires_at = $3, updated_at = $4
        WHERE id = $5`,
		accessToken, refreshToken, nullTime(expiresAt), s.now(), id)
	if err != nil {
		return fmt.Errorf("update account tokens: %w", err)
	}
	return requireRow(res, id)
}

func (s *PostgresStore) UpdateAccountProfile(ctx context.Context, id, email, displayName, photoURL string) error {
	ctx, cancel := opContext(ctx)
	defer cancel()
	res, err := s.db.ExecContext(ctx, `
        UPDATE accounts SET email = $1, display_name = $2, photo_url = $3, updated_at = $4
        WHERE id = $5`,
		email, displayName, photoURL, s.now(), id)
	if err != nil {
		return fmt.Errorf("update account profile: %w", err)
	}
	return requireRow(res, id)
}

func (s *PostgresStore) SetAccountActive(ctx context.Context, id string, active bool) error {
	ctx, cancel := opContext(ctx)
	defer cancel()
	res, err := s.db.ExecContext(ctx,
		`UPDATE accounts SET is_active = $1, updated_at = $2 WHERE id = $3`,
		active, s.now(), id)
	if err != nil {
		return fmt.Errorf("set account active: %w", err)
	}
	return requireRow(res, id)
}

func (s *PostgresStore) DeleteAccount(ctx context.Context, id string) error {
	ctx, cancel := opContext(ctx)
	defer cancel()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete account: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM current_account WHERE account_id = $1`, id); err != nil {
		return fmt.Errorf("clear current account: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM accounts WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete account: %w", err)
	}
	return tx.Commit()
}

func (s *PostgresStore) GetCurrentAccountID(ctx context.Context) (string, error) {
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

func (s *PostgresStore) SetCurrentAccountID(ctx context.Context, id string) error {
	ctx, cancel := opContext(ctx)
	defer cancel()
	if id == "" {
		_, err := s.db.ExecContext(ctx, `DELETE FROM current_account WHERE id = 1`)
		return err
	}
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO current_account (id, account_id) VALUES (1, $1)
        ON CONFLICT (id) DO UPDATE SET account_id = EXCLUDED.account_id`, id)
	if err != nil {
		return fmt.Errorf("set current account: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetProxyConfig(ctx context.Context) (*config.ProxyConfig, error) {
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

func (s *PostgresStore) SetProxyConfig(ctx context.Context, cfg *config.ProxyConfig) error {
	if cfg == nil {
		return fmt.Errorf("proxy config is nil")
	}
	allowed, mappings, anthropic, err := encodeProxyConfigJSON(cfg)
	if err != nil {
		return err
	}
	ctx, cancel := opContext(ctx)
	defer cancel()
	_, err = s.db.ExecContext(ctx, `
        INSERT INTO proxy_config (id, api_key, scheduling_mode, session_stickiness,
            max_wait_seconds, session_ttl_seconds, allowed_models, model_mappings, anthropic)
        VALUES (1, $1, $2, $3, $4, $5, $6, $7, $8)
        ON CONFLICT (id) DO UPDATE SET
            api_key = EXCLUDED.api_key,
            scheduling_mode = EXCLUDED.scheduling_mode,
            session_stickiness = EXCLUDED.session_stickiness,
            max_wait_seconds = EXCLUDED.max_wait_seconds,
            session_ttl_seconds = EXCLUDED.session_ttl_seconds,
            allowed_models = EXCLUDED.allowed_models,
            model_mappings = EXCLUDED.model_mappings,
            anthropic = EXCLUDED.anthropic,
            updated_at = CURRENT_TIMESTAMP`,
		cfg.APIKey, string(cfg.SchedulingMode), cfg.SessionStickiness,
		cfg.MaxWaitSeconds, cfg.SessionTTLSeconds, allowed, mappings, anthropic)
	if err != nil {
		return fmt.Errorf("set proxy config: %w", err)
	}
	return nil
}

func (s *PostgresStore) InsertMonitorLog(ctx context.Context, entry *MonitorLog) error {
	if entry == nil {
		return fmt.Errorf("monitor log is nil")
	}
	ctx, cancel := opContext(ctx)
	defer cancel()
	ts := entry.Timestamp
	if ts.IsZero() {
		ts = s.now()
	}
	err := s.db.QueryRowContext(ctx, `
        INSERT INTO proxy_monitor_logs (timestamp, method, path, status_code, latency_ms,
            account_email, model, input_tokens, output_tokens, error_message)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
        RETURNING id`,
		ts, entry.Method, entry.Path, entry.StatusCode, entry.LatencyMS,
		nullString(entry.AccountEmail), nullString(entry.Model),
		nullInt(entry.InputTokens), nullInt(entry.OutputTokens),
		nullString(entry.ErrorMessage)).Scan(&entry.ID)
	if err != nil {
		return fmt.Errorf("insert monitor log: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListMonitorLogs(ctx context.Context, limit int) ([]MonitorLog, error) {
	if limit <= 0 {
		limit = 100
	}
	ctx, cancel := opContext(ctx)
	defer cancel()
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, timestamp, method, path, status_code, latency_ms,
               account_email, model, input_tokens, output_tokens, error_message
        FROM proxy_monitor_logs ORDER BY timestamp DESC, id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list monitor logs: %w", err)
	}
	defer rows.Close()

	var logs []MonitorLog
	for rows.Next() {
		var (
			entry        MonitorLog
			email, model sql.NullString
			in, out      sql.NullInt64
			errMsg       sql.NullString
		)
		if err := rows.Scan(&entry.ID, &entry.Timestamp, &entry.Method, &entry.Path,
			&entry.StatusCode, &entry.LatencyMS, &email, &model, &in, &out, &errMsg); err != nil {
			return nil, fmt.Errorf("scan monitor log: %w", err)
		}
		entry.AccountEmail = email.String
		entry.Model = model.String
		entry.InputTokens = in.Int64
		entry.OutputTokens = out.Int64
		entry.ErrorMessage = errMsg.String
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("monitor log rows: %w", err)
	}
	return logs, nil
}

func (s *PostgresStore) PruneMonitorLogs(ctx context.Context, before time.Time) (int64, error) {
	ctx, cancel := opContext(ctx)
	defer cancel()
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM proxy_monitor_logs WHERE timestamp < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("prune monitor logs: %w", err)
	}
	return res.RowsAffected()
}

func (s *PostgresStore) Stats(ctx context.Context) (Stats, error) {
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

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt(n int64) sql.NullInt64 {
	return sql.NullInt64{Int64: n, Valid: n != 0}
}
