package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"ag2api-go/internal/config"
)

const (
	redisKeyAccounts      = "accounts"
	redisKeyCurrent       = "current_account"
	redisKeyProxyConfig   = "proxy_config"
	redisKeyMonitorLogs   = "monitor_logs"
	redisKeyMonitorLogSeq = "monitor_logs:seq"
)

// RedisStore keeps the pool state in Redis: accounts in one hash, the proxy
// config as a JSON string, monitor logs in a sorted set scored by timestamp.
type RedisStore struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

func NewRedisStore(redisURL string) (*RedisStore, error) {
	if redisURL == "" {
		return nil, fmt.Errorf("redis url is empty")
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	if opts.PoolSize == 0 {
		opts.PoolSize = 10
	}
	return &RedisStore{
		client: redis.NewClient(opts),
		prefix: "ag2api:",
		now:    time.Now,
	}, nil
}

func newRedisStoreFromClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, prefix: "ag2api:", now: time.Now}
}

func (s *RedisStore) key(name string) string { return s.prefix + name }

func (s *RedisStore) Backend() string { return "redis" }

func (s *RedisStore) Init(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	log.Info("Connected to redis storage backend")
	return nil
}

func (s *RedisStore) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

func (s *RedisStore) Health(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) loadAccounts(ctx context.Context) ([]Account, error) {
	raw, err := s.client.HGetAll(ctx, s.key(redisKeyAccounts)).Result()
	if err != nil {
		return nil, fmt.Errorf("load accounts: %w", err)
	}
	accounts := make([]Account, 0, len(raw))
	for id, data := range raw {
		var a Account
		if err := json.Unmarshal([]byte(data), &a); err != nil {
			return nil, fmt.Errorf("decode account %s: %w", id, err)
		}
		accounts = append(accounts, a)
	}
	sort.Slice(accounts, func(i, j int) bool {
		if accounts[i].SortOrder != accounts[j].SortOrder {
			return accounts[i].SortOrder < accounts[j].SortOrder
		}
		return accounts[i].ID < accounts[j].ID
	})
	return accounts, nil
}

func (s *RedisStore) ListAccounts(ctx context.Context) ([]Account, error) {
	return s.loadAccounts(ctx)
}

func (s *RedisStore) ListActiveAccounts(ctx context.Context) ([]Account, error) {
	all, err := s.loadAccounts(ctx)
	if err != nil {
		return nil, err
	}
	active := all[:0]
	for _, a := range all {
		if a.IsActive {
			active = append(active, a)
		}
	}
	return active, nil
}

func (s *RedisStore) GetAccount(ctx context.Context, id string) (*Account, error) {
	data, err := s.client.HGet(ctx, s.key(redisKeyAccounts), id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, &ErrNotFound{Key: id}
	}
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	var a Account
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("decode account %s: %w", id, err)
	}
	return &a, nil
}

func (s *RedisStore) GetAccountByEmail(ctx context.Context, email string) (*Account, error) {
	all, err := s.loadAccounts(ctx)
	if err != nil {
		return nil, err
	}
	for i := range all {
		if all[i].Email == email {
			return &all[i], nil
		}
	}
	return nil, &ErrNotFound{Key: email}
}

func (s *RedisStore) putAccount(ctx context.Context, a *Account) error {
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("encode account %s: %w", a.ID, err)
	}
	if err := s.client.HSet(ctx, s.key(redisKeyAccounts), a.ID, data).Err(); err != nil {
		return fmt.Errorf("store account %s: %w", a.ID, err)
	}
	return nil
}

func (s *RedisStore) UpsertAccount(ctx context.Context, account *Account) error {
	if account == nil || account.ID == "" {
		return fmt.Errorf("account id is required")
	}
	existing, err := s.GetAccountByEmail(ctx, account.Email)
	if err != nil && !IsNotFound(err) {
		return err
	}
	if existing != nil && existing.ID != account.ID {
		return fmt.Errorf("email %s already belongs to account %s", account.Email, existing.ID)
	}

	now := s.now()
	stored := *account
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now
	return s.putAccount(ctx, &stored)
}

func (s *RedisStore) mutateAccount(ctx context.Context, id string, mutate func(*Account)) error {
	a, err := s.GetAccount(ctx, id)
	if err != nil {
		return err
	}
	mutate(a)
	a.UpdatedAt = s.now()
	return s.putAccount(ctx, a)
}

func (s *RedisStore) UpdateAccountTokens(ctx context.Context, id, accessToken, refreshToken string, expiresAt time.Time) error {
	return s.mutateAccount(ctx, id, func(a *Account) {
		a.AccessToken = accessToken
		a.RefreshToken = refreshToken
		a.ExpiresAt = expiresAt
	})
}

func (s *RedisStore) UpdateAccountProfile(ctx context.Context, id, email, displayName, photoURL string) error {
	return s.mutateAccount(ctx, id, func(a *Account) {
		a.Email = email
		a.DisplayName = displayName
		a.PhotoURL = photoURL
	})
}

func (s *RedisStore) SetAccountActive(ctx context.Context, id string, active bool) error {
	return s.mutateAccount(ctx, id, func(a *Account) {
		a.IsActive = active
	})
}

func (s *RedisStore) DeleteAccount(ctx context.Context, id string) error {
	if err := s.client.HDel(ctx, s.key(redisKeyAccounts), id).Err(); err != nil {
		return fmt.Errorf("delete account: %w", err)
	}
	current, err := s.GetCurrentAccountID(ctx)
	if err == nil && current == id {
		return s.SetCurrentAccountID(ctx, "")
	}
	return nil
}

func (s *RedisStore) GetCurrentAccountID(ctx context.Context) (string, error) {
	id, err := s.client.Get(ctx, s.key(redisKeyCurrent)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get current account: %w", err)
	}
	return id, nil
}

func (s *RedisStore) SetCurrentAccountID(ctx context.Context, id string) error {
	if id == "" {
		return s.client.Del(ctx, s.key(redisKeyCurrent)).Err()
	}
	return s.client.Set(ctx, s.key(redisKeyCurrent), id, 0).Err()
}

func (s *RedisStore) GetProxyConfig(ctx context.Context) (*config.ProxyConfig, error) {
	data, err := s.client.Get(ctx, s.key(redisKeyProxyConfig)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get proxy config: %w", err)
	}
	var cfg config.ProxyConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("decode proxy config: %w", err)
	}
	return &cfg, nil
}

func (s *RedisStore) SetProxyConfig(ctx context.Context, cfg *config.ProxyConfig) error {
	if cfg == nil {
		return fmt.Errorf("proxy config is nil")
	}
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode proxy config: %w", err)
	}
	return s.client.Set(ctx, s.key(redisKeyProxyConfig), data, 0).Err()
}

func (s *RedisStore) InsertMonitorLog(ctx context.Context, entry *MonitorLog) error {
	if entry == nil {
		return fmt.Errorf("monitor log is nil")
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = s.now()
	}
	id, err := s.client.Incr(ctx, s.key(redisKeyMonitorLogSeq)).Result()
	if err != nil {
		return fmt.Errorf("monitor log sequence: %w", err)
	}
	entry.ID = id

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode monitor log: %w", err)
	}
	err = s.client.ZAdd(ctx, s.key(redisKeyMonitorLogs), redis.Z{
		Score:  float64(entry.Timestamp.UnixMilli()),
		Member: data,
	}).Err()
	if err != nil {
		return fmt.Errorf("insert monitor log: %w", err)
	}
	return nil
}

func (s *RedisStore) ListMonitorLogs(ctx context.Context, limit int) ([]MonitorLog, error) {
	if limit <= 0 {
		limit = 100
	}
	members, err := s.client.ZRevRange(ctx, s.key(redisKeyMonitorLogs), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("list monitor logs: %w", err)
	}
	logs := make([]MonitorLog, 0, len(members))
	for _, member := range members {
		var entry MonitorLog
		if err := json.Unmarshal([]byte(member), &entry); err != nil {
			return nil, fmt.Errorf("decode monitor log: %w", err)
		}
		logs = append(logs, entry)
	}
	return logs, nil
}

func (s *RedisStore) PruneMonitorLogs(ctx context.Context, before time.Time) (int64, error) {
	upper := "(" + strconv.FormatInt(before.UnixMilli(), 10)
	removed, err := s.client.ZRemRangeByScore(ctx, s.key(redisKeyMonitorLogs), "-inf", upper).Result()
	if err != nil {
		return 0, fmt.Errorf("prune monitor logs: %w", err)
	}
	return removed, nil
}

func (s *RedisStore) Stats(ctx context.Context) (Stats, error) {
	stats := Stats{Backend: s.Backend()}
	accounts, err := s.client.HLen(ctx, s.key(redisKeyAccounts)).Result()
	if err != nil {
		return stats, fmt.Errorf("count accounts: %w", err)
	}
	logs, err := s.client.ZCard(ctx, s.key(redisKeyMonitorLogs)).Result()
	if err != nil {
		return stats, fmt.Errorf("count monitor logs: %w", err)
	}
	stats.AccountCount = int(accounts)
	stats.MonitorLogCount = int(logs)
	stats.Healthy = true
	return stats, nil
}
