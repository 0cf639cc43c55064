package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"ag2api-go/internal/config"
)

const (
	mongoCollAccounts    = "accounts"
	mongoCollSettings    = "settings"
	mongoCollMonitorLogs = "proxy_monitor_logs"

	mongoDocCurrentAccount = "current_account"
	mongoDocProxyConfig    = "proxy_config"
)

// MongoStore keeps accounts and monitor logs as documents; the two singletons
// live in a small settings collection keyed by name.
type MongoStore struct {
	client   *mongo.Client
	database *mongo.Database
	uri      string
	dbName   string
	now      func() time.Time
}

func NewMongoStore(uri, dbName string) (*MongoStore, error) {
	if uri == "" {
		return nil, fmt.Errorf("mongo uri is empty")
	}
	if dbName == "" {
		dbName = "ag2api"
	}
	return &MongoStore{uri: uri, dbName: dbName, now: time.Now}, nil
}

func (s *MongoStore) Backend() string { return "mongo" }

func (s *MongoStore) Init(ctx context.Context) error {
	ctx, cancel := opContext(ctx)
	defer cancel()

	clientOptions := options.Client().ApplyURI(s.uri)
	clientOptions.SetMaxPoolSize(10)
	clientOptions.SetServerSelectionTimeout(5 * time.Second)

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return fmt.Errorf("connect mongodb: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return fmt.Errorf("ping mongodb: %w", err)
	}
	s.client = client
	s.database = client.Database(s.dbName)

	if _, err := s.accounts().Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "is_active", Value: 1}, {Key: "sort_order", Value: 1}}},
	}); err != nil {
		return fmt.Errorf("create account indexes: %w", err)
	}
	if _, err := s.monitorLogs().Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "timestamp", Value: 1}},
	}); err != nil {
		return fmt.Errorf("create monitor log index: %w", err)
	}

	log.Info("Connected to mongo storage backend")
	return nil
}

func (s *MongoStore) Close() error {
	if s.client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func (s *MongoStore) Health(ctx context.Context) error {
	if s.client == nil {
		return fmt.Errorf("mongo not connected")
	}
	ctx, cancel := opContext(ctx)
	defer cancel()
	return s.client.Ping(ctx, nil)
}

func (s *MongoStore) accounts() *mongo.Collection    { return s.database.Collection(mongoCollAccounts) }
func (s *MongoStore) settings() *mongo.Collection    { return s.database.Collection(mongoCollSettings) }
func (s *MongoStore) monitorLogs() *mongo.Collection { return s.database.Collection(mongoCollMonitorLogs) }

type mongoAccount struct {
	ID           string    `bson:"_id"`
	Email        string    `bson:"email"`
	DisplayName  string    `bson:"display_name,omitempty"`
	PhotoURL     string    `bson:"photo_url,omitempty"`
	AccessToken  string    `bson:"access_token"`
	RefreshToken string    `bson:"refresh_token"`
	ExpiresAt    time.Time `bson:"expires_at,omitempty"`
	IsActive     bool      `bson:"is_active"`
	SortOrder    int       `bson:"sort_order"`
	CreatedAt    time.Time `bson:"created_at"`
	UpdatedAt    time.Time `bson:"updated_at"`
}

func toMongoAccount(a *Account) mongoAccount {
	return mongoAccount{
		ID: a.ID, Email: a.Email, DisplayName: a.DisplayName, PhotoURL: a.PhotoURL,
		AccessToken: a.AccessToken, RefreshToken: a.RefreshToken, ExpiresAt: a.ExpiresAt,
		IsActive: a.IsActive, SortOrder: a.SortOrder, CreatedAt: a.CreatedAt, UpdatedAt: a.UpdatedAt,
	}
}

func (m mongoAccount) account() Account {
	return Account{
		ID: m.ID, Email: m.Email, DisplayName: m.DisplayName, PhotoURL: m.PhotoURL,
		AccessToken: m.AccessToken, RefreshToken: m.RefreshToken, ExpiresAt: m.ExpiresAt,
		IsActive: m.IsActive, SortOrder: m.SortOrder, CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt,
	}
}

func (s *MongoStore) findAccounts(ctx context.Context, filter bson.M) ([]Account, error) {
	ctx, cancel := opContext(ctx)
	defer cancel()
	opts := options.Find().SetSort(bson.D{{Key: "sort_order", Value: 1}, {Key: "_id", Value: 1}})
	cursor, err := s.accounts().Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer cursor.Close(ctx)

	var accounts []Account
	for cursor.Next(ctx) {
		var doc mongoAccount
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode account: %w", err)
		}
		accounts = append(accounts, doc.account())
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("account cursor: %w", err)
	}
	return accounts, nil
}

func (s *MongoStore) ListAccounts(ctx context.Context) ([]Account, error) {
	return s.findAccounts(ctx, bson.M{})
}

func (s *MongoStore) ListActiveAccounts(ctx context.Context) ([]Account, error) {
	return s.findAccounts(ctx, bson.M{"is_active": true})
}

func (s *MongoStore) getAccount(ctx context.Context, filter bson.M, key string) (*Account, error) {
	ctx, cancel := opContext(ctx)
	defer cancel()
	var doc mongoAccount
	err := s.accounts().FindOne(ctx, filter).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, &ErrNotFound{Key: key}
	}
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	a := doc.account()
	return &a, nil
}

func (s *MongoStore) GetAccount(ctx context.Context, id string) (*Account, error) {
	return s.getAccount(ctx, bson.M{"_id": id}, id)
}

func (s *MongoStore) GetAccountByEmail(ctx context.Context, email string) (*Account, error) {
	return s.getAccount(ctx, bson.M{"email": email}, email)
}

func (s *MongoStore) UpsertAccount(ctx context.Context, account *Account) error {
	if account == nil || account.ID == "" {
		return fmt.Errorf("account id is required")
	}
	ctx, cancel := opContext(ctx)
	defer cancel()

	now := s.now()
	stored := *account
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now

	_, err := s.accounts().ReplaceOne(ctx,
		bson.M{"_id": stored.ID}, toMongoAccount(&stored), options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("upsert account: %w", err)
	}
	return nil
}

func (s *MongoStore) updateAccount(ctx context.Context, id string, set bson.M) error {
	ctx, cancel := opContext(ctx)
	defer cancel()
	set["updated_at"] = s.now()
	res, err := s.accounts().UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": set})
	if err != nil {
		return fmt.Errorf("update account: %w", err)
	}
	if res.MatchedCount == 0 {
		return &ErrNotFound{Key: id}
	}
	return nil
}

func (s *MongoStore) UpdateAccountTokens(ctx context.Context, id, accessToken, refreshToken string, expiresAt time.Time) error {
	return s.updateAccount(ctx, id, bson.M{
		"access_token":  accessToken,
		"refresh_token": refreshToken,
		"expires_at":    expiresAt,
	})
}

func (s *MongoStore) UpdateAccountProfile(ctx context.Context, id, email, displayName, photoURL string) error {
	return s.updateAccount(ctx, id, bson.M{
		"email":        email,
		"display_name": displayName,
		"photo_url":    photoURL,
	})
}

func (s *MongoStore) SetAccountActive(ctx context.Context, id string, active bool) error {
	return s.updateAccount(ctx, id, bson.M{"is_active": active})
}

func (s *MongoStore) DeleteAccount(ctx context.Context, id string) error {
	ctx, cancel := opContext(ctx)
	defer cancel()
	if _, err := s.accounts().DeleteOne(ctx, bson.M{"_id": id}); err != nil {
		return fmt.Errorf("delete account: %w", err)
	}
	_, err := s.settings().DeleteOne(ctx, bson.M{"_id": mongoDocCurrentAccount, "account_id": id})
	if err != nil {
		return fmt.Errorf("clear current account: %w", err)
	}
	return nil
}

func (s *MongoStore) GetCurrentAccountID(ctx context.Context) (string, error) {
	ctx, cancel := opContext(ctx)
	defer cancel()
	var doc struct {
		AccountID string `bson:"account_id"`
	}
	err := s.settings().FindOne(ctx, bson.M{"_id": mongoDocCurrentAccount}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get current account: %w", err)
	}
	return doc.AccountID, nil
}

func (s *MongoStore) SetCurrentAccountID(ctx context.Context, id string) error {
	ctx, cancel := opContext(ctx)
	defer cancel()
	if id == "" {
		_, err := s.settings().DeleteOne(ctx, bson.M{"_id": mongoDocCurrentAccount})
		return err
	}
	_, err := s.settings().ReplaceOne(ctx,
		bson.M{"_id": mongoDocCurrentAccount},
		bson.M{"_id": mongoDocCurrentAccount, "account_id": id},
		options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("set current account: %w", err)
	}
	return nil
}

func (s *MongoStore) GetProxyConfig(ctx context.Context) (*config.ProxyConfig, error) {
	ctx, cancel := opContext(ctx)
	defer cancel()
	var doc struct {
		Config config.ProxyConfig `bson:"config"`
	}
	err := s.settings().FindOne(ctx, bson.M{"_id": mongoDocProxyConfig}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get proxy config: %w", err)
	}
	cfg := doc.Config
	return &cfg, nil
}

func (s *MongoStore) SetProxyConfig(ctx context.Context, cfg *config.ProxyConfig) error {
	if cfg == nil {
		return fmt.Errorf("proxy config is nil")
	}
	ctx, cancel := opContext(ctx)
	defer cancel()
	_, err := s.settings().ReplaceOne(ctx,
		bson.M{"_id": mongoDocProxyConfig},
		bson.M{"_id": mongoDocProxyConfig, "config": cfg, "updated_at": s.now()},
		options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("set proxy config: %w", err)
	}
	return nil
}

type mongoMonitorLog struct {
	Timestamp    time.Time `bson:"timestamp"`
	Method       string    `bson:"method"`
	Path         string    `bson:"path"`
	StatusCode   int       `bson:"status_code"`
	LatencyMS    int64     `bson:"latency_ms"`
	AccountEmail string    `bson:"account_email,omitempty"`
	Model        string    `bson:"model,omitempty"`
	InputTokens  int64     `bson:"input_tokens,omitempty"`
	OutputTokens int64     `bson:"output_tokens,omitempty"`
	ErrorMessage string    `bson:"error_message,omitempty"`
	Seq          int64     `bson:"seq"`
}

func (s *MongoStore) InsertMonitorLog(ctx context.Context, entry *MonitorLog) error {
	if entry == nil {
		return fmt.Errorf("monitor log is nil")
	}
	ctx, cancel := opContext(ctx)
	defer cancel()
	ts := entry.Timestamp
	if ts.IsZero() {
		ts = s.now()
	}
	seq := ts.UnixNano()
	entry.ID = seq
	_, err := s.monitorLogs().InsertOne(ctx, mongoMonitorLog{
		Timestamp: ts, Method: entry.Method, Path: entry.Path,
		StatusCode: entry.StatusCode, LatencyMS: entry.LatencyMS,
		AccountEmail: entry.AccountEmail, Model: entry.Model,
		InputTokens: entry.InputTokens, OutputTokens: entry.OutputTokens,
		ErrorMessage: entry.ErrorMessage, Seq: seq,
	})
	if err != nil {
		return fmt.Errorf("insert monitor log: %w", err)
	}
	return nil
}

func (s *MongoStore) ListMonitorLogs(ctx context.Context, limit int) ([]MonitorLog, error) {
	if limit <= 0 {
		limit = 100
	}
	ctx, cancel := opContext(ctx)
	defer cancel()
	opts := options.Find().
		SetSort(bson.D{{Key: "timestamp", Value: -1}, {Key: "seq", Value: -1}}).
		SetLimit(int64(limit))
	cursor, err := s.monitorLogs().Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("list monitor logs: %w", err)
	}
	defer cursor.Close(ctx)

	var logs []MonitorLog
	for cursor.Next(ctx) {
		var doc mongoMonitorLog
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode monitor log: %w", err)
		}
		logs = append(logs, MonitorLog{
			ID: doc.Seq, Timestamp: doc.Timestamp, Method: doc.Method, Path: doc.Path,
			StatusCode: doc.StatusCode, LatencyMS: doc.LatencyMS,
			AccountEmail: doc.AccountEmail, Model: doc.Model,
			InputTokens: doc.InputTokens, OutputTokens: doc.OutputTokens,
			ErrorMessage: doc.ErrorMessage,
		})
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("monitor log cursor: %w", err)
	}
	return logs, nil
}

func (s *MongoStore) PruneMonitorLogs(ctx context.Context, before time.Time) (int64, error) {
	ctx, cancel := opContext(ctx)
	defer cancel()
	res, err := s.monitorLogs().DeleteMany(ctx, bson.M{"timestamp": bson.M{"$lt": before}})
	if err != nil {
		return 0, fmt.Errorf("prune monitor logs: %w", err)
	}
	return res.DeletedCount, nil
}

func (s *MongoStore) Stats(ctx context.Context) (Stats, error) {
	stats := Stats{Backend: s.Backend()}
	ctx, cancel := opContext(ctx)
	defer cancel()
	accounts, err := s.accounts().CountDocuments(ctx, bson.M{})
	if err != nil {
		return stats, fmt.Errorf("count accounts: %w", err)
	}
	logs, err := s.monitorLogs().CountDocuments(ctx, bson.M{})
	if err != nil {
		return stats, fmt.Errorf("count monitor logs: %w", err)
	}
	stats.AccountCount = int(accounts)
	stats.MonitorLogCount = int(logs)
	stats.Healthy = true
	return stats, nil
}
