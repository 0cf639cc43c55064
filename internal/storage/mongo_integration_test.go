package storage

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"ag2api-go/internal/config"
)

func TestMongoStore_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("mongo integration test skipped in short mode")
	}

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "mongo:7.0",
			ExposedPorts: []string{"27017/tcp"},
			WaitingFor:   wait.ForListeningPort("27017/tcp"),
		},
		Started: true,
	})
	if err != nil {
		t.Skipf("mongo container unavailable: %v", err)
	}
	t.Cleanup(func() {
		_ = container.Terminate(ctx)
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "27017/tcp")
	require.NoError(t, err)

	store, err := NewMongoStore(fmt.Sprintf("mongodb://%s:%s", host, port.Port()), "it_tests")
	require.NoError(t, err)
	require.NoError(t, store.Init(ctx))
	t.Cleanup(func() {
		_ = store.Close()
	})

	t.Run("account CRUD", func(t *testing.T) {
		acct := testAccount("acct-1", "one@example.com")
		require.NoError(t, store.UpsertAccount(ctx, acct))

		got, err := store.GetAccount(ctx, "acct-1")
		require.NoError(t, err)
		require.Equal(t, "one@example.com", got.Email)
		require.Equal(t, "refresh-acct-1", got.RefreshToken)

		byEmail, err := store.GetAccountByEmail(ctx, "one@example.com")
		require.NoError(t, err)
		require.Equal(t, "acct-1", byEmail.ID)

		expiry := time.Now().Add(time.Hour).Truncate(time.Millisecond).UTC()
		require.NoError(t, store.UpdateAccountTokens(ctx, "acct-1", "tok2", "ref2", expiry))
		got, err = store.GetAccount(ctx, "acct-1")
		require.NoError(t, err)
		require.Equal(t, "tok2", got.AccessToken)
		require.True(t, expiry.Equal(got.ExpiresAt))

		require.NoError(t, store.SetAccountActive(ctx, "acct-1", false))
		active, err := store.ListActiveAccounts(ctx)
		require.NoError(t, err)
		require.Empty(t, active)

		_, err = store.GetAccount(ctx, "missing")
		require.True(t, IsNotFound(err))
	})

	t.Run("current account pointer", func(t *testing.T) {
		require.NoError(t, store.SetCurrentAccountID(ctx, "acct-1"))
		id, err := store.GetCurrentAccountID(ctx)
		require.NoError(t, err)
		require.Equal(t, "acct-1", id)

		require.NoError(t, store.DeleteAccount(ctx, "acct-1"))
		id, err = store.GetCurrentAccountID(ctx)
		require.NoError(t, err)
		require.Empty(t, id)
	})

	t.Run("proxy config round trip", func(t *testing.T) {
		cfg := &config.ProxyConfig{
			APIKey:            "sk-mongo",
			SchedulingMode:    config.Balanced,
			SessionStickiness: true,
			MaxWaitSeconds:    60,
			SessionTTLSeconds: 3600,
			AllowedModels:     []string{"claude-sonnet-4-5"},
			ModelMappings: config.ModelMappings{
				OpenAI: map[string]string{"gpt-4o": "claude-sonnet-4-5"},
			},
		}
		require.NoError(t, store.SetProxyConfig(ctx, cfg))

		got, err := store.GetProxyConfig(ctx)
		require.NoError(t, err)
		require.NotNil(t, got)
		require.Equal(t, "sk-mongo", got.APIKey)
		require.Equal(t, []string{"claude-sonnet-4-5"}, got.AllowedModels)
		require.Equal(t, "claude-sonnet-4-5", got.ModelMappings.OpenAI["gpt-4o"])
	})

	t.Run("monitor logs", func(t *testing.T) {
		base := time.Now().Truncate(time.Millisecond).UTC()
		for i := 0; i < 3; i++ {
			require.NoError(t, store.InsertMonitorLog(ctx, &MonitorLog{
				Timestamp:  base.Add(time.Duration(i) * time.Second),
				Method:     "POST",
				Path:       "/v1/chat/completions",
				StatusCode: 200,
				LatencyMS:  int64(i),
			}))
		}

		logs, err := store.ListMonitorLogs(ctx, 2)
		require.NoError(t, err)
		require.Len(t, logs, 2)
		require.Equal(t, int64(2), logs[0].LatencyMS)

		removed, err := store.PruneMonitorLogs(ctx, base.Add(time.Second))
		require.NoError(t, err)
		require.Equal(t, int64(1), removed)

		stats, err := store.Stats(ctx)
		require.NoError(t, err)
		require.Equal(t, "mongo", stats.Backend)
		require.Equal(t, 2, stats.MonitorLogCount)
	})
}
