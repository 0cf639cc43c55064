// data-migrate copies the persisted proxy state from one storage backend to
// another: accounts, the round-robin seed, the runtime config and optionally
// the recent monitor logs.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"ag2api-go/internal/config"
	"ag2api-go/internal/storage"
)

func main() {
	var (
		sourceType = flag.String("source", "", "source backend: sqlite|redis|mongo|postgres")
		sourceDSN  = flag.String("source-dsn", "", "source connection string (path for sqlite)")
		destType   = flag.String("dest", "", "destination backend: sqlite|redis|mongo|postgres")
		destDSN    = flag.String("dest-dsn", "", "destination connection string (path for sqlite)")
		mongoDB    = flag.String("mongo-db", "ag2api", "mongo database name when either side is mongo")
		withLogs   = flag.Int("with-logs", 0, "also copy up to N recent monitor logs")
		timeout    = flag.Duration("timeout", 2*time.Minute, "overall timeout")
	)
	flag.Parse()

	if *sourceType == "" || *destType == "" {
		fmt.Fprintln(os.Stderr, "usage: data-migrate -source <backend> -source-dsn <dsn> -dest <backend> -dest-dsn <dsn>")
		flag.PrintDefaults()
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	src, err := storage.Open(ctx, settingsFor(*sourceType, *sourceDSN, *mongoDB))
	if err != nil {
		fail(fmt.Errorf("open source: %w", err))
	}
	defer src.Close()

	dst, err := storage.Open(ctx, settingsFor(*destType, *destDSN, *mongoDB))
	if err != nil {
		fail(fmt.Errorf("open destination: %w", err))
	}
	defer dst.Close()

	if err := copyState(ctx, src, dst, *withLogs); err != nil {
		fail(err)
	}
}

func copyState(ctx context.Context, src, dst storage.Store, logLimit int) error {
	accounts, err := src.ListAccounts(ctx)
	if err != nil {
		return fmt.Errorf("list source accounts: %w", err)
	}
	for i := range accounts {
		acc := accounts[i]
		if err := dst.UpsertAccount(ctx, &acc); err != nil {
			return fmt.Errorf("copy account %s: %w", acc.Email, err)
		}
	}
	fmt.Printf("copied %d account(s)\n", len(accounts))

	if current, err := src.GetCurrentAccountID(ctx); err == nil && current != "" {
		if err := dst.SetCurrentAccountID(ctx, current); err != nil {
			return fmt.Errorf("copy current account: %w", err)
		}
	}

	cfg, err := src.GetProxyConfig(ctx)
	if err != nil && !storage.IsNotFound(err) {
		return fmt.Errorf("read source proxy config: %w", err)
	}
	if cfg != nil {
		if err := dst.SetProxyConfig(ctx, cfg); err != nil {
			return fmt.Errorf("copy proxy config: %w", err)
		}
		fmt.Println("copied proxy config")
	}

	if logLimit > 0 {
		logs, err := src.ListMonitorLogs(ctx, logLimit)
		if err != nil {
			return fmt.Errorf("list source monitor logs: %w", err)
		}
		// ListMonitorLogs returns newest first; insert oldest first so
		// destination ids follow time.
		for i := len(logs) - 1; i >= 0; i-- {
			entry := logs[i]
			if err := dst.InsertMonitorLog(ctx, &entry); err != nil {
				return fmt.Errorf("copy monitor log: %w", err)
			}
		}
		fmt.Printf("copied %d monitor log(s)\n", len(logs))
	}
	return nil
}

func settingsFor(backend, dsn, mongoDB string) *config.Settings {
	s := config.DefaultSettings()
	s.StoreBackend = backend
	switch backend {
	case "sqlite":
		if dsn != "" {
			s.DBPath = dsn
		}
	case "postgres":
		s.PostgresDSN = dsn
	case "redis":
		s.RedisURL = dsn
	case "mongo", "mongodb":
		s.MongoURI = dsn
		s.MongoDB = mongoDB
	}
	return s
}

func fail(err error) {
	fmt.Fprintln(os.Stderr, "data-migrate:", err)
	os.Exit(1)
}
