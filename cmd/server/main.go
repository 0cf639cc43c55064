package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/dnscache"
	log "github.com/sirupsen/logrus"

	"ag2api-go/internal/config"
	"ag2api-go/internal/constants"
	"ag2api-go/internal/dispatch"
	"ag2api-go/internal/logging"
	"ag2api-go/internal/middleware"
	"ag2api-go/internal/monitoring/tracing"
	"ag2api-go/internal/oauth"
	"ag2api-go/internal/pool"
	"ag2api-go/internal/server"
	"ag2api-go/internal/storage"
	"ag2api-go/internal/upstream/anthropic"
	"ag2api-go/internal/upstream/cloudcode"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML config file (falls back to CONFIG_FILE)")
	flag.Parse()

	configFile := *configPath
	if configFile == "" {
		configFile = os.Getenv("CONFIG_FILE")
	} else {
		_ = os.Setenv("CONFIG_FILE", configFile)
	}

	settings, err := config.LoadSettings()
	if err != nil {
		log.WithError(err).Fatal("load settings failed")
	}
	if err := config.ValidateSettings(settings); err != nil {
		log.WithError(err).Fatal("invalid settings")
	}
	if err := logging.Setup(settings.LogLevel, settings.LogFile); err != nil {
		log.WithError(err).Fatal("configure logging failed")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	traceShutdown, err := tracing.Init(ctx, settings.OTLPEndpoint)
	if err != nil {
		log.WithError(err).Warn("tracing init failed")
	}
	if traceShutdown != nil {
		defer func() {
			if err := traceShutdown(context.Background()); err != nil {
				log.WithError(err).Warn("tracing shutdown failed")
			}
		}()
	}

	store, err := storage.Open(ctx, settings)
	if err != nil {
		log.WithError(err).Fatal("open store failed")
	}
	defer func() { _ = store.Close() }()

	cfgMgr := config.NewManager(store, configFile)
	if err := cfgMgr.Load(ctx); err != nil {
		log.WithError(err).Fatal("load runtime config failed")
	}
	cfgMgr.StartWatcher()
	defer cfgMgr.Close()

	// Shared DNS cache for all upstream dials.
	resolver := &dnscache.Resolver{}
	middleware.SafeGo("dns-refresh", func() {
		t := time.NewTicker(constants.DNSRefreshInterval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				resolver.Refresh(true)
			}
		}
	})

	upstream := cloudcode.New(settings, resolver)
	poolMgr := pool.NewManager(pool.Options{
		Store:    store,
		OAuth:    oauth.NewManager(),
		Config:   cfgMgr,
		Projects: projectFetcher{client: upstream},
	})
	if err := poolMgr.Load(ctx); err != nil {
		log.WithError(err).Fatal("load account pool failed")
	}
	if poolMgr.Size() == 0 {
		log.Warn("account pool is empty, every request will fail until accounts are added")
	}
	poolMgr.Warmup(ctx, 4)

	dispatcher := dispatch.New(dispatch.Options{
		Pool:      poolMgr,
		Upstream:  upstream,
		Anthropic: anthropic.New(),
		Config:    cfgMgr,
	})

	srv := server.New(server.Options{
		Settings:   settings,
		Config:     cfgMgr,
		Store:      store,
		Pool:       poolMgr,
		Dispatcher: dispatcher,
	})
	if err := srv.Run(ctx); err != nil {
		log.WithError(err).Fatal("server exited")
	}
}

// projectFetcher adapts the upstream client to the pool's onboarding seam.
type projectFetcher struct {
	client *cloudcode.Client
}

func (f projectFetcher) FetchProject(ctx context.Context, accessToken string) (pool.ProjectInfo, error) {
	info, err := f.client.FetchProject(ctx, accessToken)
	if err != nil {
		return pool.ProjectInfo{}, err
	}
	return pool.ProjectInfo{ProjectID: info.ProjectID, Tier: info.Tier}, nil
}
