package server

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"

	"ag2api-go/internal/config"
	"ag2api-go/internal/constants"
)

// warmupConcurrency bounds the proactive refresh fan-out per sweep.
const warmupConcurrency = 4

// buildCron registers the background jobs: session eviction, cooldown purge,
// proactive token refresh, the periodic config reload and the monitor-log
// prune. The file watcher reacts to file edits; the reload job additionally
// picks up store rows written by another process. The session TTL follows
// config changes through the listener below.
func (s *Server) buildCron() *cron.Cron {
	s.pool.Sessions().SetTTL(s.config.Current().SessionTTL())
	s.config.OnChange(func(cfg *config.ProxyConfig) {
		s.pool.Sessions().SetTTL(cfg.SessionTTL())
	})

	c := cron.New()

	mustAdd(c, "@every "+constants.SessionSweepInterval.String(), func() {
		if n := s.pool.Sessions().CleanupExpired(); n > 0 {
			log.WithField("evicted", n).Debug("expired session bindings removed")
		}
		// ActiveCount drops elapsed cooldowns as it counts.
		s.pool.Limits().ActiveCount()
	})

	mustAdd(c, "@every "+constants.TokenRefreshSweepInterval.String(), func() {
		ctx, cancel := context.WithTimeout(context.Background(), constants.TokenRefreshSweepInterval/2)
		defer cancel()
		s.pool.Warmup(ctx, warmupConcurrency)
	})

	mustAdd(c, "@every "+constants.ConfigReloadInterval.String(), func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.config.Load(ctx); err != nil {
			log.WithError(err).Warn("periodic config reload failed")
		}
	})

	mustAdd(c, "0 3 * * *", func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		cutoff := time.Now().Add(-constants.MonitorLogRetention)
		n, err := s.store.PruneMonitorLogs(ctx, cutoff)
		if err != nil {
			log.WithError(err).Warn("monitor log prune failed")
			return
		}
		log.WithField("pruned", n).Info("monitor logs pruned")
	})

	return c
}

func mustAdd(c *cron.Cron, spec string, fn func()) {
	if _, err := c.AddFunc(spec, fn); err != nil {
		log.WithError(err).WithField("spec", spec).Error("cron job not registered")
	}
}
