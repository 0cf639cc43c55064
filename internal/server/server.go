// Package server assembles the gin engine, the background maintenance jobs
// and the HTTP lifecycle around the dispatcher.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"

	"ag2api-go/internal/config"
	"ag2api-go/internal/constants"
	common "ag2api-go/internal/handlers/common"
	"ag2api-go/internal/pool"
	"ag2api-go/internal/storage"
)

// Options carries everything the server needs. Dispatcher is the interface
// the handler packages consume; production passes *dispatch.Dispatcher.
type Options struct {
	Settings   *config.Settings
	Config     *config.Manager
	Store      storage.Store
	Pool       *pool.Manager
	Dispatcher common.Dispatcher
}

// Server owns the engine, the HTTP listener and the maintenance cron.
type Server struct {
	settings *config.Settings
	config   *config.Manager
	store    storage.Store
	pool     *pool.Manager

	engine  *gin.Engine
	httpSrv *http.Server
	cron    *cron.Cron
	started time.Time
}

// New wires the routes and maintenance jobs. Call Run to serve.
func New(opts Options) *Server {
	s := &Server{
		settings: opts.Settings,
		config:   opts.Config,
		store:    opts.Store,
		pool:     opts.Pool,
		started:  time.Now(),
	}
	s.engine = s.buildEngine(opts.Dispatcher)
	s.cron = s.buildCron()
	return s
}

// Engine exposes the router for httptest in integration tests.
func (s *Server) Engine() *gin.Engine { return s.engine }

// Run serves until ctx is cancelled, then drains in-flight requests within
// the shutdown timeout. Streams past their first byte get the full window
// to finish.
func (s *Server) Run(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.settings.Host, s.settings.Port)
	s.httpSrv = &http.Server{Addr: addr, Handler: s.engine}

	s.cron.Start()

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", addr).Info("proxy listening")
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		s.stopCron()
		return err
	case <-ctx.Done():
	}

	log.Info("shutdown signal received")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.ServerShutdownTimeout)
	defer cancel()

	err := s.httpSrv.Shutdown(shutdownCtx)
	s.stopCron()
	<-errCh
	log.Info("server stopped")
	return err
}

func (s *Server) stopCron() {
	stopCtx := s.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(3 * time.Second):
		log.Warn("cron stop timed out")
	}
}
