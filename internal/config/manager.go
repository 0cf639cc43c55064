package config

import (
	"context"
	"sync"
	"sync/atomic"

	log "github.com/sirupsen/logrus"
)

// Store is the slice of the persistent store the config manager needs. The
// storage package implements it.
type Store interface {
	GetProxyConfig(ctx context.Context) (*ProxyConfig, error)
	SetProxyConfig(ctx context.Context, cfg *ProxyConfig) error
}

// Manager owns the runtime ProxyConfig: one atomic snapshot readable without
// locks on the hot path, persisted through the store, reloadable from the
// YAML file.
type Manager struct {
	store      Store
	configPath string

	current atomic.Pointer[ProxyConfig]

	mu        sync.Mutex
	listeners []func(*ProxyConfig)
	stopCh    chan struct{}
	stopOnce  sync.Once
}

// NewManager builds a manager seeded with defaults. Call Load before serving.
func NewManager(store Store, configPath string) *Manager {
	m := &Manager{store: store, configPath: configPath, stopCh: make(chan struct{})}
	m.current.Store(DefaultProxyConfig())
	return m
}

// Load assembles the effective runtime config: defaults, then persisted row,
// then YAML proxy section, then env overrides. Later layers win.
func (m *Manager) Load(ctx context.Context) error {
	cfg := DefaultProxyConfig()

	if m.store != nil {
		stored, err := m.store.GetProxyConfig(ctx)
		if err != nil {
			log.WithError(err).Warn("load proxy config from store failed, using defaults")
		} else if stored != nil {
			cfg = stored
		}
	}

	if err := loadProxyFileInto(cfg, m.configPath); err != nil {
		log.WithError(err).Warn("load proxy config from file failed")
	}

	ApplyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return err
	}
	m.swap(cfg)
	return nil
}

// Current returns the live snapshot. Callers must not mutate it.
func (m *Manager) Current() *ProxyConfig {
	return m.current.Load()
}

// Update validates, persists, and publishes a new runtime config.
func (m *Manager) Update(ctx context.Context, cfg *ProxyConfig) error {
	if err := Validate(cfg); err != nil {
		return err
	}
	if m.store != nil {
		if err := m.store.SetProxyConfig(ctx, cfg); err != nil {
			return err
		}
	}
	m.swap(cfg.Clone())
	return nil
}

// OnChange registers a callback invoked with each new snapshot.
func (m *Manager) OnChange(fn func(*ProxyConfig)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// Close stops the file watcher if one is running.
func (m *Manager) Close() {
	m.stopOnce.Do(func() { close(m.stopCh) })
}

func (m *Manager) swap(cfg *ProxyConfig) {
	m.current.Store(cfg)
	m.mu.Lock()
	listeners := append([]func(*ProxyConfig){}, m.listeners...)
	m.mu.Unlock()
	for _, fn := range listeners {
		fn(cfg)
	}
}
