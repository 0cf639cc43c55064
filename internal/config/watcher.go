package config

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

// StartWatcher reloads the runtime config when the YAML file changes. Falls
// back to polling when fsnotify cannot watch the path.
func (m *Manager) StartWatcher() {
	if m.configPath == "" {
		return
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.WithError(err).Warn("failed to create file watcher, falling back to polling")
		go m.pollLoop()
		return
	}

	if err := watcher.Add(m.configPath); err != nil {
		log.WithError(err).WithField("path", m.configPath).Warn("failed to watch config file, falling back to polling")
		watcher.Close()
		go m.pollLoop()
		return
	}

	// Watch the directory too so atomic writes (rename) are caught.
	if err := watcher.Add(filepath.Dir(m.configPath)); err != nil {
		log.WithError(err).Warn("failed to watch config directory")
	}

	log.WithField("path", m.configPath).Info("config watcher started")

	go func() {
		defer watcher.Close()

		var debounce *time.Timer
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Name != m.configPath {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(100*time.Millisecond, m.reload)

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.WithError(err).Warn("config watcher error")

			case <-m.stopCh:
				if debounce != nil {
					debounce.Stop()
				}
				return
			}
		}
	}()
}

func (m *Manager) pollLoop() {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	var lastMod time.Time
	for {
		select {
		case <-ticker.C:
			info, err := statFile(m.configPath)
			if err != nil {
				continue
			}
			if info.After(lastMod) {
				lastMod = info
				m.reload()
			}
		case <-m.stopCh:
			return
		}
	}
}

func (m *Manager) reload() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := m.Load(ctx); err != nil {
		log.WithError(err).Warn("config reload failed, keeping previous snapshot")
		return
	}
	log.Info("runtime config reloaded")
}
