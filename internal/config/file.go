package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// fileConfig is the YAML document shape: bootstrap settings at the top level
// plus an optional embedded proxy section for seeding the runtime config.
type fileConfig struct {
	Settings `yaml:",inline"`
	Proxy    *ProxyConfig `yaml:"proxy"`
}

func loadSettingsFile(s *Settings, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var fc fileConfig
	fc.Settings = *s
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	*s = fc.Settings
	return nil
}

// loadProxyFileInto overlays the YAML file's proxy section onto cfg. Keys
// absent from the file keep cfg's values (the section is seeded with a copy
// before decoding, the same way loadSettingsFile seeds the top level). A
// missing file or section is not an error; a parse error leaves cfg intact.
func loadProxyFileInto(cfg *ProxyConfig, path string) error {
	if path == "" {
		return nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read config file: %w", err)
	}
	fc := fileConfig{Proxy: cfg.Clone()}
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	fc.Proxy.SchedulingMode = ParseSchedulingMode(string(fc.Proxy.SchedulingMode))
	*cfg = *fc.Proxy
	return nil
}
