// Package config loads the hangar daemon's YAML configuration file and
// layers environment variable overrides on top of it.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// PortRange is the inclusive inner-app port range handed to the
// allocator.
type PortRange struct {
	Low  int `yaml:"low"`
	High int `yaml:"high"`
}

// Config is the on-disk shape of hangar.yaml.
type Config struct {
	AppsDir      string    `yaml:"apps_dir"`
	RegistryPath string    `yaml:"registry_path,omitempty"` // defaults under AppsDir
	PortRange    PortRange `yaml:"port_range,omitempty"`
	OuterAddr    string    `yaml:"outer_addr,omitempty"`
	LogLevel     string    `yaml:"log_level,omitempty"`
	LogFile      string    `yaml:"log_file,omitempty"`
}

// Default returns the baseline configuration before any file or env
// overrides are applied.
func Default() Config {
	return Config{
		AppsDir:   "apps",
		PortRange: PortRange{Low: 9000, High: 9099},
		OuterAddr: ":50000",
		LogLevel:  "info",
	}
}

// Load reads path (if it exists), falls back to Default() for anything
// unset, then applies HANGAR_* environment overrides. A missing file is
// not an error — the daemon runs on defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}

	applyEnv(&cfg)

	if cfg.RegistryPath == "" {
		cfg.RegistryPath = filepath.Join(cfg.AppsDir, ".app_registry.json")
	}
	if cfg.PortRange.Low == 0 && cfg.PortRange.High == 0 {
		cfg.PortRange = PortRange{Low: 9000, High: 9099}
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("HANGAR_APPS_DIR"); v != "" {
		cfg.AppsDir = v
	}
	if v := os.Getenv("HANGAR_REGISTRY_PATH"); v != "" {
		cfg.RegistryPath = v
	}
	if v := os.Getenv("HANGAR_OUTER_ADDR"); v != "" {
		cfg.OuterAddr = v
	}
	if v := os.Getenv("HANGAR_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("HANGAR_LOG_FILE"); v != "" {
		cfg.LogFile = v
	}
	if v := os.Getenv("HANGAR_PORT_LOW"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.PortRange.Low = n
		}
	}
	if v := os.Getenv("HANGAR_PORT_HIGH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.PortRange.High = n
		}
	}
}

// Save writes cfg back to path as YAML, creating path's directory if
// needed.
func Save(path string, cfg Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0o644)
}
