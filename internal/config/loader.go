package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// ConfigPath returns the default configuration file path: ~/.pushbridge/config.json.
func ConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".pushbridge/config.json"
	}
	return filepath.Join(home, ".pushbridge", "config.json")
}

// DataDir returns the pushbridge data directory: ~/.pushbridge.
func DataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".pushbridge"
	}
	return filepath.Join(home, ".pushbridge")
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// Load reads and parses the config file at path.
// If path is empty, ConfigPath() is used. Files ending in .yaml or .yml are
// parsed as YAML, anything else as JSON. JSON files may carry comments and
// trailing commas.
// On parse failure it logs a warning and returns DefaultConfig().
func Load(path string) (*Config, error) {
	if path == "" {
		path = ConfigPath()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg := DefaultConfig()
			return &cfg, nil
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg := DefaultConfig()
	if isYAML(path) {
		err = yaml.Unmarshal(data, &cfg)
	} else {
		err = json.Unmarshal(jsonc.ToJSON(data), &cfg)
	}
	if err != nil {
		slog.Warn("config: parse failed, using defaults", "path", path, "err", err)
		def := DefaultConfig()
		return &def, nil
	}

	return &cfg, nil
}

// Save writes cfg to path as indented JSON, or YAML for .yaml/.yml paths.
// If path is empty, ConfigPath() is used.
func Save(cfg *Config, path string) error {
	if path == "" {
		path = ConfigPath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(cfg)
	} else {
		data, err = json.MarshalIndent(cfg, "", "  ")
		data = append(data, '\n')
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config %s: %w", path, err)
	}
	return nil
}
