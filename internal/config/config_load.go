package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/titanous/json5"
)

// Load reads the global config from path (default ~/.config/msgcode/config.json),
// then overlays env vars. A missing file yields defaults; a malformed file is
// a config error (exit code 2 territory).
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = filepath.Join(Dir(), "config.json")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnv(os.Getenv)
			return cfg, cfg.validate()
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg.applyEnv(os.Getenv)
	return cfg, cfg.validate()
}

// Save writes the global config atomically. The API key is excluded by its
// struct tag; it only ever lives in the environment.
func Save(path string, c *Config) error {
	if path == "" {
		path = filepath.Join(Dir(), "config.json")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := marshalIndent(c)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

func (c *Config) validate() error {
	if c.Owner == "" {
		return fmt.Errorf("owner is required: set owner in the config (msgcode init) or MSGCODE_OWNER")
	}
	if c.WorkspaceRoot == "" {
		return fmt.Errorf("workspace_root is required")
	}
	abs, err := filepath.Abs(expandHome(c.WorkspaceRoot))
	if err != nil {
		return fmt.Errorf("workspace_root: %w", err)
	}
	c.WorkspaceRoot = abs
	if c.Ingress.TickMs <= 0 {
		c.Ingress.TickMs = 2000
	}
	if c.Ingress.MaxParallel <= 0 {
		c.Ingress.MaxParallel = 4
	}
	if c.Ingress.QueueSoftCap <= 0 {
		c.Ingress.QueueSoftCap = 32
	}
	if c.Ingress.CallTimeoutMs <= 0 {
		c.Ingress.CallTimeoutMs = 10000
	}
	return nil
}

func expandHome(p string) string {
	if len(p) >= 2 && p[:2] == "~/" {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, p[2:])
		}
	}
	return p
}
