// Package config loads the global runtime configuration and the
// per-workspace configuration files.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Config is the root configuration for the msgcode runtime.
type Config struct {
	Owner            string   `json:"owner"`                   // whitelisted identity (required to start)
	ExtraOwners      []string `json:"extra_owners,omitempty"`  // additional whitelisted identities
	OwnerOnlyInGroup bool     `json:"owner_only_in_group"`     // ignore non-owner senders in group chats
	WorkspaceRoot    string   `json:"workspace_root"`          // all bound workspaces must live under this
	TransportBin     string   `json:"transport_bin,omitempty"` // messaging binary; default "imsg"
	DesktopctlBin    string   `json:"desktopctl_bin,omitempty"`
	TmuxBin          string   `json:"tmux_bin,omitempty"`

	Ingress  IngressConfig  `json:"ingress"`
	Provider ProviderConfig `json:"provider"`
	Embed    EmbedConfig    `json:"embedding"`
	Log      LogConfig      `json:"log"`
}

// IngressConfig tunes the polling loop.
type IngressConfig struct {
	TickMs        int `json:"tick_ms"`        // poll interval (default 2000)
	MaxParallel   int `json:"max_parallel"`   // cross-chat turn ceiling (default 4)
	QueueSoftCap  int `json:"queue_soft_cap"` // per-chat backlog before stale schedule drops (default 32)
	CallTimeoutMs int `json:"call_timeout_ms"`
}

// ProviderConfig points at an OpenAI-compatible chat endpoint.
type ProviderConfig struct {
	Name    string `json:"name"` // "lmstudio", "openai", ...
	BaseURL string `json:"base_url"`
	APIKey  string `json:"-"` // env MSGCODE_API_KEY only, never persisted
	Model   string `json:"model"`
}

// EmbedConfig points at an OpenAI-compatible embeddings endpoint.
// Empty BaseURL disables vectors; memory degrades to FTS-only.
type EmbedConfig struct {
	BaseURL string `json:"base_url,omitempty"`
	Model   string `json:"model,omitempty"`
}

// LogConfig controls the rolling file transport.
type LogConfig struct {
	Level   string `json:"level"`   // debug|info|warn|error
	Console bool   `json:"console"` // tee to stderr
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		TransportBin:  "imsg",
		DesktopctlBin: "desktopctl",
		TmuxBin:       "tmux",
		WorkspaceRoot: filepath.Join(home, "msgcode"),
		Ingress: IngressConfig{
			TickMs:        2000,
			MaxParallel:   4,
			QueueSoftCap:  32,
			CallTimeoutMs: 10000,
		},
		Provider: ProviderConfig{
			Name:    "lmstudio",
			BaseURL: "http://127.0.0.1:1234/v1",
			Model:   "local",
		},
		Log: LogConfig{Level: "info"},
	}
}

// Dir returns the global config directory (~/.config/msgcode).
func Dir() string {
	if base, err := os.UserConfigDir(); err == nil {
		return filepath.Join(base, "msgcode")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "msgcode")
}

// Owners returns every whitelisted identity.
func (c *Config) Owners() []string {
	out := make([]string, 0, 1+len(c.ExtraOwners))
	if c.Owner != "" {
		out = append(out, c.Owner)
	}
	out = append(out, c.ExtraOwners...)
	return out
}

// applyEnv overlays the enumerated environment variables.
func (c *Config) applyEnv(getenv func(string) string) {
	if v := getenv("MSGCODE_OWNER"); v != "" {
		c.Owner = v
	}
	if v := getenv("MSGCODE_OWNER_ONLY_IN_GROUP"); v != "" {
		c.OwnerOnlyInGroup = v == "1"
	}
	if v := getenv("WORKSPACE_ROOT"); v != "" {
		c.WorkspaceRoot = v
	}
	if v := getenv("LOG_LEVEL"); v != "" {
		switch strings.ToLower(v) {
		case "debug", "info", "warn", "error":
			c.Log.Level = strings.ToLower(v)
		}
	}
	if v := getenv("LOG_CONSOLE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Log.Console = b
		}
	}
	if v := getenv("MSGCODE_DESKTOPCTL_PATH"); v != "" {
		c.DesktopctlBin = v
	}
	if v := getenv("IMSG_PATH"); v != "" {
		c.TransportBin = v
	}
	if v := getenv("MSGCODE_API_KEY"); v != "" {
		c.Provider.APIKey = v
	}
}
