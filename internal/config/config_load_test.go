package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadRequiresOwner(t *testing.T) {
	t.Setenv("MSGCODE_OWNER", "")
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{workspace_root: "/srv/work"}`), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "owner") {
		t.Errorf("ownerless config loaded: %v", err)
	}

	// The env identity satisfies the requirement.
	t.Setenv("MSGCODE_OWNER", "me@example.com")
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Owner != "me@example.com" {
		t.Errorf("owner = %q", cfg.Owner)
	}
}

func TestLoadMissingFileStillRequiresOwner(t *testing.T) {
	t.Setenv("MSGCODE_OWNER", "")
	if _, err := Load(filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Error("defaults without an owner accepted")
	}
}

func TestSaveNeverPersistsAPIKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	cfg := Default()
	cfg.Owner = "me@example.com"
	cfg.Provider.APIKey = "sk-secret"
	if err := Save(path, cfg); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "sk-secret") {
		t.Error("api key written to disk")
	}
}
