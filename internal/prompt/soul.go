// Package prompt assembles the provider message list for agent turns.
package prompt

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/msgcode/msgcode/internal/config"
)

// Soul sources.
const (
	SoulWorkspace = "workspace"
	SoulGlobal    = "global"
	SoulNone      = "none"
)

// Soul is a resolved persona document.
type Soul struct {
	Source  string // workspace|global|none
	Path    string
	Content string
}

// activeSelection is ~/.config/msgcode/souls/active.json.
type activeSelection struct {
	Active string `json:"active"`
}

// ResolveSoul finds the persona for a workspace: the workspace SOUL.md wins,
// then the globally selected soul, then none.
func ResolveSoul(workspacePath string) Soul {
	wsPath := filepath.Join(workspacePath, ".msgcode", "SOUL.md")
	if data, err := os.ReadFile(wsPath); err == nil {
		return Soul{Source: SoulWorkspace, Path: wsPath, Content: string(data)}
	}

	dir := soulsDir()
	if data, err := os.ReadFile(filepath.Join(dir, "active.json")); err == nil {
		var sel activeSelection
		if json.Unmarshal(data, &sel) == nil && sel.Active != "" {
			p := filepath.Join(dir, sel.Active+".md")
			if content, err := os.ReadFile(p); err == nil {
				return Soul{Source: SoulGlobal, Path: p, Content: string(content)}
			}
		}
	}
	return Soul{Source: SoulNone}
}

// ListSouls enumerates the global soul directory (names without .md).
func ListSouls() []string {
	entries, err := os.ReadDir(soulsDir())
	if err != nil {
		return nil
	}
	var out []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".md") {
			continue
		}
		out = append(out, strings.TrimSuffix(name, ".md"))
	}
	sort.Strings(out)
	return out
}

// ActivateSoul records the global selection; name must exist in the soul
// directory.
func ActivateSoul(name string) error {
	dir := soulsDir()
	if _, err := os.Stat(filepath.Join(dir, name+".md")); err != nil {
		return err
	}
	data, err := json.MarshalIndent(activeSelection{Active: name}, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "active.json"), data, 0o644)
}

// soulsDir is swappable in tests.
var soulsDir = func() string {
	return filepath.Join(config.Dir(), "souls")
}
