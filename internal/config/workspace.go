package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/titanous/json5"
)

// Runtime kinds.
const (
	KindAgent  = "agent"
	KindClient = "client"
)

// Policy modes.
const (
	PolicyLocalOnly     = "local-only"
	PolicyEgressAllowed = "egress-allowed"
)

// Tooling modes.
const (
	ToolingExplicit   = "explicit"
	ToolingAutonomous = "autonomous"
)

// Workspace is the per-workspace configuration at <ws>/.msgcode/config.json.
// Only the enumerated keys are recognized; unknown keys are ignored.
type Workspace struct {
	Runtime struct {
		Kind string `json:"kind"` // agent|client
	} `json:"runtime"`
	Agent struct {
		Provider string `json:"provider"`
	} `json:"agent"`
	Tmux struct {
		Client string `json:"client"` // external CLI hosted in the pane
	} `json:"tmux"`
	Policy struct {
		Mode string `json:"mode"` // local-only|egress-allowed
	} `json:"policy"`
	Pi struct {
		Enabled bool `json:"enabled"` // tool loop on/off
	} `json:"pi"`
	Tooling struct {
		Mode  string   `json:"mode"` // explicit|autonomous
		Allow []string `json:"allow,omitempty"`
	} `json:"tooling"`
	Memory struct {
		Inject struct {
			Enabled  bool `json:"enabled"`
			TopK     int  `json:"topK,omitempty"`
			MaxChars int  `json:"maxChars,omitempty"`
		} `json:"inject"`
		Fuse struct {
			VectorWeight float64 `json:"vectorWeight,omitempty"`
			TextWeight   float64 `json:"textWeight,omitempty"`
		} `json:"fuse"`
	} `json:"memory"`

	// Legacy key, read-only: mapped onto the runtime triple on load.
	Runner struct {
		Default string `json:"default,omitempty"`
	} `json:"runner"`
}

// DefaultWorkspace returns the effective config for a workspace with no file.
func DefaultWorkspace() *Workspace {
	w := &Workspace{}
	w.Runtime.Kind = KindAgent
	w.Agent.Provider = "lmstudio"
	w.Policy.Mode = PolicyLocalOnly
	// Autonomous with an empty allow-list admits the built-in tool set; a
	// fresh workspace can run /pi on and use bash without hand-editing an
	// allow-list. Explicit mode is the opt-in lockdown.
	w.Tooling.Mode = ToolingAutonomous
	w.Memory.Inject.Enabled = true
	w.Memory.Inject.TopK = 5
	w.Memory.Inject.MaxChars = 2000
	w.Memory.Fuse.VectorWeight = 0.7
	w.Memory.Fuse.TextWeight = 0.3
	return w
}

// LoadWorkspace reads <wsPath>/.msgcode/config.json. Missing file yields
// defaults. Malformed content also yields defaults, with a warning, so one
// bad workspace never takes the runtime down.
func LoadWorkspace(wsPath string) *Workspace {
	w := DefaultWorkspace()
	path := filepath.Join(wsPath, ".msgcode", "config.json")
	data, err := os.ReadFile(path)
	if err != nil {
		return w
	}
	if err := json5.Unmarshal(data, w); err != nil {
		slog.Warn("workspace config unparseable, using defaults", "path", path, "error", err)
		return DefaultWorkspace()
	}
	w.normalize()
	return w
}

// normalize fills defaults and applies the legacy runner.default mapping.
func (w *Workspace) normalize() {
	switch w.Runtime.Kind {
	case KindAgent, KindClient:
	default:
		w.Runtime.Kind = KindAgent
	}
	switch w.Policy.Mode {
	case PolicyLocalOnly, PolicyEgressAllowed:
	default:
		w.Policy.Mode = PolicyLocalOnly
	}
	switch w.Tooling.Mode {
	case ToolingExplicit, ToolingAutonomous:
	default:
		w.Tooling.Mode = ToolingAutonomous
	}
	if w.Memory.Inject.TopK <= 0 {
		w.Memory.Inject.TopK = 5
	}
	if w.Memory.Inject.MaxChars <= 0 {
		w.Memory.Inject.MaxChars = 2000
	}
	if w.Memory.Fuse.VectorWeight <= 0 {
		w.Memory.Fuse.VectorWeight = 0.7
	}
	if w.Memory.Fuse.TextWeight <= 0 {
		w.Memory.Fuse.TextWeight = 0.3
	}

	// Legacy runner.default maps onto the new triple. Unknown runners
	// warn-and-degrade to lmstudio (log only, no user-visible message).
	if w.Runner.Default != "" && w.Agent.Provider == "" {
		switch w.Runner.Default {
		case "llama", "claude":
			slog.Warn("legacy runner.default degraded to lmstudio", "runner", w.Runner.Default)
			w.Agent.Provider = "lmstudio"
		default:
			w.Agent.Provider = w.Runner.Default
		}
		w.Runtime.Kind = KindAgent
	}
	if w.Agent.Provider == "" {
		w.Agent.Provider = "lmstudio"
	}
}

// cachedWorkspace memoizes a workspace config by file mtime so command
// handlers can re-read it per turn cheaply.
type cachedWorkspace struct {
	ws    *Workspace
	mtime time.Time
}

var (
	wsCacheMu sync.Mutex
	wsCache   = make(map[string]cachedWorkspace)
)

// WorkspaceFor returns the workspace config, re-reading only when the file
// changed. Edits via /model, /policy or /pi take effect on the next turn.
func WorkspaceFor(wsPath string) *Workspace {
	path := filepath.Join(wsPath, ".msgcode", "config.json")
	info, err := os.Stat(path)

	wsCacheMu.Lock()
	defer wsCacheMu.Unlock()
	if err == nil {
		if c, ok := wsCache[wsPath]; ok && c.mtime.Equal(info.ModTime()) {
			return c.ws
		}
	}
	w := LoadWorkspace(wsPath)
	if err == nil {
		wsCache[wsPath] = cachedWorkspace{ws: w, mtime: info.ModTime()}
	} else {
		delete(wsCache, wsPath)
	}
	return w
}

// SaveWorkspace writes the workspace config atomically (tmp+rename).
func SaveWorkspace(wsPath string, w *Workspace) error {
	dir := filepath.Join(wsPath, ".msgcode")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	data, err := marshalIndent(w)
	if err != nil {
		return err
	}
	path := filepath.Join(dir, "config.json")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	wsCacheMu.Lock()
	delete(wsCache, wsPath)
	wsCacheMu.Unlock()
	return nil
}
