// Package routes persists the chat-to-workspace bindings.
package routes

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/msgcode/msgcode/internal/errs"
)

// Entry binds one chat to a workspace. Readers receive copies; the store is
// the single owner of the on-disk file.
type Entry struct {
	ChatID        string    `json:"chatId"`
	WorkspacePath string    `json:"workspacePath"`
	Label         string    `json:"label,omitempty"`
	RuntimeKind   string    `json:"runtimeKind"` // agent|client
	Status        string    `json:"status"`      // active|paused|archived
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// Statuses.
const (
	StatusActive   = "active"
	StatusPaused   = "paused"
	StatusArchived = "archived"
)

// Store serializes all reads and writes of routes.json.
type Store struct {
	mu      sync.RWMutex
	path    string
	root    string // canonical workspace root
	entries map[string][]Entry
}

// fileShape is the on-disk representation: all entries per chat, newest last.
type fileShape struct {
	Entries map[string][]entryShape `json:"entries"`
}

// entryShape tolerates unparseable time fields so load can self-heal them.
type entryShape struct {
	ChatID        string `json:"chatId"`
	WorkspacePath string `json:"workspacePath"`
	Label         string `json:"label,omitempty"`
	RuntimeKind   string `json:"runtimeKind"`
	Status        string `json:"status"`
	CreatedAt     string `json:"createdAt"`
	UpdatedAt     string `json:"updatedAt"`
}

// Load opens (or creates) the route store. Unparseable timestamps are healed
// to now and the file rewritten atomically. A corrupt file is a hard error;
// the caller treats it as fatal.
func Load(path, workspaceRoot string) (*Store, error) {
	root, err := filepath.Abs(workspaceRoot)
	if err != nil {
		return nil, err
	}
	s := &Store{path: path, root: root, entries: make(map[string][]Entry)}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, err
	}

	var raw fileShape
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("routes file corrupt: %w", err)
	}

	healed := false
	now := time.Now().UTC()
	for chatID, shapes := range raw.Entries {
		for _, es := range shapes {
			e := Entry{
				ChatID:        es.ChatID,
				WorkspacePath: es.WorkspacePath,
				Label:         es.Label,
				RuntimeKind:   es.RuntimeKind,
				Status:        es.Status,
			}
			if e.ChatID == "" {
				e.ChatID = chatID
			}
			var ok bool
			if e.CreatedAt, ok = parseTime(es.CreatedAt); !ok {
				e.CreatedAt = now
				healed = true
			}
			if e.UpdatedAt, ok = parseTime(es.UpdatedAt); !ok {
				e.UpdatedAt = now
				healed = true
			}
			s.entries[chatID] = append(s.entries[chatID], e)
		}
	}
	if healed {
		slog.Warn("routes: healed unparseable timestamps", "path", path)
		if err := s.save(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func parseTime(s string) (time.Time, bool) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, true
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, true
	}
	return time.Time{}, false
}

// ValidatePath canonicalizes a workspace path and rejects anything outside
// the workspace root.
func (s *Store) ValidatePath(p string) (string, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", errs.Wrap(errs.PathOutOfRoot, err)
	}
	abs = filepath.Clean(abs)
	rel, err := filepath.Rel(s.root, abs)
	if err != nil {
		return "", errs.Wrap(errs.PathOutOfRoot, err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return "", errs.New(errs.PathOutOfRoot, "workspace %s escapes root %s", p, s.root)
	}
	return abs, nil
}

// Root returns the canonical workspace root.
func (s *Store) Root() string { return s.root }

// Get returns the active entry for a chat.
func (s *Store) Get(chatID string) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.entries[chatID] {
		if e.Status == StatusActive {
			return e, true
		}
	}
	return Entry{}, false
}

// Put binds a chat to a workspace, archiving any previous active entry so at
// most one active binding exists per chat.
func (s *Store) Put(e Entry) error {
	ws, err := s.ValidatePath(e.WorkspacePath)
	if err != nil {
		return err
	}
	e.WorkspacePath = ws
	if e.RuntimeKind == "" {
		e.RuntimeKind = "agent"
	}
	now := time.Now().UTC()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.UpdatedAt = now
	e.Status = StatusActive

	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.entries[e.ChatID]
	for i := range list {
		if list[i].Status == StatusActive {
			list[i].Status = StatusArchived
			list[i].UpdatedAt = now
		}
	}
	s.entries[e.ChatID] = append(list, e)
	return s.save()
}

// Archive marks the active entry archived. The entry stays on disk.
func (s *Store) Archive(chatID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.entries[chatID]
	found := false
	now := time.Now().UTC()
	for i := range list {
		if list[i].Status == StatusActive {
			list[i].Status = StatusArchived
			list[i].UpdatedAt = now
			found = true
		}
	}
	if !found {
		return errs.New(errs.NotBound, "chat %s has no active binding", chatID)
	}
	return s.save()
}

// List returns snapshots of all entries, active first, sorted by chat id.
func (s *Store) List() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Entry
	for _, list := range s.entries {
		out = append(out, list...)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ChatID != out[j].ChatID {
			return out[i].ChatID < out[j].ChatID
		}
		return out[i].Status == StatusActive && out[j].Status != StatusActive
	})
	return out
}

// Suggest derives a workspace name from the chat-id suffix, for bare /bind.
func (s *Store) Suggest(chatID string) string {
	suffix := chatID
	if i := strings.LastIndexAny(suffix, ";/"); i >= 0 {
		suffix = suffix[i+1:]
	}
	var b strings.Builder
	for _, r := range strings.ToLower(suffix) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' || r == '_' {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "workspace"
	}
	return b.String()
}

// save writes the file atomically: tmp, fsync, rename. Callers hold s.mu.
func (s *Store) save() error {
	raw := fileShape{Entries: make(map[string][]entryShape, len(s.entries))}
	for chatID, list := range s.entries {
		for _, e := range list {
			raw.Entries[chatID] = append(raw.Entries[chatID], entryShape{
				ChatID:        e.ChatID,
				WorkspacePath: e.WorkspacePath,
				Label:         e.Label,
				RuntimeKind:   e.RuntimeKind,
				Status:        e.Status,
				CreatedAt:     e.CreatedAt.Format(time.RFC3339Nano),
				UpdatedAt:     e.UpdatedAt.Format(time.RFC3339Nano),
			})
		}
	}
	data, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return err
	}
	return atomicWrite(s.path, data)
}

func atomicWrite(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	keep := false
	defer func() {
		if !keep {
			os.Remove(tmpPath)
		}
	}()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return err
	}
	keep = true
	return nil
}
