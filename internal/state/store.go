// Package state persists per-chat ingest cursors.
package state

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// ChatState is the ingest cursor for one chat. LastSeenRowid is monotonic;
// it advances after a successful enqueue, not after the reply.
type ChatState struct {
	ChatID        string    `json:"chatId"`
	LastSeenRowid int64     `json:"lastSeenRowid"`
	LastMessageID string    `json:"lastMessageId,omitempty"`
	LastSeenAt    time.Time `json:"lastSeenAt"`
	MessageCount  int64     `json:"messageCount"`
}

// Store owns state.json; all writes go through it.
type Store struct {
	mu    sync.RWMutex
	path  string
	chats map[string]ChatState
}

// Load opens (or creates) the cursor store. An unreadable file starts fresh:
// cursors are recoverable state, losing them only causes re-delivery that the
// dedup gate absorbs.
func Load(path string) (*Store, error) {
	s := &Store{path: path, chats: make(map[string]ChatState)}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, err
	}
	var raw map[string]ChatState
	if err := json.Unmarshal(data, &raw); err == nil {
		s.chats = raw
	}
	return s, nil
}

// Get returns the cursor for a chat (zero value when unseen).
func (s *Store) Get(chatID string) ChatState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cs := s.chats[chatID]
	cs.ChatID = chatID
	return cs
}

// Advance moves the cursor forward. Rowids never regress.
func (s *Store) Advance(chatID string, rowid int64, messageID string, ts time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cs := s.chats[chatID]
	cs.ChatID = chatID
	if rowid > cs.LastSeenRowid {
		cs.LastSeenRowid = rowid
		cs.LastMessageID = messageID
	}
	if ts.After(cs.LastSeenAt) {
		cs.LastSeenAt = ts
	}
	cs.MessageCount++
	s.chats[chatID] = cs
	return s.save()
}

// Reset zeroes the cursor for a chat (the /reset-cursor command).
func (s *Store) Reset(chatID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.chats, chatID)
	return s.save()
}

// MaxLastSeenAt returns the newest cursor timestamp across chats; the
// ingress loop polls from there minus the overlap.
func (s *Store) MaxLastSeenAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var max time.Time
	for _, cs := range s.chats {
		if cs.LastSeenAt.After(max) {
			max = cs.LastSeenAt
		}
	}
	return max
}

// save writes atomically. Callers hold s.mu.
func (s *Store) save() error {
	data, err := json.MarshalIndent(s.chats, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), "state-*.tmp")
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
	if err := os.Rename(tmpPath, s.path); err != nil {
		return err
	}
	keep = true
	return nil
}
