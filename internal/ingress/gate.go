// Package ingress polls the transport and feeds the per-chat work queues.
package ingress

import (
	"container/list"
	"hash/fnv"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	seenIDTrimThreshold = 10000
	seenIDWindow        = time.Hour
	contentHashCap      = 200

	// contentHashWindow bounds how long a content hash counts as a
	// duplicate. The cache exists to absorb the poll overlap, not to stop
	// a user from legitimately sending the same text again later.
	contentHashWindow = 5 * time.Second
)

// Gate drops duplicate messages that leak through the polling overlap and
// rate-limits per-chat processing.
type Gate struct {
	mu sync.Mutex

	// seenIds maps messageId to first-seen time; trimmed to the last hour
	// once it crosses the threshold.
	seenIDs map[string]time.Time

	// recentContentHashes is a bounded LRU of hash(chatId+text).
	hashOrder *list.List
	hashes    map[string]*list.Element

	limiters map[string]*rate.Limiter
}

type hashEntry struct {
	key string
	ts  time.Time
}

// NewGate builds an empty gate.
func NewGate() *Gate {
	return &Gate{
		seenIDs:   make(map[string]time.Time),
		hashOrder: list.New(),
		hashes:    make(map[string]*list.Element),
		limiters:  make(map[string]*rate.Limiter),
	}
}

// Admit reports whether the message should be processed. A false return
// means it was a duplicate by id or by content.
func (g *Gate) Admit(messageID, chatID, text string, now time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if messageID != "" {
		if _, dup := g.seenIDs[messageID]; dup {
			return false
		}
		g.seenIDs[messageID] = now
		if len(g.seenIDs) > seenIDTrimThreshold {
			g.trimSeenLocked(now)
		}
	}

	h := fnv.New64a()
	h.Write([]byte(chatID))
	h.Write([]byte{0})
	h.Write([]byte(text))
	key := strconv.FormatUint(h.Sum64(), 16)
	if el, dup := g.hashes[key]; dup {
		e := el.Value.(*hashEntry)
		g.hashOrder.MoveToFront(el)
		fresh := now.Sub(e.ts) < contentHashWindow
		e.ts = now
		if fresh {
			return false
		}
		return true
	}
	g.hashes[key] = g.hashOrder.PushFront(&hashEntry{key: key, ts: now})
	for g.hashOrder.Len() > contentHashCap {
		oldest := g.hashOrder.Back()
		g.hashOrder.Remove(oldest)
		delete(g.hashes, oldest.Value.(*hashEntry).key)
	}
	return true
}

func (g *Gate) trimSeenLocked(now time.Time) {
	cutoff := now.Add(-seenIDWindow)
	for id, ts := range g.seenIDs {
		if ts.Before(cutoff) {
			delete(g.seenIDs, id)
		}
	}
}

// Limiter returns the per-chat token bucket (1 msg/s, burst 3). Workers call
// Wait on it before starting a turn so bursts queue instead of dropping.
func (g *Gate) Limiter(chatID string) *rate.Limiter {
	g.mu.Lock()
	defer g.mu.Unlock()
	l, ok := g.limiters[chatID]
	if !ok {
		l = rate.NewLimiter(rate.Limit(1), 3)
		g.limiters[chatID] = l
	}
	return l
}
