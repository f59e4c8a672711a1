package ingress

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/msgcode/msgcode/internal/bus"
	"github.com/msgcode/msgcode/internal/config"
	"github.com/msgcode/msgcode/internal/state"
	"github.com/msgcode/msgcode/internal/transport"
)

// Lister is the slice of the transport adapter the loop reads from.
type Lister interface {
	List(ctx context.Context, since time.Time) ([]transport.Message, error)
}

// Handler processes one inbound turn. Calls for the same chat arrive
// strictly in order; calls across chats run concurrently up to the ceiling.
type Handler func(ctx context.Context, msg bus.Inbound)

// Loop polls the transport on a fixed tick and dispatches surviving messages
// to per-chat FIFO workers.
type Loop struct {
	cfg              config.IngressConfig
	tr               Lister
	gate             *Gate
	cursors          *state.Store
	owners           []string
	ownerOnlyInGroup bool
	handle           Handler

	sem chan struct{} // cross-chat turn ceiling

	mu     sync.Mutex
	queues map[string]*chatQueue
	wg     sync.WaitGroup
}

type chatQueue struct {
	mu    sync.Mutex
	items []bus.Inbound
	wake  chan struct{}
}

// NewLoop wires the polling loop. owners is the whitelisted identity list.
func NewLoop(cfg config.IngressConfig, tr Lister, gate *Gate, cursors *state.Store, owners []string, ownerOnlyInGroup bool, handle Handler) *Loop {
	maxParallel := cfg.MaxParallel
	if maxParallel <= 0 {
		maxParallel = 4
	}
	return &Loop{
		cfg:              cfg,
		tr:               tr,
		gate:             gate,
		cursors:          cursors,
		owners:           owners,
		ownerOnlyInGroup: ownerOnlyInGroup,
		handle:           handle,
		sem:              make(chan struct{}, maxParallel),
		queues:           make(map[string]*chatQueue),
	}
}

func (l *Loop) tick() time.Duration {
	if l.cfg.TickMs > 0 {
		return time.Duration(l.cfg.TickMs) * time.Millisecond
	}
	return 2 * time.Second
}

func (l *Loop) softCap() int {
	if l.cfg.QueueSoftCap > 0 {
		return l.cfg.QueueSoftCap
	}
	return 32
}

// Run polls until ctx is cancelled, then waits for in-flight turns.
func (l *Loop) Run(ctx context.Context) error {
	tick := l.tick()
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			l.wg.Wait()
			return ctx.Err()
		case <-ticker.C:
			l.poll(ctx)
		}
	}
}

// poll fetches new messages since the newest cursor minus a small overlap.
// The overlap re-reads the boundary; dedup absorbs the repeats.
func (l *Loop) poll(ctx context.Context) {
	tick := l.tick()
	overlap := tick
	if overlap > time.Second {
		overlap = time.Second
	}
	since := l.cursors.MaxLastSeenAt()
	if since.IsZero() {
		since = time.Now().Add(-tick)
	}
	since = since.Add(-overlap)

	msgs, err := l.tr.List(ctx, since)
	if err != nil {
		slog.Warn("ingress: list failed", "err", err)
		return
	}
	for _, m := range msgs {
		l.ingest(ctx, m)
	}
}

func (l *Loop) ingest(ctx context.Context, m transport.Message) {
	chatID := transport.NormalizeChatID(m.ChatID)
	if m.Rowid <= l.cursors.Get(chatID).LastSeenRowid {
		return
	}
	if !l.allowed(chatID, m) {
		slog.Debug("ingress: sender not whitelisted", "chat", chatID, "fromMe", m.IsFromMe)
		return
	}
	if !l.gate.Admit(m.ID, chatID, m.Text, m.Time()) {
		slog.Debug("ingress: duplicate dropped", "chat", chatID, "id", m.ID)
		return
	}
	l.enqueue(ctx, bus.Inbound{
		ChatID:   chatID,
		SenderID: transport.NormalizeSender(m.SenderID),
		Text:     m.Text,
		Rowid:    m.Rowid,
		Source:   bus.SourceUser,
		Ts:       m.Time(),
	})
	if err := l.cursors.Advance(chatID, m.Rowid, m.ID, m.Time()); err != nil {
		slog.Warn("ingress: cursor save failed", "chat", chatID, "err", err)
	}
}

// SetOwners replaces the whitelist at runtime (/owner add|remove).
func (l *Loop) SetOwners(owners []string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.owners = owners
}

// SetOwnerOnly toggles group-chat owner-only mode at runtime.
func (l *Loop) SetOwnerOnly(on bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ownerOnlyInGroup = on
}

// allowed applies the whitelist. Self-sent messages count only when the
// sender matches an owner identity; in group chats non-owner senders are
// ignored when owner-only mode is set.
func (l *Loop) allowed(chatID string, m transport.Message) bool {
	l.mu.Lock()
	owners := l.owners
	ownerOnly := l.ownerOnlyInGroup
	l.mu.Unlock()

	isOwner := false
	for _, o := range owners {
		if transport.SameIdentity(o, m.SenderID) {
			isOwner = true
			break
		}
	}
	if m.IsFromMe {
		return isOwner
	}
	if isGroupChat(chatID) && !ownerOnly {
		return true
	}
	return isOwner
}

// Group chat ids carry a "chat" prefix on the messaging surface; direct
// chats use the peer handle.
func isGroupChat(chatID string) bool {
	return strings.HasPrefix(chatID, "chat")
}

// EnqueueSynthetic injects a scheduler- or intervention-originated turn into
// the chat's FIFO, bypassing the gate and cursor.
func (l *Loop) EnqueueSynthetic(ctx context.Context, msg bus.Inbound) {
	if msg.Ts.IsZero() {
		msg.Ts = time.Now()
	}
	l.enqueue(ctx, msg)
}

func (l *Loop) enqueue(ctx context.Context, msg bus.Inbound) {
	l.mu.Lock()
	q, ok := l.queues[msg.ChatID]
	if !ok {
		q = &chatQueue{wake: make(chan struct{}, 1)}
		l.queues[msg.ChatID] = q
		l.wg.Add(1)
		go l.worker(ctx, msg.ChatID, q)
	}
	l.mu.Unlock()

	q.mu.Lock()
	q.items = append(q.items, msg)
	if len(q.items) > l.softCap() {
		q.items = dropStaleSchedules(q.items)
	}
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// dropStaleSchedules sheds backlog by removing schedule-sourced entries.
// User messages are never dropped.
func dropStaleSchedules(items []bus.Inbound) []bus.Inbound {
	kept := items[:0]
	dropped := 0
	for _, it := range items {
		if strings.HasPrefix(it.Source, bus.SourceSchedule) {
			dropped++
			continue
		}
		kept = append(kept, it)
	}
	if dropped > 0 {
		slog.Warn("ingress: queue over soft cap, dropped stale schedule turns", "dropped", dropped)
	}
	return kept
}

// worker drains one chat's queue in FIFO order, one turn at a time.
func (l *Loop) worker(ctx context.Context, chatID string, q *chatQueue) {
	defer l.wg.Done()
	limiter := l.gate.Limiter(chatID)
	for {
		q.mu.Lock()
		var msg bus.Inbound
		have := len(q.items) > 0
		if have {
			msg = q.items[0]
			q.items = q.items[1:]
		}
		q.mu.Unlock()

		if !have {
			select {
			case <-ctx.Done():
				return
			case <-q.wake:
				continue
			}
		}

		// Rate-limit rather than drop: bursts queue behind the bucket.
		if err := limiter.Wait(ctx); err != nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case l.sem <- struct{}{}:
		}
		l.handle(ctx, msg)
		<-l.sem
	}
}
