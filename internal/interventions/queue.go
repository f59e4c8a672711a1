// Package interventions holds the per-chat steer and follow-up queues.
//
// A steer is drained between tool executions inside the current turn and
// short-circuits the remaining tool calls. A follow-up is drained after the
// turn completes and becomes the next user message.
package interventions

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Kinds.
const (
	KindSteer    = "steer"
	KindFollowUp = "followUp"
)

// Intervention is one queued /steer or /next message.
type Intervention struct {
	ID         string    `json:"id"`
	Kind       string    `json:"kind"`
	ChatID     string    `json:"chatId"`
	Message    string    `json:"message"`
	EnqueuedAt time.Time `json:"enqueuedAt"`
}

// Queue keeps two FIFO lists per chat.
type Queue struct {
	mu        sync.Mutex
	steers    map[string][]Intervention
	followUps map[string][]Intervention
}

// New builds an empty queue.
func New() *Queue {
	return &Queue{
		steers:    make(map[string][]Intervention),
		followUps: make(map[string][]Intervention),
	}
}

// PushSteer enqueues a steer for a chat and returns its id.
func (q *Queue) PushSteer(chatID, message string) string {
	return q.push(q.steers, KindSteer, chatID, message)
}

// PushFollowUp enqueues a follow-up for a chat and returns its id.
func (q *Queue) PushFollowUp(chatID, message string) string {
	return q.push(q.followUps, KindFollowUp, chatID, message)
}

func (q *Queue) push(m map[string][]Intervention, kind, chatID, message string) string {
	q.mu.Lock()
	defer q.mu.Unlock()
	iv := Intervention{
		ID:         uuid.NewString(),
		Kind:       kind,
		ChatID:     chatID,
		Message:    message,
		EnqueuedAt: time.Now(),
	}
	m[chatID] = append(m[chatID], iv)
	return iv.ID
}

// PopSteer removes and returns the oldest steer for a chat.
func (q *Queue) PopSteer(chatID string) (Intervention, bool) {
	return q.pop(q.steers, chatID)
}

// PopFollowUp removes and returns the oldest follow-up for a chat.
func (q *Queue) PopFollowUp(chatID string) (Intervention, bool) {
	return q.pop(q.followUps, chatID)
}

func (q *Queue) pop(m map[string][]Intervention, chatID string) (Intervention, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	list := m[chatID]
	if len(list) == 0 {
		return Intervention{}, false
	}
	iv := list[0]
	m[chatID] = list[1:]
	return iv, true
}

// Pending reports the queue depths for a chat.
func (q *Queue) Pending(chatID string) (steers, followUps int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.steers[chatID]), len(q.followUps[chatID])
}

// Clear drops all queued interventions for a chat.
func (q *Queue) Clear(chatID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.steers, chatID)
	delete(q.followUps, chatID)
}
