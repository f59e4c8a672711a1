// Package bus defines the message types that flow between the transport,
// the ingress loop, and the runtime orchestrator.
package bus

import "time"

// Turn sources. Synthetic turns carry a prefixed source so downstream
// logging and backpressure can tell them apart from user traffic.
const (
	SourceUser     = "user"
	SourceSchedule = "schedule" // actual value is "schedule:<jobId>"
	SourceSteer    = "steer"
	SourceFollowUp = "followUp"
)

// Inbound is one unit of work for the orchestrator: a user message that
// survived dedup and cursor filtering, or a synthetic message emitted by the
// scheduler or the intervention queue.
type Inbound struct {
	ChatID   string    `json:"chat_id"`
	SenderID string    `json:"sender_id,omitempty"`
	Text     string    `json:"text"`
	Rowid    int64     `json:"rowid,omitempty"`
	Source   string    `json:"source"`
	Ts       time.Time `json:"ts"`
}

// IsSynthetic reports whether the message did not originate from the
// messaging surface.
func (m Inbound) IsSynthetic() bool { return m.Source != SourceUser }

// Outbound is a reply headed back through the transport.
type Outbound struct {
	ChatID         string `json:"chat_id"`
	Text           string `json:"text"`
	AttachmentPath string `json:"attachment_path,omitempty"`
}
