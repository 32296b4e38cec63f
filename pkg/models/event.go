package models

// Event types fanned out to push subscribers and folded into poll deltas.
const (
	EventMessage = "message"
	EventEdited  = "message_edited"
	EventDeleted = "message_deleted"
	EventTyping  = "typing"
)

// Event is the single wire shape for every mutation, regardless of which
// transport delivers it. Exactly one of the payload fields is set per type.
type Event struct {
	Type    string   `json:"type"`
	Channel string   `json:"channel,omitempty"`
	Message *Message `json:"message,omitempty"`
	// DeletedID identifies the tombstoned message for EventDeleted.
	DeletedID string `json:"deleted_id,omitempty"`
	UserID    string `json:"user_id,omitempty"`
	Typing    bool   `json:"typing,omitempty"`
	// Seq is the channel log position of the mutation, when it has one.
	Seq uint64 `json:"seq,omitempty"`
}

// Delta is the poll response: everything that happened in a channel since
// the cursor, plus the current ephemeral state.
type Delta struct {
	Channel    string          `json:"channel"`
	Messages   []Message       `json:"messages"`
	DeletedIDs []string        `json:"deleted_ids"`
	Typers     []string        `json:"typers"`
	Presence   []PresenceEntry `json:"presence"`
	NextCursor uint64          `json:"next_cursor"`
}
