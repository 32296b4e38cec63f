package models

// Message kinds accepted by the log. Anything else is rejected at append.
const (
	KindText   = "text"
	KindSystem = "system"
	KindEmoji  = "emoji"
)

type Message struct {
	ID      string `json:"id"`
	Channel string `json:"channel"`
	Author  string `json:"author"`
	Name    string `json:"name,omitempty"`
	Avatar  string `json:"avatar,omitempty"`
	Body    string `json:"body"`
	Kind    string `json:"kind"`
	// Seq is the creation log position, strictly increasing per channel.
	// It is the ordering key; wall clock is informational only.
	Seq uint64 `json:"seq"`
	// LastSeq is the log position of the latest mutation of this record
	// (create, edit or delete). Poll cursors compare against it.
	LastSeq   uint64 `json:"last_seq"`
	CreatedTS int64  `json:"created_ts"`
	// EditedTS is zero until the first edit.
	EditedTS int64 `json:"edited_ts,omitempty"`
	// DeletedTS marks the record as a tombstone; the id is never reused.
	DeletedTS int64 `json:"deleted_ts,omitempty"`
	// ClientID echoes a client-generated provisional id so optimistic
	// senders can correlate the authoritative copy. Opaque to the server.
	ClientID string `json:"client_id,omitempty"`
}

// Deleted reports whether the record is a tombstone.
func (m *Message) Deleted() bool { return m.DeletedTS != 0 }

// ValidKind reports whether k is one of the accepted message kinds.
func ValidKind(k string) bool {
	switch k {
	case KindText, KindSystem, KindEmoji:
		return true
	}
	return false
}

type Channel struct {
	ID        string `json:"id"`
	CreatedTS int64  `json:"created_ts,omitempty"`
	UpdatedTS int64  `json:"updated_ts,omitempty"`
	// LastSeq is the highest log position handed out in this channel.
	LastSeq uint64 `json:"last_seq"`
}
