package models

// PresenceRecord is the stored per-user activity record. One record per
// user id; simultaneous connections collapse last-writer-wins.
type PresenceRecord struct {
	UserID string `json:"user_id"`
	// Status is an optional self-declared status ("away", "busy", ...).
	Status         string `json:"status,omitempty"`
	LastActivityTS int64  `json:"last_activity_ts"`
}

// PresenceEntry is the derived view returned to callers. Online is computed
// at read time against the freshness window, never stored.
type PresenceEntry struct {
	UserID         string `json:"user_id"`
	Online         bool   `json:"online"`
	Status         string `json:"status,omitempty"`
	LastActivityTS int64  `json:"last_activity_ts"`
}
