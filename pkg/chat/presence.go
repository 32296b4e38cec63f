package chat

import (
	"sort"
	"sync"
	"time"

	"chatcore/pkg/models"
)

// DefaultOnlineWindow is how recent activity must be for a user to count
// as online.
const DefaultOnlineWindow = 5 * time.Minute

// Presence tracks last-activity per user. Touches are lock-free upserts
// (sync.Map, last-writer-wins): multiple simultaneous connections from the
// same user collapse into one record. Online-ness is derived at read time,
// never stored.
type Presence struct {
	window time.Duration
	now    func() time.Time
	m      sync.Map // user id -> models.PresenceRecord
}

func NewPresence(window time.Duration) *Presence {
	if window <= 0 {
		window = DefaultOnlineWindow
	}
	return &Presence{window: window, now: time.Now}
}

// Touch upserts the user's last-activity timestamp. status is optional and
// overwrites the declared status when non-empty. Never fails; empty user
// ids are ignored.
func (p *Presence) Touch(userID, status string) {
	if userID == "" {
		return
	}
	rec := models.PresenceRecord{UserID: userID, Status: status, LastActivityTS: p.now().UTC().UnixNano()}
	if status == "" {
		if prev, ok := p.m.Load(userID); ok {
			rec.Status = prev.(models.PresenceRecord).Status
		}
	}
	p.m.Store(userID, rec)
}

// Snapshot returns the derived presence view, computed against the
// freshness window at call time. Sorted by user id for stable output.
func (p *Presence) Snapshot() []models.PresenceEntry {
	cut := p.now().UTC().Add(-p.window).UnixNano()
	var out []models.PresenceEntry
	p.m.Range(func(_, v any) bool {
		rec := v.(models.PresenceRecord)
		out = append(out, models.PresenceEntry{
			UserID:         rec.UserID,
			Online:         rec.LastActivityTS >= cut,
			Status:         rec.Status,
			LastActivityTS: rec.LastActivityTS,
		})
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}
