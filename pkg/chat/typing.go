package chat

import (
	"sort"
	"sync"
	"time"
)

// DefaultTypingTTL is how long a typing entry lives without a refresh.
const DefaultTypingTTL = 2 * time.Second

// Typing holds the ephemeral per-channel typing indicators. Entries are
// memory-only, never persisted, and lazily evicted on read once expired.
type Typing struct {
	ttl time.Duration
	now func() time.Time

	mu sync.Mutex
	// channel -> user -> expiry (ns)
	m map[string]map[string]int64
}

func NewTyping(ttl time.Duration) *Typing {
	if ttl <= 0 {
		ttl = DefaultTypingTTL
	}
	return &Typing{ttl: ttl, now: time.Now, m: make(map[string]map[string]int64)}
}

// Start inserts or refreshes the typing entry. Malformed input is ignored.
func (t *Typing) Start(channel, userID string) {
	if channel == "" || userID == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	users, ok := t.m[channel]
	if !ok {
		users = make(map[string]int64)
		t.m[channel] = users
	}
	users[userID] = t.now().Add(t.ttl).UnixNano()
}

// Stop removes the entry immediately.
func (t *Typing) Stop(channel, userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if users, ok := t.m[channel]; ok {
		delete(users, userID)
		if len(users) == 0 {
			delete(t.m, channel)
		}
	}
}

// Active returns the users still typing in the channel, expired entries
// evicted on the way. Sorted for stable output.
func (t *Typing) Active(channel string) []string {
	now := t.now().UnixNano()
	t.mu.Lock()
	defer t.mu.Unlock()
	users, ok := t.m[channel]
	if !ok {
		return nil
	}
	var out []string
	for u, exp := range users {
		if exp <= now {
			delete(users, u)
			continue
		}
		out = append(out, u)
	}
	if len(users) == 0 {
		delete(t.m, channel)
	}
	sort.Strings(out)
	return out
}
