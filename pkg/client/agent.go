package client

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"chatcore/pkg/models"
)

// Agent maintains the local replica of one channel: the ordered confirmed
// log, optimistic sends awaiting their server echo, and the ephemeral
// typing and presence views. It is transport-agnostic; the transport
// feeds it push events or poll deltas and it converges either way.
type Agent struct {
	mu      sync.Mutex
	channel string
	selfID  string

	// confirmed messages ordered by Seq
	msgs []models.Message
	byID map[string]int
	// optimistic sends keyed by client id, in send order
	pending      []models.Message
	pendingByCID map[string]int
	// client ids already confirmed, so a retried send that both copies of
	// survive is collapsed to one visible message
	confirmed map[string]bool

	cursor   uint64
	typers   []string
	presence []models.PresenceEntry
}

func NewAgent(channel, selfID string) *Agent {
	return &Agent{
		channel:      channel,
		selfID:       selfID,
		byID:         map[string]int{},
		pendingByCID: map[string]int{},
		confirmed:    map[string]bool{},
	}
}

// Cursor returns the poll cursor for the next delta fetch.
func (a *Agent) Cursor() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cursor
}

// OptimisticSend records a local send and returns the message with its
// client id assigned. The message shows up in Messages immediately and is
// replaced in place when the server echo arrives.
func (a *Agent) OptimisticSend(body, kind string) models.Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	m := models.Message{
		Channel:   a.channel,
		Author:    a.selfID,
		Body:      body,
		Kind:      kind,
		ClientID:  uuid.NewString(),
		CreatedTS: time.Now().UTC().UnixNano(),
	}
	a.pendingByCID[m.ClientID] = len(a.pending)
	a.pending = append(a.pending, m)
	return m
}

// Pending returns optimistic sends not yet confirmed, oldest first. The
// transport retries these after a reconnect; retries are safe because a
// confirmed client id is never surfaced twice.
func (a *Agent) Pending() []models.Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]models.Message, len(a.pending))
	copy(out, a.pending)
	return out
}

// Apply folds one push event into the replica.
func (a *Agent) Apply(ev models.Event) {
	a.mu.Lock()
	defer a.mu.Unlock()
	switch ev.Type {
	case models.EventMessage, models.EventEdited:
		if ev.Message != nil {
			a.upsert(*ev.Message)
		}
	case models.EventDeleted:
		a.remove(ev.DeletedID)
	case models.EventTyping:
		a.applyTyping(ev.UserID, ev.Typing)
	}
	if ev.Seq > a.cursor {
		a.cursor = ev.Seq
	}
}

// ApplyDelta folds a poll delta into the replica.
func (a *Agent) ApplyDelta(d models.Delta) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, m := range d.Messages {
		a.upsert(m)
	}
	for _, id := range d.DeletedIDs {
		a.remove(id)
	}
	a.typers = d.Typers
	a.presence = d.Presence
	if d.NextCursor > a.cursor {
		a.cursor = d.NextCursor
	}
}

// upsert inserts or replaces a confirmed message, keeping Seq order, and
// retires any optimistic copy it echoes. Caller holds the lock.
func (a *Agent) upsert(m models.Message) {
	if m.ClientID != "" {
		if a.confirmed[m.ClientID] {
			if _, ok := a.byID[m.ID]; !ok {
				// duplicate append from a retried send: drop it
				return
			}
		}
		a.confirmed[m.ClientID] = true
		a.retirePending(m.ClientID)
	}
	if i, ok := a.byID[m.ID]; ok {
		a.msgs[i] = m
		return
	}
	// insert by Seq; appends are the common case
	i := sort.Search(len(a.msgs), func(i int) bool { return a.msgs[i].Seq >= m.Seq })
	a.msgs = append(a.msgs, models.Message{})
	copy(a.msgs[i+1:], a.msgs[i:])
	a.msgs[i] = m
	a.reindex(i)
}

func (a *Agent) remove(id string) {
	i, ok := a.byID[id]
	if !ok {
		return
	}
	delete(a.byID, id)
	a.msgs = append(a.msgs[:i], a.msgs[i+1:]...)
	a.reindex(i)
}

func (a *Agent) reindex(from int) {
	for i := from; i < len(a.msgs); i++ {
		a.byID[a.msgs[i].ID] = i
	}
}

func (a *Agent) retirePending(clientID string) {
	i, ok := a.pendingByCID[clientID]
	if !ok {
		return
	}
	delete(a.pendingByCID, clientID)
	a.pending = append(a.pending[:i], a.pending[i+1:]...)
	for j := i; j < len(a.pending); j++ {
		a.pendingByCID[a.pending[j].ClientID] = j
	}
}

func (a *Agent) applyTyping(userID string, typing bool) {
	for i, t := range a.typers {
		if t == userID {
			if !typing {
				a.typers = append(a.typers[:i], a.typers[i+1:]...)
			}
			return
		}
	}
	if typing {
		a.typers = append(a.typers, userID)
		sort.Strings(a.typers)
	}
}

// Messages returns the current view: the confirmed log in Seq order
// followed by optimistic sends in send order.
func (a *Agent) Messages() []models.Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]models.Message, 0, len(a.msgs)+len(a.pending))
	out = append(out, a.msgs...)
	out = append(out, a.pending...)
	return out
}

// Typers returns who is currently typing, per the latest delta or events.
func (a *Agent) Typers() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.typers))
	copy(out, a.typers)
	return out
}

// Presence returns the roster from the latest delta.
func (a *Agent) Presence() []models.PresenceEntry {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]models.PresenceEntry, len(a.presence))
	copy(out, a.presence)
	return out
}
