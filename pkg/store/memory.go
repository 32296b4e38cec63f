package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"chatcore/pkg/models"
)

// Memory is the default engine: a per-channel in-memory log. It exists so
// the core runs without any external store plugged in; durability across
// restarts is explicitly not its concern.
type Memory struct {
	mu       sync.RWMutex
	byID     map[string]*models.Message
	channels map[string]*memChannel
	closed   bool
}

type memChannel struct {
	meta models.Channel
	// events indexes records by their current LastSeq; a record occupies
	// exactly one slot, moved forward on every mutation.
	events map[uint64]*models.Message
}

func NewMemory() *Memory {
	return &Memory{
		byID:     make(map[string]*models.Message),
		channels: make(map[string]*memChannel),
	}
}

func (s *Memory) channel(id string) *memChannel {
	c, ok := s.channels[id]
	if !ok {
		c = &memChannel{
			meta:   models.Channel{ID: id, CreatedTS: time.Now().UTC().UnixNano()},
			events: make(map[uint64]*models.Message),
		}
		s.channels[id] = c
	}
	return c
}

func (s *Memory) SaveMessage(_ context.Context, m *models.Message, prevLastSeq uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.channel(m.Channel)
	if prevLastSeq != 0 {
		delete(c.events, prevLastSeq)
	}
	cp := *m
	c.events[cp.LastSeq] = &cp
	s.byID[cp.ID] = &cp
	if cp.LastSeq > c.meta.LastSeq {
		c.meta.LastSeq = cp.LastSeq
	}
	c.meta.UpdatedTS = time.Now().UTC().UnixNano()
	return nil
}

func (s *Memory) GetMessage(_ context.Context, id string) (*models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (s *Memory) ScanEvents(_ context.Context, channel string, cursor uint64, limit int) ([]models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.channels[channel]
	if !ok {
		return nil, nil
	}
	out := make([]models.Message, 0, len(c.events))
	for seq, m := range c.events {
		if seq > cursor {
			out = append(out, *m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastSeq < out[j].LastSeq })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Memory) Channel(_ context.Context, id string) (models.Channel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if c, ok := s.channels[id]; ok {
		return c.meta, nil
	}
	return models.Channel{ID: id}, nil
}

func (s *Memory) PurgeTombstones(_ context.Context, cutoff time.Time) (int, error) {
	cut := cutoff.UTC().UnixNano()
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.channels {
		for seq, m := range c.events {
			if m.DeletedTS != 0 && m.DeletedTS < cut {
				delete(c.events, seq)
				delete(s.byID, m.ID)
				n++
			}
		}
	}
	return n, nil
}

func (s *Memory) Ready() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !s.closed
}

func (s *Memory) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
