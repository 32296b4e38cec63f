package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/valyala/bytebufferpool"

	"chatcore/pkg/logger"
	"chatcore/pkg/models"
)

// Pebble is the durable engine. Key layout:
//
//	channel:<id>:ev:<last_seq padded>  -> message JSON (current version)
//	channel:<id>:meta                  -> channel JSON
//	msg:<message id>                   -> message JSON (latest pointer)
//
// Channel ids are query-escaped inside keys so an id containing ':' can
// never alias another channel's key range.
//
// A record lives under exactly one ev key; every mutation retires the old
// key and writes the new one in a single batch, so cursor scans see each
// record at most once.
type Pebble struct {
	db   *pebble.DB
	path string
}

// OpenPebble opens (or creates) a pebble database at the given path.
func OpenPebble(path string) (*Pebble, error) {
	logger.Info("opening_pebble_db", "path", path)
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		logger.Error("pebble_open_failed", "path", path, "error", err)
		return nil, err
	}
	return &Pebble{db: db, path: path}, nil
}

func chanSeg(channel string) string {
	return url.QueryEscape(channel)
}

func evKey(channel string, seq uint64) []byte {
	return []byte(fmt.Sprintf("channel:%s:ev:%020d", chanSeg(channel), seq))
}

func evPrefix(channel string) []byte {
	return []byte("channel:" + chanSeg(channel) + ":ev:")
}

func metaKey(channel string) []byte {
	return []byte("channel:" + chanSeg(channel) + ":meta")
}

func msgKey(id string) []byte {
	return []byte("msg:" + id)
}

func encode(m any, bb *bytebufferpool.ByteBuffer) error {
	enc := json.NewEncoder(bb)
	return enc.Encode(m)
}

func (s *Pebble) SaveMessage(_ context.Context, m *models.Message, prevLastSeq uint64) error {
	if s.db == nil {
		return fmt.Errorf("pebble not opened")
	}
	ch, err := s.Channel(context.Background(), m.Channel)
	if err != nil {
		return err
	}
	now := time.Now().UTC().UnixNano()
	if ch.CreatedTS == 0 {
		ch.CreatedTS = now
	}
	ch.UpdatedTS = now
	if m.LastSeq > ch.LastSeq {
		ch.LastSeq = m.LastSeq
	}

	bb := bytebufferpool.Get()
	defer bytebufferpool.Put(bb)
	if err := encode(m, bb); err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	mb := bytebufferpool.Get()
	defer bytebufferpool.Put(mb)
	if err := encode(ch, mb); err != nil {
		return fmt.Errorf("failed to marshal channel meta: %w", err)
	}

	b := s.db.NewBatch()
	defer b.Close()
	if prevLastSeq != 0 {
		_ = b.Delete(evKey(m.Channel, prevLastSeq), nil)
	}
	_ = b.Set(evKey(m.Channel, m.LastSeq), bb.B, nil)
	_ = b.Set(msgKey(m.ID), bb.B, nil)
	_ = b.Set(metaKey(m.Channel), mb.B, nil)
	if err := b.Commit(pebble.Sync); err != nil {
		logger.Error("save_message_failed", "channel", m.Channel, "id", m.ID, "error", err)
		return err
	}
	return nil
}

func (s *Pebble) GetMessage(_ context.Context, id string) (*models.Message, error) {
	if s.db == nil {
		return nil, fmt.Errorf("pebble not opened")
	}
	v, closer, err := s.db.Get(msgKey(id))
	if err == pebble.ErrNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()
	var m models.Message
	if err := json.Unmarshal(v, &m); err != nil {
		return nil, fmt.Errorf("invalid stored message: %w", err)
	}
	return &m, nil
}

func (s *Pebble) ScanEvents(_ context.Context, channel string, cursor uint64, limit int) ([]models.Message, error) {
	if s.db == nil {
		return nil, fmt.Errorf("pebble not opened")
	}
	prefix := evPrefix(channel)
	iter, err := s.db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []models.Message
	for iter.SeekGE(evKey(channel, cursor+1)); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		var m models.Message
		if err := json.Unmarshal(iter.Value(), &m); err != nil {
			return nil, fmt.Errorf("invalid stored message: %w", err)
		}
		out = append(out, m)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, iter.Error()
}

func (s *Pebble) Channel(_ context.Context, id string) (models.Channel, error) {
	if s.db == nil {
		return models.Channel{}, fmt.Errorf("pebble not opened")
	}
	v, closer, err := s.db.Get(metaKey(id))
	if err == pebble.ErrNotFound {
		return models.Channel{ID: id}, nil
	}
	if err != nil {
		return models.Channel{}, err
	}
	defer closer.Close()
	var ch models.Channel
	if err := json.Unmarshal(v, &ch); err != nil {
		return models.Channel{}, fmt.Errorf("invalid channel meta: %w", err)
	}
	return ch, nil
}

func (s *Pebble) PurgeTombstones(ctx context.Context, cutoff time.Time) (int, error) {
	if s.db == nil {
		return 0, fmt.Errorf("pebble not opened")
	}
	cut := cutoff.UTC().UnixNano()
	iter, err := s.db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return 0, err
	}
	defer iter.Close()

	type victim struct {
		ev []byte
		id string
	}
	var victims []victim
	prefix := []byte("channel:")
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		if !bytes.Contains(iter.Key(), []byte(":ev:")) {
			continue
		}
		var m models.Message
		if err := json.Unmarshal(iter.Value(), &m); err != nil {
			continue
		}
		if m.DeletedTS != 0 && m.DeletedTS < cut {
			victims = append(victims, victim{ev: append([]byte(nil), iter.Key()...), id: m.ID})
		}
	}
	if err := iter.Error(); err != nil {
		return 0, err
	}
	if len(victims) == 0 {
		return 0, nil
	}
	b := s.db.NewBatch()
	defer b.Close()
	for _, v := range victims {
		_ = b.Delete(v.ev, nil)
		_ = b.Delete(msgKey(v.id), nil)
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return 0, err
	}
	logger.Info("tombstones_purged", "count", len(victims))
	return len(victims), nil
}

func (s *Pebble) Ready() bool { return s.db != nil }

func (s *Pebble) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	logger.Info("pebble_closed", "path", s.path)
	return err
}
