package store

import (
	"context"
	"errors"
	"time"

	"chatcore/pkg/models"
)

// ErrNotFound is returned when a message id has no record.
var ErrNotFound = errors.New("record not found")

// Engine is the storage contract the chat core writes through. Engines are
// dumb ordered KV: sequence assignment, authorization and validation happen
// above, in the per-channel apply loop. Implementations must be safe for
// one writer per channel with any number of concurrent readers.
type Engine interface {
	// SaveMessage inserts or overwrites the record for m.ID. prevLastSeq
	// is the record's previous LastSeq (0 on create); the engine retires
	// that event index entry so a record surfaces once per cursor scan.
	SaveMessage(ctx context.Context, m *models.Message, prevLastSeq uint64) error

	// GetMessage returns the latest record for id, tombstones included.
	GetMessage(ctx context.Context, id string) (*models.Message, error)

	// ScanEvents returns records mutated after cursor, ordered by LastSeq,
	// at most limit (<=0 means no cap).
	ScanEvents(ctx context.Context, channel string, cursor uint64, limit int) ([]models.Message, error)

	// Channel returns the channel metadata record, creating nothing.
	// Unknown channels return a zero-valued record.
	Channel(ctx context.Context, id string) (models.Channel, error)

	// PurgeTombstones removes tombstones deleted before cutoff and returns
	// how many records were purged.
	PurgeTombstones(ctx context.Context, cutoff time.Time) (int, error)

	Ready() bool
	Close() error
}
