package activity

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/dharsanguruparan/ShieldVault/internal/model"
	"github.com/dharsanguruparan/ShieldVault/internal/storage"
)

// Archiver persists a segment of evicted entries and returns its key.
type Archiver interface {
	ArchiveActivity(ctx context.Context, documentID string, entries []model.ActivityEntry) (string, error)
}

// Compactor bounds the in-record log to MaxEntries. Entries are archived
// before they are trimmed, so a failed archive never loses history.
type Compactor struct {
	store      storage.Store
	archiver   Archiver
	maxEntries int
	logger     *zap.Logger
}

// NewCompactor constructs a Compactor.
func NewCompactor(store storage.Store, archiver Archiver, maxEntries int, logger *zap.Logger) *Compactor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Compactor{store: store, archiver: archiver, maxEntries: maxEntries, logger: logger}
}

// CompactDocument archives and trims the oldest entries of one document. It
// returns how many entries were moved.
func (c *Compactor) CompactDocument(ctx context.Context, id string) (int, error) {
	if c.maxEntries <= 0 {
		return 0, nil
	}
	rec, err := c.store.Get(ctx, id)
	if err != nil {
		return 0, err
	}
	excess := len(rec.Activity) - c.maxEntries
	if excess <= 0 {
		return 0, nil
	}
	segment := rec.Activity[:excess]
	key, err := c.archiver.ArchiveActivity(ctx, id, segment)
	if err != nil {
		return 0, fmt.Errorf("archive activity %s: %w", id, err)
	}
	lastID := segment[len(segment)-1].ID
	_, err = c.store.Update(ctx, id, func(r *storage.Record) error {
		cut := -1
		for i, e := range r.Activity {
			if e.ID == lastID {
				cut = i
				break
			}
		}
		if cut < 0 {
			// Someone else already trimmed this segment.
			return nil
		}
		r.Activity = append([]model.ActivityEntry(nil), r.Activity[cut+1:]...)
		r.ActivityArchived += cut + 1
		r.ActivitySegments = append(r.ActivitySegments, key)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("trim activity %s: %w", id, err)
	}
	c.logger.Info("activity compacted", zap.String("document_id", id), zap.Int("entries", excess), zap.String("segment", key))
	return excess, nil
}

// CompactAll runs CompactDocument over every stored document, continuing past
// per-document failures.
func (c *Compactor) CompactAll(ctx context.Context) (int, error) {
	ids, err := c.store.IDs(ctx)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		n, err := c.CompactDocument(ctx, id)
		if err != nil {
			c.logger.Warn("activity compaction failed", zap.String("document_id", id), zap.Error(err))
			continue
		}
		total += n
	}
	return total, nil
}

// Run compacts on every tick until ctx is cancelled.
func (c *Compactor) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 || c.maxEntries <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := c.CompactAll(ctx); err != nil && ctx.Err() == nil {
				c.logger.Warn("activity compaction pass failed", zap.Error(err))
			}
		}
	}
}
