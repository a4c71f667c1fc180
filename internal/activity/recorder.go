// Package activity maintains the append-only activity log carried on each
// document record, and the compactor that moves old entries to an archive.
package activity

import (
	"context"
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/dharsanguruparan/ShieldVault/internal/model"
	"github.com/dharsanguruparan/ShieldVault/internal/storage"
)

// Recorder stamps entries with strictly increasing timestamps and monotonic
// ULIDs. Append must be called inside Store.Update so appends to the same
// document are serialized.
type Recorder struct {
	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

// NewRecorder constructs a Recorder.
func NewRecorder() *Recorder {
	return &Recorder{entropy: ulid.Monotonic(rand.Reader, 0)}
}

// Append adds an entry at the given time. If at does not move past the last
// entry of the record it is nudged forward so the log stays strictly ordered.
func (r *Recorder) Append(rec *storage.Record, typ model.ActivityType, actor string, at time.Time, details map[string]string) model.ActivityEntry {
	at = at.UTC()
	if n := len(rec.Activity); n > 0 {
		last := rec.Activity[n-1].Timestamp
		if !at.After(last) {
			at = last.Add(time.Nanosecond)
		}
	}
	entry := model.ActivityEntry{
		ID:        r.newID(at),
		Type:      typ,
		Timestamp: at,
		Actor:     actor,
		Details:   details,
	}
	rec.Activity = append(rec.Activity, entry)
	return entry
}

func (r *Recorder) newID(at time.Time) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, err := ulid.New(ulid.Timestamp(at), r.entropy)
	if err != nil {
		// Entropy overflow within one millisecond; fall back to fresh entropy.
		id = ulid.MustNew(ulid.Timestamp(at), rand.Reader)
	}
	return id.String()
}

// Page is a read view over a document's log.
type Page struct {
	DocumentID string                `json:"documentId"`
	Entries    []model.ActivityEntry `json:"entries"`
	Archived   int                   `json:"archived"`
	Segments   []string              `json:"segments,omitempty"`
}

// View builds the read view of a record's log.
func View(rec storage.Record) Page {
	return Page{
		DocumentID: rec.Document.ID,
		Entries:    append([]model.ActivityEntry{}, rec.Activity...),
		Archived:   rec.ActivityArchived,
		Segments:   append([]string(nil), rec.ActivitySegments...),
	}
}

// SegmentReader reads back segments written by an Archiver.
type SegmentReader interface {
	LoadSegment(ctx context.Context, key string) ([]model.ActivityEntry, error)
}

// History builds the full view of a record's log: archived segments in the
// order they were cut, then the live entries. Segments are immutable once
// written, so the record snapshot alone fixes the result.
func History(ctx context.Context, rec storage.Record, archive SegmentReader) (Page, error) {
	page := View(rec)
	if len(rec.ActivitySegments) == 0 {
		return page, nil
	}
	if archive == nil {
		return Page{}, fmt.Errorf("document %s: %d archived entries and no archive configured", rec.Document.ID, rec.ActivityArchived)
	}
	entries := make([]model.ActivityEntry, 0, rec.ActivityArchived+len(rec.Activity))
	for _, key := range rec.ActivitySegments {
		seg, err := archive.LoadSegment(ctx, key)
		if err != nil {
			return Page{}, fmt.Errorf("document %s: %w", rec.Document.ID, err)
		}
		entries = append(entries, seg...)
	}
	page.Entries = append(entries, page.Entries...)
	return page, nil
}
