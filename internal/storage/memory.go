package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/dharsanguruparan/ShieldVault/internal/model"
)

type memoryEntry struct {
	mu  sync.Mutex
	rec Record
}

// MemoryStore keeps records in process. The map is guarded by an RWMutex
// while each record has its own mutex, so writers of different documents do
// not contend.
type MemoryStore struct {
	mu       sync.RWMutex
	records  map[string]*memoryEntry
	tracking map[string]string
}

// NewMemoryStore constructs a MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records:  make(map[string]*memoryEntry),
		tracking: make(map[string]string),
	}
}

// Create inserts a new record.
func (m *MemoryStore) Create(_ context.Context, rec Record) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := rec.Document.ID
	if id == "" {
		return Record{}, fmt.Errorf("create record: missing id")
	}
	if _, ok := m.records[id]; ok {
		return Record{}, fmt.Errorf("create %s: %w", id, ErrExists)
	}
	now := time.Now().UTC()
	if rec.Document.CreatedAt.IsZero() {
		rec.Document.CreatedAt = now
	}
	if rec.Document.UpdatedAt.IsZero() {
		rec.Document.UpdatedAt = rec.Document.CreatedAt
	}
	stored := rec.Clone()
	m.records[id] = &memoryEntry{rec: stored}
	for _, t := range stored.TrackingIDs() {
		m.tracking[t] = id
	}
	return stored.Clone(), nil
}

// Get returns a copy of the record.
func (m *MemoryStore) Get(_ context.Context, id string) (Record, error) {
	e, err := m.entry(id)
	if err != nil {
		return Record{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rec.Clone(), nil
}

// Update runs fn against a copy of the record while holding that record's
// mutex, and stores the copy only if fn succeeds.
func (m *MemoryStore) Update(_ context.Context, id string, fn UpdateFunc) (Record, error) {
	e, err := m.entry(id)
	if err != nil {
		return Record{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	working := e.rec.Clone()
	if err := fn(&working); err != nil {
		return Record{}, err
	}
	e.rec = working
	m.mu.Lock()
	for _, t := range working.TrackingIDs() {
		m.tracking[t] = id
	}
	m.mu.Unlock()
	return working.Clone(), nil
}

// ListByTransaction returns the ids of a transaction ordered by creation.
func (m *MemoryStore) ListByTransaction(_ context.Context, transactionID string) ([]string, error) {
	type item struct {
		id      string
		created time.Time
	}
	var items []item
	for _, e := range m.snapshot() {
		e.mu.Lock()
		doc := e.rec.Document
		e.mu.Unlock()
		if doc.TransactionID == transactionID {
			items = append(items, item{id: doc.ID, created: doc.CreatedAt})
		}
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].created.Equal(items[j].created) {
			return items[i].id < items[j].id
		}
		return items[i].created.Before(items[j].created)
	})
	ids := make([]string, len(items))
	for i, it := range items {
		ids[i] = it.id
	}
	return ids, nil
}

// IDs returns every stored id in lexical order.
func (m *MemoryStore) IDs(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.records))
	for id := range m.records {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// FindByTracking maps a verification tracking id back to its document.
func (m *MemoryStore) FindByTracking(_ context.Context, trackingID string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.tracking[trackingID]
	if !ok {
		return "", fmt.Errorf("tracking %s: %w", trackingID, model.ErrNotFound)
	}
	return id, nil
}

func (m *MemoryStore) entry(id string) (*memoryEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.records[id]
	if !ok {
		return nil, fmt.Errorf("document %s: %w", id, model.ErrNotFound)
	}
	return e, nil
}

func (m *MemoryStore) snapshot() []*memoryEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*memoryEntry, 0, len(m.records))
	for _, e := range m.records {
		out = append(out, e)
	}
	return out
}

// MemoryContent is a ContentStore for tests and single-process runs.
type MemoryContent struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// NewMemoryContent constructs an empty MemoryContent.
func NewMemoryContent() *MemoryContent {
	return &MemoryContent{blobs: make(map[string][]byte)}
}

// Put stores the reader's bytes under key.
func (c *MemoryContent) Put(_ context.Context, key string, r io.Reader, _ int64, _ string) error {
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		return fmt.Errorf("read content: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.blobs[key] = buf.Bytes()
	return nil
}

// Fetch returns a copy of the bytes under key.
func (c *MemoryContent) Fetch(_ context.Context, key string) ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	data, ok := c.blobs[key]
	if !ok {
		return nil, fmt.Errorf("content %s: %w", key, model.ErrNotFound)
	}
	return append([]byte(nil), data...), nil
}
