// Package documents registers new documents: the content goes to the content
// store and a fresh record, unlocked and unverified, goes to the record store.
package documents

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dharsanguruparan/ShieldVault/internal/activity"
	"github.com/dharsanguruparan/ShieldVault/internal/model"
	"github.com/dharsanguruparan/ShieldVault/internal/storage"
)

// Upload describes a document being registered.
type Upload struct {
	Name          string
	Category      string
	Owner         model.Actor
	TransactionID string
	ContentType   string
	Size          int64
	Body          io.Reader
}

// Registry creates document records.
type Registry struct {
	store    storage.Store
	content  storage.ContentStore
	recorder *activity.Recorder
	now      func() time.Time
	newID    func() string
	archive  activity.SegmentReader
	logger   *zap.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// WithArchive sets where compacted activity segments are read back from.
func WithArchive(archive activity.SegmentReader) Option {
	return func(r *Registry) { r.archive = archive }
}

// WithIDs overrides document id generation.
func WithIDs(newID func() string) Option {
	return func(r *Registry) { r.newID = newID }
}

// NewRegistry constructs a Registry.
func NewRegistry(store storage.Store, content storage.ContentStore, recorder *activity.Recorder, opts ...Option) *Registry {
	r := &Registry{
		store:    store,
		content:  content,
		recorder: recorder,
		now:      time.Now,
		newID:    uuid.NewString,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register stores the content and creates the record.
func (r *Registry) Register(ctx context.Context, in Upload) (model.Document, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return model.Document{}, fmt.Errorf("document name is required: %w", model.ErrInvalidInput)
	}
	if in.Owner.Role != "" && !in.Owner.Role.Valid() {
		return model.Document{}, fmt.Errorf("unknown role %q: %w", in.Owner.Role, model.ErrInvalidInput)
	}
	id := r.newID()
	var ref string
	if in.Body != nil {
		ref = fmt.Sprintf("uploads/%s/%s", id, filepath.Base(name))
		if err := r.content.Put(ctx, ref, in.Body, in.Size, in.ContentType); err != nil {
			return model.Document{}, fmt.Errorf("store content: %w", err)
		}
	}
	now := r.now().UTC()
	rec := storage.Record{
		Document: model.Document{
			ID:                 id,
			Name:               name,
			Category:           strings.TrimSpace(in.Category),
			Owner:              in.Owner.ID,
			TransactionID:      in.TransactionID,
			ContentRef:         ref,
			ContentType:        in.ContentType,
			Size:               in.Size,
			VerificationStatus: model.StatusPending,
			SignatureStatus:    model.SignatureNone,
			CreatedAt:          now,
			UpdatedAt:          now,
		},
		Lock: model.LockRecord{
			CanBeUnlocked:      true,
			VerificationStatus: model.StatusPending,
		},
	}
	actor := in.Owner.ID
	if actor == "" {
		actor = "system"
	}
	r.recorder.Append(&rec, model.ActivityRegistered, actor, now, map[string]string{"name": name})
	created, err := r.store.Create(ctx, rec)
	if err != nil {
		return model.Document{}, err
	}
	r.logger.Info("document registered",
		zap.String("document_id", id),
		zap.String("transaction_id", in.TransactionID),
		zap.String("actor", actor))
	return created.Document, nil
}

// Get returns a document.
func (r *Registry) Get(ctx context.Context, id string) (model.Document, error) {
	rec, err := r.store.Get(ctx, id)
	if err != nil {
		return model.Document{}, err
	}
	return rec.Document, nil
}

// Transaction lists the documents of a transaction in creation order.
func (r *Registry) Transaction(ctx context.Context, transactionID string) ([]model.Document, error) {
	ids, err := r.store.ListByTransaction(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	docs := make([]model.Document, 0, len(ids))
	for _, id := range ids {
		doc, err := r.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// Activity returns the document's activity log view.
func (r *Registry) Activity(ctx context.Context, id string) (activity.Page, error) {
	rec, err := r.store.Get(ctx, id)
	if err != nil {
		return activity.Page{}, err
	}
	return activity.View(rec), nil
}

// History returns the complete activity log, archived segments included.
func (r *Registry) History(ctx context.Context, id string) (activity.Page, error) {
	rec, err := r.store.Get(ctx, id)
	if err != nil {
		return activity.Page{}, err
	}
	return activity.History(ctx, rec, r.archive)
}
