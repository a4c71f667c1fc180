// Package storage defines the per-document record layout and the stores that
// persist it. Every mutation of a record goes through Store.Update, which
// serializes writers of the same document while leaving other documents free.
package storage

import (
	"context"
	"errors"
	"io"

	"github.com/dharsanguruparan/ShieldVault/internal/model"
)

var (
	// ErrExists is returned by Create when the id is already taken.
	ErrExists = errors.New("document already exists")
)

// Record is everything the engine persists for one document.
type Record struct {
	Document         model.Document           `json:"document"`
	Lock             model.LockRecord         `json:"lock"`
	Signature        *model.SignatureRequest  `json:"signature,omitempty"`
	SignatureHistory []model.SignatureRequest `json:"signatureHistory,omitempty"`
	Verification     model.Verification       `json:"verification"`
	Activity         []model.ActivityEntry    `json:"activity"`
	// ActivityArchived counts entries moved out to the archive.
	ActivityArchived int      `json:"activityArchived"`
	ActivitySegments []string `json:"activitySegments,omitempty"`
}

// Clone returns a deep copy of r.
func (r Record) Clone() Record {
	out := r
	if r.Signature != nil {
		sig := r.Signature.Clone()
		out.Signature = &sig
	}
	if r.SignatureHistory != nil {
		out.SignatureHistory = make([]model.SignatureRequest, len(r.SignatureHistory))
		for i, s := range r.SignatureHistory {
			out.SignatureHistory[i] = s.Clone()
		}
	}
	out.Verification.Attempts = append([]model.VerificationAttempt(nil), r.Verification.Attempts...)
	if r.Activity != nil {
		out.Activity = make([]model.ActivityEntry, len(r.Activity))
		for i, e := range r.Activity {
			out.Activity[i] = e
			if e.Details != nil {
				d := make(map[string]string, len(e.Details))
				for k, v := range e.Details {
					d[k] = v
				}
				out.Activity[i].Details = d
			}
		}
	}
	out.ActivitySegments = append([]string(nil), r.ActivitySegments...)
	return out
}

// TrackingIDs lists every verification tracking id on the record.
func (r Record) TrackingIDs() []string {
	ids := make([]string, 0, len(r.Verification.Attempts))
	for _, a := range r.Verification.Attempts {
		ids = append(ids, a.TrackingID)
	}
	return ids
}

// UpdateFunc mutates a working copy of a record. Returning an error discards
// the copy.
type UpdateFunc func(rec *Record) error

// Store persists document records.
type Store interface {
	Create(ctx context.Context, rec Record) (Record, error)
	Get(ctx context.Context, id string) (Record, error)
	Update(ctx context.Context, id string, fn UpdateFunc) (Record, error)
	// ListByTransaction returns document ids of a transaction in creation order.
	ListByTransaction(ctx context.Context, transactionID string) ([]string, error)
	IDs(ctx context.Context) ([]string, error)
	FindByTracking(ctx context.Context, trackingID string) (string, error)
}

// ContentStore holds document bytes keyed by the document's ContentRef.
type ContentStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Fetch(ctx context.Context, key string) ([]byte, error)
}
