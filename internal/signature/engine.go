// Package signature drives documents through multi-party signing: field
// placement, per-signer capture and completion tracking.
package signature

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dharsanguruparan/ShieldVault/internal/activity"
	"github.com/dharsanguruparan/ShieldVault/internal/model"
	"github.com/dharsanguruparan/ShieldVault/internal/signing"
	"github.com/dharsanguruparan/ShieldVault/internal/storage"
)

// DefaultTTL is how long a request stays open once created.
const DefaultTTL = 7 * 24 * time.Hour

// Notifier is told when a document becomes fully executed.
type Notifier interface {
	SignatureCompleted(ctx context.Context, req model.SignatureRequest) error
}

// Engine runs signature workflows. Signers are unordered: any signer may
// capture before another.
type Engine struct {
	store    storage.Store
	recorder *activity.Recorder
	tokens   *signing.Signer
	notifier Notifier
	ttl      time.Duration
	now      func() time.Time
	newID    func() string
	logger   *zap.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithTTL sets the request lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(e *Engine) {
		if ttl > 0 {
			e.ttl = ttl
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithNotifier sets the completion notifier.
func WithNotifier(n Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithIDs overrides id generation.
func WithIDs(newID func() string) Option {
	return func(e *Engine) { e.newID = newID }
}

// NewEngine constructs an Engine. tokens signs invitation links.
func NewEngine(store storage.Store, recorder *activity.Recorder, tokens *signing.Signer, opts ...Option) *Engine {
	e := &Engine{
		store:    store,
		recorder: recorder,
		tokens:   tokens,
		ttl:      DefaultTTL,
		now:      time.Now,
		newID:    uuid.NewString,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// FieldSpec declares a field to place.
type FieldSpec struct {
	Kind     model.FieldKind `json:"kind"`
	Page     int             `json:"page"`
	X        float64         `json:"x"`
	Y        float64         `json:"y"`
	Width    float64         `json:"width"`
	Height   float64         `json:"height"`
	Required bool            `json:"required"`
}

// SignerSpec declares a signer and, optionally, their fields.
type SignerSpec struct {
	Name   string      `json:"name"`
	Email  string      `json:"email"`
	Role   string      `json:"role"`
	Fields []FieldSpec `json:"fields,omitempty"`
}

// CreateRequest starts a new signing round for a document.
type CreateRequest struct {
	DocumentID string
	CreatedBy  model.Actor
	Terms      model.TransactionAttributes
	Signers    []SignerSpec
}

// CaptureRequest carries one signer's field values keyed by field id.
type CaptureRequest struct {
	DocumentID      string
	SignerID        string
	Values          map[string]string
	ExpectedVersion *int
}

// Invitation is the signed link material handed to one signer.
type Invitation struct {
	SignerID string `json:"signerId"`
	Email    string `json:"email"`
	Expires  int64  `json:"expires"`
	Token    string `json:"token"`
}

// Get returns the document's current request. The returned State is the
// effective one, so an out-of-date request reads as expired.
func (e *Engine) Get(ctx context.Context, documentID string) (model.SignatureRequest, error) {
	rec, err := e.store.Get(ctx, documentID)
	if err != nil {
		return model.SignatureRequest{}, err
	}
	if rec.Signature == nil {
		return model.SignatureRequest{}, fmt.Errorf("document %s has no signature request: %w", documentID, model.ErrNotFound)
	}
	out := rec.Signature.Clone()
	out.State = out.StateAt(e.now())
	return out, nil
}

// FieldsOnPage returns the fields placed on page in declaration order.
func (e *Engine) FieldsOnPage(ctx context.Context, documentID string, page int) ([]model.SignatureField, error) {
	req, err := e.Get(ctx, documentID)
	if err != nil {
		return nil, err
	}
	return req.FieldsOnPage(page), nil
}

// Create builds a request from the declared signers. The document must be
// verified, unlocked and without a live request. A finished or expired
// request is moved to the history.
func (e *Engine) Create(ctx context.Context, in CreateRequest) (model.SignatureRequest, error) {
	if len(in.Signers) == 0 {
		return model.SignatureRequest{}, fmt.Errorf("signature request needs at least one signer: %w", model.ErrInvalidInput)
	}
	rec, err := e.store.Update(ctx, in.DocumentID, func(rec *storage.Record) error {
		id := rec.Document.ID
		now := e.now().UTC()
		if err := eligible(rec, "create signature request"); err != nil {
			return err
		}
		if rec.Signature != nil {
			if rec.Signature.Live(now) {
				return model.Reject(id, "signature "+string(rec.Signature.StateAt(now)), "create signature request",
					model.ErrInvalidTransition, "request "+rec.Signature.ID+" is still open")
			}
			old := rec.Signature.Clone()
			old.State = old.StateAt(now)
			rec.SignatureHistory = append(rec.SignatureHistory, old)
		}
		req := model.SignatureRequest{
			ID:         e.newID(),
			DocumentID: id,
			CreatedBy:  in.CreatedBy,
			Terms:      in.Terms,
			State:      model.StateCreated,
			CreatedAt:  now,
			ExpiresAt:  now.Add(e.ttl),
			Version:    1,
		}
		for i, spec := range in.Signers {
			if spec.Name == "" || spec.Email == "" {
				return fmt.Errorf("signer %d: name and email are required: %w", i, model.ErrInvalidInput)
			}
			signer := model.Signer{
				ID:     e.newID(),
				Name:   spec.Name,
				Email:  spec.Email,
				Role:   spec.Role,
				Status: model.SignerPending,
			}
			req.Signers = append(req.Signers, signer)
			fields, err := e.buildFields(rec.Document, signer.ID, spec.Fields)
			if err != nil {
				return err
			}
			req.Fields = append(req.Fields, fields...)
		}
		if len(req.Fields) > 0 {
			req.State = model.StateFieldsPlaced
		}
		rec.Signature = &req
		rec.Document.SignatureStatus = model.SignaturePending
		rec.Document.UpdatedAt = now
		e.recorder.Append(rec, model.ActivitySignatureCreated, in.CreatedBy.ID, now, map[string]string{
			"signatureRequest": req.ID,
			"signers":          strconv.Itoa(len(req.Signers)),
			"fields":           strconv.Itoa(len(req.Fields)),
		})
		return nil
	})
	if err != nil {
		return model.SignatureRequest{}, err
	}
	e.logger.Info("signature request created", zap.String("document_id", in.DocumentID), zap.String("request_id", rec.Signature.ID))
	return rec.Signature.Clone(), nil
}

// PlaceFields adds fields for one signer before the request is sent.
func (e *Engine) PlaceFields(ctx context.Context, documentID, signerID string, specs []FieldSpec) (model.SignatureRequest, error) {
	rec, err := e.store.Update(ctx, documentID, func(rec *storage.Record) error {
		now := e.now().UTC()
		sig, err := e.open(rec, now, "place fields")
		if err != nil {
			return err
		}
		if sig.State != model.StateCreated && sig.State != model.StateFieldsPlaced {
			return model.Reject(documentID, "signature "+string(sig.State), "place fields", model.ErrInvalidTransition, "fields are fixed once the request is sent")
		}
		if _, ok := sig.Signer(signerID); !ok {
			return fmt.Errorf("signer %s: %w", signerID, model.ErrInvalidInput)
		}
		fields, err := e.buildFields(rec.Document, signerID, specs)
		if err != nil {
			return err
		}
		sig.Fields = append(sig.Fields, fields...)
		if len(sig.Fields) > 0 {
			sig.State = model.StateFieldsPlaced
		}
		sig.Version++
		rec.Document.UpdatedAt = now
		e.recorder.Append(rec, model.ActivityFieldsPlaced, signerID, now, map[string]string{
			"signatureRequest": sig.ID,
			"fields":           strconv.Itoa(len(fields)),
		})
		return nil
	})
	if err != nil {
		return model.SignatureRequest{}, err
	}
	return rec.Signature.Clone(), nil
}

// Send opens the request for signatures. Signers without fields get one
// required signature field on the last page. It returns one invitation per
// signer.
func (e *Engine) Send(ctx context.Context, documentID string) (model.SignatureRequest, []Invitation, error) {
	rec, err := e.store.Update(ctx, documentID, func(rec *storage.Record) error {
		now := e.now().UTC()
		sig, err := e.open(rec, now, "send signature request")
		if err != nil {
			return err
		}
		if sig.State != model.StateCreated && sig.State != model.StateFieldsPlaced {
			return model.Reject(documentID, "signature "+string(sig.State), "send signature request", model.ErrInvalidTransition, "request was already sent")
		}
		page := rec.Document.PageCount
		if page <= 0 {
			page = 1
		}
		for _, s := range sig.Signers {
			if len(sig.FieldsFor(s.ID)) > 0 {
				continue
			}
			sig.Fields = append(sig.Fields, model.SignatureField{
				ID:         e.newID(),
				Kind:       model.FieldSignature,
				Page:       page,
				Required:   true,
				AssignedTo: s.ID,
			})
		}
		sig.State = model.StateAwaitingSignatures
		sig.Version++
		rec.Document.UpdatedAt = now
		e.recorder.Append(rec, model.ActivitySignatureSent, sig.CreatedBy.ID, now, map[string]string{
			"signatureRequest": sig.ID,
			"expiresAt":        sig.ExpiresAt.Format(time.RFC3339),
		})
		return nil
	})
	if err != nil {
		return model.SignatureRequest{}, nil, err
	}
	sig := rec.Signature.Clone()
	invitations := make([]Invitation, 0, len(sig.Signers))
	for _, s := range sig.Signers {
		invitations = append(invitations, e.invite(sig, s))
	}
	return sig, invitations, nil
}

func (e *Engine) invite(sig model.SignatureRequest, s model.Signer) Invitation {
	exp := sig.ExpiresAt.Unix()
	return Invitation{
		SignerID: s.ID,
		Email:    s.Email,
		Expires:  exp,
		Token:    e.tokens.Sign(signing.Subject(sig.DocumentID, sig.ID, s.ID), exp),
	}
}

// ValidateInvitation checks a signer's link against the current request.
func (e *Engine) ValidateInvitation(ctx context.Context, documentID, signerID, expires, token string) bool {
	sig, err := e.Get(ctx, documentID)
	if err != nil || sig.State != model.StateAwaitingSignatures {
		return false
	}
	if _, ok := sig.Signer(signerID); !ok {
		return false
	}
	return e.tokens.WithClock(e.now).ValidateFresh(signing.Subject(documentID, sig.ID, signerID), expires, token)
}

// open returns the stored live request or the error explaining why it cannot
// be touched.
func (e *Engine) open(rec *storage.Record, now time.Time, attempted string) (*model.SignatureRequest, error) {
	id := rec.Document.ID
	sig := rec.Signature
	if sig == nil {
		return nil, model.Reject(id, "no signature request", attempted, model.ErrInvalidTransition, "create a signature request first")
	}
	switch state := sig.StateAt(now); state {
	case model.StateExpired:
		return nil, model.Reject(id, "signature expired", attempted, model.ErrExpired,
			fmt.Sprintf("request %s expired at %s; issue a new request", sig.ID, sig.ExpiresAt.Format(time.RFC3339)))
	case model.StateCompleted, model.StateRejected:
		return nil, model.Reject(id, "signature "+string(state), attempted, model.ErrInvalidTransition, "")
	}
	return sig, nil
}

func (e *Engine) buildFields(doc model.Document, signerID string, specs []FieldSpec) ([]model.SignatureField, error) {
	out := make([]model.SignatureField, 0, len(specs))
	for i, spec := range specs {
		if !spec.Kind.Valid() {
			return nil, fmt.Errorf("field %d: unknown kind %q: %w", i, spec.Kind, model.ErrInvalidInput)
		}
		if spec.Page < 1 || (doc.PageCount > 0 && spec.Page > doc.PageCount) {
			return nil, fmt.Errorf("field %d: page %d out of range: %w", i, spec.Page, model.ErrInvalidInput)
		}
		out = append(out, model.SignatureField{
			ID:         e.newID(),
			Kind:       spec.Kind,
			Page:       spec.Page,
			X:          spec.X,
			Y:          spec.Y,
			Width:      spec.Width,
			Height:     spec.Height,
			Required:   spec.Required,
			AssignedTo: signerID,
		})
	}
	return out, nil
}

// eligible gates signing on verification and custody.
func eligible(rec *storage.Record, attempted string) error {
	id := rec.Document.ID
	switch status := rec.Document.VerificationStatus; status {
	case model.StatusVerified:
	case model.StatusFailed:
		return model.Reject(id, "verification "+string(status), attempted, model.ErrVerificationFailed, "resubmit the document for verification")
	default:
		return model.Reject(id, "verification "+string(status), attempted, model.ErrVerificationPending, "")
	}
	if rec.Lock.IsLocked {
		return model.Reject(id, string(model.CustodyLocked), attempted, model.ErrInvalidTransition, "locked documents cannot be modified")
	}
	return nil
}
