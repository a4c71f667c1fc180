// Package tracker records the verification pipeline of documents:
// submitted, processing, then verified or failed. The verification work
// itself belongs to an external collaborator; the tracker stores what it
// reports and exposes a polling contract.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dharsanguruparan/ShieldVault/internal/activity"
	"github.com/dharsanguruparan/ShieldVault/internal/model"
	"github.com/dharsanguruparan/ShieldVault/internal/storage"
)

// DefaultPollInterval is the fixed Await interval.
const DefaultPollInterval = 2 * time.Second

// Job is the work handed to a verification collaborator.
type Job struct {
	TrackingID  string `json:"tracking_id"`
	DocumentID  string `json:"document_id"`
	ContentRef  string `json:"content_ref"`
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
}

// Result is what the collaborator reports back.
type Result struct {
	Status            model.VerificationStatus `json:"status"`
	ExtractedText     string                   `json:"extractedText,omitempty"`
	ConfidenceScore   *float64                 `json:"confidenceScore,omitempty"`
	VerificationToken string                   `json:"externalVerificationToken,omitempty"`
	Reason            string                   `json:"reason,omitempty"`
	PageCount         int                      `json:"pageCount,omitempty"`
}

// Dispatcher hands a job to whatever runs verification.
type Dispatcher interface {
	Dispatch(ctx context.Context, job Job) error
}

// Tracker owns verification status transitions.
type Tracker struct {
	store      storage.Store
	recorder   *activity.Recorder
	dispatcher Dispatcher
	interval   time.Duration
	now        func() time.Time
	newID      func() string
	logger     *zap.Logger
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithPollInterval sets the Await interval.
func WithPollInterval(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.interval = d
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(t *Tracker) { t.logger = l }
}

// WithDispatcher sets the dispatcher.
func WithDispatcher(d Dispatcher) Option {
	return func(t *Tracker) { t.dispatcher = d }
}

// New constructs a Tracker.
func New(store storage.Store, recorder *activity.Recorder, opts ...Option) *Tracker {
	t := &Tracker{
		store:    store,
		recorder: recorder,
		interval: DefaultPollInterval,
		now:      time.Now,
		newID:    func() string { return "trk_" + uuid.NewString() },
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// SetDispatcher wires a dispatcher after construction. The in-process pool
// needs the tracker to report into, so one of the two is built first.
func (t *Tracker) SetDispatcher(d Dispatcher) {
	t.dispatcher = d
}

// Submit starts a new verification attempt and dispatches it. Resubmission
// is always allowed for unlocked documents and supersedes earlier attempts.
func (t *Tracker) Submit(ctx context.Context, documentID string) (string, error) {
	trackingID := t.newID()
	rec, err := t.store.Update(ctx, documentID, func(rec *storage.Record) error {
		if rec.Lock.IsLocked {
			return model.Reject(rec.Document.ID, string(model.CustodyLocked), "submit for verification", model.ErrInvalidTransition, "unlock the document first")
		}
		now := t.now().UTC()
		rec.Verification.Attempts = append(rec.Verification.Attempts, model.VerificationAttempt{
			TrackingID:  trackingID,
			Status:      model.StatusSubmitted,
			SubmittedAt: now,
			UpdatedAt:   now,
		})
		setStatus(rec, model.StatusSubmitted)
		rec.Document.UpdatedAt = now
		t.recorder.Append(rec, model.ActivityVerificationSubmit, "system", now, map[string]string{"trackingId": trackingID})
		return nil
	})
	if err != nil {
		return "", err
	}
	t.logger.Info("verification submitted", zap.String("document_id", documentID), zap.String("tracking_id", trackingID))
	if t.dispatcher == nil {
		return trackingID, nil
	}
	job := Job{
		TrackingID:  trackingID,
		DocumentID:  documentID,
		ContentRef:  rec.Document.ContentRef,
		Name:        rec.Document.Name,
		ContentType: rec.Document.ContentType,
	}
	if err := t.dispatcher.Dispatch(ctx, job); err != nil {
		reason := fmt.Sprintf("dispatch verification: %v", err)
		if rerr := t.Report(ctx, trackingID, Result{Status: model.StatusFailed, Reason: reason}); rerr != nil {
			t.logger.Error("record dispatch failure", zap.String("tracking_id", trackingID), zap.Error(rerr))
		}
		return trackingID, fmt.Errorf("document %s: dispatch verification: %w: %w", documentID, err, model.ErrVerificationFailed)
	}
	return trackingID, nil
}

// MarkProcessing records that the collaborator picked the job up. It returns
// ErrStaleTracking when a newer attempt exists, telling the caller to drop
// the work.
func (t *Tracker) MarkProcessing(ctx context.Context, trackingID string) error {
	documentID, err := t.store.FindByTracking(ctx, trackingID)
	if err != nil {
		return err
	}
	_, err = t.store.Update(ctx, documentID, func(rec *storage.Record) error {
		i, ok := rec.Verification.Attempt(trackingID)
		if !ok {
			return fmt.Errorf("tracking %s: %w", trackingID, model.ErrNotFound)
		}
		attempt := &rec.Verification.Attempts[i]
		if i != len(rec.Verification.Attempts)-1 {
			return fmt.Errorf("tracking %s: %w", trackingID, model.ErrStaleTracking)
		}
		switch attempt.Status {
		case model.StatusProcessing:
			return nil
		case model.StatusSubmitted:
		default:
			return model.Reject(documentID, "verification "+string(attempt.Status), "start processing", model.ErrInvalidTransition, "")
		}
		now := t.now().UTC()
		attempt.Status = model.StatusProcessing
		attempt.UpdatedAt = now
		setStatus(rec, model.StatusProcessing)
		rec.Document.UpdatedAt = now
		t.recorder.Append(rec, model.ActivityVerificationStarted, "system", now, map[string]string{"trackingId": trackingID})
		return nil
	})
	return err
}

// Report records the collaborator's terminal result. Redelivering the same
// terminal status is accepted; a result for a superseded attempt is kept on
// that attempt only.
func (t *Tracker) Report(ctx context.Context, trackingID string, res Result) error {
	if !res.Status.Terminal() {
		return fmt.Errorf("report status %q: %w", res.Status, model.ErrInvalidInput)
	}
	documentID, err := t.store.FindByTracking(ctx, trackingID)
	if err != nil {
		return err
	}
	stale := false
	_, err = t.store.Update(ctx, documentID, func(rec *storage.Record) error {
		i, ok := rec.Verification.Attempt(trackingID)
		if !ok {
			return fmt.Errorf("tracking %s: %w", trackingID, model.ErrNotFound)
		}
		attempt := &rec.Verification.Attempts[i]
		if attempt.Status.Terminal() {
			if attempt.Status == res.Status {
				return nil
			}
			return model.Reject(documentID, "verification "+string(attempt.Status), "report "+string(res.Status), model.ErrInvalidTransition, "")
		}
		now := t.now().UTC()
		attempt.Status = res.Status
		attempt.UpdatedAt = now
		attempt.ExtractedText = res.ExtractedText
		attempt.ConfidenceScore = res.ConfidenceScore
		attempt.VerificationToken = res.VerificationToken
		attempt.FailureReason = res.Reason
		if i != len(rec.Verification.Attempts)-1 {
			stale = true
			return nil
		}
		setStatus(rec, res.Status)
		if res.PageCount > 0 {
			rec.Document.PageCount = res.PageCount
		}
		rec.Document.UpdatedAt = now
		details := map[string]string{"trackingId": trackingID}
		typ := model.ActivityVerified
		if res.Status == model.StatusFailed {
			typ = model.ActivityVerificationFailed
			details["reason"] = res.Reason
		}
		if res.ConfidenceScore != nil {
			details["confidence"] = strconv.FormatFloat(*res.ConfidenceScore, 'f', 3, 64)
		}
		t.recorder.Append(rec, typ, "system", now, details)
		return nil
	})
	if err != nil {
		return err
	}
	if stale {
		t.logger.Info("result for superseded verification attempt", zap.String("tracking_id", trackingID))
		return nil
	}
	t.logger.Info("verification reported",
		zap.String("document_id", documentID),
		zap.String("tracking_id", trackingID),
		zap.String("status", string(res.Status)))
	return nil
}

// Poll returns the attempt identified by trackingID.
func (t *Tracker) Poll(ctx context.Context, trackingID string) (model.VerificationAttempt, error) {
	documentID, err := t.store.FindByTracking(ctx, trackingID)
	if err != nil {
		return model.VerificationAttempt{}, err
	}
	rec, err := t.store.Get(ctx, documentID)
	if err != nil {
		return model.VerificationAttempt{}, err
	}
	i, ok := rec.Verification.Attempt(trackingID)
	if !ok {
		return model.VerificationAttempt{}, fmt.Errorf("tracking %s: %w", trackingID, model.ErrNotFound)
	}
	return rec.Verification.Attempts[i], nil
}

// Await polls at the fixed interval until the attempt is terminal. It retries
// without limit; callers bound it through ctx.
func (t *Tracker) Await(ctx context.Context, trackingID string) (model.VerificationAttempt, error) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		attempt, err := t.Poll(ctx, trackingID)
		if err != nil {
			return model.VerificationAttempt{}, err
		}
		if attempt.Status.Terminal() {
			return attempt, nil
		}
		select {
		case <-ctx.Done():
			return attempt, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Process runs one job through verifier, reporting each step. Both the
// in-process pool and the queue worker use it.
func Process(ctx context.Context, t *Tracker, verifier Verifier, job Job) error {
	if err := t.MarkProcessing(ctx, job.TrackingID); err != nil {
		if errors.Is(err, model.ErrStaleTracking) {
			return nil
		}
		return err
	}
	res, err := verifier.Verify(ctx, job)
	if err != nil {
		res = Result{Status: model.StatusFailed, Reason: err.Error()}
	}
	return t.Report(ctx, job.TrackingID, res)
}

func setStatus(rec *storage.Record, status model.VerificationStatus) {
	rec.Document.VerificationStatus = status
	rec.Lock.VerificationStatus = status
}
