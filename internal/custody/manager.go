// Package custody implements the document lock manager: verify-and-lock,
// unlock, bulk locking of a transaction, and retention bookkeeping.
package custody

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/dharsanguruparan/ShieldVault/internal/activity"
	"github.com/dharsanguruparan/ShieldVault/internal/model"
	"github.com/dharsanguruparan/ShieldVault/internal/retention"
	"github.com/dharsanguruparan/ShieldVault/internal/storage"
)

// Manager owns the custody transitions of documents.
type Manager struct {
	store    storage.Store
	resolver *retention.Resolver
	recorder *activity.Recorder
	now      func() time.Time
	logger   *zap.Logger
	autoLock bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithAutoLock makes SignatureCompleted lock the executed document.
func WithAutoLock(enabled bool) Option {
	return func(m *Manager) { m.autoLock = enabled }
}

// NewManager constructs a Manager.
func NewManager(store storage.Store, resolver *retention.Resolver, recorder *activity.Recorder, opts ...Option) *Manager {
	m := &Manager{
		store:    store,
		resolver: resolver,
		recorder: recorder,
		now:      time.Now,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// LockRequest asks to verify-and-lock one document. ExpectedVersion, when
// set, must match the current lock record version.
type LockRequest struct {
	DocumentID      string
	Actor           model.Actor
	Attributes      retention.Attributes
	ExpectedVersion *int
}

// UnlockRequest asks to release a locked document.
type UnlockRequest struct {
	DocumentID      string
	Actor           model.Actor
	ExpectedVersion *int
}

// Custody returns the lock record of a document.
func (m *Manager) Custody(ctx context.Context, documentID string) (model.LockRecord, error) {
	rec, err := m.store.Get(ctx, documentID)
	if err != nil {
		return model.LockRecord{}, err
	}
	return rec.Lock, nil
}

// VerifyAndLock moves an unlocked, verified document to locked and applies
// the retention policy resolved for the actor. Locked documents are rejected
// and must be unlocked first. A document whose verification has not finished
// fails immediately with ErrVerificationPending.
func (m *Manager) VerifyAndLock(ctx context.Context, req LockRequest) (model.LockRecord, error) {
	rec, err := m.store.Update(ctx, req.DocumentID, func(rec *storage.Record) error {
		return m.lock(rec, req)
	})
	if err != nil {
		return model.LockRecord{}, err
	}
	m.logger.Info("document locked",
		zap.String("document_id", req.DocumentID),
		zap.String("actor", req.Actor.ID),
		zap.Bool("retention_applied", rec.Lock.RetentionPolicyApplied))
	return rec.Lock, nil
}

func (m *Manager) lock(rec *storage.Record, req LockRequest) error {
	id := rec.Document.ID
	if err := checkVersion(id, rec.Lock, req.ExpectedVersion); err != nil {
		return err
	}
	if rec.Lock.IsLocked {
		return model.Reject(id, string(model.CustodyLocked), "lock", model.ErrInvalidTransition, "unlock the document first")
	}
	switch status := rec.Document.VerificationStatus; status {
	case model.StatusVerified:
	case model.StatusFailed:
		return model.Reject(id, "verification "+string(status), "lock", model.ErrVerificationFailed, "resubmit the document for verification")
	default:
		return model.Reject(id, "verification "+string(status), "lock", model.ErrVerificationPending, "retry once verification reports verified")
	}

	now := m.now().UTC()
	details := map[string]string{}
	lock := model.LockRecord{
		IsLocked:           true,
		LockedBy:           req.Actor.ID,
		LockedAt:           &now,
		CanBeUnlocked:      true,
		VerificationStatus: model.StatusVerified,
		Version:            rec.Lock.Version + 1,
	}
	policy, err := m.resolver.Resolve(req.Actor.Role, req.Attributes)
	switch {
	case errors.Is(err, model.ErrPolicyNotFound):
		details["policy"] = "none"
	case err != nil:
		return err
	default:
		details["policy"] = policy.ID
		if days := retention.RequiredRetentionDays(rec.Document, policy); days > 0 {
			end := now.AddDate(0, 0, days)
			lock.RetentionPolicyApplied = true
			lock.CanBeUnlocked = !policy.Strict
			lock.RetentionPolicyID = policy.ID
			lock.RetentionEndDate = &end
			details["retentionDays"] = strconv.Itoa(days)
			details["retentionEndDate"] = end.Format(time.RFC3339)
		}
	}
	rec.Lock = lock
	rec.Document.UpdatedAt = now
	m.recorder.Append(rec, model.ActivityLocked, req.Actor.ID, now, details)
	return nil
}

// Unlock releases a locked document when its policy allows it. Unlocking an
// unlocked document is a no-op.
func (m *Manager) Unlock(ctx context.Context, req UnlockRequest) (model.LockRecord, error) {
	changed := false
	rec, err := m.store.Update(ctx, req.DocumentID, func(rec *storage.Record) error {
		id := rec.Document.ID
		if err := checkVersion(id, rec.Lock, req.ExpectedVersion); err != nil {
			return err
		}
		if !rec.Lock.IsLocked {
			return nil
		}
		if !rec.Lock.CanBeUnlocked {
			return model.Reject(id, string(model.CustodyLocked), "unlock", model.ErrInvalidTransition,
				fmt.Sprintf("policy %s does not permit release", rec.Lock.RetentionPolicyID))
		}
		now := m.now().UTC()
		details := map[string]string{"previousLockedBy": rec.Lock.LockedBy}
		if rec.Lock.RetentionEndDate != nil {
			details["retentionEndDate"] = rec.Lock.RetentionEndDate.Format(time.RFC3339)
		}
		rec.Lock = model.LockRecord{
			IsLocked:             false,
			LockedBy:             req.Actor.ID,
			LockedAt:             &now,
			CanBeUnlocked:        true,
			UnlockedAfterFunding: true,
			VerificationStatus:   rec.Lock.VerificationStatus,
			Version:              rec.Lock.Version + 1,
		}
		rec.Document.UpdatedAt = now
		m.recorder.Append(rec, model.ActivityUnlocked, req.Actor.ID, now, details)
		changed = true
		return nil
	})
	if err != nil {
		return model.LockRecord{}, err
	}
	if changed {
		m.logger.Info("document unlocked", zap.String("document_id", req.DocumentID), zap.String("actor", req.Actor.ID))
	}
	return rec.Lock, nil
}

func checkVersion(id string, lock model.LockRecord, expected *int) error {
	if expected == nil || *expected == lock.Version {
		return nil
	}
	return model.Reject(id, fmt.Sprintf("lock version %d", lock.Version), fmt.Sprintf("apply version %d", *expected),
		model.ErrConcurrentModification, "re-read the document and retry")
}
