package custody

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/dharsanguruparan/ShieldVault/internal/model"
	"github.com/dharsanguruparan/ShieldVault/internal/retention"
	"github.com/dharsanguruparan/ShieldVault/internal/storage"
)

// LockAllRequest locks every unlocked document of a transaction. When
// DocumentIDs is set it replaces the transaction lookup; listed documents of
// another transaction are reported as errors and left alone.
type LockAllRequest struct {
	TransactionID string
	DocumentIDs   []string
	Actor         model.Actor
	Attributes    retention.Attributes
}

// LockResult is the outcome for one document of a bulk lock.
type LockResult struct {
	DocumentID string
	Lock       *model.LockRecord
	// Skipped is set for documents that were already locked.
	Skipped bool
	Err     error
}

// LockAll applies VerifyAndLock to each currently unlocked document. A failure
// on one document never stops the others; every outcome is reported. If ctx is
// cancelled iteration stops and the results gathered so far are returned with
// ctx.Err(); locks already applied stay in place.
func (m *Manager) LockAll(ctx context.Context, req LockAllRequest) ([]LockResult, error) {
	ids := req.DocumentIDs
	if len(ids) == 0 {
		var err error
		ids, err = m.store.ListByTransaction(ctx, req.TransactionID)
		if err != nil {
			return nil, fmt.Errorf("list transaction %s: %w", req.TransactionID, err)
		}
	}
	results := make([]LockResult, 0, len(ids))
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		res := LockResult{DocumentID: id}
		rec, err := m.store.Get(ctx, id)
		switch {
		case err != nil:
			res.Err = err
		case req.TransactionID != "" && rec.Document.TransactionID != req.TransactionID:
			res.Err = fmt.Errorf("document %s is not part of transaction %s: %w", id, req.TransactionID, model.ErrInvalidInput)
		case rec.Lock.IsLocked:
			lock := rec.Lock
			res.Lock = &lock
			res.Skipped = true
		default:
			lock, err := m.VerifyAndLock(ctx, LockRequest{DocumentID: id, Actor: req.Actor, Attributes: req.Attributes})
			if err != nil {
				res.Err = err
			} else {
				res.Lock = &lock
			}
		}
		results = append(results, res)
	}
	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}
	m.logger.Info("bulk lock finished",
		zap.String("transaction_id", req.TransactionID),
		zap.Int("documents", len(results)),
		zap.Int("failed", failed))
	return results, nil
}

// SignatureCompleted records that a document has been fully executed. With
// auto-lock enabled it also tries to lock the document on behalf of the
// request creator; a lock failure is recorded on the document and logged but
// does not fail the notification.
func (m *Manager) SignatureCompleted(ctx context.Context, req model.SignatureRequest) error {
	if !m.autoLock {
		return nil
	}
	_, err := m.VerifyAndLock(ctx, LockRequest{
		DocumentID: req.DocumentID,
		Actor:      req.CreatedBy,
		Attributes: req.Terms,
	})
	if err == nil {
		return nil
	}
	if errors.Is(err, model.ErrNotFound) {
		return err
	}
	m.logger.Warn("auto lock after signature failed", zap.String("document_id", req.DocumentID), zap.Error(err))
	_, uerr := m.store.Update(ctx, req.DocumentID, func(rec *storage.Record) error {
		m.recorder.Append(rec, model.ActivityAutoLockFailed, req.CreatedBy.ID, m.now(), map[string]string{
			"signatureRequest": req.ID,
			"reason":           err.Error(),
		})
		return nil
	})
	return uerr
}
