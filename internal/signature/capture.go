package signature

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/dharsanguruparan/ShieldVault/internal/model"
	"github.com/dharsanguruparan/ShieldVault/internal/storage"
)

// Preview applies a signer's values to a copy of the request and returns
// that signer's fields as they would be stored. Nothing is persisted.
func (e *Engine) Preview(ctx context.Context, in CaptureRequest) ([]model.SignatureField, error) {
	rec, err := e.store.Get(ctx, in.DocumentID)
	if err != nil {
		return nil, err
	}
	if err := e.apply(&rec, in, e.now().UTC()); err != nil {
		return nil, err
	}
	return rec.Signature.FieldsFor(in.SignerID), nil
}

// Capture stores a signer's values. Only fields assigned to the signer may be
// written, and writing the same payload twice leaves the same values. When
// every required field is filled the request completes and the notifier is
// told.
func (e *Engine) Capture(ctx context.Context, in CaptureRequest) (model.SignatureRequest, error) {
	completed := false
	rec, err := e.store.Update(ctx, in.DocumentID, func(rec *storage.Record) error {
		now := e.now().UTC()
		if err := e.apply(rec, in, now); err != nil {
			return err
		}
		sig := rec.Signature
		sig.Version++
		rec.Document.UpdatedAt = now
		e.recorder.Append(rec, model.ActivitySignatureCaptured, in.SignerID, now, map[string]string{
			"signatureRequest": sig.ID,
			"fields":           strconv.Itoa(len(in.Values)),
		})
		if sig.State == model.StateCompleted {
			completed = true
			rec.Document.SignatureStatus = model.SignatureCompleted
			e.recorder.Append(rec, model.ActivitySignatureCompleted, in.SignerID, now, map[string]string{
				"signatureRequest": sig.ID,
			})
		}
		return nil
	})
	if err != nil {
		return model.SignatureRequest{}, err
	}
	sig := rec.Signature.Clone()
	e.logger.Info("signature captured",
		zap.String("document_id", in.DocumentID),
		zap.String("signer_id", in.SignerID),
		zap.String("state", string(sig.State)))
	if completed && e.notifier != nil {
		if err := e.notifier.SignatureCompleted(ctx, sig); err != nil {
			e.logger.Error("completion notification failed", zap.String("document_id", in.DocumentID), zap.Error(err))
		}
	}
	return sig, nil
}

// apply performs the capture on rec in place.
func (e *Engine) apply(rec *storage.Record, in CaptureRequest, now time.Time) error {
	id := rec.Document.ID
	sig, err := e.open(rec, now, "capture signature")
	if err != nil {
		return err
	}
	if in.ExpectedVersion != nil && *in.ExpectedVersion != sig.Version {
		return model.Reject(id, fmt.Sprintf("signature version %d", sig.Version), fmt.Sprintf("apply version %d", *in.ExpectedVersion),
			model.ErrConcurrentModification, "re-read the request and retry")
	}
	if sig.State != model.StateAwaitingSignatures {
		return model.Reject(id, "signature "+string(sig.State), "capture signature", model.ErrInvalidTransition, "send the request first")
	}
	if rec.Lock.IsLocked {
		return model.Reject(id, string(model.CustodyLocked), "capture signature", model.ErrInvalidTransition, "locked documents cannot be modified")
	}
	si, ok := sig.Signer(in.SignerID)
	if !ok {
		return fmt.Errorf("signer %s: %w", in.SignerID, model.ErrInvalidInput)
	}
	if sig.Signers[si].Status == model.SignerDeclined {
		return model.Reject(id, "signer declined", "capture signature", model.ErrInvalidTransition, "")
	}
	if len(in.Values) == 0 {
		return fmt.Errorf("capture for signer %s carries no values: %w", in.SignerID, model.ErrInvalidInput)
	}

	// Validate every key before writing anything.
	index := make(map[string]int, len(sig.Fields))
	for i, f := range sig.Fields {
		index[f.ID] = i
	}
	keys := make([]string, 0, len(in.Values))
	for fieldID := range in.Values {
		i, ok := index[fieldID]
		if !ok || sig.Fields[i].AssignedTo != in.SignerID {
			return fmt.Errorf("field %s for signer %s: %w", fieldID, in.SignerID, model.ErrUnknownField)
		}
		keys = append(keys, fieldID)
	}
	sort.Strings(keys)
	for _, fieldID := range keys {
		f := &sig.Fields[index[fieldID]]
		value := in.Values[fieldID]
		if f.Value == value {
			continue
		}
		f.Value = value
		if value == "" {
			f.FilledAt = nil
		} else {
			at := now
			f.FilledAt = &at
		}
	}

	signer := &sig.Signers[si]
	if signerDone(*sig, signer.ID) {
		if signer.Status != model.SignerSigned {
			at := now
			signer.Status = model.SignerSigned
			signer.SignedAt = &at
		}
	} else {
		signer.Status = model.SignerPending
		signer.SignedAt = nil
	}

	if sig.Complete() {
		at := now
		sig.State = model.StateCompleted
		sig.CompletedAt = &at
		for i := range sig.Signers {
			if sig.Signers[i].Status != model.SignerSigned {
				sig.Signers[i].Status = model.SignerSigned
				sig.Signers[i].SignedAt = &at
			}
		}
	}
	return nil
}

func signerDone(sig model.SignatureRequest, signerID string) bool {
	for _, f := range sig.FieldsFor(signerID) {
		if f.Required && !f.Filled() {
			return false
		}
	}
	return true
}

// Reject ends the request on behalf of a signer. It does not retry; a new
// request has to be created.
func (e *Engine) Reject(ctx context.Context, documentID, signerID, reason string) (model.SignatureRequest, error) {
	rec, err := e.store.Update(ctx, documentID, func(rec *storage.Record) error {
		now := e.now().UTC()
		sig, err := e.open(rec, now, "reject signature")
		if err != nil {
			return err
		}
		si, ok := sig.Signer(signerID)
		if !ok {
			return fmt.Errorf("signer %s: %w", signerID, model.ErrInvalidInput)
		}
		at := now
		sig.Signers[si].Status = model.SignerDeclined
		sig.Signers[si].DeclineReason = reason
		sig.State = model.StateRejected
		sig.RejectedAt = &at
		sig.Version++
		rec.Document.SignatureStatus = model.SignatureRejected
		rec.Document.UpdatedAt = now
		e.recorder.Append(rec, model.ActivitySignatureRejected, signerID, now, map[string]string{
			"signatureRequest": sig.ID,
			"reason":           reason,
		})
		return nil
	})
	if err != nil {
		return model.SignatureRequest{}, err
	}
	e.logger.Info("signature rejected", zap.String("document_id", documentID), zap.String("signer_id", signerID))
	return rec.Signature.Clone(), nil
}
