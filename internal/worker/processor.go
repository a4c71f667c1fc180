// Package worker consumes verification tasks from the asynq queue.
package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/dharsanguruparan/ShieldVault/internal/model"
	"github.com/dharsanguruparan/ShieldVault/internal/queue"
	"github.com/dharsanguruparan/ShieldVault/internal/tracker"
)

// Processor is plugged into the asynq worker loop.
type Processor struct {
	tracker  *tracker.Tracker
	verifier tracker.Verifier
	logger   *zap.Logger
}

// NewProcessor constructs a worker processor.
func NewProcessor(t *tracker.Tracker, verifier tracker.Verifier, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{tracker: t, verifier: verifier, logger: logger}
}

// Handler registers the verify job handler.
func (p *Processor) Handler() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.VerifyDocumentTask, p.HandleVerify)
	return mux
}

// HandleVerify runs one verification task. Tasks whose document or tracking
// id is gone, or whose attempt already finished, are not retried.
func (p *Processor) HandleVerify(ctx context.Context, task *asynq.Task) error {
	payload, err := queue.DecodeVerify(task)
	if err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	log := p.logger.With(zap.String("document_id", payload.DocumentID), zap.String("tracking_id", payload.TrackingID))
	err = tracker.Process(ctx, p.tracker, p.verifier, payload)
	switch {
	case err == nil:
		log.Info("verification task done")
		return nil
	case errors.Is(err, model.ErrNotFound), errors.Is(err, model.ErrInvalidTransition):
		log.Warn("verification task dropped", zap.Error(err))
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	default:
		log.Error("verification task failed", zap.Error(err))
		return err
	}
}
