package tracker

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// ErrQueueFull is returned by Pool.Dispatch when the buffer is exhausted.
var ErrQueueFull = errors.New("verification queue full")

// Verifier is the verification collaborator: OCR, content checks, external
// registries.
type Verifier interface {
	Verify(ctx context.Context, job Job) (Result, error)
}

// Pool is an in-process Dispatcher: a fixed set of goroutines consuming a
// buffered channel of jobs.
type Pool struct {
	tracker  *Tracker
	verifier Verifier
	queue    chan Job
	workers  int
	logger   *zap.Logger
}

// NewPool builds a Pool with queue capacity tied to worker count.
func NewPool(t *Tracker, verifier Verifier, workers int, logger *zap.Logger) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{
		tracker:  t,
		verifier: verifier,
		queue:    make(chan Job, workers*4),
		workers:  workers,
		logger:   logger,
	}
}

// Start launches the worker goroutines. They exit when ctx is cancelled.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		go p.worker(ctx)
	}
}

// Dispatch queues a job without blocking.
func (p *Pool) Dispatch(_ context.Context, job Job) error {
	select {
	case p.queue <- job:
		return nil
	default:
		p.logger.Warn("verification queue full", zap.String("document_id", job.DocumentID))
		return ErrQueueFull
	}
}

func (p *Pool) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-p.queue:
			if err := Process(ctx, p.tracker, p.verifier, job); err != nil {
				p.logger.Error("verification job failed",
					zap.String("document_id", job.DocumentID),
					zap.String("tracking_id", job.TrackingID),
					zap.Error(err))
			}
		}
	}
}
