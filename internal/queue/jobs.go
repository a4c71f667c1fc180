// Package queue carries verification jobs over Redis with asynq.
package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/dharsanguruparan/ShieldVault/internal/tracker"
)

const (
	// VerifyDocumentTask is scheduled each time a document is submitted for
	// verification.
	VerifyDocumentTask = "document:verify"
)

// VerifyPayload is the task body. It is the tracker job as is, so the worker
// can report against the same tracking id.
type VerifyPayload = tracker.Job

// EnqueueVerify enqueues a verification job.
func EnqueueVerify(ctx context.Context, client *asynq.Client, payload VerifyPayload, opts ...asynq.Option) error {
	task, err := NewVerifyTask(payload)
	if err != nil {
		return err
	}
	opts = append([]asynq.Option{asynq.MaxRetry(5)}, opts...)
	if _, err := client.EnqueueContext(ctx, task, opts...); err != nil {
		return fmt.Errorf("enqueue verify task: %w", err)
	}
	return nil
}

// NewVerifyTask builds the asynq task for payload.
func NewVerifyTask(payload VerifyPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return asynq.NewTask(VerifyDocumentTask, data), nil
}

// DecodeVerify reads the payload back out of a task.
func DecodeVerify(task *asynq.Task) (VerifyPayload, error) {
	var payload VerifyPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return VerifyPayload{}, fmt.Errorf("decode payload: %w", err)
	}
	return payload, nil
}

// Dispatcher sends tracker jobs to the asynq queue.
type Dispatcher struct {
	client *asynq.Client
}

// NewDispatcher wraps client.
func NewDispatcher(client *asynq.Client) *Dispatcher {
	return &Dispatcher{client: client}
}

// Dispatch implements tracker.Dispatcher.
func (d *Dispatcher) Dispatch(ctx context.Context, job tracker.Job) error {
	return EnqueueVerify(ctx, d.client, job, asynq.TaskID(job.TrackingID))
}
