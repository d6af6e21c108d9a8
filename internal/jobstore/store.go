// Package jobstore holds the registry of asynchronous image generation jobs.
//
// A Store is safe for concurrent readers. Each job has exactly one writer after
// creation (its fulfillment task), and Update refuses to touch a job whose
// status is already terminal.
package jobstore

import (
	"context"
	"time"

	"github.com/goyais/streamgate/internal/model"
)

// Mutator edits a private copy of a job inside Update.
type Mutator func(job *model.Job) error

// Store is the create/get/update contract shared by every backend.
type Store interface {
	// Create inserts a new job. It fails with model.ErrJobExists on id reuse.
	Create(ctx context.Context, job *model.Job) error
	// Get returns a copy of the job or a *model.NotFoundError.
	Get(ctx context.Context, id string) (*model.Job, error)
	// Update applies fn to the stored job and persists the result.
	// It returns model.ErrJobTerminal if the job is already completed or failed.
	Update(ctx context.Context, id string, fn Mutator) (*model.Job, error)
	// Delete removes a job; unknown ids yield a *model.NotFoundError.
	Delete(ctx context.Context, id string) error
	// Stale lists ids of non-terminal jobs created before the cutoff.
	Stale(ctx context.Context, createdBefore time.Time) ([]string, error)
	// Sweep deletes jobs created before the cutoff and reports how many.
	Sweep(ctx context.Context, createdBefore time.Time) (int, error)
	Close() error
}

var now = func() time.Time { return time.Now().UTC() }

// applyUpdate runs fn against a clone of cur and enforces the lifecycle rules:
// terminal jobs are frozen, progress never moves backwards while running, and
// a terminal completion pins progress to 100.
func applyUpdate(cur *model.Job, fn Mutator) (*model.Job, error) {
	if cur.Status.Terminal() {
		return nil, model.ErrJobTerminal
	}
	next := cur.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	next.ID = cur.ID
	next.CreatedAt = cur.CreatedAt
	if !next.Status.Valid() {
		next.Status = cur.Status
	}
	if next.Progress < cur.Progress {
		next.Progress = cur.Progress
	}
	if next.Progress > 100 {
		next.Progress = 100
	}
	if next.Status == model.JobCompleted {
		next.Progress = 100
	}
	next.UpdatedAt = now()
	return next, nil
}

// prepareCreate fills timestamps and defaults on a job about to be stored.
func prepareCreate(job *model.Job) *model.Job {
	c := job.Clone()
	if c.Status == "" {
		c.Status = model.JobQueued
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now()
	}
	c.CreatedAt = c.CreatedAt.UTC()
	c.UpdatedAt = c.CreatedAt
	return c
}

func notFound(id string) error {
	return &model.NotFoundError{Resource: "job", ID: id}
}
