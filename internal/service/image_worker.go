package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	"github.com/goyais/streamgate/internal/config"
	"github.com/goyais/streamgate/internal/imagegen"
	"github.com/goyais/streamgate/internal/jobstore"
	"github.com/goyais/streamgate/internal/model"
)

const (
	progressStep    = 10
	progressCeiling = 80
)

// ErrWorkerClosed fails jobs dispatched after Shutdown has begun.
var ErrWorkerClosed = errors.New("image worker is shutting down")

// ImageGenerator produces an image for a prompt.
type ImageGenerator interface {
	Provider() string
	Generate(ctx context.Context, prompt string) (imagegen.Result, error)
}

// ImageWorker runs image fulfillment tasks detached from the request that
// asked for them. Each task is the only writer of its job.
type ImageWorker struct {
	store            jobstore.Store
	gen              ImageGenerator
	sem              *semaphore.Weighted // nil = unlimited
	Timeout          time.Duration
	ProgressInterval time.Duration

	// base parents every task context; Shutdown cancels it when the grace
	// period runs out.
	base    context.Context
	stopAll context.CancelFunc

	mu     sync.Mutex
	closed bool
	active map[string]struct{}
	wg     sync.WaitGroup
}

func NewImageWorker(store jobstore.Store, gen ImageGenerator, cfg config.ImageConfig) *ImageWorker {
	base, stopAll := context.WithCancel(context.Background())
	w := &ImageWorker{
		base:             base,
		stopAll:          stopAll,
		store:            store,
		gen:              gen,
		Timeout:          cfg.Timeout,
		ProgressInterval: cfg.ProgressInterval,
		active:           make(map[string]struct{}),
	}
	if cfg.MaxConcurrent > 0 {
		w.sem = semaphore.NewWeighted(int64(cfg.MaxConcurrent))
	}
	return w
}

// Provider names the backend new jobs are attributed to.
func (w *ImageWorker) Provider() string { return w.gen.Provider() }

// Submit creates a queued job for prompt and starts fulfilling it.
func (w *ImageWorker) Submit(ctx context.Context, prompt string) (*model.Job, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return nil, fmt.Errorf("prompt is required")
	}
	job := &model.Job{
		ID:       uuid.NewString(),
		Status:   model.JobQueued,
		Prompt:   prompt,
		Provider: w.Provider(),
	}
	if err := w.store.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	w.Dispatch(job.ID, prompt)
	return w.store.Get(ctx, job.ID)
}

// Dispatch starts fulfillment of an existing job and returns immediately.
// The task does not observe any request context. After Shutdown the job is
// failed instead.
func (w *ImageWorker) Dispatch(jobID, prompt string) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		w.fail(jobID, ErrWorkerClosed)
		return
	}
	w.active[jobID] = struct{}{}
	w.wg.Add(1)
	w.mu.Unlock()

	go func() {
		defer w.wg.Done()
		defer func() {
			w.mu.Lock()
			delete(w.active, jobID)
			w.mu.Unlock()
		}()
		w.run(jobID, prompt)
	}()
}

// Active reports whether a task in this process owns jobID.
func (w *ImageWorker) Active(jobID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.active[jobID]
	return ok
}

// Wait blocks until every dispatched task has finished.
func (w *ImageWorker) Wait() {
	w.wg.Wait()
}

// Shutdown stops accepting dispatches and waits for running tasks. If ctx
// expires first, the remaining tasks are cancelled and Shutdown waits for them
// to record their failure, so the store can be closed afterwards.
func (w *ImageWorker) Shutdown(ctx context.Context) error {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		w.stopAll()
		return nil
	case <-ctx.Done():
		w.stopAll()
		<-done
		return ctx.Err()
	}
}

func (w *ImageWorker) run(jobID, prompt string) {
	ctx := w.base
	if w.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.Timeout)
		defer cancel()
	}
	logger := log.With().Str("job_id", jobID).Logger()

	if w.sem != nil {
		if err := w.sem.Acquire(ctx, 1); err != nil {
			w.fail(jobID, fmt.Errorf("waiting for a free slot: %w", err))
			return
		}
		defer w.sem.Release(1)
	}

	if _, err := w.store.Update(ctx, jobID, func(j *model.Job) error {
		j.Status = model.JobGenerating
		j.Progress = progressStep
		return nil
	}); err != nil {
		logger.Warn().Err(err).Msg("image job vanished before start")
		return
	}

	stop := make(chan struct{})
	ticking := make(chan struct{})
	go w.tickProgress(ctx, jobID, stop, ticking)

	started := time.Now()
	res, err := w.gen.Generate(ctx, prompt)
	close(stop)
	<-ticking

	if err != nil {
		w.fail(jobID, err)
		return
	}
	_, uerr := w.store.Update(context.Background(), jobID, func(j *model.Job) error {
		j.Status = model.JobCompleted
		j.Progress = 100
		j.Result = res.URL
		j.Provider = res.Provider
		j.Fallback = res.Fallback
		return nil
	})
	if uerr != nil {
		logger.Error().Err(uerr).Msg("record image result")
		return
	}
	logger.Info().Str("provider", res.Provider).Bool("fallback", res.Fallback).
		Dur("took", time.Since(started)).Msg("image job completed")
}

// tickProgress nudges progress forward until stop closes. It never reaches
// completion on its own.
func (w *ImageWorker) tickProgress(ctx context.Context, jobID string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	if w.ProgressInterval <= 0 {
		return
	}
	ticker := time.NewTicker(w.ProgressInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, err := w.store.Update(ctx, jobID, func(j *model.Job) error {
				if j.Progress+progressStep <= progressCeiling {
					j.Progress += progressStep
				}
				return nil
			})
			if err != nil {
				return
			}
		}
	}
}

func (w *ImageWorker) fail(jobID string, cause error) {
	log.Warn().Err(cause).Str("job_id", jobID).Msg("image job failed")
	_, err := w.store.Update(context.Background(), jobID, func(j *model.Job) error {
		j.Status = model.JobFailed
		j.Error = cause.Error()
		return nil
	})
	if err != nil && !model.IsNotFound(err) {
		log.Error().Err(err).Str("job_id", jobID).Msg("record image failure")
	}
}
