package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/goyais/streamgate/internal/jobstore"
	"github.com/goyais/streamgate/internal/model"
)

const (
	DefaultJobTTL          = time.Hour
	DefaultStuckJobTimeout = 5 * time.Minute
	DefaultSweepInterval   = 10 * time.Minute
)

// ownerChecker reports whether a live task in this process owns a job.
type ownerChecker interface {
	Active(jobID string) bool
}

// Sweeper periodically fails orphaned jobs and deletes expired ones.
//
// A job is orphaned when it is still queued or generating past StuckTimeout
// and no task in this process owns it, typically after a restart.
type Sweeper struct {
	store        jobstore.Store
	owners       ownerChecker
	TTL          time.Duration
	StuckTimeout time.Duration
	Interval     time.Duration
	now          func() time.Time
}

// NewSweeper creates a Sweeper with default timings.
func NewSweeper(store jobstore.Store, owners ownerChecker) *Sweeper {
	return &Sweeper{
		store:        store,
		owners:       owners,
		TTL:          DefaultJobTTL,
		StuckTimeout: DefaultStuckJobTimeout,
		Interval:     DefaultSweepInterval,
		now:          time.Now,
	}
}

// Start runs the sweep loop until ctx is cancelled.
func (s *Sweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	log.Info().Dur("ttl", s.TTL).Dur("stuck_timeout", s.StuckTimeout).Dur("interval", s.Interval).Msg("sweeper started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("sweeper stopped")
			return
		case <-ticker.C:
			if _, _, err := s.Sweep(ctx); err != nil {
				log.Error().Err(err).Msg("sweep")
			}
		}
	}
}

// Sweep runs one pass and reports how many jobs were failed and deleted.
func (s *Sweeper) Sweep(ctx context.Context) (failed, deleted int, err error) {
	now := s.now().UTC()

	if s.StuckTimeout > 0 {
		ids, err := s.store.Stale(ctx, now.Add(-s.StuckTimeout))
		if err != nil {
			return 0, 0, fmt.Errorf("list stale jobs: %w", err)
		}
		for _, id := range ids {
			if s.owners != nil && s.owners.Active(id) {
				continue
			}
			if s.recover(ctx, id) {
				failed++
			}
		}
	}

	if s.TTL > 0 {
		deleted, err = s.store.Sweep(ctx, now.Add(-s.TTL))
		if err != nil {
			return failed, 0, fmt.Errorf("delete expired jobs: %w", err)
		}
	}
	if failed > 0 || deleted > 0 {
		log.Info().Int("failed", failed).Int("deleted", deleted).Msg("sweep finished")
	}
	return failed, deleted, nil
}

func (s *Sweeper) recover(ctx context.Context, id string) bool {
	_, err := s.store.Update(ctx, id, func(j *model.Job) error {
		j.Status = model.JobFailed
		j.Error = "image generation timed out"
		return nil
	})
	switch {
	case err == nil:
		log.Warn().Str("job_id", id).Msg("failed orphaned image job")
		return true
	case errors.Is(err, model.ErrJobTerminal), model.IsNotFound(err):
		return false
	default:
		log.Error().Err(err).Str("job_id", id).Msg("fail orphaned image job")
		return false
	}
}
