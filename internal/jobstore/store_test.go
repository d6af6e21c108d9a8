package jobstore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/goyais/streamgate/internal/config"
	"github.com/goyais/streamgate/internal/db"
	"github.com/goyais/streamgate/internal/model"
	"github.com/redis/go-redis/v9"
)

type storeFactory func(t *testing.T) Store

func backends() map[string]storeFactory {
	return map[string]storeFactory{
		"memory": func(t *testing.T) Store { return NewMemory() },
		"redis": func(t *testing.T) Store {
			mr := miniredis.RunT(t)
			client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
			s := NewRedis(client, time.Hour)
			t.Cleanup(func() { _ = s.Close() })
			return s
		},
		"sqlite": func(t *testing.T) Store {
			database, err := db.Open(&config.Config{JobStore: "sqlite", DBPath: ":memory:"})
			if err != nil {
				t.Fatalf("open sqlite: %v", err)
			}
			if err := db.Migrate(database, "sqlite"); err != nil {
				t.Fatalf("migrate: %v", err)
			}
			s := NewSQL(database, "sqlite")
			t.Cleanup(func() { _ = s.Close() })
			return s
		},
	}
}

func forEachBackend(t *testing.T, fn func(t *testing.T, s Store)) {
	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) {
			fn(t, factory(t))
		})
	}
}

func seedJob(t *testing.T, s Store, id string, createdAt time.Time) {
	t.Helper()
	err := s.Create(context.Background(), &model.Job{
		ID:        id,
		Status:    model.JobGenerating,
		Prompt:    "a red fox",
		Provider:  "Pollinations.ai",
		CreatedAt: createdAt,
	})
	if err != nil {
		t.Fatalf("create %s: %v", id, err)
	}
}

func TestStoreCreateGet(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		seedJob(t, s, "job-1", time.Now())

		got, err := s.Get(ctx, "job-1")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got.Status != model.JobGenerating || got.Prompt != "a red fox" || got.Provider != "Pollinations.ai" {
			t.Fatalf("unexpected job: %+v", got)
		}
		if got.CreatedAt.IsZero() || got.UpdatedAt.IsZero() {
			t.Fatalf("expected timestamps to be set: %+v", got)
		}

		if err := s.Create(ctx, &model.Job{ID: "job-1", Prompt: "dup"}); !errors.Is(err, model.ErrJobExists) {
			t.Fatalf("expected ErrJobExists, got %v", err)
		}
		if _, err := s.Get(ctx, "missing"); !model.IsNotFound(err) {
			t.Fatalf("expected not found, got %v", err)
		}
	})
}

func TestStoreUpdateKeepsProgressMonotonic(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		seedJob(t, s, "job-1", time.Now())

		if _, err := s.Update(ctx, "job-1", func(j *model.Job) error { j.Progress = 40; return nil }); err != nil {
			t.Fatalf("update: %v", err)
		}
		got, err := s.Update(ctx, "job-1", func(j *model.Job) error { j.Progress = 10; return nil })
		if err != nil {
			t.Fatalf("update: %v", err)
		}
		if got.Progress != 40 {
			t.Fatalf("expected progress to stay at 40, got %d", got.Progress)
		}
	})
}

func TestStoreTerminalStatusIsFrozen(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		seedJob(t, s, "job-1", time.Now())

		done, err := s.Update(ctx, "job-1", func(j *model.Job) error {
			j.Status = model.JobCompleted
			j.Result = "https://img/fox.png"
			return nil
		})
		if err != nil {
			t.Fatalf("complete: %v", err)
		}
		if done.Progress != 100 {
			t.Fatalf("expected completion to pin progress at 100, got %d", done.Progress)
		}

		_, err = s.Update(ctx, "job-1", func(j *model.Job) error {
			j.Status = model.JobFailed
			j.Error = "late failure"
			return nil
		})
		if !errors.Is(err, model.ErrJobTerminal) {
			t.Fatalf("expected ErrJobTerminal, got %v", err)
		}

		got, err := s.Get(ctx, "job-1")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got.Status != model.JobCompleted || got.Result != "https://img/fox.png" || got.Error != "" {
			t.Fatalf("terminal job was modified: %+v", got)
		}
	})
}

func TestStoreUpdateMutatorErrorLeavesJobUntouched(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		seedJob(t, s, "job-1", time.Now())
		boom := errors.New("boom")

		_, err := s.Update(ctx, "job-1", func(j *model.Job) error {
			j.Status = model.JobFailed
			return boom
		})
		if !errors.Is(err, boom) {
			t.Fatalf("expected mutator error, got %v", err)
		}
		got, _ := s.Get(ctx, "job-1")
		if got.Status != model.JobGenerating {
			t.Fatalf("expected job to remain generating, got %s", got.Status)
		}
		if _, err := s.Update(ctx, "missing", func(*model.Job) error { return nil }); !model.IsNotFound(err) {
			t.Fatalf("expected not found on update, got %v", err)
		}
	})
}

func TestStoreDelete(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		seedJob(t, s, "job-1", time.Now())
		if err := s.Delete(ctx, "job-1"); err != nil {
			t.Fatalf("delete: %v", err)
		}
		if err := s.Delete(ctx, "job-1"); !model.IsNotFound(err) {
			t.Fatalf("expected not found on second delete, got %v", err)
		}
	})
}

func TestStoreStaleAndSweep(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		old := time.Now().Add(-2 * time.Hour)
		seedJob(t, s, "old-running", old)
		seedJob(t, s, "old-done", old)
		seedJob(t, s, "fresh", time.Now())
		if _, err := s.Update(ctx, "old-done", func(j *model.Job) error {
			j.Status = model.JobFailed
			return nil
		}); err != nil {
			t.Fatalf("fail old-done: %v", err)
		}

		cutoff := time.Now().Add(-time.Hour)
		stale, err := s.Stale(ctx, cutoff)
		if err != nil {
			t.Fatalf("stale: %v", err)
		}
		if len(stale) != 1 || stale[0] != "old-running" {
			t.Fatalf("expected only old-running to be stale, got %v", stale)
		}

		removed, err := s.Sweep(ctx, cutoff)
		if err != nil {
			t.Fatalf("sweep: %v", err)
		}
		if removed != 2 {
			t.Fatalf("expected 2 jobs swept, got %d", removed)
		}
		if _, err := s.Get(ctx, "fresh"); err != nil {
			t.Fatalf("fresh job should survive sweep: %v", err)
		}
	})
}

func TestStoreConcurrentReadersWithSingleWriter(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		seedJob(t, s, "job-1", time.Now())

		var wg sync.WaitGroup
		stop := make(chan struct{})
		for i := 0; i < 4; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				last := 0
				for {
					select {
					case <-stop:
						return
					default:
					}
					job, err := s.Get(ctx, "job-1")
					if err != nil {
						t.Errorf("get: %v", err)
						return
					}
					if job.Progress < last {
						t.Errorf("progress went backwards: %d -> %d", last, job.Progress)
						return
					}
					last = job.Progress
				}
			}()
		}

		for p := 10; p <= 80; p += 10 {
			progress := p
			if _, err := s.Update(ctx, "job-1", func(j *model.Job) error { j.Progress = progress; return nil }); err != nil {
				t.Fatalf("update: %v", err)
			}
		}
		close(stop)
		wg.Wait()
	})
}

type recordingPublisher struct {
	mu   sync.Mutex
	jobs []*model.Job
}

func (p *recordingPublisher) Publish(job *model.Job) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.jobs = append(p.jobs, job)
}

func TestNotifyingPublishesSuccessfulWrites(t *testing.T) {
	pub := &recordingPublisher{}
	s := WithNotify(NewMemory(), pub)
	ctx := context.Background()
	seedJob(t, s, "job-1", time.Now())

	if _, err := s.Update(ctx, "job-1", func(j *model.Job) error {
		j.Status = model.JobCompleted
		return nil
	}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if _, err := s.Update(ctx, "job-1", func(j *model.Job) error { return nil }); !errors.Is(err, model.ErrJobTerminal) {
		t.Fatalf("expected ErrJobTerminal, got %v", err)
	}

	if len(pub.jobs) != 2 {
		t.Fatalf("expected 2 published snapshots, got %d", len(pub.jobs))
	}
	if pub.jobs[0].Status != model.JobGenerating || pub.jobs[1].Status != model.JobCompleted {
		t.Fatalf("unexpected published statuses: %s, %s", pub.jobs[0].Status, pub.jobs[1].Status)
	}
}

func TestRedisCreateRollsBackUnindexedJob(t *testing.T) {
	mr := miniredis.RunT(t)
	s := NewRedis(redis.NewClient(&redis.Options{Addr: mr.Addr()}), time.Hour)
	t.Cleanup(func() { _ = s.Close() })
	ctx := context.Background()

	// A string at the index key makes ZADD fail with WRONGTYPE.
	if err := mr.Set(redisCreatedIdx, "not-a-zset"); err != nil {
		t.Fatalf("seed index: %v", err)
	}
	if err := s.Create(ctx, &model.Job{ID: "job-1", Prompt: "x"}); err == nil {
		t.Fatalf("expected create to fail when the index write fails")
	}
	if _, err := s.Get(ctx, "job-1"); !model.IsNotFound(err) {
		t.Fatalf("expected job key to be rolled back, got %v", err)
	}

	mr.Del(redisCreatedIdx)
	if err := s.Create(ctx, &model.Job{ID: "job-1", Prompt: "x"}); err != nil {
		t.Fatalf("create after index repair: %v", err)
	}
	stale, err := s.Stale(ctx, time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("stale: %v", err)
	}
	if len(stale) != 1 || stale[0] != "job-1" {
		t.Fatalf("expected job-1 to be indexed, got %v", stale)
	}
}
