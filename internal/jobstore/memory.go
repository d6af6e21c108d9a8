package jobstore

import (
	"context"
	"sync"
	"time"

	"github.com/goyais/streamgate/internal/model"
)

// Memory keeps jobs in a process-local map.
type Memory struct {
	mu   sync.RWMutex
	jobs map[string]*model.Job
}

func NewMemory() *Memory {
	return &Memory{jobs: make(map[string]*model.Job)}
}

func (m *Memory) Create(_ context.Context, job *model.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[job.ID]; ok {
		return model.ErrJobExists
	}
	m.jobs[job.ID] = prepareCreate(job)
	return nil
}

func (m *Memory) Get(_ context.Context, id string) (*model.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, notFound(id)
	}
	return job.Clone(), nil
}

func (m *Memory) Update(_ context.Context, id string, fn Mutator) (*model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.jobs[id]
	if !ok {
		return nil, notFound(id)
	}
	next, err := applyUpdate(cur, fn)
	if err != nil {
		return nil, err
	}
	m.jobs[id] = next
	return next.Clone(), nil
}

func (m *Memory) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[id]; !ok {
		return notFound(id)
	}
	delete(m.jobs, id)
	return nil
}

func (m *Memory) Stale(_ context.Context, createdBefore time.Time) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var ids []string
	for id, job := range m.jobs {
		if !job.Status.Terminal() && job.CreatedAt.Before(createdBefore) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (m *Memory) Sweep(_ context.Context, createdBefore time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for id, job := range m.jobs {
		if job.CreatedAt.Before(createdBefore) {
			delete(m.jobs, id)
			removed++
		}
	}
	return removed, nil
}

func (m *Memory) Close() error { return nil }
