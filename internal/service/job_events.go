package service

import (
	"context"
	"sync"

	"github.com/goyais/streamgate/internal/model"
)

// jobSubscriber is one SSE client watching a job.
type jobSubscriber struct {
	ch chan *model.Job
}

// JobEvents fans job snapshots out to connected SSE clients. It implements
// jobstore.Publisher and is fed by the Notifying store wrapper.
type JobEvents struct {
	mu          sync.RWMutex
	subscribers map[string][]*jobSubscriber
}

func NewJobEvents() *JobEvents {
	return &JobEvents{subscribers: make(map[string][]*jobSubscriber)}
}

// Publish sends a snapshot to every subscriber of the job.
func (h *JobEvents) Publish(job *model.Job) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, sub := range h.subscribers[job.ID] {
		select {
		case sub.ch <- job.Clone():
		default:
			// Slow consumer: drop. The events handler re-reads the store on its
			// keepalive tick.
		}
	}
}

// Subscribe registers a watcher for jobID. The returned cancel must be called
// exactly once; it closes the channel.
func (h *JobEvents) Subscribe(_ context.Context, jobID string) (<-chan *model.Job, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	sub := &jobSubscriber{ch: make(chan *model.Job, 16)}
	h.subscribers[jobID] = append(h.subscribers[jobID], sub)

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		subs := h.subscribers[jobID]
		updated := subs[:0]
		for _, s := range subs {
			if s != sub {
				updated = append(updated, s)
			}
		}
		if len(updated) == 0 {
			delete(h.subscribers, jobID)
		} else {
			h.subscribers[jobID] = updated
		}
		close(sub.ch)
	}
	return sub.ch, cancel
}

// Watchers reports how many clients follow jobID.
func (h *JobEvents) Watchers(jobID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers[jobID])
}
