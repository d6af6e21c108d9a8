package service

import (
	"context"
	"testing"
	"time"

	"github.com/goyais/streamgate/internal/jobstore"
	"github.com/goyais/streamgate/internal/model"
)

func TestJobEventsFanOut(t *testing.T) {
	hub := NewJobEvents()
	store := jobstore.WithNotify(jobstore.NewMemory(), hub)
	ctx := context.Background()

	a, cancelA := hub.Subscribe(ctx, "job-1")
	b, cancelB := hub.Subscribe(ctx, "job-1")
	other, cancelOther := hub.Subscribe(ctx, "job-2")
	defer cancelOther()

	if err := store.Create(ctx, &model.Job{ID: "job-1", Status: model.JobGenerating}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := store.Update(ctx, "job-1", func(j *model.Job) error {
		j.Status = model.JobCompleted
		return nil
	}); err != nil {
		t.Fatalf("update: %v", err)
	}

	for _, ch := range []<-chan *model.Job{a, b} {
		first := recv(t, ch)
		second := recv(t, ch)
		if first.Status != model.JobGenerating || second.Status != model.JobCompleted {
			t.Fatalf("unexpected snapshots %s, %s", first.Status, second.Status)
		}
	}
	select {
	case j := <-other:
		t.Fatalf("unrelated subscriber got %+v", j)
	default:
	}

	cancelA()
	if hub.Watchers("job-1") != 1 {
		t.Fatalf("expected 1 watcher after cancel, got %d", hub.Watchers("job-1"))
	}
	cancelB()
	if hub.Watchers("job-1") != 0 {
		t.Fatalf("expected no watchers")
	}
	if _, open := <-a; open {
		t.Fatalf("channel should be closed after cancel")
	}
}

func recv(t *testing.T, ch <-chan *model.Job) *model.Job {
	t.Helper()
	select {
	case j := <-ch:
		return j
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for snapshot")
		return nil
	}
}
