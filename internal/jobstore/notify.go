package jobstore

import (
	"context"

	"github.com/goyais/streamgate/internal/model"
)

// Publisher receives a snapshot after every successful write.
type Publisher interface {
	Publish(job *model.Job)
}

// Notifying decorates a Store so watchers learn about writes without polling.
type Notifying struct {
	Store
	pub Publisher
}

func WithNotify(s Store, pub Publisher) *Notifying {
	return &Notifying{Store: s, pub: pub}
}

func (n *Notifying) Create(ctx context.Context, job *model.Job) error {
	if err := n.Store.Create(ctx, job); err != nil {
		return err
	}
	if stored, err := n.Store.Get(ctx, job.ID); err == nil {
		n.pub.Publish(stored)
	}
	return nil
}

func (n *Notifying) Update(ctx context.Context, id string, fn Mutator) (*model.Job, error) {
	job, err := n.Store.Update(ctx, id, fn)
	if err != nil {
		return nil, err
	}
	n.pub.Publish(job.Clone())
	return job, nil
}
