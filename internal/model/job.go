package model

import (
	"errors"
	"fmt"
	"time"
)

// JobStatus is the lifecycle state of an image generation job.
type JobStatus string

const (
	JobQueued     JobStatus = "queued"
	JobGenerating JobStatus = "generating"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// Terminal reports whether no further transitions are allowed.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// Valid reports whether s is one of the known statuses.
func (s JobStatus) Valid() bool {
	switch s {
	case JobQueued, JobGenerating, JobCompleted, JobFailed:
		return true
	}
	return false
}

// Job is the polled record of one asynchronous image generation.
type Job struct {
	ID        string    `json:"id"`
	Status    JobStatus `json:"status"`
	Progress  int       `json:"progress"`
	Prompt    string    `json:"prompt"`
	Result    string    `json:"result,omitempty"`
	Error     string    `json:"error,omitempty"`
	Provider  string    `json:"provider"`
	Fallback  bool      `json:"fallback,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Clone returns an independent copy so callers never share store memory.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	c := *j
	return &c
}

// ErrJobTerminal is returned when an update targets a completed or failed job.
var ErrJobTerminal = errors.New("job is in a terminal state")

// ErrJobExists is returned when Create is called with an id already in use.
var ErrJobExists = errors.New("job already exists")

// NotFoundError is returned as 404.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// IsNotFound reports whether err wraps a *NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}
