package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/goyais/streamgate/internal/jobstore"
	"github.com/goyais/streamgate/internal/model"
	"github.com/goyais/streamgate/internal/sse"
)

// ImageSubmitter starts a standalone generation job.
type ImageSubmitter interface {
	Submit(ctx context.Context, prompt string) (*model.Job, error)
}

// JobWatcher subscribes to job snapshots.
type JobWatcher interface {
	Subscribe(ctx context.Context, jobID string) (<-chan *model.Job, func())
}

type ImageHandler struct {
	store     jobstore.Store
	submitter ImageSubmitter
	watcher   JobWatcher
	keepalive time.Duration
}

func NewImageHandler(store jobstore.Store, submitter ImageSubmitter, watcher JobWatcher) *ImageHandler {
	return &ImageHandler{store: store, submitter: submitter, watcher: watcher, keepalive: 15 * time.Second}
}

// GET /v1/images/{job_id}
func (h *ImageHandler) Get(w http.ResponseWriter, r *http.Request) {
	job, err := h.store.Get(r.Context(), chi.URLParam(r, "job_id"))
	if err != nil {
		h.storeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// POST /v1/images
func (h *ImageHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Prompt string `json:"prompt"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "E_BAD_REQUEST", "invalid body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		writeError(w, http.StatusBadRequest, "E_VALIDATION", "prompt is required")
		return
	}
	job, err := h.submitter.Submit(r.Context(), req.Prompt)
	if err != nil {
		log.Ctx(r.Context()).Error().Err(err).Msg("submit image job")
		writeError(w, http.StatusInternalServerError, "E_INTERNAL", "failed to start image generation")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"jobId": job.ID, "status": job.Status})
}

// DELETE /v1/images/{job_id}
func (h *ImageHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Delete(r.Context(), chi.URLParam(r, "job_id")); err != nil {
		h.storeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GET /v1/images/{job_id}/events streams job snapshots until the job is
// terminal or the client leaves.
func (h *ImageHandler) Events(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	ctx := r.Context()

	// Subscribe before the first read so no transition slips between them.
	ch, cancel := h.watcher.Subscribe(ctx, jobID)
	defer cancel()

	job, err := h.store.Get(ctx, jobID)
	if err != nil {
		h.storeError(w, r, err)
		return
	}

	sse.SetHeaders(w)
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "E_INTERNAL", "streaming not supported")
		return
	}

	send := func(j *model.Job) bool {
		data, err := json.Marshal(j)
		if err != nil {
			return false
		}
		fmt.Fprintf(w, "event: job\n")
		fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()
		return !j.Status.Terminal()
	}
	if !send(job) {
		return
	}

	ticker := time.NewTicker(h.keepalive)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			// Snapshots can be dropped for slow consumers; re-read the store.
			latest, err := h.store.Get(ctx, jobID)
			if err != nil {
				return
			}
			if latest.UpdatedAt.After(job.UpdatedAt) {
				job = latest
				if !send(job) {
					return
				}
				continue
			}
			fmt.Fprintf(w, ":keepalive\n\n")
			flusher.Flush()

		case next, open := <-ch:
			if !open {
				return
			}
			if !next.UpdatedAt.After(job.UpdatedAt) {
				continue
			}
			job = next
			if !send(job) {
				return
			}
		}
	}
}

func (h *ImageHandler) storeError(w http.ResponseWriter, r *http.Request, err error) {
	if model.IsNotFound(err) {
		writeError(w, http.StatusNotFound, "E_NOT_FOUND", err.Error())
		return
	}
	log.Ctx(r.Context()).Error().Err(err).Msg("job store")
	writeError(w, http.StatusInternalServerError, "E_INTERNAL", "job store unavailable")
}
