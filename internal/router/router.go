package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/goyais/streamgate/internal/config"
	"github.com/goyais/streamgate/internal/handler"
	"github.com/goyais/streamgate/internal/jobstore"
	"github.com/goyais/streamgate/internal/middleware"
	"github.com/goyais/streamgate/internal/service"
)

// Version is reported by /v1/health and /v1/version.
const Version = "0.3.0"

// New builds the HTTP router. events may be nil, in which case one is created
// internally; main passes its own so the store wrapper can publish into it.
func New(cfg *config.Config, store jobstore.Store, gateway *service.Gateway, worker *service.ImageWorker, events *service.JobEvents) http.Handler {
	if events == nil {
		events = service.NewJobEvents()
	}

	healthH := handler.NewHealthHandler(Version, cfg.JobStore)
	chatH := handler.NewChatHandler(gateway)
	imageH := handler.NewImageHandler(store, worker, events)

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(middleware.Trace)
	r.Use(middleware.RequestLog)
	r.Use(middleware.CORS)

	r.Get("/v1/health", healthH.Health)
	r.Get("/v1/version", healthH.Version)

	r.Post("/v1/chat/stream", chatH.Stream)

	r.Post("/v1/images", imageH.Create)
	r.Get("/v1/images/{job_id}", imageH.Get)
	r.Delete("/v1/images/{job_id}", imageH.Delete)
	r.Get("/v1/images/{job_id}/events", imageH.Events)

	return r
}
