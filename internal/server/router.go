package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/vektor-ai/vektor/internal/api"
	"github.com/vektor-ai/vektor/internal/api/handlers"
	"github.com/vektor-ai/vektor/internal/api/middleware"
)

type RouterConfig struct {
	IngestHandler *handlers.IngestHandler
	FilesHandler  *handlers.FilesHandler
	QueryHandler  *handlers.QueryHandler

	// MaxBodyBytes limits request body size; zero applies the default.
	MaxBodyBytes int64
}

const defaultMaxBodyBytes int64 = 32 * 1024 * 1024

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	maxBodyBytes := cfg.MaxBodyBytes
	if maxBodyBytes <= 0 {
		maxBodyBytes = defaultMaxBodyBytes
	}

	r.Use(middleware.RequestID)
	r.Use(middleware.SentryMiddleware)
	r.Use(middleware.AccessLog)
	r.Use(middleware.MaxBodyBytes(maxBodyBytes))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		api.Success(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/ingest", func(r chi.Router) {
		r.Post("/", cfg.IngestHandler.Ingest)
		r.Get("/{uploadID}/progress", cfg.IngestHandler.Progress)
	})

	r.Route("/files", func(r chi.Router) {
		r.Get("/", cfg.FilesHandler.List)
		r.Delete("/{filename}", cfg.FilesHandler.Delete)
	})

	r.Post("/query", cfg.QueryHandler.Query)

	return r
}
