package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/cloo-solutions/carecontext/internal/api"
	"github.com/cloo-solutions/carecontext/internal/api/handlers"
	"github.com/cloo-solutions/carecontext/internal/api/middleware"
)

type RouterConfig struct {
	KnowledgeHandler *handlers.KnowledgeHandler
	PatientHandler   *handlers.PatientHandler
	ContextHandler   *handlers.ContextHandler
	// MaxBodyBytes caps request bodies; zero uses the default.
	MaxBodyBytes int64
}

const defaultMaxBodyBytes int64 = 5 * 1024 * 1024

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = defaultMaxBodyBytes
	}

	r.Use(middleware.RequestID)
	r.Use(middleware.SentryMiddleware)
	r.Use(middleware.AccessLog)
	r.Use(middleware.MaxBodyBytes(maxBody))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		api.Success(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Post("/knowledge", cfg.KnowledgeHandler.Ingest)

	r.Route("/patients/{ownerID}", func(r chi.Router) {
		r.Post("/entries", cfg.PatientHandler.IngestEntry)
		r.Post("/summary", cfg.PatientHandler.BuildSummary)
		r.Post("/context", cfg.ContextHandler.Retrieve)
	})

	return r
}
