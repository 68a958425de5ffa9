// Package handler serves the HTTP admin and status API.
package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/arriba-labs/battlebot/internal/dispatcher"
	"github.com/arriba-labs/battlebot/internal/jobs"
	"github.com/arriba-labs/battlebot/internal/logger"
	"github.com/arriba-labs/battlebot/internal/store"
	"github.com/arriba-labs/battlebot/internal/worker"
)

// Handler contains all HTTP handlers
type Handler struct {
	store      *store.Store
	worker     *worker.Worker
	jobQueue   *jobs.Queue
	dispatcher *dispatcher.Queue
	logger     *logger.Logger
}

// New creates a new Handler.
func New(s *store.Store, w *worker.Worker, jobQueue *jobs.Queue, d *dispatcher.Queue, log *logger.Logger) *Handler {
	return &Handler{
		store:      s,
		worker:     w,
		jobQueue:   jobQueue,
		dispatcher: d,
		logger:     log.With("component", "http"),
	}
}

// Router builds the chi router with middleware and all routes.
func (h *Handler) Router(corsOrigins []string) http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(60 * time.Second))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		h.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", h.GetStatus)
		r.Get("/leaderboard", h.GetLeaderboard)
		r.Post("/leaderboard/refresh", h.RefreshLeaderboard)
		r.Post("/sync", h.EnqueueSync)
	})

	return r
}

// JSON helper to write JSON responses
func (h *Handler) JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// Error helper to write error responses
func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, map[string]string{"error": message})
}

// DecodeJSON helper to decode request body
func (h *Handler) DecodeJSON(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}
