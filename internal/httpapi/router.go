// Package httpapi exposes the ops endpoints: liveness, database health and
// live session counts.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"dice-wager-bot/internal/pkg/db"
	"dice-wager-bot/internal/wager"
)

const healthTimeout = 2 * time.Second

// Database is the part of the connection pool the endpoints inspect.
type Database interface {
	HealthCheck(ctx context.Context) error
	Stats() db.PoolStats
}

// StatsResponse is the body of GET /stats.
type StatsResponse struct {
	Sessions wager.Stats  `json:"sessions"`
	Database db.PoolStats `json:"database"`
}

// StatsSource provides live session counts.
type StatsSource interface {
	Stats() wager.Stats
}

// Router builds the ops HTTP handler.
func Router(database Database, engine StatsSource) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()

		if err := database.HealthCheck(ctx); err != nil {
			log.Warn().Err(err).Msg("Readiness check failed")
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"ok": false, "error": "database unavailable"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})

	r.Get("/stats", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, StatsResponse{
			Sessions: engine.Stats(),
			Database: database.Stats(),
		})
	})

	return r
}

// NewServer wraps the router in an http.Server with sane timeouts.
func NewServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		log.Debug().Err(err).Msg("Failed to write response")
	}
}
