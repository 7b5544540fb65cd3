// Package api exposes the engineer pipeline and the per-actor history,
// favorites and settings repositories over HTTP and MCP.
package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/promptarchitect/studio/internal/auth"
	"github.com/promptarchitect/studio/internal/engineer"
	"github.com/promptarchitect/studio/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB

// Deps holds what the HTTP handlers need.
type Deps struct {
	Engineer   *engineer.Service
	Store      *storage.Store
	Verifier   *auth.Verifier
	CORSOrigin string
}

// NewHandler returns the HTTP API.
func NewHandler(d Deps) http.Handler {
	r := chi.NewRouter()

	origin := d.CORSOrigin
	if origin == "" {
		origin = "*"
	}
	r.Use(CORS(origin))
	r.Use(ResolveActor(d.Verifier))

	r.Get("/health", handleHealth(d.Store))
	r.Get("/models", handleModels(d.Engineer))
	r.Post("/engineer-prompt", handleEngineerPrompt(d.Engineer))

	r.Group(func(r chi.Router) {
		r.Use(RequireActor)

		r.Get("/history", handleListHistory(d.Store))
		r.Delete("/history", handleClearHistory(d.Store))
		r.Get("/history/{id}", handleGetHistory(d.Store))
		r.Patch("/history/{id}", handleRenameHistory(d.Store))
		r.Delete("/history/{id}", handleDeleteHistory(d.Store))
		r.Get("/history/{id}/lineage", handleLineage(d.Store))

		r.Get("/favorites", handleListFavorites(d.Store))
		r.Put("/favorites/{historyID}", handleAddFavorite(d.Store))
		r.Delete("/favorites/{historyID}", handleRemoveFavorite(d.Store))

		r.Get("/settings", handleGetSettings(d.Store))
		r.Put("/settings", handlePutSettings(d.Store, d.Engineer))
	})

	return r
}

func handleHealth(store *storage.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if store != nil {
			if err := store.Ping(r.Context()); err != nil {
				slog.Warn("health check: storage ping failed", "error", err)
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func handleModels(svc *engineer.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"providers": svc.Registry().Catalogue()})
	}
}

func handleEngineerPrompt(svc *engineer.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		req, err := engineer.DecodeRequest(r.Body)
		if err != nil {
			writeError(w, r, err)
			return
		}

		out, err := svc.Run(r.Context(), auth.ActorFrom(r.Context()), req)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, out)
	}
}
