package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/promptarchitect/studio/internal/apperr"
	"github.com/promptarchitect/studio/internal/auth"
	"github.com/promptarchitect/studio/internal/engineer"
	"github.com/promptarchitect/studio/internal/provider"
	"github.com/promptarchitect/studio/internal/storage"
)

const (
	defaultHistoryPage = 10
	maxHistoryPage     = 100
)

var validate = validator.New(validator.WithRequiredStructEnabled())

type renameRequest struct {
	Title string `json:"title" validate:"required,max=120"`
}

type settingsRequest struct {
	DefaultModel    string `json:"defaultModel" validate:"omitempty,max=200"`
	DefaultProvider string `json:"defaultProvider" validate:"omitempty,oneof=gemini ollama"`
	Theme           string `json:"theme" validate:"omitempty,oneof=light dark system"`
}

func handleListHistory(store *storage.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", defaultHistoryPage, maxHistoryPage)
		if limit == 0 {
			limit = defaultHistoryPage
		}
		offset := parseIntParam(r, "offset", 0, 0)

		items, err := store.ListHistory(r.Context(), auth.ActorFrom(r.Context()), limit, offset)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items, "limit": limit, "offset": offset})
	}
}

func handleGetHistory(store *storage.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		item, err := store.GetHistory(r.Context(), auth.ActorFrom(r.Context()), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, item)
	}
}

func handleRenameHistory(store *storage.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req renameRequest
		if !decodeBody(w, r, &req) {
			return
		}
		req.Title = strings.TrimSpace(req.Title)
		if err := validate.Struct(req); err != nil {
			httpError(w, apperr.Validation, "title must be 1 to 120 characters")
			return
		}

		actor := auth.ActorFrom(r.Context())
		id := chi.URLParam(r, "id")
		if err := store.RenameHistory(r.Context(), actor, id, req.Title); err != nil {
			writeError(w, r, err)
			return
		}
		item, err := store.GetHistory(r.Context(), actor, id)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, item)
	}
}

func handleDeleteHistory(store *storage.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := store.DeleteHistory(r.Context(), auth.ActorFrom(r.Context()), chi.URLParam(r, "id")); err != nil {
			writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleClearHistory(store *storage.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n, err := store.ClearHistory(r.Context(), auth.ActorFrom(r.Context()))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int64{"deleted": n})
	}
}

func handleLineage(store *storage.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		l, err := store.Lineage(r.Context(), auth.ActorFrom(r.Context()), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, l)
	}
}

func handleListFavorites(store *storage.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		favs, err := store.ListFavorites(r.Context(), auth.ActorFrom(r.Context()))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": favs})
	}
}

func handleAddFavorite(store *storage.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := store.AddFavorite(r.Context(), auth.ActorFrom(r.Context()), chi.URLParam(r, "historyID")); err != nil {
			writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleRemoveFavorite(store *storage.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := store.RemoveFavorite(r.Context(), auth.ActorFrom(r.Context()), chi.URLParam(r, "historyID")); err != nil {
			writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleGetSettings(store *storage.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st, err := store.GetSettings(r.Context(), auth.ActorFrom(r.Context()))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, st)
	}
}

func handlePutSettings(store *storage.Store, svc *engineer.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req settingsRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if err := validate.Struct(req); err != nil {
			httpError(w, apperr.Validation, "invalid settings: theme must be light, dark or system and provider gemini or ollama")
			return
		}
		if err := checkModel(svc.Registry(), req.DefaultProvider, req.DefaultModel); err != nil {
			writeError(w, r, err)
			return
		}

		st, err := store.PutSettings(r.Context(), auth.ActorFrom(r.Context()), storage.Settings{
			DefaultModel:    req.DefaultModel,
			DefaultProvider: req.DefaultProvider,
			Theme:           req.Theme,
		})
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, st)
	}
}

// checkModel accepts an empty model, a model allowed by the named provider,
// or with no provider, a model some configured provider allows.
func checkModel(reg *provider.Registry, providerName, model string) error {
	if model == "" {
		return nil
	}
	if providerName == "" {
		if !reg.AllowsAnywhere(model) {
			return apperr.New(apperr.Validation, "Invalid model %q. No configured provider allows it.", model)
		}
		return nil
	}
	_, _, err := reg.Resolve(providerName, model)
	return err
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		httpError(w, apperr.Validation, "invalid request body: %v", err)
		return false
	}
	return true
}

// parseIntParam reads a non-negative integer query parameter, clamped to
// maxVal when maxVal > 0.
func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}
