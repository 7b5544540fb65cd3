package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/promptarchitect/studio/internal/apperr"
	"github.com/promptarchitect/studio/internal/storage"
)

// errorBody is the wire shape of every error response.
type errorBody struct {
	Error     string         `json:"error"`
	ErrorCode apperr.Code    `json:"errorCode"`
	Details   map[string]any `json:"details,omitempty"`
}

// writeError maps err onto the error taxonomy and writes it. Unclassified
// errors are logged and reported as UNKNOWN_ERROR without their text.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		if _, ok := apperr.As(err); !ok {
			err = apperr.New(apperr.NotFound, "Not found.")
		}
	}

	e := apperr.Classify(err)
	if e.Code == apperr.Unknown || e.Code == apperr.Network {
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	writeJSON(w, apperr.HTTPStatus(e.Code), errorBody{
		Error:     e.Message,
		ErrorCode: e.Code,
		Details:   e.Details,
	})
}

func httpError(w http.ResponseWriter, code apperr.Code, format string, args ...any) {
	writeJSON(w, apperr.HTTPStatus(code), errorBody{
		Error:     fmt.Sprintf(format, args...),
		ErrorCode: code,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
