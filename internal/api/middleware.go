package api

import (
	"net/http"

	"github.com/promptarchitect/studio/internal/apperr"
	"github.com/promptarchitect/studio/internal/auth"
)

const corsAllowHeaders = "authorization, x-client-info, apikey, content-type"

// CORS sets the cross-origin headers and answers preflight requests.
// origin "*" allows any origin.
func CORS(origin string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqOrigin := r.Header.Get("Origin")
			allowed := origin
			if origin != "*" && reqOrigin != origin {
				allowed = ""
			}
			if allowed != "" {
				w.Header().Set("Access-Control-Allow-Origin", allowed)
				w.Header().Set("Access-Control-Allow-Headers", corsAllowHeaders)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
			}
			if origin != "*" {
				w.Header().Add("Vary", "Origin")
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ResolveActor attaches the bearer credential's actor to the request
// context. Requests without a credential continue anonymously; requests with
// an invalid one are rejected with AUTH_ERROR.
func ResolveActor(v *auth.Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, err := v.Actor(r)
			if err != nil {
				writeError(w, r, err)
				return
			}
			if actor != "" {
				r = r.WithContext(auth.WithActor(r.Context(), actor))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireActor rejects anonymous requests.
func RequireActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if auth.ActorFrom(r.Context()) == "" {
			httpError(w, apperr.Auth, "Authentication required.")
			return
		}
		next.ServeHTTP(w, r)
	})
}
