// Package auth resolves the actor behind a bearer credential.
package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/lestrrat-go/jwx/v3/jwa"
	"github.com/lestrrat-go/jwx/v3/jwt"

	"github.com/promptarchitect/studio/internal/apperr"
)

// Verifier checks HS256 access tokens and extracts their subject as the
// actor ID. A nil or secret-less Verifier treats every caller as anonymous.
type Verifier struct {
	secret   []byte
	audience string
}

// NewVerifier returns a verifier for tokens signed with secret. An empty
// audience disables the audience check.
func NewVerifier(secret, audience string) *Verifier {
	return &Verifier{secret: []byte(secret), audience: audience}
}

// Enabled reports whether credentials are verified at all.
func (v *Verifier) Enabled() bool {
	return v != nil && len(v.secret) > 0
}

// Actor returns the actor ID for r, or "" for an anonymous request. A
// credential that is present but malformed, expired or badly signed is an
// AUTH_ERROR.
func (v *Verifier) Actor(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" || !v.Enabled() {
		return "", nil
	}

	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", apperr.New(apperr.Auth, "Invalid authorization header.")
	}
	return v.Verify(strings.TrimSpace(header[len(prefix):]))
}

// Verify validates a raw token and returns its subject.
func (v *Verifier) Verify(token string) (string, error) {
	if !v.Enabled() {
		return "", nil
	}

	opts := []jwt.ParseOption{jwt.WithKey(jwa.HS256(), v.secret), jwt.WithValidate(true)}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	tok, err := jwt.Parse([]byte(token), opts...)
	if err != nil {
		return "", apperr.Wrap(apperr.Auth, err, "Invalid or expired credential.")
	}
	sub, ok := tok.Subject()
	if !ok || sub == "" {
		return "", apperr.New(apperr.Auth, "Credential has no subject.")
	}
	return sub, nil
}

type ctxKey struct{}

// WithActor stores the actor ID in ctx.
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, ctxKey{}, actor)
}

// ActorFrom returns the actor ID stored in ctx, or "" when anonymous.
func ActorFrom(ctx context.Context) string {
	actor, _ := ctx.Value(ctxKey{}).(string)
	return actor
}
