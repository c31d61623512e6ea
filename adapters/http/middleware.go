package authhttp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/PaulFidika/jwtverify/core"
	jwtkit "github.com/PaulFidika/jwtverify/jwt"
)

// TokenVerifier is the async verification entry point used by the middleware.
type TokenVerifier interface {
	Verify(ctx context.Context, token string, opts ...core.Option) (jwtkit.Payload, error)
}

type ctxKey struct{}

// ErrNoBearerToken is returned by BearerToken when the request carries no
// bearer credentials.
var ErrNoBearerToken = errors.New("authhttp: missing bearer token")

// BearerToken extracts the token from "Authorization: Bearer <token>".
func BearerToken(r *http.Request) (string, error) {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", ErrNoBearerToken
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrNoBearerToken
	}
	return token, nil
}

// Required rejects requests without a valid bearer token with 401 and
// stores the verified payload in the request context.
func Required(v TokenVerifier, opts ...core.Option) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, err := BearerToken(r)
			if err != nil {
				Unauthorized(w, "missing_token")
				return
			}
			payload, err := v.Verify(r.Context(), token, opts...)
			if err != nil {
				Unauthorized(w, jwtkit.KindOf(err).String())
				return
			}
			next.ServeHTTP(w, r.WithContext(WithPayload(r.Context(), payload)))
		})
	}
}

// Optional verifies a bearer token when present. Requests without one pass
// through unauthenticated; an invalid token is still rejected.
func Optional(v TokenVerifier, opts ...core.Option) func(http.Handler) http.Handler {
	required := Required(v, opts...)
	return func(next http.Handler) http.Handler {
		guarded := required(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, err := BearerToken(r); err != nil {
				next.ServeHTTP(w, r)
				return
			}
			guarded.ServeHTTP(w, r)
		})
	}
}

// WithPayload returns a context carrying a verified payload.
func WithPayload(ctx context.Context, p jwtkit.Payload) context.Context {
	return context.WithValue(ctx, ctxKey{}, p)
}

// PayloadFromContext returns the payload stored by Required or Optional.
func PayloadFromContext(ctx context.Context) (jwtkit.Payload, bool) {
	p, ok := ctx.Value(ctxKey{}).(jwtkit.Payload)
	return p, ok
}

// Unauthorized writes a 401 JSON body naming the failure kind.
func Unauthorized(w http.ResponseWriter, reason string) {
	w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": reason})
}
