package httpapi

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"cdr-analytics/internal/auth"
	"cdr-analytics/internal/config"
)

var errForbidden = errors.New("forbidden")

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "Bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

func tokenEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// CDRTokenAuth guards the ingestion endpoint with the shared exporter
// token, sent as a bearer token or in X-CDR-Token.
func CDRTokenAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := bearerToken(r)
			if got == "" {
				got = r.Header.Get("X-CDR-Token")
			}
			if token == "" || got == "" || !tokenEqual(got, token) {
				writeError(w, r, fmt.Errorf("%w: invalid ingest token", errForbidden))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Authenticate accepts a bearer JWT checked by v, or one of the
// configured API keys in X-API-Key. The caller identity is stored in the
// request context.
func Authenticate(v auth.Verifier, keys []config.APIKey) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if key := r.Header.Get("X-API-Key"); key != "" {
				for _, k := range keys {
					if tokenEqual(k.Key, key) {
						claims := auth.Claims{Subject: k.Name, Role: k.Role}
						next.ServeHTTP(w, r.WithContext(auth.WithClaims(r.Context(), claims)))
						return
					}
				}
				writeError(w, r, fmt.Errorf("%w: invalid api key", auth.ErrUnauthorized))
				return
			}

			claims, err := v.Verify(bearerToken(r))
			if err != nil {
				writeError(w, r, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(auth.WithClaims(r.Context(), claims)))
		})
	}
}

// RequireRole rejects authenticated callers without role.
func RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := auth.FromContext(r.Context())
			if !ok {
				writeError(w, r, auth.ErrUnauthorized)
				return
			}
			if claims.Role != role {
				writeError(w, r, fmt.Errorf("%w: role %q required", errForbidden, role))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
