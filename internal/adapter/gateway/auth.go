package gateway

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"supplyintel/internal/domain"
)

// Authenticator validates API callers.
type Authenticator interface {
	Authenticate(token string) error
}

// StaticTokenAuth authenticates callers against a static token list
// using constant-time comparison.
type StaticTokenAuth struct {
	tokens [][]byte
}

// NewStaticTokenAuth builds an authenticator from tokens. Blank entries are skipped.
func NewStaticTokenAuth(tokens []string) *StaticTokenAuth {
	a := &StaticTokenAuth{}
	for _, t := range tokens {
		if t = strings.TrimSpace(t); t != "" {
			a.tokens = append(a.tokens, []byte(t))
		}
	}
	return a
}

// Enabled reports whether any token is configured.
func (s *StaticTokenAuth) Enabled() bool { return len(s.tokens) > 0 }

// Authenticate returns nil if token matches a configured token.
func (s *StaticTokenAuth) Authenticate(token string) error {
	tokenBytes := []byte(token)
	for _, t := range s.tokens {
		if subtle.ConstantTimeCompare(tokenBytes, t) == 1 {
			return nil
		}
	}
	return domain.ErrUnauthorized
}

// requestToken reads a bearer token, falling back to the token query param
// for WebSocket clients that cannot set headers.
func requestToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

func requireAuth(auth Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := auth.Authenticate(requestToken(r)); err != nil {
				writeError(w, http.StatusUnauthorized, string(domain.CodeUnauthorized), "missing or invalid API token", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
