package gateway

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
)

const apiKeyHeader = "X-API-Key"

// AuthHandler checks the API key header on incoming requests. An empty
// configured key disables authentication.
type AuthHandler struct {
	apiKey string
}

// NewAuthHandler creates a new authentication handler.
func NewAuthHandler(apiKey string) *AuthHandler {
	return &AuthHandler{
		apiKey: apiKey,
	}
}

// Enabled reports whether a key is configured.
func (a *AuthHandler) Enabled() bool {
	return a.apiKey != ""
}

// Verify checks a presented key in constant time.
func (a *AuthHandler) Verify(presented string) bool {
	if !a.Enabled() {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(a.apiKey), []byte(presented)) == 1
}

// Middleware wraps a handler with API key verification.
func (a *AuthHandler) Middleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !a.Verify(r.Header.Get(apiKeyHeader)) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(ErrorResponse{Error: "invalid or missing API key"})
			return
		}
		next(w, r)
	}
}
