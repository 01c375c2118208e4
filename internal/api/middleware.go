package api

import (
	"net/http"

	"github.com/rs/zerolog"

	"github.com/siddharth-mourya/powerlytic-be/internal/adapter/config"
)

// Middleware wraps handlers with the API security checks.
type Middleware struct {
	config config.APIConfig
	logger zerolog.Logger
}

// NewMiddleware creates a new middleware with the given configuration.
func NewMiddleware(cfg config.APIConfig, logger zerolog.Logger) *Middleware {
	return &Middleware{
		config: cfg,
		logger: logger.With().Str("component", "api-middleware").Logger(),
	}
}

// Secure combines CORS, body size limiting and API key authentication.
func (m *Middleware) Secure(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Handle CORS first (including preflight)
		if m.cors(w, r) {
			return
		}

		if m.config.MaxRequestBodySize > 0 && r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, m.config.MaxRequestBodySize)
		}

		if m.config.AuthEnabled {
			apiKey := r.Header.Get("X-API-Key")
			if apiKey == "" {
				apiKey = r.URL.Query().Get("api_key")
			}

			if apiKey != m.config.APIKey {
				m.logger.Warn().
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Str("remote", r.RemoteAddr).
					Msg("Authentication failed")
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
		}

		next.ServeHTTP(w, r)
	})
}

// ReadOnly applies CORS and body size limit but no auth (for public
// read endpoints).
func (m *Middleware) ReadOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.cors(w, r) {
			return
		}

		if m.config.MaxRequestBodySize > 0 && r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, m.config.MaxRequestBodySize)
		}

		next.ServeHTTP(w, r)
	})
}

// cors adds CORS headers based on configuration.
// Returns true if this was a preflight request that was handled.
func (m *Middleware) cors(w http.ResponseWriter, r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return false
	}

	allowed := false
	allowedOrigin := ""

	if len(m.config.AllowedOrigins) == 0 {
		// If no origins configured, allow all (development mode)
		allowed = true
		allowedOrigin = "*"
	} else {
		for _, o := range m.config.AllowedOrigins {
			if o == "*" || o == origin {
				allowed = true
				allowedOrigin = origin
				break
			}
		}
	}

	if !allowed {
		m.logger.Warn().
			Str("origin", origin).
			Msg("CORS: origin not allowed")
		return false
	}

	w.Header().Set("Access-Control-Allow-Origin", allowedOrigin)
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-API-Key")
	w.Header().Set("Access-Control-Max-Age", "86400") // 24 hours

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return true
	}

	return false
}
