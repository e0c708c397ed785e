package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/followcat/HermesIndex/internal/config"
	"github.com/followcat/HermesIndex/internal/log"
)

// Auth returns a middleware enforcing the configured credentials. A
// request passes with a valid bearer API key or the admin basic-auth
// pair. When auth is disabled the middleware is a no-op.
func Auth(cfg config.AuthConfig, logger *log.Logger) func(http.Handler) http.Handler {
	keys := cfg.ParseAPIKeys()
	return func(next http.Handler) http.Handler {
		if !cfg.Enabled {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if bearerAllowed(r, keys) || basicAllowed(r, cfg) {
				next.ServeHTTP(w, r)
				return
			}
			logger.Debug("rejected unauthenticated request", "path", r.URL.Path)
			WriteJSON(w, http.StatusUnauthorized, errorBody{
				Error: errorDetail{Kind: "UNAUTHORIZED", Message: "missing or invalid credentials"},
			})
		})
	}
}

func bearerAllowed(r *http.Request, keys []string) bool {
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return false
	}
	for _, key := range keys {
		if subtle.ConstantTimeCompare([]byte(token), []byte(key)) == 1 {
			return true
		}
	}
	return false
}

func basicAllowed(r *http.Request, cfg config.AuthConfig) bool {
	if cfg.AdminUser == "" || cfg.AdminPassword == "" {
		return false
	}
	user, pass, ok := r.BasicAuth()
	if !ok {
		return false
	}
	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(cfg.AdminUser)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(pass), []byte(cfg.AdminPassword)) == 1
	return userOK && passOK
}
