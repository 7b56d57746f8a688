package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/Rorqualx/sdk-debugger-go/internal/config"
)

// StreamPath is the websocket endpoint. Browsers cannot set headers on a
// websocket handshake, so it alone accepts the key as a query parameter.
const StreamPath = "/v1/events"

// publicPaths are served without a key: health checks and scrapers do not carry one.
var publicPaths = map[string]bool{
	"/health":  true,
	"/metrics": true,
}

// APIKey returns middleware that requires the configured key on every
// non-public path. It is nil when key authentication is disabled, so Chain
// leaves it out.
func APIKey(cfg *config.Config) Middleware {
	if !cfg.APIKeyEnabled {
		return nil
	}
	want := []byte(cfg.APIKey)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if publicPaths[r.URL.Path] || keyMatches(presentedKey(r), want) {
				next.ServeHTTP(w, r)
				return
			}
			log.Debug().Str("path", r.URL.Path).Msg("Request rejected without a valid API key")
			writeError(w, r, http.StatusUnauthorized, "Invalid or missing API key")
		})
	}
}

func presentedKey(r *http.Request) string {
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	if r.URL.Path == StreamPath {
		return r.URL.Query().Get("api_key")
	}
	return ""
}

// keyMatches compares in constant time. An empty configured key matches nothing.
func keyMatches(got string, want []byte) bool {
	return len(want) > 0 && subtle.ConstantTimeCompare([]byte(got), want) == 1
}
