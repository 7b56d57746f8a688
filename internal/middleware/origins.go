package middleware

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog/log"
)

// Origins is the set of browser origins allowed to read the API from
// another site. The API serves data captured from the page under
// observation, so there is no wildcard.
type Origins struct {
	set map[string]struct{}
}

// NewOrigins builds the allow list. Entries are compared case-insensitively
// and without a trailing slash.
func NewOrigins(allowed []string) *Origins {
	o := &Origins{set: make(map[string]struct{}, len(allowed))}
	for _, origin := range allowed {
		if origin = normalizeOrigin(origin); origin != "" {
			o.set[origin] = struct{}{}
		}
	}
	return o
}

func normalizeOrigin(origin string) string {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(origin)), "/")
}

// Listed reports whether origin is on the allow list.
func (o *Origins) Listed(origin string) bool {
	_, ok := o.set[normalizeOrigin(origin)]
	return ok
}

// Allows reports whether a client sending origin may talk to the API served
// at host: non-browser clients send no origin, a page served by the API
// itself shares its host, and anything else must be listed.
func (o *Origins) Allows(origin, host string) bool {
	if origin == "" {
		return true
	}
	if u, err := url.Parse(origin); err == nil && strings.EqualFold(u.Host, host) {
		return true
	}
	return o.Listed(origin)
}

// CORS returns middleware that echoes listed origins and answers preflight
// requests. Unlisted origins get no CORS headers, so browsers block them.
func CORS(origins *Origins) Middleware {
	if len(origins.set) == 0 {
		log.Warn().Msg("CORS_ALLOWED_ORIGINS not set, cross-origin pages cannot read the API")
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			if origin != "" {
				if origins.Listed(origin) {
					h := w.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Set("Access-Control-Allow-Methods", "GET, OPTIONS")
					h.Set("Access-Control-Allow-Headers", "Content-Type, X-API-Key")
					h.Set("Access-Control-Allow-Credentials", "true")
				} else {
					log.Debug().Str("origin", origin).Msg("CORS request from non-allowed origin")
				}
				w.Header().Add("Vary", "Origin")
			}

			if r.Method == http.MethodOptions {
				w.Header().Set("Access-Control-Max-Age", "600")
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
