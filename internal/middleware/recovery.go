// Package middleware provides HTTP middleware for the debugger API.
package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/rs/zerolog/log"

	"github.com/Rorqualx/sdk-debugger-go/internal/metrics"
)

// Recovery is the outermost middleware. It stamps the request start and
// turns a handler panic into a 500 envelope.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r = withStart(r)

		defer func() {
			p := recover()
			if p == nil {
				return
			}
			// net/http closes the connection on this one; a hijacked stream
			// has nothing left to write to.
			if p == http.ErrAbortHandler {
				panic(p)
			}

			log.Error().
				Interface("error", p).
				Str("stack", string(debug.Stack())).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Msg("Panic recovered")
			metrics.RecordHTTPRequest(r.URL.Path, "panic")
			writeError(w, r, http.StatusInternalServerError, "Internal server error")
		}()

		next.ServeHTTP(w, r)
	})
}
