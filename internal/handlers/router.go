package handlers

import (
	"net/http"
	"time"

	"github.com/Rorqualx/sdk-debugger-go/internal/config"
	"github.com/Rorqualx/sdk-debugger-go/internal/metrics"
	"github.com/Rorqualx/sdk-debugger-go/internal/middleware"
)

// requestTimeout bounds the JSON routes. The event stream is long lived and
// is registered without it.
const requestTimeout = 10 * time.Second

// NewRouter registers the API routes and wraps them in the middleware chain.
// Middleware run outermost first: Recovery, Logging, SecurityHeaders, APIKey, CORS.
func NewRouter(h *Handler, cfg *config.Config) http.Handler {
	mux := http.NewServeMux()
	timeout := middleware.Timeout(requestTimeout)

	handle := func(pattern string, fn http.HandlerFunc) {
		mux.Handle(pattern, timeout(fn))
	}

	handle("GET /health", h.HandleHealth)
	handle("GET /v1/components", h.HandleComponents)
	handle("GET /v1/components/{key}", h.HandleComponent)
	handle("GET /v1/calls", h.HandleCalls)
	handle("GET /v1/client-metadata", h.HandleClientMetadata)
	mux.Handle("GET "+middleware.StreamPath, h.EventsHandler())

	// A metrics port of zero folds /metrics into the API server.
	if cfg.PrometheusEnabled && cfg.PrometheusPort == 0 {
		mux.Handle("GET /metrics", metrics.Handler())
	}

	// Non-GET requests to known paths and any unknown path get the JSON envelope.
	for _, path := range []string{"/health", "/v1/components", "/v1/components/{key}", "/v1/calls", "/v1/client-metadata"} {
		mux.HandleFunc(path, h.HandleMethodNotAllowed)
	}
	mux.HandleFunc("/", h.HandleNotFound)

	return middleware.Chain(
		middleware.Recovery,
		middleware.Logging,
		middleware.SecurityHeaders,
		middleware.APIKey(cfg),
		middleware.CORS(h.origins),
	)(mux)
}
