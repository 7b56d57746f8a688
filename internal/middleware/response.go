package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Rorqualx/sdk-debugger-go/internal/types"
	"github.com/Rorqualx/sdk-debugger-go/pkg/version"
)

type startKey struct{}

// withStart stamps r with the time the API first saw it. An existing stamp
// is kept so every layer reports the same start.
func withStart(r *http.Request) *http.Request {
	if _, ok := r.Context().Value(startKey{}).(time.Time); ok {
		return r
	}
	return r.WithContext(context.WithValue(r.Context(), startKey{}, time.Now()))
}

// RequestStart returns when the API first saw the request carrying ctx.
// Outside the middleware chain it returns the current time.
func RequestStart(ctx context.Context) time.Time {
	if t, ok := ctx.Value(startKey{}).(time.Time); ok {
		return t
	}
	return time.Now()
}

// writeError writes the API envelope with an error status.
func writeError(w http.ResponseWriter, r *http.Request, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	resp := types.Response{
		Status:    types.StatusError,
		Message:   message,
		StartTime: RequestStart(r.Context()).UnixMilli(),
		EndTime:   time.Now().UnixMilli(),
		Version:   version.Full(),
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Error().Err(err).Str("message", message).Msg("Failed to encode middleware error response")
	}
}
