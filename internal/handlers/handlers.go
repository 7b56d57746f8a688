package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Rorqualx/sdk-debugger-go/internal/config"
	"github.com/Rorqualx/sdk-debugger-go/internal/metrics"
	"github.com/Rorqualx/sdk-debugger-go/internal/middleware"
	"github.com/Rorqualx/sdk-debugger-go/internal/overlay"
	"github.com/Rorqualx/sdk-debugger-go/internal/security"
	"github.com/Rorqualx/sdk-debugger-go/internal/types"
	"github.com/Rorqualx/sdk-debugger-go/pkg/version"
)

// Overlay is the read side of the overlay served by the API.
type Overlay interface {
	Attached() bool
	Components() []types.ComponentDebugRecord
	Component(key string) (types.ComponentDebugRecord, bool)
	Calls(limit int) []types.FunctionCall
	ClientMetadata() (any, bool)
	View() overlay.View
	Subscribe(buffer int) (<-chan overlay.Notification, func())
}

// Handler serves the debugger API.
type Handler struct {
	overlay Overlay
	config  *config.Config
	origins *middleware.Origins
}

// New creates a new Handler.
func New(ov Overlay, cfg *config.Config) *Handler {
	return &Handler{
		overlay: ov,
		config:  cfg,
		origins: middleware.NewOrigins(cfg.CORSAllowedOrigins),
	}
}

// HandleHealth reports readiness and whether a stub has been seen.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	startTime := middleware.RequestStart(r.Context())
	attached := h.overlay.Attached()

	message := "SDK debugger is ready"
	if attached {
		message = "SDK debugger is attached"
	}

	h.writeSuccess(w, r, &types.Response{
		Message:  message,
		Attached: &attached,
	}, startTime)
}

// HandleComponents lists component records in the order they appeared.
func (h *Handler) HandleComponents(w http.ResponseWriter, r *http.Request) {
	startTime := middleware.RequestStart(r.Context())
	components := h.overlay.Components()

	h.writeSuccess(w, r, &types.Response{
		Message:    strconv.Itoa(len(components)) + " components",
		Components: components,
	}, startTime)
}

// HandleComponent returns one component record.
func (h *Handler) HandleComponent(w http.ResponseWriter, r *http.Request) {
	startTime := middleware.RequestStart(r.Context())
	key := r.PathValue("key")

	if key == "" || len(key) > types.MaxComponentKey {
		h.writeErrorWithStatus(w, r, http.StatusBadRequest, "Invalid component key", startTime)
		return
	}

	rec, ok := h.overlay.Component(key)
	if !ok {
		h.writeErrorWithStatus(w, r, http.StatusNotFound, types.ErrComponentNotFound.Error()+": "+key, startTime)
		return
	}

	h.writeSuccess(w, r, &types.Response{
		Message:   rec.Name,
		Component: &rec,
	}, startTime)
}

// HandleCalls returns the most recent logged calls, oldest first.
func (h *Handler) HandleCalls(w http.ResponseWriter, r *http.Request) {
	startTime := middleware.RequestStart(r.Context())

	limit, err := parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		h.writeErrorWithStatus(w, r, http.StatusBadRequest, err.Error(), startTime)
		return
	}

	calls := h.overlay.Calls(limit)
	h.writeSuccess(w, r, &types.Response{
		Message: strconv.Itoa(len(calls)) + " calls",
		Calls:   calls,
	}, startTime)
}

// HandleClientMetadata returns the disclosed client configuration with
// credentials masked.
func (h *Handler) HandleClientMetadata(w http.ResponseWriter, r *http.Request) {
	startTime := middleware.RequestStart(r.Context())

	metadata, ok := h.overlay.ClientMetadata()
	if !ok {
		h.writeErrorWithStatus(w, r, http.StatusNotFound, "Client metadata not available yet", startTime)
		return
	}

	h.writeSuccess(w, r, &types.Response{
		Message:        "Client metadata available",
		ClientMetadata: security.RedactConfig(metadata),
	}, startTime)
}

// HandleMethodNotAllowed handles requests with unsupported HTTP methods.
func (h *Handler) HandleMethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	h.writeErrorWithStatus(w, r, http.StatusMethodNotAllowed, "Method not allowed", middleware.RequestStart(r.Context()))
}

// HandleNotFound handles requests to unknown paths.
func (h *Handler) HandleNotFound(w http.ResponseWriter, r *http.Request) {
	h.writeErrorWithStatus(w, r, http.StatusNotFound, "Not found", middleware.RequestStart(r.Context()))
}

var errInvalidLimit = errors.New("limit must be a positive integer")

// parseLimit reads the calls limit. An empty value means the default and
// values above the maximum are capped.
func parseLimit(raw string) (int, error) {
	if raw == "" {
		return types.DefaultCallLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, errInvalidLimit
	}
	if n > types.MaxCallLimit {
		n = types.MaxCallLimit
	}
	return n, nil
}

func (h *Handler) writeSuccess(w http.ResponseWriter, r *http.Request, resp *types.Response, startTime time.Time) {
	resp.Status = types.StatusOK
	resp.StartTime = startTime.UnixMilli()
	resp.EndTime = time.Now().UnixMilli()
	resp.Version = version.Full()

	metrics.RecordHTTPRequest(routeLabel(r), types.StatusOK)
	h.writeJSONResponse(w, http.StatusOK, resp)
}

// writeErrorWithStatus writes an error response with a specific HTTP status code.
func (h *Handler) writeErrorWithStatus(w http.ResponseWriter, r *http.Request, statusCode int, message string, startTime time.Time) {
	resp := types.Response{
		Status:    types.StatusError,
		Message:   message,
		StartTime: startTime.UnixMilli(),
		EndTime:   time.Now().UnixMilli(),
		Version:   version.Full(),
	}
	metrics.RecordHTTPRequest(routeLabel(r), types.StatusError)
	h.writeJSONResponse(w, statusCode, resp)
}

// writeJSONResponse buffers JSON before writing to ensure encoding errors are caught
// before headers are sent.
func (h *Handler) writeJSONResponse(w http.ResponseWriter, statusCode int, resp interface{}) {
	buf := responseBuffers.Get()
	defer responseBuffers.Put(buf)

	if err := json.NewEncoder(buf).Encode(resp); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"status":"error","message":"internal encoding error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if statusCode != http.StatusOK {
		w.WriteHeader(statusCode)
	}
	_, _ = w.Write(buf.Bytes())
}

// routeLabel keeps metric cardinality bounded by the registered patterns.
func routeLabel(r *http.Request) string {
	if r.Pattern != "" {
		return r.Pattern
	}
	return "unmatched"
}
