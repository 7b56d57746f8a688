package handlers

import (
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/net/websocket"

	"github.com/Rorqualx/sdk-debugger-go/internal/metrics"
	"github.com/Rorqualx/sdk-debugger-go/internal/overlay"
	"github.com/Rorqualx/sdk-debugger-go/internal/security"
)

const (
	// KindSnapshot is the first frame of every stream.
	KindSnapshot = "snapshot"

	streamBuffer       = 64
	streamWriteTimeout = 10 * time.Second
)

// Frame is one message on the event stream. The first frame carries the
// current view, every later one a single notification.
type Frame struct {
	overlay.Notification
	View *overlay.View `json:"view,omitempty"`
}

// EventsHandler returns the websocket endpoint streaming overlay notifications.
func (h *Handler) EventsHandler() http.Handler {
	return websocket.Server{
		Handshake: h.checkOrigin,
		Handler:   h.streamEvents,
	}
}

// checkOrigin admits clients without an Origin (CLI tools), same-host pages
// and the configured CORS origins.
func (h *Handler) checkOrigin(cfg *websocket.Config, r *http.Request) error {
	origin := r.Header.Get("Origin")
	if origin != "" {
		u, err := url.Parse(origin)
		if err != nil {
			return err
		}
		cfg.Origin = u
	}

	if !h.origins.Allows(origin, r.Host) {
		log.Debug().Str("origin", origin).Msg("Event stream rejected cross-origin client")
		return websocket.ErrBadWebSocketOrigin
	}
	return nil
}

func (h *Handler) streamEvents(ws *websocket.Conn) {
	defer ws.Close()
	metrics.RecordHTTPRequest("GET /v1/events", "upgraded")

	notifications, cancel := h.overlay.Subscribe(streamBuffer)
	defer cancel()

	// Clients never send; a failed read means they went away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		var discard string
		for {
			if err := websocket.Message.Receive(ws, &discard); err != nil {
				return
			}
		}
	}()

	view := h.overlay.View()
	view.ClientMetadata = security.RedactConfig(view.ClientMetadata)
	first := Frame{Notification: overlay.Notification{Kind: KindSnapshot, Time: time.Now()}, View: &view}
	if err := h.send(ws, first); err != nil {
		log.Debug().Err(err).Msg("Event stream closed before snapshot")
		return
	}

	for {
		select {
		case <-gone:
			return
		case n, ok := <-notifications:
			if !ok {
				return
			}
			if n.ClientMetadata != nil {
				n.ClientMetadata = security.RedactConfig(n.ClientMetadata)
			}
			if err := h.send(ws, Frame{Notification: n}); err != nil {
				log.Debug().Err(err).Str("kind", n.Kind).Msg("Event stream write failed")
				return
			}
		}
	}
}

func (h *Handler) send(ws *websocket.Conn, f Frame) error {
	if err := ws.SetWriteDeadline(time.Now().Add(streamWriteTimeout)); err != nil {
		return err
	}
	return websocket.JSON.Send(ws, f)
}
