// Package overlay is the consumer side of the event bus: it performs the
// handshake with the component stubs, filters what they report and keeps the
// view model served to the HTTP API and the terminal UI.
package overlay

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Rorqualx/sdk-debugger-go/internal/buffers"
	"github.com/Rorqualx/sdk-debugger-go/internal/bus"
	"github.com/Rorqualx/sdk-debugger-go/internal/profile"
	"github.com/Rorqualx/sdk-debugger-go/internal/security"
	"github.com/Rorqualx/sdk-debugger-go/internal/types"
)

// Notification kinds delivered to subscribers.
const (
	KindAttached       = "attached"
	KindComponent      = "component"
	KindCall           = "call"
	KindClientMetadata = "client_metadata"
	KindNavigated      = "navigated"
)

// DefaultHandshakeTimeout bounds the wait for a stub to answer the handshake.
const DefaultHandshakeTimeout = 2 * time.Second

// Notification is one change to the overlay's view.
type Notification struct {
	Kind           string                      `json:"kind"`
	Time           time.Time                   `json:"time"`
	Component      *types.ComponentDebugRecord `json:"component,omitempty"`
	Call           *types.FunctionCall         `json:"call,omitempty"`
	ClientMetadata any                         `json:"clientMetadata,omitempty"`
	URL            string                      `json:"url,omitempty"`
}

// View is a point-in-time snapshot of everything the overlay shows.
type View struct {
	Attached       bool                         `json:"attached" yaml:"attached"`
	Components     []types.ComponentDebugRecord `json:"components" yaml:"components"`
	Calls          []types.FunctionCall         `json:"calls" yaml:"calls"`
	ClientMetadata any                          `json:"clientMetadata,omitempty" yaml:"client_metadata,omitempty"`
	TotalCalls     int64                        `json:"totalCalls" yaml:"total_calls"`
}

// Options configures an Overlay.
type Options struct {
	CallCapacity     int
	HandshakeTimeout time.Duration
}

// Overlay collects what the stubs of one page report.
type Overlay struct {
	bus     *bus.Bus
	profile profile.Source
	opts    Options

	mu         sync.RWMutex
	attached   bool
	components map[string]types.ComponentDebugRecord
	order      []string
	metadata   any
	hasConfig  bool
	calls      *buffers.RingBuffer[types.FunctionCall]
	callBase   int64 // calls logged before the current document

	subMu  sync.Mutex
	subs   map[uint64]chan Notification
	nextID uint64

	offs      []func()
	closeOnce sync.Once
}

// New creates an overlay listening on b. Nothing is received until Start.
func New(b *bus.Bus, source profile.Source, opts Options) *Overlay {
	if opts.CallCapacity <= 0 {
		opts.CallCapacity = types.DefaultCallLimit
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = DefaultHandshakeTimeout
	}
	return &Overlay{
		bus:        b,
		profile:    source,
		opts:       opts,
		components: make(map[string]types.ComponentDebugRecord),
		calls:      buffers.NewRingBuffer[types.FunctionCall](opts.CallCapacity),
		subs:       make(map[uint64]chan Notification),
	}
}

// Start subscribes to the stub events and performs the handshake. A stub
// that is already running answers the handshake; one that starts later
// announces itself with the stub-ready event. A missing reply is therefore
// not an error.
func (o *Overlay) Start(ctx context.Context) error {
	o.offs = append(o.offs,
		o.bus.On(bus.EventStubReady, func(any, bus.Reply) { o.markAttached() }),
		o.bus.On(bus.EventComponentDetails, o.onComponentDetails),
		o.bus.On(bus.EventFunctionCall, o.onFunctionCall),
		o.bus.On(bus.EventClientMetadata, o.onClientMetadata),
	)

	hctx, cancel := context.WithTimeout(ctx, o.opts.HandshakeTimeout)
	defer cancel()

	if _, err := o.bus.EmitWithReply(hctx, bus.EventOverlayReady, nil); err != nil {
		if errors.Is(err, types.ErrNoReply) && ctx.Err() == nil {
			log.Debug().Msg("No stub answered the handshake yet, waiting for one to start")
			return nil
		}
		return err
	}
	o.markAttached()
	return nil
}

// Close stops listening and ends every subscription.
func (o *Overlay) Close() {
	o.closeOnce.Do(func() {
		for _, off := range o.offs {
			off()
		}
		o.subMu.Lock()
		for id, ch := range o.subs {
			close(ch)
			delete(o.subs, id)
		}
		o.subMu.Unlock()
	})
}

// Reset empties the view for a new document at rawURL. The overlay stays
// subscribed and is attached again when the new document's stub starts.
func (o *Overlay) Reset(rawURL string) {
	o.mu.Lock()
	o.attached = false
	o.components = make(map[string]types.ComponentDebugRecord)
	o.order = nil
	o.metadata = nil
	o.hasConfig = false
	o.calls.Clear()
	o.callBase = o.calls.TotalAdded()
	o.mu.Unlock()

	o.publish(Notification{Kind: KindNavigated, URL: security.RedactURL(rawURL)})
}

// Attached reports whether a stub has been seen on the page.
func (o *Overlay) Attached() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.attached
}

// Components returns the listed component records in the order they appeared.
func (o *Overlay) Components() []types.ComponentDebugRecord {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]types.ComponentDebugRecord, 0, len(o.order))
	for _, key := range o.order {
		out = append(out, o.components[key])
	}
	return out
}

// Component returns the record for key.
func (o *Overlay) Component(key string) (types.ComponentDebugRecord, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	rec, ok := o.components[key]
	return rec, ok
}

// Calls returns the most recent limit logged calls, oldest first.
// A non-positive limit returns every retained call.
func (o *Overlay) Calls(limit int) []types.FunctionCall {
	if limit <= 0 {
		return o.calls.ReadAll()
	}
	return o.calls.ReadLast(limit)
}

// ClientMetadata returns the disclosed client configuration, if any.
func (o *Overlay) ClientMetadata() (any, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.metadata, o.hasConfig
}

// View returns a snapshot of the overlay.
func (o *Overlay) View() View {
	metadata, _ := o.ClientMetadata()
	o.mu.RLock()
	base := o.callBase
	o.mu.RUnlock()
	return View{
		Attached:       o.Attached(),
		Components:     o.Components(),
		Calls:          o.calls.ReadAll(),
		ClientMetadata: metadata,
		TotalCalls:     o.calls.TotalAdded() - base,
	}
}

// Subscribe returns a channel of notifications and a function that ends the
// subscription. Slow subscribers miss notifications rather than block stubs.
func (o *Overlay) Subscribe(buffer int) (<-chan Notification, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Notification, buffer)

	o.subMu.Lock()
	o.nextID++
	id := o.nextID
	o.subs[id] = ch
	o.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			o.subMu.Lock()
			defer o.subMu.Unlock()
			if _, ok := o.subs[id]; ok {
				close(ch)
				delete(o.subs, id)
			}
		})
	}
}

func (o *Overlay) publish(n Notification) {
	n.Time = time.Now()

	o.subMu.Lock()
	defer o.subMu.Unlock()
	for _, ch := range o.subs {
		select {
		case ch <- n:
		default:
			log.Debug().Str("kind", n.Kind).Msg("Overlay subscriber is behind, dropping notification")
		}
	}
}

func (o *Overlay) markAttached() {
	o.mu.Lock()
	already := o.attached
	o.attached = true
	o.mu.Unlock()

	if !already {
		log.Info().Msg("Overlay attached to component stubs")
		o.publish(Notification{Kind: KindAttached})
	}
}

func (o *Overlay) onComponentDetails(payload any, _ bus.Reply) {
	rec, ok := payload.(types.ComponentDebugRecord)
	if !ok {
		log.Warn().Type("payload", payload).Msg("Unexpected component details payload")
		return
	}
	// The client is reported through its configuration, not listed.
	if rec.Key == o.profile.Get().ClientComponent {
		return
	}

	o.mu.Lock()
	if _, seen := o.components[rec.Key]; !seen {
		o.order = append(o.order, rec.Key)
	}
	o.components[rec.Key] = rec
	o.mu.Unlock()

	o.publish(Notification{Kind: KindComponent, Component: &rec})
}

func (o *Overlay) onFunctionCall(payload any, _ bus.Reply) {
	call, ok := payload.(types.FunctionCall)
	if !ok {
		log.Warn().Type("payload", payload).Msg("Unexpected function call payload")
		return
	}
	if strings.HasPrefix(call.FunctionName, "_") || o.profile.Get().IsIgnorable(call.FunctionName) {
		return
	}

	o.calls.WriteOne(call)
	log.Debug().
		Str("component", call.Component).
		Str("function", call.FunctionName).
		Msg("Component function called")

	o.publish(Notification{Kind: KindCall, Call: &call})
}

func (o *Overlay) onClientMetadata(payload any, _ bus.Reply) {
	o.mu.Lock()
	o.metadata = payload
	o.hasConfig = true
	o.mu.Unlock()

	o.markAttached()
	o.publish(Notification{Kind: KindClientMetadata, ClientMetadata: payload})
}
