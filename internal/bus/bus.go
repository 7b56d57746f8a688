// Package bus is the in-process event channel between component stubs and
// the debugger overlay.
package bus

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/Rorqualx/sdk-debugger-go/internal/types"
)

// Event names exchanged on the bus.
const (
	EventStubReady        = "FAKE_BRAINTREE_READY"
	EventOverlayReady     = "MAIN_EXTENSION_READY"
	EventFunctionCall     = "COMPONENT_FUNCTION_CALL"
	EventClientMetadata   = "CLIENT_METADATA"
	EventComponentDetails = "COMPONENT_DETAILS"
)

// Reply answers an event emitted with EmitWithReply. Only the first reply is delivered.
type Reply func(payload any)

// Handler receives an event payload.
type Handler func(payload any, reply Reply)

type subscription struct {
	id      uint64
	handler Handler
}

// Bus delivers events synchronously to every handler registered at emit time.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]subscription
	nextID   uint64
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{handlers: make(map[string][]subscription)}
}

// On registers h for event and returns a function that removes it.
func (b *Bus) On(event string, h Handler) (off func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.handlers[event] = append(b.handlers[event], subscription{id: id, handler: h})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			subs := b.handlers[event]
			for i, s := range subs {
				if s.id == id {
					b.handlers[event] = append(subs[:i:i], subs[i+1:]...)
					break
				}
			}
		})
	}
}

// Emit delivers payload to every handler of event. Replies are discarded.
func (b *Bus) Emit(event string, payload any) {
	b.dispatch(event, payload, func(any) {})
}

// EmitWithReply delivers payload and waits for the first reply.
// It returns ErrNoReply when ctx ends before any handler replies.
func (b *Bus) EmitWithReply(ctx context.Context, event string, payload any) (any, error) {
	replies := make(chan any, 1)
	var once sync.Once
	reply := func(p any) {
		once.Do(func() { replies <- p })
	}

	b.dispatch(event, payload, reply)

	select {
	case p := <-replies:
		return p, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w for %s: %v", types.ErrNoReply, event, ctx.Err())
	}
}

// HandlerCount returns the number of handlers registered for event.
func (b *Bus) HandlerCount(event string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[event])
}

func (b *Bus) dispatch(event string, payload any, reply Reply) {
	b.mu.RLock()
	subs := make([]subscription, len(b.handlers[event]))
	copy(subs, b.handlers[event])
	b.mu.RUnlock()

	for _, s := range subs {
		b.invoke(event, s.handler, payload, reply)
	}
}

// invoke isolates handler panics so one listener cannot break the emitter.
func (b *Bus) invoke(event string, h Handler, payload any, reply Reply) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Interface("panic", r).
				Str("event", event).
				Msg("Bus handler panicked")
		}
	}()
	h(payload, reply)
}
