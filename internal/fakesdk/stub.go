// Package fakesdk implements the component stub served in place of SDK
// scripts and the factory that turns the page's create call into a proxied
// real instance.
package fakesdk

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/Rorqualx/sdk-debugger-go/internal/bus"
	"github.com/Rorqualx/sdk-debugger-go/internal/debugger"
	"github.com/Rorqualx/sdk-debugger-go/internal/metrics"
	"github.com/Rorqualx/sdk-debugger-go/internal/profile"
	"github.com/Rorqualx/sdk-debugger-go/internal/realm"
	"github.com/Rorqualx/sdk-debugger-go/internal/sdkmeta"
	"github.com/Rorqualx/sdk-debugger-go/internal/types"
)

// Env is everything a stub execution needs from its page. State is the
// state of the first document; Reset replaces it.
type Env struct {
	Realm   realm.Realm
	State   *debugger.State
	Bus     *bus.Bus
	Profile profile.Source
}

// Stub runs once per redirected script request on one page.
type Stub struct {
	env Env

	handshake    sync.Once
	offHandshake func()

	mu         sync.Mutex
	state      *debugger.State
	generation uint64
	factories  map[string]*Factory
}

// NewStub creates the stub for a page.
func NewStub(env Env) *Stub {
	state := env.State
	if state == nil {
		state = debugger.New()
	}
	return &Stub{
		env:       env,
		state:     state,
		factories: make(map[string]*Factory),
	}
}

// Reset starts a new document: a fresh debugger state, so the new page can
// disclose its client again, and no factories. Factories of the previous
// document keep running until their page objects are gone, but nothing
// they report reaches the bus.
func (s *Stub) Reset() {
	s.mu.Lock()
	s.state = debugger.New()
	s.generation++
	dropped := len(s.factories)
	s.factories = make(map[string]*Factory)
	s.mu.Unlock()

	log.Debug().Int("components", dropped).Msg("Debugger state reset for new document")
}

// State returns the debugger state of the current document.
func (s *Stub) State() *debugger.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Stub) current(generation uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation == generation
}

// Run executes the stub for the script the page asked for. It announces
// itself on the bus, registers the component's debug record and installs
// the fake entry point under the component's camelCase name.
func (s *Stub) Run(ctx context.Context, currentScript string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	prof := s.env.Profile.Get()

	s.handshake.Do(func() {
		s.offHandshake = s.env.Bus.On(bus.EventOverlayReady, func(_ any, reply bus.Reply) {
			reply(map[string]any{})
		})
	})
	s.env.Bus.Emit(bus.EventStubReady, nil)

	id, err := sdkmeta.DeriveWithNames(currentScript, prof.ComponentNames)
	if err != nil {
		log.Warn().
			Err(err).
			Str("url", currentScript).
			Msg("Stub could not identify component, leaving it unregistered")
		return err
	}

	s.mu.Lock()
	state, generation := s.state, s.generation
	s.mu.Unlock()

	state.Register(types.ComponentDebugRecord{
		Key:             id.ComponentKey,
		Name:            id.ComponentName,
		NameInCamelCase: id.ComponentInCamelCase,
		Version:         id.Version,
		Minified:        id.Minified,
		Log:             []string{},
	})
	metrics.ComponentsRegistered.Inc()

	factory := NewFactory(id, s.env.Realm, state, prof, s.hooks(generation))
	if err := s.env.Realm.Install(id.ComponentInCamelCase, factory.EntryPoint()); err != nil {
		return err
	}

	s.mu.Lock()
	if s.generation == generation {
		s.factories[id.ComponentKey] = factory
	}
	s.mu.Unlock()

	log.Info().
		Str("component", id.ComponentKey).
		Str("name", id.ComponentName).
		Str("version", id.Version).
		Bool("minified", id.Minified).
		Msg("Component stub installed")

	return nil
}

// Phase returns the lifecycle phase of a component installed by this stub.
func (s *Stub) Phase(componentKey string) (Phase, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.factories[componentKey]
	if !ok {
		return PhaseStub, false
	}
	return f.Phase(), true
}

// Close stops answering the overlay handshake.
func (s *Stub) Close() {
	if s.offHandshake != nil {
		s.offHandshake()
	}
}

// hooks forward a factory's reports to the bus while its document is current.
func (s *Stub) hooks(generation uint64) Hooks {
	emit := func(event string, payload any) {
		if s.current(generation) {
			s.env.Bus.Emit(event, payload)
		}
	}
	return Hooks{
		OnComponentFunctionCall: func(call types.FunctionCall) {
			emit(bus.EventFunctionCall, call)
		},
		OnClientMetadataAvailable: func(config any) {
			emit(bus.EventClientMetadata, config)
		},
		OnComponentAvailable: func(rec types.ComponentDebugRecord) {
			emit(bus.EventComponentDetails, rec)
		},
	}
}
