package fakesdk

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Rorqualx/sdk-debugger-go/internal/debugger"
	"github.com/Rorqualx/sdk-debugger-go/internal/metrics"
	"github.com/Rorqualx/sdk-debugger-go/internal/profile"
	"github.com/Rorqualx/sdk-debugger-go/internal/realm"
	"github.com/Rorqualx/sdk-debugger-go/internal/sdkmeta"
	"github.com/Rorqualx/sdk-debugger-go/internal/types"
)

// Phase is where a factory is in its lifecycle.
type Phase int32

const (
	// PhaseStub means the fake entry point is installed and create has not been called.
	PhaseStub Phase = iota
	// PhaseLoading means the real script is being loaded.
	PhaseLoading
	// PhaseDelegating means the real create is running.
	PhaseDelegating
	// PhaseProxied means the page holds a proxied real instance.
	PhaseProxied
	// PhaseFailed means the last create failed.
	PhaseFailed
)

// String implements fmt.Stringer.
func (p Phase) String() string {
	switch p {
	case PhaseStub:
		return "stub"
	case PhaseLoading:
		return "loading"
	case PhaseDelegating:
		return "delegating"
	case PhaseProxied:
		return "proxied"
	case PhaseFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Hooks are notified as a component moves through its lifecycle.
// Any of them may be nil.
type Hooks struct {
	OnComponentFunctionCall   func(call types.FunctionCall)
	OnClientMetadataAvailable func(config any)
	OnComponentAvailable      func(record types.ComponentDebugRecord)
}

// Factory is the fake entry point of one component.
type Factory struct {
	id      sdkmeta.Identity
	realm   realm.Realm
	state   *debugger.State
	profile *profile.Profile
	hooks   Hooks
	phase   atomic.Int32

	loadMu sync.Mutex
	loaded bool
}

// NewFactory creates the factory for the component identified by id.
func NewFactory(id sdkmeta.Identity, r realm.Realm, state *debugger.State, prof *profile.Profile, hooks Hooks) *Factory {
	return &Factory{
		id:      id,
		realm:   r,
		state:   state,
		profile: prof,
		hooks:   hooks,
	}
}

// EntryPoint returns the entry point to install in the page.
func (f *Factory) EntryPoint() *realm.EntryPoint {
	return &realm.EntryPoint{
		Version:      f.id.Version,
		Capabilities: f.profile.Capabilities,
		Create:       f.create,
	}
}

// Phase returns the factory's current phase.
func (f *Factory) Phase() Phase {
	return Phase(f.phase.Load())
}

func (f *Factory) setPhase(p Phase) {
	f.phase.Store(int32(p))
}

func (f *Factory) create(ctx context.Context, call realm.CreateCall) (realm.Value, error) {
	start := time.Now()

	instance, err := f.createProxied(ctx, call)

	status := "ok"
	if err != nil {
		status = "error"
		f.setPhase(PhaseFailed)
		log.Warn().
			Err(err).
			Str("component", f.id.ComponentKey).
			Msg("Component create failed")
	}
	metrics.RecordCreate(f.id.ComponentKey, status, time.Since(start))

	return instance, err
}

// createProxied loads the real script, delegates to its create and hands
// back a proxy of the real instance. Errors from the real create are
// returned untransformed so the page sees the original failure.
func (f *Factory) createProxied(ctx context.Context, call realm.CreateCall) (realm.Value, error) {
	key := f.id.ComponentKey

	if err := f.state.SetCreateArgs(key, SanitizeCreateArgs(call.Args, f.profile)); err != nil {
		log.Warn().Err(err).Str("component", key).Msg("Failed to record create arguments")
	}

	if err := f.ensureRealScript(ctx); err != nil {
		return nil, err
	}

	f.setPhase(PhaseDelegating)
	instance, err := f.realm.CreateReal(ctx, f.id.ComponentInCamelCase, call.Options)
	if err != nil {
		return nil, err
	}

	if err := f.state.SetInstance(key, instance); err != nil {
		log.Warn().Err(err).Str("component", key).Msg("Failed to record component instance")
	}

	proxied, err := f.realm.Wrap(ctx, instance, f.observe)
	if err != nil {
		return nil, fmt.Errorf("failed to wrap %s instance: %w", key, err)
	}
	f.setPhase(PhaseProxied)

	if !f.state.MetadataSent() && f.isCurrentMajor() {
		go f.discloseClientConfig(ctx, instance)
	}

	if f.hooks.OnComponentAvailable != nil {
		if rec, ok := f.state.Record(key); ok {
			f.hooks.OnComponentAvailable(rec)
		}
	}

	log.Info().
		Str("component", key).
		Str("version", f.id.Version).
		Msg("Component proxied")

	return proxied, nil
}

// ensureRealScript removes the fake entry point and loads the real script
// once. Concurrent creates wait for the same load.
func (f *Factory) ensureRealScript(ctx context.Context) error {
	f.loadMu.Lock()
	defer f.loadMu.Unlock()

	if f.loaded {
		return nil
	}

	// The real script must find the namespace slot empty.
	if err := f.realm.Remove(f.id.ComponentInCamelCase); err != nil {
		return fmt.Errorf("failed to remove stub entry point: %w", err)
	}

	f.setPhase(PhaseLoading)
	src := f.profile.WithSentinel(f.id.URL)
	if err := f.realm.LoadScript(ctx, src); err != nil {
		var sle *types.ScriptLoadError
		if !errors.As(err, &sle) {
			err = types.NewScriptLoadError(src, err)
		}
		return err
	}

	f.loaded = true
	return nil
}

// observe runs before every method call on the proxied instance.
func (f *Factory) observe(functionName string, args []any) {
	key := f.id.ComponentKey
	sanitized := SanitizeCallArgs(args, f.profile)

	if err := f.state.AppendLog(key, describeCall(functionName, sanitized)); err != nil {
		log.Debug().Err(err).Str("component", key).Msg("Failed to append call log")
	}
	metrics.RecordFunctionCall(key)

	if f.hooks.OnComponentFunctionCall != nil {
		f.hooks.OnComponentFunctionCall(types.FunctionCall{
			Component:    key,
			FunctionName: functionName,
			Args:         sanitized,
		})
	}
}

func (f *Factory) isCurrentMajor() bool {
	if f.id.Semver != nil {
		return f.id.Semver.Major == f.profile.CurrentMajor
	}
	v := sdkmeta.ParseSemver(f.id.Version)
	return v != nil && v.Major == f.profile.CurrentMajor
}

// discloseClientConfig resolves the client configuration in the background.
// Only the first successful disclosure on a page reaches the hook.
func (f *Factory) discloseClientConfig(ctx context.Context, instance realm.Value) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Interface("panic", r).
				Str("stack", string(debug.Stack())).
				Str("component", f.id.ComponentKey).
				Msg("Recovered from panic resolving client configuration")
		}
	}()

	config, err := ResolveClientConfig(ctx, f.realm, f.profile, f.id.ComponentKey, instance)
	if err != nil {
		if errors.Is(err, types.ErrConfigurationNotFound) {
			log.Debug().Str("component", f.id.ComponentKey).Msg("Component exposes no client")
		} else {
			log.Debug().Err(err).Str("component", f.id.ComponentKey).Msg("Client configuration lookup failed")
		}
		return
	}

	if !f.state.MarkMetadataSent() {
		return
	}
	metrics.ClientMetadataSent.Inc()

	if f.hooks.OnClientMetadataAvailable != nil {
		f.hooks.OnClientMetadataAvailable(config)
	}
}
