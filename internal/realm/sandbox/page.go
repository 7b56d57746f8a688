// Package sandbox implements a realm on an embedded goja runtime.
//
// All JavaScript runs on the goroutine owned by the page's event loop.
// Go callers reach the runtime through do, which schedules a job on the loop
// and waits for its result; they must not call it from inside a loop job.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/console"
	"github.com/dop251/goja_nodejs/eventloop"
	"github.com/dop251/goja_nodejs/require"
	"github.com/rs/zerolog/log"

	"github.com/Rorqualx/sdk-debugger-go/internal/realm"
	"github.com/Rorqualx/sdk-debugger-go/internal/types"
)

// Maximum size of a fetched script (20MB)
const maxScriptSize = 20 * 1024 * 1024

// RequestHook may redirect a script request before it is fetched.
type RequestHook func(rawURL string) (redirect string, ok bool)

// Bundle is a Go-implemented script served at a fixed URL. currentScript is
// the src the page asked for, before any redirect.
type Bundle func(ctx context.Context, currentScript string) error

// Options configures a Page.
type Options struct {
	// Namespace is the global object SDK components register under.
	Namespace string
	// Client fetches remote scripts.
	Client *http.Client
	// ScriptTimeout interrupts a single script run that takes longer.
	ScriptTimeout time.Duration
}

// Page is a sandboxed page with a window global, script loading and the
// SDK namespace.
type Page struct {
	loop      *eventloop.EventLoop
	vm        *goja.Runtime
	namespace string
	client    *http.Client
	timeout   time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.RWMutex
	hooks   []RequestHook
	bundles map[string]Bundle

	closeOnce sync.Once
}

var _ realm.Realm = (*Page)(nil)

// New creates a Page and starts its event loop.
func New(opts Options) *Page {
	if opts.Namespace == "" {
		opts.Namespace = "braintree"
	}
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: 30 * time.Second}
	}
	if opts.ScriptTimeout <= 0 {
		opts.ScriptTimeout = 30 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Page{
		namespace: opts.Namespace,
		client:    opts.Client,
		timeout:   opts.ScriptTimeout,
		ctx:       ctx,
		cancel:    cancel,
		bundles:   make(map[string]Bundle),
	}

	registry := new(require.Registry)
	registry.RegisterNativeModule("console", console.RequireWithPrinter(consolePrinter{}))

	p.loop = eventloop.NewEventLoop(eventloop.WithRegistry(registry))
	p.loop.Start()

	initDone := make(chan struct{})
	p.loop.RunOnLoop(func(vm *goja.Runtime) {
		defer close(initDone)
		p.vm = vm

		global := vm.GlobalObject()
		_ = vm.Set("window", global)
		_ = vm.Set("self", global)
		_ = vm.Set("loadScript", p.loadScriptFunc(vm))
	})
	<-initDone

	log.Debug().Str("namespace", p.namespace).Msg("Sandbox page created")
	return p
}

// OnBeforeRequest registers a hook consulted for every script request.
// The first hook that redirects wins.
func (p *Page) OnBeforeRequest(hook RequestHook) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.hooks = append(p.hooks, hook)
}

// RegisterBundle serves b in place of fetching rawURL.
func (p *Page) RegisterBundle(rawURL string, b Bundle) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.bundles[rawURL] = b
}

// Context returns a context cancelled when the page closes.
func (p *Page) Context() context.Context {
	return p.ctx
}

// AddScript loads and runs the script at src the way a script element would:
// request hooks may redirect it, bundles are run in Go, anything else is
// fetched over HTTP and executed.
func (p *Page) AddScript(ctx context.Context, src string) error {
	target := src

	p.mu.RLock()
	hooks := make([]RequestHook, len(p.hooks))
	copy(hooks, p.hooks)
	p.mu.RUnlock()

	for _, hook := range hooks {
		if redirect, ok := hook(src); ok {
			target = redirect
			break
		}
	}

	p.mu.RLock()
	bundle, isBundle := p.bundles[target]
	p.mu.RUnlock()

	if isBundle {
		if err := bundle(ctx, src); err != nil {
			return types.NewScriptLoadError(src, err)
		}
		return nil
	}

	body, err := p.fetch(ctx, target)
	if err != nil {
		return types.NewScriptLoadError(src, err)
	}
	if err := p.run(ctx, src, body); err != nil {
		return types.NewScriptLoadError(src, err)
	}
	return nil
}

// Eval runs code as an inline page script.
func (p *Page) Eval(ctx context.Context, name, code string) error {
	return p.run(ctx, name, code)
}

// EvalValue runs code and returns its completion value.
func (p *Page) EvalValue(ctx context.Context, code string) (realm.Value, error) {
	var result goja.Value
	err := p.do(ctx, func(vm *goja.Runtime) error {
		v, err := vm.RunString(code)
		if err != nil {
			return asRejection(err)
		}
		result = v
		return nil
	})
	return result, err
}

// Close stops the event loop. Pending operations fail with ErrRealmClosed.
func (p *Page) Close() error {
	p.closeOnce.Do(func() {
		p.cancel()
		p.vm.Interrupt("page closed")
		p.loop.Stop()
		p.client.CloseIdleConnections()
		log.Debug().Str("namespace", p.namespace).Msg("Sandbox page closed")
	})
	return nil
}

// do runs fn on the event loop and waits for it.
func (p *Page) do(ctx context.Context, fn func(vm *goja.Runtime) error) error {
	if p.ctx.Err() != nil {
		return types.ErrRealmClosed
	}

	errCh := make(chan error, 1)
	p.loop.RunOnLoop(func(vm *goja.Runtime) {
		defer func() {
			if r := recover(); r != nil {
				errCh <- panicError(r)
			}
		}()
		errCh <- fn(vm)
	})

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-p.ctx.Done():
		return types.ErrRealmClosed
	}
}

// post schedules fn on the loop without waiting.
func (p *Page) post(fn func(vm *goja.Runtime)) {
	if p.ctx.Err() != nil {
		return
	}
	p.loop.RunOnLoop(func(vm *goja.Runtime) {
		defer func() {
			if r := recover(); r != nil {
				log.Error().Interface("panic", r).Msg("Recovered from panic in sandbox event loop")
			}
		}()
		fn(vm)
	})
}

func (p *Page) run(ctx context.Context, name, code string) error {
	program, err := goja.Compile(name, code, false)
	if err != nil {
		return err
	}

	return p.do(ctx, func(vm *goja.Runtime) error {
		timer := time.AfterFunc(p.timeout, func() {
			vm.Interrupt("script timed out")
		})
		defer func() {
			timer.Stop()
			vm.ClearInterrupt()
		}()

		_, err := vm.RunProgram(program)
		return err
	})
}

func (p *Page) fetch(ctx context.Context, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/javascript, */*")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxScriptSize))
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	return string(body), nil
}

// loadScriptFunc is the page's loadScript(src) global. The returned promise
// settles once the script has run or failed.
func (p *Page) loadScriptFunc(vm *goja.Runtime) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		src := call.Argument(0).String()
		promise, resolve, reject := vm.NewPromise()

		go func() {
			err := p.AddScript(p.ctx, src)
			p.post(func(vm *goja.Runtime) {
				if err != nil {
					reject(vm.NewGoError(err))
					return
				}
				resolve(goja.Undefined())
			})
		}()

		return vm.ToValue(promise)
	}
}

// asRejection carries a script exception across the boundary with its original value.
func asRejection(err error) error {
	var ex *goja.Exception
	if errors.As(err, &ex) {
		return &realm.Rejection{Value: ex.Value(), Message: ex.Error()}
	}
	return err
}

func panicError(r any) error {
	switch v := r.(type) {
	case *goja.Exception:
		return &realm.Rejection{Value: v.Value(), Message: v.Error()}
	case goja.Value:
		return &realm.Rejection{Value: v, Message: v.String()}
	case error:
		return fmt.Errorf("panic on page loop: %w", v)
	default:
		return fmt.Errorf("panic on page loop: %v", v)
	}
}

type consolePrinter struct{}

func (consolePrinter) Log(msg string) {
	log.Debug().Str("source", "page").Msg(msg)
}

func (consolePrinter) Warn(msg string) {
	log.Warn().Str("source", "page").Msg(msg)
}

func (consolePrinter) Error(msg string) {
	log.Error().Str("source", "page").Msg(msg)
}
