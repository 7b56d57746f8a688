// Package cdp implements a realm on a live browser page driven over the
// Chrome DevTools Protocol with go-rod.
//
// Values are *proto.RuntimeRemoteObject handles. The page half of the realm
// is a small runtime installed on every document; it reports entry point
// creates and proxied method calls back to Go through exposed bindings.
package cdp

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/rs/zerolog/log"
	"github.com/ysmood/gson"

	"github.com/Rorqualx/sdk-debugger-go/internal/realm"
	"github.com/Rorqualx/sdk-debugger-go/internal/security"
	"github.com/Rorqualx/sdk-debugger-go/internal/types"
)

// RequestHook may redirect a script request before the browser fetches it.
type RequestHook func(rawURL string) (redirect string, ok bool)

// NavigateHook runs after the main frame commits a new document.
type NavigateHook func(rawURL string)

// Bundle is a Go-implemented script served at a fixed URL. currentScript is
// the src the page asked for.
type Bundle func(ctx context.Context, currentScript string) error

// Options configures a Page.
type Options struct {
	// Namespace is the global object SDK components register under.
	Namespace string
	// ScriptTimeout bounds each round trip into the page.
	ScriptTimeout time.Duration
}

// Page is a browser page prepared to host component stubs.
type Page struct {
	page      *rod.Page
	namespace string
	timeout   time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.RWMutex
	hooks     []RequestHook
	navHooks  []NavigateHook
	bundles   map[string]Bundle
	entries   map[string]*realm.EntryPoint
	observers map[int64]realm.CallObserver
	nextWrap  atomic.Int64

	router *rod.HijackRouter
	stops  []func() error

	closeOnce sync.Once
}

var _ realm.Realm = (*Page)(nil)

// New installs the page runtime and bindings on page.
func New(page *rod.Page, opts Options) (*Page, error) {
	if opts.Namespace == "" {
		opts.Namespace = "braintree"
	}
	if opts.ScriptTimeout <= 0 {
		opts.ScriptTimeout = 30 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Page{
		page:      page,
		namespace: opts.Namespace,
		timeout:   opts.ScriptTimeout,
		ctx:       ctx,
		cancel:    cancel,
		bundles:   make(map[string]Bundle),
		entries:   make(map[string]*realm.EntryPoint),
		observers: make(map[int64]realm.CallObserver),
	}

	if err := p.setup(); err != nil {
		_ = p.Close()
		return nil, err
	}
	return p, nil
}

func (p *Page) setup() error {
	remove, err := p.page.EvalOnNewDocument("(" + runtimeJS + ")()")
	if err != nil {
		return fmt.Errorf("failed to register page runtime: %w", err)
	}
	p.stops = append(p.stops, remove)

	if _, err := p.page.Evaluate(rod.Eval(runtimeJS)); err != nil {
		return fmt.Errorf("failed to install page runtime: %w", err)
	}

	for name, fn := range map[string]func(gson.JSON) (interface{}, error){
		createBinding: p.onCreate,
		callBinding:   p.onCall,
	} {
		stop, err := p.page.Expose(name, fn)
		if err != nil {
			return fmt.Errorf("failed to expose %s: %w", name, err)
		}
		p.stops = append(p.stops, stop)
	}

	wait := p.page.Context(p.ctx).EachEvent(p.frameNavigated)
	go wait()
	return nil
}

// OnNavigate adds a hook run for every main frame navigation. Same-document
// navigations such as hash changes do not count.
func (p *Page) OnNavigate(hook NavigateHook) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.navHooks = append(p.navHooks, hook)
}

// frameNavigated forgets the proxies of the previous document, whose page
// objects died with it. Entry points are keyed by component name and are
// reinstalled by the new document's stubs, so they are left alone.
func (p *Page) frameNavigated(e *proto.PageFrameNavigated) {
	if e.Frame == nil || e.Frame.ParentID != "" {
		return
	}

	p.mu.Lock()
	dropped := len(p.observers)
	p.observers = make(map[int64]realm.CallObserver)
	hooks := append([]NavigateHook(nil), p.navHooks...)
	p.mu.Unlock()

	log.Info().
		Str("url", security.RedactURL(e.Frame.URL)).
		Int("dropped_proxies", dropped).
		Msg("Main frame navigated")

	for _, hook := range hooks {
		hook(e.Frame.URL)
	}
}

// OnBeforeRequest adds a hook consulted for every script request.
func (p *Page) OnBeforeRequest(hook RequestHook) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.hooks = append(p.hooks, hook)
}

// RegisterBundle serves fn for script requests redirected to stubURL.
func (p *Page) RegisterBundle(stubURL string, fn Bundle) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.bundles[stubURL] = fn
}

// Intercept starts routing the page's script requests through the hooks.
// It is a no-op when called again.
func (p *Page) Intercept() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.router != nil {
		return nil
	}

	router := p.page.HijackRequests()
	if err := router.Add("*", proto.NetworkResourceTypeScript, p.hijack); err != nil {
		return fmt.Errorf("failed to intercept script requests: %w", err)
	}
	go router.Run()

	p.router = router
	return nil
}

// Navigate loads rawURL and waits for the load event.
func (p *Page) Navigate(ctx context.Context, rawURL string) error {
	if err := p.page.Context(ctx).Navigate(rawURL); err != nil {
		return fmt.Errorf("failed to navigate: %w", err)
	}
	if err := p.page.Context(ctx).WaitLoad(); err != nil {
		return fmt.Errorf("failed waiting for page load: %w", err)
	}
	return nil
}

// Context returns a context that ends when the page is closed.
func (p *Page) Context() context.Context {
	return p.ctx
}

// Close stops interception and removes the bindings. The browser page
// itself belongs to the caller.
func (p *Page) Close() error {
	var errs []error
	p.closeOnce.Do(func() {
		p.cancel()

		p.mu.Lock()
		router := p.router
		p.router = nil
		p.mu.Unlock()

		if router != nil {
			if err := router.Stop(); err != nil {
				errs = append(errs, err)
			}
		}
		for _, stop := range p.stops {
			if err := stop(); err != nil {
				errs = append(errs, err)
			}
		}
	})
	return errors.Join(errs...)
}

// hijack decides the fate of one paused script request.
func (p *Page) hijack(h *rod.Hijack) {
	raw := h.Request.URL().String()

	target, redirect := p.beforeRequest(raw)
	if !redirect {
		h.ContinueRequest(&proto.FetchContinueRequest{})
		return
	}

	p.mu.RLock()
	bundle, ok := p.bundles[target]
	p.mu.RUnlock()

	if !ok {
		h.ContinueRequest(&proto.FetchContinueRequest{URL: target})
		return
	}

	if err := bundle(p.ctx, raw); err != nil {
		log.Warn().Err(err).Str("url", security.RedactURL(raw)).Msg("Stub bundle failed")
	}

	h.Response.SetHeader("Content-Type", "application/javascript; charset=utf-8")
	h.Response.SetBody(stubBody)
}

func (p *Page) beforeRequest(raw string) (string, bool) {
	p.mu.RLock()
	hooks := append([]RequestHook(nil), p.hooks...)
	p.mu.RUnlock()

	for _, hook := range hooks {
		if target, ok := hook(raw); ok {
			return target, true
		}
	}
	return "", false
}

// eval runs opts against the page bounded by ctx and the script timeout.
func (p *Page) eval(ctx context.Context, opts *rod.EvalOptions) (*proto.RuntimeRemoteObject, error) {
	select {
	case <-p.ctx.Done():
		return nil, types.ErrRealmClosed
	default:
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	stop := context.AfterFunc(p.ctx, cancel)
	defer stop()

	res, err := p.page.Context(ctx).Evaluate(opts)
	if err != nil && p.ctx.Err() != nil {
		return nil, types.ErrRealmClosed
	}
	return res, err
}

// arg passes v to page functions. Primitive results carry no object id and
// are passed by value.
func arg(v realm.Value) interface{} {
	obj, ok := v.(*proto.RuntimeRemoteObject)
	if !ok || obj == nil {
		return v
	}
	if obj.ObjectID == "" {
		if obj.Type == proto.RuntimeRemoteObjectTypeUndefined {
			return nil
		}
		return obj.Value
	}
	return obj
}

func remote(v realm.Value) (*proto.RuntimeRemoteObject, error) {
	obj, ok := v.(*proto.RuntimeRemoteObject)
	if !ok || obj == nil {
		return nil, fmt.Errorf("not a page value: %T", v)
	}
	return obj, nil
}

// asRejection converts a thrown or rejected page value into a realm.Rejection
// that carries the original value.
func asRejection(err error) error {
	var evalErr *rod.EvalError
	if !errors.As(err, &evalErr) || evalErr.RuntimeExceptionDetails == nil {
		return err
	}
	details := evalErr.RuntimeExceptionDetails
	if details.Exception == nil {
		return &realm.Rejection{Message: details.Text}
	}
	msg := details.Exception.Description
	if msg == "" {
		msg = details.Exception.Value.String()
	}
	return &realm.Rejection{Value: details.Exception, Message: msg}
}
