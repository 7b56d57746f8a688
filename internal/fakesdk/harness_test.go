package fakesdk

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Rorqualx/sdk-debugger-go/internal/bus"
	"github.com/Rorqualx/sdk-debugger-go/internal/debugger"
	"github.com/Rorqualx/sdk-debugger-go/internal/intercept"
	"github.com/Rorqualx/sdk-debugger-go/internal/profile"
	"github.com/Rorqualx/sdk-debugger-go/internal/realm/sandbox"
)

const (
	stubURL      = "sdkdebugger://stub.js"
	clientURL    = "https://js.braintreegateway.com/web/3.63.0/js/client.min.js"
	hostedURL    = "https://js.braintreegateway.com/web/3.63.0/js/hosted-fields.min.js"
	paypalURL    = "https://js.braintreegateway.com/web/3.63.0/js/paypal-checkout.min.js"
	venmoURL     = "https://js.braintreegateway.com/web/3.63.0/js/venmo.min.js"
	dropinURL    = "https://js.braintreegateway.com/web/dropin/1.24.0/js/dropin.min.js"
	oldClientURL = "https://js.braintreegateway.com/web/3.13.0/js/client.min.js"
)

// Stand-ins for the real SDK scripts. Like the real bundles they assign
// their entry point unconditionally.
var fakeScripts = map[string]string{
	"client.min.js": `
		window.braintree = window.braintree || {};
		window.braintree.client = {
			VERSION: "3.63.0",
			create: function (options) {
				window.realCreateArgCount = arguments.length;
				if (options && options.authorization === "bad") {
					window.badAuthError = new Error("invalid authorization");
					return Promise.reject(window.badAuthError);
				}
				var config = { authorization: options.authorization, gatewayConfiguration: { environment: "sandbox" } };
				return Promise.resolve({
					getConfiguration: function () { return config; },
					request: function (opts, cb) { return "requested"; },
					teardown: function () { return Promise.resolve(); }
				});
			}
		};`,
	"hosted-fields.min.js": `
		window.braintree = window.braintree || {};
		window.braintree.hostedFields = {
			create: function (options) {
				return Promise.resolve({
					_client: options.client,
					tokenize: function () { return Promise.resolve({ nonce: "fake-nonce" }); },
					on: function (event, handler) {},
					getState: function () { return { fields: {} }; }
				});
			}
		};`,
	"venmo.min.js": `
		window.braintree = window.braintree || {};
		window.braintree.venmo = {
			create: function () { return Promise.resolve({ tokenize: function () {} }); }
		};`,
	"dropin.min.js": `
		window.braintree = window.braintree || {};
		window.braintree.dropin = {
			create: function () {
				return Promise.resolve({
					_client: { getConfiguration: function () { return { authorization: "dropin" }; } },
					requestPaymentMethod: function () {}
				});
			}
		};`,
}

// rewriteTransport sends every request to the test server.
type rewriteTransport struct {
	target *url.URL
}

func (t rewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	r.URL.Scheme = t.target.Scheme
	r.URL.Host = t.target.Host
	r.Host = t.target.Host
	return http.DefaultTransport.RoundTrip(r)
}

type harness struct {
	page  *sandbox.Page
	state *debugger.State
	bus   *bus.Bus
	stub  *Stub

	mu       sync.Mutex
	requests []string
	events   map[string][]any
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{events: make(map[string][]any)}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.mu.Lock()
		h.requests = append(h.requests, r.URL.String())
		h.mu.Unlock()

		name := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
		body, ok := fakeScripts[name]
		if !ok {
			http.Error(w, "unavailable", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/javascript")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)

	target, _ := url.Parse(srv.URL)
	h.page = sandbox.New(sandbox.Options{
		Client:        &http.Client{Transport: rewriteTransport{target: target}, Timeout: 5 * time.Second},
		ScriptTimeout: 2 * time.Second,
	})
	t.Cleanup(func() { _ = h.page.Close() })

	h.state = debugger.New()
	h.bus = bus.New()
	source := profile.Static(profile.Get())

	h.stub = NewStub(Env{Realm: h.page, State: h.state, Bus: h.bus, Profile: source})
	t.Cleanup(h.stub.Close)

	h.page.OnBeforeRequest(intercept.NewPolicy(source, stubURL).BeforeRequest)
	h.page.RegisterBundle(stubURL, h.stub.Run)

	for _, event := range []string{bus.EventStubReady, bus.EventFunctionCall, bus.EventClientMetadata, bus.EventComponentDetails} {
		event := event
		h.bus.On(event, func(payload any, _ bus.Reply) {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.events[event] = append(h.events[event], payload)
		})
	}

	return h
}

func (h *harness) ctx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// run executes a page script.
func (h *harness) run(t *testing.T, code string) {
	t.Helper()
	if err := h.page.Eval(h.ctx(t), "page.js", code); err != nil {
		t.Fatalf("page script failed: %v", err)
	}
}

// eval returns the exported value of a page expression.
func (h *harness) eval(t *testing.T, expr string) any {
	t.Helper()
	ctx := h.ctx(t)
	v, err := h.page.EvalValue(ctx, expr)
	if err != nil {
		t.Fatalf("EvalValue(%q) error = %v", expr, err)
	}
	out, err := h.page.Export(ctx, v)
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	return out
}

// waitFor polls until expr is truthy in the page.
func (h *harness) waitFor(t *testing.T, expr string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if b, ok := h.eval(t, "!!("+expr+")").(bool); ok && b {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s (pageError: %v)", expr, h.eval(t, "window.pageError && String(window.pageError)"))
}

func (h *harness) eventsFor(event string) []any {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]any(nil), h.events[event]...)
}

func (h *harness) fetched() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.requests...)
}

// eventually polls cond until it holds.
func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
