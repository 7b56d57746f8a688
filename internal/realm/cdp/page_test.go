package cdp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"github.com/Rorqualx/sdk-debugger-go/internal/realm"
)

// skipWithoutBrowser skips tests that need a local Chromium.
func skipWithoutBrowser(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping browser test in short mode")
	}
	path, has := launcher.LookPath()
	if !has {
		t.Skip("Skipping browser test, no browser found")
	}
	return path
}

func newBrowserPage(t *testing.T) *rod.Page {
	t.Helper()
	bin := skipWithoutBrowser(t)

	l := launcher.New().Bin(bin).Headless(true).NoSandbox(true)
	u, err := l.Launch()
	if err != nil {
		t.Fatalf("failed to launch browser: %v", err)
	}
	t.Cleanup(l.Cleanup)

	browser := rod.New().ControlURL(u)
	if err := browser.Connect(); err != nil {
		t.Fatalf("failed to connect to browser: %v", err)
	}
	t.Cleanup(func() { _ = browser.Close() })

	page, err := browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		t.Fatalf("failed to open page: %v", err)
	}
	return page
}

func testServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/index.html", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><head></head><body></body></html>`))
	})
	mux.HandleFunc("/stubbed.html", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><head>
<script src="/sdk/widget.js"></script>
<script>window.seen = typeof braintree.widget.create;</script>
</head><body></body></html>`))
	})
	mux.HandleFunc("/sdk/widget.js", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/javascript")
		_, _ = w.Write([]byte(`
window.braintree = window.braintree || {};
window.braintree.widget = {
  create: function (options) {
    if (options && options.fail) { window.failure = new Error("widget failed"); return Promise.reject(window.failure); }
    return Promise.resolve({ ping: function (x) { return "pong:" + x; }, options: options });
  }
};`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func waitForJS(t *testing.T, page *rod.Page, expr string) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		res, err := page.Evaluate(rod.Eval("() => !!(" + expr + ")"))
		if err == nil && res.Value.Bool() {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", expr)
}

type observed struct {
	mu    sync.Mutex
	calls []string
	args  [][]any
}

func (o *observed) observe(name string, args []any) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls = append(o.calls, name)
	o.args = append(o.args, args)
}

func (o *observed) snapshot() ([]string, [][]any) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.calls...), append([][]any(nil), o.args...)
}

func TestPage_CreateDelegatesAndProxies(t *testing.T) {
	page := newBrowserPage(t)
	srv := testServer(t)
	ctx := testContext(t)

	p, err := New(page, Options{ScriptTimeout: 10 * time.Second})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer p.Close()

	if err := p.Navigate(ctx, srv.URL+"/index.html"); err != nil {
		t.Fatalf("Navigate() error = %v", err)
	}

	var calls observed
	var gotArgs []any
	ep := &realm.EntryPoint{
		Version:      "3.63.0",
		Capabilities: map[string]bool{"isSupported": true},
		Create: func(ctx context.Context, call realm.CreateCall) (realm.Value, error) {
			gotArgs = call.Args
			if err := p.Remove("widget"); err != nil {
				return nil, err
			}
			if err := p.LoadScript(ctx, srv.URL+"/sdk/widget.js"); err != nil {
				return nil, err
			}
			inst, err := p.CreateReal(ctx, "widget", call.Options)
			if err != nil {
				return nil, err
			}
			return p.Wrap(ctx, inst, calls.observe)
		},
	}
	if err := p.Install("widget", ep); err != nil {
		t.Fatalf("Install() error = %v", err)
	}

	if _, err := page.Evaluate(rod.Eval(`() => {
		window.caps = braintree.widget.isSupported();
		window.version = braintree.widget.VERSION;
		braintree.widget.create({ key: "k" }, function (err, w) { window.cbErr = err; })
			.then(function (w) { window.result = w.ping("x"); });
	}`)); err != nil {
		t.Fatalf("page script failed: %v", err)
	}
	waitForJS(t, page, "window.result")

	res, _ := page.Evaluate(rod.Eval(`() => [window.result, window.caps, window.version, window.cbErr]`))
	if got := res.Value.Arr(); got[0].Str() != "pong:x" || !got[1].Bool() || got[2].Str() != "3.63.0" || !got[3].Nil() {
		t.Errorf("page saw %v", res.Value)
	}

	want := []any{map[string]any{"key": "k"}, realm.Func{}}
	if len(gotArgs) != 2 || !reflect.DeepEqual(gotArgs[0], want[0]) {
		t.Errorf("create args = %#v, want %#v", gotArgs, want)
	}
	if _, ok := gotArgs[1].(realm.Func); !ok {
		t.Errorf("callback should export as realm.Func, got %#v", gotArgs[1])
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		names, args := calls.snapshot()
		if len(names) == 1 {
			if names[0] != "ping" || !reflect.DeepEqual(args[0], []any{"x"}) {
				t.Errorf("observed %v %v", names, args)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("observed calls = %v, want one ping", names)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestPage_RealRejectionReachesPageUnchanged(t *testing.T) {
	page := newBrowserPage(t)
	srv := testServer(t)
	ctx := testContext(t)

	p, err := New(page, Options{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer p.Close()
	if err := p.Navigate(ctx, srv.URL+"/index.html"); err != nil {
		t.Fatalf("Navigate() error = %v", err)
	}
	if err := p.LoadScript(ctx, srv.URL+"/sdk/widget.js"); err != nil {
		t.Fatalf("LoadScript() error = %v", err)
	}
	if err := p.Install("proxied", &realm.EntryPoint{
		Create: func(ctx context.Context, call realm.CreateCall) (realm.Value, error) {
			return p.CreateReal(ctx, "widget", call.Options)
		},
	}); err != nil {
		t.Fatalf("Install() error = %v", err)
	}

	if _, err := page.Evaluate(rod.Eval(`() => {
		braintree.proxied.create({ fail: true }).catch(function (e) { window.same = (e === window.failure); window.done = true; });
	}`)); err != nil {
		t.Fatalf("page script failed: %v", err)
	}
	waitForJS(t, page, "window.done")

	res, _ := page.Evaluate(rod.Eval(`() => window.same`))
	if !res.Value.Bool() {
		t.Error("page should receive the identical rejection value")
	}
}

func TestPage_InterceptServesBundle(t *testing.T) {
	page := newBrowserPage(t)
	srv := testServer(t)
	ctx := testContext(t)

	p, err := New(page, Options{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer p.Close()

	const stubURL = "sdkdebugger://stub.js"
	var mu sync.Mutex
	var scripts []string

	p.OnBeforeRequest(func(raw string) (string, bool) {
		if strings.HasSuffix(raw, "/sdk/widget.js") {
			return stubURL, true
		}
		return "", false
	})
	p.RegisterBundle(stubURL, func(ctx context.Context, currentScript string) error {
		mu.Lock()
		scripts = append(scripts, currentScript)
		mu.Unlock()
		return p.Install("widget", &realm.EntryPoint{
			Create: func(context.Context, realm.CreateCall) (realm.Value, error) { return nil, nil },
		})
	})
	if err := p.Intercept(); err != nil {
		t.Fatalf("Intercept() error = %v", err)
	}

	if err := p.Navigate(ctx, srv.URL+"/stubbed.html"); err != nil {
		t.Fatalf("Navigate() error = %v", err)
	}
	waitForJS(t, page, "window.seen")

	res, _ := page.Evaluate(rod.Eval(`() => window.seen`))
	if res.Value.Str() != "function" {
		t.Errorf("typeof create = %v", res.Value)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(scripts) != 1 || !strings.HasSuffix(scripts[0], "/sdk/widget.js") {
		t.Errorf("bundle saw %v, want the original script URL", scripts)
	}
}

func TestPage_ClosedRealm(t *testing.T) {
	page := newBrowserPage(t)

	p, err := New(page, Options{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
	if err := p.Install("x", &realm.EntryPoint{}); err == nil {
		t.Error("Install() after Close should fail")
	}
}

func TestPage_WrapKeepsCallerReceiver(t *testing.T) {
	page := newBrowserPage(t)
	srv := testServer(t)
	ctx := testContext(t)

	p, err := New(page, Options{ScriptTimeout: 10 * time.Second})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer p.Close()

	if err := p.Navigate(ctx, srv.URL+"/index.html"); err != nil {
		t.Fatalf("Navigate() error = %v", err)
	}

	inst, err := page.Evaluate(rod.Eval(`() => ({
		outer() { return this.inner(); },
		inner() { return "inner"; },
		who() { return this; },
		get self() { return this; }
	})`).ByObject())
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}

	var calls observed
	wrapped, err := p.Wrap(ctx, inst, calls.observe)
	if err != nil {
		t.Fatalf("Wrap() error = %v", err)
	}
	if _, err := page.Evaluate(rod.Eval(`(w) => { window.wrapped = w; }`, wrapped)); err != nil {
		t.Fatalf("failed to publish proxy: %v", err)
	}

	res, err := page.Evaluate(rod.Eval(`() => [
		wrapped.outer(),
		wrapped.who() === wrapped,
		wrapped.self === wrapped,
		(function () { var o = {}; return wrapped.who.call(o) === o; })()
	]`))
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	got := res.Value.Arr()
	if got[0].Str() != "inner" || !got[1].Bool() || !got[2].Bool() || !got[3].Bool() {
		t.Errorf("page saw %v, want [inner true true true]", res.Value)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		names, _ := calls.snapshot()
		if len(names) >= 2 && names[0] == "outer" && names[1] == "inner" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("observed calls = %v, want outer then inner first", names)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestPage_MainFrameNavigationRunsHooks(t *testing.T) {
	page := newBrowserPage(t)
	srv := testServer(t)
	ctx := testContext(t)

	p, err := New(page, Options{ScriptTimeout: 10 * time.Second})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer p.Close()

	var (
		mu   sync.Mutex
		urls []string
	)
	p.OnNavigate(func(rawURL string) {
		mu.Lock()
		defer mu.Unlock()
		urls = append(urls, rawURL)
	})

	for _, path := range []string{"/index.html", "/index.html#section", "/stubbed.html"} {
		if err := p.Navigate(ctx, srv.URL+path); err != nil {
			t.Fatalf("Navigate(%s) error = %v", path, err)
		}
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		mu.Lock()
		got := append([]string(nil), urls...)
		mu.Unlock()
		if len(got) == 2 {
			if !strings.HasSuffix(got[0], "/index.html") || !strings.HasSuffix(got[1], "/stubbed.html") {
				t.Errorf("navigations = %v", got)
			}
			return
		}
		if len(got) > 2 || time.Now().After(deadline) {
			t.Fatalf("navigations = %v, want index then stubbed (hash change excluded)", got)
		}
		time.Sleep(20 * time.Millisecond)
	}
}
