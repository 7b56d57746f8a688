package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Rorqualx/sdk-debugger-go/internal/config"
	"github.com/Rorqualx/sdk-debugger-go/internal/overlay"
	"github.com/Rorqualx/sdk-debugger-go/internal/profile"
	"github.com/Rorqualx/sdk-debugger-go/internal/types"
	"github.com/Rorqualx/sdk-debugger-go/pkg/version"
)

func TestSetupLogging(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.InfoLevel)

	tests := []struct {
		level string
		want  zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"info", zerolog.InfoLevel},
		{"warn", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"bogus", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			var buf bytes.Buffer
			setupLogging(tt.level, "json", &buf)
			if got := zerolog.GlobalLevel(); got != tt.want {
				t.Errorf("GlobalLevel() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	versionCmd.SetOut(&out)
	versionCmd.Run(versionCmd, nil)

	if !strings.Contains(out.String(), version.Full()) {
		t.Errorf("version output %q does not contain %q", out.String(), version.Full())
	}
}

func TestApplyAttachFlags(t *testing.T) {
	cmd := &cobra.Command{Use: "attach"}
	cmd.Flags().AddFlagSet(attachCmd.Flags())

	for name, value := range map[string]string{
		"port":     "9001",
		"headless": "true",
		"proxy":    "http://proxy:8080",
		"tui":      "true",
	} {
		if err := cmd.Flags().Set(name, value); err != nil {
			t.Fatalf("Set(%s) error = %v", name, err)
		}
	}

	cfg := &config.Config{Host: "127.0.0.1", Port: 8192, BrowserPath: "/usr/bin/chromium"}
	applyAttachFlags(cmd, []string{"https://shop.example/checkout"})(cfg)

	if cfg.Port != 9001 {
		t.Errorf("Port = %d, want 9001", cfg.Port)
	}
	if !cfg.Headless {
		t.Error("Headless should be set from the flag")
	}
	if cfg.ProxyURL != "http://proxy:8080" {
		t.Errorf("ProxyURL = %q", cfg.ProxyURL)
	}
	if !cfg.TUIEnabled {
		t.Error("TUIEnabled should be set from the flag")
	}
	if cfg.TargetURL != "https://shop.example/checkout" {
		t.Errorf("TargetURL = %q", cfg.TargetURL)
	}
	// Unset flags leave the environment values alone.
	if cfg.Host != "127.0.0.1" || cfg.BrowserPath != "/usr/bin/chromium" {
		t.Errorf("unset flags overrode config: host=%q browser=%q", cfg.Host, cfg.BrowserPath)
	}
}

func TestWriteReport(t *testing.T) {
	var buf bytes.Buffer
	report := sandboxReport{
		Scripts: []string{"https://js.braintreegateway.com/web/3.63.0/js/client.min.js"},
		View: overlay.View{
			Attached:   true,
			Components: []types.ComponentDebugRecord{{Key: "hosted-fields", Name: "hosted-fields", Version: "3.63.0", Log: []string{}}},
		},
	}
	if err := writeReport(&buf, report); err != nil {
		t.Fatalf("writeReport() error = %v", err)
	}

	var decoded map[string]any
	if err := yaml.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("report is not YAML: %v\n%s", err, buf.String())
	}
	ov, ok := decoded["overlay"].(map[string]any)
	if !ok {
		t.Fatalf("report has no overlay section:\n%s", buf.String())
	}
	if ov["attached"] != true {
		t.Errorf("overlay.attached = %v, want true", ov["attached"])
	}
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

const fakeClientScript = `
	window.braintree = window.braintree || {};
	window.braintree.client = {
		VERSION: "3.63.0",
		create: function (options) {
			var config = { authorization: options.authorization, gatewayConfiguration: { environment: "sandbox" } };
			return Promise.resolve({
				getConfiguration: function () { return config; },
				request: function () { return "requested"; }
			});
		}
	};`

func TestRunSandboxPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/client.min.js") {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/javascript")
		_, _ = w.Write([]byte(fakeClientScript))
	}))
	defer srv.Close()
	target, _ := url.Parse(srv.URL)

	cfg := &config.Config{
		StubURL:          config.DefaultStubURL,
		CallLogCapacity:  100,
		HandshakeTimeout: 50 * time.Millisecond,
		ScriptTimeout:    5 * time.Second,
	}
	client := &http.Client{Transport: rewriteTransport{target: target}, Timeout: 5 * time.Second}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pageCode := `
		window.braintree.client.create({ authorization: "sandbox_abc" }).then(function (c) {
			c.request({ method: "get" });
		});`

	view, err := runSandboxPage(ctx, cfg, client, profile.Static(profile.Get()),
		[]string{"https://js.braintreegateway.com/web/3.63.0/js/client.min.js"},
		"checkout.js", pageCode, 500*time.Millisecond)
	if err != nil {
		t.Fatalf("runSandboxPage() error = %v", err)
	}

	if !view.Attached {
		t.Error("overlay should be attached after the stub ran")
	}
	if view.ClientMetadata == nil {
		t.Fatal("client metadata should be disclosed")
	}
	md, ok := view.ClientMetadata.(map[string]any)
	if !ok {
		t.Fatalf("ClientMetadata type = %T", view.ClientMetadata)
	}
	if md["authorization"] == "sandbox_abc" {
		t.Error("report leaked the authorization")
	}

	found := false
	for _, c := range view.Calls {
		if c.Component == "client" && c.FunctionName == "request" {
			found = true
		}
	}
	if !found {
		t.Errorf("request call not observed, calls = %+v", view.Calls)
	}
}

func TestRunSandboxPage_ScriptLoadFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unavailable", http.StatusInternalServerError)
	}))
	defer srv.Close()
	target, _ := url.Parse(srv.URL)

	cfg := &config.Config{
		StubURL:          config.DefaultStubURL,
		CallLogCapacity:  100,
		HandshakeTimeout: 50 * time.Millisecond,
		ScriptTimeout:    5 * time.Second,
	}
	client := &http.Client{Transport: rewriteTransport{target: target}, Timeout: 5 * time.Second}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Not an SDK component URL, so it is fetched and fails.
	_, err := runSandboxPage(ctx, cfg, client, profile.Static(profile.Get()),
		[]string{"https://cdn.example/app.js"}, "", "", 0)
	if err == nil {
		t.Fatal("runSandboxPage() should fail when a script cannot be loaded")
	}
}
