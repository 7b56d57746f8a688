package intercept

import (
	"testing"

	"github.com/Rorqualx/sdk-debugger-go/internal/profile"
)

const stub = "https://debugger.local/stub.js"

func newTestPolicy() *Policy {
	return NewPolicy(profile.Static(profile.Get()), stub)
}

func TestDecide(t *testing.T) {
	tests := []struct {
		name     string
		url      string
		redirect bool
		reason   string
	}{
		{"current component", "https://js.braintreegateway.com/web/3.63.0/js/hosted-fields.min.js", true, ReasonRedirect},
		{"oldest proxiable minor", "https://js.braintreegateway.com/web/3.14.0/js/client.min.js", true, ReasonRedirect},
		{"minor below gate", "https://js.braintreegateway.com/web/3.13.0/js/client.min.js", false, ReasonOldVersion},
		{"first v3 release", "https://js.braintreegateway.com/web/3.0.0/js/client.min.js", false, ReasonOldVersion},
		{"drop-in", "https://js.braintreegateway.com/web/dropin/1.24.0/js/dropin.min.js", true, ReasonRedirect},
		{"sentinel", "https://js.braintreegateway.com/web/3.63.0/js/client.min.js?do-not-block=true", false, ReasonSentinel},
		{"sentinel drop-in", "https://js.braintreegateway.com/web/dropin/1.24.0/js/dropin.min.js?do-not-block=true", false, ReasonSentinel},
		{"other host", "https://cdn.example.com/web/3.63.0/js/client.min.js", false, ReasonNotSDK},
		{"v2 line", "https://js.braintreegateway.com/web/2.32.0/js/braintree.js", false, ReasonUnrecognized},
		{"drop-in v2", "https://js.braintreegateway.com/web/dropin/2.0.0/js/dropin.min.js", false, ReasonUnrecognized},
		{"http scheme", "http://js.braintreegateway.com/web/3.63.0/js/client.js", true, ReasonRedirect},
	}

	p := newTestPolicy()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := p.Decide(tt.url)
			if d.Redirect != tt.redirect {
				t.Errorf("Decide(%q).Redirect = %v, want %v", tt.url, d.Redirect, tt.redirect)
			}
			if d.Reason != tt.reason {
				t.Errorf("Decide(%q).Reason = %q, want %q", tt.url, d.Reason, tt.reason)
			}
			if d.Redirect && d.RedirectURL != stub {
				t.Errorf("RedirectURL = %q, want %q", d.RedirectURL, stub)
			}
		})
	}
}

func TestDecide_NoStub(t *testing.T) {
	p := NewPolicy(profile.Static(profile.Get()), "")
	d := p.Decide("https://js.braintreegateway.com/web/3.63.0/js/client.min.js")
	if d.Redirect {
		t.Error("Policy without stub URL must never redirect")
	}
}

func TestDecide_FollowsProfile(t *testing.T) {
	custom := *profile.Get()
	custom.MinimumMinor = 50

	p := NewPolicy(profile.Static(&custom), stub)
	if p.Decide("https://js.braintreegateway.com/web/3.49.0/js/client.min.js").Redirect {
		t.Error("3.49.0 should pass through with minimum minor 50")
	}
	if !p.Decide("https://js.braintreegateway.com/web/3.50.0/js/client.min.js").Redirect {
		t.Error("3.50.0 should be redirected with minimum minor 50")
	}
}

func TestBeforeRequest(t *testing.T) {
	p := newTestPolicy()

	target, ok := p.BeforeRequest("https://js.braintreegateway.com/web/3.63.0/js/client.min.js")
	if !ok || target != stub {
		t.Errorf("BeforeRequest() = %q, %v; want %q, true", target, ok, stub)
	}

	target, ok = p.BeforeRequest("https://example.com/app.js")
	if ok || target != "" {
		t.Errorf("BeforeRequest() = %q, %v; want pass-through", target, ok)
	}
}
