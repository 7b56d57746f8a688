// Package intercept decides which SDK script requests are redirected to the
// debugger stub and wires that decision into page request hooks.
package intercept

import (
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/Rorqualx/sdk-debugger-go/internal/metrics"
	"github.com/Rorqualx/sdk-debugger-go/internal/profile"
	"github.com/Rorqualx/sdk-debugger-go/internal/sdkmeta"
)

// Decision reasons, also used as metric labels.
const (
	ReasonRedirect     = "redirect"
	ReasonNotSDK       = "not_sdk"
	ReasonUnrecognized = "unrecognized_line"
	ReasonSentinel     = "sentinel"
	ReasonOldVersion   = "incompatible_version"
	ReasonUnparseable  = "unparseable_version"
	ReasonNoStubURL    = "no_stub"
)

// Decision is the outcome for one request.
type Decision struct {
	Redirect    bool
	RedirectURL string
	Reason      string
}

// Policy decides whether a request URL is a proxiable SDK component.
// The profile is read on every decision so reloads apply immediately.
type Policy struct {
	source  profile.Source
	stubURL string
}

// NewPolicy creates a Policy redirecting matches to stubURL.
func NewPolicy(source profile.Source, stubURL string) *Policy {
	return &Policy{source: source, stubURL: stubURL}
}

// StubURL returns the address of the debugger stub.
func (p *Policy) StubURL() string {
	return p.stubURL
}

// Decide evaluates rawURL. A request is redirected only when it targets the
// SDK asset host under a supported line, is not too old to proxy and does not
// already carry the sentinel.
func (p *Policy) Decide(rawURL string) Decision {
	prof := p.source.Get()

	if p.stubURL == "" {
		return Decision{Reason: ReasonNoStubURL}
	}

	idx := strings.Index(rawURL, prof.AssetBasePath)
	if idx < 0 {
		return Decision{Reason: ReasonNotSDK}
	}
	rest := rawURL[idx+len(prof.AssetBasePath):]

	isComponent := prof.ComponentPrefix != "" && strings.HasPrefix(rest, prof.ComponentPrefix)
	isDropin := prof.DropinPrefix != "" && strings.HasPrefix(rest, prof.DropinPrefix)
	if !isComponent && !isDropin {
		return Decision{Reason: ReasonUnrecognized}
	}

	if prof.HasSentinel(rawURL) {
		return Decision{Reason: ReasonSentinel}
	}

	if isComponent {
		versionStr := rest
		if i := strings.IndexByte(versionStr, '/'); i >= 0 {
			versionStr = versionStr[:i]
		}
		v := sdkmeta.ParseSemver(versionStr)
		if v == nil {
			return Decision{Reason: ReasonUnparseable}
		}
		if v.Major == prof.CurrentMajor && v.Minor < prof.MinimumMinor {
			return Decision{Reason: ReasonOldVersion}
		}
	}

	return Decision{Redirect: true, RedirectURL: p.stubURL, Reason: ReasonRedirect}
}

// BeforeRequest is a page request hook: it returns the stub URL and true when
// rawURL should be redirected.
func (p *Policy) BeforeRequest(rawURL string) (string, bool) {
	d := p.Decide(rawURL)
	metrics.RecordInterception(d.Reason)

	if d.Redirect {
		log.Debug().
			Str("url", rawURL).
			Str("stub", d.RedirectURL).
			Msg("Redirecting SDK script to stub")
		return d.RedirectURL, true
	}

	if d.Reason != ReasonNotSDK {
		log.Debug().
			Str("url", rawURL).
			Str("reason", d.Reason).
			Msg("Passing SDK script through")
	}
	return "", false
}
