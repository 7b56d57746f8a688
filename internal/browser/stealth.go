package browser

import (
	"fmt"
	"strings"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/rs/zerolog/log"
)

// NewStealthPage opens a page with go-rod/stealth's evasions and the
// debugger's own patches installed for every document.
func NewStealthPage(b *rod.Browser) (*rod.Page, error) {
	page, err := stealth.Page(b)
	if err != nil {
		return nil, fmt.Errorf("failed to create stealth page: %w", err)
	}
	if err := ApplyStealthToPage(page); err != nil {
		_ = page.Close()
		return nil, err
	}
	return page, nil
}

// ApplyStealthToPage registers patches that run before any page script.
// It must be called before navigation.
//
// Syntax and reference errors mean the patch script itself is broken and are
// returned; anything else is logged and ignored.
func ApplyStealthToPage(page *rod.Page) error {
	log.Debug().Msg("Applying stealth patches to page")

	if _, err := page.EvalOnNewDocument(stealthScript); err != nil {
		errStr := err.Error()
		if strings.Contains(errStr, "SyntaxError") {
			return fmt.Errorf("stealth script syntax error: %w", err)
		}
		if strings.Contains(errStr, "ReferenceError") {
			return fmt.Errorf("stealth script reference error: %w", err)
		}
		log.Warn().Err(err).Msg("Stealth script had non-fatal errors, continuing")
	}
	return nil
}

// stealthScript covers what go-rod/stealth leaves to the embedder. Checkout
// pages sometimes refuse to render payment fields for automated browsers.
const stealthScript = `(() => {
    if (window.__sdkdebuggerStealth) return;
    window.__sdkdebuggerStealth = true;
    try {
        Object.defineProperty(navigator, 'webdriver', { get: () => undefined, configurable: true });

        if (!window.chrome) {
            Object.defineProperty(window, 'chrome', { value: {}, writable: true, configurable: true });
        }
        if (!window.chrome.runtime) {
            window.chrome.runtime = { connect: () => {}, sendMessage: () => {} };
        }

        const query = navigator.permissions && navigator.permissions.query;
        if (query) {
            navigator.permissions.query = (p) => p && p.name === 'notifications'
                ? Promise.resolve({ state: Notification.permission })
                : query.call(navigator.permissions, p);
        }
    } catch (e) {
        console.debug('[Stealth] patch failed', e);
    }
})();`

// SetUserAgent sets a custom user agent on the page.
func SetUserAgent(page *rod.Page, userAgent string) error {
	return proto.NetworkSetUserAgentOverride{
		UserAgent:      userAgent,
		AcceptLanguage: "en-US,en;q=0.9",
	}.Call(page)
}

// SetViewport sets the page viewport size.
func SetViewport(page *rod.Page, width, height int) error {
	return page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             width,
		Height:            height,
		DeviceScaleFactor: 1,
		Mobile:            false,
	})
}
