// Package browser launches the Chromium instance the debugger attaches to
// and opens the pages it observes.
package browser

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/rs/zerolog/log"

	"github.com/Rorqualx/sdk-debugger-go/internal/config"
	"github.com/Rorqualx/sdk-debugger-go/internal/security"
	"github.com/Rorqualx/sdk-debugger-go/internal/types"
	"github.com/Rorqualx/sdk-debugger-go/pkg/version"
)

// closeTimeout bounds how long Close waits for the browser process.
const closeTimeout = 10 * time.Second

// Browser is one launched browser process and its CDP connection.
type Browser struct {
	config   *config.Config
	launcher *launcher.Launcher
	rod      *rod.Browser
	proxyExt *ProxyExtension
	launched bool

	closeOnce sync.Once
	closeErr  error
}

// Launch starts a browser configured from cfg and connects to it.
// The caller must Close it.
func Launch(ctx context.Context, cfg *config.Config) (*Browser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b := &Browser{config: cfg}

	proxy, err := ParseProxy(cfg.ProxyURL)
	if err != nil {
		return nil, err
	}
	if proxy.HasCredentials() {
		// Chrome takes no proxy credentials on the command line.
		b.proxyExt, err = NewProxyExtension(proxy)
		if err != nil {
			return nil, err
		}
	}

	b.launcher = createLauncher(cfg, proxy, b.proxyExt)

	log.Info().
		Bool("headless", cfg.Headless).
		Str("browser_path", cfg.BrowserPath).
		Str("proxy", security.RedactProxyURL(cfg.ProxyURL)).
		Msg("Launching browser")

	controlURL, err := b.launcher.Context(ctx).Launch()
	if err != nil {
		b.launcher.Kill()
		b.cleanupExtension()
		return nil, fmt.Errorf("%w: %w", types.ErrUnsupportedBrowser, err)
	}
	b.launched = true

	b.rod = rod.New().ControlURL(controlURL)
	if err := b.rod.Connect(); err != nil {
		b.launcher.Kill()
		b.cleanupLaunch()
		return nil, fmt.Errorf("failed to connect to browser: %w", err)
	}

	if cfg.IgnoreCertErrors {
		log.Warn().Msg("Certificate validation disabled - MITM attacks possible")
		if err := b.rod.IgnoreCertErrors(true); err != nil {
			log.Warn().Err(err).Msg("Failed to set IgnoreCertErrors")
		}
	}

	log.Debug().Str("url", controlURL).Msg("Browser connected")
	return b, nil
}

// NewPage opens a blank page. With stealth enabled the page hides the usual
// automation markers, and in headless mode the HeadlessChrome user agent is
// replaced so the site serves the same SDK build it serves to users.
func (b *Browser) NewPage(ctx context.Context) (*rod.Page, error) {
	var (
		page *rod.Page
		err  error
	)
	if b.config.StealthEnabled {
		page, err = NewStealthPage(b.rod)
	} else {
		page, err = b.rod.Page(proto.TargetCreateTarget{})
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open page: %w", err)
	}
	page = page.Context(ctx)

	if b.config.Headless {
		if err := SetUserAgent(page, version.UserAgent); err != nil {
			log.Warn().Err(err).Msg("Failed to override headless user agent")
		}
	}
	if err := SetViewport(page, 1366, 900); err != nil {
		log.Debug().Err(err).Msg("Failed to set viewport")
	}

	return page, nil
}

// Rod returns the underlying rod browser.
func (b *Browser) Rod() *rod.Browser {
	return b.rod
}

// Close closes the browser and removes its temporary files. It is safe to
// call more than once.
func (b *Browser) Close() error {
	b.closeOnce.Do(func() {
		if b.rod != nil && !closeWithTimeout(b.rod, closeTimeout) {
			b.closeErr = fmt.Errorf("browser did not close within %s", closeTimeout)
			b.launcher.Kill()
		}
		b.cleanupLaunch()
	})
	return b.closeErr
}

// cleanupLaunch waits for the process to exit and removes its user data
// dir. Cleanup blocks forever on a launcher that never started a process.
func (b *Browser) cleanupLaunch() {
	if b.launched {
		b.launcher.Cleanup()
	}
	b.cleanupExtension()
}

func (b *Browser) cleanupExtension() {
	if b.proxyExt != nil {
		b.proxyExt.Cleanup()
	}
}

// closeWithTimeout closes a browser and reports whether it finished in time.
// A close that times out keeps running in the background.
func closeWithTimeout(browser *rod.Browser, timeout time.Duration) bool {
	closeDone := make(chan struct{})
	closeStarted := time.Now()

	go func() {
		defer close(closeDone)
		if err := browser.Close(); err != nil {
			log.Warn().Err(err).Msg("Error closing browser")
		}
	}()

	select {
	case <-closeDone:
		log.Debug().
			Dur("duration", time.Since(closeStarted)).
			Msg("Browser closed successfully")
		return true
	case <-time.After(timeout):
		log.Warn().
			Dur("elapsed", time.Since(closeStarted)).
			Msg("Browser close timed out")
		return false
	}
}

// createLauncher builds the launcher for cfg. The browser is headed unless
// HEADLESS is set, so the page can be used by hand while it is observed.
func createLauncher(cfg *config.Config, proxy Proxy, ext *ProxyExtension) *launcher.Launcher {
	l := launcher.New()

	if cfg.BrowserPath != "" {
		l = l.Bin(cfg.BrowserPath)
	}

	if cfg.Headless {
		l = l.Set("headless", "new")
	} else {
		// Rod enables headless by default.
		l = l.Headless(false)
	}

	// Container flags
	l = l.Set("no-sandbox").
		Set("disable-setuid-sandbox").
		Set("disable-dev-shm-usage")

	if proxy.Server != "" {
		l = l.Set("proxy-server", proxy.Server)
		log.Debug().Str("proxy", proxy.Server).Msg("Browser proxy configured")
	}
	if ext != nil {
		l = l.Set("load-extension", ext.Dir()).
			Set("disable-extensions-except", ext.Dir())
	} else {
		l = l.Set("disable-extensions")
	}

	// Always prevent WebRTC leaks, not just behind a proxy.
	l = l.Set("force-webrtc-ip-handling-policy", "disable_non_proxied_udp")

	if cfg.StealthEnabled {
		l = l.Set("disable-blink-features", "AutomationControlled").
			Delete("enable-automation")
	}

	if cfg.IgnoreCertErrors {
		l = l.Set("ignore-certificate-errors").
			Set("ignore-ssl-errors")
	}

	l = l.Set("accept-lang", "en-US,en;q=0.9").
		Set("no-first-run").
		Set("no-default-browser-check").
		Set("disable-search-engine-choice-screen").
		Set("window-size", "1366,900").
		Set("disable-background-networking").
		Set("disable-default-apps").
		Set("disable-sync").
		Set("mute-audio")

	// Software WebGL; hosted fields iframes render without a GPU.
	l = l.Set("use-angle", "swiftshader").
		Set("enable-unsafe-swiftshader")

	if isARM() {
		// Do not use --disable-gpu on ARM, it breaks SwiftShader.
		l = l.Set("disable-gpu-compositing")
	}

	return l
}

// isARM returns true if running on ARM architecture.
func isARM() bool {
	arch := runtime.GOARCH
	return arch == "arm" || arch == "arm64"
}
