package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Rorqualx/sdk-debugger-go/internal/browser"
	"github.com/Rorqualx/sdk-debugger-go/internal/bus"
	"github.com/Rorqualx/sdk-debugger-go/internal/config"
	"github.com/Rorqualx/sdk-debugger-go/internal/debugger"
	"github.com/Rorqualx/sdk-debugger-go/internal/fakesdk"
	"github.com/Rorqualx/sdk-debugger-go/internal/intercept"
	"github.com/Rorqualx/sdk-debugger-go/internal/overlay"
	"github.com/Rorqualx/sdk-debugger-go/internal/profile"
	"github.com/Rorqualx/sdk-debugger-go/internal/realm/cdp"
	"github.com/Rorqualx/sdk-debugger-go/internal/tui"
)

var attachFlags struct {
	host        string
	port        int
	headless    bool
	browserPath string
	stealth     bool
	proxy       string
	profile     string
	hotReload   bool
	tui         bool
}

var attachCmd = &cobra.Command{
	Use:   "attach [url]",
	Short: "Open a page in a browser and debug its SDK integration",
	Long: `Launches a browser, redirects the page's SDK component scripts to stubs and
serves what they observe over the HTTP API until interrupted.

The url defaults to TARGET_URL.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runAttach,
}

func init() {
	f := attachCmd.Flags()
	f.StringVar(&attachFlags.host, "host", "", "API listen host (env HOST)")
	f.IntVar(&attachFlags.port, "port", 0, "API listen port (env PORT)")
	f.BoolVar(&attachFlags.headless, "headless", false, "run the browser headless (env HEADLESS)")
	f.StringVar(&attachFlags.browserPath, "browser", "", "browser binary (env BROWSER_PATH)")
	f.BoolVar(&attachFlags.stealth, "stealth", false, "apply stealth patches to the page (env STEALTH_ENABLED)")
	f.StringVar(&attachFlags.proxy, "proxy", "", "proxy URL for the browser (env PROXY_URL)")
	f.StringVar(&attachFlags.profile, "profile", "", "SDK profile override file (env PROFILE_PATH)")
	f.BoolVar(&attachFlags.hotReload, "hot-reload", false, "reload the profile file on change (env PROFILE_HOT_RELOAD)")
	f.BoolVar(&attachFlags.tui, "tui", false, "show the terminal overlay (env TUI_ENABLED)")
}

func applyAttachFlags(cmd *cobra.Command, args []string) func(*config.Config) {
	return func(cfg *config.Config) {
		f := cmd.Flags()
		if f.Changed("host") {
			cfg.Host = attachFlags.host
		}
		if f.Changed("port") {
			cfg.Port = attachFlags.port
		}
		if f.Changed("headless") {
			cfg.Headless = attachFlags.headless
		}
		if f.Changed("browser") {
			cfg.BrowserPath = attachFlags.browserPath
		}
		if f.Changed("stealth") {
			cfg.StealthEnabled = attachFlags.stealth
		}
		if f.Changed("proxy") {
			cfg.ProxyURL = attachFlags.proxy
		}
		if f.Changed("profile") {
			cfg.ProfilePath = attachFlags.profile
		}
		if f.Changed("hot-reload") {
			cfg.ProfileHotReload = attachFlags.hotReload
		}
		if f.Changed("tui") {
			cfg.TUIEnabled = attachFlags.tui
		}
		if len(args) > 0 {
			cfg.TargetURL = args[0]
		}
	}
}

func runAttach(cmd *cobra.Command, args []string) error {
	cfg, closeLog, err := loadConfig(cmd, os.Stdout, applyAttachFlags(cmd, args))
	if err != nil {
		return err
	}
	defer closeLog()

	if cfg.TargetURL == "" {
		return errors.New("no page to attach to: pass a url or set TARGET_URL")
	}
	if !cfg.TUIEnabled {
		printBanner(os.Stdout)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	profiles, err := profile.NewManager(cfg.ProfilePath, cfg.ProfileHotReload)
	if err != nil {
		return fmt.Errorf("failed to load SDK profile: %w", err)
	}
	defer func() {
		if err := profiles.Close(); err != nil {
			log.Error().Err(err).Msg("Profile manager close error")
		}
	}()

	log.Info().Bool("headless", cfg.Headless).Msg("Launching browser...")
	b, err := browser.Launch(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := b.Close(); err != nil {
			log.Error().Err(err).Msg("Browser close error")
		}
	}()

	page, err := b.NewPage(ctx)
	if err != nil {
		return err
	}

	rp, err := cdp.New(page, cdp.Options{ScriptTimeout: cfg.ScriptTimeout})
	if err != nil {
		return err
	}
	defer func() {
		if err := rp.Close(); err != nil {
			log.Error().Err(err).Msg("Page realm close error")
		}
	}()

	events := bus.New()
	stub := fakesdk.NewStub(fakesdk.Env{
		Realm:   rp,
		State:   debugger.New(),
		Bus:     events,
		Profile: profiles,
	})
	defer stub.Close()

	rp.OnBeforeRequest(intercept.NewPolicy(profiles, cfg.StubURL).BeforeRequest)
	rp.RegisterBundle(cfg.StubURL, stub.Run)
	if err := rp.Intercept(); err != nil {
		return err
	}

	ov := overlay.New(events, profiles, overlay.Options{
		CallCapacity:     cfg.CallLogCapacity,
		HandshakeTimeout: cfg.HandshakeTimeout,
	})
	defer ov.Close()
	if err := ov.Start(ctx); err != nil {
		return fmt.Errorf("overlay handshake failed: %w", err)
	}

	// Debugger state lives for one document.
	rp.OnNavigate(func(rawURL string) {
		stub.Reset()
		ov.Reset(rawURL)
	})

	g, ctx := errgroup.WithContext(ctx)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g.Go(func() error {
		return serve(ctx, cfg, ov)
	})

	g.Go(func() error {
		log.Info().Str("url", cfg.TargetURL).Msg("Opening page")
		if err := rp.Navigate(ctx, cfg.TargetURL); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		log.Info().
			Str("url", cfg.TargetURL).
			Bool("attached", ov.Attached()).
			Msg("Page loaded, SDK debugger is ready")
		return nil
	})

	if cfg.TUIEnabled {
		g.Go(func() error {
			defer cancel()
			return tui.Run(ctx, ov)
		})
	}

	err = g.Wait()
	log.Info().Msg("Shutting down...")
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info().Msg("Shutdown complete")
	return nil
}
