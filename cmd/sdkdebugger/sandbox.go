package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/Rorqualx/sdk-debugger-go/internal/bus"
	"github.com/Rorqualx/sdk-debugger-go/internal/config"
	"github.com/Rorqualx/sdk-debugger-go/internal/debugger"
	"github.com/Rorqualx/sdk-debugger-go/internal/fakesdk"
	"github.com/Rorqualx/sdk-debugger-go/internal/intercept"
	"github.com/Rorqualx/sdk-debugger-go/internal/overlay"
	"github.com/Rorqualx/sdk-debugger-go/internal/profile"
	"github.com/Rorqualx/sdk-debugger-go/internal/realm/sandbox"
	"github.com/Rorqualx/sdk-debugger-go/internal/security"
)

var sandboxFlags struct {
	sdk     []string
	page    string
	wait    time.Duration
	out     string
	profile string
}

var sandboxCmd = &cobra.Command{
	Use:   "sandbox --sdk <url>... [--page <file.js>]",
	Short: "Run a page script against the SDK in an embedded JavaScript runtime",
	Long: `Loads the given SDK component scripts the way a page would, runs the page
script, waits for pending work and prints what the stubs observed as YAML.

The page script sees a window global and a loadScript(url) function
returning a promise.`,
	Args: cobra.NoArgs,
	RunE: runSandbox,
}

func init() {
	f := sandboxCmd.Flags()
	f.StringSliceVar(&sandboxFlags.sdk, "sdk", nil, "SDK component script URL (repeatable)")
	f.StringVar(&sandboxFlags.page, "page", "", "page script to run after the SDK scripts")
	f.DurationVar(&sandboxFlags.wait, "wait", 2*time.Second, "time to let the page settle before reporting")
	f.StringVarP(&sandboxFlags.out, "out", "o", "", "write the report to this file instead of stdout")
	f.StringVar(&sandboxFlags.profile, "profile", "", "SDK profile override file (env PROFILE_PATH)")
	_ = sandboxCmd.MarkFlagRequired("sdk")
}

// sandboxReport is what the sandbox command prints.
type sandboxReport struct {
	Scripts []string     `yaml:"scripts"`
	Page    string       `yaml:"page,omitempty"`
	View    overlay.View `yaml:"overlay"`
}

func runSandbox(cmd *cobra.Command, _ []string) error {
	cfg, closeLog, err := loadConfig(cmd, os.Stderr, func(cfg *config.Config) {
		// The report goes to stdout; logs stay out of its way.
		cfg.TUIEnabled = false
		if cmd.Flags().Changed("profile") {
			cfg.ProfilePath = sandboxFlags.profile
		}
	})
	if err != nil {
		return err
	}
	defer closeLog()

	var pageCode string
	if sandboxFlags.page != "" {
		code, err := os.ReadFile(sandboxFlags.page)
		if err != nil {
			return fmt.Errorf("failed to read page script: %w", err)
		}
		pageCode = string(code)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	profiles, err := profile.NewManager(cfg.ProfilePath, false)
	if err != nil {
		return fmt.Errorf("failed to load SDK profile: %w", err)
	}
	defer func() { _ = profiles.Close() }()

	view, err := runSandboxPage(ctx, cfg, nil, profiles, sandboxFlags.sdk, sandboxFlags.page, pageCode, sandboxFlags.wait)
	if err != nil {
		return err
	}

	var out io.Writer = cmd.OutOrStdout()
	if sandboxFlags.out != "" {
		f, err := os.Create(filepath.Clean(sandboxFlags.out))
		if err != nil {
			return fmt.Errorf("failed to create report: %w", err)
		}
		defer f.Close()
		out = f
	}

	return writeReport(out, sandboxReport{
		Scripts: sandboxFlags.sdk,
		Page:    sandboxFlags.page,
		View:    view,
	})
}

// runSandboxPage loads the SDK scripts through the stub, runs the page code
// and returns what the overlay saw after wait. A nil client uses the
// sandbox default.
func runSandboxPage(ctx context.Context, cfg *config.Config, client *http.Client, profiles profile.Source, scripts []string, pageName, pageCode string, wait time.Duration) (overlay.View, error) {
	page := sandbox.New(sandbox.Options{Client: client, ScriptTimeout: cfg.ScriptTimeout})
	defer func() { _ = page.Close() }()

	events := bus.New()
	stub := fakesdk.NewStub(fakesdk.Env{
		Realm:   page,
		State:   debugger.New(),
		Bus:     events,
		Profile: profiles,
	})
	defer stub.Close()

	page.OnBeforeRequest(intercept.NewPolicy(profiles, cfg.StubURL).BeforeRequest)
	page.RegisterBundle(cfg.StubURL, stub.Run)

	ov := overlay.New(events, profiles, overlay.Options{
		CallCapacity:     cfg.CallLogCapacity,
		HandshakeTimeout: cfg.HandshakeTimeout,
	})
	defer ov.Close()
	if err := ov.Start(ctx); err != nil {
		return overlay.View{}, fmt.Errorf("overlay handshake failed: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, src := range scripts {
		src := src
		g.Go(func() error {
			if err := page.AddScript(gctx, src); err != nil {
				return err
			}
			log.Debug().Str("url", security.RedactURL(src)).Msg("SDK script loaded")
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return overlay.View{}, err
	}

	if pageCode != "" {
		if pageName == "" {
			pageName = "page.js"
		}
		if err := page.Eval(ctx, pageName, pageCode); err != nil {
			return overlay.View{}, fmt.Errorf("page script failed: %w", err)
		}
	}

	select {
	case <-time.After(wait):
	case <-ctx.Done():
	}

	view := ov.View()
	view.ClientMetadata = security.RedactConfig(view.ClientMetadata)
	for i := range view.Components {
		view.Components[i].CreateArgs = redactArgs(view.Components[i].CreateArgs)
	}
	return view, nil
}

func redactArgs(args []any) []any {
	if args == nil {
		return nil
	}
	out, _ := security.RedactConfig(args).([]any)
	return out
}

func writeReport(w io.Writer, report sandboxReport) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(report); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return enc.Close()
}
