// Package main provides the entry point for the SDK debugger.
package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/Rorqualx/sdk-debugger-go/internal/config"
	"github.com/Rorqualx/sdk-debugger-go/pkg/version"
)

var (
	logLevel  string
	logFormat string
)

var rootCmd = &cobra.Command{
	Use:   "sdkdebugger",
	Short: "Observe a Braintree JS SDK integration from the outside",
	Long: `sdkdebugger replaces the SDK's component scripts with stubs that defer to the
real scripts, then records which components a page creates, the arguments and
client configuration they were created with, and every method called on them.

Use "attach" to debug a live page in a browser, or "sandbox" to run a page
script against the SDK in an embedded JavaScript runtime.`,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "sdkdebugger %s (%s)\n", version.Full(), version.GoVersion())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error (env LOG_LEVEL)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format: console or json (env LOG_FORMAT)")

	rootCmd.AddCommand(attachCmd, sandboxCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the environment, applies command line overrides and
// validates the result. Logging is set up before validation so its warnings
// are visible. The returned function releases the log file, if any.
func loadConfig(cmd *cobra.Command, logOut io.Writer, override func(*config.Config)) (*config.Config, func(), error) {
	cfg := config.Load()
	if cmd.Flags().Changed("log-level") {
		cfg.LogLevel = logLevel
	}
	if cmd.Flags().Changed("log-format") {
		cfg.LogFormat = logFormat
	}
	if override != nil {
		override(cfg)
	}

	out := logOut
	closeLog := func() {}
	// The terminal overlay owns the screen, so logs go to a file.
	if cfg.TUIEnabled {
		f, err := os.OpenFile(filepath.Join(os.TempDir(), "sdkdebugger.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file: %w", err)
		}
		out = f
		closeLog = func() { _ = f.Close() }
	}

	setupLogging(cfg.LogLevel, cfg.LogFormat, out)
	cfg.Validate()
	return cfg, closeLog, nil
}

// setupLogging configures zerolog based on the log level and format.
func setupLogging(level, format string, out io.Writer) {
	if format == "json" {
		log.Logger = zerolog.New(out).With().Timestamp().Logger()
	} else {
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: time.RFC3339,
		})
	}

	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

// printBanner prints the startup banner.
func printBanner(out io.Writer) {
	banner := `
 ___ ___  _  __   ___      _
/ __|   \| |/ /  |   \ ___| |__ _  _ __ _ __ _ ___ _ _
\__ \ |) | ' <   | |) / -_) '_ \ || / _' / _' / -_) '_|
|___/___/|_|\_\  |___/\___|_.__/\_,_\__, \__, \___|_|
                                    |___/|___/
`
	fmt.Fprintln(out, banner)
	log.Info().
		Str("version", version.Full()).
		Str("go_version", version.GoVersion()).
		Msg("Starting SDK debugger")
}
