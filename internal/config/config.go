// Package config loads the debugger's settings from the environment.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Rorqualx/sdk-debugger-go/internal/types"
)

const (
	maxCallLogCapacity  = types.MaxCallLimit
	maxHandshakeTimeout = time.Minute
	maxScriptTimeout    = 5 * time.Minute
	minAPIKeyLength     = 16
)

// DefaultStubURL is where redirected SDK scripts are served from. The scheme
// never reaches the network; both realms answer it locally.
const DefaultStubURL = "sdkdebugger://stub/component.js"

// Config is the debugger's settings. Command line flags override the values
// Load reads from the environment.
type Config struct {
	// API server
	Host string
	Port int

	// Browser
	Headless         bool
	BrowserPath      string
	StealthEnabled   bool
	IgnoreCertErrors bool
	ProxyURL         string

	// Debugging target
	TargetURL string
	StubURL   string

	// SDK profile
	ProfilePath      string
	ProfileHotReload bool

	// Overlay
	CallLogCapacity  int
	HandshakeTimeout time.Duration
	ScriptTimeout    time.Duration
	TUIEnabled       bool

	// Logging
	LogLevel  string
	LogFormat string

	// Metrics
	PrometheusEnabled bool
	PrometheusPort    int

	// Security
	CORSAllowedOrigins []string
	APIKeyEnabled      bool
	APIKey             string
}

// Load reads the environment. Unset or malformed variables fall back to
// their defaults; Validate then clamps what parsed but is out of range.
func Load() *Config {
	return &Config{
		// The API serves page data, so it stays on loopback unless asked.
		Host: getEnvString("HOST", "127.0.0.1"),
		Port: getEnvInt("PORT", 8192),

		// Headed so the page stays usable while it is observed.
		Headless:         getEnvBool("HEADLESS", false),
		BrowserPath:      getEnvString("BROWSER_PATH", ""),
		StealthEnabled:   getEnvBool("STEALTH_ENABLED", false),
		IgnoreCertErrors: getEnvBool("IGNORE_CERT_ERRORS", false),
		ProxyURL:         getEnvString("PROXY_URL", ""),

		TargetURL: getEnvString("TARGET_URL", ""),
		StubURL:   getEnvString("STUB_URL", DefaultStubURL),

		ProfilePath:      getEnvString("PROFILE_PATH", ""),
		ProfileHotReload: getEnvBool("PROFILE_HOT_RELOAD", false),

		CallLogCapacity:  getEnvInt("CALL_LOG_CAPACITY", 1000),
		HandshakeTimeout: getEnvDuration("HANDSHAKE_TIMEOUT", 2*time.Second),
		ScriptTimeout:    getEnvDuration("SCRIPT_TIMEOUT", 30*time.Second),
		TUIEnabled:       getEnvBool("TUI_ENABLED", false),

		LogLevel:  getEnvString("LOG_LEVEL", "info"),
		LogFormat: getEnvString("LOG_FORMAT", "console"),

		PrometheusEnabled: getEnvBool("PROMETHEUS_ENABLED", false),
		PrometheusPort:    getEnvInt("PROMETHEUS_PORT", 9192),

		CORSAllowedOrigins: getEnvStringSlice("CORS_ALLOWED_ORIGINS", nil),
		APIKeyEnabled:      getEnvBool("API_KEY_ENABLED", false),
		APIKey:             getEnvString("API_KEY", ""),
	}
}

// Validate corrects out-of-range values in place and logs each correction.
// Settings that are risky but legal only produce a warning.
func (c *Config) Validate() {
	// 0 asks the kernel for a port.
	if c.Port < 0 || c.Port > 65535 {
		log.Warn().Int("port", c.Port).Msg("Invalid port, using default 8192")
		c.Port = 8192
	}
	if c.PrometheusPort < 0 || c.PrometheusPort > 65535 {
		log.Warn().Int("port", c.PrometheusPort).Msg("Invalid metrics port, using default 9192")
		c.PrometheusPort = 9192
	}
	if c.PrometheusEnabled && c.PrometheusPort != 0 && c.PrometheusPort == c.Port {
		log.Error().
			Int("port", c.PrometheusPort).
			Msg("PROMETHEUS_PORT conflicts with PORT, serving metrics on the API port instead")
		c.PrometheusPort = 0
	}

	c.BrowserPath = validatePath("BROWSER_PATH", c.BrowserPath)
	c.ProfilePath = validatePath("PROFILE_PATH", c.ProfilePath)

	if c.ProfileHotReload && c.ProfilePath == "" {
		log.Warn().Msg("PROFILE_HOT_RELOAD enabled but PROFILE_PATH not set - hot-reload disabled")
		c.ProfileHotReload = false
	}
	if c.ProfileHotReload {
		if _, err := os.Stat(c.ProfilePath); os.IsNotExist(err) {
			log.Warn().
				Str("path", c.ProfilePath).
				Msg("PROFILE_PATH does not exist - hot-reload will watch for file creation")
		}
	}

	if c.StubURL == "" {
		c.StubURL = DefaultStubURL
	}
	if c.TargetURL != "" && !strings.Contains(c.TargetURL, "://") {
		log.Warn().Str("url", c.TargetURL).Msg("TARGET_URL has no scheme, assuming https")
		c.TargetURL = "https://" + c.TargetURL
	}

	if c.CallLogCapacity < 1 {
		log.Warn().Int("capacity", c.CallLogCapacity).Msg("Invalid call log capacity, using 1000")
		c.CallLogCapacity = 1000
	} else if c.CallLogCapacity > maxCallLogCapacity {
		log.Warn().
			Int("capacity", c.CallLogCapacity).
			Int("max", maxCallLogCapacity).
			Msg("Call log capacity too large, capping to maximum")
		c.CallLogCapacity = maxCallLogCapacity
	}

	if c.HandshakeTimeout > maxHandshakeTimeout {
		log.Warn().
			Dur("timeout", c.HandshakeTimeout).
			Dur("max", maxHandshakeTimeout).
			Msg("Handshake timeout too long, capping to maximum")
		c.HandshakeTimeout = maxHandshakeTimeout
	}
	if c.ScriptTimeout < time.Second {
		log.Warn().Dur("timeout", c.ScriptTimeout).Msg("Script timeout too short, using 30s")
		c.ScriptTimeout = 30 * time.Second
	} else if c.ScriptTimeout > maxScriptTimeout {
		log.Warn().
			Dur("timeout", c.ScriptTimeout).
			Dur("max", maxScriptTimeout).
			Msg("Script timeout too long, capping to maximum")
		c.ScriptTimeout = maxScriptTimeout
	}

	if lvl, err := zerolog.ParseLevel(strings.ToLower(c.LogLevel)); err != nil || lvl == zerolog.NoLevel {
		log.Warn().Str("level", c.LogLevel).Msg("Invalid log level, using 'info'")
		c.LogLevel = "info"
	}
	c.LogFormat = strings.ToLower(c.LogFormat)
	if c.LogFormat != "console" && c.LogFormat != "json" {
		log.Warn().Str("format", c.LogFormat).Msg("Invalid log format, using 'console'")
		c.LogFormat = "console"
	}

	if c.Host != "127.0.0.1" && c.Host != "localhost" && !c.APIKeyEnabled {
		log.Warn().
			Str("host", c.Host).
			Msg("API bound to a non-localhost address without an API key - page data will be exposed")
	}

	if c.IgnoreCertErrors {
		log.Warn().Msg("IGNORE_CERT_ERRORS enabled, the browser will accept any certificate")
	}

	if c.ProxyURL != "" {
		if err := checkProxyURL(c.ProxyURL); err != nil {
			log.Error().Err(err).Msg("PROXY_URL is unusable, the browser will fail to connect")
		}
	}

	if c.APIKeyEnabled && len(c.APIKey) < minAPIKeyLength {
		log.Error().
			Int("length", len(c.APIKey)).
			Int("min_length", minAPIKeyLength).
			Msg("API_KEY is missing or too short, clients cannot authenticate safely")
	}
}

var proxySchemes = map[string]bool{"http": true, "https": true, "socks4": true, "socks5": true}

func checkProxyURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return errors.New("not a URL")
	}
	if !proxySchemes[strings.ToLower(u.Scheme)] {
		return fmt.Errorf("scheme %q is not one of http, https, socks4, socks5", u.Scheme)
	}
	if u.Hostname() == "" {
		return errors.New("no host")
	}
	return nil
}

// HasDefaultProxy reports whether the browser goes through a proxy.
func (c *Config) HasDefaultProxy() bool {
	return c.ProxyURL != ""
}

// validatePath drops paths containing ".." and warns on relative ones,
// which resolve against wherever the debugger was started.
func validatePath(key, path string) string {
	if path == "" {
		return ""
	}
	if strings.Contains(path, "..") {
		log.Error().Str("key", key).Str("path", path).Msg("Path contains '..', ignoring it")
		return ""
	}
	if !filepath.IsAbs(path) {
		log.Warn().Str("key", key).Str("path", path).Msg("Path is relative to the working directory")
	}
	return path
}
