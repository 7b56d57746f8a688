package browser

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// ProxyExtension is an unpacked Chrome extension that configures an
// authenticated proxy. Chrome does not accept proxy credentials on the
// command line, and answering auth challenges over CDP would compete with
// the script interception for the Fetch domain.
type ProxyExtension struct {
	dir string
}

type extManifest struct {
	ManifestVersion int            `json:"manifest_version"`
	Name            string         `json:"name"`
	Version         string         `json:"version"`
	Permissions     []string       `json:"permissions"`
	HostPermissions []string       `json:"host_permissions"`
	Background      map[string]any `json:"background"`
}

type proxyServer struct {
	Scheme string `json:"scheme"`
	Host   string `json:"host"`
	Port   int    `json:"port"`
}

type proxyRules struct {
	SingleProxy proxyServer `json:"singleProxy"`
	BypassList  []string    `json:"bypassList"`
}

type proxyCredentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// loopbackBypass keeps the overlay's connection to the local API off the proxy.
var loopbackBypass = []string{"localhost", "127.0.0.1", "[::1]"}

const backgroundTemplate = `chrome.proxy.settings.set({value: {mode: "fixed_servers", rules: %s}, scope: "regular"}, () => {
    if (chrome.runtime.lastError) console.error("sdkdebugger proxy:", chrome.runtime.lastError);
});
chrome.webRequest.onAuthRequired.addListener(
    (details, done) => done({authCredentials: %s}),
    {urls: ["<all_urls>"]},
    ["asyncBlocking"]
);
`

// NewProxyExtension writes the extension for proxy to a private temp dir.
// The directory is 0700 and its files 0600 since they hold credentials.
func NewProxyExtension(proxy Proxy) (*ProxyExtension, error) {
	files, err := proxyExtensionFiles(proxy)
	if err != nil {
		return nil, err
	}

	dir, err := os.MkdirTemp("", "sdkdebugger-proxy-ext-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create proxy extension dir: %w", err)
	}
	ext := &ProxyExtension{dir: dir}

	if err := os.Chmod(dir, 0700); err != nil {
		ext.Cleanup()
		return nil, fmt.Errorf("failed to restrict proxy extension dir: %w", err)
	}
	for name, data := range files {
		if err := os.WriteFile(filepath.Join(dir, name), data, 0600); err != nil {
			ext.Cleanup()
			return nil, fmt.Errorf("failed to write %s: %w", name, err)
		}
	}
	return ext, nil
}

// proxyExtensionFiles renders the extension. Proxy values reach the script
// only as JSON literals so credentials cannot break out of it.
func proxyExtensionFiles(proxy Proxy) (map[string][]byte, error) {
	port, err := strconv.Atoi(proxy.Port)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy port %q: %w", proxy.Port, err)
	}

	manifest, err := json.MarshalIndent(extManifest{
		ManifestVersion: 3,
		Name:            "SDK Debugger Proxy Auth",
		Version:         "1.0",
		Permissions:     []string{"proxy", "webRequest", "webRequestAuthProvider"},
		HostPermissions: []string{"<all_urls>"},
		Background:      map[string]any{"service_worker": "background.js"},
	}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode manifest: %w", err)
	}

	rules, err := json.Marshal(proxyRules{
		SingleProxy: proxyServer{Scheme: proxy.Scheme, Host: proxy.Host, Port: port},
		BypassList:  loopbackBypass,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode proxy rules: %w", err)
	}
	creds, err := json.Marshal(proxyCredentials{Username: proxy.Username, Password: proxy.Password})
	if err != nil {
		return nil, fmt.Errorf("failed to encode proxy credentials: %w", err)
	}

	return map[string][]byte{
		"manifest.json": manifest,
		"background.js": []byte(fmt.Sprintf(backgroundTemplate, rules, creds)),
	}, nil
}

// Dir returns the extension directory.
func (e *ProxyExtension) Dir() string {
	return e.dir
}

// Cleanup removes the extension directory. It is safe to call twice.
func (e *ProxyExtension) Cleanup() {
	if e.dir != "" {
		_ = os.RemoveAll(e.dir)
	}
}
