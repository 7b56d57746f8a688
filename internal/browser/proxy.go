package browser

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// Proxy is a parsed PROXY_URL.
type Proxy struct {
	// Server is the --proxy-server value, without credentials.
	Server   string
	Scheme   string
	Host     string
	Port     string
	Username string
	Password string
}

// HasCredentials reports whether the proxy needs authentication.
func (p Proxy) HasCredentials() bool {
	return p.Username != ""
}

var defaultProxyPorts = map[string]string{
	"http":   "80",
	"https":  "443",
	"socks4": "1080",
	"socks5": "1080",
}

// ParseProxy splits a proxy URL into the launch flag and credentials.
// An empty URL yields the zero Proxy.
func ParseProxy(proxyURL string) (Proxy, error) {
	if proxyURL == "" {
		return Proxy{}, nil
	}

	u, err := url.Parse(proxyURL)
	if err != nil {
		return Proxy{}, fmt.Errorf("invalid proxy URL: %w", err)
	}
	scheme := strings.ToLower(u.Scheme)
	defaultPort, ok := defaultProxyPorts[scheme]
	if !ok {
		return Proxy{}, fmt.Errorf("unsupported proxy scheme %q", u.Scheme)
	}
	if u.Hostname() == "" {
		return Proxy{}, fmt.Errorf("proxy URL has no host")
	}

	p := Proxy{
		Scheme: scheme,
		Host:   u.Hostname(),
		Port:   u.Port(),
	}
	if p.Port == "" {
		p.Port = defaultPort
	}
	if u.User != nil {
		p.Username = u.User.Username()
		p.Password, _ = u.User.Password()
	}
	p.Server = scheme + "://" + net.JoinHostPort(p.Host, p.Port)
	return p, nil
}
