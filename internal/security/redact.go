// Package security redacts credentials from URLs and SDK data before they
// are logged or served.
package security

import (
	"net/url"
	"strings"
)

// Redacted replaces every masked value.
const Redacted = "[REDACTED]"

// keyMatcher reports keys containing any of its fragments, ignoring case.
type keyMatcher []string

func (m keyMatcher) match(key string) bool {
	lower := strings.ToLower(key)
	for _, fragment := range m {
		if strings.Contains(lower, fragment) {
			return true
		}
	}
	return false
}

// configKeys match SDK configuration and create option keys whose values
// grant access to a merchant account.
var configKeys = keyMatcher{
	"authorization",
	"fingerprint",
	"token",
	"secret",
	"password",
	"nonce",
}

// queryKeys additionally cover the names sites use for their own secrets.
var queryKeys = append(keyMatcher{"api_key", "apikey", "auth", "key", "session"}, configKeys...)

// RedactURL masks userinfo and secret-looking query values. A URL that does
// not parse is replaced entirely.
func RedactURL(rawURL string) string {
	if rawURL == "" {
		return ""
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "[invalid-url]"
	}

	if u.User != nil {
		u.User = url.User(Redacted)
	}
	if u.RawQuery != "" {
		q := u.Query()
		for k := range q {
			if queryKeys.match(k) {
				q[k] = []string{Redacted}
			}
		}
		u.RawQuery = q.Encode()
	}
	return u.String()
}

// RedactProxyURL masks the proxy password and keeps the username, which
// identifies the account without granting access.
func RedactProxyURL(proxyURL string) string {
	if proxyURL == "" {
		return ""
	}
	u, err := url.Parse(proxyURL)
	if err != nil {
		return "[invalid-proxy-url]"
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), Redacted)
	}
	return u.String()
}

// RedactConfig returns a copy of v with the values of sensitive keys masked
// at any depth. v is exported client configuration or create arguments and
// is never modified. Null values are kept so absent secrets stay visible.
func RedactConfig(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			if item != nil && configKeys.match(k) {
				out[k] = Redacted
			} else {
				out[k] = RedactConfig(item)
			}
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = RedactConfig(item)
		}
		return out
	default:
		return v
	}
}
