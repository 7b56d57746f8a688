// Package version provides build version information.
// Version is set at build time via ldflags:
// go build -ldflags "-X github.com/Rorqualx/sdk-debugger-go/pkg/version.Version=1.0.0"
package version

import (
	"fmt"
	"runtime"
)

// Version is the application version, set at build time.
var Version = "dev"

// Commit is the source revision, set at build time.
var Commit = "unknown"

// UserAgent replaces the HeadlessChrome user agent in headless mode so the
// page under observation serves the same scripts it serves to users.
var UserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/132.0.0.0 Safari/537.36"

// Full returns the full version string.
func Full() string {
	if Commit == "unknown" || Commit == "" {
		return Version
	}
	return fmt.Sprintf("%s (%s)", Version, Commit)
}

// GoVersion returns the Go runtime version.
func GoVersion() string {
	return runtime.Version()
}
