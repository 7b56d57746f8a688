// Package sdkmeta derives component identity from SDK script URLs.
package sdkmeta

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/Rorqualx/sdk-debugger-go/internal/types"
)

var (
	// versionSegment matches path segments such as 3.63.0, 1.24.0 or 3.0.0-beta.4.
	versionSegment = regexp.MustCompile(`^[0-9]+\.[0-9]+(\.[0-9]+)?([-+][0-9A-Za-z.-]+)?$`)
	separatorPair  = regexp.MustCompile(`[-_][a-z]`)
)

// DefaultNames holds display names that title-casing cannot produce.
var DefaultNames = map[string]string{
	"dropin":         "Drop-in",
	"three-d-secure": "3D Secure",
}

// Semver is a parsed major.minor.patch version.
type Semver struct {
	Major int `json:"major" yaml:"major"`
	Minor int `json:"minor" yaml:"minor"`
	Patch int `json:"patch" yaml:"patch"`
}

// Identity is everything known about a component from its script URL alone.
type Identity struct {
	URL                  string  `json:"url" yaml:"url"`
	Version              string  `json:"version" yaml:"version"`
	Semver               *Semver `json:"semverVersion,omitempty" yaml:"semverVersion,omitempty"`
	ComponentKey         string  `json:"componentKey" yaml:"componentKey"`
	ComponentInCamelCase string  `json:"componentInCamelCase" yaml:"componentInCamelCase"`
	ComponentName        string  `json:"componentName" yaml:"componentName"`
	Minified             bool    `json:"minified" yaml:"minified"`
}

// Derive computes the Identity of the script at rawURL using DefaultNames.
func Derive(rawURL string) (Identity, error) {
	return DeriveWithNames(rawURL, DefaultNames)
}

// DeriveWithNames computes the Identity of the script at rawURL.
// The component key is the last path segment ending in .js, without its
// .min.js or .js suffix; the version is the first segment shaped like a version.
func DeriveWithNames(rawURL string, names map[string]string) (Identity, error) {
	path := rawURL
	if u, err := url.Parse(rawURL); err == nil && u.Path != "" {
		path = u.Path
	} else if i := strings.IndexAny(rawURL, "?#"); i >= 0 {
		path = rawURL[:i]
	}

	segments := strings.Split(path, "/")

	key := ""
	for i := len(segments) - 1; i >= 0; i-- {
		if strings.HasSuffix(segments[i], ".js") {
			key = strings.TrimSuffix(strings.TrimSuffix(segments[i], ".js"), ".min")
			break
		}
	}
	if key == "" {
		return Identity{}, types.NewMalformedURLError(rawURL, "no script segment")
	}

	version := ""
	for _, seg := range segments {
		if versionSegment.MatchString(seg) {
			version = seg
			break
		}
	}
	if version == "" {
		return Identity{}, types.NewMalformedURLError(rawURL, "no version segment")
	}

	name, ok := names[key]
	if !ok {
		name = TitleCase(key)
	}

	return Identity{
		URL:                  rawURL,
		Version:              version,
		Semver:               ParseSemver(version),
		ComponentKey:         key,
		ComponentInCamelCase: CamelCase(key),
		ComponentName:        name,
		Minified:             strings.Contains(path, ".min.js"),
	}, nil
}

// CamelCase turns a dash or underscore separated key into camelCase.
// Only a separator followed by a lowercase letter is folded.
func CamelCase(key string) string {
	return separatorPair.ReplaceAllStringFunc(key, func(m string) string {
		return strings.ToUpper(m[1:])
	})
}

// TitleCase turns a dash or underscore separated key into words with
// leading capitals, e.g. hosted-fields becomes Hosted Fields.
func TitleCase(key string) string {
	spaced := separatorPair.ReplaceAllStringFunc(key, func(m string) string {
		return " " + strings.ToUpper(m[1:])
	})
	for i, r := range spaced {
		if unicode.IsLower(r) {
			return spaced[:i] + string(unicode.ToUpper(r)) + spaced[i+len(string(r)):]
		}
		if unicode.IsLetter(r) {
			break
		}
	}
	return spaced
}

// ParseSemver parses the numeric major.minor.patch prefix of v.
// It returns nil when v has no numeric major and minor.
func ParseSemver(v string) *Semver {
	core := v
	if i := strings.IndexAny(core, "-+"); i >= 0 {
		core = core[:i]
	}
	parts := strings.Split(core, ".")
	if len(parts) < 2 {
		return nil
	}

	nums := make([]int, 3)
	for i := 0; i < len(parts) && i < 3; i++ {
		n, err := strconv.Atoi(parts[i])
		if err != nil {
			return nil
		}
		nums[i] = n
	}

	return &Semver{Major: nums[0], Minor: nums[1], Patch: nums[2]}
}

// Less reports whether s orders before other.
func (s Semver) Less(other Semver) bool {
	if s.Major != other.Major {
		return s.Major < other.Major
	}
	if s.Minor != other.Minor {
		return s.Minor < other.Minor
	}
	return s.Patch < other.Patch
}

// String formats s as major.minor.patch.
func (s Semver) String() string {
	return strconv.Itoa(s.Major) + "." + strconv.Itoa(s.Minor) + "." + strconv.Itoa(s.Patch)
}
