// Package profile provides the SDK profile: URL patterns, version gates and
// component naming used to recognise and instrument SDK scripts.
package profile

import (
	"embed"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/Rorqualx/sdk-debugger-go/internal/types"
)

//go:embed profile.yaml
var defaultProfileFS embed.FS

// Profile describes one SDK distribution.
type Profile struct {
	Namespace          string            `yaml:"namespace"`
	AssetBasePath      string            `yaml:"asset_base_path"`
	ComponentPrefix    string            `yaml:"component_prefix"`
	DropinPrefix       string            `yaml:"dropin_prefix"`
	CurrentMajor       int               `yaml:"current_major"`
	MinimumMinor       int               `yaml:"minimum_minor"`
	SentinelParam      string            `yaml:"sentinel_param"`
	SentinelValue      string            `yaml:"sentinel_value"`
	ClientComponent    string            `yaml:"client_component"`
	ClientProperties   []string          `yaml:"client_properties"`
	ClientPlaceholder  string            `yaml:"client_placeholder"`
	FunctionMarker     string            `yaml:"function_marker"`
	ComponentNames     map[string]string `yaml:"component_names"`
	Capabilities       map[string]bool   `yaml:"capabilities"`
	IgnorableFunctions []string          `yaml:"ignorable_functions"`
}

// Source yields the profile currently in effect.
type Source interface {
	Get() *Profile
}

type staticSource struct{ p *Profile }

func (s staticSource) Get() *Profile { return s.p }

// Static returns a Source that always yields p.
func Static(p *Profile) Source {
	return staticSource{p: p}
}

var (
	instance *Profile
	once     sync.Once
	loadErr  error
)

// Get returns the singleton embedded Profile.
func Get() *Profile {
	once.Do(func() {
		instance, loadErr = load()
		if loadErr != nil {
			log.Error().Err(loadErr).Msg("Failed to load embedded profile, using defaults")
			instance = defaultProfile()
		}
	})
	return instance
}

func load() (*Profile, error) {
	data, err := defaultProfileFS.ReadFile("profile.yaml")
	if err != nil {
		return nil, err
	}

	p, err := parseAndValidate(data)
	if err != nil {
		return nil, err
	}
	if err := p.ValidateEffective(); err != nil {
		return nil, err
	}

	log.Debug().
		Str("namespace", p.Namespace).
		Int("current_major", p.CurrentMajor).
		Int("component_names", len(p.ComponentNames)).
		Msg("SDK profile loaded")

	return p, nil
}

// defaultProfile returns hardcoded fallback values.
func defaultProfile() *Profile {
	return &Profile{
		Namespace:         "braintree",
		AssetBasePath:     "://js.braintreegateway.com/web/",
		ComponentPrefix:   "3.",
		DropinPrefix:      "dropin/1.",
		CurrentMajor:      3,
		MinimumMinor:      14,
		SentinelParam:     "do-not-block",
		SentinelValue:     "true",
		ClientComponent:   "client",
		ClientProperties:  []string{"_clientPromise", "_client", "client"},
		ClientPlaceholder: "<Client Instance>",
		FunctionMarker:    "Function",
		ComponentNames: map[string]string{
			"dropin":         "Drop-in",
			"three-d-secure": "3D Secure",
		},
		Capabilities: map[string]bool{
			"isSupported":             true,
			"supportsInputFormatting": true,
			"isBrowserSupported":      false,
		},
		IgnorableFunctions: []string{"getConfiguration", "getVersion", "hasListener", "toJSON"},
	}
}

func parseAndValidate(data []byte) (*Profile, error) {
	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%w: invalid YAML: %v", types.ErrProfileInvalid, err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Validate checks that the fields the interceptor depends on are present.
// Partial profiles are valid; missing fields are filled from the embedded profile on merge.
func (p *Profile) Validate() error {
	if p.AssetBasePath != "" && !strings.HasSuffix(p.AssetBasePath, "/") {
		return fmt.Errorf("%w: asset_base_path must end with /", types.ErrProfileInvalid)
	}
	if p.CurrentMajor < 0 || p.MinimumMinor < 0 {
		return fmt.Errorf("%w: version gates cannot be negative", types.ErrProfileInvalid)
	}
	if (p.SentinelParam == "") != (p.SentinelValue == "") {
		return fmt.Errorf("%w: sentinel_param and sentinel_value must be set together", types.ErrProfileInvalid)
	}
	return nil
}

// ValidateEffective checks a profile that will drive interception, after
// any override has been merged. Without a sentinel every URL would count as
// already marked and nothing would be redirected.
func (p *Profile) ValidateEffective() error {
	if err := p.Validate(); err != nil {
		return err
	}
	if p.SentinelParam == "" || p.SentinelValue == "" {
		return fmt.Errorf("%w: sentinel_param and sentinel_value are required", types.ErrProfileInvalid)
	}
	if p.Namespace == "" || p.AssetBasePath == "" {
		return fmt.Errorf("%w: namespace and asset_base_path are required", types.ErrProfileInvalid)
	}
	return nil
}

// IsIgnorable reports whether calls to name are left out of the call log.
func (p *Profile) IsIgnorable(name string) bool {
	for _, fn := range p.IgnorableFunctions {
		if fn == name {
			return true
		}
	}
	return false
}

// HasSentinel reports whether rawURL already carries the loop-breaking marker.
func (p *Profile) HasSentinel(rawURL string) bool {
	if p.SentinelParam == "" {
		return false
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return strings.Contains(rawURL, p.SentinelParam+"="+p.SentinelValue)
	}
	return u.Query().Get(p.SentinelParam) == p.SentinelValue
}

// WithSentinel returns rawURL with the loop-breaking marker appended.
func (p *Profile) WithSentinel(rawURL string) string {
	sep := "?"
	if strings.Contains(rawURL, "?") {
		sep = "&"
	}
	return rawURL + sep + p.SentinelParam + "=" + p.SentinelValue
}
