package types

// ComponentDebugRecord is the per-component entry of the debugger state.
// It is created when a component stub runs and completed on first create.
type ComponentDebugRecord struct {
	Key             string   `json:"key" yaml:"key"`
	Name            string   `json:"name" yaml:"name"`
	NameInCamelCase string   `json:"nameInCamelCase" yaml:"nameInCamelCase"`
	Version         string   `json:"version" yaml:"version"`
	Minified        bool     `json:"minified" yaml:"minified"`
	CreateArgs      []any    `json:"createArgs,omitempty" yaml:"createArgs,omitempty"`
	Created         bool     `json:"created" yaml:"created"`
	Log             []string `json:"log" yaml:"log"`

	// Instance is the real component instance. It is a realm handle and never serialized.
	Instance any `json:"-" yaml:"-"`
}

// FunctionCall is one observed method call on a proxied component instance.
type FunctionCall struct {
	Component    string `json:"component" yaml:"component"`
	FunctionName string `json:"functionName" yaml:"functionName"`
	Args         []any  `json:"args" yaml:"args"`
}

// Response is the envelope for every API response.
type Response struct {
	Status    string `json:"status"`
	Message   string `json:"message"`
	StartTime int64  `json:"startTimestamp"`
	EndTime   int64  `json:"endTimestamp"`
	Version   string `json:"version"`

	Components     []ComponentDebugRecord `json:"components,omitempty"`
	Component      *ComponentDebugRecord  `json:"component,omitempty"`
	Calls          []FunctionCall         `json:"calls,omitempty"`
	ClientMetadata any                    `json:"clientMetadata,omitempty"`
	Attached       *bool                  `json:"attached,omitempty"`
}

// Status values for API responses.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Limits for API query parameters.
const (
	DefaultCallLimit = 100
	MaxCallLimit     = 10000
	MaxComponentKey  = 128
)
