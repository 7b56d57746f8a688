package fakesdk

import (
	"encoding/json"
	"fmt"
	"maps"
	"math"
	"strings"

	"github.com/Rorqualx/sdk-debugger-go/internal/profile"
	"github.com/Rorqualx/sdk-debugger-go/internal/realm"
)

// SanitizeCreateArgs prepares create arguments for the debug record:
// functions become the function marker and an options object carrying a
// client has it replaced by the client placeholder. Everything else is kept.
func SanitizeCreateArgs(args []any, prof *profile.Profile) []any {
	out := make([]any, len(args))
	for i, arg := range args {
		switch v := arg.(type) {
		case realm.Func:
			out[i] = prof.FunctionMarker
		case map[string]any:
			if !truthy(v["client"]) {
				out[i] = v
				continue
			}
			replaced := maps.Clone(v)
			replaced["client"] = prof.ClientPlaceholder
			out[i] = replaced
		default:
			out[i] = arg
		}
	}
	return out
}

// truthy applies JavaScript truthiness to an exported page value.
func truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case string:
		return x != ""
	case int64:
		return x != 0
	case int:
		return x != 0
	case float64:
		return x != 0 && !math.IsNaN(x)
	default:
		return true
	}
}

// SanitizeCallArgs replaces function-valued arguments with the function marker.
func SanitizeCallArgs(args []any, prof *profile.Profile) []any {
	out := make([]any, len(args))
	for i, arg := range args {
		if _, ok := arg.(realm.Func); ok {
			out[i] = prof.FunctionMarker
			continue
		}
		out[i] = arg
	}
	return out
}

// describeCall renders a call as name(arg, ...) for the component log.
func describeCall(name string, args []any) string {
	parts := make([]string, len(args))
	for i, arg := range args {
		data, err := json.Marshal(arg)
		if err != nil {
			parts[i] = fmt.Sprint(arg)
			continue
		}
		parts[i] = string(data)
	}
	return name + "(" + strings.Join(parts, ", ") + ")"
}
