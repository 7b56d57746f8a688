package fakesdk

import (
	"math"
	"reflect"
	"testing"

	"github.com/Rorqualx/sdk-debugger-go/internal/profile"
	"github.com/Rorqualx/sdk-debugger-go/internal/realm"
)

func TestSanitizeCreateArgs(t *testing.T) {
	prof := profile.Get()

	tests := []struct {
		name string
		args []any
		want []any
	}{
		{
			name: "plain options kept",
			args: []any{map[string]any{"authorization": "key"}},
			want: []any{map[string]any{"authorization": "key"}},
		},
		{
			name: "callback becomes marker",
			args: []any{map[string]any{}, realm.Func{Name: "cb"}},
			want: []any{map[string]any{}, "Function"},
		},
		{
			name: "client replaced",
			args: []any{map[string]any{"client": map[string]any{"x": 1}, "vault": true}},
			want: []any{map[string]any{"client": "<Client Instance>", "vault": true}},
		},
		{
			name: "falsy client kept",
			args: []any{map[string]any{"client": nil}},
			want: []any{map[string]any{"client": nil}},
		},
		{
			name: "zero and empty clients kept",
			args: []any{map[string]any{"client": int64(0)}, map[string]any{"client": ""}},
			want: []any{map[string]any{"client": int64(0)}, map[string]any{"client": ""}},
		},
		{
			name: "no args",
			args: nil,
			want: []any{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SanitizeCreateArgs(tt.args, prof)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("SanitizeCreateArgs() = %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestTruthy(t *testing.T) {
	falsy := []any{nil, false, "", int64(0), 0, 0.0, math.NaN()}
	for _, v := range falsy {
		if truthy(v) {
			t.Errorf("truthy(%#v) = true, want false", v)
		}
	}
	truthyValues := []any{true, "0", int64(-1), 0.5, map[string]any{}, []any{}, realm.Func{}}
	for _, v := range truthyValues {
		if !truthy(v) {
			t.Errorf("truthy(%#v) = false, want true", v)
		}
	}
}

func TestSanitizeCreateArgs_DoesNotMutateInput(t *testing.T) {
	opts := map[string]any{"client": "real"}
	SanitizeCreateArgs([]any{opts}, profile.Get())
	if opts["client"] != "real" {
		t.Errorf("input mutated: %v", opts)
	}
}

func TestSanitizeCallArgs(t *testing.T) {
	got := SanitizeCallArgs([]any{"a", realm.Func{}, map[string]any{"k": realm.Func{}}}, profile.Get())
	want := []any{"a", "Function", map[string]any{"k": realm.Func{}}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("SanitizeCallArgs() = %#v, want %#v", got, want)
	}
}

func TestDescribeCall(t *testing.T) {
	tests := []struct {
		name string
		fn   string
		args []any
		want string
	}{
		{"no args", "teardown", nil, "teardown()"},
		{"mixed", "on", []any{"validityChange", "Function"}, `on("validityChange", "Function")`},
		{"object", "tokenize", []any{map[string]any{"vault": true}}, `tokenize({"vault":true})`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := describeCall(tt.fn, tt.args); got != tt.want {
				t.Errorf("describeCall() = %q, want %q", got, tt.want)
			}
		})
	}
}
