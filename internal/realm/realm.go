// Package realm abstracts the JavaScript page a component stub runs in.
//
// A Realm is implemented both by a live browser page driven over CDP and by
// an embedded JavaScript sandbox. Values crossing the boundary are opaque
// handles owned by the realm; Export converts them into plain Go data.
package realm

import (
	"context"
	"fmt"
)

// Value is an opaque handle to a value living in a realm.
type Value any

// Func marks a function-valued argument in exported data.
type Func struct {
	Name string `json:"name,omitempty"`
}

// String implements fmt.Stringer.
func (f Func) String() string {
	if f.Name == "" {
		return "function"
	}
	return "function " + f.Name
}

// CreateCall is one invocation of an installed entry point's create.
type CreateCall struct {
	// Options is the page's first argument, as a realm handle.
	Options Value
	// Args are all arguments exported to Go data, functions as Func.
	Args []any
	// HasCallback reports whether a node-style callback was supplied.
	HasCallback bool
}

// EntryPoint describes a component entry point to install in the page.
// The realm adapts Create to the SDK's calling convention: create returns a
// promise and, when a callback is supplied, also invokes it node-style.
type EntryPoint struct {
	Version      string
	Capabilities map[string]bool
	Create       func(ctx context.Context, call CreateCall) (Value, error)
}

// CallObserver is notified before every method call on a wrapped instance.
type CallObserver func(functionName string, args []any)

// Realm is the page-side surface the debugger needs.
type Realm interface {
	// Install publishes ep under the SDK namespace as name.
	Install(name string, ep *EntryPoint) error
	// Remove deletes name from the SDK namespace.
	Remove(name string) error
	// LoadScript adds a script element for src and waits for it to run.
	LoadScript(ctx context.Context, src string) error
	// CreateReal invokes the create of whatever is registered under name and awaits it.
	CreateReal(ctx context.Context, name string, options Value) (Value, error)
	// Wrap returns a proxy of instance that reports method calls to observe.
	Wrap(ctx context.Context, instance Value, observe CallObserver) (Value, error)
	// Property returns v[name] and whether it is truthy.
	Property(ctx context.Context, v Value, name string) (Value, bool, error)
	// Await resolves v if it is a thenable and returns it unchanged otherwise.
	Await(ctx context.Context, v Value) (Value, error)
	// CallMethod invokes v[method]() and returns its result.
	CallMethod(ctx context.Context, v Value, method string) (Value, error)
	// Export converts v into plain Go data.
	Export(ctx context.Context, v Value) (any, error)
}

// Rejection is a value thrown or rejected by page code. Value is the
// original realm handle so it can be rethrown unchanged.
type Rejection struct {
	Value   Value
	Message string
}

// Error implements the error interface.
func (r *Rejection) Error() string {
	if r.Message != "" {
		return r.Message
	}
	return fmt.Sprintf("page rejected with %v", r.Value)
}
