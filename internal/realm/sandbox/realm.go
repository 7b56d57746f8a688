package sandbox

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/dop251/goja"
	"github.com/rs/zerolog/log"

	"github.com/Rorqualx/sdk-debugger-go/internal/realm"
	"github.com/Rorqualx/sdk-debugger-go/internal/types"
)

// Exported data is cut off below this nesting depth.
const maxExportDepth = 8

// Install publishes ep as window[namespace][name].
func (p *Page) Install(name string, ep *realm.EntryPoint) error {
	return p.do(p.ctx, func(vm *goja.Runtime) error {
		obj := vm.NewObject()
		if err := obj.Set("create", p.createFunc(vm, ep)); err != nil {
			return err
		}
		if ep.Version != "" {
			if err := obj.Set("VERSION", ep.Version); err != nil {
				return err
			}
		}
		for capability, answer := range ep.Capabilities {
			answer := answer
			if err := obj.Set(capability, func(goja.FunctionCall) goja.Value {
				return vm.ToValue(answer)
			}); err != nil {
				return err
			}
		}
		return p.namespaceObject(vm).Set(name, obj)
	})
}

// Remove deletes window[namespace][name].
func (p *Page) Remove(name string) error {
	return p.do(p.ctx, func(vm *goja.Runtime) error {
		return p.namespaceObject(vm).Delete(name)
	})
}

// LoadScript loads src as a script element would.
func (p *Page) LoadScript(ctx context.Context, src string) error {
	return p.AddScript(ctx, src)
}

// CreateReal calls window[namespace][name].create(options) and awaits the result.
func (p *Page) CreateReal(ctx context.Context, name string, options realm.Value) (realm.Value, error) {
	var result goja.Value
	err := p.do(ctx, func(vm *goja.Runtime) error {
		entry, ok := p.namespaceObject(vm).Get(name).(*goja.Object)
		if !ok {
			return fmt.Errorf("%w: %s", types.ErrEntryPointMissing, name)
		}
		create, ok := goja.AssertFunction(entry.Get("create"))
		if !ok {
			return fmt.Errorf("%w: %s.create is not a function", types.ErrEntryPointMissing, name)
		}

		opts, _ := options.(goja.Value)
		if opts == nil {
			opts = goja.Undefined()
		}

		v, err := create(entry, opts)
		if err != nil {
			return asRejection(err)
		}
		result = v
		return nil
	})
	if err != nil {
		return nil, err
	}
	return p.Await(ctx, result)
}

// Wrap returns a Proxy over instance whose function properties report each
// call to observe before forwarding it unchanged to the target.
func (p *Page) Wrap(ctx context.Context, instance realm.Value, observe realm.CallObserver) (realm.Value, error) {
	var wrapped goja.Value
	err := p.do(ctx, func(vm *goja.Runtime) error {
		v, ok := instance.(goja.Value)
		if !ok || v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
			return fmt.Errorf("cannot wrap %v", instance)
		}
		target := v.ToObject(vm)
		reflectGet, ok := goja.AssertFunction(vm.Get("Reflect").ToObject(vm).Get("get"))
		if !ok {
			return errors.New("Reflect.get is not a function")
		}

		proxy := vm.NewProxy(target, &goja.ProxyTrapConfig{
			// Accessors see the proxy as this, like Reflect.get in a JS trap.
			Get: func(t *goja.Object, property string, receiver goja.Value) goja.Value {
				value, err := reflectGet(goja.Undefined(), t, vm.ToValue(property), receiver)
				if err != nil {
					rethrow(vm, err)
				}
				if value == nil {
					return goja.Undefined()
				}
				fn, ok := goja.AssertFunction(value)
				if !ok {
					return value
				}
				return vm.ToValue(func(call goja.FunctionCall) goja.Value {
					args := make([]any, len(call.Arguments))
					for i, arg := range call.Arguments {
						args[i] = exportValue(arg, 0)
					}
					observe(property, args)

					// The caller's receiver is kept, so self-calls made
					// through this also pass the proxy.
					result, err := fn(call.This, call.Arguments...)
					if err != nil {
						rethrow(vm, err)
					}
					return result
				})
			},
		})
		wrapped = vm.ToValue(proxy)
		return nil
	})
	return wrapped, err
}

// rethrow raises err in the running script, keeping a thrown JS value as is.
func rethrow(vm *goja.Runtime, err error) {
	var ex *goja.Exception
	if errors.As(err, &ex) {
		panic(ex)
	}
	panic(vm.NewGoError(err))
}

// Property returns v[name] and whether it is truthy.
func (p *Page) Property(ctx context.Context, v realm.Value, name string) (realm.Value, bool, error) {
	var (
		result goja.Value
		truthy bool
	)
	err := p.do(ctx, func(vm *goja.Runtime) error {
		obj, ok := v.(*goja.Object)
		if !ok {
			return nil
		}
		result = obj.Get(name)
		truthy = result != nil && result.ToBoolean()
		return nil
	})
	return result, truthy, err
}

// Await resolves v when it is a thenable. Other values are returned unchanged.
func (p *Page) Await(ctx context.Context, v realm.Value) (realm.Value, error) {
	type settled struct {
		value goja.Value
		err   error
	}
	done := make(chan settled, 1)
	deliver := func(s settled) {
		select {
		case done <- s:
		default:
		}
	}

	var (
		immediate goja.Value
		thenable  bool
	)
	err := p.do(ctx, func(vm *goja.Runtime) error {
		gv, _ := v.(goja.Value)
		obj, ok := gv.(*goja.Object)
		if !ok {
			immediate = gv
			return nil
		}
		then, ok := goja.AssertFunction(obj.Get("then"))
		if !ok {
			immediate = gv
			return nil
		}
		thenable = true

		onFulfilled := vm.ToValue(func(call goja.FunctionCall) goja.Value {
			deliver(settled{value: call.Argument(0)})
			return goja.Undefined()
		})
		onRejected := vm.ToValue(func(call goja.FunctionCall) goja.Value {
			reason := call.Argument(0)
			deliver(settled{err: &realm.Rejection{Value: reason, Message: reason.String()}})
			return goja.Undefined()
		})
		if _, err := then(obj, onFulfilled, onRejected); err != nil {
			return asRejection(err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !thenable {
		return immediate, nil
	}

	select {
	case s := <-done:
		if s.err != nil {
			return nil, s.err
		}
		return s.value, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.ctx.Done():
		return nil, types.ErrRealmClosed
	}
}

// CallMethod invokes v[method]() with v as receiver.
func (p *Page) CallMethod(ctx context.Context, v realm.Value, method string) (realm.Value, error) {
	var result goja.Value
	err := p.do(ctx, func(vm *goja.Runtime) error {
		gv, ok := v.(goja.Value)
		if !ok || gv == nil || goja.IsUndefined(gv) || goja.IsNull(gv) {
			return fmt.Errorf("cannot call %s on %v", method, v)
		}
		obj := gv.ToObject(vm)
		fn, ok := goja.AssertFunction(obj.Get(method))
		if !ok {
			return fmt.Errorf("%s is not a function", method)
		}
		r, err := fn(obj)
		if err != nil {
			return asRejection(err)
		}
		result = r
		return nil
	})
	return result, err
}

// Export converts v into plain Go data. Functions become realm.Func.
func (p *Page) Export(ctx context.Context, v realm.Value) (any, error) {
	var out any
	err := p.do(ctx, func(vm *goja.Runtime) error {
		gv, _ := v.(goja.Value)
		out = exportValue(gv, 0)
		return nil
	})
	return out, err
}

// createFunc adapts ep.Create to the SDK convention: create(options, callback?)
// returns a promise and also settles the callback when one is given.
func (p *Page) createFunc(vm *goja.Runtime, ep *realm.EntryPoint) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		callback, hasCallback := goja.AssertFunction(call.Argument(1))

		args := make([]any, len(call.Arguments))
		for i, arg := range call.Arguments {
			args[i] = exportValue(arg, 0)
		}

		promise, resolve, reject := vm.NewPromise()
		createCall := realm.CreateCall{
			Options:     call.Argument(0),
			Args:        args,
			HasCallback: hasCallback,
		}

		go func() {
			instance, err := ep.Create(p.ctx, createCall)
			p.post(func(vm *goja.Runtime) {
				if err != nil {
					reason := thrownValue(vm, err)
					if hasCallback {
						invokeCallback(callback, reason)
					}
					reject(reason)
					return
				}

				value, _ := instance.(goja.Value)
				if value == nil {
					value = goja.Undefined()
				}
				if hasCallback {
					invokeCallback(callback, goja.Null(), value)
				}
				resolve(value)
			})
		}()

		return vm.ToValue(promise)
	}
}

func (p *Page) namespaceObject(vm *goja.Runtime) *goja.Object {
	global := vm.GlobalObject()
	if obj, ok := global.Get(p.namespace).(*goja.Object); ok {
		return obj
	}
	obj := vm.NewObject()
	_ = global.Set(p.namespace, obj)
	return obj
}

func invokeCallback(callback goja.Callable, args ...goja.Value) {
	if _, err := callback(goja.Undefined(), args...); err != nil {
		log.Warn().Err(err).Msg("create callback threw")
	}
}

// thrownValue returns the page value to reject with: the original value for
// errors that came from page code, a wrapped Go error otherwise.
func thrownValue(vm *goja.Runtime, err error) goja.Value {
	var rej *realm.Rejection
	if errors.As(err, &rej) {
		if v, ok := rej.Value.(goja.Value); ok && v != nil {
			return v
		}
	}
	return vm.NewGoError(err)
}

func exportValue(v goja.Value, depth int) any {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil
	}
	if _, ok := goja.AssertFunction(v); ok {
		name := ""
		if obj, ok := v.(*goja.Object); ok {
			if n := obj.Get("name"); n != nil {
				name = n.String()
			}
		}
		return realm.Func{Name: name}
	}

	obj, ok := v.(*goja.Object)
	if !ok {
		return v.Export()
	}
	if depth >= maxExportDepth {
		return "[Object]"
	}

	switch obj.ClassName() {
	case "Array":
		length := int(obj.Get("length").ToInteger())
		out := make([]any, 0, length)
		for i := 0; i < length; i++ {
			out = append(out, exportValue(obj.Get(strconv.Itoa(i)), depth+1))
		}
		return out
	case "Error":
		return obj.String()
	case "Promise":
		return "[Promise]"
	}

	out := make(map[string]any)
	for _, key := range obj.Keys() {
		out[key] = exportValue(obj.Get(key), depth+1)
	}
	return out
}
