package cdp

import (
	"context"
	"fmt"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/rs/zerolog/log"
	"github.com/ysmood/gson"

	"github.com/Rorqualx/sdk-debugger-go/internal/realm"
	"github.com/Rorqualx/sdk-debugger-go/internal/types"
)

// Install publishes ep under the SDK namespace as name.
func (p *Page) Install(name string, ep *realm.EntryPoint) error {
	p.mu.Lock()
	p.entries[name] = ep
	p.mu.Unlock()

	caps := make(map[string]bool, len(ep.Capabilities))
	for k, v := range ep.Capabilities {
		caps[k] = v
	}
	if _, err := p.eval(p.ctx, rod.Eval(jsInstall, p.namespace, name, ep.Version, caps)); err != nil {
		return fmt.Errorf("failed to install %s: %w", name, err)
	}
	return nil
}

// Remove deletes name from the SDK namespace.
func (p *Page) Remove(name string) error {
	p.mu.Lock()
	delete(p.entries, name)
	p.mu.Unlock()

	if _, err := p.eval(p.ctx, rod.Eval(jsRemove, p.namespace, name)); err != nil {
		return fmt.Errorf("failed to remove %s: %w", name, err)
	}
	return nil
}

// LoadScript appends a script element for src and waits for it to load.
func (p *Page) LoadScript(ctx context.Context, src string) error {
	if _, err := p.eval(ctx, rod.Eval(jsLoadScript, src).ByPromise()); err != nil {
		return types.NewScriptLoadError(src, asRejection(err))
	}
	return nil
}

// CreateReal calls the create registered under name and awaits its result.
func (p *Page) CreateReal(ctx context.Context, name string, options realm.Value) (realm.Value, error) {
	present, err := p.eval(ctx, rod.Eval(jsHasEntryPoint, p.namespace, name))
	if err != nil {
		return nil, err
	}
	if !present.Value.Bool() {
		return nil, fmt.Errorf("%w: %s.%s", types.ErrEntryPointMissing, p.namespace, name)
	}

	res, err := p.eval(ctx, rod.Eval(jsCreateReal, p.namespace, name, arg(options)).ByObject().ByPromise())
	if err != nil {
		return nil, asRejection(err)
	}
	return res, nil
}

// Wrap returns an in-page Proxy of instance whose method calls are reported
// to observe before they reach the instance.
func (p *Page) Wrap(ctx context.Context, instance realm.Value, observe realm.CallObserver) (realm.Value, error) {
	obj, err := remote(instance)
	if err != nil {
		return nil, err
	}
	if obj.Type != proto.RuntimeRemoteObjectTypeObject || obj.ObjectID == "" {
		return instance, nil
	}

	id := p.nextWrap.Add(1)
	p.mu.Lock()
	p.observers[id] = observe
	p.mu.Unlock()

	res, err := p.eval(ctx, rod.Eval(jsWrap, obj, id).ByObject())
	if err != nil {
		p.mu.Lock()
		delete(p.observers, id)
		p.mu.Unlock()
		return nil, err
	}
	return res, nil
}

// Property returns v[name] and whether it is truthy.
func (p *Page) Property(ctx context.Context, v realm.Value, name string) (realm.Value, bool, error) {
	obj, err := remote(v)
	if err != nil {
		return nil, false, err
	}
	if obj.ObjectID == "" {
		return nil, false, nil
	}

	res, err := p.eval(ctx, rod.Eval(jsProperty, name).This(obj).ByObject())
	if err != nil {
		return nil, false, asRejection(err)
	}
	return res, truthy(res), nil
}

// Await resolves v when it is a thenable.
func (p *Page) Await(ctx context.Context, v realm.Value) (realm.Value, error) {
	res, err := p.eval(ctx, rod.Eval(jsIdentity, arg(v)).ByObject().ByPromise())
	if err != nil {
		return nil, asRejection(err)
	}
	return res, nil
}

// CallMethod invokes v[method]().
func (p *Page) CallMethod(ctx context.Context, v realm.Value, method string) (realm.Value, error) {
	obj, err := remote(v)
	if err != nil {
		return nil, err
	}
	res, err := p.eval(ctx, rod.Eval(jsCallMethod, method).This(obj).ByObject())
	if err != nil {
		return nil, asRejection(err)
	}
	return res, nil
}

// Export converts v into plain Go data. Functions become realm.Func.
func (p *Page) Export(ctx context.Context, v realm.Value) (any, error) {
	obj, err := remote(v)
	if err != nil {
		return nil, err
	}
	if obj.ObjectID == "" {
		if obj.Type == proto.RuntimeRemoteObjectTypeUndefined {
			return nil, nil
		}
		return convert(obj.Value), nil
	}

	res, err := p.eval(ctx, rod.Eval(jsExport, obj))
	if err != nil {
		return nil, asRejection(err)
	}
	return convert(res.Value), nil
}

// onCreate receives {id, name, args, callback} from an installed entry point.
// The create runs on its own goroutine; bindings are delivered one at a time.
func (p *Page) onCreate(req gson.JSON) (interface{}, error) {
	id := req.Get("id").Int()
	name := req.Get("name").Str()

	p.mu.RLock()
	ep, ok := p.entries[name]
	p.mu.RUnlock()

	if !ok {
		go p.settleError(id, fmt.Sprintf("%s.%s is not installed", p.namespace, name))
		return nil, nil
	}

	args := convertArgs(req.Get("args"))
	call := realm.CreateCall{Args: args, HasCallback: req.Get("callback").Bool()}
	go p.runCreate(id, name, ep, call)
	return nil, nil
}

func (p *Page) runCreate(id int, name string, ep *realm.EntryPoint, call realm.CreateCall) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("component", name).Msg("Recovered from panic in create")
			p.settleError(id, fmt.Sprintf("internal error: %v", r))
		}
	}()

	options, err := p.eval(p.ctx, rod.Eval(jsCreateOptions, id).ByObject())
	if err != nil {
		p.settleError(id, err.Error())
		return
	}
	call.Options = options

	value, err := ep.Create(p.ctx, call)
	if err != nil {
		// Only an untransformed page rejection is rethrown as the original value.
		if rej, ok := err.(*realm.Rejection); ok {
			if obj, ok := rej.Value.(*proto.RuntimeRemoteObject); ok {
				p.settle(id, false, obj)
				return
			}
		}
		p.settleError(id, err.Error())
		return
	}
	p.settle(id, true, value)
}

func (p *Page) settle(id int, ok bool, value realm.Value) {
	if _, err := p.eval(p.ctx, rod.Eval(jsSettle, id, ok, arg(value))); err != nil {
		log.Debug().Err(err).Int("id", id).Msg("Failed to settle create")
	}
}

func (p *Page) settleError(id int, message string) {
	if _, err := p.eval(p.ctx, rod.Eval(jsSettleError, id, message)); err != nil {
		log.Debug().Err(err).Int("id", id).Msg("Failed to settle create")
	}
}

// onCall receives {wrap, name, args} from a proxied instance.
func (p *Page) onCall(req gson.JSON) (interface{}, error) {
	id := int64(req.Get("wrap").Int())

	p.mu.RLock()
	observe, ok := p.observers[id]
	p.mu.RUnlock()

	if ok {
		observe(req.Get("name").Str(), convertArgs(req.Get("args")))
	}
	return nil, nil
}

// truthy mirrors JavaScript truthiness for a remote object.
func truthy(obj *proto.RuntimeRemoteObject) bool {
	if obj == nil {
		return false
	}
	switch obj.Type {
	case proto.RuntimeRemoteObjectTypeUndefined:
		return false
	case proto.RuntimeRemoteObjectTypeObject:
		return obj.Subtype != proto.RuntimeRemoteObjectSubtypeNull
	case proto.RuntimeRemoteObjectTypeBoolean:
		return obj.Value.Bool()
	case proto.RuntimeRemoteObjectTypeNumber:
		if obj.UnserializableValue != "" {
			return obj.UnserializableValue != "NaN" && obj.UnserializableValue != "-0"
		}
		return obj.Value.Num() != 0
	case proto.RuntimeRemoteObjectTypeString:
		return obj.Value.Str() != ""
	case proto.RuntimeRemoteObjectTypeBigint:
		return obj.UnserializableValue != "0n"
	default:
		return true
	}
}

func convertArgs(j gson.JSON) []any {
	arr := j.Arr()
	out := make([]any, len(arr))
	for i, item := range arr {
		out[i] = convert(item)
	}
	return out
}

// convert turns exported page data into Go values, restoring function markers.
func convert(j gson.JSON) any {
	return convertValue(j.Val())
}

func convertValue(v interface{}) any {
	switch v := v.(type) {
	case map[string]interface{}:
		if name, ok := v[fnMarker]; ok && len(v) == 1 {
			s, _ := name.(string)
			return realm.Func{Name: s}
		}
		out := make(map[string]any, len(v))
		for k, item := range v {
			out[k] = convertValue(item)
		}
		return out
	case []interface{}:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = convertValue(item)
		}
		return out
	default:
		return v
	}
}
