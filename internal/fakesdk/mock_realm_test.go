package fakesdk

import (
	"context"
	"errors"
	"sync"

	"github.com/Rorqualx/sdk-debugger-go/internal/realm"
)

// object is a page object in mockRealm. Methods are func() (realm.Value, error).
type object map[string]any

// promise is a thenable in mockRealm.
type promise struct {
	value realm.Value
	err   error
}

// mockRealm records the calls a factory makes and answers from canned data.
type mockRealm struct {
	mu  sync.Mutex
	ops []string

	installed map[string]*realm.EntryPoint

	loadErr    error
	createVal  realm.Value
	createErr  error
	observers  []realm.CallObserver
	wrappedTag string
}

func newMockRealm() *mockRealm {
	return &mockRealm{installed: make(map[string]*realm.EntryPoint), wrappedTag: "proxy"}
}

func (m *mockRealm) record(op string) {
	m.mu.Lock()
	m.ops = append(m.ops, op)
	m.mu.Unlock()
}

func (m *mockRealm) calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.ops...)
}

func (m *mockRealm) Install(name string, ep *realm.EntryPoint) error {
	m.record("install " + name)
	m.mu.Lock()
	m.installed[name] = ep
	m.mu.Unlock()
	return nil
}

func (m *mockRealm) Remove(name string) error {
	m.record("remove " + name)
	m.mu.Lock()
	delete(m.installed, name)
	m.mu.Unlock()
	return nil
}

func (m *mockRealm) LoadScript(_ context.Context, src string) error {
	m.record("load " + src)
	return m.loadErr
}

func (m *mockRealm) CreateReal(_ context.Context, name string, _ realm.Value) (realm.Value, error) {
	m.record("create " + name)
	return m.createVal, m.createErr
}

func (m *mockRealm) Wrap(_ context.Context, instance realm.Value, observe realm.CallObserver) (realm.Value, error) {
	m.record("wrap")
	m.mu.Lock()
	m.observers = append(m.observers, observe)
	m.mu.Unlock()
	return wrapped{tag: m.wrappedTag, target: instance}, nil
}

func (m *mockRealm) Property(_ context.Context, v realm.Value, name string) (realm.Value, bool, error) {
	obj, ok := v.(object)
	if !ok {
		return nil, false, nil
	}
	val := obj[name]
	switch val {
	case nil, false, "", 0:
		return val, false, nil
	}
	return val, true, nil
}

func (m *mockRealm) Await(_ context.Context, v realm.Value) (realm.Value, error) {
	if p, ok := v.(promise); ok {
		return p.value, p.err
	}
	return v, nil
}

func (m *mockRealm) CallMethod(_ context.Context, v realm.Value, method string) (realm.Value, error) {
	obj, ok := v.(object)
	if !ok {
		return nil, errors.New("not an object")
	}
	fn, ok := obj[method].(func() (realm.Value, error))
	if !ok {
		return nil, errors.New(method + " is not a function")
	}
	return fn()
}

func (m *mockRealm) Export(_ context.Context, v realm.Value) (any, error) {
	return v, nil
}

// wrapped is what mockRealm hands back from Wrap.
type wrapped struct {
	tag    string
	target realm.Value
}

var _ realm.Realm = (*mockRealm)(nil)
