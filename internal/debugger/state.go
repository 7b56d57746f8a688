// Package debugger holds the page-wide debugger state shared by every
// component stub: the per-component records and the metadata-sent flag.
package debugger

import (
	"sync"
	"sync/atomic"

	"github.com/Rorqualx/sdk-debugger-go/internal/types"
)

// State is the single owned debugger state for one page.
// It is safe for concurrent use.
type State struct {
	mu           sync.RWMutex
	components   map[string]*types.ComponentDebugRecord
	order        []string
	metadataSent atomic.Bool
}

// New creates an empty State.
func New() *State {
	return &State{
		components: make(map[string]*types.ComponentDebugRecord),
	}
}

// Register stores rec under rec.Key, replacing any record left by an earlier
// execution of the same component's stub.
func (s *State) Register(rec types.ComponentDebugRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.Log == nil {
		rec.Log = []string{}
	}
	if _, exists := s.components[rec.Key]; !exists {
		s.order = append(s.order, rec.Key)
	}
	s.components[rec.Key] = &rec
}

// SetCreateArgs records the sanitized arguments of a create call.
func (s *State) SetCreateArgs(key string, args []any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.components[key]
	if !ok {
		return types.ErrComponentNotFound
	}
	rec.CreateArgs = args
	return nil
}

// SetInstance records the real instance returned by a component's create.
func (s *State) SetInstance(key string, instance any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.components[key]
	if !ok {
		return types.ErrComponentNotFound
	}
	rec.Instance = instance
	rec.Created = true
	return nil
}

// AppendLog adds one entry to a component's call log.
func (s *State) AppendLog(key, entry string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.components[key]
	if !ok {
		return types.ErrComponentNotFound
	}
	rec.Log = append(rec.Log, entry)
	return nil
}

// Record returns a copy of the record registered under key.
func (s *State) Record(key string) (types.ComponentDebugRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.components[key]
	if !ok {
		return types.ComponentDebugRecord{}, false
	}
	return copyRecord(rec), true
}

// Records returns copies of all records in registration order.
func (s *State) Records() []types.ComponentDebugRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]types.ComponentDebugRecord, 0, len(s.order))
	for _, key := range s.order {
		out = append(out, copyRecord(s.components[key]))
	}
	return out
}

// MetadataSent reports whether the client configuration was already disclosed.
func (s *State) MetadataSent() bool {
	return s.metadataSent.Load()
}

// MarkMetadataSent sets the metadata-sent flag. It returns true only for the
// caller that flipped it, so concurrent disclosures resolve to one winner.
func (s *State) MarkMetadataSent() bool {
	return s.metadataSent.CompareAndSwap(false, true)
}

func copyRecord(rec *types.ComponentDebugRecord) types.ComponentDebugRecord {
	out := *rec
	out.Log = append([]string(nil), rec.Log...)
	if out.Log == nil {
		out.Log = []string{}
	}
	if rec.CreateArgs != nil {
		out.CreateArgs = append([]any(nil), rec.CreateArgs...)
	}
	return out
}
