package profile

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// reloadDebounce coalesces the bursts of events a single save produces.
const reloadDebounce = 100 * time.Millisecond

var errNoProfileFile = errors.New("no profile file configured")

// ReloadStats describes the profile file loads so far.
type ReloadStats struct {
	Reloads    int64     `json:"reloads"`
	LastReload time.Time `json:"lastReload,omitempty"`
	LastError  string    `json:"lastError,omitempty"`
}

// Manager serves the embedded profile overlaid with an optional profile
// file. Get never blocks; a file that fails to load leaves the previous
// profile in place.
type Manager struct {
	embedded *Profile
	path     string
	current  atomic.Pointer[Profile]

	mu    sync.Mutex
	stats ReloadStats

	stop      context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// NewManager loads path over the embedded profile. An empty path serves the
// embedded profile alone. With hotReload the file is reloaded whenever it
// is written or replaced.
func NewManager(path string, hotReload bool) (*Manager, error) {
	m := &Manager{embedded: Get(), path: path}
	m.current.Store(m.embedded)
	if path == "" {
		return m, nil
	}

	logger := log.With().Str("path", path).Logger()
	if err := m.Reload(); err != nil {
		logger.Warn().Err(err).Msg("Profile file not loaded, using embedded profile")
	}
	if hotReload {
		if err := m.watch(); err != nil {
			logger.Warn().Err(err).Msg("Profile hot-reload unavailable")
		} else {
			logger.Info().Msg("Watching profile file for changes")
		}
	}
	return m, nil
}

// Get returns the profile in effect.
func (m *Manager) Get() *Profile {
	return m.current.Load()
}

// Reload reads the profile file again.
func (m *Manager) Reload() error {
	if m.path == "" {
		return errNoProfileFile
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	external, err := m.read()
	if err != nil {
		m.stats.LastError = err.Error()
		return err
	}
	merged := merge(m.embedded, external)
	if err := merged.ValidateEffective(); err != nil {
		m.stats.LastError = err.Error()
		return err
	}
	m.current.Store(merged)
	m.stats.Reloads++
	m.stats.LastReload = time.Now()
	m.stats.LastError = ""

	log.Info().Str("path", m.path).Int64("reloads", m.stats.Reloads).Msg("Profile loaded")
	return nil
}

func (m *Manager) read() (*Profile, error) {
	data, err := os.ReadFile(m.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read profile file: %w", err)
	}
	p, err := parseAndValidate(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse profile file: %w", err)
	}
	return p, nil
}

// Stats returns a snapshot of the reload history.
func (m *Manager) Stats() ReloadStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

// Close stops watching. It may be called more than once.
func (m *Manager) Close() error {
	m.closeOnce.Do(func() {
		if m.stop == nil {
			return
		}
		m.stop()
		<-m.done
	})
	return m.closeErr
}

// merge returns a new Profile taking every field external sets and the
// rest from base. Neither input is modified.
func merge(base, external *Profile) *Profile {
	merged := *base

	if external.Namespace != "" {
		merged.Namespace = external.Namespace
	}
	if external.AssetBasePath != "" {
		merged.AssetBasePath = external.AssetBasePath
	}
	if external.ComponentPrefix != "" {
		merged.ComponentPrefix = external.ComponentPrefix
	}
	if external.DropinPrefix != "" {
		merged.DropinPrefix = external.DropinPrefix
	}
	if external.CurrentMajor > 0 {
		merged.CurrentMajor = external.CurrentMajor
	}
	if external.MinimumMinor > 0 {
		merged.MinimumMinor = external.MinimumMinor
	}
	if external.SentinelParam != "" {
		merged.SentinelParam = external.SentinelParam
		merged.SentinelValue = external.SentinelValue
	}
	if external.ClientComponent != "" {
		merged.ClientComponent = external.ClientComponent
	}
	if len(external.ClientProperties) > 0 {
		merged.ClientProperties = external.ClientProperties
	}
	if external.ClientPlaceholder != "" {
		merged.ClientPlaceholder = external.ClientPlaceholder
	}
	if external.FunctionMarker != "" {
		merged.FunctionMarker = external.FunctionMarker
	}
	if len(external.IgnorableFunctions) > 0 {
		merged.IgnorableFunctions = external.IgnorableFunctions
	}

	// Maps are unioned so a file can add one name without restating the rest.
	merged.ComponentNames = union(base.ComponentNames, external.ComponentNames)
	merged.Capabilities = union(base.Capabilities, external.Capabilities)

	return &merged
}

func union[V any](base, over map[string]V) map[string]V {
	out := make(map[string]V, len(base)+len(over))
	maps.Copy(out, base)
	maps.Copy(out, over)
	return out
}

// watch follows the file's directory rather than the file, since editors
// often save by writing a new file and renaming it over the old one.
func (m *Manager) watch() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(m.path)); err != nil {
		_ = w.Close()
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(m.path), err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.stop = cancel
	m.done = make(chan struct{})
	go m.loop(ctx, w)
	return nil
}

func (m *Manager) loop(ctx context.Context, w *fsnotify.Watcher) {
	defer close(m.done)
	defer func() { m.closeErr = w.Close() }()

	target := filepath.Clean(m.path)
	debounce := time.NewTimer(reloadDebounce)
	debounce.Stop()
	defer debounce.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != target || ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			log.Debug().Str("op", ev.Op.String()).Str("path", ev.Name).Msg("Profile file changed")
			debounce.Reset(reloadDebounce)

		case <-debounce.C:
			if err := m.Reload(); err != nil {
				log.Warn().Err(err).Str("path", m.path).Msg("Profile reload failed, keeping previous profile")
			}

		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Msg("Profile watcher error")
		}
	}
}
