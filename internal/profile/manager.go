package profile

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/opensource-finance/harrier/internal/domain"
	"gopkg.in/yaml.v3"
)

// Manager holds the process-wide active profile. Reads are lock-free; a
// swap happens only through Reconfigure, Load or a watched file change, and
// each swap bumps the version.
type Manager struct {
	active atomic.Pointer[domain.ThresholdProfile]

	// swapMu serializes swaps so the active profile always carries the
	// highest version and callbacks observe versions in order.
	swapMu  sync.Mutex
	version int64

	mu       sync.Mutex
	onChange []func(domain.ThresholdProfile)
}

// NewManager creates a manager with the given tier active.
func NewManager(tier domain.ProfileTier) (*Manager, error) {
	p, err := Get(tier)
	if err != nil {
		return nil, err
	}
	m := &Manager{}
	m.swap(p)
	return m, nil
}

// Active returns a copy of the active profile.
func (m *Manager) Active() domain.ThresholdProfile {
	return *m.active.Load()
}

// Version returns the active profile version.
func (m *Manager) Version() int64 {
	return m.active.Load().Version
}

// OnChange registers a callback invoked after every swap. Callbacks run in
// version order and must not swap the profile themselves.
func (m *Manager) OnChange(fn func(domain.ThresholdProfile)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChange = append(m.onChange, fn)
}

// Reconfigure activates a built-in tier. Unknown tiers leave the active
// profile untouched and return a *domain.ConfigurationError.
func (m *Manager) Reconfigure(tier domain.ProfileTier) (domain.ThresholdProfile, error) {
	p, err := Get(tier)
	if err != nil {
		return domain.ThresholdProfile{}, err
	}
	return m.swap(p), nil
}

// Load activates a YAML profile document.
//
// A document names a base tier and overrides any subset of its fields:
//
//	base: balanced
//	thresholds:
//	  ela_edited_threshold: 20
//	  missing_metadata_score: 8
func (m *Manager) Load(path string) (domain.ThresholdProfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.ThresholdProfile{}, fmt.Errorf("failed to read profile document: %w", err)
	}
	p, err := Parse(data)
	if err != nil {
		return domain.ThresholdProfile{}, err
	}
	return m.swap(p), nil
}

type document struct {
	Base       domain.ProfileTier `yaml:"base"`
	Thresholds yaml.Node          `yaml:"thresholds"`
}

// Parse decodes and validates a YAML profile document.
func Parse(data []byte) (domain.ThresholdProfile, error) {
	var doc document
	dec := yaml.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&doc); err != nil {
		return domain.ThresholdProfile{}, &domain.ConfigurationError{Reason: fmt.Sprintf("invalid profile document: %v", err)}
	}
	if doc.Base == "" {
		doc.Base = domain.ProfileBalanced
	}

	p, err := Get(doc.Base)
	if err != nil {
		return domain.ThresholdProfile{}, err
	}
	if !doc.Thresholds.IsZero() {
		if err := doc.Thresholds.Decode(&p); err != nil {
			return domain.ThresholdProfile{}, &domain.ConfigurationError{Tier: string(doc.Base), Reason: fmt.Sprintf("invalid thresholds: %v", err)}
		}
	}
	p.Tier = doc.Base

	if err := Validate(p); err != nil {
		return domain.ThresholdProfile{}, err
	}
	if err := ValidateOrdering(p); err != nil {
		return domain.ThresholdProfile{}, err
	}
	return p, nil
}

// Watch re-loads the document at path whenever it is written, until ctx is
// done. Invalid documents are logged and the active profile is kept.
func (m *Manager) Watch(ctx context.Context, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create profile watcher: %w", err)
	}
	// Watch the directory: editors often replace files via rename.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch profile directory: %w", err)
	}

	target := filepath.Clean(path)
	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target || !ev.Has(fsnotify.Write|fsnotify.Create) {
					continue
				}
				p, err := m.Load(path)
				if err != nil {
					slog.Warn("profile reload rejected", "path", path, "error", err)
					continue
				}
				slog.Info("profile reloaded", "path", path, "tier", p.Tier, "version", p.Version)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Warn("profile watcher error", "error", err)
			}
		}
	}()
	return nil
}

func (m *Manager) swap(p domain.ThresholdProfile) domain.ThresholdProfile {
	m.swapMu.Lock()
	defer m.swapMu.Unlock()

	m.version++
	p.Version = m.version
	m.active.Store(&p)

	m.mu.Lock()
	callbacks := append([]func(domain.ThresholdProfile){}, m.onChange...)
	m.mu.Unlock()
	for _, fn := range callbacks {
		fn(p)
	}
	return p
}
