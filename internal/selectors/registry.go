// Self-healing selector registry for browser automation.
//
// Each selector group (e.g. "prompt_field") stores a list of CSS selectors
// in priority order. When a selector succeeds it gets promoted to the front;
// when it fails it gets demoted to the back. The ordering persists to a JSON
// file between sessions, so selector rot on the target sites heals itself
// without a code deploy.

package selectors

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/ternarybob/arbor"
)

// Registry manages ordered selector groups with promote/demote learning.
// It is shared mutable state across workers and the UI, so all operations
// are mutex-guarded and every mutation rewrites the whole backing file.
type Registry struct {
	path   string
	groups map[string][]string
	mu     sync.Mutex
	logger arbor.ILogger
}

// NewRegistry loads (or initializes) a registry backed by the file at path.
// A corrupt or missing file degrades to an empty registry rather than
// failing startup.
func NewRegistry(path string, logger arbor.ILogger) *Registry {
	r := &Registry{
		path:   path,
		groups: make(map[string][]string),
		logger: logger,
	}
	r.load()
	return r
}

// RegisterGroup registers a selector group with default ordering.
// If the group already exists (loaded from disk), this is a no-op so the
// learned ordering is preserved.
func (r *Registry) RegisterGroup(name string, selectors []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.groups[name]; ok {
		return
	}
	r.groups[name] = append([]string(nil), selectors...)
	r.save()
}

// Selectors returns the group's selectors in current priority order.
// Unknown groups yield an empty slice; callers must handle that.
func (r *Registry) Selectors(name string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]string(nil), r.groups[name]...)
}

// Promote moves a selector to the front of its group (it worked).
// No-op if the group or selector is unknown.
func (r *Registry) Promote(name, selector string) {
	r.reorder(name, selector, true)
}

// Demote moves a selector to the back of its group (it failed).
// No-op if the group or selector is unknown.
func (r *Registry) Demote(name, selector string) {
	r.reorder(name, selector, false)
}

func (r *Registry) reorder(name, selector string, front bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	group, ok := r.groups[name]
	if !ok {
		return
	}

	idx := -1
	for i, s := range group {
		if s == selector {
			idx = i
			break
		}
	}
	if idx < 0 {
		return
	}

	rest := append(append([]string(nil), group[:idx]...), group[idx+1:]...)
	if front {
		r.groups[name] = append([]string{selector}, rest...)
	} else {
		r.groups[name] = append(rest, selector)
	}
	r.save()
}

// ResetGroup force-overwrites a group's selector order
func (r *Registry) ResetGroup(name string, selectors []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.groups[name] = append([]string(nil), selectors...)
	r.save()
}

// GroupNames returns the registered group names
func (r *Registry) GroupNames() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.groups))
	for name := range r.groups {
		names = append(names, name)
	}
	return names
}

// load reads the registry file. Must not be called with the mutex held
// during construction only.
func (r *Registry) load() {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if !os.IsNotExist(err) {
			r.logger.Warn().Err(err).Str("path", r.path).Msg("Failed to load selector registry")
		}
		return
	}

	groups := make(map[string][]string)
	if err := json.Unmarshal(data, &groups); err != nil {
		r.logger.Warn().Err(err).Str("path", r.path).Msg("Selector registry file is corrupt - starting empty")
		return
	}

	r.groups = groups
	r.logger.Debug().Int("groups", len(groups)).Msg("Selector registry loaded")
}

// save rewrites the whole registry document via temp file + rename so a
// crash mid-write never leaves a corrupt file. Caller holds the mutex.
func (r *Registry) save() {
	data, err := json.MarshalIndent(r.groups, "", "  ")
	if err != nil {
		r.logger.Warn().Err(err).Msg("Failed to serialize selector registry")
		return
	}

	dir := filepath.Dir(r.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		r.logger.Warn().Err(err).Str("path", r.path).Msg("Failed to create selector registry directory")
		return
	}

	tmp, err := os.CreateTemp(dir, ".selectors-*")
	if err != nil {
		r.logger.Warn().Err(err).Str("path", r.path).Msg("Failed to create selector registry temp file")
		return
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		r.logger.Warn().Err(err).Str("path", r.path).Msg("Failed to write selector registry")
		return
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		r.logger.Warn().Err(err).Str("path", r.path).Msg("Failed to write selector registry")
		return
	}

	if err := os.Rename(tmp.Name(), r.path); err != nil {
		os.Remove(tmp.Name())
		r.logger.Warn().Err(err).Str("path", r.path).Msg("Failed to save selector registry")
	}
}
