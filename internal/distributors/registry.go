// Package distributors holds the distribution service backends. Each backend
// registers itself at init time; orchestration code resolves backends by slug
// through Get and never references a concrete type.
package distributors

import (
	"fmt"
	"sort"
	"sync"

	"github.com/melodana/songforge/internal/interfaces"
)

var (
	mu       sync.RWMutex
	backends = make(map[string]interfaces.Distributor)
)

// Register adds a backend under its slug. Registering the same slug twice
// is a programming error.
func Register(d interfaces.Distributor) {
	mu.Lock()
	defer mu.Unlock()
	if _, exists := backends[d.Slug()]; exists {
		panic(fmt.Sprintf("distributor %q registered twice", d.Slug()))
	}
	backends[d.Slug()] = d
}

// Get returns the backend registered under slug
func Get(slug string) (interfaces.Distributor, error) {
	mu.RLock()
	defer mu.RUnlock()
	d, ok := backends[slug]
	if !ok {
		return nil, fmt.Errorf("unknown distributor %q", slug)
	}
	return d, nil
}

// List returns all registered backends sorted by slug
func List() []interfaces.Distributor {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]interfaces.Distributor, 0, len(backends))
	for _, d := range backends {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slug() < out[j].Slug() })
	return out
}
