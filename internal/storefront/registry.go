package storefront

import (
	"fmt"
	"sort"
	"sync"

	"orderbot/internal/settle"
)

// Factory builds an adapter from a resolved profile.
type Factory func(p Profile, policy settle.Policy) (Adapter, error)

type platform struct {
	preset func() Profile
	build  Factory
}

var (
	registryMu sync.RWMutex
	registry   = map[string]platform{}
)

// Register makes a platform available by name. Platform packages call it
// from init.
func Register(name string, preset func() Profile, build Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, dup := registry[name]; dup {
		panic("storefront: Register called twice for platform " + name)
	}
	registry[name] = platform{preset: preset, build: build}
}

// Preset returns the built-in profile of a platform.
func Preset(name string) (Profile, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	pl, ok := registry[name]
	if !ok {
		return Profile{}, false
	}
	return pl.preset(), true
}

// New builds the adapter for p.Platform.
func New(p Profile, policy settle.Policy) (Adapter, error) {
	registryMu.RLock()
	pl, ok := registry[p.Platform]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("storefront %q: unknown platform %q (known: %v)", p.Name, p.Platform, Platforms())
	}
	return pl.build(p, policy)
}

// Platforms lists registered platform names.
func Platforms() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
