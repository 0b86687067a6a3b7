// Package separation splits a mixed audio track into vocals and
// accompaniment by driving an external two-stem source-separation helper.
package separation

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Result holds the two stems a separation run produces. Both paths verify as
// non-empty regular files before the result is returned.
type Result struct {
	VocalsPath        string
	AccompanimentPath string
}

// Engine separates one normalized wav file into stems inside outDir.
// Implementations must not modify the input file.
type Engine interface {
	// Name returns the engine identifier (for logging and registry lookup).
	Name() string

	// Available reports whether the engine can run in this environment.
	Available() bool

	// Separate writes vocals and accompaniment stems under outDir.
	Separate(ctx context.Context, wavPath, outDir string) (*Result, error)
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Engine)
)

// Register adds an engine to the registry, replacing any previous engine of
// the same name.
func Register(engine Engine) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[engine.Name()] = engine
}

// Get returns the named engine.
func Get(name string) (Engine, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	engine, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown separation engine %q", name)
	}
	return engine, nil
}

// Names returns the registered engine names, sorted.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
