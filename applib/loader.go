// Package applib resolves the `module:attribute`-style application
// reference named on the command line into an asgi.App, and runs
// synchronous application callables on a bounded worker pool (spec.md
// §5, §9).
package applib

import (
	"fmt"
	"sync"

	"github.com/webasgi/asgid/asgi"
)

// Loader resolves a reference string into a runnable application.
// Go has no dotted-import-by-string the way the source language does,
// so the built-in Loader is registry-based (spec.md §9: "the
// application may be linked statically") rather than reflective.
type Loader interface {
	Load(ref string) (asgi.App, error)
}

// Registry is a process-wide table of named applications, populated by
// the embedding program's main package before the CLI resolves its
// positional `module:attribute` argument.
type Registry struct {
	mu   sync.RWMutex
	apps map[string]asgi.App
}

func NewRegistry() *Registry {
	return &Registry{apps: make(map[string]asgi.App)}
}

// Register makes app available under name for later Load calls. Called
// from an embedding program's init or main, before Load.
func (r *Registry) Register(name string, app asgi.App) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.apps[name] = app
}

// Load implements Loader, resolving ref against the registered names.
func (r *Registry) Load(ref string) (asgi.App, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	app, ok := r.apps[ref]
	if !ok {
		return nil, fmt.Errorf("applib: no application registered under %q", ref)
	}
	return app, nil
}

// DefaultRegistry is the registry the CLI resolves against unless a
// different Loader is supplied.
var DefaultRegistry = NewRegistry()

// Register adds app to DefaultRegistry.
func Register(name string, app asgi.App) {
	DefaultRegistry.Register(name, app)
}
