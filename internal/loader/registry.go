// Package loader evaluates pre-require modules and test files. Go cannot
// load source at run time, so test files and modules register themselves
// from init functions and are looked up by path or name.
package loader

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
)

var ErrNotRegistered = errors.New("not registered")

// FileFunc is the body of a test file
type FileFunc func(h *Handle)

// Module is evaluated before the test file. A non-nil Adapter changes how
// everything after it is loaded.
type Module func() Adapter

// Adapter wraps the current load function
type Adapter func(next LoadFunc) (LoadFunc, error)

type LoadFunc func(path string, h *Handle) error

// Transform builds an Adapter from opaque configuration
type Transform func(config json.RawMessage) (Adapter, error)

type Registry struct {
	mu         sync.RWMutex
	files      map[string]FileFunc
	modules    map[string]Module
	transforms map[string]Transform
}

func NewRegistry() *Registry {
	return &Registry{
		files:      make(map[string]FileFunc),
		modules:    make(map[string]Module),
		transforms: make(map[string]Transform),
	}
}

// Default is the registry used by RegisterFile, RegisterModule and
// RegisterTransform.
var Default = NewRegistry()

func RegisterFile(path string, fn FileFunc)      { Default.RegisterFile(path, fn) }
func RegisterModule(name string, m Module)       { Default.RegisterModule(name, m) }
func RegisterTransform(name string, t Transform) { Default.RegisterTransform(name, t) }

func (r *Registry) RegisterFile(path string, fn FileFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	path = filepath.Clean(path)
	if _, dup := r.files[path]; dup {
		panic(fmt.Sprintf("loader: test file %s registered twice", path))
	}
	r.files[path] = fn
}

func (r *Registry) RegisterModule(name string, m Module) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.modules[name]; dup {
		panic(fmt.Sprintf("loader: module %s registered twice", name))
	}
	r.modules[name] = m
}

func (r *Registry) RegisterTransform(name string, t Transform) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.transforms[name]; dup {
		panic(fmt.Sprintf("loader: transform %s registered twice", name))
	}
	r.transforms[name] = t
}

func (r *Registry) file(path string) (FileFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.files[filepath.Clean(path)]
	return fn, ok
}

func (r *Registry) module(name string) (Module, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.modules[name]
	return m, ok
}

func (r *Registry) transform(name string) (Transform, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.transforms[name]
	return t, ok
}

// Files lists registered test file paths
func (r *Registry) Files() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res := make([]string, 0, len(r.files))
	for p := range r.files {
		res = append(res, p)
	}
	sort.Strings(res)
	return res
}
