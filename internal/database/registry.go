package database

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/roach88/litewatch/internal/core"
)

// Registry tracks which database files are open in this process.
//
// At most one Database may hold a given file path at a time. In-memory
// databases are exempt. Construct one Registry per process and hand it to
// every OpenFile call; tests construct their own.
//
// Thread-safety: all methods are safe for concurrent use.
type Registry struct {
	mu    sync.Mutex
	paths map[string]struct{}
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{paths: make(map[string]struct{})}
}

// Acquire claims path and returns the normalized key to pass to Release.
// In-memory paths always succeed and return an empty key.
// A path already held fails with core.ErrCodePathConflict.
func (r *Registry) Acquire(path string) (string, error) {
	if core.IsMemoryPath(path) {
		return "", nil
	}

	key, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve path %q: %w", path, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, held := r.paths[key]; held {
		return "", core.NewPathConflictError(key)
	}
	r.paths[key] = struct{}{}
	return key, nil
}

// Release gives up a key returned by Acquire. Releasing an empty or
// unknown key is a no-op.
func (r *Registry) Release(key string) {
	if key == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.paths, key)
}

// IsOpen reports whether path is currently held.
func (r *Registry) IsOpen(path string) bool {
	if core.IsMemoryPath(path) {
		return false
	}
	key, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	_, held := r.paths[key]
	return held
}

// Len returns the number of held paths.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.paths)
}
