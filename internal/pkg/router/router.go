// Package router implements the process-wide registry that resolves an
// absolute path to the mount that owns it, by longest matching prefix. It
// is the process-wide-singleton idiom the teacher applies to
// credential.Manager and to the default logger, applied here to mount
// bookkeeping instead.
package router

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Mounted is the subset of vfs.Mount the router needs: a stable, absolute,
// canonicalized root path. Kept as an interface so router has no import
// dependency on vfs (the hook package imports both).
type Mounted interface {
	Root() string
}

// ErrAlreadyMounted is returned by Register when a mount already exists at
// the exact same canonical root.
type ErrAlreadyMounted struct {
	Root string
}

func (e *ErrAlreadyMounted) Error() string {
	return fmt.Sprintf("router: %q is already mounted", e.Root)
}

// Router is the mount registry. The zero value is not usable; use New.
type Router struct {
	mu     sync.RWMutex
	mounts map[string]Mounted
}

func New() *Router {
	return &Router{mounts: map[string]Mounted{}}
}

// Register adds mount to the registry. It fails if any existing mount's
// canonical root equals mount.Root(); overlapping/nested roots are fine.
func (r *Router) Register(m Mounted) error {
	root := m.Root()
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.mounts[root]; exists {
		return &ErrAlreadyMounted{Root: root}
	}
	r.mounts[root] = m
	return nil
}

// UnregisterAll removes every registered mount.
func (r *Router) UnregisterAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mounts = map[string]Mounted{}
}

// UnregisterMount removes a specific mount, if still registered.
func (r *Router) UnregisterMount(m Mounted) {
	r.UnregisterRoot(m.Root())
}

// UnregisterRoot removes whatever mount is registered at root.
func (r *Router) UnregisterRoot(root string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.mounts, root)
}

// Resolve returns the mount owning absPath (the one whose root is the
// longest prefix of absPath) and the path relative to that mount's root.
// It returns ok=false if no registered mount contains absPath.
func (r *Router) Resolve(absPath string) (m Mounted, relpath string, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var bestRoot string
	var best Mounted
	for root, mount := range r.mounts {
		if !isWithin(absPath, root) {
			continue
		}
		if len(root) > len(bestRoot) {
			bestRoot, best = root, mount
		}
	}
	if best == nil {
		return nil, "", false
	}
	rel := strings.TrimPrefix(absPath, bestRoot)
	rel = strings.TrimPrefix(rel, "/")
	return best, rel, true
}

// isWithin reports whether path equals root or is a descendant of it,
// matching path components rather than doing a naive string-prefix check
// (so "/mnt/ab" is not considered within "/mnt/a").
func isWithin(path, root string) bool {
	if path == root {
		return true
	}
	return strings.HasPrefix(path, root+"/")
}

// Roots returns every registered mount root, longest first, useful for
// debugging/inspection.
func (r *Router) Roots() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	roots := make([]string, 0, len(r.mounts))
	for root := range r.mounts {
		roots = append(roots, root)
	}
	sort.Slice(roots, func(i, j int) bool { return len(roots[i]) > len(roots[j]) })
	return roots
}

// global is the process-wide router instance consulted by the hook
// dispatcher.
var global = New()

// Global returns the process-wide Router singleton.
func Global() *Router { return global }
