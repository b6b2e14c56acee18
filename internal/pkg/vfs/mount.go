// Package vfs implements a single mounted view of a remote repository at a
// pinned revision: the part of the system that decides, for a given path
// under a mount root, whether to serve it from local disk, materialize it
// from the remote on first touch, or synthesize it (the sentinel file, a
// stat for a not-yet-materialized blob). It is the Go-native replacement
// for the monkey-patched primitives in the original filesystem module; see
// SPEC_FULL.md 4.5 for the redesign this package implements.
package vfs

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	securejoin "github.com/cyphar/filepath-securejoin"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/dagshub/streamfs/internal/pkg/credential"
	"github.com/dagshub/streamfs/internal/pkg/dlog"
	"github.com/dagshub/streamfs/internal/pkg/remote"
	"github.com/dagshub/streamfs/internal/pkg/sentinel"
)

// State tracks a mount's lifecycle, mirroring the teacher's endpoint.Config
// connection states (Unknown/Ready/...).
type State int

const (
	StateUninitialized State = iota
	StateRevisionResolved
	StateHooksInstalled
	StateHooksUninstalled
)

// reservedPrefixes are subtrees the mount never virtualizes: they pass
// straight through to the local filesystem, matching the original's
// special-casing of VCS/DVC metadata directories.
var reservedPrefixes = []string{".git", ".dvc"}

// placeholderSize is reported for a synthetic (not-yet-materialized) file's
// stat, matching the original implementation's fixed placeholder.
const placeholderSize = 1100

// listKey identifies one cached remote directory listing.
type listKey struct {
	relpath     string
	includeSize bool
}

// Mount is one mounted repository revision rooted at a local directory.
// Its Open/Stat/ReadDir methods are shaped after io/fs.FS, fs.StatFS and
// fs.ReadDirFS but take a leading context.Context, so Mount does not itself
// satisfy those interfaces. Relpaths follow the io/fs path rules: "." for
// the mount root, forward-slash separated, no leading slash, no ".."
// elements.
type Mount struct {
	root     string
	revision string

	remote *remote.Client
	creds  *credential.Store

	mu           sync.Mutex
	state        State
	dirSnapshot  map[string]map[string]bool // relpath -> child name -> isDir
	listingGroup singleflight.Group
	fetchGroup   singleflight.Group
	listingCache *lru.Cache[listKey, []remote.Entry]
}

// Options configures a new Mount.
type Options struct {
	// Root is the local directory the mount virtualizes. Must already
	// exist; it doubles as the materialization cache directory.
	Root string

	Host  string
	Owner string
	Repo  string

	// Revision is a branch name, HEAD, or commit SHA to resolve. Required.
	Revision string

	Creds *credential.Store

	// RemoteClient overrides the constructed remote.Client, for tests.
	RemoteClient *remote.Client
}

// New resolves opts.Revision against the remote and returns a Mount ready
// to be registered with a router.Router.
func New(ctx context.Context, opts Options) (*Mount, error) {
	root, err := filepath.Abs(opts.Root)
	if err != nil {
		return nil, err
	}
	root = filepath.Clean(root)

	rc := opts.RemoteClient
	if rc == nil {
		rc = remote.New(opts.Host, opts.Owner, opts.Repo, opts.Creds)
	}

	cache, err := lru.New[listKey, []remote.Entry](256)
	if err != nil {
		return nil, err
	}

	m := &Mount{
		root:         root,
		remote:       rc,
		creds:        opts.Creds,
		dirSnapshot:  map[string]map[string]bool{},
		listingCache: cache,
		state:        StateUninitialized,
	}

	rev, err := rc.ResolveRevision(ctx, opts.Revision)
	if err != nil {
		return nil, err
	}
	m.revision = rev
	m.state = StateRevisionResolved

	dlog.Infof("vfs: mounted %s/%s@%s at %s", opts.Owner, opts.Repo, rev, root)
	return m, nil
}

// Root implements router.Mounted.
func (m *Mount) Root() string { return m.root }

// Revision returns the resolved commit SHA this mount is pinned to.
func (m *Mount) Revision() string { return m.revision }

// State reports the mount's lifecycle state.
func (m *Mount) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// setState transitions state, used by the hook package on install/uninstall.
func (m *Mount) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

// MarkHooksInstalled records that the hook package has registered this
// mount with the global router.
func (m *Mount) MarkHooksInstalled() { m.setState(StateHooksInstalled) }

// MarkHooksUninstalled records that the hook package has removed this
// mount from the global router.
func (m *Mount) MarkHooksUninstalled() { m.setState(StateHooksUninstalled) }

func isReserved(relpath string) bool {
	for _, p := range reservedPrefixes {
		if relpath == p || strings.HasPrefix(relpath, p+"/") {
			return true
		}
	}
	return false
}

func (m *Mount) localPath(relpath string) (string, error) {
	if relpath == "." {
		return m.root, nil
	}
	return securejoin.SecureJoin(m.root, relpath)
}

// Open is the context-taking counterpart of io/fs.FS.Open. Reserved paths and already-materialized files
// are served straight from local disk; the sentinel is served in memory;
// anything else is fetched from the remote, written atomically, and
// reopened locally.
func (m *Mount) Open(ctx context.Context, name string) (fs.File, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrInvalid}
	}

	if name == sentinel.Name {
		return sentinel.Open(), nil
	}

	local, err := m.localPath(name)
	if err != nil {
		return nil, &fs.PathError{Op: "open", Path: name, Err: err}
	}

	if isReserved(name) {
		return os.Open(local)
	}

	f, err := os.Open(local)
	if err == nil {
		return f, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	if err := m.materialize(ctx, name, local); err != nil {
		if errors.Is(err, remote.ErrNotFound) {
			return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
		}
		return nil, err
	}
	return os.Open(local)
}

// materialize downloads relpath's bytes from the remote and atomically
// installs them at local, deduplicating concurrent callers for the same
// path with a singleflight.Group (the teacher's buildkit image-layer
// fetcher dedupes concurrent pulls the same way).
func (m *Mount) materialize(ctx context.Context, relpath, local string) error {
	_, err, _ := m.fetchGroup.Do(relpath, func() (interface{}, error) {
		data, err := m.remote.FetchFile(ctx, m.revision, relpath)
		if err != nil {
			return nil, err
		}
		if err := os.MkdirAll(filepath.Dir(local), 0o755); err != nil {
			return nil, err
		}
		tmp := filepath.Join(filepath.Dir(local), "."+uuid.NewString()+".tmp")
		if err := os.WriteFile(tmp, data, 0o644); err != nil {
			os.Remove(tmp)
			return nil, err
		}
		if err := os.Rename(tmp, local); err != nil {
			os.Remove(tmp)
			return nil, err
		}
		return nil, nil
	})
	return err
}

// Stat is the context-taking counterpart of fs.StatFS.Stat. A path materialized or otherwise present on
// disk reports its real stat; one that is only known through a prior
// directory listing is synthesized with a placeholder size; anything
// neither local nor in a cached listing is fs.ErrNotExist.
func (m *Mount) Stat(ctx context.Context, name string) (fs.FileInfo, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "stat", Path: name, Err: fs.ErrInvalid}
	}
	if name == sentinel.Name {
		return sentinel.Info(), nil
	}

	local, err := m.localPath(name)
	if err != nil {
		return nil, &fs.PathError{Op: "stat", Path: name, Err: err}
	}

	if fi, err := os.Stat(local); err == nil {
		return fi, nil
	} else if !errors.Is(err, fs.ErrNotExist) || isReserved(name) {
		return nil, err
	}

	parent, base := path.Split(name)
	parent = strings.TrimSuffix(parent, "/")
	if parent == "" {
		parent = "."
	}
	isDir, known := m.snapshotLookup(parent, base)
	if !known {
		// No cached listing for the parent: fetch it, so a stat
		// immediately following a fresh mount still resolves.
		if err := m.ensureSnapshot(ctx, parent); err != nil {
			if errors.Is(err, remote.ErrNotFound) {
				return nil, &fs.PathError{Op: "stat", Path: name, Err: fs.ErrNotExist}
			}
			return nil, &fs.PathError{Op: "stat", Path: name, Err: err}
		}
		isDir, known = m.snapshotLookup(parent, base)
		if !known {
			return nil, &fs.PathError{Op: "stat", Path: name, Err: fs.ErrNotExist}
		}
	}
	return syntheticInfo{name: path.Base(name), isDir: isDir}, nil
}

// ensureSnapshot fetches and caches relpath's remote listing as a
// dirSnapshot entry if it isn't already known, without building the full
// union ReadDir produces.
func (m *Mount) ensureSnapshot(ctx context.Context, relpath string) error {
	m.mu.Lock()
	_, ok := m.dirSnapshot[relpath]
	m.mu.Unlock()
	if ok {
		return nil
	}
	entries, err := m.listDirCached(ctx, relpath, false)
	if err != nil {
		return err
	}
	children := make(map[string]bool, len(entries))
	for _, e := range entries {
		children[e.Name()] = e.IsDir()
	}
	m.cacheSnapshot(relpath, children)
	return nil
}

func (m *Mount) snapshotLookup(parent, base string) (isDir bool, known bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	children, ok := m.dirSnapshot[parent]
	if !ok {
		return false, false
	}
	isDir, ok = children[base]
	return isDir, ok
}

func (m *Mount) cacheSnapshot(relpath string, children map[string]bool) {
	m.mu.Lock()
	m.dirSnapshot[relpath] = children
	m.mu.Unlock()
}

// ReadDir is the context-taking counterpart of fs.ReadDirFS.ReadDir. The result is the union of whatever is
// already materialized on local disk and the remote listing, deduplicated
// by name; the mount root additionally always reports the sentinel.
func (m *Mount) ReadDir(ctx context.Context, name string) ([]fs.DirEntry, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: fs.ErrInvalid}
	}

	local, err := m.localPath(name)
	if err != nil {
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: err}
	}

	if isReserved(name) {
		return os.ReadDir(local)
	}

	byName := map[string]fs.DirEntry{}

	localEntries, localErr := os.ReadDir(local)
	if localErr != nil && !errors.Is(localErr, fs.ErrNotExist) {
		return nil, localErr
	}
	for _, e := range localEntries {
		byName[e.Name()] = e
	}

	if name == "." {
		if _, ok := byName[sentinel.Name]; !ok {
			byName[sentinel.Name] = sentinel.DirEntry()
		}
	}

	entries, remoteErr := m.listDirCached(ctx, name, false)
	if remoteErr != nil {
		if !errors.Is(remoteErr, remote.ErrNotFound) {
			return nil, &fs.PathError{Op: "readdir", Path: name, Err: remoteErr}
		}
		if localErr != nil {
			return nil, &fs.PathError{Op: "readdir", Path: name, Err: fs.ErrNotExist}
		}
	} else {
		children := make(map[string]bool, len(entries))
		for _, e := range entries {
			children[e.Name()] = e.IsDir()
			if _, ok := byName[e.Name()]; !ok {
				byName[e.Name()] = remoteDirEntry{e}
			}
		}
		m.cacheSnapshot(name, children)
	}

	out := make([]fs.DirEntry, 0, len(byName))
	for _, e := range byName {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out, nil
}

// listDirCached fetches and caches a remote directory listing, coalescing
// concurrent callers for the same (relpath, includeSize) with a
// singleflight.Group. A listing previously fetched with includeSize=true
// also satisfies a later includeSize=false lookup (remote.Client already
// applies this rule; the LRU layered on top here serves repeated Stat
// lookups without re-entering the client at all).
func (m *Mount) listDirCached(ctx context.Context, relpath string, includeSize bool) ([]remote.Entry, error) {
	key := listKey{relpath, includeSize}
	if v, ok := m.listingCache.Get(key); ok {
		return v, nil
	}
	if !includeSize {
		if v, ok := m.listingCache.Get(listKey{relpath, true}); ok {
			return v, nil
		}
	}

	sfKey := relpath
	if includeSize {
		sfKey += "\x00size"
	}
	v, err, _ := m.listingGroup.Do(sfKey, func() (interface{}, error) {
		apiPath := relpath
		if apiPath == "." {
			apiPath = ""
		}
		return m.remote.ListDir(ctx, m.revision, apiPath, includeSize)
	})
	if err != nil {
		return nil, err
	}
	entries := v.([]remote.Entry)
	return m.cacheListing(key, entries), nil
}

// cacheListing inserts entries under key unless doing so would evict a
// previously cached non-empty listing with an empty one; it always returns
// the listing now considered authoritative for key.
func (m *Mount) cacheListing(key listKey, entries []remote.Entry) []remote.Entry {
	if len(entries) == 0 {
		if existing, ok := m.listingCache.Get(key); ok && len(existing) > 0 {
			return existing
		}
	}
	m.listingCache.Add(key, entries)
	return entries
}

// Chdir resolves name to a local, materialized directory suitable for
// os.Chdir. Unlike Open/Stat/ReadDir it has no io/fs counterpart (the
// standard library has no chdir notion); the hook package is the only
// caller.
func (m *Mount) Chdir(ctx context.Context, name string) (string, error) {
	if !fs.ValidPath(name) {
		return "", &fs.PathError{Op: "chdir", Path: name, Err: fs.ErrInvalid}
	}
	local, err := m.localPath(name)
	if err != nil {
		return "", &fs.PathError{Op: "chdir", Path: name, Err: err}
	}
	if _, err := os.Stat(local); err == nil {
		return local, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return "", err
	}
	fi, err := m.Stat(ctx, name)
	if err != nil {
		return "", err
	}
	if !fi.IsDir() {
		return "", &fs.PathError{Op: "chdir", Path: name, Err: syscall.ENOTDIR}
	}
	if err := os.MkdirAll(local, 0o755); err != nil {
		return "", err
	}
	return local, nil
}

type syntheticInfo struct {
	name  string
	isDir bool
}

func (s syntheticInfo) Name() string { return s.name }
func (s syntheticInfo) Size() int64 {
	if s.isDir {
		return 0
	}
	return placeholderSize
}
func (s syntheticInfo) Mode() fs.FileMode {
	if s.isDir {
		return fs.ModeDir | 0o755
	}
	return 0o644
}
func (s syntheticInfo) ModTime() time.Time { return time.Time{} }
func (s syntheticInfo) IsDir() bool        { return s.isDir }
func (s syntheticInfo) Sys() interface{}   { return nil }

type remoteDirEntry struct {
	e remote.Entry
}

func (r remoteDirEntry) Name() string { return r.e.Name() }
func (r remoteDirEntry) IsDir() bool  { return r.e.IsDir() }
func (r remoteDirEntry) Type() fs.FileMode {
	if r.e.IsDir() {
		return fs.ModeDir
	}
	return 0
}
func (r remoteDirEntry) Info() (fs.FileInfo, error) {
	return syntheticInfo{name: r.e.Name(), isDir: r.e.IsDir()}, nil
}
