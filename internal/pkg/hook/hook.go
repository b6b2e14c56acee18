// Package hook is the Go-native substitute for the original
// implementation's runtime monkey-patching of io.open/os.stat/os.listdir/
// os.scandir/os.chdir. Go cannot replace those stdlib functions in place,
// so this package gives application code an explicit, equivalent surface:
// call hook.Open instead of os.Open once a mount is installed. See
// SPEC_FULL.md 4.5 for the rationale.
package hook

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/dagshub/streamfs/internal/pkg/router"
	"github.com/dagshub/streamfs/internal/pkg/vfs"
)

// resolve converts an absolute-or-relative filesystem path to an absolute
// path and looks it up in the global router.
func resolve(name string) (*vfs.Mount, string, bool) {
	abs, err := filepath.Abs(name)
	if err != nil {
		return nil, "", false
	}
	m, relpath, ok := router.Global().Resolve(abs)
	if !ok {
		return nil, "", false
	}
	mount, ok := m.(*vfs.Mount)
	if !ok {
		return nil, "", false
	}
	if relpath == "" {
		relpath = "."
	}
	return mount, relpath, true
}

// Open routes a read-oriented open through the owning mount, materializing
// the file on first touch; if name falls outside every mounted root it
// passes straight through to os.Open.
func Open(name string) (fs.File, error) {
	m, rel, ok := resolve(name)
	if !ok {
		return os.Open(name)
	}
	return m.Open(context.Background(), rel)
}

// OpenFile is the pass-through entry point for write-oriented opens:
// per spec.md, writes are never virtualized, so this always goes straight
// to the local materialization directory via the ordinary os primitive.
// It still routes through os.OpenFile so the call succeeds against a path
// that lives inside a mount, since the mount root doubles as plain local
// storage.
func OpenFile(name string, flag int, perm os.FileMode) (*os.File, error) {
	return os.OpenFile(name, flag, perm)
}

// Stat routes a stat through the owning mount, synthesizing a placeholder
// for paths known only from a remote listing.
func Stat(name string) (fs.FileInfo, error) {
	m, rel, ok := resolve(name)
	if !ok {
		return os.Stat(name)
	}
	return m.Stat(context.Background(), rel)
}

// ReadDir routes a directory read through the owning mount, unioning the
// local and remote views.
func ReadDir(name string) ([]fs.DirEntry, error) {
	m, rel, ok := resolve(name)
	if !ok {
		return os.ReadDir(name)
	}
	return m.ReadDir(context.Background(), rel)
}

// Chdir resolves name against the owning mount (materializing ancestor
// directories as needed) before handing off to os.Chdir.
func Chdir(name string) error {
	m, rel, ok := resolve(name)
	if !ok {
		return os.Chdir(name)
	}
	local, err := m.Chdir(context.Background(), rel)
	if err != nil {
		return err
	}
	return os.Chdir(local)
}

// Install registers m with the global router, making its root and every
// path beneath it route through Open/Stat/ReadDir/Chdir above.
func Install(m *vfs.Mount) error {
	if err := router.Global().Register(m); err != nil {
		return err
	}
	m.MarkHooksInstalled()
	return nil
}

// UninstallAll removes every installed mount from the global router.
func UninstallAll() {
	router.Global().UnregisterAll()
}

// UninstallMount removes a single mount from the global router.
func UninstallMount(m *vfs.Mount) {
	router.Global().UnregisterMount(m)
	m.MarkHooksUninstalled()
}

// UninstallRoot removes whatever mount is registered at root.
func UninstallRoot(root string) {
	router.Global().UnregisterRoot(root)
}
