// Package sentinel implements the synthetic marker file exposed at the
// root of every mount so downstream tools can detect a streaming mount
// without special-casing the library.
package sentinel

import (
	"bytes"
	"io/fs"
	"time"
)

// Name is the file's name, relative to a mount root.
const Name = ".dagshub-streaming"

// Payload is the fixed content of the sentinel file.
var Payload = []byte("v0\n")

// Open returns a readable, closable handle over Payload. It
// satisfies io/fs.File and is never backed by a real file on disk.
func Open() fs.File {
	return &file{r: bytes.NewReader(Payload)}
}

type file struct {
	r *bytes.Reader
}

func (f *file) Stat() (fs.FileInfo, error) { return Info(), nil }
func (f *file) Read(b []byte) (int, error) { return f.r.Read(b) }
func (f *file) Close() error               { return nil }

// Info returns the fixed fs.FileInfo reported for the sentinel file: a
// regular file, mode 0o644, zeroed timestamps, size equal to len(Payload).
func Info() fs.FileInfo { return info{} }

type info struct{}

func (info) Name() string       { return Name }
func (info) Size() int64        { return int64(len(Payload)) }
func (info) Mode() fs.FileMode  { return 0o644 }
func (info) ModTime() time.Time { return time.Time{} }
func (info) IsDir() bool        { return false }
func (info) Sys() interface{}   { return nil }

// DirEntry returns the fs.DirEntry reported for the sentinel file in a
// ReadDir result.
func DirEntry() fs.DirEntry { return dirEntry{} }

type dirEntry struct{}

func (dirEntry) Name() string               { return Name }
func (dirEntry) IsDir() bool                { return false }
func (dirEntry) Type() fs.FileMode          { return 0 }
func (dirEntry) Info() (fs.FileInfo, error) { return Info(), nil }
