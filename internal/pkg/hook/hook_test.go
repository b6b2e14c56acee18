package hook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dagshub/streamfs/internal/pkg/remote"
	"github.com/dagshub/streamfs/internal/pkg/router"
	"github.com/dagshub/streamfs/internal/pkg/sentinel"
	"github.com/dagshub/streamfs/internal/pkg/vfs"
)

func fakeRemote(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.Contains(r.URL.Path, "/branches/main"):
			json.NewEncoder(w).Encode(map[string]any{"commit": map[string]any{"id": "rev1"}})
		case strings.HasSuffix(r.URL.Path, "/raw/rev1/README.md"):
			w.Write([]byte("hello\n"))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

func newMountedFixture(t *testing.T) (*vfs.Mount, string) {
	t.Helper()
	t.Cleanup(router.Global().UnregisterAll)

	srv := fakeRemote(t)
	t.Cleanup(srv.Close)
	host := strings.TrimPrefix(srv.URL, "https://")
	rc := remote.New(host, "owner", "repo", nil, remote.WithHTTPClient(srv.Client()))

	root := t.TempDir()
	m, err := vfs.New(context.Background(), vfs.Options{
		Root: root, Host: host, Owner: "owner", Repo: "repo",
		Revision: "main", RemoteClient: rc,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := Install(m); err != nil {
		t.Fatal(err)
	}
	return m, root
}

func TestOpenRoutesThroughInstalledMount(t *testing.T) {
	_, root := newMountedFixture(t)

	f, err := Open(filepath.Join(root, "README.md"))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	b, err := io.ReadAll(f)
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != "hello\n" {
		t.Fatalf("got %q", b)
	}
}

func TestOpenOutsideAnyMountPassesThrough(t *testing.T) {
	newMountedFixture(t)

	dir := t.TempDir()
	p := filepath.Join(dir, "plain.txt")
	if err := os.WriteFile(p, []byte("plain"), 0o644); err != nil {
		t.Fatal(err)
	}
	f, err := Open(p)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	b, _ := io.ReadAll(f)
	if string(b) != "plain" {
		t.Fatalf("expected passthrough read, got %q", b)
	}
}

func TestStatOnMountRootSeesSentinel(t *testing.T) {
	_, root := newMountedFixture(t)
	fi, err := Stat(filepath.Join(root, sentinel.Name))
	if err != nil {
		t.Fatal(err)
	}
	if fi.IsDir() {
		t.Fatal("sentinel is not a directory")
	}
}

func TestUninstallMountStopsRouting(t *testing.T) {
	m, root := newMountedFixture(t)
	UninstallMount(m)

	// With the mount gone, opening a path that was never materialized
	// locally now fails like a plain missing file rather than fetching it.
	_, err := Open(filepath.Join(root, "never-fetched.md"))
	if !os.IsNotExist(err) {
		t.Fatalf("expected a plain not-exist error post-uninstall, got %v", err)
	}
}

func TestChdirIntoMountRootChangesDirectory(t *testing.T) {
	m, root := newMountedFixture(t)
	_ = m

	cwd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	defer os.Chdir(cwd)

	if err := Chdir(root); err != nil {
		t.Fatal(err)
	}
	got, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	resolvedRoot, _ := filepath.EvalSymlinks(root)
	resolvedGot, _ := filepath.EvalSymlinks(got)
	if resolvedGot != resolvedRoot {
		t.Fatalf("expected cwd %q, got %q", resolvedRoot, resolvedGot)
	}
}
