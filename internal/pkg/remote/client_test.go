package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	// baseURL() always targets https://, so the fake server must speak TLS
	// too; srv.Client() trusts its self-signed certificate.
	srv := httptest.NewTLSServer(handler)
	c := New(strings.TrimPrefix(srv.URL, "https://"), "owner", "repo", nil, WithHTTPClient(srv.Client()))
	return c, srv
}

func TestResolveRevisionByBranchName(t *testing.T) {
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "/branches/main") {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"commit": map[string]any{"id": "abc1234"},
		})
	})
	defer srv.Close()

	rev, err := c.ResolveRevision(context.Background(), "main")
	if err != nil {
		t.Fatal(err)
	}
	if rev != "abc1234" {
		t.Fatalf("got %q", rev)
	}
}

func TestResolveRevisionBySHAVerifiesExistence(t *testing.T) {
	sha := "deadbeefcafe"
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "/commits/"+sha) {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	})
	defer srv.Close()

	rev, err := c.ResolveRevision(context.Background(), sha)
	if err != nil {
		t.Fatal(err)
	}
	if rev != sha {
		t.Fatalf("got %q", rev)
	}
}

func TestResolveRevisionUnknownBranch(t *testing.T) {
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	defer srv.Close()

	_, err := c.ResolveRevision(context.Background(), "nope")
	if !errors.Is(err, ErrRevisionNotFound) {
		t.Fatalf("expected ErrRevisionNotFound, got %v", err)
	}
}

func TestListDirCachesAcrossCalls(t *testing.T) {
	calls := 0
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		json.NewEncoder(w).Encode([]Entry{{Path: "data", Type: "dir"}})
	})
	defer srv.Close()

	for i := 0; i < 3; i++ {
		entries, err := c.ListDir(context.Background(), "main", "", false)
		if err != nil {
			t.Fatal(err)
		}
		if len(entries) != 1 || entries[0].Name() != "data" || !entries[0].IsDir() {
			t.Fatalf("got %+v", entries)
		}
	}
	if calls != 1 {
		t.Fatalf("expected exactly one remote call, got %d", calls)
	}
}

func TestListDirIncludeSizeSatisfiesPlainLookup(t *testing.T) {
	calls := 0
	size := int64(42)
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		json.NewEncoder(w).Encode([]Entry{{Path: "a.csv", Type: "file", Size: &size}})
	})
	defer srv.Close()

	if _, err := c.ListDir(context.Background(), "main", "", true); err != nil {
		t.Fatal(err)
	}
	entries, err := c.ListDir(context.Background(), "main", "", false)
	if err != nil {
		t.Fatal(err)
	}
	if calls != 1 {
		t.Fatalf("expected the size-inclusive listing to satisfy the plain lookup, got %d calls", calls)
	}
	if entries[0].Size == nil || *entries[0].Size != 42 {
		t.Fatalf("got %+v", entries)
	}
}

func TestListDirNotFound(t *testing.T) {
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	defer srv.Close()

	_, err := c.ListDir(context.Background(), "main", "missing", false)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFetchFileReturnsRawBytes(t *testing.T) {
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "/raw/main/data/train.csv") {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte("a,b,c\n1,2,3\n"))
	})
	defer srv.Close()

	b, err := c.FetchFile(context.Background(), "main", "data/train.csv")
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != "a,b,c\n1,2,3\n" {
		t.Fatalf("got %q", b)
	}
}

func TestUnauthenticatedRequestOn401IsNotRetried(t *testing.T) {
	calls := 0
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusUnauthorized)
	})
	defer srv.Close()
	// With no credential.Store wired, there is no bearer token to
	// invalidate, so the retry-on-401 path is never entered.
	_, err := c.FetchFile(context.Background(), "main", "f.txt")
	var rerr *Error
	if !errors.As(err, &rerr) || rerr.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected a 401 Error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected exactly one call, got %d", calls)
	}
}
