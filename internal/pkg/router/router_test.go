package router

import "testing"

type mockMount struct{ root string }

func (m mockMount) Root() string { return m.root }

func TestResolveExactRoot(t *testing.T) {
	r := New()
	if err := r.Register(mockMount{"/home/user/repo"}); err != nil {
		t.Fatal(err)
	}
	m, rel, ok := r.Resolve("/home/user/repo")
	if !ok || rel != "" {
		t.Fatalf("got m=%v rel=%q ok=%v", m, rel, ok)
	}
}

func TestResolveChildPath(t *testing.T) {
	r := New()
	r.Register(mockMount{"/home/user/repo"})
	_, rel, ok := r.Resolve("/home/user/repo/data/train.csv")
	if !ok || rel != "data/train.csv" {
		t.Fatalf("got rel=%q ok=%v", rel, ok)
	}
}

func TestResolveOutsideAnyMount(t *testing.T) {
	r := New()
	r.Register(mockMount{"/home/user/repo"})
	_, _, ok := r.Resolve("/home/user/other")
	if ok {
		t.Fatal("expected no match")
	}
}

func TestFalsePrefixIsNotAMatch(t *testing.T) {
	r := New()
	r.Register(mockMount{"/mnt/a"})
	_, _, ok := r.Resolve("/mnt/ab/file")
	if ok {
		t.Fatal("/mnt/ab should not resolve under /mnt/a")
	}
}

func TestCantMountSameRootTwice(t *testing.T) {
	r := New()
	if err := r.Register(mockMount{"/repo"}); err != nil {
		t.Fatal(err)
	}
	err := r.Register(mockMount{"/repo"})
	if _, ok := err.(*ErrAlreadyMounted); !ok {
		t.Fatalf("expected ErrAlreadyMounted, got %v", err)
	}
}

func TestNestingPriority(t *testing.T) {
	r := New()
	r.Register(mockMount{"/repo"})
	r.Register(mockMount{"/repo/sub"})

	m, rel, ok := r.Resolve("/repo/sub/file.csv")
	if !ok {
		t.Fatal("expected a match")
	}
	if got := m.(mockMount).root; got != "/repo/sub" {
		t.Fatalf("expected the more specific mount to win, got %q", got)
	}
	if rel != "file.csv" {
		t.Fatalf("got rel=%q", rel)
	}
}

func TestNestingPriorityReverseOrder(t *testing.T) {
	r := New()
	// Same as TestNestingPriority but registered in the opposite order,
	// confirming resolution depends on root specificity, not insertion order.
	r.Register(mockMount{"/repo/sub"})
	r.Register(mockMount{"/repo"})

	m, _, ok := r.Resolve("/repo/sub/file.csv")
	if !ok || m.(mockMount).root != "/repo/sub" {
		t.Fatalf("expected /repo/sub to win regardless of registration order, got %v", m)
	}

	m2, rel2, ok := r.Resolve("/repo/other.csv")
	if !ok || m2.(mockMount).root != "/repo" || rel2 != "other.csv" {
		t.Fatalf("expected /repo to own its own direct children, got m=%v rel=%q", m2, rel2)
	}
}

func TestUnregisterRoot(t *testing.T) {
	r := New()
	r.Register(mockMount{"/repo"})
	r.UnregisterRoot("/repo")
	if _, _, ok := r.Resolve("/repo"); ok {
		t.Fatal("expected mount to be gone after unregister")
	}
}

func TestUnregisterAll(t *testing.T) {
	r := New()
	r.Register(mockMount{"/repo"})
	r.Register(mockMount{"/other"})
	r.UnregisterAll()
	if len(r.Roots()) != 0 {
		t.Fatalf("expected no roots left, got %v", r.Roots())
	}
}

func TestRootsLongestFirst(t *testing.T) {
	r := New()
	r.Register(mockMount{"/a"})
	r.Register(mockMount{"/a/b/c"})
	r.Register(mockMount{"/a/b"})

	roots := r.Roots()
	for i := 1; i < len(roots); i++ {
		if len(roots[i-1]) < len(roots[i]) {
			t.Fatalf("Roots() not longest-first: %v", roots)
		}
	}
}
