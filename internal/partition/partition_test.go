package partition

import "testing"

func TestUnpartitionedReturnsEmptyPath(t *testing.T) {
	values, err := Unpartitioned.Partition([]byte("k"), []byte("v"))
	if err != nil {
		t.Fatalf("Partition() error = %v", err)
	}
	if len(values) != 0 {
		t.Fatalf("Partition() = %v, want empty", values)
	}
	if got := Path(values); got != "" {
		t.Fatalf("Path() = %q, want empty", got)
	}
}

func TestPathJoinsComponents(t *testing.T) {
	got := Path([]string{"2026", "07", "30"})
	want := "2026/07/30"
	if got != want {
		t.Fatalf("Path() = %q, want %q", got, want)
	}
}

func TestPathEscapesSeparatorsToAvoidCollision(t *testing.T) {
	a := Path([]string{"a/b", "c"})
	b := Path([]string{"a", "b/c"})
	if a == b {
		t.Fatalf("Path() collided: %q == %q for different splits", a, b)
	}
}

func TestRegistryAssignsStableDenseIDs(t *testing.T) {
	r := NewRegistry()
	id1 := r.IDFor("p0")
	id2 := r.IDFor("p1")
	id1Again := r.IDFor("p0")

	if id1 != 0 || id2 != 1 {
		t.Fatalf("IDFor() = %d, %d, want 0, 1", id1, id2)
	}
	if id1Again != id1 {
		t.Fatalf("IDFor() reassigned id for p0: %d != %d", id1Again, id1)
	}
	if r.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", r.Len())
	}
}

func TestRegistryPathForRoundTrips(t *testing.T) {
	r := NewRegistry()
	id := r.IDFor("p0")

	path, ok := r.PathFor(id)
	if !ok || path != "p0" {
		t.Fatalf("PathFor(%d) = %q, %v, want \"p0\", true", id, path, ok)
	}
	if _, ok := r.PathFor(99); ok {
		t.Fatalf("PathFor(99) ok = true, want false for unseen id")
	}
}
