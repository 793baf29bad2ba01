package generate

import (
	"sync"
	"testing"
)

func TestTokenAuthority_Monotonic(t *testing.T) {
	t.Parallel()
	var a TokenAuthority

	if a.Current() != 0 {
		t.Fatalf("fresh authority at %d, want 0", a.Current())
	}

	gen := a.Bump()
	if gen != 1 {
		t.Errorf("first bump = %d, want 1", gen)
	}
	if !a.IsCurrent(gen) {
		t.Error("freshly bumped generation is not current")
	}

	a.Bump()
	if a.IsCurrent(gen) {
		t.Error("old generation still reported current after a later bump")
	}
}

func TestTokenAuthority_ConcurrentBumps(t *testing.T) {
	t.Parallel()
	var a TokenAuthority

	const goroutines, bumps = 10, 100
	var wg sync.WaitGroup
	for range goroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range bumps {
				a.Bump()
			}
		}()
	}
	wg.Wait()

	if got := a.Current(); got != goroutines*bumps {
		t.Errorf("current = %d after %d bumps", got, goroutines*bumps)
	}
}

func TestTokenAuthority_Observe(t *testing.T) {
	t.Parallel()
	var a TokenAuthority

	a.Observe(5)
	if got := a.Current(); got != 5 {
		t.Fatalf("current = %d after observing 5, want 5", got)
	}
	if !a.IsCurrent(5) {
		t.Error("observed generation is not current")
	}

	// Observing an older generation never moves the counter back.
	a.Observe(3)
	if got := a.Current(); got != 5 {
		t.Errorf("current = %d after observing an older generation, want 5", got)
	}

	// A local bump still invalidates the observed generation.
	if gen := a.Bump(); gen != 6 {
		t.Errorf("bump = %d, want 6", gen)
	}
	if a.IsCurrent(5) {
		t.Error("observed generation survived a later bump")
	}
}

func TestRegistry_Lifecycle(t *testing.T) {
	t.Parallel()
	r := NewRegistry()

	a1 := r.Acquire("s1")
	a2 := r.Acquire("s1")
	if a1 != a2 {
		t.Fatal("two acquires for the same session returned different authorities")
	}
	if r.Len() != 1 {
		t.Errorf("len = %d, want 1", r.Len())
	}

	a1.Bump()
	if got, ok := r.Lookup("s1"); !ok || got.Current() != 1 {
		t.Error("lookup did not return the live authority")
	}

	r.Release("s1")
	if _, ok := r.Lookup("s1"); !ok {
		t.Error("session dropped while one reference remained")
	}

	r.Release("s1")
	if _, ok := r.Lookup("s1"); ok {
		t.Error("session survived its last release")
	}
	if r.Len() != 0 {
		t.Errorf("len = %d, want 0", r.Len())
	}

	// A fresh acquire starts a new authority at zero.
	if a3 := r.Acquire("s1"); a3.Current() != 0 {
		t.Errorf("reacquired authority at %d, want 0", a3.Current())
	}
}

func TestRegistry_ReleaseUnknownSession(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	r.Release("never-acquired") // must not panic
	if r.Len() != 0 {
		t.Errorf("len = %d, want 0", r.Len())
	}
}

func TestFirstSentenceBoundary(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want int
	}{
		{"", -1},
		{"no terminal here", -1},
		{"Hi.", 2},
		{"Hello world. Next", 11},
		{"Wait! Stop", 4},
		{"Really? Yes", 6},
		{"pi is 3.14 exactly", -1},
		{"pi is 3.14 exactly.", 18},
		{"First. Second. Third.", 5},
		{"tab\tafter.\tmore", 9},
	}
	for _, tt := range tests {
		if got := firstSentenceBoundary(tt.in); got != tt.want {
			t.Errorf("firstSentenceBoundary(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
