package core

import (
	"iter"
	"testing"
)

func TestGoroutineID_DiffersAcrossGoroutines(t *testing.T) {
	here := goroutineID()
	if here == 0 {
		t.Fatal("goroutineID() returned 0")
	}
	if goroutineID() != here {
		t.Fatal("goroutineID() is not stable within a goroutine")
	}

	other := make(chan uint64)
	go func() { other <- goroutineID() }()
	if id := <-other; id == here {
		t.Fatalf("two goroutines share ID %d", id)
	}
}

// TestAffinity_AdoptedRoutine verifies that a pulled routine counts as main
// Given: An affinity bound to the test goroutine
// When: A routine body runs through iter.Pull with and without adopt
// Then: Only the adopted body sees itself as current
func TestAffinity_AdoptedRoutine(t *testing.T) {
	var a affinity
	a.bind()

	onMainRoutine := func(seen *bool) Routine {
		return func(yield func(any) bool) {
			*seen = a.isCurrent()
			yield(nil)
		}
	}

	var plain, adopted bool
	next, stop := iter.Pull(iter.Seq[any](onMainRoutine(&plain)))
	next()
	stop()
	next, stop = iter.Pull(iter.Seq[any](a.adopt(onMainRoutine(&adopted))))
	next()
	stop()

	if plain {
		t.Error("a pulled body without adopt should not be main")
	}
	if !adopted {
		t.Error("an adopted body should be main while it runs")
	}
	if !a.isCurrent() {
		t.Error("the bound goroutine should stay main")
	}

	var unbound *affinity
	if unbound.isCurrent() {
		t.Error("a nil affinity is never current")
	}
}
