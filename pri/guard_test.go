package pri

import (
	"testing"

	"github.com/benbjohnson/leaf"
)

func TestRuntime_Reentrancy(t *testing.T) {
	config := leaf.DefaultConfig()
	config.Trace.Solve = false
	rt := NewRuntime(leaf.NewBackend(config, leaf.NewTypeManager()))
	prev := Install(rt)
	defer Install(prev)

	var inner leaf.PlaceRef
	ok := rt.do(func(b *leaf.Backend) {
		b.RefPlaceLocal(1)
		inner = RefPlaceLocal(2)
	})
	if !ok {
		t.Fatal("expected outer call to run")
	} else if inner != 0 {
		t.Fatalf("expected zero reference from nested call, got %d", inner)
	}

	// The guard is released after the outer call.
	if ref := RefPlaceLocal(3); ref != 2 {
		t.Fatalf("unexpected reference: %d", ref)
	}
}

func TestGuard(t *testing.T) {
	var g guard
	if !g.enter() {
		t.Fatal("expected first enter to succeed")
	} else if g.enter() {
		t.Fatal("expected nested enter to fail")
	}
	g.leave()
	if !g.enter() {
		t.Fatal("expected enter after leave to succeed")
	}
}
