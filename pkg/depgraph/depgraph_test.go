package depgraph

import (
	"testing"

	"bimport/pkg/ierr"
	"bimport/pkg/pkgref"
)

func setup() (*Graph, *pkgref.Arena) {
	return New(), pkgref.NewArena()
}

func TestTopologicalOrderRespectsEdges(t *testing.T) {
	g, arena := setup()
	a := arena.New("pypi", "a", "1")
	b := arena.New("pypi", "b", "1")
	c := arena.New("pypi", "c", "1")

	// c depends on b depends on a: edges point dependency->dependent.
	g.AddNode(a)
	g.AddNode(b)
	g.AddNode(c)
	g.AddEdge(a, b)
	g.AddEdge(b, c)

	nameOf := func(h pkgref.Handle) string { return arena.Get(h).Name }
	order, err := g.TopologicalOrder(nameOf)
	if err != nil {
		t.Fatalf("TopologicalOrder error: %v", err)
	}

	pos := map[pkgref.Handle]int{}
	for i, h := range order {
		pos[h] = i
	}
	if pos[a] >= pos[b] || pos[b] >= pos[c] {
		t.Errorf("order %v does not respect a before b before c", order)
	}
}

func TestTopologicalOrderDeterministicTieBreak(t *testing.T) {
	g, arena := setup()
	x := arena.New("pypi", "xray", "1")
	y := arena.New("pypi", "yak", "1")
	g.AddNode(x)
	g.AddNode(y)
	nameOf := func(h pkgref.Handle) string { return arena.Get(h).Name }

	order, err := g.TopologicalOrder(nameOf)
	if err != nil {
		t.Fatalf("TopologicalOrder error: %v", err)
	}
	if len(order) != 2 {
		t.Fatalf("expected 2 nodes, got %d", len(order))
	}
	for i := 0; i < 5; i++ {
		again, err := g.TopologicalOrder(nameOf)
		if err != nil {
			t.Fatalf("TopologicalOrder error: %v", err)
		}
		if len(again) != 2 || again[0] != order[0] || again[1] != order[1] {
			t.Fatalf("tie-break not deterministic: %v then %v", order, again)
		}
	}
}

func TestTopologicalOrderDetectsCycle(t *testing.T) {
	g, arena := setup()
	a := arena.New("pypi", "a", "1")
	b := arena.New("pypi", "b", "1")
	g.AddNode(a)
	g.AddNode(b)
	g.AddEdge(a, b)
	g.AddEdge(b, a)

	nameOf := func(h pkgref.Handle) string { return arena.Get(h).Name }
	_, err := g.TopologicalOrder(nameOf)
	if !ierr.Is(err, ierr.CyclesDetected) {
		t.Errorf("TopologicalOrder on a cycle = %v, want CyclesDetected", err)
	}
}

func TestHasEdgeAndContains(t *testing.T) {
	g, arena := setup()
	a := arena.New("pypi", "a", "1")
	b := arena.New("pypi", "b", "1")
	if g.Contains(a) {
		t.Errorf("Contains(a) before AddNode should be false")
	}
	g.AddNode(a)
	g.AddNode(b)
	g.AddEdge(a, b)
	if !g.HasEdge(a, b) {
		t.Errorf("HasEdge(a, b) = false, want true")
	}
	if g.HasEdge(b, a) {
		t.Errorf("HasEdge(b, a) = true, want false")
	}
}
