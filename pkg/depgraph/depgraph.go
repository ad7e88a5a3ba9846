// Package depgraph wraps gonum's directed graph and topological sort to
// implement the import loop's processed graph: build-dependency edges
// accumulated as packages are processed, topologically ordered for the
// aggregate emitter, with cycle detection surfaced as a CyclesDetected
// error built from gonum's strongly-connected-component report.
package depgraph

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"

	"bimport/pkg/ierr"
	"bimport/pkg/pkgref"
)

// Graph is the processed graph: one node per package handle that has
// finished processing, one edge per build dependency.
type Graph struct {
	g *simple.DirectedGraph
}

// New returns an empty processed graph.
func New() *Graph {
	return &Graph{g: simple.NewDirectedGraph()}
}

func nodeID(h pkgref.Handle) int64 { return int64(h) }

// AddNode registers a package handle in the graph if not already present.
func (dg *Graph) AddNode(h pkgref.Handle) {
	if dg.g.Node(nodeID(h)) == nil {
		dg.g.AddNode(simple.Node(nodeID(h)))
	}
}

// Contains reports whether h has been added to the graph.
func (dg *Graph) Contains(h pkgref.Handle) bool {
	return dg.g.Node(nodeID(h)) != nil
}

// AddEdge records that to has a build dependency on from: edges point
// from dependency to dependent. Both nodes must already have been added.
func (dg *Graph) AddEdge(from, to pkgref.Handle) {
	dg.g.SetEdge(dg.g.NewEdge(simple.Node(nodeID(from)), simple.Node(nodeID(to))))
}

// HasEdge reports whether a build-dependency edge from->to exists.
func (dg *Graph) HasEdge(from, to pkgref.Handle) bool {
	return dg.g.HasEdgeFromTo(nodeID(from), nodeID(to))
}

// TopologicalOrder returns every node in build order (dependencies
// before dependents). The sort is stabilized by ordering nodes in
// reverse-lexicographic package name, so the result is deterministic.
// nameOf resolves a handle to its package name for that ordering.
//
// On a cycle, it returns an *ierr.Error with code CyclesDetected built
// from gonum's Unorderable strongly-connected-component report, each
// component rendered "A->B->C->A".
func (dg *Graph) TopologicalOrder(nameOf func(pkgref.Handle) string) ([]pkgref.Handle, error) {
	order := func(ns []graph.Node) {
		sort.Slice(ns, func(i, j int) bool {
			return nameOf(pkgref.Handle(ns[i].ID())) > nameOf(pkgref.Handle(ns[j].ID()))
		})
	}
	nodes, err := topo.SortStabilized(dg.g, order)
	if err != nil {
		if unorderable, ok := err.(topo.Unorderable); ok {
			return nil, cyclesError(unorderable, nameOf)
		}
		return nil, fmt.Errorf("topological sort: %w", err)
	}
	out := make([]pkgref.Handle, len(nodes))
	for i, n := range nodes {
		out[i] = pkgref.Handle(n.ID())
	}
	return out, nil
}

func cyclesError(u topo.Unorderable, nameOf func(pkgref.Handle) string) error {
	var descs []string
	for _, comp := range u {
		if len(comp) < 2 {
			continue
		}
		names := make([]string, len(comp))
		for i, n := range comp {
			names[i] = nameOf(pkgref.Handle(n.ID()))
		}
		sort.Strings(names)
		descs = append(descs, ierr.JoinCycle(names))
	}
	return ierr.New(ierr.CyclesDetected, fmt.Sprintf("dependency cycles detected: %v", descs)).
		WithContext(map[string]any{"cycles": descs})
}
