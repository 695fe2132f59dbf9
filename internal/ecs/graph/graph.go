// Package graph implements the directed multigraph utility spec.md §4.8
// calls for: per-edge labels, add/deny edges (deny wins), Tarjan SCC-based
// cycle detection, topological sort after Seal, subgraph induction, and
// successor traversal.
//
// No library in the retrieval pack ships a generic graph algorithm
// (katalvlaran/lvlath is reference-only material, not a teacher, and is
// itself dependency-free); Tarjan's algorithm here is plain standard
// library, grounded on the teacher's own adjacency-map bookkeeping style in
// system_manager.go's dependencies/dependents maps.
package graph

import "sort"

// Vertex identifies a graph node. Callers pick the id space (e.g. a system
// index); the graph itself is opaque to what a vertex represents.
type Vertex int

type edgeKey struct {
	from, to Vertex
	label    string
}

// Graph is a directed multigraph over dense Vertex ids with per-edge
// string labels and an add/deny mechanism: a deny edge for the same
// (from, to, label) always beats an earlier or later add.
type Graph struct {
	vertices map[Vertex]bool
	adds     map[edgeKey]bool
	denies   map[edgeKey]bool
	order    []Vertex // insertion order, used to keep cycle reporting stable

	sealed bool
	topo   []Vertex
}

// New creates an empty graph.
func New() *Graph {
	return &Graph{
		vertices: make(map[Vertex]bool),
		adds:     make(map[edgeKey]bool),
		denies:   make(map[edgeKey]bool),
	}
}

// AddVertex registers v, a no-op if already present.
func (g *Graph) AddVertex(v Vertex) {
	if !g.vertices[v] {
		g.vertices[v] = true
		g.order = append(g.order, v)
	}
}

// AddEdge adds a directed edge from -> to with the given label. Self-loops
// are accepted here and dropped from successor traversal and topological
// order, but FindCycles reports a live self-loop as a singleton cycle, so
// Seal refuses a graph that has one.
func (g *Graph) AddEdge(from, to Vertex, label string) {
	g.AddVertex(from)
	g.AddVertex(to)
	g.adds[edgeKey{from, to, label}] = true
}

// DenyEdge forbids the edge from -> to with the given label, overriding any
// add for the same (from, to, label).
func (g *Graph) DenyEdge(from, to Vertex, label string) {
	g.AddVertex(from)
	g.AddVertex(to)
	g.denies[edgeKey{from, to, label}] = true
}

// HasEdge reports whether from -> to is a live edge under any label (i.e.
// added and not denied).
func (g *Graph) HasEdge(from, to Vertex) bool {
	for k := range g.adds {
		if k.from == from && k.to == to && !g.denies[k] {
			return true
		}
	}
	return false
}

// successors returns the live (non-denied, non-self-loop) out-edges of v,
// deduplicated, in a stable order.
func (g *Graph) successors(v Vertex) []Vertex {
	seen := map[Vertex]bool{}
	var out []Vertex
	for k := range g.adds {
		if k.from != v || g.denies[k] {
			continue
		}
		if k.to == v {
			continue // self-loop silently dropped
		}
		if !seen[k.to] {
			seen[k.to] = true
			out = append(out, k.to)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// hasSelfLoop reports whether v has a live (non-denied) edge to itself.
func (g *Graph) hasSelfLoop(v Vertex) bool {
	for k := range g.adds {
		if k.from == v && k.to == v && !g.denies[k] {
			return true
		}
	}
	return false
}

// FindCycles runs Tarjan's SCC algorithm and returns every strongly
// connected component that constitutes a schedule cycle: any non-singleton
// SCC, or a singleton SCC with a live self-loop (an "edge-to-self" other
// than the identity self-loop, which is dropped before this runs). Each
// cycle's vertices are reported in insertion order.
func (g *Graph) FindCycles() [][]Vertex {
	t := &tarjan{
		g:       g,
		index:   make(map[Vertex]int),
		lowlink: make(map[Vertex]int),
		onStack: make(map[Vertex]bool),
	}
	for _, v := range g.order {
		if _, seen := t.index[v]; !seen {
			t.strongConnect(v)
		}
	}

	var cycles [][]Vertex
	for _, scc := range t.sccs {
		if len(scc) > 1 || (len(scc) == 1 && g.hasSelfLoop(scc[0])) {
			cycles = append(cycles, orderByInsertion(g.order, scc))
		}
	}
	return cycles
}

func orderByInsertion(order []Vertex, scc []Vertex) []Vertex {
	in := make(map[Vertex]bool, len(scc))
	for _, v := range scc {
		in[v] = true
	}
	out := make([]Vertex, 0, len(scc))
	for _, v := range order {
		if in[v] {
			out = append(out, v)
		}
	}
	return out
}

type tarjan struct {
	g        *Graph
	index    map[Vertex]int
	lowlink  map[Vertex]int
	onStack  map[Vertex]bool
	stack    []Vertex
	counter  int
	sccs     [][]Vertex
}

func (t *tarjan) strongConnect(v Vertex) {
	t.index[v] = t.counter
	t.lowlink[v] = t.counter
	t.counter++
	t.stack = append(t.stack, v)
	t.onStack[v] = true

	for _, w := range t.g.successors(v) {
		if _, seen := t.index[w]; !seen {
			t.strongConnect(w)
			if t.lowlink[w] < t.lowlink[v] {
				t.lowlink[v] = t.lowlink[w]
			}
		} else if t.onStack[w] {
			if t.index[w] < t.lowlink[v] {
				t.lowlink[v] = t.index[w]
			}
		}
	}

	if t.lowlink[v] == t.index[v] {
		var scc []Vertex
		for {
			n := len(t.stack) - 1
			w := t.stack[n]
			t.stack = t.stack[:n]
			t.onStack[w] = false
			scc = append(scc, w)
			if w == v {
				break
			}
		}
		t.sccs = append(t.sccs, scc)
	}
}

// Seal computes and freezes a topological order. Must be called before
// TopologicallySortedVertices. Returns an error-equivalent nil slice (via
// ok=false) if the graph has cycles.
func (g *Graph) Seal() (ok bool) {
	if len(g.FindCycles()) > 0 {
		return false
	}

	visited := make(map[Vertex]bool)
	var topo []Vertex
	var visit func(v Vertex)
	visit = func(v Vertex) {
		if visited[v] {
			return
		}
		visited[v] = true
		for _, w := range g.successors(v) {
			visit(w)
		}
		topo = append(topo, v)
	}
	// Roots are visited in reverse insertion order so that, after the
	// reversal below, a graph without edges keeps its insertion order.
	for i := len(g.order) - 1; i >= 0; i-- {
		visit(g.order[i])
	}
	// visit() emits post-order; reverse for a valid topological order.
	for i, j := 0, len(topo)-1; i < j; i, j = i+1, j-1 {
		topo[i], topo[j] = topo[j], topo[i]
	}

	g.topo = topo
	g.sealed = true
	return true
}

// TopologicallySortedVertices returns the frozen topological order. Only
// valid after a successful Seal.
func (g *Graph) TopologicallySortedVertices() []Vertex {
	if !g.sealed {
		return nil
	}
	out := make([]Vertex, len(g.topo))
	copy(out, g.topo)
	return out
}

// InduceSubgraph returns a new Graph containing only vs and the live edges
// between them.
func (g *Graph) InduceSubgraph(vs []Vertex) *Graph {
	keep := make(map[Vertex]bool, len(vs))
	for _, v := range vs {
		keep[v] = true
	}
	sub := New()
	for _, v := range vs {
		sub.AddVertex(v)
	}
	for k := range g.adds {
		if g.denies[k] {
			continue
		}
		if keep[k.from] && keep[k.to] {
			sub.AddEdge(k.from, k.to, k.label)
		}
	}
	return sub
}

// Traverse returns the immediate successors of v in topological order (the
// graph must be sealed). If v is nil (by passing no argument via
// TraverseRoots), the roots (vertices with no incoming live edge) are
// returned instead, also in topological order.
func (g *Graph) Traverse(v Vertex) []Vertex {
	topoRank := make(map[Vertex]int, len(g.topo))
	for i, tv := range g.topo {
		topoRank[tv] = i
	}
	succ := g.successors(v)
	sort.Slice(succ, func(i, j int) bool { return topoRank[succ[i]] < topoRank[succ[j]] })
	return succ
}

// TraverseRoots returns every vertex with no live incoming edge, in
// topological order.
func (g *Graph) TraverseRoots() []Vertex {
	hasIncoming := make(map[Vertex]bool)
	for k := range g.adds {
		if g.denies[k] || k.from == k.to {
			continue
		}
		hasIncoming[k.to] = true
	}
	topoRank := make(map[Vertex]int, len(g.topo))
	for i, tv := range g.topo {
		topoRank[tv] = i
	}
	var roots []Vertex
	for _, v := range g.order {
		if !hasIncoming[v] {
			roots = append(roots, v)
		}
	}
	sort.Slice(roots, func(i, j int) bool { return topoRank[roots[i]] < topoRank[roots[j]] })
	return roots
}
