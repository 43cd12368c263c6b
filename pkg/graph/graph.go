// Package graph implements the dependency graph underlying workflows and the
// job queue: edge storage, acyclicity validation and readiness queries.
package graph

import "sort"

// color marks DFS progress during cycle detection.
type color uint8

const (
	white color = iota // unvisited
	grey               // in progress
	black              // done
)

// Graph is a directed dependency graph over any comparable id type. An edge
// n -> d means n depends on d. Disconnected subgraphs are valid. Graph is not
// safe for concurrent mutation; owners guard it with their own lock.
type Graph[K comparable] struct {
	deps       map[K][]K
	dependents map[K][]K
}

// New returns an empty graph.
func New[K comparable]() *Graph[K] {
	return &Graph[K]{
		deps:       make(map[K][]K),
		dependents: make(map[K][]K),
	}
}

// FromEdges builds a graph from a node -> dependencies map.
func FromEdges[K comparable](edges map[K][]K) *Graph[K] {
	g := New[K]()
	for n, deps := range edges {
		g.AddNode(n)
		for _, d := range deps {
			g.AddEdge(n, d)
		}
	}
	return g
}

// AddNode registers a node without edges. Adding an existing node is a no-op.
func (g *Graph[K]) AddNode(id K) {
	if _, ok := g.deps[id]; !ok {
		g.deps[id] = nil
	}
}

// AddEdge records that node depends on dep. Both endpoints are created if
// missing. Self-edges are stored as-is; Validate reports them as cycles.
func (g *Graph[K]) AddEdge(node, dep K) {
	g.AddNode(node)
	g.AddNode(dep)
	g.deps[node] = append(g.deps[node], dep)
	g.dependents[dep] = append(g.dependents[dep], node)
}

// Len returns the number of nodes.
func (g *Graph[K]) Len() int { return len(g.deps) }

// Contains reports whether id is a node of the graph.
func (g *Graph[K]) Contains(id K) bool {
	_, ok := g.deps[id]
	return ok
}

// Dependencies returns the direct dependencies of id.
func (g *Graph[K]) Dependencies(id K) []K {
	return append([]K(nil), g.deps[id]...)
}

// Dependents returns the nodes that directly depend on id.
func (g *Graph[K]) Dependents(id K) []K {
	return append([]K(nil), g.dependents[id]...)
}

// TransitiveDependents returns every node reachable from id along dependent
// edges, excluding id itself. Order is unspecified.
func (g *Graph[K]) TransitiveDependents(id K) []K {
	seen := make(map[K]struct{})
	var out []K
	var visit func(K)
	visit = func(n K) {
		for _, d := range g.dependents[n] {
			if _, ok := seen[d]; ok {
				continue
			}
			seen[d] = struct{}{}
			out = append(out, d)
			visit(d)
		}
	}
	visit(id)
	return out
}

// Validate checks the graph for cycles using a three-color depth-first
// search. It returns the cycle found, nil if the graph is acyclic. Runs in
// O(V+E); a single self-edge is the smallest reported cycle.
func (g *Graph[K]) Validate() []K {
	colors := make(map[K]color, len(g.deps))
	var stack []K

	var visit func(K) []K
	visit = func(n K) []K {
		colors[n] = grey
		stack = append(stack, n)
		for _, d := range g.deps[n] {
			switch colors[d] {
			case grey:
				// Found a back edge; slice the cycle out of the stack.
				for i, s := range stack {
					if s == d {
						return append(append([]K(nil), stack[i:]...), d)
					}
				}
				return []K{d, d}
			case white:
				if cycle := visit(d); cycle != nil {
					return cycle
				}
			}
		}
		stack = stack[:len(stack)-1]
		colors[n] = black
		return nil
	}

	for n := range g.deps {
		if colors[n] == white {
			if cycle := visit(n); cycle != nil {
				return cycle
			}
		}
	}
	return nil
}

// Ready returns the nodes whose dependencies are all contained in done,
// excluding nodes already in done. The result is stable only for ordered key
// types handled by sortKeys; callers needing determinism sort externally
// otherwise.
func (g *Graph[K]) Ready(done map[K]struct{}) []K {
	var out []K
	for n, deps := range g.deps {
		if _, ok := done[n]; ok {
			continue
		}
		ready := true
		for _, d := range deps {
			if _, ok := done[d]; !ok {
				ready = false
				break
			}
		}
		if ready {
			out = append(out, n)
		}
	}
	sortKeys(out)
	return out
}

// sortKeys orders string and integer keys for deterministic traversal;
// other key types are left in map order.
func sortKeys[K comparable](keys []K) {
	switch ks := any(keys).(type) {
	case []string:
		sort.Strings(ks)
	case []int:
		sort.Ints(ks)
	case []int64:
		sort.Slice(ks, func(i, j int) bool { return ks[i] < ks[j] })
	}
}
