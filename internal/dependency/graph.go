package dependency

import "fmt"

// CycleError is returned by AddEdge when the requested edge would make the
// graph cyclic. The loader wraps it into a ConfigError.
type CycleError struct {
	From string
	To   string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle: adding edge %q -> %q would close a cycle", e.From, e.To)
}

// Graph is a DAG over resource names. The edge "A depends on B" means A must
// wait for B. Node and edge iteration order is stable (insertion order) so
// that batch computation is deterministic for a given manifest.
type Graph struct {
	order      []string
	nodes      map[string]bool
	deps       map[string][]string // node -> nodes it depends on
	dependents map[string][]string // node -> nodes that depend on it
}

// New creates an empty graph.
func New() *Graph {
	return &Graph{
		nodes:      make(map[string]bool),
		deps:       make(map[string][]string),
		dependents: make(map[string][]string),
	}
}

// AddNode registers a node. Adding the same node twice is an error; the
// loader is responsible for de-duplicating names before it gets here.
func (g *Graph) AddNode(id string) error {
	if g.nodes[id] {
		return fmt.Errorf("node %q already exists", id)
	}
	g.nodes[id] = true
	g.order = append(g.order, id)
	return nil
}

// Has reports whether the node is registered.
func (g *Graph) Has(id string) bool {
	return g.nodes[id]
}

// Nodes returns all node names in insertion order.
func (g *Graph) Nodes() []string {
	out := make([]string, len(g.order))
	copy(out, g.order)
	return out
}

// AddEdge registers "from depends on to". Both nodes must already exist.
// The edge is rejected with a CycleError if "from" is reachable from "to",
// which is exactly the condition under which the new edge closes a cycle.
func (g *Graph) AddEdge(from, to string) error {
	if !g.nodes[from] {
		return fmt.Errorf("unknown node %q", from)
	}
	if !g.nodes[to] {
		return fmt.Errorf("unknown node %q", to)
	}
	if from == to {
		return &CycleError{From: from, To: to}
	}
	if g.reaches(to, from) {
		return &CycleError{From: from, To: to}
	}
	g.deps[from] = append(g.deps[from], to)
	g.dependents[to] = append(g.dependents[to], from)
	return nil
}

// reaches reports whether dst is reachable from src by following dependency
// edges. Depth-first, iterative to keep stack depth independent of graph size.
func (g *Graph) reaches(src, dst string) bool {
	if src == dst {
		return true
	}
	visited := make(map[string]bool)
	stack := []string{src}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if visited[cur] {
			continue
		}
		visited[cur] = true
		for _, next := range g.deps[cur] {
			if next == dst {
				return true
			}
			if !visited[next] {
				stack = append(stack, next)
			}
		}
	}
	return false
}

// Dependencies returns the direct dependencies of a node in declaration order.
func (g *Graph) Dependencies(id string) []string {
	out := make([]string, len(g.deps[id]))
	copy(out, g.deps[id])
	return out
}

// DependentsOf returns the transitive closure of nodes that directly or
// indirectly depend on the given node, in insertion order. The node itself is
// not included. This is the minimal re-trigger set for a change to id.
func (g *Graph) DependentsOf(id string) []string {
	closure := make(map[string]bool)

	var visit func(string)
	visit = func(cur string) {
		for _, dep := range g.dependents[cur] {
			if closure[dep] {
				continue
			}
			closure[dep] = true
			visit(dep)
		}
	}
	visit(id)

	// Return in global insertion order so callers get deterministic output.
	out := make([]string, 0, len(closure))
	for _, n := range g.order {
		if closure[n] {
			out = append(out, n)
		}
	}
	return out
}

// TopologicalBatches groups nodes into batches such that every dependency of
// a node sits in a strictly earlier batch. Nodes within a batch have no
// ordering constraint between each other. The result is deterministic for a
// given insertion order. The graph is guaranteed acyclic by AddEdge, so every
// node lands in exactly one batch.
func (g *Graph) TopologicalBatches() [][]string {
	depth := make(map[string]int, len(g.order))

	var depthOf func(string) int
	depthOf = func(id string) int {
		if d, ok := depth[id]; ok {
			return d
		}
		max := -1
		for _, dep := range g.deps[id] {
			if d := depthOf(dep); d > max {
				max = d
			}
		}
		depth[id] = max + 1
		return max + 1
	}

	maxDepth := 0
	for _, n := range g.order {
		if d := depthOf(n); d > maxDepth {
			maxDepth = d
		}
	}

	batches := make([][]string, maxDepth+1)
	for _, n := range g.order {
		d := depth[n]
		batches[d] = append(batches[d], n)
	}
	return batches
}
