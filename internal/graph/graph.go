// Package graph builds a directed graph over issues' dependency edges
// and answers cycle, reachability, rank, and reduction queries (spec
// §4.2). Grounded on spec §9's "cyclic object graphs" design note: the
// graph never holds a reference to the caller's node values, only their
// ids, so ownership stays tree-shaped even though the domain objects
// reference each other circularly. The teacher's internal/queries/graph.go
// is SQL-recursive-CTE based over a different domain ("entities") and
// isn't reusable here; this package is a from-scratch in-memory
// rebuild against a minimal Node interface.
package graph

import (
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/jitvcs/jit/internal/jerrors"
)

// Node is anything with an identity and a set of dependency edges. The
// graph indexes nodes by ID and never retains the Node value itself
// beyond what it needs to read Dependencies() once at build time.
type Node interface {
	ID() string
	Dependencies() []string
}

// Graph is an adjacency-list directed graph over node ids. It holds no
// references to caller-owned node values.
type Graph struct {
	// forward[a] = the set of ids a depends on (edges a -> dep).
	forward map[string]map[string]bool
	// reverse[a] = the set of ids that depend on a.
	reverse map[string]map[string]bool
	ids     []string
}

// Build constructs a Graph from nodes. Dependency edges that reference
// an id not present in nodes are still recorded (the target is a
// dangling node with no further edges); callers that need to surface
// BrokenDependency do so separately (spec §4.5's validate()).
func Build(nodes []Node) *Graph {
	g := &Graph{
		forward: make(map[string]map[string]bool),
		reverse: make(map[string]map[string]bool),
	}
	for _, n := range nodes {
		g.ensure(n.ID())
	}
	for _, n := range nodes {
		for _, dep := range n.Dependencies() {
			g.ensure(dep)
			g.forward[n.ID()][dep] = true
			g.reverse[dep][n.ID()] = true
		}
	}
	sort.Strings(g.ids)
	return g
}

func (g *Graph) ensure(id string) {
	if _, ok := g.forward[id]; !ok {
		g.forward[id] = make(map[string]bool)
		g.reverse[id] = make(map[string]bool)
		g.ids = append(g.ids, id)
	}
}

// IDs returns every node id in the graph, sorted.
func (g *Graph) IDs() []string {
	out := make([]string, len(g.ids))
	copy(out, g.ids)
	return out
}

// color marks DFS visitation state for cycle detection.
type color int

const (
	white color = iota
	gray
	black
)

// HasCycleAfter reports whether adding the edge from->to would
// introduce a cycle (spec §4.2 has_cycle_after), and if so returns the
// offending chain starting and ending at the shared node, e.g.
// [C, A, B, C] for a C->A, A->B, B->C graph with the new edge C->A.
func (g *Graph) HasCycleAfter(from, to string) (bool, []string) {
	trial := g.withEdge(from, to)
	return trial.findCycleFrom(from)
}

// withEdge returns a copy of g (every adjacency map duplicated) with one
// additional forward edge,
// used only to probe for cycles without mutating the receiver.
func (g *Graph) withEdge(from, to string) *Graph {
	out := &Graph{forward: make(map[string]map[string]bool), reverse: make(map[string]map[string]bool)}
	for id, deps := range g.forward {
		cp := make(map[string]bool, len(deps))
		for d := range deps {
			cp[d] = true
		}
		out.forward[id] = cp
		out.ids = append(out.ids, id)
	}
	for id, deps := range g.reverse {
		cp := make(map[string]bool, len(deps))
		for d := range deps {
			cp[d] = true
		}
		out.reverse[id] = cp
	}
	out.ensure(from)
	out.ensure(to)
	out.forward[from][to] = true
	out.reverse[to][from] = true
	return out
}

// findCycleFrom runs a colored DFS from start looking for a back edge
// that closes a cycle reachable from start.
func (g *Graph) findCycleFrom(start string) (bool, []string) {
	colors := make(map[string]color, len(g.ids))
	var path []string
	var cycle []string

	var visit func(id string) bool
	visit = func(id string) bool {
		colors[id] = gray
		path = append(path, id)
		deps := sortedKeys(g.forward[id])
		for _, dep := range deps {
			switch colors[dep] {
			case white:
				if visit(dep) {
					return true
				}
			case gray:
				// Found the back edge; extract the cycle chain from
				// its first occurrence in path through here, then
				// close it by repeating the start.
				idx := indexOf(path, dep)
				cycle = append(append([]string{}, path[idx:]...), dep)
				return true
			case black:
				// already fully explored, no cycle through here
			}
		}
		path = path[:len(path)-1]
		colors[id] = black
		return false
	}

	if visit(start) {
		return true, cycle
	}
	return false, nil
}

func indexOf(s []string, v string) int {
	for i, x := range s {
		if x == v {
			return i
		}
	}
	return -1
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Downstream returns the set of ids reachable by following dependency
// edges forward from id (i.e. what id (transitively) depends on).
func (g *Graph) Downstream(id string) []string {
	return g.reachable(id, g.forward)
}

// Upstream returns the set of ids that (transitively) depend on id.
func (g *Graph) Upstream(id string) []string {
	return g.reachable(id, g.reverse)
}

func (g *Graph) reachable(id string, adj map[string]map[string]bool) []string {
	seen := map[string]bool{}
	var stack []string
	for n := range adj[id] {
		stack = append(stack, n)
	}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[cur] {
			continue
		}
		seen[cur] = true
		for n := range adj[cur] {
			if !seen[n] {
				stack = append(stack, n)
			}
		}
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// FindShortestPath runs BFS over forward edges from a to b and returns
// the shortest dependency chain [a, ..., b], or nil if b is not
// reachable from a. Used to describe why an edge is redundant (spec
// §4.2).
func (g *Graph) FindShortestPath(a, b string) []string {
	if a == b {
		return []string{a}
	}
	visited := map[string]bool{a: true}
	prev := map[string]string{}
	queue := []string{a}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range sortedKeys(g.forward[cur]) {
			if visited[next] {
				continue
			}
			visited[next] = true
			prev[next] = cur
			if next == b {
				return reconstructPath(prev, a, b)
			}
			queue = append(queue, next)
		}
	}
	return nil
}

func reconstructPath(prev map[string]string, a, b string) []string {
	var path []string
	for cur := b; ; {
		path = append([]string{cur}, path...)
		if cur == a {
			break
		}
		cur = prev[cur]
	}
	return path
}

// TopologicalRank assigns every node in subset the maximum of its
// dependencies' ranks plus one, computed by BFS layering from roots
// (nodes with no dependencies within subset get rank 0). If subset is
// nil, every node in the graph is ranked.
func (g *Graph) TopologicalRank(subset []string) (map[string]int, error) {
	ids := subset
	if ids == nil {
		ids = g.ids
	}
	inSet := make(map[string]bool, len(ids))
	for _, id := range ids {
		inSet[id] = true
	}

	// Components: group ids by weakly-connected component so
	// independent components can be ranked concurrently (SPEC_FULL.md
	// §4.2's errgroup fan-out), matching the pack's comfort with
	// golang.org/x/sync for bounded fan-out.
	components := g.weakComponents(ids, inSet)

	rank := make(map[string]int, len(ids))

	if len(components) <= 1 {
		for _, comp := range components {
			r, err := g.rankComponent(comp, inSet)
			if err != nil {
				return nil, err
			}
			for k, v := range r {
				rank[k] = v
			}
		}
		return rank, nil
	}

	results := make([]map[string]int, len(components))
	var eg errgroup.Group
	for i, comp := range components {
		i, comp := i, comp
		eg.Go(func() error {
			r, err := g.rankComponent(comp, inSet)
			if err != nil {
				return err
			}
			results[i] = r
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	for _, r := range results {
		for k, v := range r {
			rank[k] = v
		}
	}
	return rank, nil
}

func (g *Graph) weakComponents(ids []string, inSet map[string]bool) [][]string {
	parent := map[string]string{}
	var find func(string) string
	find = func(x string) string {
		if parent[x] != x {
			parent[x] = find(parent[x])
		}
		return parent[x]
	}
	union := func(a, b string) {
		ra, rb := find(a), find(b)
		if ra != rb {
			parent[ra] = rb
		}
	}
	for _, id := range ids {
		parent[id] = id
	}
	for _, id := range ids {
		for dep := range g.forward[id] {
			if inSet[dep] {
				union(id, dep)
			}
		}
	}
	groups := map[string][]string{}
	for _, id := range ids {
		root := find(id)
		groups[root] = append(groups[root], id)
	}
	var out [][]string
	for _, g := range groups {
		sort.Strings(g)
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i][0] < out[j][0] })
	return out
}

// rankComponent computes ranks for one weakly-connected set of ids via
// Kahn's algorithm (BFS from in-degree-zero roots, restricted to edges
// within inSet), returning a Cycle error if the component is not a DAG.
func (g *Graph) rankComponent(ids []string, inSet map[string]bool) (map[string]int, error) {
	indegree := map[string]int{}
	for _, id := range ids {
		indegree[id] = 0
	}
	for _, id := range ids {
		for dep := range g.forward[id] {
			if inSet[dep] {
				indegree[id]++
			}
		}
	}

	rank := map[string]int{}
	var queue []string
	for _, id := range ids {
		if indegree[id] == 0 {
			queue = append(queue, id)
			rank[id] = 0
		}
	}
	sort.Strings(queue)

	processed := 0
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		processed++
		for dependent := range g.reverse[cur] {
			if !inSet[dependent] {
				continue
			}
			if r := rank[cur] + 1; r > rank[dependent] {
				rank[dependent] = r
			}
			indegree[dependent]--
			if indegree[dependent] == 0 {
				queue = append(queue, dependent)
				sort.Strings(queue)
			}
		}
	}

	if processed != len(ids) {
		return nil, jerrors.Cycle([]string{"cycle detected ranking component"})
	}
	return rank, nil
}

// Reduction is one redundant edge found by TransitiveReduction: From
// depends on To directly, but a longer path between them already makes
// that dependency implicit.
type Reduction struct {
	From, To string
	Via      []string // the longer path, including From and To
}

// TransitiveReduction returns every redundant direct edge among the
// given node ids: an edge a->b is redundant if there exists another
// path from a to b of length > 1 using only edges within ids (spec
// §4.2). Only edges present in the graph are considered.
func (g *Graph) TransitiveReduction(ids []string) []Reduction {
	inSet := make(map[string]bool, len(ids))
	for _, id := range ids {
		inSet[id] = true
	}

	var out []Reduction
	for _, a := range ids {
		for b := range g.forward[a] {
			if !inSet[b] {
				continue
			}
			if path := g.shortestPathExcludingEdge(a, b, inSet); path != nil {
				out = append(out, Reduction{From: a, To: b, Via: path})
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].From != out[j].From {
			return out[i].From < out[j].From
		}
		return out[i].To < out[j].To
	})
	return out
}

// shortestPathExcludingEdge finds a path from a to b longer than the
// direct edge, restricted to ids in inSet, without using the a->b edge
// itself.
func (g *Graph) shortestPathExcludingEdge(a, b string, inSet map[string]bool) []string {
	visited := map[string]bool{a: true}
	prev := map[string]string{}
	queue := []string{a}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range sortedKeys(g.forward[cur]) {
			if !inSet[next] || visited[next] {
				continue
			}
			if cur == a && next == b {
				continue // skip the direct edge itself
			}
			visited[next] = true
			prev[next] = cur
			if next == b {
				return reconstructPath(prev, a, b)
			}
			queue = append(queue, next)
		}
	}
	return nil
}
