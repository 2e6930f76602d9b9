// Package dag provides a directed graph over manifest node identifiers.
// Parents are dependencies, children are dependents. Nodes referenced only as
// parents (for example upstream-project models) are tracked as external.
package dag

import (
	"fmt"
	"slices"
	"sort"
)

// Node is a vertex in the graph.
type Node struct {
	// ID is the manifest unique id.
	ID string
	// External is true for nodes that were only ever seen as a parent.
	External bool
	// Data holds the caller's node payload, if any.
	Data any
}

// Graph is a dependency graph keyed by unique id.
type Graph struct {
	nodes    map[string]*Node
	children map[string][]string // parent -> dependents
	parents  map[string][]string // child -> dependencies
}

// NewGraph creates an empty graph.
func NewGraph() *Graph {
	return &Graph{
		nodes:    make(map[string]*Node),
		children: make(map[string][]string),
		parents:  make(map[string][]string),
	}
}

// AddNode adds an owned node, or attaches data to an existing one.
func (g *Graph) AddNode(id string, data any) {
	if n, ok := g.nodes[id]; ok {
		n.Data = data
		n.External = false
		return
	}
	g.nodes[id] = &Node{ID: id, Data: data}
}

// AddEdge records that child depends on parent. Unknown endpoints are created;
// a parent created this way is marked external.
func (g *Graph) AddEdge(parentID, childID string) error {
	if parentID == childID {
		return fmt.Errorf("self-loop detected: %s", parentID)
	}
	if _, ok := g.nodes[parentID]; !ok {
		g.nodes[parentID] = &Node{ID: parentID, External: true}
	}
	if _, ok := g.nodes[childID]; !ok {
		g.nodes[childID] = &Node{ID: childID}
	}

	if !slices.Contains(g.children[parentID], childID) {
		g.children[parentID] = append(g.children[parentID], childID)
	}
	if !slices.Contains(g.parents[childID], parentID) {
		g.parents[childID] = append(g.parents[childID], parentID)
	}
	return nil
}

// GetNode returns a node by id.
func (g *Graph) GetNode(id string) (*Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// GetParents returns the direct dependencies of a node, sorted.
func (g *Graph) GetParents(id string) []string {
	return sortedCopy(g.parents[id])
}

// GetChildren returns the direct dependents of a node, sorted.
func (g *Graph) GetChildren(id string) []string {
	return sortedCopy(g.children[id])
}

// NodeCount returns the number of nodes, external ones included.
func (g *Graph) NodeCount() int {
	return len(g.nodes)
}

// EdgeCount returns the number of edges.
func (g *Graph) EdgeCount() int {
	count := 0
	for _, c := range g.children {
		count += len(c)
	}
	return count
}

// ExternalNodes returns ids of nodes only seen as parents.
func (g *Graph) ExternalNodes() []string {
	var out []string
	for id, n := range g.nodes {
		if n.External {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// GetUpstreamNodes returns the transitive dependencies of id.
func (g *Graph) GetUpstreamNodes(id string) []string {
	return g.walk(id, g.parents)
}

// GetDownstreamNodes returns the transitive dependents of id.
func (g *Graph) GetDownstreamNodes(id string) []string {
	return g.walk(id, g.children)
}

func (g *Graph) walk(start string, next map[string][]string) []string {
	seen := make(map[string]bool)
	stack := []string{start}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, n := range next[id] {
			if !seen[n] && n != start {
				seen[n] = true
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

// GetRoots returns nodes with no parents.
func (g *Graph) GetRoots() []string {
	var roots []string
	for id := range g.nodes {
		if len(g.parents[id]) == 0 {
			roots = append(roots, id)
		}
	}
	sort.Strings(roots)
	return roots
}

// HasCycle reports whether the graph contains a cycle, with the cycle path.
func (g *Graph) HasCycle() (bool, []string) {
	const (
		white = iota
		grey
		black
	)
	color := make(map[string]int, len(g.nodes))
	from := make(map[string]string)
	var cycle []string

	var dfs func(id string) bool
	dfs = func(id string) bool {
		color[id] = grey
		for _, child := range g.GetChildren(id) {
			switch color[child] {
			case white:
				from[child] = id
				if dfs(child) {
					return true
				}
			case grey:
				cycle = []string{child}
				for cur := id; cur != child; cur = from[cur] {
					cycle = append([]string{cur}, cycle...)
				}
				cycle = append([]string{child}, cycle...)
				return true
			}
		}
		color[id] = black
		return false
	}

	ids := make([]string, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if color[id] == white && dfs(id) {
			return true, cycle
		}
	}
	return false, nil
}

func sortedCopy(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	sort.Strings(out)
	return out
}
