package update

import (
	"fmt"
	"sort"
	"strings"
)

// CommandDependencyGraph is a directed graph over command indices. An edge
// from A to B means A must execute before B.
type CommandDependencyGraph struct {
	commands []*ModificationCommand
	edges    [][]int        // Successors per vertex
	reverse  [][]int        // Predecessors per vertex
	seen     []map[int]bool // Dedupes edges per vertex
	inDegree []int
}

// NewCommandDependencyGraph creates a graph with one vertex per command
func NewCommandDependencyGraph(commands []*ModificationCommand) *CommandDependencyGraph {
	n := len(commands)
	g := &CommandDependencyGraph{
		commands: commands,
		edges:    make([][]int, n),
		reverse:  make([][]int, n),
		seen:     make([]map[int]bool, n),
		inDegree: make([]int, n),
	}
	for i := range g.seen {
		g.seen[i] = make(map[int]bool)
	}
	return g
}

// AddEdge records that from must execute before to. Self edges and
// duplicates are ignored.
func (g *CommandDependencyGraph) AddEdge(from, to int) {
	if from == to || g.seen[from][to] {
		return
	}
	g.seen[from][to] = true
	g.edges[from] = append(g.edges[from], to)
	g.reverse[to] = append(g.reverse[to], from)
	g.inDegree[to]++
}

// HasEdge reports whether from must execute before to
func (g *CommandDependencyGraph) HasEdge(from, to int) bool {
	return g.seen[from][to]
}

// Predecessors returns the vertices with an edge into v
func (g *CommandDependencyGraph) Predecessors(v int) []int {
	return g.reverse[v]
}

// TopologicalSort orders the vertices into independent sets using Kahn's
// algorithm. Every vertex in set i precedes every vertex in set i+1 that
// depends on it; vertices inside a set are sorted by index.
func (g *CommandDependencyGraph) TopologicalSort() ([][]int, error) {
	remaining := make([]int, len(g.inDegree))
	copy(remaining, g.inDegree)

	var current []int
	for v, d := range remaining {
		if d == 0 {
			current = append(current, v)
		}
	}

	var sets [][]int
	sorted := 0
	for len(current) > 0 {
		sets = append(sets, current)
		sorted += len(current)

		var next []int
		for _, v := range current {
			for _, s := range g.edges[v] {
				remaining[s]--
				if remaining[s] == 0 {
					next = append(next, s)
				}
			}
		}
		sort.Ints(next)
		current = next
	}

	if sorted != len(g.commands) {
		cycle := g.findCycle(remaining)
		return nil, fmt.Errorf("%w: %s", ErrDependencyCycle, g.describeCycle(cycle))
	}
	return sets, nil
}

// findCycle walks backwards from any unsorted vertex until a vertex repeats.
// Every unsorted vertex has at least one unsorted predecessor, so the walk
// always closes a cycle.
func (g *CommandDependencyGraph) findCycle(remaining []int) []int {
	start := -1
	for v, d := range remaining {
		if d > 0 {
			start = v
			break
		}
	}
	if start < 0 {
		return nil
	}

	position := map[int]int{}
	var path []int
	v := start
	for {
		if at, ok := position[v]; ok {
			cycle := append([]int(nil), path[at:]...)
			// path walks predecessors; reverse into execution order
			for i, j := 0, len(cycle)-1; i < j; i, j = i+1, j-1 {
				cycle[i], cycle[j] = cycle[j], cycle[i]
			}
			return cycle
		}
		position[v] = len(path)
		path = append(path, v)

		next := -1
		for _, p := range g.Predecessors(v) {
			if remaining[p] > 0 {
				next = p
				break
			}
		}
		if next < 0 {
			return path
		}
		v = next
	}
}

func (g *CommandDependencyGraph) describeCycle(cycle []int) string {
	parts := make([]string, 0, len(cycle)+1)
	for _, v := range cycle {
		parts = append(parts, "'"+g.commands[v].String()+"'")
	}
	if len(cycle) > 0 {
		parts = append(parts, "'"+g.commands[cycle[0]].String()+"'")
	}
	return strings.Join(parts, " -> ")
}
