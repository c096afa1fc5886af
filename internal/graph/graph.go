// Package graph holds the dependency-graph algorithms over an adjacency map.
// Nodes are issue ids; an edge a->b means a depends on b.
package graph

import (
	"sort"
	"strings"
)

type Adjacency map[string][]string

// FromEdges builds forward (dependent -> blockers) and reverse
// (blocker -> dependents) adjacency from a list of pairs.
func FromEdges(edges [][2]string) (forward, reverse Adjacency) {
	forward = Adjacency{}
	reverse = Adjacency{}
	for _, e := range edges {
		forward[e[0]] = append(forward[e[0]], e[1])
		reverse[e[1]] = append(reverse[e[1]], e[0])
	}
	for _, adj := range []Adjacency{forward, reverse} {
		for k := range adj {
			sort.Strings(adj[k])
		}
	}
	return forward, reverse
}

// Reachable reports whether target can be reached from start.
func Reachable(adj Adjacency, start, target string) bool {
	if start == target {
		return true
	}
	seen := map[string]bool{start: true}
	queue := []string{start}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range adj[cur] {
			if next == target {
				return true
			}
			if !seen[next] {
				seen[next] = true
				queue = append(queue, next)
			}
		}
	}
	return false
}

type Visit struct {
	ID    string
	Depth int
}

// Walk returns every node reachable from root breadth-first, each once, at
// its shortest depth. The root itself is not included.
func Walk(adj Adjacency, root string) []Visit {
	seen := map[string]bool{root: true}
	out := []Visit{}
	frontier := []string{root}
	for depth := 1; len(frontier) > 0; depth++ {
		var next []string
		for _, cur := range frontier {
			for _, n := range adj[cur] {
				if seen[n] {
					continue
				}
				seen[n] = true
				out = append(out, Visit{ID: n, Depth: depth})
				next = append(next, n)
			}
		}
		frontier = next
	}
	return out
}

// Cycles finds cycles with a depth-first search. Each cycle is rotated so its
// smallest id comes first, and duplicates are dropped.
func Cycles(adj Adjacency) [][]string {
	nodes := make([]string, 0, len(adj))
	for n := range adj {
		nodes = append(nodes, n)
	}
	sort.Strings(nodes)

	const (
		unvisited = iota
		onStack
		done
	)
	state := map[string]int{}
	var stack []string
	seen := map[string]bool{}
	cycles := [][]string{}

	var visit func(n string)
	visit = func(n string) {
		state[n] = onStack
		stack = append(stack, n)
		for _, next := range adj[n] {
			switch state[next] {
			case onStack:
				start := len(stack) - 1
				for stack[start] != next {
					start--
				}
				cycle := normalize(stack[start:])
				key := strings.Join(cycle, "\x00")
				if !seen[key] {
					seen[key] = true
					cycles = append(cycles, cycle)
				}
			case unvisited:
				visit(next)
			}
		}
		stack = stack[:len(stack)-1]
		state[n] = done
	}
	for _, n := range nodes {
		if state[n] == unvisited {
			visit(n)
		}
	}
	return cycles
}

func normalize(cycle []string) []string {
	minIdx := 0
	for i, id := range cycle {
		if id < cycle[minIdx] {
			minIdx = i
		}
	}
	out := make([]string, 0, len(cycle))
	out = append(out, cycle[minIdx:]...)
	out = append(out, cycle[:minIdx]...)
	return out
}
