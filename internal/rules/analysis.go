package rules

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/factlog/internal/logic"
)

// RecursiveGroup is a set of inferred predicates that depend on each other
// through rule bodies (a strongly connected component of the predicate
// dependency graph, or a single self-recursive predicate).
//
// Recursion is legal; the evaluator terminates on it. The report exists so
// that tooling can show where fixpoint iteration will happen.
type RecursiveGroup struct {
	Predicates []string `json:"predicates"`
	Path       []string `json:"path"`
	Message    string   `json:"message"`
}

// AnalyzeRecursion finds recursive predicate groups among rules.
//
//  1. Build head -> inferred body predicate edges
//  2. Find strongly connected components with Tarjan's algorithm
//  3. Report components of size > 1 and self-loops
//
// Groups are sorted by their first predicate name for stable output.
func AnalyzeRecursion(rules []logic.Rule) []RecursiveGroup {
	graph := buildDependencyGraph(rules)

	var groups []RecursiveGroup
	for _, scc := range tarjanSCC(graph) {
		if len(scc) == 1 && !slices.Contains(graph[scc[0]], scc[0]) {
			continue
		}
		slices.Sort(scc)
		path := cyclePath(scc, graph)
		groups = append(groups, RecursiveGroup{
			Predicates: scc,
			Path:       path,
			Message:    fmt.Sprintf("recursive predicates: %s", strings.Join(path, " -> ")),
		})
	}
	slices.SortFunc(groups, func(a, b RecursiveGroup) int {
		return strings.Compare(a.Predicates[0], b.Predicates[0])
	})
	return groups
}

// Recursive reports the recursive groups among the snapshot's rules.
func (s *Snapshot) Recursive() []RecursiveGroup {
	return AnalyzeRecursion(s.All())
}

// dependencyGraph maps a head predicate to the inferred predicates its
// bodies use. Edge lists are sorted and unique.
type dependencyGraph map[string][]string

func buildDependencyGraph(rules []logic.Rule) dependencyGraph {
	graph := make(dependencyGraph)
	for _, r := range rules {
		head := r.Head.Name()
		if _, ok := graph[head]; !ok {
			graph[head] = []string{}
		}
		for _, leaf := range logic.Leaves(r.Body) {
			if leaf.Inferred() {
				graph[head] = append(graph[head], leaf.Name())
			}
		}
	}
	for k, edges := range graph {
		slices.Sort(edges)
		graph[k] = slices.Compact(edges)
	}
	return graph
}

// tarjanSCC finds strongly connected components. Nodes are visited in sorted
// order so the result is deterministic.
func tarjanSCC(graph dependencyGraph) [][]string {
	var (
		index   = 0
		stack   []string
		indices = make(map[string]int)
		lowlink = make(map[string]int)
		onStack = make(map[string]bool)
		sccs    [][]string
	)

	var strongConnect func(string)
	strongConnect = func(v string) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range graph[v] {
			if _, visited := indices[w]; !visited {
				strongConnect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

		if lowlink[v] == indices[v] {
			var scc []string
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			sccs = append(sccs, scc)
		}
	}

	nodes := make([]string, 0, len(graph))
	for node := range graph {
		nodes = append(nodes, node)
	}
	slices.Sort(nodes)
	for _, node := range nodes {
		if _, visited := indices[node]; !visited {
			strongConnect(node)
		}
	}
	return sccs
}

// cyclePath walks edges inside the component from its first member back to
// itself.
func cyclePath(scc []string, graph dependencyGraph) []string {
	start := scc[0]
	if len(scc) == 1 {
		return []string{start, start}
	}
	members := make(map[string]bool, len(scc))
	for _, n := range scc {
		members[n] = true
	}
	path := []string{start}
	visited := map[string]bool{start: true}
	current := start
	for {
		next := ""
		for _, w := range graph[current] {
			if members[w] && !visited[w] {
				next = w
				break
			}
		}
		if next == "" {
			break
		}
		path = append(path, next)
		visited[next] = true
		current = next
	}
	return append(path, start)
}
