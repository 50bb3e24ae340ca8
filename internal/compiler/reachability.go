package compiler

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/tripwire/internal/ir"
)

// stateGraph maps state name → states reachable by one transition, in
// declaration order.
type stateGraph map[string][]string

func buildStateGraph(def ir.Definition) stateGraph {
	graph := make(stateGraph, len(def.States))
	for _, s := range def.States {
		// Initialize with empty slice (ensures node exists in graph)
		graph[s.Name] = []string{}
		for _, te := range s.OnInput.TransitionEvents {
			if !slices.Contains(graph[s.Name], te.NextState) {
				graph[s.Name] = append(graph[s.Name], te.NextState)
			}
		}
	}
	return graph
}

// AnalyzeStates reports states a detector can never enter and groups of
// states that, once entered, never lead back to the initial state.
//
// Both are warnings, not errors, because they may be intentional:
//   - A state kept for operators to set through BatchUpdateDetector
//   - A latched alarm state that only an operator override clears
//
// Warnings come out in state declaration order.
func AnalyzeStates(def ir.Definition) []Warning {
	graph := buildStateGraph(def)
	reachable := reachableFrom(def.InitialStateName, graph)

	var warnings []Warning
	for _, s := range def.States {
		if !reachable[s.Name] {
			warnings = append(warnings, Warning{
				Field:   fmt.Sprintf("states[%s]", s.Name),
				Message: fmt.Sprintf("state %q is not reachable from %q", s.Name, def.InitialStateName),
				Code:    WarnUnreachableState,
			})
		}
	}

	for _, scc := range tarjanSCC(def.StateNames(), graph) {
		if reachable[scc[0]] && isClosed(scc, graph) && !slices.Contains(scc, def.InitialStateName) {
			slices.Sort(scc)
			warnings = append(warnings, Warning{
				Field:   fmt.Sprintf("states[%s]", scc[0]),
				Message: fmt.Sprintf("no transition leaves {%s}", strings.Join(scc, ", ")),
				Code:    WarnNoTransitions,
			})
		}
	}
	return warnings
}

// reachableFrom is a breadth-first walk from start.
func reachableFrom(start string, graph stateGraph) map[string]bool {
	seen := map[string]bool{}
	if _, ok := graph[start]; !ok {
		return seen
	}
	queue := []string{start}
	seen[start] = true
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range graph[cur] {
			if !seen[next] {
				seen[next] = true
				queue = append(queue, next)
			}
		}
	}
	return seen
}

// isClosed reports whether no edge leaves the component.
func isClosed(scc []string, graph stateGraph) bool {
	for _, node := range scc {
		for _, next := range graph[node] {
			if !slices.Contains(scc, next) {
				return false
			}
		}
	}
	return true
}

// tarjanSCC finds strongly connected components using Tarjan's algorithm.
// Nodes are visited in the given order so output is deterministic.
func tarjanSCC(nodes []string, graph stateGraph) [][]string {
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

		// v is a root node: pop the stack and create an SCC
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

	for _, node := range nodes {
		if _, visited := indices[node]; !visited {
			strongConnect(node)
		}
	}
	return sccs
}
