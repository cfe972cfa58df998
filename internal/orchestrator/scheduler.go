package orchestrator

import "sort"

// ReadyTasks returns the deterministically ordered list of task ids that
// are eligible to run: pending, with every dependency succeeded. The list
// is sorted by (topological depth asc, id asc).
//
// This function is pure: it mutates neither graph nor state.
func ReadyTasks(g *TaskGraph, state ExecutionState) []string {
	if g == nil {
		return nil
	}

	ready := make([]string, 0)
	for _, node := range g.nodes {
		st, ok := state[node.ID]
		if !ok || st != TaskPending {
			continue
		}

		depsOK := true
		for _, parentIdx := range g.incoming[node.index] {
			pst, ok := state[g.nodes[parentIdx].ID]
			if !ok || !IsSuccessful(pst) {
				depsOK = false
				break
			}
		}
		if depsOK {
			ready = append(ready, node.ID)
		}
	}

	sort.Slice(ready, func(i, j int) bool {
		a, b := ready[i], ready[j]
		ad, _ := g.Depth(a)
		bd, _ := g.Depth(b)
		if ad != bd {
			return ad < bd
		}
		return a < b
	})

	return ready
}
