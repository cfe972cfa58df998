package orchestrator

import (
	"container/heap"
	"sort"
	"time"
)

// DefaultTaskTimeout bounds a task whose definition carries no explicit
// timeout.
const DefaultTaskTimeout = 15 * time.Second

// Task represents one unit of work inside a graph: a handler name, its
// arguments, the ids it depends on, and a per-task timeout.
type Task struct {
	ID        string
	Handler   string
	Args      map[string]string
	DependsOn []string
	Timeout   time.Duration
}

type taskNode struct {
	ID    string
	Task  Task
	index int
}

// TaskGraph is an immutable, validated dependency graph of tasks. It is
// owned by exactly one orchestrator invocation and safe for concurrent
// read access.
type TaskGraph struct {
	nodesByID map[string]*taskNode
	nodes     []*taskNode // canonical order, sorted by id

	outgoing [][]int // by canonical index, sorted ascending
	incoming [][]int // by canonical index, sorted ascending
	indeg    []int   // by canonical index
	depth    []int   // topological depth by canonical index
}

// NewTaskGraph builds and validates a TaskGraph.
//
// Validation runs immediately and rejects:
//   - empty graphs, empty or duplicate task ids, empty handler names
//   - dependencies referencing unknown tasks
//   - self-dependencies
//   - any cycle, direct or indirect
//
// No task of an invalid graph is ever scheduled.
func NewTaskGraph(tasks []Task) (*TaskGraph, error) {
	if len(tasks) == 0 {
		return nil, invalidf("no tasks")
	}

	nodesByID := make(map[string]*taskNode, len(tasks))
	nodes := make([]*taskNode, 0, len(tasks))

	for _, t := range tasks {
		if t.ID == "" {
			return nil, invalidf("task id is required")
		}
		if t.Handler == "" {
			return nil, invalidf("task %q has no handler", t.ID)
		}
		if _, exists := nodesByID[t.ID]; exists {
			return nil, invalidf("duplicate task id: %q", t.ID)
		}
		if t.Timeout <= 0 {
			t.Timeout = DefaultTaskTimeout
		}
		node := &taskNode{ID: t.ID, Task: t}
		nodesByID[t.ID] = node
		nodes = append(nodes, node)
	}

	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
	for i, n := range nodes {
		n.index = i
	}

	outgoing := make([][]int, len(nodes))
	incoming := make([][]int, len(nodes))
	indeg := make([]int, len(nodes))

	for _, n := range nodes {
		seen := make(map[string]struct{}, len(n.Task.DependsOn))
		for _, dep := range n.Task.DependsOn {
			parent, ok := nodesByID[dep]
			if !ok {
				return nil, invalidf("task %q depends on unknown task %q", n.ID, dep)
			}
			if dep == n.ID {
				return nil, invalidf("task %q depends on itself", n.ID)
			}
			if _, dup := seen[dep]; dup {
				return nil, invalidf("task %q lists dependency %q twice", n.ID, dep)
			}
			seen[dep] = struct{}{}

			outgoing[parent.index] = append(outgoing[parent.index], n.index)
			incoming[n.index] = append(incoming[n.index], parent.index)
			indeg[n.index]++
		}
	}
	for i := range outgoing {
		sort.Ints(outgoing[i])
	}
	for i := range incoming {
		sort.Ints(incoming[i])
	}

	g := &TaskGraph{
		nodesByID: nodesByID,
		nodes:     nodes,
		outgoing:  outgoing,
		incoming:  incoming,
		indeg:     indeg,
	}

	if err := g.validateAcyclic(); err != nil {
		return nil, err
	}
	g.depth = g.computeDepth()
	return g, nil
}

// Len returns the number of tasks in the graph.
func (g *TaskGraph) Len() int { return len(g.nodes) }

// Task returns a task by id.
func (g *TaskGraph) Task(id string) (Task, bool) {
	n, ok := g.nodesByID[id]
	if !ok {
		return Task{}, false
	}
	return n.Task, true
}

// Tasks returns the tasks in canonical order.
func (g *TaskGraph) Tasks() []Task {
	out := make([]Task, 0, len(g.nodes))
	for _, n := range g.nodes {
		out = append(out, n.Task)
	}
	return out
}

// MaxTaskTimeout returns the largest per-task timeout in the graph. The
// whole-graph timeout must be strictly greater than this so at least one
// level of sequential dependency can complete.
func (g *TaskGraph) MaxTaskTimeout() time.Duration {
	var max time.Duration
	for _, n := range g.nodes {
		if n.Task.Timeout > max {
			max = n.Task.Timeout
		}
	}
	return max
}

// TopologicalOrder returns a deterministic topological ordering of task
// ids. The graph is validated on construction, so this cannot fail.
func (g *TaskGraph) TopologicalOrder() []string {
	order := g.topoOrderIndices()
	ids := make([]string, 0, len(order))
	for _, idx := range order {
		ids = append(ids, g.nodes[idx].ID)
	}
	return ids
}

// Depth returns the topological depth of the given task id: the length of
// the longest dependency path leading to it.
func (g *TaskGraph) Depth(id string) (int, bool) {
	n, ok := g.nodesByID[id]
	if !ok {
		return 0, false
	}
	return g.depth[n.index], true
}

func (g *TaskGraph) computeDepth() []int {
	depth := make([]int, len(g.nodes))
	for _, u := range g.topoOrderIndices() {
		maxParent := 0
		for _, p := range g.incoming[u] {
			if cand := depth[p] + 1; cand > maxParent {
				maxParent = cand
			}
		}
		depth[u] = maxParent
	}
	return depth
}

// validateAcyclic proves the graph has no cycles using Kahn's algorithm.
// If a cycle exists, a deterministic witness path is extracted for the
// error message.
func (g *TaskGraph) validateAcyclic() error {
	if len(g.topoOrderIndices()) == len(g.nodes) {
		return nil
	}
	return cycleError(g.findCycleDeterministic())
}

type intMinHeap []int

func (h intMinHeap) Len() int           { return len(h) }
func (h intMinHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h intMinHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *intMinHeap) Push(x any)        { *h = append(*h, x.(int)) }
func (h *intMinHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// topoOrderIndices returns a deterministic topological ordering of node
// indices. The ready queue is a min-heap by canonical index.
func (g *TaskGraph) topoOrderIndices() []int {
	indeg := make([]int, len(g.indeg))
	copy(indeg, g.indeg)

	ready := &intMinHeap{}
	heap.Init(ready)
	for i := range indeg {
		if indeg[i] == 0 {
			heap.Push(ready, i)
		}
	}

	out := make([]int, 0, len(indeg))
	for ready.Len() > 0 {
		n := heap.Pop(ready).(int)
		out = append(out, n)
		for _, m := range g.outgoing[n] {
			indeg[m]--
			if indeg[m] == 0 {
				heap.Push(ready, m)
			}
		}
	}
	return out
}

// findCycleDeterministic performs a deterministic DFS over canonical
// indices to extract a single stable cycle witness.
func (g *TaskGraph) findCycleDeterministic() []string {
	const (
		white = 0
		gray  = 1
		black = 2
	)

	color := make([]int, len(g.nodes))
	parent := make([]int, len(g.nodes))
	for i := range parent {
		parent[i] = -1
	}

	var cycle []int

	var dfs func(u int) bool
	dfs = func(u int) bool {
		color[u] = gray
		for _, v := range g.outgoing[u] { // already sorted
			if color[v] == white {
				parent[v] = u
				if dfs(v) {
					return true
				}
				continue
			}
			if color[v] == gray {
				// Back-edge u -> v. Reconstruct v ... u -> v.
				cycle = append(cycle, v)
				cur := u
				for cur != -1 && cur != v {
					cycle = append(cycle, cur)
					cur = parent[cur]
				}
				cycle = append(cycle, v)
				return true
			}
		}
		color[u] = black
		return false
	}

	for i := 0; i < len(g.nodes); i++ {
		if color[i] != white {
			continue
		}
		if dfs(i) {
			break
		}
	}

	if len(cycle) == 0 {
		return nil
	}

	rev := make([]int, len(cycle))
	for i := range cycle {
		rev[i] = cycle[len(cycle)-1-i]
	}

	out := make([]string, 0, len(rev))
	for _, idx := range rev {
		out = append(out, g.nodes[idx].ID)
	}
	return out
}
