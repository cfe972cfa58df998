package orchestrator

import (
	"container/heap"
	"fmt"
)

// TaskState is the runtime execution state of a task. The graph itself is
// immutable; state lives in a separate map per execution attempt.
type TaskState string

const (
	TaskPending   TaskState = "pending"
	TaskRunning   TaskState = "running"
	TaskSucceeded TaskState = "succeeded"
	TaskFailed    TaskState = "failed"
	TaskTimedOut  TaskState = "timed-out"
	TaskSkipped   TaskState = "skipped"
)

// ExecutionState maps task id to its current TaskState. A plain map keeps
// the scheduler a pure function, uncoupled from the executor.
type ExecutionState map[string]TaskState

// IsTerminal reports whether the state is terminal.
func IsTerminal(s TaskState) bool {
	switch s {
	case TaskSucceeded, TaskFailed, TaskTimedOut, TaskSkipped:
		return true
	default:
		return false
	}
}

// IsSuccessful reports whether the state satisfies dependents.
func IsSuccessful(s TaskState) bool {
	return s == TaskSucceeded
}

// Transition performs an atomic validated transition for a single task.
// The caller supplies the expected prior state so races become visible
// instead of silently overwriting.
func Transition(state ExecutionState, taskID string, from, to TaskState) error {
	cur, ok := state[taskID]
	if !ok {
		return fmt.Errorf("unknown task in state: %q", taskID)
	}
	if cur != from {
		return fmt.Errorf("invalid transition for %q: expected %s, got %s", taskID, from, cur)
	}
	if !isAllowedTransition(from, to) {
		return fmt.Errorf("disallowed transition for %q: %s -> %s", taskID, from, to)
	}
	state[taskID] = to
	return nil
}

func isAllowedTransition(from, to TaskState) bool {
	switch from {
	case TaskPending:
		return to == TaskRunning || to == TaskSkipped
	case TaskRunning:
		return to == TaskSucceeded || to == TaskFailed || to == TaskTimedOut
	default:
		return false
	}
}

// MarkFailedAndPropagate records a terminal failure state for taskID and
// transitively marks every pending downstream dependent as skipped.
// Traversal order is deterministic over canonical indices.
func MarkFailedAndPropagate(g *TaskGraph, state ExecutionState, taskID string, to TaskState) error {
	if g == nil {
		return fmt.Errorf("nil graph")
	}
	if to != TaskFailed && to != TaskTimedOut {
		return fmt.Errorf("cannot propagate from state %s", to)
	}
	node, ok := g.nodesByID[taskID]
	if !ok {
		return fmt.Errorf("unknown task: %q", taskID)
	}

	cur, ok := state[taskID]
	if !ok {
		return fmt.Errorf("unknown task in state: %q", taskID)
	}
	if cur == TaskRunning {
		state[taskID] = to
	} else if !IsTerminal(cur) {
		return fmt.Errorf("cannot fail %q from state %s", taskID, cur)
	}

	start := node.index
	visited := make([]bool, len(g.nodes))
	visited[start] = true

	hq := &intMinHeap{}
	heap.Init(hq)
	for _, d := range g.outgoing[start] {
		heap.Push(hq, d)
	}

	for hq.Len() > 0 {
		u := heap.Pop(hq).(int)
		if visited[u] {
			continue
		}
		visited[u] = true

		id := g.nodes[u].ID
		st, ok := state[id]
		if !ok {
			return fmt.Errorf("missing state for %q", id)
		}
		if st == TaskPending {
			state[id] = TaskSkipped
		}

		for _, v := range g.outgoing[u] {
			if !visited[v] {
				heap.Push(hq, v)
			}
		}
	}

	return nil
}
