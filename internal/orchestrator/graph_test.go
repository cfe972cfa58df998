package orchestrator

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTaskGraph(t *testing.T) {
	g, err := NewTaskGraph([]Task{
		{ID: "a", Handler: "context-search"},
		{ID: "b", Handler: "context-search"},
		{ID: "c", Handler: "completion-step", DependsOn: []string{"a", "b"}},
	})
	require.NoError(t, err)

	assert.Equal(t, 3, g.Len())
	assert.Equal(t, []string{"a", "b", "c"}, g.TopologicalOrder())

	d, ok := g.Depth("c")
	require.True(t, ok)
	assert.Equal(t, 1, d)
}

func TestNewTaskGraphRejectsCycle(t *testing.T) {
	_, err := NewTaskGraph([]Task{
		{ID: "a", Handler: "x", DependsOn: []string{"c"}},
		{ID: "b", Handler: "x", DependsOn: []string{"a"}},
		{ID: "c", Handler: "x", DependsOn: []string{"b"}},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCycleFound))

	var verr *GraphValidationError
	require.True(t, errors.As(err, &verr))
	assert.Contains(t, verr.Msg, "->")
}

func TestNewTaskGraphRejectsDanglingDependency(t *testing.T) {
	_, err := NewTaskGraph([]Task{
		{ID: "a", Handler: "x", DependsOn: []string{"ghost"}},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidGraph))
}

func TestNewTaskGraphRejectsSelfLoop(t *testing.T) {
	_, err := NewTaskGraph([]Task{{ID: "a", Handler: "x", DependsOn: []string{"a"}}})
	assert.True(t, errors.Is(err, ErrInvalidGraph))
}

func TestNewTaskGraphRejectsDuplicateID(t *testing.T) {
	_, err := NewTaskGraph([]Task{
		{ID: "a", Handler: "x"},
		{ID: "a", Handler: "y"},
	})
	assert.True(t, errors.Is(err, ErrInvalidGraph))
}

func TestNewTaskGraphRejectsEmpty(t *testing.T) {
	_, err := NewTaskGraph(nil)
	assert.True(t, errors.Is(err, ErrInvalidGraph))
}

func TestDefaultTaskTimeoutApplied(t *testing.T) {
	g, err := NewTaskGraph([]Task{{ID: "a", Handler: "x"}})
	require.NoError(t, err)

	task, ok := g.Task("a")
	require.True(t, ok)
	assert.Equal(t, DefaultTaskTimeout, task.Timeout)
}

func TestMaxTaskTimeout(t *testing.T) {
	g, err := NewTaskGraph([]Task{
		{ID: "a", Handler: "x", Timeout: 2 * time.Second},
		{ID: "b", Handler: "x", Timeout: 9 * time.Second},
	})
	require.NoError(t, err)
	assert.Equal(t, 9*time.Second, g.MaxTaskTimeout())
}

func TestReadyTasks(t *testing.T) {
	g, err := NewTaskGraph([]Task{
		{ID: "a", Handler: "x"},
		{ID: "b", Handler: "x"},
		{ID: "c", Handler: "x", DependsOn: []string{"a"}},
	})
	require.NoError(t, err)

	state := ExecutionState{"a": TaskPending, "b": TaskPending, "c": TaskPending}
	assert.Equal(t, []string{"a", "b"}, ReadyTasks(g, state))

	state["a"] = TaskSucceeded
	assert.Equal(t, []string{"b", "c"}, ReadyTasks(g, state))

	state["a"] = TaskFailed
	assert.Equal(t, []string{"b"}, ReadyTasks(g, state))
}

func TestMarkFailedAndPropagate(t *testing.T) {
	g, err := NewTaskGraph([]Task{
		{ID: "a", Handler: "x"},
		{ID: "b", Handler: "x", DependsOn: []string{"a"}},
		{ID: "c", Handler: "x", DependsOn: []string{"b"}},
		{ID: "d", Handler: "x"},
	})
	require.NoError(t, err)

	state := ExecutionState{
		"a": TaskRunning, "b": TaskPending, "c": TaskPending, "d": TaskPending,
	}
	require.NoError(t, MarkFailedAndPropagate(g, state, "a", TaskFailed))

	assert.Equal(t, TaskFailed, state["a"])
	assert.Equal(t, TaskSkipped, state["b"])
	assert.Equal(t, TaskSkipped, state["c"])
	assert.Equal(t, TaskPending, state["d"], "independent branch untouched")
}

func TestTransitionRules(t *testing.T) {
	state := ExecutionState{"a": TaskPending}

	require.NoError(t, Transition(state, "a", TaskPending, TaskRunning))
	require.NoError(t, Transition(state, "a", TaskRunning, TaskSucceeded))

	assert.Error(t, Transition(state, "a", TaskSucceeded, TaskRunning))
	assert.Error(t, Transition(state, "missing", TaskPending, TaskRunning))
}
