package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/verahub/vera-core/internal/expert"
	"github.com/verahub/vera-core/internal/metrics"
)

// TaskRunner dispatches a single task to its expert handler. The expert
// registry satisfies this directly.
type TaskRunner interface {
	Call(ctx context.Context, handler, scope string, args map[string]string) *expert.Result
}

// GraphResult represents the aggregated outcome of one graph execution.
// The state map always covers every task; Results holds payloads only for
// tasks that actually ran.
type GraphResult struct {
	FinalState ExecutionState
	Results    map[string]*expert.Result
	Tasks      map[string]Task // task definitions, keyed by id
	Order      []string        // topological order of the full graph
	Partial    bool            // any task did not succeed
	TimedOut   bool            // the whole-graph deadline elapsed
}

// Executor runs validated task graphs against a runner with bounded
// concurrency, a per-task timeout, and a whole-graph timeout.
type Executor struct {
	runner       TaskRunner
	graphTimeout time.Duration
	concurrency  int
	logger       *slog.Logger
}

// NewExecutor creates an executor. concurrency caps simultaneously
// running tasks.
func NewExecutor(runner TaskRunner, graphTimeout time.Duration, concurrency int, logger *slog.Logger) (*Executor, error) {
	if runner == nil {
		return nil, fmt.Errorf("nil runner")
	}
	if concurrency <= 0 {
		return nil, fmt.Errorf("concurrency must be > 0")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		runner:       runner,
		graphTimeout: graphTimeout,
		concurrency:  concurrency,
		logger:       logger,
	}, nil
}

type workItem struct {
	id   string
	task Task
}

type workResult struct {
	id       string
	result   *expert.Result
	timedOut bool
}

// Execute runs every task of the graph respecting dependencies. Tasks
// whose dependencies all succeeded run concurrently, each under its own
// timeout. A failed or timed-out task skips its dependents but never
// aborts independent branches. When the whole-graph deadline elapses,
// still-running tasks are cancelled cooperatively and aggregation
// proceeds with the states reached so far; a cancelled task's late result
// is discarded.
func (e *Executor) Execute(ctx context.Context, g *TaskGraph, scope string) (*GraphResult, error) {
	if g == nil {
		return nil, fmt.Errorf("nil graph")
	}
	if e.graphTimeout <= g.MaxTaskTimeout() {
		return nil, invalidf("graph timeout %s must exceed max task timeout %s",
			e.graphTimeout, g.MaxTaskTimeout())
	}

	gctx, cancel := context.WithTimeout(ctx, e.graphTimeout)
	defer cancel()

	state := make(ExecutionState, g.Len())
	for _, t := range g.Tasks() {
		state[t.ID] = TaskPending
	}
	results := make(map[string]*expert.Result, g.Len())

	// doneCh holds one slot per task so a worker finishing after the
	// graph deadline never blocks; its result is simply never read.
	workCh := make(chan workItem, g.Len())
	doneCh := make(chan workResult, g.Len())

	var wg sync.WaitGroup
	for i := 0; i < e.concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for w := range workCh {
				doneCh <- e.runTask(gctx, scope, w)
			}
		}()
	}

	inFlight := 0
	deadlineHit := false

loop:
	for {
		for _, id := range ReadyTasks(g, state) {
			if inFlight >= e.concurrency {
				break
			}
			task, _ := g.Task(id)
			if err := Transition(state, id, TaskPending, TaskRunning); err != nil {
				close(workCh)
				return nil, err
			}
			inFlight++
			workCh <- workItem{id: id, task: task}
		}

		if inFlight == 0 {
			allTerminal := true
			for _, st := range state {
				if !IsTerminal(st) {
					allTerminal = false
					break
				}
			}
			if allTerminal {
				break loop
			}
			close(workCh)
			return nil, fmt.Errorf("no runnable tasks but graph not finished")
		}

		select {
		case <-gctx.Done():
			deadlineHit = true
			// Cancel cooperatively: running tasks become timed-out,
			// never-started tasks are skipped.
			for id, st := range state {
				switch st {
				case TaskRunning:
					state[id] = TaskTimedOut
				case TaskPending:
					state[id] = TaskSkipped
				}
			}
			e.logger.Warn("graph deadline elapsed", "timeout", e.graphTimeout, "in_flight", inFlight)
			break loop

		case r := <-doneCh:
			inFlight--
			results[r.id] = r.result

			switch {
			case r.result.Success:
				if err := Transition(state, r.id, TaskRunning, TaskSucceeded); err != nil {
					close(workCh)
					return nil, err
				}
			case r.timedOut:
				if err := MarkFailedAndPropagate(g, state, r.id, TaskTimedOut); err != nil {
					close(workCh)
					return nil, err
				}
			default:
				if err := MarkFailedAndPropagate(g, state, r.id, TaskFailed); err != nil {
					close(workCh)
					return nil, err
				}
			}
		}
	}

	close(workCh)
	if !deadlineHit {
		wg.Wait()
	}

	partial := false
	for id, st := range state {
		metrics.TaskStates.WithLabelValues(string(st)).Inc()
		if st != TaskSucceeded {
			partial = true
			e.logger.Info("task did not succeed", "task", id, "state", st)
		}
	}

	tasks := make(map[string]Task, g.Len())
	for _, t := range g.Tasks() {
		tasks[t.ID] = t
	}

	return &GraphResult{
		FinalState: state,
		Results:    results,
		Tasks:      tasks,
		Order:      g.TopologicalOrder(),
		Partial:    partial,
		TimedOut:   deadlineHit,
	}, nil
}

// runTask executes one task under its own timeout.
func (e *Executor) runTask(ctx context.Context, scope string, w workItem) workResult {
	tctx, cancel := context.WithTimeout(ctx, w.task.Timeout)
	defer cancel()

	result := e.runner.Call(tctx, w.task.Handler, scope, w.task.Args)
	timedOut := tctx.Err() == context.DeadlineExceeded ||
		result.ErrorKind == expert.ErrKindTimeout

	if timedOut && result.Success {
		// The call raced the deadline; the late result is discarded.
		result = &expert.Result{
			Handler:   w.task.Handler,
			ErrorKind: expert.ErrKindTimeout,
			Payload:   "task deadline elapsed",
			Duration:  result.Duration,
		}
	}

	return workResult{id: w.id, result: result, timedOut: timedOut && !result.Success}
}
