package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// ErrNoRules reports that the rule-based decomposer found a clause it has
// no mapping for. Callers fall back to the planner.
var ErrNoRules = errors.New("no decomposition rule matched")

// Decomposer turns a complex request into a validated task graph.
type Decomposer interface {
	Decompose(ctx context.Context, request string) (*TaskGraph, error)
}

// ClauseMatcher maps one clause of a compound request to a handler call.
// The engine backs this with the fast-path intent registry plus keyword
// rules.
type ClauseMatcher func(clause string) (handler string, args map[string]string, ok bool)

// RuleBased decomposes compound requests whose every clause matches a
// known pattern. Clauses joined by "then" run sequentially; clauses
// joined by "and" run concurrently; a conditional clause depends on
// everything before it.
type RuleBased struct {
	match       ClauseMatcher
	taskTimeout time.Duration
}

// NewRuleBased creates a rule-based decomposer.
func NewRuleBased(match ClauseMatcher, taskTimeout time.Duration) *RuleBased {
	return &RuleBased{match: match, taskTimeout: taskTimeout}
}

type clause struct {
	text       string
	sequential bool // joined to the previous clause by "then"
}

func (d *RuleBased) Decompose(ctx context.Context, request string) (*TaskGraph, error) {
	clauses := splitClauses(request)
	if len(clauses) < 2 {
		return nil, fmt.Errorf("%w: not a compound request", ErrNoRules)
	}

	tasks := make([]Task, 0, len(clauses))
	prior := make([]string, 0, len(clauses))

	for i, c := range clauses {
		handler, args, ok := d.match(c.text)
		if !ok {
			return nil, fmt.Errorf("%w: clause %q", ErrNoRules, c.text)
		}

		task := Task{
			ID:      fmt.Sprintf("task-%d", i+1),
			Handler: handler,
			Args:    args,
			Timeout: d.taskTimeout,
		}
		switch {
		case conditional(c.text):
			// A conditional clause needs every prior result to evaluate.
			task.DependsOn = append(task.DependsOn, prior...)
		case c.sequential && len(prior) > 0:
			task.DependsOn = []string{prior[len(prior)-1]}
		}
		tasks = append(tasks, task)
		prior = append(prior, task.ID)
	}

	return NewTaskGraph(tasks)
}

func conditional(text string) bool {
	t := " " + strings.ToLower(text) + " "
	return strings.Contains(t, " if ") || strings.Contains(t, " when ") ||
		strings.Contains(t, " unless ")
}

// splitClauses breaks a compound utterance on coordinating boundaries.
func splitClauses(request string) []clause {
	text := strings.TrimSpace(request)
	text = strings.TrimSuffix(text, ".")
	text = strings.TrimSuffix(text, "!")

	// Normalize the separators we split on to a single form each.
	replacer := strings.NewReplacer(
		", and then ", "\x00then\x00",
		" and then ", "\x00then\x00",
		", then ", "\x00then\x00",
		" then ", "\x00then\x00",
		", and ", "\x00and\x00",
		" and ", "\x00and\x00",
		", ", "\x00and\x00",
	)
	text = replacer.Replace(text)

	parts := strings.Split(text, "\x00")
	out := make([]clause, 0, len(parts))
	sequential := false
	for _, p := range parts {
		switch p {
		case "then":
			sequential = true
		case "and":
			sequential = false
		default:
			p = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(p), "please "))
			if p == "" {
				continue
			}
			out = append(out, clause{text: p, sequential: sequential})
			sequential = false
		}
	}
	return out
}

// Planner asks the completion backend to produce a task plan for novel
// requests the rules cannot decompose.
type Planner struct {
	complete    func(ctx context.Context, prompt string) (string, error)
	handlers    []string
	taskTimeout time.Duration
	logger      *slog.Logger
}

// NewPlanner creates a planner backed by a completion call. handlers is
// the registry's frozen name list, embedded in the planning prompt.
func NewPlanner(complete func(ctx context.Context, prompt string) (string, error), handlers []string, taskTimeout time.Duration, logger *slog.Logger) *Planner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Planner{
		complete:    complete,
		handlers:    handlers,
		taskTimeout: taskTimeout,
		logger:      logger,
	}
}

type plannedTask struct {
	ID        string            `json:"id"`
	Handler   string            `json:"handler"`
	Args      map[string]string `json:"args"`
	DependsOn []string          `json:"depends_on"`
}

const planPromptFormat = `Decompose the request below into a JSON array of tasks.
Each task: {"id": "...", "handler": "...", "args": {...}, "depends_on": ["..."]}.
Available handlers: %s.
A task may only depend on tasks listed before it. Respond with the JSON array only.

Request: %s`

func (p *Planner) Decompose(ctx context.Context, request string) (*TaskGraph, error) {
	prompt := fmt.Sprintf(planPromptFormat, strings.Join(p.handlers, ", "), request)

	raw, err := p.complete(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("planning call failed: %w", err)
	}

	planned, err := parsePlan(raw)
	if err != nil {
		return nil, err
	}

	tasks := make([]Task, 0, len(planned))
	for _, pt := range planned {
		tasks = append(tasks, Task{
			ID:        pt.ID,
			Handler:   pt.Handler,
			Args:      pt.Args,
			DependsOn: pt.DependsOn,
			Timeout:   p.taskTimeout,
		})
	}

	g, err := NewTaskGraph(tasks)
	if err != nil {
		p.logger.Warn("planner produced invalid graph", "error", err)
		return nil, err
	}
	return g, nil
}

// parsePlan extracts the JSON array from a completion response, tolerating
// surrounding prose and code fences.
func parsePlan(raw string) ([]plannedTask, error) {
	start := strings.Index(raw, "[")
	end := strings.LastIndex(raw, "]")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("plan response contains no JSON array")
	}

	var planned []plannedTask
	if err := json.Unmarshal([]byte(raw[start:end+1]), &planned); err != nil {
		return nil, fmt.Errorf("parse plan: %w", err)
	}
	if len(planned) == 0 {
		return nil, fmt.Errorf("plan is empty")
	}
	return planned, nil
}

// Composite tries the rule-based decomposer first and falls back to the
// planner for novel requests.
type Composite struct {
	rules   *RuleBased
	planner *Planner
	logger  *slog.Logger
}

// NewComposite creates the standard two-stage decomposer.
func NewComposite(rules *RuleBased, planner *Planner, logger *slog.Logger) *Composite {
	if logger == nil {
		logger = slog.Default()
	}
	return &Composite{rules: rules, planner: planner, logger: logger}
}

func (c *Composite) Decompose(ctx context.Context, request string) (*TaskGraph, error) {
	g, err := c.rules.Decompose(ctx, request)
	if err == nil {
		return g, nil
	}
	if !errors.Is(err, ErrNoRules) {
		return nil, err
	}
	if c.planner == nil {
		return nil, err
	}
	c.logger.Debug("falling back to planner", "reason", err)
	return c.planner.Decompose(ctx, request)
}
