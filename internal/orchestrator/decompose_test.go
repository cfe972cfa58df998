package orchestrator

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testMatcher(clause string) (string, map[string]string, bool) {
	lower := strings.ToLower(clause)
	switch {
	case strings.Contains(lower, "calendar"):
		return "context-search", map[string]string{"query": clause, "kind": "calendar-item"}, true
	case strings.Contains(lower, "weather"):
		return "completion-step", map[string]string{"prompt": clause}, true
	case strings.Contains(lower, "reminder"):
		return "memory-write", map[string]string{"note": clause}, true
	default:
		return "", nil, false
	}
}

func TestRuleBasedDecompose(t *testing.T) {
	d := NewRuleBased(testMatcher, 5*time.Second)

	g, err := d.Decompose(context.Background(),
		"Check my calendar for tomorrow, find out the weather, and add a reminder to bring an umbrella if it will rain")
	require.NoError(t, err)

	require.Equal(t, 3, g.Len())

	reminder, ok := g.Task("task-3")
	require.True(t, ok)
	assert.Equal(t, "memory-write", reminder.Handler)
	assert.ElementsMatch(t, []string{"task-1", "task-2"}, reminder.DependsOn,
		"conditional clause depends on every prior step")

	first, _ := g.Task("task-1")
	assert.Empty(t, first.DependsOn)
	second, _ := g.Task("task-2")
	assert.Empty(t, second.DependsOn, "and-joined clauses are independent")
}

func TestRuleBasedSequentialThen(t *testing.T) {
	d := NewRuleBased(testMatcher, 5*time.Second)

	g, err := d.Decompose(context.Background(),
		"check my calendar and then find out the weather")
	require.NoError(t, err)

	second, ok := g.Task("task-2")
	require.True(t, ok)
	assert.Equal(t, []string{"task-1"}, second.DependsOn)
}

func TestRuleBasedUnknownClause(t *testing.T) {
	d := NewRuleBased(testMatcher, 5*time.Second)

	_, err := d.Decompose(context.Background(),
		"check my calendar and juggle some flaming torches")
	assert.True(t, errors.Is(err, ErrNoRules))
}

func TestRuleBasedSingleClause(t *testing.T) {
	d := NewRuleBased(testMatcher, 5*time.Second)

	_, err := d.Decompose(context.Background(), "check my calendar")
	assert.True(t, errors.Is(err, ErrNoRules))
}

func TestPlannerDecompose(t *testing.T) {
	complete := func(ctx context.Context, prompt string) (string, error) {
		assert.Contains(t, prompt, "context-search")
		return "Here is the plan:\n[" +
			`{"id": "lookup", "handler": "context-search", "args": {"query": "trip dates"}},` +
			`{"id": "draft", "handler": "completion-step", "args": {"prompt": "plan the trip"}, "depends_on": ["lookup"]}` +
			"]", nil
	}

	p := NewPlanner(complete, []string{"context-search", "completion-step"}, 5*time.Second, nil)

	g, err := p.Decompose(context.Background(), "plan my trip")
	require.NoError(t, err)

	assert.Equal(t, []string{"lookup", "draft"}, g.TopologicalOrder())
}

func TestPlannerRejectsInvalidPlan(t *testing.T) {
	complete := func(ctx context.Context, prompt string) (string, error) {
		return `[{"id": "a", "handler": "x", "depends_on": ["ghost"]}]`, nil
	}

	p := NewPlanner(complete, nil, 5*time.Second, nil)

	_, err := p.Decompose(context.Background(), "whatever")
	assert.True(t, errors.Is(err, ErrInvalidGraph))
}

func TestPlannerRejectsNonJSON(t *testing.T) {
	complete := func(ctx context.Context, prompt string) (string, error) {
		return "I cannot help with that.", nil
	}

	p := NewPlanner(complete, nil, 5*time.Second, nil)

	_, err := p.Decompose(context.Background(), "whatever")
	assert.Error(t, err)
}

func TestCompositeFallsBackToPlanner(t *testing.T) {
	planned := false
	complete := func(ctx context.Context, prompt string) (string, error) {
		planned = true
		return `[{"id": "a", "handler": "completion-step", "args": {"prompt": "x"}}]`, nil
	}

	c := NewComposite(
		NewRuleBased(testMatcher, 5*time.Second),
		NewPlanner(complete, []string{"completion-step"}, 5*time.Second, nil),
		nil,
	)

	g, err := c.Decompose(context.Background(), "compose a haiku about moss and also juggle")
	require.NoError(t, err)
	assert.True(t, planned)
	assert.Equal(t, 1, g.Len())
}

func TestCompositePrefersRules(t *testing.T) {
	complete := func(ctx context.Context, prompt string) (string, error) {
		t.Fatal("planner must not run when rules match")
		return "", nil
	}

	c := NewComposite(
		NewRuleBased(testMatcher, 5*time.Second),
		NewPlanner(complete, nil, 5*time.Second, nil),
		nil,
	)

	_, err := c.Decompose(context.Background(), "check my calendar and find out the weather")
	require.NoError(t, err)
}
