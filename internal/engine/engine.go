package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/verahub/vera-core/internal/assembly"
	"github.com/verahub/vera-core/internal/completion"
	"github.com/verahub/vera-core/internal/config"
	"github.com/verahub/vera-core/internal/contextstore"
	"github.com/verahub/vera-core/internal/expert"
	"github.com/verahub/vera-core/internal/grounding"
	"github.com/verahub/vera-core/internal/intent"
	"github.com/verahub/vera-core/internal/metrics"
	"github.com/verahub/vera-core/internal/orchestrator"
	"github.com/verahub/vera-core/internal/router"
	"github.com/verahub/vera-core/internal/session"
	"github.com/verahub/vera-core/internal/synthesis"
)

// Request-blocking failures surfaced to the transport layer.
var (
	// ErrEmptyUtterance reports a request with no utterance.
	ErrEmptyUtterance = errors.New("empty utterance")
	// ErrUpstreamUnavailable reports that the completion backend or the
	// context store is unreachable on a path that cannot degrade.
	ErrUpstreamUnavailable = errors.New("upstream unavailable, try again")
)

// Request is one inbound utterance.
type Request struct {
	ConversationID string `json:"conversation_id"`
	Scope          string `json:"scope"`
	Utterance      string `json:"utterance"`
}

// Response is the engine's answer plus its advisory metadata.
type Response struct {
	Reply       *synthesis.Reply                 `json:"reply"`
	Annotations []grounding.ConfidenceAnnotation `json:"annotations,omitempty"`
	FastPath    bool                             `json:"fast_path"`
	Class       string                           `json:"class"`
	Path        string                           `json:"path"`
}

// Completer is the slice of the completion backend the engine needs.
type Completer interface {
	Complete(ctx context.Context, profile config.ProfileConfig, prompt string) (*completion.Response, error)
}

// Engine runs the full per-utterance pipeline: fast-path classification,
// routing, path execution, synthesis, grounding.
type Engine struct {
	intents    *intent.Registry
	router     *router.Router
	assembler  *assembly.Assembler
	experts    *expert.Registry
	completer  Completer
	decomposer orchestrator.Decomposer
	executor   *orchestrator.Executor
	matcher    orchestrator.ClauseMatcher
	synth      *synthesis.Synthesizer
	validator  *grounding.Validator
	sessions   *session.Manager
	store      contextstore.Adapter
	budget     int
	logger     *slog.Logger
}

// Deps bundles the engine's collaborators.
type Deps struct {
	Intents    *intent.Registry
	Router     *router.Router
	Assembler  *assembly.Assembler
	Experts    *expert.Registry
	Completer  Completer
	Decomposer orchestrator.Decomposer
	Executor   *orchestrator.Executor
	Store      contextstore.Adapter
	Budget     int
	Logger     *slog.Logger
}

// New creates an engine.
func New(d Deps) *Engine {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	budget := d.Budget
	if budget <= 0 {
		budget = assembly.DefaultBudget
	}
	return &Engine{
		intents:    d.Intents,
		router:     d.Router,
		assembler:  d.Assembler,
		experts:    d.Experts,
		completer:  d.Completer,
		decomposer: d.Decomposer,
		executor:   d.Executor,
		matcher:    NewClauseMatcher(d.Intents),
		synth:      synthesis.NewSynthesizer(logger),
		validator:  grounding.New(logger),
		sessions:   session.NewManager(),
		store:      d.Store,
		budget:     budget,
		logger:     logger,
	}
}

// Ask handles one utterance end to end.
func (e *Engine) Ask(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()
	utterance := strings.TrimSpace(req.Utterance)
	if utterance == "" {
		return nil, ErrEmptyUtterance
	}
	scope := req.Scope
	if scope == "" {
		scope = "default"
	}

	state := e.sessions.Get(req.ConversationID, scope)

	resp, err := e.dispatch(ctx, utterance, scope, state)
	if err != nil {
		metrics.AskRequests.WithLabelValues("error").Inc()
		return nil, err
	}

	state.AddMessage("user", utterance)
	state.AddMessage("assistant", resp.Reply.Text)
	if e.store != nil {
		if perr := state.Persist(ctx, e.store); perr != nil {
			e.logger.Warn("session persist failed", "conversation", state.ID, "error", perr)
		} else if e.assembler != nil {
			// The persisted note advanced the scope; drop the stale summary.
			e.assembler.InvalidateScope(ctx, scope)
		}
	}

	e.runFollowUps(ctx, scope, resp.Reply.FollowUps)

	metrics.AskRequests.WithLabelValues("ok").Inc()
	metrics.AskDuration.Observe(time.Since(start).Seconds())
	return resp, nil
}

// runFollowUps executes post-reply actions after the primary reply is
// final. Failures are logged and dropped; they never surface to the caller.
func (e *Engine) runFollowUps(ctx context.Context, scope string, followUps []synthesis.FollowUp) {
	for _, fu := range followUps {
		result := e.experts.Call(ctx, fu.Handler, scope, fu.Args)
		if !result.Success {
			e.logger.Warn("follow-up failed",
				"handler", fu.Handler, "reason", fu.Reason, "kind", result.ErrorKind)
			continue
		}
		e.logger.Debug("follow-up completed", "handler", fu.Handler, "reason", fu.Reason)
	}
}

func (e *Engine) dispatch(ctx context.Context, utterance, scope string, state *session.State) (*Response, error) {
	// Tier 0: deterministic fast path, no completion call at all.
	if action := e.intents.ClassifyFast(utterance); action != nil {
		metrics.FastPathHits.Inc()
		result := e.experts.Call(ctx, action.Handler, scope, action.Args)
		reply := e.synth.FromExpert(result, router.ClassAction, router.PathExpertCall)
		return &Response{
			Reply:    reply,
			FastPath: true,
			Class:    router.ClassAction,
			Path:     router.PathExpertCall,
		}, nil
	}

	decision := e.router.Route(utterance, scope, state)

	switch decision.Path {
	case router.PathExpertCall:
		return e.runExpertCall(ctx, utterance, scope, state, decision)
	case router.PathOrchestrator:
		return e.runOrchestrator(ctx, utterance, scope, decision)
	default:
		return e.runCompletion(ctx, utterance, scope, state, decision)
	}
}

// runCompletion handles the single-completion path: assembled context plus
// recent history become the prompt. A missing store or backend is fatal to
// the request here.
func (e *Engine) runCompletion(ctx context.Context, utterance, scope string, state *session.State, decision router.Decision) (*Response, error) {
	assembled, err := e.assembler.Assemble(ctx, scope, utterance, e.budget)
	if err != nil {
		if errors.Is(err, contextstore.ErrUnavailable) {
			return nil, fmt.Errorf("%w: context store: %v", ErrUpstreamUnavailable, err)
		}
		return nil, fmt.Errorf("assemble context: %w", err)
	}

	prompt := buildPrompt(assembled.Summary, state, utterance)

	completed, err := e.completer.Complete(ctx, decision.Profile, prompt)
	if err != nil {
		if errors.Is(err, completion.ErrUnavailable) {
			return nil, fmt.Errorf("%w: completion backend: %v", ErrUpstreamUnavailable, err)
		}
		return nil, fmt.Errorf("completion: %w", err)
	}

	reply := e.synth.FromCompletion(completed.Content, decision)
	annotations := e.validator.Validate(reply.Text, assembled.Records)
	if state != nil {
		state.SetTopic(utterance)
	}

	return &Response{
		Reply:       reply,
		Annotations: annotations,
		Class:       decision.Class,
		Path:        decision.Path,
	}, nil
}

// runExpertCall handles an action that missed every fast-path template. If
// no handler rule matches either, it degrades to single-completion rather
// than failing the request.
func (e *Engine) runExpertCall(ctx context.Context, utterance, scope string, state *session.State, decision router.Decision) (*Response, error) {
	handler, args, ok := e.matcher(utterance)
	if !ok {
		return e.runCompletion(ctx, utterance, scope, state, decision)
	}

	result := e.experts.Call(ctx, handler, scope, args)
	reply := e.synth.FromExpert(result, decision.Class, decision.Path)
	return &Response{
		Reply: reply,
		Class: decision.Class,
		Path:  decision.Path,
	}, nil
}

// runOrchestrator handles the complex path: decompose, execute, merge. A
// structurally invalid graph blocks the request before anything runs; a
// store outage degrades only the tasks that touch the store.
func (e *Engine) runOrchestrator(ctx context.Context, utterance, scope string, decision router.Decision) (*Response, error) {
	g, err := e.decomposer.Decompose(ctx, utterance)
	if err != nil {
		var verr *orchestrator.GraphValidationError
		switch {
		case errors.As(err, &verr):
			return nil, err
		case errors.Is(err, completion.ErrUnavailable):
			return nil, fmt.Errorf("%w: planner backend: %v", ErrUpstreamUnavailable, err)
		case errors.Is(err, contextstore.ErrUnavailable):
			return nil, fmt.Errorf("%w: context store: %v", ErrUpstreamUnavailable, err)
		}
		return nil, fmt.Errorf("decompose: %w", err)
	}

	assembled, aerr := e.assembler.Assemble(ctx, scope, utterance, e.budget)
	if aerr != nil {
		// Degraded, not fatal: tasks that need the store will fail on
		// their own and independent branches still proceed.
		e.logger.Warn("context assembly degraded", "error", aerr)
		assembled = &assembly.Assembled{}
	}

	result, err := e.executor.Execute(ctx, g, scope)
	if err != nil {
		return nil, fmt.Errorf("execute graph: %w", err)
	}

	reply := e.synth.FromGraph(result, decision)
	annotations := e.validator.Validate(reply.Text, assembled.Records)

	return &Response{
		Reply:       reply,
		Annotations: annotations,
		Class:       decision.Class,
		Path:        decision.Path,
	}, nil
}

// buildPrompt renders context summary, recent turns, and the utterance.
func buildPrompt(summary string, state *session.State, utterance string) string {
	var b strings.Builder
	if summary != "" {
		b.WriteString("Known facts:\n")
		b.WriteString(summary)
		b.WriteString("\n\n")
	}
	if state != nil {
		if history := state.Recent(6); len(history) > 0 {
			b.WriteString("Conversation so far:\n")
			for _, msg := range history {
				fmt.Fprintf(&b, "%s: %s\n", msg.Role, msg.Content)
			}
			b.WriteString("\n")
		}
	}
	b.WriteString("User: ")
	b.WriteString(utterance)
	return b.String()
}

// NewClauseMatcher maps one clause to an expert handler call: fast-path
// templates first, then keyword rules. Both the expert-call path and the
// rule-based decomposer use it.
func NewClauseMatcher(intents *intent.Registry) orchestrator.ClauseMatcher {
	return func(clause string) (string, map[string]string, bool) {
		if action := intents.ClassifyFast(clause); action != nil {
			return action.Handler, action.Args, true
		}

		lower := strings.ToLower(clause)
		switch {
		case strings.Contains(lower, "remind") || strings.Contains(lower, "remember"):
			return "memory-write", map[string]string{"note": clause}, true
		case strings.HasPrefix(lower, "schedule ") || strings.HasPrefix(lower, "book "):
			_, title, _ := strings.Cut(lower, " ")
			return "calendar-write", map[string]string{"title": strings.TrimPrefix(title, "a ")}, true
		case strings.Contains(lower, "add ") && strings.Contains(lower, "list"):
			item, list := splitListClause(lower)
			return "list-write", map[string]string{"item": item, "list": list}, true
		case strings.Contains(lower, "calendar") || strings.Contains(lower, "schedule"):
			return "context-search", map[string]string{"query": clause, "kind": contextstore.KindCalendarItem}, true
		case strings.Contains(lower, "weather") || strings.Contains(lower, "find out") ||
			strings.Contains(lower, "look up"):
			return "completion-step", map[string]string{"prompt": clause}, true
		case strings.HasPrefix(lower, "check ") || strings.HasPrefix(lower, "what "):
			return "context-search", map[string]string{"query": clause}, true
		default:
			return "", nil, false
		}
	}
}

// splitListClause pulls the item and list name out of an "add X to Y list"
// style clause that missed the strict fast-path template.
func splitListClause(lower string) (item, list string) {
	rest := lower
	if _, after, ok := strings.Cut(rest, "add "); ok {
		rest = after
	}
	item, listPart, ok := strings.Cut(rest, " to ")
	if !ok {
		return strings.TrimSpace(rest), "todo"
	}
	list = strings.TrimSpace(listPart)
	for _, prefix := range []string{"my ", "the "} {
		list = strings.TrimPrefix(list, prefix)
	}
	list = strings.TrimSpace(strings.TrimSuffix(list, "list"))
	if list == "" {
		list = "todo"
	}
	return strings.TrimSpace(item), list
}
