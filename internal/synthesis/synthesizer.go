package synthesis

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/verahub/vera-core/internal/expert"
	"github.com/verahub/vera-core/internal/orchestrator"
	"github.com/verahub/vera-core/internal/router"
)

// Reply is the final answer handed back to the transport layer.
type Reply struct {
	Text      string     `json:"text"`
	Class     string     `json:"class"`
	Path      string     `json:"path"`
	Partial   bool       `json:"partial,omitempty"`
	FollowUps []FollowUp `json:"-"`
}

// FollowUp is an expert call to run after the primary reply is final. It
// is engine-internal and never serialized into the reply.
type FollowUp struct {
	Handler string
	Args    map[string]string
	Reason  string
}

// Synthesizer turns completion text or aggregated expert results into a
// single reply.
type Synthesizer struct {
	logger *slog.Logger
}

// NewSynthesizer creates a synthesizer.
func NewSynthesizer(logger *slog.Logger) *Synthesizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Synthesizer{logger: logger}
}

// FromCompletion wraps single-completion output: pass-through plus
// formatting.
func (s *Synthesizer) FromCompletion(text string, decision router.Decision) *Reply {
	return &Reply{
		Text:  strings.TrimSpace(text),
		Class: decision.Class,
		Path:  decision.Path,
	}
}

// FromExpert wraps a single expert call's outcome, for the fast path and
// the expert-call path.
func (s *Synthesizer) FromExpert(result *expert.Result, class, path string) *Reply {
	text := strings.TrimSpace(result.Payload)
	if !result.Success {
		text = fmt.Sprintf("I couldn't do that (%s).", failureDetail(result))
	} else if text == "" {
		text = "Done."
	}
	return &Reply{
		Text:    text,
		Class:   class,
		Path:    path,
		Partial: !result.Success,
	}
}

// FromGraph merges expert payloads into one narrative, ordered by the
// graph's topological order. A failed or skipped task gets a plain
// statement of what did not happen; its payload is never invented. When
// any task fell short, a partial-completion notice is appended.
func (s *Synthesizer) FromGraph(result *orchestrator.GraphResult, decision router.Decision) *Reply {
	var sections []string
	failed := 0

	for _, id := range result.Order {
		state := result.FinalState[id]
		res := result.Results[id]

		switch state {
		case orchestrator.TaskSucceeded:
			if res != nil && strings.TrimSpace(res.Payload) != "" {
				sections = append(sections, strings.TrimSpace(res.Payload))
			}
		case orchestrator.TaskFailed:
			failed++
			sections = append(sections, fmt.Sprintf("I couldn't complete one step (%s).", failureDetail(res)))
		case orchestrator.TaskTimedOut:
			failed++
			sections = append(sections, "One step took too long and was stopped.")
		case orchestrator.TaskSkipped:
			failed++
			sections = append(sections, "A step was skipped because an earlier one failed.")
		}
	}

	text := strings.Join(sections, " ")
	if failed > 0 {
		notice := fmt.Sprintf("Note: %d of %d steps did not complete.", failed, len(result.Order))
		text = strings.TrimSpace(text + " " + notice)
	}
	if text == "" {
		text = "I wasn't able to complete any part of that request."
	}

	reply := &Reply{
		Text:    text,
		Class:   decision.Class,
		Path:    decision.Path,
		Partial: result.Partial,
	}
	s.attachFollowUps(reply, result)
	return reply
}

func failureDetail(res *expert.Result) string {
	if res == nil {
		return "no details"
	}
	if p := strings.TrimSpace(res.Payload); p != "" {
		return p
	}
	return "no details"
}

// attachFollowUps derives retries for timed-out tasks from the outcome.
// The engine runs them after the reply is final; an outcome here never
// changes the reply text.
func (s *Synthesizer) attachFollowUps(reply *Reply, result *orchestrator.GraphResult) {
	for _, id := range result.Order {
		if result.FinalState[id] != orchestrator.TaskTimedOut {
			continue
		}
		task, ok := result.Tasks[id]
		if !ok {
			continue
		}
		reply.FollowUps = append(reply.FollowUps, FollowUp{
			Handler: task.Handler,
			Args:    task.Args,
			Reason:  "retry after task timeout",
		})
		s.logger.Debug("follow-up queued", "task", id, "handler", task.Handler)
	}
}
