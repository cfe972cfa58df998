package router

import (
	"log/slog"
	"sort"
	"strings"

	"github.com/verahub/vera-core/internal/config"
	"github.com/verahub/vera-core/internal/metrics"
	"github.com/verahub/vera-core/internal/session"
)

// Intent classes.
const (
	ClassConversational = "conversational"
	ClassFactualLookup  = "factual-lookup"
	ClassAction         = "action"
	ClassComplex        = "complex-multi-step"
)

// Execution paths.
const (
	PathSingleCompletion = "single-completion"
	PathExpertCall       = "expert-call"
	PathOrchestrator     = "orchestrator"
)

// DefaultTieMargin is used when no margin is configured.
const DefaultTieMargin = 0.15

// blastRadius orders classes from cheapest-to-correct to most expensive. When
// classes score within the tie margin, the smaller blast radius wins: a wrong
// simple answer is cheaper to correct than an unnecessary decomposition.
var blastRadius = map[string]int{
	ClassAction:         0,
	ClassFactualLookup:  1,
	ClassConversational: 2,
	ClassComplex:        3,
}

// Decision is the immutable classification produced once per utterance.
type Decision struct {
	Class      string
	Confidence float64
	Path       string
	Profile    config.ProfileConfig
	// Scores carries the per-class signal scores for offline evaluation.
	// They are logged, never persisted as conversation state.
	Scores map[string]float64
}

// Router computes a coarse intent class from a small rule-based signal set
// and maps it to an execution path and a model/temperature profile.
type Router struct {
	margin   float64
	profiles map[string]config.ProfileConfig
	logger   *slog.Logger
}

// New creates a router from configuration.
func New(cfg *config.Config, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	margin := cfg.Router.TieMargin
	if margin <= 0 {
		margin = DefaultTieMargin
	}

	profiles := make(map[string]config.ProfileConfig, len(cfg.Completion.Profiles))
	for _, p := range cfg.Completion.Profiles {
		profiles[p.Name] = p
	}

	return &Router{margin: margin, profiles: profiles, logger: logger}
}

// Route classifies the utterance. The decision fully determines which of
// {orchestrator, single-completion caller, expert call} runs; it never
// selects more than one.
func (r *Router) Route(utterance string, scope string, state *session.State) Decision {
	scores := score(utterance, state)

	ordered := make([]string, 0, len(scores))
	for class := range scores {
		ordered = append(ordered, class)
	}
	sort.Slice(ordered, func(i, j int) bool {
		if scores[ordered[i]] != scores[ordered[j]] {
			return scores[ordered[i]] > scores[ordered[j]]
		}
		return blastRadius[ordered[i]] < blastRadius[ordered[j]]
	})

	top := ordered[0]
	best := scores[top]
	// Blast-radius tie-break over everything within the margin of the best
	// score.
	for _, class := range ordered[1:] {
		if best-scores[class] <= r.margin && blastRadius[class] < blastRadius[top] {
			top = class
		}
	}

	decision := Decision{
		Class:      top,
		Confidence: scores[top],
		Path:       pathFor(top),
		Profile:    r.profileFor(top),
		Scores:     scores,
	}

	metrics.RouteDecisions.WithLabelValues(decision.Class, decision.Path).Inc()
	r.logger.Info("route decision",
		"utterance", utterance,
		"scope", scope,
		"class", decision.Class,
		"path", decision.Path,
		"confidence", decision.Confidence,
		"scores", scores,
	)
	return decision
}

func pathFor(class string) string {
	switch class {
	case ClassAction:
		return PathExpertCall
	case ClassComplex:
		return PathOrchestrator
	default:
		return PathSingleCompletion
	}
}

// profileFor maps a class to a configured model/temperature profile. The
// profile table is configuration, not logic: conversational traffic uses the
// "conversational" profile, everything else the "factual" one.
func (r *Router) profileFor(class string) config.ProfileConfig {
	name := "factual"
	if class == ClassConversational {
		name = "conversational"
	}
	if p, ok := r.profiles[name]; ok {
		return p
	}
	// No profile table configured; fall back to lane defaults.
	return config.ProfileConfig{Name: name}
}

var actionVerbs = map[string]bool{
	"add": true, "book": true, "call": true, "cancel": true, "create": true,
	"delete": true, "pause": true, "play": true, "remind": true, "remove": true,
	"schedule": true, "send": true, "set": true, "start": true, "stop": true,
	"turn": true, "update": true,
}

var temporalMemoryWords = map[string]bool{
	"appointment": true, "calendar": true, "last": true, "meeting": true,
	"next": true, "remember": true, "today": true, "tomorrow": true,
	"tonight": true, "week": true, "yesterday": true,
}

var questionWords = map[string]bool{
	"did": true, "how": true, "what": true, "when": true, "where": true,
	"which": true, "who": true,
}

var greetings = map[string]bool{
	"hello": true, "hey": true, "hi": true, "thanks": true, "thank": true,
}

var sequenceWords = map[string]bool{
	"also": true, "and": true, "then": true, "afterwards": true,
}

// score computes the per-class signal scores. It is a pure function of the
// utterance and conversation state, so classifying the same utterance twice
// with unchanged state produces an identical result.
func score(utterance string, state *session.State) map[string]float64 {
	words := tokenize(utterance)

	verbs := 0
	temporal := 0
	question := 0
	greeting := 0
	sequences := 0
	memoryRef := false

	for _, w := range words {
		if actionVerbs[w] {
			verbs++
		}
		if temporalMemoryWords[w] {
			temporal++
		}
		if questionWords[w] {
			question++
		}
		if greetings[w] {
			greeting++
		}
		if sequenceWords[w] {
			sequences++
		}
		if w == "my" || w == "remember" {
			memoryRef = true
		}
	}

	scores := map[string]float64{
		ClassConversational: 0.2,
		ClassFactualLookup:  0.0,
		ClassAction:         0.0,
		ClassComplex:        0.0,
	}

	if greeting > 0 {
		scores[ClassConversational] += 0.4
	}
	if question > 0 {
		scores[ClassFactualLookup] += 0.4
		if memoryRef || temporal > 0 {
			scores[ClassFactualLookup] += 0.3
		}
	}
	if verbs == 1 {
		scores[ClassAction] += 0.6
		if question == 0 {
			scores[ClassAction] += 0.1
		}
	}
	if verbs >= 2 {
		// Two or more action verbs is the decomposition signal.
		scores[ClassComplex] += 0.5 + 0.1*float64(verbs)
		if sequences > 0 {
			scores[ClassComplex] += 0.1
		}
		scores[ClassAction] += 0.3
	}
	if state != nil && state.Topic() != "" && question > 0 {
		// Follow-up questions inside a topic lean conversational.
		scores[ClassConversational] += 0.1
	}

	for class, s := range scores {
		if s > 1.0 {
			scores[class] = 1.0
		}
	}
	return scores
}

func tokenize(utterance string) []string {
	fields := strings.Fields(strings.ToLower(utterance))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, "?!.,;:'\"")
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}
