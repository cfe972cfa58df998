package grounding

import (
	"log/slog"
	"strings"

	"github.com/verahub/vera-core/internal/contextstore"
	"github.com/verahub/vera-core/internal/metrics"
)

// Verdict classifies one claim against the assembled context.
type Verdict string

const (
	// VerdictSupported: a record backs the claim.
	VerdictSupported Verdict = "supported"
	// VerdictUnsupported: a record covers the same fact but with a
	// conflicting value.
	VerdictUnsupported Verdict = "unsupported"
	// VerdictUnknown: no record covers the claim's fact at all.
	VerdictUnknown Verdict = "unknown"
	// VerdictContextUnused: records were assembled but the reply overlaps
	// none of them.
	VerdictContextUnused Verdict = "context-unused"
)

// ConfidenceAnnotation is advisory metadata attached to a reply. It never
// edits or blocks the reply; acting on low confidence is the caller's
// decision.
type ConfidenceAnnotation struct {
	Claim     string   `json:"claim"`
	Verdict   Verdict  `json:"verdict"`
	RecordIDs []string `json:"record_ids,omitempty"`
}

// Validator performs the claim-vs-context comparison. String and entity
// overlap only, not semantic entailment.
type Validator struct {
	logger *slog.Logger
}

// New creates a validator.
func New(logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Validator{logger: logger}
}

// Validate compares each claim in replyText against the records actually
// assembled for the request and returns one annotation per claim, plus a
// context-unused annotation when the reply ignores the context entirely.
func (v *Validator) Validate(replyText string, used []contextstore.Record) []ConfidenceAnnotation {
	claims := splitClaims(replyText)
	annotations := make([]ConfidenceAnnotation, 0, len(claims)+1)
	anyOverlap := false

	for _, claim := range claims {
		ann := v.checkClaim(claim, used)
		if ann.Verdict != VerdictUnknown {
			anyOverlap = true
		}
		metrics.GroundingAnnotations.WithLabelValues(string(ann.Verdict)).Inc()
		annotations = append(annotations, ann)
	}

	if len(used) > 0 && !anyOverlap {
		// Facts were assembled but the reply used none of them.
		annotations = append(annotations, ConfidenceAnnotation{
			Verdict: VerdictContextUnused,
		})
		metrics.GroundingAnnotations.WithLabelValues(string(VerdictContextUnused)).Inc()
		v.logger.Info("assembled context unused by reply", "records", len(used))
	}

	return annotations
}

func (v *Validator) checkClaim(claim string, used []contextstore.Record) ConfidenceAnnotation {
	claimTokens := tokenSet(claim)

	var supporting, conflicting []string
	for _, rec := range used {
		keyHit := overlaps(claimTokens, tokenSet(rec.Key))
		valueHit := overlaps(claimTokens, tokenSet(rec.Value))

		switch {
		case keyHit && valueHit:
			supporting = append(supporting, rec.ID)
		case keyHit:
			// Same fact type, different value: the claim conflicts with
			// what the store says.
			conflicting = append(conflicting, rec.ID)
		case valueHit:
			supporting = append(supporting, rec.ID)
		}
	}

	switch {
	case len(supporting) > 0:
		return ConfidenceAnnotation{Claim: claim, Verdict: VerdictSupported, RecordIDs: supporting}
	case len(conflicting) > 0:
		return ConfidenceAnnotation{Claim: claim, Verdict: VerdictUnsupported, RecordIDs: conflicting}
	default:
		return ConfidenceAnnotation{Claim: claim, Verdict: VerdictUnknown}
	}
}

// splitClaims breaks a reply into sentence-level claims.
func splitClaims(text string) []string {
	var claims []string
	var cur strings.Builder
	for _, r := range text {
		cur.WriteRune(r)
		if r == '.' || r == '!' || r == '?' || r == '\n' {
			if c := strings.TrimSpace(cur.String()); len(c) > 1 {
				claims = append(claims, c)
			}
			cur.Reset()
		}
	}
	if c := strings.TrimSpace(cur.String()); len(c) > 1 {
		claims = append(claims, c)
	}
	return claims
}

var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {},
	"by": {}, "for": {}, "from": {}, "has": {}, "have": {}, "i": {},
	"in": {}, "is": {}, "it": {}, "my": {}, "of": {}, "on": {}, "or": {},
	"that": {}, "the": {}, "this": {}, "to": {}, "was": {}, "with": {},
	"you": {}, "your": {},
}

func tokenSet(text string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, tok := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	}) {
		if _, stop := stopwords[tok]; stop {
			continue
		}
		if len(tok) < 2 {
			continue
		}
		set[tok] = struct{}{}
	}
	return set
}

func overlaps(a, b map[string]struct{}) bool {
	for tok := range b {
		if _, ok := a[tok]; ok {
			return true
		}
	}
	return false
}
