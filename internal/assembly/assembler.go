package assembly

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/verahub/vera-core/internal/contextcache"
	"github.com/verahub/vera-core/internal/contextstore"
)

// DefaultBudget is the context character ceiling used when the caller passes
// no budget.
const DefaultBudget = 2000

// Assembled is the bounded, ranked context built for one utterance.
type Assembled struct {
	Records []contextstore.Record
	Summary string
	// Version is the scope's write counter at assembly time; the summary
	// fingerprint embeds it.
	Version uint64
}

// Assembler gathers bounded, ranked facts from the context store and caches
// expensive summaries.
type Assembler struct {
	store  contextstore.Adapter
	cache  *contextcache.Cache
	clock  func() time.Time
	logger *slog.Logger

	mu       sync.Mutex
	lastKeys map[string]string // scope -> last cached summary fingerprint
}

// New creates an assembler. clock may be nil, defaulting to time.Now.
func New(store contextstore.Adapter, cache *contextcache.Cache, clock func() time.Time, logger *slog.Logger) *Assembler {
	if clock == nil {
		clock = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Assembler{
		store:    store,
		cache:    cache,
		clock:    clock,
		logger:   logger,
		lastKeys: make(map[string]string),
	}
}

// Assemble fetches candidate records for (scope, query), ranks them by
// relevance and truncates to budget characters. If any personal-fact record
// matched, at least one is always retained regardless of the volume of less
// important records.
func (a *Assembler) Assemble(ctx context.Context, scope, query string, budget int) (*Assembled, error) {
	if budget <= 0 {
		budget = DefaultBudget
	}

	start := a.clock()

	version, err := a.store.Version(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("read scope version: %w", err)
	}

	candidates, err := a.store.Search(ctx, contextstore.Query{
		Scope: scope,
		Text:  keywords(query),
		Limit: 50,
	})
	if err != nil {
		return nil, fmt.Errorf("fetch context records: %w", err)
	}

	records := rank(candidates)
	records = truncate(records, budget)
	fetchCost := a.clock().Sub(start)

	assembled := &Assembled{Records: records, Version: version}

	if len(records) == 0 {
		return assembled, nil
	}

	key := contextcache.Fingerprint(scope, query, version)
	summary, cached, err := a.cache.GetOrCompute(ctx, key, fetchCost, func(ctx context.Context) (string, error) {
		return Summarize(records), nil
	})
	if err != nil {
		// Summarization never blocks assembly; the records are still usable.
		a.logger.Warn("summary computation failed", "scope", scope, "error", err)
		return assembled, nil
	}
	assembled.Summary = summary

	a.mu.Lock()
	a.lastKeys[scope] = key
	a.mu.Unlock()

	a.logger.Debug("context assembled",
		"scope", scope,
		"records", len(records),
		"version", version,
		"summary_cached", cached,
	)
	return assembled, nil
}

// InvalidateScope drops the scope's cached summary after a write. The
// fingerprint already embeds the scope version, so a stale entry could
// never be served again; eager deletion just frees the slot immediately.
func (a *Assembler) InvalidateScope(ctx context.Context, scope string) {
	a.mu.Lock()
	key, ok := a.lastKeys[scope]
	if ok {
		delete(a.lastKeys, scope)
	}
	a.mu.Unlock()
	if !ok {
		return
	}
	if err := a.cache.Invalidate(ctx, key); err != nil {
		a.logger.Warn("summary invalidation failed", "scope", scope, "error", err)
	}
}

// rank orders records by relevance, newest first within equal relevance.
func rank(records []contextstore.Record) []contextstore.Record {
	out := make([]contextstore.Record, len(records))
	copy(out, records)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Relevance != out[j].Relevance {
			return out[i].Relevance > out[j].Relevance
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out
}

// truncate keeps highest-relevance records until the character budget is
// spent. Personal facts must not be evicted by volume: if the kept set lost
// every personal-fact that was present, the lowest-relevance kept records are
// evicted to make room for the best one.
func truncate(records []contextstore.Record, budget int) []contextstore.Record {
	kept := make([]contextstore.Record, 0, len(records))
	used := 0
	var droppedFact *contextstore.Record

	for i := range records {
		size := recordSize(records[i])
		if used+size <= budget {
			kept = append(kept, records[i])
			used += size
			continue
		}
		if records[i].Kind == contextstore.KindPersonalFact && droppedFact == nil {
			droppedFact = &records[i]
		}
	}

	if droppedFact == nil || containsKind(kept, contextstore.KindPersonalFact) {
		return kept
	}

	// Evict from the tail (lowest relevance) until the fact fits.
	need := recordSize(*droppedFact)
	for len(kept) > 0 && used+need > budget {
		used -= recordSize(kept[len(kept)-1])
		kept = kept[:len(kept)-1]
	}
	return append(kept, *droppedFact)
}

func recordSize(rec contextstore.Record) int {
	return len(rec.Key) + len(rec.Value) + len(rec.Kind) + 4
}

func containsKind(records []contextstore.Record, kind string) bool {
	for _, rec := range records {
		if rec.Kind == kind {
			return true
		}
	}
	return false
}

// Summarize renders records as a human-readable condensation, one line per
// record, best first.
func Summarize(records []contextstore.Record) string {
	var b strings.Builder
	for _, rec := range records {
		fmt.Fprintf(&b, "- [%s] %s: %s\n", rec.Kind, rec.Key, rec.Value)
	}
	return strings.TrimRight(b.String(), "\n")
}

// keywords strips filler words so the store query matches on content terms.
func keywords(query string) string {
	fields := strings.Fields(strings.ToLower(query))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, "?!.,;:")
		if f == "" || stopwords[f] {
			continue
		}
		out = append(out, f)
	}
	if len(out) == 0 {
		return ""
	}
	// The adapters treat the text as one substring; the strongest single
	// term is the last content word.
	return out[len(out)-1]
}

var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "do": true, "i": true, "is": true,
	"me": true, "my": true, "of": true, "the": true, "to": true, "what": true,
	"when": true, "where": true, "who": true, "you": true,
}
