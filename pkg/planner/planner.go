// Package planner implements the auto-mode retrieval planner: it turns the
// current user input into a store.SearchQuery, invokes the Store's Search
// verb, and returns the hits with the header pkg/inject renders them under
// as an injectable context block. It also owns the
// recursion-prevention guarantee: an LLM call made while planning must never
// be captured by the interceptor.
package planner

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/kittclouds/memori/internal/store"
	"github.com/kittclouds/memori/pkg/implicitmatcher"
	"github.com/kittclouds/memori/pkg/processing"
)

// plannerKey is the context key carrying the recursion-prevention flag. It
// is attached per call (not a process-wide singleton), so concurrent callers
// each get their own guard scoped to their own context tree.
type plannerKey struct{}

// WithInPlanner marks ctx as "currently inside the retrieval planner", so
// any LLM call made with it (or a context derived from it) must not be
// captured by an Interceptor.
func WithInPlanner(ctx context.Context) context.Context {
	return context.WithValue(ctx, plannerKey{}, true)
}

// InPlanner reports whether ctx was marked by WithInPlanner.
func InPlanner(ctx context.Context) bool {
	v, _ := ctx.Value(plannerKey{}).(bool)
	return v
}

// defaultLimit is the expected_count the fallback path uses.
const defaultLimit = 5

// defaultBudget bounds total planning time; on expiry the fallback path runs.
// The Store search that follows runs on the caller's context, not this budget.
const defaultBudget = 2 * time.Second

// defaultCacheTTL is the plan cache's default entry lifetime.
const defaultCacheTTL = 5 * time.Minute

// Result is the planner's output: up to Limit ranked memory summaries plus
// the header the context injector prepends.
type Result struct {
	Header string
	Hits   []store.MemoryHit
}

// Cache is satisfied by the in-process map cache (default) and the optional
// Redis-backed cache.
type Cache interface {
	Get(ctx context.Context, key string) (store.SearchQuery, bool)
	Set(ctx context.Context, key string, q store.SearchQuery, ttl time.Duration)
}

// Planner plans and executes auto-mode retrieval.
type Planner struct {
	store    store.Storer
	client   processing.Client
	cb       *gobreaker.CircuitBreaker[[]byte]
	cache    Cache
	log      *zap.Logger
	budget   time.Duration
	cacheTTL time.Duration
}

// New constructs a Planner. cache may be nil, in which case planning never
// consults or populates a cache (every call re-plans). The planner's
// ProcessingClient calls run through the same kind of circuit breaker the
// Classifier wraps its own calls in, so a struggling provider stops taking
// planner traffic before its per-call timeout budget is exhausted repeatedly.
func New(s store.Storer, client processing.Client, cache Cache, log *zap.Logger) *Planner {
	cb := gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "planner." + client.Name(),
		MaxRequests: 3,
		Interval:    30 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.Requests >= 3 && float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},
	})
	return &Planner{store: s, client: client, cb: cb, cache: cache, log: log, budget: defaultBudget, cacheTTL: defaultCacheTTL}
}

// Plan turns userInput into a store.SearchQuery and runs it against the Store,
// returning up to limit ranked hits (defaultLimit if limit <= 0). It never
// returns an error: a planning or search failure degrades to an empty
// Result, which the context injector treats as "no relevant context".
func (p *Planner) Plan(ctx context.Context, namespace, userInput string, recentMemoryCount, limit int) Result {
	if limit <= 0 {
		limit = defaultLimit
	}

	planCtx, cancel := context.WithTimeout(ctx, p.budget)
	defer cancel()

	q := p.buildQuery(planCtx, namespace, userInput, recentMemoryCount, limit)

	hits, err := p.store.Search(ctx, q)
	if err != nil {
		p.log.Warn("retrieval planner: search failed", zap.Error(err))
		return Result{Header: contextHeader}
	}

	return Result{Header: contextHeader, Hits: hits}
}

const contextHeader = "Relevant prior context:"

func (p *Planner) buildQuery(ctx context.Context, namespace, userInput string, recentMemoryCount, limit int) store.SearchQuery {
	key := cacheKey(namespace, userInput, recentMemoryCount)

	if p.cache != nil {
		if q, ok := p.cache.Get(ctx, key); ok {
			q.Limit = limit
			return q
		}
	}

	q := p.planPrimary(ctx, namespace, userInput, limit)

	if p.cache != nil {
		p.cache.Set(ctx, key, q, p.cacheTTL)
	}
	return q
}

// planPrimary calls the ProcessingClient for a structured plan. The call is
// made with a context marked WithInPlanner so the interceptor never records
// it as a chat exchange. Any failure (timeout, refusal, malformed response)
// degrades to planFallback, which never calls an LLM at all.
func (p *Planner) planPrimary(ctx context.Context, namespace, userInput string, limit int) store.SearchQuery {
	plannerCtx := WithInPlanner(ctx)

	system := "Plan a memory search for the user's current message. Extract search_terms (keywords/entities), " +
		"optionally narrow categories, and suggest expected_count."
	raw, err := p.cb.Execute(func() ([]byte, error) {
		return p.client.Structured(plannerCtx, system, userInput, processing.PlanSchema)
	})
	if err != nil {
		return p.planFallback(namespace, userInput, limit)
	}

	var result processing.PlanResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return p.planFallback(namespace, userInput, limit)
	}
	if len(result.SearchTerms) == 0 {
		return p.planFallback(namespace, userInput, limit)
	}

	q := store.SearchQuery{
		Namespace: namespace,
		Text:      strings.Join(result.SearchTerms, " "),
		Limit:     limit,
	}
	if result.ExpectedCount > 0 && result.ExpectedCount < limit {
		q.Limit = result.ExpectedCount
	}
	if len(result.Categories) > 0 {
		q.Filters.CategoryPrimary = store.Category(result.Categories[0])
	}
	if result.ImportanceThreshold >= 0.7 {
		q.Filters.ImportantOnly = true
	}
	return q
}

// planFallback derives search terms from userInput by stop-word filtering
// and tokenization, with expected_count fixed at defaultLimit (or limit, if
// smaller). No LLM call is made.
func (p *Planner) planFallback(namespace, userInput string, limit int) store.SearchQuery {
	tokens := implicitmatcher.TokenizeNorm(userInput)
	if limit <= 0 || limit > defaultLimit {
		limit = defaultLimit
	}
	return store.SearchQuery{
		Namespace: namespace,
		Text:      strings.Join(tokens, " "),
		Limit:     limit,
	}
}

// cacheKey matches the spec's (namespace, hash(user_input), recent_memory_count_bucket)
// keying scheme, bucketing recentMemoryCount into coarse ranges so the cache
// hit rate isn't destroyed by every single new memory invalidating it.
func cacheKey(namespace, userInput string, recentMemoryCount int) string {
	sum := sha256.Sum256([]byte(userInput))
	return fmt.Sprintf("%s:%s:%d", namespace, hex.EncodeToString(sum[:8]), bucket(recentMemoryCount))
}

func bucket(n int) int {
	switch {
	case n < 10:
		return 0
	case n < 100:
		return 1
	case n < 1000:
		return 2
	default:
		return 3
	}
}
