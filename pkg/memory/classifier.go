// Package memory implements the Classifier: it turns a raw
// (user_input, ai_output, model, context_hint) exchange into a
// store.ProcessedMemory, either via a configured processing.Client or, on
// any failure of that primary path, via a deterministic rule-based
// fallback. The shape of the orchestration (gather context, call the LLM,
// validate/clamp the result, hand it to the store) follows the teacher's
// extraction pipeline; the transport moved from a WASM fetch call to the
// provider-agnostic processing.Client interface.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/kittclouds/memori/internal/merr"
	"github.com/kittclouds/memori/pkg/implicitmatcher"
	"github.com/kittclouds/memori/pkg/metrics"
	"github.com/kittclouds/memori/pkg/pool"
	"github.com/kittclouds/memori/pkg/processing"

	"github.com/kittclouds/memori/internal/store"
)

// minStorableLength is the combined user_input+ai_output character count
// below which the rule-based fallback marks a memory ShouldStore=false.
const minStorableLength = 12

// shortTermTTL is the default expiry the fallback (and any classification
// that resolves to short_term) assigns when the provider/rules don't
// specify one.
const shortTermTTL = 7 * 24 * time.Hour

// UserContext biases categorization with the caller's current projects,
// skills, and preferences. It never feeds back into future classification
// automatically — callers must resupply it per call.
type UserContext struct {
	CurrentProjects []string
	Skills          []string
	Preferences     []string
}

// Exchange is the raw input the Classifier converts into a ProcessedMemory.
type Exchange struct {
	UserInput   string
	AIOutput    string
	Model       string
	ContextHint UserContext
	Namespace   string
}

// Classifier converts raw exchanges into ProcessedMemory records.
type Classifier struct {
	client  processing.Client
	cb      *gobreaker.CircuitBreaker[[]byte]
	metrics *metrics.Registry
	log     *zap.Logger
	store   store.Storer

	dictMu   sync.Mutex
	dictByNS map[string]cachedDict
}

// dictTTL bounds how long a per-namespace entity dictionary is reused
// before it's recompiled from the latest memory_entities rows.
const dictTTL = 5 * time.Minute

type cachedDict struct {
	dict    *implicitmatcher.RuntimeDictionary
	builtAt time.Time
}

// New constructs a Classifier. client may be a processing.RuleBasedClient to
// force every call onto the fallback path. s is optional and variadic: when
// the caller supplies one, the rule-based fallback augments its heuristics
// with a per-namespace Aho-Corasick dictionary compiled from
// previously-seen memory_entities rows, so it can recognize known
// multi-word or lowercase entity names the capitalized-token/curated-keyword
// heuristics alone would miss. Omitting it disables that augmentation.
func New(client processing.Client, reg *metrics.Registry, log *zap.Logger, s ...store.Storer) *Classifier {
	cb := gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "classifier." + client.Name(),
		MaxRequests: 3,
		Interval:    30 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.Requests >= 3 && float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},
	})

	var st store.Storer
	if len(s) > 0 {
		st = s[0]
	}

	return &Classifier{client: client, cb: cb, metrics: reg, log: log, store: st, dictByNS: make(map[string]cachedDict)}
}

// Classify converts ex into a ProcessedMemory. It never returns an error to
// the caller: any primary-path failure (provider unavailable, circuit open,
// malformed response) silently degrades to the deterministic fallback,
// matching the propagation policy that the pipeline never blocks the
// interceptor on classifier failure.
func (c *Classifier) Classify(ctx context.Context, ex Exchange) store.ProcessedMemory {
	pm, err := c.classifyPrimary(ctx, ex)
	if err != nil {
		c.log.Warn("classifier primary path degraded to fallback",
			zap.String("provider", c.client.Name()), zap.Error(err))
		c.metrics.RecordClassifierCall(true)
		return c.fallback(ctx, ex)
	}
	c.metrics.RecordClassifierCall(false)
	return pm
}

func (c *Classifier) classifyPrimary(ctx context.Context, ex Exchange) (store.ProcessedMemory, error) {
	system := classificationSystemPrompt(ex.ContextHint)
	user := fmt.Sprintf("User: %s\nAssistant: %s", ex.UserInput, ex.AIOutput)

	raw, err := c.cb.Execute(func() ([]byte, error) {
		return c.client.Structured(ctx, system, user, processing.ClassificationSchema)
	})
	if err != nil {
		if _, ok := err.(*processing.Refusal); ok {
			return store.ProcessedMemory{}, merr.New(merr.KindClassifierMalformed, "Classifier.Classify", err)
		}
		return store.ProcessedMemory{}, merr.New(merr.KindClassifierUnavailable, "Classifier.Classify", err)
	}

	var result processing.ClassificationResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return store.ProcessedMemory{}, merr.New(merr.KindClassifierMalformed, "Classifier.Classify", err)
	}

	return validate(resultToProcessedMemory(result), convertCategoryScores(result.CategoryScores)), nil
}

func classificationSystemPrompt(uc UserContext) string {
	var b strings.Builder
	b.WriteString("You categorize a single conversational exchange into a structured memory record. ")
	b.WriteString("Categories: fact, preference, skill, context, rule. ")
	b.WriteString("Score importance, novelty, relevance, and actionability in [0,1], and pick a retention_type of short_term, long_term, or permanent. ")
	b.WriteString("Report category_scores as your posterior confidence for every category, not just the winner; when two categories are equally likely, break the tie by preferring rule, then preference, then skill, then fact, then context. ")
	b.WriteString("Extract entities into people, technologies, topics, skills, projects, and keywords. ")
	if len(uc.CurrentProjects) > 0 {
		b.WriteString("Known current projects: " + strings.Join(uc.CurrentProjects, ", ") + ". ")
	}
	if len(uc.Skills) > 0 {
		b.WriteString("Known skills: " + strings.Join(uc.Skills, ", ") + ". ")
	}
	if len(uc.Preferences) > 0 {
		b.WriteString("Known preferences: " + strings.Join(uc.Preferences, ", ") + ". ")
	}
	return b.String()
}

func resultToProcessedMemory(r processing.ClassificationResult) store.ProcessedMemory {
	labels := make([]store.ConsciousLabel, 0, len(r.ConsciousLabels))
	for _, l := range r.ConsciousLabels {
		labels = append(labels, store.ConsciousLabel(l))
	}

	return store.ProcessedMemory{
		Category:           store.Category(r.Category),
		CategoryConfidence: r.CategoryConfidence,
		CategoryReasoning:  r.CategoryReasoning,
		Entities: store.EntityGroups{
			People:       r.Entities.People,
			Technologies: r.Entities.Technologies,
			Topics:       r.Entities.Topics,
			Skills:       r.Entities.Skills,
			Projects:     r.Entities.Projects,
			Keywords:     r.Entities.Keywords,
		},
		Importance: store.Importance{
			ImportanceScore:    r.Importance.ImportanceScore,
			NoveltyScore:       r.Importance.NoveltyScore,
			RelevanceScore:     r.Importance.RelevanceScore,
			ActionabilityScore: r.Importance.ActionabilityScore,
			RetentionType:      store.RetentionType(r.Importance.RetentionType),
			Reasoning:          r.Importance.Reasoning,
		},
		Summary:           r.Summary,
		SearchableContent: r.SearchableContent,
		ShouldStore:       r.ShouldStore,
		ConsciousLabels:   labels,
	}
}

// categoryPriority orders categories for tie-break when two or more share
// the top posterior score: rule > preference > skill > fact > context.
var categoryPriority = []store.Category{
	store.CategoryRule,
	store.CategoryPreference,
	store.CategorySkill,
	store.CategoryFact,
	store.CategoryContext,
}

// categoryTieEpsilon is the floating-point tolerance within which two
// posterior scores are treated as tied.
const categoryTieEpsilon = 1e-9

// convertCategoryScores adapts a provider's raw category_scores map to
// store.Category keys. An empty or nil input means the provider didn't
// report a posterior, so callers should leave the category untouched.
func convertCategoryScores(in map[string]float64) map[store.Category]float64 {
	if len(in) == 0 {
		return nil
	}
	out := make(map[store.Category]float64, len(in))
	for k, v := range in {
		out[store.Category(k)] = v
	}
	return out
}

// resolveCategory picks the winning category from a posterior distribution
// over the five categories, breaking a tie at the top score by
// categoryPriority. It returns ("", 0) when scores is empty, leaving the
// caller's existing category untouched.
func resolveCategory(scores map[store.Category]float64) (store.Category, float64) {
	if len(scores) == 0 {
		return "", 0
	}
	best := 0.0
	first := true
	for _, v := range scores {
		if first || v > best {
			best = v
			first = false
		}
	}
	for _, cat := range categoryPriority {
		if v, ok := scores[cat]; ok && best-v <= categoryTieEpsilon {
			return cat, v
		}
	}
	for cat, v := range scores {
		if best-v <= categoryTieEpsilon {
			return cat, v
		}
	}
	return "", 0
}

// validate clamps every numeric score into [0,1], resolves the winning
// category from categoryScores (breaking ties per categoryPriority) when a
// posterior was supplied, coerces an unrecognized category/retention_type
// to its documented default, truncates an oversize summary, and
// collapses/dedupes entity sets.
func validate(pm store.ProcessedMemory, categoryScores map[store.Category]float64) store.ProcessedMemory {
	clamp := func(f float64) float64 {
		if f < 0 {
			return 0
		}
		if f > 1 {
			return 1
		}
		return f
	}

	if winner, score := resolveCategory(categoryScores); winner != "" {
		pm.Category = winner
		pm.CategoryConfidence = score
	}

	pm.CategoryConfidence = clamp(pm.CategoryConfidence)
	pm.Importance.ImportanceScore = clamp(pm.Importance.ImportanceScore)
	pm.Importance.NoveltyScore = clamp(pm.Importance.NoveltyScore)
	pm.Importance.RelevanceScore = clamp(pm.Importance.RelevanceScore)
	pm.Importance.ActionabilityScore = clamp(pm.Importance.ActionabilityScore)

	if !store.ValidCategory(pm.Category) {
		pm.Category = store.CategoryContext
	}
	switch pm.Importance.RetentionType {
	case store.RetentionShortTerm, store.RetentionLongTerm, store.RetentionPermanent:
	default:
		pm.Importance.RetentionType = store.RetentionShortTerm
	}

	if len(pm.Summary) > store.MaxSummaryLen {
		pm.Summary = pm.Summary[:store.MaxSummaryLen]
	}
	if pm.SearchableContent == "" {
		pm.SearchableContent = strings.ToLower(pm.Summary)
	}

	pm.Entities.People = dedupe(pm.Entities.People)
	pm.Entities.Technologies = dedupe(pm.Entities.Technologies)
	pm.Entities.Topics = dedupe(pm.Entities.Topics)
	pm.Entities.Skills = dedupe(pm.Entities.Skills)
	pm.Entities.Projects = dedupe(pm.Entities.Projects)
	pm.Entities.Keywords = dedupe(pm.Entities.Keywords)

	return pm
}

func dedupe(in []string) []string {
	if len(in) == 0 {
		return in
	}
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

// techKeywords is a small curated list the rule-based fallback uses to spot
// technology entities that the capitalizedTokens heuristic alone would miss
// (lowercase names like "go", "rust", "sql").
var techKeywords = map[string]bool{
	"go": true, "golang": true, "python": true, "rust": true, "java": true,
	"javascript": true, "typescript": true, "sql": true, "postgres": true,
	"postgresql": true, "sqlite": true, "redis": true, "docker": true,
	"kubernetes": true, "react": true, "vue": true, "grpc": true, "rest": true,
	"graphql": true, "kafka": true, "terraform": true, "aws": true, "gcp": true,
	"azure": true, "linux": true, "git": true, "github": true,
}

// fallback produces a deterministic ProcessedMemory when the primary path
// is unavailable: category=context, importance=0.5, retention=short_term,
// entities via capitalized-token extraction, a curated technology keyword
// list, and (when a store is configured) a per-namespace dictionary of
// previously-seen entities, should_store=false only when the combined text
// is below the minimum length.
func (c *Classifier) fallback(ctx context.Context, ex Exchange) store.ProcessedMemory {
	combined := ex.UserInput + " " + ex.AIOutput
	tokens := implicitmatcher.TokenizeNorm(combined)

	technologiesScratch := pool.GetStringSlice()
	keywordsScratch := pool.GetStringSlice()
	for _, tok := range tokens {
		if techKeywords[tok] {
			technologiesScratch = append(technologiesScratch, tok)
		} else if len(tok) > 3 {
			keywordsScratch = append(keywordsScratch, tok)
		}
	}
	technologies := append([]string(nil), technologiesScratch...)
	keywords := append([]string(nil), keywordsScratch...)
	pool.PutStringSlice(technologiesScratch)
	pool.PutStringSlice(keywordsScratch)
	people := capitalizedTokens(ex.UserInput + " " + ex.AIOutput)

	groups := store.EntityGroups{
		People:       people,
		Technologies: technologies,
		Keywords:     keywords,
	}
	c.matchKnownEntities(ctx, ex.Namespace, combined, &groups)

	summary := combined
	if len(summary) > store.MaxSummaryLen {
		summary = summary[:store.MaxSummaryLen]
	}

	shouldStore := len(strings.TrimSpace(combined)) >= minStorableLength

	return validate(store.ProcessedMemory{
		Category:           store.CategoryContext,
		CategoryConfidence: 0.5,
		CategoryReasoning:  "rule-based fallback: classifier unavailable",
		Entities:           groups,
		Importance: store.Importance{
			ImportanceScore: 0.5,
			RetentionType:   store.RetentionShortTerm,
			Reasoning:       "rule-based fallback: fixed 0.5 importance",
		},
		Summary:           summary,
		SearchableContent: strings.ToLower(combined),
		ShouldStore:       shouldStore,
	}, nil)
}

// matchKnownEntities scans text for surface forms already seen in namespace
// and appends any not already present in groups to the group matching their
// EntityKind. A store/namespace miss leaves groups untouched.
func (c *Classifier) matchKnownEntities(ctx context.Context, namespace, text string, groups *store.EntityGroups) {
	if c.store == nil || namespace == "" {
		return
	}
	dict := c.namespaceDict(ctx, namespace)
	if dict == nil {
		return
	}
	for _, m := range dict.ScanWithInfo(text) {
		for _, info := range m.Entities {
			if info == nil {
				continue
			}
			switch info.Kind {
			case implicitmatcher.KindPerson:
				groups.People = appendIfMissing(groups.People, info.Label)
			case implicitmatcher.KindTechnology:
				groups.Technologies = appendIfMissing(groups.Technologies, info.Label)
			case implicitmatcher.KindTopic:
				groups.Topics = appendIfMissing(groups.Topics, info.Label)
			case implicitmatcher.KindSkill:
				groups.Skills = appendIfMissing(groups.Skills, info.Label)
			case implicitmatcher.KindProject:
				groups.Projects = appendIfMissing(groups.Projects, info.Label)
			default:
				groups.Keywords = appendIfMissing(groups.Keywords, info.Label)
			}
		}
	}
}

// namespaceDict returns the cached dictionary for namespace, recompiling it
// from the store's most recent memory_entities rows once dictTTL elapses.
func (c *Classifier) namespaceDict(ctx context.Context, namespace string) *implicitmatcher.RuntimeDictionary {
	c.dictMu.Lock()
	cached, ok := c.dictByNS[namespace]
	c.dictMu.Unlock()
	if ok && time.Since(cached.builtAt) < dictTTL {
		return cached.dict
	}

	rows, err := c.store.ListEntities(ctx, namespace, 500)
	if err != nil || len(rows) == 0 {
		return nil
	}

	entities := make([]implicitmatcher.RegisteredEntity, len(rows))
	for i, r := range rows {
		entities[i] = implicitmatcher.RegisteredEntity{
			ID:    r.EntityType + ":" + r.EntityValue,
			Label: r.EntityValue,
			Kind:  r.EntityType,
		}
	}
	dict, err := implicitmatcher.Compile(entities)
	if err != nil {
		return nil
	}

	c.dictMu.Lock()
	c.dictByNS[namespace] = cachedDict{dict: dict, builtAt: time.Now()}
	c.dictMu.Unlock()
	return dict
}

func appendIfMissing(group []string, value string) []string {
	for _, v := range group {
		if v == value {
			return group
		}
	}
	return append(group, value)
}

// capitalizedTokens extracts a crude "person name" candidate set: words
// starting with an uppercase letter that are not sentence-initial stop
// words, used only by the rule-based fallback.
func capitalizedTokens(text string) []string {
	fields := strings.Fields(text)
	var out []string
	for _, f := range fields {
		f = strings.Trim(f, ".,!?;:\"'()")
		if len(f) < 2 {
			continue
		}
		r := []rune(f)
		if r[0] >= 'A' && r[0] <= 'Z' && !implicitmatcher.IsStopWord(strings.ToLower(f)) {
			out = append(out, f)
		}
	}
	return dedupe(out)
}

// ShortTermExpiry returns the expires_at to assign a fresh short-term row.
func ShortTermExpiry(now time.Time) time.Time { return now.Add(shortTermTTL) }
