// Package conscious implements the background conscious analyzer: it scans
// long-term memory for a namespace, scores candidates for their value as a
// standing working set, and promotes the top-scoring, category-diversified
// subset into short-term memory with no expiry. The orchestration shape (a
// struct holding references to the pieces it drives, one Run method doing
// the multi-stage pass) follows the teacher's Conductor; promotion follows
// the teacher's "look up current, write new" upsert idiom.
package conscious

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/kittclouds/memori/internal/merr"
	"github.com/kittclouds/memori/internal/store"
	"github.com/kittclouds/memori/pkg/metrics"
)

// recencyWindow bounds recency_norm, matching the search engine's window.
const recencyWindow = 30 * 24 * time.Hour

// freqSaturation is the access_count at which freq_norm saturates to 1.
const freqSaturation = 10.0

// consciousBoost is added to a candidate's score when it carries any
// conscious-eligibility label.
const consciousBoost = 0.15

// maxCategoryShare caps any single category's share of the working set.
const maxCategoryShare = 0.4

// promotedIDPrefix namespaces promoted short-term memory_ids so repeated
// runs target the same row (idempotent promotion) instead of creating
// duplicates.
const promotedIDPrefix = "conscious:"

// Analyzer runs the conscious working-set promotion pass.
type Analyzer struct {
	store   store.Storer
	metrics *metrics.Registry
	log     *zap.Logger

	// WorkingSetSize is the default N (default 10 per spec, overridable).
	WorkingSetSize int
}

// New constructs an Analyzer.
func New(s store.Storer, reg *metrics.Registry, log *zap.Logger, workingSetSize int) *Analyzer {
	if workingSetSize <= 0 {
		workingSetSize = 10
	}
	return &Analyzer{store: s, metrics: reg, log: log, WorkingSetSize: workingSetSize}
}

type scored struct {
	row   store.MemoryRow
	score float64
}

// Run scans long-term memory for namespace, scores every candidate, and
// promotes the top WorkingSetSize (category-diversified) into short-term
// memory. It never returns an error to the caller: a Store failure degrades
// to a logged no-op, since a failed analysis pass must not disable the rest
// of the Coordinator.
func (a *Analyzer) Run(ctx context.Context, namespace string) {
	candidates, err := a.store.ListLongTerm(ctx, namespace, store.SearchFilters{}, 5000)
	if err != nil {
		a.log.Warn("conscious analyzer: listing long-term memory failed", zap.Error(err))
		return
	}
	if len(candidates) == 0 {
		return
	}

	now := time.Now()
	scoredRows := make([]scored, 0, len(candidates))
	for _, row := range candidates {
		scoredRows = append(scoredRows, scored{row: row, score: score(row, now)})
	}
	sort.SliceStable(scoredRows, func(i, j int) bool { return scoredRows[i].score > scoredRows[j].score })

	selected := diversify(scoredRows, a.WorkingSetSize)

	for _, s := range selected {
		if err := a.promote(ctx, namespace, s.row); err != nil {
			a.log.Warn("conscious analyzer: promotion failed",
				zap.String("memory_id", s.row.MemoryID), zap.Error(err))
			continue
		}
		a.metrics.ConsciousPromotionsTotal.Inc()
	}
}

// score implements the weighted formula from the component design:
//
//	score = 0.4*importance + 0.2*novelty + 0.3*relevance + 0.1*actionability
//	        + 0.25*freq_norm(access_count) + 0.15*recency_norm(last_accessed)
//
// plus a +0.15 boost for any conscious-eligibility label. This is pure
// arithmetic over already-stored fields, so it needs no LLM call and doubles
// as the degraded "pure SQL-driven selection" fallback the design calls for
// when a classifier/client-layer dependency is unavailable — there is no
// separate degraded path because the primary path never has one.
func score(row store.MemoryRow, now time.Time) float64 {
	s := 0.4*row.ImportanceScore + 0.2*row.NoveltyScore + 0.3*row.RelevanceScore + 0.1*row.ActionabilityScore
	s += 0.25 * freqNorm(row.AccessCount)
	s += 0.15 * recencyNorm(row.LastAccessed, now)

	for _, label := range row.ProcessedData.ConsciousLabels {
		if isEligibilityLabel(label) {
			s += consciousBoost
			break
		}
	}
	return s
}

func isEligibilityLabel(l store.ConsciousLabel) bool {
	switch l {
	case store.LabelUserIdentity, store.LabelPreference, store.LabelSkill,
		store.LabelCurrentProject, store.LabelRepeatedReference:
		return true
	default:
		return false
	}
}

func freqNorm(accessCount int) float64 {
	if accessCount <= 0 {
		return 0
	}
	v := float64(accessCount) / freqSaturation
	if v > 1 {
		return 1
	}
	return v
}

func recencyNorm(lastAccessed, now time.Time) float64 {
	if lastAccessed.IsZero() {
		return 0
	}
	age := now.Sub(lastAccessed)
	if age <= 0 {
		return 1
	}
	if age >= recencyWindow {
		return 0
	}
	return 1 - float64(age)/float64(recencyWindow)
}

// diversify greedily selects the top-scoring candidates subject to the
// constraint that no single category may exceed maxCategoryShare of the
// final working set. When the pool is too uniform to fill limit under that
// cap, the backfill below tops it up past the cap.
func diversify(rows []scored, limit int) []scored {
	if limit <= 0 {
		limit = 10
	}
	cap := int(float64(limit) * maxCategoryShare)
	if cap < 1 {
		cap = 1
	}

	selected := make([]scored, 0, limit)
	perCategory := map[store.Category]int{}

	for _, s := range rows {
		if len(selected) >= limit {
			break
		}
		cat := s.row.CategoryPrimary
		if perCategory[cat] >= cap && len(selected) < limit {
			continue
		}
		selected = append(selected, s)
		perCategory[cat]++
	}

	// If the category cap left slots unfilled (not enough diversity in the
	// candidate pool), backfill from the remaining highest scorers.
	if len(selected) < limit {
		taken := make(map[string]bool, len(selected))
		for _, s := range selected {
			taken[s.row.MemoryID] = true
		}
		for _, s := range rows {
			if len(selected) >= limit {
				break
			}
			if taken[s.row.MemoryID] {
				continue
			}
			selected = append(selected, s)
		}
	}

	return selected
}

// promote inserts (or idempotently re-inserts) the short-term working-set
// row for a source long-term memory. The row's memory_id is deterministic
// (promotedIDPrefix + source memory_id) so re-running analysis on an
// unchanged candidate set reconciles onto the same row instead of creating
// duplicates.
func (a *Analyzer) promote(ctx context.Context, namespace string, source store.MemoryRow) error {
	promotedID := promotedIDPrefix + source.MemoryID

	existing, err := a.store.GetMemory(ctx, store.MemoryTypeShortTerm, promotedID)
	if err != nil {
		return merr.New(merr.KindStorageTransient, "Analyzer.promote", err)
	}
	if existing != nil {
		if err := a.store.DeleteMemory(ctx, store.MemoryTypeShortTerm, promotedID); err != nil {
			return merr.New(merr.KindStorageTransient, "Analyzer.promote", err)
		}
	}

	row := store.MemoryRow{
		MemoryID:           promotedID,
		ChatID:             source.ChatID,
		Type:               store.MemoryTypeShortTerm,
		ProcessedData:      source.ProcessedData,
		ImportanceScore:    source.ImportanceScore,
		CategoryPrimary:    source.CategoryPrimary,
		RetentionType:      store.RetentionShortTerm,
		Namespace:          namespace,
		CreatedAt:          time.Now(),
		ExpiresAt:          nil, // working-set rows never expire
		SearchableContent:  source.SearchableContent,
		Summary:            source.Summary,
		IsPermanentContext: true,
	}

	if _, err := a.store.PutMemory(ctx, row); err != nil {
		return err
	}

	if source.ProcessedData.HasLabel(store.LabelRepeatedReference) {
		rel := store.MemoryRelationship{
			SourceMemoryID:   source.MemoryID,
			TargetMemoryID:   promotedID,
			RelationshipType: "repeated_reference_promotion",
			Namespace:        namespace,
		}
		if _, err := a.store.PutRelationship(ctx, rel); err != nil {
			a.log.Warn("conscious analyzer: recording relationship failed",
				zap.String("source", source.MemoryID), zap.Error(err))
		}
	}

	return nil
}

// String implements fmt.Stringer for log context.
func (a *Analyzer) String() string {
	return fmt.Sprintf("conscious.Analyzer{workingSetSize=%d}", a.WorkingSetSize)
}
