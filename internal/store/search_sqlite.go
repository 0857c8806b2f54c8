package store

import (
	"context"
	"database/sql"
	"sort"
	"strings"
	"time"

	"github.com/kittclouds/memori/internal/merr"
	"github.com/kittclouds/memori/pkg/implicitmatcher"
)

// recencyWindow is the reference span over which recency_norm decays
// linearly to zero, matching the "recency" axis of the composite score in
// §4.4.
const recencyWindow = 30 * 24 * time.Hour

type candidate struct {
	hit        MemoryHit
	strategies map[string]float64
}

// Search runs the hybrid ranking strategy: full-text (or LIKE fallback) plus
// entity matching, scored as
// final = max(strategy_scores)*0.6 + importance*0.3 + recency_norm*0.1.
func (s *SQLiteStore) Search(ctx context.Context, q SearchQuery) ([]MemoryHit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if q.Limit <= 0 {
		q.Limit = 20
	}

	candidates := map[string]*candidate{}

	if err := s.searchText(ctx, q, candidates); err != nil {
		return nil, merr.New(merr.KindStorageTransient, "Search", err)
	}
	if err := s.searchEntities(ctx, q, candidates); err != nil {
		return nil, merr.New(merr.KindStorageTransient, "Search", err)
	}

	now := time.Now()
	hits := make([]MemoryHit, 0, len(candidates))
	for _, c := range candidates {
		if !passesFilters(c.hit, q.Filters) {
			continue
		}
		best := 0.0
		strategies := make([]string, 0, len(c.strategies))
		for name, score := range c.strategies {
			strategies = append(strategies, name)
			if score > best {
				best = score
			}
		}
		sort.Strings(strategies)
		c.hit.MatchedStrategies = strategies
		c.hit.FinalScore = best*0.6 + c.hit.ImportanceScore*0.3 + recencyNorm(c.hit.CreatedAt, now)*0.1
		hits = append(hits, c.hit)
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].FinalScore != hits[j].FinalScore {
			return hits[i].FinalScore > hits[j].FinalScore
		}
		if hits[i].ImportanceScore != hits[j].ImportanceScore {
			return hits[i].ImportanceScore > hits[j].ImportanceScore
		}
		return hits[i].CreatedAt.After(hits[j].CreatedAt)
	})

	if len(hits) > q.Limit {
		hits = hits[:q.Limit]
	}
	return hits, nil
}

func (s *SQLiteStore) searchText(ctx context.Context, q SearchQuery, candidates map[string]*candidate) error {
	if strings.TrimSpace(q.Text) == "" {
		return nil
	}

	if s.ftsAvailable {
		matched, err := s.searchFTS(ctx, q, candidates)
		if err == nil && matched {
			return nil
		}
		// Falls through to LIKE scan on FTS query error or empty result,
		// matching the degrade-not-fail guarantee for search.
	}
	return s.searchLike(ctx, q, candidates)
}

func (s *SQLiteStore) searchFTS(ctx context.Context, q SearchQuery, candidates map[string]*candidate) (bool, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT memory_id, memory_type, bm25(memory_search_fts) AS rank
		FROM memory_search_fts
		WHERE memory_search_fts MATCH ? AND namespace = ?
		ORDER BY rank LIMIT 100`, ftsQuery(q.Text), q.Namespace)
	if err != nil {
		return false, nil // degrade silently; caller falls back to LIKE
	}
	defer rows.Close()

	found := false
	for rows.Next() {
		var memoryID, memType string
		var rank float64
		if err := rows.Scan(&memoryID, &memType, &rank); err != nil {
			continue
		}
		found = true
		if err := s.loadCandidate(ctx, MemoryType(memType), memoryID, q.Namespace, candidates, "fulltext", normalizeBM25(rank)); err != nil {
			continue
		}
	}
	return found, nil
}

func (s *SQLiteStore) searchLike(ctx context.Context, q SearchQuery, candidates map[string]*candidate) error {
	pattern := "%" + strings.ToLower(q.Text) + "%"

	for _, memType := range []MemoryType{MemoryTypeShortTerm, MemoryTypeLongTerm} {
		table := tableFor(memType)
		rows, err := s.db.QueryContext(ctx, `
			SELECT memory_id FROM `+table+`
			WHERE namespace = ? AND (LOWER(searchable_content) LIKE ? OR LOWER(summary) LIKE ?)
			LIMIT 100`, q.Namespace, pattern, pattern)
		if err != nil {
			return err
		}
		for rows.Next() {
			var memoryID string
			if err := rows.Scan(&memoryID); err != nil {
				rows.Close()
				return err
			}
			if err := s.loadCandidate(ctx, memType, memoryID, q.Namespace, candidates, "like", 0.5); err != nil {
				continue
			}
		}
		rows.Close()
	}
	return nil
}

func (s *SQLiteStore) searchEntities(ctx context.Context, q SearchQuery, candidates map[string]*candidate) error {
	tokens := implicitmatcher.TokenizeNorm(q.Text)
	if len(tokens) == 0 {
		return nil
	}

	for _, tok := range tokens {
		rows, err := s.db.QueryContext(ctx, `
			SELECT memory_id, memory_type, relevance_score FROM memory_entities
			WHERE namespace = ? AND (entity_value = ? OR entity_value LIKE ?)
			LIMIT 50`, q.Namespace, tok, tok+"%")
		if err != nil {
			return err
		}
		for rows.Next() {
			var memoryID, memType string
			var relevance float64
			if err := rows.Scan(&memoryID, &memType, &relevance); err != nil {
				rows.Close()
				return err
			}
			if err := s.loadCandidate(ctx, MemoryType(memType), memoryID, q.Namespace, candidates, "entity", relevance); err != nil {
				continue
			}
		}
		rows.Close()
	}
	return nil
}

// loadCandidate fetches the memory row backing a match if it is not
// already present, and records the strategy's score (keeping the max per
// strategy if matched more than once).
func (s *SQLiteStore) loadCandidate(ctx context.Context, memType MemoryType, memoryID, namespace string, candidates map[string]*candidate, strategy string, score float64) error {
	key := string(memType) + ":" + memoryID

	if c, ok := candidates[key]; ok {
		if existing, ok := c.strategies[strategy]; !ok || score > existing {
			c.strategies[strategy] = score
		}
		return nil
	}

	row, err := s.getMemoryNoLock(ctx, memType, memoryID)
	if err != nil {
		return err
	}
	if row == nil || row.Namespace != namespace {
		return nil
	}

	candidates[key] = &candidate{
		hit: MemoryHit{
			MemoryID:        row.MemoryID,
			MemoryType:      row.Type,
			Summary:         row.Summary,
			CategoryPrimary: row.CategoryPrimary,
			ImportanceScore: row.ImportanceScore,
			CreatedAt:       row.CreatedAt,
		},
		strategies: map[string]float64{strategy: score},
	}
	return nil
}

// getMemoryNoLock duplicates GetMemory's query without re-acquiring the
// RWMutex, for use from within Search which already holds the read lock.
func (s *SQLiteStore) getMemoryNoLock(ctx context.Context, memType MemoryType, memoryID string) (*MemoryRow, error) {
	if memType == MemoryTypeShortTerm {
		row := s.db.QueryRowContext(ctx, `
			SELECT memory_id, chat_id, processed_data_json, importance_score, category_primary,
			       retention_type, namespace, created_at, expires_at, access_count, last_accessed,
			       searchable_content, summary, is_permanent_context
			FROM short_term_memory WHERE memory_id = ?`, memoryID)
		m, err := scanShortTerm(row)
		if err == sql.ErrNoRows {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return &m, nil
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT memory_id, chat_id, processed_data_json, importance_score, novelty_score,
		       relevance_score, actionability_score, category_primary, retention_type,
		       namespace, created_at, access_count, last_accessed, searchable_content,
		       summary, classification_flags_json, is_permanent_context
		FROM long_term_memory WHERE memory_id = ?`, memoryID)
	m, err := scanLongTerm(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func passesFilters(hit MemoryHit, f SearchFilters) bool {
	if f.CategoryPrimary != "" && hit.CategoryPrimary != f.CategoryPrimary {
		return false
	}
	if f.ImportantOnly && hit.ImportanceScore < 0.7 {
		return false
	}
	if f.TimeWindow != nil {
		if hit.CreatedAt.Before(f.TimeWindow.From) || hit.CreatedAt.After(f.TimeWindow.To) {
			return false
		}
	}
	return true
}

func recencyNorm(createdAt, now time.Time) float64 {
	age := now.Sub(createdAt)
	if age <= 0 {
		return 1
	}
	if age >= recencyWindow {
		return 0
	}
	return 1 - float64(age)/float64(recencyWindow)
}

// normalizeBM25 maps SQLite's bm25() output (negative, more negative is
// better) onto (0,1] so it composes with the other strategy scores.
func normalizeBM25(rank float64) float64 {
	score := 1 / (1 + -rank)
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

// ftsQuery quotes each token so punctuation in free-text input can't be
// misread as FTS5 query syntax.
func ftsQuery(text string) string {
	tokens := implicitmatcher.TokenizeNorm(text)
	if len(tokens) == 0 {
		return `""`
	}
	quoted := make([]string, len(tokens))
	for i, t := range tokens {
		quoted[i] = `"` + strings.ReplaceAll(t, `"`, `""`) + `"`
	}
	return strings.Join(quoted, " OR ")
}
