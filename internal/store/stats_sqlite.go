package store

import (
	"context"
	"database/sql"

	"github.com/kittclouds/memori/internal/merr"
)

// GetMemoryStats returns aggregate counters for namespace: row counts per
// table, category distribution across both memory tables, and the average
// importance score across long-term memories.
func (s *SQLiteStore) GetMemoryStats(ctx context.Context, namespace string) (MemoryStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var stats MemoryStats
	stats.CategoryDistribution = map[Category]int{}

	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM chat_history WHERE namespace = ?`, namespace).Scan(&stats.ChatHistoryCount); err != nil {
		return stats, merr.New(merr.KindStorageTransient, "GetMemoryStats", err)
	}
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM short_term_memory WHERE namespace = ?`, namespace).Scan(&stats.ShortTermCount); err != nil {
		return stats, merr.New(merr.KindStorageTransient, "GetMemoryStats", err)
	}
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM long_term_memory WHERE namespace = ?`, namespace).Scan(&stats.LongTermCount); err != nil {
		return stats, merr.New(merr.KindStorageTransient, "GetMemoryStats", err)
	}
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM rules_memory WHERE namespace = ?`, namespace).Scan(&stats.RulesCount); err != nil {
		return stats, merr.New(merr.KindStorageTransient, "GetMemoryStats", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT category_primary, COUNT(*) FROM short_term_memory WHERE namespace = ? GROUP BY category_primary
		UNION ALL
		SELECT category_primary, COUNT(*) FROM long_term_memory WHERE namespace = ? GROUP BY category_primary`,
		namespace, namespace)
	if err != nil {
		return stats, merr.New(merr.KindStorageTransient, "GetMemoryStats", err)
	}
	for rows.Next() {
		var cat string
		var count int
		if err := rows.Scan(&cat, &count); err != nil {
			rows.Close()
			return stats, merr.New(merr.KindStorageFatal, "GetMemoryStats", err)
		}
		stats.CategoryDistribution[Category(cat)] += count
	}
	rows.Close()

	var avg sql.NullFloat64
	if err := s.db.QueryRowContext(ctx,
		`SELECT AVG(importance_score) FROM long_term_memory WHERE namespace = ?`, namespace).Scan(&avg); err != nil {
		return stats, merr.New(merr.KindStorageTransient, "GetMemoryStats", err)
	}
	stats.AverageImportance = avg.Float64

	return stats, nil
}
