package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/kittclouds/memori/internal/merr"
)

// PutEntities indexes the entities attached to a memory row in a single
// transaction.
func (s *SQLiteStore) PutEntities(ctx context.Context, rows []EntityIndexRow) error {
	if len(rows) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return merr.New(merr.KindStorageTransient, "PutEntities", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO memory_entities
			(entity_id, memory_id, memory_type, entity_type, entity_value, relevance_score, namespace, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return merr.New(merr.KindStorageFatal, "PutEntities", err)
	}
	defer stmt.Close()

	for _, row := range rows {
		if row.EntityID == "" {
			row.EntityID = uuid.NewString()
		}
		if row.CreatedAt.IsZero() {
			row.CreatedAt = time.Now()
		}
		if _, err := stmt.ExecContext(ctx, row.EntityID, row.MemoryID, string(row.MemoryType),
			row.EntityType, row.EntityValue, row.RelevanceScore, row.Namespace, row.CreatedAt.Unix()); err != nil {
			return merr.New(merr.KindStorageTransient, "PutEntities", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return merr.New(merr.KindStorageTransient, "PutEntities", err)
	}
	return nil
}

// GetEntitiesForMemory returns the entity rows attached to a memory.
func (s *SQLiteStore) GetEntitiesForMemory(ctx context.Context, memType MemoryType, memoryID string) ([]EntityIndexRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT entity_id, memory_id, memory_type, entity_type, entity_value, relevance_score, namespace, created_at
		FROM memory_entities WHERE memory_id = ? AND memory_type = ?`, memoryID, string(memType))
	if err != nil {
		return nil, merr.New(merr.KindStorageTransient, "GetEntitiesForMemory", err)
	}
	defer rows.Close()

	var out []EntityIndexRow
	for rows.Next() {
		var e EntityIndexRow
		var memTypeStr string
		var createdAt int64
		if err := rows.Scan(&e.EntityID, &e.MemoryID, &memTypeStr, &e.EntityType, &e.EntityValue,
			&e.RelevanceScore, &e.Namespace, &createdAt); err != nil {
			return nil, merr.New(merr.KindStorageFatal, "GetEntitiesForMemory", err)
		}
		e.MemoryType = MemoryType(memTypeStr)
		e.CreatedAt = time.Unix(createdAt, 0)
		out = append(out, e)
	}
	return out, nil
}

// ListEntities returns up to limit distinct entity_type/entity_value pairs
// seen in namespace, most recently created first.
func (s *SQLiteStore) ListEntities(ctx context.Context, namespace string, limit int) ([]EntityIndexRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT entity_type, entity_value, MAX(relevance_score), MAX(created_at)
		FROM memory_entities
		WHERE namespace = ?
		GROUP BY entity_type, entity_value
		ORDER BY MAX(created_at) DESC
		LIMIT ?`, namespace, limit)
	if err != nil {
		return nil, merr.New(merr.KindStorageTransient, "ListEntities", err)
	}
	defer rows.Close()

	var out []EntityIndexRow
	for rows.Next() {
		var e EntityIndexRow
		var createdAt int64
		if err := rows.Scan(&e.EntityType, &e.EntityValue, &e.RelevanceScore, &createdAt); err != nil {
			return nil, merr.New(merr.KindStorageFatal, "ListEntities", err)
		}
		e.Namespace = namespace
		e.CreatedAt = time.Unix(createdAt, 0)
		out = append(out, e)
	}
	return out, nil
}
