package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/kittclouds/memori/internal/merr"
)

// PutRelationship records a link between two memories, e.g. a long-term
// memory promoted for a repeated reference, linked to the working-set
// short-term row promoted from it.
func (s *SQLiteStore) PutRelationship(ctx context.Context, rel MemoryRelationship) (string, error) {
	if rel.RelationshipID == "" {
		rel.RelationshipID = uuid.NewString()
	}
	if rel.Namespace == "" {
		rel.Namespace = "default"
	}
	if rel.CreatedAt.IsZero() {
		rel.CreatedAt = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err := withRetry(ctx, s.maxRetries, func() error {
		_, execErr := s.db.ExecContext(ctx, `
			INSERT INTO memory_relationships
				(relationship_id, source_memory_id, target_memory_id, relationship_type, namespace, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			rel.RelationshipID, rel.SourceMemoryID, rel.TargetMemoryID, rel.RelationshipType,
			rel.Namespace, rel.CreatedAt.Unix())
		return execErr
	})
	if err != nil {
		return "", merr.New(merr.KindStorageTransient, "PutRelationship", err)
	}
	return rel.RelationshipID, nil
}
