package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestPostgresStore_Storer runs Health, PutMemory, GetMemory and Search
// against a live Postgres instance. Set MEMORI_TEST_POSTGRES_DSN to run it;
// skipped otherwise since CI has no database by default.
func TestPostgresStore_Storer(t *testing.T) {
	dsn := os.Getenv("MEMORI_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("MEMORI_TEST_POSTGRES_DSN not set, skipping Postgres integration test")
	}

	ctx := context.Background()
	s, err := NewPostgresStore(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	h, err := s.Health(ctx)
	require.NoError(t, err)
	require.True(t, h.Connected)

	memoryID, err := s.PutMemory(ctx, MemoryRow{
		RetentionType:     RetentionLongTerm,
		CategoryPrimary:   CategoryFact,
		Namespace:         "postgres-test",
		ImportanceScore:   0.7,
		SearchableContent: "the deployment region is us-east-1",
		Summary:           "deployment region fact",
		CreatedAt:         time.Now(),
	})
	require.NoError(t, err)

	row, err := s.GetMemory(ctx, MemoryTypeLongTerm, memoryID)
	require.NoError(t, err)
	require.NotNil(t, row)
	require.Equal(t, CategoryFact, row.CategoryPrimary)

	hits, err := s.Search(ctx, SearchQuery{Namespace: "postgres-test", Text: "deployment region", Limit: 5})
	require.NoError(t, err)
	require.NotEmpty(t, hits)
}

var _ Storer = (*PostgresStore)(nil)
var _ Storer = (*SQLiteStore)(nil)
