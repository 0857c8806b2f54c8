package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore()
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteStore_Health(t *testing.T) {
	s := newTestStore(t)
	h, err := s.Health(context.Background())
	require.NoError(t, err)
	assert.True(t, h.Connected)
	assert.Equal(t, schemaVersion, h.SchemaVersion)
}

func TestSQLiteStore_PutChatAndMemory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	chatID, err := s.PutChat(ctx, ChatRecord{
		UserInput: "I prefer dark mode",
		AIOutput:  "Noted.",
		Namespace: "default",
		Timestamp: time.Now(),
	})
	require.NoError(t, err)
	require.NotEmpty(t, chatID)

	memoryID, err := s.PutMemory(ctx, MemoryRow{
		ChatID:            chatID,
		RetentionType:     RetentionShortTerm,
		CategoryPrimary:   CategoryPreference,
		Namespace:         "default",
		ImportanceScore:   0.6,
		SearchableContent: "user prefers dark mode",
		Summary:           "User prefers dark mode.",
		ExpiresAt:         timePtr(time.Now().Add(time.Hour)),
	})
	require.NoError(t, err)

	row, err := s.GetMemory(ctx, MemoryTypeShortTerm, memoryID)
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, CategoryPreference, row.CategoryPrimary)
	assert.Equal(t, chatID, row.ChatID)
}

func TestSQLiteStore_TouchMemory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	memoryID, err := s.PutMemory(ctx, MemoryRow{
		RetentionType:   RetentionLongTerm,
		CategoryPrimary: CategoryFact,
		Namespace:       "default",
		ImportanceScore: 0.8,
	})
	require.NoError(t, err)

	require.NoError(t, s.TouchMemory(ctx, MemoryTypeLongTerm, memoryID))

	row, err := s.GetMemory(ctx, MemoryTypeLongTerm, memoryID)
	require.NoError(t, err)
	assert.Equal(t, 1, row.AccessCount)
	assert.False(t, row.LastAccessed.IsZero())
}

func TestSQLiteStore_ExpireShortTerm(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	past := time.Now().Add(-time.Hour)
	_, err := s.PutMemory(ctx, MemoryRow{
		RetentionType:   RetentionShortTerm,
		CategoryPrimary: CategoryContext,
		Namespace:       "default",
		ExpiresAt:       &past,
	})
	require.NoError(t, err)

	// Permanent context rows are never swept even if their expiry has passed.
	_, err = s.PutMemory(ctx, MemoryRow{
		RetentionType:      RetentionShortTerm,
		CategoryPrimary:    CategoryContext,
		Namespace:          "default",
		ExpiresAt:          &past,
		IsPermanentContext: true,
	})
	require.NoError(t, err)

	n, err := s.ExpireShortTerm(ctx, "default", time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	remaining, err := s.ListShortTerm(ctx, "default", 10)
	require.NoError(t, err)
	assert.Len(t, remaining, 1)
	assert.True(t, remaining[0].IsPermanentContext)
}

func TestSQLiteStore_SearchFindsByEntityAndText(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	memoryID, err := s.PutMemory(ctx, MemoryRow{
		RetentionType:     RetentionLongTerm,
		CategoryPrimary:   CategorySkill,
		Namespace:         "default",
		ImportanceScore:   0.9,
		SearchableContent: "knows Go concurrency patterns well",
		Summary:           "User is skilled in Go concurrency.",
		CreatedAt:         time.Now(),
	})
	require.NoError(t, err)

	require.NoError(t, s.PutEntities(ctx, []EntityIndexRow{
		{MemoryID: memoryID, MemoryType: MemoryTypeLongTerm, EntityType: "technology", EntityValue: "go", RelevanceScore: 0.8, Namespace: "default"},
	}))

	hits, err := s.Search(ctx, SearchQuery{Namespace: "default", Text: "go", Limit: 10})
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, memoryID, hits[0].MemoryID)
	assert.Greater(t, hits[0].FinalScore, 0.0)
}

func TestSQLiteStore_SearchAppliesImportantOnlyFilter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.PutMemory(ctx, MemoryRow{
		RetentionType:     RetentionLongTerm,
		CategoryPrimary:   CategoryFact,
		Namespace:         "default",
		ImportanceScore:   0.2,
		SearchableContent: "low importance fact about weather",
		Summary:           "weather fact",
		CreatedAt:         time.Now(),
	})
	require.NoError(t, err)

	hits, err := s.Search(ctx, SearchQuery{
		Namespace: "default",
		Text:      "weather",
		Filters:   SearchFilters{ImportantOnly: true},
		Limit:     10,
	})
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestSQLiteStore_RulesRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ruleID, err := s.PutRule(ctx, RuleRow{
		RuleText:  "Always answer in markdown.",
		RuleType:  RuleTypeInstruction,
		Priority:  8,
		Active:    true,
		Namespace: "default",
	})
	require.NoError(t, err)

	rules, err := s.GetRules(ctx, "default", true)
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, ruleID, rules[0].RuleID)
}

func TestSQLiteStore_GetMemoryStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.PutMemory(ctx, MemoryRow{
		RetentionType:   RetentionLongTerm,
		CategoryPrimary: CategoryFact,
		Namespace:       "default",
		ImportanceScore: 0.5,
	})
	require.NoError(t, err)

	stats, err := s.GetMemoryStats(ctx, "default")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.LongTermCount)
	assert.Equal(t, 1, stats.CategoryDistribution[CategoryFact])
	assert.InDelta(t, 0.5, stats.AverageImportance, 0.0001)
}

func timePtr(t time.Time) *time.Time { return &t }
