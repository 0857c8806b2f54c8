package planner

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kittclouds/memori/internal/store"
	"github.com/kittclouds/memori/internal/testutil"
	"github.com/kittclouds/memori/pkg/processing"
)

func TestWithInPlannerRoundTrip(t *testing.T) {
	ctx := context.Background()
	assert.False(t, InPlanner(ctx))

	ctx = WithInPlanner(ctx)
	assert.True(t, InPlanner(ctx))
}

func TestPlanUsesPrimaryPlanWhenAvailable(t *testing.T) {
	s := testutil.NewTestStore(t)
	_, err := s.PutMemory(context.Background(), store.MemoryRow{
		Type:              store.MemoryTypeLongTerm,
		CategoryPrimary:   store.CategoryPreference,
		RetentionType:     store.RetentionLongTerm,
		Namespace:         "ns1",
		CreatedAt:         time.Now(),
		Summary:           "User prefers Go and table-driven tests",
		SearchableContent: "user prefers go and table-driven tests",
		ImportanceScore:   0.8,
	})
	require.NoError(t, err)

	fake := &testutil.FakeClient{Responses: [][]byte{testutil.PlanJSON(t, processing.PlanResult{
		SearchTerms: []string{"go", "tests"},
	})}}

	p := New(s, fake, NewMapCache(), testutil.NewTestLogger(t))
	result := p.Plan(context.Background(), "ns1", "tell me about tests", 0, 5)

	assert.Equal(t, contextHeader, result.Header)
	require.Len(t, result.Hits, 1)
	assert.Equal(t, 1, fake.Calls())
}

func TestPlanDegradesToFallbackOnRefusal(t *testing.T) {
	s := testutil.NewTestStore(t)
	fake := &testutil.FakeClient{Refuse: true}

	p := New(s, fake, NewMapCache(), testutil.NewTestLogger(t))
	result := p.Plan(context.Background(), "ns1", "tell me about Go", 0, 5)

	assert.Equal(t, contextHeader, result.Header)
	assert.Empty(t, result.Hits) // no seeded memories, but no panic/error either
}

func TestPlanFallbackIsNamespaceScoped(t *testing.T) {
	s := testutil.NewTestStore(t)
	_, err := s.PutMemory(context.Background(), store.MemoryRow{
		Type:              store.MemoryTypeLongTerm,
		CategoryPrimary:   store.CategoryFact,
		RetentionType:     store.RetentionLongTerm,
		Namespace:         "ns1",
		CreatedAt:         time.Now(),
		Summary:           "User uses Go",
		SearchableContent: "user uses go",
		ImportanceScore:   0.6,
	})
	require.NoError(t, err)

	fake := &testutil.FakeClient{Refuse: true}
	p := New(s, fake, NewMapCache(), testutil.NewTestLogger(t))

	result := p.Plan(context.Background(), "ns1", "tell me about Go", 0, 5)
	require.Len(t, result.Hits, 1)

	otherNS := p.Plan(context.Background(), "other-ns", "tell me about Go", 0, 5)
	assert.Empty(t, otherNS.Hits)
}

func TestPlanCachesAcrossCalls(t *testing.T) {
	s := testutil.NewTestStore(t)
	fake := &testutil.FakeClient{Responses: [][]byte{testutil.PlanJSON(t, processing.PlanResult{
		SearchTerms: []string{"go"},
	})}}

	p := New(s, fake, NewMapCache(), testutil.NewTestLogger(t))
	p.Plan(context.Background(), "ns1", "same input", 0, 5)
	p.Plan(context.Background(), "ns1", "same input", 0, 5)

	assert.Equal(t, 1, fake.Calls())
}

func TestBucket(t *testing.T) {
	assert.Equal(t, 0, bucket(5))
	assert.Equal(t, 1, bucket(50))
	assert.Equal(t, 2, bucket(500))
	assert.Equal(t, 3, bucket(5000))
}

func TestMapCacheExpiry(t *testing.T) {
	c := NewMapCache()
	ctx := context.Background()
	c.Set(ctx, "k", store.SearchQuery{Text: "x"}, -time.Second)

	_, ok := c.Get(ctx, "k")
	assert.False(t, ok)
}
