package inject

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kittclouds/memori/internal/store"
	"github.com/kittclouds/memori/internal/testutil"
	"github.com/kittclouds/memori/pkg/planner"
	"github.com/kittclouds/memori/pkg/processing"
)

func TestInjectOffModeReturnsClone(t *testing.T) {
	s := testutil.NewTestStore(t)
	p := planner.New(s, &testutil.FakeClient{}, planner.NewMapCache(), testutil.NewTestLogger(t))
	inj := New(s, p)

	in := []Message{{Role: "user", Content: "hi"}}
	out, err := inj.Inject(context.Background(), ModeOff, "ns1", "sess1", in, "hi")
	require.NoError(t, err)
	assert.Equal(t, in, out)

	out[0].Content = "mutated"
	assert.Equal(t, "hi", in[0].Content)
}

func TestInjectConsciousOnlyOnFirstCall(t *testing.T) {
	s := testutil.NewTestStore(t)
	_, err := s.PutMemory(context.Background(), store.MemoryRow{
		Type:               store.MemoryTypeShortTerm,
		CategoryPrimary:    store.CategoryPreference,
		RetentionType:      store.RetentionShortTerm,
		Namespace:          "ns1",
		CreatedAt:          time.Now(),
		Summary:            "User prefers Go",
		SearchableContent:  "user prefers go",
		ImportanceScore:    0.9,
		IsPermanentContext: true,
	})
	require.NoError(t, err)

	p := planner.New(s, &testutil.FakeClient{}, planner.NewMapCache(), testutil.NewTestLogger(t))
	inj := New(s, p)

	first, err := inj.Inject(context.Background(), ModeConscious, "ns1", "sess1", nil, "hello")
	require.NoError(t, err)
	require.Len(t, first, 1)
	assert.Contains(t, first[0].Content, "User prefers Go")

	second, err := inj.Inject(context.Background(), ModeConscious, "ns1", "sess1", nil, "hello again")
	require.NoError(t, err)
	assert.Len(t, second, 0)
}

func TestInjectAutoModeEveryCall(t *testing.T) {
	s := testutil.NewTestStore(t)
	_, err := s.PutMemory(context.Background(), store.MemoryRow{
		Type:              store.MemoryTypeLongTerm,
		CategoryPrimary:   store.CategoryFact,
		RetentionType:     store.RetentionLongTerm,
		Namespace:         "ns1",
		CreatedAt:         time.Now(),
		Summary:           "Project uses Postgres",
		SearchableContent: "project uses postgres",
		ImportanceScore:   0.7,
	})
	require.NoError(t, err)

	fake := &testutil.FakeClient{Responses: [][]byte{
		testutil.PlanJSON(t, processing.PlanResult{SearchTerms: []string{"postgres"}}),
		testutil.PlanJSON(t, processing.PlanResult{SearchTerms: []string{"postgres"}}),
	}}
	p := planner.New(s, fake, planner.NewMapCache(), testutil.NewTestLogger(t))
	inj := New(s, p)

	for i := 0; i < 2; i++ {
		out, err := inj.Inject(context.Background(), ModeAuto, "ns1", "sess1", nil, "what database do we use")
		require.NoError(t, err)
		require.Len(t, out, 1)
		assert.Contains(t, out[0].Content, "Postgres")
	}
}

func TestDropOldestRemovesEarliestCreatedAt(t *testing.T) {
	now := time.Now()
	entries := []entry{
		{memoryID: "a", createdAt: now.Add(-1 * time.Hour)},
		{memoryID: "b", createdAt: now.Add(-3 * time.Hour)},
		{memoryID: "c", createdAt: now},
	}
	out := dropOldest(entries)
	require.Len(t, out, 2)
	for _, e := range out {
		assert.NotEqual(t, "b", e.memoryID)
	}
}

func TestCloneMessagesIsIndependent(t *testing.T) {
	in := []Message{{Role: "user", Content: "x"}}
	out := cloneMessages(in)
	out[0].Content = "y"
	assert.Equal(t, "x", in[0].Content)
}
