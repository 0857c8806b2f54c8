package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kittclouds/memori/internal/store"
	"github.com/kittclouds/memori/internal/testutil"
	"github.com/kittclouds/memori/pkg/metrics"
	"github.com/kittclouds/memori/pkg/processing"
)

func TestClassifyPrimaryPath(t *testing.T) {
	fake := &testutil.FakeClient{
		Responses: [][]byte{testutil.ClassificationJSON(t, processing.ClassificationResult{
			Category:           "preference",
			CategoryConfidence: 0.9,
			ShouldStore:        true,
			Importance: struct {
				ImportanceScore    float64 `json:"importance_score"`
				NoveltyScore       float64 `json:"novelty_score"`
				RelevanceScore     float64 `json:"relevance_score"`
				ActionabilityScore float64 `json:"actionability_score"`
				RetentionType      string  `json:"retention_type"`
				Reasoning          string  `json:"reasoning"`
			}{ImportanceScore: 0.8, RetentionType: "long_term"},
			Summary: "User uses Go and prefers table-driven tests.",
		})},
	}

	c := New(fake, metrics.New(), testutil.NewTestLogger(t))

	pm := c.Classify(context.Background(), Exchange{
		UserInput: testutil.SampleExchange.UserInput,
		AIOutput:  testutil.SampleExchange.AIOutput,
		Model:     testutil.SampleExchange.Model,
	})

	require.True(t, pm.ShouldStore)
	assert.Equal(t, store.CategoryPreference, pm.Category)
	assert.Equal(t, store.RetentionLongTerm, pm.Importance.RetentionType)
	assert.Equal(t, 1, fake.Calls())
}

func TestClassifyDegradesToFallbackOnRefusal(t *testing.T) {
	fake := &testutil.FakeClient{Refuse: true}
	c := New(fake, metrics.New(), testutil.NewTestLogger(t))

	pm := c.Classify(context.Background(), Exchange{
		UserInput: "I use Go and prefer table-driven tests",
		AIOutput:  "Noted.",
		Model:     "m1",
	})

	assert.Equal(t, store.CategoryContext, pm.Category)
	assert.Equal(t, 0.5, pm.Importance.ImportanceScore)
	assert.Contains(t, pm.Entities.Technologies, "go")
	assert.True(t, pm.ShouldStore)
}

func TestClassifyFallbackShouldStoreFalseBelowMinLength(t *testing.T) {
	fake := &testutil.FakeClient{Refuse: true}
	c := New(fake, metrics.New(), testutil.NewTestLogger(t))

	pm := c.Classify(context.Background(), Exchange{UserInput: "hi", AIOutput: "hey"})

	assert.False(t, pm.ShouldStore)
}

func TestValidateClampsScoresAndCoercesCategory(t *testing.T) {
	pm := validate(store.ProcessedMemory{
		Category: "not-a-real-category",
		Importance: store.Importance{
			ImportanceScore: 5,
			NoveltyScore:    -3,
			RetentionType:   "bogus",
		},
		Entities: store.EntityGroups{People: []string{"Alice", "Alice", ""}},
	}, nil)

	assert.Equal(t, store.CategoryContext, pm.Category)
	assert.Equal(t, 1.0, pm.Importance.ImportanceScore)
	assert.Equal(t, 0.0, pm.Importance.NoveltyScore)
	assert.Equal(t, store.RetentionShortTerm, pm.Importance.RetentionType)
	assert.Equal(t, []string{"Alice"}, pm.Entities.People)
}

func TestValidateBreaksCategoryTieByPriority(t *testing.T) {
	pm := validate(store.ProcessedMemory{Category: store.CategoryFact}, map[store.Category]float64{
		store.CategoryFact:       0.7,
		store.CategoryPreference: 0.7,
		store.CategorySkill:      0.2,
	})

	assert.Equal(t, store.CategoryPreference, pm.Category)
	assert.Equal(t, 0.7, pm.CategoryConfidence)
}

func TestValidateCategoryScoresWinnerOverridesSingleGuess(t *testing.T) {
	pm := validate(store.ProcessedMemory{Category: store.CategoryContext}, map[store.Category]float64{
		store.CategoryContext: 0.1,
		store.CategoryRule:    0.8,
	})

	assert.Equal(t, store.CategoryRule, pm.Category)
	assert.Equal(t, 0.8, pm.CategoryConfidence)
}

func TestValidateWithoutCategoryScoresKeepsOriginalCategory(t *testing.T) {
	pm := validate(store.ProcessedMemory{Category: store.CategorySkill, CategoryConfidence: 0.6}, nil)

	assert.Equal(t, store.CategorySkill, pm.Category)
	assert.Equal(t, 0.6, pm.CategoryConfidence)
}

func TestShortTermExpiry(t *testing.T) {
	now := time.Now()
	exp := ShortTermExpiry(now)
	assert.True(t, exp.After(now))
	assert.Equal(t, shortTermTTL, exp.Sub(now))
}
