package processing

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRefusalErrorIncludesReason(t *testing.T) {
	r := &Refusal{Reason: "content policy"}
	assert.Equal(t, "processing: refused: content policy", r.Error())
}

func TestClassificationSchemaRequiresCoreFields(t *testing.T) {
	required, ok := ClassificationSchema.JSONSchema["required"].([]string)
	assert.True(t, ok)
	assert.Contains(t, required, "category")
	assert.Contains(t, required, "should_store")
}

func TestPlanSchemaRequiresSearchTerms(t *testing.T) {
	required, ok := PlanSchema.JSONSchema["required"].([]string)
	assert.True(t, ok)
	assert.Contains(t, required, "search_terms")
}
