package openaiclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kittclouds/memori/pkg/processing"
)

func TestNameDefaultsToOpenAI(t *testing.T) {
	c := New(Config{APIType: "openai", APIKey: "sk-test"})
	assert.Equal(t, "openai", c.Name())
}

func TestNameReflectsAzure(t *testing.T) {
	c := New(Config{APIType: "azure", APIKey: "key", AzureEndpoint: "https://example.openai.azure.com"})
	assert.Equal(t, "azure", c.Name())
}

func TestStructuredFoldsSchemaIntoSystemPromptAndReturnsContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		messages := req["messages"].([]any)
		sysMsg := messages[0].(map[string]any)["content"].(string)
		assert.Contains(t, sysMsg, "search_plan")

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"{\"search_terms\":[\"go\"]}"}}]}`))
	}))
	defer srv.Close()

	c := New(Config{APIType: "openai", APIKey: "sk-test", BaseURL: srv.URL + "/v1", Model: "gpt-4o-mini"})

	out, err := c.Structured(context.Background(), "plan", "what database", processing.PlanSchema)
	require.NoError(t, err)
	assert.JSONEq(t, `{"search_terms":["go"]}`, string(out))
}

func TestStructuredTranslatesBadRequestIntoRefusal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"content policy violation","type":"invalid_request_error"}}`))
	}))
	defer srv.Close()

	c := New(Config{APIType: "openai", APIKey: "sk-test", BaseURL: srv.URL + "/v1", Model: "gpt-4o-mini"})

	_, err := c.Structured(context.Background(), "classify", "hello", processing.ClassificationSchema)
	require.Error(t, err)
	var refusal *processing.Refusal
	require.ErrorAs(t, err, &refusal)
}
