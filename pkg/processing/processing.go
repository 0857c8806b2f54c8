// Package processing defines the narrow interface the core calls to obtain
// structured output from an LLM: memory categorization for the classifier,
// search planning for the retrieval planner. Concrete SDK coupling lives in
// pkg/providers/*; the core never imports a provider SDK directly.
package processing

import "context"

// Refusal is returned by a Client when the provider declined to produce a
// structured response (content policy, schema the model would not follow,
// etc). It is distinct from a transport/Error failure: a Refusal still
// degrades to the fallback path, but is never retried.
type Refusal struct {
	Reason string
}

func (r *Refusal) Error() string { return "processing: refused: " + r.Reason }

// Client is the abstract interface the core calls for structured
// categorization (Classifier) and planning (retrieval planner). Concrete
// implementations (OpenAI, Azure, Anthropic, Ollama, any OpenAI-compatible
// endpoint, or a rule-based stub) are injected at construction time.
type Client interface {
	// Structured sends system+user prompts and asks the provider to return a
	// response matching schema (a JSON-schema-shaped description of the
	// desired object). On success it returns the raw JSON bytes of the
	// provider's structured response. A *Refusal is returned when the
	// provider declines; any other error is a transport/provider failure.
	Structured(ctx context.Context, system, user string, schema Schema) ([]byte, error)

	// Name identifies the concrete adapter for logging/metrics, e.g.
	// "openai", "azure", "anthropic", "rule_based".
	Name() string
}

// Schema describes the shape a Structured call must conform its response to.
// Name is the provider-facing name of the response object; Description
// documents the task for the model; JSONSchema is the draft-7-ish schema
// object. Each adapter folds all three into its system prompt.
type Schema struct {
	Name        string
	Description string
	JSONSchema  map[string]any
}

// ClassificationSchema is the Schema the Classifier asks the Client to
// conform to; its JSONSchema mirrors store.ProcessedMemory's shape.
var ClassificationSchema = Schema{
	Name:        "processed_memory",
	Description: "Categorize a conversational exchange into a structured memory record.",
	JSONSchema: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"category":            map[string]any{"type": "string", "enum": []string{"fact", "preference", "skill", "context", "rule"}},
			"category_confidence": map[string]any{"type": "number", "minimum": 0, "maximum": 1},
			"category_reasoning":  map[string]any{"type": "string"},
			"category_scores": map[string]any{
				"type":        "object",
				"description": "Posterior confidence for every category. Used to break ties deterministically (rule > preference > skill > fact > context) when two categories are equally likely.",
				"properties": map[string]any{
					"fact":       map[string]any{"type": "number", "minimum": 0, "maximum": 1},
					"preference": map[string]any{"type": "number", "minimum": 0, "maximum": 1},
					"skill":      map[string]any{"type": "number", "minimum": 0, "maximum": 1},
					"context":    map[string]any{"type": "number", "minimum": 0, "maximum": 1},
					"rule":       map[string]any{"type": "number", "minimum": 0, "maximum": 1},
				},
			},
			"entities": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"people":       map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
					"technologies": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
					"topics":       map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
					"skills":       map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
					"projects":     map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
					"keywords":     map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
				},
			},
			"importance": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"importance_score":    map[string]any{"type": "number", "minimum": 0, "maximum": 1},
					"novelty_score":       map[string]any{"type": "number", "minimum": 0, "maximum": 1},
					"relevance_score":     map[string]any{"type": "number", "minimum": 0, "maximum": 1},
					"actionability_score": map[string]any{"type": "number", "minimum": 0, "maximum": 1},
					"retention_type":      map[string]any{"type": "string", "enum": []string{"short_term", "long_term", "permanent"}},
					"reasoning":           map[string]any{"type": "string"},
				},
			},
			"summary":            map[string]any{"type": "string"},
			"searchable_content": map[string]any{"type": "string"},
			"should_store":       map[string]any{"type": "boolean"},
			"conscious_labels":   map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		},
		"required": []string{"category", "importance", "summary", "should_store"},
	},
}

// PlanSchema is the Schema the retrieval planner asks the Client to conform
// to when generating a search plan for the current user input.
var PlanSchema = Schema{
	Name:        "search_plan",
	Description: "Plan a memory search for the current user input.",
	JSONSchema: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"search_terms":         map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"categories":           map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"importance_threshold": map[string]any{"type": "number", "minimum": 0, "maximum": 1},
			"expected_count":       map[string]any{"type": "integer", "minimum": 1},
		},
		"required": []string{"search_terms"},
	},
}

// ClassificationResult is the decoded shape of a ClassificationSchema
// response, kept separate from store.ProcessedMemory so the wire shape
// (what a provider is asked to emit) and the validated domain type (what the
// Store persists) can diverge without the provider contract leaking into
// internal/store.
type ClassificationResult struct {
	Category           string             `json:"category"`
	CategoryConfidence float64            `json:"category_confidence"`
	CategoryReasoning  string             `json:"category_reasoning"`
	CategoryScores     map[string]float64 `json:"category_scores"`
	Entities           struct {
		People       []string `json:"people"`
		Technologies []string `json:"technologies"`
		Topics       []string `json:"topics"`
		Skills       []string `json:"skills"`
		Projects     []string `json:"projects"`
		Keywords     []string `json:"keywords"`
	} `json:"entities"`
	Importance struct {
		ImportanceScore    float64 `json:"importance_score"`
		NoveltyScore       float64 `json:"novelty_score"`
		RelevanceScore     float64 `json:"relevance_score"`
		ActionabilityScore float64 `json:"actionability_score"`
		RetentionType      string  `json:"retention_type"`
		Reasoning          string  `json:"reasoning"`
	} `json:"importance"`
	Summary           string   `json:"summary"`
	SearchableContent string   `json:"searchable_content"`
	ShouldStore       bool     `json:"should_store"`
	ConsciousLabels   []string `json:"conscious_labels"`
}

// PlanResult is the decoded shape of a PlanSchema response.
type PlanResult struct {
	SearchTerms         []string `json:"search_terms"`
	Categories          []string `json:"categories"`
	ImportanceThreshold float64  `json:"importance_threshold"`
	ExpectedCount       int      `json:"expected_count"`
}
