package processing

import "context"

// RuleBasedClient is the stub Client used when no LLM provider is configured
// (provider.api_type = "rule_based"). It always refuses, which drives the
// Classifier and retrieval planner onto their deterministic fallback paths
// unconditionally — useful for tests and for operators who want the memory
// layer without a classification LLM in the loop.
type RuleBasedClient struct{}

func NewRuleBasedClient() *RuleBasedClient { return &RuleBasedClient{} }

func (c *RuleBasedClient) Structured(ctx context.Context, system, user string, schema Schema) ([]byte, error) {
	return nil, &Refusal{Reason: "rule_based provider never calls an LLM"}
}

func (c *RuleBasedClient) Name() string { return "rule_based" }
