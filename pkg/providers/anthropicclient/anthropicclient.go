// Package anthropicclient adapts github.com/anthropics/anthropic-sdk-go to
// the pkg/processing.Client interface.
package anthropicclient

import (
	"context"
	"encoding/json"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/kittclouds/memori/pkg/processing"
)

// Config mirrors the provider section of internal/config.Config this
// adapter needs.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
}

// Client wraps an anthropic.Client configured per Config.
type Client struct {
	sdk       anthropic.Client
	model     anthropic.Model
	maxTokens int64
}

// New constructs a Client. An empty Model defaults to Claude 3.7 Sonnet.
func New(cfg Config) *Client {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimSuffix(cfg.BaseURL, "/")))
	}

	model := anthropic.Model(cfg.Model)
	if cfg.Model == "" {
		model = anthropic.ModelClaude3_7SonnetLatest
	}

	return &Client{
		sdk:       anthropic.NewClient(opts...),
		model:     model,
		maxTokens: 1024,
	}
}

// Structured asks the model to reply with JSON matching schema by folding
// the schema into the system prompt and instructing a bare JSON reply — the
// same portable technique the openaiclient adapter uses, since the core's
// Schema type is provider-agnostic rather than tied to either SDK's native
// tool-calling shape.
func (c *Client) Structured(ctx context.Context, system, user string, schema processing.Schema) ([]byte, error) {
	schemaJSON, err := json.Marshal(schema.JSONSchema)
	if err != nil {
		return nil, err
	}

	sysPrompt := system + "\n\nRespond with ONLY a single JSON object (" + schema.Name + ": " + schema.Description + ") matching this schema, no prose:\n" + string(schemaJSON)

	params := anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		System:    []anthropic.TextBlockParam{{Text: sysPrompt}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(user)),
		},
	}

	resp, err := c.sdk.Messages.New(ctx, params)
	if err != nil {
		return nil, err
	}
	if resp.StopReason == anthropic.StopReasonRefusal {
		return nil, &processing.Refusal{Reason: "model declined to respond"}
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if variant, ok := block.AsAny().(anthropic.TextBlock); ok {
			text.WriteString(variant.Text)
		}
	}
	if text.Len() == 0 {
		return nil, &processing.Refusal{Reason: "empty response content"}
	}

	return []byte(text.String()), nil
}

func (c *Client) Name() string { return "anthropic" }
