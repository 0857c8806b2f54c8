// Package openaiclient adapts github.com/sashabaranov/go-openai to the
// pkg/processing.Client interface, covering both the openai and azure
// provider.api_type values from the configuration schema.
package openaiclient

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/kittclouds/memori/pkg/processing"
)

// Config mirrors the provider section of internal/config.Config that this
// adapter needs; the Coordinator translates its Config into this shape so
// pkg/providers never imports internal/config (adapters stay decoupled from
// the config schema's evolution).
type Config struct {
	APIType         string // "openai" or "azure"
	APIKey          string
	BaseURL         string
	Model           string
	AzureEndpoint   string
	AzureDeployment string
	APIVersion      string
	Organization    string
}

// Client wraps an *openai.Client configured per Config.
type Client struct {
	sdk   *openai.Client
	model string
	name  string
}

// New constructs a Client. For api_type=azure it configures the SDK's Azure
// mapping (endpoint, deployment, api version) rather than the default
// OpenAI base URL.
func New(cfg Config) *Client {
	var oaCfg openai.ClientConfig

	if strings.EqualFold(cfg.APIType, "azure") {
		oaCfg = openai.DefaultAzureConfig(cfg.APIKey, cfg.AzureEndpoint)
		if cfg.APIVersion != "" {
			oaCfg.APIVersion = cfg.APIVersion
		}
		if cfg.AzureDeployment != "" {
			oaCfg.AzureModelMapperFunc = func(model string) string {
				return cfg.AzureDeployment
			}
		}
	} else {
		oaCfg = openai.DefaultConfig(cfg.APIKey)
		if cfg.BaseURL != "" {
			oaCfg.BaseURL = cfg.BaseURL
		}
		if cfg.Organization != "" {
			oaCfg.OrgID = cfg.Organization
		}
	}

	return &Client{
		sdk:   openai.NewClientWithConfig(oaCfg),
		model: cfg.Model,
		name:  strings.ToLower(cfg.APIType),
	}
}

// Structured asks the model to reply with JSON matching schema, via
// ChatCompletion's JSON-object response format plus a schema description
// folded into the system prompt (go-openai's JSONSchema response_format
// support varies by SDK version; the system-prompt-embedded schema is the
// portable path across every OpenAI-compatible endpoint this adapter also
// serves, e.g. Ollama's OpenAI-compatibility layer).
func (c *Client) Structured(ctx context.Context, system, user string, schema processing.Schema) ([]byte, error) {
	schemaJSON, err := json.Marshal(schema.JSONSchema)
	if err != nil {
		return nil, err
	}

	sysPrompt := system + "\n\nRespond with a single JSON object (" + schema.Name + ": " + schema.Description + ") matching this schema:\n" + string(schemaJSON)

	resp, err := c.sdk.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: sysPrompt},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
		Temperature:    0,
	})
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) && apiErr.HTTPStatusCode == 400 {
			return nil, &processing.Refusal{Reason: apiErr.Message}
		}
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, &processing.Refusal{Reason: "empty choices"}
	}

	return []byte(resp.Choices[0].Message.Content), nil
}

func (c *Client) Name() string {
	if c.name == "" {
		return "openai"
	}
	return c.name
}
