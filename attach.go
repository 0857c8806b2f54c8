package memori

import (
	"context"

	openai "github.com/sashabaranov/go-openai"

	"github.com/kittclouds/memori/pkg/inject"
)

// NativeCallback is the shape a library's own hook-registration API expects:
// a function invoked with the already-extracted (user_input, ai_output,
// model, metadata) of one completed call. This is the first attachment
// strategy (§4.7): wherever an LLM client library exposes a native
// "on response" hook, register Callback() directly and skip the wrapped
// client entirely.
type NativeCallback func(ctx context.Context, userInput, aiOutput, model string, metadata map[string]string)

// Callback returns a NativeCallback bound to this Coordinator, suitable for
// registration with any library that exposes its own post-call hook. It
// never panics and never blocks its caller beyond the synchronous
// chat_history write; classification happens on the capture queue.
func (c *Coordinator) Callback() NativeCallback {
	return func(ctx context.Context, userInput, aiOutput, model string, metadata map[string]string) {
		if _, err := c.Record(ctx, userInput, aiOutput, model, metadata); err != nil {
			c.mu.RLock()
			log := c.log
			c.mu.RUnlock()
			if log != nil {
				log.Warn("native callback: record failed")
			}
		}
	}
}

// ChatClient is the second attachment strategy: a drop-in replacement for
// *openai.Client that injects context ahead of dispatch and captures the
// exchange afterward, for libraries that expose no native hook of their
// own. It delegates every other method directly to the wrapped SDK client,
// so callers only need to swap the constructor, not their call sites.
type ChatClient struct {
	*openai.Client
	coord *Coordinator
}

// WrapOpenAI returns a ChatClient delegating to sdk.
func (c *Coordinator) WrapOpenAI(sdk *openai.Client) *ChatClient {
	return &ChatClient{Client: sdk, coord: c}
}

// CreateChatCompletion injects memory context into req.Messages, forwards
// the call to the wrapped SDK client, and captures the resulting exchange.
// A capture failure never surfaces to the caller: the completion the
// provider returned is always delivered.
func (w *ChatClient) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	userInput := lastUserMessage(req.Messages)

	injected, err := w.coord.PrepareOutbound(ctx, toInjectMessages(req.Messages), userInput)
	if err == nil {
		req.Messages = fromInjectMessages(injected, req.Messages)
	}

	resp, err := w.Client.CreateChatCompletion(ctx, req)
	if err != nil {
		return resp, err
	}

	if len(resp.Choices) > 0 {
		aiOutput := resp.Choices[0].Message.Content
		if _, recErr := w.coord.Record(ctx, userInput, aiOutput, req.Model, nil); recErr != nil {
			w.coord.mu.RLock()
			log := w.coord.log
			w.coord.mu.RUnlock()
			if log != nil {
				log.Warn("wrapped client: record failed")
			}
		}
	}

	return resp, nil
}

func lastUserMessage(messages []openai.ChatCompletionMessage) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == openai.ChatMessageRoleUser {
			return messages[i].Content
		}
	}
	return ""
}

func toInjectMessages(in []openai.ChatCompletionMessage) []inject.Message {
	out := make([]inject.Message, len(in))
	for i, m := range in {
		out[i] = inject.Message{Role: m.Role, Content: m.Content}
	}
	return out
}

// fromInjectMessages reconstructs the SDK message slice from an injected
// slice, preserving every field of the original messages the injector left
// untouched (name, tool calls) by matching on position from the tail, since
// the injector only ever prepends a system message.
func fromInjectMessages(injected []inject.Message, original []openai.ChatCompletionMessage) []openai.ChatCompletionMessage {
	prefixLen := len(injected) - len(original)
	if prefixLen < 0 {
		prefixLen = 0
	}

	out := make([]openai.ChatCompletionMessage, 0, len(injected))
	for i := 0; i < prefixLen; i++ {
		out = append(out, openai.ChatCompletionMessage{Role: injected[i].Role, Content: injected[i].Content})
	}
	out = append(out, original...)
	return out
}
