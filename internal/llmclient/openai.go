package llmclient

import (
	"context"
	"strings"

	sdk "github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"graphmemory/internal/apperr"
	"graphmemory/internal/observability"
)

// OpenAIClient talks to any OpenAI-compatible chat completions endpoint,
// grounded on internal/llm/openai/client.go's sdk.Client usage, trimmed to
// the single non-streaming Chat.Completions.New call this service needs.
type OpenAIClient struct {
	sdk   sdk.Client
	model string
}

func NewOpenAI(apiKey, baseURL, model string) *OpenAIClient {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAIClient{sdk: sdk.NewClient(opts...), model: model}
}

func (c *OpenAIClient) Complete(ctx context.Context, model string, messages []Message) (string, error) {
	if model == "" {
		model = c.model
	}
	params := sdk.ChatCompletionNewParams{Model: sdk.ChatModel(model)}
	for _, m := range messages {
		switch strings.ToLower(m.Role) {
		case "system":
			params.Messages = append(params.Messages, sdk.SystemMessage(m.Content))
		case "assistant":
			params.Messages = append(params.Messages, sdk.AssistantMessage(m.Content))
		default:
			params.Messages = append(params.Messages, sdk.UserMessage(m.Content))
		}
	}

	log := observability.LoggerWithTrace(ctx)
	comp, err := c.sdk.Chat.Completions.New(ctx, params)
	if err != nil {
		log.Error().Err(err).Str("model", model).Msg("llmclient_openai_chat_error")
		return "", apperr.DependencyFailuref("llmclient", err, "openai chat completion")
	}
	if len(comp.Choices) == 0 {
		return "", apperr.DependencyFailuref("llmclient", nil, "openai chat completion returned no choices")
	}
	log.Debug().Str("model", model).Int("prompt_tokens", int(comp.Usage.PromptTokens)).
		Int("completion_tokens", int(comp.Usage.CompletionTokens)).Msg("llmclient_openai_chat_ok")
	return comp.Choices[0].Message.Content, nil
}

var _ Client = (*OpenAIClient)(nil)
