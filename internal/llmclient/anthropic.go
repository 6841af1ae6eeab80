package llmclient

import (
	"context"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"graphmemory/internal/apperr"
	"graphmemory/internal/observability"
)

const defaultMaxTokens int64 = 4096

// AnthropicClient is the secondary provider, selected via LLM_PROVIDER=anthropic,
// grounded on internal/llm/anthropic/client.go's non-streaming Messages.New call.
type AnthropicClient struct {
	sdk   anthropic.Client
	model string
}

func NewAnthropic(apiKey, baseURL, model string) *AnthropicClient {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimSuffix(baseURL, "/")))
	}
	return &AnthropicClient{sdk: anthropic.NewClient(opts...), model: model}
}

func (c *AnthropicClient) Complete(ctx context.Context, model string, messages []Message) (string, error) {
	if model == "" {
		model = c.model
	}
	var system []anthropic.TextBlockParam
	var turns []anthropic.MessageParam
	for _, m := range messages {
		switch strings.ToLower(m.Role) {
		case "system":
			system = append(system, anthropic.TextBlockParam{Text: m.Content})
		case "assistant":
			turns = append(turns, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			turns = append(turns, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}

	log := observability.LoggerWithTrace(ctx)
	resp, err := c.sdk.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		Messages:  turns,
		System:    system,
		MaxTokens: defaultMaxTokens,
	})
	if err != nil {
		log.Error().Err(err).Str("model", model).Msg("llmclient_anthropic_chat_error")
		return "", apperr.DependencyFailuref("llmclient", err, "anthropic chat completion")
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		if tb, ok := block.AsAny().(anthropic.TextBlock); ok {
			sb.WriteString(tb.Text)
		}
	}
	log.Debug().Str("model", model).Int("input_tokens", int(resp.Usage.InputTokens)).
		Int("output_tokens", int(resp.Usage.OutputTokens)).Msg("llmclient_anthropic_chat_ok")
	return sb.String(), nil
}

var _ Client = (*AnthropicClient)(nil)
