// Package llmclient provides the single chat-completion surface used by
// internal/extractor (entity/relation extraction) and internal/query
// (question answering). Unlike the teacher's internal/llm package — built
// for a multi-turn tool-calling chat agent with streaming, image
// generation and provider-specific raw-HTTP fallbacks — this service only
// ever needs one non-streaming call shape, so the surface is reduced to
// that shape while keeping the teacher's provider-selection convention.
package llmclient

import "context"

// Message is one turn of a chat completion request.
type Message struct {
	Role    string // "system" | "user" | "assistant"
	Content string
}

// Client is the provider-agnostic chat-completion surface. OpenAI and
// Anthropic implementations are selected by LLM_PROVIDER at startup,
// mirroring the teacher's providers.Build factory (internal/llm/providers).
type Client interface {
	Complete(ctx context.Context, model string, messages []Message) (string, error)
}
