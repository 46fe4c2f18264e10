// Package llm abstracts text completion over interchangeable backends. The
// conversation engine resolves a client per review owner and treats it as a
// black box: prompt in, reply text out.
package llm

import (
	"context"
	"fmt"

	"github.com/klauern/pr-pal-sub000/internal/models"
)

const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"

	DefaultProvider = ProviderAnthropic
	DefaultModel    = "claude-3-sonnet-20241022"
)

// Client is a single-shot completion backend.
type Client interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// New builds the client for a provider name. An empty provider falls back to
// the default; an unknown one is an error rather than a silent fallback.
func New(provider, model, apiKey string) (Client, error) {
	if provider == "" {
		provider = DefaultProvider
	}
	if apiKey == "" {
		return nil, fmt.Errorf("no API key configured for provider %q", provider)
	}
	switch provider {
	case ProviderAnthropic:
		if model == "" {
			model = DefaultModel
		}
		return NewAnthropic(apiKey, model), nil
	case ProviderOpenAI:
		if model == "" {
			model = defaultOpenAIModel
		}
		return NewOpenAI(apiKey, model), nil
	default:
		return nil, fmt.Errorf("unknown LLM provider %q", provider)
	}
}

// SenderTag returns the transcript sender recorded for replies from a
// provider, e.g. "assistant_anthropic".
func SenderTag(provider string) string {
	if provider == "" {
		provider = DefaultProvider
	}
	return models.SenderAssistantPrefix + provider
}
