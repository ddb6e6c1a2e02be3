package llm

import (
	"context"
	"fmt"

	"github.com/mfateev/agentchat/internal/models"
)

// MultiProviderClient implements Client by dispatching to the appropriate
// provider based on the Request.Model.Provider field.
type MultiProviderClient struct {
	providers map[string]Client
}

// NewMultiProviderClient creates a client that can dispatch to multiple
// providers. Keys are provider names ("openai", "anthropic").
func NewMultiProviderClient(providers map[string]Client) *MultiProviderClient {
	return &MultiProviderClient{providers: providers}
}

func (c *MultiProviderClient) pick(provider string) (Client, error) {
	if provider == "" {
		provider = models.ProviderOpenAI
	}
	client, ok := c.providers[provider]
	if !ok {
		return nil, models.NewFatalError(fmt.Sprintf("unsupported LLM provider: %s (supported: openai, anthropic)", provider))
	}
	return client, nil
}

// Invoke dispatches to the provider named in the request.
func (c *MultiProviderClient) Invoke(ctx context.Context, req Request) (Response, error) {
	client, err := c.pick(req.Model.Provider)
	if err != nil {
		return Response{}, err
	}
	return client.Invoke(ctx, req)
}

// Stream dispatches to the provider named in the request.
func (c *MultiProviderClient) Stream(ctx context.Context, req Request) (ChunkStream, error) {
	client, err := c.pick(req.Model.Provider)
	if err != nil {
		return nil, err
	}
	return client.Stream(ctx, req)
}

// NewLLMClient creates the client for a single provider.
func NewLLMClient(provider, apiKey string) (Client, error) {
	switch provider {
	case models.ProviderOpenAI, "":
		return NewOpenAIClient(apiKey), nil
	case models.ProviderAnthropic:
		return NewAnthropicClient(apiKey), nil
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s (supported: openai, anthropic)", provider)
	}
}
