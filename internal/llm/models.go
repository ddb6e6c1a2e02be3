package llm

import (
	"context"
	"sort"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	anthropicopt "github.com/anthropics/anthropic-sdk-go/option"
	"github.com/openai/openai-go"
	openaiopt "github.com/openai/openai-go/option"

	"github.com/mfateev/agentchat/internal/models"
)

// AvailableModel is a model an agent's ModelConfig can name.
type AvailableModel struct {
	Provider    string `json:"provider"`
	ID          string `json:"id"`
	DisplayName string `json:"display_name,omitempty"`
}

// ModelLister lists the models of one provider.
type ModelLister func(ctx context.Context) ([]AvailableModel, error)

// ListModels runs every lister and merges the results sorted by provider,
// then id. Failures are returned per provider and do not hide the models of
// the others.
func ListModels(ctx context.Context, listers map[string]ModelLister) ([]AvailableModel, map[string]error) {
	var (
		all    []AvailableModel
		failed map[string]error
	)
	for provider, list := range listers {
		found, err := list(ctx)
		if err != nil {
			if failed == nil {
				failed = make(map[string]error)
			}
			failed[provider] = err
			continue
		}
		all = append(all, found...)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].Provider != all[j].Provider {
			return all[i].Provider < all[j].Provider
		}
		return all[i].ID < all[j].ID
	})
	return all, failed
}

// ProviderListers returns a lister for each provider with a non-empty key.
func ProviderListers(openaiKey, anthropicKey string) map[string]ModelLister {
	listers := make(map[string]ModelLister)
	if openaiKey != "" {
		listers[models.ProviderOpenAI] = OpenAIModelLister(openaiKey)
	}
	if anthropicKey != "" {
		listers[models.ProviderAnthropic] = AnthropicModelLister(anthropicKey)
	}
	return listers
}

// OpenAIModelLister lists OpenAI chat models usable with tool calling.
func OpenAIModelLister(apiKey string, opts ...openaiopt.RequestOption) ModelLister {
	client := openai.NewClient(append([]openaiopt.RequestOption{openaiopt.WithAPIKey(apiKey)}, opts...)...)
	return func(ctx context.Context) ([]AvailableModel, error) {
		page, err := client.Models.List(ctx)
		if err != nil {
			return nil, err
		}
		var out []AvailableModel
		for _, m := range page.Data {
			if toolCapable(m.ID) {
				out = append(out, AvailableModel{Provider: models.ProviderOpenAI, ID: m.ID})
			}
		}
		return out, nil
	}
}

// AnthropicModelLister lists every Anthropic model.
func AnthropicModelLister(apiKey string, opts ...anthropicopt.RequestOption) ModelLister {
	client := anthropic.NewClient(append([]anthropicopt.RequestOption{anthropicopt.WithAPIKey(apiKey)}, opts...)...)
	return func(ctx context.Context) ([]AvailableModel, error) {
		iter := client.Models.ListAutoPaging(ctx, anthropic.ModelListParams{})
		var out []AvailableModel
		for iter.Next() {
			m := iter.Current()
			out = append(out, AvailableModel{Provider: models.ProviderAnthropic, ID: m.ID, DisplayName: m.DisplayName})
		}
		if err := iter.Err(); err != nil {
			return nil, err
		}
		return out, nil
	}
}

var (
	chatFamilies   = []string{"gpt-", "o1", "o3", "o4", "chatgpt-"}
	nonChatMarkers = []string{"-tts", "-realtime", "-transcribe", "-instruct", "-audio", "-search", "embedding", "image"}
)

// toolCapable keeps OpenAI chat families and drops fine-tunes and the
// audio, image, embedding and realtime variants.
func toolCapable(id string) bool {
	if strings.HasPrefix(id, "ft:") {
		return false
	}
	for _, marker := range nonChatMarkers {
		if strings.Contains(id, marker) {
			return false
		}
	}
	for _, family := range chatFamilies {
		if strings.HasPrefix(id, family) {
			return true
		}
	}
	return false
}
