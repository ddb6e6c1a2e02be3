package llm

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	anthropicopt "github.com/anthropics/anthropic-sdk-go/option"
	openaiopt "github.com/openai/openai-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToolCapable(t *testing.T) {
	keep := []string{"gpt-4o", "gpt-4.1-mini", "o3-mini", "chatgpt-4o-latest"}
	drop := []string{"text-embedding-3-small", "dall-e-3", "gpt-4o-mini-tts", "gpt-4o-realtime-preview",
		"gpt-3.5-turbo-instruct", "gpt-image-1", "gpt-4o-search-preview", "ft:gpt-4o:acme"}
	for _, id := range keep {
		assert.True(t, toolCapable(id), id)
	}
	for _, id := range drop {
		assert.False(t, toolCapable(id), id)
	}
}

func TestListModels_MergesAndReportsFailures(t *testing.T) {
	listers := map[string]ModelLister{
		"zeta": func(context.Context) ([]AvailableModel, error) {
			return []AvailableModel{{Provider: "zeta", ID: "b"}, {Provider: "zeta", ID: "a"}}, nil
		},
		"alpha": func(context.Context) ([]AvailableModel, error) {
			return []AvailableModel{{Provider: "alpha", ID: "z"}}, nil
		},
		"broken": func(context.Context) ([]AvailableModel, error) {
			return nil, errors.New("401 unauthorized")
		},
	}

	got, failed := ListModels(context.Background(), listers)
	assert.Equal(t, []AvailableModel{{Provider: "alpha", ID: "z"}, {Provider: "zeta", ID: "a"}, {Provider: "zeta", ID: "b"}}, got)
	require.Len(t, failed, 1)
	assert.EqualError(t, failed["broken"], "401 unauthorized")
}

func TestProviderListers(t *testing.T) {
	assert.Empty(t, ProviderListers("", ""))
	assert.Len(t, ProviderListers("sk", ""), 1)
	assert.Len(t, ProviderListers("sk", "ak"), 2)
}

func TestOpenAIModelLister(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"object":"list","data":[
			{"id":"gpt-4o","object":"model","created":1,"owned_by":"openai"},
			{"id":"whisper-1","object":"model","created":1,"owned_by":"openai"}]}`))
	}))
	defer srv.Close()

	got, err := OpenAIModelLister("sk-test", openaiopt.WithBaseURL(srv.URL+"/"))(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []AvailableModel{{Provider: "openai", ID: "gpt-4o"}}, got)
}

func TestAnthropicModelLister(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/models", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":[{"id":"claude-sonnet-4-5","display_name":"Claude Sonnet 4.5",
			"created_at":"2025-09-29T00:00:00Z","type":"model"}],
			"has_more":false,"first_id":"claude-sonnet-4-5","last_id":"claude-sonnet-4-5"}`))
	}))
	defer srv.Close()

	got, err := AnthropicModelLister("ak-test", anthropicopt.WithBaseURL(srv.URL), anthropicopt.WithMaxRetries(0))(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []AvailableModel{{Provider: "anthropic", ID: "claude-sonnet-4-5", DisplayName: "Claude Sonnet 4.5"}}, got)
}
