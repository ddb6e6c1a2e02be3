package inmem

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mfateev/agentchat/internal/models"
	"github.com/mfateev/agentchat/internal/store"
)

func TestContext_OptimisticVersioning(t *testing.T) {
	ctx := context.Background()
	s := New()

	c := &store.Context{ID: "c1", OrgID: "o1", AgentID: "a1"}
	require.NoError(t, s.PutContext(ctx, c))
	assert.Equal(t, int64(1), c.Version)
	assert.False(t, c.CreatedAt.IsZero())

	first, err := s.GetContext(ctx, "c1")
	require.NoError(t, err)
	second, err := s.GetContext(ctx, "c1")
	require.NoError(t, err)

	first.Messages = append(first.Messages, models.HumanMessage("from first"))
	require.NoError(t, s.PutContext(ctx, first))

	second.Messages = append(second.Messages, models.HumanMessage("from second"))
	err = s.PutContext(ctx, second)
	assert.True(t, errors.Is(err, store.ErrConflict))

	got, err := s.GetContext(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, "from first", got.Messages[0].Content)
	assert.Equal(t, int64(2), got.Version)
}

func TestContext_CreateRejectsExisting(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.PutContext(ctx, &store.Context{ID: "c1"}))

	err := s.PutContext(ctx, &store.Context{ID: "c1"})
	assert.True(t, errors.Is(err, store.ErrConflict))
}

func TestContext_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := New()
	c := &store.Context{ID: "c1", Messages: []models.Message{models.HumanMessage("hi")}, PromptArgs: map[string]string{"k": "v"}}
	require.NoError(t, s.PutContext(ctx, c))

	got, _ := s.GetContext(ctx, "c1")
	got.Messages[0].Content = "changed"
	got.PromptArgs["k"] = "changed"

	again, _ := s.GetContext(ctx, "c1")
	assert.Equal(t, "hi", again.Messages[0].Content)
	assert.Equal(t, "v", again.PromptArgs["k"])
}

func TestNotFound(t *testing.T) {
	ctx := context.Background()
	s := New()

	_, err := s.GetAgent(ctx, "x")
	assert.True(t, errors.Is(err, store.ErrNotFound))
	_, err = s.GetContext(ctx, "x")
	assert.True(t, errors.Is(err, store.ErrNotFound))
	_, err = s.GetTool(ctx, "x")
	assert.True(t, errors.Is(err, store.ErrNotFound))
	_, err = s.GetDataWindow(ctx, "x")
	assert.True(t, errors.Is(err, store.ErrNotFound))
	_, err = s.GetDocument(ctx, "x")
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

func TestDocument_RejectsInvalidJSON(t *testing.T) {
	s := New()
	err := s.PutDocument(context.Background(), &store.Document{ID: "d", Data: json.RawMessage(`{bad`)})
	assert.Error(t, err)

	require.NoError(t, s.PutDocument(context.Background(), &store.Document{ID: "d", Data: json.RawMessage(`{"a":1}`)}))
	d, err := s.GetDocument(context.Background(), "d")
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(d.Data))
}
