package windows

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mfateev/agentchat/internal/models"
	"github.com/mfateev/agentchat/internal/store"
	"github.com/mfateev/agentchat/internal/store/inmem"
	"github.com/mfateev/agentchat/internal/tools"
)

func seededStore(t *testing.T) *inmem.Store {
	t.Helper()
	ctx := context.Background()
	s := inmem.New()
	require.NoError(t, s.PutDataWindow(ctx, &store.DataWindow{ID: "w1", OrgID: "org", Data: "price=10"}))
	require.NoError(t, s.PutDocument(ctx, &store.Document{ID: "d1", OrgID: "org", Data: json.RawMessage(`{"customer":{"name":"Ada","tags":["vip","eu"]}}`)}))
	return s
}

func dataCall(id string) models.ToolCall {
	return models.ToolCall{ID: id, Name: OpenDataWindow, Args: map[string]interface{}{ArgDataWindowID: "w1"}}
}

func memCall(id, path string) models.ToolCall {
	args := map[string]interface{}{ArgDocumentID: "d1"}
	if path != "" {
		args[ArgPath] = path
	}
	return models.ToolCall{ID: id, Name: OpenMemoryWindow, Args: args}
}

func TestRefresh_RewritesWindowResponses(t *testing.T) {
	s := seededStore(t)
	r := NewRefresher(NewFetcher(s, s))
	turn := tools.NewTurnContext("c", "org", nil)

	msgs := []models.Message{
		models.HumanMessage("hi"),
		models.AIMessage("", dataCall("a"), memCall("b", "customer.name"), models.ToolCall{ID: "c", Name: "search"}),
		models.ToolMessage("a", "price=5"),
		models.ToolMessage("b", `"Bob"`),
		models.ToolMessage("c", "search result"),
	}

	n := r.Refresh(context.Background(), msgs, turn)

	assert.Equal(t, 2, n)
	assert.Equal(t, "price=10", msgs[2].Content)
	assert.Equal(t, `"Ada"`, msgs[3].Content)
	assert.Equal(t, "search result", msgs[4].Content)
}

func TestRefresh_SkipsCallsWithoutResponse(t *testing.T) {
	s := seededStore(t)
	msgs := []models.Message{models.AIMessage("", dataCall("a"))}

	n := NewRefresher(NewFetcher(s, s)).Refresh(context.Background(), msgs, nil)

	assert.Equal(t, 0, n)
	assert.Len(t, msgs, 1)
}

func TestRefresh_FailuresBecomeContent(t *testing.T) {
	s := seededStore(t)
	msgs := []models.Message{
		models.AIMessage("",
			models.ToolCall{ID: "a", Name: OpenDataWindow, Args: map[string]interface{}{ArgDataWindowID: "gone"}},
			memCall("b", "customer.address.city"),
			models.ToolCall{ID: "c", Name: OpenMemoryWindow, Args: map[string]interface{}{}},
		),
		models.ToolMessage("a", "old"),
		models.ToolMessage("b", "old"),
		models.ToolMessage("c", "old"),
	}

	NewRefresher(NewFetcher(s, s)).Refresh(context.Background(), msgs, tools.NewTurnContext("c", "org", nil))

	assert.Equal(t, "Error loading data window gone: not found", msgs[1].Content)
	assert.Equal(t, `Path "customer.address.city" is no longer available in document d1`, msgs[2].Content)
	assert.Equal(t, "Error: document_id is required", msgs[3].Content)
}

func TestRefresh_OtherOrgIsNotVisible(t *testing.T) {
	s := seededStore(t)
	msgs := []models.Message{models.AIMessage("", dataCall("a")), models.ToolMessage("a", "old")}

	NewRefresher(NewFetcher(s, s)).Refresh(context.Background(), msgs, tools.NewTurnContext("c", "intruder", nil))

	assert.Contains(t, msgs[1].Content, "not found")
}

type countingDocs struct {
	store.DocumentStore
	calls int
}

func (c *countingDocs) GetDocument(ctx context.Context, id string) (*store.Document, error) {
	c.calls++
	return c.DocumentStore.GetDocument(ctx, id)
}

func TestRefresh_DocumentFetchedOncePerTurn(t *testing.T) {
	s := seededStore(t)
	docs := &countingDocs{DocumentStore: s}
	r := NewRefresher(NewFetcher(s, docs))
	turn := tools.NewTurnContext("c", "org", nil)

	msgs := []models.Message{
		models.AIMessage("", memCall("a", "customer.name"), memCall("b", "customer.tags.1"), memCall("c", "")),
		models.ToolMessage("a", ""), models.ToolMessage("b", ""), models.ToolMessage("c", ""),
	}
	r.Refresh(context.Background(), msgs, turn)
	r.Refresh(context.Background(), msgs, turn)

	assert.Equal(t, 1, docs.calls)
	assert.Equal(t, `"eu"`, msgs[2].Content)
	assert.JSONEq(t, `{"customer":{"name":"Ada","tags":["vip","eu"]}}`, msgs[3].Content)
}

type failingWindows struct{}

func (failingWindows) GetDataWindow(context.Context, string) (*store.DataWindow, error) {
	return nil, errors.New("connection reset")
}
func (failingWindows) PutDataWindow(context.Context, *store.DataWindow) error { return nil }

func TestRefresh_StoreErrorInline(t *testing.T) {
	s := seededStore(t)
	msgs := []models.Message{models.AIMessage("", dataCall("a")), models.ToolMessage("a", "old")}

	NewRefresher(NewFetcher(failingWindows{}, s)).Refresh(context.Background(), msgs, nil)

	assert.Equal(t, "Error loading data window w1: connection reset", msgs[1].Content)
}

func TestResolve(t *testing.T) {
	doc := []byte(`{"a":{"b.c":1,"list":[{"x":true}]},"weird*key":2}`)

	v, err := Resolve(doc, "a.list.0.x")
	require.NoError(t, err)
	assert.Equal(t, "true", v)

	v, err = Resolve(doc, "weird*key")
	require.NoError(t, err)
	assert.Equal(t, "2", v)

	_, err = Resolve(doc, "a.missing")
	assert.True(t, errors.Is(err, ErrPathNotFound))
}

// genHistory builds transcripts mixing window calls, other tool calls and
// plain messages.
func genHistory() gopter.Gen {
	return gen.SliceOfN(12, gen.IntRange(0, 4)).Map(func(kinds []int) []models.Message {
		var msgs []models.Message
		for i, k := range kinds {
			id := string(rune('a' + i))
			switch k {
			case 0:
				msgs = append(msgs, models.HumanMessage("q"))
			case 1:
				msgs = append(msgs, models.AIMessage("", dataCall(id)), models.ToolMessage(id, "stale"))
			case 2:
				msgs = append(msgs, models.AIMessage("", memCall(id, "customer.tags.0")), models.ToolMessage(id, "stale"))
			case 3:
				msgs = append(msgs, models.AIMessage("", models.ToolCall{ID: id, Name: "search"}), models.ToolMessage(id, "kept"))
			default:
				msgs = append(msgs, models.AIMessage("answer"))
			}
		}
		return msgs
	})
}

func TestRefresh_Properties(t *testing.T) {
	s := seededStore(t)
	r := NewRefresher(NewFetcher(s, s))

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("refresh preserves count, roles, order and non-window content", prop.ForAll(
		func(msgs []models.Message) bool {
			before := models.CloneMessages(msgs)
			r.Refresh(context.Background(), msgs, tools.NewTurnContext("c", "org", nil))
			if len(before) != len(msgs) {
				return false
			}
			for i := range msgs {
				if msgs[i].Role != before[i].Role || msgs[i].ToolCallID != before[i].ToolCallID {
					return false
				}
				if msgs[i].Content != before[i].Content && msgs[i].Content != "price=10" && msgs[i].Content != `"vip"` {
					return false
				}
			}
			return true
		},
		genHistory(),
	))

	properties.Property("refresh is idempotent", prop.ForAll(
		func(msgs []models.Message) bool {
			r.Refresh(context.Background(), msgs, tools.NewTurnContext("c", "org", nil))
			first := models.CloneMessages(msgs)
			r.Refresh(context.Background(), msgs, tools.NewTurnContext("c", "org", nil))
			for i := range msgs {
				if msgs[i].Content != first[i].Content {
					return false
				}
			}
			return true
		},
		genHistory(),
	))

	properties.TestingRun(t)
}

func TestWindowTools(t *testing.T) {
	s := seededStore(t)
	f := NewFetcher(s, s)
	reg := tools.NewToolRegistry()
	require.NoError(t, reg.Register(f.DataWindowTool()))
	require.NoError(t, reg.Register(f.MemoryWindowTool()))

	router := tools.NewToolRouter(reg)
	turn := tools.NewTurnContext("c", "org", nil)

	res := router.Dispatch(context.Background(), dataCall("a"), turn)
	assert.Equal(t, "price=10", res.Output)

	res = router.Dispatch(context.Background(), memCall("b", "customer.name"), turn)
	assert.Equal(t, `"Ada"`, res.Output)

	res = router.Dispatch(context.Background(), models.ToolCall{ID: "c", Name: OpenMemoryWindow}, turn)
	assert.True(t, tools.IsValidationError(res.Err))
}
