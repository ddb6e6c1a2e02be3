package mongo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/mfateev/agentchat/internal/models"
	"github.com/mfateev/agentchat/internal/store"
	"github.com/mfateev/agentchat/internal/tools"
)

var (
	testMongoClient    *mongodriver.Client
	testMongoContainer testcontainers.Container
	skipMongoTests     bool
)

func TestMain(m *testing.M) {
	ctx := context.Background()
	setupMongoDB(ctx)
	code := m.Run()
	if testMongoClient != nil {
		_ = testMongoClient.Disconnect(ctx)
	}
	if testMongoContainer != nil {
		_ = testMongoContainer.Terminate(ctx)
	}
	os.Exit(code)
}

func setupMongoDB(ctx context.Context) {
	var containerErr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				containerErr = fmt.Errorf("docker not available: %v", r)
			}
		}()
		req := testcontainers.ContainerRequest{
			Image:        "mongo:7",
			ExposedPorts: []string{"27017/tcp"},
			WaitingFor:   wait.ForLog("Waiting for connections"),
			Tmpfs:        map[string]string{"/data/db": "rw"},
		}
		testMongoContainer, containerErr = testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
			ContainerRequest: req,
			Started:          true,
		})
	}()
	if containerErr != nil {
		fmt.Printf("Docker not available, MongoDB tests will be skipped: %v\n", containerErr)
		skipMongoTests = true
		return
	}

	host, err := testMongoContainer.Host(ctx)
	if err != nil {
		skipMongoTests = true
		return
	}
	port, err := testMongoContainer.MappedPort(ctx, "27017")
	if err != nil {
		skipMongoTests = true
		return
	}
	testMongoClient, err = mongodriver.Connect(options.Client().ApplyURI(fmt.Sprintf("mongodb://%s:%s", host, port.Port())))
	if err != nil {
		skipMongoTests = true
		return
	}
	if err := testMongoClient.Ping(ctx, nil); err != nil {
		fmt.Printf("Failed to ping MongoDB: %v\n", err)
		skipMongoTests = true
	}
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	if testing.Short() || skipMongoTests {
		t.Skip("MongoDB not available")
	}
	db := "agentchat_" + t.Name()
	t.Cleanup(func() { _ = testMongoClient.Database(db).Drop(context.Background()) })
	s, err := New(Options{Client: testMongoClient, Database: db})
	require.NoError(t, err)
	return s
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
}

func TestContext_VersionedRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	c := &store.Context{
		ID:      "c1",
		OrgID:   "o1",
		AgentID: "a1",
		Messages: []models.Message{
			models.HumanMessage("hi"),
			models.AIMessage("", models.ToolCall{ID: "t1", Name: "open_memory_window", Args: map[string]interface{}{
				"document_id": "d1",
				"filter":      map[string]interface{}{"depth": 2.0},
			}}),
			models.ToolMessage("t1", "{}"),
		},
		PromptArgs: map[string]string{"name": "Ada"},
	}
	require.NoError(t, s.PutContext(ctx, c))
	assert.Equal(t, int64(1), c.Version)

	got, err := s.GetContext(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, c.Messages, got.Messages)
	assert.Equal(t, "Ada", got.PromptArgs["name"])

	stale := *got
	got.Messages = append(got.Messages, models.AIMessage("done"))
	require.NoError(t, s.PutContext(ctx, got))

	err = s.PutContext(ctx, &stale)
	assert.True(t, errors.Is(err, store.ErrConflict))

	err = s.PutContext(ctx, &store.Context{ID: "c1"})
	assert.True(t, errors.Is(err, store.ErrConflict))
}

func TestRecords_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	agent := &store.Agent{
		ID: "a1", OrgID: "o1", SystemPrompt: "You are {name}",
		ToolIDs:     []string{"open_data_window"},
		Terminating: &models.TerminatingPolicy{ToolIDs: []string{"submit"}, ConsecutiveNudges: 2, MaxInvocations: 5},
	}
	require.NoError(t, s.PutAgent(ctx, agent))
	gotAgent, err := s.GetAgent(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, agent, gotAgent)

	rec := &tools.Record{ID: "r1", OrgID: "o1", Name: "extract", IsAsync: true, Schema: tools.Object("", map[string]*tools.Schema{"name": tools.String("")}, "name")}
	require.NoError(t, s.PutTool(ctx, rec))
	gotRec, err := s.GetTool(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, rec.Schema.JSONSchema(), gotRec.Schema.JSONSchema())
	assert.True(t, gotRec.IsAsync)

	require.NoError(t, s.PutDocument(ctx, &store.Document{ID: "d1", OrgID: "o1", Data: json.RawMessage(`{"a":{"b":1}}`)}))
	doc, err := s.GetDocument(ctx, "d1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":{"b":1}}`, string(doc.Data))

	_, err = s.GetDataWindow(ctx, "missing")
	assert.True(t, errors.Is(err, store.ErrNotFound))
}
