// Package mongo implements store.Store on MongoDB. Each record type lives in
// its own collection keyed by record id.
package mongo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/mfateev/agentchat/internal/models"
	"github.com/mfateev/agentchat/internal/store"
	"github.com/mfateev/agentchat/internal/tools"
)

const (
	defaultTimeout = 5 * time.Second

	agentsCollection   = "agents"
	contextsCollection = "contexts"
	toolsCollection    = "tools"
	windowsCollection  = "data_windows"
	docsCollection     = "documents"
)

// Options configures the Mongo store.
type Options struct {
	Client   *mongodriver.Client
	Database string
	Timeout  time.Duration
}

// Store is a store.Store backed by MongoDB.
type Store struct {
	agents   *mongodriver.Collection
	contexts *mongodriver.Collection
	tools    *mongodriver.Collection
	windows  *mongodriver.Collection
	docs     *mongodriver.Collection
	timeout  time.Duration
}

var _ store.Store = (*Store)(nil)

// New returns a Store using the provided client.
func New(opts Options) (*Store, error) {
	if opts.Client == nil {
		return nil, errors.New("mongo client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("database name is required")
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	db := opts.Client.Database(opts.Database)
	return &Store{
		agents:   db.Collection(agentsCollection),
		contexts: db.Collection(contextsCollection),
		tools:    db.Collection(toolsCollection),
		windows:  db.Collection(windowsCollection),
		docs:     db.Collection(docsCollection),
		timeout:  timeout,
	}, nil
}

// contextDocument is the stored shape of a conversation. Messages are kept
// as a JSON string so tool-call arguments round-trip with their JSON types.
type contextDocument struct {
	ID           string            `bson:"_id"`
	OrgID        string            `bson:"org_id"`
	AgentID      string            `bson:"agent_id"`
	MessagesJSON string            `bson:"messages_json"`
	PromptArgs   map[string]string `bson:"prompt_args,omitempty"`
	Version      int64             `bson:"version"`
	CreatedAt    time.Time         `bson:"created_at"`
	UpdatedAt    time.Time         `bson:"updated_at"`
}

type jsonDocument struct {
	ID       string `bson:"_id"`
	OrgID    string `bson:"org_id"`
	DataJSON string `bson:"data_json"`
}

func (s *Store) GetAgent(ctx context.Context, id string) (*store.Agent, error) {
	var a store.Agent
	if err := s.findByID(ctx, s.agents, id, &a); err != nil {
		return nil, fmt.Errorf("agent %s: %w", id, err)
	}
	return &a, nil
}

func (s *Store) PutAgent(ctx context.Context, a *store.Agent) error {
	return s.upsert(ctx, s.agents, a.ID, a)
}

func (s *Store) GetContext(ctx context.Context, id string) (*store.Context, error) {
	var doc contextDocument
	if err := s.findByID(ctx, s.contexts, id, &doc); err != nil {
		return nil, fmt.Errorf("context %s: %w", id, err)
	}
	var msgs []models.Message
	if doc.MessagesJSON != "" {
		if err := json.Unmarshal([]byte(doc.MessagesJSON), &msgs); err != nil {
			return nil, fmt.Errorf("context %s: decode messages: %w", id, err)
		}
	}
	return &store.Context{
		ID:         doc.ID,
		OrgID:      doc.OrgID,
		AgentID:    doc.AgentID,
		Messages:   msgs,
		PromptArgs: doc.PromptArgs,
		Version:    doc.Version,
		CreatedAt:  doc.CreatedAt,
		UpdatedAt:  doc.UpdatedAt,
	}, nil
}

// PutContext inserts a new context (Version 0) or replaces the stored one
// only when its version still matches.
func (s *Store) PutContext(ctx context.Context, c *store.Context) error {
	msgs, err := json.Marshal(c.Messages)
	if err != nil {
		return fmt.Errorf("context %s: encode messages: %w", c.ID, err)
	}
	now := time.Now().UTC()
	created := c.CreatedAt
	if created.IsZero() {
		created = now
	}
	doc := contextDocument{
		ID:           c.ID,
		OrgID:        c.OrgID,
		AgentID:      c.AgentID,
		MessagesJSON: string(msgs),
		PromptArgs:   c.PromptArgs,
		Version:      c.Version + 1,
		CreatedAt:    created,
		UpdatedAt:    now,
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if c.Version == 0 {
		if _, err := s.contexts.InsertOne(ctx, doc); err != nil {
			if mongodriver.IsDuplicateKeyError(err) {
				return fmt.Errorf("context %s: %w", c.ID, store.ErrConflict)
			}
			return fmt.Errorf("insert context %s: %w", c.ID, err)
		}
	} else {
		res, err := s.contexts.ReplaceOne(ctx, bson.M{"_id": c.ID, "version": c.Version}, doc)
		if err != nil {
			return fmt.Errorf("replace context %s: %w", c.ID, err)
		}
		if res.MatchedCount == 0 {
			return fmt.Errorf("context %s at version %d: %w", c.ID, c.Version, store.ErrConflict)
		}
	}

	c.Version = doc.Version
	c.CreatedAt = created
	c.UpdatedAt = now
	return nil
}

func (s *Store) GetTool(ctx context.Context, id string) (*tools.Record, error) {
	var r tools.Record
	if err := s.findByID(ctx, s.tools, id, &r); err != nil {
		return nil, fmt.Errorf("tool %s: %w", id, err)
	}
	return &r, nil
}

func (s *Store) PutTool(ctx context.Context, r *tools.Record) error {
	return s.upsert(ctx, s.tools, r.ID, r)
}

func (s *Store) GetDataWindow(ctx context.Context, id string) (*store.DataWindow, error) {
	var w store.DataWindow
	if err := s.findByID(ctx, s.windows, id, &w); err != nil {
		return nil, fmt.Errorf("data window %s: %w", id, err)
	}
	return &w, nil
}

func (s *Store) PutDataWindow(ctx context.Context, w *store.DataWindow) error {
	return s.upsert(ctx, s.windows, w.ID, w)
}

func (s *Store) GetDocument(ctx context.Context, id string) (*store.Document, error) {
	var doc jsonDocument
	if err := s.findByID(ctx, s.docs, id, &doc); err != nil {
		return nil, fmt.Errorf("document %s: %w", id, err)
	}
	return &store.Document{ID: doc.ID, OrgID: doc.OrgID, Data: json.RawMessage(doc.DataJSON)}, nil
}

func (s *Store) PutDocument(ctx context.Context, d *store.Document) error {
	if !json.Valid(d.Data) {
		return fmt.Errorf("document %s: data is not valid JSON", d.ID)
	}
	return s.upsert(ctx, s.docs, d.ID, jsonDocument{ID: d.ID, OrgID: d.OrgID, DataJSON: string(d.Data)})
}

func (s *Store) findByID(ctx context.Context, coll *mongodriver.Collection, id string, out interface{}) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	err := coll.FindOne(ctx, bson.M{"_id": id}).Decode(out)
	if errors.Is(err, mongodriver.ErrNoDocuments) {
		return store.ErrNotFound
	}
	return err
}

func (s *Store) upsert(ctx context.Context, coll *mongodriver.Collection, id string, doc interface{}) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	_, err := coll.ReplaceOne(ctx, bson.M{"_id": id}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("upsert %s/%s: %w", coll.Name(), id, err)
	}
	return nil
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, s.timeout)
}
