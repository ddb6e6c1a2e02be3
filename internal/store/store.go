// Package store defines the persistence boundary of the conversation
// service: agents, conversation contexts, stored tool records, data windows
// and JSON documents.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/mfateev/agentchat/internal/models"
	"github.com/mfateev/agentchat/internal/tools"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned by PutContext when the stored version moved
	// since the context was read.
	ErrConflict = errors.New("version conflict")
)

// Agent is a stored system prompt plus tool set.
type Agent struct {
	ID             string                    `json:"id" yaml:"id" bson:"_id"`
	OrgID          string                    `json:"org_id" yaml:"org_id" bson:"org_id"`
	Name           string                    `json:"name" yaml:"name" bson:"name"`
	SystemPrompt   string                    `json:"system_prompt" yaml:"system_prompt" bson:"system_prompt"`
	PromptArgNames []string                  `json:"prompt_arg_names,omitempty" yaml:"prompt_arg_names,omitempty" bson:"prompt_arg_names,omitempty"`
	ToolIDs        []string                  `json:"tool_ids,omitempty" yaml:"tool_ids,omitempty" bson:"tool_ids,omitempty"`
	Terminating    *models.TerminatingPolicy `json:"terminating,omitempty" yaml:"terminating,omitempty" bson:"terminating,omitempty"`
	Model          models.ModelConfig        `json:"model" yaml:"model" bson:"model"`

	// EscapeBraces doubles literal braces left in the rendered prompt for
	// providers fronted by a curly-brace template layer.
	EscapeBraces bool `json:"escape_braces,omitempty" yaml:"escape_braces,omitempty" bson:"escape_braces,omitempty"`
}

// Context is a persisted conversation.
type Context struct {
	ID         string            `json:"id"`
	OrgID      string            `json:"org_id"`
	AgentID    string            `json:"agent_id"`
	Messages   []models.Message  `json:"messages"`
	PromptArgs map[string]string `json:"prompt_args,omitempty"`

	// Version is bumped by every successful PutContext. Zero means the
	// context has never been stored.
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DataWindow is a live text resource exposed through open_data_window.
type DataWindow struct {
	ID    string `json:"id" yaml:"id" bson:"_id"`
	OrgID string `json:"org_id" yaml:"org_id" bson:"org_id"`
	Data  string `json:"data" yaml:"data" bson:"data"`
}

// Document is a JSON document exposed through open_memory_window.
type Document struct {
	ID    string          `json:"id" yaml:"id"`
	OrgID string          `json:"org_id" yaml:"org_id"`
	Data  json.RawMessage `json:"data" yaml:"-"`
}

type (
	AgentStore interface {
		GetAgent(ctx context.Context, id string) (*Agent, error)
		PutAgent(ctx context.Context, a *Agent) error
	}

	// ContextStore persists conversations with an optimistic version check:
	// PutContext fails with ErrConflict unless c.Version equals the stored
	// version, and on success sets c.Version to the new version.
	ContextStore interface {
		GetContext(ctx context.Context, id string) (*Context, error)
		PutContext(ctx context.Context, c *Context) error
	}

	ToolStore interface {
		GetTool(ctx context.Context, id string) (*tools.Record, error)
		PutTool(ctx context.Context, r *tools.Record) error
	}

	DataWindowStore interface {
		GetDataWindow(ctx context.Context, id string) (*DataWindow, error)
		PutDataWindow(ctx context.Context, w *DataWindow) error
	}

	DocumentStore interface {
		GetDocument(ctx context.Context, id string) (*Document, error)
		PutDocument(ctx context.Context, d *Document) error
	}

	// Store bundles every record type.
	Store interface {
		AgentStore
		ContextStore
		ToolStore
		DataWindowStore
		DocumentStore
	}
)
