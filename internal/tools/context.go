package tools

import (
	"encoding/json"
	"sync"
)

// TurnContext is the per-turn scratch object handed to tools with
// PassContext and to the window refresher. It is created at the start of
// RunTurn and discarded at its end.
//
// The document cache maps a document id to its already-fetched JSON payload
// and is valid for the lifetime of one turn only.
type TurnContext struct {
	ContextID string
	OrgID     string

	// Vars are the conversation-scoped prompt arguments.
	Vars map[string]string

	mu        sync.Mutex
	documents map[string]json.RawMessage
}

// NewTurnContext creates a scratch context for one turn.
func NewTurnContext(contextID, orgID string, vars map[string]string) *TurnContext {
	return &TurnContext{
		ContextID: contextID,
		OrgID:     orgID,
		Vars:      vars,
		documents: make(map[string]json.RawMessage),
	}
}

// Document returns a cached document.
func (c *TurnContext) Document(id string) (json.RawMessage, bool) {
	if c == nil {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	doc, ok := c.documents[id]
	return doc, ok
}

// CacheDocument stores a fetched document for the rest of the turn.
func (c *TurnContext) CacheDocument(id string, doc json.RawMessage) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.documents[id] = doc
}

// Var returns a prompt argument.
func (c *TurnContext) Var(name string) (string, bool) {
	if c == nil {
		return "", false
	}
	v, ok := c.Vars[name]
	return v, ok
}
