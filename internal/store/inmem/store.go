// Package inmem implements store.Store in process memory. It backs tests and
// single-node deployments.
package inmem

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/mfateev/agentchat/internal/models"
	"github.com/mfateev/agentchat/internal/store"
	"github.com/mfateev/agentchat/internal/tools"
)

// Store is a mutex-guarded map per record type. Records are copied on the
// way in and out so callers never share memory with the store.
type Store struct {
	mu       sync.RWMutex
	agents   map[string]store.Agent
	contexts map[string]store.Context
	tools    map[string]tools.Record
	windows  map[string]store.DataWindow
	docs     map[string]store.Document

	now func() time.Time
}

// New returns an empty store.
func New() *Store {
	return &Store{
		agents:   make(map[string]store.Agent),
		contexts: make(map[string]store.Context),
		tools:    make(map[string]tools.Record),
		windows:  make(map[string]store.DataWindow),
		docs:     make(map[string]store.Document),
		now:      time.Now,
	}
}

var _ store.Store = (*Store)(nil)

func (s *Store) GetAgent(_ context.Context, id string) (*store.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.agents[id]
	if !ok {
		return nil, fmt.Errorf("agent %s: %w", id, store.ErrNotFound)
	}
	a.ToolIDs = append([]string(nil), a.ToolIDs...)
	a.PromptArgNames = append([]string(nil), a.PromptArgNames...)
	return &a, nil
}

func (s *Store) PutAgent(_ context.Context, a *store.Agent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *a
	cp.ToolIDs = append([]string(nil), a.ToolIDs...)
	cp.PromptArgNames = append([]string(nil), a.PromptArgNames...)
	s.agents[a.ID] = cp
	return nil
}

func (s *Store) GetContext(_ context.Context, id string) (*store.Context, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.contexts[id]
	if !ok {
		return nil, fmt.Errorf("context %s: %w", id, store.ErrNotFound)
	}
	out := copyContext(c)
	return &out, nil
}

func (s *Store) PutContext(_ context.Context, c *store.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stored int64
	if cur, ok := s.contexts[c.ID]; ok {
		stored = cur.Version
	}
	if c.Version != stored {
		return fmt.Errorf("context %s at version %d, stored %d: %w", c.ID, c.Version, stored, store.ErrConflict)
	}

	now := s.now()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	c.Version = stored + 1
	s.contexts[c.ID] = copyContext(*c)
	return nil
}

func (s *Store) GetTool(_ context.Context, id string) (*tools.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.tools[id]
	if !ok {
		return nil, fmt.Errorf("tool %s: %w", id, store.ErrNotFound)
	}
	return &r, nil
}

func (s *Store) PutTool(_ context.Context, r *tools.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tools[r.ID] = *r
	return nil
}

func (s *Store) GetDataWindow(_ context.Context, id string) (*store.DataWindow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.windows[id]
	if !ok {
		return nil, fmt.Errorf("data window %s: %w", id, store.ErrNotFound)
	}
	return &w, nil
}

func (s *Store) PutDataWindow(_ context.Context, w *store.DataWindow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.windows[w.ID] = *w
	return nil
}

func (s *Store) GetDocument(_ context.Context, id string) (*store.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.docs[id]
	if !ok {
		return nil, fmt.Errorf("document %s: %w", id, store.ErrNotFound)
	}
	d.Data = append(json.RawMessage(nil), d.Data...)
	return &d, nil
}

func (s *Store) PutDocument(_ context.Context, d *store.Document) error {
	if !json.Valid(d.Data) {
		return fmt.Errorf("document %s: data is not valid JSON", d.ID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *d
	cp.Data = append(json.RawMessage(nil), d.Data...)
	s.docs[d.ID] = cp
	return nil
}

func copyContext(c store.Context) store.Context {
	c.Messages = models.CloneMessages(c.Messages)
	if c.PromptArgs != nil {
		args := make(map[string]string, len(c.PromptArgs))
		for k, v := range c.PromptArgs {
			args[k] = v
		}
		c.PromptArgs = args
	}
	return c
}
