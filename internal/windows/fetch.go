// Package windows implements data and memory windows: tool calls whose
// responses are re-read from their source before every model call so the
// model always sees live data.
package windows

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/mfateev/agentchat/internal/store"
	"github.com/mfateev/agentchat/internal/tools"
)

// Window-opening tool names.
const (
	OpenDataWindow   = "open_data_window"
	OpenMemoryWindow = "open_memory_window"
)

// Argument keys of the window tools.
const (
	ArgDataWindowID = "data_window_id"
	ArgDocumentID   = "document_id"
	ArgPath         = "path"
)

// Fetcher renders window contents. Its methods never fail: every problem
// becomes the returned text so the model can see it.
type Fetcher struct {
	windows store.DataWindowStore
	docs    store.DocumentStore
}

// NewFetcher creates a fetcher over the given stores.
func NewFetcher(windows store.DataWindowStore, docs store.DocumentStore) *Fetcher {
	return &Fetcher{windows: windows, docs: docs}
}

// Content dispatches on the window tool name.
func (f *Fetcher) Content(ctx context.Context, name string, args map[string]interface{}, turn *tools.TurnContext) string {
	switch name {
	case OpenDataWindow:
		return f.DataWindowContent(ctx, args, turn)
	case OpenMemoryWindow:
		return f.MemoryWindowContent(ctx, args, turn)
	default:
		return fmt.Sprintf("Error: %s is not a window tool", name)
	}
}

// DataWindowContent returns the full payload of a data window.
func (f *Fetcher) DataWindowContent(ctx context.Context, args map[string]interface{}, turn *tools.TurnContext) string {
	id, ok := stringArg(args, ArgDataWindowID)
	if !ok {
		return fmt.Sprintf("Error: %s is required", ArgDataWindowID)
	}
	w, err := f.windows.GetDataWindow(ctx, id)
	if err == nil && !sameOrg(turn, w.OrgID) {
		err = store.ErrNotFound
	}
	if err != nil {
		return fmt.Sprintf("Error loading data window %s: %v", id, describe(err))
	}
	return w.Data
}

// MemoryWindowContent returns a JSON document, or the value at its dotted
// path when a path argument is given. Documents are cached on the turn
// context so repeated windows over one document cost a single fetch.
func (f *Fetcher) MemoryWindowContent(ctx context.Context, args map[string]interface{}, turn *tools.TurnContext) string {
	id, ok := stringArg(args, ArgDocumentID)
	if !ok {
		return fmt.Sprintf("Error: %s is required", ArgDocumentID)
	}

	doc, err := f.document(ctx, id, turn)
	if err != nil {
		return fmt.Sprintf("Error loading document %s: %v", id, describe(err))
	}

	path, _ := stringArg(args, ArgPath)
	if path == "" {
		return string(doc)
	}
	value, err := Resolve(doc, path)
	if err != nil {
		return fmt.Sprintf("Path %q is no longer available in document %s", path, id)
	}
	return value
}

func (f *Fetcher) document(ctx context.Context, id string, turn *tools.TurnContext) (json.RawMessage, error) {
	if doc, ok := turn.Document(id); ok {
		return doc, nil
	}
	d, err := f.docs.GetDocument(ctx, id)
	if err != nil {
		return nil, err
	}
	if !sameOrg(turn, d.OrgID) {
		return nil, store.ErrNotFound
	}
	turn.CacheDocument(id, d.Data)
	return d.Data, nil
}

// ErrPathNotFound is returned by Resolve when a path segment is missing.
var ErrPathNotFound = errors.New("path not found")

// Resolve returns the JSON text of the value at a dotted path. Numeric
// segments index arrays.
func Resolve(doc []byte, dotted string) (string, error) {
	res := gjson.GetBytes(doc, escapePath(dotted))
	if !res.Exists() {
		return "", fmt.Errorf("%s: %w", dotted, ErrPathNotFound)
	}
	return res.Raw, nil
}

// escapePath neutralizes gjson's query syntax so each dotted segment is a
// literal key.
func escapePath(dotted string) string {
	var b strings.Builder
	for _, r := range dotted {
		switch r {
		case '*', '?', '#', '|', '@', '!', '=', '<', '>', '%', '\\', '(', ')', '[', ']', '{', '}', ',', ':', '"':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

func stringArg(args map[string]interface{}, key string) (string, bool) {
	v, ok := args[key].(string)
	return v, ok && v != ""
}

func sameOrg(turn *tools.TurnContext, owner string) bool {
	return turn == nil || turn.OrgID == "" || owner == "" || turn.OrgID == owner
}

func describe(err error) string {
	if errors.Is(err, store.ErrNotFound) {
		return "not found"
	}
	return err.Error()
}
