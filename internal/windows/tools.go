package windows

import (
	"context"

	"github.com/mfateev/agentchat/internal/tools"
)

// DataWindowTool opens a data window. Its response is refreshed before
// every later model call.
func (f *Fetcher) DataWindowTool() *tools.Tool {
	return &tools.Tool{
		Name:        OpenDataWindow,
		ToolID:      OpenDataWindow,
		Description: "Open a live view of a data window. The content stays current for the rest of the conversation.",
		Schema: tools.Object("", map[string]*tools.Schema{
			ArgDataWindowID: tools.String("Identifier of the data window to open"),
		}, ArgDataWindowID),
		PassContext: true,
		Handler: func(ctx context.Context, inv tools.Invocation) (string, error) {
			return f.DataWindowContent(ctx, inv.Args, inv.Context), nil
		},
	}
}

// MemoryWindowTool opens a view over a JSON document, optionally narrowed
// to a dotted path.
func (f *Fetcher) MemoryWindowTool() *tools.Tool {
	return &tools.Tool{
		Name:        OpenMemoryWindow,
		ToolID:      OpenMemoryWindow,
		Description: "Open a live view of a JSON memory document, or of the value at a dotted path inside it.",
		Schema: tools.Object("", map[string]*tools.Schema{
			ArgDocumentID: tools.String("Identifier of the JSON document"),
			ArgPath:       tools.String("Optional dotted path, e.g. customer.addresses.0"),
		}, ArgDocumentID),
		PassContext: true,
		Handler: func(ctx context.Context, inv tools.Invocation) (string, error) {
			return f.MemoryWindowContent(ctx, inv.Args, inv.Context), nil
		},
	}
}
