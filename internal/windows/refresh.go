package windows

import (
	"context"

	"github.com/mfateev/agentchat/internal/models"
	"github.com/mfateev/agentchat/internal/tools"
)

// Refresher rewrites the responses of earlier window-opening tool calls
// with fresh content. It only ever changes the Content of existing tool
// messages; message count, roles and order are left untouched.
type Refresher struct {
	fetcher *Fetcher
}

// NewRefresher creates a refresher.
func NewRefresher(f *Fetcher) *Refresher {
	return &Refresher{fetcher: f}
}

type openWindow struct {
	index int
	name  string
	args  map[string]interface{}
}

// Refresh updates msgs in place and returns the number of refreshed
// windows. msgs must be a working copy; the refreshed content is meant for
// the next model call only and is never persisted.
func (r *Refresher) Refresh(ctx context.Context, msgs []models.Message, turn *tools.TurnContext) int {
	byCall := make(map[string]openWindow)
	var order []string

	for i, m := range msgs {
		if !m.HasToolCalls() {
			continue
		}
		for _, tc := range m.ToolCalls {
			if tc.Name != OpenDataWindow && tc.Name != OpenMemoryWindow {
				continue
			}
			if _, dup := byCall[tc.ID]; dup {
				continue
			}
			idx := responseIndex(msgs, i+1, tc.ID)
			if idx < 0 {
				continue
			}
			byCall[tc.ID] = openWindow{index: idx, name: tc.Name, args: tc.Args}
			order = append(order, tc.ID)
		}
	}

	for _, id := range order {
		w := byCall[id]
		msgs[w.index].Content = r.fetcher.Content(ctx, w.name, w.args, turn)
	}
	return len(order)
}

func responseIndex(msgs []models.Message, from int, callID string) int {
	for j := from; j < len(msgs); j++ {
		if msgs[j].Role == models.RoleTool && msgs[j].ToolCallID == callID {
			return j
		}
	}
	return -1
}
