package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"go.temporal.io/api/workflowservice/v1"
	"go.temporal.io/sdk/converter"

	"github.com/mfateev/agentchat/internal/activities"
)

// describer is the part of client.Client used to follow a streaming turn.
type describer interface {
	DescribeWorkflowExecution(ctx context.Context, workflowID, runID string) (*workflowservice.DescribeWorkflowExecutionResponse, error)
}

// streamProgress returns the answer received so far by the conversation's
// pending streaming turn. ok is false when no streaming turn is running.
func streamProgress(ctx context.Context, d describer, workflowID string) (content string, ok bool, err error) {
	resp, err := d.DescribeWorkflowExecution(ctx, workflowID, "")
	if err != nil {
		return "", false, err
	}
	for _, pa := range resp.GetPendingActivities() {
		if pa.GetActivityType().GetName() != activities.StreamMessageActivity {
			continue
		}
		details := pa.GetHeartbeatDetails()
		if len(details.GetPayloads()) == 0 {
			return "", true, nil
		}
		var p activities.StreamProgress
		if err := converter.GetDefaultDataConverter().FromPayloads(details, &p); err != nil {
			return "", true, fmt.Errorf("decode stream progress: %w", err)
		}
		return p.Content, true, nil
	}
	return "", false, nil
}

// progressPrinter writes the unseen tail of a growing answer. An answer
// that no longer extends what was shown (a retried turn) starts over on a
// new line.
type progressPrinter struct {
	w     io.Writer
	shown string
}

func (p *progressPrinter) update(content string) {
	if !strings.HasPrefix(content, p.shown) {
		fmt.Fprintln(p.w, "\n[turn restarted]")
		p.shown = ""
	}
	if len(content) > len(p.shown) {
		fmt.Fprint(p.w, content[len(p.shown):])
		p.shown = content
	}
}
