package main

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	commonpb "go.temporal.io/api/common/v1"
	workflowpb "go.temporal.io/api/workflow/v1"
	"go.temporal.io/api/workflowservice/v1"
	"go.temporal.io/sdk/converter"

	"github.com/mfateev/agentchat/internal/activities"
)

type fakeDescriber struct {
	resp *workflowservice.DescribeWorkflowExecutionResponse
	err  error
}

func (f fakeDescriber) DescribeWorkflowExecution(context.Context, string, string) (*workflowservice.DescribeWorkflowExecutionResponse, error) {
	return f.resp, f.err
}

func pendingActivity(t *testing.T, name string, details interface{}) *workflowpb.PendingActivityInfo {
	t.Helper()
	pa := &workflowpb.PendingActivityInfo{ActivityType: &commonpb.ActivityType{Name: name}}
	if details != nil {
		payloads, err := converter.GetDefaultDataConverter().ToPayloads(details)
		require.NoError(t, err)
		pa.HeartbeatDetails = payloads
	}
	return pa
}

func TestStreamProgress(t *testing.T) {
	ctx := context.Background()

	d := fakeDescriber{resp: &workflowservice.DescribeWorkflowExecutionResponse{
		PendingActivities: []*workflowpb.PendingActivityInfo{
			pendingActivity(t, activities.EnqueueToolResponseActivity, nil),
			pendingActivity(t, activities.StreamMessageActivity, activities.StreamProgress{Content: "Hel"}),
		},
	}}
	content, ok, err := streamProgress(ctx, d, "conv-1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "Hel", content)

	d.resp.PendingActivities = []*workflowpb.PendingActivityInfo{pendingActivity(t, activities.StreamMessageActivity, nil)}
	content, ok, err = streamProgress(ctx, d, "conv-1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, content)

	d.resp.PendingActivities = nil
	_, ok, err = streamProgress(ctx, d, "conv-1")
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, err = streamProgress(ctx, fakeDescriber{err: errors.New("unavailable")}, "conv-1")
	assert.Error(t, err)
}

func TestProgressPrinter(t *testing.T) {
	var out strings.Builder
	p := &progressPrinter{w: &out}

	p.update("")
	p.update("Hel")
	p.update("Hel")
	p.update("Hello")
	assert.Equal(t, "Hello", out.String())

	p.update("Hi")
	assert.Equal(t, "Hello\n[turn restarted]\nHi", out.String())
}
