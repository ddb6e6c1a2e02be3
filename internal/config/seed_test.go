package config

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mfateev/agentchat/internal/store/inmem"
	"github.com/mfateev/agentchat/internal/tools"
)

const seedYAML = `
agents:
  - id: extractor
    org_id: acme
    system_prompt: Extract the invoice for COMPANY.
    prompt_arg_names: [COMPANY]
    tool_ids: [rec-invoice]
    terminating:
      tool_ids: [rec-invoice]
      consecutive_nudges: 2
      nudge_message: Call submit_invoice.
      max_invocations: 5
    model:
      provider: anthropic
      model: claude-sonnet-4-5
tools:
  - id: rec-invoice
    org_id: acme
    name: submit_invoice
    description: Submit the extracted invoice.
    schema:
      type: object
      properties:
        total:
          type: number
        currency:
          type: enum
          enum: [USD, EUR]
      required: [total]
  - id: rec-approval
    org_id: acme
    name: request_approval
    is_async: true
    schema:
      type: object
data_windows:
  - id: w-orders
    org_id: acme
    data: "order 1: shipped"
documents:
  - id: d-profile
    org_id: acme
    data:
      customer:
        name: Ada
        tier: gold
`

func TestSeedApply(t *testing.T) {
	ctx := context.Background()
	seed, err := LoadSeed(writeFile(t, "seed.yaml", seedYAML))
	require.NoError(t, err)

	st := inmem.New()
	require.NoError(t, seed.Apply(ctx, st))

	agent, err := st.GetAgent(ctx, "extractor")
	require.NoError(t, err)
	assert.Equal(t, []string{"COMPANY"}, agent.PromptArgNames)
	require.NotNil(t, agent.Terminating)
	assert.Equal(t, 5, agent.Terminating.MaxInvocations)
	assert.Equal(t, "anthropic", agent.Model.Provider)

	rec, err := st.GetTool(ctx, "rec-invoice")
	require.NoError(t, err)
	assert.Equal(t, tools.KindObject, rec.Schema.Type)
	assert.Equal(t, []string{"USD", "EUR"}, rec.Schema.Properties["currency"].Enum)
	assert.False(t, rec.IsAsync)

	approval, err := st.GetTool(ctx, "rec-approval")
	require.NoError(t, err)
	assert.True(t, approval.IsAsync)
	assert.True(t, approval.Tool().IsAsync)

	w, err := st.GetDataWindow(ctx, "w-orders")
	require.NoError(t, err)
	assert.Equal(t, "order 1: shipped", w.Data)

	doc, err := st.GetDocument(ctx, "d-profile")
	require.NoError(t, err)
	assert.JSONEq(t, `{"customer":{"name":"Ada","tier":"gold"}}`, string(doc.Data))
}

func TestSeedApply_RejectsBadToolBeforeWriting(t *testing.T) {
	ctx := context.Background()
	seed, err := LoadSeed(writeFile(t, "seed.yaml", `
agents:
  - id: a1
    org_id: acme
tools:
  - id: rec-bad
    org_id: acme
    name: bad
    schema:
      type: array
`))
	require.NoError(t, err)

	st := inmem.New()
	assert.Error(t, seed.Apply(ctx, st))
	_, err = st.GetAgent(ctx, "a1")
	assert.Error(t, err)
}
