package models

// ConversationState is the working state of one running turn. The counters
// are scoped to a single RunTurn call and start at zero for every new turn;
// they are never persisted with the conversation.
type ConversationState struct {
	Messages              []Message `json:"messages"`
	InvocationCount       int       `json:"invocation_count"`
	ConsecutiveNudgeCount int       `json:"consecutive_nudge_count"`
}

// AsyncToolResponse is an out-of-band result for a previously invoked async
// tool, delivered by an external trigger such as a webhook or a human approval.
type AsyncToolResponse struct {
	ToolCallID string `json:"tool_call_id"`
	Response   string `json:"response"`
}
