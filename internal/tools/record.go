package tools

import (
	"context"
	"encoding/json"
	"fmt"
)

// Record is a persisted structured-extraction tool: the model fills in the
// schema and the validated arguments are returned as the tool result.
//
// An async record hands the extraction off to an external system. Its
// immediate result is a pending acknowledgment carrying the tool_call_id,
// and the real result arrives later as an async tool response.
type Record struct {
	ID          string  `json:"id" yaml:"id" bson:"_id"`
	OrgID       string  `json:"org_id" yaml:"org_id" bson:"org_id"`
	Name        string  `json:"name" yaml:"name" bson:"name"`
	Description string  `json:"description" yaml:"description" bson:"description"`
	Schema      *Schema `json:"schema" yaml:"schema" bson:"schema"`
	IsAsync     bool    `json:"is_async,omitempty" yaml:"is_async,omitempty" bson:"is_async,omitempty"`
}

// PendingAck is the provisional result of an async record call.
type PendingAck struct {
	Status     string                 `json:"status"`
	ToolCallID string                 `json:"tool_call_id"`
	Arguments  map[string]interface{} `json:"arguments"`
}

// Tool builds the dispatchable tool for the record. The record id doubles
// as the ToolID so records can be named in terminating policies.
func (rec Record) Tool() *Tool {
	return &Tool{
		Name:        rec.Name,
		Description: rec.Description,
		Schema:      rec.Schema,
		ToolID:      rec.ID,
		IsAsync:     rec.IsAsync,
		Handler: func(_ context.Context, inv Invocation) (string, error) {
			var out interface{} = inv.Args
			if rec.IsAsync {
				out = pendingAck(inv.Args)
			}
			b, err := json.Marshal(out)
			if err != nil {
				return "", fmt.Errorf("encode extraction: %w", err)
			}
			return string(b), nil
		},
	}
}

func pendingAck(args map[string]interface{}) PendingAck {
	ack := PendingAck{Status: "pending", Arguments: make(map[string]interface{}, len(args))}
	for k, v := range args {
		if k == AsyncCallIDArg {
			ack.ToolCallID, _ = v.(string)
			continue
		}
		ack.Arguments[k] = v
	}
	return ack
}
