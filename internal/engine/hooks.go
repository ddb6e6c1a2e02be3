package engine

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"goa.design/clue/log"

	"github.com/mfateev/agentchat/internal/models"
	"github.com/mfateev/agentchat/internal/tools"
)

// ObservabilityHooks logs every tool dispatch and counts dispatches per
// tool and outcome. meter defaults to the global meter provider.
func ObservabilityHooks(meter metric.Meter) Hooks {
	if meter == nil {
		meter = otel.Meter("github.com/mfateev/agentchat/internal/engine")
	}
	calls, err := meter.Int64Counter("agentchat.tool.calls",
		metric.WithDescription("Tool dispatches by tool and outcome"))
	if err != nil {
		otel.Handle(err)
	}
	return Hooks{
		BeforeToolCall: func(ctx context.Context, call models.ToolCall) {
			log.Debug(ctx, log.KV{K: "msg", V: "tool call started"},
				log.KV{K: "tool", V: call.Name}, log.KV{K: "tool_call_id", V: call.ID})
		},
		AfterToolCall: func(ctx context.Context, call models.ToolCall, res tools.Result) {
			outcome := Outcome(res)
			if calls != nil {
				calls.Add(ctx, 1, metric.WithAttributes(
					attribute.String("tool", call.Name), attribute.String("outcome", outcome)))
			}
			log.Debug(ctx, log.KV{K: "msg", V: "tool call finished"},
				log.KV{K: "tool", V: call.Name}, log.KV{K: "tool_call_id", V: call.ID},
				log.KV{K: "outcome", V: outcome})
		},
	}
}

// Outcome classifies a dispatch result for logs and metrics.
func Outcome(res tools.Result) string {
	switch {
	case res.Tool == nil:
		return "unknown_tool"
	case res.Err != nil && tools.IsTransientError(res.Err):
		return "transient_error"
	case res.Err != nil:
		return "error"
	case res.Tool.IsAsync:
		return "pending"
	default:
		return "ok"
	}
}
