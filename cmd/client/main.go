// CLI client for agentchat conversations.
//
// Sub-commands:
//
//	create  --agent <id> --org <id> [--arg NAME=value ...]   Start a conversation, print its context id
//	send    --context <id> --message "..." [--stream]        Run a turn and print the reply
//	respond --context <id> --call <tool_call_id> --response "..."  Deliver an async tool result
//	status  --context <id>                                   Query the conversation status
//	end     --context <id>                                   Shut the conversation down
//	models                                                   List models available to the configured keys
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"
	"goa.design/clue/log"

	"github.com/mfateev/agentchat/internal/llm"
	"github.com/mfateev/agentchat/internal/models"
	"github.com/mfateev/agentchat/internal/service"
	"github.com/mfateev/agentchat/internal/temporalclient"
	"github.com/mfateev/agentchat/internal/workflow"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	ctx := log.Context(context.Background(), log.WithFormat(log.FormatTerminal))

	switch os.Args[1] {
	case "create":
		cmdCreate(ctx, os.Args[2:])
	case "send":
		cmdSend(ctx, os.Args[2:])
	case "respond":
		cmdRespond(ctx, os.Args[2:])
	case "status":
		cmdStatus(ctx, os.Args[2:])
	case "end":
		cmdEnd(ctx, os.Args[2:])
	case "models":
		cmdModels(ctx)
	default:
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "Usage: client <command> [flags]")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  create   Start a conversation with an agent")
	fmt.Fprintln(os.Stderr, "  send     Send a message and wait for the reply (--stream prints it as it grows)")
	fmt.Fprintln(os.Stderr, "  respond  Deliver the result of an async tool call")
	fmt.Fprintln(os.Stderr, "  status   Show the conversation status")
	fmt.Fprintln(os.Stderr, "  end      Shut the conversation down")
	fmt.Fprintln(os.Stderr, "  models   List available models")
}

// argList collects repeated NAME=value flags.
type argList map[string]string

func (a argList) String() string { return fmt.Sprint(map[string]string(a)) }

func (a argList) Set(v string) error {
	name, value, ok := strings.Cut(v, "=")
	if !ok || name == "" {
		return fmt.Errorf("expected NAME=value, got %q", v)
	}
	a[name] = value
	return nil
}

func dialTemporal(ctx context.Context, s temporalclient.Settings) client.Client {
	opts, err := temporalclient.LoadClientOptions(s)
	if err != nil {
		log.Fatalf(ctx, err, "client error")
	}
	c, err := client.Dial(opts)
	if err != nil {
		log.Fatalf(ctx, err, "failed to create Temporal client")
	}
	return c
}

func settingsFlags(fs *flag.FlagSet) *temporalclient.Settings {
	s := &temporalclient.Settings{}
	fs.StringVar(&s.HostPort, "address", "", "Temporal host:port (default from TEMPORAL_ADDRESS)")
	fs.StringVar(&s.Namespace, "namespace", "", "Temporal namespace")
	fs.StringVar(&s.TaskQueue, "task-queue", "", "task queue (default "+temporalclient.DefaultTaskQueue+")")
	return s
}

func printJSON(ctx context.Context, v interface{}) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		log.Fatalf(ctx, err, "client error")
	}
	fmt.Println(string(data))
}

func cmdCreate(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("create", flag.ExitOnError)
	settings := settingsFlags(fs)
	agentID := fs.String("agent", "", "agent id (required)")
	orgID := fs.String("org", "", "organization id (required)")
	userID := fs.String("user", "", "user id")
	contextID := fs.String("context", "", "context id (default: random)")
	promptArgs := argList{}
	fs.Var(promptArgs, "arg", "prompt argument NAME=value (repeatable)")
	_ = fs.Parse(args)

	if *agentID == "" || *orgID == "" {
		log.Fatalf(ctx, fmt.Errorf("--agent and --org are required"), "invalid arguments")
	}
	if *contextID == "" {
		*contextID = uuid.NewString()
	}

	c := dialTemporal(ctx, *settings)
	defer c.Close()

	run, err := c.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:                       *contextID,
		TaskQueue:                settings.Queue(),
		WorkflowIDConflictPolicy: enumspb.WORKFLOW_ID_CONFLICT_POLICY_USE_EXISTING,
	}, workflow.ConversationWorkflow, workflow.ConversationInput{
		AgentID:    *agentID,
		OrgID:      *orgID,
		UserID:     *userID,
		PromptArgs: promptArgs,
	})
	if err != nil {
		log.Fatalf(ctx, err, "failed to start conversation")
	}
	fmt.Println(run.GetID())
}

func cmdSend(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("send", flag.ExitOnError)
	settings := settingsFlags(fs)
	contextID := fs.String("context", "", "context id (required)")
	message := fs.String("message", "", "message text (empty resumes after async tool responses)")
	userID := fs.String("user", "", "user id")
	timeout := fs.Duration("timeout", 10*time.Minute, "how long to wait for the reply")
	stream := fs.Bool("stream", false, "print the answer while it is generated")
	poll := fs.Duration("poll", 500*time.Millisecond, "progress polling interval with --stream")
	_ = fs.Parse(args)

	if *contextID == "" {
		log.Fatalf(ctx, fmt.Errorf("--context is required"), "invalid arguments")
	}

	c := dialTemporal(ctx, *settings)
	defer c.Close()

	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	stage := client.WorkflowUpdateStageCompleted
	if *stream {
		stage = client.WorkflowUpdateStageAccepted
	}
	handle, err := c.UpdateWorkflow(ctx, client.UpdateWorkflowOptions{
		WorkflowID:   *contextID,
		UpdateName:   workflow.UpdateSendMessage,
		Args:         []interface{}{workflow.SendMessageRequest{Text: *message, UserID: *userID, Stream: *stream}},
		WaitForStage: stage,
	})
	if err != nil {
		log.Fatalf(ctx, err, "failed to send message")
	}

	var reply service.Reply
	if *stream {
		reply, err = followTurn(ctx, c, *contextID, handle, *poll)
	} else {
		err = handle.Get(ctx, &reply)
	}
	if err != nil {
		log.Fatalf(ctx, err, "turn failed")
	}
	if reply.TerminatedBy != "" {
		fmt.Fprintf(os.Stderr, "[terminated by %s after %d tool calls]\n", reply.TerminatedBy, reply.Invocations)
	}
	if !*stream {
		fmt.Println(reply.Content)
	}
	if len(reply.PendingCalls) > 0 {
		fmt.Fprintf(os.Stderr, "[awaiting async tool calls: %s]\n", strings.Join(reply.PendingCalls, ", "))
	}
}

// followTurn prints the answer of an accepted streaming update as it grows
// and returns the reply once the update completes.
func followTurn(ctx context.Context, d describer, contextID string, handle client.WorkflowUpdateHandle, poll time.Duration) (service.Reply, error) {
	type result struct {
		reply service.Reply
		err   error
	}
	done := make(chan result, 1)
	go func() {
		var r result
		r.err = handle.Get(ctx, &r.reply)
		done <- r
	}()

	printer := &progressPrinter{w: os.Stdout}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for {
		select {
		case r := <-done:
			if r.err == nil {
				printer.update(r.reply.Content)
				fmt.Println()
			}
			return r.reply, r.err
		case <-ticker.C:
			content, ok, err := streamProgress(ctx, d, contextID)
			if err != nil {
				log.Warn(ctx, log.KV{K: "msg", V: "progress unavailable"}, log.KV{K: "err", V: err.Error()})
				continue
			}
			if ok {
				printer.update(content)
			}
		}
	}
}

func cmdRespond(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("respond", flag.ExitOnError)
	settings := settingsFlags(fs)
	contextID := fs.String("context", "", "context id (required)")
	callID := fs.String("call", "", "tool call id (required)")
	response := fs.String("response", "", "tool result text")
	_ = fs.Parse(args)

	if *contextID == "" || *callID == "" {
		log.Fatalf(ctx, fmt.Errorf("--context and --call are required"), "invalid arguments")
	}

	c := dialTemporal(ctx, *settings)
	defer c.Close()

	err := c.SignalWorkflow(ctx, *contextID, "", workflow.SignalToolResponse,
		models.AsyncToolResponse{ToolCallID: *callID, Response: *response})
	if err != nil {
		log.Fatalf(ctx, err, "failed to deliver tool response")
	}
	fmt.Println("queued")
}

func cmdStatus(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	settings := settingsFlags(fs)
	contextID := fs.String("context", "", "context id (required)")
	_ = fs.Parse(args)

	c := dialTemporal(ctx, *settings)
	defer c.Close()

	resp, err := c.QueryWorkflow(ctx, *contextID, "", workflow.QueryGetStatus)
	var notFound *serviceerror.NotFound
	if errors.As(err, &notFound) {
		fmt.Fprintf(os.Stderr, "conversation %s is not running\n", *contextID)
		os.Exit(1)
	}
	if err != nil {
		log.Fatalf(ctx, err, "failed to query status")
	}
	var status workflow.Status
	if err := resp.Get(&status); err != nil {
		log.Fatalf(ctx, err, "client error")
	}
	printJSON(ctx, status)
}

func cmdEnd(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("end", flag.ExitOnError)
	settings := settingsFlags(fs)
	contextID := fs.String("context", "", "context id (required)")
	_ = fs.Parse(args)

	c := dialTemporal(ctx, *settings)
	defer c.Close()

	handle, err := c.UpdateWorkflow(ctx, client.UpdateWorkflowOptions{
		WorkflowID:   *contextID,
		UpdateName:   workflow.UpdateShutdown,
		WaitForStage: client.WorkflowUpdateStageCompleted,
	})
	if err != nil {
		log.Fatalf(ctx, err, "failed to shut down")
	}
	var resp workflow.ShutdownResponse
	if err := handle.Get(ctx, &resp); err != nil {
		log.Fatalf(ctx, err, "client error")
	}
	fmt.Printf("conversation ended after %d turns\n", resp.TurnCount)
}

func cmdModels(ctx context.Context) {
	listers := llm.ProviderListers(os.Getenv("OPENAI_API_KEY"), os.Getenv("ANTHROPIC_API_KEY"))
	if len(listers) == 0 {
		fmt.Fprintln(os.Stderr, "no providers configured; set OPENAI_API_KEY or ANTHROPIC_API_KEY")
		os.Exit(1)
	}
	available, failed := llm.ListModels(ctx, listers)
	for provider, err := range failed {
		log.Warn(ctx, log.KV{K: "msg", V: "list models failed"}, log.KV{K: "provider", V: provider}, log.KV{K: "err", V: err.Error()})
	}
	for _, m := range available {
		name := m.ID
		if m.DisplayName != "" {
			name += " (" + m.DisplayName + ")"
		}
		fmt.Printf("%-10s %s\n", m.Provider, name)
	}
}
