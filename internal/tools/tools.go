// Package tools routes parsed function calls to their platform handlers
// and owns the Action lifecycle around each execution: create, mark
// in-progress, submit output to the thread, resolve.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/strandworks/strand/internal/observability"
	"github.com/strandworks/strand/internal/storage"
	"github.com/strandworks/strand/internal/toolcall"
	"github.com/strandworks/strand/pkg/models"
)

// actionExpiry is how long a created Action stays valid before upstream
// policy may expire it.
const actionExpiry = 10 * time.Minute

// Emitter forwards a chunk to the run's live stream.
type Emitter func(*models.StreamChunk)

// Invocation is everything a handler needs to execute one call.
type Invocation struct {
	Run          *models.Run
	Assistant    *models.Assistant
	Action       *models.Action
	Arguments    map[string]any
	VectorStores []models.VectorStore
}

// StringArg returns a string argument, "" when absent or mistyped.
func (inv *Invocation) StringArg(key string) string {
	s, _ := inv.Arguments[key].(string)
	return s
}

// Handler executes one platform tool and returns the aggregated output
// to submit to the thread.
type Handler interface {
	Name() string
	Execute(ctx context.Context, inv *Invocation, emit Emitter) (string, error)
}

// Router dispatches parsed calls to registered platform handlers.
type Router struct {
	store    storage.API
	log      *observability.Logger
	metrics  *observability.Metrics
	handlers map[string]Handler
}

// NewRouter creates an empty router; register handlers before use.
func NewRouter(store storage.API, log *observability.Logger, m *observability.Metrics) *Router {
	return &Router{
		store:    store,
		log:      log,
		metrics:  m,
		handlers: make(map[string]Handler),
	}
}

// Register adds a handler. Later registrations replace earlier ones.
func (r *Router) Register(h Handler) {
	r.handlers[h.Name()] = h
}

// Handles reports whether a handler is registered for the tool.
func (r *Router) Handles(name string) bool {
	_, ok := r.handlers[name]
	return ok
}

// Execute runs one platform tool call end to end: validate arguments,
// create the Action, move the run to action_required, execute, submit
// the output as a tool message, and resolve the Action. The returned
// Action is resolved (completed or failed) in either case.
func (r *Router) Execute(ctx context.Context, run *models.Run, assistant *models.Assistant, stores []models.VectorStore, call *toolcall.Call, emit Emitter) (*models.Action, error) {
	h, ok := r.handlers[call.Name]
	if !ok {
		return nil, fmt.Errorf("no platform handler for tool %q", call.Name)
	}

	valErr := r.validateArgs(assistant, call)

	action, err := r.store.CreateAction(ctx, &models.Action{
		RunID:     run.ID,
		ToolName:  call.Name,
		Arguments: call.Arguments,
		Status:    models.ActionPending,
		ExpiresAt: time.Now().Add(actionExpiry),
	})
	if err != nil {
		return nil, fmt.Errorf("create action for %s: %w", call.Name, err)
	}

	if err := r.store.UpdateRunStatus(ctx, run.ID, models.RunActionRequired); err != nil {
		return action, fmt.Errorf("run %s to action_required: %w", run.ID, err)
	}
	if err := r.store.UpdateActionStatus(ctx, action.ID, models.ActionInProgress); err != nil {
		return action, fmt.Errorf("action %s to in_progress: %w", action.ID, err)
	}

	// Invalid arguments never reach the handler; the diagnostic travels
	// the same recoverable path as an execution failure.
	var output string
	execErr := valErr
	if execErr == nil {
		start := time.Now()
		output, execErr = h.Execute(ctx, &Invocation{
			Run:          run,
			Assistant:    assistant,
			Action:       action,
			Arguments:    call.Arguments,
			VectorStores: stores,
		}, emit)
		if r.metrics != nil {
			r.metrics.ToolExecutionDuration.WithLabelValues(call.Name).Observe(time.Since(start).Seconds())
			status := "success"
			if execErr != nil {
				status = "error"
			}
			r.metrics.ToolExecutionCounter.WithLabelValues(call.Name, status).Inc()
		}
	}

	// A failed tool is recoverable within the run: the error text is
	// submitted as the tool output so the assistant can react on
	// re-entry.
	content := strings.TrimSpace(output)
	if execErr != nil {
		if err := r.store.UpdateActionStatus(ctx, action.ID, models.ActionFailed); err != nil && r.log != nil {
			r.log.Error(ctx, "action status update failed", "action_id", action.ID, "error", err)
		}
		if r.log != nil {
			r.log.Warn(ctx, "tool execution failed", "tool", call.Name, "action_id", action.ID, "error", execErr)
		}
		content = fmt.Sprintf("Error executing %s: %v", call.Name, execErr)
	}

	msg := &models.Message{
		ThreadID:    run.ThreadID,
		Role:        models.RoleTool,
		Content:     content,
		AssistantID: assistant.ID,
		ToolID:      action.ID,
		IsLastChunk: true,
	}
	if err := r.store.AppendMessage(ctx, msg); err != nil {
		_ = r.store.UpdateActionStatus(ctx, action.ID, models.ActionFailed)
		return action, fmt.Errorf("submit %s output: %w", call.Name, err)
	}

	if execErr == nil {
		if err := r.store.UpdateActionStatus(ctx, action.ID, models.ActionCompleted); err != nil {
			return action, fmt.Errorf("action %s to completed: %w", action.ID, err)
		}
	}
	return action, nil
}

// validateArgs checks call arguments against the tool's declared JSON
// schema, when the assistant carries one. Tools without parameters are
// accepted as-is.
func (r *Router) validateArgs(assistant *models.Assistant, call *toolcall.Call) error {
	tool, ok := assistant.ToolByName(call.Name)
	if !ok || len(tool.Function.Parameters) == 0 {
		return nil
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("tool.json", strings.NewReader(string(tool.Function.Parameters))); err != nil {
		return nil // malformed schema never blocks execution
	}
	schema, err := compiler.Compile("tool.json")
	if err != nil {
		return nil
	}

	// Round-trip through JSON so numbers and nested maps take the shapes
	// the validator expects.
	raw, err := json.Marshal(call.Arguments)
	if err != nil {
		return fmt.Errorf("encode arguments: %w", err)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("decode arguments: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	return nil
}
