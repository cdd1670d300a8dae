// Package orchestrator drives a run end to end: build context, stream
// from the provider through the demultiplexer, parse tool calls, execute
// or delegate them, and re-enter until the model produces a final reply.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/strandworks/strand/internal/contextbuilder"
	"github.com/strandworks/strand/internal/mirror"
	"github.com/strandworks/strand/internal/observability"
	"github.com/strandworks/strand/internal/providers"
	"github.com/strandworks/strand/internal/storage"
	"github.com/strandworks/strand/internal/stream"
	"github.com/strandworks/strand/internal/toolcall"
	"github.com/strandworks/strand/internal/tools"
	"github.com/strandworks/strand/pkg/models"
)

// maxToolIterations bounds tool-call re-entry; a model stuck calling
// tools forever fails the run instead of looping.
const maxToolIterations = 8

// cancelledMessage is the error chunk text clients receive on cancel.
const cancelledMessage = "Run cancelled"

// reminderMessage nudges the assistant on re-entry after tool output.
const reminderMessage = "The tool output above is available. Present it to the user " +
	"according to your instructions; do not call the same tool again for this request."

// Request identifies one conversation turn to process.
type Request struct {
	RunID       string
	ThreadID    string
	AssistantID string

	// Model overrides the assistant's model when set.
	Model string

	// APIKey is a request-scoped provider key; empty uses the
	// configured default.
	APIKey string

	StreamReasoning bool
	Truncate        bool
}

// Orchestrator owns the per-run stream lifecycle.
type Orchestrator struct {
	store   storage.API
	arbiter *providers.Arbiter
	builder *contextbuilder.Builder
	router  *tools.Router
	mirror  *mirror.Mirror
	monitor *Monitor
	log     *observability.Logger
	metrics *observability.Metrics
	tracer  *observability.Tracer

	// gateInterval is the consumer-gate poll period; 1 s default,
	// floored at 500 ms.
	gateInterval time.Duration
}

// New wires an orchestrator from its collaborators.
func New(store storage.API, arbiter *providers.Arbiter, builder *contextbuilder.Builder,
	router *tools.Router, m *mirror.Mirror, monitor *Monitor,
	log *observability.Logger, metrics *observability.Metrics, tracer *observability.Tracer) *Orchestrator {
	return &Orchestrator{
		store:        store,
		arbiter:      arbiter,
		builder:      builder,
		router:       router,
		mirror:       m,
		monitor:      monitor,
		log:          log,
		metrics:      metrics,
		tracer:       tracer,
		gateInterval: time.Second,
	}
}

// Mirror exposes the chunk egress for the HTTP layer.
func (o *Orchestrator) Mirror() *mirror.Mirror { return o.mirror }

// Arbiter exposes model routing so the HTTP layer can reject unroutable
// models before streaming starts.
func (o *Orchestrator) Arbiter() *providers.Arbiter { return o.arbiter }

// ProcessConversation runs the full stream → parse → tool → re-enter
// loop for one run. It returns once the run reaches a terminal state.
func (o *Orchestrator) ProcessConversation(ctx context.Context, req *Request) error {
	ctx, span := o.span(ctx, "process_conversation")
	defer span()
	ctx = observability.WithRun(ctx, req.RunID, req.ThreadID)

	run, err := o.store.GetRun(ctx, req.RunID)
	if err != nil {
		return fmt.Errorf("load run %s: %w", req.RunID, err)
	}

	if o.metrics != nil {
		o.metrics.ActiveRuns.Inc()
		defer o.metrics.ActiveRuns.Dec()
	}

	if err := o.transition(ctx, run, models.RunInProgress); err != nil {
		return err
	}

	cancelFlag, release := o.monitor.Start(ctx, run.ID)
	defer release()

	emit := func(c *models.StreamChunk) { o.mirror.Publish(ctx, run.ID, c) }

	for iteration := 0; iteration < maxToolIterations; iteration++ {
		result, err := o.streamOnce(ctx, req, run, cancelFlag, iteration > 0, emit)
		if err != nil {
			return o.fail(ctx, run, emit, runErr(PhaseStream, run.ID, err))
		}
		if result.cancelled {
			return o.cancel(ctx, run, emit)
		}

		call, ok := toolcall.Parse(result.accumulated)
		if !ok {
			// Text withheld as a suspected function call turned out to be
			// prose; release it so the reply is finalized as-is.
			if w := result.withheld; w != "" {
				emit(models.ContentChunk(w))
				if err := o.persistReply(ctx, req, run, w); err != nil {
					return o.fail(ctx, run, emit, runErr(PhaseStream, run.ID, err))
				}
			}
			return o.complete(ctx, run)
		}

		// The internal frame travels to the egress, which drops it; the
		// filter lives in exactly one place.
		emit(&models.StreamChunk{Type: models.ChunkFunctionCall, Name: call.Name, Arguments: call.Arguments})

		if o.router.Handles(call.Name) {
			if _, err := o.router.Execute(ctx, run, result.assistant, result.vectorStores, call, emit); err != nil {
				return o.fail(ctx, run, emit, runErr(PhaseTools, run.ID, err))
			}
		} else {
			cancelled, err := o.consumerGate(ctx, run, call, cancelFlag)
			if err != nil {
				return o.fail(ctx, run, emit, runErr(PhaseGate, run.ID, err))
			}
			if cancelled {
				return o.cancel(ctx, run, emit)
			}
		}

		if err := o.transition(ctx, run, models.RunInProgress); err != nil {
			return err
		}
	}

	return o.fail(ctx, run, emit, runErr(PhaseLoop, run.ID, ErrMaxIterations))
}

// streamResult is the outcome of one provider stream.
type streamResult struct {
	accumulated  string
	withheld     string
	assistant    *models.Assistant
	vectorStores []models.VectorStore
	cancelled    bool
}

// streamOnce performs one provider stream: context assembly, token
// demultiplexing, chunk emission, and reply persistence.
func (o *Orchestrator) streamOnce(ctx context.Context, req *Request, run *models.Run,
	cancelFlag *atomic.Bool, reentry bool, emit tools.Emitter) (*streamResult, error) {

	ctx, span := o.span(ctx, "stream_once")
	defer span()

	cc, err := o.builder.Build(ctx, req.AssistantID, req.ThreadID, req.Truncate)
	if err != nil {
		return nil, err
	}
	if reentry {
		cc.Messages = append(cc.Messages, providers.ChatMessage{
			Role:    models.RoleSystem,
			Content: reminderMessage,
		})
	}
	if cancelFlag.Load() {
		return &streamResult{cancelled: true, assistant: cc.Assistant}, nil
	}

	model := req.Model
	if model == "" {
		model = cc.Assistant.Model
	}
	route, err := o.arbiter.Resolve(model)
	if err != nil {
		return nil, err
	}
	client, err := o.arbiter.ClientFor(route, req.APIKey)
	if err != nil {
		return nil, err
	}

	emit(models.StatusChunk(models.StatusStarted, run.ID))

	// A cancelled run abandons the provider stream; the derived context
	// lets the reader goroutine exit instead of blocking on sends.
	streamCtx, stopStream := context.WithCancel(ctx)
	defer stopStream()

	start := time.Now()
	deltas, err := client.Stream(streamCtx, &providers.StreamRequest{
		Model:    route.APIModel,
		Messages: cc.Messages,
	})
	if err != nil {
		o.observeProvider(route, start, "error")
		return nil, err
	}

	demux := stream.New(req.StreamReasoning)
	cancelled := false
	var streamErr error

	for delta := range deltas {
		if cancelFlag.Load() {
			cancelled = true
			break
		}
		if delta.Err != nil {
			streamErr = delta.Err
			break
		}
		for _, c := range demux.ReasoningDelta(delta.Reasoning) {
			emit(c)
		}
		for _, c := range demux.Step(delta.Content) {
			emit(c)
		}
	}
	if !cancelled && streamErr == nil {
		for _, c := range demux.Finish() {
			emit(c)
		}
	}

	if streamErr != nil {
		o.observeProvider(route, start, "error")
		// Whatever the user already saw survives a transport failure.
		if reply := demux.Reply(); reply != "" {
			if perr := o.persistReply(ctx, req, run, reply); perr != nil && o.log != nil {
				o.log.Error(ctx, "partial reply persistence failed", "run_id", run.ID, "error", perr)
			}
		}
		return nil, streamErr
	}
	o.observeProvider(route, start, "success")

	if !cancelled {
		emit(models.StatusChunk(models.StatusComplete, run.ID))
	}

	// Partial text survives a cancellation; everything emitted so far is
	// what the user saw.
	if reply := demux.Reply(); reply != "" {
		if err := o.persistReply(ctx, req, run, reply); err != nil {
			return nil, err
		}
	}

	return &streamResult{
		accumulated:  demux.Accumulated(),
		withheld:     demux.Withheld(),
		assistant:    cc.Assistant,
		vectorStores: cc.VectorStores,
		cancelled:    cancelled,
	}, nil
}

// consumerGate blocks until an external fulfiller resolves the pending
// action, observed through the run status leaving action_required.
// Returns true when the wait ended because the run was cancelled.
func (o *Orchestrator) consumerGate(ctx context.Context, run *models.Run,
	call *toolcall.Call, cancelFlag *atomic.Bool) (bool, error) {

	if _, err := o.store.CreateAction(ctx, &models.Action{
		RunID:     run.ID,
		ToolName:  call.Name,
		Arguments: call.Arguments,
		Status:    models.ActionPending,
	}); err != nil {
		return false, fmt.Errorf("create action for %s: %w", call.Name, err)
	}
	if err := o.transition(ctx, run, models.RunActionRequired); err != nil {
		return false, err
	}

	interval := o.gateInterval
	if interval < 500*time.Millisecond {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-ticker.C:
		}
		if cancelFlag.Load() {
			return true, nil
		}
		current, err := o.store.GetRun(ctx, run.ID)
		if err != nil {
			continue
		}
		if current.Status.CancelRequested() {
			return true, nil
		}
		if current.Status != models.RunActionRequired {
			run.Status = current.Status
			return false, nil
		}
	}
}

// persistReply appends the final assistant message for one stream.
func (o *Orchestrator) persistReply(ctx context.Context, req *Request, run *models.Run, reply string) error {
	msg := &models.Message{
		ID:          uuid.NewString(),
		ThreadID:    run.ThreadID,
		Role:        models.RoleAssistant,
		Content:     reply,
		AssistantID: req.AssistantID,
		IsLastChunk: true,
	}
	if err := o.store.AppendAssistantChunk(ctx, msg); err != nil {
		return fmt.Errorf("persist assistant reply: %w", err)
	}
	return nil
}

// transition moves the run forward when the state machine allows it.
// Re-applying the current status is a no-op, which keeps transitions
// idempotent under concurrent observers.
func (o *Orchestrator) transition(ctx context.Context, run *models.Run, next models.RunStatus) error {
	if run.Status == next {
		return nil
	}
	if !run.CanTransition(next) {
		return fmt.Errorf("run %s: illegal transition %s -> %s", run.ID, run.Status, next)
	}
	if err := o.store.UpdateRunStatus(ctx, run.ID, next); err != nil {
		return fmt.Errorf("run %s to %s: %w", run.ID, next, err)
	}
	run.Status = next
	return nil
}

func (o *Orchestrator) complete(ctx context.Context, run *models.Run) error {
	if err := o.transition(ctx, run, models.RunCompleted); err != nil {
		return err
	}
	o.outcome(models.RunCompleted)
	return nil
}

func (o *Orchestrator) cancel(ctx context.Context, run *models.Run, emit tools.Emitter) error {
	emit(models.ErrorChunk(cancelledMessage))
	if run.Status != models.RunCancelled {
		if err := o.store.UpdateRunStatus(ctx, run.ID, models.RunCancelled); err != nil && o.log != nil {
			o.log.Error(ctx, "cancel status update failed", "run_id", run.ID, "error", err)
		}
		run.Status = models.RunCancelled
	}
	o.outcome(models.RunCancelled)
	return nil
}

// fail emits a user-safe error chunk and moves the run to failed. The
// underlying error is returned for the caller's logs; secrets never
// reach the chunk.
func (o *Orchestrator) fail(ctx context.Context, run *models.Run, emit tools.Emitter, cause error) error {
	emit(models.ErrorChunk(userSafeError(cause)))
	if !run.Status.Terminal() {
		if err := o.store.UpdateRunStatus(ctx, run.ID, models.RunFailed); err != nil && o.log != nil {
			o.log.Error(ctx, "fail status update failed", "run_id", run.ID, "error", err)
		}
		run.Status = models.RunFailed
	}
	o.outcome(models.RunFailed)
	if o.log != nil {
		o.log.Error(ctx, "run failed", "run_id", run.ID, "error", cause)
	}
	return cause
}

// userSafeError picks the text clients may see. Configuration and
// routing errors carry curated messages; anything else is generic.
func userSafeError(err error) string {
	var cfgErr *providers.ConfigError
	if errors.As(err, &cfgErr) {
		return cfgErr.Error()
	}
	var routeErr *providers.RouteError
	if errors.As(err, &routeErr) {
		return routeErr.Error()
	}
	return "The request could not be completed. Please try again."
}

func (o *Orchestrator) outcome(status models.RunStatus) {
	if o.metrics != nil {
		o.metrics.RunOutcomes.WithLabelValues(string(status)).Inc()
	}
}

func (o *Orchestrator) observeProvider(route providers.Route, start time.Time, status string) {
	if o.metrics == nil {
		return
	}
	o.metrics.ProviderRequestDuration.WithLabelValues(route.Provider, route.APIModel).
		Observe(time.Since(start).Seconds())
	o.metrics.ProviderRequestCounter.WithLabelValues(route.Provider, route.APIModel, status).Inc()
}

func (o *Orchestrator) span(ctx context.Context, name string) (context.Context, func()) {
	if o.tracer == nil {
		return ctx, func() {}
	}
	ctx, sp := o.tracer.Start(ctx, name)
	return ctx, func() { sp.End() }
}
