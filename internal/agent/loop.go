package agent

import (
	"context"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/skipperhq/skipper/internal/control"
	"github.com/skipperhq/skipper/internal/observability"
	"github.com/skipperhq/skipper/pkg/models"
)

// State is the loop's current position in its lifecycle.
type State string

const (
	StateRunning         State = "running"
	StateAwaitingModel   State = "awaiting_model"
	StateExecutingAction State = "executing_action"
	StatePaused          State = "paused"
	StateCancelled       State = "cancelled"
	StateFinished        State = "finished"
)

// Config configures loop behavior.
type Config struct {
	// AgentType labels metrics and logs with the agent variant.
	AgentType string

	// Model carries the validated per-request model parameters. Every
	// round trip forwards them to the provider verbatim.
	Model models.ModelConfig

	// MaxSteps bounds model round trips. Hitting it is normal
	// termination, not an error. Default: 30.
	MaxSteps int

	// WaitBetweenSteps is the delay before each browser action.
	WaitBetweenSteps time.Duration

	// CommandPoll is the bounded wait used while paused, so the loop
	// keeps re-checking cancellation between queue polls. Default: 250ms.
	CommandPoll time.Duration
}

// DefaultConfig returns the default loop configuration.
func DefaultConfig() Config {
	return Config{
		MaxSteps:    30,
		CommandPoll: 250 * time.Millisecond,
	}
}

func sanitizeConfig(cfg Config) Config {
	defaults := DefaultConfig()
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = defaults.MaxSteps
	}
	if cfg.CommandPoll <= 0 {
		cfg.CommandPoll = defaults.CommandPoll
	}
	if cfg.WaitBetweenSteps < 0 {
		cfg.WaitBetweenSteps = 0
	}
	return cfg
}

const eventBufferSize = 64

// Loop drives the ask-model / execute-actions cycle for one chat turn and
// emits the internal event stream the re-encoder serializes.
//
// The loop owns its Conversation and registry entry exclusively. The only
// external influences are context cancellation (client disconnect) and the
// session command queue (pause/resume), both observed at fixed checkpoints:
// the top of each step, after the model call, and around each action.
type Loop struct {
	client   ModelClient
	runner   ToolRunner
	registry *control.Registry
	logger   *observability.Logger
	metrics  *observability.Metrics
	tracer   *observability.Tracer
	config   Config
}

// NewLoop creates a loop. registry, logger, metrics, and tracer are required;
// runner may be nil for tool-less agents.
func NewLoop(client ModelClient, runner ToolRunner, registry *control.Registry, logger *observability.Logger, metrics *observability.Metrics, tracer *observability.Tracer, cfg Config) *Loop {
	return &Loop{
		client:   client,
		runner:   runner,
		registry: registry,
		logger:   logger,
		metrics:  metrics,
		tracer:   tracer,
		config:   sanitizeConfig(cfg),
	}
}

// Run registers the session and starts the loop. It fails synchronously if
// the session id already has a live loop. The returned channel is closed
// when the loop terminates; the last event before close is always an
// EventFinish or an EventError followed by EventFinish.
func (l *Loop) Run(ctx context.Context, sessionID string, conv *Conversation) (<-chan Event, error) {
	session, err := l.registry.Register(sessionID)
	if err != nil {
		return nil, err
	}

	events := make(chan Event, eventBufferSize)
	go l.run(ctx, session, conv, events)
	return events, nil
}

type runState struct {
	session  *control.Session
	conv     *Conversation
	events   chan<- Event
	usage    models.Usage
	deferred []Event
	state    State
}

func (l *Loop) run(ctx context.Context, session *control.Session, conv *Conversation, events chan<- Event) {
	logger := l.logger.With("session_id", session.ID(), "agent_type", l.config.AgentType)
	l.metrics.ActiveSessions.Inc()

	rs := &runState{session: session, conv: conv, events: events, state: StateRunning}

	defer func() {
		l.metrics.ActiveSessions.Dec()
		l.registry.Unregister(session.ID())
		close(events)
	}()

	for step := 1; step <= l.config.MaxSteps; step++ {
		rs.state = StateRunning
		session.Drain()
		l.flushDeferred(ctx, rs)

		if ctx.Err() != nil {
			l.finish(ctx, rs, models.FinishReasonCancelled)
			return
		}

		if session.Paused() {
			if !l.awaitResume(ctx, rs) {
				l.finish(ctx, rs, models.FinishReasonCancelled)
				return
			}
		}

		logger.Debug("loop step", "step", step, "items", conv.Len())

		calls, ok := l.modelStep(ctx, rs, logger)
		if !ok {
			return
		}

		// Cancellation observed after the model call: the round trip
		// ran to completion but its output is discarded, not appended.
		if ctx.Err() != nil {
			l.finish(ctx, rs, models.FinishReasonCancelled)
			return
		}

		l.metrics.LoopSteps.WithLabelValues(l.config.AgentType).Inc()

		if len(calls) == 0 {
			// Terminal assistant message with no further action.
			l.finish(ctx, rs, models.FinishReasonStop)
			return
		}

		rs.state = StateExecutingAction
		for _, call := range calls {
			session.Drain()
			l.flushDeferred(ctx, rs)
			if ctx.Err() != nil {
				l.finish(ctx, rs, models.FinishReasonCancelled)
				return
			}
			if !l.executeCall(ctx, rs, logger, call) {
				return
			}
		}
	}

	logger.Info("step budget exhausted", "max_steps", l.config.MaxSteps)
	l.finish(ctx, rs, models.FinishReasonMaxSteps)
}

// modelStep performs one model round trip: streams chunks out as events,
// accumulates deltas, and appends the finalized items to the conversation.
// It returns the tool calls requested and whether the loop should continue.
func (l *Loop) modelStep(ctx context.Context, rs *runState, logger *observability.Logger) ([]models.ToolCall, bool) {
	rs.state = StateAwaitingModel

	req := &ModelRequest{
		Model:       l.config.Model.Model,
		MaxTokens:   l.config.Model.MaxTokens,
		Temperature: l.config.Model.Temperature,
		TopP:        l.config.Model.TopP,
		Items:       rs.conv.Items(),
	}
	if l.runner != nil {
		req.Tools = l.runner.Definitions()
	}

	provider := string(l.client.Provider())
	spanCtx, span := l.tracer.StartSpan(ctx, "agent.model_call",
		attribute.String("provider", provider),
		attribute.Int("conversation_items", rs.conv.Len()),
	)
	start := time.Now()

	chunks, err := l.client.Send(spanCtx, req)
	if err != nil {
		observability.EndSpan(span, err)
		logger.Error("model call failed", "error", err.Error())
		l.emit(ctx, rs, Event{Type: EventError, Err: err})
		l.finish(ctx, rs, models.FinishReasonError)
		return nil, false
	}

	var (
		text      strings.Builder
		reasoning []string
		calls     []models.ToolCall
		streamErr error
	)

	// Consumer-gone while forwarding a chunk: record the cancelled finish
	// (non-blocking) and stop the run.
	deliver := func(ev Event) bool {
		if l.emit(ctx, rs, ev) {
			return true
		}
		observability.EndSpan(span, ctx.Err())
		l.finish(ctx, rs, models.FinishReasonCancelled)
		return false
	}

	for chunk := range chunks {
		// Apply queued pause/resume before each chunk so a pause takes
		// effect mid-generation, not at the next step boundary.
		rs.session.Drain()

		if chunk.Err != nil {
			streamErr = chunk.Err
			break
		}
		switch {
		case chunk.Text != "":
			text.WriteString(chunk.Text)
			if !deliver(Event{Type: EventTextDelta, Text: chunk.Text}) {
				return nil, false
			}
		case chunk.Reasoning != "":
			reasoning = append(reasoning, chunk.Reasoning)
			if !deliver(Event{Type: EventCommentary, Text: chunk.Reasoning}) {
				return nil, false
			}
			if !deliver(Event{Type: EventBreak}) {
				return nil, false
			}
		case chunk.ToolCallDelta != nil:
			if !deliver(Event{Type: EventToolCallDelta, Delta: chunk.ToolCallDelta}) {
				return nil, false
			}
		case chunk.ToolCall != nil:
			calls = append(calls, *chunk.ToolCall)
			if !deliver(Event{Type: EventToolCall, Call: chunk.ToolCall}) {
				return nil, false
			}
		case chunk.Done:
			if chunk.Usage != nil {
				rs.usage.Add(*chunk.Usage)
				l.metrics.ModelTokensUsed.WithLabelValues(provider, "prompt").Add(float64(chunk.Usage.PromptTokens))
				l.metrics.ModelTokensUsed.WithLabelValues(provider, "completion").Add(float64(chunk.Usage.CompletionTokens))
			}
		}
	}

	l.metrics.ModelRequestDuration.WithLabelValues(provider, req.Model).Observe(time.Since(start).Seconds())
	observability.EndSpan(span, streamErr)

	if streamErr != nil {
		logger.Error("model stream failed", "error", streamErr.Error())
		l.emit(ctx, rs, Event{Type: EventError, Err: streamErr})
		l.finish(ctx, rs, models.FinishReasonError)
		return nil, false
	}

	// Finalize: fold the accumulated deltas into conversation items, the
	// same shapes a batch provider would have returned.
	if ctx.Err() == nil {
		for _, r := range reasoning {
			_ = rs.conv.Append(ReasoningItem{Text: r})
		}
		if text.Len() > 0 {
			_ = rs.conv.Append(TextItem{Role: models.RoleAssistant, Content: text.String()})
		}
		for _, call := range calls {
			_ = rs.conv.Append(ToolCallItem{Call: call})
		}
	}

	return calls, true
}

// executeCall announces, runs, and records one tool call. The announcement
// event was already emitted while streaming; here the outcome is appended
// and emitted, keeping announce-before-result ordering per call id.
func (l *Loop) executeCall(ctx context.Context, rs *runState, logger *observability.Logger, call models.ToolCall) bool {
	if l.config.WaitBetweenSteps > 0 {
		select {
		case <-ctx.Done():
			l.finish(ctx, rs, models.FinishReasonCancelled)
			return false
		case <-time.After(l.config.WaitBetweenSteps):
		}
	}

	spanCtx, span := l.tracer.StartSpan(ctx, "agent.tool_call",
		attribute.String("tool", call.Name),
		attribute.String("call_id", call.ID),
	)

	var outcome ToolOutcome
	if l.runner == nil {
		outcome = ToolOutcome{Result: models.ToolResult{
			ToolCallID: call.ID,
			Content:    "no tool runner configured",
			IsError:    true,
		}}
	} else {
		outcome = l.runner.Run(spanCtx, call)
	}
	observability.EndSpan(span, nil)

	status := "ok"
	if outcome.Result.IsError {
		status = "error"
	}
	l.metrics.ActionCounter.WithLabelValues(call.Name, status).Inc()

	// An in-flight action runs to completion, but once cancellation has
	// been observed its result is discarded rather than appended.
	if ctx.Err() != nil {
		l.finish(ctx, rs, models.FinishReasonCancelled)
		return false
	}

	if err := rs.conv.Append(ToolResultItem{Result: outcome.Result, Artifact: outcome.Artifact}); err != nil {
		logger.Error("failed to append tool result", "error", err.Error(), "call_id", call.ID)
	}

	if !l.emit(ctx, rs, Event{Type: EventToolResult, Result: &outcome.Result}) {
		l.finish(ctx, rs, models.FinishReasonCancelled)
		return false
	}

	if outcome.RequestPause {
		logger.Info("tool requested safety pause", "call_id", call.ID, "tool", call.Name)
		rs.session.Pause()
		rs.state = StatePaused
	}

	return true
}

// awaitResume blocks (in bounded increments) until a resume command arrives
// or the context is cancelled. Returns false on cancellation.
func (l *Loop) awaitResume(ctx context.Context, rs *runState) bool {
	rs.state = StatePaused
	for rs.session.Paused() {
		if ctx.Err() != nil {
			return false
		}
		// Bounded poll so cancellation is re-checked sub-second.
		rs.session.Poll(l.config.CommandPoll)
	}
	rs.state = StateRunning
	l.flushDeferred(ctx, rs)
	return true
}

// emit delivers an event, deferring commentary while paused. Returns false
// if the consumer is gone (context cancelled with a full buffer).
func (l *Loop) emit(ctx context.Context, rs *runState, ev Event) bool {
	if ev.Type == EventCommentary && rs.session.Paused() {
		rs.deferred = append(rs.deferred, ev)
		return true
	}
	// Withheld commentary goes out ahead of anything newer.
	l.flushDeferred(ctx, rs)
	select {
	case rs.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// flushDeferred releases withheld commentary, in original order, once the
// session is no longer paused.
func (l *Loop) flushDeferred(ctx context.Context, rs *runState) {
	if rs.session.Paused() || len(rs.deferred) == 0 {
		return
	}
	pending := rs.deferred
	rs.deferred = nil
	for _, ev := range pending {
		select {
		case rs.events <- ev:
		case <-ctx.Done():
			return
		}
	}
}

func (l *Loop) finish(ctx context.Context, rs *runState, reason models.FinishReason) {
	rs.state = StateFinished
	if reason != models.FinishReasonCancelled {
		// Cancellation usually means the consumer is gone; for every
		// other exit, release whatever commentary is still deferred so
		// the transcript the client saw is complete.
		l.flushDeferred(ctx, rs)
	}
	l.metrics.LoopFinishes.WithLabelValues(string(reason)).Inc()
	ev := Event{Type: EventFinish, Finish: &FinishInfo{Reason: reason, Usage: rs.usage}}
	select {
	case rs.events <- ev:
	default:
		// Buffered channel full and consumer gone; drop rather than block.
	}
}
