package agent

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/skipperhq/skipper/internal/control"
	"github.com/skipperhq/skipper/internal/observability"
	"github.com/skipperhq/skipper/pkg/models"
)

// scriptedClient plays back one scripted chunk sequence per round trip.
// The optional perRound hook runs in the streaming goroutine before each
// chunk is delivered, letting tests interleave control commands at exact
// points in the stream.
type scriptedClient struct {
	mu       sync.Mutex
	rounds   [][]*ModelChunk
	round    int
	requests []*ModelRequest
	sendErr  error
	perChunk func(round, chunk int)
}

func (c *scriptedClient) Provider() models.ModelProvider { return models.ProviderAnthropic }

func (c *scriptedClient) Send(ctx context.Context, req *ModelRequest) (<-chan *ModelChunk, error) {
	if c.sendErr != nil {
		return nil, c.sendErr
	}
	c.mu.Lock()
	c.requests = append(c.requests, req)
	if c.round >= len(c.rounds) {
		c.mu.Unlock()
		return nil, errors.New("scripted client exhausted")
	}
	chunks := c.rounds[c.round]
	round := c.round
	c.round++
	c.mu.Unlock()

	out := make(chan *ModelChunk)
	go func() {
		defer close(out)
		for i, chunk := range chunks {
			if c.perChunk != nil {
				c.perChunk(round, i)
			}
			select {
			case out <- chunk:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

type stubRunner struct {
	defs []ToolDefinition
	run  func(ctx context.Context, call models.ToolCall) ToolOutcome
}

func (r *stubRunner) Definitions() []ToolDefinition { return r.defs }

func (r *stubRunner) Run(ctx context.Context, call models.ToolCall) ToolOutcome {
	if r.run != nil {
		return r.run(ctx, call)
	}
	return ToolOutcome{Result: models.ToolResult{ToolCallID: call.ID, Content: "ok"}}
}

func newTestLoop(client ModelClient, runner ToolRunner, cfg Config) (*Loop, *control.Registry) {
	registry := control.NewRegistry()
	loop := NewLoop(client, runner, registry,
		observability.NewNopLogger(),
		observability.NewTestMetrics(),
		observability.NewTracer(),
		cfg)
	return loop, registry
}

// collectEvents drains the channel until close, failing the test if the loop
// does not terminate within the deadline.
func collectEvents(t *testing.T, events <-chan Event, deadline time.Duration) []Event {
	t.Helper()
	timeout := time.After(deadline)
	var out []Event
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatalf("loop did not terminate within %v; events so far: %d", deadline, len(out))
		}
	}
}

func finishOf(t *testing.T, events []Event) FinishInfo {
	t.Helper()
	if len(events) == 0 {
		t.Fatal("no events emitted")
	}
	last := events[len(events)-1]
	if last.Type != EventFinish || last.Finish == nil {
		t.Fatalf("last event = %+v, want finish", last)
	}
	for _, ev := range events[:len(events)-1] {
		if ev.Type == EventFinish {
			t.Fatalf("more than one finish event emitted")
		}
	}
	return *last.Finish
}

func eventTypes(events []Event) []EventType {
	types := make([]EventType, len(events))
	for i, ev := range events {
		types[i] = ev.Type
	}
	return types
}

func TestLoopToolCallThenFinish(t *testing.T) {
	navArgs := `{"url":"https://example.com"}`
	client := &scriptedClient{rounds: [][]*ModelChunk{
		{
			{ToolCallDelta: &ToolCallDelta{Index: 0, ID: "call_1", Name: "go_to_url", Args: `{"url":`}},
			{ToolCallDelta: &ToolCallDelta{Index: 0, Args: `"https://example.com"}`}},
			{ToolCall: &models.ToolCall{ID: "call_1", Name: "go_to_url", Input: json.RawMessage(navArgs)}},
			{Done: true, Usage: &models.Usage{PromptTokens: 10, CompletionTokens: 5}},
		},
		{
			{Text: "I opened "},
			{Text: "the page."},
			{Done: true, Usage: &models.Usage{PromptTokens: 7, CompletionTokens: 3}},
		},
	}}
	runner := &stubRunner{run: func(ctx context.Context, call models.ToolCall) ToolOutcome {
		return ToolOutcome{
			Result:   models.ToolResult{ToolCallID: call.ID, Content: "navigated"},
			Artifact: &Artifact{Kind: "screenshot", Payload: "img", URL: "https://example.com"},
		}
	}}

	loop, registry := newTestLoop(client, runner, Config{})
	conv := NewConversation(10)
	if err := conv.Append(TextItem{Role: models.RoleUser, Content: "open example.com"}); err != nil {
		t.Fatal(err)
	}

	events, err := loop.Run(context.Background(), "sess-1", conv)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	got := collectEvents(t, events, 5*time.Second)

	want := []EventType{
		EventToolCallDelta, EventToolCallDelta, EventToolCall,
		EventToolResult,
		EventTextDelta, EventTextDelta,
		EventFinish,
	}
	types := eventTypes(got)
	if len(types) != len(want) {
		t.Fatalf("event types = %v, want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("event %d = %v, want %v (full: %v)", i, types[i], want[i], types)
		}
	}

	fin := finishOf(t, got)
	if fin.Reason != models.FinishReasonStop {
		t.Errorf("finish reason = %q, want stop", fin.Reason)
	}
	if fin.Usage.PromptTokens != 17 || fin.Usage.CompletionTokens != 8 {
		t.Errorf("usage = %+v, want aggregated 17/8", fin.Usage)
	}

	// Announce precedes result for the same call id.
	var announceIdx, resultIdx int
	for i, ev := range got {
		if ev.Type == EventToolCall && ev.Call.ID == "call_1" {
			announceIdx = i
		}
		if ev.Type == EventToolResult && ev.Result.ToolCallID == "call_1" {
			resultIdx = i
		}
	}
	if announceIdx >= resultIdx {
		t.Errorf("tool call announced at %d after its result at %d", announceIdx, resultIdx)
	}

	// Conversation recorded the full round trip in order.
	kinds := make([]string, 0, conv.Len())
	for _, item := range conv.Items() {
		kinds = append(kinds, itemKind(item))
	}
	wantKinds := []string{"text", "tool_call", "tool_result", "text"}
	if len(kinds) != len(wantKinds) {
		t.Fatalf("conversation kinds = %v, want %v", kinds, wantKinds)
	}
	for i := range wantKinds {
		if kinds[i] != wantKinds[i] {
			t.Fatalf("conversation kinds = %v, want %v", kinds, wantKinds)
		}
	}

	if registry.Active("sess-1") {
		t.Error("session still registered after loop terminated")
	}
}

func TestLoopRejectsDuplicateSession(t *testing.T) {
	client := &scriptedClient{rounds: [][]*ModelChunk{{{Text: "x"}, {Done: true}}}}
	loop, registry := newTestLoop(client, nil, Config{})

	if _, err := registry.Register("busy"); err != nil {
		t.Fatal(err)
	}
	_, err := loop.Run(context.Background(), "busy", NewConversation(1))
	if !errors.Is(err, control.ErrSessionActive) {
		t.Fatalf("err = %v, want ErrSessionActive", err)
	}
}

func TestLoopModelSendError(t *testing.T) {
	client := &scriptedClient{sendErr: errors.New("invalid api key")}
	loop, _ := newTestLoop(client, nil, Config{})

	events, err := loop.Run(context.Background(), "sess-err", NewConversation(1))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	got := collectEvents(t, events, 5*time.Second)

	if got[0].Type != EventError || got[0].Err == nil {
		t.Fatalf("first event = %+v, want error", got[0])
	}
	if fin := finishOf(t, got); fin.Reason != models.FinishReasonError {
		t.Errorf("finish reason = %q, want error", fin.Reason)
	}
}

func TestLoopMidStreamError(t *testing.T) {
	client := &scriptedClient{rounds: [][]*ModelChunk{
		{
			{Text: "partial "},
			{Err: errors.New("upstream reset")},
		},
	}}
	loop, _ := newTestLoop(client, nil, Config{})

	events, err := loop.Run(context.Background(), "sess-mid", NewConversation(1))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	got := collectEvents(t, events, 5*time.Second)

	types := eventTypes(got)
	want := []EventType{EventTextDelta, EventError, EventFinish}
	if len(types) != len(want) {
		t.Fatalf("event types = %v, want %v", types, want)
	}
	if fin := finishOf(t, got); fin.Reason != models.FinishReasonError {
		t.Errorf("finish reason = %q, want error", fin.Reason)
	}
}

func TestLoopStepBudget(t *testing.T) {
	// Every round requests another action; the loop must stop at the
	// budget with a normal max-steps finish.
	round := []*ModelChunk{
		{ToolCall: &models.ToolCall{ID: "call_a", Name: "computer", Input: json.RawMessage(`{"action":"screenshot"}`)}},
		{Done: true},
	}
	client := &scriptedClient{rounds: [][]*ModelChunk{round, round, round, round}}
	loop, _ := newTestLoop(client, &stubRunner{}, Config{MaxSteps: 3})

	events, err := loop.Run(context.Background(), "sess-budget", NewConversation(1))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	got := collectEvents(t, events, 5*time.Second)

	results := 0
	for _, ev := range got {
		if ev.Type == EventToolResult {
			results++
		}
	}
	if results != 3 {
		t.Errorf("executed %d actions, want 3", results)
	}
	if fin := finishOf(t, got); fin.Reason != models.FinishReasonMaxSteps {
		t.Errorf("finish reason = %q, want max-steps", fin.Reason)
	}
}

func TestLoopCancelDiscardsInFlightResult(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	client := &scriptedClient{rounds: [][]*ModelChunk{
		{
			{ToolCall: &models.ToolCall{ID: "call_1", Name: "go_to_url", Input: json.RawMessage(`{"url":"x"}`)}},
			{Done: true},
		},
	}}
	runner := &stubRunner{run: func(_ context.Context, call models.ToolCall) ToolOutcome {
		// Disconnect lands while the action is in flight. The action
		// completes, but the loop must discard its result.
		cancel()
		return ToolOutcome{Result: models.ToolResult{ToolCallID: call.ID, Content: "navigated"}}
	}}

	loop, _ := newTestLoop(client, runner, Config{})
	conv := NewConversation(1)

	events, err := loop.Run(ctx, "sess-cancel", conv)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	got := collectEvents(t, events, 5*time.Second)

	for _, ev := range got {
		if ev.Type == EventToolResult {
			t.Error("result emitted after cancellation was observed")
		}
	}
	if fin := finishOf(t, got); fin.Reason != models.FinishReasonCancelled {
		t.Errorf("finish reason = %q, want cancelled", fin.Reason)
	}
	for _, item := range conv.Items() {
		if _, ok := item.(ToolResultItem); ok {
			t.Error("discarded result was appended to the conversation")
		}
	}
}

func TestLoopPauseDefersCommentary(t *testing.T) {
	registry := control.NewRegistry()
	const sessionID = "sess-pause"

	client := &scriptedClient{rounds: [][]*ModelChunk{
		{
			{Reasoning: "Next Goal: open the login page"},
			{Reasoning: "Memory: on the home page"}, // paused before this one
			{ToolCall: &models.ToolCall{ID: "call_1", Name: "computer", Input: json.RawMessage(`{"action":"screenshot"}`)}},
			{Done: true},
		},
		{
			{Text: "Logged in."},
			{Done: true},
		},
	}}
	// Pause lands between the first and second commentary chunk. The
	// scripted channel is unbuffered, so the command is queued before the
	// loop can receive the next chunk.
	client.perChunk = func(round, chunk int) {
		if round == 0 && chunk == 1 {
			if err := registry.SendCommand(sessionID, control.CommandPause); err != nil {
				t.Errorf("pause: %v", err)
			}
		}
	}

	loop := NewLoop(client, &stubRunner{}, registry,
		observability.NewNopLogger(),
		observability.NewTestMetrics(),
		observability.NewTracer(),
		Config{CommandPoll: 10 * time.Millisecond})

	events, err := loop.Run(context.Background(), sessionID, NewConversation(1))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	timeout := time.After(5 * time.Second)
	var got []Event
	for {
		var ev Event
		var ok bool
		select {
		case ev, ok = <-events:
		case <-timeout:
			t.Fatalf("loop did not terminate; events: %v", eventTypes(got))
		}
		if !ok {
			break
		}
		got = append(got, ev)
		// Resume once the paused loop has executed the pending action.
		if ev.Type == EventToolResult {
			if err := registry.SendCommand(sessionID, control.CommandResume); err != nil {
				t.Fatalf("resume: %v", err)
			}
		}
	}

	var commentary []string
	var secondCommentaryIdx, resultIdx int
	for i, ev := range got {
		switch ev.Type {
		case EventCommentary:
			commentary = append(commentary, ev.Text)
			if len(commentary) == 2 {
				secondCommentaryIdx = i
			}
		case EventToolResult:
			resultIdx = i
		}
	}

	if len(commentary) != 2 {
		t.Fatalf("commentary events = %d, want 2 (none dropped): %v", len(commentary), eventTypes(got))
	}
	if commentary[0] != "Next Goal: open the login page" || commentary[1] != "Memory: on the home page" {
		t.Errorf("commentary out of order: %q", commentary)
	}
	// The deferred commentary is withheld through the pause and released
	// only after resume, i.e. after the action that ran while paused.
	if secondCommentaryIdx < resultIdx {
		t.Errorf("deferred commentary at %d leaked before resume (result at %d)", secondCommentaryIdx, resultIdx)
	}
	if fin := finishOf(t, got); fin.Reason != models.FinishReasonStop {
		t.Errorf("finish reason = %q, want stop", fin.Reason)
	}
}

func TestLoopSafetyPauseThenCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := &scriptedClient{rounds: [][]*ModelChunk{
		{
			{ToolCall: &models.ToolCall{ID: "call_1", Name: "request_review", Input: json.RawMessage(`{}`)}},
			{Done: true},
		},
	}}
	runner := &stubRunner{run: func(_ context.Context, call models.ToolCall) ToolOutcome {
		return ToolOutcome{
			Result:       models.ToolResult{ToolCallID: call.ID, Content: "awaiting human review"},
			RequestPause: true,
		}
	}}

	loop, registry := newTestLoop(client, runner, Config{CommandPoll: 10 * time.Millisecond})

	events, err := loop.Run(ctx, "sess-review", NewConversation(1))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	// Wait until the loop is actually paused at the step boundary.
	deadline := time.Now().Add(2 * time.Second)
	for !registry.IsPaused("sess-review") {
		if time.Now().After(deadline) {
			t.Fatal("loop never reported paused after safety pause")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// Cancellation must be observed within the bounded poll interval,
	// not block on the command queue.
	cancel()
	start := time.Now()
	got := collectEvents(t, events, time.Second)
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("paused loop took %v to observe cancellation", elapsed)
	}

	if fin := finishOf(t, got); fin.Reason != models.FinishReasonCancelled {
		t.Errorf("finish reason = %q, want cancelled", fin.Reason)
	}
}

func TestLoopResumeUnblocksSafetyPause(t *testing.T) {
	client := &scriptedClient{rounds: [][]*ModelChunk{
		{
			{ToolCall: &models.ToolCall{ID: "call_1", Name: "request_review", Input: json.RawMessage(`{}`)}},
			{Done: true},
		},
		{
			{Text: "Continuing."},
			{Done: true},
		},
	}}
	runner := &stubRunner{run: func(_ context.Context, call models.ToolCall) ToolOutcome {
		return ToolOutcome{
			Result:       models.ToolResult{ToolCallID: call.ID, Content: "paused for review"},
			RequestPause: true,
		}
	}}

	loop, registry := newTestLoop(client, runner, Config{CommandPoll: 10 * time.Millisecond})

	events, err := loop.Run(context.Background(), "sess-resume", NewConversation(1))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for !registry.IsPaused("sess-resume") {
		if time.Now().After(deadline) {
			t.Fatal("loop never paused")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if err := registry.SendCommand("sess-resume", control.CommandResume); err != nil {
		t.Fatalf("resume: %v", err)
	}

	got := collectEvents(t, events, 5*time.Second)
	if fin := finishOf(t, got); fin.Reason != models.FinishReasonStop {
		t.Errorf("finish reason = %q, want stop", fin.Reason)
	}
	sawText := false
	for _, ev := range got {
		if ev.Type == EventTextDelta && ev.Text == "Continuing." {
			sawText = true
		}
	}
	if !sawText {
		t.Error("second round never ran after resume")
	}
}

func TestLoopWithoutRunnerReportsToolError(t *testing.T) {
	client := &scriptedClient{rounds: [][]*ModelChunk{
		{
			{ToolCall: &models.ToolCall{ID: "call_1", Name: "computer", Input: json.RawMessage(`{}`)}},
			{Done: true},
		},
		{
			{Text: "understood"},
			{Done: true},
		},
	}}
	loop, _ := newTestLoop(client, nil, Config{})

	events, err := loop.Run(context.Background(), "sess-norunner", NewConversation(1))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	got := collectEvents(t, events, 5*time.Second)

	found := false
	for _, ev := range got {
		if ev.Type == EventToolResult {
			found = true
			if !ev.Result.IsError {
				t.Error("tool result without a runner must be error-flagged")
			}
		}
	}
	if !found {
		t.Error("no tool result emitted")
	}
}

func TestLoopForwardsModelParameters(t *testing.T) {
	client := &scriptedClient{rounds: [][]*ModelChunk{
		{
			{Text: "hello"},
			{Done: true},
		},
	}}
	loop, _ := newTestLoop(client, nil, Config{
		Model: models.ModelConfig{
			Provider:    models.ProviderAnthropic,
			Model:       "claude-3-7-sonnet-latest",
			MaxTokens:   2048,
			Temperature: 0.5,
			TopP:        0.9,
		},
	})

	events, err := loop.Run(context.Background(), "sess-params", NewConversation(1))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	collectEvents(t, events, 5*time.Second)

	if len(client.requests) != 1 {
		t.Fatalf("requests = %d, want 1", len(client.requests))
	}
	req := client.requests[0]
	if req.Model != "claude-3-7-sonnet-latest" {
		t.Errorf("Model = %q, want request's model choice", req.Model)
	}
	if req.MaxTokens != 2048 {
		t.Errorf("MaxTokens = %d, want 2048", req.MaxTokens)
	}
	if req.Temperature != 0.5 || req.TopP != 0.9 {
		t.Errorf("Temperature/TopP = %v/%v, want 0.5/0.9", req.Temperature, req.TopP)
	}
}
