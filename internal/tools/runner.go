package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/skipperhq/skipper/internal/agent"
	"github.com/skipperhq/skipper/internal/browser"
	"github.com/skipperhq/skipper/internal/observability"
	"github.com/skipperhq/skipper/pkg/models"
)

// Runner executes tool calls against one browser session. A Runner is bound
// to a single agent loop; memory saved by one session is not visible to
// another.
type Runner struct {
	executor browser.Executor
	logger   *observability.Logger
	specs    map[string]spec
	order    []string

	mu     sync.Mutex
	memory []string
}

// NewRunner creates a runner over the given executor.
func NewRunner(executor browser.Executor, logger *observability.Logger) (*Runner, error) {
	specs, err := buildSpecs()
	if err != nil {
		return nil, err
	}
	return &Runner{
		executor: executor,
		logger:   logger,
		specs:    specs,
		order: []string{
			NameGoToURL, NameGetCurrentURL, NameSaveToMemory, NameWait,
			NamePauseExecution, NameComputer, NameBack, NameForward,
		},
	}, nil
}

// Definitions returns the tool manifest in stable order.
func (r *Runner) Definitions() []agent.ToolDefinition {
	defs := make([]agent.ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, r.specs[name].def)
	}
	return defs
}

// Run executes one call. Invalid input, unknown tools, and action failures
// all come back as error-flagged results; the loop decides nothing here.
func (r *Runner) Run(ctx context.Context, call models.ToolCall) agent.ToolOutcome {
	sp, ok := r.specs[call.Name]
	if !ok {
		return r.fail(call, "unknown tool %q", call.Name)
	}

	input := call.Input
	if len(input) == 0 {
		input = json.RawMessage(`{}`)
	}
	var decoded any
	if err := json.Unmarshal(input, &decoded); err != nil {
		return r.fail(call, "arguments are not valid JSON: %v", err)
	}
	if err := sp.validator.Validate(decoded); err != nil {
		return r.fail(call, "invalid arguments for %s: %v", call.Name, err)
	}

	r.logger.Debug("executing tool", "tool", call.Name, "call_id", call.ID)

	switch call.Name {
	case NameGoToURL:
		return r.runGoToURL(ctx, call, input)
	case NameGetCurrentURL:
		return r.textResult(call, r.executor.CurrentURL())
	case NameSaveToMemory:
		return r.runSaveToMemory(call, input)
	case NameWait:
		return r.runWait(ctx, call, input)
	case NamePauseExecution:
		return r.runPause(call, input)
	case NameComputer:
		return r.runComputer(ctx, call, input)
	case NameBack:
		return r.actionResult(call, r.executor.Execute(ctx, browser.Back{}), "went back one page")
	case NameForward:
		return r.actionResult(call, r.executor.Execute(ctx, browser.Forward{}), "went forward one page")
	default:
		return r.fail(call, "unknown tool %q", call.Name)
	}
}

// Memory returns everything saved by save_to_memory, in order.
func (r *Runner) Memory() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.memory))
	copy(out, r.memory)
	return out
}

func (r *Runner) runGoToURL(ctx context.Context, call models.ToolCall, input json.RawMessage) agent.ToolOutcome {
	var p GoToURLParams
	if err := json.Unmarshal(input, &p); err != nil {
		return r.fail(call, "decode go_to_url arguments: %v", err)
	}
	if p.URL == "" {
		return r.fail(call, "url is required")
	}

	out := r.executor.Execute(ctx, browser.Navigate{URL: p.URL})
	if out.OK() && p.WaitTime > 0 {
		// Delay then recapture, so the screenshot reflects the settled page.
		out = r.executor.Execute(ctx, browser.Wait{Duration: time.Duration(p.WaitTime) * time.Millisecond})
	}
	return r.actionResult(call, out, fmt.Sprintf("navigated to %s", p.URL))
}

func (r *Runner) runSaveToMemory(call models.ToolCall, input json.RawMessage) agent.ToolOutcome {
	var p SaveToMemoryParams
	if err := json.Unmarshal(input, &p); err != nil {
		return r.fail(call, "decode save_to_memory arguments: %v", err)
	}
	r.mu.Lock()
	r.memory = append(r.memory, p.Information)
	r.mu.Unlock()
	return r.textResult(call, "successfully saved to memory")
}

func (r *Runner) runWait(ctx context.Context, call models.ToolCall, input json.RawMessage) agent.ToolOutcome {
	var p WaitParams
	if err := json.Unmarshal(input, &p); err != nil {
		return r.fail(call, "decode wait arguments: %v", err)
	}
	if p.Seconds < 0 || p.Seconds > 30 {
		return r.fail(call, "wait time must be between 0 and 30 seconds")
	}

	out := r.executor.Execute(ctx, browser.Wait{Duration: time.Duration(p.Seconds * float64(time.Second))})
	return r.actionResult(call, out, fmt.Sprintf("waited %.1f seconds", p.Seconds))
}

func (r *Runner) runPause(call models.ToolCall, input json.RawMessage) agent.ToolOutcome {
	var p PauseExecutionParams
	if err := json.Unmarshal(input, &p); err != nil {
		return r.fail(call, "decode pause_execution arguments: %v", err)
	}
	content := "Agent paused"
	if p.Reason != "" {
		content = p.Reason
	}
	return agent.ToolOutcome{
		Result:       models.ToolResult{ToolCallID: call.ID, Content: content},
		RequestPause: true,
	}
}

func (r *Runner) runComputer(ctx context.Context, call models.ToolCall, input json.RawMessage) agent.ToolOutcome {
	var p ComputerParams
	if err := json.Unmarshal(input, &p); err != nil {
		return r.fail(call, "decode computer arguments: %v", err)
	}

	action, err := p.toAction()
	if err != nil {
		return r.fail(call, "%v", err)
	}

	out := r.executor.Execute(ctx, action)
	if out.OK() && p.WaitTime > 0 {
		out = r.executor.Execute(ctx, browser.Wait{Duration: time.Duration(p.WaitTime) * time.Millisecond})
	}
	return r.actionResult(call, out, fmt.Sprintf("performed %s", p.Action))
}

// toAction maps the model-facing vocabulary onto the browser action union.
func (p ComputerParams) toAction() (browser.Action, error) {
	point := func() (browser.Point, error) {
		if len(p.Coordinate) != 2 {
			return browser.Point{}, fmt.Errorf("coordinate is required for action %q", p.Action)
		}
		return browser.Point{X: p.Coordinate[0], Y: p.Coordinate[1]}, nil
	}

	switch p.Action {
	case ActionKey:
		if p.Text == "" {
			return nil, fmt.Errorf("text is required for action %q", p.Action)
		}
		return browser.KeyPress{Keys: parseKeyChords(p.Text)}, nil
	case ActionType:
		if p.Text == "" {
			return nil, fmt.Errorf("text is required for action %q", p.Action)
		}
		return browser.TypeText{Text: p.Text}, nil
	case ActionMouseMove:
		pos, err := point()
		if err != nil {
			return nil, err
		}
		return browser.Move{Pos: pos}, nil
	case ActionLeftClick:
		pos, err := point()
		if err != nil {
			return nil, err
		}
		return browser.Click{Pos: pos, Button: browser.ButtonLeft}, nil
	case ActionRightClick:
		pos, err := point()
		if err != nil {
			return nil, err
		}
		return browser.Click{Pos: pos, Button: browser.ButtonRight}, nil
	case ActionMiddleClick:
		pos, err := point()
		if err != nil {
			return nil, err
		}
		return browser.Click{Pos: pos, Button: browser.ButtonMiddle}, nil
	case ActionDoubleClick:
		pos, err := point()
		if err != nil {
			return nil, err
		}
		return browser.DoubleClick{Pos: pos}, nil
	case ActionLeftClickDrag:
		pos, err := point()
		if err != nil {
			return nil, err
		}
		// The model supplies the destination; the drag starts wherever
		// the cursor currently is, so a same-point path degenerates to
		// press-and-release at the target.
		return browser.Drag{Path: []browser.Point{pos, pos}}, nil
	case ActionScroll:
		pos := browser.Point{}
		if len(p.Coordinate) == 2 {
			pos = browser.Point{X: p.Coordinate[0], Y: p.Coordinate[1]}
		}
		return browser.Scroll{Pos: pos, DeltaX: p.ScrollX, DeltaY: p.ScrollY}, nil
	case ActionScreenshot:
		return browser.Screenshot{}, nil
	case ActionCursorPosition:
		return nil, fmt.Errorf("cursor_position is not supported; use screenshots to locate the cursor")
	default:
		return nil, fmt.Errorf("unknown computer action %q", p.Action)
	}
}

// parseKeyChords splits "ctrl+shift+t alt+tab" into Playwright chords,
// translating each segment through the key map.
func parseKeyChords(text string) []string {
	var chords []string
	for _, chord := range strings.Fields(text) {
		segments := strings.Split(chord, "+")
		for i, seg := range segments {
			segments[i] = browser.TranslateKey(seg)
		}
		chords = append(chords, strings.Join(segments, "+"))
	}
	return chords
}

func (r *Runner) actionResult(call models.ToolCall, out browser.Outcome, success string) agent.ToolOutcome {
	if !out.OK() {
		return r.fail(call, "%s", out.Failure)
	}
	return agent.ToolOutcome{
		Result: models.ToolResult{
			ToolCallID: call.ID,
			Content:    fmt.Sprintf("%s (current url: %s)", success, out.URL),
		},
		Artifact: &agent.Artifact{
			Kind:    "screenshot",
			Payload: out.Screenshot,
			URL:     out.URL,
		},
	}
}

func (r *Runner) textResult(call models.ToolCall, content string) agent.ToolOutcome {
	return agent.ToolOutcome{
		Result: models.ToolResult{ToolCallID: call.ID, Content: content},
	}
}

func (r *Runner) fail(call models.ToolCall, format string, args ...any) agent.ToolOutcome {
	msg := fmt.Sprintf(format, args...)
	r.logger.Warn("tool call failed", "tool", call.Name, "call_id", call.ID, "error", msg)
	return agent.ToolOutcome{
		Result: models.ToolResult{ToolCallID: call.ID, Content: msg, IsError: true},
	}
}
