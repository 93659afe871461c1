package tools

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/skipperhq/skipper/internal/browser"
	"github.com/skipperhq/skipper/internal/observability"
	"github.com/skipperhq/skipper/pkg/models"
)

// fakeExecutor records actions and plays back canned outcomes.
type fakeExecutor struct {
	actions []browser.Action
	outcome browser.Outcome
	url     string
}

func (f *fakeExecutor) Execute(_ context.Context, action browser.Action) browser.Outcome {
	f.actions = append(f.actions, action)
	return f.outcome
}

func (f *fakeExecutor) CurrentURL() string { return f.url }
func (f *fakeExecutor) Close() error       { return nil }

func newTestRunner(t *testing.T, exec *fakeExecutor) *Runner {
	t.Helper()
	r, err := NewRunner(exec, observability.NewNopLogger())
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}
	return r
}

func callOf(name, args string) models.ToolCall {
	return models.ToolCall{ID: "call_test", Name: name, Input: json.RawMessage(args)}
}

func TestRunnerDefinitions(t *testing.T) {
	r := newTestRunner(t, &fakeExecutor{})
	defs := r.Definitions()

	names := make(map[string]bool)
	for _, def := range defs {
		names[def.Name] = true
		if def.Description == "" {
			t.Errorf("tool %s has no description", def.Name)
		}
		var schema map[string]any
		if err := json.Unmarshal(def.Schema, &schema); err != nil {
			t.Errorf("tool %s schema is not JSON: %v", def.Name, err)
		}
	}
	for _, want := range []string{NameGoToURL, NameGetCurrentURL, NameSaveToMemory, NameWait, NamePauseExecution, NameComputer, NameBack, NameForward} {
		if !names[want] {
			t.Errorf("manifest missing tool %s", want)
		}
	}
}

func TestRunnerGoToURL(t *testing.T) {
	exec := &fakeExecutor{outcome: browser.Outcome{Screenshot: "cGF5bG9hZA==", URL: "https://example.com"}}
	r := newTestRunner(t, exec)

	out := r.Run(context.Background(), callOf(NameGoToURL, `{"url":"https://example.com"}`))
	if out.Result.IsError {
		t.Fatalf("unexpected error: %s", out.Result.Content)
	}
	if out.Artifact == nil || out.Artifact.Kind != "screenshot" || out.Artifact.Payload != "cGF5bG9hZA==" {
		t.Errorf("artifact = %+v", out.Artifact)
	}
	if len(exec.actions) != 1 {
		t.Fatalf("actions = %v", exec.actions)
	}
	nav, ok := exec.actions[0].(browser.Navigate)
	if !ok || nav.URL != "https://example.com" {
		t.Errorf("action = %#v", exec.actions[0])
	}
}

func TestRunnerRejectsInvalidArguments(t *testing.T) {
	r := newTestRunner(t, &fakeExecutor{})

	cases := []struct {
		name string
		args string
	}{
		{NameGoToURL, `{}`},                          // url required
		{NameGoToURL, `{"url":42}`},                  // wrong type
		{NameComputer, `{}`},                         // action required
		{NameComputer, `{"action":"self_destruct"}`}, // not in enum
		{NameSaveToMemory, `{"info":"x"}`},           // unknown field, missing required
	}
	for _, tc := range cases {
		out := r.Run(context.Background(), callOf(tc.name, tc.args))
		if !out.Result.IsError {
			t.Errorf("%s(%s): expected validation error, got %q", tc.name, tc.args, out.Result.Content)
		}
	}
}

func TestRunnerUnknownTool(t *testing.T) {
	r := newTestRunner(t, &fakeExecutor{})
	out := r.Run(context.Background(), callOf("launch_missiles", `{}`))
	if !out.Result.IsError || !strings.Contains(out.Result.Content, "unknown tool") {
		t.Errorf("result = %+v", out.Result)
	}
}

func TestRunnerActionFailurePropagates(t *testing.T) {
	exec := &fakeExecutor{outcome: browser.Fail("page is closed; cannot execute action")}
	r := newTestRunner(t, exec)

	out := r.Run(context.Background(), callOf(NameGoToURL, `{"url":"https://example.com"}`))
	if !out.Result.IsError {
		t.Fatal("expected error result")
	}
	if out.Artifact != nil {
		t.Error("failed action must not carry an artifact")
	}
	if !strings.Contains(out.Result.Content, "page is closed") {
		t.Errorf("content = %q", out.Result.Content)
	}
}

func TestRunnerGetCurrentURL(t *testing.T) {
	r := newTestRunner(t, &fakeExecutor{url: "https://example.com/cart"})
	out := r.Run(context.Background(), callOf(NameGetCurrentURL, `{}`))
	if out.Result.IsError || out.Result.Content != "https://example.com/cart" {
		t.Errorf("result = %+v", out.Result)
	}
	if out.Artifact != nil {
		t.Error("get_current_url must not produce an artifact")
	}
}

func TestRunnerSaveToMemory(t *testing.T) {
	r := newTestRunner(t, &fakeExecutor{})

	out := r.Run(context.Background(), callOf(NameSaveToMemory, `{"information":"cheapest flight is $120"}`))
	if out.Result.IsError || out.Result.Content != "successfully saved to memory" {
		t.Errorf("result = %+v", out.Result)
	}
	out = r.Run(context.Background(), callOf(NameSaveToMemory, `{"information":"departure at 9am"}`))
	if out.Result.IsError {
		t.Fatalf("second save failed: %s", out.Result.Content)
	}

	mem := r.Memory()
	if len(mem) != 2 || mem[0] != "cheapest flight is $120" || mem[1] != "departure at 9am" {
		t.Errorf("memory = %v", mem)
	}
}

func TestRunnerWaitBounds(t *testing.T) {
	exec := &fakeExecutor{outcome: browser.Outcome{Screenshot: "cA==", URL: "https://example.com"}}
	r := newTestRunner(t, exec)

	out := r.Run(context.Background(), callOf(NameWait, `{"seconds":2}`))
	if out.Result.IsError {
		t.Fatalf("wait failed: %s", out.Result.Content)
	}

	out = r.Run(context.Background(), callOf(NameWait, `{"seconds":31}`))
	if !out.Result.IsError || !strings.Contains(out.Result.Content, "between 0 and 30") {
		t.Errorf("result = %+v", out.Result)
	}
}

func TestRunnerPauseExecution(t *testing.T) {
	r := newTestRunner(t, &fakeExecutor{})

	out := r.Run(context.Background(), callOf(NamePauseExecution, `{"reason":"NEED GUIDANCE: confirm the purchase"}`))
	if !out.RequestPause {
		t.Error("pause_execution must request a pause")
	}
	if out.Result.IsError || out.Result.Content != "NEED GUIDANCE: confirm the purchase" {
		t.Errorf("result = %+v", out.Result)
	}
}

func TestRunnerComputerActions(t *testing.T) {
	cases := []struct {
		args string
		want string // expected browser action kind
	}{
		{`{"action":"left_click","coordinate":[100,200]}`, "click"},
		{`{"action":"double_click","coordinate":[5,5]}`, "double_click"},
		{`{"action":"mouse_move","coordinate":[1,2]}`, "move"},
		{`{"action":"type","text":"hello"}`, "type"},
		{`{"action":"key","text":"ctrl+l"}`, "keypress"},
		{`{"action":"scroll","coordinate":[0,0],"scroll_y":300}`, "scroll"},
		{`{"action":"screenshot"}`, "screenshot"},
	}

	for _, tc := range cases {
		exec := &fakeExecutor{outcome: browser.Outcome{Screenshot: "cA==", URL: "https://example.com"}}
		r := newTestRunner(t, exec)
		out := r.Run(context.Background(), callOf(NameComputer, tc.args))
		if out.Result.IsError {
			t.Errorf("%s: %s", tc.args, out.Result.Content)
			continue
		}
		if len(exec.actions) == 0 || exec.actions[0].Kind() != tc.want {
			t.Errorf("%s: actions = %v, want kind %q", tc.args, exec.actions, tc.want)
		}
	}
}

func TestRunnerComputerRequiresCoordinate(t *testing.T) {
	r := newTestRunner(t, &fakeExecutor{})
	out := r.Run(context.Background(), callOf(NameComputer, `{"action":"left_click"}`))
	if !out.Result.IsError || !strings.Contains(out.Result.Content, "coordinate is required") {
		t.Errorf("result = %+v", out.Result)
	}
}

func TestRunnerComputerKeyChord(t *testing.T) {
	exec := &fakeExecutor{outcome: browser.Outcome{Screenshot: "cA==", URL: "u"}}
	r := newTestRunner(t, exec)

	out := r.Run(context.Background(), callOf(NameComputer, `{"action":"key","text":"ctrl+shift+t return"}`))
	if out.Result.IsError {
		t.Fatalf("key failed: %s", out.Result.Content)
	}
	kp := exec.actions[0].(browser.KeyPress)
	if len(kp.Keys) != 2 || kp.Keys[0] != "Control+Shift+t" || kp.Keys[1] != "Enter" {
		t.Errorf("keys = %v", kp.Keys)
	}
}

func TestParseKeyChords(t *testing.T) {
	got := parseKeyChords("ctrl+a")
	if len(got) != 1 || got[0] != "Control+a" {
		t.Errorf("parseKeyChords = %v", got)
	}
	got = parseKeyChords("esc")
	if len(got) != 1 || got[0] != "Escape" {
		t.Errorf("parseKeyChords = %v", got)
	}
}
