// Package tools implements the browser tool surface exposed to models:
// typed parameters, generated JSON schemas, input validation, and the
// runner that maps validated calls onto browser actions.
package tools

import (
	"bytes"
	"encoding/json"
	"fmt"

	genschema "github.com/invopop/jsonschema"
	validschema "github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/skipperhq/skipper/internal/agent"
)

// Tool names.
const (
	NameGoToURL        = "go_to_url"
	NameGetCurrentURL  = "get_current_url"
	NameSaveToMemory   = "save_to_memory"
	NameWait           = "wait"
	NamePauseExecution = "pause_execution"
	NameComputer       = "computer"
	NameBack           = "back"
	NameForward        = "forward"
)

// GoToURLParams navigates the page.
type GoToURLParams struct {
	URL string `json:"url" jsonschema:"description=The fully-qualified URL to navigate to"`
	// WaitTime delays the post-navigation screenshot, in milliseconds.
	WaitTime int `json:"wait_time,omitempty" jsonschema:"description=Time in ms to wait before screenshot"`
}

// GetCurrentURLParams takes no arguments.
type GetCurrentURLParams struct{}

// SaveToMemoryParams records a fact for later steps.
type SaveToMemoryParams struct {
	Information string `json:"information" jsonschema:"description=The information to save for later reference"`
}

// WaitParams pauses before the next screenshot.
type WaitParams struct {
	Seconds float64 `json:"seconds" jsonschema:"description=Number of seconds to wait (0-30)"`
}

// PauseExecutionParams halts the loop for human review.
type PauseExecutionParams struct {
	Reason string `json:"reason" jsonschema:"description=Why the agent is pausing and what input it needs"`
}

// ComputerAction is the model-facing action vocabulary of the computer tool.
type ComputerAction string

const (
	ActionKey            ComputerAction = "key"
	ActionType           ComputerAction = "type"
	ActionMouseMove      ComputerAction = "mouse_move"
	ActionLeftClick      ComputerAction = "left_click"
	ActionLeftClickDrag  ComputerAction = "left_click_drag"
	ActionRightClick     ComputerAction = "right_click"
	ActionMiddleClick    ComputerAction = "middle_click"
	ActionDoubleClick    ComputerAction = "double_click"
	ActionScroll         ComputerAction = "scroll"
	ActionScreenshot     ComputerAction = "screenshot"
	ActionCursorPosition ComputerAction = "cursor_position"
)

// ComputerParams performs one low-level page interaction.
type ComputerParams struct {
	Action ComputerAction `json:"action" jsonschema:"enum=key,enum=type,enum=mouse_move,enum=left_click,enum=left_click_drag,enum=right_click,enum=middle_click,enum=double_click,enum=scroll,enum=screenshot,enum=cursor_position,description=The interaction to perform"`
	// Text carries the keys for 'key' and the string for 'type'.
	Text string `json:"text,omitempty" jsonschema:"description=Text to type or key chord to press"`
	// Coordinate is the [x, y] target for pointer actions.
	Coordinate []int `json:"coordinate,omitempty" jsonschema:"description=Target [x y] viewport coordinate"`
	// ScrollX/ScrollY are the scroll deltas for 'scroll'.
	ScrollX int `json:"scroll_x,omitempty"`
	ScrollY int `json:"scroll_y,omitempty"`
	// WaitTime delays the post-action screenshot, in milliseconds.
	WaitTime int `json:"wait_time,omitempty" jsonschema:"description=Time in ms to wait before screenshot"`
}

// BackParams takes no arguments.
type BackParams struct{}

// ForwardParams takes no arguments.
type ForwardParams struct{}

// spec pairs a tool's manifest entry with its compiled input validator.
type spec struct {
	def       agent.ToolDefinition
	validator *validschema.Schema
}

// buildSpecs reflects schemas from the parameter types and compiles the
// validators used at call time. Reflection happens once per runner.
func buildSpecs() (map[string]spec, error) {
	reflector := &genschema.Reflector{
		DoNotReference:            true,
		AllowAdditionalProperties: false,
	}

	entries := []struct {
		name        string
		description string
		params      any
	}{
		{NameGoToURL, "Navigate to the specified URL, optionally waiting a given number of ms, and return a base64 screenshot.", &GoToURLParams{}},
		{NameGetCurrentURL, "Returns the current URL of the page, with no arguments required.", &GetCurrentURLParams{}},
		{NameSaveToMemory, "Accepts a string 'information' and saves it to memory for later steps. Returns a success message.", &SaveToMemoryParams{}},
		{NameWait, "Wait for a specified number of seconds before continuing. Useful when waiting for page loads or animations to complete.", &WaitParams{}},
		{NamePauseExecution, "Pause execution and wait for human review before continuing. Use before destructive or ambiguous steps.", &PauseExecutionParams{}},
		{NameComputer, "Perform advanced actions on the page (move mouse, press keys, click, scroll, etc.). Returns a base64 screenshot.", &ComputerParams{}},
		{NameBack, "Go back one page in browser history.", &BackParams{}},
		{NameForward, "Go forward one page in browser history.", &ForwardParams{}},
	}

	specs := make(map[string]spec, len(entries))
	for _, entry := range entries {
		schema := reflector.Reflect(entry.params)
		schema.Version = "" // vendor endpoints reject $schema in tool manifests
		data, err := json.Marshal(schema)
		if err != nil {
			return nil, fmt.Errorf("marshal schema for %s: %w", entry.name, err)
		}

		compiler := validschema.NewCompiler()
		if err := compiler.AddResource(entry.name+".json", bytes.NewReader(data)); err != nil {
			return nil, fmt.Errorf("add schema resource for %s: %w", entry.name, err)
		}
		validator, err := compiler.Compile(entry.name + ".json")
		if err != nil {
			return nil, fmt.Errorf("compile schema for %s: %w", entry.name, err)
		}

		specs[entry.name] = spec{
			def: agent.ToolDefinition{
				Name:        entry.name,
				Description: entry.description,
				Schema:      data,
			},
			validator: validator,
		}
	}
	return specs, nil
}
