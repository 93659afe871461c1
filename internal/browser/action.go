// Package browser defines the browser action set and its executors. Actions
// form a closed union executed against a live page; every successful action
// yields a fresh screenshot and the page URL, failures yield a reason and
// nothing else.
package browser

import (
	"fmt"
	"time"
)

// Point is a viewport coordinate.
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// MouseButton selects which button a click uses.
type MouseButton string

const (
	ButtonLeft   MouseButton = "left"
	ButtonRight  MouseButton = "right"
	ButtonMiddle MouseButton = "middle"
)

// Action is one browser operation. The union is closed; executors switch
// exhaustively over it.
type Action interface {
	isAction()
	Kind() string
}

// Navigate loads a URL in the active page.
type Navigate struct {
	URL string
}

// Click presses a mouse button at a coordinate.
type Click struct {
	Pos    Point
	Button MouseButton
}

// DoubleClick double-clicks at a coordinate.
type DoubleClick struct {
	Pos Point
}

// TypeText types text with the keyboard.
type TypeText struct {
	Text string
}

// KeyPress presses one or more named keys in order. Key names use the
// model-facing vocabulary and are translated per executor.
type KeyPress struct {
	Keys []string
}

// Scroll moves the mouse to a coordinate and scrolls by a delta.
type Scroll struct {
	Pos    Point
	DeltaX int
	DeltaY int
}

// Move repositions the mouse without clicking.
type Move struct {
	Pos Point
}

// Drag presses at the first path point, moves through the rest, and
// releases.
type Drag struct {
	Path []Point
}

// Wait pauses before the post-action screenshot.
type Wait struct {
	Duration time.Duration
}

// Back navigates one step back in history.
type Back struct{}

// Forward navigates one step forward in history.
type Forward struct{}

// Screenshot captures the page without interacting with it.
type Screenshot struct{}

func (Navigate) isAction()    {}
func (Click) isAction()       {}
func (DoubleClick) isAction() {}
func (TypeText) isAction()    {}
func (KeyPress) isAction()    {}
func (Scroll) isAction()      {}
func (Move) isAction()        {}
func (Drag) isAction()        {}
func (Wait) isAction()        {}
func (Back) isAction()        {}
func (Forward) isAction()     {}
func (Screenshot) isAction()  {}

func (Navigate) Kind() string    { return "navigate" }
func (Click) Kind() string       { return "click" }
func (DoubleClick) Kind() string { return "double_click" }
func (TypeText) Kind() string    { return "type" }
func (KeyPress) Kind() string    { return "keypress" }
func (Scroll) Kind() string      { return "scroll" }
func (Move) Kind() string        { return "move" }
func (Drag) Kind() string        { return "drag" }
func (Wait) Kind() string        { return "wait" }
func (Back) Kind() string        { return "back" }
func (Forward) Kind() string     { return "forward" }
func (Screenshot) Kind() string  { return "screenshot" }

// Outcome is the result of executing one action. Exactly one of the two
// shapes is populated: a success carries the post-action screenshot and the
// page URL, a failure carries only the reason.
type Outcome struct {
	// Screenshot is the base64-encoded PNG captured after the action.
	Screenshot string

	// URL is the page URL at capture time.
	URL string

	// Failure is the failure reason; empty on success.
	Failure string
}

// OK reports whether the action succeeded.
func (o Outcome) OK() bool { return o.Failure == "" }

// Fail builds a failure outcome.
func Fail(format string, args ...any) Outcome {
	return Outcome{Failure: fmt.Sprintf(format, args...)}
}
