package agent

import (
	"github.com/skipperhq/skipper/pkg/models"
)

// EventType identifies the kind of loop event.
type EventType string

const (
	// EventTextDelta is incremental assistant text.
	EventTextDelta EventType = "text.delta"

	// EventCommentary is narrative status text (goal/memory narration).
	// This is the only class withheld while a session is paused.
	EventCommentary EventType = "commentary"

	// EventToolCallDelta is a fragment of a tool call's arguments, tagged
	// by the provider's call index. The re-encoder assembles fragments
	// and announces the call once the arguments parse.
	EventToolCallDelta EventType = "tool_call.delta"

	// EventToolCall is a complete tool call (batch-shaped providers, or
	// the finalized form after a fragment stream).
	EventToolCall EventType = "tool_call"

	// EventToolResult is the outcome of an executed tool call.
	EventToolResult EventType = "tool_result"

	// EventBreak asks the frontend to resynchronize mid-stream (rendered
	// as a "tool-calls" finish frame, not the terminal one).
	EventBreak EventType = "break"

	// EventFinish records the loop's terminal reason and usage. The
	// re-encoder emits the single terminal frame from it.
	EventFinish EventType = "finish"

	// EventError carries a stream-level failure.
	EventError EventType = "error"
)

// Event is the internal unit flowing from the loop to the re-encoder.
// Exactly one payload field is meaningful for a given Type.
type Event struct {
	Type EventType

	// Text is the delta for EventTextDelta and EventCommentary.
	Text string

	// Delta is set for EventToolCallDelta.
	Delta *ToolCallDelta

	// Call is set for EventToolCall.
	Call *models.ToolCall

	// Result is set for EventToolResult.
	Result *models.ToolResult

	// Finish is set for EventFinish.
	Finish *FinishInfo

	// Err is set for EventError.
	Err error
}

// ToolCallDelta is one fragment of an incrementally streamed tool call.
// ID and Name arrive with the first fragment for an index; later fragments
// carry only argument text.
type ToolCallDelta struct {
	Index int
	ID    string
	Name  string
	Args  string
}

// FinishInfo describes why the loop ended and what it consumed.
type FinishInfo struct {
	Reason models.FinishReason
	Usage  models.Usage
}
