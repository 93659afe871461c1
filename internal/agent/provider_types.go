package agent

import (
	"context"
	"encoding/json"

	"github.com/skipperhq/skipper/pkg/models"
)

// ModelClient is the abstract model endpoint. Implementations adapt one
// vendor's wire protocol — token streaming or discrete output items — to a
// single chunk channel the loop consumes uniformly.
//
// Streaming providers emit TextDelta and ToolCallDelta chunks as they
// arrive, then the finalized ToolCall chunks, then Done. Batch providers
// emit each output item as a single complete chunk, then Done. Either way
// the loop sees the same shapes.
//
// Implementations must be safe for concurrent use.
type ModelClient interface {
	// Send submits the conversation and tool manifest and returns the
	// chunk stream for one round trip. The returned channel is closed by
	// the implementation when the round trip ends.
	Send(ctx context.Context, req *ModelRequest) (<-chan *ModelChunk, error)

	// Provider returns which backend this client talks to.
	Provider() models.ModelProvider
}

// ModelRequest is one round trip's input: the conversation so far plus the
// tool manifest.
type ModelRequest struct {
	Model       string
	MaxTokens   int
	Temperature float64
	TopP        float64

	// Items is the ordered conversation snapshot, already trimmed.
	Items []Item

	// Tools is the manifest of callable tools.
	Tools []ToolDefinition
}

// ModelChunk is one unit of model output. Exactly one payload field is
// meaningful per chunk.
type ModelChunk struct {
	// Text is an incremental assistant text delta.
	Text string

	// Reasoning is narrative/commentary text (reasoning summaries, goal
	// updates). Streamed separately from Text so the pause protocol can
	// defer it.
	Reasoning string

	// ToolCallDelta is a fragment of a streamed tool call.
	ToolCallDelta *ToolCallDelta

	// ToolCall is a complete, executable tool call.
	ToolCall *models.ToolCall

	// Done marks the end of the round trip. Usage rides on it when the
	// provider reports token counts.
	Done  bool
	Usage *models.Usage

	// Err terminates the round trip abnormally.
	Err error
}

// ToolDefinition describes one callable tool for the model's manifest.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Schema      json.RawMessage `json:"input_schema"`
}

// ToolRunner executes tool calls on behalf of the loop. The browser-backed
// implementation lives in internal/tools; tests substitute stubs.
type ToolRunner interface {
	// Definitions returns the manifest advertised to the model.
	Definitions() []ToolDefinition

	// Run executes one call. It never returns an error for action-level
	// failures — those come back as an error-flagged result so the
	// conversation can continue.
	Run(ctx context.Context, call models.ToolCall) ToolOutcome
}

// ToolOutcome is what running one tool call produced.
type ToolOutcome struct {
	// Result is appended to the conversation and echoed to the client.
	Result models.ToolResult

	// Artifact is the screenshot (or similar) captured by the action,
	// when there is one.
	Artifact *Artifact

	// RequestPause is set when the tool asks for a safety pause; the loop
	// marks the session paused before continuing.
	RequestPause bool
}
