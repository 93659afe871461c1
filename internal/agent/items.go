package agent

import (
	"fmt"

	"github.com/skipperhq/skipper/pkg/models"
)

// Item is one unit of the ordered conversation log. The union is closed:
// adding a new kind means touching every switch over Item, which is the
// point — new item kinds are a compile-time-visible decision.
type Item interface {
	isItem()
}

// TextItem is a plain message from the user, system, or assistant.
type TextItem struct {
	Role    models.Role
	Content string
}

func (TextItem) isItem() {}

// ToolCallItem records a model-requested tool invocation.
type ToolCallItem struct {
	Call models.ToolCall
}

func (ToolCallItem) isItem() {}

// ToolResultItem records the outcome of a tool invocation. Artifact is set
// for screenshot-bearing results and is subject to retention trimming.
type ToolResultItem struct {
	Result   models.ToolResult
	Artifact *Artifact
}

func (ToolResultItem) isItem() {}

// ReasoningItem carries model narration (goal/memory commentary). These are
// the events a human reviewer reads when deciding whether to resume a paused
// run, and the only class deferred while paused.
type ReasoningItem struct {
	Text string
}

func (ReasoningItem) isItem() {}

// Artifact is a potentially large payload attached to a tool result.
type Artifact struct {
	// Kind names the payload type, e.g. "screenshot".
	Kind string

	// Payload is the base64-encoded content.
	Payload string

	// URL is the page URL at capture time.
	URL string
}

// artifactPlaceholder replaces trimmed artifact payloads. Fixed size so the
// trimmed conversation stays bounded regardless of what was removed.
const artifactPlaceholder = "[Previous screenshot removed to conserve context window]"

func itemKind(item Item) string {
	switch item.(type) {
	case TextItem:
		return "text"
	case ToolCallItem:
		return "tool_call"
	case ToolResultItem:
		return "tool_result"
	case ReasoningItem:
		return "reasoning"
	default:
		return fmt.Sprintf("%T", item)
	}
}
