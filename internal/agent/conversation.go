package agent

import (
	"errors"
	"fmt"
	"time"

	"github.com/skipperhq/skipper/pkg/models"
)

// ErrOrphanToolResult is returned when a tool result references a call id
// that never appeared in the conversation.
var ErrOrphanToolResult = errors.New("tool result references unknown call id")

// Conversation owns the ordered, append-only item log for one chat turn.
// It is created from the system prompt and prior history, mutated only by
// the loop that owns it, and discarded when the request ends.
type Conversation struct {
	items []Item

	// keepArtifacts bounds how many artifact-bearing results retain their
	// full payload; older ones are trimmed to a placeholder.
	keepArtifacts int

	// calls tracks seen tool-call ids for referential integrity.
	calls map[string]struct{}
}

// NewConversation creates an empty conversation retaining up to
// keepArtifacts full artifact payloads.
func NewConversation(keepArtifacts int) *Conversation {
	if keepArtifacts < 1 {
		keepArtifacts = 1
	}
	return &Conversation{
		keepArtifacts: keepArtifacts,
		calls:         make(map[string]struct{}),
	}
}

// NewConversationFromHistory seeds a conversation with the system prompt and
// the client-supplied chat history, replaying completed tool invocations as
// call/result pairs.
func NewConversationFromHistory(systemPrompt string, history []models.ChatMessage, keepArtifacts int) (*Conversation, error) {
	c := NewConversation(keepArtifacts)

	if systemPrompt != "" {
		stamped := fmt.Sprintf("%s\nCurrent date and time: %s", systemPrompt, time.Now().Format("2006-01-02 15:04:05"))
		if err := c.Append(TextItem{Role: models.RoleSystem, Content: stamped}); err != nil {
			return nil, err
		}
	}

	for _, msg := range history {
		if len(msg.ToolInvocations) > 0 {
			for _, inv := range msg.ToolInvocations {
				call := ToolCallItem{Call: models.ToolCall{
					ID:    inv.ToolCallID,
					Name:  inv.ToolName,
					Input: inv.Args,
				}}
				if err := c.Append(call); err != nil {
					return nil, err
				}
				result := ToolResultItem{Result: models.ToolResult{
					ToolCallID: inv.ToolCallID,
					Content:    inv.Result,
				}}
				if err := c.Append(result); err != nil {
					return nil, err
				}
			}
			continue
		}
		if msg.Content == "" {
			continue
		}
		if err := c.Append(TextItem{Role: msg.Role, Content: msg.Content}); err != nil {
			return nil, err
		}
	}

	return c, nil
}

// Append adds an item to the log. Tool results must reference a call id
// already present; anything else corrupts what the model sees.
func (c *Conversation) Append(item Item) error {
	switch it := item.(type) {
	case ToolCallItem:
		if it.Call.ID == "" {
			return errors.New("tool call missing id")
		}
		c.calls[it.Call.ID] = struct{}{}
	case ToolResultItem:
		if _, ok := c.calls[it.Result.ToolCallID]; !ok {
			return fmt.Errorf("%w: %q", ErrOrphanToolResult, it.Result.ToolCallID)
		}
	}

	c.items = append(c.items, item)
	c.trim()
	return nil
}

// Items returns a copy of the item log in order.
func (c *Conversation) Items() []Item {
	out := make([]Item, len(c.items))
	copy(out, c.items)
	return out
}

// Len returns the number of items.
func (c *Conversation) Len() int { return len(c.items) }

// LastUserMessage returns the content of the most recent user text item.
func (c *Conversation) LastUserMessage() string {
	for i := len(c.items) - 1; i >= 0; i-- {
		if t, ok := c.items[i].(TextItem); ok && t.Role == models.RoleUser {
			return t.Content
		}
	}
	return ""
}

// trim replaces the payloads of all but the keepArtifacts most recent
// artifact-bearing results with a fixed placeholder, preserving ordering and
// call ids.
func (c *Conversation) trim() {
	withArtifact := 0
	for _, item := range c.items {
		if r, ok := item.(ToolResultItem); ok && r.Artifact != nil {
			withArtifact++
		}
	}
	excess := withArtifact - c.keepArtifacts
	if excess <= 0 {
		return
	}

	for i := 0; i < len(c.items) && excess > 0; i++ {
		r, ok := c.items[i].(ToolResultItem)
		if !ok || r.Artifact == nil {
			continue
		}
		c.items[i] = ToolResultItem{Result: models.ToolResult{
			ToolCallID: r.Result.ToolCallID,
			Content:    artifactPlaceholder,
			IsError:    r.Result.IsError,
		}}
		excess--
	}
}
