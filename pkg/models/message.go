// Package models provides domain types shared across the skipper gateway.
package models

import (
	"encoding/json"
)

// Role identifies the author of a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall represents a model-requested invocation of an external capability.
// ID ties the call to its eventual ToolResult.
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// ToolResult represents the output of a tool execution.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error,omitempty"`
}

// ChatMessage is one entry of the ordered chat history supplied by the
// frontend. ToolInvocations carries completed call/result pairs the client
// replays from earlier turns.
type ChatMessage struct {
	Role            Role             `json:"role"`
	Content         string           `json:"content"`
	ToolInvocations []ToolInvocation `json:"toolInvocations,omitempty"`
}

// ToolInvocation is the frontend's record of a tool call and its result.
type ToolInvocation struct {
	ToolCallID string          `json:"toolCallId"`
	ToolName   string          `json:"toolName"`
	Args       json.RawMessage `json:"args"`
	Result     string          `json:"result,omitempty"`
	State      string          `json:"state,omitempty"`
}

// Usage reports token consumption for one model round trip.
type Usage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
}

// Add accumulates usage across round trips.
func (u *Usage) Add(other Usage) {
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
}

// FinishReason explains why a stream (or a segment of it) ended.
type FinishReason string

const (
	FinishReasonStop      FinishReason = "stop"
	FinishReasonToolCalls FinishReason = "tool-calls"
	FinishReasonLength    FinishReason = "length"
	FinishReasonCancelled FinishReason = "cancelled"
	FinishReasonMaxSteps  FinishReason = "max-steps"
	FinishReasonError     FinishReason = "error"
)
