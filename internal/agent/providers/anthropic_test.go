package providers

import (
	"encoding/json"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/skipperhq/skipper/internal/agent"
	"github.com/skipperhq/skipper/pkg/models"
)

func TestAnthropicMessagesExtractsSystem(t *testing.T) {
	items := []agent.Item{
		agent.TextItem{Role: models.RoleSystem, Content: "be helpful"},
		agent.TextItem{Role: models.RoleUser, Content: "hi"},
	}

	system, messages, err := anthropicMessages(items)
	if err != nil {
		t.Fatalf("anthropicMessages: %v", err)
	}
	if system != "be helpful" {
		t.Errorf("system = %q, want %q", system, "be helpful")
	}
	if len(messages) != 1 {
		t.Fatalf("got %d messages, want 1", len(messages))
	}
	if messages[0].Role != anthropic.MessageParamRoleUser {
		t.Errorf("role = %q, want user", messages[0].Role)
	}
}

func TestAnthropicMessagesGroupsByRole(t *testing.T) {
	items := []agent.Item{
		agent.TextItem{Role: models.RoleUser, Content: "go to example.com"},
		agent.ReasoningItem{Text: "Navigating to the site."},
		agent.TextItem{Role: models.RoleAssistant, Content: "On it."},
		agent.ToolCallItem{Call: models.ToolCall{
			ID:    "call_1",
			Name:  "go_to_url",
			Input: json.RawMessage(`{"url":"https://example.com"}`),
		}},
		agent.ToolResultItem{Result: models.ToolResult{
			ToolCallID: "call_1",
			Content:    "navigated",
		}},
	}

	_, messages, err := anthropicMessages(items)
	if err != nil {
		t.Fatalf("anthropicMessages: %v", err)
	}
	// user text, then one assistant message holding reasoning + text +
	// tool use, then the user-side tool result.
	if len(messages) != 3 {
		t.Fatalf("got %d messages, want 3", len(messages))
	}
	if messages[1].Role != anthropic.MessageParamRoleAssistant {
		t.Errorf("messages[1].Role = %q, want assistant", messages[1].Role)
	}
	if len(messages[1].Content) != 3 {
		t.Errorf("assistant blocks = %d, want 3", len(messages[1].Content))
	}
	toolUse := messages[1].Content[2].OfToolUse
	if toolUse == nil {
		t.Fatal("third assistant block is not tool_use")
	}
	if toolUse.ID != "call_1" || toolUse.Name != "go_to_url" {
		t.Errorf("tool_use = %s/%s, want call_1/go_to_url", toolUse.ID, toolUse.Name)
	}
	if messages[2].Role != anthropic.MessageParamRoleUser {
		t.Errorf("messages[2].Role = %q, want user", messages[2].Role)
	}
	if messages[2].Content[0].OfToolResult == nil {
		t.Error("tool result block missing")
	}
}

func TestAnthropicToolResultCarriesScreenshot(t *testing.T) {
	block := anthropicToolResultBlock(agent.ToolResultItem{
		Result: models.ToolResult{ToolCallID: "call_2", Content: "clicked"},
		Artifact: &agent.Artifact{
			Kind:    "screenshot",
			Payload: "aGVsbG8=",
			URL:     "https://example.com",
		},
	})

	result := block.OfToolResult
	if result == nil {
		t.Fatal("not a tool result block")
	}
	if result.ToolUseID != "call_2" {
		t.Errorf("ToolUseID = %q", result.ToolUseID)
	}
	if len(result.Content) != 2 {
		t.Fatalf("content blocks = %d, want text + image", len(result.Content))
	}
	if result.Content[0].OfText == nil || result.Content[0].OfText.Text != "clicked" {
		t.Error("text block missing or wrong")
	}
	img := result.Content[1].OfImage
	if img == nil || img.Source.OfBase64 == nil {
		t.Fatal("image block missing base64 source")
	}
	if img.Source.OfBase64.Data != "aGVsbG8=" {
		t.Errorf("image data = %q", img.Source.OfBase64.Data)
	}
}

func TestAnthropicMessagesRejectsBadToolInput(t *testing.T) {
	items := []agent.Item{
		agent.ToolCallItem{Call: models.ToolCall{
			ID:    "call_3",
			Name:  "wait",
			Input: json.RawMessage(`{invalid`),
		}},
	}
	if _, _, err := anthropicMessages(items); err == nil {
		t.Fatal("expected error for invalid tool input")
	}
}

func TestAnthropicToolsConversion(t *testing.T) {
	defs := []agent.ToolDefinition{
		{
			Name:        "wait",
			Description: "Wait for a number of seconds.",
			Schema:      json.RawMessage(`{"type":"object","properties":{"seconds":{"type":"number"}},"required":["seconds"]}`),
		},
	}

	tools, err := anthropicTools(defs)
	if err != nil {
		t.Fatalf("anthropicTools: %v", err)
	}
	if len(tools) != 1 {
		t.Fatalf("got %d tools, want 1", len(tools))
	}
	tool := tools[0].OfTool
	if tool == nil {
		t.Fatal("OfTool is nil")
	}
	if tool.Name != "wait" {
		t.Errorf("name = %q", tool.Name)
	}
	if tool.Description.Value != "Wait for a number of seconds." {
		t.Errorf("description = %q", tool.Description.Value)
	}
}

func TestAnthropicToolsRejectBadSchema(t *testing.T) {
	defs := []agent.ToolDefinition{
		{Name: "broken", Schema: json.RawMessage(`not json`)},
	}
	if _, err := anthropicTools(defs); err == nil {
		t.Fatal("expected error for unparseable schema")
	}
}

func TestAnthropicProviderIdentity(t *testing.T) {
	client := NewAnthropic(AnthropicConfig{APIKey: "test"}, nopLogger())
	if client.Provider() != models.ProviderAnthropic {
		t.Errorf("Provider() = %q", client.Provider())
	}
}
