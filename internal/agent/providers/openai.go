package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/skipperhq/skipper/internal/agent"
	"github.com/skipperhq/skipper/internal/observability"
	"github.com/skipperhq/skipper/internal/retry"
	"github.com/skipperhq/skipper/pkg/models"
)

// OpenAIConfig configures the OpenAI-backed model client.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Retry   retry.Config
}

// OpenAI streams completions from the Chat Completions API.
type OpenAI struct {
	client *openai.Client
	retry  retry.Config
	logger *observability.Logger
}

// NewOpenAI creates an OpenAI model client.
func NewOpenAI(cfg OpenAIConfig, logger *observability.Logger) *OpenAI {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &OpenAI{
		client: openai.NewClientWithConfig(clientCfg),
		retry:  sanitizeRetry(cfg.Retry),
		logger: logger,
	}
}

// Provider identifies the backend.
func (c *OpenAI) Provider() models.ModelProvider {
	return models.ProviderOpenAI
}

// Send opens one streaming round trip.
func (c *OpenAI) Send(ctx context.Context, req *agent.ModelRequest) (<-chan *agent.ModelChunk, error) {
	chatReq, err := c.buildRequest(req)
	if err != nil {
		return nil, err
	}

	chunks := make(chan *agent.ModelChunk)
	go func() {
		defer close(chunks)

		var stream *openai.ChatCompletionStream
		result := retry.Do(ctx, c.retry, func() error {
			var openErr error
			stream, openErr = c.client.CreateChatCompletionStream(ctx, chatReq)
			return classifyForRetry(openErr)
		})
		if result.Err != nil {
			if result.Attempts > 1 {
				c.logger.Warn("model request failed after retries",
					"provider", "openai", "attempts", result.Attempts)
			}
			chunks <- &agent.ModelChunk{Err: requestFailure("openai", result.Err)}
			return
		}

		c.processStream(ctx, stream, chunks)
	}()
	return chunks, nil
}

func (c *OpenAI) buildRequest(req *agent.ModelRequest) (openai.ChatCompletionRequest, error) {
	messages := openaiMessages(req.Items)

	chatReq := openai.ChatCompletionRequest{
		Model:    req.Model,
		Messages: messages,
		Stream:   true,
		StreamOptions: &openai.StreamOptions{
			IncludeUsage: true,
		},
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}
	if req.Temperature > 0 {
		chatReq.Temperature = float32(req.Temperature)
	}
	if req.TopP > 0 {
		chatReq.TopP = float32(req.TopP)
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = openaiTools(req.Tools)
	}
	return chatReq, nil
}

// processStream reads delta frames, accumulating tool call fragments by
// provider index. Finalized calls emit on finish_reason "tool_calls" or at
// EOF for streams that end without one. The usage frame arrives last when
// IncludeUsage is set.
func (c *OpenAI) processStream(ctx context.Context, stream *openai.ChatCompletionStream, chunks chan<- *agent.ModelChunk) {
	defer stream.Close()

	pending := make(map[int]*models.ToolCall)
	var usage models.Usage

	send := func(chunk *agent.ModelChunk) bool {
		select {
		case chunks <- chunk:
			return true
		case <-ctx.Done():
			return false
		}
	}
	flushCalls := func() bool {
		indexes := make([]int, 0, len(pending))
		for i := range pending {
			indexes = append(indexes, i)
		}
		sort.Ints(indexes)
		for _, i := range indexes {
			call := pending[i]
			if call.ID == "" || call.Name == "" {
				continue
			}
			if len(call.Input) == 0 {
				call.Input = json.RawMessage("{}")
			}
			if !send(&agent.ModelChunk{ToolCall: call}) {
				return false
			}
		}
		pending = make(map[int]*models.ToolCall)
		return true
	}

	for {
		response, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				if !flushCalls() {
					return
				}
				send(&agent.ModelChunk{Done: true, Usage: &usage})
				return
			}
			send(&agent.ModelChunk{Err: requestFailure("openai", err)})
			return
		}

		if response.Usage != nil {
			usage.PromptTokens = response.Usage.PromptTokens
			usage.CompletionTokens = response.Usage.CompletionTokens
		}
		if len(response.Choices) == 0 {
			continue
		}
		choice := response.Choices[0]

		if choice.Delta.Content != "" {
			if !send(&agent.ModelChunk{Text: choice.Delta.Content}) {
				return
			}
		}

		for _, tc := range choice.Delta.ToolCalls {
			index := 0
			if tc.Index != nil {
				index = *tc.Index
			}
			call := pending[index]
			if call == nil {
				call = &models.ToolCall{}
				pending[index] = call
			}
			delta := agent.ToolCallDelta{Index: index}
			if tc.ID != "" {
				call.ID = tc.ID
				delta.ID = tc.ID
			}
			if tc.Function.Name != "" {
				call.Name = tc.Function.Name
				delta.Name = tc.Function.Name
			}
			if tc.Function.Arguments != "" {
				call.Input = append(call.Input, tc.Function.Arguments...)
				delta.Args = tc.Function.Arguments
			}
			if !send(&agent.ModelChunk{ToolCallDelta: &delta}) {
				return
			}
		}

		if choice.FinishReason == openai.FinishReasonToolCalls {
			if !flushCalls() {
				return
			}
		}
	}
}

// openaiMessages flattens the conversation log into chat messages. Tool
// calls attach to the preceding assistant message; each tool result becomes
// its own tool-role message, with screenshots following as a user message
// carrying an inline image part.
func openaiMessages(items []agent.Item) []openai.ChatCompletionMessage {
	var (
		result    []openai.ChatCompletionMessage
		assistant *openai.ChatCompletionMessage
	)

	flushAssistant := func() {
		if assistant != nil {
			result = append(result, *assistant)
			assistant = nil
		}
	}
	appendAssistantText := func(text string) {
		if assistant == nil {
			assistant = &openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant}
		}
		if assistant.Content != "" {
			assistant.Content += "\n"
		}
		assistant.Content += text
	}

	for _, item := range items {
		switch v := item.(type) {
		case agent.TextItem:
			switch v.Role {
			case models.RoleSystem:
				flushAssistant()
				result = append(result, openai.ChatCompletionMessage{
					Role:    openai.ChatMessageRoleSystem,
					Content: v.Content,
				})
			case models.RoleAssistant:
				appendAssistantText(v.Content)
			default:
				flushAssistant()
				result = append(result, openai.ChatCompletionMessage{
					Role:    openai.ChatMessageRoleUser,
					Content: v.Content,
				})
			}

		case agent.ReasoningItem:
			if v.Text != "" {
				appendAssistantText(v.Text)
			}

		case agent.ToolCallItem:
			if assistant == nil {
				assistant = &openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant}
			}
			assistant.ToolCalls = append(assistant.ToolCalls, openai.ToolCall{
				ID:   v.Call.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      v.Call.Name,
					Arguments: string(v.Call.Input),
				},
			})

		case agent.ToolResultItem:
			flushAssistant()
			result = append(result, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    v.Result.Content,
				ToolCallID: v.Result.ToolCallID,
			})
			if v.Artifact != nil && v.Artifact.Payload != "" {
				result = append(result, openai.ChatCompletionMessage{
					Role: openai.ChatMessageRoleUser,
					MultiContent: []openai.ChatMessagePart{
						{
							Type: openai.ChatMessagePartTypeText,
							Text: "Screenshot after the last action.",
						},
						{
							Type: openai.ChatMessagePartTypeImageURL,
							ImageURL: &openai.ChatMessageImageURL{
								URL:    imageDataURL(v.Artifact.Payload),
								Detail: openai.ImageURLDetailAuto,
							},
						},
					},
				})
			}
		}
	}
	flushAssistant()
	return result
}

func imageDataURL(base64PNG string) string {
	if strings.HasPrefix(base64PNG, "data:") {
		return base64PNG
	}
	return fmt.Sprintf("data:image/png;base64,%s", base64PNG)
}

func openaiTools(defs []agent.ToolDefinition) []openai.Tool {
	result := make([]openai.Tool, len(defs))
	for i, def := range defs {
		var schema map[string]any
		if err := json.Unmarshal(def.Schema, &schema); err != nil {
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		result[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  schema,
			},
		}
	}
	return result
}
