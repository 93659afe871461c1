package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/skipperhq/skipper/internal/agent"
	"github.com/skipperhq/skipper/internal/observability"
	"github.com/skipperhq/skipper/internal/retry"
	"github.com/skipperhq/skipper/pkg/models"
)

// maxIdleStreamEvents bounds consecutive events that produce no output.
// A stream that floods empty frames is treated as malformed instead of
// being drained forever.
const maxIdleStreamEvents = 300

// AnthropicConfig configures the Anthropic-backed model client.
type AnthropicConfig struct {
	APIKey  string
	BaseURL string
	Retry   retry.Config
}

// Anthropic streams completions from the Anthropic Messages API.
type Anthropic struct {
	client anthropic.Client
	retry  retry.Config
	logger *observability.Logger
}

// NewAnthropic creates an Anthropic model client.
func NewAnthropic(cfg AnthropicConfig, logger *observability.Logger) *Anthropic {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &Anthropic{
		client: anthropic.NewClient(opts...),
		retry:  sanitizeRetry(cfg.Retry),
		logger: logger,
	}
}

// Provider identifies the backend.
func (c *Anthropic) Provider() models.ModelProvider {
	return models.ProviderAnthropic
}

// Send opens one streaming round trip. Conversion errors surface
// synchronously; transport and stream errors arrive as Err chunks.
func (c *Anthropic) Send(ctx context.Context, req *agent.ModelRequest) (<-chan *agent.ModelChunk, error) {
	params, err := c.buildParams(req)
	if err != nil {
		return nil, err
	}

	chunks := make(chan *agent.ModelChunk)
	go func() {
		defer close(chunks)

		var stream *ssestream.Stream[anthropic.MessageStreamEventUnion]
		result := retry.Do(ctx, c.retry, func() error {
			stream = c.client.Messages.NewStreaming(ctx, params)
			if err := stream.Err(); err != nil {
				return classifyForRetry(err)
			}
			return nil
		})
		if result.Err != nil {
			if result.Attempts > 1 {
				c.logger.Warn("model request failed after retries",
					"provider", "anthropic", "attempts", result.Attempts)
			}
			chunks <- &agent.ModelChunk{Err: requestFailure("anthropic", result.Err)}
			return
		}

		c.processStream(ctx, stream, chunks)
	}()
	return chunks, nil
}

func (c *Anthropic) buildParams(req *agent.ModelRequest) (anthropic.MessageNewParams, error) {
	system, messages, err := anthropicMessages(req.Items)
	if err != nil {
		return anthropic.MessageNewParams{}, err
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		Messages:  messages,
		MaxTokens: int64(req.MaxTokens),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: system}}
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}
	if req.TopP > 0 {
		params.TopP = anthropic.Float(req.TopP)
	}
	if len(req.Tools) > 0 {
		tools, err := anthropicTools(req.Tools)
		if err != nil {
			return anthropic.MessageNewParams{}, err
		}
		params.Tools = tools
	}
	return params, nil
}

// processStream converts SSE events to chunks. Tool input JSON streams as
// fragments and is finalized at content_block_stop; token counts arrive in
// message_start and message_delta and ride out on the Done chunk.
func (c *Anthropic) processStream(ctx context.Context, stream *ssestream.Stream[anthropic.MessageStreamEventUnion], chunks chan<- *agent.ModelChunk) {
	var (
		currentCall  *models.ToolCall
		currentIndex int
		currentInput strings.Builder
		reasoning    strings.Builder
		inThinking   bool
		idleEvents   int
		usage        models.Usage
	)

	send := func(chunk *agent.ModelChunk) bool {
		select {
		case chunks <- chunk:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for stream.Next() {
		event := stream.Current()
		processed := false

		switch event.Type {
		case "message_start":
			start := event.AsMessageStart()
			if start.Message.Usage.InputTokens > 0 {
				usage.PromptTokens = int(start.Message.Usage.InputTokens)
			}
			processed = true

		case "content_block_start":
			blockStart := event.AsContentBlockStart()
			switch blockStart.ContentBlock.Type {
			case "thinking":
				inThinking = true
				reasoning.Reset()
				processed = true
			case "tool_use":
				toolUse := blockStart.ContentBlock.AsToolUse()
				currentCall = &models.ToolCall{ID: toolUse.ID, Name: toolUse.Name}
				currentIndex = int(blockStart.Index)
				currentInput.Reset()
				if !send(&agent.ModelChunk{ToolCallDelta: &agent.ToolCallDelta{
					Index: currentIndex,
					ID:    toolUse.ID,
					Name:  toolUse.Name,
				}}) {
					return
				}
				processed = true
			}

		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				if delta.Text != "" {
					if !send(&agent.ModelChunk{Text: delta.Text}) {
						return
					}
					processed = true
				}
			case "thinking_delta":
				if delta.Thinking != "" {
					reasoning.WriteString(delta.Thinking)
					processed = true
				}
			case "input_json_delta":
				if delta.PartialJSON != "" {
					currentInput.WriteString(delta.PartialJSON)
					if currentCall != nil {
						if !send(&agent.ModelChunk{ToolCallDelta: &agent.ToolCallDelta{
							Index: currentIndex,
							Args:  delta.PartialJSON,
						}}) {
							return
						}
					}
					processed = true
				}
			}

		case "content_block_stop":
			if inThinking {
				inThinking = false
				if text := reasoning.String(); text != "" {
					if !send(&agent.ModelChunk{Reasoning: text}) {
						return
					}
				}
				processed = true
			} else if currentCall != nil {
				input := currentInput.String()
				if input == "" {
					input = "{}"
				}
				currentCall.Input = json.RawMessage(input)
				if !send(&agent.ModelChunk{ToolCall: currentCall}) {
					return
				}
				currentCall = nil
				processed = true
			}

		case "message_delta":
			msgDelta := event.AsMessageDelta()
			if msgDelta.Usage.OutputTokens > 0 {
				usage.CompletionTokens = int(msgDelta.Usage.OutputTokens)
			}
			processed = true

		case "message_stop":
			send(&agent.ModelChunk{Done: true, Usage: &usage})
			return

		case "error":
			send(&agent.ModelChunk{Err: requestFailure("anthropic", fmt.Errorf("stream error event"))})
			return
		}

		if processed {
			idleEvents = 0
		} else {
			idleEvents++
			if idleEvents >= maxIdleStreamEvents {
				send(&agent.ModelChunk{Err: requestFailure("anthropic",
					fmt.Errorf("malformed stream: %d consecutive empty events", idleEvents))})
				return
			}
		}
	}

	if err := stream.Err(); err != nil {
		send(&agent.ModelChunk{Err: requestFailure("anthropic", err)})
		return
	}
	// Stream ended without message_stop. Report what was gathered.
	send(&agent.ModelChunk{Done: true, Usage: &usage})
}

// anthropicMessages flattens the conversation log into role-alternating
// message params. Consecutive items with the same effective role merge into
// one message; tool results land on the user side per the Messages API.
func anthropicMessages(items []agent.Item) (string, []anthropic.MessageParam, error) {
	var (
		system   strings.Builder
		messages []anthropic.MessageParam
		blocks   []anthropic.ContentBlockParamUnion
		role     models.Role
	)

	flush := func() {
		if len(blocks) == 0 {
			return
		}
		if role == models.RoleAssistant {
			messages = append(messages, anthropic.NewAssistantMessage(blocks...))
		} else {
			messages = append(messages, anthropic.NewUserMessage(blocks...))
		}
		blocks = nil
	}
	add := func(r models.Role, block anthropic.ContentBlockParamUnion) {
		if r != role {
			flush()
			role = r
		}
		blocks = append(blocks, block)
	}

	for _, item := range items {
		switch v := item.(type) {
		case agent.TextItem:
			if v.Role == models.RoleSystem {
				if system.Len() > 0 {
					system.WriteString("\n\n")
				}
				system.WriteString(v.Content)
				continue
			}
			if v.Content == "" {
				continue
			}
			add(v.Role, anthropic.NewTextBlock(v.Content))

		case agent.ReasoningItem:
			if v.Text != "" {
				add(models.RoleAssistant, anthropic.NewTextBlock(v.Text))
			}

		case agent.ToolCallItem:
			var input map[string]any
			if err := json.Unmarshal(v.Call.Input, &input); err != nil {
				return "", nil, fmt.Errorf("tool call %s has invalid input: %w", v.Call.ID, err)
			}
			add(models.RoleAssistant, anthropic.NewToolUseBlock(v.Call.ID, input, v.Call.Name))

		case agent.ToolResultItem:
			add(models.RoleUser, anthropicToolResultBlock(v))
		}
	}
	flush()
	return system.String(), messages, nil
}

func anthropicToolResultBlock(item agent.ToolResultItem) anthropic.ContentBlockParamUnion {
	block := anthropic.ToolResultBlockParam{
		ToolUseID: item.Result.ToolCallID,
		IsError:   anthropic.Bool(item.Result.IsError),
	}
	if item.Result.Content != "" {
		block.Content = append(block.Content, anthropic.ToolResultBlockParamContentUnion{
			OfText: &anthropic.TextBlockParam{Text: item.Result.Content},
		})
	}
	if item.Artifact != nil && item.Artifact.Payload != "" {
		block.Content = append(block.Content, anthropic.ToolResultBlockParamContentUnion{
			OfImage: &anthropic.ImageBlockParam{
				Source: anthropic.ImageBlockParamSourceUnion{
					OfBase64: &anthropic.Base64ImageSourceParam{
						Data:      item.Artifact.Payload,
						MediaType: anthropic.Base64ImageSourceMediaTypeImagePNG,
					},
				},
			},
		})
	}
	return anthropic.ContentBlockParamUnion{OfToolResult: &block}
}

func anthropicTools(defs []agent.ToolDefinition) ([]anthropic.ToolUnionParam, error) {
	result := make([]anthropic.ToolUnionParam, 0, len(defs))
	for _, def := range defs {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(def.Schema, &schema); err != nil {
			return nil, fmt.Errorf("invalid schema for tool %s: %w", def.Name, err)
		}
		param := anthropic.ToolUnionParamOfTool(schema, def.Name)
		if param.OfTool == nil {
			return nil, fmt.Errorf("invalid schema for tool %s", def.Name)
		}
		param.OfTool.Description = anthropic.String(def.Description)
		result = append(result, param)
	}
	return result, nil
}
