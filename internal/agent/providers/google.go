package providers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/skipperhq/skipper/internal/agent"
	"github.com/skipperhq/skipper/internal/observability"
	"github.com/skipperhq/skipper/internal/retry"
	"github.com/skipperhq/skipper/pkg/models"
)

// GeminiConfig configures the Gemini-backed model client.
type GeminiConfig struct {
	APIKey string
	Retry  retry.Config
}

// Gemini streams completions from the Gemini API. Unlike the other
// backends, Gemini delivers function calls as complete parts rather than
// argument fragments, so the adapter emits finalized ToolCall chunks only.
type Gemini struct {
	client *genai.Client
	retry  retry.Config
	logger *observability.Logger
}

// NewGemini creates a Gemini model client.
func NewGemini(ctx context.Context, cfg GeminiConfig, logger *observability.Logger) (*Gemini, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	return &Gemini{
		client: client,
		retry:  sanitizeRetry(cfg.Retry),
		logger: logger,
	}, nil
}

// Provider identifies the backend.
func (c *Gemini) Provider() models.ModelProvider {
	return models.ProviderGemini
}

// Send opens one streaming round trip.
func (c *Gemini) Send(ctx context.Context, req *agent.ModelRequest) (<-chan *agent.ModelChunk, error) {
	contents, config, err := c.buildRequest(req)
	if err != nil {
		return nil, err
	}

	chunks := make(chan *agent.ModelChunk)
	go func() {
		defer close(chunks)

		// Retrying is only safe before anything has been emitted; once
		// chunks are out, a replayed stream would duplicate them.
		emitted := false
		result := retry.Do(ctx, c.retry, func() error {
			err := c.processStream(ctx, req.Model, contents, config, chunks, &emitted)
			if err != nil && emitted {
				return retry.Permanent(err)
			}
			return classifyForRetry(err)
		})
		if result.Err != nil {
			if result.Attempts > 1 {
				c.logger.Warn("model request failed after retries",
					"provider", "gemini", "attempts", result.Attempts)
			}
			chunks <- &agent.ModelChunk{Err: requestFailure("gemini", result.Err)}
		}
	}()
	return chunks, nil
}

func (c *Gemini) processStream(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig, chunks chan<- *agent.ModelChunk, emitted *bool) error {
	var usage models.Usage

	send := func(chunk *agent.ModelChunk) bool {
		select {
		case chunks <- chunk:
			*emitted = true
			return true
		case <-ctx.Done():
			return false
		}
	}

	for resp, err := range c.client.Models.GenerateContentStream(ctx, model, contents, config) {
		if err != nil {
			return err
		}
		if resp == nil {
			continue
		}
		if resp.UsageMetadata != nil {
			usage.PromptTokens = int(resp.UsageMetadata.PromptTokenCount)
			usage.CompletionTokens = int(resp.UsageMetadata.CandidatesTokenCount)
		}
		for _, candidate := range resp.Candidates {
			if candidate == nil || candidate.Content == nil {
				continue
			}
			for _, part := range candidate.Content.Parts {
				if part == nil {
					continue
				}
				if part.Text != "" {
					chunk := &agent.ModelChunk{Text: part.Text}
					if part.Thought {
						chunk = &agent.ModelChunk{Reasoning: part.Text}
					}
					if !send(chunk) {
						return ctx.Err()
					}
				}
				if part.FunctionCall != nil {
					args, jsonErr := json.Marshal(part.FunctionCall.Args)
					if jsonErr != nil {
						args = []byte("{}")
					}
					id := part.FunctionCall.ID
					if id == "" {
						id = generateCallID(part.FunctionCall.Name)
					}
					call := &models.ToolCall{
						ID:    id,
						Name:  part.FunctionCall.Name,
						Input: args,
					}
					if !send(&agent.ModelChunk{ToolCall: call}) {
						return ctx.Err()
					}
				}
			}
		}
	}

	send(&agent.ModelChunk{Done: true, Usage: &usage})
	return nil
}

func (c *Gemini) buildRequest(req *agent.ModelRequest) ([]*genai.Content, *genai.GenerateContentConfig, error) {
	system, contents := geminiContents(req.Items)

	config := &genai.GenerateContentConfig{}
	if system != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: system}},
		}
	}
	if req.MaxTokens > 0 {
		config.MaxOutputTokens = int32(req.MaxTokens)
	}
	if req.Temperature > 0 {
		config.Temperature = genai.Ptr(float32(req.Temperature))
	}
	if req.TopP > 0 {
		config.TopP = genai.Ptr(float32(req.TopP))
	}
	if len(req.Tools) > 0 {
		config.Tools = geminiTools(req.Tools)
	}
	return contents, config, nil
}

// geminiContents flattens the conversation log into Content entries. Tool
// results become FunctionResponse parts on the user side; the function name
// is recovered from the call the result answers.
func geminiContents(items []agent.Item) (string, []*genai.Content) {
	var (
		system   string
		contents []*genai.Content
		current  *genai.Content
	)
	callNames := make(map[string]string)

	content := func(role genai.Role) *genai.Content {
		if current == nil || current.Role != string(role) {
			current = &genai.Content{Role: string(role)}
			contents = append(contents, current)
		}
		return current
	}

	for _, item := range items {
		switch v := item.(type) {
		case agent.TextItem:
			switch v.Role {
			case models.RoleSystem:
				if system != "" {
					system += "\n\n"
				}
				system += v.Content
			case models.RoleAssistant:
				c := content(genai.RoleModel)
				c.Parts = append(c.Parts, &genai.Part{Text: v.Content})
			default:
				c := content(genai.RoleUser)
				c.Parts = append(c.Parts, &genai.Part{Text: v.Content})
			}

		case agent.ReasoningItem:
			if v.Text != "" {
				c := content(genai.RoleModel)
				c.Parts = append(c.Parts, &genai.Part{Text: v.Text})
			}

		case agent.ToolCallItem:
			callNames[v.Call.ID] = v.Call.Name
			var args map[string]any
			if err := json.Unmarshal(v.Call.Input, &args); err != nil {
				args = map[string]any{}
			}
			c := content(genai.RoleModel)
			c.Parts = append(c.Parts, &genai.Part{
				FunctionCall: &genai.FunctionCall{
					Name: v.Call.Name,
					Args: args,
				},
			})

		case agent.ToolResultItem:
			c := content(genai.RoleUser)
			c.Parts = append(c.Parts, &genai.Part{
				FunctionResponse: &genai.FunctionResponse{
					Name: callNames[v.Result.ToolCallID],
					Response: map[string]any{
						"output": v.Result.Content,
						"error":  v.Result.IsError,
					},
				},
			})
			if v.Artifact != nil && v.Artifact.Payload != "" {
				c.Parts = append(c.Parts, &genai.Part{
					InlineData: &genai.Blob{
						MIMEType: "image/png",
						Data:     decodeBase64(v.Artifact.Payload),
					},
				})
			}
		}
	}
	return system, contents
}

func geminiTools(defs []agent.ToolDefinition) []*genai.Tool {
	declarations := make([]*genai.FunctionDeclaration, 0, len(defs))
	for _, def := range defs {
		var schemaMap map[string]any
		if err := json.Unmarshal(def.Schema, &schemaMap); err != nil {
			continue
		}
		declarations = append(declarations, &genai.FunctionDeclaration{
			Name:        def.Name,
			Description: def.Description,
			Parameters:  geminiSchema(schemaMap),
		})
	}
	if len(declarations) == 0 {
		return nil
	}
	return []*genai.Tool{{FunctionDeclarations: declarations}}
}

// geminiSchema converts a JSON Schema map to Gemini's Schema type. Only the
// keywords the Gemini API understands are carried over.
func geminiSchema(schemaMap map[string]any) *genai.Schema {
	if schemaMap == nil {
		return nil
	}
	schema := &genai.Schema{}

	if t, ok := schemaMap["type"].(string); ok {
		schema.Type = genai.Type(strings.ToUpper(t))
	}
	if desc, ok := schemaMap["description"].(string); ok {
		schema.Description = desc
	}
	if enum, ok := schemaMap["enum"].([]any); ok {
		for _, e := range enum {
			if s, ok := e.(string); ok {
				schema.Enum = append(schema.Enum, s)
			}
		}
	}
	if props, ok := schemaMap["properties"].(map[string]any); ok {
		schema.Properties = make(map[string]*genai.Schema)
		for name, prop := range props {
			if propMap, ok := prop.(map[string]any); ok {
				schema.Properties[name] = geminiSchema(propMap)
			}
		}
	}
	if required, ok := schemaMap["required"].([]any); ok {
		for _, r := range required {
			if s, ok := r.(string); ok {
				schema.Required = append(schema.Required, s)
			}
		}
	}
	if items, ok := schemaMap["items"].(map[string]any); ok {
		schema.Items = geminiSchema(items)
	}
	return schema
}

func generateCallID(name string) string {
	return fmt.Sprintf("call_%s_%d", name, time.Now().UnixNano())
}

// decodeBase64 tolerates payloads that are already raw bytes disguised as
// invalid base64 by returning them unchanged.
func decodeBase64(s string) []byte {
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return []byte(s)
	}
	return data
}
