// Package llm provides the model-facing client the agent loop drives:
// an agent.LlmClient backed by the Anthropic Messages API, translating
// between the conversation buffer's flat message/content-block shape and
// the SDK's typed content blocks.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/tau-run/tau/internal/agent"
	"github.com/tau-run/tau/pkg/models"
)

// AnthropicConfig holds an AnthropicClient's construction inputs.
type AnthropicConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
}

func (c AnthropicConfig) withDefaults() AnthropicConfig {
	if c.DefaultModel == "" {
		c.DefaultModel = "claude-sonnet-4-20250514"
	}
	return c
}

// AnthropicClient implements agent.LlmClient against the Anthropic
// Messages streaming API.
type AnthropicClient struct {
	client       anthropic.Client
	defaultModel string
}

// NewAnthropicClient builds an AnthropicClient. APIKey is required.
func NewAnthropicClient(cfg AnthropicConfig) (*AnthropicClient, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("llm: anthropic API key is required")
	}
	cfg = cfg.withDefaults()

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &AnthropicClient{
		client:       anthropic.NewClient(opts...),
		defaultModel: cfg.DefaultModel,
	}, nil
}

// CompleteWithStream sends req to Claude, forwarding incremental text to
// onDelta as it streams, and returns the assembled response message once
// the stream completes.
func (c *AnthropicClient) CompleteWithStream(ctx context.Context, req agent.ChatRequest, onDelta agent.DeltaHandler) (agent.ChatResponse, error) {
	messages, err := convertMessages(req.Messages)
	if err != nil {
		return agent.ChatResponse{}, fmt.Errorf("llm: convert messages: %w", err)
	}

	model := req.Model
	if model == "" {
		model = c.defaultModel
	}
	maxTokens := int64(4096)
	if req.MaxTokens != nil && *req.MaxTokens > 0 {
		maxTokens = int64(*req.MaxTokens)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		Messages:  messages,
		MaxTokens: maxTokens,
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: req.System}}
	}
	if req.Temperature != nil {
		params.Temperature = anthropic.Float(*req.Temperature)
	}
	if len(req.Tools) > 0 {
		tools, err := convertTools(req.Tools)
		if err != nil {
			return agent.ChatResponse{}, fmt.Errorf("llm: convert tools: %w", err)
		}
		params.Tools = tools
	}

	stream := c.client.Messages.NewStreaming(ctx, params)
	return processStream(stream, onDelta)
}

func processStream(stream interface {
	Next() bool
	Current() anthropic.MessageStreamEventUnion
	Err() error
}, onDelta agent.DeltaHandler) (agent.ChatResponse, error) {
	var blocks []models.ContentBlock
	var textBuilder strings.Builder
	var toolInput strings.Builder
	var currentToolID, currentToolName string
	var usage agent.Usage

	flushText := func() {
		if textBuilder.Len() > 0 {
			blocks = append(blocks, models.ContentBlock{Kind: models.BlockText, Text: textBuilder.String()})
			textBuilder.Reset()
		}
	}

	for stream.Next() {
		event := stream.Current()
		switch event.Type {
		case "message_start":
			ms := event.AsMessageStart()
			usage.InputTokens = int(ms.Message.Usage.InputTokens)
		case "content_block_start":
			block := event.AsContentBlockStart().ContentBlock
			if block.Type == "tool_use" {
				toolUse := block.AsToolUse()
				currentToolID = toolUse.ID
				currentToolName = toolUse.Name
				toolInput.Reset()
			}
		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				if delta.Text != "" {
					textBuilder.WriteString(delta.Text)
					if onDelta != nil {
						onDelta(delta.Text)
					}
				}
			case "input_json_delta":
				toolInput.WriteString(delta.PartialJSON)
			}
		case "content_block_stop":
			if currentToolID != "" {
				flushText()
				blocks = append(blocks, models.ContentBlock{
					Kind:         models.BlockToolCall,
					ToolCallID:   currentToolID,
					ToolName:     currentToolName,
					ToolArgsJSON: json.RawMessage(toolInput.String()),
				})
				currentToolID = ""
				currentToolName = ""
			}
		case "message_delta":
			md := event.AsMessageDelta()
			usage.OutputTokens = int(md.Usage.OutputTokens)
		case "message_stop":
			flushText()
			usage.TotalTokens = usage.InputTokens + usage.OutputTokens
			return agent.ChatResponse{
				Message: models.Message{Role: models.RoleAssistant, Content: blocks},
				Usage:   usage,
			}, nil
		}
	}
	if err := stream.Err(); err != nil {
		return agent.ChatResponse{}, fmt.Errorf("llm: stream error: %w", err)
	}
	flushText()
	usage.TotalTokens = usage.InputTokens + usage.OutputTokens
	return agent.ChatResponse{
		Message: models.Message{Role: models.RoleAssistant, Content: blocks},
		Usage:   usage,
	}, nil
}

// convertMessages translates the conversation buffer into Anthropic
// message params. System-role messages are skipped; the loop carries the
// system prompt separately via ChatRequest.System.
func convertMessages(messages []models.Message) ([]anthropic.MessageParam, error) {
	var out []anthropic.MessageParam
	for _, msg := range messages {
		if msg.Role == models.RoleSystem {
			continue
		}

		var content []anthropic.ContentBlockParamUnion
		for _, b := range msg.Content {
			switch b.Kind {
			case models.BlockText:
				if b.Text != "" {
					content = append(content, anthropic.NewTextBlock(b.Text))
				}
			case models.BlockToolCall:
				var input map[string]any
				if len(b.ToolArgsJSON) > 0 {
					if err := json.Unmarshal(b.ToolArgsJSON, &input); err != nil {
						return nil, fmt.Errorf("invalid tool call input for %s: %w", b.ToolName, err)
					}
				}
				content = append(content, anthropic.NewToolUseBlock(b.ToolCallID, input, b.ToolName))
			case models.BlockToolResult:
				content = append(content, anthropic.NewToolResultBlock(b.ResultToolCallID, b.ResultText, b.IsError))
			}
		}
		if len(content) == 0 {
			continue
		}

		role := anthropic.MessageParamRoleUser
		if msg.Role == models.RoleAssistant {
			role = anthropic.MessageParamRoleAssistant
		}
		out = append(out, anthropic.MessageParam{Role: role, Content: content})
	}
	return out, nil
}

func convertTools(tools []agent.ToolSchema) ([]anthropic.ToolUnionParam, error) {
	var out []anthropic.ToolUnionParam
	for _, tool := range tools {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(tool.Parameters, &schema); err != nil {
			return nil, fmt.Errorf("invalid schema for %s: %w", tool.Name, err)
		}
		param := anthropic.ToolUnionParamOfTool(schema, tool.Name)
		if param.OfTool == nil {
			return nil, fmt.Errorf("invalid schema for %s: missing tool definition", tool.Name)
		}
		param.OfTool.Description = anthropic.String(tool.Description)
		out = append(out, param)
	}
	return out, nil
}
