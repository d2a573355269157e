package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/tau-run/tau/internal/agent"
	"github.com/tau-run/tau/pkg/models"
)

// VeniceBaseURL is Venice AI's OpenAI-compatible API endpoint.
const VeniceBaseURL = "https://api.venice.ai/api/v1"

// VeniceConfig holds a VeniceClient's construction inputs.
type VeniceConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
	MaxRetries   int
	RetryDelay   time.Duration
}

func (c VeniceConfig) withDefaults() VeniceConfig {
	if c.BaseURL == "" {
		c.BaseURL = VeniceBaseURL
	}
	if c.DefaultModel == "" {
		c.DefaultModel = "llama-3.3-70b"
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = time.Second
	}
	return c
}

// VeniceClient implements agent.LlmClient against Venice AI's
// OpenAI-compatible chat completions API, giving the loop a second
// backend alongside AnthropicClient for privacy-focused or anonymized
// model access.
type VeniceClient struct {
	client       *openai.Client
	defaultModel string
	maxRetries   int
	retryDelay   time.Duration
}

// NewVeniceClient builds a VeniceClient. APIKey is required.
func NewVeniceClient(cfg VeniceConfig) (*VeniceClient, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("llm: venice API key is required")
	}
	cfg = cfg.withDefaults()

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	clientConfig.BaseURL = cfg.BaseURL

	return &VeniceClient{
		client:       openai.NewClientWithConfig(clientConfig),
		defaultModel: cfg.DefaultModel,
		maxRetries:   cfg.MaxRetries,
		retryDelay:   cfg.RetryDelay,
	}, nil
}

// CompleteWithStream sends req to Venice, forwarding incremental text to
// onDelta as it streams, and returns the assembled response message once
// the stream completes. Stream setup is retried on transient failures;
// a stream already in progress is not retried mid-flight.
func (c *VeniceClient) CompleteWithStream(ctx context.Context, req agent.ChatRequest, onDelta agent.DeltaHandler) (agent.ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = c.defaultModel
	}

	messages := convertVeniceMessages(req.Messages, req.System)

	chatReq := openai.ChatCompletionRequest{
		Model:    model,
		Messages: messages,
		Stream:   true,
	}
	if req.MaxTokens != nil && *req.MaxTokens > 0 {
		chatReq.MaxTokens = *req.MaxTokens
	}
	if req.Temperature != nil {
		chatReq.Temperature = float32(*req.Temperature)
	}
	if len(req.Tools) > 0 {
		tools, err := convertVeniceTools(req.Tools)
		if err != nil {
			return agent.ChatResponse{}, fmt.Errorf("llm: convert tools: %w", err)
		}
		chatReq.Tools = tools
	}

	stream, err := c.openStreamWithRetry(ctx, chatReq)
	if err != nil {
		return agent.ChatResponse{}, err
	}
	defer stream.Close()

	return processVeniceStream(stream, onDelta)
}

func (c *VeniceClient) openStreamWithRetry(ctx context.Context, req openai.ChatCompletionRequest) (*openai.ChatCompletionStream, error) {
	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.retryDelay * time.Duration(attempt)):
			}
		}
		stream, err := c.client.CreateChatCompletionStream(ctx, req)
		if err == nil {
			return stream, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("llm: venice stream: %w", lastErr)
}

func processVeniceStream(stream *openai.ChatCompletionStream, onDelta agent.DeltaHandler) (agent.ChatResponse, error) {
	var blocks []models.ContentBlock
	var textBuilder strings.Builder
	toolCalls := map[int]*models.ContentBlock{}
	var toolOrder []int
	var usage agent.Usage

	flushText := func() {
		if textBuilder.Len() > 0 {
			blocks = append(blocks, models.ContentBlock{Kind: models.BlockText, Text: textBuilder.String()})
			textBuilder.Reset()
		}
	}
	flushToolCalls := func() {
		for _, idx := range toolOrder {
			blocks = append(blocks, *toolCalls[idx])
		}
		toolCalls = map[int]*models.ContentBlock{}
		toolOrder = nil
	}

	for {
		resp, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				flushText()
				flushToolCalls()
				usage.TotalTokens = usage.InputTokens + usage.OutputTokens
				return agent.ChatResponse{
					Message: models.Message{Role: models.RoleAssistant, Content: blocks},
					Usage:   usage,
				}, nil
			}
			return agent.ChatResponse{}, fmt.Errorf("llm: venice stream recv: %w", err)
		}

		usage.InputTokens = resp.Usage.PromptTokens
		usage.OutputTokens = resp.Usage.CompletionTokens

		if len(resp.Choices) == 0 {
			continue
		}
		delta := resp.Choices[0].Delta

		if delta.Content != "" {
			textBuilder.WriteString(delta.Content)
			if onDelta != nil {
				onDelta(delta.Content)
			}
		}

		for _, tc := range delta.ToolCalls {
			index := 0
			if tc.Index != nil {
				index = *tc.Index
			}
			block, ok := toolCalls[index]
			if !ok {
				block = &models.ContentBlock{Kind: models.BlockToolCall}
				toolCalls[index] = block
				toolOrder = append(toolOrder, index)
			}
			if tc.ID != "" {
				block.ToolCallID = tc.ID
			}
			if tc.Function.Name != "" {
				block.ToolName = tc.Function.Name
			}
			if tc.Function.Arguments != "" {
				block.ToolArgsJSON = json.RawMessage(string(block.ToolArgsJSON) + tc.Function.Arguments)
			}
		}

		if resp.Choices[0].FinishReason == openai.FinishReasonToolCalls {
			flushText()
			flushToolCalls()
		}
	}
}

// convertVeniceMessages translates the conversation buffer into
// OpenAI-shaped chat messages, prepending the system prompt as a
// system-role message the way Venice's OpenAI-compatible API expects
// (Anthropic's client instead carries it out-of-band on the request).
func convertVeniceMessages(messages []models.Message, system string) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	if system != "" {
		out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	}

	for _, msg := range messages {
		if msg.Role == models.RoleSystem {
			continue
		}

		role := openai.ChatMessageRoleUser
		if msg.Role == models.RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}

		var text strings.Builder
		var toolCalls []openai.ToolCall
		for _, b := range msg.Content {
			switch b.Kind {
			case models.BlockText:
				text.WriteString(b.Text)
			case models.BlockToolCall:
				toolCalls = append(toolCalls, openai.ToolCall{
					ID:   b.ToolCallID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      b.ToolName,
						Arguments: string(b.ToolArgsJSON),
					},
				})
			case models.BlockToolResult:
				out = append(out, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					Content:    b.ResultText,
					ToolCallID: b.ResultToolCallID,
				})
			}
		}

		if text.Len() == 0 && len(toolCalls) == 0 {
			continue
		}
		out = append(out, openai.ChatCompletionMessage{
			Role:      role,
			Content:   text.String(),
			ToolCalls: toolCalls,
		})
	}
	return out
}

func convertVeniceTools(tools []agent.ToolSchema) ([]openai.Tool, error) {
	out := make([]openai.Tool, 0, len(tools))
	for _, tool := range tools {
		var params map[string]any
		if len(tool.Parameters) > 0 {
			if err := json.Unmarshal(tool.Parameters, &params); err != nil {
				return nil, fmt.Errorf("invalid schema for %s: %w", tool.Name, err)
			}
		}
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  params,
			},
		})
	}
	return out, nil
}
