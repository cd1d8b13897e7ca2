package providers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/haasonsaas/nexus/internal/agent"
	"github.com/haasonsaas/nexus/pkg/models"
	openai "github.com/sashabaranov/go-openai"
)

// OpenAIProvider implements agent.LLMProvider for OpenAI's chat completions API.
type OpenAIProvider struct {
	client     *openai.Client
	apiKey     string
	maxRetries int
	retryDelay time.Duration
}

// NewOpenAIProvider builds a provider for apiKey. A provider constructed with
// an empty key is usable (Name/Models/SupportsTools work) but Complete fails
// fast, matching how a misconfigured provider should behave in a multi-
// provider registry rather than panicking at startup.
func NewOpenAIProvider(apiKey string) *OpenAIProvider {
	p := &OpenAIProvider{apiKey: apiKey, maxRetries: 3, retryDelay: time.Second}
	if apiKey != "" {
		p.client = openai.NewClient(apiKey)
	}
	return p
}

func (p *OpenAIProvider) Name() string { return "openai" }

func (p *OpenAIProvider) Models() []agent.Model {
	return []agent.Model{
		{ID: "gpt-4o", Name: "GPT-4o", Limits: models.ModelLimits{ContextWindow: 128000, MaxOutput: 16384}, SupportsVision: true, SupportsTools: true},
		{ID: "gpt-4-turbo", Name: "GPT-4 Turbo", Limits: models.ModelLimits{ContextWindow: 128000, MaxOutput: 4096}, SupportsVision: true, SupportsTools: true},
		{ID: "gpt-3.5-turbo", Name: "GPT-3.5 Turbo", Limits: models.ModelLimits{ContextWindow: 16385, MaxOutput: 4096}, SupportsVision: false, SupportsTools: true},
		{ID: "gpt-4", Name: "GPT-4", Limits: models.ModelLimits{ContextWindow: 8192, MaxOutput: 4096}, SupportsVision: false, SupportsTools: true},
	}
}

func (p *OpenAIProvider) SupportsTools() bool { return true }

// Complete sends one step call and returns the response as a ProviderEvent
// stream, mirroring the Anthropic adapter's contract.
func (p *OpenAIProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.ProviderEvent, error) {
	if p.client == nil {
		return nil, errors.New("openai: API key not configured")
	}

	messages, err := p.convertMessages(req.Messages, req.System)
	if err != nil {
		return nil, fmt.Errorf("openai: failed to convert messages: %w", err)
	}

	chatReq := openai.ChatCompletionRequest{
		Model:    req.Model,
		Messages: messages,
		Stream:   true,
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = p.convertTools(req.Tools)
	}

	var stream *openai.ChatCompletionStream
	var lastErr error

	for attempt := 0; attempt < p.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(p.retryDelay * time.Duration(attempt)):
			}
		}

		stream, lastErr = p.client.CreateChatCompletionStream(ctx, chatReq)
		if lastErr == nil {
			break
		}
		if !p.isRetryableError(lastErr) {
			return nil, fmt.Errorf("openai: non-retryable error: %w", lastErr)
		}
	}

	if lastErr != nil {
		return nil, fmt.Errorf("openai: max retries exceeded: %w", lastErr)
	}

	events := make(chan *agent.ProviderEvent)
	go p.processStream(ctx, stream, events)
	return events, nil
}

// processStream drains the OpenAI SSE stream into ProviderEvents. Tool
// calls arrive as index-keyed argument fragments and are only emitted once
// the finish reason confirms the call is complete.
func (p *OpenAIProvider) processStream(ctx context.Context, stream *openai.ChatCompletionStream, events chan<- *agent.ProviderEvent) {
	defer close(events)
	defer stream.Close()

	toolCalls := make(map[int]*models.ToolCall)
	var inputTokens, outputTokens int

	for {
		select {
		case <-ctx.Done():
			events <- &agent.ProviderEvent{Type: agent.ProviderEventError, Err: ctx.Err()}
			return
		default:
		}

		response, err := stream.Recv()
		if err != nil {
			if err == io.EOF {
				events <- &agent.ProviderEvent{
					Type:         agent.ProviderEventFinish,
					FinishReason: "stop",
					TokenUsage:   &models.TokenUsage{InputTokens: inputTokens, OutputTokens: outputTokens, TotalTokens: inputTokens + outputTokens},
				}
				return
			}
			events <- &agent.ProviderEvent{Type: agent.ProviderEventError, Err: fmt.Errorf("openai: stream error: %w", err)}
			return
		}

		if response.Usage != nil {
			inputTokens = response.Usage.PromptTokens
			outputTokens = response.Usage.CompletionTokens
		}

		if len(response.Choices) == 0 {
			continue
		}
		choice := response.Choices[0]
		delta := choice.Delta

		if delta.Content != "" {
			events <- &agent.ProviderEvent{Type: agent.ProviderEventTextDelta, TextDelta: delta.Content}
		}

		for _, tc := range delta.ToolCalls {
			index := 0
			if tc.Index != nil {
				index = *tc.Index
			}
			if toolCalls[index] == nil {
				toolCalls[index] = &models.ToolCall{Type: "function"}
			}
			if tc.ID != "" {
				toolCalls[index].ID = tc.ID
			}
			if tc.Function.Name != "" {
				toolCalls[index].Name = tc.Function.Name
			}
			if tc.Function.Arguments != "" {
				toolCalls[index].Arguments += tc.Function.Arguments
			}
		}

		if choice.FinishReason == openai.FinishReasonToolCalls {
			for _, tc := range toolCalls {
				if tc.ID != "" && tc.Name != "" {
					events <- &agent.ProviderEvent{Type: agent.ProviderEventToolCall, ToolCall: tc}
				}
			}
			events <- &agent.ProviderEvent{
				Type:         agent.ProviderEventFinish,
				FinishReason: "tool-calls",
				TokenUsage:   &models.TokenUsage{InputTokens: inputTokens, OutputTokens: outputTokens, TotalTokens: inputTokens + outputTokens},
			}
			return
		}
		if choice.FinishReason == openai.FinishReasonLength {
			events <- &agent.ProviderEvent{
				Type:         agent.ProviderEventFinish,
				FinishReason: "length",
				TokenUsage:   &models.TokenUsage{InputTokens: inputTokens, OutputTokens: outputTokens, TotalTokens: inputTokens + outputTokens},
			}
			return
		}
	}
}

// convertMessages converts formatted history into OpenAI chat messages.
// Tool-role messages map one-to-one onto an OpenAI "tool" message keyed by
// ToolCallID, since the data model no longer carries a separate
// ToolResults slice per message.
func (p *OpenAIProvider) convertMessages(messages []agent.CompletionMessage, system string) ([]openai.ChatCompletionMessage, error) {
	result := make([]openai.ChatCompletionMessage, 0, len(messages)+1)

	if system != "" {
		result = append(result, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	}

	for _, msg := range messages {
		text := models.ConcatText(msg.Content)

		switch msg.Role {
		case models.RoleTool:
			result = append(result, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    text,
				ToolCallID: msg.ToolCallID,
			})

		case models.RoleAssistant:
			oaiMsg := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: text}
			if len(msg.ToolCalls) > 0 {
				oaiMsg.ToolCalls = make([]openai.ToolCall, len(msg.ToolCalls))
				for i, tc := range msg.ToolCalls {
					oaiMsg.ToolCalls[i] = openai.ToolCall{
						ID:       tc.ID,
						Type:     openai.ToolTypeFunction,
						Function: openai.FunctionCall{Name: tc.Name, Arguments: tc.Arguments},
					}
				}
			}
			result = append(result, oaiMsg)

		default:
			result = append(result, p.userMessage(msg, text))
		}
	}

	return result, nil
}

// userMessage builds a user-role chat message, switching to OpenAI's
// multi-part content form only when an image part is present.
func (p *OpenAIProvider) userMessage(msg agent.CompletionMessage, text string) openai.ChatCompletionMessage {
	var images []models.ContentPart
	for _, part := range msg.Content {
		if part.Type == models.ContentImage {
			images = append(images, part)
		}
	}
	if len(images) == 0 {
		return openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: text}
	}

	parts := make([]openai.ChatMessagePart, 0, len(images)+1)
	if text != "" {
		parts = append(parts, openai.ChatMessagePart{Type: openai.ChatMessagePartTypeText, Text: text})
	}
	for _, img := range images {
		url := img.URL
		if url == "" && len(img.Data) > 0 {
			url = fmt.Sprintf("data:%s;base64,%s", img.MimeType, base64.StdEncoding.EncodeToString(img.Data))
		}
		if url == "" {
			continue
		}
		parts = append(parts, openai.ChatMessagePart{
			Type:     openai.ChatMessagePartTypeImageURL,
			ImageURL: &openai.ChatMessageImageURL{URL: url, Detail: openai.ImageURLDetailAuto},
		})
	}
	return openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, MultiContent: parts}
}

// convertTools translates the core's Tool contract into OpenAI's function
// tool definitions, reading the JSON Schema from Parameters().
func (p *OpenAIProvider) convertTools(tools []agent.Tool) []openai.Tool {
	result := make([]openai.Tool, len(tools))

	for i, tool := range tools {
		var schema map[string]any
		if err := json.Unmarshal(tool.Parameters(), &schema); err != nil {
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		result[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name(),
				Description: tool.Description(),
				Parameters:  schema,
			},
		}
	}

	return result
}

func (p *OpenAIProvider) isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	errMsg := strings.ToLower(err.Error())
	if strings.Contains(errMsg, "rate limit") || strings.Contains(errMsg, "429") {
		return true
	}
	if strings.Contains(errMsg, "500") || strings.Contains(errMsg, "502") || strings.Contains(errMsg, "503") || strings.Contains(errMsg, "504") {
		return true
	}
	if strings.Contains(errMsg, "timeout") || strings.Contains(errMsg, "deadline exceeded") {
		return true
	}
	return false
}
