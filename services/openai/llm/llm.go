package llm

import (
	"context"
	"fmt"
	"sync"

	"github.com/bytedance/sonic"
	"github.com/sashabaranov/go-openai"

	"stagehand/core"
)

// OpenAILLMService runs reasoning rounds against OpenAI's chat completion
// API with tool calling.
type OpenAILLMService struct {
	client      *openai.Client
	apiKey      string
	model       string
	maxTokens   int
	temperature float32

	ctx    context.Context
	cancel context.CancelFunc

	isInitialized bool
	mu            sync.RWMutex
}

// Config holds the configuration for the OpenAI service
type Config struct {
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float32
}

// NewOpenAILLMService creates a new instance of OpenAILLMService
func NewOpenAILLMService(config Config) *OpenAILLMService {
	return &OpenAILLMService{
		apiKey:      config.APIKey,
		model:       config.Model,
		maxTokens:   config.MaxTokens,
		temperature: config.Temperature,
	}
}

// Init initializes the OpenAI service
func (s *OpenAILLMService) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.apiKey == "" {
		return fmt.Errorf("OpenAI API key is required")
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.client = openai.NewClient(s.apiKey)

	// Test the connection
	if _, err := s.client.ListModels(ctx); err != nil {
		return fmt.Errorf("failed to connect to OpenAI: %w", err)
	}

	s.isInitialized = true
	return nil
}

// Cleanup performs cleanup operations
func (s *OpenAILLMService) Cleanup() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.client = nil
	s.isInitialized = false
	return nil
}

// Reset cancels any in-flight request and recreates the client.
func (s *OpenAILLMService) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.client = openai.NewClient(s.apiKey)
	return nil
}

// Complete runs one reasoning round: it returns the assistant's text and any
// tool calls it decided to make.
func (s *OpenAILLMService) Complete(ctx context.Context, llmCtx core.LLMContext) (core.LLMCompletion, error) {
	s.mu.RLock()
	if !s.isInitialized {
		s.mu.RUnlock()
		return core.LLMCompletion{}, fmt.Errorf("OpenAI service not initialized")
	}
	client := s.client
	serviceCtx := s.ctx
	s.mu.RUnlock()

	messages, err := s.convertMessages(llmCtx.Messages)
	if err != nil {
		return core.LLMCompletion{}, fmt.Errorf("failed to convert messages: %w", err)
	}

	req := openai.ChatCompletionRequest{
		Model:       s.model,
		Messages:    messages,
		MaxTokens:   s.maxTokens,
		Temperature: s.temperature,
	}
	if len(llmCtx.Tools) > 0 {
		tools, err := s.convertTools(llmCtx.Tools)
		if err != nil {
			return core.LLMCompletion{}, fmt.Errorf("failed to convert tools: %w", err)
		}
		req.Tools = tools
	}

	// Honor both the caller's context and the service lifecycle.
	reqCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-serviceCtx.Done():
			cancel()
		case <-reqCtx.Done():
		}
	}()

	resp, err := client.CreateChatCompletion(reqCtx, req)
	if err != nil {
		return core.LLMCompletion{}, fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return core.LLMCompletion{}, fmt.Errorf("chat completion returned no choices")
	}

	choice := resp.Choices[0].Message
	completion := core.LLMCompletion{Content: choice.Content}
	for _, toolCall := range choice.ToolCalls {
		if toolCall.Function.Name == "" {
			continue
		}
		completion.ToolCalls = append(completion.ToolCalls, s.convertToolCall(toolCall))
	}
	return completion, nil
}

// convertMessages converts core messages to OpenAI messages
func (s *OpenAILLMService) convertMessages(messages []core.LLMMessage) ([]openai.ChatCompletionMessage, error) {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, msg := range messages {
		converted := openai.ChatCompletionMessage{
			Role:       s.convertRole(msg.Role),
			Content:    msg.Message,
			ToolCallID: msg.ToolCallID,
			Name:       msg.Name,
		}
		for _, call := range msg.ToolCalls {
			args := "{}"
			if call.Parameters != nil {
				data, err := sonic.Marshal(call.Parameters)
				if err != nil {
					return nil, fmt.Errorf("failed to marshal tool call arguments: %w", err)
				}
				args = string(data)
			}
			converted.ToolCalls = append(converted.ToolCalls, openai.ToolCall{
				ID:   call.CallID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      call.ToolId,
					Arguments: args,
				},
			})
		}
		out = append(out, converted)
	}
	return out, nil
}

// convertTools converts core tools to OpenAI tools
func (s *OpenAILLMService) convertTools(tools []core.LLMTool) ([]openai.Tool, error) {
	openAITools := make([]openai.Tool, 0, len(tools))

	for _, tool := range tools {
		parameters := make(map[string]interface{})
		properties := make(map[string]interface{})
		required := make([]string, 0)

		for _, param := range tool.Parameters {
			prop := map[string]interface{}{
				"type":        s.convertParameterType(param.Type),
				"description": param.Description,
			}
			if param.Example != "" {
				prop["example"] = param.Example
			}
			properties[param.Name] = prop
			if param.Required {
				required = append(required, param.Name)
			}
		}

		parameters["type"] = "object"
		parameters["properties"] = properties
		if len(required) > 0 {
			parameters["required"] = required
		}

		paramsJSON, err := sonic.Marshal(parameters)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal parameters: %w", err)
		}

		openAITools = append(openAITools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.ToolId,
				Description: tool.Description,
				Parameters:  paramsJSON,
			},
		})
	}

	return openAITools, nil
}

// convertRole converts core role to OpenAI role
func (s *OpenAILLMService) convertRole(role core.LLMMessageRole) string {
	switch role {
	case core.LLMMessageRoleUser:
		return openai.ChatMessageRoleUser
	case core.LLMMessageRoleAssistant:
		return openai.ChatMessageRoleAssistant
	case core.LLMMessageRoleSystem:
		return openai.ChatMessageRoleSystem
	case core.LLMMessageRoleTool:
		return openai.ChatMessageRoleTool
	default:
		return openai.ChatMessageRoleUser
	}
}

// convertParameterType converts core parameter type to JSON schema type
func (s *OpenAILLMService) convertParameterType(paramType core.LLMParamterType) string {
	switch paramType {
	case core.LLMParameterTypeString:
		return "string"
	case core.LLMParameterTypeInteger:
		return "integer"
	case core.LLMParameterTypeBoolean:
		return "boolean"
	case core.LLMParameterTypeObject:
		return "object"
	default:
		return "string"
	}
}

// convertToolCall converts an OpenAI tool call to a core tool call
func (s *OpenAILLMService) convertToolCall(toolCall openai.ToolCall) core.LLMToolCall {
	var parameters map[string]interface{}
	if toolCall.Function.Arguments != "" {
		if err := sonic.Unmarshal([]byte(toolCall.Function.Arguments), &parameters); err != nil {
			// If unmarshaling fails, keep the raw arguments for the arbiter
			// to reject with context.
			parameters = map[string]interface{}{
				"raw_arguments": toolCall.Function.Arguments,
			}
		}
	}

	return core.LLMToolCall{
		CallID:     toolCall.ID,
		ToolId:     toolCall.Function.Name,
		Parameters: &parameters,
	}
}
