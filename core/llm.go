package core

type LLMMessageRole string

const (
	LLMMessageRoleUser      LLMMessageRole = "user"
	LLMMessageRoleAssistant LLMMessageRole = "assistant"
	LLMMessageRoleSystem    LLMMessageRole = "system"
	LLMMessageRoleTool      LLMMessageRole = "tool"
)

// LLMMessage represents a message exchanged with the LLM.
type LLMMessage struct {
	Role       LLMMessageRole `json:"role"`                   // Role of the message sender (e.g., user, assistant, system, tool).
	Message    string         `json:"message"`                // Content of the message.
	ToolCalls  []LLMToolCall  `json:"tool_calls,omitempty"`   // Tool calls issued by an assistant message.
	ToolCallID string         `json:"tool_call_id,omitempty"` // For role "tool": id of the call this message answers.
	Name       string         `json:"name,omitempty"`         // For role "tool": name of the tool that produced the result.
}

type LLMParamterType string

const (
	LLMParameterTypeString  LLMParamterType = "string"
	LLMParameterTypeInteger LLMParamterType = "number"
	LLMParameterTypeBoolean LLMParamterType = "boolean"
	LLMParameterTypeObject  LLMParamterType = "object"
)

// Parameter represents a parameter for an LLM tool.
type Parameter struct {
	Name        string          `json:"name"`        // Name of the parameter.
	Description string          `json:"description"` // Description of the parameter.
	Required    bool            `json:"required"`    // Whether the parameter is required.
	Example     string          `json:"example"`     // Example value for the parameter.
	Type        LLMParamterType `json:"type"`        // Type of the parameter (e.g., string, integer).
}

// LLMTool represents a tool that can be used by the LLM.
type LLMTool struct {
	Name        string      `json:"name"`                 // Name of the tool.
	ToolId      string      `json:"tool_id"`              // Id of the tool.
	Description string      `json:"description"`          // Description of the tool's functionality.
	Parameters  []Parameter `json:"parameters,omitempty"` // Parameters required by the tool.
}

// LLMToolCall represents a call to an LLM tool.
type LLMToolCall struct {
	CallID     string          `json:"call_id"`              // Provider-assigned id used to pair the result message.
	ToolId     string          `json:"tool_id"`              // Id of the tool being called.
	Parameters *map[string]any `json:"parameters,omitempty"` // Parameters for the tool call.
}

// LLMCompletion is the outcome of a single reasoning round: either plain
// assistant text, one or more tool calls, or both.
type LLMCompletion struct {
	Content   string
	ToolCalls []LLMToolCall
}

type LLMContext struct {
	Messages []LLMMessage
	Tools    []LLMTool
}

func (c *LLMContext) AddSystemMessage(text string) {
	c.Messages = append(c.Messages, LLMMessage{Role: LLMMessageRoleSystem, Message: text})
}

func (c *LLMContext) AddUserMessage(text string) {
	c.Messages = append(c.Messages, LLMMessage{Role: LLMMessageRoleUser, Message: text})
}

func (c *LLMContext) AddAssistantMessage(text string) {
	c.Messages = append(c.Messages, LLMMessage{Role: LLMMessageRoleAssistant, Message: text})
}
