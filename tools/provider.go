package tools

import (
	"stagehand/core"
)

// Arbiter is the orchestrator-side serialization point every tool invocation
// is routed through.
type Arbiter interface {
	OnToolInvocation(thoughtID, tool string, args map[string]any) (string, error)
}

// Provider exposes the fixed presentation tool set to the reasoning loop.
// Definitions are static; execution is delegated to the Arbiter, which owns
// validation and state arbitration.
type Provider struct {
	arbiter Arbiter
	logger  *core.Logger
}

func NewProvider(arbiter Arbiter, logger *core.Logger) *Provider {
	if logger == nil {
		logger = core.GetLogger()
	}
	return &Provider{
		arbiter: arbiter,
		logger:  logger.With(map[string]interface{}{"component": "tools"}),
	}
}

// List returns the tool definitions offered to the LLM.
func (p *Provider) List() []core.LLMTool {
	return []core.LLMTool{
		{
			ToolId:      "get_all_slide_details",
			Name:        "get_all_slide_details",
			Description: "Retrieve the routes, expected topics and content of all slides in the presentation.",
		},
		{
			ToolId:      "hint",
			Name:        "hint",
			Description: "Display a hint on the presentation UI about content the presenter should still discuss.",
			Parameters: []core.Parameter{
				{
					Name:        "text",
					Description: "The hint text to display.",
					Required:    true,
					Type:        core.LLMParameterTypeString,
				},
			},
		},
		{
			ToolId:      "say",
			Name:        "say",
			Description: "Say something out loud. Only use this tool if the agent has been spoken to directly.",
			Parameters: []core.Parameter{
				{
					Name:        "text",
					Description: "The text to say out loud.",
					Required:    true,
					Type:        core.LLMParameterTypeString,
				},
			},
		},
		{
			ToolId:      "next_slide",
			Name:        "next_slide",
			Description: "Navigate to the next slide in the presentation sequence.",
		},
		{
			ToolId:      "previous_slide",
			Name:        "previous_slide",
			Description: "Navigate to the previous slide in the presentation sequence.",
		},
		{
			ToolId:      "goto_slide",
			Name:        "goto_slide",
			Description: "Navigate to a specific slide in the presentation.",
			Parameters: []core.Parameter{
				{
					Name:        "route",
					Description: "The route of the slide to navigate to.",
					Required:    true,
					Example:     "/00-cover",
					Type:        core.LLMParameterTypeString,
				},
			},
		},
	}
}

// Execute routes a tool call issued by a Thought through the arbiter.
// The result is the payload handed back to the LLM; a typed rejection comes
// back as an error and is reported to the LLM as a tool failure.
func (p *Provider) Execute(thoughtID string, call core.LLMToolCall) (string, error) {
	args := map[string]any{}
	if call.Parameters != nil {
		args = *call.Parameters
	}
	result, err := p.arbiter.OnToolInvocation(thoughtID, call.ToolId, args)
	if err != nil {
		p.logger.With(map[string]interface{}{
			"thought_id": thoughtID,
			"tool":       call.ToolId,
			"error":      err,
		}).Debug("tool invocation rejected")
	}
	return result, err
}
