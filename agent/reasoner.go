package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"stagehand/core"
	"stagehand/orchestrator"
	"stagehand/slides"
)

// CompletionService runs one reasoning round against the LLM.
type CompletionService interface {
	Complete(ctx context.Context, llmCtx core.LLMContext) (core.LLMCompletion, error)
}

// ToolProvider is the callable tool surface offered to the reasoning loop.
type ToolProvider interface {
	List() []core.LLMTool
	Execute(thoughtID string, call core.LLMToolCall) (string, error)
}

// Config tunes the reasoning loop.
type Config struct {
	// SystemPrompt is injected at the top of every thought's conversation.
	SystemPrompt string
	// MaxToolRounds caps tool-use iterations within a single thought. On the
	// final round tools are withheld so the LLM must conclude.
	MaxToolRounds int
	// HistoryLimit bounds how many conversation messages are carried across
	// thoughts.
	HistoryLimit int
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxToolRounds: 10,
		HistoryLimit:  40,
	}
}

// Reasoner drives one LLM tool-calling loop per Thought. It implements
// orchestrator.Runner. Multiple thoughts may run concurrently; the shared
// conversation history is the only guarded state, everything else is
// per-call.
type Reasoner struct {
	cfg    Config
	llm    CompletionService
	tools  ToolProvider
	deck   *slides.Store
	logger *core.Logger

	mu      sync.Mutex
	history []core.LLMMessage
}

func NewReasoner(cfg Config, llm CompletionService, tools ToolProvider, deck *slides.Store, logger *core.Logger) *Reasoner {
	if logger == nil {
		logger = core.GetLogger()
	}
	if cfg.MaxToolRounds <= 0 {
		cfg.MaxToolRounds = DefaultConfig().MaxToolRounds
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = DefaultConfig().HistoryLimit
	}
	return &Reasoner{
		cfg:    cfg,
		llm:    llm,
		tools:  tools,
		deck:   deck,
		logger: logger.With(map[string]interface{}{"component": "agent"}),
	}
}

// Run executes the tool-calling loop for one Thought. The slide snapshot in
// the handle keeps the whole thought reasoning about the slide that was
// current when it started; the orchestrator rejects stale side effects.
func (r *Reasoner) Run(ctx context.Context, handle orchestrator.ThoughtHandle) error {
	logger := r.logger.With(map[string]interface{}{"thought_id": handle.ID})

	conv := []core.LLMMessage{}
	if r.cfg.SystemPrompt != "" {
		conv = append(conv, core.LLMMessage{Role: core.LLMMessageRoleSystem, Message: r.cfg.SystemPrompt})
	}
	conv = append(conv, core.LLMMessage{Role: core.LLMMessageRoleSystem, Message: r.slideContext(handle.Route)})
	conv = append(conv, r.snapshotHistory()...)
	conv = append(conv, core.LLMMessage{Role: core.LLMMessageRoleUser, Message: handle.Trigger.Text})

	toolDefs := r.tools.List()
	var finalText string

	for round := 1; round <= r.cfg.MaxToolRounds; round++ {
		llmCtx := core.LLMContext{Messages: conv, Tools: toolDefs}
		if round == r.cfg.MaxToolRounds {
			conv = append(conv, core.LLMMessage{Role: core.LLMMessageRoleSystem, Message: "Maximum tool usage reached. Tools unavailable."})
			llmCtx = core.LLMContext{Messages: conv}
		}

		completion, err := r.llm.Complete(ctx, llmCtx)
		if err != nil {
			return fmt.Errorf("agent: completion round %d: %w", round, err)
		}

		conv = append(conv, core.LLMMessage{
			Role:      core.LLMMessageRoleAssistant,
			Message:   completion.Content,
			ToolCalls: completion.ToolCalls,
		})
		finalText = completion.Content

		if len(completion.ToolCalls) == 0 || round == r.cfg.MaxToolRounds {
			break
		}

		stale := false
		for _, call := range completion.ToolCalls {
			result, execErr := r.tools.Execute(handle.ID, call)
			content := result
			if execErr != nil {
				content = fmt.Sprintf("Error: %v", execErr)
				if errors.Is(execErr, orchestrator.ErrStaleThought) {
					stale = true
				}
			}
			conv = append(conv, core.LLMMessage{
				Role:       core.LLMMessageRoleTool,
				Message:    content,
				ToolCallID: call.CallID,
				Name:       call.ToolId,
			})
		}
		if stale {
			// The presentation moved on. Acting further would apply stale
			// context, so the thought gives up quietly.
			logger.Info("thought abandoned, slide left behind")
			r.commitHistory(handle.Trigger.Text, "")
			return nil
		}
	}

	r.commitHistory(handle.Trigger.Text, finalText)
	return nil
}

// slideContext renders the presentation context message for the LLM:
// current slide, all routes, and the current slide's content.
func (r *Reasoner) slideContext(currentRoute string) string {
	routes := r.deck.Routes()
	if len(routes) == 0 {
		return "PRESENTATION CONTEXT: No presentation slides are currently available."
	}

	var b strings.Builder
	b.WriteString("PRESENTATION CONTEXT:\n")
	if currentRoute != "" {
		fmt.Fprintf(&b, "Current slide: %s\n", currentRoute)
	} else {
		b.WriteString("Current slide: [Not set]\n")
	}
	fmt.Fprintf(&b, "Available slides (%d total):\n", len(routes))
	for _, route := range routes {
		fmt.Fprintf(&b, "  - %s\n", route)
	}

	if slide, ok := r.deck.ByRoute(currentRoute); ok {
		fmt.Fprintf(&b, "\nCurrent slide content:\n--- SLIDE: %s ---\n", currentRoute)
		if slide.Content != "" {
			b.WriteString(slide.Content)
			b.WriteString("\n")
		} else {
			b.WriteString("[No content available]\n")
		}
		fmt.Fprintf(&b, "--- END SLIDE: %s ---", currentRoute)
	}
	return b.String()
}

// snapshotHistory returns the carried conversation with consecutive user
// messages concatenated, so rapid-fire utterances read as one turn.
func (r *Reasoner) snapshotHistory() []core.LLMMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return concatenateConsecutiveUserMessages(r.history)
}

func (r *Reasoner) commitHistory(userText, assistantText string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.history = append(r.history, core.LLMMessage{Role: core.LLMMessageRoleUser, Message: userText})
	if assistantText != "" {
		r.history = append(r.history, core.LLMMessage{Role: core.LLMMessageRoleAssistant, Message: assistantText})
	}
	if excess := len(r.history) - r.cfg.HistoryLimit; excess > 0 {
		r.history = append([]core.LLMMessage(nil), r.history[excess:]...)
	}
}

// concatenateConsecutiveUserMessages merges runs of user messages into one,
// joined with blank lines to preserve utterance boundaries.
func concatenateConsecutiveUserMessages(messages []core.LLMMessage) []core.LLMMessage {
	if len(messages) == 0 {
		return nil
	}

	var result []core.LLMMessage
	var pending []string
	flush := func() {
		if len(pending) == 0 {
			return
		}
		result = append(result, core.LLMMessage{
			Role:    core.LLMMessageRoleUser,
			Message: strings.Join(pending, "\n\n"),
		})
		pending = nil
	}

	for _, msg := range messages {
		if msg.Role == core.LLMMessageRoleUser {
			pending = append(pending, strings.TrimSpace(msg.Message))
			continue
		}
		flush()
		result = append(result, msg)
	}
	flush()
	return result
}
