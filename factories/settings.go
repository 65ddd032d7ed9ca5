package factories

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"stagehand/agent"
	"stagehand/orchestrator"
	openaillm "stagehand/services/openai/llm"
)

// OrchestratorSettings configures thought admission and hint cadence.
type OrchestratorSettings struct {
	// MaxThoughts bounds concurrently running reasoning cycles.
	MaxThoughts int `json:"max_thoughts,omitempty"`
	// HintCooldownSeconds is the minimum gap between hints for one slide.
	HintCooldownSeconds int `json:"hint_cooldown_seconds,omitempty"`
	// UtteranceBuffer is the FIFO capacity for utterances waiting on a slot.
	UtteranceBuffer int `json:"utterance_buffer,omitempty"`
	// MaxToolRounds caps tool-use iterations within a single thought.
	MaxToolRounds int `json:"max_tool_rounds,omitempty"`
	// SystemPrompt is the agent's standing instruction.
	SystemPrompt string `json:"system_prompt,omitempty"`
}

// LLMSettings configures the OpenAI completion service.
type LLMSettings struct {
	Model       string  `json:"model,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
	Temperature float32 `json:"temperature,omitempty"`
}

// SettingsConfig is the top-level config loaded from settings.json.
type SettingsConfig struct {
	// ListenAddr is the HTTP bind address for the frontend channel and the
	// transcription ingress.
	ListenAddr string `json:"listen_addr,omitempty"`
	// DeckPath points at the slide deck descriptor.
	DeckPath string `json:"deck_path,omitempty"`
	// TranscriptSource points at the prior session's transcript archive.
	// Optional: without it the session runs with hints disabled in practice.
	TranscriptSource string `json:"transcript_source,omitempty"`
	// LogDir is where per-session audit logs are written.
	LogDir string `json:"log_dir,omitempty"`

	Orchestrator OrchestratorSettings `json:"orchestrator,omitempty"`
	LLM          LLMSettings          `json:"llm,omitempty"`
}

// DefaultSettingsConfig returns a SettingsConfig pre-filled with defaults.
func DefaultSettingsConfig() SettingsConfig {
	return SettingsConfig{
		ListenAddr: ":9002",
		DeckPath:   "./deck.json",
		LogDir:     "./logs",
		Orchestrator: OrchestratorSettings{
			MaxThoughts:         2,
			HintCooldownSeconds: 30,
			UtteranceBuffer:     8,
			MaxToolRounds:       10,
		},
		LLM: LLMSettings{
			Model:       "gpt-4o-mini",
			MaxTokens:   1024,
			Temperature: 0,
		},
	}
}

// SettingsConfigFromJSON parses a JSON blob into a SettingsConfig, filling
// in defaults for any field left unset.
func SettingsConfigFromJSON(data []byte) (SettingsConfig, error) {
	cfg := DefaultSettingsConfig()
	if err := json.Unmarshal(data, &cfg); err != nil {
		return SettingsConfig{}, fmt.Errorf("settings: %w", err)
	}
	defaults := DefaultSettingsConfig()
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = defaults.ListenAddr
	}
	if cfg.DeckPath == "" {
		cfg.DeckPath = defaults.DeckPath
	}
	if cfg.LogDir == "" {
		cfg.LogDir = defaults.LogDir
	}
	if cfg.Orchestrator.MaxThoughts <= 0 {
		cfg.Orchestrator.MaxThoughts = defaults.Orchestrator.MaxThoughts
	}
	if cfg.Orchestrator.HintCooldownSeconds <= 0 {
		cfg.Orchestrator.HintCooldownSeconds = defaults.Orchestrator.HintCooldownSeconds
	}
	if cfg.Orchestrator.UtteranceBuffer <= 0 {
		cfg.Orchestrator.UtteranceBuffer = defaults.Orchestrator.UtteranceBuffer
	}
	if cfg.Orchestrator.MaxToolRounds <= 0 {
		cfg.Orchestrator.MaxToolRounds = defaults.Orchestrator.MaxToolRounds
	}
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = defaults.LLM.Model
	}
	if cfg.LLM.MaxTokens <= 0 {
		cfg.LLM.MaxTokens = defaults.LLM.MaxTokens
	}
	return cfg, nil
}

// SettingsConfigFromFile loads and parses a settings file.
func SettingsConfigFromFile(path string) (SettingsConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return SettingsConfig{}, fmt.Errorf("settings: read %q: %w", path, err)
	}
	return SettingsConfigFromJSON(data)
}

// BuildOrchestratorConfig maps settings onto the orchestrator's config.
func (c SettingsConfig) BuildOrchestratorConfig() orchestrator.Config {
	return orchestrator.Config{
		MaxThoughts:     c.Orchestrator.MaxThoughts,
		HintCooldown:    time.Duration(c.Orchestrator.HintCooldownSeconds) * time.Second,
		UtteranceBuffer: c.Orchestrator.UtteranceBuffer,
	}
}

// BuildAgentConfig maps settings onto the reasoning loop's config.
func (c SettingsConfig) BuildAgentConfig() agent.Config {
	return agent.Config{
		SystemPrompt:  c.Orchestrator.SystemPrompt,
		MaxToolRounds: c.Orchestrator.MaxToolRounds,
	}
}

// BuildLLMConfig maps settings plus the API key onto the OpenAI service.
func (c SettingsConfig) BuildLLMConfig(apiKey string) openaillm.Config {
	return openaillm.Config{
		APIKey:      apiKey,
		Model:       c.LLM.Model,
		MaxTokens:   c.LLM.MaxTokens,
		Temperature: c.LLM.Temperature,
	}
}
