package voice

import (
	"context"

	"stagehand/core"
)

// Speaker is the boundary to the external text-to-speech collaborator.
// Implementations should return quickly; the orchestrator invokes Speak
// outside its arbitration lock but a running Thought still waits on it.
type Speaker interface {
	Speak(ctx context.Context, text string) error
}

// LogSpeaker is the no-voice-stack implementation: it logs what would have
// been spoken. Used in development and tests.
type LogSpeaker struct {
	logger *core.Logger
}

func NewLogSpeaker(logger *core.Logger) *LogSpeaker {
	if logger == nil {
		logger = core.GetLogger()
	}
	return &LogSpeaker{logger: logger.With(map[string]interface{}{"component": "voice"})}
}

func (s *LogSpeaker) Speak(_ context.Context, text string) error {
	s.logger.With(map[string]interface{}{"text": text}).Info("speak")
	return nil
}
