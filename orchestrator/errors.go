package orchestrator

import "errors"

// Typed rejections surfaced to a Thought by the arbitration path. They never
// mutate session state and never terminate the session; the Thought may
// retry its reasoning or give up.
var (
	ErrUnknownTool     = errors.New("orchestrator: unknown tool")
	ErrUnknownThought  = errors.New("orchestrator: unknown or completed thought")
	ErrMissingArgument = errors.New("orchestrator: missing or invalid tool argument")
	ErrUnknownRoute    = errors.New("orchestrator: route not in slide deck")
	ErrNoCurrentSlide  = errors.New("orchestrator: no current slide set")
	ErrCooldownActive  = errors.New("orchestrator: hint cooldown has not elapsed")
	ErrStaleThought    = errors.New("orchestrator: presentation moved past this thought's slide")
	ErrAtLastSlide     = errors.New("orchestrator: already at the last slide")
	ErrAtFirstSlide    = errors.New("orchestrator: already at the first slide")
	ErrAtCapacity      = errors.New("orchestrator: max concurrent thoughts reached")
	ErrNotConnected    = errors.New("orchestrator: frontend not connected")
	ErrSessionClosed   = errors.New("orchestrator: session closed")
)
