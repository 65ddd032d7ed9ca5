package orchestrator

import "time"

// Trigger is an utterance waiting to become, or already driving, a Thought.
type Trigger struct {
	Text      string
	Timestamp time.Time
}

// ThoughtStatus tracks the lifecycle of one reasoning cycle.
type ThoughtStatus int

const (
	ThoughtPending ThoughtStatus = iota
	ThoughtRunning
	ThoughtCompleted
	ThoughtRejected
)

func (s ThoughtStatus) String() string {
	switch s {
	case ThoughtPending:
		return "pending"
	case ThoughtRunning:
		return "running"
	case ThoughtCompleted:
		return "completed"
	case ThoughtRejected:
		return "rejected"
	}
	return "unknown"
}

// Thought is one reasoning cycle of the agent. Owned exclusively by the
// Orchestrator; the runner only ever sees the immutable ThoughtHandle.
type Thought struct {
	ID        string
	Trigger   Trigger
	StartedAt time.Time
	Status    ThoughtStatus

	// Route is the slide that was current when the thought started.
	// hint/say invocations are rejected once the presentation moves on.
	Route string
}

// ThoughtHandle is the immutable view of a Thought handed to the runner.
type ThoughtHandle struct {
	ID      string
	Trigger Trigger
	Route   string
}

// Outcome is the terminal result of a Thought.
type Outcome int

const (
	OutcomeCompleted Outcome = iota
	OutcomeRejected
)

// CoverageRecord tracks which expected topics of a slide have been spoken
// aloud, and when the last hint for that slide fired. One record per visited
// slide; exactly one is current at any instant.
type CoverageRecord struct {
	Route           string
	TopicsMentioned map[string]struct{}
	LastHintAt      time.Time
	EnteredAt       time.Time
	FinalizedAt     time.Time // zero while the record is current
}

func newCoverageRecord(route string, now time.Time) *CoverageRecord {
	return &CoverageRecord{
		Route:           route,
		TopicsMentioned: make(map[string]struct{}),
		EnteredAt:       now,
	}
}

// SessionState is the single shared mutable resource of a live session.
// Every mutation goes through the Orchestrator's arbitration path.
type SessionState struct {
	CurrentRoute   string
	Coverage       map[string]*CoverageRecord
	ActiveThoughts int
}
