package core

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bytedance/sonic"
)

// SessionMetadata is the first JSON line in each session audit file.
type SessionMetadata struct {
	SessionID string `json:"session_id"`
	Deck      string `json:"deck,omitempty"`
	StartedAt string `json:"started_at"`
}

// InvocationRecord is one audited tool invocation.
type InvocationRecord struct {
	Kind      string         `json:"kind"` // always "tool_invocation"
	Timestamp string         `json:"ts"`
	ThoughtID string         `json:"thought_id"`
	Tool      string         `json:"tool"`
	Arguments map[string]any `json:"arguments,omitempty"`
	Result    string         `json:"result,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// AdvanceRecord is one audited slide transition.
type AdvanceRecord struct {
	Kind      string `json:"kind"` // always "slide_advance"
	Timestamp string `json:"ts"`
	FromRoute string `json:"from_route,omitempty"`
	ToRoute   string `json:"to_route"`
	Origin    string `json:"origin"` // "tool", "frontend", "connection", "heartbeat"
}

// MessageLogger appends every tool invocation and slide transition to a
// per-session .jsonl file for audit and replay. It is a pure observer:
// write failures are logged and never propagated to the caller.
type MessageLogger struct {
	mu        sync.Mutex
	file      *os.File
	logDir    string
	sessionID string
	logger    *Logger
}

// NewMessageLogger creates the log directory and session audit file, writes
// the metadata first line, and creates an .active marker file.
func NewMessageLogger(logDir, sessionID, deck string, logger *Logger) (*MessageLogger, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("message logger: mkdir %q: %w", logDir, err)
	}

	filePath := filepath.Join(logDir, sessionID+".jsonl")
	f, err := os.Create(filePath)
	if err != nil {
		return nil, fmt.Errorf("message logger: create %q: %w", filePath, err)
	}

	// Write metadata first line.
	meta := SessionMetadata{
		SessionID: sessionID,
		Deck:      deck,
		StartedAt: time.Now().UTC().Format(time.RFC3339),
	}
	data, _ := sonic.Marshal(meta)
	f.Write(data)
	f.Write([]byte("\n"))

	// Create .active marker.
	activePath := filepath.Join(logDir, sessionID+".active")
	if af, err := os.Create(activePath); err == nil {
		af.Close()
	}

	if logger == nil {
		logger = GetLogger()
	}

	return &MessageLogger{
		file:      f,
		logDir:    logDir,
		sessionID: sessionID,
		logger:    logger.With(map[string]interface{}{"component": "msglog"}),
	}, nil
}

// RecordInvocation appends a tool invocation line. Best-effort.
func (l *MessageLogger) RecordInvocation(rec InvocationRecord) {
	rec.Kind = "tool_invocation"
	if rec.Timestamp == "" {
		rec.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	l.append(rec)
}

// RecordAdvance appends a slide transition line. Best-effort.
func (l *MessageLogger) RecordAdvance(rec AdvanceRecord) {
	rec.Kind = "slide_advance"
	if rec.Timestamp == "" {
		rec.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	l.append(rec)
}

func (l *MessageLogger) append(v any) {
	data, err := sonic.Marshal(v)
	if err != nil {
		l.logger.With(map[string]interface{}{"error": err}).Warn("failed to marshal audit record, dropping")
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return
	}
	if _, err := l.file.Write(append(data, '\n')); err != nil {
		l.logger.With(map[string]interface{}{"error": err}).Warn("failed to append audit record")
	}
}

// Close flushes and closes the audit file, then removes the .active marker.
func (l *MessageLogger) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		l.file.Close()
		l.file = nil
	}

	activePath := filepath.Join(l.logDir, l.sessionID+".active")
	os.Remove(activePath)
}
