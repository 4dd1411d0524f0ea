// Package audit defines the audit-record sink the governance engine emits
// policy_evaluation events to, plus file-backed and no-op implementations.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventTypePolicyEvaluation marks records produced by governance decisions.
const EventTypePolicyEvaluation = "policy_evaluation"

// Event is one audit record describing a governance decision. Timestamp is
// milliseconds since the Unix epoch; UserID is present only when the request
// carried an identity.
type Event struct {
	EventType                string `json:"event_type"`
	Route                    string `json:"route"`
	Classification           string `json:"classification"`
	Mode                     string `json:"mode"`
	RequireContentEncryption bool   `json:"require_content_encryption"`
	EncryptLogs              bool   `json:"encrypt_logs"`
	Redaction                string `json:"redaction"`
	RetentionDays            int    `json:"retention_days"`
	Timestamp                int64  `json:"timestamp"`
	UserID                   string `json:"user_id,omitempty"`
}

// Sink accepts audit events for persistence.
type Sink interface {
	Write(ctx context.Context, event Event) error
	Close() error
}

// NopSink discards every event.
type NopSink struct{}

// Write discards the event.
func (NopSink) Write(context.Context, Event) error { return nil }

// Close is a no-op.
func (NopSink) Close() error { return nil }

// record is the persisted envelope around an event.
type record struct {
	ID       string `json:"id"`
	Category string `json:"category"`
	TS       int64  `json:"ts"`
	Event    Event  `json:"event"`
}

// FileSink appends one JSON record per line to a log file.
type FileSink struct {
	mu   sync.Mutex
	file *os.File
	enc  *json.Encoder
}

// NewFileSink opens (creating directories and the file as needed) an
// append-only JSONL audit log at path.
func NewFileSink(path string) (*FileSink, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create audit log directory: %w", err)
		}
	}
	// #nosec G304 -- audit log path is configured by the operator
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	return &FileSink{file: f, enc: json.NewEncoder(f)}, nil
}

// Write appends the event wrapped in its envelope. Each record carries a
// fresh ID and a write timestamp independent of the event's own.
func (s *FileSink) Write(_ context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := record{
		ID:       uuid.New().String(),
		Category: "AUDIT",
		TS:       time.Now().UnixMilli(),
		Event:    event,
	}
	if err := s.enc.Encode(rec); err != nil {
		return fmt.Errorf("append audit record: %w", err)
	}
	return nil
}

// Close closes the underlying file.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}
