package stores

import (
	"context"
	"time"
)

// LaunchStatus represents the outcome of a recorded launch
type LaunchStatus string

const (
	LaunchStatusPending    LaunchStatus = "pending"
	LaunchStatusDispatched LaunchStatus = "dispatched"
	LaunchStatusFailed     LaunchStatus = "failed"
)

// IsFinal reports whether the status ends a launch.
func (s LaunchStatus) IsFinal() bool {
	return s == LaunchStatusDispatched || s == LaunchStatusFailed
}

// EventLevel represents the severity level of an event
type EventLevel string

const (
	EventLevelDebug   EventLevel = "debug"
	EventLevelInfo    EventLevel = "info"
	EventLevelWarning EventLevel = "warning"
	EventLevelError   EventLevel = "error"
)

// Evaluator is the last known lifecycle state of an evaluator
type Evaluator struct {
	ID            string    `json:"id"`
	ApplicationID string    `json:"application_id"`
	State         string    `json:"state"`
	LastError     *string   `json:"last_error,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Launch is one descriptor handed to a dispatcher. There is at most one per
// evaluator.
type Launch struct {
	ID          int64        `json:"id"`
	EvaluatorID string       `json:"evaluator_id"`
	ProcessType string       `json:"process_type"`
	MemoryMB    int          `json:"memory_mb"`
	FileCount   int          `json:"file_count"`
	Dispatcher  string       `json:"dispatcher"`
	Status      LaunchStatus `json:"status"`
	Descriptor  string       `json:"descriptor"` // JSON blob
	Error       *string      `json:"error,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
	CompletedAt *time.Time   `json:"completed_at,omitempty"`
}

// Event represents an append-only lifecycle event
type Event struct {
	ID          int64      `json:"id"`
	EventID     string     `json:"event_id"`
	EvaluatorID *string    `json:"evaluator_id,omitempty"`
	Type        string     `json:"type"`
	Level       EventLevel `json:"level"`
	Source      string     `json:"source"`
	Message     string     `json:"message"`
	Details     *string    `json:"details,omitempty"` // JSON blob
	Timestamp   time.Time  `json:"timestamp"`
}

// Store defines the interface for the launch ledger
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Evaluator operations
	UpsertEvaluator(ctx context.Context, e *Evaluator) error
	GetEvaluator(ctx context.Context, id string) (*Evaluator, error)
	ListEvaluators(ctx context.Context, state *string, limit, offset int) ([]*Evaluator, error)

	// Launch operations
	CreateLaunch(ctx context.Context, l *Launch) error
	GetLaunch(ctx context.Context, evaluatorID string) (*Launch, error)
	UpdateLaunchStatus(ctx context.Context, evaluatorID string, status LaunchStatus, errMsg *string) error
	ListLaunches(ctx context.Context, status *LaunchStatus, limit, offset int) ([]*Launch, error)

	// Event operations
	AppendEvent(ctx context.Context, event *Event) error
	GetEvents(ctx context.Context, evaluatorID *string, level *EventLevel, limit, offset int) ([]*Event, error)

	// Utility
	HealthCheck(ctx context.Context) error
}
