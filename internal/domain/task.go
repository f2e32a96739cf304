package domain

import (
	"errors"
	"slices"
	"time"

	"github.com/google/uuid"
)

// TaskStatus represents the lifecycle state of a generation task
type TaskStatus string

// Possible task status values
const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusCancelled TaskStatus = "cancelled"
)

// Task validation errors
var (
	ErrEmptyTaskID        = errors.New("task ID cannot be empty")
	ErrEmptyDatasetID     = errors.New("dataset ID cannot be empty")
	ErrInvalidTaskStatus  = errors.New("invalid task status")
	ErrProgressOutOfRange = errors.New("progress must be within [0, 100]")
	ErrNegativeCount      = errors.New("task counters cannot be negative")
)

// allowedTransitions lists every legal edge of the task state machine.
var allowedTransitions = map[TaskStatus][]TaskStatus{
	TaskStatusPending: {TaskStatusRunning},
	TaskStatusRunning: {TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled},
}

// IsValid reports whether s is a known status.
func (s TaskStatus) IsValid() bool {
	switch s {
	case TaskStatusPending, TaskStatusRunning, TaskStatusCompleted,
		TaskStatusFailed, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further transitions are possible from s.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed || s == TaskStatusCancelled
}

// CanTransitionTo reports whether from → to is an edge of the state machine.
func (s TaskStatus) CanTransitionTo(to TaskStatus) bool {
	return slices.Contains(allowedTransitions[s], to)
}

// LogEntry is a single timestamped line of a task's log.
type LogEntry struct {
	At      time.Time `json:"at"`
	Message string    `json:"message"`
}

// Counts groups the record counters a task reports.
type Counts struct {
	Processed int `json:"processed_count"`
	Total     int `json:"total_count"`
	Generated int `json:"generated_count"`
	Errors    int `json:"error_count"`
}

// Validate rejects negative counters.
func (c Counts) Validate() error {
	if c.Processed < 0 || c.Total < 0 || c.Generated < 0 || c.Errors < 0 {
		return ErrNegativeCount
	}
	return nil
}

// ErrorRate returns Errors/Processed, or 0 before anything was processed.
func (c Counts) ErrorRate() float64 {
	if c.Processed == 0 {
		return 0
	}
	return float64(c.Errors) / float64(c.Processed)
}

// GenerationTask is one run of the generation pipeline against a dataset.
// Values handed out by the task registry are snapshots; mutating them has no
// effect on the registry's state.
type GenerationTask struct {
	ID           uuid.UUID        `json:"id"`
	DatasetID    string           `json:"dataset_id"`
	Status       TaskStatus       `json:"status"`
	Progress     float64          `json:"progress"`
	Counts       Counts           `json:"counts"`
	Config       GenerationConfig `json:"config"`
	CreatedAt    time.Time        `json:"created_at"`
	StartedAt    *time.Time       `json:"started_at,omitempty"`
	FinishedAt   *time.Time       `json:"finished_at,omitempty"`
	Logs         []LogEntry       `json:"logs"`
	ErrorSummary string           `json:"error_summary,omitempty"`

	// HeartbeatAt is when the owning process last reported the task alive.
	// Other processes treat a non-terminal task with an old heartbeat as
	// abandoned.
	HeartbeatAt time.Time `json:"heartbeat_at"`

	// Version increases by one with every mutation so that persisted
	// snapshots can be applied in order.
	Version int64 `json:"version"`
}

// NewGenerationTask creates a pending task for the given dataset.
func NewGenerationTask(datasetID string, cfg GenerationConfig, now time.Time) (*GenerationTask, error) {
	task := &GenerationTask{
		ID:          uuid.New(),
		DatasetID:   datasetID,
		Status:      TaskStatusPending,
		Config:      cfg,
		CreatedAt:   now.UTC(),
		HeartbeatAt: now.UTC(),
		Logs:        []LogEntry{},
		Version:     1,
	}

	if err := task.Validate(); err != nil {
		return nil, err
	}

	return task, nil
}

// Validate checks the structural invariants of a task.
func (t *GenerationTask) Validate() error {
	if t.ID == uuid.Nil {
		return ErrEmptyTaskID
	}

	if t.DatasetID == "" {
		return ErrEmptyDatasetID
	}

	if !t.Status.IsValid() {
		return ErrInvalidTaskStatus
	}

	if t.Progress < 0 || t.Progress > 100 {
		return ErrProgressOutOfRange
	}

	return t.Counts.Validate()
}

// AppendLog adds a log line, evicting the oldest entries beyond limit.
// A limit of zero or less keeps every entry.
func (t *GenerationTask) AppendLog(at time.Time, message string, limit int) {
	t.Logs = append(t.Logs, LogEntry{At: at.UTC(), Message: message})
	if limit > 0 && len(t.Logs) > limit {
		t.Logs = slices.Clone(t.Logs[len(t.Logs)-limit:])
	}
}

// Clone returns a deep copy safe to hand to concurrent readers.
func (t *GenerationTask) Clone() GenerationTask {
	c := *t
	c.Logs = slices.Clone(t.Logs)
	c.Config = t.Config.Clone()
	if t.StartedAt != nil {
		started := *t.StartedAt
		c.StartedAt = &started
	}
	if t.FinishedAt != nil {
		finished := *t.FinishedAt
		c.FinishedAt = &finished
	}
	return c
}

// TaskFilter selects tasks for listing. Zero values match everything.
type TaskFilter struct {
	DatasetID string
	Statuses  []TaskStatus
	Limit     int
}

// Matches reports whether t satisfies the filter, ignoring Limit.
func (f TaskFilter) Matches(t *GenerationTask) bool {
	if f.DatasetID != "" && t.DatasetID != f.DatasetID {
		return false
	}
	return len(f.Statuses) == 0 || slices.Contains(f.Statuses, t.Status)
}
