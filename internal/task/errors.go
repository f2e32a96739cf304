package task

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/phrazzld/synthgen/internal/domain"
)

// Task orchestration errors
var (
	ErrTaskNotFound       = errors.New("task not found")
	ErrDatasetLocked      = errors.New("dataset lock conflict")
	ErrInvalidTransition  = errors.New("invalid state transition")
	ErrProgressRegression = errors.New("progress cannot decrease")
	ErrErrorRateExceeded  = errors.New("error rate exceeded")
	ErrStalled            = errors.New("task stalled")
	ErrInterrupted        = errors.New("task interrupted")
	ErrQueueClosed        = errors.New("task queue is closed")
	ErrQueueFull          = errors.New("task queue is full")
)

// LockConflictError reports that another non-terminal task holds the dataset.
type LockConflictError struct {
	DatasetID string
	HolderID  uuid.UUID
}

func (e *LockConflictError) Error() string {
	return fmt.Sprintf("dataset %s is locked by task %s", e.DatasetID, e.HolderID)
}

// Is matches ErrDatasetLocked.
func (e *LockConflictError) Is(target error) bool {
	return target == ErrDatasetLocked
}

// TransitionError reports an operation the task's current status forbids.
type TransitionError struct {
	TaskID uuid.UUID
	From   domain.TaskStatus
	To     domain.TaskStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("task %s: cannot move from %s to %s", e.TaskID, e.From, e.To)
}

// Is matches ErrInvalidTransition.
func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// ErrorRateError is the fatal condition of a task whose record failures
// exceeded its threshold.
type ErrorRateError struct {
	Errors    int
	Processed int
	Threshold float64
}

func (e *ErrorRateError) Error() string {
	return fmt.Sprintf("error rate %.2f > threshold %.2f (%d of %d records failed)",
		e.Rate(), e.Threshold, e.Errors, e.Processed)
}

// Rate returns Errors/Processed.
func (e *ErrorRateError) Rate() float64 {
	return domain.Counts{Errors: e.Errors, Processed: e.Processed}.ErrorRate()
}

// Is matches ErrErrorRateExceeded.
func (e *ErrorRateError) Is(target error) bool {
	return target == ErrErrorRateExceeded
}
