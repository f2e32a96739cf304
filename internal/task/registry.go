package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/phrazzld/synthgen/internal/domain"
	"github.com/phrazzld/synthgen/internal/redact"
	"github.com/phrazzld/synthgen/internal/store"
)

// RegistryConfig holds configuration for the task registry
type RegistryConfig struct {
	// LogLimit caps the number of log entries kept per task. Zero keeps all.
	LogLimit int

	// AbandonAfter is how old the persisted heartbeat of an unfinished task
	// owned by another registry must be before Recover fails it. Zero
	// treats every unfinished task this registry does not own as abandoned,
	// which is only safe when no other process shares the task store.
	AbandonAfter time.Duration

	// Now is the clock used for timestamps. Defaults to time.Now.
	Now func() time.Time
}

// DefaultRegistryConfig returns a RegistryConfig with reasonable defaults
func DefaultRegistryConfig() RegistryConfig {
	return RegistryConfig{LogLimit: 200, Now: time.Now}
}

// Payload carries the optional data applied together with a transition.
type Payload struct {
	Counts       *domain.Counts
	ErrorSummary string
	Note         string
}

// entry is the mutable state of one task. Its mutex serializes every write
// to the task, so a progress update can never interleave with a terminal
// transition.
type entry struct {
	mu              sync.Mutex
	task            domain.GenerationTask
	cancelRequested bool
	lastActivity    time.Time
}

// Registry is the single source of truth for task status.
//
// Lock ordering: an entry's mutex may be held while taking the registry
// mutex, never the reverse.
type Registry struct {
	mu      sync.RWMutex
	entries map[uuid.UUID]*entry
	locks   map[string]uuid.UUID

	store        store.TaskStore
	logLimit     int
	abandonAfter time.Duration
	now          func() time.Time
	logger       *slog.Logger
}

// NewRegistry creates a Registry. taskStore may be nil, in which case task
// snapshots live only in memory.
func NewRegistry(taskStore store.TaskStore, cfg RegistryConfig, logger *slog.Logger) *Registry {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Registry{
		entries:      make(map[uuid.UUID]*entry),
		locks:        make(map[string]uuid.UUID),
		store:        taskStore,
		logLimit:     cfg.LogLimit,
		abandonAfter: cfg.AbandonAfter,
		now:          cfg.Now,
		logger:       logger.With("component", "task_registry"),
	}
}

// Create allocates a Pending task for datasetID together with the dataset's
// lock. It fails with a *LockConflictError while another non-terminal task
// holds the lock, either in this registry or, when a task store is
// configured, in any process sharing the store.
func (r *Registry) Create(ctx context.Context, datasetID string, cfg domain.GenerationConfig) (domain.GenerationTask, error) {
	if err := cfg.Validate(); err != nil {
		return domain.GenerationTask{}, fmt.Errorf("invalid generation config: %w", err)
	}

	now := r.now()
	t, err := domain.NewGenerationTask(datasetID, cfg.Clone(), now)
	if err != nil {
		return domain.GenerationTask{}, err
	}
	t.AppendLog(now, "task created", r.logLimit)

	r.mu.Lock()
	if holder, locked := r.locks[datasetID]; locked {
		r.mu.Unlock()
		return domain.GenerationTask{}, &LockConflictError{DatasetID: datasetID, HolderID: holder}
	}
	e := &entry{task: *t, lastActivity: now}
	r.entries[t.ID] = e
	r.locks[datasetID] = t.ID
	snapshot := t.Clone()
	r.mu.Unlock()

	if r.store != nil {
		if err := r.store.CreateTask(ctx, snapshot); err != nil {
			r.mu.Lock()
			delete(r.entries, t.ID)
			if r.locks[datasetID] == t.ID {
				delete(r.locks, datasetID)
			}
			r.mu.Unlock()

			var locked *store.DatasetLockedError
			if errors.As(err, &locked) {
				return domain.GenerationTask{}, &LockConflictError{DatasetID: datasetID, HolderID: locked.HolderID}
			}
			return domain.GenerationTask{}, fmt.Errorf("failed to create task: %w", err)
		}
	}

	r.logger.InfoContext(ctx, "task created", "task_id", t.ID, "dataset_id", datasetID)
	return snapshot, nil
}

// Get returns a snapshot of the task.
func (r *Registry) Get(id uuid.UUID) (domain.GenerationTask, error) {
	e, err := r.lookup(id)
	if err != nil {
		return domain.GenerationTask{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.task.Clone(), nil
}

// List returns snapshots of the tasks matching filter, newest first.
func (r *Registry) List(filter domain.TaskFilter) []domain.GenerationTask {
	var out []domain.GenerationTask
	for _, e := range r.snapshotEntries() {
		e.mu.Lock()
		if filter.Matches(&e.task) {
			out = append(out, e.task.Clone())
		}
		e.mu.Unlock()
	}

	slices.SortFunc(out, func(a, b domain.GenerationTask) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out
}

// LockHolder returns the task currently holding datasetID's lock.
func (r *Registry) LockHolder(datasetID string) (uuid.UUID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.locks[datasetID]
	return id, ok
}

// Transition moves the task to status to. Only Pending→Running and
// Running→Completed|Failed|Cancelled are legal; anything else fails with a
// *TransitionError. A terminal transition stamps finished_at and releases
// the dataset lock.
func (r *Registry) Transition(ctx context.Context, id uuid.UUID, to domain.TaskStatus, payload Payload) (domain.GenerationTask, error) {
	e, err := r.lookup(id)
	if err != nil {
		return domain.GenerationTask{}, err
	}

	e.mu.Lock()
	if !e.task.Status.CanTransitionTo(to) {
		from := e.task.Status
		e.mu.Unlock()
		return domain.GenerationTask{}, &TransitionError{TaskID: id, From: from, To: to}
	}
	r.applyTransition(e, to, payload)
	snapshot := e.task.Clone()
	e.mu.Unlock()

	r.logger.InfoContext(ctx, "task transitioned",
		"task_id", id,
		"dataset_id", snapshot.DatasetID,
		"status", to)
	r.persist(ctx, snapshot)
	return snapshot, nil
}

// applyTransition mutates e; the caller holds e.mu and has checked the edge.
func (r *Registry) applyTransition(e *entry, to domain.TaskStatus, payload Payload) {
	now := r.now()
	t := &e.task

	t.Status = to
	t.HeartbeatAt = now.UTC()
	if payload.Counts != nil {
		t.Counts = *payload.Counts
	}
	if payload.Note != "" {
		t.AppendLog(now, payload.Note, r.logLimit)
	}

	switch {
	case to == domain.TaskStatusRunning:
		started := now.UTC()
		t.StartedAt = &started
		e.lastActivity = now
	case to.IsTerminal():
		finished := now.UTC()
		t.FinishedAt = &finished
		if to == domain.TaskStatusCompleted {
			t.Progress = 100
		}
		if to == domain.TaskStatusFailed {
			t.ErrorSummary = redact.String(payload.ErrorSummary)
		}
		r.releaseLock(t.DatasetID, t.ID)
	}
	t.Version++
}

// releaseLock drops datasetID's lock if id holds it.
func (r *Registry) releaseLock(datasetID string, id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.locks[datasetID] == id {
		delete(r.locks, datasetID)
	}
}

// UpdateProgress records the progress of a Running task and appends note to
// its log. A progress value lower than the current one is rejected with
// ErrProgressRegression.
func (r *Registry) UpdateProgress(
	ctx context.Context,
	id uuid.UUID,
	progress float64,
	counts domain.Counts,
	note string,
) (domain.GenerationTask, error) {
	if progress < 0 || progress > 100 {
		return domain.GenerationTask{}, domain.ErrProgressOutOfRange
	}
	if err := counts.Validate(); err != nil {
		return domain.GenerationTask{}, err
	}

	e, err := r.lookup(id)
	if err != nil {
		return domain.GenerationTask{}, err
	}

	e.mu.Lock()
	t := &e.task
	if t.Status != domain.TaskStatusRunning {
		from := t.Status
		e.mu.Unlock()
		return domain.GenerationTask{}, &TransitionError{TaskID: id, From: from, To: domain.TaskStatusRunning}
	}
	if progress < t.Progress {
		current := t.Progress
		e.mu.Unlock()
		return domain.GenerationTask{}, fmt.Errorf("%w: %.2f < %.2f", ErrProgressRegression, progress, current)
	}

	now := r.now()
	t.Progress = progress
	t.Counts = counts
	t.HeartbeatAt = now.UTC()
	if note != "" {
		t.AppendLog(now, note, r.logLimit)
	}
	t.Version++
	e.lastActivity = now
	snapshot := t.Clone()
	e.mu.Unlock()

	r.persist(ctx, snapshot)
	return snapshot, nil
}

// Touch records that the executor of a Running task is still working, which
// resets the watchdog's stall timer without changing the snapshot. It fails
// with a *TransitionError once the task is no longer Running.
func (r *Registry) Touch(id uuid.UUID) error {
	e, err := r.lookup(id)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.task.Status != domain.TaskStatusRunning {
		return &TransitionError{TaskID: id, From: e.task.Status, To: domain.TaskStatusRunning}
	}
	e.lastActivity = r.now()
	return nil
}

// Heartbeat stamps every unfinished task owned by this registry and persists
// it, telling other processes sharing the task store that the owner is
// alive. It returns the number of tasks stamped.
func (r *Registry) Heartbeat(ctx context.Context) int {
	stamped := 0
	for _, e := range r.snapshotEntries() {
		e.mu.Lock()
		if e.task.Status.IsTerminal() {
			e.mu.Unlock()
			continue
		}
		e.task.HeartbeatAt = r.now().UTC()
		e.task.Version++
		snapshot := e.task.Clone()
		e.mu.Unlock()

		r.persist(ctx, snapshot)
		stamped++
	}
	return stamped
}

// RequestCancel sets the task's cooperative cancellation flag. The status
// is left unchanged; the executor observes the flag at its next batch
// boundary. Terminal tasks cannot be cancelled.
func (r *Registry) RequestCancel(ctx context.Context, id uuid.UUID) error {
	e, err := r.lookup(id)
	if err != nil {
		return err
	}

	e.mu.Lock()
	t := &e.task
	if t.Status.IsTerminal() {
		from := t.Status
		e.mu.Unlock()
		return &TransitionError{TaskID: id, From: from, To: domain.TaskStatusCancelled}
	}
	if e.cancelRequested {
		e.mu.Unlock()
		return nil
	}
	e.cancelRequested = true
	now := r.now()
	t.AppendLog(now, "cancellation requested", r.logLimit)
	t.HeartbeatAt = now.UTC()
	t.Version++
	snapshot := t.Clone()
	e.mu.Unlock()

	r.logger.InfoContext(ctx, "task cancellation requested", "task_id", id)
	r.persist(ctx, snapshot)
	return nil
}

// CancelRequested reports whether cancellation was requested for the task.
func (r *Registry) CancelRequested(id uuid.UUID) bool {
	e, err := r.lookup(id)
	if err != nil {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cancelRequested
}

// Abort fails a non-terminal task that never got to run, passing through
// Running when the task is still Pending so that only legal edges are used.
func (r *Registry) Abort(ctx context.Context, id uuid.UUID, summary string) (domain.GenerationTask, error) {
	e, err := r.lookup(id)
	if err != nil {
		return domain.GenerationTask{}, err
	}

	e.mu.Lock()
	if e.task.Status.IsTerminal() {
		from := e.task.Status
		e.mu.Unlock()
		return domain.GenerationTask{}, &TransitionError{TaskID: id, From: from, To: domain.TaskStatusFailed}
	}
	if e.task.Status == domain.TaskStatusPending {
		r.applyTransition(e, domain.TaskStatusRunning, Payload{})
	}
	r.applyTransition(e, domain.TaskStatusFailed, Payload{ErrorSummary: summary, Note: summary})
	snapshot := e.task.Clone()
	e.mu.Unlock()

	r.logger.WarnContext(ctx, "task aborted", "task_id", id, "reason", summary)
	r.persist(ctx, snapshot)
	return snapshot, nil
}

// FailStalled fails every Running task whose last progress update is older
// than stall, releasing its dataset lock. The check and the transition
// happen under the task's own lock, so a task that finishes concurrently is
// never finalized twice.
func (r *Registry) FailStalled(ctx context.Context, stall time.Duration) []uuid.UUID {
	var failed []uuid.UUID
	for _, e := range r.snapshotEntries() {
		e.mu.Lock()
		idle := r.now().Sub(e.lastActivity)
		if e.task.Status != domain.TaskStatusRunning || idle <= stall {
			e.mu.Unlock()
			continue
		}

		summary := fmt.Sprintf("%v: no progress for %s", ErrStalled, idle.Round(time.Second))
		r.applyTransition(e, domain.TaskStatusFailed, Payload{ErrorSummary: summary, Note: summary})
		snapshot := e.task.Clone()
		e.mu.Unlock()

		r.logger.WarnContext(ctx, "stalled task failed",
			"task_id", snapshot.ID,
			"dataset_id", snapshot.DatasetID,
			"idle", idle)
		r.persist(ctx, snapshot)
		failed = append(failed, snapshot.ID)
	}
	return failed
}

// EvictTerminal drops terminal tasks that finished more than retention ago
// from memory. Persisted snapshots are kept.
func (r *Registry) EvictTerminal(retention time.Duration) int {
	cutoff := r.now().Add(-retention)

	var evict []uuid.UUID
	for _, e := range r.snapshotEntries() {
		e.mu.Lock()
		if e.task.Status.IsTerminal() && e.task.FinishedAt != nil && e.task.FinishedAt.Before(cutoff) {
			evict = append(evict, e.task.ID)
		}
		e.mu.Unlock()
	}

	if len(evict) == 0 {
		return 0
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range evict {
		delete(r.entries, id)
	}
	return len(evict)
}

// Recover fails the persisted tasks that are unfinished and abandoned: not
// owned by this registry and, when AbandonAfter is set, without a heartbeat
// for longer than that. Running it at startup and on every watchdog pass
// releases the datasets of a process that died mid-task.
func (r *Registry) Recover(ctx context.Context) ([]domain.GenerationTask, error) {
	if r.store == nil {
		return nil, nil
	}

	unfinished, err := r.store.ListTasks(ctx, domain.TaskFilter{
		Statuses: []domain.TaskStatus{domain.TaskStatusPending, domain.TaskStatusRunning},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list unfinished tasks: %w", err)
	}

	now := r.now()
	recovered := make([]domain.GenerationTask, 0, len(unfinished))
	for _, t := range unfinished {
		if r.abandonAfter > 0 && now.Sub(t.HeartbeatAt) <= r.abandonAfter {
			continue
		}

		r.mu.Lock()
		if local, owned := r.entries[t.ID]; owned {
			r.mu.Unlock()
			r.resync(ctx, local)
			continue
		}
		r.entries[t.ID] = &entry{task: t.Clone(), lastActivity: now}
		if _, locked := r.locks[t.DatasetID]; !locked {
			r.locks[t.DatasetID] = t.ID
		}
		r.mu.Unlock()

		summary := fmt.Sprintf("%v: no heartbeat since %s", ErrInterrupted, t.HeartbeatAt.Format(time.RFC3339))
		snapshot, err := r.Abort(ctx, t.ID, summary)
		if err != nil {
			return recovered, err
		}
		recovered = append(recovered, snapshot)
	}

	if len(recovered) > 0 {
		r.logger.InfoContext(ctx, "recovered abandoned tasks", "count", len(recovered))
	}
	return recovered, nil
}

// resync re-persists a task this registry already finalized but whose
// terminal snapshot never reached the store.
func (r *Registry) resync(ctx context.Context, e *entry) {
	e.mu.Lock()
	if !e.task.Status.IsTerminal() {
		e.mu.Unlock()
		return
	}
	e.task.Version++
	snapshot := e.task.Clone()
	e.mu.Unlock()
	r.persist(ctx, snapshot)
}

func (r *Registry) lookup(id uuid.UUID) (*entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	return e, nil
}

func (r *Registry) snapshotEntries() []*entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entries := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	return entries
}

// persist writes a snapshot to the task store. Failures are logged; the
// in-memory registry stays authoritative, except when another process has
// already finalized the task in the store.
func (r *Registry) persist(ctx context.Context, snapshot domain.GenerationTask) {
	if r.store == nil {
		return
	}
	err := r.store.SaveTask(context.WithoutCancel(ctx), snapshot)
	switch {
	case err == nil:
	case errors.Is(err, store.ErrTaskFinalized):
		r.adoptFinalized(ctx, snapshot.ID)
	default:
		r.logger.ErrorContext(ctx, "failed to persist task snapshot",
			"task_id", snapshot.ID,
			"version", snapshot.Version,
			"error", err)
	}
}

// adoptFinalized replaces the local copy of a task with the terminal
// snapshot stored by another process. The task's executor then fails its
// next registry call and stops, and the dataset lock is released.
func (r *Registry) adoptFinalized(ctx context.Context, id uuid.UUID) {
	stored, err := r.store.GetTask(context.WithoutCancel(ctx), id)
	if err != nil {
		r.logger.ErrorContext(ctx, "failed to load finalized task", "task_id", id, "error", err)
		return
	}
	e, err := r.lookup(id)
	if err != nil {
		return
	}

	e.mu.Lock()
	e.task = stored.Clone()
	if e.task.Status.IsTerminal() {
		r.releaseLock(e.task.DatasetID, id)
	}
	e.mu.Unlock()

	r.logger.WarnContext(ctx, "task was finalized by another process",
		"task_id", id,
		"status", stored.Status,
		"summary", stored.ErrorSummary)
}
