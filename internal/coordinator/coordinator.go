// Package coordinator serializes task transitions per task and enforces
// the one-active-task-per-worker invariant across the ordinary and
// maintenance task collections. Start and resume requests that collide
// with another running task come back as an explicit swap decision for the
// caller to confirm, never as a silent failure.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Likheet/hermes-monitoring-sub001/internal/clock"
	"github.com/Likheet/hermes-monitoring-sub001/internal/model"
	"github.com/Likheet/hermes-monitoring-sub001/internal/shift"
	"github.com/Likheet/hermes-monitoring-sub001/internal/state"
)

var (
	// ErrPauseUnavailable: pausing one's only assignment is not allowed,
	// there is no second task to switch to.
	ErrPauseUnavailable = errors.New("pause unavailable: no other assigned task")

	// ErrShiftViolation blocks assigning work to an off-duty or on-break
	// worker.
	ErrShiftViolation = errors.New("worker is outside shift hours")
)

// TaskStore is the persistence contract the coordinator requires. Saves
// use optimistic concurrency: a stale write returns state.ErrConflict.
type TaskStore interface {
	LoadCore(ctx context.Context, ref model.TaskRef) (*model.TaskCore, error)
	SaveTransition(ctx context.Context, ref model.TaskRef, core *model.TaskCore, entry *model.AuditLogEntry) error
	ActiveForWorker(ctx context.Context, workerID string) ([]model.ActiveTask, error)
	AssignmentCount(ctx context.Context, workerID string) (int, error)
}

type Decision string

const (
	Granted      Decision = "GRANTED"
	SwapRequired Decision = "SWAP_REQUIRED"
	Denied       Decision = "DENIED"
)

// Outcome is the answer to a start or resume request. SwapRequired is a
// decision point, not an error: ConflictTaskID/Name feed the caller's
// swap-confirmation prompt.
type Outcome struct {
	Decision         Decision `json:"decision"`
	ConflictTaskRef  model.TaskRef
	ConflictTaskID   string `json:"conflict_task_id,omitempty"`
	ConflictTaskName string `json:"conflict_task_name,omitempty"`
	Reason           string `json:"reason,omitempty"`
}

// SwapRequiredError carries a SwapRequired outcome across boundaries that
// can only convey errors, such as the HTTP transport and queue replay.
type SwapRequiredError struct {
	Collection model.Collection `json:"paused_task_collection"`
	TaskID     string           `json:"paused_task_id"`
	TaskName   string           `json:"paused_task_name"`
}

func (e *SwapRequiredError) Error() string {
	return fmt.Sprintf("another task is active: %s (%s); swap confirmation required", e.TaskName, e.TaskID)
}

// Ref addresses the conflicting task. The collection matters: the active
// set unions both task collections, so the running task may well be a
// maintenance task.
func (e *SwapRequiredError) Ref() model.TaskRef {
	collection := e.Collection
	if collection == "" {
		collection = model.CollectionTasks
	}
	return model.TaskRef{Collection: collection, ID: e.TaskID}
}

type Coordinator struct {
	store  TaskStore
	shifts shift.Service
	clock  *clock.Source

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func New(store TaskStore, shifts shift.Service, clk *clock.Source) *Coordinator {
	if clk == nil {
		clk = clock.System()
	}
	return &Coordinator{store: store, shifts: shifts, clock: clk, locks: make(map[string]*sync.Mutex)}
}

func lockKey(ref model.TaskRef) string {
	return string(ref.Collection) + "/" + ref.ID
}

// lockTask serializes transitions per task. Transitions on different tasks
// proceed in parallel.
func (c *Coordinator) lockTask(ref model.TaskRef) func() {
	key := lockKey(ref)
	c.mu.Lock()
	l, ok := c.locks[key]
	if !ok {
		l = &sync.Mutex{}
		c.locks[key] = l
	}
	c.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// RequestStart asks to move a task to IN_PROGRESS for a worker. The task
// is granted only when the worker has no other running task and is on
// shift; a different running task yields a SwapRequired outcome.
func (c *Coordinator) RequestStart(ctx context.Context, ref model.TaskRef, workerID string, clientTime time.Time) (*model.TaskCore, Outcome, error) {
	unlock := c.lockTask(ref)
	defer unlock()
	return c.requestActivation(ctx, ref, state.EventStart, workerID, clientTime)
}

// RequestResume is RequestStart for a paused task; the same single-active
// gate applies.
func (c *Coordinator) RequestResume(ctx context.Context, ref model.TaskRef, workerID string, clientTime time.Time) (*model.TaskCore, Outcome, error) {
	unlock := c.lockTask(ref)
	defer unlock()
	return c.requestActivation(ctx, ref, state.EventResume, workerID, clientTime)
}

func (c *Coordinator) requestActivation(ctx context.Context, ref model.TaskRef, ev state.Event, workerID string, clientTime time.Time) (*model.TaskCore, Outcome, error) {
	if c.shifts != nil {
		eval, err := c.shifts.ShiftStatus(ctx, workerID, c.clock.Now())
		if err != nil {
			return nil, Outcome{}, fmt.Errorf("shift status: %w", err)
		}
		switch eval.Status {
		case shift.OffDuty:
			return nil, Outcome{Decision: Denied, Reason: "worker unavailable"}, nil
		case shift.ShiftBreak:
			return nil, Outcome{Decision: Denied, Reason: "worker on break"}, nil
		}
	}

	active, err := c.store.ActiveForWorker(ctx, workerID)
	if err != nil {
		return nil, Outcome{}, fmt.Errorf("active set: %w", err)
	}

	switch {
	case len(active) == 0:
		// No running task: grant.
	case len(active) == 1 && active[0].Ref == ref:
		// Resume-after-local-pause race on the same task: grant, the
		// machine no-ops if the transition was already recorded.
	default:
		other := active[0]
		return nil, Outcome{
			Decision:         SwapRequired,
			ConflictTaskRef:  other.Ref,
			ConflictTaskID:   other.Ref.ID,
			ConflictTaskName: other.Title,
		}, nil
	}

	core, err := c.apply(ctx, ref, ev, workerID, "", clientTime)
	if err != nil {
		return nil, Outcome{}, err
	}
	return core, Outcome{Decision: Granted}, nil
}

// Pause pauses a worker's running task. Pausing is only available to a
// worker holding at least two assignments; with a single task there is
// nothing to switch to.
func (c *Coordinator) Pause(ctx context.Context, ref model.TaskRef, workerID, reason string, clientTime time.Time) (*model.TaskCore, error) {
	count, err := c.store.AssignmentCount(ctx, workerID)
	if err != nil {
		return nil, fmt.Errorf("assignment count: %w", err)
	}
	if count < 2 {
		return nil, ErrPauseUnavailable
	}

	unlock := c.lockTask(ref)
	defer unlock()
	return c.apply(ctx, ref, state.EventPause, workerID, reason, clientTime)
}

// ForcePause is the shift monitor's path: same state machine, no
// minimum-assignment rule.
func (c *Coordinator) ForcePause(ctx context.Context, ref model.TaskRef, workerID, reason string) error {
	unlock := c.lockTask(ref)
	defer unlock()
	_, err := c.apply(ctx, ref, state.EventPause, workerID, reason, time.Time{})
	return err
}

func (c *Coordinator) Complete(ctx context.Context, ref model.TaskRef, workerID string, clientTime time.Time) (*model.TaskCore, error) {
	unlock := c.lockTask(ref)
	defer unlock()
	return c.apply(ctx, ref, state.EventComplete, workerID, "", clientTime)
}

func (c *Coordinator) Verify(ctx context.Context, ref model.TaskRef, supervisorID string, clientTime time.Time) (*model.TaskCore, error) {
	unlock := c.lockTask(ref)
	defer unlock()
	return c.apply(ctx, ref, state.EventVerify, supervisorID, "", clientTime)
}

func (c *Coordinator) Reject(ctx context.Context, ref model.TaskRef, supervisorID, reason string, clientTime time.Time) (*model.TaskCore, error) {
	unlock := c.lockTask(ref)
	defer unlock()
	return c.apply(ctx, ref, state.EventReject, supervisorID, reason, clientTime)
}

// Reassign loops a rejected task back to PENDING for a (possibly new)
// assignee, resetting its timing cycle. Admission control applies to the
// new assignee.
func (c *Coordinator) Reassign(ctx context.Context, ref model.TaskRef, actor, newAssignee string) (*model.TaskCore, error) {
	if newAssignee != "" {
		if err := c.AdmitAssignment(ctx, newAssignee); err != nil {
			return nil, err
		}
	}

	unlock := c.lockTask(ref)
	defer unlock()

	for attempt := 0; attempt < 3; attempt++ {
		core, err := c.store.LoadCore(ctx, ref)
		if err != nil {
			return nil, err
		}
		entry, err := state.Apply(core, state.EventReassign, actor, "", c.clock.Stamp())
		if err != nil {
			return nil, err
		}
		if newAssignee != "" {
			core.AssigneeID = newAssignee
		}
		if entry == nil {
			return core, nil
		}
		err = c.store.SaveTransition(ctx, ref, core, entry)
		if err == nil {
			return core, nil
		}
		if !errors.Is(err, state.ErrConflict) {
			return nil, err
		}
	}
	return nil, state.ErrConflict
}

// Swap pauses the running task and activates the requested one. The two
// sub-transitions are sequential and individually audited; a crash in
// between leaves the worker with zero active tasks, which fails closed.
func (c *Coordinator) Swap(ctx context.Context, from, to model.TaskRef, workerID string, clientTime time.Time) (*model.TaskCore, error) {
	if from == to {
		return nil, fmt.Errorf("cannot swap a task with itself")
	}

	// Acquire both locks in key order so concurrent opposite swaps cannot
	// deadlock.
	first, second := from, to
	if lockKey(second) < lockKey(first) {
		first, second = second, first
	}
	unlockFirst := c.lockTask(first)
	defer unlockFirst()
	unlockSecond := c.lockTask(second)
	defer unlockSecond()

	// The confirmation may be stale: another device can have swapped the
	// worker onto a different task since the prompt was shown. If so, the
	// pause below would replay as a no-op and activation would leave two
	// tasks running, so re-check the active set while holding the locks
	// and re-negotiate against whatever is running now.
	active, err := c.store.ActiveForWorker(ctx, workerID)
	if err != nil {
		return nil, fmt.Errorf("active set: %w", err)
	}
	for _, running := range active {
		if running.Ref != from {
			return nil, &SwapRequiredError{
				Collection: running.Ref.Collection,
				TaskID:     running.Ref.ID,
				TaskName:   running.Title,
			}
		}
	}

	if _, err := c.apply(ctx, from, state.EventPause, workerID, "auto-paused for swap", clientTime); err != nil {
		return nil, fmt.Errorf("pause %s: %w", from.ID, err)
	}

	core, err := c.store.LoadCore(ctx, to)
	if err != nil {
		return nil, err
	}
	ev := state.EventStart
	if core.Status == model.StatusPaused {
		ev = state.EventResume
	}
	core, err = c.apply(ctx, to, ev, workerID, "", clientTime)
	if err != nil {
		return nil, fmt.Errorf("activate %s: %w", to.ID, err)
	}
	return core, nil
}

// AdmitAssignment refuses to assign work to a worker who is off duty or
// on break right now.
func (c *Coordinator) AdmitAssignment(ctx context.Context, workerID string) error {
	if c.shifts == nil {
		return nil
	}
	eval, err := c.shifts.ShiftStatus(ctx, workerID, c.clock.Now())
	if err != nil {
		return fmt.Errorf("shift status: %w", err)
	}
	if eval.Status != shift.OnShift {
		return fmt.Errorf("%w (%s)", ErrShiftViolation, eval.Status)
	}
	return nil
}

// apply runs one transition with a reload-and-re-evaluate loop on
// optimistic-concurrency losses. The caller must hold the task lock.
func (c *Coordinator) apply(ctx context.Context, ref model.TaskRef, ev state.Event, actor, reason string, clientTime time.Time) (*model.TaskCore, error) {
	for attempt := 0; attempt < 3; attempt++ {
		core, err := c.store.LoadCore(ctx, ref)
		if err != nil {
			return nil, err
		}

		entry, err := state.Apply(core, ev, actor, reason, c.clock.Reconcile(clientTime))
		if err != nil {
			return nil, err
		}
		if entry == nil {
			// Idempotent replay: the task already reflects this event.
			return core, nil
		}

		err = c.store.SaveTransition(ctx, ref, core, entry)
		if err == nil {
			return core, nil
		}
		if !errors.Is(err, state.ErrConflict) {
			return nil, err
		}
	}
	return nil, state.ErrConflict
}
