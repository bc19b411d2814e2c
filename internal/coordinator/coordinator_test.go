package coordinator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Likheet/hermes-monitoring-sub001/internal/clock"
	"github.com/Likheet/hermes-monitoring-sub001/internal/model"
	"github.com/Likheet/hermes-monitoring-sub001/internal/shift"
	"github.com/Likheet/hermes-monitoring-sub001/internal/state"
)

// memStore is an in-memory TaskStore with the same optimistic-concurrency
// behavior as the sqlite store.
type memStore struct {
	mu       sync.Mutex
	tasks    map[model.TaskRef]*model.TaskCore
	failNext int // force the next N saves to conflict
}

func newMemStore() *memStore {
	return &memStore{tasks: make(map[model.TaskRef]*model.TaskCore)}
}

func copyCore(core *model.TaskCore) *model.TaskCore {
	clone := *core
	clone.Pauses = append([]model.PauseRecord(nil), core.Pauses...)
	clone.AuditLog = append([]model.AuditLogEntry(nil), core.AuditLog...)
	if core.ActualMinutes != nil {
		v := *core.ActualMinutes
		clone.ActualMinutes = &v
	}
	return &clone
}

func (s *memStore) put(ref model.TaskRef, core *model.TaskCore) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[ref] = copyCore(core)
}

func (s *memStore) LoadCore(ctx context.Context, ref model.TaskRef) (*model.TaskCore, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	core, ok := s.tasks[ref]
	if !ok {
		return nil, state.ErrNotFound
	}
	return copyCore(core), nil
}

func (s *memStore) SaveTransition(ctx context.Context, ref model.TaskRef, core *model.TaskCore, entry *model.AuditLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNext > 0 {
		s.failNext--
		return state.ErrConflict
	}
	stored, ok := s.tasks[ref]
	if !ok {
		return state.ErrNotFound
	}
	if stored.Version != core.Version {
		return state.ErrConflict
	}
	saved := copyCore(core)
	saved.Version++
	s.tasks[ref] = saved
	core.Version = saved.Version
	return nil
}

func (s *memStore) ActiveForWorker(ctx context.Context, workerID string) ([]model.ActiveTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var active []model.ActiveTask
	for ref, core := range s.tasks {
		if core.AssigneeID == workerID && core.Status == model.StatusInProgress {
			active = append(active, model.ActiveTask{Ref: ref, Title: core.Title, WorkerID: workerID})
		}
	}
	return active, nil
}

func (s *memStore) AssignmentCount(ctx context.Context, workerID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, core := range s.tasks {
		if core.AssigneeID != workerID {
			continue
		}
		switch core.Status {
		case model.StatusPending, model.StatusInProgress, model.StatusPaused:
			count++
		}
	}
	return count, nil
}

type staticShifts struct {
	status shift.Status
}

func (s staticShifts) ShiftStatus(ctx context.Context, workerID string, at time.Time) (shift.Evaluation, error) {
	return shift.Evaluation{Status: s.status}, nil
}

func fixedClock() *clock.Source {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	return clock.NewSource(func() time.Time { return now })
}

func taskRef(id string) model.TaskRef {
	return model.TaskRef{Collection: model.CollectionTasks, ID: id}
}

func maintRef(id string) model.TaskRef {
	return model.TaskRef{Collection: model.CollectionMaintenance, ID: id}
}

func seedPending(store *memStore, ref model.TaskRef, title, worker string) {
	store.put(ref, &model.TaskCore{ID: ref.ID, Title: title, Status: model.StatusPending, AssigneeID: worker})
}

func TestStartGrantedWhenIdle(t *testing.T) {
	store := newMemStore()
	seedPending(store, taskRef("a"), "Task A", "w1")
	c := New(store, staticShifts{status: shift.OnShift}, fixedClock())

	core, outcome, err := c.RequestStart(context.Background(), taskRef("a"), "w1", time.Time{})
	if err != nil {
		t.Fatalf("request start: %v", err)
	}
	if outcome.Decision != Granted {
		t.Fatalf("expected Granted, got %s (%s)", outcome.Decision, outcome.Reason)
	}
	if core.Status != model.StatusInProgress {
		t.Fatalf("expected IN_PROGRESS, got %s", core.Status)
	}

	active, _ := store.ActiveForWorker(context.Background(), "w1")
	if len(active) != 1 {
		t.Fatalf("expected active set of 1, got %d", len(active))
	}
}

func TestStartConflictRequiresSwap(t *testing.T) {
	store := newMemStore()
	seedPending(store, taskRef("a"), "Task A name", "w1")
	seedPending(store, taskRef("b"), "Task B", "w1")
	c := New(store, staticShifts{status: shift.OnShift}, fixedClock())

	if _, outcome, err := c.RequestStart(context.Background(), taskRef("a"), "w1", time.Time{}); err != nil || outcome.Decision != Granted {
		t.Fatalf("start a: outcome=%v err=%v", outcome, err)
	}

	_, outcome, err := c.RequestStart(context.Background(), taskRef("b"), "w1", time.Time{})
	if err != nil {
		t.Fatalf("start b: %v", err)
	}
	if outcome.Decision != SwapRequired {
		t.Fatalf("expected SwapRequired, got %s", outcome.Decision)
	}
	if outcome.ConflictTaskID != "a" || outcome.ConflictTaskName != "Task A name" {
		t.Fatalf("unexpected conflict details: %+v", outcome)
	}

	// B must be untouched.
	b, _ := store.LoadCore(context.Background(), taskRef("b"))
	if b.Status != model.StatusPending {
		t.Fatalf("expected B still PENDING, got %s", b.Status)
	}
}

func TestSwapPausesAndActivates(t *testing.T) {
	store := newMemStore()
	seedPending(store, taskRef("a"), "Task A", "w1")
	seedPending(store, taskRef("b"), "Task B", "w1")
	c := New(store, staticShifts{status: shift.OnShift}, fixedClock())

	if _, _, err := c.RequestStart(context.Background(), taskRef("a"), "w1", time.Time{}); err != nil {
		t.Fatalf("start a: %v", err)
	}

	core, err := c.Swap(context.Background(), taskRef("a"), taskRef("b"), "w1", time.Time{})
	if err != nil {
		t.Fatalf("swap: %v", err)
	}
	if core.Status != model.StatusInProgress || core.ID != "b" {
		t.Fatalf("expected B running after swap, got %s %s", core.ID, core.Status)
	}

	a, _ := store.LoadCore(context.Background(), taskRef("a"))
	if a.Status != model.StatusPaused {
		t.Fatalf("expected A paused after swap, got %s", a.Status)
	}
	if len(a.Pauses) != 1 || a.Pauses[0].Reason != "auto-paused for swap" {
		t.Fatalf("expected swap pause reason, got %+v", a.Pauses)
	}

	active, _ := store.ActiveForWorker(context.Background(), "w1")
	if len(active) != 1 || active[0].Ref.ID != "b" {
		t.Fatalf("expected only B active, got %+v", active)
	}
}

func TestSwapStaleConfirmationRefused(t *testing.T) {
	store := newMemStore()
	seedPending(store, taskRef("a"), "Task A", "w1")
	seedPending(store, taskRef("b"), "Task B", "w1")
	seedPending(store, taskRef("c"), "Task C", "w1")
	c := New(store, staticShifts{status: shift.OnShift}, fixedClock())

	if _, _, err := c.RequestStart(context.Background(), taskRef("a"), "w1", time.Time{}); err != nil {
		t.Fatalf("start a: %v", err)
	}

	// A second device already swapped A away for C, so A is now paused.
	if _, err := c.Swap(context.Background(), taskRef("a"), taskRef("c"), "w1", time.Time{}); err != nil {
		t.Fatalf("swap a->c: %v", err)
	}

	// The first device's confirmation still names A. Pausing A would
	// replay as a no-op, so accepting it would start B alongside C.
	_, err := c.Swap(context.Background(), taskRef("a"), taskRef("b"), "w1", time.Time{})
	var swap *SwapRequiredError
	if !errors.As(err, &swap) {
		t.Fatalf("expected SwapRequiredError, got %v", err)
	}
	if swap.TaskID != "c" || swap.TaskName != "Task C" {
		t.Fatalf("expected conflict to name C, got %+v", swap)
	}
	if swap.Ref() != taskRef("c") {
		t.Fatalf("expected conflict ref for C, got %+v", swap.Ref())
	}

	active, _ := store.ActiveForWorker(context.Background(), "w1")
	if len(active) != 1 || active[0].Ref.ID != "c" {
		t.Fatalf("expected only C active, got %+v", active)
	}
	b, _ := store.LoadCore(context.Background(), taskRef("b"))
	if b.Status != model.StatusPending {
		t.Fatalf("expected B untouched, got %s", b.Status)
	}
}

func TestSwapResumesPausedTarget(t *testing.T) {
	store := newMemStore()
	seedPending(store, taskRef("a"), "Task A", "w1")
	seedPending(store, taskRef("b"), "Task B", "w1")
	c := New(store, staticShifts{status: shift.OnShift}, fixedClock())

	if _, _, err := c.RequestStart(context.Background(), taskRef("b"), "w1", time.Time{}); err != nil {
		t.Fatalf("start b: %v", err)
	}
	if _, err := c.Pause(context.Background(), taskRef("b"), "w1", "break", time.Time{}); err != nil {
		t.Fatalf("pause b: %v", err)
	}
	if _, _, err := c.RequestStart(context.Background(), taskRef("a"), "w1", time.Time{}); err != nil {
		t.Fatalf("start a: %v", err)
	}

	core, err := c.Swap(context.Background(), taskRef("a"), taskRef("b"), "w1", time.Time{})
	if err != nil {
		t.Fatalf("swap back: %v", err)
	}
	if core.Status != model.StatusInProgress {
		t.Fatalf("expected B resumed, got %s", core.Status)
	}
	if len(core.Pauses) != 1 || core.Pauses[0].ResumedAt == nil {
		t.Fatalf("expected B's pause closed on resume, got %+v", core.Pauses)
	}
}

func TestActiveSetSpansMaintenanceTasks(t *testing.T) {
	store := newMemStore()
	seedPending(store, maintRef("m"), "Fix AC", "w1")
	seedPending(store, taskRef("a"), "Task A", "w1")
	c := New(store, staticShifts{status: shift.OnShift}, fixedClock())

	if _, outcome, err := c.RequestStart(context.Background(), maintRef("m"), "w1", time.Time{}); err != nil || outcome.Decision != Granted {
		t.Fatalf("start maintenance: outcome=%v err=%v", outcome, err)
	}

	_, outcome, err := c.RequestStart(context.Background(), taskRef("a"), "w1", time.Time{})
	if err != nil {
		t.Fatalf("start a: %v", err)
	}
	if outcome.Decision != SwapRequired || outcome.ConflictTaskID != "m" {
		t.Fatalf("expected conflict with maintenance task, got %+v", outcome)
	}
}

func TestStartDeniedOffDuty(t *testing.T) {
	store := newMemStore()
	seedPending(store, taskRef("a"), "Task A", "w1")
	c := New(store, staticShifts{status: shift.OffDuty}, fixedClock())

	_, outcome, err := c.RequestStart(context.Background(), taskRef("a"), "w1", time.Time{})
	if err != nil {
		t.Fatalf("request start: %v", err)
	}
	if outcome.Decision != Denied || outcome.Reason != "worker unavailable" {
		t.Fatalf("expected Denied worker unavailable, got %+v", outcome)
	}

	a, _ := store.LoadCore(context.Background(), taskRef("a"))
	if a.Status != model.StatusPending {
		t.Fatalf("expected task untouched, got %s", a.Status)
	}
}

func TestPauseRequiresSecondAssignment(t *testing.T) {
	store := newMemStore()
	seedPending(store, taskRef("a"), "Task A", "w1")
	c := New(store, staticShifts{status: shift.OnShift}, fixedClock())

	if _, _, err := c.RequestStart(context.Background(), taskRef("a"), "w1", time.Time{}); err != nil {
		t.Fatalf("start: %v", err)
	}

	if _, err := c.Pause(context.Background(), taskRef("a"), "w1", "break", time.Time{}); !errors.Is(err, ErrPauseUnavailable) {
		t.Fatalf("expected ErrPauseUnavailable for only task, got %v", err)
	}

	// A second assignment makes pause available.
	seedPending(store, taskRef("b"), "Task B", "w1")
	core, err := c.Pause(context.Background(), taskRef("a"), "w1", "break", time.Time{})
	if err != nil {
		t.Fatalf("pause with two assignments: %v", err)
	}
	if core.Status != model.StatusPaused {
		t.Fatalf("expected PAUSED, got %s", core.Status)
	}
}

func TestIdempotentStartOnOwnActiveTask(t *testing.T) {
	store := newMemStore()
	seedPending(store, taskRef("a"), "Task A", "w1")
	c := New(store, staticShifts{status: shift.OnShift}, fixedClock())

	if _, _, err := c.RequestStart(context.Background(), taskRef("a"), "w1", time.Time{}); err != nil {
		t.Fatalf("start: %v", err)
	}
	core, outcome, err := c.RequestStart(context.Background(), taskRef("a"), "w1", time.Time{})
	if err != nil {
		t.Fatalf("repeat start: %v", err)
	}
	if outcome.Decision != Granted {
		t.Fatalf("expected idempotent grant, got %s", outcome.Decision)
	}
	if len(core.AuditLog) != 1 {
		t.Fatalf("expected one audit entry after replayed start, got %d", len(core.AuditLog))
	}
}

func TestConflictReloadsAndReapplies(t *testing.T) {
	store := newMemStore()
	seedPending(store, taskRef("a"), "Task A", "w1")
	seedPending(store, taskRef("b"), "Task B", "w1")
	c := New(store, staticShifts{status: shift.OnShift}, fixedClock())

	if _, _, err := c.RequestStart(context.Background(), taskRef("a"), "w1", time.Time{}); err != nil {
		t.Fatalf("start: %v", err)
	}

	store.failNext = 1
	core, err := c.Pause(context.Background(), taskRef("a"), "w1", "break", time.Time{})
	if err != nil {
		t.Fatalf("pause with one stale save: %v", err)
	}
	if core.Status != model.StatusPaused {
		t.Fatalf("expected PAUSED after retry, got %s", core.Status)
	}
	if len(core.Pauses) != 1 {
		t.Fatalf("expected a single pause record after retry, got %d", len(core.Pauses))
	}
}

func TestForcePauseBypassesMinimumAssignments(t *testing.T) {
	store := newMemStore()
	seedPending(store, taskRef("a"), "Task A", "w1")
	c := New(store, staticShifts{status: shift.OnShift}, fixedClock())

	if _, _, err := c.RequestStart(context.Background(), taskRef("a"), "w1", time.Time{}); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := c.ForcePause(context.Background(), taskRef("a"), "w1", "auto-paused: shift ended"); err != nil {
		t.Fatalf("force pause: %v", err)
	}

	a, _ := store.LoadCore(context.Background(), taskRef("a"))
	if a.Status != model.StatusPaused {
		t.Fatalf("expected PAUSED, got %s", a.Status)
	}
	if a.Pauses[0].Reason != "auto-paused: shift ended" {
		t.Fatalf("unexpected pause reason %q", a.Pauses[0].Reason)
	}
}

func TestAdmitAssignment(t *testing.T) {
	store := newMemStore()
	c := New(store, staticShifts{status: shift.ShiftBreak}, fixedClock())

	if err := c.AdmitAssignment(context.Background(), "w1"); !errors.Is(err, ErrShiftViolation) {
		t.Fatalf("expected ErrShiftViolation on break, got %v", err)
	}

	c = New(store, staticShifts{status: shift.OnShift}, fixedClock())
	if err := c.AdmitAssignment(context.Background(), "w1"); err != nil {
		t.Fatalf("expected admission on shift, got %v", err)
	}
}
