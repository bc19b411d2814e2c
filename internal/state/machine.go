// Package state enforces the task status lifecycle:
//
//	PENDING -> IN_PROGRESS <-> PAUSED -> COMPLETED -> VERIFIED
//
// with REJECTED reachable only from COMPLETED, looping back to PENDING on
// reassignment. Every applied transition appends an audit-log entry, and
// replaying a transition the task has already recorded is a no-op success,
// which is what makes offline-queue replay safe.
package state

import (
	"errors"
	"fmt"

	"github.com/Likheet/hermes-monitoring-sub001/internal/clock"
	"github.com/Likheet/hermes-monitoring-sub001/internal/model"
	"github.com/Likheet/hermes-monitoring-sub001/internal/timer"
)

type Event string

const (
	EventStart    Event = "start"
	EventPause    Event = "pause"
	EventResume   Event = "resume"
	EventComplete Event = "complete"
	EventVerify   Event = "verify"
	EventReject   Event = "reject"
	EventReassign Event = "reassign"
)

var (
	ErrInvalidTransition = errors.New("invalid transition")
	ErrNotFound          = errors.New("task not found")
	ErrCorruptLedger     = errors.New("corrupt pause ledger")

	// ErrConflict is an optimistic-concurrency loss on save: the caller
	// must reload authoritative state and re-evaluate, not blindly retry.
	ErrConflict = errors.New("stale task version")
)

var targets = map[Event]model.Status{
	EventStart:    model.StatusInProgress,
	EventPause:    model.StatusPaused,
	EventResume:   model.StatusInProgress,
	EventComplete: model.StatusCompleted,
	EventVerify:   model.StatusVerified,
	EventReject:   model.StatusRejected,
	EventReassign: model.StatusPending,
}

var edges = map[Event][]model.Status{
	EventStart:    {model.StatusPending},
	EventPause:    {model.StatusInProgress},
	EventResume:   {model.StatusPaused},
	EventComplete: {model.StatusInProgress, model.StatusPaused},
	EventVerify:   {model.StatusCompleted},
	EventReject:   {model.StatusCompleted},
	EventReassign: {model.StatusRejected},
}

// replayed reports whether the task already reflects the outcome of ev, in
// which case re-applying it must succeed as a no-op.
func replayed(core *model.TaskCore, ev Event) bool {
	switch ev {
	case EventStart:
		return core.StartedAt != nil
	case EventPause:
		return core.Status == model.StatusPaused
	case EventResume:
		return core.Status == model.StatusInProgress && len(core.Pauses) > 0
	case EventComplete:
		return core.CompletedAt != nil
	case EventVerify:
		return core.Status == model.StatusVerified
	case EventReject:
		return core.Status == model.StatusRejected
	default:
		return false
	}
}

func legal(core *model.TaskCore, ev Event) bool {
	for _, from := range edges[ev] {
		if core.Status == from {
			return true
		}
	}
	return false
}

// Apply validates ev against the task's current status and mutates the
// core: status, lifecycle timestamps, the pause ledger, and an appended
// audit entry. It returns the new entry, or nil when the event was an
// idempotent replay. The caller owns persistence and, for start/resume,
// must have cleared the transition with the active-task coordinator first.
func Apply(core *model.TaskCore, ev Event, actor string, reason string, ts clock.DualTimestamp) (*model.AuditLogEntry, error) {
	if core == nil {
		return nil, ErrNotFound
	}

	if open := core.OpenPause(); open >= 0 && core.Status != model.StatusPaused {
		return nil, fmt.Errorf("%w: open pause while %s", ErrCorruptLedger, core.Status)
	}

	if replayed(core, ev) {
		return nil, nil
	}
	if !legal(core, ev) {
		return nil, fmt.Errorf("%w: cannot %s a %s task", ErrInvalidTransition, ev, core.Status)
	}

	old := core.Status
	core.Status = targets[ev]

	switch ev {
	case EventStart:
		core.StartedAt = &ts
	case EventPause:
		core.Pauses = append(core.Pauses, model.PauseRecord{Reason: reason, PausedAt: ts})
	case EventResume:
		core.Pauses[core.OpenPause()].ResumedAt = &ts
	case EventComplete:
		if open := core.OpenPause(); open >= 0 {
			core.Pauses[open].ResumedAt = &ts
		}
		core.CompletedAt = &ts
		timer.Finalize(core)
	case EventVerify:
		core.VerifiedAt = &ts
	case EventReassign:
		// A reassigned task starts a fresh timing cycle.
		core.StartedAt = nil
		core.CompletedAt = nil
		core.VerifiedAt = nil
		core.ActualMinutes = nil
		core.Pauses = nil
	}

	entry := model.AuditLogEntry{
		UserID:    actor,
		Action:    string(ev),
		OldStatus: old,
		NewStatus: core.Status,
		Timestamp: ts,
		Details:   detail(ev, actor, reason, core),
	}
	core.AuditLog = append(core.AuditLog, entry)
	return &core.AuditLog[len(core.AuditLog)-1], nil
}

func detail(ev Event, actor, reason string, core *model.TaskCore) string {
	switch ev {
	case EventPause:
		return fmt.Sprintf("paused by %s: %s", actor, reason)
	case EventComplete:
		if core.ActualMinutes != nil {
			return fmt.Sprintf("completed by %s after %dm worked", actor, *core.ActualMinutes)
		}
		return fmt.Sprintf("completed by %s", actor)
	case EventReject:
		if reason != "" {
			return fmt.Sprintf("rejected by %s: %s", actor, reason)
		}
		return fmt.Sprintf("rejected by %s", actor)
	case EventReassign:
		return fmt.Sprintf("reassigned by %s, timing reset", actor)
	default:
		return fmt.Sprintf("%s by %s", ev, actor)
	}
}
