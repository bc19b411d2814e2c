package model

import (
	"time"

	"github.com/Likheet/hermes-monitoring-sub001/internal/clock"
)

type Status string

const (
	StatusPending    Status = "PENDING"
	StatusInProgress Status = "IN_PROGRESS"
	StatusPaused     Status = "PAUSED"
	StatusCompleted  Status = "COMPLETED"
	StatusVerified   Status = "VERIFIED"
	StatusRejected   Status = "REJECTED"
)

// Kind distinguishes the closed set of task variants. Kind-specific fields
// live on Task and are meaningful only for the matching kind.
type Kind string

const (
	KindStandard  Kind = "STANDARD"
	KindCustom    Kind = "CUSTOM"
	KindRecurring Kind = "RECURRING"
)

// Collection names the table a task lives in. The coordinator unions both
// collections when computing a worker's active set.
type Collection string

const (
	CollectionTasks       Collection = "tasks"
	CollectionMaintenance Collection = "maintenance_tasks"
)

// TaskRef addresses a task across both collections.
type TaskRef struct {
	Collection Collection `json:"collection"`
	ID         string     `json:"id"`
}

// PauseRecord is one span during which the task's timer does not accrue
// worked time. ResumedAt is nil only for the currently-open pause, and a
// task may hold at most one open pause (and only while PAUSED).
type PauseRecord struct {
	Reason    string               `json:"reason"`
	PausedAt  clock.DualTimestamp  `json:"paused_at"`
	ResumedAt *clock.DualTimestamp `json:"resumed_at"`
}

// AuditLogEntry records one state transition. Entries are append-only and
// never rewritten.
type AuditLogEntry struct {
	UserID    string              `json:"user_id"`
	Action    string              `json:"action"`
	OldStatus Status              `json:"old_status"`
	NewStatus Status              `json:"new_status"`
	Timestamp clock.DualTimestamp `json:"timestamp"`
	Details   string              `json:"details"`
}

// TaskCore holds the lifecycle state shared by ordinary and maintenance
// tasks. The state machine and the duration ledger operate on this type
// only; kind- and collection-specific fields stay on the outer structs.
type TaskCore struct {
	ID              string               `json:"id"`
	Title           string               `json:"title"`
	Status          Status               `json:"status"`
	AssigneeID      string               `json:"assignee_id"`
	AssignerID      string               `json:"assigner_id"`
	AssignedAt      clock.DualTimestamp  `json:"assigned_at"`
	ExpectedMinutes int                  `json:"expected_minutes"`
	StartedAt       *clock.DualTimestamp `json:"started_at"`
	CompletedAt     *clock.DualTimestamp `json:"completed_at"`
	VerifiedAt      *clock.DualTimestamp `json:"verified_at"`
	ActualMinutes   *int                 `json:"actual_minutes"`
	Pauses          []PauseRecord        `json:"pauses"`
	AuditLog        []AuditLogEntry      `json:"audit_log"`
	Version         int64                `json:"version"`
}

// OpenPause returns the index of the currently-open pause record, or -1.
func (c *TaskCore) OpenPause() int {
	for i := range c.Pauses {
		if c.Pauses[i].ResumedAt == nil {
			return i
		}
	}
	return -1
}

type Task struct {
	TaskCore
	Kind        Kind   `json:"kind"`
	Description string `json:"description"`
	Department  string `json:"department"`

	// Custom tasks only.
	RequestedBy string `json:"requested_by,omitempty"`

	// Recurring tasks only.
	RecurrenceDays int `json:"recurrence_days,omitempty"`
}

type MaintenanceTask struct {
	TaskCore
	Description string `json:"description"`
	Location    string `json:"location"`
	Category    string `json:"category"`
}

func (t *Task) Ref() TaskRef {
	return TaskRef{Collection: CollectionTasks, ID: t.ID}
}

func (t *MaintenanceTask) Ref() TaskRef {
	return TaskRef{Collection: CollectionMaintenance, ID: t.ID}
}

type Worker struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Department string `json:"department"`
}

// ShiftSchedule holds up to two shift windows per day, each with an
// optional break. Times are "HH:MM" strings; empty means not configured.
type ShiftSchedule struct {
	WorkerID    string `json:"worker_id"`
	Shift1Start string `json:"shift1_start"`
	Shift1End   string `json:"shift1_end"`
	Break1Start string `json:"break1_start"`
	Break1End   string `json:"break1_end"`
	Shift2Start string `json:"shift2_start"`
	Shift2End   string `json:"shift2_end"`
	Break2Start string `json:"break2_start"`
	Break2End   string `json:"break2_end"`
}

type ActionType string

const (
	ActionStart    ActionType = "START"
	ActionPause    ActionType = "PAUSE"
	ActionResume   ActionType = "RESUME"
	ActionComplete ActionType = "COMPLETE"
)

// QueuedAction is one worker-initiated mutation taken while disconnected.
// It lives in local durable storage until the server acknowledges the
// equivalent transition (or it is found to be a no-op on replay).
type QueuedAction struct {
	ID         string     `json:"id"`
	Type       ActionType `json:"type"`
	TaskRef    TaskRef    `json:"task_ref"`
	UserID     string     `json:"user_id"`
	Reason     string     `json:"reason,omitempty"`
	ClientTime time.Time  `json:"client_time"`
}

// ActiveTask is one row of the server-side view of running work, consumed
// by the shift monitor and by the coordinator's active-set computation.
type ActiveTask struct {
	Ref      TaskRef `json:"ref"`
	Title    string  `json:"title"`
	WorkerID string  `json:"worker_id"`
}

type Filter struct {
	Status     Status `json:"status"`
	AssigneeID string `json:"assignee_id"`
	Department string `json:"department"`
}
