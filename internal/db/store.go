package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Likheet/hermes-monitoring-sub001/internal/clock"
	"github.com/Likheet/hermes-monitoring-sub001/internal/model"
	"github.com/Likheet/hermes-monitoring-sub001/internal/state"
)

type Store struct {
	DB    *sql.DB
	clock *clock.Source
}

func NewStore(db *sql.DB, clk *clock.Source) *Store {
	if clk == nil {
		clk = clock.System()
	}
	return &Store{DB: db, clock: clk}
}

type TaskInput struct {
	Kind            model.Kind `json:"kind"`
	Title           string     `json:"title"`
	Description     string     `json:"description"`
	Department      string     `json:"department"`
	AssigneeID      string     `json:"assignee_id"`
	AssignerID      string     `json:"assigner_id"`
	ExpectedMinutes int        `json:"expected_minutes"`
	RequestedBy     string     `json:"requested_by"`
	RecurrenceDays  int        `json:"recurrence_days"`
}

type MaintenanceTaskInput struct {
	Title           string `json:"title"`
	Description     string `json:"description"`
	Location        string `json:"location"`
	Category        string `json:"category"`
	AssigneeID      string `json:"assignee_id"`
	AssignerID      string `json:"assigner_id"`
	ExpectedMinutes int    `json:"expected_minutes"`
}

const coreColumns = `id, title, status, assignee_id, assigner_id,
	assigned_client, assigned_server, expected_minutes,
	started_client, started_server, completed_client, completed_server,
	verified_client, verified_server, actual_minutes, version`

func tableFor(collection model.Collection) (string, error) {
	switch collection {
	case model.CollectionTasks:
		return "tasks", nil
	case model.CollectionMaintenance:
		return "maintenance_tasks", nil
	default:
		return "", fmt.Errorf("unknown collection %q", collection)
	}
}

// CreateTask inserts a new ordinary task in PENDING with a "created"
// audit entry. Moving it to IN_PROGRESS is the coordinator's job; the
// store never sets an active status directly.
func (s *Store) CreateTask(ctx context.Context, input TaskInput) (model.Task, error) {
	kind := input.Kind
	if kind == "" {
		kind = model.KindStandard
	}

	task := model.Task{
		TaskCore: model.TaskCore{
			ID:              uuid.NewString(),
			Title:           strings.TrimSpace(input.Title),
			Status:          model.StatusPending,
			AssigneeID:      input.AssigneeID,
			AssignerID:      input.AssignerID,
			ExpectedMinutes: input.ExpectedMinutes,
		},
		Kind:           kind,
		Description:    input.Description,
		Department:     input.Department,
		RequestedBy:    input.RequestedBy,
		RecurrenceDays: input.RecurrenceDays,
	}
	if task.Title == "" {
		return model.Task{}, fmt.Errorf("task title is required")
	}
	if input.AssigneeID != "" {
		task.AssignedAt = s.clock.Stamp()
	}

	assignedClient, assignedServer := nullDual(task.AssignedAt)
	now := s.clock.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO tasks (id, kind, title, description, department, assignee_id, assigner_id,
			assigned_client, assigned_server, expected_minutes, status,
			requested_by, recurrence_days, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		task.ID, string(task.Kind), task.Title, task.Description, task.Department,
		task.AssigneeID, task.AssignerID, assignedClient, assignedServer,
		task.ExpectedMinutes, string(task.Status), task.RequestedBy, task.RecurrenceDays, now, now)
	if err != nil {
		return model.Task{}, err
	}

	entry := model.AuditLogEntry{
		UserID:    input.AssignerID,
		Action:    "created",
		NewStatus: model.StatusPending,
		Timestamp: s.clock.Stamp(),
		Details:   formatCreatedDetails(task.Title, string(kind), input.AssigneeID, input.ExpectedMinutes),
	}
	if err := s.insertAudit(ctx, s.DB, task.Ref(), entry); err != nil {
		return model.Task{}, err
	}
	task.AuditLog = append(task.AuditLog, entry)

	return task, nil
}

func (s *Store) CreateMaintenanceTask(ctx context.Context, input MaintenanceTaskInput) (model.MaintenanceTask, error) {
	task := model.MaintenanceTask{
		TaskCore: model.TaskCore{
			ID:              uuid.NewString(),
			Title:           strings.TrimSpace(input.Title),
			Status:          model.StatusPending,
			AssigneeID:      input.AssigneeID,
			AssignerID:      input.AssignerID,
			ExpectedMinutes: input.ExpectedMinutes,
		},
		Description: input.Description,
		Location:    input.Location,
		Category:    input.Category,
	}
	if task.Title == "" {
		return model.MaintenanceTask{}, fmt.Errorf("task title is required")
	}
	if input.AssigneeID != "" {
		task.AssignedAt = s.clock.Stamp()
	}

	assignedClient, assignedServer := nullDual(task.AssignedAt)
	now := s.clock.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO maintenance_tasks (id, title, description, location, category,
			assignee_id, assigner_id, assigned_client, assigned_server,
			expected_minutes, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		task.ID, task.Title, task.Description, task.Location, task.Category,
		task.AssigneeID, task.AssignerID, assignedClient, assignedServer,
		task.ExpectedMinutes, string(task.Status), now, now)
	if err != nil {
		return model.MaintenanceTask{}, err
	}

	entry := model.AuditLogEntry{
		UserID:    input.AssignerID,
		Action:    "created",
		NewStatus: model.StatusPending,
		Timestamp: s.clock.Stamp(),
		Details:   formatCreatedDetails(task.Title, "maintenance", input.AssigneeID, input.ExpectedMinutes),
	}
	if err := s.insertAudit(ctx, s.DB, task.Ref(), entry); err != nil {
		return model.MaintenanceTask{}, err
	}
	task.AuditLog = append(task.AuditLog, entry)

	return task, nil
}

func (s *Store) GetTask(ctx context.Context, id string) (model.Task, error) {
	row := s.DB.QueryRowContext(ctx, `
		SELECT `+coreColumns+`, kind, description, department, requested_by, recurrence_days
		FROM tasks WHERE id = ?`, id)

	var task model.Task
	var kind string
	core, scan := coreScanTargets(&task.TaskCore)
	scan = append(scan, &kind, &task.Description, &task.Department, &task.RequestedBy, &task.RecurrenceDays)
	if err := row.Scan(scan...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Task{}, state.ErrNotFound
		}
		return model.Task{}, err
	}
	if err := core.finish(); err != nil {
		return model.Task{}, err
	}
	task.Kind = model.Kind(kind)

	if err := s.loadCoreParts(ctx, task.Ref(), &task.TaskCore); err != nil {
		return model.Task{}, err
	}
	return task, nil
}

func (s *Store) GetMaintenanceTask(ctx context.Context, id string) (model.MaintenanceTask, error) {
	row := s.DB.QueryRowContext(ctx, `
		SELECT `+coreColumns+`, description, location, category
		FROM maintenance_tasks WHERE id = ?`, id)

	var task model.MaintenanceTask
	core, scan := coreScanTargets(&task.TaskCore)
	scan = append(scan, &task.Description, &task.Location, &task.Category)
	if err := row.Scan(scan...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.MaintenanceTask{}, state.ErrNotFound
		}
		return model.MaintenanceTask{}, err
	}
	if err := core.finish(); err != nil {
		return model.MaintenanceTask{}, err
	}

	if err := s.loadCoreParts(ctx, task.Ref(), &task.TaskCore); err != nil {
		return model.MaintenanceTask{}, err
	}
	return task, nil
}

func (s *Store) ListTasks(ctx context.Context, filter model.Filter) ([]model.Task, error) {
	query := `SELECT ` + coreColumns + `, kind, description, department, requested_by, recurrence_days FROM tasks`
	var clauses []string
	var args []any
	if filter.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.AssigneeID != "" {
		clauses = append(clauses, "assignee_id = ?")
		args = append(args, filter.AssigneeID)
	}
	if filter.Department != "" {
		clauses = append(clauses, "department = ?")
		args = append(args, filter.Department)
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at"

	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []model.Task
	for rows.Next() {
		var task model.Task
		var kind string
		core, scan := coreScanTargets(&task.TaskCore)
		scan = append(scan, &kind, &task.Description, &task.Department, &task.RequestedBy, &task.RecurrenceDays)
		if err := rows.Scan(scan...); err != nil {
			return nil, err
		}
		if err := core.finish(); err != nil {
			return nil, err
		}
		task.Kind = model.Kind(kind)
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range tasks {
		if err := s.loadCoreParts(ctx, tasks[i].Ref(), &tasks[i].TaskCore); err != nil {
			return nil, err
		}
	}
	return tasks, nil
}

func (s *Store) ListMaintenanceTasks(ctx context.Context, filter model.Filter) ([]model.MaintenanceTask, error) {
	query := `SELECT ` + coreColumns + `, description, location, category FROM maintenance_tasks`
	var clauses []string
	var args []any
	if filter.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.AssigneeID != "" {
		clauses = append(clauses, "assignee_id = ?")
		args = append(args, filter.AssigneeID)
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at"

	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []model.MaintenanceTask
	for rows.Next() {
		var task model.MaintenanceTask
		core, scan := coreScanTargets(&task.TaskCore)
		scan = append(scan, &task.Description, &task.Location, &task.Category)
		if err := rows.Scan(scan...); err != nil {
			return nil, err
		}
		if err := core.finish(); err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range tasks {
		if err := s.loadCoreParts(ctx, tasks[i].Ref(), &tasks[i].TaskCore); err != nil {
			return nil, err
		}
	}
	return tasks, nil
}

// LoadCore loads the lifecycle state for a task in either collection.
func (s *Store) LoadCore(ctx context.Context, ref model.TaskRef) (*model.TaskCore, error) {
	table, err := tableFor(ref.Collection)
	if err != nil {
		return nil, err
	}

	row := s.DB.QueryRowContext(ctx, `SELECT `+coreColumns+` FROM `+table+` WHERE id = ?`, ref.ID)

	var core model.TaskCore
	helper, scan := coreScanTargets(&core)
	if err := row.Scan(scan...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, state.ErrNotFound
		}
		return nil, err
	}
	if err := helper.finish(); err != nil {
		return nil, err
	}
	if err := s.loadCoreParts(ctx, ref, &core); err != nil {
		return nil, err
	}
	return &core, nil
}

// SaveTransition persists a transitioned core with compare-and-swap on the
// version column: a stale write returns state.ErrConflict so the caller
// reloads authoritative state instead of overwriting a transition it never
// saw. Pause records are rewritten wholesale; the audit entry is appended.
func (s *Store) SaveTransition(ctx context.Context, ref model.TaskRef, core *model.TaskCore, entry *model.AuditLogEntry) error {
	table, err := tableFor(ref.Collection)
	if err != nil {
		return err
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	startedClient, startedServer := nullDualPtr(core.StartedAt)
	completedClient, completedServer := nullDualPtr(core.CompletedAt)
	verifiedClient, verifiedServer := nullDualPtr(core.VerifiedAt)
	var actual sql.NullInt64
	if core.ActualMinutes != nil {
		actual = sql.NullInt64{Int64: int64(*core.ActualMinutes), Valid: true}
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE `+table+` SET status = ?, assignee_id = ?,
			started_client = ?, started_server = ?,
			completed_client = ?, completed_server = ?,
			verified_client = ?, verified_server = ?,
			actual_minutes = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?`,
		string(core.Status), core.AssigneeID,
		startedClient, startedServer, completedClient, completedServer,
		verifiedClient, verifiedServer, actual,
		s.clock.Now().UTC().Format(time.RFC3339Nano), ref.ID, core.Version)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM `+table+` WHERE id = ?`, ref.ID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return state.ErrNotFound
		}
		if err != nil {
			return err
		}
		return state.ErrConflict
	}

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM pause_records WHERE collection = ? AND task_id = ?",
		string(ref.Collection), ref.ID); err != nil {
		return err
	}
	for i := range core.Pauses {
		p := &core.Pauses[i]
		pausedClient, pausedServer := nullDual(p.PausedAt)
		resumedClient, resumedServer := nullDualPtr(p.ResumedAt)
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO pause_records (collection, task_id, seq, reason,
				paused_client, paused_server, resumed_client, resumed_server)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			string(ref.Collection), ref.ID, i, p.Reason,
			pausedClient, pausedServer, resumedClient, resumedServer); err != nil {
			return err
		}
	}

	if entry != nil {
		if err := s.insertAudit(ctx, tx, ref, *entry); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	core.Version++
	return nil
}

// ActiveForWorker computes the worker's active set across both task
// collections. It is recomputed from status on every call, never cached.
func (s *Store) ActiveForWorker(ctx context.Context, workerID string) ([]model.ActiveTask, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT 'tasks' AS collection, id, title, assignee_id FROM tasks
			WHERE assignee_id = ? AND status = 'IN_PROGRESS'
		UNION ALL
		SELECT 'maintenance_tasks', id, title, assignee_id FROM maintenance_tasks
			WHERE assignee_id = ? AND status = 'IN_PROGRESS'
		ORDER BY collection, id`, workerID, workerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanActive(rows)
}

// ListActive returns every running task with its worker, for the shift
// monitor's sweep.
func (s *Store) ListActive(ctx context.Context) ([]model.ActiveTask, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT 'tasks' AS collection, id, title, assignee_id FROM tasks
			WHERE status = 'IN_PROGRESS'
		UNION ALL
		SELECT 'maintenance_tasks', id, title, assignee_id FROM maintenance_tasks
			WHERE status = 'IN_PROGRESS'
		ORDER BY collection, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanActive(rows)
}

func scanActive(rows *sql.Rows) ([]model.ActiveTask, error) {
	var active []model.ActiveTask
	for rows.Next() {
		var collection, id, title, worker string
		if err := rows.Scan(&collection, &id, &title, &worker); err != nil {
			return nil, err
		}
		active = append(active, model.ActiveTask{
			Ref:      model.TaskRef{Collection: model.Collection(collection), ID: id},
			Title:    title,
			WorkerID: worker,
		})
	}
	return active, rows.Err()
}

// AssignmentCount counts a worker's open assignments (not yet completed)
// across both collections. It backs the rule that pausing is only offered
// to a worker holding a second task to switch to.
func (s *Store) AssignmentCount(ctx context.Context, workerID string) (int, error) {
	var count int
	err := s.DB.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM tasks WHERE assignee_id = ?1
				AND status IN ('PENDING', 'IN_PROGRESS', 'PAUSED')) +
			(SELECT COUNT(*) FROM maintenance_tasks WHERE assignee_id = ?1
				AND status IN ('PENDING', 'IN_PROGRESS', 'PAUSED'))`, workerID).Scan(&count)
	return count, err
}

func (s *Store) CreateWorker(ctx context.Context, worker model.Worker) (model.Worker, error) {
	if worker.ID == "" {
		worker.ID = uuid.NewString()
	}
	_, err := s.DB.ExecContext(ctx,
		"INSERT INTO workers (id, name, department) VALUES (?, ?, ?)",
		worker.ID, worker.Name, worker.Department)
	if err != nil {
		return model.Worker{}, err
	}
	return worker, nil
}

func (s *Store) GetWorker(ctx context.Context, id string) (model.Worker, error) {
	var worker model.Worker
	err := s.DB.QueryRowContext(ctx,
		"SELECT id, name, department FROM workers WHERE id = ?", id).
		Scan(&worker.ID, &worker.Name, &worker.Department)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Worker{}, state.ErrNotFound
	}
	if err != nil {
		return model.Worker{}, err
	}
	return worker, nil
}

func (s *Store) ListWorkers(ctx context.Context) ([]model.Worker, error) {
	rows, err := s.DB.QueryContext(ctx, "SELECT id, name, department FROM workers ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var workers []model.Worker
	for rows.Next() {
		var worker model.Worker
		if err := rows.Scan(&worker.ID, &worker.Name, &worker.Department); err != nil {
			return nil, err
		}
		workers = append(workers, worker)
	}
	return workers, rows.Err()
}

func (s *Store) UpsertShiftSchedule(ctx context.Context, schedule model.ShiftSchedule) error {
	if schedule.WorkerID == "" {
		return fmt.Errorf("worker id is required")
	}
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO shift_schedules (worker_id, shift1_start, shift1_end, break1_start, break1_end,
			shift2_start, shift2_end, break2_start, break2_end)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(worker_id) DO UPDATE SET
			shift1_start = excluded.shift1_start, shift1_end = excluded.shift1_end,
			break1_start = excluded.break1_start, break1_end = excluded.break1_end,
			shift2_start = excluded.shift2_start, shift2_end = excluded.shift2_end,
			break2_start = excluded.break2_start, break2_end = excluded.break2_end`,
		schedule.WorkerID, schedule.Shift1Start, schedule.Shift1End,
		schedule.Break1Start, schedule.Break1End, schedule.Shift2Start, schedule.Shift2End,
		schedule.Break2Start, schedule.Break2End)
	return err
}

// GetShiftSchedule returns the stored schedule, or an empty one (treated
// as off duty) when the worker has none on file.
func (s *Store) GetShiftSchedule(ctx context.Context, workerID string) (model.ShiftSchedule, error) {
	schedule := model.ShiftSchedule{WorkerID: workerID}
	err := s.DB.QueryRowContext(ctx, `
		SELECT shift1_start, shift1_end, break1_start, break1_end,
			shift2_start, shift2_end, break2_start, break2_end
		FROM shift_schedules WHERE worker_id = ?`, workerID).
		Scan(&schedule.Shift1Start, &schedule.Shift1End, &schedule.Break1Start, &schedule.Break1End,
			&schedule.Shift2Start, &schedule.Shift2End, &schedule.Break2Start, &schedule.Break2End)
	if errors.Is(err, sql.ErrNoRows) {
		return model.ShiftSchedule{WorkerID: workerID}, nil
	}
	if err != nil {
		return model.ShiftSchedule{}, err
	}
	return schedule, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) insertAudit(ctx context.Context, q execer, ref model.TaskRef, entry model.AuditLogEntry) error {
	atClient, atServer := nullDual(entry.Timestamp)
	_, err := q.ExecContext(ctx, `
		INSERT INTO audit_log (collection, task_id, user_id, action, old_status, new_status,
			at_client, at_server, details)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(ref.Collection), ref.ID, entry.UserID, entry.Action,
		string(entry.OldStatus), string(entry.NewStatus), atClient, atServer, entry.Details)
	return err
}

func (s *Store) loadCoreParts(ctx context.Context, ref model.TaskRef, core *model.TaskCore) error {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT reason, paused_client, paused_server, resumed_client, resumed_server
		FROM pause_records WHERE collection = ? AND task_id = ? ORDER BY seq`,
		string(ref.Collection), ref.ID)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var record model.PauseRecord
		var pausedClient, pausedServer, resumedClient, resumedServer sql.NullString
		if err := rows.Scan(&record.Reason, &pausedClient, &pausedServer, &resumedClient, &resumedServer); err != nil {
			return err
		}
		record.PausedAt, err = dualFromNull(pausedClient, pausedServer)
		if err != nil {
			return err
		}
		record.ResumedAt, err = dualPtrFromNull(resumedClient, resumedServer)
		if err != nil {
			return err
		}
		core.Pauses = append(core.Pauses, record)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	auditRows, err := s.DB.QueryContext(ctx, `
		SELECT user_id, action, old_status, new_status, at_client, at_server, details
		FROM audit_log WHERE collection = ? AND task_id = ? ORDER BY id`,
		string(ref.Collection), ref.ID)
	if err != nil {
		return err
	}
	defer auditRows.Close()
	for auditRows.Next() {
		var entry model.AuditLogEntry
		var oldStatus, newStatus string
		var atClient, atServer sql.NullString
		if err := auditRows.Scan(&entry.UserID, &entry.Action, &oldStatus, &newStatus, &atClient, &atServer, &entry.Details); err != nil {
			return err
		}
		entry.OldStatus = model.Status(oldStatus)
		entry.NewStatus = model.Status(newStatus)
		entry.Timestamp, err = dualFromNull(atClient, atServer)
		if err != nil {
			return err
		}
		core.AuditLog = append(core.AuditLog, entry)
	}
	return auditRows.Err()
}

func formatCreatedDetails(title, kind, assignee string, expected int) string {
	if assignee == "" {
		assignee = "none"
	}
	return fmt.Sprintf("created: title='%s' kind=%s assignee=%s expected=%dm", title, kind, assignee, expected)
}

// coreScan bridges the nullable timestamp columns to the core struct.
type coreScan struct {
	core            *model.TaskCore
	status          string
	assignedClient  sql.NullString
	assignedServer  sql.NullString
	startedClient   sql.NullString
	startedServer   sql.NullString
	completedClient sql.NullString
	completedServer sql.NullString
	verifiedClient  sql.NullString
	verifiedServer  sql.NullString
	actualMinutes   sql.NullInt64
}

func coreScanTargets(core *model.TaskCore) (*coreScan, []any) {
	h := &coreScan{core: core}
	return h, []any{
		&core.ID, &core.Title, &h.status, &core.AssigneeID, &core.AssignerID,
		&h.assignedClient, &h.assignedServer, &core.ExpectedMinutes,
		&h.startedClient, &h.startedServer, &h.completedClient, &h.completedServer,
		&h.verifiedClient, &h.verifiedServer, &h.actualMinutes, &core.Version,
	}
}

func (h *coreScan) finish() error {
	h.core.Status = model.Status(h.status)

	var err error
	h.core.AssignedAt, err = dualFromNull(h.assignedClient, h.assignedServer)
	if err != nil {
		return err
	}
	h.core.StartedAt, err = dualPtrFromNull(h.startedClient, h.startedServer)
	if err != nil {
		return err
	}
	h.core.CompletedAt, err = dualPtrFromNull(h.completedClient, h.completedServer)
	if err != nil {
		return err
	}
	h.core.VerifiedAt, err = dualPtrFromNull(h.verifiedClient, h.verifiedServer)
	if err != nil {
		return err
	}
	if h.actualMinutes.Valid {
		minutes := int(h.actualMinutes.Int64)
		h.core.ActualMinutes = &minutes
	}
	return nil
}

func nullDual(d clock.DualTimestamp) (client, server sql.NullString) {
	return nullTime(d.Client), nullTime(d.Server)
}

func nullDualPtr(d *clock.DualTimestamp) (client, server sql.NullString) {
	if d == nil {
		return sql.NullString{}, sql.NullString{}
	}
	return nullDual(*d)
}

func nullTime(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339Nano), Valid: true}
}

func dualFromNull(client, server sql.NullString) (clock.DualTimestamp, error) {
	var d clock.DualTimestamp
	var err error
	if d.Client, err = timeFromNull(client); err != nil {
		return clock.DualTimestamp{}, err
	}
	if d.Server, err = timeFromNull(server); err != nil {
		return clock.DualTimestamp{}, err
	}
	return d, nil
}

func dualPtrFromNull(client, server sql.NullString) (*clock.DualTimestamp, error) {
	if !client.Valid && !server.Valid {
		return nil, nil
	}
	d, err := dualFromNull(client, server)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func timeFromNull(ns sql.NullString) (time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, ns.String)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse stored timestamp %q: %w", ns.String, err)
	}
	return t, nil
}
