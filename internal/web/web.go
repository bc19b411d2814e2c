// Package web exposes the coordinator over HTTP. Handlers never touch
// task state directly: every mutation goes through the state machine and
// the coordinator, and every response is a typed JSON envelope.
package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/Likheet/hermes-monitoring-sub001/internal/clock"
	"github.com/Likheet/hermes-monitoring-sub001/internal/coordinator"
	"github.com/Likheet/hermes-monitoring-sub001/internal/db"
	"github.com/Likheet/hermes-monitoring-sub001/internal/model"
	"github.com/Likheet/hermes-monitoring-sub001/internal/shift"
	"github.com/Likheet/hermes-monitoring-sub001/internal/state"
	"github.com/Likheet/hermes-monitoring-sub001/internal/timer"
)

type Server struct {
	store  *db.Store
	coord  *coordinator.Coordinator
	shifts shift.Service
	clock  *clock.Source
}

func NewServer(store *db.Store, coord *coordinator.Coordinator, shifts shift.Service, clk *clock.Source) *Server {
	if clk == nil {
		clk = clock.System()
	}
	return &Server{store: store, coord: coord, shifts: shifts, clock: clk}
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
	}))

	r.Get("/healthz", healthHandler)

	r.Route("/api/tasks", func(r chi.Router) {
		r.Post("/", s.createTaskHandler)
		r.Get("/", s.listTasksHandler)
		r.Get("/{task_id}", s.getTaskHandler)
		s.transitionRoutes(r, model.CollectionTasks)
	})

	r.Route("/api/maintenance", func(r chi.Router) {
		r.Post("/", s.createMaintenanceHandler)
		r.Get("/", s.listMaintenanceHandler)
		r.Get("/{task_id}", s.getMaintenanceHandler)
		s.transitionRoutes(r, model.CollectionMaintenance)
	})

	r.Route("/api/workers", func(r chi.Router) {
		r.Post("/", s.createWorkerHandler)
		r.Get("/", s.listWorkersHandler)
		r.Get("/{worker_id}/shift-status", s.shiftStatusHandler)
		r.Put("/{worker_id}/schedule", s.putScheduleHandler)
	})

	return r
}

func (s *Server) transitionRoutes(r chi.Router, collection model.Collection) {
	r.Post("/{task_id}/start", s.startHandler(collection))
	r.Post("/{task_id}/pause", s.pauseHandler(collection))
	r.Post("/{task_id}/resume", s.resumeHandler(collection))
	r.Post("/{task_id}/complete", s.completeHandler(collection))
	r.Post("/{task_id}/verify", s.verifyHandler(collection))
	r.Post("/{task_id}/reject", s.rejectHandler(collection))
	r.Post("/{task_id}/reassign", s.reassignHandler(collection))
	r.Post("/{task_id}/swap", s.swapHandler(collection))
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type transitionRequest struct {
	WorkerID   string    `json:"worker_id"`
	Reason     string    `json:"reason,omitempty"`
	AssigneeID string    `json:"assignee_id,omitempty"`
	ToTaskID   string    `json:"to_task_id,omitempty"`
	ToMaint    bool      `json:"to_maintenance,omitempty"`
	ClientTime time.Time `json:"client_time,omitempty"`
}

// coreView is the transition response: the lifecycle state plus the live
// elapsed reading for the caller's display.
type coreView struct {
	*model.TaskCore
	ActiveElapsedSeconds int64 `json:"active_elapsed_seconds"`
}

func (s *Server) coreView(core *model.TaskCore) coreView {
	return coreView{TaskCore: core, ActiveElapsedSeconds: timer.ActiveElapsedSeconds(core, s.clock.Now())}
}

func (s *Server) createTaskHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		db.TaskInput
		StartImmediately bool `json:"start_immediately"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}

	// Admission control: no new assignments for off-duty or on-break
	// workers.
	if req.AssigneeID != "" {
		if err := s.coord.AdmitAssignment(r.Context(), req.AssigneeID); err != nil {
			s.writeError(w, err)
			return
		}
	}

	task, err := s.store.CreateTask(r.Context(), req.TaskInput)
	if err != nil {
		s.writeError(w, err)
		return
	}

	// A task created with an assignee may begin immediately, still through
	// the coordinator's single-active gate; if not granted it stays
	// PENDING and the outcome says why.
	if req.StartImmediately && req.AssigneeID != "" {
		core, outcome, err := s.coord.RequestStart(r.Context(), task.Ref(), req.AssigneeID, time.Time{})
		if err != nil {
			s.writeError(w, err)
			return
		}
		if outcome.Decision == coordinator.Granted {
			task.TaskCore = *core
		}
		writeJSON(w, http.StatusCreated, map[string]any{"task": task, "outcome": outcome})
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{"task": task})
}

func (s *Server) createMaintenanceHandler(w http.ResponseWriter, r *http.Request) {
	var req db.MaintenanceTaskInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	if req.AssigneeID != "" {
		if err := s.coord.AdmitAssignment(r.Context(), req.AssigneeID); err != nil {
			s.writeError(w, err)
			return
		}
	}

	task, err := s.store.CreateMaintenanceTask(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"task": task})
}

func (s *Server) listTasksHandler(w http.ResponseWriter, r *http.Request) {
	filter := model.Filter{
		Status:     model.Status(r.URL.Query().Get("status")),
		AssigneeID: r.URL.Query().Get("assignee_id"),
		Department: r.URL.Query().Get("department"),
	}
	tasks, err := s.store.ListTasks(r.Context(), filter)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": tasks})
}

func (s *Server) listMaintenanceHandler(w http.ResponseWriter, r *http.Request) {
	filter := model.Filter{
		Status:     model.Status(r.URL.Query().Get("status")),
		AssigneeID: r.URL.Query().Get("assignee_id"),
	}
	tasks, err := s.store.ListMaintenanceTasks(r.Context(), filter)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": tasks})
}

func (s *Server) getTaskHandler(w http.ResponseWriter, r *http.Request) {
	task, err := s.store.GetTask(r.Context(), chi.URLParam(r, "task_id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"task":                   task,
		"active_elapsed_seconds": timer.ActiveElapsedSeconds(&task.TaskCore, s.clock.Now()),
	})
}

func (s *Server) getMaintenanceHandler(w http.ResponseWriter, r *http.Request) {
	task, err := s.store.GetMaintenanceTask(r.Context(), chi.URLParam(r, "task_id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"task":                   task,
		"active_elapsed_seconds": timer.ActiveElapsedSeconds(&task.TaskCore, s.clock.Now()),
	})
}

func (s *Server) startHandler(collection model.Collection) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, ref, ok := s.decodeTransition(w, r, collection)
		if !ok {
			return
		}
		core, outcome, err := s.coord.RequestStart(r.Context(), ref, req.WorkerID, req.ClientTime)
		s.writeOutcome(w, core, outcome, err)
	}
}

func (s *Server) resumeHandler(collection model.Collection) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, ref, ok := s.decodeTransition(w, r, collection)
		if !ok {
			return
		}
		core, outcome, err := s.coord.RequestResume(r.Context(), ref, req.WorkerID, req.ClientTime)
		s.writeOutcome(w, core, outcome, err)
	}
}

func (s *Server) pauseHandler(collection model.Collection) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, ref, ok := s.decodeTransition(w, r, collection)
		if !ok {
			return
		}
		core, err := s.coord.Pause(r.Context(), ref, req.WorkerID, req.Reason, req.ClientTime)
		if err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, s.coreView(core))
	}
}

func (s *Server) completeHandler(collection model.Collection) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, ref, ok := s.decodeTransition(w, r, collection)
		if !ok {
			return
		}
		core, err := s.coord.Complete(r.Context(), ref, req.WorkerID, req.ClientTime)
		if err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, s.coreView(core))
	}
}

func (s *Server) verifyHandler(collection model.Collection) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, ref, ok := s.decodeTransition(w, r, collection)
		if !ok {
			return
		}
		core, err := s.coord.Verify(r.Context(), ref, req.WorkerID, req.ClientTime)
		if err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, s.coreView(core))
	}
}

func (s *Server) rejectHandler(collection model.Collection) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, ref, ok := s.decodeTransition(w, r, collection)
		if !ok {
			return
		}
		core, err := s.coord.Reject(r.Context(), ref, req.WorkerID, req.Reason, req.ClientTime)
		if err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, s.coreView(core))
	}
}

func (s *Server) reassignHandler(collection model.Collection) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, ref, ok := s.decodeTransition(w, r, collection)
		if !ok {
			return
		}
		core, err := s.coord.Reassign(r.Context(), ref, req.WorkerID, req.AssigneeID)
		if err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, s.coreView(core))
	}
}

func (s *Server) swapHandler(collection model.Collection) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, fromRef, ok := s.decodeTransition(w, r, collection)
		if !ok {
			return
		}
		toCollection := model.CollectionTasks
		if req.ToMaint {
			toCollection = model.CollectionMaintenance
		}
		toRef := model.TaskRef{Collection: toCollection, ID: req.ToTaskID}
		core, err := s.coord.Swap(r.Context(), fromRef, toRef, req.WorkerID, req.ClientTime)
		if err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, s.coreView(core))
	}
}

func (s *Server) createWorkerHandler(w http.ResponseWriter, r *http.Request) {
	var worker model.Worker
	if err := json.NewDecoder(r.Body).Decode(&worker); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	created, err := s.store.CreateWorker(r.Context(), worker)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) listWorkersHandler(w http.ResponseWriter, r *http.Request) {
	workers, err := s.store.ListWorkers(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": workers})
}

func (s *Server) shiftStatusHandler(w http.ResponseWriter, r *http.Request) {
	eval, err := s.shifts.ShiftStatus(r.Context(), chi.URLParam(r, "worker_id"), s.clock.Now())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, eval)
}

func (s *Server) putScheduleHandler(w http.ResponseWriter, r *http.Request) {
	var schedule model.ShiftSchedule
	if err := json.NewDecoder(r.Body).Decode(&schedule); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	schedule.WorkerID = chi.URLParam(r, "worker_id")
	if err := s.store.UpsertShiftSchedule(r.Context(), schedule); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, schedule)
}

func (s *Server) decodeTransition(w http.ResponseWriter, r *http.Request, collection model.Collection) (transitionRequest, model.TaskRef, bool) {
	var req transitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return req, model.TaskRef{}, false
	}
	if req.WorkerID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "worker_id required"})
		return req, model.TaskRef{}, false
	}
	return req, model.TaskRef{Collection: collection, ID: chi.URLParam(r, "task_id")}, true
}

// writeOutcome maps a start/resume outcome to the wire: Granted → 200,
// SwapRequired → 409 with the swap prompt fields, Denied → 423.
func (s *Server) writeOutcome(w http.ResponseWriter, core *model.TaskCore, outcome coordinator.Outcome, err error) {
	if err != nil {
		s.writeError(w, err)
		return
	}
	switch outcome.Decision {
	case coordinator.Granted:
		writeJSON(w, http.StatusOK, s.coreView(core))
	case coordinator.SwapRequired:
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":                  "another task is in progress",
			"paused_task_id":         outcome.ConflictTaskID,
			"paused_task_name":       outcome.ConflictTaskName,
			"paused_task_collection": outcome.ConflictTaskRef.Collection,
		})
	case coordinator.Denied:
		writeJSON(w, http.StatusLocked, map[string]string{"error": outcome.Reason})
	default:
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "unknown outcome"})
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	var swap *coordinator.SwapRequiredError
	switch {
	case errors.As(err, &swap):
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":                  swap.Error(),
			"paused_task_id":         swap.TaskID,
			"paused_task_name":       swap.TaskName,
			"paused_task_collection": swap.Ref().Collection,
		})
	case errors.Is(err, state.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.Is(err, state.ErrInvalidTransition), errors.Is(err, state.ErrCorruptLedger):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
	case errors.Is(err, coordinator.ErrPauseUnavailable):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
	case errors.Is(err, coordinator.ErrShiftViolation):
		writeJSON(w, http.StatusLocked, map[string]string{"error": err.Error()})
	case errors.Is(err, state.ErrConflict):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	default:
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
