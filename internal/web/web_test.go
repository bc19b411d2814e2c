package web

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Likheet/hermes-monitoring-sub001/internal/clock"
	"github.com/Likheet/hermes-monitoring-sub001/internal/coordinator"
	"github.com/Likheet/hermes-monitoring-sub001/internal/db"
	"github.com/Likheet/hermes-monitoring-sub001/internal/model"
	"github.com/Likheet/hermes-monitoring-sub001/internal/shift"
)

func newTestServer(t *testing.T) (*httptest.Server, *db.Store, func()) {
	t.Helper()
	sqlDB, err := db.Open(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	clk := clock.NewSource(func() time.Time { return now })
	store := db.NewStore(sqlDB, clk)
	shifts := shift.NewScheduleService(store)
	coord := coordinator.New(store, shifts, clk)
	srv := httptest.NewServer(NewServer(store, coord, shifts, clk).Handler())
	return srv, store, func() {
		srv.Close()
		_ = sqlDB.Close()
	}
}

func postJSON(t *testing.T, url string, body any) (*http.Response, map[string]any) {
	t.Helper()
	buf, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(buf))
	if err != nil {
		t.Fatalf("post %s: %v", url, err)
	}
	defer resp.Body.Close()
	var decoded map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp, decoded
}

func createWorkerWithShift(t *testing.T, srv *httptest.Server, id string) {
	t.Helper()
	resp, _ := postJSON(t, srv.URL+"/api/workers", model.Worker{ID: id, Name: "Worker " + id, Department: "housekeeping"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create worker: status %d", resp.StatusCode)
	}
	schedule := model.ShiftSchedule{
		Shift1Start: "08:00", Shift1End: "16:00",
		Shift2Start: "17:00", Shift2End: "21:00",
	}
	buf, _ := json.Marshal(schedule)
	req, _ := http.NewRequest(http.MethodPut, srv.URL+"/api/workers/"+id+"/schedule", bytes.NewReader(buf))
	req.Header.Set("Content-Type", "application/json")
	resp2, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("put schedule: %v", err)
	}
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusOK {
		t.Fatalf("put schedule: status %d", resp2.StatusCode)
	}
}

func createTask(t *testing.T, srv *httptest.Server, title, assignee string) string {
	t.Helper()
	resp, body := postJSON(t, srv.URL+"/api/tasks", map[string]any{
		"title":            title,
		"kind":             "STANDARD",
		"assignee_id":      assignee,
		"assigner_id":      "sup1",
		"expected_minutes": 30,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create task: status %d body %v", resp.StatusCode, body)
	}
	task := body["task"].(map[string]any)
	return task["id"].(string)
}

func createMaintenanceTask(t *testing.T, srv *httptest.Server, title, assignee string) string {
	t.Helper()
	resp, body := postJSON(t, srv.URL+"/api/maintenance", map[string]any{
		"title":       title,
		"location":    "roof",
		"category":    "HVAC",
		"assignee_id": assignee,
		"assigner_id": "sup1",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create maintenance task: status %d body %v", resp.StatusCode, body)
	}
	task := body["task"].(map[string]any)
	return task["id"].(string)
}

func TestStartGrantedWhenIdle(t *testing.T) {
	srv, _, cleanup := newTestServer(t)
	defer cleanup()
	createWorkerWithShift(t, srv, "w1")
	id := createTask(t, srv, "Clean lobby", "w1")

	resp, body := postJSON(t, srv.URL+"/api/tasks/"+id+"/start", map[string]any{"worker_id": "w1"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("start: status %d body %v", resp.StatusCode, body)
	}
	if body["status"] != "IN_PROGRESS" {
		t.Fatalf("expected IN_PROGRESS, got %v", body["status"])
	}
}

func TestStartConflictReturnsSwapPrompt(t *testing.T) {
	srv, _, cleanup := newTestServer(t)
	defer cleanup()
	createWorkerWithShift(t, srv, "w1")
	first := createTask(t, srv, "Clean lobby", "w1")
	second := createTask(t, srv, "Restock towels", "w1")

	resp, _ := postJSON(t, srv.URL+"/api/tasks/"+first+"/start", map[string]any{"worker_id": "w1"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("start first: status %d", resp.StatusCode)
	}

	resp, body := postJSON(t, srv.URL+"/api/tasks/"+second+"/start", map[string]any{"worker_id": "w1"})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d body %v", resp.StatusCode, body)
	}
	if body["paused_task_id"] != first {
		t.Fatalf("expected conflict with %s, got %v", first, body["paused_task_id"])
	}
	if body["paused_task_name"] != "Clean lobby" {
		t.Fatalf("expected conflicting task name, got %v", body["paused_task_name"])
	}
	if body["paused_task_collection"] != string(model.CollectionTasks) {
		t.Fatalf("expected tasks collection in prompt, got %v", body["paused_task_collection"])
	}
}

func TestStartConflictCarriesCollection(t *testing.T) {
	srv, _, cleanup := newTestServer(t)
	defer cleanup()
	createWorkerWithShift(t, srv, "w1")
	maint := createMaintenanceTask(t, srv, "Fix AC unit", "w1")
	task := createTask(t, srv, "Clean lobby", "w1")

	resp, _ := postJSON(t, srv.URL+"/api/maintenance/"+maint+"/start", map[string]any{"worker_id": "w1"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("start maintenance: status %d", resp.StatusCode)
	}

	// The prompt must say which collection the running task lives in, or
	// the caller would confirm the swap against the wrong endpoint.
	resp, body := postJSON(t, srv.URL+"/api/tasks/"+task+"/start", map[string]any{"worker_id": "w1"})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d body %v", resp.StatusCode, body)
	}
	if body["paused_task_id"] != maint {
		t.Fatalf("expected conflict with %s, got %v", maint, body["paused_task_id"])
	}
	if body["paused_task_collection"] != string(model.CollectionMaintenance) {
		t.Fatalf("expected maintenance collection in prompt, got %v", body["paused_task_collection"])
	}

	// Confirming against the maintenance endpoint completes the swap.
	resp, body = postJSON(t, srv.URL+"/api/maintenance/"+maint+"/swap", map[string]any{
		"worker_id":  "w1",
		"to_task_id": task,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("swap: status %d body %v", resp.StatusCode, body)
	}
	if body["status"] != "IN_PROGRESS" {
		t.Fatalf("expected swapped-to task IN_PROGRESS, got %v", body["status"])
	}
}

func TestSwapEndpointPausesAndStarts(t *testing.T) {
	srv, _, cleanup := newTestServer(t)
	defer cleanup()
	createWorkerWithShift(t, srv, "w1")
	first := createTask(t, srv, "Clean lobby", "w1")
	second := createTask(t, srv, "Restock towels", "w1")

	if resp, _ := postJSON(t, srv.URL+"/api/tasks/"+first+"/start", map[string]any{"worker_id": "w1"}); resp.StatusCode != http.StatusOK {
		t.Fatalf("start first: status %d", resp.StatusCode)
	}
	resp, body := postJSON(t, srv.URL+"/api/tasks/"+first+"/swap", map[string]any{
		"worker_id":  "w1",
		"to_task_id": second,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("swap: status %d body %v", resp.StatusCode, body)
	}
	if body["status"] != "IN_PROGRESS" {
		t.Fatalf("expected swapped-to task IN_PROGRESS, got %v", body["status"])
	}

	getResp, err := http.Get(srv.URL + "/api/tasks/" + first)
	if err != nil {
		t.Fatalf("get first: %v", err)
	}
	defer getResp.Body.Close()
	var got map[string]any
	if err := json.NewDecoder(getResp.Body).Decode(&got); err != nil {
		t.Fatalf("decode get: %v", err)
	}
	task := got["task"].(map[string]any)
	if task["status"] != "PAUSED" {
		t.Fatalf("expected swapped-from task PAUSED, got %v", task["status"])
	}
}

func TestInvalidTransitionReturns422(t *testing.T) {
	srv, _, cleanup := newTestServer(t)
	defer cleanup()
	createWorkerWithShift(t, srv, "w1")
	id := createTask(t, srv, "Clean lobby", "w1")

	// Verify from PENDING skips the whole working lifecycle.
	resp, _ := postJSON(t, srv.URL+"/api/tasks/"+id+"/verify", map[string]any{"worker_id": "sup1"})
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", resp.StatusCode)
	}
}

func TestUnknownTaskReturns404(t *testing.T) {
	srv, _, cleanup := newTestServer(t)
	defer cleanup()
	createWorkerWithShift(t, srv, "w1")

	resp, _ := postJSON(t, srv.URL+"/api/tasks/no-such-task/start", map[string]any{"worker_id": "w1"})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestOffDutyWorkerDenied(t *testing.T) {
	srv, _, cleanup := newTestServer(t)
	defer cleanup()
	createWorkerWithShift(t, srv, "w1")
	// w2 has no schedule rows at all, so the evaluation is OFF_DUTY.
	resp, _ := postJSON(t, srv.URL+"/api/workers", model.Worker{ID: "w2", Name: "Worker w2"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create worker: status %d", resp.StatusCode)
	}
	id := createTask(t, srv, "Clean lobby", "w1")

	resp, body := postJSON(t, srv.URL+"/api/tasks/"+id+"/start", map[string]any{"worker_id": "w2"})
	if resp.StatusCode != http.StatusLocked {
		t.Fatalf("expected 423, got %d body %v", resp.StatusCode, body)
	}
}

func TestTaskViewReportsElapsedSeconds(t *testing.T) {
	srv, _, cleanup := newTestServer(t)
	defer cleanup()
	createWorkerWithShift(t, srv, "w1")
	id := createTask(t, srv, "Clean lobby", "w1")
	if resp, _ := postJSON(t, srv.URL+"/api/tasks/"+id+"/start", map[string]any{"worker_id": "w1"}); resp.StatusCode != http.StatusOK {
		t.Fatalf("start: status %d", resp.StatusCode)
	}

	// The test clock is frozen so the live reading right after start is 0.
	getResp, err := http.Get(srv.URL + "/api/tasks/" + id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer getResp.Body.Close()
	var got map[string]any
	if err := json.NewDecoder(getResp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, ok := got["active_elapsed_seconds"]; !ok {
		t.Fatalf("expected active_elapsed_seconds in view, got %v", got)
	}
}

func TestShiftStatusEndpoint(t *testing.T) {
	srv, _, cleanup := newTestServer(t)
	defer cleanup()
	createWorkerWithShift(t, srv, "w1")

	resp, err := http.Get(srv.URL + "/api/workers/w1/shift-status")
	if err != nil {
		t.Fatalf("get shift status: %v", err)
	}
	defer resp.Body.Close()
	var eval shift.Evaluation
	if err := json.NewDecoder(resp.Body).Decode(&eval); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if eval.Status != shift.OnShift {
		t.Fatalf("expected ON_SHIFT at 10:00, got %s", eval.Status)
	}
	if eval.MinutesUntilEnd != 360 {
		t.Fatalf("expected 360 minutes until shift end, got %d", eval.MinutesUntilEnd)
	}
}

func TestListTasksFilters(t *testing.T) {
	srv, _, cleanup := newTestServer(t)
	defer cleanup()
	createWorkerWithShift(t, srv, "w1")
	createWorkerWithShift(t, srv, "w2")
	createTask(t, srv, "Clean lobby", "w1")
	createTask(t, srv, "Restock towels", "w2")

	resp, err := http.Get(fmt.Sprintf("%s/api/tasks?assignee_id=w1", srv.URL))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	defer resp.Body.Close()
	var got struct {
		Items []model.Task `json:"items"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got.Items) != 1 || got.Items[0].Title != "Clean lobby" {
		t.Fatalf("expected only w1's task, got %+v", got.Items)
	}
}
