// Package api is the worker console's HTTP client. It translates response
// statuses back into the same typed errors the server-side packages use,
// so the offline queue can classify replay failures without knowing it is
// talking over a network.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Likheet/hermes-monitoring-sub001/internal/coordinator"
	"github.com/Likheet/hermes-monitoring-sub001/internal/model"
	"github.com/Likheet/hermes-monitoring-sub001/internal/shift"
	"github.com/Likheet/hermes-monitoring-sub001/internal/state"
)

type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// Ping reports whether the server is reachable. The console polls this to
// flip between online dispatch and offline queueing.
func (c *Client) Ping(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", nil)
	if err != nil {
		return false
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func (c *Client) ListTasks(ctx context.Context, assigneeID string) ([]model.Task, error) {
	q := url.Values{}
	if assigneeID != "" {
		q.Set("assignee_id", assigneeID)
	}
	var out struct {
		Items []model.Task `json:"items"`
	}
	if err := c.getJSON(ctx, "/api/tasks?"+q.Encode(), &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

func (c *Client) ListMaintenanceTasks(ctx context.Context, assigneeID string) ([]model.MaintenanceTask, error) {
	q := url.Values{}
	if assigneeID != "" {
		q.Set("assignee_id", assigneeID)
	}
	var out struct {
		Items []model.MaintenanceTask `json:"items"`
	}
	if err := c.getJSON(ctx, "/api/maintenance?"+q.Encode(), &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

// TaskView is a task joined with the server's live elapsed reading.
type TaskView struct {
	Task                 model.Task `json:"task"`
	ActiveElapsedSeconds int64      `json:"active_elapsed_seconds"`
}

func (c *Client) GetTask(ctx context.Context, ref model.TaskRef) (*TaskView, error) {
	var out TaskView
	if err := c.getJSON(ctx, collectionPath(ref.Collection)+"/"+ref.ID, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ShiftStatus(ctx context.Context, workerID string) (shift.Evaluation, error) {
	var eval shift.Evaluation
	err := c.getJSON(ctx, "/api/workers/"+workerID+"/shift-status", &eval)
	return eval, err
}

func (c *Client) Start(ctx context.Context, ref model.TaskRef, workerID string, clientTime time.Time) error {
	return c.transition(ctx, ref, "start", transitionBody{WorkerID: workerID, ClientTime: clientTime})
}

func (c *Client) Pause(ctx context.Context, ref model.TaskRef, workerID, reason string, clientTime time.Time) error {
	return c.transition(ctx, ref, "pause", transitionBody{WorkerID: workerID, Reason: reason, ClientTime: clientTime})
}

func (c *Client) Resume(ctx context.Context, ref model.TaskRef, workerID string, clientTime time.Time) error {
	return c.transition(ctx, ref, "resume", transitionBody{WorkerID: workerID, ClientTime: clientTime})
}

func (c *Client) Complete(ctx context.Context, ref model.TaskRef, workerID string, clientTime time.Time) error {
	return c.transition(ctx, ref, "complete", transitionBody{WorkerID: workerID, ClientTime: clientTime})
}

func (c *Client) Swap(ctx context.Context, from, to model.TaskRef, workerID string, clientTime time.Time) error {
	return c.transition(ctx, from, "swap", transitionBody{
		WorkerID:   workerID,
		ToTaskID:   to.ID,
		ToMaint:    to.Collection == model.CollectionMaintenance,
		ClientTime: clientTime,
	})
}

// Apply replays one queued offline action against the server, so the
// client satisfies the queue's Applier contract directly.
func (c *Client) Apply(ctx context.Context, action model.QueuedAction) error {
	switch action.Type {
	case model.ActionStart:
		return c.Start(ctx, action.TaskRef, action.UserID, action.ClientTime)
	case model.ActionPause:
		return c.Pause(ctx, action.TaskRef, action.UserID, action.Reason, action.ClientTime)
	case model.ActionResume:
		return c.Resume(ctx, action.TaskRef, action.UserID, action.ClientTime)
	case model.ActionComplete:
		return c.Complete(ctx, action.TaskRef, action.UserID, action.ClientTime)
	default:
		return fmt.Errorf("%w: unknown queued action %q", state.ErrInvalidTransition, action.Type)
	}
}

type transitionBody struct {
	WorkerID   string    `json:"worker_id"`
	Reason     string    `json:"reason,omitempty"`
	ToTaskID   string    `json:"to_task_id,omitempty"`
	ToMaint    bool      `json:"to_maintenance,omitempty"`
	ClientTime time.Time `json:"client_time"`
}

func collectionPath(collection model.Collection) string {
	if collection == model.CollectionMaintenance {
		return "/api/maintenance"
	}
	return "/api/tasks"
}

func (c *Client) transition(ctx context.Context, ref model.TaskRef, action string, body transitionBody) error {
	buf, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode %s request: %w", action, err)
	}
	path := collectionPath(ref.Collection) + "/" + ref.ID + "/" + action
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(buf))
	if err != nil {
		return fmt.Errorf("build %s request: %w", action, err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", action, ref.ID, err)
	}
	defer resp.Body.Close()
	return decodeError(resp)
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("get %s: %w", path, err)
	}
	defer resp.Body.Close()
	if err := decodeError(resp); err != nil {
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

type errorBody struct {
	Error                string `json:"error"`
	PausedTaskID         string `json:"paused_task_id"`
	PausedTaskName       string `json:"paused_task_name"`
	PausedTaskCollection string `json:"paused_task_collection"`
}

// decodeError maps error statuses back onto the core's sentinel errors.
// A 409 carrying swap fields becomes a SwapRequiredError; any other
// status keeps its server-side message.
func decodeError(resp *http.Response) error {
	if resp.StatusCode < 400 {
		return nil
	}
	var body errorBody
	raw, _ := io.ReadAll(resp.Body)
	_ = json.Unmarshal(raw, &body)
	if body.Error == "" {
		body.Error = strings.TrimSpace(string(raw))
	}

	switch resp.StatusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", state.ErrNotFound, body.Error)
	case http.StatusUnprocessableEntity:
		return fmt.Errorf("%w: %s", state.ErrInvalidTransition, body.Error)
	case http.StatusConflict:
		if body.PausedTaskID != "" {
			return &coordinator.SwapRequiredError{
				Collection: model.Collection(body.PausedTaskCollection),
				TaskID:     body.PausedTaskID,
				TaskName:   body.PausedTaskName,
			}
		}
		return fmt.Errorf("%w: %s", state.ErrConflict, body.Error)
	case http.StatusLocked:
		return fmt.Errorf("%w: %s", coordinator.ErrShiftViolation, body.Error)
	default:
		return fmt.Errorf("server error (%d): %s", resp.StatusCode, body.Error)
	}
}
