package offline

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Likheet/hermes-monitoring-sub001/internal/model"
)

const localSchema = `
CREATE TABLE IF NOT EXISTS queued_actions (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	action_id TEXT NOT NULL UNIQUE,
	device_id TEXT NOT NULL,
	payload TEXT NOT NULL,
	enqueued_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS timer_snapshots (
	task_id TEXT PRIMARY KEY,
	elapsed_seconds INTEGER NOT NULL,
	taken_at TEXT NOT NULL
);
`

// SQLiteStorage is the device-local durable store backing the offline
// queue and the last-known timer snapshot. It survives app restarts; the
// queue is keyed by device so two devices never share a FIFO.
type SQLiteStorage struct {
	db       *sql.DB
	deviceID string
}

func OpenStorage(path, deviceID string) (*SQLiteStorage, error) {
	if path == "" {
		return nil, fmt.Errorf("local storage path is required")
	}
	if deviceID == "" {
		return nil, fmt.Errorf("device id is required")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.ExecContext(context.Background(), localSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply local schema: %w", err)
	}
	return &SQLiteStorage{db: db, deviceID: deviceID}, nil
}

func (s *SQLiteStorage) Close() error { return s.db.Close() }

func (s *SQLiteStorage) Append(ctx context.Context, action model.QueuedAction) error {
	payload, err := json.Marshal(action)
	if err != nil {
		return fmt.Errorf("marshal action: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO queued_actions (action_id, device_id, payload, enqueued_at) VALUES (?, ?, ?, ?)",
		action.ID, s.deviceID, string(payload), time.Now().UTC().Format(time.RFC3339Nano))
	return err
}

// List returns this device's actions in enqueue order. An entry whose
// payload no longer decodes is corrupt local state: it is logged and
// deleted rather than allowed to block the queue.
func (s *SQLiteStorage) List(ctx context.Context) ([]model.QueuedAction, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT action_id, payload FROM queued_actions WHERE device_id = ? ORDER BY seq", s.deviceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var actions []model.QueuedAction
	var corrupt []string
	for rows.Next() {
		var id, payload string
		if err := rows.Scan(&id, &payload); err != nil {
			return nil, err
		}
		var action model.QueuedAction
		if err := json.Unmarshal([]byte(payload), &action); err != nil {
			log.Printf("dropping corrupt queued action %s: %v", id, err)
			corrupt = append(corrupt, id)
			continue
		}
		actions = append(actions, action)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, id := range corrupt {
		if err := s.Remove(ctx, id); err != nil {
			return nil, fmt.Errorf("drop corrupt action %s: %w", id, err)
		}
	}
	return actions, nil
}

func (s *SQLiteStorage) Remove(ctx context.Context, actionID string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM queued_actions WHERE action_id = ?", actionID)
	return err
}

func (s *SQLiteStorage) Len(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM queued_actions WHERE device_id = ?", s.deviceID).Scan(&n)
	return n, err
}

// SaveSnapshot records the last elapsed reading for a task so the display
// can pick up where it left off after a restart.
func (s *SQLiteStorage) SaveSnapshot(ctx context.Context, taskID string, elapsedSeconds int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO timer_snapshots (task_id, elapsed_seconds, taken_at) VALUES (?, ?, ?)
		 ON CONFLICT(task_id) DO UPDATE SET elapsed_seconds = excluded.elapsed_seconds, taken_at = excluded.taken_at`,
		taskID, elapsedSeconds, time.Now().UTC().Format(time.RFC3339Nano))
	return err
}

func (s *SQLiteStorage) LoadSnapshot(ctx context.Context, taskID string) (int64, bool, error) {
	var elapsed int64
	err := s.db.QueryRowContext(ctx,
		"SELECT elapsed_seconds FROM timer_snapshots WHERE task_id = ?", taskID).Scan(&elapsed)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return elapsed, true, nil
}
