// Package offline buffers worker actions taken while disconnected and
// replays them against the server, strictly in FIFO order, once
// connectivity returns. Start/pause/resume/complete on the same task do
// not commute, so the drain is one action at a time and never reordered.
package offline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	"github.com/Likheet/hermes-monitoring-sub001/internal/coordinator"
	"github.com/Likheet/hermes-monitoring-sub001/internal/model"
	"github.com/Likheet/hermes-monitoring-sub001/internal/state"
)

// Storage is the local durable surface under the queue. List returns
// entries in enqueue order; implementations drop (and log) entries whose
// payload no longer decodes rather than blocking the rest of the queue.
type Storage interface {
	Append(ctx context.Context, action model.QueuedAction) error
	List(ctx context.Context) ([]model.QueuedAction, error)
	Remove(ctx context.Context, actionID string) error
	Len(ctx context.Context) (int, error)
}

// Applier delivers one action to the server of record. Replays rely on
// transition idempotence: an action the server already applied is a no-op
// success.
type Applier interface {
	Apply(ctx context.Context, action model.QueuedAction) error
}

// ConflictNotice surfaces a queued action that is no longer legal against
// the task's current server state. The action has been discarded; the user
// must be told, not silently skipped.
type ConflictNotice struct {
	Action model.QueuedAction
	Err    error
}

type Queue struct {
	storage    Storage
	applier    Applier
	onConflict func(ConflictNotice)

	mu       sync.Mutex
	draining atomic.Bool
}

func NewQueue(storage Storage, applier Applier, onConflict func(ConflictNotice)) *Queue {
	if onConflict == nil {
		onConflict = func(n ConflictNotice) {
			log.Printf("queued %s for task %s discarded: %v", n.Action.Type, n.Action.TaskRef.ID, n.Err)
		}
	}
	return &Queue{storage: storage, applier: applier, onConflict: onConflict}
}

// Enqueue persists an action for later replay. The caller reports the
// action as "queued" to the user.
func (q *Queue) Enqueue(ctx context.Context, action model.QueuedAction) error {
	if action.ID == "" {
		return fmt.Errorf("queued action needs an id")
	}
	return q.storage.Append(ctx, action)
}

// Pending reports how many actions await replay.
func (q *Queue) Pending(ctx context.Context) (int, error) {
	return q.storage.Len(ctx)
}

// Draining reports whether a drain pass is in flight, for UI offline
// indicators.
func (q *Queue) Draining() bool {
	return q.draining.Load()
}

// Drain replays every queued action in FIFO order. Conflict-shaped
// failures discard the action and notify; any other failure (the network
// dropping mid-replay) stops the pass with the remainder intact, to be
// retried on the next connectivity event.
func (q *Queue) Drain(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.draining.Store(true)
	defer q.draining.Store(false)

	actions, err := q.storage.List(ctx)
	if err != nil {
		return fmt.Errorf("list queue: %w", err)
	}

	for _, action := range actions {
		err := q.applier.Apply(ctx, action)
		switch {
		case err == nil:
			if err := q.storage.Remove(ctx, action.ID); err != nil {
				return fmt.Errorf("remove acked action: %w", err)
			}
		case conflictShaped(err):
			if err := q.storage.Remove(ctx, action.ID); err != nil {
				return fmt.Errorf("remove conflicted action: %w", err)
			}
			q.onConflict(ConflictNotice{Action: action, Err: err})
		default:
			return fmt.Errorf("replay %s for task %s: %w", action.Type, action.TaskRef.ID, err)
		}
	}
	return nil
}

// conflictShaped reports whether a replay failure means the action can no
// longer apply to the task's current server state, as opposed to a
// transient delivery failure.
func conflictShaped(err error) bool {
	if errors.Is(err, state.ErrInvalidTransition) ||
		errors.Is(err, state.ErrNotFound) ||
		errors.Is(err, state.ErrCorruptLedger) ||
		errors.Is(err, coordinator.ErrPauseUnavailable) ||
		errors.Is(err, coordinator.ErrShiftViolation) {
		return true
	}
	var swap *coordinator.SwapRequiredError
	return errors.As(err, &swap)
}
