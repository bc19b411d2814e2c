package tui

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jesseduffield/gocui"

	"github.com/Likheet/hermes-monitoring-sub001/internal/clock"
	"github.com/Likheet/hermes-monitoring-sub001/internal/coordinator"
	"github.com/Likheet/hermes-monitoring-sub001/internal/model"
	"github.com/Likheet/hermes-monitoring-sub001/internal/offline"
	"github.com/Likheet/hermes-monitoring-sub001/internal/state"
)

func (u *UI) startSelected(_ *gocui.Gui, _ *gocui.View) error {
	return u.dispatch(model.ActionStart, "")
}

func (u *UI) pauseSelected(_ *gocui.Gui, _ *gocui.View) error {
	return u.dispatch(model.ActionPause, "paused from console")
}

func (u *UI) resumeSelected(_ *gocui.Gui, _ *gocui.View) error {
	return u.dispatch(model.ActionResume, "")
}

func (u *UI) completeSelected(_ *gocui.Gui, _ *gocui.View) error {
	return u.dispatch(model.ActionComplete, "")
}

// dispatch routes a transition to the server when connected, or into the
// durable queue when not. A SwapRequired answer opens the confirmation
// prompt instead of surfacing as an error.
func (u *UI) dispatch(action model.ActionType, reason string) error {
	row := u.selectedRow()
	if row == nil {
		return nil
	}
	ctx := context.Background()

	if !u.online {
		return u.dispatchOffline(ctx, row, action, reason)
	}

	err := u.sendOnline(ctx, row.ref, action, reason)
	var swap *coordinator.SwapRequiredError
	switch {
	case err == nil:
		u.status = ""
	case errors.As(err, &swap):
		u.swap = &swapPrompt{
			from:     swap.Ref(),
			to:       row.ref,
			fromName: swap.TaskName,
		}
		return nil
	case isUnreachable(err):
		// The server dropped between the last ping and this call.
		u.online = false
		return u.dispatchOffline(ctx, row, action, reason)
	default:
		u.status = err.Error()
		return nil
	}
	if err := u.reloadTasks(ctx); err != nil {
		u.status = err.Error()
	}
	return nil
}

func (u *UI) sendOnline(ctx context.Context, ref model.TaskRef, action model.ActionType, reason string) error {
	now := time.Now()
	switch action {
	case model.ActionStart:
		return u.client.Start(ctx, ref, u.workerID, now)
	case model.ActionPause:
		return u.client.Pause(ctx, ref, u.workerID, reason, now)
	case model.ActionResume:
		return u.client.Resume(ctx, ref, u.workerID, now)
	case model.ActionComplete:
		return u.client.Complete(ctx, ref, u.workerID, now)
	default:
		return fmt.Errorf("unknown action %q", action)
	}
}

// dispatchOffline echoes the transition onto the cached row so the list
// and timer stay coherent, then records it for replay. A transition the
// cached state already rules out is rejected immediately rather than
// queued to fail later.
func (u *UI) dispatchOffline(ctx context.Context, row *taskRow, action model.ActionType, reason string) error {
	if u.queue == nil {
		u.status = "offline and no local queue configured"
		return nil
	}

	now := time.Now()
	if _, err := state.Apply(&row.core, eventFor(action), u.workerID, reason, clock.DualTimestamp{Client: now}); err != nil {
		u.status = err.Error()
		return nil
	}

	err := u.queue.Enqueue(ctx, model.QueuedAction{
		ID:         uuid.NewString(),
		Type:       action,
		TaskRef:    row.ref,
		UserID:     u.workerID,
		Reason:     reason,
		ClientTime: now,
	})
	if err != nil {
		u.status = fmt.Sprintf("queue action: %v", err)
		return nil
	}
	u.refreshPending(ctx)
	u.status = fmt.Sprintf("offline: queued %s", action)
	return nil
}

func eventFor(action model.ActionType) state.Event {
	switch action {
	case model.ActionStart:
		return state.EventStart
	case model.ActionPause:
		return state.EventPause
	case model.ActionResume:
		return state.EventResume
	default:
		return state.EventComplete
	}
}

func (u *UI) confirmSwap(_ *gocui.Gui, _ *gocui.View) error {
	prompt := u.swap
	u.swap = nil
	if prompt == nil {
		return nil
	}
	ctx := context.Background()
	if err := u.client.Swap(ctx, prompt.from, prompt.to, u.workerID, time.Now()); err != nil {
		u.status = err.Error()
		return nil
	}
	u.status = fmt.Sprintf("paused %q", prompt.fromName)
	if err := u.reloadTasks(ctx); err != nil {
		u.status = err.Error()
	}
	return nil
}

func (u *UI) cancelSwap(_ *gocui.Gui, _ *gocui.View) error {
	u.swap = nil
	u.status = "kept current task"
	return nil
}

// watchConnectivity polls the server and, on reconnect, drains the
// offline queue in order before refreshing the list.
func (u *UI) watchConnectivity(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			reachable := u.client.Ping(ctx)
			u.gui.Update(func(*gocui.Gui) error {
				wasOffline := !u.online
				u.online = reachable
				if reachable && wasOffline {
					u.drainQueue(ctx)
				}
				return nil
			})
		}
	}
}

func (u *UI) drainQueue(ctx context.Context) {
	if u.queue == nil {
		return
	}
	if err := u.queue.Drain(ctx); err != nil {
		u.status = fmt.Sprintf("replay stopped: %v", err)
	} else {
		u.status = "reconnected, queued actions replayed"
	}
	u.refreshPending(ctx)
	if err := u.reloadTasks(ctx); err != nil {
		u.status = err.Error()
	}
}

// ConflictNotifier returns the queue callback that surfaces discarded
// offline actions on the status line.
func (u *UI) ConflictNotifier() func(offline.ConflictNotice) {
	return func(notice offline.ConflictNotice) {
		status := fmt.Sprintf("dropped queued %s for %s: %v", notice.Action.Type, notice.Action.TaskRef.ID, notice.Err)
		if u.gui != nil {
			u.gui.Update(func(*gocui.Gui) error {
				u.status = status
				return nil
			})
			return
		}
		u.status = status
	}
}

// isUnreachable distinguishes transport failures from server verdicts:
// a verdict is a typed error, anything else from the HTTP layer means
// the server could not be reached.
func isUnreachable(err error) bool {
	var swap *coordinator.SwapRequiredError
	switch {
	case errors.Is(err, state.ErrNotFound),
		errors.Is(err, state.ErrInvalidTransition),
		errors.Is(err, state.ErrConflict),
		errors.Is(err, state.ErrCorruptLedger),
		errors.Is(err, coordinator.ErrShiftViolation),
		errors.Is(err, coordinator.ErrPauseUnavailable),
		errors.As(err, &swap):
		return false
	}
	return true
}
