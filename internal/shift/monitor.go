package shift

import (
	"context"
	"log"
	"time"

	"github.com/Likheet/hermes-monitoring-sub001/internal/model"
)

// Pauser is the coordinator surface the monitor drives. Forced pauses go
// through the same transition path as manual ones; the monitor never
// touches task state directly.
type Pauser interface {
	ForcePause(ctx context.Context, ref model.TaskRef, workerID, reason string) error
}

// ActiveLister enumerates every IN_PROGRESS task with its worker.
type ActiveLister interface {
	ListActive(ctx context.Context) ([]model.ActiveTask, error)
}

// Monitor periodically checks every running task's worker against their
// shift schedule and force-pauses tasks running during a break or past
// shift end.
type Monitor struct {
	service  Service
	tasks    ActiveLister
	pauser   Pauser
	interval time.Duration
	now      func() time.Time
}

func NewMonitor(service Service, tasks ActiveLister, pauser Pauser, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Monitor{service: service, tasks: tasks, pauser: pauser, interval: interval, now: time.Now}
}

// Run blocks until ctx is cancelled, sweeping on every tick.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.Sweep(ctx); err != nil {
				log.Printf("shift monitor sweep: %v", err)
			}
		}
	}
}

// Sweep runs one pass over the active tasks. A failure to pause one task
// does not stop the rest of the sweep.
func (m *Monitor) Sweep(ctx context.Context) error {
	active, err := m.tasks.ListActive(ctx)
	if err != nil {
		return err
	}

	now := m.now()
	for _, task := range active {
		eval, err := m.service.ShiftStatus(ctx, task.WorkerID, now)
		if err != nil {
			log.Printf("shift status for worker %s: %v", task.WorkerID, err)
			continue
		}

		var reason string
		switch eval.Status {
		case OnShift:
			continue
		case ShiftBreak:
			reason = "auto-paused: shift break"
		case OffDuty:
			reason = "auto-paused: shift ended"
		}

		if err := m.pauser.ForcePause(ctx, task.Ref, task.WorkerID, reason); err != nil {
			log.Printf("force pause %s/%s: %v", task.Ref.Collection, task.Ref.ID, err)
		}
	}
	return nil
}
