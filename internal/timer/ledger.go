// Package timer computes worked time for a task from its raw start and
// pause intervals. The value is recomputed on every read instead of kept as
// a running counter, so it is reproducible from the audit trail and immune
// to missed ticks on an unreliable client.
package timer

import (
	"time"

	"github.com/Likheet/hermes-monitoring-sub001/internal/model"
)

// ActiveElapsed returns the worked duration at now: time since the task
// started minus every pause span, with the still-open pause (if any)
// counted up to now. Client-observed timestamps drive the math so the
// ticking display stays continuous for the user. Negative components from
// corrupt or future timestamps clamp to zero; a bad clock must never make
// worked time negative.
func ActiveElapsed(core *model.TaskCore, now time.Time) time.Duration {
	if core == nil || core.StartedAt == nil {
		return 0
	}

	total := clamp(now.Sub(core.StartedAt.Display()))

	var paused time.Duration
	for i := range core.Pauses {
		p := &core.Pauses[i]
		if p.ResumedAt != nil {
			paused += clamp(p.ResumedAt.Display().Sub(p.PausedAt.Display()))
			continue
		}
		paused += clamp(now.Sub(p.PausedAt.Display()))
	}

	if paused > total {
		return 0
	}
	return total - paused
}

// ActiveElapsedSeconds is the live-display form consumed by UI tickers.
func ActiveElapsedSeconds(core *model.TaskCore, now time.Time) int64 {
	return int64(ActiveElapsed(core, now) / time.Second)
}

// Finalize freezes the ledger result into ActualMinutes using the
// completion instant as now. Called exactly once, at the complete
// transition; calling it again on an already-finalized task is a no-op.
func Finalize(core *model.TaskCore) int {
	if core.ActualMinutes != nil {
		return *core.ActualMinutes
	}
	if core.CompletedAt == nil {
		return 0
	}
	minutes := int(ActiveElapsed(core, core.CompletedAt.Display()) / time.Minute)
	core.ActualMinutes = &minutes
	return minutes
}

func clamp(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}
