// Package shift evaluates a worker's position against their shift
// schedule (up to two shift windows per day, each with an optional break)
// and watches running tasks for work happening outside those windows.
package shift

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Likheet/hermes-monitoring-sub001/internal/model"
)

type Status string

const (
	OnShift    Status = "ON_SHIFT"
	ShiftBreak Status = "SHIFT_BREAK"
	OffDuty    Status = "OFF_DUTY"
)

// Evaluation is the answer to "may this worker be working right now".
// MinutesUntilEnd is meaningful only while OnShift.
type Evaluation struct {
	Status          Status `json:"status"`
	MinutesUntilEnd int    `json:"minutes_until_end,omitempty"`
}

// Service is the shift-schedule collaborator consumed by the coordinator
// and by assignment admission control.
type Service interface {
	ShiftStatus(ctx context.Context, workerID string, at time.Time) (Evaluation, error)
}

// window is a span in minutes-of-day. end < start means the window wraps
// past midnight.
type window struct {
	start, end int
}

func (w window) contains(minute int) bool {
	if w.start == w.end {
		return false
	}
	if w.end < w.start {
		return minute >= w.start || minute < w.end
	}
	return minute >= w.start && minute < w.end
}

func (w window) minutesUntilEnd(minute int) int {
	if w.end < w.start && minute >= w.start {
		return w.end + 24*60 - minute
	}
	return w.end - minute
}

func parseWindow(start, end string) (window, bool, error) {
	if strings.TrimSpace(start) == "" || strings.TrimSpace(end) == "" {
		return window{}, false, nil
	}
	s, err := parseMinuteOfDay(start)
	if err != nil {
		return window{}, false, err
	}
	e, err := parseMinuteOfDay(end)
	if err != nil {
		return window{}, false, err
	}
	return window{start: s, end: e}, true, nil
}

func parseMinuteOfDay(value string) (int, error) {
	parts := strings.SplitN(strings.TrimSpace(value), ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid time %q: want HH:MM", value)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("invalid hour in %q", value)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid minute in %q", value)
	}
	return h*60 + m, nil
}

// Evaluate computes the worker's shift status at the given instant. Break
// windows count only while inside their owning shift; a second shift
// covering the instant keeps the worker on duty even if the first has
// ended.
func Evaluate(schedule model.ShiftSchedule, at time.Time) (Evaluation, error) {
	minute := at.Hour()*60 + at.Minute()

	shifts := [][3]string{
		{schedule.Shift1Start, schedule.Shift1End, ""},
		{schedule.Shift2Start, schedule.Shift2End, ""},
	}
	breaks := [][2]string{
		{schedule.Break1Start, schedule.Break1End},
		{schedule.Break2Start, schedule.Break2End},
	}

	for i := range shifts {
		w, ok, err := parseWindow(shifts[i][0], shifts[i][1])
		if err != nil {
			return Evaluation{}, fmt.Errorf("shift %d: %w", i+1, err)
		}
		if !ok || !w.contains(minute) {
			continue
		}

		b, ok, err := parseWindow(breaks[i][0], breaks[i][1])
		if err != nil {
			return Evaluation{}, fmt.Errorf("break %d: %w", i+1, err)
		}
		if ok && b.contains(minute) {
			return Evaluation{Status: ShiftBreak}, nil
		}
		return Evaluation{Status: OnShift, MinutesUntilEnd: w.minutesUntilEnd(minute)}, nil
	}

	return Evaluation{Status: OffDuty}, nil
}

// ScheduleSource loads the stored schedule for a worker. Implemented by
// the db store.
type ScheduleSource interface {
	GetShiftSchedule(ctx context.Context, workerID string) (model.ShiftSchedule, error)
}

// ScheduleService answers shift-status queries from stored schedules. A
// worker with no schedule on file is treated as off duty.
type ScheduleService struct {
	source ScheduleSource
}

func NewScheduleService(source ScheduleSource) *ScheduleService {
	return &ScheduleService{source: source}
}

func (s *ScheduleService) ShiftStatus(ctx context.Context, workerID string, at time.Time) (Evaluation, error) {
	schedule, err := s.source.GetShiftSchedule(ctx, workerID)
	if err != nil {
		return Evaluation{}, err
	}
	return Evaluate(schedule, at)
}
