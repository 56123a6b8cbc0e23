// Package schedule owns the reminder ladder for silent conversations: the
// business-hours calendar, the due-time math, and the per-chat follow-up
// state machine.
package schedule

import "time"

// businessTZ is the fixed UTC+3 calendar all working-hours math runs in.
var businessTZ = time.FixedZone("MSK", 3*60*60)

// Window is the daily local interval during which reminders may be sent,
// expressed as minutes from midnight. Both bounds are inclusive.
type Window struct {
	StartMinutes int
	EndMinutes   int
}

// DefaultWindow is the 09:30-21:00 MSK working window.
var DefaultWindow = Window{StartMinutes: 9*60 + 30, EndMinutes: 21 * 60}

// Contains reports whether t falls inside the working window, evaluated in
// business local time.
func (w Window) Contains(t time.Time) bool {
	local := t.In(businessTZ)
	mins := local.Hour()*60 + local.Minute()
	return mins >= w.StartMinutes && mins <= w.EndMinutes
}

// ComputeNext returns anchor+interval snapped into the working window. A
// target before the window start is moved to that day's window start; a
// target at or past the window end is moved to the next day's window start.
// The result always lands inside the window, so feeding it back through
// ComputeNext with a zero interval returns it unchanged.
func (w Window) ComputeNext(anchor int64, interval time.Duration) int64 {
	target := time.Unix(anchor, 0).In(businessTZ).Add(interval)
	if w.Contains(target) {
		return target.Unix()
	}

	start := time.Date(target.Year(), target.Month(), target.Day(),
		w.StartMinutes/60, w.StartMinutes%60, 0, 0, businessTZ)
	if target.Hour()*60+target.Minute() < w.StartMinutes {
		return start.Unix()
	}
	return start.AddDate(0, 0, 1).Unix()
}
