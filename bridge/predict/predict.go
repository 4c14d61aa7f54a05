// Package predict derives the predicted status-change window for a bridge.
//
// What the window means depends on the current status: for Closed and
// Construction it bounds when the bridge will open, for Closing soon it
// bounds when it will close. Other statuses never get a prediction.
package predict

import (
	"time"

	"github.com/bridgeup/bridgeup/bridge"
)

// Fallback intervals used until a bridge has accumulated enough history.
var (
	defaultClosureCI     = bridge.CI{Lower: 15, Upper: 20}
	defaultRaisingSoonCI = bridge.CI{Lower: 3, Upper: 8}
)

// Window computes the predicted transition window, or nil when no useful
// prediction exists (open bridges, constructions without a known end, spans
// already past their interval).
func Window(status bridge.Status, lastUpdated time.Time, st bridge.Statistics, closures []bridge.Closure, now time.Time) *bridge.Window {
	switch status {
	case bridge.StatusClosed, bridge.StatusConstruction:
		return openingWindow(status, lastUpdated, st, closures, now)
	case bridge.StatusClosingSoon:
		return closingWindow(lastUpdated, st, closures, now)
	}
	return nil
}

func openingWindow(status bridge.Status, lastUpdated time.Time, st bridge.Statistics, closures []bridge.Closure, now time.Time) *bridge.Window {
	elapsed := now.Sub(lastUpdated).Minutes()
	ci := defaultClosureCI
	if st.ClosureCI != nil {
		ci = *st.ClosureCI
	}

	// An active construction window with a known end pins the prediction to
	// that end exactly.
	for _, c := range closures {
		if c.Type == bridge.ClosureConstruction && c.EndTime != nil &&
			c.EndTime.After(now) && !c.Time.After(now) {
			return &bridge.Window{Lower: *c.EndTime, Upper: *c.EndTime}
		}
	}
	if status == bridge.StatusConstruction {
		return nil
	}

	// A boat closure already underway blends its expected duration with the
	// historical interval.
	if len(closures) > 0 {
		first := closures[0]
		if !first.Time.After(now) && bridge.IsVesselClosure(first.Type) {
			expected, ok := 0, false
			if first.ExpectedDurationMinutes != nil {
				expected, ok = *first.ExpectedDurationMinutes, true
			} else {
				expected, ok = bridge.ExpectedDuration(first.Type, first.Longer)
			}
			if ok {
				lower := (float64(expected)+float64(ci.Lower))/2 - elapsed
				upper := (float64(expected)+float64(ci.Upper))/2 - elapsed
				return boundWindow(now, lower, upper)
			}
		}
	}

	return boundWindow(now, float64(ci.Lower)-elapsed, float64(ci.Upper)-elapsed)
}

func closingWindow(lastUpdated time.Time, st bridge.Statistics, closures []bridge.Closure, now time.Time) *bridge.Window {
	// When the next closure is imminent or overdue its scheduled time is
	// better than any statistical window, so clients show that instead.
	if len(closures) > 0 {
		t := closures[0].Time
		if !t.After(now) {
			return nil
		}
		if t.Sub(now) < time.Hour {
			return nil
		}
	}

	elapsed := now.Sub(lastUpdated).Minutes()
	ci := defaultRaisingSoonCI
	if st.RaisingSoonCI != nil {
		ci = *st.RaisingSoonCI
	}
	return boundWindow(now, float64(ci.Lower)-elapsed, float64(ci.Upper)-elapsed)
}

// boundWindow turns remaining-minute bounds into absolute times, clamping
// negative bounds to now. Both bounds in the past means the span has already
// outlived its interval and nothing useful can be said.
func boundWindow(now time.Time, lower, upper float64) *bridge.Window {
	if lower <= 0 && upper <= 0 {
		return nil
	}
	return &bridge.Window{
		Lower: now.Add(minutes(maxf(lower, 0))),
		Upper: now.Add(minutes(maxf(upper, 0))),
	}
}

// AnnotateClosures fills in expected_duration_minutes for vessel closures
// that do not already carry one.
func AnnotateClosures(closures []bridge.Closure) []bridge.Closure {
	for i := range closures {
		if closures[i].ExpectedDurationMinutes != nil {
			continue
		}
		if d, ok := bridge.ExpectedDuration(closures[i].Type, closures[i].Longer); ok {
			v := d
			closures[i].ExpectedDurationMinutes = &v
		}
	}
	return closures
}

func minutes(m float64) time.Duration {
	return time.Duration(m * float64(time.Minute))
}

func maxf(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
