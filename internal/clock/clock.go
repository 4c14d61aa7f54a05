package clock

import "time"

// Clock provides the current wall time. Components take a Clock so tests can
// pin "now" to a fixed instant.
type Clock interface {
	Now() time.Time
}

type systemClock struct {
	loc *time.Location
}

// System returns a Clock reporting wall time in loc.
func System(loc *time.Location) Clock {
	if loc == nil {
		loc = time.Local
	}
	return systemClock{loc: loc}
}

func (c systemClock) Now() time.Time {
	return time.Now().In(c.loc)
}

// Fixed is a Clock pinned to a settable instant.
type Fixed struct {
	T time.Time
}

func (f *Fixed) Now() time.Time { return f.T }

// Advance moves the fixed clock forward by d.
func (f *Fixed) Advance(d time.Duration) { f.T = f.T.Add(d) }
