// Package bridge holds the domain types for movable-bridge state: the
// normalized status set, static and live records, closure and statistics
// blocks, and the snapshot that unions them for clients.
package bridge

import (
	"strings"
	"time"
)

// Status is the normalized bridge state derived from upstream status strings.
type Status string

const (
	StatusOpen         Status = "Open"
	StatusClosed       Status = "Closed"
	StatusClosingSoon  Status = "Closing soon"
	StatusClosing      Status = "Closing"
	StatusOpening      Status = "Opening"
	StatusConstruction Status = "Construction"
	StatusUnknown      Status = "Unknown"
)

// Closure type labels as they appear in upcoming_closures.
const (
	ClosureNextArrival      = "Next Arrival"
	ClosureCommercialVessel = "Commercial Vessel"
	ClosurePleasureCraft    = "Pleasure Craft"
	ClosureConstruction     = "Construction"
)

// Coordinates is a bridge location. The lng key matches the historical wire
// format; vessel positions use lon.
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Window bounds an expected status transition.
type Window struct {
	Lower time.Time `json:"lower"`
	Upper time.Time `json:"upper"`
}

// CI is a 95% confidence interval in whole minutes.
type CI struct {
	Lower int `json:"lower"`
	Upper int `json:"upper"`
}

// Buckets is the closure-duration histogram.
type Buckets struct {
	Under9m int `json:"under_9m"`
	M10to15 int `json:"10_15m"`
	M16to30 int `json:"16_30m"`
	M31to60 int `json:"31_60m"`
	Over60m int `json:"over_60m"`
}

// Statistics is the per-bridge block recomputed from closure history.
// Average and CI fields are null until enough history exists.
type Statistics struct {
	AverageClosureDuration *int    `json:"average_closure_duration"`
	ClosureCI              *CI     `json:"closure_ci"`
	AverageRaisingSoon     *int    `json:"average_raising_soon"`
	RaisingSoonCI          *CI     `json:"raising_soon_ci"`
	ClosureDurations       Buckets `json:"closure_durations"`
	TotalEntries           int     `json:"total_entries"`
}

// Closure is one upcoming closure: a vessel lift or a construction window.
type Closure struct {
	Type                    string     `json:"type"`
	Time                    time.Time  `json:"time"`
	Longer                  bool       `json:"longer"`
	ExpectedDurationMinutes *int       `json:"expected_duration_minutes,omitempty"`
	EndTime                 *time.Time `json:"end_time,omitempty"`
}

// Static is the immutable part of a bridge record plus its latest statistics.
type Static struct {
	Name        string      `json:"name"`
	Region      string      `json:"region"`
	RegionShort string      `json:"region_short"`
	Coordinates Coordinates `json:"coordinates"`
	Statistics  Statistics  `json:"statistics"`
}

// Live is the mutable per-bridge state produced by the scraper.
type Live struct {
	Status                Status    `json:"status"`
	LastUpdated           time.Time `json:"last_updated"`
	Predicted             *Window   `json:"predicted"`
	UpcomingClosures      []Closure `json:"upcoming_closures"`
	ResponsibleVesselMMSI *int64    `json:"responsible_vessel_mmsi"`
}

// Entry is one bridge in the snapshot.
type Entry struct {
	Static Static `json:"static"`
	Live   Live   `json:"live"`
}

// Summary is one element of available_bridges.
type Summary struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	RegionShort string `json:"region_short"`
	Region      string `json:"region"`
}

// Snapshot is the denormalized union of every bridge's static and live
// records; it is both the on-disk artifact and the broadcast payload.
type Snapshot struct {
	LastUpdated      *time.Time       `json:"last_updated"`
	AvailableBridges []Summary        `json:"available_bridges"`
	Bridges          map[string]Entry `json:"bridges"`
}

// FilterRegion returns a copy of the snapshot containing only bridges in the
// region with the given short code (case-insensitive match on region_short).
func (s Snapshot) FilterRegion(short string) Snapshot {
	out := Snapshot{
		LastUpdated: s.LastUpdated,
		Bridges:     make(map[string]Entry),
	}
	for _, a := range s.AvailableBridges {
		if strings.EqualFold(a.RegionShort, short) {
			out.AvailableBridges = append(out.AvailableBridges, a)
		}
	}
	for id, e := range s.Bridges {
		if strings.EqualFold(e.Static.RegionShort, short) {
			out.Bridges[id] = e
		}
	}
	return out
}

// ExpectedDuration returns the expected lift duration in minutes for a vessel
// closure type, honoring the longer flag. Construction and unknown types have
// no fixed duration.
func ExpectedDuration(closureType string, longer bool) (int, bool) {
	switch {
	case strings.EqualFold(closureType, ClosureCommercialVessel), strings.EqualFold(closureType, ClosureNextArrival):
		if longer {
			return 30, true
		}
		return 15, true
	case strings.EqualFold(closureType, ClosurePleasureCraft):
		if longer {
			return 20, true
		}
		return 10, true
	}
	return 0, false
}

// IsVesselClosure reports whether the closure type is a boat lift (as opposed
// to construction).
func IsVesselClosure(closureType string) bool {
	_, ok := ExpectedDuration(closureType, false)
	return ok
}
