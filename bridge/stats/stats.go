// Package stats computes per-bridge closure statistics from history logs:
// averages, 95% confidence intervals, and a duration histogram.
package stats

import (
	"math"
	"sort"

	"github.com/bridgeup/bridgeup/bridge"
	"github.com/bridgeup/bridgeup/bridge/history"
)

// Compute derives statistics from a bridge's history and returns the pruned
// log to write back. Only completed Closed and Raising Soon spans contribute;
// completed spans of other statuses are dropped from the log. Open spans are
// kept but never counted.
func Compute(entries []history.Entry) (bridge.Statistics, []history.Entry) {
	sorted := append([]history.Entry(nil), entries...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].StartTime.After(sorted[j].StartTime)
	})

	var kept, open []history.Entry
	for _, e := range sorted {
		if e.EndTime == nil {
			open = append(open, e)
			continue
		}
		switch e.Status {
		case bridge.TrackedClosed, bridge.TrackedRaisingSoon:
			kept = append(kept, e)
		}
	}
	if len(kept) > history.MaxEntries {
		kept = kept[:history.MaxEntries]
	}

	// Durations are rounded to whole minutes before averaging or bucketing.
	var closures, raisingSoon []float64
	var buckets bridge.Buckets
	for _, e := range kept {
		d, _ := e.Duration()
		minutes := math.Round(d.Seconds() / 60)
		switch e.Status {
		case bridge.TrackedClosed:
			closures = append(closures, minutes)
			switch {
			case minutes <= 9:
				buckets.Under9m++
			case minutes <= 15:
				buckets.M10to15++
			case minutes <= 30:
				buckets.M16to30++
			case minutes <= 60:
				buckets.M31to60++
			default:
				buckets.Over60m++
			}
		case bridge.TrackedRaisingSoon:
			raisingSoon = append(raisingSoon, minutes)
		}
	}

	st := bridge.Statistics{
		ClosureDurations: buckets,
		TotalEntries:     len(kept),
	}
	if len(closures) > 0 {
		st.AverageClosureDuration = roundPtr(mean(closures))
		st.ClosureCI = ConfidenceInterval(closures)
	}
	if len(raisingSoon) > 0 {
		st.AverageRaisingSoon = roundPtr(mean(raisingSoon))
		st.RaisingSoonCI = ConfidenceInterval(raisingSoon)
	}

	return st, append(open, kept...)
}

// ConfidenceInterval returns the 95% CI of data in whole minutes, lower bound
// floored at zero. Fewer than two samples has no spread to estimate, so the
// result is nil.
func ConfidenceInterval(data []float64) *bridge.CI {
	if len(data) < 2 {
		return nil
	}
	avg := mean(data)
	var ss float64
	for _, x := range data {
		ss += (x - avg) * (x - avg)
	}
	stddev := math.Sqrt(ss / float64(len(data)-1))
	margin := 1.96 * stddev / math.Sqrt(float64(len(data)))
	return &bridge.CI{
		Lower: int(math.Floor(math.Max(0, avg-margin))),
		Upper: int(math.Ceil(avg + margin)),
	}
}

func mean(data []float64) float64 {
	var sum float64
	for _, x := range data {
		sum += x
	}
	return sum / float64(len(data))
}

func roundPtr(v float64) *int {
	n := int(math.Round(v))
	return &n
}
