// Package attribution picks the vessel most likely responsible for a bridge
// closure from position, speed, and heading.
//
// Two regimes apply. While a bridge is merely closing soon the culprit may be
// approaching from a distance or holding station at the span, so heading and
// speed weight the score heavily. Once the bridge is closed the vessel is
// transiting, so only moving vessels close to the span count.
package attribution

import (
	"github.com/bridgeup/bridgeup/boats"
	"github.com/bridgeup/bridgeup/bridge"
	"github.com/bridgeup/bridgeup/internal/geo"
)

const (
	maxDistanceClosingSoonKm = 7.0
	maxDistanceClosedKm      = 4.0

	minScoreClosingSoon = 0.25
	minScoreClosed      = 0.3

	baseScoreCap = 3.0

	movingKn            = 0.1
	transitKn           = 0.5
	movingAwayKn        = 1.5
	headingToleranceDeg = 60

	waitingZoneKm = 0.25
)

// Find returns the MMSI of the vessel most likely responsible for the
// bridge's current closure, or nil when no vessel qualifies. Only vessels in
// region are considered; ties go to the closer vessel.
func Find(coords bridge.Coordinates, status bridge.Status, region string, vessels []boats.Vessel) *int64 {
	closingSoon := status == bridge.StatusClosingSoon
	if !closingSoon && status != bridge.StatusClosed && status != bridge.StatusClosing {
		return nil
	}

	var (
		best         *int64
		bestScore    float64
		bestDistance float64
	)
	for _, v := range vessels {
		if v.Region != region {
			continue
		}
		d := geo.HaversineKm(coords.Lat, coords.Lng, v.Position.Lat, v.Position.Lon)

		var score float64
		if closingSoon {
			score = scoreClosingSoon(v, coords, d)
		} else {
			score = scoreClosed(v, d)
		}
		if score > bestScore || (score == bestScore && score > 0 && d < bestDistance) {
			mmsi := v.MMSI
			best, bestScore, bestDistance = &mmsi, score, d
		}
	}

	threshold := minScoreClosed
	if closingSoon {
		threshold = minScoreClosingSoon
	}
	if bestScore < threshold {
		return nil
	}
	return best
}

// scoreClosed covers a vessel actively passing through. It must be moving;
// heading is irrelevant since it could be entering, mid-span, or exiting.
func scoreClosed(v boats.Vessel, distanceKm float64) float64 {
	if distanceKm > maxDistanceClosedKm {
		return 0
	}
	if v.Speed() < transitKn {
		return 0
	}
	return baseScore(distanceKm)
}

func scoreClosingSoon(v boats.Vessel, coords bridge.Coordinates, distanceKm float64) float64 {
	if distanceKm > maxDistanceClosingSoonKm {
		return 0
	}
	base := baseScore(distanceKm)
	speed := v.Speed()
	moving := speed >= movingKn

	toward, known := headingToward(v, coords, moving)

	var m float64
	switch {
	case moving && known && toward:
		m = 2.0
		if speed > 1 {
			m += 0.2
		}
		if speed > 4 {
			m += 0.2
		}
	case moving && !known:
		m = 1.0
	case moving: // moving away
		if speed >= movingAwayKn {
			return 0
		}
		m = 0.1
	case distanceKm <= waitingZoneKm:
		// Stationary at the span: pointed at the bridge means waiting to
		// transit, pointed away means docked.
		switch {
		case known && toward:
			m = 2.5
		case !known:
			m = 0.1
		default:
			m = 0.05
		}
	default:
		// Stationary and distant: almost certainly docked somewhere.
		switch {
		case known && toward:
			m = 0.2
		case !known:
			m = 0.05
		default:
			m = 0.02
		}
	}
	return base * m
}

// baseScore rewards proximity, capped so a vessel right at the span cannot
// drown out every other signal.
func baseScore(distanceKm float64) float64 {
	s := 1.0 / (distanceKm + 0.1)
	if s > baseScoreCap {
		return baseScoreCap
	}
	return s
}

// headingToward reports whether the vessel's direction is within tolerance of
// the bearing to the bridge. known is false when no direction was reported.
func headingToward(v boats.Vessel, coords bridge.Coordinates, moving bool) (toward, known bool) {
	dir, ok := v.Direction(moving)
	if !ok {
		return false, false
	}
	bearing := geo.BearingDeg(v.Position.Lat, v.Position.Lon, coords.Lat, coords.Lng)
	return geo.AngleDiffDeg(dir, bearing) <= headingToleranceDeg, true
}
