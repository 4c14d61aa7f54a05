package bridge

import "strings"

// ParseRawStatus maps an upstream status string onto the normalized set.
//
// The upstream vocabulary is a handful of "Available"/"Unavailable" phrases
// with qualifiers; anything unrecognized is Unknown.
func ParseRawStatus(raw string) Status {
	s := strings.ToLower(raw)

	if strings.Contains(s, "data unavailable") {
		return StatusUnknown
	}
	if strings.Contains(s, "available") && !strings.Contains(s, "unavailable") {
		if strings.Contains(s, "raising soon") {
			return StatusClosingSoon
		}
		return StatusOpen
	}
	if strings.Contains(s, "unavailable") {
		switch {
		case strings.Contains(s, "lowering"):
			return StatusOpening
		case strings.Contains(s, "raising"):
			return StatusClosing
		case strings.Contains(s, "work in progress"):
			return StatusConstruction
		default:
			return StatusClosed
		}
	}
	return StatusUnknown
}

// History labels. Statistics classification keys off these, so they are part
// of the on-disk history format.
const (
	TrackedAvailable    = "Available"
	TrackedRaisingSoon  = "Available (Raising Soon)"
	TrackedClosed       = "Unavailable (Closed)"
	TrackedConstruction = "Unavailable (Construction)"
	TrackedUnknown      = "Unknown"
)

// TrackedStatus maps an upstream status string onto the coarser label set
// recorded in history files. Closing/Opening transients count as closed time.
func TrackedStatus(raw string) string {
	s := strings.ToLower(raw)

	if strings.Contains(s, "data unavailable") {
		return TrackedUnknown
	}
	if strings.Contains(s, "available") && !strings.Contains(s, "unavailable") {
		if strings.Contains(s, "raising soon") {
			return TrackedRaisingSoon
		}
		return TrackedAvailable
	}
	if strings.Contains(s, "work in progress") {
		return TrackedConstruction
	}
	return TrackedClosed
}
