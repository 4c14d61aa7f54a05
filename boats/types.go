// Package boats holds the vessel-tracking domain: the vessel record, AIS
// validation constants, the type-code table, and region bounds.
package boats

import (
	"strings"
	"time"
	"unicode"
)

// AIS validity limits. MMSIs outside the ship range (SAR aircraft, base
// stations, repeaters) are never tracked; the sentinel values mark fields the
// transponder did not report.
const (
	MMSIMin = 200_000_000
	MMSIMax = 799_999_999

	SpeedNotAvailable   = 102.3
	HeadingNotAvailable = 511
	CourseNotAvailable  = 360
)

// Position is a vessel fix. Vessels use lon, bridges use lng; both wire
// formats are historical.
type Position struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Dimensions is the vessel footprint derived from AIS bow/stern/port/starboard
// offsets.
type Dimensions struct {
	Length int `json:"length"`
	Width  int `json:"width"`
}

// Vessel is one tracked vessel. LastMoved and TypeCode are registry
// bookkeeping and stay off the wire.
type Vessel struct {
	MMSI         int64       `json:"mmsi"`
	Name         *string     `json:"name"`
	TypeCode     *int        `json:"-"`
	TypeName     string      `json:"type_name"`
	TypeCategory string      `json:"type_category"`
	Position     Position    `json:"position"`
	Heading      *float64    `json:"heading"`
	Course       *float64    `json:"course"`
	SpeedKnots   *float64    `json:"speed_knots"`
	Destination  *string     `json:"destination"`
	Dimensions   *Dimensions `json:"dimensions"`
	LastSeen     time.Time   `json:"last_seen"`
	LastMoved    time.Time   `json:"-"`
	Source       string      `json:"source"`
	Region       string      `json:"region"`
}

// Speed returns the reported speed, or zero when unreported.
func (v Vessel) Speed() float64 {
	if v.SpeedKnots == nil {
		return 0
	}
	return *v.SpeedKnots
}

// Direction returns the vessel's direction of travel or pointing: course for
// a moving vessel (falling back to heading), bow heading for a stationary one
// where course over ground is meaningless.
func (v Vessel) Direction(moving bool) (float64, bool) {
	if moving {
		if v.Course != nil {
			return *v.Course, true
		}
	}
	if v.Heading != nil {
		return *v.Heading, true
	}
	return 0, false
}

// Bounds is a lat/lon bounding box.
type Bounds struct {
	LatMin, LatMax float64
	LonMin, LonMax float64
}

// Contains reports whether the point falls inside the box, edges included.
func (b Bounds) Contains(lat, lon float64) bool {
	return b.LatMin <= lat && lat <= b.LatMax && b.LonMin <= lon && lon <= b.LonMax
}

// Tracked regions. The boxes carry roughly 20-25 km of buffer past the
// outermost bridges so approaching vessels are picked up early.
var regionBounds = []struct {
	ID     string
	Bounds Bounds
}{
	{"welland", Bounds{LatMin: 42.70, LatMax: 43.40, LonMin: -79.40, LonMax: -79.05}},
	{"montreal", Bounds{LatMin: 45.05, LatMax: 45.70, LonMin: -74.35, LonMax: -73.20}},
}

// RegionFor returns the tracked region containing the point, or false when
// the point is outside every region.
func RegionFor(lat, lon float64) (string, bool) {
	for _, r := range regionBounds {
		if r.Bounds.Contains(lat, lon) {
			return r.ID, true
		}
	}
	return "", false
}

// RegionBounds returns the bounding box for a tracked region.
func RegionBounds(region string) (Bounds, bool) {
	for _, r := range regionBounds {
		if r.ID == region {
			return r.Bounds, true
		}
	}
	return Bounds{}, false
}

// RegionIDs returns the tracked region identifiers in fixed order.
func RegionIDs() []string {
	out := make([]string, len(regionBounds))
	for i, r := range regionBounds {
		out[i] = r.ID
	}
	return out
}

type typeInfo struct {
	name     string
	category string
}

// AIS ship-type code table. Codes within 0-99 that are absent map to Unknown.
var vesselTypes = map[int]typeInfo{
	20: {"WIG", "other"},

	30: {"Fishing", "fishing"},
	31: {"Towing", "tug"},
	32: {"Towing (large)", "tug"},
	33: {"Dredger", "other"},
	34: {"Diving Ops", "other"},
	35: {"Military", "other"},
	36: {"Sailing", "sailing"},
	37: {"Pleasure Craft", "pleasure"},

	40: {"High-Speed Craft", "passenger"},
	41: {"HSC - Hazard A", "passenger"},
	42: {"HSC - Hazard B", "passenger"},
	43: {"HSC - Hazard C", "passenger"},
	44: {"HSC - Hazard D", "passenger"},
	49: {"HSC - No info", "passenger"},

	50: {"Pilot Vessel", "other"},
	51: {"SAR", "other"},
	52: {"Tug", "tug"},
	53: {"Port Tender", "other"},
	54: {"Anti-Pollution", "other"},
	55: {"Law Enforcement", "other"},
	56: {"Local Vessel", "other"},
	57: {"Local Vessel", "other"},
	58: {"Medical", "other"},
	59: {"Special Craft", "other"},

	60: {"Passenger", "passenger"},
	61: {"Passenger - Hazard A", "passenger"},
	62: {"Passenger - Hazard B", "passenger"},
	63: {"Passenger - Hazard C", "passenger"},
	64: {"Passenger - Hazard D", "passenger"},
	69: {"Passenger - No info", "passenger"},

	70: {"Cargo", "cargo"},
	71: {"Cargo - Hazard A", "cargo"},
	72: {"Cargo - Hazard B", "cargo"},
	73: {"Cargo - Hazard C", "cargo"},
	74: {"Cargo - Hazard D", "cargo"},
	79: {"Cargo - No info", "cargo"},

	80: {"Tanker", "tanker"},
	81: {"Tanker - Hazard A", "tanker"},
	82: {"Tanker - Hazard B", "tanker"},
	83: {"Tanker - Hazard C", "tanker"},
	84: {"Tanker - Hazard D", "tanker"},
	89: {"Tanker - No info", "tanker"},

	90: {"Other", "other"},
	91: {"Other - Hazard A", "other"},
	92: {"Other - Hazard B", "other"},
	93: {"Other - Hazard C", "other"},
	94: {"Other - Hazard D", "other"},
}

// TypeInfo maps an AIS ship-type code onto a display name and category.
func TypeInfo(code *int) (name, category string) {
	if code == nil {
		return "Unknown", "other"
	}
	if info, ok := vesselTypes[*code]; ok {
		return info.name, info.category
	}
	if *code >= 0 && *code < 100 {
		return "Unknown", "other"
	}
	return "Invalid", "other"
}

// SanitizeName cleans a vessel name or destination from AIS: strips control
// characters, collapses whitespace, and rejects the common placeholder
// values. Returns false for a name with nothing left.
func SanitizeName(raw string) (string, bool) {
	var b strings.Builder
	for _, r := range raw {
		if unicode.IsPrint(r) {
			b.WriteRune(r)
		}
	}
	name := strings.Join(strings.Fields(b.String()), " ")
	switch name {
	case "", "@", "UNKNOWN", strings.Repeat("@", 20):
		return "", false
	}
	return name, true
}

// ValidMMSI reports whether mmsi falls in the ship range.
func ValidMMSI(mmsi int64) bool {
	return MMSIMin <= mmsi && mmsi <= MMSIMax
}
