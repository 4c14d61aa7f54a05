package boats

import (
	"encoding/json"
	"time"
)

// FeedStatus reports ingest-source health alongside the vessel list.
type FeedStatus struct {
	UDP    map[string]any `json:"udp"`
	AISHub *AISHubStatus  `json:"aishub"`
}

// AISHubStatus is the polled feed's health block.
type AISHubStatus struct {
	OK           bool       `json:"ok"`
	LastPoll     *time.Time `json:"last_poll"`
	LastError    *string    `json:"last_error"`
	FailureCount int        `json:"failure_count"`
}

// Payload is the boats response: served at /boats and broadcast on the boats
// channels.
type Payload struct {
	LastUpdated time.Time   `json:"last_updated"`
	VesselCount int         `json:"vessel_count"`
	Status      *FeedStatus `json:"status,omitempty"`
	Vessels     []Vessel    `json:"vessels"`
}

// BuildPayload assembles the boats response from an already-sorted vessel
// list.
func BuildPayload(vessels []Vessel, status *FeedStatus, now time.Time) Payload {
	if vessels == nil {
		vessels = []Vessel{}
	}
	return Payload{
		LastUpdated: now,
		VesselCount: len(vessels),
		Status:      status,
		Vessels:     vessels,
	}
}

// FilterRegions returns the vessels whose region is in the given set. A nil
// set means no filtering.
func FilterRegions(vessels []Vessel, regions map[string]bool) []Vessel {
	if regions == nil {
		return vessels
	}
	out := []Vessel{}
	for _, v := range vessels {
		if regions[v.Region] {
			out = append(out, v)
		}
	}
	return out
}

// comparableVessel is the change-detection view of a vessel. last_seen and
// source churn on every report without the vessel actually changing, so they
// are excluded.
type comparableVessel struct {
	MMSI         int64       `json:"mmsi"`
	Name         *string     `json:"name"`
	TypeName     string      `json:"type_name"`
	TypeCategory string      `json:"type_category"`
	Position     Position    `json:"position"`
	Heading      *float64    `json:"heading"`
	Course       *float64    `json:"course"`
	SpeedKnots   *float64    `json:"speed_knots"`
	Destination  *string     `json:"destination"`
	Dimensions   *Dimensions `json:"dimensions"`
	Region       string      `json:"region"`
}

// ComparisonKey serializes the observable vessel state deterministically.
// Equal keys mean no broadcast is needed. Input must already be sorted by
// MMSI, which Registry.Vessels guarantees.
func ComparisonKey(vessels []Vessel) string {
	cmp := make([]comparableVessel, len(vessels))
	for i, v := range vessels {
		cmp[i] = comparableVessel{
			MMSI:         v.MMSI,
			Name:         v.Name,
			TypeName:     v.TypeName,
			TypeCategory: v.TypeCategory,
			Position:     v.Position,
			Heading:      v.Heading,
			Course:       v.Course,
			SpeedKnots:   v.SpeedKnots,
			Destination:  v.Destination,
			Dimensions:   v.Dimensions,
			Region:       v.Region,
		}
	}
	b, err := json.Marshal(cmp)
	if err != nil {
		return ""
	}
	return string(b)
}
