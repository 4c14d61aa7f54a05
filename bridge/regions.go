package bridge

import "strings"

// Region is one upstream polling unit: a stretch of the waterway with its own
// status endpoint and a fixed roster of bridges.
type Region struct {
	Key        string // upstream query key, e.g. "BridgeSCT"
	Name       string // display name
	Short      string // short code used in ids and channels
	BoatRegion string // vessel-tracking region covering this stretch
	Bridges    []NamedCoordinates
}

// NamedCoordinates pairs a bridge display name with its location.
type NamedCoordinates struct {
	Name        string
	Coordinates Coordinates
}

// CoordinatesFor returns the location of a bridge in the region by display name.
func (r Region) CoordinatesFor(name string) (Coordinates, bool) {
	for _, b := range r.Bridges {
		if b.Name == name {
			return b.Coordinates, true
		}
	}
	return Coordinates{}, false
}

// Boat-tracking region identifiers.
const (
	BoatRegionWelland  = "welland"
	BoatRegionMontreal = "montreal"
)

// Regions returns the fixed roster of scraped regions, in display order.
//
// Coordinates are surveyed per bridge; regions without a surveyed table still
// scrape and broadcast, they just cannot attribute responsible vessels.
func Regions() []Region {
	return []Region{
		{
			Key:        "BridgeSCT",
			Name:       "St Catharines",
			Short:      "SCT",
			BoatRegion: BoatRegionWelland,
			Bridges: []NamedCoordinates{
				{"Lakeshore Rd", Coordinates{43.21617521494522, -79.21223177177772}},
				{"Carlton St.", Coordinates{43.19185980424842, -79.20100809118367}},
				{"Queenston St.", Coordinates{43.165824700918485, -79.19492604380804}},
				{"Glendale Ave.", Coordinates{43.145269317159695, -79.19232941376643}},
				{"Highway 20", Coordinates{43.076504078254914, -79.21046775066173}},
			},
		},
		{
			Key:        "BridgePC",
			Name:       "Port Colborne",
			Short:      "PC",
			BoatRegion: BoatRegionWelland,
		},
		{
			Key:        "BridgeM",
			Name:       "Montreal South Shore",
			Short:      "MSS",
			BoatRegion: BoatRegionMontreal,
		},
		{
			Key:        "BridgeK",
			Name:       "Kahnawake",
			Short:      "K",
			BoatRegion: BoatRegionMontreal,
		},
		{
			Key:        "BridgeSBS",
			Name:       "Salaberry / Beauharnois / Suroît Region",
			Short:      "SBS",
			BoatRegion: BoatRegionMontreal,
		},
	}
}

// RegionByShort looks a region up by its short code.
func RegionByShort(short string) (Region, bool) {
	for _, r := range Regions() {
		if strings.EqualFold(r.Short, short) {
			return r, true
		}
	}
	return Region{}, false
}

// AvailableBridges builds the ordered available_bridges index from the
// region roster.
func AvailableBridges() []Summary {
	var out []Summary
	for _, r := range Regions() {
		for _, b := range r.Bridges {
			out = append(out, Summary{
				ID:          SanitizeID(r.Short, b.Name),
				Name:        b.Name,
				RegionShort: r.Short,
				Region:      r.Name,
			})
		}
	}
	return out
}
