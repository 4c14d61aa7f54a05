package geo

import "math"

const earthRadiusKm = 6371

// HaversineKm returns the great-circle distance between two points in kilometers.
func HaversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	lat1Rad := lat1 * math.Pi / 180
	lat2Rad := lat2 * math.Pi / 180
	dlat := (lat2 - lat1) * math.Pi / 180
	dlon := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dlat/2)*math.Sin(dlat/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*math.Sin(dlon/2)*math.Sin(dlon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusKm * c
}

// BearingDeg returns the initial great-circle bearing from point 1 to point 2
// in degrees, 0=North, 90=East.
func BearingDeg(lat1, lon1, lat2, lon2 float64) float64 {
	lat1Rad := lat1 * math.Pi / 180
	lat2Rad := lat2 * math.Pi / 180
	dlonRad := (lon2 - lon1) * math.Pi / 180

	x := math.Sin(dlonRad) * math.Cos(lat2Rad)
	y := math.Cos(lat1Rad)*math.Sin(lat2Rad) -
		math.Sin(lat1Rad)*math.Cos(lat2Rad)*math.Cos(dlonRad)

	bearing := math.Atan2(x, y) * 180 / math.Pi
	return math.Mod(bearing+360, 360)
}

// AngleDiffDeg returns the absolute difference between two angles in the
// range [0, 180], handling wraparound (350 and 10 differ by 20, not 340).
func AngleDiffDeg(a, b float64) float64 {
	diff := math.Mod(math.Abs(a-b), 360)
	if diff > 180 {
		diff = 360 - diff
	}
	return diff
}

// DisplacementMeters approximates the distance between two nearby points in
// meters. A flat-earth approximation is plenty for movement thresholds on the
// order of tens of meters at the latitudes this system covers.
func DisplacementMeters(lat1, lon1, lat2, lon2 float64) float64 {
	latDiff := math.Abs(lat1-lat2) * 111320 // meters per degree of latitude
	lonDiff := math.Abs(lon1-lon2) * 78710  // meters per degree of longitude at ~45N
	return math.Sqrt(latDiff*latDiff + lonDiff*lonDiff)
}
