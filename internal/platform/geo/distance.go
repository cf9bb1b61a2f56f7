// Package geo provides great-circle distance helpers for resource matching.
//
// Coordinates are assumed to be pre-resolved. Inputs outside the valid
// latitude [-90, 90] and longitude [-180, 180] ranges are not validated or
// clamped; the haversine formula is applied to them as given.
package geo

import "math"

// EarthRadiusMiles is the mean Earth radius used by Distance.
const EarthRadiusMiles = 3959.0

// Coordinates is a latitude/longitude pair in decimal degrees.
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Distance returns the haversine distance between a and b in miles,
// rounded to one decimal place.
func Distance(a, b Coordinates) float64 {
	lat1 := toRadians(a.Lat)
	lat2 := toRadians(b.Lat)
	dLat := toRadians(b.Lat - a.Lat)
	dLng := toRadians(b.Lng - a.Lng)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*
			math.Sin(dLng/2)*math.Sin(dLng/2)

	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return math.Round(EarthRadiusMiles*c*10) / 10
}

// WithinRadius reports whether b lies within radiusMiles of a.
func WithinRadius(a, b Coordinates, radiusMiles float64) bool {
	return Distance(a, b) <= radiusMiles
}

// Nearest returns the point in candidates closest to origin and its distance.
// ok is false when candidates is empty.
func Nearest(origin Coordinates, candidates []Coordinates) (nearest Coordinates, miles float64, ok bool) {
	for i, c := range candidates {
		d := Distance(origin, c)
		if i == 0 || d < miles {
			nearest, miles, ok = c, d, true
		}
	}
	return nearest, miles, ok
}

func toRadians(deg float64) float64 {
	return deg * (math.Pi / 180)
}
