// Package geo implements the proximity math used by location triggers.
package geo

import (
	"math"

	"bizminder/internal/model"
)

const (
	// earthRadiusKm is the mean earth radius used by the haversine formula.
	earthRadiusKm = 6371.0

	// ProximityRadiusKm is the fixed trigger threshold: a reminder fires
	// when the owner is within 100 meters of its coordinates, inclusive.
	ProximityRadiusKm = 0.1
)

// DistanceKm returns the great-circle distance between two coordinates in
// kilometers, using the haversine formula.
func DistanceKm(a, b model.Coordinates) float64 {
	lat1 := radians(a.Latitude)
	lat2 := radians(b.Latitude)
	dLat := radians(b.Latitude - a.Latitude)
	dLon := radians(b.Longitude - a.Longitude)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))

	return earthRadiusKm * c
}

// Near reports whether the two coordinates are within the proximity
// threshold of each other. The boundary is inclusive.
func Near(a, b model.Coordinates) bool {
	return DistanceKm(a, b) <= ProximityRadiusKm
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}
