// Package geo computes great-circle distances between coordinates.
package geo

import (
	"fmt"
	"math"

	"github.com/kilianp07/freight/core/model"
)

// EarthRadiusMiles is the mean Earth radius used by Distance.
const EarthRadiusMiles = 3958.8

// Distance returns the Haversine distance in miles between a and b.
func Distance(a, b *model.Point) (float64, error) {
	if a == nil || b == nil {
		return 0, fmt.Errorf("%w: distance requires two points", model.ErrInvalidArgument)
	}
	return MustDistance(*a, *b), nil
}

// MustDistance is Distance for points that are known to be present.
func MustDistance(a, b model.Point) float64 {
	if a == b {
		return 0
	}
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * EarthRadiusMiles * math.Asin(math.Min(1, math.Sqrt(h)))
}
