package model

import "fmt"

// Point is a geographic coordinate in decimal degrees.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Validate checks that the coordinate lies within the valid WGS84 range.
func (p Point) Validate() error {
	if p.Lat < -90 || p.Lat > 90 {
		return fmt.Errorf("%w: latitude %f out of range", ErrInvalidArgument, p.Lat)
	}
	if p.Lng < -180 || p.Lng > 180 {
		return fmt.Errorf("%w: longitude %f out of range", ErrInvalidArgument, p.Lng)
	}
	return nil
}

// Ptr returns a pointer to a copy of p.
func (p Point) Ptr() *Point { return &p }

func (p Point) String() string { return fmt.Sprintf("(%.5f,%.5f)", p.Lat, p.Lng) }
