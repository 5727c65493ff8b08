package simulator

import (
	"fmt"

	"github.com/kilianp07/freight/core/model"
)

// Config holds parameters for random fleet generation.
type Config struct {
	Drivers int `json:"drivers"`
	Loads   int `json:"loads"`
	// Seed makes generation reproducible. Zero picks a time based seed.
	Seed int64 `json:"seed"`
	// RadiusMiles bounds how far drivers and pickups scatter from Center.
	RadiusMiles float64 `json:"radius_miles"`
	// MaxTripMiles bounds the pickup to dropoff distance.
	MaxTripMiles float64     `json:"max_trip_miles"`
	Center       model.Point `json:"center"`
}

func (c *Config) SetDefaults() {
	if c.RadiusMiles <= 0 {
		c.RadiusMiles = 25
	}
	if c.MaxTripMiles <= 0 {
		c.MaxTripMiles = 15
	}
	if c.Center == (model.Point{}) {
		c.Center = model.Point{Lat: 48.8566, Lng: 2.3522}
	}
}

func (c Config) Validate() error {
	if c.Drivers < 0 || c.Loads < 0 {
		return fmt.Errorf("simulator: fleet sizes must not be negative")
	}
	return c.Center.Validate()
}
