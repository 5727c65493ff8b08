package simulator

import (
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/kilianp07/freight/core/model"
)

const milesPerDegree = 69.0

// Epoch is the creation time of generated loads.
var Epoch = time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)

// GenerateFleet creates cfg.Drivers on-shift drivers with IDs drv0001..drvNNNN
// and cfg.Loads awaiting loads with IDs load0001..loadNNNN, scattered around
// cfg.Center. Loads are created one millisecond apart so their order is
// stable.
func GenerateFleet(cfg Config) ([]model.Driver, []model.Load) {
	cfg.SetDefaults()
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	drivers := make([]model.Driver, cfg.Drivers)
	for i := range drivers {
		id := fmt.Sprintf("drv%04d", i+1)
		drivers[i] = model.Driver{
			ID:       id,
			Name:     id,
			OnShift:  true,
			Location: scatter(rng, cfg.Center, cfg.RadiusMiles).Ptr(),
		}
	}
	loads := make([]model.Load, cfg.Loads)
	for i := range loads {
		pickup := scatter(rng, cfg.Center, cfg.RadiusMiles)
		at := Epoch.Add(time.Duration(i) * time.Millisecond)
		loads[i] = model.Load{
			ID:          fmt.Sprintf("load%04d", i+1),
			Pickup:      pickup,
			Dropoff:     scatter(rng, pickup, cfg.MaxTripMiles),
			Status:      model.StatusAwaitingDriver,
			CurrentStop: model.StopPickup,
			CreatedAt:   at,
			UpdatedAt:   at,
		}
	}
	return drivers, loads
}

// scatter returns a uniform point in the square of half side r miles around c.
func scatter(rng *rand.Rand, c model.Point, r float64) model.Point {
	dLat := (rng.Float64()*2 - 1) * r / milesPerDegree
	lat := math.Max(-89, math.Min(89, c.Lat+dLat))
	dLng := (rng.Float64()*2 - 1) * r / (milesPerDegree * math.Cos(lat*math.Pi/180))
	lng := c.Lng + dLng
	if lng > 180 {
		lng -= 360
	} else if lng < -180 {
		lng += 360
	}
	return model.Point{Lat: lat, Lng: lng}
}

// ThreeDriverScenario is a fixed fleet on the prime meridian where one
// driver can chain two loads. Greedy sends the nearest driver to each load
// and ends up far worse than the optimum.
func ThreeDriverScenario() ([]model.Driver, []model.Load) {
	driver := func(id string, lat float64) model.Driver {
		return model.Driver{ID: id, Name: id, OnShift: true, Location: model.Point{Lat: lat}.Ptr()}
	}
	load := func(i int, id string, pickup, dropoff float64) model.Load {
		at := Epoch.Add(time.Duration(i) * time.Millisecond)
		return model.Load{
			ID:          id,
			Pickup:      model.Point{Lat: pickup},
			Dropoff:     model.Point{Lat: dropoff},
			Status:      model.StatusAwaitingDriver,
			CurrentStop: model.StopPickup,
			CreatedAt:   at,
			UpdatedAt:   at,
		}
	}
	return []model.Driver{driver("D1", 0), driver("D2", 5), driver("D3", 10)},
		[]model.Load{load(0, "L1", 1, 2), load(1, "L2", 3, 4), load(2, "L3", 5.3, 6)}
}
