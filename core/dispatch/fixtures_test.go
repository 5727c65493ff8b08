package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/kilianp07/freight/core/model"
	"github.com/kilianp07/freight/core/store"
)

var epoch = time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)

func driverAt(id string, lat, lng float64) model.Driver {
	return model.Driver{ID: id, Name: id, OnShift: true, Location: model.Point{Lat: lat, Lng: lng}.Ptr()}
}

func load(id string, pLat, dLat float64) model.Load {
	return model.Load{
		ID:          id,
		Pickup:      model.Point{Lat: pLat},
		Dropoff:     model.Point{Lat: dLat},
		Status:      model.StatusAwaitingDriver,
		CurrentStop: model.StopPickup,
		CreatedAt:   epoch,
		UpdatedAt:   epoch,
	}
}

func driverIDs(ds []model.Driver) []string {
	out := make([]string, len(ds))
	for i, d := range ds {
		out[i] = d.ID
	}
	return out
}

func loadIDs(ls []model.Load) []string {
	out := make([]string, len(ls))
	for i, l := range ls {
		out[i] = l.ID
	}
	return out
}

// threeDriverScenario places drivers and pickups along the meridian so that
// every distance is a multiple of one degree of latitude.
func threeDriverScenario() ([]model.Driver, []model.Load) {
	drivers := []model.Driver{driverAt("D1", 0, 0), driverAt("D2", 5, 0), driverAt("D3", 10, 0)}
	loads := []model.Load{load("L1", 1, 2), load("L2", 3, 4), load("L3", 5.3, 6)}
	return drivers, loads
}

func chainScenario() ([]model.Driver, []model.Load) {
	drivers := []model.Driver{driverAt("D1", 0, 0), driverAt("D2", 50, 0)}
	loads := []model.Load{load("L1", 10, 15), load("L2", 16, 20), load("L3", 51, 55)}
	return drivers, loads
}

// seed stores drivers with an active shift each, and the given loads.
func seed(t *testing.T, st store.Store, drivers []model.Driver, loads []model.Load) {
	t.Helper()
	err := st.WithinTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		for _, d := range drivers {
			if err := tx.CreateDriver(ctx, d); err != nil {
				return err
			}
			sh := model.Shift{ID: "S-" + d.ID, DriverID: d.ID, StartedAt: epoch, StartLocation: *d.Location}
			if err := tx.CreateShift(ctx, sh); err != nil {
				return err
			}
		}
		for _, l := range loads {
			if err := tx.CreateLoad(ctx, l); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func getLoad(t *testing.T, st store.Store, id string) model.Load {
	t.Helper()
	var l model.Load
	err := st.WithinTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		var err error
		l, err = tx.GetLoad(ctx, id)
		return err
	})
	if err != nil {
		t.Fatalf("get load %s: %v", id, err)
	}
	return l
}
