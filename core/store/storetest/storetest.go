// Package storetest holds behaviour checks shared by every store.Store
// implementation.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kilianp07/freight/core/model"
	"github.com/kilianp07/freight/core/store"
)

var t0 = time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)

// Run executes the conformance checks against stores returned by open. Each
// check gets a fresh, empty store.
func Run(t *testing.T, open func(t *testing.T) store.Store) {
	checks := []struct {
		name string
		fn   func(t *testing.T, st store.Store)
	}{
		{"DriverCRUD", testDriverCRUD},
		{"OneActiveShift", testOneActiveShift},
		{"EligibleDrivers", testEligibleDrivers},
		{"ReserveOnlyAwaiting", testReserveOnlyAwaiting},
		{"ReserveOneOpenLoadPerDriver", testReserveOneOpenLoad},
		{"HandOverReleasesThenReserves", testHandOver},
		{"ReleaseChecksHolder", testReleaseChecksHolder},
		{"ReleaseExpired", testReleaseExpired},
		{"Transitions", testTransitions},
		{"RollbackOnError", testRollback},
		{"ListLoadsFilter", testListLoads},
	}
	for _, c := range checks {
		t.Run(c.name, func(t *testing.T) {
			st := open(t)
			c.fn(t, st)
		})
	}
}

func tx(t *testing.T, st store.Store, fn func(ctx context.Context, tx store.Tx) error) {
	t.Helper()
	if err := st.WithinTx(context.Background(), fn); err != nil {
		t.Fatalf("tx: %v", err)
	}
}

func pt(lat, lng float64) *model.Point { return &model.Point{Lat: lat, Lng: lng} }

func newLoad(id string, created time.Time) model.Load {
	return model.Load{
		ID:          id,
		Pickup:      model.Point{Lat: 1, Lng: 1},
		Dropoff:     model.Point{Lat: 2, Lng: 2},
		Status:      model.StatusAwaitingDriver,
		CurrentStop: model.StopPickup,
		CreatedAt:   created,
		UpdatedAt:   created,
	}
}

func seedDriver(t *testing.T, st store.Store, id string, shift bool) {
	t.Helper()
	tx(t, st, func(ctx context.Context, tx store.Tx) error {
		d := model.Driver{ID: id, Name: "driver " + id, OnShift: shift}
		if shift {
			d.Location = pt(0, 0)
		}
		if err := tx.CreateDriver(ctx, d); err != nil {
			return err
		}
		if !shift {
			return nil
		}
		return tx.CreateShift(ctx, model.Shift{ID: "S-" + id, DriverID: id, StartedAt: t0, StartLocation: model.Point{}})
	})
}

func seedLoads(t *testing.T, st store.Store, ids ...string) {
	t.Helper()
	tx(t, st, func(ctx context.Context, tx store.Tx) error {
		for i, id := range ids {
			if err := tx.CreateLoad(ctx, newLoad(id, t0.Add(time.Duration(i)*time.Second))); err != nil {
				return err
			}
		}
		return nil
	})
}

func reserve(ctx context.Context, tx store.Tx, loadID, driverID string, exp time.Time) (bool, error) {
	return tx.ReserveLoad(ctx, store.Reservation{LoadID: loadID, DriverID: driverID, ShiftID: "S-" + driverID, ExpiresAt: exp, At: t0})
}

func testDriverCRUD(t *testing.T, st store.Store) {
	seedDriver(t, st, "d1", false)
	tx(t, st, func(ctx context.Context, tx store.Tx) error {
		d, err := tx.GetDriver(ctx, "d1")
		if err != nil {
			return err
		}
		if d.Name != "driver d1" || d.Location != nil {
			t.Fatalf("unexpected driver %+v", d)
		}
		d.Location = pt(3, 4)
		d.OnShift = true
		return tx.UpdateDriver(ctx, d)
	})
	tx(t, st, func(ctx context.Context, tx store.Tx) error {
		d, err := tx.GetDriver(ctx, "d1")
		if err != nil {
			return err
		}
		if !d.OnShift || d.Location == nil || d.Location.Lat != 3 || d.Location.Lng != 4 {
			t.Fatalf("update not persisted %+v", d)
		}
		if _, err := tx.GetDriver(ctx, "nope"); !errors.Is(err, model.ErrNotFound) {
			t.Fatalf("expected not found, got %v", err)
		}
		return nil
	})
	err := st.WithinTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		return tx.CreateDriver(ctx, model.Driver{ID: "d1"})
	})
	if !errors.Is(err, model.ErrConflict) {
		t.Fatalf("expected duplicate driver conflict, got %v", err)
	}
}

func testOneActiveShift(t *testing.T, st store.Store) {
	seedDriver(t, st, "d1", true)
	err := st.WithinTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		return tx.CreateShift(ctx, model.Shift{ID: "S-2", DriverID: "d1", StartedAt: t0})
	})
	if !errors.Is(err, model.ErrIntegrity) {
		t.Fatalf("expected integrity error for second active shift, got %v", err)
	}
	tx(t, st, func(ctx context.Context, tx store.Tx) error {
		sh, err := tx.ActiveShift(ctx, "d1")
		if err != nil {
			return err
		}
		if err := tx.EndShift(ctx, sh.ID, t0.Add(time.Hour)); err != nil {
			return err
		}
		if _, err := tx.ActiveShift(ctx, "d1"); !errors.Is(err, model.ErrNotFound) {
			t.Fatalf("expected no active shift, got %v", err)
		}
		return tx.CreateShift(ctx, model.Shift{ID: "S-3", DriverID: "d1", StartedAt: t0.Add(2 * time.Hour)})
	})
}

func testEligibleDrivers(t *testing.T, st store.Store) {
	seedDriver(t, st, "on", true)
	seedDriver(t, st, "off", false)
	seedDriver(t, st, "busy", true)
	seedDriver(t, st, "lost", true)
	seedLoads(t, st, "l1")
	tx(t, st, func(ctx context.Context, tx store.Tx) error {
		d, err := tx.GetDriver(ctx, "lost")
		if err != nil {
			return err
		}
		d.Location = nil
		if err := tx.UpdateDriver(ctx, d); err != nil {
			return err
		}
		if _, err := reserve(ctx, tx, "l1", "busy", t0.Add(time.Minute)); err != nil {
			return err
		}
		_, err = tx.TransitionLoad(ctx, store.Transition{
			LoadID: "l1", DriverID: "busy",
			From: model.StatusReserved, FromStop: model.StopPickup,
			To: model.StatusInProgress, ToStop: model.StopDropoff, At: t0,
		})
		return err
	})
	tx(t, st, func(ctx context.Context, tx store.Tx) error {
		out, err := tx.ListEligibleDrivers(ctx)
		if err != nil {
			return err
		}
		if len(out) != 1 || out[0].ID != "on" || out[0].ShiftID != "S-on" {
			t.Fatalf("unexpected eligible drivers %+v", out)
		}
		return nil
	})
}

func testReserveOnlyAwaiting(t *testing.T, st store.Store) {
	seedDriver(t, st, "d1", true)
	seedDriver(t, st, "d2", true)
	seedLoads(t, st, "l1")
	exp := t0.Add(2 * time.Minute)
	tx(t, st, func(ctx context.Context, tx store.Tx) error {
		ok, err := reserve(ctx, tx, "l1", "d1", exp)
		if err != nil || !ok {
			t.Fatalf("first reserve: %v %v", ok, err)
		}
		ok, err = reserve(ctx, tx, "l1", "d2", exp)
		if err != nil || ok {
			t.Fatalf("second reserve must be rejected: %v %v", ok, err)
		}
		ok, err = reserve(ctx, tx, "missing", "d2", exp)
		if err != nil || ok {
			t.Fatalf("reserve of missing load: %v %v", ok, err)
		}
		return nil
	})
	tx(t, st, func(ctx context.Context, tx store.Tx) error {
		l, err := tx.GetLoad(ctx, "l1")
		if err != nil {
			return err
		}
		if l.Status != model.StatusReserved || l.AssignedDriverID != "d1" || l.AssignedShiftID != "S-d1" ||
			l.ReservationExpiresAt == nil || !l.ReservationExpiresAt.Equal(exp) {
			t.Fatalf("unexpected reserved load %+v", l)
		}
		open, err := tx.OpenLoadForDriver(ctx, "d1")
		if err != nil {
			return err
		}
		if open == nil || open.ID != "l1" {
			t.Fatalf("expected open load l1, got %+v", open)
		}
		none, err := tx.OpenLoadForDriver(ctx, "d2")
		if err != nil {
			return err
		}
		if none != nil {
			t.Fatalf("expected no open load, got %+v", none)
		}
		return nil
	})
}

func testReserveOneOpenLoad(t *testing.T, st store.Store) {
	seedDriver(t, st, "d1", true)
	seedLoads(t, st, "l1", "l2")
	tx(t, st, func(ctx context.Context, tx store.Tx) error {
		_, err := reserve(ctx, tx, "l1", "d1", t0.Add(time.Minute))
		return err
	})
	err := st.WithinTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		_, err := reserve(ctx, tx, "l2", "d1", t0.Add(time.Minute))
		return err
	})
	if !errors.Is(err, model.ErrIntegrity) || !errors.Is(err, model.ErrConflict) {
		t.Fatalf("expected integrity conflict, got %v", err)
	}
}

// testHandOver moves a reservation between drivers the way reconcile does:
// a release by the holder, then a reserve of the now awaiting load. A refused
// reserve for a driver who already holds a load leaves the transaction usable.
func testHandOver(t *testing.T, st store.Store) {
	seedDriver(t, st, "d1", true)
	seedDriver(t, st, "d2", true)
	seedLoads(t, st, "l1", "l2")
	exp := t0.Add(2 * time.Minute)
	tx(t, st, func(ctx context.Context, tx store.Tx) error {
		_, err := reserve(ctx, tx, "l1", "d1", exp)
		return err
	})
	tx(t, st, func(ctx context.Context, tx store.Tx) error {
		if _, err := reserve(ctx, tx, "l2", "d1", exp); !errors.Is(err, model.ErrIntegrity) {
			t.Fatalf("expected integrity violation, got %v", err)
		}
		if ok, err := reserve(ctx, tx, "l1", "d2", exp); err != nil || ok {
			t.Fatalf("reserve of a held load must be refused: %v %v", ok, err)
		}
		if ok, err := tx.ReleaseReservation(ctx, "l1", "d1", t0); err != nil || !ok {
			t.Fatalf("release: %v %v", ok, err)
		}
		if ok, err := reserve(ctx, tx, "l1", "d2", exp); err != nil || !ok {
			t.Fatalf("reserve after release: %v %v", ok, err)
		}
		return nil
	})
	tx(t, st, func(ctx context.Context, tx store.Tx) error {
		l, err := tx.GetLoad(ctx, "l1")
		if err != nil {
			return err
		}
		if l.Status != model.StatusReserved || l.AssignedDriverID != "d2" {
			t.Fatalf("expected l1 reserved to d2, got %+v", l)
		}
		return nil
	})
}

func testReleaseChecksHolder(t *testing.T, st store.Store) {
	seedDriver(t, st, "d1", true)
	seedLoads(t, st, "l1")
	tx(t, st, func(ctx context.Context, tx store.Tx) error {
		_, err := reserve(ctx, tx, "l1", "d1", t0.Add(time.Minute))
		return err
	})
	tx(t, st, func(ctx context.Context, tx store.Tx) error {
		ok, err := tx.ReleaseReservation(ctx, "l1", "d2", t0)
		if err != nil || ok {
			t.Fatalf("release by non-holder: %v %v", ok, err)
		}
		ok, err = tx.ReleaseReservation(ctx, "l1", "d1", t0)
		if err != nil || !ok {
			t.Fatalf("release by holder: %v %v", ok, err)
		}
		ok, err = tx.ReleaseReservation(ctx, "l1", "d1", t0)
		if err != nil || ok {
			t.Fatalf("second release must be a no-op: %v %v", ok, err)
		}
		l, err := tx.GetLoad(ctx, "l1")
		if err != nil {
			return err
		}
		if l.Status != model.StatusAwaitingDriver || l.AssignedDriverID != "" || l.ReservationExpiresAt != nil {
			t.Fatalf("release left state behind %+v", l)
		}
		return nil
	})
}

func testReleaseExpired(t *testing.T, st store.Store) {
	seedDriver(t, st, "d1", true)
	seedDriver(t, st, "d2", true)
	seedLoads(t, st, "l1", "l2")
	tx(t, st, func(ctx context.Context, tx store.Tx) error {
		if _, err := reserve(ctx, tx, "l1", "d1", t0.Add(time.Minute)); err != nil {
			return err
		}
		_, err := reserve(ctx, tx, "l2", "d2", t0.Add(time.Hour))
		return err
	})
	tx(t, st, func(ctx context.Context, tx store.Tx) error {
		ids, err := tx.ReleaseExpiredReservations(ctx, t0.Add(time.Minute))
		if err != nil {
			return err
		}
		if len(ids) != 1 || ids[0] != "l1" {
			t.Fatalf("expected l1 expired, got %v", ids)
		}
		l2, err := tx.GetLoad(ctx, "l2")
		if err != nil {
			return err
		}
		if l2.Status != model.StatusReserved {
			t.Fatalf("l2 should still be reserved: %+v", l2)
		}
		return nil
	})
}

func testTransitions(t *testing.T, st store.Store) {
	seedDriver(t, st, "d1", true)
	seedLoads(t, st, "l1")
	start := store.Transition{
		LoadID: "l1", DriverID: "d1",
		From: model.StatusReserved, FromStop: model.StopPickup,
		To: model.StatusInProgress, ToStop: model.StopDropoff, At: t0,
	}
	tx(t, st, func(ctx context.Context, tx store.Tx) error {
		if ok, err := tx.TransitionLoad(ctx, start); err != nil || ok {
			t.Fatalf("transition of awaiting load: %v %v", ok, err)
		}
		if _, err := reserve(ctx, tx, "l1", "d1", t0.Add(time.Minute)); err != nil {
			return err
		}
		if ok, err := tx.TransitionLoad(ctx, start); err != nil || !ok {
			t.Fatalf("start: %v %v", ok, err)
		}
		l, err := tx.LockLoad(ctx, "l1")
		if err != nil {
			return err
		}
		if l.Status != model.StatusInProgress || l.CurrentStop != model.StopDropoff || l.AssignedDriverID != "d1" || l.ReservationExpiresAt != nil {
			t.Fatalf("unexpected in-progress load %+v", l)
		}
		done := store.Transition{
			LoadID: "l1", DriverID: "d1",
			From: model.StatusInProgress, FromStop: model.StopDropoff,
			To: model.StatusCompleted, ToStop: model.StopDropoff, At: t0,
		}
		if ok, err := tx.TransitionLoad(ctx, done); err != nil || !ok {
			t.Fatalf("complete: %v %v", ok, err)
		}
		l, err = tx.GetLoad(ctx, "l1")
		if err != nil {
			return err
		}
		if l.Status != model.StatusCompleted || l.AssignedDriverID != "" || l.AssignedShiftID != "" {
			t.Fatalf("unexpected completed load %+v", l)
		}
		if ok, err := tx.TransitionLoad(ctx, done); err != nil || ok {
			t.Fatalf("repeated completion must be rejected: %v %v", ok, err)
		}
		return nil
	})
}

func testRollback(t *testing.T, st store.Store) {
	boom := errors.New("boom")
	err := st.WithinTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		if err := tx.CreateDriver(ctx, model.Driver{ID: "ghost"}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	tx(t, st, func(ctx context.Context, tx store.Tx) error {
		if _, err := tx.GetDriver(ctx, "ghost"); !errors.Is(err, model.ErrNotFound) {
			t.Fatalf("write survived rollback: %v", err)
		}
		return nil
	})
}

func testListLoads(t *testing.T, st store.Store) {
	seedDriver(t, st, "d1", true)
	seedLoads(t, st, "b", "a", "c")
	tx(t, st, func(ctx context.Context, tx store.Tx) error {
		_, err := reserve(ctx, tx, "c", "d1", t0.Add(time.Minute))
		return err
	})
	tx(t, st, func(ctx context.Context, tx store.Tx) error {
		all, err := tx.ListLoads(ctx, store.LoadFilter{})
		if err != nil {
			return err
		}
		if len(all) != 3 || all[0].ID != "b" || all[1].ID != "a" || all[2].ID != "c" {
			t.Fatalf("expected creation order b,a,c, got %+v", all)
		}
		held, err := tx.ListLoads(ctx, store.LoadFilter{DriverID: "d1"})
		if err != nil {
			return err
		}
		if len(held) != 1 || held[0].ID != "c" {
			t.Fatalf("driver filter: %+v", held)
		}
		waiting, err := tx.ListLoads(ctx, store.LoadFilter{Statuses: []model.LoadStatus{model.StatusAwaitingDriver}})
		if err != nil {
			return err
		}
		if len(waiting) != 2 {
			t.Fatalf("status filter: %+v", waiting)
		}
		return nil
	})
}
