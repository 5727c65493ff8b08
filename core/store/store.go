// Package store defines the transactional repository the dispatcher runs
// against and an in-memory implementation of it.
package store

import (
	"context"
	"time"

	"github.com/kilianp07/freight/core/model"
)

// Store runs units of work atomically. fn sees a consistent view; when it
// returns an error every write it made is discarded.
type Store interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	Close() error
}

// EligibleDriver is a driver who can receive work, along with its active shift.
type EligibleDriver struct {
	model.Driver
	ShiftID string `json:"shift_id"`
}

// LoadFilter restricts ListLoads. Empty fields match everything.
type LoadFilter struct {
	Statuses []model.LoadStatus
	DriverID string
}

// Match reports whether l passes the filter.
func (f LoadFilter) Match(l model.Load) bool {
	if f.DriverID != "" && l.AssignedDriverID != f.DriverID {
		return false
	}
	if len(f.Statuses) == 0 {
		return true
	}
	for _, s := range f.Statuses {
		if l.Status == s {
			return true
		}
	}
	return false
}

var (
	// AssignableStatuses are the statuses the optimizer may (re)assign.
	AssignableStatuses = []model.LoadStatus{model.StatusAwaitingDriver, model.StatusReserved}
	// ProtectedStatuses are never reassigned.
	ProtectedStatuses = []model.LoadStatus{model.StatusInProgress}
)

// Reservation reserves an AWAITING_DRIVER load to a driver until ExpiresAt.
type Reservation struct {
	LoadID    string
	DriverID  string
	ShiftID   string
	ExpiresAt time.Time
	At        time.Time
}

// Transition moves a load held by DriverID from (From, FromStop) to To.
// Moving to IN_PROGRESS keeps the driver and clears the expiry; moving to
// COMPLETED clears the assignment.
type Transition struct {
	LoadID   string
	DriverID string
	From     model.LoadStatus
	FromStop model.Stop
	To       model.LoadStatus
	ToStop   model.Stop
	At       time.Time
}

// Tx is the set of operations available inside a transaction. Conditional
// writes return false when their precondition no longer holds; they never
// read then write.
type Tx interface {
	CreateDriver(ctx context.Context, d model.Driver) error
	GetDriver(ctx context.Context, id string) (model.Driver, error)
	UpdateDriver(ctx context.Context, d model.Driver) error
	// ListEligibleDrivers returns on-shift drivers with an active shift and a
	// known location who do not hold an IN_PROGRESS load.
	ListEligibleDrivers(ctx context.Context) ([]EligibleDriver, error)

	// CreateShift fails with model.ErrIntegrity when the driver already has
	// an active shift.
	CreateShift(ctx context.Context, s model.Shift) error
	ActiveShift(ctx context.Context, driverID string) (model.Shift, error)
	EndShift(ctx context.Context, shiftID string, at time.Time) error

	CreateLoad(ctx context.Context, l model.Load) error
	GetLoad(ctx context.Context, id string) (model.Load, error)
	// LockLoad reads a load and holds a row lock on it until the end of the
	// transaction.
	LockLoad(ctx context.Context, id string) (model.Load, error)
	ListLoads(ctx context.Context, f LoadFilter) ([]model.Load, error)
	// OpenLoadForDriver returns the RESERVED or IN_PROGRESS load held by the
	// driver, or nil.
	OpenLoadForDriver(ctx context.Context, driverID string) (*model.Load, error)

	// ReleaseExpiredReservations reverts every RESERVED load whose expiry is
	// not after now and returns their ids.
	ReleaseExpiredReservations(ctx context.Context, now time.Time) ([]string, error)
	// ReserveLoad succeeds only if the load is still AWAITING_DRIVER. It fails
	// with model.ErrIntegrity when the driver already holds another open load.
	ReserveLoad(ctx context.Context, r Reservation) (bool, error)
	// ReleaseReservation reverts a load only if it is still RESERVED to driverID.
	ReleaseReservation(ctx context.Context, loadID, driverID string, at time.Time) (bool, error)
	TransitionLoad(ctx context.Context, t Transition) (bool, error)
}
