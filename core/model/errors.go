package model

import (
	"errors"
	"fmt"
)

// Error kinds. Callers classify failures with errors.Is against these.
var (
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrIntegrity reports a persistence consistency violation such as a
	// unique constraint. It is surfaced to callers as a conflict.
	ErrIntegrity = fmt.Errorf("%w: integrity violation", ErrConflict)
)

var (
	ErrDriverNotFound     = fmt.Errorf("%w: driver", ErrNotFound)
	ErrLoadNotFound       = fmt.Errorf("%w: load", ErrNotFound)
	ErrOffShift           = fmt.Errorf("%w: driver has no active shift", ErrConflict)
	ErrShiftActive        = fmt.Errorf("%w: driver already has an active shift", ErrConflict)
	ErrNotOwner           = fmt.Errorf("%w: load is not assigned to this driver", ErrConflict)
	ErrInvalidTransition  = fmt.Errorf("%w: load state does not allow this transition", ErrConflict)
	ErrReservationExpired = fmt.Errorf("%w: reservation expired, fetch assignment again", ErrConflict)
	ErrLoadInProgress     = fmt.Errorf("%w: driver has a load in progress", ErrConflict)
	ErrLocationUnknown    = fmt.Errorf("%w: location unknown", ErrInvalidArgument)
)
