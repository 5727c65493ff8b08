package model

import (
	"errors"
	"testing"
	"time"
)

func TestLoadValidate(t *testing.T) {
	exp := time.Now()
	cases := []struct {
		name string
		load Load
		ok   bool
	}{
		{"awaiting", Load{ID: "l", Status: StatusAwaitingDriver, CurrentStop: StopPickup}, true},
		{"awaiting with driver", Load{ID: "l", Status: StatusAwaitingDriver, CurrentStop: StopPickup, AssignedDriverID: "d"}, false},
		{"reserved", Load{ID: "l", Status: StatusReserved, CurrentStop: StopPickup, AssignedDriverID: "d", ReservationExpiresAt: &exp}, true},
		{"reserved no expiry", Load{ID: "l", Status: StatusReserved, CurrentStop: StopPickup, AssignedDriverID: "d"}, false},
		{"in progress", Load{ID: "l", Status: StatusInProgress, CurrentStop: StopDropoff, AssignedDriverID: "d"}, true},
		{"in progress at pickup", Load{ID: "l", Status: StatusInProgress, CurrentStop: StopPickup, AssignedDriverID: "d"}, false},
		{"completed", Load{ID: "l", Status: StatusCompleted, CurrentStop: StopDropoff}, true},
		{"completed with driver", Load{ID: "l", Status: StatusCompleted, CurrentStop: StopDropoff, AssignedDriverID: "d"}, false},
	}
	for _, c := range cases {
		err := c.load.Validate()
		if c.ok && err != nil {
			t.Errorf("%s: unexpected error %v", c.name, err)
		}
		if !c.ok && !errors.Is(err, ErrIntegrity) {
			t.Errorf("%s: expected integrity error, got %v", c.name, err)
		}
	}
}

func TestReservationExpired(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	exp := now.Add(time.Minute)
	l := Load{Status: StatusReserved, ReservationExpiresAt: &exp}
	if l.ReservationExpired(now) {
		t.Fatalf("not expired yet")
	}
	if !l.ReservationExpired(exp) {
		t.Fatalf("expired at deadline")
	}
	l.Status = StatusInProgress
	if l.ReservationExpired(exp.Add(time.Hour)) {
		t.Fatalf("only reserved loads expire")
	}
}

func TestIntegrityIsConflict(t *testing.T) {
	if !errors.Is(ErrIntegrity, ErrConflict) {
		t.Fatalf("integrity must surface as conflict")
	}
	if !errors.Is(ErrReservationExpired, ErrConflict) {
		t.Fatalf("expired reservation is a conflict")
	}
	if _, err := ParseLoadStatus("BOGUS"); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected invalid argument, got %v", err)
	}
}
