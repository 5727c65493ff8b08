// Package assignment implements the driver-facing load lifecycle: fetching or
// reserving work, confirming stops, rejecting reservations, and the shift and
// load bookkeeping around them.
package assignment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kilianp07/freight/core/coordinator"
	"github.com/kilianp07/freight/core/events"
	"github.com/kilianp07/freight/core/logger"
	"github.com/kilianp07/freight/core/metrics"
	"github.com/kilianp07/freight/core/model"
	"github.com/kilianp07/freight/core/store"
	"github.com/kilianp07/freight/internal/eventbus"
)

// Runner schedules optimization passes.
type Runner interface {
	RequestRun(req coordinator.Request)
	RunAndWait(ctx context.Context, req coordinator.Request) error
}

// Service owns load status transitions. Every multi-step change runs in one
// store transaction; optimization passes triggered afterwards are best effort.
type Service struct {
	store       store.Store
	runner      Runner
	waitTimeout time.Duration
	logger      logger.Logger

	mu    sync.Mutex
	clock model.Clock
	bus   eventbus.EventBus
	sink  metrics.MetricsSink
}

// NewService creates the service. waitTimeout bounds how long synchronous
// operations wait for a pass; zero uses coordinator.DefaultWaitTimeout.
func NewService(st store.Store, runner Runner, waitTimeout time.Duration, log logger.Logger) (*Service, error) {
	if st == nil || runner == nil {
		return nil, fmt.Errorf("assignment: nil parameter provided to NewService")
	}
	if waitTimeout <= 0 {
		waitTimeout = coordinator.DefaultWaitTimeout
	}
	return &Service{
		store:       st,
		runner:      runner,
		waitTimeout: waitTimeout,
		logger:      logger.OrNop(log),
		clock:       model.SystemClock{},
		sink:        metrics.NopSink{},
	}, nil
}

func (s *Service) SetClock(c model.Clock) {
	if c == nil {
		return
	}
	s.mu.Lock()
	s.clock = c
	s.mu.Unlock()
}

func (s *Service) SetEventBus(bus eventbus.EventBus) {
	s.mu.Lock()
	s.bus = bus
	s.mu.Unlock()
}

// SetMetricsSink reports reservation changes to sink when it implements
// metrics.ReservationRecorder.
func (s *Service) SetMetricsSink(sink metrics.MetricsSink) {
	if sink == nil {
		sink = metrics.NopSink{}
	}
	s.mu.Lock()
	s.sink = sink
	s.mu.Unlock()
}

func (s *Service) now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clock.Now()
}

func (s *Service) publish(evs ...eventbus.Event) {
	s.mu.Lock()
	bus := s.bus
	s.mu.Unlock()
	if bus == nil {
		return
	}
	for _, ev := range evs {
		bus.Publish(ev)
	}
}

func (s *Service) record(ev metrics.ReservationEvent) {
	s.mu.Lock()
	rr, ok := s.sink.(metrics.ReservationRecorder)
	s.mu.Unlock()
	if !ok {
		return
	}
	if err := rr.RecordReservation(ev); err != nil {
		s.logger.Errorf("reservation metrics error: %v", err)
	}
}

// RequestOptimizationRun asks for a pass and returns immediately.
func (s *Service) RequestOptimizationRun(reason model.Trigger, correlationID string) {
	s.runner.RequestRun(coordinator.Request{Trigger: reason, CorrelationID: correlationID})
}

// runAndWait triggers a pass and waits for it within the wait timeout.
// Failures are logged; callers read whatever state the store holds.
func (s *Service) runAndWait(ctx context.Context, trigger model.Trigger, entityID string) {
	wctx, cancel := context.WithTimeout(ctx, s.waitTimeout)
	defer cancel()
	err := s.runner.RunAndWait(wctx, coordinator.Request{Trigger: trigger, EntityID: entityID})
	switch {
	case err == nil:
	case errors.Is(err, coordinator.ErrBusy):
		s.logger.Debugf("optimization for %s deferred to the running instance", entityID)
	default:
		s.logger.Warnf("optimization after %s for %s: %v", trigger, entityID, err)
	}
}

func (s *Service) openAssignment(ctx context.Context, driverID string) (*Assignment, error) {
	var open *model.Load
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		open, err = tx.OpenLoadForDriver(ctx, driverID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return newAssignment(open), nil
}

func activeShift(ctx context.Context, tx store.Tx, driverID string) (model.Shift, error) {
	sh, err := tx.ActiveShift(ctx, driverID)
	if errors.Is(err, model.ErrNotFound) {
		return sh, fmt.Errorf("%w: driver %s", model.ErrOffShift, driverID)
	}
	return sh, err
}

// GetOrReserveLoad returns the driver's open load, running a pass first when
// the driver holds none. A nil assignment means no load is available.
func (s *Service) GetOrReserveLoad(ctx context.Context, driverID string) (*Assignment, error) {
	now := s.now()
	var open *model.Load
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		d, err := tx.GetDriver(ctx, driverID)
		if err != nil {
			return err
		}
		if _, err := activeShift(ctx, tx, driverID); err != nil {
			return err
		}
		if open, err = tx.OpenLoadForDriver(ctx, driverID); err != nil {
			return err
		}
		if open == nil && d.Location == nil {
			return fmt.Errorf("%w: driver %s", model.ErrLocationUnknown, driverID)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("get or reserve load: %w", err)
	}
	// An expired hold is swept and decided again by the pass below.
	if open != nil && !open.ReservationExpired(now) {
		return newAssignment(open), nil
	}

	s.runAndWait(ctx, model.TriggerManual, driverID)
	a, err := s.openAssignment(ctx, driverID)
	if err != nil {
		return nil, fmt.Errorf("get or reserve load: %w", err)
	}
	return a, nil
}

// CompleteNextStop confirms the next stop of a load: pickup moves a reserved
// load in progress, dropoff completes it and runs a pass to find the driver's
// next load. Completing an already completed load reports it again; when the
// driver still has no next load a new pass is run for them.
func (s *Service) CompleteNextStop(ctx context.Context, driverID, loadID string) (*CompleteResult, error) {
	now := s.now()
	var (
		res                                CompleteResult
		expired, started, completed, retry bool
	)
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		d, err := tx.GetDriver(ctx, driverID)
		if err != nil {
			return err
		}
		l, err := tx.LockLoad(ctx, loadID)
		if err != nil {
			return err
		}
		if l.Status == model.StatusCompleted {
			res.Completed = newAssignment(&l)
			open, err := tx.OpenLoadForDriver(ctx, driverID)
			if err != nil {
				return err
			}
			res.Next = newAssignment(open)
			if open == nil && l.AssignedDriverID == driverID && d.Location != nil {
				_, err := tx.ActiveShift(ctx, driverID)
				switch {
				case err == nil:
					retry = true
				case !errors.Is(err, model.ErrNotFound):
					return err
				}
			}
			return nil
		}
		if _, err := activeShift(ctx, tx, driverID); err != nil {
			return err
		}
		if l.AssignedDriverID != driverID {
			return fmt.Errorf("%w: load %s", model.ErrNotOwner, loadID)
		}

		tr := store.Transition{LoadID: l.ID, DriverID: driverID, From: l.Status, FromStop: l.CurrentStop, At: now}
		switch {
		case l.Status == model.StatusReserved && l.CurrentStop == model.StopPickup:
			if l.ReservationExpired(now) {
				if _, err := tx.ReleaseReservation(ctx, l.ID, driverID, now); err != nil {
					return err
				}
				expired = true
				return nil
			}
			tr.To, tr.ToStop = model.StatusInProgress, model.StopDropoff
			d.Location = l.Pickup.Ptr()
			started = true
		case l.Status == model.StatusInProgress && l.CurrentStop == model.StopDropoff:
			tr.To, tr.ToStop = model.StatusCompleted, model.StopDropoff
			d.Location = l.Dropoff.Ptr()
			completed = true
		default:
			return fmt.Errorf("%w: load %s is %s at %s", model.ErrInvalidTransition, l.ID, l.Status, l.CurrentStop)
		}
		ok, err := tx.TransitionLoad(ctx, tr)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: load %s changed concurrently", model.ErrConflict, l.ID)
		}
		if err := tx.UpdateDriver(ctx, d); err != nil {
			return err
		}
		after, err := tx.GetLoad(ctx, l.ID)
		if err != nil {
			return err
		}
		res.Completed = newAssignment(&after)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("complete stop: %w", err)
	}

	switch {
	case expired:
		s.publish(events.LoadReleased{LoadID: loadID, DriverID: driverID, Reason: events.ReasonExpired, Time: now})
		s.record(metrics.ReservationEvent{LoadID: loadID, DriverID: driverID, Action: metrics.ActionReleased, Reason: events.ReasonExpired, Time: now})
		return nil, fmt.Errorf("complete stop: %w: load %s", model.ErrReservationExpired, loadID)
	case started:
		s.publish(events.LoadStarted{LoadID: loadID, DriverID: driverID, Time: now})
		s.record(metrics.ReservationEvent{LoadID: loadID, DriverID: driverID, Action: metrics.ActionStarted, Time: now})
	case completed:
		s.publish(events.LoadCompleted{LoadID: loadID, DriverID: driverID, Time: now})
		s.record(metrics.ReservationEvent{LoadID: loadID, DriverID: driverID, Action: metrics.ActionCompleted, Time: now})
		s.logger.Infof("driver %s completed load %s, requesting next assignment", driverID, loadID)
		res.Next = s.nextAssignment(ctx, model.TriggerDropoffComplete, driverID)
	case retry:
		res.Next = s.nextAssignment(ctx, model.TriggerManual, driverID)
	}
	return &res, nil
}

// nextAssignment runs a pass for the driver and returns whatever they hold
// afterwards. Read failures are logged and reported as no assignment.
func (s *Service) nextAssignment(ctx context.Context, trigger model.Trigger, driverID string) *Assignment {
	s.runAndWait(ctx, trigger, driverID)
	next, err := s.openAssignment(ctx, driverID)
	if err != nil {
		s.logger.Errorf("read next assignment for %s: %v", driverID, err)
	}
	return next
}

// RejectReservedLoadAndEndShift releases a reservation held by the driver and
// ends the driver's shift in one transaction. Repeating the call once the load
// is released and the shift has ended is a no-op.
func (s *Service) RejectReservedLoadAndEndShift(ctx context.Context, driverID, loadID string) (RejectOutcome, error) {
	now := s.now()
	out := RejectOutcome{DriverID: driverID, LoadID: loadID, ShiftEndedAt: now}
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		d, err := tx.GetDriver(ctx, driverID)
		if err != nil {
			return err
		}
		l, err := tx.LockLoad(ctx, loadID)
		if err != nil {
			return err
		}
		sh, err := activeShift(ctx, tx, driverID)
		offShift := errors.Is(err, model.ErrOffShift)
		if err != nil && !offShift {
			return err
		}
		held := l.Status == model.StatusReserved && l.AssignedDriverID == driverID
		if !held && offShift {
			out.Result = RejectNoOpAlreadyReleased
			return nil
		}
		if l.AssignedDriverID != driverID {
			return fmt.Errorf("%w: load %s", model.ErrNotOwner, loadID)
		}
		if l.Status != model.StatusReserved {
			return fmt.Errorf("%w: only reserved loads can be rejected, load %s is %s", model.ErrInvalidTransition, loadID, l.Status)
		}
		if offShift {
			return fmt.Errorf("%w: driver %s", model.ErrOffShift, driverID)
		}
		ok, err := tx.ReleaseReservation(ctx, loadID, driverID, now)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: load %s changed concurrently", model.ErrConflict, loadID)
		}
		if err := tx.EndShift(ctx, sh.ID, now); err != nil {
			return err
		}
		d.OnShift = false
		d.Location = nil
		if err := tx.UpdateDriver(ctx, d); err != nil {
			return err
		}
		out.ShiftID = sh.ID
		out.Result = RejectReleasedAndShiftEnded
		return nil
	})
	if err != nil {
		return RejectOutcome{}, fmt.Errorf("reject load: %w", err)
	}
	if out.Result == RejectReleasedAndShiftEnded {
		s.publish(
			events.LoadReleased{LoadID: loadID, DriverID: driverID, Reason: events.ReasonRejected, Time: now},
			events.ShiftEnded{DriverID: driverID, ShiftID: out.ShiftID, Time: now},
		)
		s.record(metrics.ReservationEvent{LoadID: loadID, DriverID: driverID, Action: metrics.ActionReleased, Reason: events.ReasonRejected, Time: now})
		s.runner.RequestRun(coordinator.Request{Trigger: model.TriggerLoadRejected, EntityID: loadID})
	}
	return out, nil
}

// CreateDriver registers a new off-shift driver.
func (s *Service) CreateDriver(ctx context.Context, name string) (model.Driver, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return model.Driver{}, fmt.Errorf("create driver: %w: empty name", model.ErrInvalidArgument)
	}
	d := model.Driver{ID: uuid.NewString(), Name: name}
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.CreateDriver(ctx, d)
	})
	if err != nil {
		return model.Driver{}, fmt.Errorf("create driver: %w", err)
	}
	return d, nil
}

func (s *Service) GetDriver(ctx context.Context, id string) (model.Driver, error) {
	var d model.Driver
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		d, err = tx.GetDriver(ctx, id)
		return err
	})
	return d, err
}

// StartShift opens a shift at the given position and asks for a pass.
func (s *Service) StartShift(ctx context.Context, driverID string, lat, lng float64) (model.Shift, error) {
	at := model.Point{Lat: lat, Lng: lng}
	if err := at.Validate(); err != nil {
		return model.Shift{}, fmt.Errorf("start shift: %w", err)
	}
	now := s.now()
	sh := model.Shift{ID: uuid.NewString(), DriverID: driverID, StartedAt: now, StartLocation: at}
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		d, err := tx.GetDriver(ctx, driverID)
		if err != nil {
			return err
		}
		if _, err := tx.ActiveShift(ctx, driverID); err == nil || d.OnShift {
			return fmt.Errorf("%w: driver %s", model.ErrShiftActive, driverID)
		} else if !errors.Is(err, model.ErrNotFound) {
			return err
		}
		if err := tx.CreateShift(ctx, sh); err != nil {
			return err
		}
		d.OnShift = true
		d.Location = at.Ptr()
		return tx.UpdateDriver(ctx, d)
	})
	if err != nil {
		return model.Shift{}, fmt.Errorf("start shift: %w", err)
	}
	s.publish(events.ShiftStarted{DriverID: driverID, ShiftID: sh.ID, Time: now})
	s.runner.RequestRun(coordinator.Request{Trigger: model.TriggerDriverShiftStart, EntityID: driverID})
	return sh, nil
}

// EndShift closes the driver's active shift. A reserved load goes back to the
// pool; a load in progress blocks the call.
func (s *Service) EndShift(ctx context.Context, driverID string) (model.Shift, error) {
	now := s.now()
	var (
		sh       model.Shift
		released string
	)
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		d, err := tx.GetDriver(ctx, driverID)
		if err != nil {
			return err
		}
		if sh, err = activeShift(ctx, tx, driverID); err != nil {
			return err
		}
		open, err := tx.OpenLoadForDriver(ctx, driverID)
		if err != nil {
			return err
		}
		if open != nil && open.Status == model.StatusInProgress {
			return fmt.Errorf("%w: load %s", model.ErrLoadInProgress, open.ID)
		}
		if open != nil {
			ok, err := tx.ReleaseReservation(ctx, open.ID, driverID, now)
			if err != nil {
				return err
			}
			if ok {
				released = open.ID
			}
		}
		if err := tx.EndShift(ctx, sh.ID, now); err != nil {
			return err
		}
		d.OnShift = false
		d.Location = nil
		return tx.UpdateDriver(ctx, d)
	})
	if err != nil {
		return model.Shift{}, fmt.Errorf("end shift: %w", err)
	}
	sh.EndedAt = &now
	if released != "" {
		s.publish(events.LoadReleased{LoadID: released, DriverID: driverID, Reason: events.ReasonShiftEnded, Time: now})
		s.record(metrics.ReservationEvent{LoadID: released, DriverID: driverID, Action: metrics.ActionReleased, Reason: events.ReasonShiftEnded, Time: now})
	}
	s.publish(events.ShiftEnded{DriverID: driverID, ShiftID: sh.ID, Time: now})
	s.runner.RequestRun(coordinator.Request{Trigger: model.TriggerDriverShiftEnd, EntityID: driverID})
	return sh, nil
}

// CreateLoad adds a load awaiting a driver and asks for a pass.
func (s *Service) CreateLoad(ctx context.Context, pickup, dropoff model.Point) (model.Load, error) {
	if err := pickup.Validate(); err != nil {
		return model.Load{}, fmt.Errorf("create load: pickup: %w", err)
	}
	if err := dropoff.Validate(); err != nil {
		return model.Load{}, fmt.Errorf("create load: dropoff: %w", err)
	}
	now := s.now()
	l := model.Load{
		ID:          uuid.NewString(),
		Pickup:      pickup,
		Dropoff:     dropoff,
		Status:      model.StatusAwaitingDriver,
		CurrentStop: model.StopPickup,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.CreateLoad(ctx, l)
	})
	if err != nil {
		return model.Load{}, fmt.Errorf("create load: %w", err)
	}
	s.runner.RequestRun(coordinator.Request{Trigger: model.TriggerLoadCreated, EntityID: l.ID})
	return l, nil
}

func (s *Service) GetLoad(ctx context.Context, id string) (model.Load, error) {
	var l model.Load
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		l, err = tx.GetLoad(ctx, id)
		return err
	})
	return l, err
}

func (s *Service) ListLoads(ctx context.Context, f store.LoadFilter) ([]model.Load, error) {
	var out []model.Load
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		out, err = tx.ListLoads(ctx, f)
		return err
	})
	return out, err
}

// DriverState returns the driver with its active shift and open load, if any.
func (s *Service) DriverState(ctx context.Context, driverID string) (DriverState, error) {
	var st DriverState
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		d, err := tx.GetDriver(ctx, driverID)
		if err != nil {
			return err
		}
		st.Driver = d
		sh, err := tx.ActiveShift(ctx, driverID)
		switch {
		case err == nil:
			st.Shift = &sh
		case !errors.Is(err, model.ErrNotFound):
			return err
		}
		open, err := tx.OpenLoadForDriver(ctx, driverID)
		st.Load = newAssignment(open)
		return err
	})
	if err != nil {
		return DriverState{}, fmt.Errorf("driver state: %w", err)
	}
	return st, nil
}
