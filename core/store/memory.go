package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kilianp07/freight/core/model"
)

// MemoryStore keeps every entity in maps guarded by one lock. Transactions
// are serialized and work on a copy that replaces the state on commit.
type MemoryStore struct {
	mu    sync.Mutex
	state *memState
}

type memState struct {
	drivers map[string]model.Driver
	shifts  map[string]model.Shift
	loads   map[string]model.Load
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: &memState{
		drivers: map[string]model.Driver{},
		shifts:  map[string]model.Shift{},
		loads:   map[string]model.Load{},
	}}
}

func (s *MemoryStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	work := s.state.clone()
	if err := fn(ctx, &memTx{st: work}); err != nil {
		return err
	}
	for _, l := range work.loads {
		if err := l.Validate(); err != nil {
			return err
		}
	}
	s.state = work
	return nil
}

func (s *MemoryStore) Close() error { return nil }

func (m *memState) clone() *memState {
	c := &memState{
		drivers: make(map[string]model.Driver, len(m.drivers)),
		shifts:  make(map[string]model.Shift, len(m.shifts)),
		loads:   make(map[string]model.Load, len(m.loads)),
	}
	for k, v := range m.drivers {
		c.drivers[k] = v.Clone()
	}
	for k, v := range m.shifts {
		c.shifts[k] = v.Clone()
	}
	for k, v := range m.loads {
		c.loads[k] = v.Clone()
	}
	return c
}

type memTx struct {
	st *memState
}

func (t *memTx) CreateDriver(_ context.Context, d model.Driver) error {
	if _, ok := t.st.drivers[d.ID]; ok {
		return fmt.Errorf("%w: driver %s exists", model.ErrIntegrity, d.ID)
	}
	t.st.drivers[d.ID] = d.Clone()
	return nil
}

func (t *memTx) GetDriver(_ context.Context, id string) (model.Driver, error) {
	d, ok := t.st.drivers[id]
	if !ok {
		return model.Driver{}, fmt.Errorf("%w %s", model.ErrDriverNotFound, id)
	}
	return d.Clone(), nil
}

func (t *memTx) UpdateDriver(_ context.Context, d model.Driver) error {
	if _, ok := t.st.drivers[d.ID]; !ok {
		return fmt.Errorf("%w %s", model.ErrDriverNotFound, d.ID)
	}
	t.st.drivers[d.ID] = d.Clone()
	return nil
}

func (t *memTx) ListEligibleDrivers(ctx context.Context) ([]EligibleDriver, error) {
	busy := map[string]bool{}
	for _, l := range t.st.loads {
		if l.Status == model.StatusInProgress {
			busy[l.AssignedDriverID] = true
		}
	}
	var out []EligibleDriver
	for _, d := range t.st.drivers {
		if !d.OnShift || d.Location == nil || busy[d.ID] {
			continue
		}
		sh, err := t.ActiveShift(ctx, d.ID)
		if err != nil {
			continue
		}
		out = append(out, EligibleDriver{Driver: d.Clone(), ShiftID: sh.ID})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *memTx) CreateShift(_ context.Context, s model.Shift) error {
	if _, ok := t.st.drivers[s.DriverID]; !ok {
		return fmt.Errorf("%w %s", model.ErrDriverNotFound, s.DriverID)
	}
	for _, other := range t.st.shifts {
		if other.DriverID == s.DriverID && other.Active() {
			return fmt.Errorf("%w: driver %s already has active shift %s", model.ErrIntegrity, s.DriverID, other.ID)
		}
	}
	t.st.shifts[s.ID] = s.Clone()
	return nil
}

func (t *memTx) ActiveShift(_ context.Context, driverID string) (model.Shift, error) {
	for _, s := range t.st.shifts {
		if s.DriverID == driverID && s.Active() {
			return s.Clone(), nil
		}
	}
	return model.Shift{}, fmt.Errorf("%w: active shift for driver %s", model.ErrNotFound, driverID)
}

func (t *memTx) EndShift(_ context.Context, shiftID string, at time.Time) error {
	s, ok := t.st.shifts[shiftID]
	if !ok || !s.Active() {
		return fmt.Errorf("%w: active shift %s", model.ErrNotFound, shiftID)
	}
	s.EndedAt = &at
	t.st.shifts[shiftID] = s
	return nil
}

func (t *memTx) CreateLoad(_ context.Context, l model.Load) error {
	if _, ok := t.st.loads[l.ID]; ok {
		return fmt.Errorf("%w: load %s exists", model.ErrIntegrity, l.ID)
	}
	t.st.loads[l.ID] = l.Clone()
	return nil
}

func (t *memTx) GetLoad(_ context.Context, id string) (model.Load, error) {
	l, ok := t.st.loads[id]
	if !ok {
		return model.Load{}, fmt.Errorf("%w %s", model.ErrLoadNotFound, id)
	}
	return l.Clone(), nil
}

// LockLoad is GetLoad: transactions are already serialized.
func (t *memTx) LockLoad(ctx context.Context, id string) (model.Load, error) {
	return t.GetLoad(ctx, id)
}

func (t *memTx) ListLoads(_ context.Context, f LoadFilter) ([]model.Load, error) {
	var out []model.Load
	for _, l := range t.st.loads {
		if f.Match(l) {
			out = append(out, l.Clone())
		}
	}
	sortLoads(out)
	return out, nil
}

func (t *memTx) OpenLoadForDriver(_ context.Context, driverID string) (*model.Load, error) {
	for _, l := range t.st.loads {
		if l.Open() && l.AssignedDriverID == driverID {
			c := l.Clone()
			return &c, nil
		}
	}
	return nil, nil
}

func (t *memTx) ReleaseExpiredReservations(_ context.Context, now time.Time) ([]string, error) {
	var ids []string
	for id, l := range t.st.loads {
		if !l.ReservationExpired(now) {
			continue
		}
		t.st.loads[id] = released(l, now)
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (t *memTx) ReserveLoad(_ context.Context, r Reservation) (bool, error) {
	l, ok := t.st.loads[r.LoadID]
	if !ok || l.Status != model.StatusAwaitingDriver {
		return false, nil
	}
	for _, other := range t.st.loads {
		if other.ID != l.ID && other.Open() && other.AssignedDriverID == r.DriverID {
			return false, fmt.Errorf("%w: driver %s already holds load %s", model.ErrIntegrity, r.DriverID, other.ID)
		}
	}
	exp := r.ExpiresAt
	l.Status = model.StatusReserved
	l.CurrentStop = model.StopPickup
	l.AssignedDriverID = r.DriverID
	l.AssignedShiftID = r.ShiftID
	l.ReservationExpiresAt = &exp
	l.UpdatedAt = r.At
	t.st.loads[l.ID] = l
	return true, nil
}

func (t *memTx) ReleaseReservation(_ context.Context, loadID, driverID string, at time.Time) (bool, error) {
	l, ok := t.st.loads[loadID]
	if !ok || l.Status != model.StatusReserved || l.AssignedDriverID != driverID {
		return false, nil
	}
	t.st.loads[loadID] = released(l, at)
	return true, nil
}

func (t *memTx) TransitionLoad(_ context.Context, tr Transition) (bool, error) {
	l, ok := t.st.loads[tr.LoadID]
	if !ok || l.Status != tr.From || l.CurrentStop != tr.FromStop || l.AssignedDriverID != tr.DriverID {
		return false, nil
	}
	l.Status = tr.To
	l.CurrentStop = tr.ToStop
	l.ReservationExpiresAt = nil
	if !l.Open() {
		l.AssignedDriverID = ""
		l.AssignedShiftID = ""
	}
	l.UpdatedAt = tr.At
	t.st.loads[l.ID] = l
	return true, nil
}

func released(l model.Load, at time.Time) model.Load {
	l.Status = model.StatusAwaitingDriver
	l.CurrentStop = model.StopPickup
	l.AssignedDriverID = ""
	l.AssignedShiftID = ""
	l.ReservationExpiresAt = nil
	l.UpdatedAt = at
	return l
}

func sortLoads(ls []model.Load) {
	sort.Slice(ls, func(i, j int) bool {
		if !ls[i].CreatedAt.Equal(ls[j].CreatedAt) {
			return ls[i].CreatedAt.Before(ls[j].CreatedAt)
		}
		return ls[i].ID < ls[j].ID
	})
}
