// Package postgres implements store.Store and the cross-process run lock on
// PostgreSQL through the pgx database/sql driver.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/kilianp07/freight/core/model"
	"github.com/kilianp07/freight/core/store"
)

const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
	codeCheckViolation      = "23514"
)

// Store is a store.Store backed by PostgreSQL.
type Store struct {
	db *sql.DB
}

// Open connects to dsn and, when migrate is set, creates the schema.
func Open(ctx context.Context, dsn string, migrate bool) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	s := &Store{db: db}
	if migrate {
		if err := s.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return s, nil
}

// Migrate creates missing tables and indexes.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("postgres: migrate: %w", err)
	}
	return nil
}

// DB exposes the pool, e.g. for an AdvisoryLock sharing it.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Close() error { return s.db.Close() }

// WithinTx runs fn in a READ COMMITTED transaction. Row locks taken through
// LockLoad and conditional UPDATEs provide the isolation the callers need.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) (err error) {
	sqlTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = sqlTx.Rollback()
			panic(p)
		}
	}()
	if err := fn(ctx, &pgTx{tx: sqlTx}); err != nil {
		_ = sqlTx.Rollback()
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return mapErr(fmt.Errorf("postgres: commit: %w", err))
	}
	return nil
}

// mapErr translates constraint violations into model error kinds.
func mapErr(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case codeUniqueViolation, codeCheckViolation:
		return fmt.Errorf("%w: %s", model.ErrIntegrity, pgErr.Message)
	case codeForeignKeyViolation:
		return fmt.Errorf("%w: %s", model.ErrNotFound, pgErr.Message)
	}
	return err
}

type pgTx struct {
	tx *sql.Tx
}

func (t *pgTx) exec(ctx context.Context, q string, args ...any) (int64, error) {
	res, err := t.tx.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, mapErr(err)
	}
	return res.RowsAffected()
}

func nullFloat(p *model.Point, lat bool) sql.NullFloat64 {
	if p == nil {
		return sql.NullFloat64{}
	}
	if lat {
		return sql.NullFloat64{Float64: p.Lat, Valid: true}
	}
	return sql.NullFloat64{Float64: p.Lng, Valid: true}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

type scanner interface {
	Scan(dest ...any) error
}

const driverColumns = `id, name, on_shift, lat, lng`

func scanDriver(row scanner, extra ...any) (model.Driver, error) {
	var (
		d        model.Driver
		lat, lng sql.NullFloat64
	)
	dest := append([]any{&d.ID, &d.Name, &d.OnShift, &lat, &lng}, extra...)
	if err := row.Scan(dest...); err != nil {
		return model.Driver{}, err
	}
	if lat.Valid && lng.Valid {
		d.Location = &model.Point{Lat: lat.Float64, Lng: lng.Float64}
	}
	return d, nil
}

func (t *pgTx) CreateDriver(ctx context.Context, d model.Driver) error {
	_, err := t.exec(ctx, `INSERT INTO drivers (`+driverColumns+`) VALUES ($1, $2, $3, $4, $5)`,
		d.ID, d.Name, d.OnShift, nullFloat(d.Location, true), nullFloat(d.Location, false))
	return err
}

func (t *pgTx) GetDriver(ctx context.Context, id string) (model.Driver, error) {
	row := t.tx.QueryRowContext(ctx, `SELECT `+driverColumns+` FROM drivers WHERE id = $1`, id)
	d, err := scanDriver(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Driver{}, fmt.Errorf("%w %s", model.ErrDriverNotFound, id)
	}
	return d, err
}

func (t *pgTx) UpdateDriver(ctx context.Context, d model.Driver) error {
	n, err := t.exec(ctx, `UPDATE drivers SET name = $2, on_shift = $3, lat = $4, lng = $5 WHERE id = $1`,
		d.ID, d.Name, d.OnShift, nullFloat(d.Location, true), nullFloat(d.Location, false))
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w %s", model.ErrDriverNotFound, d.ID)
	}
	return nil
}

func (t *pgTx) ListEligibleDrivers(ctx context.Context) ([]store.EligibleDriver, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT d.id, d.name, d.on_shift, d.lat, d.lng, s.id
		FROM drivers d
		JOIN shifts s ON s.driver_id = d.id AND s.ended_at IS NULL
		WHERE d.on_shift AND d.lat IS NOT NULL AND d.lng IS NOT NULL
		  AND NOT EXISTS (
			SELECT 1 FROM loads l WHERE l.driver_id = d.id AND l.status = 'IN_PROGRESS'
		  )
		ORDER BY d.id COLLATE "C"`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []store.EligibleDriver
	for rows.Next() {
		var shiftID string
		d, err := scanDriver(rows, &shiftID)
		if err != nil {
			return nil, err
		}
		out = append(out, store.EligibleDriver{Driver: d, ShiftID: shiftID})
	}
	return out, rows.Err()
}

func (t *pgTx) CreateShift(ctx context.Context, s model.Shift) error {
	_, err := t.exec(ctx, `
		INSERT INTO shifts (id, driver_id, started_at, start_lat, start_lng, ended_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		s.ID, s.DriverID, s.StartedAt, s.StartLocation.Lat, s.StartLocation.Lng, nullTime(s.EndedAt))
	return err
}

func (t *pgTx) ActiveShift(ctx context.Context, driverID string) (model.Shift, error) {
	var (
		s     model.Shift
		ended sql.NullTime
	)
	err := t.tx.QueryRowContext(ctx, `
		SELECT id, driver_id, started_at, start_lat, start_lng, ended_at
		FROM shifts WHERE driver_id = $1 AND ended_at IS NULL`, driverID).
		Scan(&s.ID, &s.DriverID, &s.StartedAt, &s.StartLocation.Lat, &s.StartLocation.Lng, &ended)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Shift{}, fmt.Errorf("%w: active shift for driver %s", model.ErrNotFound, driverID)
	}
	if err != nil {
		return model.Shift{}, err
	}
	s.StartedAt = s.StartedAt.UTC()
	s.EndedAt = timePtr(ended)
	return s, nil
}

func (t *pgTx) EndShift(ctx context.Context, shiftID string, at time.Time) error {
	n, err := t.exec(ctx, `UPDATE shifts SET ended_at = $2 WHERE id = $1 AND ended_at IS NULL`, shiftID, at)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: active shift %s", model.ErrNotFound, shiftID)
	}
	return nil
}

const loadColumns = `id, pickup_lat, pickup_lng, dropoff_lat, dropoff_lng, status, current_stop,
	driver_id, shift_id, reservation_expires_at, created_at, updated_at`

func scanLoad(row scanner) (model.Load, error) {
	var (
		l               model.Load
		driver, shift   sql.NullString
		expires         sql.NullTime
		status, current string
	)
	err := row.Scan(&l.ID, &l.Pickup.Lat, &l.Pickup.Lng, &l.Dropoff.Lat, &l.Dropoff.Lng,
		&status, &current, &driver, &shift, &expires, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return model.Load{}, err
	}
	if l.Status, err = model.ParseLoadStatus(status); err != nil {
		return model.Load{}, err
	}
	l.CurrentStop = model.Stop(current)
	l.AssignedDriverID = driver.String
	l.AssignedShiftID = shift.String
	l.ReservationExpiresAt = timePtr(expires)
	l.CreatedAt = l.CreatedAt.UTC()
	l.UpdatedAt = l.UpdatedAt.UTC()
	return l, nil
}

func (t *pgTx) CreateLoad(ctx context.Context, l model.Load) error {
	if err := l.Validate(); err != nil {
		return err
	}
	_, err := t.exec(ctx, `INSERT INTO loads (`+loadColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		l.ID, l.Pickup.Lat, l.Pickup.Lng, l.Dropoff.Lat, l.Dropoff.Lng, string(l.Status), string(l.CurrentStop),
		nullString(l.AssignedDriverID), nullString(l.AssignedShiftID), nullTime(l.ReservationExpiresAt),
		l.CreatedAt, l.UpdatedAt)
	return err
}

func (t *pgTx) getLoad(ctx context.Context, id string, lock bool) (model.Load, error) {
	q := `SELECT ` + loadColumns + ` FROM loads WHERE id = $1`
	if lock {
		q += ` FOR UPDATE`
	}
	l, err := scanLoad(t.tx.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Load{}, fmt.Errorf("%w %s", model.ErrLoadNotFound, id)
	}
	return l, err
}

func (t *pgTx) GetLoad(ctx context.Context, id string) (model.Load, error) {
	return t.getLoad(ctx, id, false)
}

func (t *pgTx) LockLoad(ctx context.Context, id string) (model.Load, error) {
	return t.getLoad(ctx, id, true)
}

func (t *pgTx) queryLoads(ctx context.Context, where string, args ...any) ([]model.Load, error) {
	q := `SELECT ` + loadColumns + ` FROM loads`
	if where != "" {
		q += ` WHERE ` + where
	}
	q += ` ORDER BY created_at, id COLLATE "C"`
	rows, err := t.tx.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Load
	for rows.Next() {
		l, err := scanLoad(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (t *pgTx) ListLoads(ctx context.Context, f store.LoadFilter) ([]model.Load, error) {
	var (
		conds []string
		args  []any
	)
	if f.DriverID != "" {
		args = append(args, f.DriverID)
		conds = append(conds, fmt.Sprintf("driver_id = $%d", len(args)))
	}
	if len(f.Statuses) > 0 {
		ph := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			args = append(args, string(s))
			ph[i] = fmt.Sprintf("$%d", len(args))
		}
		conds = append(conds, "status IN ("+strings.Join(ph, ", ")+")")
	}
	return t.queryLoads(ctx, strings.Join(conds, " AND "), args...)
}

func (t *pgTx) OpenLoadForDriver(ctx context.Context, driverID string) (*model.Load, error) {
	ls, err := t.queryLoads(ctx, `driver_id = $1 AND status IN ('RESERVED', 'IN_PROGRESS')`, driverID)
	if err != nil || len(ls) == 0 {
		return nil, err
	}
	return &ls[0], nil
}

const releaseSet = `status = 'AWAITING_DRIVER', current_stop = 'PICKUP', driver_id = NULL,
	shift_id = NULL, reservation_expires_at = NULL`

func (t *pgTx) ReleaseExpiredReservations(ctx context.Context, now time.Time) ([]string, error) {
	rows, err := t.tx.QueryContext(ctx, `
		UPDATE loads SET `+releaseSet+`, updated_at = $1
		WHERE status = 'RESERVED' AND reservation_expires_at <= $1
		RETURNING id`, now)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.Strings(ids)
	return ids, nil
}

// ReserveLoad checks the one-open-load rule with a query first so that the
// common violation does not abort the transaction. The unique index still
// guards against a concurrent writer.
func (t *pgTx) ReserveLoad(ctx context.Context, r store.Reservation) (bool, error) {
	var other string
	err := t.tx.QueryRowContext(ctx, `
		SELECT id FROM loads
		WHERE driver_id = $1 AND status IN ('RESERVED', 'IN_PROGRESS') AND id <> $2
		LIMIT 1`, r.DriverID, r.LoadID).Scan(&other)
	switch {
	case err == nil:
		return false, fmt.Errorf("%w: driver %s already holds load %s", model.ErrIntegrity, r.DriverID, other)
	case !errors.Is(err, sql.ErrNoRows):
		return false, err
	}
	n, err := t.exec(ctx, `
		UPDATE loads SET status = 'RESERVED', current_stop = 'PICKUP', driver_id = $2, shift_id = $3,
			reservation_expires_at = $4, updated_at = $5
		WHERE id = $1 AND status = 'AWAITING_DRIVER'`,
		r.LoadID, r.DriverID, r.ShiftID, r.ExpiresAt, r.At)
	return n == 1, err
}

func (t *pgTx) ReleaseReservation(ctx context.Context, loadID, driverID string, at time.Time) (bool, error) {
	n, err := t.exec(ctx, `UPDATE loads SET `+releaseSet+`, updated_at = $3
		WHERE id = $1 AND driver_id = $2 AND status = 'RESERVED'`, loadID, driverID, at)
	return n == 1, err
}

func (t *pgTx) TransitionLoad(ctx context.Context, tr store.Transition) (bool, error) {
	open := tr.To == model.StatusReserved || tr.To == model.StatusInProgress
	n, err := t.exec(ctx, `
		UPDATE loads SET status = $5, current_stop = $6, reservation_expires_at = NULL, updated_at = $7,
			driver_id = CASE WHEN $8 THEN driver_id END,
			shift_id = CASE WHEN $8 THEN shift_id END
		WHERE id = $1 AND driver_id = $2 AND status = $3 AND current_stop = $4`,
		tr.LoadID, tr.DriverID, string(tr.From), string(tr.FromStop),
		string(tr.To), string(tr.ToStop), tr.At, open)
	return n == 1, err
}
