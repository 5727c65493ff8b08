package postgres

// schema is applied by Migrate. Partial unique indexes back the "one active
// shift" and "one open load per driver" rules so that concurrent writers lose
// with a unique violation rather than corrupting state.
const schema = `
CREATE TABLE IF NOT EXISTS drivers (
	id       TEXT PRIMARY KEY,
	name     TEXT NOT NULL,
	on_shift BOOLEAN NOT NULL DEFAULT FALSE,
	lat      DOUBLE PRECISION,
	lng      DOUBLE PRECISION
);

CREATE TABLE IF NOT EXISTS shifts (
	id         TEXT PRIMARY KEY,
	driver_id  TEXT NOT NULL REFERENCES drivers(id),
	started_at TIMESTAMPTZ NOT NULL,
	start_lat  DOUBLE PRECISION NOT NULL,
	start_lng  DOUBLE PRECISION NOT NULL,
	ended_at   TIMESTAMPTZ
);

CREATE UNIQUE INDEX IF NOT EXISTS shifts_one_active_per_driver
	ON shifts(driver_id) WHERE ended_at IS NULL;

CREATE TABLE IF NOT EXISTS loads (
	id                     TEXT PRIMARY KEY,
	pickup_lat             DOUBLE PRECISION NOT NULL,
	pickup_lng             DOUBLE PRECISION NOT NULL,
	dropoff_lat            DOUBLE PRECISION NOT NULL,
	dropoff_lng            DOUBLE PRECISION NOT NULL,
	status                 TEXT NOT NULL,
	current_stop           TEXT NOT NULL,
	driver_id              TEXT REFERENCES drivers(id),
	shift_id               TEXT REFERENCES shifts(id),
	reservation_expires_at TIMESTAMPTZ,
	created_at             TIMESTAMPTZ NOT NULL,
	updated_at             TIMESTAMPTZ NOT NULL,
	CONSTRAINT loads_driver_iff_open
		CHECK ((status IN ('RESERVED', 'IN_PROGRESS')) = (driver_id IS NOT NULL)),
	CONSTRAINT loads_expiry_iff_reserved
		CHECK ((status = 'RESERVED') = (reservation_expires_at IS NOT NULL))
);

CREATE UNIQUE INDEX IF NOT EXISTS loads_one_open_per_driver
	ON loads(driver_id) WHERE status IN ('RESERVED', 'IN_PROGRESS');

CREATE INDEX IF NOT EXISTS loads_status_created
	ON loads(status, created_at);
`
