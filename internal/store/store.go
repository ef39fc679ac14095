// Package store persists engagement sessions, per-frame track observations
// and aim events to sqlite for post-run analysis and reporting.
package store

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/beamtrack/internal/aim"
	"github.com/banshee-data/beamtrack/internal/track"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps the sqlite database plus the current recording session.
type Store struct {
	db        *sql.DB
	sessionID string
}

// Open opens (or creates) the database at path, runs pending migrations and
// starts a new recording session.
func Open(path string, notes string) (*Store, error) {
	s, err := OpenReadOnly(path)
	if err != nil {
		return nil, err
	}
	if err := s.newSession(notes); err != nil {
		s.db.Close()
		return nil, err
	}
	return s, nil
}

// OpenReadOnly opens the database for querying without starting a session.
// Used by the report tool.
func OpenReadOnly(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func runMigrations(db *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("migration setup: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

func (s *Store) newSession(notes string) error {
	s.sessionID = uuid.NewString()
	_, err := s.db.Exec(
		`INSERT INTO sessions (session_id, started_unix_nanos, notes) VALUES (?, ?, ?)`,
		s.sessionID, time.Now().UnixNano(), notes,
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// SessionID returns the current recording session's ID.
func (s *Store) SessionID() string {
	return s.sessionID
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// RecordTrackObservation persists one per-frame snapshot of a track.
func (s *Store) RecordTrackObservation(tr *track.TrackedTarget, ts time.Time) error {
	_, err := s.db.Exec(`
		INSERT INTO track_observations (
			session_id, track_id, ts_unix_nanos, track_state,
			x_mm, y_mm, z_mm,
			vx_mm_per_sec, vy_mm_per_sec, vz_mm_per_sec,
			speed_mps, sigma_z_mm, hits, misses
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.sessionID, tr.TrackID, ts.UnixNano(), string(tr.State),
		tr.XMm, tr.YMm, tr.ZMm,
		tr.VXMmPerSec, tr.VYMmPerSec, tr.VZMmPerSec,
		tr.SpeedMps(), tr.SigmaZMmLast, tr.Hits, tr.Misses,
	)
	if err != nil {
		return fmt.Errorf("insert track observation: %w", err)
	}
	return nil
}

// RecordAimEvent persists one control-period aim decision.
func (s *Store) RecordAimEvent(trackID string, cmd aim.AimCommand, writeTimeout bool, ts time.Time) error {
	_, err := s.db.Exec(`
		INSERT INTO aim_events (
			session_id, track_id, ts_unix_nanos,
			angle_x_rad, angle_y_rad, valid, clamped, write_timeout
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		s.sessionID, trackID, ts.UnixNano(),
		cmd.AngleXRad, cmd.AngleYRad, boolInt(cmd.Valid), boolInt(cmd.Clamped), boolInt(writeTimeout),
	)
	if err != nil {
		return fmt.Errorf("insert aim event: %w", err)
	}
	return nil
}

// Session is one recorded run.
type Session struct {
	SessionID string
	StartedAt time.Time
	Notes     string
}

// TrackObservation is one persisted track snapshot.
type TrackObservation struct {
	TrackID    string
	Timestamp  time.Time
	TrackState string
	XMm        float64
	YMm        float64
	ZMm        float64
	SpeedMps   float64
	SigmaZMm   float64
}

// AimEvent is one persisted aim decision.
type AimEvent struct {
	TrackID      string
	Timestamp    time.Time
	AngleXRad    float64
	AngleYRad    float64
	Valid        bool
	Clamped      bool
	WriteTimeout bool
}

// ListSessions returns all sessions, most recent first.
func (s *Store) ListSessions() ([]Session, error) {
	rows, err := s.db.Query(
		`SELECT session_id, started_unix_nanos, notes FROM sessions ORDER BY started_unix_nanos DESC`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var sess Session
		var nanos int64
		if err := rows.Scan(&sess.SessionID, &nanos, &sess.Notes); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sess.StartedAt = time.Unix(0, nanos)
		out = append(out, sess)
	}
	return out, rows.Err()
}

// TrackObservations returns the observations for a session in time order.
func (s *Store) TrackObservations(sessionID string) ([]TrackObservation, error) {
	rows, err := s.db.Query(`
		SELECT track_id, ts_unix_nanos, track_state, x_mm, y_mm, z_mm, speed_mps, sigma_z_mm
		FROM track_observations WHERE session_id = ? ORDER BY ts_unix_nanos`,
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("query track observations: %w", err)
	}
	defer rows.Close()

	var out []TrackObservation
	for rows.Next() {
		var o TrackObservation
		var nanos int64
		if err := rows.Scan(&o.TrackID, &nanos, &o.TrackState, &o.XMm, &o.YMm, &o.ZMm, &o.SpeedMps, &o.SigmaZMm); err != nil {
			return nil, fmt.Errorf("scan track observation: %w", err)
		}
		o.Timestamp = time.Unix(0, nanos)
		out = append(out, o)
	}
	return out, rows.Err()
}

// AimEvents returns the aim events for a session in time order.
func (s *Store) AimEvents(sessionID string) ([]AimEvent, error) {
	rows, err := s.db.Query(`
		SELECT track_id, ts_unix_nanos, angle_x_rad, angle_y_rad, valid, clamped, write_timeout
		FROM aim_events WHERE session_id = ? ORDER BY ts_unix_nanos`,
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("query aim events: %w", err)
	}
	defer rows.Close()

	var out []AimEvent
	for rows.Next() {
		var e AimEvent
		var nanos int64
		var valid, clamped, timeout int
		if err := rows.Scan(&e.TrackID, &nanos, &e.AngleXRad, &e.AngleYRad, &valid, &clamped, &timeout); err != nil {
			return nil, fmt.Errorf("scan aim event: %w", err)
		}
		e.Timestamp = time.Unix(0, nanos)
		e.Valid = valid != 0
		e.Clamped = clamped != 0
		e.WriteTimeout = timeout != 0
		out = append(out, e)
	}
	return out, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
