// Package store persists simulation runs to SQLite: one row per run,
// one per step, one per beacon measurement. The schema is managed with
// embedded migrations.
package store

import (
	"database/sql"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"blesim/geom"
	"blesim/sim"
)

type Store struct {
	*sql.DB
}

// Open opens (creating if needed) the database at path and brings the
// schema up to date.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// Single writer; avoids SQLITE_BUSY from concurrent sinks.
	db.SetMaxOpenConns(1)

	s := &Store{db}
	if err := s.MigrateUp(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// CreateRun inserts a run row and returns its generated ID.
func (s *Store) CreateRun(scenario string, startedAt time.Time, metersPerUnit float64, seed *int64, configJSON string) (string, error) {
	id := uuid.NewString()
	dbSeed := sql.NullInt64{}
	if seed != nil {
		dbSeed = sql.NullInt64{Int64: *seed, Valid: true}
	}
	_, err := s.Exec(
		`INSERT INTO runs (id, scenario, started_at_ms, meters_per_unit, seed, config)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		id, scenario, startedAt.UnixMilli(), metersPerUnit, dbSeed, configJSON,
	)
	if err != nil {
		return "", err
	}
	return id, nil
}

// RecordStep writes one step and its measurements in a transaction.
func (s *Store) RecordStep(runID string, st sim.Step) error {
	tx, err := s.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	estX, estY, errM := sql.NullFloat64{}, sql.NullFloat64{}, sql.NullFloat64{}
	if st.HasFix {
		estX = sql.NullFloat64{Float64: st.Fix.X, Valid: true}
		estY = sql.NullFloat64{Float64: st.Fix.Y, Valid: true}
		errM = sql.NullFloat64{Float64: st.ErrM, Valid: true}
	}
	_, err = tx.Exec(
		`INSERT INTO steps (run_id, tick, ts_ms, truth_x, truth_y, est_x, est_y, err_m)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, st.Tick, st.TimestampMs, st.Truth.X, st.Truth.Y, estX, estY, errM,
	)
	if err != nil {
		return err
	}

	for _, m := range st.Measurements {
		_, err = tx.Exec(
			`INSERT INTO measurements (run_id, tick, beacon_id, true_dist_m, rssi_dbm, est_dist_m)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			runID, st.Tick, m.BeaconID, m.TrueDist, m.Rssi, m.EstDist,
		)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// StepSink adapts the store into a runner sink for a given run.
func (s *Store) StepSink(runID string) sim.SinkFunc {
	return func(st sim.Step) error {
		return s.RecordStep(runID, st)
	}
}

// RunRec is one row of the runs table.
type RunRec struct {
	ID            string
	Scenario      string
	StartedAtMs   int64
	MetersPerUnit float64
	Seed          sql.NullInt64
	Config        string
}

// Runs lists recorded runs, newest first.
func (s *Store) Runs() ([]RunRec, error) {
	rows, err := s.Query(
		`SELECT id, scenario, started_at_ms, meters_per_unit, seed, config
		 FROM runs ORDER BY started_at_ms DESC LIMIT 100`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []RunRec
	for rows.Next() {
		var r RunRec
		if err := rows.Scan(&r.ID, &r.Scenario, &r.StartedAtMs, &r.MetersPerUnit, &r.Seed, &r.Config); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return runs, nil
}

// StepRec is one step row with the nullable estimate folded back into
// HasFix.
type StepRec struct {
	Tick   int
	TsMs   int64
	Truth  geom.Point
	Est    geom.Point
	HasFix bool
	ErrM   float64
}

// Steps returns the steps of a run in tick order.
func (s *Store) Steps(runID string) ([]StepRec, error) {
	rows, err := s.Query(
		`SELECT tick, ts_ms, truth_x, truth_y, est_x, est_y, err_m
		 FROM steps WHERE run_id = ? ORDER BY tick`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var steps []StepRec
	for rows.Next() {
		var st StepRec
		var estX, estY, errM sql.NullFloat64
		if err := rows.Scan(&st.Tick, &st.TsMs, &st.Truth.X, &st.Truth.Y, &estX, &estY, &errM); err != nil {
			return nil, err
		}
		if estX.Valid && estY.Valid {
			st.Est = geom.Point{X: estX.Float64, Y: estY.Float64}
			st.HasFix = true
			st.ErrM = errM.Float64
		}
		steps = append(steps, st)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return steps, nil
}

// MeasurementRec is one beacon observation row.
type MeasurementRec struct {
	Tick     int
	BeaconID int
	TrueDist float64
	Rssi     float64
	EstDist  float64
}

// Measurements returns every beacon observation of a run in tick order.
func (s *Store) Measurements(runID string) ([]MeasurementRec, error) {
	rows, err := s.Query(
		`SELECT tick, beacon_id, true_dist_m, rssi_dbm, est_dist_m
		 FROM measurements WHERE run_id = ? ORDER BY tick, beacon_id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ms []MeasurementRec
	for rows.Next() {
		var m MeasurementRec
		if err := rows.Scan(&m.Tick, &m.BeaconID, &m.TrueDist, &m.Rssi, &m.EstDist); err != nil {
			return nil, err
		}
		ms = append(ms, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ms, nil
}

// Summary aggregates the positioning error of a run.
type Summary struct {
	Steps   int
	Fixes   int
	MeanErr float64
	RmseErr float64
	MaxErr  float64
}

// RunSummary computes error statistics for a run. The RMSE square root
// happens here, keeping the SQL portable.
func (s *Store) RunSummary(runID string) (Summary, error) {
	var sum Summary
	var mean, meanSq, max sql.NullFloat64
	err := s.QueryRow(
		`SELECT COUNT(*), COUNT(err_m), AVG(err_m), AVG(err_m * err_m), MAX(err_m)
		 FROM steps WHERE run_id = ?`, runID).
		Scan(&sum.Steps, &sum.Fixes, &mean, &meanSq, &max)
	if err != nil {
		return Summary{}, err
	}
	sum.MeanErr = mean.Float64
	sum.MaxErr = max.Float64
	if meanSq.Valid {
		sum.RmseErr = math.Sqrt(meanSq.Float64)
	}
	return sum, nil
}
