// Package postgres writes area time series to a PostgreSQL database, for
// deployments that share results with other reporting systems.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/banshee-data/waterextent/internal/water/pipeline"
)

// ErrDuplicate is returned when a record for the same run, region and
// period already exists.
var ErrDuplicate = errors.New("duplicate area record")

const schema = `
CREATE TABLE IF NOT EXISTS water_area_records (
	run_id             TEXT NOT NULL,
	region_id          TEXT NOT NULL,
	granularity        TEXT NOT NULL,
	period_start       TIMESTAMPTZ NOT NULL,
	period_end         TIMESTAMPTZ NOT NULL,
	water_area_m2      DOUBLE PRECISION CHECK (water_area_m2 IS NULL OR water_area_m2 >= 0),
	image_count        INTEGER NOT NULL,
	source_image_dates JSONB NOT NULL DEFAULT '[]',
	coverage           DOUBLE PRECISION NOT NULL DEFAULT 0,
	status             TEXT NOT NULL,
	error              TEXT,
	recorded_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (run_id, region_id, period_start)
)`

// Sink stores time series in water_area_records.
type Sink struct {
	db *sqlx.DB
}

// NewSink wraps an open connection.
func NewSink(db *sqlx.DB) *Sink {
	return &Sink{db: db}
}

// Connect opens connStr with the lib/pq driver and verifies it.
func Connect(ctx context.Context, connStr string) (*Sink, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return NewSink(db), nil
}

// Close closes the connection.
func (s *Sink) Close() error { return s.db.Close() }

// EnsureSchema creates the records table when missing.
func (s *Sink) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

type recordRow struct {
	RunID            string          `db:"run_id"`
	RegionID         string          `db:"region_id"`
	Granularity      string          `db:"granularity"`
	PeriodStart      time.Time       `db:"period_start"`
	PeriodEnd        time.Time       `db:"period_end"`
	WaterAreaM2      sql.NullFloat64 `db:"water_area_m2"`
	ImageCount       int             `db:"image_count"`
	SourceImageDates []byte          `db:"source_image_dates"`
	Coverage         float64         `db:"coverage"`
	Status           string          `db:"status"`
	Error            sql.NullString  `db:"error"`
}

// WriteTimeSeries inserts every record of ts in one transaction. Writes
// are not retried.
func (s *Sink) WriteTimeSeries(ctx context.Context, ts *pipeline.TimeSeries) error {
	if ts.RunID == "" {
		return fmt.Errorf("time series has no run id")
	}
	rows := make([]recordRow, 0, len(ts.Records))
	for _, r := range ts.Records {
		dates := r.SourceImageDates
		if dates == nil {
			dates = []time.Time{}
		}
		b, err := json.Marshal(dates)
		if err != nil {
			return fmt.Errorf("failed to marshal source dates: %w", err)
		}
		row := recordRow{
			RunID:            ts.RunID,
			RegionID:         r.RegionID,
			Granularity:      ts.Granularity,
			PeriodStart:      r.PeriodStart,
			PeriodEnd:        r.PeriodEnd,
			ImageCount:       r.ImageCount,
			SourceImageDates: b,
			Coverage:         r.Coverage,
			Status:           string(r.Status),
			Error:            sql.NullString{String: r.Error, Valid: r.Error != ""},
		}
		if v, ok := r.Area(); ok {
			row.WaterAreaM2 = sql.NullFloat64{Float64: v, Valid: true}
		}
		rows = append(rows, row)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	const query = `
		INSERT INTO water_area_records (
			run_id, region_id, granularity, period_start, period_end,
			water_area_m2, image_count, source_image_dates, coverage, status, error
		) VALUES (
			:run_id, :region_id, :granularity, :period_start, :period_end,
			:water_area_m2, :image_count, :source_image_dates, :coverage, :status, :error
		)`
	for _, row := range rows {
		if _, err := tx.NamedExecContext(ctx, query, row); err != nil {
			var pqErr *pq.Error
			if errors.As(err, &pqErr) && pqErr.Code == "23505" {
				return fmt.Errorf("%w: %s %s", ErrDuplicate, row.RegionID, row.PeriodStart.Format(time.DateOnly))
			}
			return fmt.Errorf("insert record: %w", err)
		}
	}
	return tx.Commit()
}

// TimeSeries reads back the records of one run and region in period order.
func (s *Sink) TimeSeries(ctx context.Context, runID, regionID string) (*pipeline.TimeSeries, error) {
	var rows []recordRow
	const query = `
		SELECT run_id, region_id, granularity, period_start, period_end, water_area_m2,
		       image_count, source_image_dates, coverage, status, error
		FROM water_area_records
		WHERE run_id = $1 AND region_id = $2
		ORDER BY period_start`
	if err := s.db.SelectContext(ctx, &rows, query, runID, regionID); err != nil {
		return nil, fmt.Errorf("failed to query area records: %w", err)
	}

	ts := &pipeline.TimeSeries{RunID: runID, RegionID: regionID, Records: []pipeline.AreaRecord{}}
	for i, row := range rows {
		rec := pipeline.AreaRecord{
			RegionID:    row.RegionID,
			PeriodStart: row.PeriodStart.UTC(),
			PeriodEnd:   row.PeriodEnd.UTC(),
			ImageCount:  row.ImageCount,
			Coverage:    row.Coverage,
			Status:      pipeline.Status(row.Status),
			Error:       row.Error.String,
		}
		if row.WaterAreaM2.Valid {
			v := row.WaterAreaM2.Float64
			rec.WaterAreaM2 = &v
		}
		if err := json.Unmarshal(row.SourceImageDates, &rec.SourceImageDates); err != nil {
			return nil, fmt.Errorf("decode source dates: %w", err)
		}
		if i == 0 {
			ts.Granularity = row.Granularity
			ts.Start = rec.PeriodStart
		}
		ts.End = rec.PeriodEnd
		ts.Records = append(ts.Records, rec)
	}
	return ts, nil
}
