package sqlite

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/waterextent/internal/config"
	"github.com/banshee-data/waterextent/internal/timeutil"
	"github.com/banshee-data/waterextent/internal/water/pipeline"
)

// Run states.
const (
	RunRunning   = "running"
	RunCompleted = "completed"
	RunFailed    = "failed"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Run is one persisted pipeline invocation for one region.
type Run struct {
	RunID       string          `json:"run_id"`
	RegionID    string          `json:"region_id"`
	StartDate   time.Time       `json:"start_date"`
	EndDate     time.Time       `json:"end_date"`
	Granularity string          `json:"granularity"`
	ConfigJSON  json.RawMessage `json:"config,omitempty"`
	Status      string          `json:"status"`
	Error       string          `json:"error,omitempty"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

// RunStore persists runs and their area records.
type RunStore struct {
	db *sql.DB
	// Clock stamps started_at and completed_at.
	Clock timeutil.Clock
}

// NewRunStore creates a new RunStore on the system clock.
func NewRunStore(db *sql.DB) *RunStore {
	return &RunStore{db: db, Clock: timeutil.RealClock{}}
}

// Create inserts run in the running state. An empty RunID is replaced
// with a new UUID, and a zero StartedAt with the current time.
func (s *RunStore) Create(run *Run) error {
	if run.RunID == "" {
		run.RunID = uuid.New().String()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = s.Clock.Now().UTC()
	}
	run.Status = RunRunning

	var cfg interface{}
	if len(run.ConfigJSON) > 0 {
		cfg = string(run.ConfigJSON)
	}
	return retryOnBusy(func() error {
		_, err := s.db.Exec(`
			INSERT INTO pipeline_runs (
				run_id, region_id, start_date, end_date, granularity,
				config_json, status, started_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			run.RunID, run.RegionID,
			run.StartDate.Format(config.DateLayout), run.EndDate.Format(config.DateLayout),
			run.Granularity, cfg, run.Status, run.StartedAt.UnixNano(),
		)
		if err != nil {
			return fmt.Errorf("insert run: %w", err)
		}
		return nil
	})
}

// Complete marks a run completed.
func (s *RunStore) Complete(runID string) error {
	return s.finish(runID, RunCompleted, "")
}

// Fail marks a run failed with cause.
func (s *RunStore) Fail(runID string, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return s.finish(runID, RunFailed, msg)
}

func (s *RunStore) finish(runID, status, msg string) error {
	var errStr interface{}
	if msg != "" {
		errStr = msg
	}
	return retryOnBusy(func() error {
		res, err := s.db.Exec(`
			UPDATE pipeline_runs SET status = ?, error = ?, completed_at = ?
			WHERE run_id = ?`,
			status, errStr, s.Clock.Now().UnixNano(), runID)
		if err != nil {
			return fmt.Errorf("update run: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("run %s: %w", runID, ErrNotFound)
		}
		return nil
	})
}

// InsertRecords writes records for runID in one transaction. A record
// whose (run, region, period start) already exists fails the whole batch.
func (s *RunStore) InsertRecords(runID string, records []pipeline.AreaRecord) error {
	return retryOnBusy(func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("begin: %w", err)
		}
		defer tx.Rollback()

		stmt, err := tx.Prepare(`
			INSERT INTO area_records (
				run_id, region_id, period_start, period_end, water_area_m2,
				image_count, source_image_dates, coverage, status, error
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("prepare: %w", err)
		}
		defer stmt.Close()

		for _, r := range records {
			dates, err := json.Marshal(nonNilDates(r.SourceImageDates))
			if err != nil {
				return fmt.Errorf("encode source dates: %w", err)
			}
			var area, errStr interface{}
			if v, ok := r.Area(); ok {
				area = v
			}
			if r.Error != "" {
				errStr = r.Error
			}
			if _, err := stmt.Exec(
				runID, r.RegionID, formatTime(r.PeriodStart), formatTime(r.PeriodEnd), area,
				r.ImageCount, string(dates), r.Coverage, string(r.Status), errStr,
			); err != nil {
				return fmt.Errorf("insert record %s %s: %w", r.RegionID, r.PeriodStart.Format(config.DateLayout), err)
			}
		}
		return tx.Commit()
	})
}

// Save persists a completed time series as a new run: the run row, its
// records and the completed state.
func (s *RunStore) Save(ts *pipeline.TimeSeries, cfg *config.PipelineConfig) (*Run, error) {
	run := &Run{
		RunID:       ts.RunID,
		RegionID:    ts.RegionID,
		StartDate:   ts.Start,
		EndDate:     ts.End,
		Granularity: ts.Granularity,
	}
	if cfg != nil {
		b, err := json.Marshal(cfg)
		if err != nil {
			return nil, fmt.Errorf("encode config: %w", err)
		}
		run.ConfigJSON = b
	}
	if err := s.Create(run); err != nil {
		return nil, err
	}
	ts.RunID = run.RunID
	if err := s.InsertRecords(run.RunID, ts.Records); err != nil {
		if ferr := s.Fail(run.RunID, err); ferr != nil {
			return nil, errors.Join(err, ferr)
		}
		return nil, err
	}
	if err := s.Complete(run.RunID); err != nil {
		return nil, err
	}
	return s.Get(run.RunID)
}

const runColumns = `run_id, region_id, start_date, end_date, granularity,
		       config_json, status, error, started_at, completed_at`

// Get returns one run.
func (s *RunStore) Get(runID string) (*Run, error) {
	row := s.db.QueryRow(`SELECT `+runColumns+` FROM pipeline_runs WHERE run_id = ?`, runID)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	return r, err
}

// List returns the runs of regionID (all regions when empty), newest
// first, at most limit rows when limit > 0.
func (s *RunStore) List(regionID string, limit int) ([]*Run, error) {
	q := `SELECT ` + runColumns + ` FROM pipeline_runs`
	var args []interface{}
	if regionID != "" {
		q += ` WHERE region_id = ?`
		args = append(args, regionID)
	}
	q += ` ORDER BY started_at DESC, run_id`
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// TimeSeries loads the records of runID ordered by period start.
func (s *RunStore) TimeSeries(runID string) (*pipeline.TimeSeries, error) {
	run, err := s.Get(runID)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.Query(`
		SELECT region_id, period_start, period_end, water_area_m2, image_count,
		       source_image_dates, coverage, status, error
		FROM area_records
		WHERE run_id = ?
		ORDER BY period_start, region_id`, runID)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	ts := &pipeline.TimeSeries{
		RunID:       run.RunID,
		RegionID:    run.RegionID,
		Granularity: run.Granularity,
		Start:       run.StartDate,
		End:         run.EndDate,
		Records:     []pipeline.AreaRecord{},
	}
	for rows.Next() {
		var (
			r          pipeline.AreaRecord
			start, end string
			area       sql.NullFloat64
			dates      string
			status     string
			errStr     sql.NullString
		)
		if err := rows.Scan(&r.RegionID, &start, &end, &area, &r.ImageCount, &dates, &r.Coverage, &status, &errStr); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		if r.PeriodStart, err = parseTime(start); err != nil {
			return nil, err
		}
		if r.PeriodEnd, err = parseTime(end); err != nil {
			return nil, err
		}
		if area.Valid {
			v := area.Float64
			r.WaterAreaM2 = &v
		}
		if err := json.Unmarshal([]byte(dates), &r.SourceImageDates); err != nil {
			return nil, fmt.Errorf("decode source dates: %w", err)
		}
		r.Status = pipeline.Status(status)
		r.Error = errStr.String
		ts.Records = append(ts.Records, r)
	}
	return ts, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row scanner) (*Run, error) {
	var (
		r           Run
		start, end  string
		cfg, errStr sql.NullString
		startedAt   int64
		completedAt sql.NullInt64
	)
	if err := row.Scan(&r.RunID, &r.RegionID, &start, &end, &r.Granularity,
		&cfg, &r.Status, &errStr, &startedAt, &completedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan run: %w", err)
	}
	var err error
	if r.StartDate, err = time.Parse(config.DateLayout, start); err != nil {
		return nil, fmt.Errorf("run %s start date: %w", r.RunID, err)
	}
	if r.EndDate, err = time.Parse(config.DateLayout, end); err != nil {
		return nil, fmt.Errorf("run %s end date: %w", r.RunID, err)
	}
	if cfg.Valid {
		r.ConfigJSON = json.RawMessage(cfg.String)
	}
	r.Error = errStr.String
	r.StartedAt = time.Unix(0, startedAt).UTC()
	if completedAt.Valid {
		t := time.Unix(0, completedAt.Int64).UTC()
		r.CompletedAt = &t
	}
	return &r, nil
}

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t, nil
}

func nonNilDates(d []time.Time) []time.Time {
	if d == nil {
		return []time.Time{}
	}
	return d
}
