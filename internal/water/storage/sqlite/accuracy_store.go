package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/waterextent/internal/water/accuracy"
)

// AccuracyStore persists evaluation reports.
type AccuracyStore struct {
	db *sql.DB
}

// NewAccuracyStore creates a new AccuracyStore.
func NewAccuracyStore(db *sql.DB) *AccuracyStore {
	return &AccuracyStore{db: db}
}

// Insert stores r, tied to runID when it is non-empty.
func (s *AccuracyStore) Insert(runID string, r *accuracy.Report) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.EvaluatedAt.IsZero() {
		r.EvaluatedAt = time.Now().UTC()
	}
	var run, model, modality interface{}
	if runID != "" {
		run = runID
	}
	if r.ModelID != "" {
		model = r.ModelID
	}
	if r.Modality != "" {
		modality = r.Modality
	}
	c := r.Confusion
	return retryOnBusy(func() error {
		_, err := s.db.Exec(`
			INSERT INTO accuracy_reports (
				report_id, run_id, model_id, modality, split_ratio, train_size, test_size,
				true_neg, false_pos, false_neg, true_pos, accuracy, kappa, evaluated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			r.ID, run, model, modality, r.SplitRatio, r.TrainSize, r.TestSize,
			c[0][0], c[0][1], c[1][0], c[1][1], r.Accuracy, r.Kappa, r.EvaluatedAt.UnixNano(),
		)
		if err != nil {
			return fmt.Errorf("insert accuracy report: %w", err)
		}
		return nil
	})
}

// List returns the reports of runID, or all reports when runID is empty,
// newest first.
func (s *AccuracyStore) List(runID string) ([]accuracy.Report, error) {
	q := `SELECT report_id, model_id, modality, split_ratio, train_size, test_size,
		       true_neg, false_pos, false_neg, true_pos, accuracy, kappa, evaluated_at
		FROM accuracy_reports`
	var args []interface{}
	if runID != "" {
		q += ` WHERE run_id = ?`
		args = append(args, runID)
	}
	q += ` ORDER BY evaluated_at DESC, report_id`
	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("query accuracy reports: %w", err)
	}
	defer rows.Close()

	var out []accuracy.Report
	for rows.Next() {
		var (
			r               accuracy.Report
			model, modality sql.NullString
			at              int64
		)
		if err := rows.Scan(&r.ID, &model, &modality, &r.SplitRatio, &r.TrainSize, &r.TestSize,
			&r.Confusion[0][0], &r.Confusion[0][1], &r.Confusion[1][0], &r.Confusion[1][1],
			&r.Accuracy, &r.Kappa, &at); err != nil {
			return nil, fmt.Errorf("scan accuracy report: %w", err)
		}
		r.ModelID = model.String
		r.Modality = modality.String
		r.EvaluatedAt = time.Unix(0, at).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}
