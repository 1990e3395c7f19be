package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/banshee-data/waterextent/internal/water/labels"
)

// LabelStore persists named sets of labeled points. A set holds at most
// one label per coordinate; saving a point at an existing coordinate
// replaces it.
type LabelStore struct {
	db *sql.DB
}

// NewLabelStore creates a new LabelStore.
func NewLabelStore(db *sql.DB) *LabelStore {
	return &LabelStore{db: db}
}

// Save upserts pts into set in one transaction.
func (s *LabelStore) Save(set string, pts []labels.Point) error {
	if set == "" {
		return fmt.Errorf("label set name is empty")
	}
	return retryOnBusy(func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("begin: %w", err)
		}
		defer tx.Rollback()

		stmt, err := tx.Prepare(`
			INSERT INTO label_points (set_name, point_id, x, y, label, window_start, window_end)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (set_name, x, y) DO UPDATE SET
				point_id = excluded.point_id,
				label = excluded.label,
				window_start = excluded.window_start,
				window_end = excluded.window_end`)
		if err != nil {
			return fmt.Errorf("prepare: %w", err)
		}
		defer stmt.Close()

		for _, p := range pts {
			if _, err := stmt.Exec(set, p.ID, p.X, p.Y, p.Label, optTime(p.Start), optTime(p.End)); err != nil {
				return fmt.Errorf("upsert point %s: %w", p.ID, err)
			}
		}
		return tx.Commit()
	})
}

// Load returns the points of set in first-insertion order.
func (s *LabelStore) Load(set string) ([]labels.Point, error) {
	rows, err := s.db.Query(`
		SELECT point_id, x, y, label, window_start, window_end
		FROM label_points
		WHERE set_name = ?
		ORDER BY rowid`, set)
	if err != nil {
		return nil, fmt.Errorf("query label points: %w", err)
	}
	defer rows.Close()

	var pts []labels.Point
	for rows.Next() {
		var (
			p          labels.Point
			start, end sql.NullString
		)
		if err := rows.Scan(&p.ID, &p.X, &p.Y, &p.Label, &start, &end); err != nil {
			return nil, fmt.Errorf("scan label point: %w", err)
		}
		if start.Valid {
			if p.Start, err = parseTime(start.String); err != nil {
				return nil, err
			}
		}
		if end.Valid {
			if p.End, err = parseTime(end.String); err != nil {
				return nil, err
			}
		}
		pts = append(pts, p)
	}
	return pts, rows.Err()
}

// Sets returns every set name with its point count.
func (s *LabelStore) Sets() (map[string]int, error) {
	rows, err := s.db.Query(`SELECT set_name, COUNT(*) FROM label_points GROUP BY set_name`)
	if err != nil {
		return nil, fmt.Errorf("query label sets: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var name string
		var n int
		if err := rows.Scan(&name, &n); err != nil {
			return nil, fmt.Errorf("scan label set: %w", err)
		}
		out[name] = n
	}
	return out, rows.Err()
}

// Delete removes set and reports how many points it held.
func (s *LabelStore) Delete(set string) (int64, error) {
	var n int64
	err := retryOnBusy(func() error {
		res, err := s.db.Exec(`DELETE FROM label_points WHERE set_name = ?`, set)
		if err != nil {
			return fmt.Errorf("delete label set: %w", err)
		}
		n, err = res.RowsAffected()
		return err
	})
	return n, err
}

func optTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return formatTime(t)
}
