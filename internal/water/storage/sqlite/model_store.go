package sqlite

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/waterextent/internal/water/classifier"
	"github.com/banshee-data/waterextent/internal/water/sensor"
)

// ModelInfo describes a stored model without its trees.
type ModelInfo struct {
	ModelID   string          `json:"model_id"`
	RunID     string          `json:"run_id,omitempty"`
	Modality  sensor.Modality `json:"modality"`
	Schema    []string        `json:"schema"`
	Trees     int             `json:"trees"`
	NWater    int             `json:"n_water"`
	NNonWater int             `json:"n_non_water"`
	CreatedAt time.Time       `json:"created_at"`
}

// ModelStore persists fitted classifiers as gob blobs.
type ModelStore struct {
	db *sql.DB
}

// NewModelStore creates a new ModelStore.
func NewModelStore(db *sql.DB) *ModelStore {
	return &ModelStore{db: db}
}

// Save stores m under its ID, assigning one when empty. runID may be
// empty for models trained outside a run.
func (s *ModelStore) Save(runID string, modality sensor.Modality, m *classifier.Model) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	blob, err := m.Bytes()
	if err != nil {
		return fmt.Errorf("encode model: %w", err)
	}
	schema, err := json.Marshal(m.Schema)
	if err != nil {
		return fmt.Errorf("encode schema: %w", err)
	}
	var run interface{}
	if runID != "" {
		run = runID
	}
	return retryOnBusy(func() error {
		_, err := s.db.Exec(`
			INSERT INTO classifier_models (
				model_id, run_id, modality, schema_json, trees,
				n_water, n_non_water, model_blob, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			m.ID, run, string(modality), string(schema), len(m.Trees),
			m.NWater, m.NNonWater, blob, time.Now().UnixNano(),
		)
		if err != nil {
			return fmt.Errorf("insert model: %w", err)
		}
		return nil
	})
}

// Load decodes the model stored under modelID.
func (s *ModelStore) Load(modelID string) (*classifier.Model, error) {
	var blob []byte
	err := s.db.QueryRow(`SELECT model_blob FROM classifier_models WHERE model_id = ?`, modelID).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("model %s: %w", modelID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query model: %w", err)
	}
	var m classifier.Model
	if err := m.Decode(bytes.NewReader(blob)); err != nil {
		return nil, err
	}
	return &m, nil
}

// List returns the models of runID, or every model when runID is empty,
// newest first.
func (s *ModelStore) List(runID string) ([]ModelInfo, error) {
	q := `SELECT model_id, run_id, modality, schema_json, trees, n_water, n_non_water, created_at
		FROM classifier_models`
	var args []interface{}
	if runID != "" {
		q += ` WHERE run_id = ?`
		args = append(args, runID)
	}
	q += ` ORDER BY created_at DESC, model_id`
	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("query models: %w", err)
	}
	defer rows.Close()

	var out []ModelInfo
	for rows.Next() {
		var (
			mi       ModelInfo
			run      sql.NullString
			modality string
			schema   string
			created  int64
		)
		if err := rows.Scan(&mi.ModelID, &run, &modality, &schema, &mi.Trees, &mi.NWater, &mi.NNonWater, &created); err != nil {
			return nil, fmt.Errorf("scan model: %w", err)
		}
		if err := json.Unmarshal([]byte(schema), &mi.Schema); err != nil {
			return nil, fmt.Errorf("decode schema: %w", err)
		}
		mi.RunID = run.String
		mi.Modality = sensor.Modality(modality)
		mi.CreatedAt = time.Unix(0, created).UTC()
		out = append(out, mi)
	}
	return out, rows.Err()
}
