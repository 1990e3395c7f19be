// Package accuracy scores a classifier on a held-out partition of the
// labeled samples. It trains its own model and never feeds the
// production one.
package accuracy

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/floats"

	"github.com/banshee-data/waterextent/internal/raster"
	"github.com/banshee-data/waterextent/internal/water/classifier"
	"github.com/banshee-data/waterextent/internal/water/features"
	"github.com/banshee-data/waterextent/internal/water/labels"
)

// Confusion is a 2x2 error matrix indexed [actual][predicted].
type Confusion [2][2]int64

// Add records one (actual, predicted) pair.
func (c *Confusion) Add(actual, predicted int) error {
	if actual < 0 || actual > 1 || predicted < 0 || predicted > 1 {
		return raster.Inputf("label pair (%d,%d) outside {0,1}", actual, predicted)
	}
	c[actual][predicted]++
	return nil
}

// Total returns the number of recorded pairs.
func (c Confusion) Total() int64 { return c[0][0] + c[0][1] + c[1][0] + c[1][1] }

// Accuracy returns trace / total, or 0 for an empty matrix.
func (c Confusion) Accuracy() float64 {
	n := c.Total()
	if n == 0 {
		return 0
	}
	return float64(c[0][0]+c[1][1]) / float64(n)
}

// Kappa returns Cohen's kappa, (po - pe) / (1 - pe). When chance
// agreement is already perfect (pe == 1) kappa is 1 for perfect observed
// agreement and 0 otherwise.
func (c Confusion) Kappa() float64 {
	n := float64(c.Total())
	if n == 0 {
		return 0
	}
	rows := []float64{float64(c[0][0] + c[0][1]), float64(c[1][0] + c[1][1])}
	cols := []float64{float64(c[0][0] + c[1][0]), float64(c[0][1] + c[1][1])}
	po := c.Accuracy()
	pe := floats.Dot(rows, cols) / (n * n)
	if pe == 1 {
		if po == 1 {
			return 1
		}
		return 0
	}
	return (po - pe) / (1 - pe)
}

// Report is the outcome of one evaluation.
type Report struct {
	ID          string    `json:"id"`
	ModelID     string    `json:"model_id"`
	Modality    string    `json:"modality,omitempty"`
	SplitRatio  float64   `json:"split_ratio"`
	TrainSize   int       `json:"train_size"`
	TestSize    int       `json:"test_size"`
	Confusion   Confusion `json:"confusion"`
	Accuracy    float64   `json:"accuracy"`
	Kappa       float64   `json:"kappa"`
	EvaluatedAt time.Time `json:"evaluated_at"`
}

func (r Report) String() string {
	return fmt.Sprintf("train=%d test=%d accuracy=%.4f kappa=%.4f confusion=%v",
		r.TrainSize, r.TestSize, r.Accuracy, r.Kappa, r.Confusion)
}

// Evaluate partitions samples by their split keys, trains on the
// training partition and scores predictions on the rest.
func Evaluate(ctx context.Context, schema features.Schema, samples []labels.Sample, ratio float64, p classifier.Params) (Report, error) {
	if ratio <= 0 || ratio >= 1 {
		return Report{}, raster.Inputf("split ratio %g outside (0,1)", ratio)
	}
	train, test := labels.Split(samples, ratio)
	if len(test) == 0 {
		return Report{}, raster.Inputf("held-out partition is empty (%d samples, ratio %g)", len(samples), ratio)
	}
	vs, ys := Unzip(train)
	m, err := classifier.Train(ctx, schema, vs, ys, p)
	if err != nil {
		return Report{}, fmt.Errorf("train evaluation model: %w", err)
	}
	r, err := Score(m, test)
	if err != nil {
		return Report{}, err
	}
	r.SplitRatio = ratio
	r.TrainSize = len(train)
	return r, nil
}

// Score classifies samples with m and tabulates the result.
func Score(m *classifier.Model, samples []labels.Sample) (Report, error) {
	var c Confusion
	for _, s := range samples {
		got, err := m.Predict(s.Vector)
		if err != nil {
			return Report{}, err
		}
		if err := c.Add(s.Label, got); err != nil {
			return Report{}, err
		}
	}
	return Report{
		ID:          uuid.New().String(),
		ModelID:     m.ID,
		TestSize:    len(samples),
		Confusion:   c,
		Accuracy:    c.Accuracy(),
		Kappa:       c.Kappa(),
		EvaluatedAt: time.Now().UTC(),
	}, nil
}

// Unzip splits samples into parallel vector and label slices.
func Unzip(samples []labels.Sample) ([]features.Vector, []int) {
	vs := make([]features.Vector, len(samples))
	ys := make([]int, len(samples))
	for i, s := range samples {
		vs[i], ys[i] = s.Vector, s.Label
	}
	return vs, ys
}
