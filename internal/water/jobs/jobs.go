// Package jobs runs the water pipeline end to end against persistent
// storage: it resolves regions, loads labels, fits, runs and records.
package jobs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/banshee-data/waterextent/internal/config"
	"github.com/banshee-data/waterextent/internal/monitoring"
	"github.com/banshee-data/waterextent/internal/raster"
	"github.com/banshee-data/waterextent/internal/region"
	"github.com/banshee-data/waterextent/internal/water/accuracy"
	"github.com/banshee-data/waterextent/internal/water/labels"
	"github.com/banshee-data/waterextent/internal/water/pipeline"
	"github.com/banshee-data/waterextent/internal/water/sensor"
	"github.com/banshee-data/waterextent/internal/water/storage/sqlite"
)

// Stores groups the SQLite stores a job writes to.
type Stores struct {
	Runs    *sqlite.RunStore
	Models  *sqlite.ModelStore
	Reports *sqlite.AccuracyStore
	Labels  *sqlite.LabelStore
}

// NewStores returns every store bound to db.
func NewStores(db *sql.DB) *Stores {
	return &Stores{
		Runs:    sqlite.NewRunStore(db),
		Models:  sqlite.NewModelStore(db),
		Reports: sqlite.NewAccuracyStore(db),
		Labels:  sqlite.NewLabelStore(db),
	}
}

// SeriesSink receives every completed time series, typically a
// warehouse table downstream of the local database.
type SeriesSink interface {
	WriteTimeSeries(ctx context.Context, ts *pipeline.TimeSeries) error
}

// Executor runs requests. Stores may be nil, in which case nothing is
// persisted and labels must be supplied inline.
type Executor struct {
	Service raster.Service
	Radar   pipeline.RadarPreprocessor
	Regions *region.Catalog
	Stores  *Stores
	Sink    SeriesSink
}

// Request describes one job. The region is RegionID when set, else the
// config's region, else every catalog region matching Filter. Points
// take precedence over LabelSet.
type Request struct {
	Config   *config.PipelineConfig
	RegionID string
	Filter   region.Filter
	Points   []labels.Point
	LabelSet string
	Evaluate bool
}

// RegionOutcome is one region's result and the run that recorded it.
type RegionOutcome struct {
	RegionID string               `json:"region_id"`
	RunID    string               `json:"run_id,omitempty"`
	Series   *pipeline.TimeSeries `json:"series,omitempty"`
	Error    string               `json:"error,omitempty"`
	Run      *sqlite.Run          `json:"run,omitempty"`
	err      error
}

// Err returns the region's failure, if any.
func (o RegionOutcome) Err() error { return o.err }

// Outcome is the result of Execute.
type Outcome struct {
	Regions  []RegionOutcome   `json:"regions"`
	ModelIDs []string          `json:"model_ids"`
	Reports  []accuracy.Report `json:"reports,omitempty"`
	Duration time.Duration     `json:"duration_ns"`
}

// Failed reports how many regions failed.
func (o *Outcome) Failed() int {
	n := 0
	for _, r := range o.Regions {
		if r.err != nil {
			n++
		}
	}
	return n
}

// Execute validates req, fits the classifiers once, runs every selected
// region and persists the results. Per-region failures are recorded in
// the outcome; input errors, training failures and cancellation abort.
func (e *Executor) Execute(ctx context.Context, req Request) (*Outcome, error) {
	t0 := time.Now()
	cfg := req.Config
	if cfg == nil {
		return nil, raster.Inputf("missing pipeline configuration")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	regions, err := e.resolve(req)
	if err != nil {
		return nil, err
	}
	points, err := e.points(req)
	if err != nil {
		return nil, err
	}

	runner := pipeline.NewRunner(e.Service, cfg)
	if e.Radar != nil {
		runner.Radar = e.Radar
	}
	models, err := runner.Fit(ctx, points)
	if err != nil {
		return nil, fmt.Errorf("fit: %w", err)
	}

	var results []pipeline.RegionResult
	if len(regions) == 1 {
		ts, err := runner.Run(ctx, regions[0], models)
		if err != nil && (ctx.Err() != nil || errors.Is(err, raster.ErrInput)) {
			return nil, err
		}
		results = []pipeline.RegionResult{{Region: regions[0], Series: ts, Err: err}}
	} else if results, err = runner.RunRegions(ctx, regions, models); err != nil {
		return nil, err
	}

	out := &Outcome{}
	for _, res := range results {
		o, err := e.record(ctx, res, cfg)
		if err != nil {
			return nil, err
		}
		out.Regions = append(out.Regions, o)
	}

	// Models and reports belong to a run only when exactly one was recorded.
	runID := ""
	if len(out.Regions) == 1 {
		runID = out.Regions[0].RunID
	}
	if err := e.finish(ctx, runner, models, runID, req.Evaluate, out); err != nil {
		return nil, err
	}
	out.Duration = time.Since(t0)
	monitoring.Logf("job finished: %d region(s), %d failed, %d model(s) in %s",
		len(out.Regions), out.Failed(), len(out.ModelIDs), out.Duration.Round(time.Millisecond))
	return out, nil
}

// Evaluate fits the classifiers on the request's points and scores them
// on the held-out split without running any region. Models and reports
// are stored unattached to a run.
func (e *Executor) Evaluate(ctx context.Context, req Request) (*Outcome, error) {
	t0 := time.Now()
	if req.Config == nil {
		return nil, raster.Inputf("missing pipeline configuration")
	}
	if err := req.Config.Validate(); err != nil {
		return nil, err
	}
	points, err := e.points(req)
	if err != nil {
		return nil, err
	}
	runner := pipeline.NewRunner(e.Service, req.Config)
	if e.Radar != nil {
		runner.Radar = e.Radar
	}
	models, err := runner.Fit(ctx, points)
	if err != nil {
		return nil, fmt.Errorf("fit: %w", err)
	}
	out := &Outcome{}
	if err := e.finish(ctx, runner, models, "", true, out); err != nil {
		return nil, err
	}
	out.Duration = time.Since(t0)
	monitoring.Logf("evaluation finished: %d model(s), %d report(s) in %s",
		len(out.ModelIDs), len(out.Reports), out.Duration.Round(time.Millisecond))
	return out, nil
}

// finish stores the fitted models and, when evaluate is set, their
// accuracy reports, filling out.
func (e *Executor) finish(ctx context.Context, runner *pipeline.Runner, models *pipeline.Models, runID string, evaluate bool, out *Outcome) error {
	for _, f := range []*pipeline.Fitted{models.Optical, models.Radar} {
		if f == nil {
			continue
		}
		if e.Stores != nil {
			if err := e.Stores.Models.Save(runID, f.Modality, f.Model); err != nil {
				return err
			}
		}
		out.ModelIDs = append(out.ModelIDs, f.Model.ID)
	}
	if !evaluate {
		return nil
	}
	reps, err := runner.Evaluate(ctx, models)
	if err != nil {
		return err
	}
	for i := range reps {
		if f := models.For(sensor.Modality(reps[i].Modality)); f != nil {
			reps[i].ModelID = f.Model.ID
		}
		if e.Stores != nil {
			if err := e.Stores.Reports.Insert(runID, &reps[i]); err != nil {
				return err
			}
		}
	}
	out.Reports = reps
	return nil
}

func (e *Executor) resolve(req Request) ([]region.Region, error) {
	id := req.RegionID
	if id == "" {
		id = req.Config.GetRegion()
	}
	if e.Regions == nil {
		return nil, raster.Inputf("no region catalog loaded")
	}
	if id != "" {
		reg, ok := e.Regions.Get(id)
		if !ok {
			return nil, raster.Inputf("unknown region %q", id)
		}
		return []region.Region{reg}, nil
	}
	regs := e.Regions.Find(req.Filter)
	if len(regs) == 0 {
		return nil, raster.Inputf("no region matches %+v", req.Filter)
	}
	return regs, nil
}

func (e *Executor) points(req Request) ([]labels.Point, error) {
	if len(req.Points) > 0 {
		return req.Points, nil
	}
	if req.LabelSet == "" {
		return nil, raster.Inputf("no labeled points and no label set given")
	}
	if e.Stores == nil {
		return nil, raster.Inputf("label set %q requested without a database", req.LabelSet)
	}
	pts, err := e.Stores.Labels.Load(req.LabelSet)
	if err != nil {
		return nil, err
	}
	if len(pts) == 0 {
		return nil, raster.Inputf("label set %q is empty", req.LabelSet)
	}
	return pts, nil
}

// record persists one region result. A failed region still gets a run
// row, marked failed with its cause.
func (e *Executor) record(ctx context.Context, res pipeline.RegionResult, cfg *config.PipelineConfig) (RegionOutcome, error) {
	o := RegionOutcome{RegionID: res.Region.ID, Series: res.Series, err: res.Err}
	if res.Err != nil {
		o.Error = res.Err.Error()
	}
	if e.Stores == nil {
		if res.Series != nil {
			o.RunID = res.Series.RunID
		}
		return o, nil
	}
	if res.Err != nil {
		start, end, err := cfg.DateRange()
		if err != nil {
			return o, err
		}
		run := &sqlite.Run{RegionID: res.Region.ID, StartDate: start, EndDate: end, Granularity: cfg.GetPeriodGranularity()}
		if err := e.Stores.Runs.Create(run); err != nil {
			return o, err
		}
		if err := e.Stores.Runs.Fail(run.RunID, res.Err); err != nil {
			return o, err
		}
		o.RunID = run.RunID
		if o.Run, err = e.Stores.Runs.Get(run.RunID); err != nil {
			return o, fmt.Errorf("reload failed run %s: %w", run.RunID, err)
		}
		return o, nil
	}
	run, err := e.Stores.Runs.Save(res.Series, cfg)
	if err != nil {
		return o, fmt.Errorf("save run for %s: %w", res.Region.ID, err)
	}
	o.RunID, o.Run = run.RunID, run
	if e.Sink != nil {
		if err := e.Sink.WriteTimeSeries(ctx, res.Series); err != nil {
			monitoring.Logf("sink write for run %s failed: %v", run.RunID, err)
		}
	}
	return o, nil
}
