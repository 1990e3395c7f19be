package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/paulmach/orb"

	"github.com/banshee-data/waterextent/internal/config"
	"github.com/banshee-data/waterextent/internal/monitoring"
	"github.com/banshee-data/waterextent/internal/raster"
	"github.com/banshee-data/waterextent/internal/water/accuracy"
	"github.com/banshee-data/waterextent/internal/water/classifier"
	"github.com/banshee-data/waterextent/internal/water/features"
	"github.com/banshee-data/waterextent/internal/water/labels"
	"github.com/banshee-data/waterextent/internal/water/sensor"
)

// Runner executes pipeline stages against one raster service and
// configuration. It holds no per-run state, so one Runner may serve
// concurrent runs; fitted models are passed explicitly.
type Runner struct {
	Service raster.Service
	Radar   RadarPreprocessor // nil means PassThrough
	Config  *config.PipelineConfig
}

// NewRunner returns a Runner with the pass-through radar preprocessor.
func NewRunner(svc raster.Service, cfg *config.PipelineConfig) *Runner {
	return &Runner{Service: svc, Radar: PassThrough{}, Config: cfg}
}

func (r *Runner) radar() RadarPreprocessor {
	if r.Radar == nil {
		return PassThrough{}
	}
	return r.Radar
}

// Fitted is one modality's model and the samples it was fitted on.
type Fitted struct {
	Modality sensor.Modality
	Model    *classifier.Model
	Samples  labels.Result
}

// Models are the fitted classifiers of one run. A modality without
// configured sources has no entry.
type Models struct {
	Optical *Fitted
	Radar   *Fitted
}

// For returns the fitted model of a modality, or nil.
func (m *Models) For(mod sensor.Modality) *Fitted {
	if m == nil {
		return nil
	}
	switch mod {
	case sensor.Optical:
		return m.Optical
	case sensor.Radar:
		return m.Radar
	}
	return nil
}

// Params maps the configuration onto classifier parameters.
func Params(cfg *config.PipelineConfig) classifier.Params {
	return classifier.Params{
		Trees:            cfg.GetEnsembleSize(),
		Seed:             cfg.GetSeed(),
		MinSamples:       cfg.GetMinTrainingSamples(),
		MaxDepth:         cfg.GetTreeMaxDepth(),
		MinLeaf:          cfg.GetTreeMinLeaf(),
		FeaturesPerSplit: cfg.GetFeaturesPerSplit(),
		BagFraction:      cfg.GetBagFraction(),
		VoteThreshold:    cfg.GetVoteThreshold(),
	}
}

// cloudOf reads an image's scene cloud percentage through its source profile.
func cloudOf(im *raster.Image) (float64, bool) {
	p, err := sensor.Lookup(im.Source)
	if err != nil || p.CloudProperty == "" {
		return 0, false
	}
	return im.Property(p.CloudProperty)
}

// Fit samples the training window's feature mosaic at every labeled
// point and trains one model per modality on all samples.
func (r *Runner) Fit(ctx context.Context, points []labels.Point) (*Models, error) {
	if len(points) == 0 {
		return nil, raster.Inputf("no labeled points")
	}
	start, end, err := r.Config.TrainingRange()
	if err != nil {
		return nil, err
	}
	bounds := pointBounds(points)

	models := &Models{}
	if len(r.Config.GetOpticalSources()) > 0 {
		scenes, err := r.opticalScenes(ctx, start, end, &bounds)
		if err != nil {
			return nil, fmt.Errorf("optical training scenes: %w", err)
		}
		images := make([]*raster.Image, len(scenes))
		for i, sc := range scenes {
			images[i] = sc.features
		}
		if models.Optical, err = r.fit(ctx, sensor.Optical, images, points); err != nil {
			return nil, err
		}
	}
	if len(r.Config.GetRadarSources()) > 0 {
		images, err := r.radarScenes(ctx, start, end, &bounds)
		if err != nil {
			return nil, fmt.Errorf("radar training scenes: %w", err)
		}
		if models.Radar, err = r.fit(ctx, sensor.Radar, images, points); err != nil {
			return nil, err
		}
	}
	return models, nil
}

func (r *Runner) fit(ctx context.Context, mod sensor.Modality, images []*raster.Image, points []labels.Point) (*Fitted, error) {
	if len(images) == 0 {
		return nil, raster.Inputf("no %s scenes cover the labeled points in the training window", mod)
	}
	schema, err := features.SchemaFor(mod)
	if err != nil {
		return nil, err
	}
	if err := labels.Order(images, labels.Precedence(r.Config.GetMosaicOrder()), cloudOf); err != nil {
		return nil, err
	}
	res, err := labels.SampleMosaic(images, schema, points, r.Config.GetSeed())
	if err != nil {
		return nil, err
	}
	vs, ys := accuracy.Unzip(res.Samples)

	t0 := time.Now()
	m, err := classifier.Train(ctx, schema, vs, ys, Params(r.Config))
	if err != nil {
		return nil, fmt.Errorf("train %s model: %w", mod, err)
	}
	monitoring.StageDuration.WithLabelValues("train").Observe(time.Since(t0).Seconds())
	monitoring.Logf("trained %s model %s: %d trees on %d samples (%d water, %d non-water; %d outside, %d nodata)",
		mod, m.ID, len(m.Trees), len(res.Samples), m.NWater, m.NNonWater, res.Outside, res.Nodata)
	return &Fitted{Modality: mod, Model: m, Samples: res}, nil
}

// Evaluate scores each fitted modality on a held-out split of its own
// samples. The production models are not touched.
func (r *Runner) Evaluate(ctx context.Context, m *Models) ([]accuracy.Report, error) {
	var out []accuracy.Report
	for _, f := range []*Fitted{m.For(sensor.Optical), m.For(sensor.Radar)} {
		if f == nil {
			continue
		}
		t0 := time.Now()
		rep, err := accuracy.Evaluate(ctx, f.Model.Schema, f.Samples.Samples, r.Config.GetSplitRatio(), Params(r.Config))
		if err != nil {
			return nil, fmt.Errorf("evaluate %s: %w", f.Modality, err)
		}
		monitoring.StageDuration.WithLabelValues("evaluate").Observe(time.Since(t0).Seconds())
		rep.Modality = string(f.Modality)
		monitoring.Logf("%s accuracy: %s", f.Modality, rep)
		out = append(out, rep)
	}
	return out, nil
}

// pointBounds returns the bounding box of the labeled points.
func pointBounds(points []labels.Point) orb.Bound {
	b := orb.Bound{Min: points[0].Location(), Max: points[0].Location()}
	for _, p := range points[1:] {
		b = b.Extend(p.Location())
	}
	return b
}
