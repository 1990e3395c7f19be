package pipeline

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/paulmach/orb"

	"github.com/banshee-data/waterextent/internal/raster"
	"github.com/banshee-data/waterextent/internal/water/features"
	"github.com/banshee-data/waterextent/internal/water/harmonize"
	"github.com/banshee-data/waterextent/internal/water/qa"
	"github.com/banshee-data/waterextent/internal/water/sensor"
)

// RadarPreprocessor turns raw radar scenes into calibrated backscatter
// carrying the VV, VH and angle bands. Border-noise correction, speckle
// filtering and terrain flattening happen behind this interface.
type RadarPreprocessor interface {
	Preprocess(ctx context.Context, c *raster.Collection) (*raster.Collection, error)
}

// PassThrough is the preprocessor for scenes that arrive calibrated. It
// only checks the band contract.
type PassThrough struct{}

// Preprocess implements RadarPreprocessor.
func (PassThrough) Preprocess(_ context.Context, c *raster.Collection) (*raster.Collection, error) {
	return c.Map(func(im *raster.Image) (*raster.Image, error) {
		if _, err := im.MustBands(sensor.RadarBands...); err != nil {
			return nil, err
		}
		return im, nil
	}), nil
}

// opticalScene is one optical scene after masking and harmonization,
// with its feature raster.
type opticalScene struct {
	reflectance *raster.Image
	features    *raster.Image
}

// prepareOptical masks, scales and harmonizes im onto the reference
// sensor and derives its feature raster.
func prepareOptical(im *raster.Image, p sensor.Profile) (opticalScene, error) {
	masked, err := qa.Apply(im, p)
	if err != nil {
		return opticalScene{}, err
	}
	refl, err := harmonize.Apply(masked, p)
	if err != nil {
		return opticalScene{}, err
	}
	feat, err := features.ExtractOptical(refl)
	if err != nil {
		return opticalScene{}, err
	}
	return opticalScene{reflectance: refl, features: feat}, nil
}

// query builds the service query for source over [start, end).
func (r *Runner) query(p sensor.Profile, start, end time.Time, bounds *orb.Bound) raster.Query {
	q := raster.Query{Source: p.ID, Start: start, End: end, Bounds: bounds}
	if p.Modality == sensor.Optical && p.CloudProperty != "" {
		q.Where = []raster.Condition{{Property: p.CloudProperty, LessThan: r.Config.GetCloudCoverThresholdPct()}}
	}
	return q
}

// opticalScenes returns every prepared optical scene of the configured
// sources matching the date range and bounds, ordered by time.
func (r *Runner) opticalScenes(ctx context.Context, start, end time.Time, bounds *orb.Bound) ([]opticalScene, error) {
	var out []opticalScene
	for _, src := range r.Config.GetOpticalSources() {
		p, err := sensor.Lookup(src)
		if err != nil {
			return nil, raster.Inputf("%v", err)
		}
		if p.Modality != sensor.Optical {
			return nil, raster.Inputf("source %s listed as optical is %s", src, p.Modality)
		}
		c, err := r.Service.Filter(ctx, r.query(p, start, end, bounds))
		if err != nil {
			return nil, err
		}
		for im, err := range c.All() {
			if err != nil {
				return nil, err
			}
			sc, err := prepareOptical(im, p)
			if err != nil {
				return nil, err
			}
			out = append(out, sc)
		}
	}
	slices.SortStableFunc(out, func(a, b opticalScene) int { return compareImages(a.features, b.features) })
	return out, nil
}

// radarScenes returns the feature rasters of every preprocessed radar
// scene of the configured sources, ordered by time.
func (r *Runner) radarScenes(ctx context.Context, start, end time.Time, bounds *orb.Bound) ([]*raster.Image, error) {
	var out []*raster.Image
	for _, src := range r.Config.GetRadarSources() {
		p, err := sensor.Lookup(src)
		if err != nil {
			return nil, raster.Inputf("%v", err)
		}
		if p.Modality != sensor.Radar {
			return nil, raster.Inputf("source %s listed as radar is %s", src, p.Modality)
		}
		c, err := r.Service.Filter(ctx, r.query(p, start, end, bounds))
		if err != nil {
			return nil, err
		}
		c, err = r.radar().Preprocess(ctx, c)
		if err != nil {
			return nil, err
		}
		images, err := c.Map(features.Mapper(sensor.Radar)).Collect()
		if err != nil {
			return nil, err
		}
		out = append(out, images...)
	}
	raster.SortByTime(out)
	return out, nil
}

func compareImages(a, b *raster.Image) int {
	if c := a.Acquired.Compare(b.Acquired); c != 0 {
		return c
	}
	return strings.Compare(a.ID, b.ID)
}
