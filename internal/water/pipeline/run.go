package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/paulmach/orb"
	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/waterextent/internal/config"
	"github.com/banshee-data/waterextent/internal/monitoring"
	"github.com/banshee-data/waterextent/internal/raster"
	"github.com/banshee-data/waterextent/internal/region"
	"github.com/banshee-data/waterextent/internal/water/classifier"
	"github.com/banshee-data/waterextent/internal/water/composite"
	"github.com/banshee-data/waterextent/internal/water/envmask"
	"github.com/banshee-data/waterextent/internal/water/labels"
	"github.com/banshee-data/waterextent/internal/water/sensor"
	"github.com/banshee-data/waterextent/internal/water/zonal"
)

// classified is one scene after classification and masking, resampled
// onto the run's target grid.
type classified struct {
	water     *raster.Image
	trueColor *raster.Image // optical scenes only
}

// RunPipeline fits the models on points and runs them over reg.
func RunPipeline(ctx context.Context, svc raster.Service, reg region.Region, cfg *config.PipelineConfig, points []labels.Point) (*TimeSeries, error) {
	r := NewRunner(svc, cfg)
	m, err := r.Fit(ctx, points)
	if err != nil {
		return nil, err
	}
	return r.Run(ctx, reg, m)
}

// Run classifies every scene covering reg in the query range with m,
// masks it, composites by period and reduces each composite over reg.
// Input errors abort the run. A period that hits the pixel budget or
// otherwise fails keeps its record with a nil area and a status.
func (r *Runner) Run(ctx context.Context, reg region.Region, m *Models) (*TimeSeries, error) {
	if reg.Geometry == nil {
		return nil, raster.Inputf("region %s has no geometry", reg.ID)
	}
	start, end, err := r.Config.DateRange()
	if err != nil {
		return nil, err
	}
	periods, err := composite.Periods(start, end, r.Config.GetPeriodGranularity())
	if err != nil {
		return nil, err
	}
	bounds := reg.Bound()

	scenes, err := r.classifyAll(ctx, start, end, &bounds, m)
	if err != nil {
		return nil, fmt.Errorf("region %s: %w", reg.ID, err)
	}

	ts := &TimeSeries{
		RunID:       uuid.New().String(),
		RegionID:    reg.ID,
		Granularity: r.Config.GetPeriodGranularity(),
		Start:       start,
		End:         end,
		Records:     make([]AreaRecord, len(periods)),
	}

	waters := make([]*raster.Image, len(scenes))
	for i, sc := range scenes {
		waters[i] = sc.water
	}
	groups, _ := composite.Assign(periods, waters)
	composites := make([]composite.Composite, len(periods))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(r.Config.GetMaxParallel(), 1))
	for k, p := range periods {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			rec, c, err := r.aggregate(reg, p, groups[k])
			if err != nil {
				return err
			}
			ts.Records[k] = rec
			composites[k] = c
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	ts.Sort()
	ts.Latest = latest(composites, scenes)
	return ts, nil
}

// aggregate builds one period's composite and its area record. Only
// input errors are returned; every other failure is recorded.
func (r *Runner) aggregate(reg region.Region, p composite.Period, images []*raster.Image) (AreaRecord, composite.Composite, error) {
	rec := AreaRecord{
		RegionID:         reg.ID,
		PeriodStart:      p.Start,
		PeriodEnd:        p.End,
		ImageCount:       len(images),
		SourceImageDates: []time.Time{},
	}
	t0 := time.Now()
	c, err := composite.Build(p, images, classifier.WaterBand)
	monitoring.StageDuration.WithLabelValues("composite").Observe(time.Since(t0).Seconds())
	if err != nil {
		return rec, c, err
	}
	if c.SourceImageDates != nil {
		rec.SourceImageDates = c.SourceImageDates
	}
	rec.Coverage = c.Coverage
	if c.Empty() {
		monitoring.Warnf(monitoring.WarnEmptyPeriod, "region %s: no images for period %s", reg.ID, p.Start.Format(time.DateOnly))
		rec.Status = StatusNoImages
		monitoring.AreaRecords.WithLabelValues(string(rec.Status)).Inc()
		return rec, c, nil
	}

	t0 = time.Now()
	res, err := zonal.WaterArea(c.Image, classifier.WaterBand, reg.Geometry, r.Config.GetMaxPixels())
	monitoring.StageDuration.WithLabelValues("zonal").Observe(time.Since(t0).Seconds())
	switch {
	case err == nil:
		area := res.WaterAreaM2
		rec.WaterAreaM2 = &area
		rec.Status = StatusOK
	case errors.Is(err, raster.ErrInput):
		return rec, c, err
	case errors.Is(err, raster.ErrResourceLimit):
		monitoring.Logf("region %s period %s: %v", reg.ID, p.Start.Format(time.DateOnly), err)
		rec.Status = StatusResourceLimit
		rec.Error = err.Error()
	default:
		monitoring.Logf("region %s period %s: %v", reg.ID, p.Start.Format(time.DateOnly), err)
		rec.Status = StatusError
		rec.Error = err.Error()
	}
	monitoring.AreaRecords.WithLabelValues(string(rec.Status)).Inc()
	return rec, c, nil
}

// classifyAll classifies and masks every optical and radar scene in
// [start, end) within bounds and resamples them onto one grid covering
// their union. A window without scenes yields none; the region lying
// outside every source's coverage is an input error.
func (r *Runner) classifyAll(ctx context.Context, start, end time.Time, bounds *orb.Bound, m *Models) ([]classified, error) {
	var out []classified
	t0 := time.Now()

	if len(r.Config.GetOpticalSources()) > 0 {
		scenes, err := r.opticalScenes(ctx, start, end, bounds)
		if err != nil {
			return nil, err
		}
		if len(scenes) > 0 && m.For(sensor.Optical) == nil {
			return nil, raster.Inputf("optical scenes present but no optical model fitted")
		}
		for _, sc := range scenes {
			w, err := classifier.Classify(sc.features, m.Optical.Model)
			if err != nil {
				return nil, err
			}
			monitoring.ImagesClassified.WithLabelValues(string(sensor.Optical)).Inc()
			tc, err := sc.reflectance.Select(sensor.Red, sensor.Green, sensor.Blue)
			if err != nil {
				return nil, err
			}
			out = append(out, classified{water: w, trueColor: tc})
		}
	}

	if len(r.Config.GetRadarSources()) > 0 {
		scenes, err := r.radarScenes(ctx, start, end, bounds)
		if err != nil {
			return nil, err
		}
		if len(scenes) > 0 && m.For(sensor.Radar) == nil {
			return nil, raster.Inputf("radar scenes present but no radar model fitted")
		}
		for _, feat := range scenes {
			w, err := classifier.Classify(feat, m.Radar.Model)
			if err != nil {
				return nil, err
			}
			monitoring.ImagesClassified.WithLabelValues(string(sensor.Radar)).Inc()
			if w, err = envmask.Smooth(w, r.Config.GetSmoothingRadiusPx(), r.Config.GetSmoothingThreshold()); err != nil {
				return nil, err
			}
			w, ok, err := r.applyWind(ctx, w)
			if err != nil {
				return nil, err
			}
			if ok {
				out = append(out, classified{water: w})
			}
		}
	}
	monitoring.StageDuration.WithLabelValues("classify").Observe(time.Since(t0).Seconds())

	if len(out) == 0 {
		ok, err := r.covered(ctx, bounds)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, raster.Inputf("no imagery from any source covers the region")
		}
		return nil, nil
	}

	slices.SortStableFunc(out, func(a, b classified) int { return compareImages(a.water, b.water) })
	target := targetGrid(out, *bounds)
	hand, err := r.handImage(ctx, target)
	if err != nil {
		return nil, err
	}
	for i := range out {
		if out[i].water, err = raster.Resample(out[i].water, target); err != nil {
			return nil, err
		}
		if out[i].water, err = r.applyHand(out[i].water, hand); err != nil {
			return nil, err
		}
		if out[i].trueColor != nil {
			if out[i].trueColor, err = raster.Resample(out[i].trueColor, target); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

// covered reports whether any optical or radar source has imagery over
// bounds at any date.
func (r *Runner) covered(ctx context.Context, bounds *orb.Bound) (bool, error) {
	sources := append(slices.Clone(r.Config.GetOpticalSources()), r.Config.GetRadarSources()...)
	for _, src := range sources {
		c, err := r.Service.Filter(ctx, raster.Query{Source: src, Bounds: bounds})
		if err != nil {
			return false, err
		}
		for _, err := range c.All() {
			if err != nil {
				return false, err
			}
			return true, nil
		}
	}
	return false, nil
}

// targetGrid is the lattice of the finest scene, extended over the union
// of every scene footprint and clipped to the region's bounding box.
func targetGrid(scenes []classified, box orb.Bound) raster.Grid {
	ref := scenes[0].water.Grid
	for _, sc := range scenes[1:] {
		g := sc.water.Grid
		if g.CRS == ref.CRS && math.Abs(g.PixelWidth*g.PixelHeight) < math.Abs(ref.PixelWidth*ref.PixelHeight) {
			ref = g
		}
	}
	union := ref.Bound()
	for _, sc := range scenes {
		if sc.water.Grid.CRS == ref.CRS {
			union = union.Union(sc.water.Grid.Bound())
		}
	}
	clip := orb.Bound{
		Min: orb.Point{math.Max(union.Min[0], box.Min[0]), math.Max(union.Min[1], box.Min[1])},
		Max: orb.Point{math.Min(union.Max[0], box.Max[0]), math.Min(union.Max[1], box.Max[1])},
	}
	if clip.Min[0] < clip.Max[0] && clip.Min[1] < clip.Max[1] {
		union = clip
	}
	return raster.Cover(ref, union)
}

// handImage returns the HAND mosaic over the target grid, or nil when
// the source has no coverage.
func (r *Runner) handImage(ctx context.Context, target raster.Grid) (*raster.Image, error) {
	src := r.Config.GetHandSource()
	if src == "" {
		return nil, nil
	}
	fp := target.Bound()
	c, err := r.Service.Filter(ctx, raster.Query{Source: src, Bounds: &fp, CRS: target.CRS})
	if err != nil {
		return nil, err
	}
	images, err := c.Collect()
	if err != nil {
		return nil, err
	}
	if len(images) == 0 {
		monitoring.Warnf(monitoring.WarnHandUnavailable, "no %s data covers %v; drainage mask not applied", src, fp)
		return nil, nil
	}
	return raster.Mosaic(images)
}

func (r *Runner) applyHand(w, hand *raster.Image) (*raster.Image, error) {
	if hand == nil {
		return w, nil
	}
	band := r.Config.GetHandSource()
	if len(hand.Bands) > 0 {
		band = hand.Bands[0].Name
	}
	m, err := envmask.HandMask(w.Grid, hand, band, r.Config.GetHandThresholdM())
	if err != nil {
		return nil, err
	}
	return envmask.Apply(w, m)
}

// applyWind masks a radar classification with the maximum wind speed in
// the window starting at the acquisition's UTC midnight. It reports false
// when no wind data covers the scene; such scenes are dropped.
func (r *Runner) applyWind(ctx context.Context, w *raster.Image) (*raster.Image, bool, error) {
	day := w.Acquired.UTC().Truncate(24 * time.Hour)
	fp := w.Grid.Bound()
	c, err := r.Service.Filter(ctx, raster.Query{
		Source: r.Config.GetWindSource(),
		Start:  day,
		End:    day.Add(r.Config.GetWindWindow()),
		Bounds: &fp,
		CRS:    w.Grid.CRS,
	})
	if err != nil {
		return nil, false, err
	}
	hourly, err := c.Collect()
	if err != nil {
		return nil, false, err
	}
	if len(hourly) == 0 {
		monitoring.Warnf(monitoring.WarnWindUnavailable, "no wind data for radar scene %s; scene dropped", w.ID)
		return nil, false, nil
	}
	speed, err := envmask.MaxWind(hourly, raster.WindUBand, raster.WindVBand)
	if err != nil {
		return nil, false, err
	}
	m, err := envmask.WindMask(w.Grid, speed, r.Config.GetWindSpeedThresholdKmh())
	if err != nil {
		return nil, false, err
	}
	out, err := envmask.Apply(w, m)
	return out, err == nil, err
}

// latest picks the most recent non-empty composite and the true-colour
// median of the optical scenes that fed it.
func latest(composites []composite.Composite, scenes []classified) *Latest {
	for k := len(composites) - 1; k >= 0; k-- {
		c := composites[k]
		if c.Empty() || c.Image == nil {
			continue
		}
		l := &Latest{PeriodStart: c.Period.Start, Water: c.Image}
		var tc []*raster.Image
		for _, sc := range scenes {
			if sc.trueColor != nil && c.Period.Contains(sc.water.Acquired) {
				tc = append(tc, sc.trueColor)
			}
		}
		if len(tc) > 0 {
			img, err := composite.MedianImage("truecolor/"+c.Period.Start.Format(time.DateOnly), c.Period.Start, tc, sensor.Red, sensor.Green, sensor.Blue)
			if err == nil {
				l.TrueColor = img
			}
		}
		return l
	}
	return nil
}

// RegionResult is one region's outcome in a multi-region run.
type RegionResult struct {
	Region region.Region
	Series *TimeSeries
	Err    error
}

// RunRegions runs m over every region independently, at most
// max_parallel at a time. A failing region is reported in its result and
// does not stop its siblings; only context cancellation aborts the batch.
// Regions may nest; no parent total is derived from its children.
func (r *Runner) RunRegions(ctx context.Context, regions []region.Region, m *Models) ([]RegionResult, error) {
	out := make([]RegionResult, len(regions))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(r.Config.GetMaxParallel(), 1))
	for i, reg := range regions {
		g.Go(func() error {
			ts, err := r.Run(gctx, reg, m)
			if err != nil && gctx.Err() != nil {
				return gctx.Err()
			}
			if err != nil {
				monitoring.Logf("region %s failed: %v", reg.ID, err)
			}
			out[i] = RegionResult{Region: reg, Series: ts, Err: err}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
