// Package envmask suppresses false-positive water detections with
// environmental priors: speckle smoothing and wind masking for radar, and
// a Height Above Nearest Drainage mask for every classified image.
package envmask

import (
	"fmt"
	"math"

	"github.com/banshee-data/waterextent/internal/raster"
	"github.com/banshee-data/waterextent/internal/units"
	"github.com/banshee-data/waterextent/internal/water/classifier"
)

// WindSpeedBand is the band of the image MaxWind returns.
const WindSpeedBand = "wind_speed_kmh"

// Smooth denoises a binary classification: a normalized box filter of the
// given pixel radius followed by a strict re-threshold. A pixel stays
// water only if more than threshold of its valid neighbourhood is water.
func Smooth(im *raster.Image, radius int, threshold float64) (*raster.Image, error) {
	w, ok := im.Band(classifier.WaterBand)
	if !ok {
		return nil, raster.Inputf("image %s is missing band %q", im.ID, classifier.WaterBand)
	}
	mean, err := raster.BoxMean(w, im.Grid, radius)
	if err != nil {
		return nil, err
	}
	out := raster.NewBand(classifier.WaterBand, im.Grid.Len())
	for i, v := range mean.Data {
		if !mean.IsValid(i) {
			continue
		}
		if v > threshold {
			out.Set(i, 1)
		} else {
			out.Set(i, 0)
		}
	}
	return im.Derive(out), nil
}

// MaxWind reduces hourly wind component images to the per-pixel maximum
// of each component over the set, then returns the speed
// sqrt(u^2 + v^2) in km/h. All images must share one grid.
func MaxWind(images []*raster.Image, uBand, vBand string) (*raster.Image, error) {
	if len(images) == 0 {
		return nil, raster.Inputf("no wind images")
	}
	g := images[0].Grid
	n := g.Len()
	uMax := make([]float64, n)
	vMax := make([]float64, n)
	seen := make([]bool, n)
	for i := range uMax {
		uMax[i], vMax[i] = math.Inf(-1), math.Inf(-1)
	}
	for _, im := range images {
		if !im.Grid.SameAs(g) {
			return nil, raster.Inputf("wind grid mismatch: %s vs %s", im.Grid, g)
		}
		bands, err := im.MustBands(uBand, vBand)
		if err != nil {
			return nil, err
		}
		u, v := bands[0], bands[1]
		for i := 0; i < n; i++ {
			if !u.IsValid(i) || !v.IsValid(i) {
				continue
			}
			uMax[i] = math.Max(uMax[i], u.Data[i])
			vMax[i] = math.Max(vMax[i], v.Data[i])
			seen[i] = true
		}
	}
	out := raster.NewBand(WindSpeedBand, n)
	for i := 0; i < n; i++ {
		if seen[i] {
			out.Set(i, units.WindSpeedKMH(uMax[i], vMax[i]))
		}
	}
	latest := images[len(images)-1]
	return latest.Derive(out), nil
}

// ThresholdMask samples band of src at the centre of every target pixel
// and keeps pixels whose value is strictly below threshold. Pixels with
// no source value are excluded. Centres are reprojected when src is in
// another CRS, e.g. geographic reanalysis wind over a UTM scene.
func ThresholdMask(target raster.Grid, src *raster.Image, band string, threshold float64) (raster.Mask, error) {
	toSrc, err := raster.Projection(target.CRS, src.Grid.CRS)
	if err != nil {
		return nil, fmt.Errorf("mask %s onto %s grid: %w", src.ID, target.CRS, err)
	}
	if _, ok := src.Band(band); !ok {
		return nil, raster.Inputf("image %s is missing band %q", src.ID, band)
	}
	m := make(raster.Mask, target.Len())
	for r := 0; r < target.Height; r++ {
		for c := 0; c < target.Width; c++ {
			x, y := target.Center(c, r)
			v, ok := raster.SampleIn(src, band, toSrc, x, y)
			m[target.Index(c, r)] = ok && v < threshold
		}
	}
	return m, nil
}

// WindMask excludes pixels where the wind speed is at or above thresholdKmh.
func WindMask(target raster.Grid, wind *raster.Image, thresholdKmh float64) (raster.Mask, error) {
	return ThresholdMask(target, wind, WindSpeedBand, thresholdKmh)
}

// HandMask excludes pixels whose height above nearest drainage is at or
// above thresholdM.
func HandMask(target raster.Grid, hand *raster.Image, band string, thresholdM float64) (raster.Mask, error) {
	return ThresholdMask(target, hand, band, thresholdM)
}

// Apply excludes every pixel removed by any of the masks.
func Apply(im *raster.Image, masks ...raster.Mask) (*raster.Image, error) {
	if len(masks) == 0 {
		return im, nil
	}
	m, err := raster.And(masks...)
	if err != nil {
		return nil, err
	}
	return im.UpdateMask(m)
}
