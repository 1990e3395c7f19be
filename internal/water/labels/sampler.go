package labels

import (
	"math"
	"math/rand/v2"
	"slices"

	"github.com/banshee-data/waterextent/internal/monitoring"
	"github.com/banshee-data/waterextent/internal/raster"
	"github.com/banshee-data/waterextent/internal/water/features"
)

// Precedence orders the images of a training mosaic. The first image in
// order that holds a complete feature vector at a point supplies it.
type Precedence string

const (
	MostRecentFirst  Precedence = "most_recent_first"
	LeastCloudyFirst Precedence = "least_cloudy_first"
)

// CloudFunc returns an image's scene cloud percentage, or false if unknown.
type CloudFunc func(*raster.Image) (float64, bool)

// Order sorts images in place by precedence. Ties break on acquisition
// time (newest first), then image ID, so the order is total.
func Order(images []*raster.Image, p Precedence, cloud CloudFunc) error {
	byRecency := func(a, b *raster.Image) int {
		if c := b.Acquired.Compare(a.Acquired); c != 0 {
			return c
		}
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	}
	switch p {
	case MostRecentFirst, "":
		slices.SortStableFunc(images, byRecency)
	case LeastCloudyFirst:
		cc := func(im *raster.Image) float64 {
			if cloud != nil {
				if v, ok := cloud(im); ok {
					return v
				}
			}
			return math.Inf(1)
		}
		slices.SortStableFunc(images, func(a, b *raster.Image) int {
			ca, cb := cc(a), cc(b)
			switch {
			case ca < cb:
				return -1
			case ca > cb:
				return 1
			}
			return byRecency(a, b)
		})
	default:
		return raster.Inputf("unknown mosaic precedence %q", p)
	}
	return nil
}

// Sample is one labeled feature vector.
type Sample struct {
	Point    Point
	Vector   features.Vector
	Label    int
	SplitKey float64 // uniform in [0,1), fixed by seed and point order
	ImageID  string  // mosaic member that supplied the vector
}

// Result is the outcome of sampling a label set.
type Result struct {
	Samples []Sample
	Outside int // points outside every image footprint
	Nodata  int // points inside a footprint but without a complete vector
}

// SampleMosaic samples the mosaic of images (already in precedence order)
// at every point, at each contributing image's native resolution. Points
// that cannot be sampled are dropped and counted. Split keys come from a
// PCG stream seeded with seed and are drawn for every point in order, so
// a point keeps its key regardless of which other points were dropped.
func SampleMosaic(images []*raster.Image, schema features.Schema, points []Point, seed uint64) (Result, error) {
	for _, im := range images {
		if _, err := im.MustBands(schema...); err != nil {
			return Result{}, err
		}
	}
	rng := rand.New(rand.NewPCG(seed, 0x5eed5a11))

	var res Result
	for _, p := range points {
		key := rng.Float64()
		inside := false
		var hit *raster.Image
		var vec features.Vector
		for _, im := range images {
			if !p.Start.IsZero() && im.Acquired.Before(p.Start) {
				continue
			}
			if !p.End.IsZero() && !im.Acquired.Before(p.End) {
				continue
			}
			c, r, ok := im.Grid.PixelAt(p.X, p.Y)
			if !ok {
				continue
			}
			inside = true
			v, ok, err := features.VectorAt(im, schema, im.Grid.Index(c, r))
			if err != nil {
				return Result{}, err
			}
			if ok {
				hit, vec = im, v
				break
			}
		}
		switch {
		case hit != nil:
			res.Samples = append(res.Samples, Sample{Point: p, Vector: vec, Label: p.Label, SplitKey: key, ImageID: hit.ID})
		case inside:
			res.Nodata++
		default:
			res.Outside++
		}
	}
	if res.Outside > 0 {
		monitoring.Warnf(monitoring.WarnPointOutside, "%d of %d points outside the raster extent", res.Outside, len(points))
	}
	if res.Nodata > 0 {
		monitoring.Warnf(monitoring.WarnPointNodata, "%d of %d points without complete features", res.Nodata, len(points))
	}
	return res, nil
}

// Split partitions samples by split key: keys below ratio train, the rest test.
func Split(samples []Sample, ratio float64) (train, test []Sample) {
	for _, s := range samples {
		if s.SplitKey < ratio {
			train = append(train, s)
		} else {
			test = append(test, s)
		}
	}
	return train, test
}
