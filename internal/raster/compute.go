package raster

import (
	"math"
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"gonum.org/v1/gonum/stat"
)

// Mosaic fills each pixel of each band from the first image, in the given
// order, that holds data there. Images must share a grid; the band set is
// taken from the first image and must exist in every other image.
func Mosaic(images []*Image) (*Image, error) {
	if len(images) == 0 {
		return nil, Inputf("mosaic of empty image set")
	}
	first := images[0]
	names := first.BandNames()
	for _, im := range images[1:] {
		if !im.Grid.SameAs(first.Grid) {
			return nil, Inputf("mosaic grid mismatch: %s vs %s", im.Grid, first.Grid)
		}
		if _, err := im.MustBands(names...); err != nil {
			return nil, err
		}
	}
	n := first.Grid.Len()
	out := first.Derive()
	for _, name := range names {
		dst := NewBand(name, n)
		for _, im := range images {
			src, _ := im.Band(name)
			for i := 0; i < n; i++ {
				if !dst.Valid[i] && src.IsValid(i) {
					dst.Set(i, src.Data[i])
				}
			}
		}
		out.Bands = append(out.Bands, dst)
	}
	return out, nil
}

// Median returns the per-pixel median of band across images, ignoring
// nodata. Even-sized sets resolve to the lower middle value, so a binary
// {0,1} tie yields 0. Pixels with no data in any image stay nodata.
func Median(images []*Image, band string) (Band, error) {
	if len(images) == 0 {
		return Band{}, Inputf("median of empty image set")
	}
	grid := images[0].Grid
	srcs := make([]*Band, len(images))
	for k, im := range images {
		if !im.Grid.SameAs(grid) {
			return Band{}, Inputf("median grid mismatch: %s vs %s", im.Grid, grid)
		}
		b, ok := im.Band(band)
		if !ok {
			return Band{}, Inputf("image %s is missing band %q", im.ID, band)
		}
		srcs[k] = b
	}
	n := grid.Len()
	out := NewBand(band, n)
	vals := make([]float64, 0, len(srcs))
	for i := 0; i < n; i++ {
		vals = vals[:0]
		for _, b := range srcs {
			if b.IsValid(i) {
				vals = append(vals, b.Data[i])
			}
		}
		if len(vals) == 0 {
			continue
		}
		sort.Float64s(vals)
		out.Set(i, stat.Quantile(0.5, stat.Empirical, vals, nil))
	}
	return out, nil
}

// BoxMean convolves band with a normalized square kernel of the given
// pixel radius. Each output pixel is the mean of the valid pixels in its
// (2r+1)x(2r+1) window; pixels that are nodata in the input stay nodata.
func BoxMean(b *Band, g Grid, radius int) (Band, error) {
	if radius < 0 {
		return Band{}, Inputf("negative kernel radius %d", radius)
	}
	if len(b.Data) != g.Len() {
		return Band{}, Inputf("band %q length %d does not match grid %s", b.Name, len(b.Data), g)
	}
	w, h := g.Width, g.Height
	// Summed-area tables over values and valid counts, (w+1)x(h+1).
	sum := make([]float64, (w+1)*(h+1))
	cnt := make([]float64, (w+1)*(h+1))
	at := func(c, r int) int { return r*(w+1) + c }
	for r := 0; r < h; r++ {
		for c := 0; c < w; c++ {
			i := g.Index(c, r)
			v, k := 0.0, 0.0
			if b.IsValid(i) {
				v, k = b.Data[i], 1
			}
			sum[at(c+1, r+1)] = v + sum[at(c, r+1)] + sum[at(c+1, r)] - sum[at(c, r)]
			cnt[at(c+1, r+1)] = k + cnt[at(c, r+1)] + cnt[at(c+1, r)] - cnt[at(c, r)]
		}
	}
	out := NewBand(b.Name, g.Len())
	for r := 0; r < h; r++ {
		r0, r1 := max(r-radius, 0), min(r+radius+1, h)
		for c := 0; c < w; c++ {
			i := g.Index(c, r)
			if !b.IsValid(i) {
				continue
			}
			c0, c1 := max(c-radius, 0), min(c+radius+1, w)
			s := sum[at(c1, r1)] - sum[at(c0, r1)] - sum[at(c1, r0)] + sum[at(c0, r0)]
			k := cnt[at(c1, r1)] - cnt[at(c0, r1)] - cnt[at(c1, r0)] + cnt[at(c0, r0)]
			out.Set(i, s/k)
		}
	}
	return out, nil
}

// Resample reprojects im onto target by nearest pixel centre. Both grids
// must share a CRS.
func Resample(im *Image, target Grid) (*Image, error) {
	if im.Grid.SameAs(target) {
		return im, nil
	}
	if im.Grid.CRS != target.CRS {
		return nil, Inputf("cannot resample %s from %s to %s", im.ID, im.Grid.CRS, target.CRS)
	}
	out := im.Derive()
	out.Grid = target
	n := target.Len()
	for bi := range im.Bands {
		src := &im.Bands[bi]
		dst := NewBand(src.Name, n)
		for r := 0; r < target.Height; r++ {
			for c := 0; c < target.Width; c++ {
				x, y := target.Center(c, r)
				sc, sr, ok := im.Grid.PixelAt(x, y)
				if !ok {
					continue
				}
				si := im.Grid.Index(sc, sr)
				if src.IsValid(si) {
					dst.Set(target.Index(c, r), src.Data[si])
				}
			}
		}
		out.Bands = append(out.Bands, dst)
	}
	return out, nil
}

// SampleAt returns the band value of the pixel containing (x,y).
func SampleAt(im *Image, band string, x, y float64) (float64, bool) {
	b, ok := im.Band(band)
	if !ok {
		return 0, false
	}
	c, r, ok := im.Grid.PixelAt(x, y)
	if !ok {
		return 0, false
	}
	i := im.Grid.Index(c, r)
	if !b.IsValid(i) {
		return 0, false
	}
	return b.Data[i], true
}

// RegionStats summarizes the pixels a region reduction visited.
type RegionStats struct {
	Pixels      int64 // pixel centres inside the region
	ValidPixels int64 // of those, pixels holding data
}

// ReduceRegion calls fn with the value and ground area of every valid
// pixel of band whose centre lies inside region. The reduction fails with
// ErrResourceLimit as soon as more than maxPixels pixels fall inside the
// region; maxPixels <= 0 disables the guard.
func ReduceRegion(im *Image, band string, region orb.Geometry, maxPixels int64, fn func(v, areaM2 float64)) (RegionStats, error) {
	var st RegionStats
	b, ok := im.Band(band)
	if !ok {
		return st, Inputf("image %s is missing band %q", im.ID, band)
	}
	g := im.Grid
	rb := region.Bound()
	if !g.Bound().Intersects(rb) {
		return st, nil
	}
	c0, c1 := pixelSpan(rb.Min[0], rb.Max[0], g.OriginX, g.PixelWidth, g.Width)
	r0, r1 := pixelSpan(rb.Min[1], rb.Max[1], g.OriginY, g.PixelHeight, g.Height)
	for r := r0; r < r1; r++ {
		area := g.PixelAreaM2(r)
		for c := c0; c < c1; c++ {
			x, y := g.Center(c, r)
			if !Contains(region, orb.Point{x, y}) {
				continue
			}
			st.Pixels++
			if maxPixels > 0 && st.Pixels > maxPixels {
				return st, ResourceLimitf("region reduction over %s exceeds max_pixels=%d", im.ID, maxPixels)
			}
			i := g.Index(c, r)
			if !b.IsValid(i) {
				continue
			}
			st.ValidPixels++
			fn(b.Data[i], area)
		}
	}
	return st, nil
}

// pixelSpan converts a coordinate interval to a clamped [lo,hi) index span.
func pixelSpan(lo, hi, origin, size float64, n int) (int, int) {
	a := (lo - origin) / size
	b := (hi - origin) / size
	if a > b {
		a, b = b, a
	}
	i0 := max(int(math.Floor(a)), 0)
	i1 := min(int(math.Ceil(b))+1, n)
	return i0, i1
}

// Contains reports whether p lies inside an areal geometry.
func Contains(g orb.Geometry, p orb.Point) bool {
	switch t := g.(type) {
	case orb.Polygon:
		return planar.PolygonContains(t, p)
	case orb.MultiPolygon:
		return planar.MultiPolygonContains(t, p)
	case orb.Ring:
		return planar.RingContains(t, p)
	case orb.Bound:
		return t.Contains(p)
	case orb.Collection:
		for _, sub := range t {
			if Contains(sub, p) {
				return true
			}
		}
	}
	return false
}
