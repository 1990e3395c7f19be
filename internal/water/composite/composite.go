package composite

import (
	"slices"
	"time"

	"github.com/banshee-data/waterextent/internal/raster"
)

// Composite is the fused result of one period.
type Composite struct {
	Period           Period
	Image            *raster.Image // nil when ImageCount is 0
	ImageCount       int
	Coverage         float64 // fraction of grid pixels holding data; 0 without images
	SourceImageIDs   []string
	SourceImageDates []time.Time
}

// Empty reports whether no image contributed to the composite.
func (c Composite) Empty() bool { return c.ImageCount == 0 }

// Build returns the per-pixel median of band over images, which must
// share a grid. Contributions are order-independent. An empty image set
// yields an empty composite with zero coverage rather than an error.
func Build(period Period, images []*raster.Image, band string) (Composite, error) {
	c := Composite{Period: period, ImageCount: len(images)}
	if len(images) == 0 {
		return c, nil
	}
	sorted := slices.Clone(images)
	raster.SortByTime(sorted)
	for _, im := range sorted {
		c.SourceImageIDs = append(c.SourceImageIDs, im.ID)
		c.SourceImageDates = append(c.SourceImageDates, im.Acquired)
	}

	med, err := raster.Median(sorted, band)
	if err != nil {
		return Composite{}, err
	}
	first := sorted[0]
	c.Image = &raster.Image{
		ID:       "composite/" + period.Start.Format(time.DateOnly),
		Source:   "composite",
		Acquired: period.Start,
		Grid:     first.Grid,
		Bands:    []raster.Band{med},
		Properties: map[string]float64{
			"image_count": float64(len(sorted)),
		},
	}
	if n := first.Grid.Len(); n > 0 {
		c.Coverage = float64(med.ValidCount()) / float64(n)
	}
	c.Image.Properties["coverage"] = c.Coverage
	return c, nil
}

// MedianImage returns the per-pixel median of each named band across
// images sharing a grid, e.g. a true-colour composite from red, green and
// blue.
func MedianImage(id string, at time.Time, images []*raster.Image, bands ...string) (*raster.Image, error) {
	if len(images) == 0 {
		return nil, raster.Inputf("median of empty image set")
	}
	out := &raster.Image{ID: id, Source: "composite", Acquired: at, Grid: images[0].Grid}
	for _, b := range bands {
		med, err := raster.Median(images, b)
		if err != nil {
			return nil, err
		}
		out.Bands = append(out.Bands, med)
	}
	return out, nil
}
