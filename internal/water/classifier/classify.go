package classifier

import (
	"github.com/banshee-data/waterextent/internal/raster"
)

// WaterBand is the band name of classified images: 1 water, 0 non-water.
const WaterBand = "water"

// Classify applies m to every pixel of a feature raster. The raster's
// bands must equal the model schema in name and order. Pixels with any
// nodata predictor are nodata in the output.
func Classify(im *raster.Image, m *Model) (*raster.Image, error) {
	names := im.BandNames()
	if !m.Schema.Equal(names) {
		return nil, raster.Inputf("image %s bands %v do not match model schema %v", im.ID, names, m.Schema)
	}
	n := im.Grid.Len()
	out := raster.NewBand(WaterBand, n)
	x := make([]float64, len(m.Schema))
	for i := 0; i < n; i++ {
		ok := true
		for k := range im.Bands {
			b := &im.Bands[k]
			if !b.IsValid(i) {
				ok = false
				break
			}
			x[k] = b.Data[i]
		}
		if !ok {
			continue
		}
		label := 0.0
		if m.votes(x) > m.Params.VoteThreshold {
			label = 1
		}
		out.Set(i, label)
	}
	return im.Derive(out), nil
}
