// Package qa applies per-source quality masks to optical imagery and
// scales digital numbers to reflectance.
package qa

import (
	"github.com/banshee-data/waterextent/internal/raster"
	"github.com/banshee-data/waterextent/internal/water/sensor"
)

// Apply returns a new image holding the six common optical bands of im in
// reflectance units, with every pixel flagged by p's QA bits set to
// nodata. The QA band is dropped. im is not modified.
func Apply(im *raster.Image, p sensor.Profile) (*raster.Image, error) {
	if p.Modality != sensor.Optical {
		return nil, raster.Inputf("quality mask requested for %s source %s", p.Modality, p.ID)
	}
	if p.QABand == "" {
		return nil, raster.Inputf("source %s has no QA band configured", p.ID)
	}
	qaBand, ok := im.Band(p.QABand)
	if !ok {
		return nil, raster.Inputf("image %s is missing QA band %q", im.ID, p.QABand)
	}
	src, err := im.MustBands(p.SourceBands...)
	if err != nil {
		return nil, err
	}

	var flags uint64
	for _, b := range p.QAMaskBits {
		flags |= 1 << b
	}
	scale := p.ScaleFactor
	if scale == 0 {
		scale = 1
	}

	n := im.Grid.Len()
	keep := make(raster.Mask, n)
	for i := 0; i < n; i++ {
		keep[i] = qaBand.IsValid(i) && uint64(qaBand.Data[i])&flags == 0
	}

	out := im.Derive()
	for k, name := range sensor.OpticalBands {
		dst := raster.NewBand(name, n)
		for i := 0; i < n; i++ {
			if keep[i] && src[k].IsValid(i) {
				dst.Set(i, src[k].Data[i]/scale)
			}
		}
		out.Bands = append(out.Bands, dst)
	}
	return out, nil
}

// Mapper returns Apply bound to p, for use with raster.Collection.Map.
func Mapper(p sensor.Profile) func(*raster.Image) (*raster.Image, error) {
	return func(im *raster.Image) (*raster.Image, error) {
		return Apply(im, p)
	}
}
