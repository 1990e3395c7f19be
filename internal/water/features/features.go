// Package features derives the classifier predictors from imagery:
// four spectral indices for optical sources, raw channels for radar.
package features

import (
	"slices"

	"github.com/banshee-data/waterextent/internal/raster"
	"github.com/banshee-data/waterextent/internal/water/sensor"
)

// Optical index names.
const (
	MNDWI  = "MNDWI"
	AWEIsh = "AWEIsh"
	TCW    = "TCW"
	NDVI   = "NDVI"
)

// Schema is an ordered list of predictor names. Order is part of the
// schema: a model trained on one order rejects any other.
type Schema []string

// Predictor schemas per modality.
var (
	OpticalSchema = Schema{MNDWI, AWEIsh, TCW, NDVI}
	RadarSchema   = Schema{sensor.VV, sensor.VH, sensor.Angle}
)

// SchemaFor returns the predictor schema of a modality.
func SchemaFor(m sensor.Modality) (Schema, error) {
	switch m {
	case sensor.Optical:
		return slices.Clone(OpticalSchema), nil
	case sensor.Radar:
		return slices.Clone(RadarSchema), nil
	}
	return nil, raster.Inputf("unknown modality %q", m)
}

// Equal reports whether two schemas name the same predictors in the same order.
func (s Schema) Equal(o Schema) bool { return slices.Equal(s, o) }

// Vector is one observation of a schema's predictors.
type Vector struct {
	Schema Schema
	Values []float64
}

// Indices computes MNDWI, AWEIsh, TCW and NDVI from one reflectance
// pixel. A ratio index with a zero denominator is reported invalid; the
// other indices of the pixel are unaffected.
func Indices(blue, green, red, nir, swir1, swir2 float64) (vals [4]float64, valid [4]bool) {
	if d := green + swir1; d != 0 {
		vals[0], valid[0] = (green-swir1)/d, true
	}
	vals[1], valid[1] = blue+2.5*green-1.5*(nir+swir1)-0.25*swir2, true
	vals[2], valid[2] = 0.1511*blue+0.1973*green+0.3283*red+0.3407*nir-0.7117*swir1-0.4559*swir2, true
	if d := nir + red; d != 0 {
		vals[3], valid[3] = (nir-red)/d, true
	}
	return vals, valid
}

// Extract returns the feature raster of im for modality m: exactly the
// schema's bands, in schema order.
func Extract(im *raster.Image, m sensor.Modality) (*raster.Image, error) {
	switch m {
	case sensor.Optical:
		return ExtractOptical(im)
	case sensor.Radar:
		return im.Select(RadarSchema...)
	}
	return nil, raster.Inputf("unknown modality %q", m)
}

// ExtractOptical computes the optical indices from the common optical bands.
func ExtractOptical(im *raster.Image) (*raster.Image, error) {
	src, err := im.MustBands(sensor.OpticalBands...)
	if err != nil {
		return nil, err
	}
	n := im.Grid.Len()
	out := make([]raster.Band, len(OpticalSchema))
	for k, name := range OpticalSchema {
		out[k] = raster.NewBand(name, n)
	}
	for i := 0; i < n; i++ {
		ok := true
		for _, b := range src {
			ok = ok && b.IsValid(i)
		}
		if !ok {
			continue
		}
		vals, valid := Indices(src[0].Data[i], src[1].Data[i], src[2].Data[i], src[3].Data[i], src[4].Data[i], src[5].Data[i])
		for k := range out {
			if valid[k] {
				out[k].Set(i, vals[k])
			}
		}
	}
	return im.Derive(out...), nil
}

// Mapper returns Extract bound to m, for use with raster.Collection.Map.
func Mapper(m sensor.Modality) func(*raster.Image) (*raster.Image, error) {
	return func(im *raster.Image) (*raster.Image, error) {
		return Extract(im, m)
	}
}

// VectorAt reads pixel i of a feature raster as a Vector. It reports false
// when any predictor is nodata at i.
func VectorAt(im *raster.Image, schema Schema, i int) (Vector, bool, error) {
	bands, err := im.MustBands(schema...)
	if err != nil {
		return Vector{}, false, err
	}
	v := Vector{Schema: schema, Values: make([]float64, len(bands))}
	for k, b := range bands {
		if !b.IsValid(i) {
			return Vector{}, false, nil
		}
		v.Values[k] = b.Data[i]
	}
	return v, true, nil
}
