// Package harmonize maps an optical sensor's reflectance onto the
// spectral response of the reference sensor with fixed per-band affine
// calibrations.
package harmonize

import (
	"github.com/banshee-data/waterextent/internal/raster"
	"github.com/banshee-data/waterextent/internal/water/sensor"
)

// Coefficients hold one gain/bias pair per common optical band, in
// sensor.OpticalBands order: y = Gain*x + Bias.
type Coefficients struct {
	Gain [6]float64
	Bias [6]float64
}

// Sentinel2ToLandsat8 is the HLS cross-calibration of Sentinel-2 MSI onto
// Landsat 8 OLI (blue, green, red, NIR, SWIR1, SWIR2).
var Sentinel2ToLandsat8 = Coefficients{
	Gain: [6]float64{0.9778, 1.0053, 0.9765, 0.9983, 0.9987, 1.003},
	Bias: [6]float64{-0.004, -0.0009, 0.0009, -0.0001, -0.0011, -0.0012},
}

// calibrations maps a non-reference source to its coefficients.
var calibrations = map[string]Coefficients{
	sensor.Sentinel2ID: Sentinel2ToLandsat8,
}

// For returns the calibration registered for a source.
func For(source string) (Coefficients, bool) {
	c, ok := calibrations[source]
	return c, ok
}

// Forward applies the transform to a six-band vector.
func (c Coefficients) Forward(x [6]float64) [6]float64 {
	var y [6]float64
	for k := range x {
		y[k] = c.Gain[k]*x[k] + c.Bias[k]
	}
	return y
}

// Inverse undoes Forward.
func (c Coefficients) Inverse(y [6]float64) [6]float64 {
	var x [6]float64
	for k := range y {
		x[k] = (y[k] - c.Bias[k]) / c.Gain[k]
	}
	return x
}

// Apply returns im harmonized onto the reference sensor. Reference-source
// images pass through unchanged; other sources need registered
// coefficients. im must carry the common optical bands.
func Apply(im *raster.Image, p sensor.Profile) (*raster.Image, error) {
	if p.Reference {
		return im, nil
	}
	c, ok := For(p.ID)
	if !ok {
		return nil, raster.Inputf("no harmonization coefficients for source %s", p.ID)
	}
	return ApplyCoefficients(im, c)
}

// ApplyCoefficients transforms the common optical bands of im with c.
func ApplyCoefficients(im *raster.Image, c Coefficients) (*raster.Image, error) {
	src, err := im.MustBands(sensor.OpticalBands...)
	if err != nil {
		return nil, err
	}
	out := im.Derive()
	for k, b := range src {
		dst := b.Clone()
		for i := range dst.Data {
			if dst.IsValid(i) {
				dst.Data[i] = c.Gain[k]*dst.Data[i] + c.Bias[k]
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
