// Package zonal reduces a classified composite over a region polygon to a
// water surface area.
package zonal

import (
	"fmt"

	"github.com/paulmach/orb"

	"github.com/banshee-data/waterextent/internal/raster"
	"github.com/banshee-data/waterextent/internal/water/labels"
)

// Result is the reduction of one composite over one region.
type Result struct {
	WaterAreaM2 float64 `json:"water_area_m2"`
	WaterPixels int64   `json:"water_pixels"`
	Pixels      int64   `json:"pixels"`       // pixel centres inside the region
	ValidPixels int64   `json:"valid_pixels"` // of those, unmasked pixels
}

// WaterArea sums the ground area of every pixel of band labeled water
// whose centre lies in region, at the composite's native resolution.
// Regions covering more than maxPixels pixels fail with ErrResourceLimit
// instead of being truncated. Regions may be nested; each call is
// independent and nothing is rolled up into a parent.
func WaterArea(im *raster.Image, band string, region orb.Geometry, maxPixels int64) (Result, error) {
	if im == nil {
		return Result{}, raster.Inputf("zonal reduction of nil composite")
	}
	if region == nil {
		return Result{}, raster.Inputf("zonal reduction over nil region")
	}
	var res Result
	st, err := raster.ReduceRegion(im, band, region, maxPixels, func(v, area float64) {
		if v == labels.Water {
			res.WaterAreaM2 += area
			res.WaterPixels++
		}
	})
	res.Pixels, res.ValidPixels = st.Pixels, st.ValidPixels
	if err != nil {
		return res, fmt.Errorf("zonal %s: %w", im.ID, err)
	}
	return res, nil
}
