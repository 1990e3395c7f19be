// Package pipeline wires the classification stages into one run:
// training the per-modality models, classifying and masking every scene
// in the query range, compositing by period and reducing each composite
// over a region into a time series of area records.
package pipeline

import (
	"slices"
	"time"

	"github.com/banshee-data/waterextent/internal/raster"
)

// Status flags how an AreaRecord was produced.
type Status string

const (
	StatusOK            Status = "ok"
	StatusNoImages      Status = "no_images"
	StatusResourceLimit Status = "resource_limit"
	StatusError         Status = "error"
)

// AreaRecord is the water area of one region in one period. Records
// whose computation failed or had no imagery keep their slot with a nil
// area and a status, so no period is silently omitted.
type AreaRecord struct {
	RegionID         string      `json:"region_id"`
	PeriodStart      time.Time   `json:"period_start"`
	PeriodEnd        time.Time   `json:"period_end"`
	WaterAreaM2      *float64    `json:"water_area_m2"`
	ImageCount       int         `json:"image_count"`
	SourceImageDates []time.Time `json:"source_image_dates"`
	Coverage         float64     `json:"coverage"`
	Status           Status      `json:"status"`
	Error            string      `json:"error,omitempty"`
}

// Latest is the most recent non-empty period's output.
type Latest struct {
	PeriodStart time.Time     `json:"period_start"`
	Water       *raster.Image `json:"-"`
	TrueColor   *raster.Image `json:"-"` // nil when no optical scene fell in the period
}

// TimeSeries is the area history of one region, ordered by period start.
type TimeSeries struct {
	RunID       string       `json:"run_id"`
	RegionID    string       `json:"region_id"`
	Granularity string       `json:"granularity"`
	Start       time.Time    `json:"start"`
	End         time.Time    `json:"end"`
	Records     []AreaRecord `json:"records"`
	Latest      *Latest      `json:"-"`
}

// Sort orders records by period start.
func (ts *TimeSeries) Sort() {
	slices.SortStableFunc(ts.Records, func(a, b AreaRecord) int {
		return a.PeriodStart.Compare(b.PeriodStart)
	})
}

// Area returns the record's water area, or 0 and false when it is null.
func (r AreaRecord) Area() (float64, bool) {
	if r.WaterAreaM2 == nil {
		return 0, false
	}
	return *r.WaterAreaM2, true
}
