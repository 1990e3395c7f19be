// Package composite partitions a date range into periods and fuses the
// classified images of each period into one per-pixel median composite.
package composite

import (
	"time"

	"github.com/banshee-data/waterextent/internal/raster"
)

// Granularities.
const (
	Week  = "week"
	Month = "month"
)

// Period is the half-open interval [Start, End).
type Period struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Contains reports whether t falls in the period.
func (p Period) Contains(t time.Time) bool {
	return !t.Before(p.Start) && t.Before(p.End)
}

// Periods partitions [start, end) into contiguous, non-overlapping
// periods. Weekly periods are seven days from start. Monthly periods
// follow calendar months: the first runs from start to the first of the
// next month. The final period is clipped at end.
func Periods(start, end time.Time, granularity string) ([]Period, error) {
	if !start.Before(end) {
		return nil, raster.Inputf("empty date range %s..%s", start.Format(time.DateOnly), end.Format(time.DateOnly))
	}
	var next func(time.Time) time.Time
	switch granularity {
	case Week:
		next = func(t time.Time) time.Time { return t.AddDate(0, 0, 7) }
	case Month:
		next = func(t time.Time) time.Time {
			return time.Date(t.Year(), t.Month()+1, 1, 0, 0, 0, 0, t.Location())
		}
	default:
		return nil, raster.Inputf("unknown period granularity %q", granularity)
	}
	var out []Period
	for s := start; s.Before(end); {
		e := next(s)
		if e.After(end) {
			e = end
		}
		out = append(out, Period{Start: s, End: e})
		s = e
	}
	return out, nil
}

// Assign groups images by the period containing their acquisition time.
// The result has one (possibly empty) slice per period; images outside
// every period are returned separately.
func Assign(periods []Period, images []*raster.Image) (groups [][]*raster.Image, outside []*raster.Image) {
	groups = make([][]*raster.Image, len(periods))
	for _, im := range images {
		placed := false
		for k, p := range periods {
			if p.Contains(im.Acquired) {
				groups[k] = append(groups[k], im)
				placed = true
				break
			}
		}
		if !placed {
			outside = append(outside, im)
		}
	}
	return groups, outside
}
