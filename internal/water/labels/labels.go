// Package labels holds labeled training points and samples feature
// rasters at their locations.
package labels

import (
	"fmt"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/banshee-data/waterextent/internal/monitoring"
	"github.com/banshee-data/waterextent/internal/raster"
)

// Class labels.
const (
	NonWater = 0
	Water    = 1
)

// Point is a labeled observation. Start and End optionally bound the
// acquisitions sampled for it; zero values defer to the training window.
type Point struct {
	ID    string    `json:"id"`
	X     float64   `json:"x"`
	Y     float64   `json:"y"`
	Label int       `json:"label"`
	Start time.Time `json:"start,omitempty"`
	End   time.Time `json:"end,omitempty"`
}

// Location returns the point as an orb.Point.
func (p Point) Location() orb.Point { return orb.Point{p.X, p.Y} }

// Store is an ordered set of labeled points keyed by coordinate. Adding a
// point at an existing coordinate replaces the earlier label.
type Store struct {
	points     []Point
	index      map[orb.Point]int
	duplicates int
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{index: make(map[orb.Point]int)}
}

// Add inserts p. A coordinate already present is overwritten (last write
// wins) and reported as a data-quality warning; Add returns true in that case.
func (s *Store) Add(p Point) (bool, error) {
	if p.Label != Water && p.Label != NonWater {
		return false, raster.Inputf("point %s has label %d, want 0 or 1", p.ID, p.Label)
	}
	key := p.Location()
	if i, ok := s.index[key]; ok {
		prev := s.points[i]
		s.points[i] = p
		s.duplicates++
		monitoring.Warnf(monitoring.WarnDuplicateLabel,
			"point %s at (%g, %g) relabeled %d -> %d by %s", prev.ID, p.X, p.Y, prev.Label, p.Label, p.ID)
		return true, nil
	}
	s.index[key] = len(s.points)
	s.points = append(s.points, p)
	return false, nil
}

// Merge builds a store from a water-labeled and a non-water-labeled set.
// Labels on the inputs are overwritten by the set they arrive in; water
// points are added first.
func Merge(water, nonWater []Point) (*Store, error) {
	s := NewStore()
	for _, set := range []struct {
		pts   []Point
		label int
	}{{water, Water}, {nonWater, NonWater}} {
		for _, p := range set.pts {
			p.Label = set.label
			if _, err := s.Add(p); err != nil {
				return nil, err
			}
		}
	}
	return s, nil
}

// Points returns the stored points in insertion order.
func (s *Store) Points() []Point {
	out := make([]Point, len(s.points))
	copy(out, s.points)
	return out
}

// Len returns the number of distinct coordinates.
func (s *Store) Len() int { return len(s.points) }

// Duplicates returns how many Add calls replaced an existing coordinate.
func (s *Store) Duplicates() int { return s.duplicates }

// Counts returns the number of water and non-water points.
func (s *Store) Counts() (water, nonWater int) {
	for _, p := range s.points {
		if p.Label == Water {
			water++
		} else {
			nonWater++
		}
	}
	return water, nonWater
}

// FromGeoJSON reads Point features. The label is taken from the numeric
// property labelProp; features without it get defaultLabel, which must be
// 0 or 1, or -1 to reject them.
func FromGeoJSON(data []byte, labelProp string, defaultLabel int) ([]Point, error) {
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, raster.Inputf("parse label GeoJSON: %v", err)
	}
	out := make([]Point, 0, len(fc.Features))
	for i, f := range fc.Features {
		pt, ok := f.Geometry.(orb.Point)
		if !ok {
			return nil, raster.Inputf("label feature %d is %s, want Point", i, f.Geometry.GeoJSONType())
		}
		label := defaultLabel
		if v, ok := f.Properties[labelProp]; ok {
			num, ok := v.(float64)
			if !ok {
				return nil, raster.Inputf("label feature %d property %q is %T, want number", i, labelProp, v)
			}
			label = int(num)
		}
		if label != Water && label != NonWater {
			return nil, raster.Inputf("label feature %d has no valid %q", i, labelProp)
		}
		id := fmt.Sprintf("f%d", i)
		if v, ok := f.Properties["id"]; ok {
			id = fmt.Sprint(v)
		} else if f.ID != nil {
			id = fmt.Sprint(f.ID)
		}
		out = append(out, Point{ID: id, X: pt[0], Y: pt[1], Label: label})
	}
	return out, nil
}
