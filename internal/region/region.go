// Package region is the catalog of area-of-interest polygons. Regions
// carry a state / forest / ranger district / allotment hierarchy and are
// looked up by equality filters on those labels.
package region

import (
	"cmp"
	"fmt"
	"os"
	"slices"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/banshee-data/waterextent/internal/raster"
)

// Hierarchy levels, outermost first.
const (
	LevelState     = "state"
	LevelForest    = "forest"
	LevelDistrict  = "district"
	LevelAllotment = "allotment"
)

// Levels lists the hierarchy levels outermost first.
var Levels = []string{LevelState, LevelForest, LevelDistrict, LevelAllotment}

// Region is one polygon with its hierarchical labels.
type Region struct {
	ID        string       `json:"id"`
	State     string       `json:"state,omitempty"`
	Forest    string       `json:"forest,omitempty"`
	District  string       `json:"district,omitempty"`
	Allotment string       `json:"allotment,omitempty"`
	Geometry  orb.Geometry `json:"-"`
}

// Bound returns the region's bounding box.
func (r Region) Bound() orb.Bound { return r.Geometry.Bound() }

// Label returns the region's label at a hierarchy level.
func (r Region) Label(level string) string {
	switch level {
	case LevelState:
		return r.State
	case LevelForest:
		return r.Forest
	case LevelDistrict:
		return r.District
	case LevelAllotment:
		return r.Allotment
	}
	return ""
}

// Filter selects regions by label equality. Empty fields match anything.
type Filter struct {
	State     string `json:"state,omitempty"`
	Forest    string `json:"forest,omitempty"`
	District  string `json:"district,omitempty"`
	Allotment string `json:"allotment,omitempty"`
}

// Matches reports whether r satisfies every non-empty field of f.
func (f Filter) Matches(r Region) bool {
	return (f.State == "" || f.State == r.State) &&
		(f.Forest == "" || f.Forest == r.Forest) &&
		(f.District == "" || f.District == r.District) &&
		(f.Allotment == "" || f.Allotment == r.Allotment)
}

// Catalog is an immutable set of regions keyed by ID.
type Catalog struct {
	regions []Region
	byID    map[string]int
}

// NewCatalog validates regions and indexes them by ID.
func NewCatalog(regions ...Region) (*Catalog, error) {
	c := &Catalog{byID: make(map[string]int, len(regions))}
	for _, r := range regions {
		if r.ID == "" {
			return nil, raster.Inputf("region without id")
		}
		switch r.Geometry.(type) {
		case orb.Polygon, orb.MultiPolygon:
		default:
			return nil, raster.Inputf("region %s geometry must be Polygon or MultiPolygon", r.ID)
		}
		if _, dup := c.byID[r.ID]; dup {
			return nil, raster.Inputf("duplicate region id %s", r.ID)
		}
		c.byID[r.ID] = len(c.regions)
		c.regions = append(c.regions, r)
	}
	return c, nil
}

// Get returns the region with the given ID.
func (c *Catalog) Get(id string) (Region, bool) {
	i, ok := c.byID[id]
	if !ok {
		return Region{}, false
	}
	return c.regions[i], true
}

// Len returns the number of regions.
func (c *Catalog) Len() int { return len(c.regions) }

// Find returns the regions matching f, ordered by ID.
func (c *Catalog) Find(f Filter) []Region {
	var out []Region
	for _, r := range c.regions {
		if f.Matches(r) {
			out = append(out, r)
		}
	}
	slices.SortFunc(out, func(a, b Region) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

// Values returns the distinct non-empty labels at level among regions
// matching f, sorted. Used to walk the hierarchy one level at a time.
func (c *Catalog) Values(level string, f Filter) ([]string, error) {
	if !slices.Contains(Levels, level) {
		return nil, raster.Inputf("unknown region level %q", level)
	}
	seen := map[string]bool{}
	var out []string
	for _, r := range c.regions {
		if !f.Matches(r) {
			continue
		}
		if v := r.Label(level); v != "" && !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	slices.Sort(out)
	return out, nil
}

// FromGeoJSON reads a FeatureCollection of polygons. The id comes from
// the "id" property or the feature id; labels come from the "state",
// "forest", "district" and "allotment" properties.
func FromGeoJSON(data []byte) (*Catalog, error) {
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, raster.Inputf("parse region GeoJSON: %v", err)
	}
	regions := make([]Region, 0, len(fc.Features))
	for i, f := range fc.Features {
		r := Region{
			ID:        fmt.Sprintf("r%d", i),
			State:     prop(f.Properties, LevelState),
			Forest:    prop(f.Properties, LevelForest),
			District:  prop(f.Properties, LevelDistrict),
			Allotment: prop(f.Properties, LevelAllotment),
			Geometry:  f.Geometry,
		}
		if v, ok := f.Properties["id"]; ok {
			r.ID = fmt.Sprint(v)
		} else if f.ID != nil {
			r.ID = fmt.Sprint(f.ID)
		}
		regions = append(regions, r)
	}
	return NewCatalog(regions...)
}

func prop(p geojson.Properties, key string) string {
	v, ok := p[key]
	if !ok || v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

// LoadFile reads a GeoJSON region catalog from disk.
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read region catalog %s: %w", path, err)
	}
	return FromGeoJSON(data)
}
