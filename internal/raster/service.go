package raster

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/paulmach/orb"
)

// Condition is a metadata predicate: Property must be present and
// strictly below LessThan.
type Condition struct {
	Property string  `json:"property"`
	LessThan float64 `json:"less_than"`
}

// Query selects images from one source. A zero Start or End leaves that
// side of the date range open; a nil Bounds disables spatial filtering.
// CRS names the system Bounds is expressed in; empty means the images'
// own CRS.
type Query struct {
	Source string
	Start  time.Time
	End    time.Time
	Bounds *orb.Bound
	CRS    string
	Where  []Condition
}

// Service is the raster data service consumed by the pipeline.
type Service interface {
	Filter(ctx context.Context, q Query) (*Collection, error)
}

// Matches reports whether the image metadata satisfies q.
func (q Query) Matches(im *Image) bool {
	if q.Source != "" && im.Source != q.Source {
		return false
	}
	if !q.Start.IsZero() && im.Acquired.Before(q.Start) {
		return false
	}
	if !q.End.IsZero() && !im.Acquired.Before(q.End) {
		return false
	}
	if q.Bounds != nil && !intersectsIn(im.Grid, *q.Bounds, q.CRS) {
		return false
	}
	for _, c := range q.Where {
		v, ok := im.Property(c.Property)
		if !ok || v >= c.LessThan {
			return false
		}
	}
	return true
}

// loader produces pixels for a catalog entry on demand.
type loader func() (*Image, error)

type entry struct {
	meta *Image // metadata only, Bands nil
	load loader
}

// LocalService is an in-process catalog of scenes. Pixel data is loaded
// lazily each time a collection is ranged over.
type LocalService struct {
	mu      sync.RWMutex
	entries []entry
}

// NewLocalService returns an empty catalog.
func NewLocalService() *LocalService {
	return &LocalService{}
}

// Add registers fully materialized images.
func (s *LocalService) Add(images ...*Image) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, im := range images {
		s.entries = append(s.entries, entry{meta: im.Derive(), load: func() (*Image, error) { return im, nil }})
	}
}

func (s *LocalService) addLazy(meta *Image, load loader) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry{meta: meta, load: load})
}

// Len returns the number of registered scenes.
func (s *LocalService) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// match returns the entries matching q ordered by acquisition time, then ID.
func (s *LocalService) match(q Query) []entry {
	s.mu.RLock()
	var hits []entry
	for _, e := range s.entries {
		if q.Matches(e.meta) {
			hits = append(hits, e)
		}
	}
	s.mu.RUnlock()

	slices.SortStableFunc(hits, func(a, b entry) int {
		if c := a.meta.Acquired.Compare(b.meta.Acquired); c != 0 {
			return c
		}
		return strings.Compare(a.meta.ID, b.meta.ID)
	})
	return hits
}

// Filter returns the matching scenes ordered by acquisition time, then ID.
// Metadata is matched eagerly; pixels are loaded as the collection is
// consumed, so ctx cancellation abandons the remaining scenes.
func (s *LocalService) Filter(ctx context.Context, q Query) (*Collection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	hits := s.match(q)
	return FromSeq(q.Source, func(yield func(*Image, error) bool) {
		for _, e := range hits {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			im, err := e.load()
			if !yield(im, err) || err != nil {
				return
			}
		}
	}), nil
}

// Metadata returns the matching scenes without pixels, in Filter order.
func (s *LocalService) Metadata(q Query) []*Image {
	hits := s.match(q)
	out := make([]*Image, len(hits))
	for i, e := range hits {
		out[i] = e.meta
	}
	return out
}

// Get loads one scene by ID.
func (s *LocalService) Get(ctx context.Context, id string) (*Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	var found entry
	for _, e := range s.entries {
		if e.meta.ID == id {
			found = e
			break
		}
	}
	s.mu.RUnlock()
	if found.load == nil {
		return nil, Inputf("image %q not found", id)
	}
	return found.load()
}
