package raster

import (
	"iter"
	"slices"
	"time"

	"github.com/paulmach/orb"
)

// Collection is a finite, restartable, lazily evaluated sequence of
// images. Filter and Map compose without touching pixels; work happens
// only when All is ranged over, and ranging twice replays the same
// sequence given the same underlying source.
type Collection struct {
	source string
	seq    iter.Seq2[*Image, error]
}

// NewCollection returns a collection over a fixed slice of images.
func NewCollection(source string, images ...*Image) *Collection {
	imgs := slices.Clone(images)
	return &Collection{source: source, seq: func(yield func(*Image, error) bool) {
		for _, im := range imgs {
			if !yield(im, nil) {
				return
			}
		}
	}}
}

// FromSeq wraps an arbitrary restartable sequence.
func FromSeq(source string, seq iter.Seq2[*Image, error]) *Collection {
	return &Collection{source: source, seq: seq}
}

// Source returns the source identifier the collection was built from.
func (c *Collection) Source() string { return c.source }

// All yields the images in order. A non-nil error ends the sequence.
func (c *Collection) All() iter.Seq2[*Image, error] {
	if c == nil || c.seq == nil {
		return func(func(*Image, error) bool) {}
	}
	return c.seq
}

// Filter keeps images for which keep returns true.
func (c *Collection) Filter(keep func(*Image) bool) *Collection {
	parent := c.All()
	return &Collection{source: c.source, seq: func(yield func(*Image, error) bool) {
		for im, err := range parent {
			if err != nil {
				yield(nil, err)
				return
			}
			if keep(im) && !yield(im, nil) {
				return
			}
		}
	}}
}

// Map applies a pure per-image transform. The first error ends the
// sequence.
func (c *Collection) Map(fn func(*Image) (*Image, error)) *Collection {
	parent := c.All()
	return &Collection{source: c.source, seq: func(yield func(*Image, error) bool) {
		for im, err := range parent {
			if err == nil {
				im, err = fn(im)
			}
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(im, nil) {
				return
			}
		}
	}}
}

// FilterDate keeps images acquired in [start, end).
func (c *Collection) FilterDate(start, end time.Time) *Collection {
	return c.Filter(func(im *Image) bool {
		return !im.Acquired.Before(start) && im.Acquired.Before(end)
	})
}

// FilterBounds keeps images whose footprint intersects b.
func (c *Collection) FilterBounds(b orb.Bound) *Collection {
	return c.Filter(func(im *Image) bool {
		return im.Grid.Bound().Intersects(b)
	})
}

// FilterLessThan keeps images whose property is present and strictly
// below limit.
func (c *Collection) FilterLessThan(property string, limit float64) *Collection {
	return c.Filter(func(im *Image) bool {
		v, ok := im.Property(property)
		return ok && v < limit
	})
}

// Collect drains the collection into a slice.
func (c *Collection) Collect() ([]*Image, error) {
	var out []*Image
	for im, err := range c.All() {
		if err != nil {
			return nil, err
		}
		out = append(out, im)
	}
	return out, nil
}

// Merge concatenates collections in argument order.
func Merge(source string, cols ...*Collection) *Collection {
	return &Collection{source: source, seq: func(yield func(*Image, error) bool) {
		for _, c := range cols {
			for im, err := range c.All() {
				if !yield(im, err) || err != nil {
					return
				}
			}
		}
	}}
}

// SortByTime orders images by acquisition time, then ID, in place.
func SortByTime(images []*Image) {
	slices.SortStableFunc(images, func(a, b *Image) int {
		if c := a.Acquired.Compare(b.Acquired); c != 0 {
			return c
		}
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
}
