package raster

import (
	"maps"
	"slices"
	"time"
)

// Band is one named layer of an image. Valid is the per-pixel data mask;
// a nil Valid means every pixel holds data. Values of invalid pixels are
// undefined and must not be read.
type Band struct {
	Name  string
	Data  []float64
	Valid []bool
}

// NewBand returns a band of n zero-valued pixels, all marked invalid.
func NewBand(name string, n int) Band {
	return Band{Name: name, Data: make([]float64, n), Valid: make([]bool, n)}
}

// IsValid reports whether pixel i holds data.
func (b *Band) IsValid(i int) bool {
	return b.Valid == nil || b.Valid[i]
}

// Set stores v at pixel i and marks it valid.
func (b *Band) Set(i int, v float64) {
	b.Data[i] = v
	if b.Valid != nil {
		b.Valid[i] = true
	}
}

// Clear marks pixel i as nodata.
func (b *Band) Clear(i int) {
	if b.Valid == nil {
		b.Valid = make([]bool, len(b.Data))
		for j := range b.Valid {
			b.Valid[j] = true
		}
	}
	b.Valid[i] = false
}

// Clone returns a deep copy of the band.
func (b Band) Clone() Band {
	return Band{Name: b.Name, Data: slices.Clone(b.Data), Valid: slices.Clone(b.Valid)}
}

// ValidCount returns the number of pixels holding data.
func (b *Band) ValidCount() int {
	if b.Valid == nil {
		return len(b.Data)
	}
	n := 0
	for _, v := range b.Valid {
		if v {
			n++
		}
	}
	return n
}

// Image is an acquisition on a grid. Images are treated as immutable once
// constructed: every operation returns a new Image and leaves its input
// untouched.
type Image struct {
	ID         string
	Source     string
	Acquired   time.Time
	Grid       Grid
	Bands      []Band
	Properties map[string]float64
}

// Band returns the named band.
func (im *Image) Band(name string) (*Band, bool) {
	for i := range im.Bands {
		if im.Bands[i].Name == name {
			return &im.Bands[i], true
		}
	}
	return nil, false
}

// MustBands returns the named bands in order or an ErrInput naming the
// first missing one.
func (im *Image) MustBands(names ...string) ([]*Band, error) {
	out := make([]*Band, len(names))
	for i, n := range names {
		b, ok := im.Band(n)
		if !ok {
			return nil, Inputf("image %s (%s) is missing band %q", im.ID, im.Source, n)
		}
		out[i] = b
	}
	return out, nil
}

// BandNames returns the band names in order.
func (im *Image) BandNames() []string {
	names := make([]string, len(im.Bands))
	for i, b := range im.Bands {
		names[i] = b.Name
	}
	return names
}

// Property returns a metadata property.
func (im *Image) Property(name string) (float64, bool) {
	v, ok := im.Properties[name]
	return v, ok
}

// Derive returns a new image carrying im's identity, timestamp, grid and
// properties with the given bands.
func (im *Image) Derive(bands ...Band) *Image {
	return &Image{
		ID:         im.ID,
		Source:     im.Source,
		Acquired:   im.Acquired,
		Grid:       im.Grid,
		Bands:      bands,
		Properties: maps.Clone(im.Properties),
	}
}

// Select returns a new image holding copies of the named bands in the
// given order.
func (im *Image) Select(names ...string) (*Image, error) {
	src, err := im.MustBands(names...)
	if err != nil {
		return nil, err
	}
	bands := make([]Band, len(src))
	for i, b := range src {
		bands[i] = b.Clone()
	}
	return im.Derive(bands...), nil
}

// Clone returns a deep copy.
func (im *Image) Clone() *Image {
	bands := make([]Band, len(im.Bands))
	for i, b := range im.Bands {
		bands[i] = b.Clone()
	}
	return im.Derive(bands...)
}

// UpdateMask returns a copy of im in which every pixel excluded by mask is
// nodata in every band.
func (im *Image) UpdateMask(mask Mask) (*Image, error) {
	if len(mask) != im.Grid.Len() {
		return nil, Inputf("mask length %d does not match grid %s", len(mask), im.Grid)
	}
	out := im.Clone()
	for bi := range out.Bands {
		b := &out.Bands[bi]
		for i, keep := range mask {
			if !keep {
				b.Clear(i)
			}
		}
	}
	return out, nil
}
