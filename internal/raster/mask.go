package raster

// Mask is a per-pixel keep flag aligned to a grid. Masks compose with And:
// a pixel excluded by any mask is excluded downstream.
type Mask []bool

// NewMask returns a mask of n pixels with every pixel kept.
func NewMask(n int) Mask {
	m := make(Mask, n)
	for i := range m {
		m[i] = true
	}
	return m
}

// And returns the pixelwise conjunction of the masks. All masks must share
// the same length.
func And(masks ...Mask) (Mask, error) {
	if len(masks) == 0 {
		return nil, nil
	}
	n := len(masks[0])
	out := make(Mask, n)
	copy(out, masks[0])
	for _, m := range masks[1:] {
		if len(m) != n {
			return nil, Inputf("mask length %d != %d", len(m), n)
		}
		for i, keep := range m {
			out[i] = out[i] && keep
		}
	}
	return out, nil
}

// Kept returns the number of pixels the mask keeps.
func (m Mask) Kept() int {
	n := 0
	for _, k := range m {
		if k {
			n++
		}
	}
	return n
}
