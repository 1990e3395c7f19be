package raster

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
)

// EPSG4326 is geographic WGS84 (x = longitude, y = latitude, degrees).
const EPSG4326 = "EPSG:4326"

// earthRadiusM is the mean Earth radius used for geographic cell areas.
const earthRadiusM = 6371008.8

// Grid is an affine, north-up pixel grid. Origin is the outer corner of
// pixel (0,0); PixelHeight is negative for north-up rasters.
type Grid struct {
	CRS         string  `json:"crs"`
	Width       int     `json:"width"`
	Height      int     `json:"height"`
	OriginX     float64 `json:"origin_x"`
	OriginY     float64 `json:"origin_y"`
	PixelWidth  float64 `json:"pixel_width"`
	PixelHeight float64 `json:"pixel_height"`
}

// Len returns the number of pixels in the grid.
func (g Grid) Len() int { return g.Width * g.Height }

// Index returns the flat row-major index of (col,row).
func (g Grid) Index(col, row int) int { return row*g.Width + col }

// Center returns the map coordinate of the centre of pixel (col,row).
func (g Grid) Center(col, row int) (x, y float64) {
	return g.OriginX + (float64(col)+0.5)*g.PixelWidth, g.OriginY + (float64(row)+0.5)*g.PixelHeight
}

// PixelAt returns the pixel containing the map coordinate (x,y).
func (g Grid) PixelAt(x, y float64) (col, row int, ok bool) {
	if g.PixelWidth == 0 || g.PixelHeight == 0 {
		return 0, 0, false
	}
	c := math.Floor((x - g.OriginX) / g.PixelWidth)
	r := math.Floor((y - g.OriginY) / g.PixelHeight)
	if c < 0 || r < 0 || c >= float64(g.Width) || r >= float64(g.Height) {
		return 0, 0, false
	}
	return int(c), int(r), true
}

// Bound returns the grid footprint in map coordinates.
func (g Grid) Bound() orb.Bound {
	x0, y0 := g.OriginX, g.OriginY
	x1 := g.OriginX + float64(g.Width)*g.PixelWidth
	y1 := g.OriginY + float64(g.Height)*g.PixelHeight
	return orb.Bound{
		Min: orb.Point{math.Min(x0, x1), math.Min(y0, y1)},
		Max: orb.Point{math.Max(x0, x1), math.Max(y0, y1)},
	}
}

// PixelAreaM2 returns the ground area of one pixel in the given row.
// Projected grids have constant cell area; geographic grids use the
// spherical cell area between the row's bounding parallels.
func (g Grid) PixelAreaM2(row int) float64 {
	if g.CRS != EPSG4326 {
		return math.Abs(g.PixelWidth * g.PixelHeight)
	}
	lat0 := g.OriginY + float64(row)*g.PixelHeight
	lat1 := lat0 + g.PixelHeight
	dLon := math.Abs(g.PixelWidth) * math.Pi / 180
	return earthRadiusM * earthRadiusM * dLon *
		math.Abs(math.Sin(lat0*math.Pi/180)-math.Sin(lat1*math.Pi/180))
}

// Validate reports whether the grid is usable.
func (g Grid) Validate() error {
	if g.Width <= 0 || g.Height <= 0 {
		return Inputf("grid has non-positive size %dx%d", g.Width, g.Height)
	}
	if g.PixelWidth == 0 || g.PixelHeight == 0 {
		return Inputf("grid has zero pixel size")
	}
	if g.CRS == "" {
		return Inputf("grid has no CRS")
	}
	return nil
}

// SameAs reports whether two grids are pixel-aligned and equal in extent.
func (g Grid) SameAs(o Grid) bool { return g == o }

func (g Grid) String() string {
	return fmt.Sprintf("%s %dx%d @(%g,%g) px(%g,%g)", g.CRS, g.Width, g.Height,
		g.OriginX, g.OriginY, g.PixelWidth, g.PixelHeight)
}

// Cover returns the smallest grid on ref's pixel lattice whose footprint
// contains b. b must be in ref's CRS.
func Cover(ref Grid, b orb.Bound) Grid {
	const eps = 1e-9
	pw, ph := ref.PixelWidth, ref.PixelHeight
	// Columns and rows of b's corners relative to ref's origin.
	c0 := math.Floor((b.Min[0]-ref.OriginX)/pw + eps)
	c1 := math.Ceil((b.Max[0]-ref.OriginX)/pw - eps)
	yTop, yBottom := b.Max[1], b.Min[1]
	if ph > 0 {
		yTop, yBottom = yBottom, yTop
	}
	r0 := math.Floor((yTop-ref.OriginY)/ph + eps)
	r1 := math.Ceil((yBottom-ref.OriginY)/ph - eps)
	return Grid{
		CRS:         ref.CRS,
		Width:       max(int(c1-c0), 1),
		Height:      max(int(r1-r0), 1),
		OriginX:     ref.OriginX + c0*pw,
		OriginY:     ref.OriginY + r0*ph,
		PixelWidth:  pw,
		PixelHeight: ph,
	}
}
