package raster

import (
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProjection_UTM(t *testing.T) {
	t.Parallel()
	toUTM, err := Projection(EPSG4326, "EPSG:32612")
	require.NoError(t, err)

	// Zone 12's central meridian is 111W.
	p := toUTM(orb.Point{-111, 0})
	assert.InDelta(t, 500000, p[0], 1e-6)
	assert.InDelta(t, 0, p[1], 1e-6)

	p = toUTM(orb.Point{-111, 36})
	assert.InDelta(t, 500000, p[0], 1e-6)
	assert.InDelta(t, 3983948, p[1], 5, "northing of 36N on the central meridian")

	south, err := Projection(EPSG4326, "EPSG:32733")
	require.NoError(t, err)
	p = south(orb.Point{15, -10})
	assert.InDelta(t, 500000, p[0], 1e-6)
	assert.Less(t, p[1], 10000000.0)
	assert.Greater(t, p[1], 8000000.0)
}

func TestProjection_RoundTrip(t *testing.T) {
	t.Parallel()
	tests := []struct {
		crs string
		pt  orb.Point
	}{
		{"EPSG:32612", orb.Point{-110.5, 36.5}},
		{"EPSG:32612", orb.Point{-113.2, 31.9}},
		{"EPSG:32633", orb.Point{17.1, 60.3}},
		{"EPSG:32756", orb.Point{151.2, -33.9}},
	}
	for _, tt := range tests {
		t.Run(tt.crs, func(t *testing.T) {
			t.Parallel()
			fwd, err := Projection(EPSG4326, tt.crs)
			require.NoError(t, err)
			inv, err := Projection(tt.crs, EPSG4326)
			require.NoError(t, err)
			back := inv(fwd(tt.pt))
			assert.InDelta(t, tt.pt[0], back[0], 1e-6)
			assert.InDelta(t, tt.pt[1], back[1], 1e-6)
		})
	}
}

func TestProjection_Unsupported(t *testing.T) {
	t.Parallel()
	for _, pair := range [][2]string{
		{"EPSG:3857", EPSG4326},
		{EPSG4326, "EPSG:32661"},
		{"EPSG:32600", "EPSG:32612"},
	} {
		_, err := Projection(pair[0], pair[1])
		assert.ErrorIs(t, err, ErrInput, "%s -> %s", pair[0], pair[1])
	}

	same, err := Projection("EPSG:3857", "EPSG:3857")
	require.NoError(t, err)
	assert.Equal(t, orb.Point{1, 2}, same(orb.Point{1, 2}))
}

func TestQuery_MatchesAcrossCRS(t *testing.T) {
	t.Parallel()
	era5 := &Image{ID: "era5", Source: "wind", Grid: Grid{
		CRS: EPSG4326, Width: 4, Height: 4, OriginX: -111.5, OriginY: 36.5, PixelWidth: 0.25, PixelHeight: -0.25,
	}}
	shifted := &Image{ID: "era5-360", Source: "wind", Grid: era5.Grid}
	shifted.Grid.OriginX += 360

	scene := utmGrid(40, 40).Bound()
	q := Query{Source: "wind", Bounds: &scene, CRS: "EPSG:32612"}
	assert.True(t, q.Matches(era5))
	assert.True(t, q.Matches(shifted), "0..360 longitudes")

	q.CRS = ""
	assert.False(t, q.Matches(era5), "utm bounds read as degrees")
}

func TestSampleIn(t *testing.T) {
	t.Parallel()
	g := Grid{CRS: EPSG4326, Width: 4, Height: 4, OriginX: 248.5, OriginY: 36.5, PixelWidth: 0.25, PixelHeight: -0.25}
	b := NewBand("speed", g.Len())
	for i := range b.Data {
		b.Set(i, float64(i))
	}
	im := &Image{ID: "wind", Grid: g, Bands: []Band{b}}

	proj, err := Projection("EPSG:32612", EPSG4326)
	require.NoError(t, err)
	// 500000 E is 111W (249 on a 0..360 axis), 3983948 N about 36N.
	v, ok := SampleIn(im, "speed", proj, 500000, 3983948+100)
	require.True(t, ok)
	col, row, _ := g.PixelAt(249.01, 36.001)
	assert.Equal(t, float64(g.Index(col, row)), v)

	_, ok = SampleIn(im, "speed", proj, 800000, 3983948)
	assert.False(t, ok)
}
