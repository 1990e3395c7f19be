package raster

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCFTime(t *testing.T) {
	t.Parallel()
	tests := []struct {
		units string
		v     float64
		want  time.Time
	}{
		{"hours since 1900-01-01 00:00:00.0", 24, time.Date(1900, 1, 2, 0, 0, 0, 0, time.UTC)},
		{"seconds since 1970-01-01", 3600, time.Date(1970, 1, 1, 1, 0, 0, 0, time.UTC)},
		{"days since 2000-01-01 00:00:00", 1.5, time.Date(2000, 1, 2, 12, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		got, err := ParseCFTime(tt.units, tt.v)
		require.NoError(t, err, tt.units)
		assert.True(t, tt.want.Equal(got), "%s: got %v want %v", tt.units, got, tt.want)
	}

	_, err := ParseCFTime("fortnights since 1900-01-01", 1)
	assert.ErrorIs(t, err, ErrInput)
	_, err = ParseCFTime("hours", 1)
	assert.ErrorIs(t, err, ErrInput)
}

func TestAxisGrid(t *testing.T) {
	t.Parallel()
	g, err := axisGrid([]float64{40, 39.75, 39.5}, []float64{-110, -109.75})
	require.NoError(t, err)
	assert.Equal(t, EPSG4326, g.CRS)
	assert.Equal(t, 2, g.Width)
	assert.Equal(t, 3, g.Height)
	assert.InDelta(t, -110.125, g.OriginX, 1e-12)
	assert.InDelta(t, 40.125, g.OriginY, 1e-12)
	c, r, ok := g.PixelAt(-109.75, 39.5)
	require.True(t, ok)
	assert.Equal(t, 1, c)
	assert.Equal(t, 2, r)

	_, err = axisGrid([]float64{1}, []float64{1, 2})
	assert.ErrorIs(t, err, ErrInput)
}

func TestFlatten(t *testing.T) {
	t.Parallel()
	got, err := flatten([][][]int16{{{1, 2}, {3, 4}}, {{5, 6}, {7, 8}}})
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3, 4, 5, 6, 7, 8}, got)

	got, err = flatten([]float32{1.5})
	require.NoError(t, err)
	assert.Equal(t, []float64{1.5}, got)

	_, err = flatten("nope")
	assert.ErrorIs(t, err, ErrInput)
}
