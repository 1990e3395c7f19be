package labels

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/waterextent/internal/monitoring"
	"github.com/banshee-data/waterextent/internal/raster"
	"github.com/banshee-data/waterextent/internal/water/features"
)

func init() {
	monitoring.SetLogger(nil)
}

func TestStore_DuplicateLastWriteWins(t *testing.T) {
	s := NewStore()
	dup, err := s.Add(Point{ID: "a", X: 1, Y: 2, Label: Water})
	require.NoError(t, err)
	assert.False(t, dup)
	dup, err = s.Add(Point{ID: "b", X: 1, Y: 2, Label: NonWater})
	require.NoError(t, err)
	assert.True(t, dup)
	_, err = s.Add(Point{ID: "c", X: 3, Y: 4, Label: Water})
	require.NoError(t, err)

	assert.Equal(t, 2, s.Len())
	assert.Equal(t, 1, s.Duplicates())
	pts := s.Points()
	assert.Equal(t, "b", pts[0].ID)
	assert.Equal(t, NonWater, pts[0].Label)
	w, nw := s.Counts()
	assert.Equal(t, 1, w)
	assert.Equal(t, 1, nw)

	_, err = s.Add(Point{ID: "bad", Label: 2})
	assert.ErrorIs(t, err, raster.ErrInput)
}

func TestMerge_PreservesLabels(t *testing.T) {
	water := []Point{{ID: "w1", X: 0, Y: 0, Label: NonWater}, {ID: "w2", X: 1, Y: 0}}
	dry := []Point{{ID: "d1", X: 5, Y: 5, Label: Water}}
	s, err := Merge(water, dry)
	require.NoError(t, err)
	pts := s.Points()
	require.Len(t, pts, 3)
	assert.Equal(t, Water, pts[0].Label)
	assert.Equal(t, Water, pts[1].Label)
	assert.Equal(t, NonWater, pts[2].Label)
}

func TestFromGeoJSON(t *testing.T) {
	data := []byte(`{"type":"FeatureCollection","features":[
	 {"type":"Feature","properties":{"water":1,"id":"tank-3"},"geometry":{"type":"Point","coordinates":[-110.5,33.2]}},
	 {"type":"Feature","properties":{"water":0},"geometry":{"type":"Point","coordinates":[-110.6,33.3]}},
	 {"type":"Feature","properties":{},"geometry":{"type":"Point","coordinates":[-110.7,33.4]}}
	]}`)
	pts, err := FromGeoJSON(data, "water", NonWater)
	require.NoError(t, err)
	require.Len(t, pts, 3)
	assert.Equal(t, "tank-3", pts[0].ID)
	assert.Equal(t, Water, pts[0].Label)
	assert.Equal(t, -110.5, pts[0].X)
	assert.Equal(t, NonWater, pts[2].Label)
	assert.Equal(t, "f1", pts[1].ID)

	_, err = FromGeoJSON(data, "water", -1)
	assert.ErrorIs(t, err, raster.ErrInput)

	line := []byte(`{"type":"FeatureCollection","features":[{"type":"Feature","properties":{},"geometry":{"type":"LineString","coordinates":[[0,0],[1,1]]}}]}`)
	_, err = FromGeoJSON(line, "water", Water)
	assert.ErrorIs(t, err, raster.ErrInput)
}

func featureImage(id string, day int, cloud float64, val float64, valid []bool) *raster.Image {
	g := raster.Grid{CRS: "EPSG:32612", Width: 2, Height: 1, OriginX: 0, OriginY: 30, PixelWidth: 30, PixelHeight: -30}
	im := &raster.Image{ID: id, Acquired: time.Date(2021, 4, day, 0, 0, 0, 0, time.UTC), Grid: g,
		Properties: map[string]float64{"CLOUD_COVER": cloud}}
	for _, name := range features.RadarSchema {
		im.Bands = append(im.Bands, raster.Band{Name: name, Data: []float64{val, val}, Valid: valid})
	}
	return im
}

func cloudCover(im *raster.Image) (float64, bool) { return im.Property("CLOUD_COVER") }

func TestOrder(t *testing.T) {
	a := featureImage("a", 1, 5, 0, nil)
	b := featureImage("b", 3, 50, 0, nil)
	c := featureImage("c", 3, 1, 0, nil)
	imgs := []*raster.Image{a, b, c}

	require.NoError(t, Order(imgs, MostRecentFirst, cloudCover))
	assert.Equal(t, []string{"b", "c", "a"}, []string{imgs[0].ID, imgs[1].ID, imgs[2].ID})

	require.NoError(t, Order(imgs, LeastCloudyFirst, cloudCover))
	assert.Equal(t, []string{"c", "a", "b"}, []string{imgs[0].ID, imgs[1].ID, imgs[2].ID})

	assert.ErrorIs(t, Order(imgs, "random", nil), raster.ErrInput)
}

func TestSampleMosaic(t *testing.T) {
	newer := featureImage("newer", 10, 0, 2, []bool{true, false})
	older := featureImage("older", 1, 0, 1, nil)
	pts := []Point{
		{ID: "p0", X: 15, Y: 15, Label: Water},
		{ID: "p1", X: 45, Y: 15, Label: NonWater},
		{ID: "out", X: 500, Y: 15, Label: Water},
	}
	res, err := SampleMosaic([]*raster.Image{newer, older}, features.RadarSchema, pts, 42)
	require.NoError(t, err)
	require.Len(t, res.Samples, 2)
	assert.Equal(t, 1, res.Outside)
	assert.Equal(t, 0, res.Nodata)

	assert.Equal(t, "newer", res.Samples[0].ImageID)
	assert.Equal(t, []float64{2, 2, 2}, res.Samples[0].Vector.Values)
	assert.Equal(t, Water, res.Samples[0].Label)
	assert.Equal(t, "older", res.Samples[1].ImageID)
	assert.Equal(t, NonWater, res.Samples[1].Label)

	for _, s := range res.Samples {
		assert.GreaterOrEqual(t, s.SplitKey, 0.0)
		assert.Less(t, s.SplitKey, 1.0)
	}

	again, err := SampleMosaic([]*raster.Image{newer, older}, features.RadarSchema, pts, 42)
	require.NoError(t, err)
	assert.Equal(t, res.Samples[0].SplitKey, again.Samples[0].SplitKey)
	other, err := SampleMosaic([]*raster.Image{newer, older}, features.RadarSchema, pts, 43)
	require.NoError(t, err)
	assert.NotEqual(t, res.Samples[0].SplitKey, other.Samples[0].SplitKey)
}

func TestSampleMosaic_NodataAndWindow(t *testing.T) {
	blank := featureImage("blank", 5, 0, 1, []bool{false, false})
	res, err := SampleMosaic([]*raster.Image{blank}, features.RadarSchema, []Point{{X: 15, Y: 15}}, 1)
	require.NoError(t, err)
	assert.Empty(t, res.Samples)
	assert.Equal(t, 1, res.Nodata)

	im := featureImage("im", 5, 0, 1, nil)
	windowed := Point{X: 15, Y: 15, Start: time.Date(2021, 5, 1, 0, 0, 0, 0, time.UTC)}
	res, err = SampleMosaic([]*raster.Image{im}, features.RadarSchema, []Point{windowed}, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Outside)

	_, err = SampleMosaic([]*raster.Image{im}, features.OpticalSchema, nil, 1)
	assert.ErrorIs(t, err, raster.ErrInput)
}

func TestSplit(t *testing.T) {
	samples := []Sample{{SplitKey: 0.1}, {SplitKey: 0.79}, {SplitKey: 0.8}, {SplitKey: 0.95}}
	train, test := Split(samples, 0.8)
	assert.Len(t, train, 2)
	assert.Len(t, test, 2)
}
