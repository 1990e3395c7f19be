package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/waterextent/internal/config"
	"github.com/banshee-data/waterextent/internal/monitoring"
	"github.com/banshee-data/waterextent/internal/raster"
	"github.com/banshee-data/waterextent/internal/region"
	"github.com/banshee-data/waterextent/internal/testutil"
	"github.com/banshee-data/waterextent/internal/water/labels"
	"github.com/banshee-data/waterextent/internal/water/sensor"
)

const (
	side    = testutil.Side
	waterTo = testutil.WaterTo
	originX = testutil.OriginX
	originY = testutil.OriginY
)

var scene = testutil.SceneGrid

func init() { monitoring.SetLogger(nil) }

func ptr[T any](v T) *T { return &v }

var (
	at         = testutil.At
	landsat    = testutil.Landsat
	wind       = testutil.Wind
	hand       = testutil.Hand
	points     = testutil.Points
	service    = testutil.Service
	testConfig = testutil.Config
)

func study() region.Region { return testutil.Study("study") }

func TestRunPipeline_EndToEnd(t *testing.T) {
	ctx := context.Background()
	ts, err := RunPipeline(ctx, service(true), study(), testConfig(), points(10))
	require.NoError(t, err)

	require.Len(t, ts.Records, 2, "one record per month")
	june, july := ts.Records[0], ts.Records[1]
	assert.Equal(t, "study", june.RegionID)
	assert.Equal(t, time.Date(2021, 6, 1, 0, 0, 0, 0, time.UTC), june.PeriodStart)
	assert.Equal(t, 3, june.ImageCount)
	assert.Equal(t, []time.Time{at(5, 17), at(10, 18), at(15, 13)}, june.SourceImageDates)
	assert.Equal(t, StatusOK, june.Status)
	require.NotNil(t, june.WaterAreaM2)
	assert.InDelta(t, float64(waterTo*side*900), *june.WaterAreaM2, 1e-6)
	assert.Equal(t, 1.0, june.Coverage)

	assert.Equal(t, 0, july.ImageCount)
	assert.Equal(t, StatusNoImages, july.Status)
	assert.Nil(t, july.WaterAreaM2)
	assert.Equal(t, 0.0, july.Coverage)

	require.NotNil(t, ts.Latest)
	assert.Equal(t, june.PeriodStart, ts.Latest.PeriodStart)
	require.NotNil(t, ts.Latest.TrueColor)
	assert.Equal(t, []string{sensor.Red, sensor.Green, sensor.Blue}, ts.Latest.TrueColor.BandNames())
	assert.NotEmpty(t, ts.RunID)
}

func TestRun_Deterministic(t *testing.T) {
	ctx := context.Background()
	a, err := RunPipeline(ctx, service(true), study(), testConfig(), points(10))
	require.NoError(t, err)
	b, err := RunPipeline(ctx, service(true), study(), testConfig(), points(10))
	require.NoError(t, err)
	if diff := cmp.Diff(a.Records, b.Records); diff != "" {
		t.Errorf("records differ between identical runs (-first +second):\n%s", diff)
	}
}

func TestRun_WeeklyPeriods(t *testing.T) {
	cfg := testConfig().WithDates("2021-06-01", "2021-06-22")
	cfg.PeriodGranularity = ptr(config.GranularityWeek)
	ts, err := RunPipeline(context.Background(), service(true), study(), cfg, points(10))
	require.NoError(t, err)
	require.Len(t, ts.Records, 3)
	counts := []int{ts.Records[0].ImageCount, ts.Records[1].ImageCount, ts.Records[2].ImageCount}
	assert.Equal(t, []int{1, 1, 1}, counts)
	for i, rec := range ts.Records {
		require.NotNil(t, rec.WaterAreaM2, "week %d", i)
		assert.GreaterOrEqual(t, *rec.WaterAreaM2, 0.0)
	}
}

func TestRun_WindDropsRadarScene(t *testing.T) {
	ts, err := RunPipeline(context.Background(), service(false), study(), testConfig(), points(10))
	require.NoError(t, err)
	assert.Equal(t, 2, ts.Records[0].ImageCount)
}

func TestRun_HighWindMasksRadar(t *testing.T) {
	svc := service(false)
	svc.Add(wind(at(15, 3), 10, 10)) // about 51 km/h
	cfg := testConfig()
	cfg.OpticalSources = []string{}
	ts, err := RunPipeline(context.Background(), svc, study(), cfg, points(10))
	require.NoError(t, err)
	june := ts.Records[0]
	assert.Equal(t, 1, june.ImageCount)
	require.NotNil(t, june.WaterAreaM2)
	assert.Equal(t, 0.0, *june.WaterAreaM2)
	assert.Equal(t, 0.0, june.Coverage)
}

func TestRun_HandMasksEverything(t *testing.T) {
	svc := raster.NewLocalService()
	svc.Add(landsat("LC08_20210605", at(5, 17)), hand(25))
	cfg := testConfig()
	cfg.OpticalSources = []string{sensor.Landsat8ID}
	cfg.RadarSources = []string{}
	ts, err := RunPipeline(context.Background(), svc, study(), cfg, points(10))
	require.NoError(t, err)
	require.NotNil(t, ts.Records[0].WaterAreaM2)
	assert.Equal(t, 0.0, *ts.Records[0].WaterAreaM2)
}

func TestRun_ResourceLimitFlagsRecord(t *testing.T) {
	cfg := testConfig()
	cfg.MaxPixels = ptr(int64(100))
	ts, err := RunPipeline(context.Background(), service(true), study(), cfg, points(10))
	require.NoError(t, err)
	require.Len(t, ts.Records, 2)
	assert.Equal(t, StatusResourceLimit, ts.Records[0].Status)
	assert.Nil(t, ts.Records[0].WaterAreaM2)
	assert.NotEmpty(t, ts.Records[0].Error)
	assert.Equal(t, StatusNoImages, ts.Records[1].Status)
}

func TestRun_RegionOutsideCoverage(t *testing.T) {
	far := region.Region{ID: "far", Geometry: orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{10, 10}}.ToPolygon()}
	_, err := RunPipeline(context.Background(), service(true), far, testConfig(), points(10))
	assert.ErrorIs(t, err, raster.ErrInput)
}

func TestRun_EmptyWindowInsideCoverage(t *testing.T) {
	ctx := context.Background()
	m, err := NewRunner(service(true), testConfig()).Fit(ctx, points(10))
	require.NoError(t, err)

	cfg := testConfig().WithDates("2021-07-05", "2021-07-19")
	cfg.PeriodGranularity = ptr(config.GranularityWeek)
	ts, err := NewRunner(service(true), cfg).Run(ctx, study(), m)
	require.NoError(t, err)
	require.NotEmpty(t, ts.Records)
	for _, rec := range ts.Records {
		assert.Equal(t, StatusNoImages, rec.Status, rec.PeriodStart)
		assert.Nil(t, rec.WaterAreaM2)
		assert.Zero(t, rec.ImageCount)
	}
	assert.Nil(t, ts.Latest)
}

func TestRun_AdjacentTilesShareOneGrid(t *testing.T) {
	west := landsat("LC08_20210605", at(5, 17))
	east := landsat("LC08_20210621", at(21, 17))
	east.Grid.OriginX += side * 30
	svc := raster.NewLocalService()
	svc.Add(west, east)

	cfg := testConfig()
	cfg.OpticalSources = []string{sensor.Landsat8ID}
	cfg.RadarSources = []string{}
	both := region.Region{ID: "both", Geometry: orb.Bound{
		Min: orb.Point{originX, originY - side*30},
		Max: orb.Point{originX + 2*side*30, originY},
	}.ToPolygon()}

	ts, err := RunPipeline(context.Background(), svc, both, cfg, points(10))
	require.NoError(t, err)
	june := ts.Records[0]
	assert.Equal(t, 2, june.ImageCount)
	require.NotNil(t, june.WaterAreaM2)
	assert.InDelta(t, 2*testutil.WaterAreaM2, *june.WaterAreaM2, 1e-6)
	assert.Equal(t, 1.0, june.Coverage)
}

// era5 returns wind on a quarter-degree geographic grid over the scene,
// the shape reanalysis NetCDF files decode to.
func era5(acquired time.Time, u, v float64) *raster.Image {
	im := wind(acquired, u, v)
	im.Grid = raster.Grid{CRS: raster.EPSG4326, Width: 4, Height: 4, OriginX: -111.5, OriginY: 36.5, PixelWidth: 0.25, PixelHeight: -0.25}
	return im
}

func TestRun_GeographicWindOverUTMScenes(t *testing.T) {
	cfg := testConfig()
	cfg.OpticalSources = []string{}

	t.Run("calm keeps the scene", func(t *testing.T) {
		svc := service(false)
		svc.Add(era5(at(15, 0), 1, 1), era5(at(15, 6), 1.2, 0.5))
		ts, err := RunPipeline(context.Background(), svc, study(), cfg, points(10))
		require.NoError(t, err)
		june := ts.Records[0]
		assert.Equal(t, 1, june.ImageCount)
		require.NotNil(t, june.WaterAreaM2)
		assert.Greater(t, *june.WaterAreaM2, 0.0)
	})

	t.Run("storm masks the scene", func(t *testing.T) {
		svc := service(false)
		svc.Add(era5(at(15, 3), 10, 10))
		ts, err := RunPipeline(context.Background(), svc, study(), cfg, points(10))
		require.NoError(t, err)
		june := ts.Records[0]
		assert.Equal(t, 1, june.ImageCount)
		require.NotNil(t, june.WaterAreaM2)
		assert.Equal(t, 0.0, *june.WaterAreaM2)
	})
}

func TestFit_Errors(t *testing.T) {
	r := NewRunner(service(true), testConfig())
	_, err := r.Fit(context.Background(), nil)
	assert.ErrorIs(t, err, raster.ErrInput)

	// Points outside every scene leave nothing to train on.
	_, err = r.Fit(context.Background(), []labels.Point{{ID: "x", X: 1, Y: 1, Label: labels.Water}})
	assert.ErrorIs(t, err, raster.ErrInput)

	// Single-class training data.
	var wet []labels.Point
	for _, p := range points(10) {
		if p.Label == labels.Water {
			wet = append(wet, p)
		}
	}
	_, err = r.Fit(context.Background(), wet)
	assert.ErrorIs(t, err, raster.ErrInput)
}

func TestRunRegions_Independent(t *testing.T) {
	ctx := context.Background()
	r := NewRunner(service(true), testConfig())
	m, err := r.Fit(ctx, points(10))
	require.NoError(t, err)

	left := orb.Bound{Min: orb.Point{originX, originY - side*30}, Max: orb.Point{originX + waterTo*30, originY}}
	right := orb.Bound{Min: orb.Point{originX + waterTo*30, originY - side*30}, Max: orb.Point{originX + side*30, originY}}
	regions := []region.Region{
		{ID: "left", Geometry: left.ToPolygon()},
		{ID: "right", Geometry: right.ToPolygon()},
		{ID: "far", Geometry: orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{10, 10}}.ToPolygon()},
	}
	results, err := r.RunRegions(ctx, regions, m)
	require.NoError(t, err)
	require.Len(t, results, 3)

	require.NoError(t, results[0].Err)
	area, ok := results[0].Series.Records[0].Area()
	require.True(t, ok)
	assert.InDelta(t, float64(waterTo*side*900), area, 1e-6)

	require.NoError(t, results[1].Err)
	area, ok = results[1].Series.Records[0].Area()
	require.True(t, ok)
	assert.Equal(t, 0.0, area)

	assert.ErrorIs(t, results[2].Err, raster.ErrInput)
	assert.Nil(t, results[2].Series)
}

func TestRunRegions_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := NewRunner(service(true), testConfig())
	m, err := r.Fit(ctx, points(10))
	require.NoError(t, err)
	cancel()
	_, err = r.RunRegions(ctx, []region.Region{study()}, m)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEvaluate(t *testing.T) {
	ctx := context.Background()
	r := NewRunner(service(true), testConfig())
	m, err := r.Fit(ctx, points(20))
	require.NoError(t, err)
	reports, err := r.Evaluate(ctx, m)
	require.NoError(t, err)
	require.Len(t, reports, 2)
	for _, rep := range reports {
		assert.Equal(t, 1.0, rep.Accuracy, rep.Modality)
		assert.Equal(t, 40, rep.TrainSize+rep.TestSize)
	}
	assert.Equal(t, string(sensor.Optical), reports[0].Modality)
	assert.Equal(t, string(sensor.Radar), reports[1].Modality)
}

func TestPassThrough_RequiresRadarBands(t *testing.T) {
	t.Parallel()
	im := &raster.Image{ID: "s1", Grid: scene, Bands: []raster.Band{raster.NewBand(sensor.VV, scene.Len())}}
	c, err := PassThrough{}.Preprocess(context.Background(), raster.NewCollection("s1", im))
	require.NoError(t, err)
	_, err = c.Collect()
	assert.ErrorIs(t, err, raster.ErrInput)
}
