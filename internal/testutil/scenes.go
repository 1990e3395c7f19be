package testutil

import (
	"strconv"
	"time"

	"github.com/paulmach/orb"

	"github.com/banshee-data/waterextent/internal/config"
	"github.com/banshee-data/waterextent/internal/raster"
	"github.com/banshee-data/waterextent/internal/region"
	"github.com/banshee-data/waterextent/internal/water/labels"
	"github.com/banshee-data/waterextent/internal/water/sensor"
)

// Synthetic study area: a Side x Side grid of 30 m pixels whose columns
// [0, WaterTo) are open water in every source.
const (
	Side    = 40
	WaterTo = 20
	OriginX = 500000.0
	OriginY = 4001200.0
)

// SceneGrid is the grid shared by every synthetic scene.
var SceneGrid = raster.Grid{CRS: "EPSG:32612", Width: Side, Height: Side, OriginX: OriginX, OriginY: OriginY, PixelWidth: 30, PixelHeight: -30}

// WaterAreaM2 is the open-water area of the synthetic study region.
const WaterAreaM2 = float64(WaterTo * Side * 900)

// At returns a June 2021 UTC timestamp.
func At(day int, hour int) time.Time { return time.Date(2021, 6, day, hour, 0, 0, 0, time.UTC) }

// Fill builds an image whose pixels take water or dry values by column.
func Fill(id, source string, acquired time.Time, g raster.Grid, props map[string]float64, names []string, water, dry []float64) *raster.Image {
	im := &raster.Image{ID: id, Source: source, Acquired: acquired, Grid: g, Properties: props}
	for k, name := range names {
		b := raster.NewBand(name, g.Len())
		for r := 0; r < g.Height; r++ {
			for c := 0; c < g.Width; c++ {
				v := dry[k]
				if c < WaterTo {
					v = water[k]
				}
				b.Set(g.Index(c, r), v)
			}
		}
		im.Bands = append(im.Bands, b)
	}
	return im
}

// Surface reflectance of water and dry land, blue through swir2.
var (
	WaterRefl = []float64{0.05, 0.08, 0.06, 0.03, 0.02, 0.01}
	DryRefl   = []float64{0.08, 0.10, 0.15, 0.30, 0.35, 0.25}
)

func dn(refl []float64, qa float64) []float64 {
	out := make([]float64, 0, len(refl)+1)
	for _, v := range refl {
		out = append(out, v*10000)
	}
	return append(out, qa)
}

// Landsat returns a clear Landsat 8 scene.
func Landsat(id string, acquired time.Time) *raster.Image {
	names := append(append([]string{}, sensor.Landsat8.SourceBands...), sensor.Landsat8.QABand)
	return Fill(id, sensor.Landsat8ID, acquired, SceneGrid, map[string]float64{"CLOUD_COVER": 4}, names, dn(WaterRefl, 0), dn(DryRefl, 0))
}

// Sentinel2 returns a clear Sentinel-2 scene.
func Sentinel2(id string, acquired time.Time) *raster.Image {
	names := append(append([]string{}, sensor.Sentinel2.SourceBands...), sensor.Sentinel2.QABand)
	return Fill(id, sensor.Sentinel2ID, acquired, SceneGrid, map[string]float64{"CLOUDY_PIXEL_PERCENTAGE": 2}, names, dn(WaterRefl, 0), dn(DryRefl, 0))
}

// Sentinel1 returns a radar scene with dark water backscatter.
func Sentinel1(id string, acquired time.Time) *raster.Image {
	return Fill(id, sensor.Sentinel1ID, acquired, SceneGrid, nil, sensor.RadarBands, []float64{-21, -28, 36}, []float64{-8, -14, 36})
}

// Wind returns a uniform u/v wind field on a coarse grid over the scene.
func Wind(acquired time.Time, u, v float64) *raster.Image {
	g := raster.Grid{CRS: SceneGrid.CRS, Width: 4, Height: 4, OriginX: OriginX, OriginY: OriginY, PixelWidth: 300, PixelHeight: -300}
	im := &raster.Image{ID: "era5/" + acquired.Format(time.RFC3339), Source: config.DefaultWindSource, Acquired: acquired, Grid: g}
	for _, b := range []struct {
		name string
		v    float64
	}{{raster.WindUBand, u}, {raster.WindVBand, v}} {
		band := raster.NewBand(b.name, g.Len())
		for i := range band.Data {
			band.Set(i, b.v)
		}
		im.Bands = append(im.Bands, band)
	}
	return im
}

// Hand returns a uniform height-above-nearest-drainage image.
func Hand(metres float64) *raster.Image {
	im := &raster.Image{ID: "hand", Source: config.DefaultHandSource, Acquired: time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC), Grid: SceneGrid}
	b := raster.NewBand("hand", SceneGrid.Len())
	for i := range b.Data {
		b.Set(i, metres)
	}
	im.Bands = []raster.Band{b}
	return im
}

// Points returns n water points and n non-water points at pixel centres.
func Points(n int) []labels.Point {
	var out []labels.Point
	for i := 0; i < n; i++ {
		r := (3*i + 2) % Side
		x, y := SceneGrid.Center(2+i%(WaterTo-4), r)
		out = append(out, labels.Point{ID: "w" + strconv.Itoa(i), X: x, Y: y, Label: labels.Water})
		x, y = SceneGrid.Center(WaterTo+4+i%(Side-WaterTo-6), r)
		out = append(out, labels.Point{ID: "d" + strconv.Itoa(i), X: x, Y: y, Label: labels.NonWater})
	}
	return out
}

// Service returns a catalog with one Landsat 8, one Sentinel-2 and one
// Sentinel-1 scene in June 2021 plus low HAND everywhere. withWind adds
// calm wind for the radar acquisition day.
func Service(withWind bool) *raster.LocalService {
	svc := raster.NewLocalService()
	svc.Add(
		Landsat("LC08_20210605", At(5, 17)),
		Sentinel2("S2_20210610", At(10, 18)),
		Sentinel1("S1_20210615", At(15, 13)),
		Hand(2),
	)
	if withWind {
		svc.Add(Wind(At(15, 0), 1, 1), Wind(At(15, 6), 1.2, 0.5))
	}
	return svc
}

// Config returns a two-month monthly configuration with a small ensemble.
func Config() *config.PipelineConfig {
	cfg := config.EmptyConfig().WithDates("2021-06-01", "2021-08-01")
	g := config.GranularityMonth
	n := 25
	cfg.PeriodGranularity = &g
	cfg.EnsembleSize = &n
	return cfg
}

// Study returns a region covering the whole scene.
func Study(id string) region.Region {
	b := SceneGrid.Bound()
	return region.Region{ID: id, Geometry: b.ToPolygon()}
}

// Regions returns the whole scene plus its water (west) and dry (east)
// halves, all in one forest and split across two districts.
func Regions() []region.Region {
	west := orb.Bound{Min: orb.Point{OriginX, OriginY - Side*30}, Max: orb.Point{OriginX + WaterTo*30, OriginY}}
	east := orb.Bound{Min: orb.Point{OriginX + WaterTo*30, OriginY - Side*30}, Max: orb.Point{OriginX + Side*30, OriginY}}
	whole := SceneGrid.Bound()
	return []region.Region{
		{ID: "study", State: "AZ", Forest: "Tonto", Geometry: whole.ToPolygon()},
		{ID: "west", State: "AZ", Forest: "Tonto", District: "Payson", Allotment: "Cold Spring", Geometry: west.ToPolygon()},
		{ID: "east", State: "AZ", Forest: "Tonto", District: "Pleasant Valley", Allotment: "Colcord", Geometry: east.ToPolygon()},
	}
}
