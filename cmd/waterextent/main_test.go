package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/paulmach/orb/geojson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/waterextent/internal/db"
	"github.com/banshee-data/waterextent/internal/monitoring"
	"github.com/banshee-data/waterextent/internal/raster/rasterclient"
	"github.com/banshee-data/waterextent/internal/testutil"
	"github.com/banshee-data/waterextent/internal/water/jobs"
	"github.com/banshee-data/waterextent/internal/water/labels"
	"github.com/banshee-data/waterextent/internal/water/storage/sqlite"
)

func init() { monitoring.SetLogger(nil) }

// fixture writes the synthetic scene's regions, labels and config to a
// temp dir and serves its rasters over HTTP.
type fixture struct {
	dir       string
	rasterURL string
	regions   string
	labels    string
	config    string
	db        string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	srv := httptest.NewServer(rasterclient.Handler(testutil.Service(true)))
	t.Cleanup(srv.Close)

	fc := geojson.NewFeatureCollection()
	for _, r := range testutil.Regions() {
		f := geojson.NewFeature(r.Geometry)
		f.Properties["id"] = r.ID
		f.Properties["state"] = r.State
		f.Properties["forest"] = r.Forest
		f.Properties["district"] = r.District
		f.Properties["allotment"] = r.Allotment
		fc.Append(f)
	}

	cfg := testutil.Config()
	n := 15
	cfg.EnsembleSize = &n

	return &fixture{
		dir:       dir,
		rasterURL: srv.URL,
		regions:   writeJSON(t, filepath.Join(dir, "regions.geojson"), fc),
		labels:    writeJSON(t, filepath.Join(dir, "labels.geojson"), pointsGeoJSON(testutil.Points(15), true)),
		config:    writeJSON(t, filepath.Join(dir, "config.json"), cfg),
		db:        filepath.Join(dir, "waterextent.db"),
	}
}

func (f *fixture) args(command string, extra ...string) []string {
	return append([]string{command,
		"-raster-url", f.rasterURL,
		"-regions", f.regions,
		"-config", f.config,
		"-db", f.db,
	}, extra...)
}

func pointsGeoJSON(pts []labels.Point, withClass bool) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, p := range pts {
		f := geojson.NewFeature(p.Location())
		f.Properties["id"] = p.ID
		if withClass {
			f.Properties["class"] = p.Label
		}
		fc.Append(f)
	}
	return fc
}

func writeJSON(t *testing.T, path string, v interface{}) string {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func byLabel(pts []labels.Point, label int) []labels.Point {
	var out []labels.Point
	for _, p := range pts {
		if p.Label == label {
			out = append(out, p)
		}
	}
	return out
}

func TestRun_Dispatch(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr error
		want    string
	}{
		{"no args", nil, errUsage, "Usage: waterextent"},
		{"help", []string{"help"}, nil, "Commands:"},
		{"version", []string{"version"}, nil, "waterextent version"},
		{"unknown", []string{"frobnicate"}, errUsage, "Unknown command: frobnicate"},
		{"migrate help", []string{"migrate", "help"}, nil, ""},
		{"migrate without action", []string{"migrate", "-db", filepath.Join(t.TempDir(), "m.db")}, db.ErrUsage, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			err := run(context.Background(), tt.args, &out)
			if tt.wantErr == nil {
				require.NoError(t, err)
			} else {
				assert.True(t, errors.Is(err, tt.wantErr), "err = %v", err)
			}
			assert.Contains(t, out.String(), tt.want)
		})
	}
}

func TestRunCommand_SingleRegionWritesReports(t *testing.T) {
	f := newFixture(t)
	outDir := filepath.Join(f.dir, "reports")

	var out bytes.Buffer
	err := run(context.Background(), f.args("run",
		"-region", "study",
		"-labels", f.labels,
		"-units", "m2",
		"-out", outDir,
		"-formats", "csv, html,png",
		"-evaluate",
	), &out)
	require.NoError(t, err)

	assert.Contains(t, out.String(), "study")
	assert.Contains(t, out.String(), "periods=2")
	assert.Contains(t, out.String(), "(2021-06)")
	assert.Contains(t, out.String(), "accuracy optical")
	for _, name := range []string{"study-2021-06-01.csv", "study-2021-06-01.html", "study-2021-06-01.png"} {
		info, err := os.Stat(filepath.Join(outDir, name))
		require.NoError(t, err, name)
		assert.Positive(t, info.Size(), name)
	}
	csv, err := os.ReadFile(filepath.Join(outDir, "study-2021-06-01.csv"))
	require.NoError(t, err)
	assert.Equal(t, 3, strings.Count(string(csv), "\n"), "header plus two periods")

	d, err := db.NewDB(f.db)
	require.NoError(t, err)
	defer d.Close()
	runs, err := sqlite.NewRunStore(d.DB).List("study", 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, sqlite.RunCompleted, runs[0].Status)
}

func TestRunCommand_FilterRunsEveryMatch(t *testing.T) {
	f := newFixture(t)

	var out bytes.Buffer
	require.NoError(t, run(context.Background(), f.args("run", "-forest", "Tonto", "-labels", f.labels), &out))
	for _, id := range []string{"study", "west", "east"} {
		assert.Contains(t, out.String(), id)
	}
	assert.NotContains(t, out.String(), "FAILED")
}

func TestEvaluateCommand_SavesAndReusesLabelSet(t *testing.T) {
	f := newFixture(t)
	pts := testutil.Points(15)
	water := writeJSON(t, filepath.Join(f.dir, "water.geojson"), pointsGeoJSON(byLabel(pts, labels.Water), false))
	dry := writeJSON(t, filepath.Join(f.dir, "dry.geojson"), pointsGeoJSON(byLabel(pts, labels.NonWater), false))

	var out bytes.Buffer
	require.NoError(t, run(context.Background(), f.args("evaluate",
		"-water", water, "-non-water", dry, "-label-set", "june", "-save-labels"), &out))
	assert.Contains(t, out.String(), "optical")
	assert.Contains(t, out.String(), "radar")
	assert.Contains(t, out.String(), "accuracy=1.0000")

	out.Reset()
	require.NoError(t, run(context.Background(), f.args("evaluate", "-label-set", "june"), &out))
	assert.Equal(t, 2, strings.Count(out.String(), "accuracy="))

	d, err := db.NewDB(f.db)
	require.NoError(t, err)
	defer d.Close()
	stores := jobs.NewStores(d.DB)
	sets, err := stores.Labels.Sets()
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"june": 30}, sets)
	models, err := stores.Models.List("")
	require.NoError(t, err)
	assert.Len(t, models, 4)
}

func TestRunCommand_Rejects(t *testing.T) {
	f := newFixture(t)
	unlabeled := writeJSON(t, filepath.Join(f.dir, "unlabeled.geojson"), pointsGeoJSON(testutil.Points(2), false))

	tests := []struct {
		name  string
		args  []string
		usage bool
	}{
		{"bad flag", []string{"run", "-nope"}, true},
		{"no raster backend", []string{"run", "-regions", f.regions, "-labels", f.labels, "-db", f.db}, true},
		{"both raster backends", f.args("run", "-manifest", "x.json", "-labels", f.labels), true},
		{"bad units", f.args("run", "-units", "furlongs"), true},
		{"bad format", f.args("run", "-formats", "csv,tiff"), true},
		{"save labels without set", f.args("run", "-labels", f.labels, "-save-labels"), true},
		{"unknown region", f.args("run", "-region", "nowhere", "-labels", f.labels), false},
		{"no labels", f.args("run", "-region", "study"), false},
		{"labels without class", f.args("run", "-region", "study", "-labels", unlabeled), false},
		{"reversed dates", f.args("run", "-region", "study", "-labels", f.labels, "-start", "2021-08-01", "-end", "2021-06-01"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := run(context.Background(), tt.args, &bytes.Buffer{})
			require.Error(t, err)
			assert.Equal(t, tt.usage, errors.Is(err, errUsage), "err = %v", err)
		})
	}
}

func TestServeCommand_ShutsDownOnCancel(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- run(ctx, f.args("serve", "-listen", "127.0.0.1:0"), &bytes.Buffer{})
	}()
	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("serve did not stop after cancellation")
	}
}

func TestServeCommand_RasterNeedsManifest(t *testing.T) {
	f := newFixture(t)
	err := run(context.Background(), f.args("serve", "-serve-raster"), &bytes.Buffer{})
	assert.True(t, errors.Is(err, errUsage), "err = %v", err)
}

func TestParseFormats(t *testing.T) {
	t.Parallel()
	got, err := parseFormats(" CSV,,png ")
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"csv": true, "png": true}, got)

	_, err = parseFormats("csv,gif")
	assert.True(t, errors.Is(err, errUsage))
}
