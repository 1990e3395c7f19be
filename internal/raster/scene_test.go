package raster

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/tiff"
)

func encodeGray16(t *testing.T, w, h int, vals []uint16) []byte {
	t.Helper()
	im := image.NewGray16(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			im.SetGray16(x, y, color.Gray16{Y: vals[y*w+x]})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, tiff.Encode(&buf, im, nil))
	return buf.Bytes()
}

func TestReadTIFFBand_ScaleAndNodata(t *testing.T) {
	t.Parallel()
	g := utmGrid(2, 2)
	fsys := fstest.MapFS{"b3.tif": {Data: encodeGray16(t, 2, 2, []uint16{0, 1000, 2000, 65535})}}
	scale := 1e-4
	nodata := 0.0
	b, err := ReadTIFFBand(fsys, BandFile{Name: "B3", Path: "b3.tif", Scale: &scale, NoData: &nodata}, g)
	require.NoError(t, err)
	assert.False(t, b.IsValid(0))
	assert.InDelta(t, 0.1, b.Data[1], 1e-12)
	assert.InDelta(t, 0.2, b.Data[2], 1e-12)
	assert.InDelta(t, 6.5535, b.Data[3], 1e-12)
}

func TestReadTIFFBand_SizeMismatch(t *testing.T) {
	t.Parallel()
	fsys := fstest.MapFS{"b.tif": {Data: encodeGray16(t, 2, 2, []uint16{1, 2, 3, 4})}}
	_, err := ReadTIFFBand(fsys, BandFile{Name: "B", Path: "b.tif"}, utmGrid(3, 3))
	assert.ErrorIs(t, err, ErrInput)
}

func TestAddScene_LazyLoad(t *testing.T) {
	t.Parallel()
	fsys := fstest.MapFS{
		"s/B2.tif": {Data: encodeGray16(t, 2, 1, []uint16{10, 20})},
	}
	svc := NewLocalService()
	sc := Scene{
		ID: "LC08_1", Source: "landsat8_sr",
		Acquired: time.Date(2021, 7, 1, 18, 0, 0, 0, time.UTC),
		Grid:     utmGrid(2, 1),
		Bands:    []BandFile{{Name: "B2", Path: "s/B2.tif"}},
	}
	require.NoError(t, svc.AddScene(fsys, sc))

	c, err := svc.Filter(context.Background(), Query{Source: "landsat8_sr"})
	require.NoError(t, err)
	imgs, err := c.Collect()
	require.NoError(t, err)
	require.Len(t, imgs, 1)
	assert.Equal(t, []float64{10, 20}, imgs[0].Bands[0].Data)

	bad := sc
	bad.Bands = []BandFile{{Name: "B2", Path: "../etc/passwd"}}
	assert.ErrorIs(t, svc.AddScene(fsys, bad), ErrInput)
}

func TestLoadManifest(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "hand.tif"), encodeGray16(t, 2, 2, []uint16{5, 15, 25, 0}), 0o644))
	scale := 1.0
	m := Manifest{Scenes: []Scene{{
		ID: "hand", Source: "hand", Grid: utmGrid(2, 2),
		Bands: []BandFile{{Name: "hand", Path: "hand.tif", Scale: &scale}},
	}}}
	data, err := json.Marshal(m)
	require.NoError(t, err)
	path := filepath.Join(dir, "manifest.json")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	svc, err := LoadManifest(path)
	require.NoError(t, err)
	assert.Equal(t, 1, svc.Len())

	_, err = LoadManifest(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)
}
