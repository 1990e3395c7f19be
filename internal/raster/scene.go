package raster

import (
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/image/tiff"
)

// maxManifestSize bounds manifest files read from disk.
const maxManifestSize = 4 * 1024 * 1024

// Manifest lists the local scenes and wind grids a LocalService serves.
// Paths are relative to the manifest's directory.
type Manifest struct {
	Scenes []Scene    `json:"scenes"`
	Wind   []WindFile `json:"wind,omitempty"`
	Static []Scene    `json:"static,omitempty"`
}

// Scene describes one acquisition stored as single-band GeoTIFF files.
type Scene struct {
	ID         string             `json:"id"`
	Source     string             `json:"source"`
	Acquired   time.Time          `json:"acquired"`
	Grid       Grid               `json:"grid"`
	Properties map[string]float64 `json:"properties,omitempty"`
	Bands      []BandFile         `json:"bands"`
}

// BandFile maps a band name to a TIFF file. Stored integers convert to
// physical values as raw*Scale + Offset; raw values equal to NoData are
// nodata.
type BandFile struct {
	Name   string   `json:"name"`
	Path   string   `json:"path"`
	Scale  *float64 `json:"scale,omitempty"`
	Offset float64  `json:"offset,omitempty"`
	NoData *float64 `json:"nodata,omitempty"`
}

// LoadManifest reads a JSON manifest and returns a catalog serving its
// scenes. TIFF pixels are read lazily; wind grids are decoded up front.
func LoadManifest(path string) (*LocalService, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat manifest: %w", err)
	}
	if info.Size() > maxManifestSize {
		return nil, Inputf("manifest %s too large (%d bytes)", path, info.Size())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, Inputf("parse manifest %s: %v", path, err)
	}

	dir := filepath.Dir(path)
	fsys := os.DirFS(dir)
	svc := NewLocalService()
	for _, sc := range append(m.Scenes, m.Static...) {
		if err := svc.AddScene(fsys, sc); err != nil {
			return nil, err
		}
	}
	for _, w := range m.Wind {
		if !fs.ValidPath(w.Path) {
			return nil, Inputf("wind path %q escapes manifest directory", w.Path)
		}
		w.Path = filepath.Join(dir, filepath.FromSlash(w.Path))
		imgs, err := LoadWindNetCDF(w)
		if err != nil {
			return nil, err
		}
		svc.Add(imgs...)
	}
	return svc, nil
}

// AddScene registers a scene whose band files live in fsys.
func (s *LocalService) AddScene(fsys fs.FS, sc Scene) error {
	if sc.ID == "" || sc.Source == "" {
		return Inputf("scene requires id and source")
	}
	if err := sc.Grid.Validate(); err != nil {
		return fmt.Errorf("scene %s: %w", sc.ID, err)
	}
	if len(sc.Bands) == 0 {
		return Inputf("scene %s has no bands", sc.ID)
	}
	for _, bf := range sc.Bands {
		if !fs.ValidPath(bf.Path) {
			return Inputf("scene %s band %s: invalid path %q", sc.ID, bf.Name, bf.Path)
		}
	}
	meta := &Image{ID: sc.ID, Source: sc.Source, Acquired: sc.Acquired, Grid: sc.Grid, Properties: sc.Properties}
	s.addLazy(meta, func() (*Image, error) {
		im := meta.Derive()
		for _, bf := range sc.Bands {
			b, err := ReadTIFFBand(fsys, bf, sc.Grid)
			if err != nil {
				return nil, fmt.Errorf("scene %s: %w", sc.ID, err)
			}
			im.Bands = append(im.Bands, b)
		}
		return im, nil
	})
	return nil
}

// ReadTIFFBand decodes a single-band grayscale TIFF onto g.
func ReadTIFFBand(fsys fs.FS, bf BandFile, g Grid) (Band, error) {
	f, err := fsys.Open(bf.Path)
	if err != nil {
		return Band{}, fmt.Errorf("open band %s: %w", bf.Name, err)
	}
	defer f.Close()

	img, err := tiff.Decode(f)
	if err != nil {
		return Band{}, Inputf("decode band %s (%s): %v", bf.Name, bf.Path, err)
	}
	r := img.Bounds()
	if r.Dx() != g.Width || r.Dy() != g.Height {
		return Band{}, Inputf("band %s is %dx%d, grid is %dx%d", bf.Name, r.Dx(), r.Dy(), g.Width, g.Height)
	}

	scale := 1.0
	if bf.Scale != nil {
		scale = *bf.Scale
	}
	b := NewBand(bf.Name, g.Len())
	for y := 0; y < g.Height; y++ {
		for x := 0; x < g.Width; x++ {
			raw := grayAt(img, r.Min.X+x, r.Min.Y+y)
			if bf.NoData != nil && raw == *bf.NoData {
				continue
			}
			b.Set(g.Index(x, y), raw*scale+bf.Offset)
		}
	}
	return b, nil
}

func grayAt(img image.Image, x, y int) float64 {
	switch t := img.(type) {
	case *image.Gray16:
		return float64(t.Gray16At(x, y).Y)
	case *image.Gray:
		return float64(t.GrayAt(x, y).Y)
	default:
		return float64(color.Gray16Model.Convert(img.At(x, y)).(color.Gray16).Y)
	}
}
