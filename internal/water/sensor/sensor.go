// Package sensor describes the imagery sources the pipeline understands:
// their band names, QA encodings, scale factors and modality.
package sensor

import (
	"fmt"
	"maps"
	"slices"
	"sync"
)

// Modality separates sources that share a classifier.
type Modality string

const (
	Optical Modality = "optical"
	Radar   Modality = "radar"
)

// Common optical band names, the schema every optical source is mapped to.
const (
	Blue  = "blue"
	Green = "green"
	Red   = "red"
	NIR   = "nir"
	SWIR1 = "swir1"
	SWIR2 = "swir2"
)

// OpticalBands is the canonical optical band order.
var OpticalBands = []string{Blue, Green, Red, NIR, SWIR1, SWIR2}

// Radar channels produced by the radar preprocessor.
const (
	VV    = "VV"
	VH    = "VH"
	Angle = "angle"
)

// RadarBands is the canonical radar band order.
var RadarBands = []string{VV, VH, Angle}

// Profile describes one imagery source.
type Profile struct {
	ID       string
	Modality Modality

	// SourceBands lists the source's band names aligned with OpticalBands.
	// Empty for radar.
	SourceBands []string

	// QABand is the bit-packed quality band; QAMaskBits are the bits that
	// mark a pixel as cloud or shadow.
	QABand     string
	QAMaskBits []uint

	// ScaleFactor divides raw digital numbers into reflectance.
	ScaleFactor float64

	// CloudProperty is the scene-level cloud percentage property.
	CloudProperty string

	// Reference marks the source whose spectral response the others are
	// harmonized onto.
	Reference bool
}

// Source identifiers.
const (
	Landsat8ID  = "landsat8_sr"
	Sentinel2ID = "sentinel2_sr"
	Sentinel1ID = "sentinel1_grd"
)

// Landsat8 is Landsat 8 OLI surface reflectance, the reference optical source.
var Landsat8 = Profile{
	ID:            Landsat8ID,
	Modality:      Optical,
	SourceBands:   []string{"B2", "B3", "B4", "B5", "B6", "B7"},
	QABand:        "pixel_qa",
	QAMaskBits:    []uint{3, 5}, // cloud shadow, cloud
	ScaleFactor:   10000,
	CloudProperty: "CLOUD_COVER",
	Reference:     true,
}

// Sentinel2 is Sentinel-2 MSI surface reflectance, the alternate optical source.
var Sentinel2 = Profile{
	ID:            Sentinel2ID,
	Modality:      Optical,
	SourceBands:   []string{"B2", "B3", "B4", "B8", "B11", "B12"},
	QABand:        "QA60",
	QAMaskBits:    []uint{10, 11}, // opaque cloud, cirrus
	ScaleFactor:   10000,
	CloudProperty: "CLOUDY_PIXEL_PERCENTAGE",
}

// Sentinel1 is calibrated Sentinel-1 GRD backscatter.
var Sentinel1 = Profile{
	ID:       Sentinel1ID,
	Modality: Radar,
}

var (
	mu       sync.RWMutex
	profiles = map[string]Profile{
		Landsat8ID:  Landsat8,
		Sentinel2ID: Sentinel2,
		Sentinel1ID: Sentinel1,
	}
)

// Lookup returns the profile registered under id.
func Lookup(id string) (Profile, error) {
	mu.RLock()
	defer mu.RUnlock()
	p, ok := profiles[id]
	if !ok {
		return Profile{}, fmt.Errorf("unknown source %q (known: %v)", id, slices.Sorted(maps.Keys(profiles)))
	}
	return p, nil
}

// Register adds or replaces a profile.
func Register(p Profile) error {
	if p.ID == "" {
		return fmt.Errorf("profile requires an id")
	}
	if p.Modality == Optical && len(p.SourceBands) != len(OpticalBands) {
		return fmt.Errorf("optical profile %s maps %d bands, want %d", p.ID, len(p.SourceBands), len(OpticalBands))
	}
	mu.Lock()
	defer mu.Unlock()
	profiles[p.ID] = p
	return nil
}
