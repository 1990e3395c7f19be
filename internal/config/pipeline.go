package config

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/banshee-data/waterextent/internal/raster"
)

// DefaultConfigPath is the path to the canonical pipeline defaults file.
const DefaultConfigPath = "config/pipeline.defaults.json"

//go:embed pipeline.defaults.json
var embeddedDefaults []byte

// DefaultConfig returns the defaults compiled into the binary, a copy of
// DefaultConfigPath.
func DefaultConfig() *PipelineConfig {
	cfg := EmptyConfig()
	if err := json.Unmarshal(embeddedDefaults, cfg); err != nil {
		panic("embedded pipeline defaults: " + err.Error())
	}
	return cfg
}

// DateLayout is the calendar date format used for every date option.
const DateLayout = "2006-01-02"

// Period granularities.
const (
	GranularityWeek  = "week"
	GranularityMonth = "month"
)

// Mosaic precedence orders for the training feature mosaic.
const (
	MosaicMostRecentFirst  = "most_recent_first"
	MosaicLeastCloudyFirst = "least_cloudy_first"
)

// Built-in defaults, used when a field is absent from the loaded file.
const (
	DefaultGranularity            = GranularityMonth
	DefaultEnsembleSize           = 500
	DefaultSplitRatio             = 0.8
	DefaultWindSpeedThresholdKmh  = 12.0
	DefaultHandThresholdM         = 10.0
	DefaultCloudCoverThresholdPct = 20.0
	DefaultSeed                   = 42
	DefaultMinTrainingSamples     = 10
	DefaultMosaicOrder            = MosaicMostRecentFirst
	DefaultSmoothingRadiusPx      = 5
	DefaultSmoothingThreshold     = 0.97
	DefaultWindWindow             = "24h"
	DefaultMaxPixels              = int64(1e9)
	DefaultMaxParallel            = 4
	DefaultVoteThreshold          = 0.5
	DefaultBagFraction            = 0.5
	DefaultTreeMinLeaf            = 1
	DefaultWindSource             = "era5_wind"
	DefaultHandSource             = "hand"
)

// Default source lists.
var (
	DefaultOpticalSources = []string{"landsat8_sr", "sentinel2_sr"}
	DefaultRadarSources   = []string{"sentinel1_grd"}
)

// PipelineConfig is the configuration surface of one pipeline run. Every
// field is optional in the file; Get* accessors fall back to defaults, so
// partial configs are safe. The same schema is accepted by POST /api/runs.
type PipelineConfig struct {
	// Query
	StartDate         *string `json:"start_date,omitempty" yaml:"start_date,omitempty"`
	EndDate           *string `json:"end_date,omitempty" yaml:"end_date,omitempty"`
	Region            *string `json:"region,omitempty" yaml:"region,omitempty"`
	PeriodGranularity *string `json:"period_granularity,omitempty" yaml:"period_granularity,omitempty"`

	// Training
	TrainingStartDate  *string  `json:"training_start_date,omitempty" yaml:"training_start_date,omitempty"`
	TrainingEndDate    *string  `json:"training_end_date,omitempty" yaml:"training_end_date,omitempty"`
	EnsembleSize       *int     `json:"ensemble_size,omitempty" yaml:"ensemble_size,omitempty"`
	SplitRatio         *float64 `json:"split_ratio,omitempty" yaml:"split_ratio,omitempty"`
	Seed               *uint64  `json:"seed,omitempty" yaml:"seed,omitempty"`
	MinTrainingSamples *int     `json:"min_training_samples,omitempty" yaml:"min_training_samples,omitempty"`
	MosaicOrder        *string  `json:"mosaic_order,omitempty" yaml:"mosaic_order,omitempty"`
	VoteThreshold      *float64 `json:"vote_threshold,omitempty" yaml:"vote_threshold,omitempty"`
	BagFraction        *float64 `json:"bag_fraction,omitempty" yaml:"bag_fraction,omitempty"`
	TreeMaxDepth       *int     `json:"tree_max_depth,omitempty" yaml:"tree_max_depth,omitempty"`
	TreeMinLeaf        *int     `json:"tree_min_leaf,omitempty" yaml:"tree_min_leaf,omitempty"`
	FeaturesPerSplit   *int     `json:"features_per_split,omitempty" yaml:"features_per_split,omitempty"`

	// Masks
	WindSpeedThresholdKmh  *float64 `json:"wind_speed_threshold_kmh,omitempty" yaml:"wind_speed_threshold_kmh,omitempty"`
	HandThresholdM         *float64 `json:"hand_threshold_m,omitempty" yaml:"hand_threshold_m,omitempty"`
	CloudCoverThresholdPct *float64 `json:"cloud_cover_threshold_pct,omitempty" yaml:"cloud_cover_threshold_pct,omitempty"`
	SmoothingRadiusPx      *int     `json:"smoothing_radius_px,omitempty" yaml:"smoothing_radius_px,omitempty"`
	SmoothingThreshold     *float64 `json:"smoothing_threshold,omitempty" yaml:"smoothing_threshold,omitempty"`
	WindWindow             *string  `json:"wind_window,omitempty" yaml:"wind_window,omitempty"` // duration string like "24h"

	// Sources
	OpticalSources []string `json:"optical_sources,omitempty" yaml:"optical_sources,omitempty"`
	RadarSources   []string `json:"radar_sources,omitempty" yaml:"radar_sources,omitempty"`
	WindSource     *string  `json:"wind_source,omitempty" yaml:"wind_source,omitempty"`
	HandSource     *string  `json:"hand_source,omitempty" yaml:"hand_source,omitempty"`

	// Execution
	MaxPixels   *int64 `json:"max_pixels,omitempty" yaml:"max_pixels,omitempty"`
	MaxParallel *int   `json:"max_parallel,omitempty" yaml:"max_parallel,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyConfig returns a PipelineConfig with all fields unset.
func EmptyConfig() *PipelineConfig {
	return &PipelineConfig{}
}

// LoadConfig loads a PipelineConfig from a .json, .yaml or .yml file.
// Fields omitted from the file fall back to built-in defaults.
func LoadConfig(path string) (*PipelineConfig, error) {
	cleanPath := filepath.Clean(path)
	ext := filepath.Ext(cleanPath)
	if ext != ".json" && ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("config file must have .json, .yaml or .yml extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyConfig()
	if ext == ".json" {
		err = json.Unmarshal(data, cfg)
	} else {
		err = yaml.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", ext, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical defaults from DefaultConfigPath,
// searching the current directory and its parents. Panics if the file
// cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *PipelineConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,       // from internal/config/
		"../../../" + DefaultConfigPath,    // from internal/water/pipeline/
		"../../../../" + DefaultConfigPath, // deeper packages
	}
	for _, path := range candidates {
		if cfg, err := LoadConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid. Unset fields
// are not checked; their defaults are valid by construction. Failures
// wrap raster.ErrInput.
func (c *PipelineConfig) Validate() error {
	if err := c.validate(); err != nil {
		return fmt.Errorf("%w: %v", raster.ErrInput, err)
	}
	return nil
}

func (c *PipelineConfig) validate() error {
	for name, v := range map[string]*string{
		"start_date":          c.StartDate,
		"end_date":            c.EndDate,
		"training_start_date": c.TrainingStartDate,
		"training_end_date":   c.TrainingEndDate,
	} {
		if v != nil && *v != "" {
			if _, err := time.Parse(DateLayout, *v); err != nil {
				return fmt.Errorf("invalid %s %q: want YYYY-MM-DD", name, *v)
			}
		}
	}
	if s, e := c.StartDate, c.EndDate; s != nil && e != nil && *s != "" && *e != "" && *s >= *e {
		return fmt.Errorf("start_date %s must be before end_date %s", *s, *e)
	}
	if s, e := c.TrainingStartDate, c.TrainingEndDate; s != nil && e != nil && *s != "" && *e != "" && *s >= *e {
		return fmt.Errorf("training_start_date %s must be before training_end_date %s", *s, *e)
	}

	if g := c.PeriodGranularity; g != nil && *g != GranularityWeek && *g != GranularityMonth {
		return fmt.Errorf("period_granularity must be %q or %q, got %q", GranularityWeek, GranularityMonth, *g)
	}
	if m := c.MosaicOrder; m != nil && *m != MosaicMostRecentFirst && *m != MosaicLeastCloudyFirst {
		return fmt.Errorf("mosaic_order must be %q or %q, got %q", MosaicMostRecentFirst, MosaicLeastCloudyFirst, *m)
	}
	if c.EnsembleSize != nil && *c.EnsembleSize < 1 {
		return fmt.Errorf("ensemble_size must be at least 1, got %d", *c.EnsembleSize)
	}
	if c.SplitRatio != nil && (*c.SplitRatio <= 0 || *c.SplitRatio >= 1) {
		return fmt.Errorf("split_ratio must be in (0,1), got %f", *c.SplitRatio)
	}
	if c.MinTrainingSamples != nil && *c.MinTrainingSamples < 2 {
		return fmt.Errorf("min_training_samples must be at least 2, got %d", *c.MinTrainingSamples)
	}
	if c.VoteThreshold != nil && (*c.VoteThreshold < 0 || *c.VoteThreshold >= 1) {
		return fmt.Errorf("vote_threshold must be in [0,1), got %f", *c.VoteThreshold)
	}
	if c.BagFraction != nil && (*c.BagFraction <= 0 || *c.BagFraction > 1) {
		return fmt.Errorf("bag_fraction must be in (0,1], got %f", *c.BagFraction)
	}
	if c.TreeMaxDepth != nil && *c.TreeMaxDepth < 0 {
		return fmt.Errorf("tree_max_depth must be non-negative, got %d", *c.TreeMaxDepth)
	}
	if c.TreeMinLeaf != nil && *c.TreeMinLeaf < 1 {
		return fmt.Errorf("tree_min_leaf must be at least 1, got %d", *c.TreeMinLeaf)
	}
	if c.FeaturesPerSplit != nil && *c.FeaturesPerSplit < 0 {
		return fmt.Errorf("features_per_split must be non-negative, got %d", *c.FeaturesPerSplit)
	}
	for name, v := range map[string]*float64{
		"wind_speed_threshold_kmh":  c.WindSpeedThresholdKmh,
		"hand_threshold_m":          c.HandThresholdM,
		"cloud_cover_threshold_pct": c.CloudCoverThresholdPct,
	} {
		if v != nil && *v < 0 {
			return fmt.Errorf("%s must be non-negative, got %f", name, *v)
		}
	}
	if c.CloudCoverThresholdPct != nil && *c.CloudCoverThresholdPct > 100 {
		return fmt.Errorf("cloud_cover_threshold_pct must be at most 100, got %f", *c.CloudCoverThresholdPct)
	}
	if c.SmoothingRadiusPx != nil && *c.SmoothingRadiusPx < 0 {
		return fmt.Errorf("smoothing_radius_px must be non-negative, got %d", *c.SmoothingRadiusPx)
	}
	if c.SmoothingThreshold != nil && (*c.SmoothingThreshold < 0 || *c.SmoothingThreshold > 1) {
		return fmt.Errorf("smoothing_threshold must be in [0,1], got %f", *c.SmoothingThreshold)
	}
	if c.WindWindow != nil && *c.WindWindow != "" {
		d, err := time.ParseDuration(*c.WindWindow)
		if err != nil {
			return fmt.Errorf("invalid wind_window '%s': %w", *c.WindWindow, err)
		}
		if d <= 0 {
			return fmt.Errorf("wind_window must be positive, got %s", d)
		}
	}
	if c.MaxPixels != nil && *c.MaxPixels < 1 {
		return fmt.Errorf("max_pixels must be positive, got %d", *c.MaxPixels)
	}
	if c.MaxParallel != nil && *c.MaxParallel < 1 {
		return fmt.Errorf("max_parallel must be at least 1, got %d", *c.MaxParallel)
	}
	return nil
}

// DateRange returns the parsed query range [start, end).
func (c *PipelineConfig) DateRange() (start, end time.Time, err error) {
	start, end, err = parseRange(c.StartDate, c.EndDate, "start_date", "end_date")
	if err != nil {
		err = fmt.Errorf("%w: %v", raster.ErrInput, err)
	}
	return start, end, err
}

// TrainingRange returns the training window, defaulting to the query range.
func (c *PipelineConfig) TrainingRange() (start, end time.Time, err error) {
	if c.TrainingStartDate == nil || c.TrainingEndDate == nil {
		return c.DateRange()
	}
	start, end, err = parseRange(c.TrainingStartDate, c.TrainingEndDate, "training_start_date", "training_end_date")
	if err != nil {
		err = fmt.Errorf("%w: %v", raster.ErrInput, err)
	}
	return start, end, err
}

func parseRange(s, e *string, sName, eName string) (time.Time, time.Time, error) {
	if s == nil || *s == "" {
		return time.Time{}, time.Time{}, fmt.Errorf("%s is required", sName)
	}
	if e == nil || *e == "" {
		return time.Time{}, time.Time{}, fmt.Errorf("%s is required", eName)
	}
	start, err := time.Parse(DateLayout, *s)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid %s %q: %w", sName, *s, err)
	}
	end, err := time.Parse(DateLayout, *e)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid %s %q: %w", eName, *e, err)
	}
	if !start.Before(end) {
		return time.Time{}, time.Time{}, fmt.Errorf("%s %s must be before %s %s", sName, *s, eName, *e)
	}
	return start, end, nil
}

// GetRegion returns the configured region identifier ("" if unset).
func (c *PipelineConfig) GetRegion() string {
	if c.Region == nil {
		return ""
	}
	return *c.Region
}

// GetPeriodGranularity returns the composite period width.
func (c *PipelineConfig) GetPeriodGranularity() string {
	if c.PeriodGranularity == nil {
		return DefaultGranularity
	}
	return *c.PeriodGranularity
}

// GetEnsembleSize returns the number of trees per model.
func (c *PipelineConfig) GetEnsembleSize() int {
	if c.EnsembleSize == nil {
		return DefaultEnsembleSize
	}
	return *c.EnsembleSize
}

// GetSplitRatio returns the training share of the accuracy split.
func (c *PipelineConfig) GetSplitRatio() float64 {
	if c.SplitRatio == nil {
		return DefaultSplitRatio
	}
	return *c.SplitRatio
}

// GetSeed returns the classifier and split seed.
func (c *PipelineConfig) GetSeed() uint64 {
	if c.Seed == nil {
		return DefaultSeed
	}
	return *c.Seed
}

// GetMinTrainingSamples returns the minimum viable training set size.
func (c *PipelineConfig) GetMinTrainingSamples() int {
	if c.MinTrainingSamples == nil {
		return DefaultMinTrainingSamples
	}
	return *c.MinTrainingSamples
}

// GetMosaicOrder returns the training mosaic precedence.
func (c *PipelineConfig) GetMosaicOrder() string {
	if c.MosaicOrder == nil {
		return DefaultMosaicOrder
	}
	return *c.MosaicOrder
}

// GetVoteThreshold returns the water vote fraction a pixel must exceed.
func (c *PipelineConfig) GetVoteThreshold() float64 {
	if c.VoteThreshold == nil {
		return DefaultVoteThreshold
	}
	return *c.VoteThreshold
}

// GetBagFraction returns the bootstrap sample fraction per tree.
func (c *PipelineConfig) GetBagFraction() float64 {
	if c.BagFraction == nil {
		return DefaultBagFraction
	}
	return *c.BagFraction
}

// GetTreeMaxDepth returns the maximum tree depth (0 = unlimited).
func (c *PipelineConfig) GetTreeMaxDepth() int {
	if c.TreeMaxDepth == nil {
		return 0
	}
	return *c.TreeMaxDepth
}

// GetTreeMinLeaf returns the minimum samples per leaf.
func (c *PipelineConfig) GetTreeMinLeaf() int {
	if c.TreeMinLeaf == nil {
		return DefaultTreeMinLeaf
	}
	return *c.TreeMinLeaf
}

// GetFeaturesPerSplit returns the candidate features per split (0 = sqrt).
func (c *PipelineConfig) GetFeaturesPerSplit() int {
	if c.FeaturesPerSplit == nil {
		return 0
	}
	return *c.FeaturesPerSplit
}

// GetWindSpeedThresholdKmh returns the radar wind exclusion threshold.
func (c *PipelineConfig) GetWindSpeedThresholdKmh() float64 {
	if c.WindSpeedThresholdKmh == nil {
		return DefaultWindSpeedThresholdKmh
	}
	return *c.WindSpeedThresholdKmh
}

// GetHandThresholdM returns the drainage-height exclusion threshold.
func (c *PipelineConfig) GetHandThresholdM() float64 {
	if c.HandThresholdM == nil {
		return DefaultHandThresholdM
	}
	return *c.HandThresholdM
}

// GetCloudCoverThresholdPct returns the scene cloud-cover ceiling.
func (c *PipelineConfig) GetCloudCoverThresholdPct() float64 {
	if c.CloudCoverThresholdPct == nil {
		return DefaultCloudCoverThresholdPct
	}
	return *c.CloudCoverThresholdPct
}

// GetSmoothingRadiusPx returns the radar box-filter radius.
func (c *PipelineConfig) GetSmoothingRadiusPx() int {
	if c.SmoothingRadiusPx == nil {
		return DefaultSmoothingRadiusPx
	}
	return *c.SmoothingRadiusPx
}

// GetSmoothingThreshold returns the radar re-threshold level.
func (c *PipelineConfig) GetSmoothingThreshold() float64 {
	if c.SmoothingThreshold == nil {
		return DefaultSmoothingThreshold
	}
	return *c.SmoothingThreshold
}

// GetWindWindow returns the window of wind data around a radar
// acquisition, starting at the acquisition's UTC midnight.
func (c *PipelineConfig) GetWindWindow() time.Duration {
	if c.WindWindow == nil || *c.WindWindow == "" {
		d, _ := time.ParseDuration(DefaultWindWindow)
		return d
	}
	d, err := time.ParseDuration(*c.WindWindow)
	if err != nil {
		d, _ = time.ParseDuration(DefaultWindWindow)
	}
	return d
}

// GetOpticalSources returns the optical sources to read.
func (c *PipelineConfig) GetOpticalSources() []string {
	if c.OpticalSources == nil {
		return DefaultOpticalSources
	}
	return c.OpticalSources
}

// GetRadarSources returns the radar sources to read.
func (c *PipelineConfig) GetRadarSources() []string {
	if c.RadarSources == nil {
		return DefaultRadarSources
	}
	return c.RadarSources
}

// GetWindSource returns the wind reanalysis source.
func (c *PipelineConfig) GetWindSource() string {
	if c.WindSource == nil {
		return DefaultWindSource
	}
	return *c.WindSource
}

// GetHandSource returns the HAND source.
func (c *PipelineConfig) GetHandSource() string {
	if c.HandSource == nil {
		return DefaultHandSource
	}
	return *c.HandSource
}

// GetMaxPixels returns the per-reduction pixel budget.
func (c *PipelineConfig) GetMaxPixels() int64 {
	if c.MaxPixels == nil {
		return DefaultMaxPixels
	}
	return *c.MaxPixels
}

// GetMaxParallel returns the number of concurrent region/period workers.
func (c *PipelineConfig) GetMaxParallel() int {
	if c.MaxParallel == nil {
		return DefaultMaxParallel
	}
	return *c.MaxParallel
}

// WithDates returns a shallow copy of c with the query range replaced.
func (c *PipelineConfig) WithDates(start, end string) *PipelineConfig {
	cp := *c
	cp.StartDate = ptrString(start)
	cp.EndDate = ptrString(end)
	return &cp
}

// WithRegion returns a shallow copy of c with the region replaced.
func (c *PipelineConfig) WithRegion(region string) *PipelineConfig {
	cp := *c
	cp.Region = ptrString(region)
	return &cp
}

// Merge returns a copy of c with every field set in o replacing c's value.
// Source lists replace rather than append.
func (c *PipelineConfig) Merge(o *PipelineConfig) (*PipelineConfig, error) {
	base := map[string]json.RawMessage{}
	for _, src := range []*PipelineConfig{c, o} {
		if src == nil {
			continue
		}
		b, err := json.Marshal(src)
		if err != nil {
			return nil, fmt.Errorf("encode config: %w", err)
		}
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(b, &fields); err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
		for k, v := range fields {
			base[k] = v
		}
	}
	b, err := json.Marshal(base)
	if err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	out := EmptyConfig()
	if err := json.Unmarshal(b, out); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return out, nil
}
