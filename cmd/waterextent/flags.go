package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/banshee-data/waterextent/internal/config"
	"github.com/banshee-data/waterextent/internal/db"
	"github.com/banshee-data/waterextent/internal/raster"
	"github.com/banshee-data/waterextent/internal/raster/rasterclient"
	"github.com/banshee-data/waterextent/internal/region"
	"github.com/banshee-data/waterextent/internal/water/jobs"
	"github.com/banshee-data/waterextent/internal/water/labels"
)

const defaultDBPath = "waterextent.db"

// commonFlags are shared by run, evaluate and serve.
type commonFlags struct {
	configPath  string
	manifest    string
	rasterURL   string
	regionsPath string
	dbPath      string
	start       string
	end         string
	region      string
	granularity string
	labelsPath  string
	waterPath   string
	dryPath     string
	labelSet    string
	saveLabels  bool
	rasterSvc   *raster.LocalService
}

func (c *commonFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&c.configPath, "config", "", "Pipeline config file (.json, .yaml, .yml)")
	fs.StringVar(&c.manifest, "manifest", "", "Local raster manifest")
	fs.StringVar(&c.rasterURL, "raster-url", "", "Base URL of a remote raster service")
	fs.StringVar(&c.regionsPath, "regions", "", "Region catalog GeoJSON")
	fs.StringVar(&c.dbPath, "db", defaultDBPath, "SQLite database path")
	fs.StringVar(&c.start, "start", "", "Query start date (YYYY-MM-DD), inclusive")
	fs.StringVar(&c.end, "end", "", "Query end date (YYYY-MM-DD), exclusive")
	fs.StringVar(&c.region, "region", "", "Region ID to process")
	fs.StringVar(&c.granularity, "granularity", "", "Period granularity: week or month")
	fs.StringVar(&c.labelsPath, "labels", "", "Labeled point GeoJSON with a numeric 'class' property")
	fs.StringVar(&c.waterPath, "water", "", "Point GeoJSON, every feature labeled water")
	fs.StringVar(&c.dryPath, "non-water", "", "Point GeoJSON, every feature labeled non-water")
	fs.StringVar(&c.labelSet, "label-set", "", "Named label set in the database")
	fs.BoolVar(&c.saveLabels, "save-labels", false, "Store the loaded points under -label-set")
}

// pipelineConfig layers the config file and flag overrides over the
// embedded defaults.
func (c *commonFlags) pipelineConfig() (*config.PipelineConfig, error) {
	cfg := config.DefaultConfig()
	if c.configPath != "" {
		file, err := config.LoadConfig(c.configPath)
		if err != nil {
			return nil, err
		}
		if cfg, err = cfg.Merge(file); err != nil {
			return nil, err
		}
	}
	overrides := config.EmptyConfig()
	if c.start != "" {
		overrides.StartDate = &c.start
	}
	if c.end != "" {
		overrides.EndDate = &c.end
	}
	if c.region != "" {
		overrides.Region = &c.region
	}
	if c.granularity != "" {
		overrides.PeriodGranularity = &c.granularity
	}
	return cfg.Merge(overrides)
}

// service returns the raster backend: a local manifest or a remote
// raster service, never both.
func (c *commonFlags) service() (raster.Service, error) {
	switch {
	case c.manifest != "" && c.rasterURL != "":
		return nil, fmt.Errorf("%w: -manifest and -raster-url are exclusive", errUsage)
	case c.manifest != "":
		svc, err := raster.LoadManifest(c.manifest)
		if err != nil {
			return nil, err
		}
		c.rasterSvc = svc
		return svc, nil
	case c.rasterURL != "":
		return rasterclient.New(c.rasterURL)
	}
	return nil, fmt.Errorf("%w: one of -manifest or -raster-url is required", errUsage)
}

func (c *commonFlags) catalog() (*region.Catalog, error) {
	if c.regionsPath == "" {
		return nil, nil
	}
	return region.LoadFile(c.regionsPath)
}

// points reads the label files. An empty result with no error means no
// label file was given.
func (c *commonFlags) points() ([]labels.Point, error) {
	store := labels.NewStore()
	for _, src := range []struct {
		path  string
		label int
	}{{c.labelsPath, -1}, {c.waterPath, labels.Water}, {c.dryPath, labels.NonWater}} {
		if src.path == "" {
			continue
		}
		data, err := os.ReadFile(src.path)
		if err != nil {
			return nil, err
		}
		pts, err := labels.FromGeoJSON(data, "class", src.label)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", src.path, err)
		}
		for _, p := range pts {
			if src.label >= 0 {
				p.Label = src.label
			}
			if _, err := store.Add(p); err != nil {
				return nil, fmt.Errorf("%s: %w", src.path, err)
			}
		}
	}
	if store.Len() > 0 {
		w, d := store.Counts()
		log.Printf("loaded %d labeled points (%d water, %d non-water, %d duplicates)", store.Len(), w, d, store.Duplicates())
	}
	return store.Points(), nil
}

// executor opens the database and assembles the job executor and its
// request. The caller closes the returned database.
func (c *commonFlags) executor() (*jobs.Executor, *db.DB, jobs.Request, error) {
	var req jobs.Request
	cfg, err := c.pipelineConfig()
	if err != nil {
		return nil, nil, req, err
	}
	svc, err := c.service()
	if err != nil {
		return nil, nil, req, err
	}
	cat, err := c.catalog()
	if err != nil {
		return nil, nil, req, err
	}
	pts, err := c.points()
	if err != nil {
		return nil, nil, req, err
	}
	d, err := db.NewDB(c.dbPath)
	if err != nil {
		return nil, nil, req, fmt.Errorf("open database: %w", err)
	}
	stores := jobs.NewStores(d.DB)
	if c.saveLabels {
		if c.labelSet == "" || len(pts) == 0 {
			d.Close()
			return nil, nil, req, fmt.Errorf("%w: -save-labels needs -label-set and a label file", errUsage)
		}
		if err := stores.Labels.Save(c.labelSet, pts); err != nil {
			d.Close()
			return nil, nil, req, err
		}
		log.Printf("saved %d points as label set %q", len(pts), c.labelSet)
	}
	req = jobs.Request{Config: cfg, Points: pts, LabelSet: c.labelSet}
	return &jobs.Executor{Service: svc, Regions: cat, Stores: stores}, d, req, nil
}
