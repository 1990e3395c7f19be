package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/waterextent/internal/api"
	"github.com/banshee-data/waterextent/internal/raster/rasterclient"
	"github.com/banshee-data/waterextent/internal/region"
	"github.com/banshee-data/waterextent/internal/report"
	"github.com/banshee-data/waterextent/internal/security"
	"github.com/banshee-data/waterextent/internal/units"
	"github.com/banshee-data/waterextent/internal/water/jobs"
	"github.com/banshee-data/waterextent/internal/water/pipeline"
	"github.com/banshee-data/waterextent/internal/water/storage/postgres"
)

var reportFormats = []string{"csv", "png", "html"}

func cmdRun(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	var c commonFlags
	c.register(fs)
	var filter region.Filter
	fs.StringVar(&filter.State, "state", "", "Process every region in this state")
	fs.StringVar(&filter.Forest, "forest", "", "Process every region in this forest")
	fs.StringVar(&filter.District, "district", "", "Process every region in this district")
	fs.StringVar(&filter.Allotment, "allotment", "", "Process every region in this allotment")
	unit := fs.String("units", units.Acres, "Area units for reports: "+units.GetValidAreaUnitsString())
	outDir := fs.String("out", "", "Directory for per-region reports")
	formats := fs.String("formats", "csv", "Comma-separated report formats: csv, png, html")
	pgConn := fs.String("postgres", "", "PostgreSQL connection string; completed series are copied there")
	evaluate := fs.Bool("evaluate", false, "Also score the classifiers on the held-out split")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	if !units.IsValidArea(*unit) {
		return fmt.Errorf("%w: invalid -units %q, want one of %s", errUsage, *unit, units.GetValidAreaUnitsString())
	}
	wanted, err := parseFormats(*formats)
	if err != nil {
		return err
	}

	exec, d, req, err := c.executor()
	if err != nil {
		return err
	}
	defer d.Close()

	if *pgConn != "" {
		sink, err := postgres.Connect(ctx, *pgConn)
		if err != nil {
			return err
		}
		defer sink.Close()
		if err := sink.EnsureSchema(ctx); err != nil {
			return err
		}
		exec.Sink = sink
	}

	req.Filter = filter
	req.Evaluate = *evaluate
	out, err := exec.Execute(ctx, req)
	if err != nil {
		return err
	}

	printOutcome(stdout, out, *unit)
	if *outDir != "" {
		for _, o := range out.Regions {
			if o.Series == nil {
				continue
			}
			if err := writeReports(*outDir, o.Series, *unit, wanted); err != nil {
				return err
			}
		}
	}
	if n := out.Failed(); n > 0 {
		return fmt.Errorf("%d of %d regions failed", n, len(out.Regions))
	}
	return nil
}

func cmdEvaluate(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("evaluate", flag.ContinueOnError)
	var c commonFlags
	c.register(fs)
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	exec, d, req, err := c.executor()
	if err != nil {
		return err
	}
	defer d.Close()

	out, err := exec.Evaluate(ctx, req)
	if err != nil {
		return err
	}
	for _, r := range out.Reports {
		fmt.Fprintf(stdout, "%-8s model=%s train=%d test=%d accuracy=%.4f kappa=%.4f\n",
			r.Modality, r.ModelID, r.TrainSize, r.TestSize, r.Accuracy, r.Kappa)
	}
	return nil
}

func cmdServe(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	var c commonFlags
	c.register(fs)
	listen := fs.String("listen", ":8080", "Listen address")
	unit := fs.String("units", units.Acres, "Default area units: "+units.GetValidAreaUnitsString())
	assetsHost := fs.String("assets-host", "", "Override the chart JavaScript host")
	serveRaster := fs.Bool("serve-raster", false, "Expose the -manifest raster service under /raster/")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	if !units.IsValidArea(*unit) {
		return fmt.Errorf("%w: invalid -units %q", errUsage, *unit)
	}
	exec, d, _, err := c.executor()
	if err != nil {
		return err
	}
	defer d.Close()
	defaults, err := c.pipelineConfig()
	if err != nil {
		return err
	}

	srv := api.NewServer(d, exec, defaults, *unit)
	srv.AssetsHost = *assetsHost
	if *serveRaster {
		if c.rasterSvc == nil {
			return fmt.Errorf("%w: -serve-raster needs -manifest", errUsage)
		}
		srv.Raster = rasterclient.Handler(c.rasterSvc)
	}
	server := &http.Server{
		Addr:              *listen,
		Handler:           api.LoggingMiddleware(srv.ServeMux()),
		ReadHeaderTimeout: 10 * time.Second,
	}

	var wg sync.WaitGroup
	errc := make(chan error, 1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		fmt.Fprintf(stdout, "listening on %s\n", *listen)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	log.Println("shutting down HTTP server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
		if err := server.Close(); err != nil {
			log.Printf("HTTP server force close error: %v", err)
		}
	}
	wg.Wait()
	log.Printf("HTTP server stopped")
	return nil
}

func parseFormats(s string) (map[string]bool, error) {
	out := map[string]bool{}
	for _, f := range strings.Split(s, ",") {
		f = strings.ToLower(strings.TrimSpace(f))
		if f == "" {
			continue
		}
		known := false
		for _, k := range reportFormats {
			known = known || f == k
		}
		if !known {
			return nil, fmt.Errorf("%w: unknown report format %q", errUsage, f)
		}
		out[f] = true
	}
	return out, nil
}

func printOutcome(w io.Writer, out *jobs.Outcome, unit string) {
	for _, o := range out.Regions {
		if o.Err() != nil {
			fmt.Fprintf(w, "%-24s run=%s FAILED: %s\n", o.RegionID, o.RunID, o.Error)
			continue
		}
		latest := "n/a"
		for i := len(o.Series.Records) - 1; i >= 0; i-- {
			rec := o.Series.Records[i]
			if a, ok := rec.Area(); ok {
				latest = fmt.Sprintf("%.2f %s (%s)", units.ConvertArea(a, unit), unit, rec.PeriodStart.Format("2006-01"))
				break
			}
		}
		fmt.Fprintf(w, "%-24s run=%s periods=%d latest=%s\n", o.RegionID, o.RunID, len(o.Series.Records), latest)
	}
	for _, r := range out.Reports {
		fmt.Fprintf(w, "accuracy %-8s %.4f kappa %.4f (test n=%d)\n", r.Modality, r.Accuracy, r.Kappa, r.TestSize)
	}
}

func writeReports(dir string, ts *pipeline.TimeSeries, unit string, formats map[string]bool) error {
	for _, format := range reportFormats {
		if !formats[format] {
			continue
		}
		path := filepath.Join(dir, security.ReportFilename(ts.RegionID, ts.Start, format))
		f, err := security.CreateOutputFile(path, dir)
		if err != nil {
			return err
		}
		switch format {
		case "csv":
			err = report.CSV(f, ts, unit)
		case "png":
			err = report.PNG(f, ts, unit, 8*vg.Inch, 4*vg.Inch)
		case "html":
			err = report.HTML(f, ts, unit, "")
		}
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
		log.Printf("wrote %s", path)
	}
	return nil
}
