// Command waterextent classifies surface water in multi-sensor imagery
// and aggregates the water area of regions into time series.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/banshee-data/waterextent/internal/db"
	"github.com/banshee-data/waterextent/internal/version"
)

// errUsage marks a command line the user must fix; main exits 2 for it.
var errUsage = errors.New("usage")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, errUsage) || errors.Is(err, db.ErrUsage) {
			os.Exit(2)
		}
		log.Fatalf("waterextent: %v", err)
	}
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	if len(args) < 1 {
		printUsage(stdout)
		return errUsage
	}
	command, args := args[0], args[1:]

	switch command {
	case "run":
		return cmdRun(ctx, args, stdout)
	case "evaluate":
		return cmdEvaluate(ctx, args, stdout)
	case "serve":
		return cmdServe(ctx, args, stdout)
	case "migrate":
		fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
		dbPath := fs.String("db", defaultDBPath, "SQLite database path")
		if err := fs.Parse(args); err != nil {
			return errUsage
		}
		return db.RunMigrateCommand(fs.Args(), *dbPath, stdout)
	case "version":
		fmt.Fprintf(stdout, "waterextent version %s\n", version.String())
		return nil
	case "help", "-h", "--help":
		printUsage(stdout)
		return nil
	default:
		fmt.Fprintf(stdout, "Unknown command: %s\n\n", command)
		printUsage(stdout)
		return errUsage
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, `waterextent - surface water extent time series from optical and radar imagery

Usage: waterextent <command> [options]

Commands:
  run        Train, classify and aggregate water area for one or more regions
  evaluate   Train and report held-out accuracy without running any region
  serve      Serve the HTTP API over the local database
  migrate    Manage database schema migrations (up, down, status, ...)
  version    Show version
  help       Show this help message

Common Flags:
  -config <file>       Pipeline config (.json, .yaml); overrides the built-in defaults
  -manifest <file>     Local raster manifest (scenes, HAND, wind NetCDF)
  -raster-url <url>    Remote raster service (another 'serve -serve-raster')
  -regions <file>      Region catalog GeoJSON
  -db <file>           SQLite database (default waterextent.db)
  -start, -end         Override the query range (YYYY-MM-DD)
  -labels <file>       Labeled point GeoJSON with a numeric 'class' property
  -water, -non-water   Point GeoJSON files labeled by membership
  -label-set <name>    Use (or with -save-labels, store) a named label set

Examples:
  waterextent run -manifest scenes.json -regions allotments.geojson \
      -region "Cold Spring" -water water.geojson -non-water dry.geojson -out reports
  waterextent run -manifest scenes.json -regions allotments.geojson -forest Tonto -label-set 2021
  waterextent serve -manifest scenes.json -regions allotments.geojson -listen :8080
  waterextent migrate status`)
}
