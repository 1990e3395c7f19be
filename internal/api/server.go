package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/banshee-data/waterextent/internal/config"
	"github.com/banshee-data/waterextent/internal/db"
	"github.com/banshee-data/waterextent/internal/httputil"
	"github.com/banshee-data/waterextent/internal/monitoring"
	"github.com/banshee-data/waterextent/internal/units"
	"github.com/banshee-data/waterextent/internal/water/jobs"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// Server exposes regions, runs, labels and reports over HTTP.
type Server struct {
	db       *db.DB
	exec     *jobs.Executor
	defaults *config.PipelineConfig
	units    string

	// AssetsHost overrides where chart pages load echarts from.
	AssetsHost string
	// Raster, when set, is mounted under /raster/ so other instances can
	// use this one as their remote raster service.
	Raster http.Handler
}

// NewServer returns a server over exec's stores and catalog. defaults is
// the configuration run requests are merged over; units is the default
// area unit for responses.
func NewServer(d *db.DB, exec *jobs.Executor, defaults *config.PipelineConfig, units string) *Server {
	if defaults == nil {
		defaults = config.EmptyConfig()
	}
	return &Server{db: d, exec: exec, defaults: defaults, units: units}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		monitoring.Logf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/config", s.showConfig)
	mux.HandleFunc("/api/regions", s.listRegions)
	mux.HandleFunc("/api/regions/values", s.regionValues)
	mux.HandleFunc("/api/runs", s.handleRuns)
	mux.HandleFunc("/api/runs/", s.handleRunByID)
	mux.HandleFunc("/api/models", s.listModels)
	mux.HandleFunc("/api/labels", s.listLabelSets)
	mux.HandleFunc("/api/labels/", s.handleLabelSet)
	mux.Handle("/metrics", promhttp.HandlerFor(monitoring.Registry, promhttp.HandlerOpts{}))
	if s.db != nil {
		s.db.AttachAdminRoutes(mux)
	}
	if s.Raster != nil {
		mux.Handle("/raster/", http.StripPrefix("/raster", s.Raster))
	}
	return mux
}

// unitsParam returns the request's ?units= or the server default, and
// false after writing a 400 when the unit is unknown.
func (s *Server) unitsParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	u := r.URL.Query().Get("units")
	if u == "" {
		u = s.units
	}
	if u == "" {
		u = units.SquareMeters
	}
	if !units.IsValidArea(u) {
		httputil.BadRequest(w, "invalid units "+strconv.Quote(u)+"; want one of "+units.GetValidAreaUnitsString())
		return "", false
	}
	return u, true
}

func (s *Server) showConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, map[string]interface{}{
		"units":       s.units,
		"valid_units": units.ValidAreaUnits,
		"defaults":    s.defaults,
	})
}
