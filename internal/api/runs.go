package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/waterextent/internal/config"
	"github.com/banshee-data/waterextent/internal/httputil"
	"github.com/banshee-data/waterextent/internal/region"
	"github.com/banshee-data/waterextent/internal/report"
	"github.com/banshee-data/waterextent/internal/security"
	"github.com/banshee-data/waterextent/internal/units"
	"github.com/banshee-data/waterextent/internal/water/jobs"
	"github.com/banshee-data/waterextent/internal/water/labels"
	"github.com/banshee-data/waterextent/internal/water/pipeline"
	"github.com/banshee-data/waterextent/internal/water/storage/sqlite"
)

// maxRunsPerQuery caps list responses; clients page by region.
const maxRunsPerQuery = 500

// maxRequestBody bounds run requests, which may carry inline points.
const maxRequestBody = 32 << 20

// runRequest starts a job. Config is merged over the server defaults.
type runRequest struct {
	Config   *config.PipelineConfig `json:"config,omitempty"`
	RegionID string                 `json:"region_id,omitempty"`
	Filter   region.Filter          `json:"filter"`
	LabelSet string                 `json:"label_set,omitempty"`
	Points   []labels.Point         `json:"points,omitempty"`
	Evaluate bool                   `json:"evaluate,omitempty"`
}

// recordView is an area record in the requested unit.
type recordView struct {
	PeriodStart      time.Time       `json:"period_start"`
	PeriodEnd        time.Time       `json:"period_end"`
	WaterArea        *float64        `json:"water_area"`
	ImageCount       int             `json:"image_count"`
	SourceImageDates []time.Time     `json:"source_image_dates"`
	Coverage         float64         `json:"coverage"`
	Status           pipeline.Status `json:"status"`
	Error            string          `json:"error,omitempty"`
}

type seriesView struct {
	RunID       string       `json:"run_id"`
	RegionID    string       `json:"region_id"`
	Granularity string       `json:"granularity"`
	Start       time.Time    `json:"start"`
	End         time.Time    `json:"end"`
	Units       string       `json:"units"`
	Records     []recordView `json:"records"`
}

func newSeriesView(ts *pipeline.TimeSeries, unit string) seriesView {
	v := seriesView{
		RunID:       ts.RunID,
		RegionID:    ts.RegionID,
		Granularity: ts.Granularity,
		Start:       ts.Start,
		End:         ts.End,
		Units:       unit,
		Records:     make([]recordView, len(ts.Records)),
	}
	for i, rec := range ts.Records {
		rv := recordView{
			PeriodStart:      rec.PeriodStart,
			PeriodEnd:        rec.PeriodEnd,
			ImageCount:       rec.ImageCount,
			SourceImageDates: rec.SourceImageDates,
			Coverage:         rec.Coverage,
			Status:           rec.Status,
			Error:            rec.Error,
		}
		if a, ok := rec.Area(); ok {
			a = units.ConvertArea(a, unit)
			rv.WaterArea = &a
		}
		if rv.SourceImageDates == nil {
			rv.SourceImageDates = []time.Time{}
		}
		v.Records[i] = rv
	}
	return v
}

func (s *Server) stores(w http.ResponseWriter) (*jobs.Stores, bool) {
	if s.exec == nil || s.exec.Stores == nil {
		httputil.InternalServerError(w, "no database configured")
		return nil, false
	}
	return s.exec.Stores, true
}

// handleRuns lists runs or starts a new one.
func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.listRuns(w, r)
	case http.MethodPost:
		s.createRun(w, r)
	default:
		httputil.MethodNotAllowed(w)
	}
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	st, ok := s.stores(w)
	if !ok {
		return
	}
	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 1 || n > maxRunsPerQuery {
			httputil.BadRequest(w, "invalid 'limit' parameter")
			return
		}
		limit = n
	}
	runs, err := st.Runs.List(r.URL.Query().Get("region_id"), limit)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if runs == nil {
		runs = []*sqlite.Run{}
	}
	httputil.WriteJSONOK(w, runs)
}

// createRun executes a job synchronously and returns its outcome. The
// request context bounds the run.
func (s *Server) createRun(w http.ResponseWriter, r *http.Request) {
	if s.exec == nil {
		httputil.InternalServerError(w, "no executor configured")
		return
	}
	var req runRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		httputil.BadRequest(w, "invalid run request: "+err.Error())
		return
	}
	cfg, err := s.defaults.Merge(req.Config)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	out, err := s.exec.Execute(r.Context(), jobs.Request{
		Config:   cfg,
		RegionID: req.RegionID,
		Filter:   req.Filter,
		Points:   req.Points,
		LabelSet: req.LabelSet,
		Evaluate: req.Evaluate,
	})
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, out)
}

// handleRunByID serves /api/runs/{id} and its views: timeseries, chart,
// chart.png, csv, models and accuracy.
func (s *Server) handleRunByID(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/runs/"), "/"), "/")
	runID := parts[0]
	if runID == "" {
		httputil.BadRequest(w, "run_id is required")
		return
	}
	if len(parts) > 2 {
		httputil.NotFound(w, "unknown run view")
		return
	}
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	st, ok := s.stores(w)
	if !ok {
		return
	}
	run, err := st.Runs.Get(runID)
	if errors.Is(err, sqlite.ErrNotFound) {
		httputil.NotFound(w, "run not found")
		return
	}
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	view := ""
	if len(parts) == 2 {
		view = parts[1]
	}
	switch view {
	case "":
		httputil.WriteJSONOK(w, run)
	case "models":
		models, err := st.Models.List(runID)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		if models == nil {
			models = []sqlite.ModelInfo{}
		}
		httputil.WriteJSONOK(w, models)
	case "accuracy":
		reps, err := st.Reports.List(runID)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		httputil.WriteJSONOK(w, reps)
	case "timeseries", "chart", "chart.png", "csv":
		s.serveSeries(w, r, st, run, view)
	default:
		httputil.NotFound(w, "unknown run view")
	}
}

func (s *Server) serveSeries(w http.ResponseWriter, r *http.Request, st *jobs.Stores, run *sqlite.Run, view string) {
	unit, ok := s.unitsParam(w, r)
	if !ok {
		return
	}
	ts, err := st.Runs.TimeSeries(run.RunID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	ts.RegionID = run.RegionID
	ts.Granularity = run.Granularity
	ts.Start, ts.End = run.StartDate, run.EndDate

	switch view {
	case "timeseries":
		httputil.WriteJSONOK(w, newSeriesView(ts, unit))
	case "chart":
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := report.HTML(w, ts, unit, s.AssetsHost); err != nil {
			httputil.InternalServerError(w, "render chart: "+err.Error())
		}
	case "chart.png":
		width, height, ok := sizeParams(w, r)
		if !ok {
			return
		}
		w.Header().Set("Content-Type", "image/png")
		if err := report.PNG(w, ts, unit, width, height); err != nil {
			httputil.InternalServerError(w, "render chart: "+err.Error())
		}
	case "csv":
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", `attachment; filename="`+security.ReportFilename(run.RegionID, run.StartDate, "csv")+`"`)
		if err := report.CSV(w, ts, unit); err != nil {
			httputil.InternalServerError(w, "write csv: "+err.Error())
		}
	}
}

// sizeParams reads ?width= and ?height= in inches, defaulting to 8x4.
func sizeParams(w http.ResponseWriter, r *http.Request) (vg.Length, vg.Length, bool) {
	size := [2]float64{8, 4}
	for i, key := range []string{"width", "height"} {
		v := r.URL.Query().Get(key)
		if v == "" {
			continue
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f < 1 || f > 40 {
			httputil.BadRequest(w, "invalid '"+key+"' parameter")
			return 0, 0, false
		}
		size[i] = f
	}
	return vg.Length(size[0]) * vg.Inch, vg.Length(size[1]) * vg.Inch, true
}

// listModels returns every stored model's metadata.
func (s *Server) listModels(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	st, ok := s.stores(w)
	if !ok {
		return
	}
	models, err := st.Models.List(r.URL.Query().Get("run_id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if models == nil {
		models = []sqlite.ModelInfo{}
	}
	httputil.WriteJSONOK(w, models)
}
