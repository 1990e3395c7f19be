package api

import (
	"net/http"

	"github.com/banshee-data/waterextent/internal/httputil"
	"github.com/banshee-data/waterextent/internal/region"
)

// regionSummary is a region without its geometry.
type regionSummary struct {
	region.Region
	Bounds [4]float64 `json:"bounds"` // min x, min y, max x, max y
}

func filterParam(r *http.Request) region.Filter {
	q := r.URL.Query()
	return region.Filter{
		State:     q.Get("state"),
		Forest:    q.Get("forest"),
		District:  q.Get("district"),
		Allotment: q.Get("allotment"),
	}
}

// listRegions returns the catalog regions matching the hierarchy filter.
func (s *Server) listRegions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.exec == nil || s.exec.Regions == nil {
		httputil.WriteJSONOK(w, []regionSummary{})
		return
	}
	regs := s.exec.Regions.Find(filterParam(r))
	out := make([]regionSummary, len(regs))
	for i, reg := range regs {
		b := reg.Bound()
		out[i] = regionSummary{Region: reg, Bounds: [4]float64{b.Min.X(), b.Min.Y(), b.Max.X(), b.Max.Y()}}
	}
	httputil.WriteJSONOK(w, out)
}

// regionValues lists the distinct labels at ?level= under the filter,
// for walking state, forest, district and allotment in turn.
func (s *Server) regionValues(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.exec == nil || s.exec.Regions == nil {
		httputil.NotFound(w, "no region catalog loaded")
		return
	}
	vals, err := s.exec.Regions.Values(r.URL.Query().Get("level"), filterParam(r))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if vals == nil {
		vals = []string{}
	}
	httputil.WriteJSONOK(w, vals)
}
