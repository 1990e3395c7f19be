package api

import (
	"io"
	"net/http"
	"slices"
	"strings"

	"github.com/banshee-data/waterextent/internal/httputil"
	"github.com/banshee-data/waterextent/internal/water/labels"
)

// maxLabelsUpload bounds one GeoJSON label upload.
const maxLabelsUpload = 64 << 20

// labelSetInfo is a stored label set and its point count.
type labelSetInfo struct {
	Name   string `json:"name"`
	Points int    `json:"points"`
}

// listLabelSets returns every stored label set.
func (s *Server) listLabelSets(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	st, ok := s.stores(w)
	if !ok {
		return
	}
	sets, err := st.Labels.Sets()
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	out := make([]labelSetInfo, 0, len(sets))
	for name, n := range sets {
		out = append(out, labelSetInfo{Name: name, Points: n})
	}
	slices.SortFunc(out, func(a, b labelSetInfo) int { return strings.Compare(a.Name, b.Name) })
	httputil.WriteJSONOK(w, out)
}

// handleLabelSet handles get, upload, and delete for one named set.
func (s *Server) handleLabelSet(w http.ResponseWriter, r *http.Request) {
	set := strings.TrimSpace(strings.TrimPrefix(r.URL.Path, "/api/labels/"))
	if set == "" || strings.Contains(set, "/") {
		httputil.BadRequest(w, "label set name is required")
		return
	}
	st, ok := s.stores(w)
	if !ok {
		return
	}

	switch r.Method {
	case http.MethodGet:
		pts, err := st.Labels.Load(set)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		if len(pts) == 0 {
			httputil.NotFound(w, "label set not found")
			return
		}
		httputil.WriteJSONOK(w, pts)
	case http.MethodPost:
		s.uploadLabels(w, r, set)
	case http.MethodDelete:
		n, err := st.Labels.Delete(set)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		if n == 0 {
			httputil.NotFound(w, "label set not found")
			return
		}
		httputil.WriteJSONOK(w, map[string]int64{"deleted": n})
	default:
		httputil.MethodNotAllowed(w)
	}
}

// uploadLabels stores a GeoJSON FeatureCollection of Point features in
// set. ?class=water or ?class=non_water labels features that carry no
// numeric "label" property; without it every feature must carry one.
func (s *Server) uploadLabels(w http.ResponseWriter, r *http.Request, set string) {
	def := -1
	switch r.URL.Query().Get("class") {
	case "":
	case "water":
		def = labels.Water
	case "non_water":
		def = labels.NonWater
	default:
		httputil.BadRequest(w, "invalid 'class' parameter; want water or non_water")
		return
	}
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxLabelsUpload))
	if err != nil {
		httputil.BadRequest(w, "read labels: "+err.Error())
		return
	}
	pts, err := labels.FromGeoJSON(data, "label", def)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if len(pts) == 0 {
		httputil.BadRequest(w, "no label features")
		return
	}
	// Duplicate coordinates within the upload collapse, last one wins.
	store := labels.NewStore()
	for _, p := range pts {
		if _, err := store.Add(p); err != nil {
			httputil.WriteError(w, err)
			return
		}
	}
	if err := s.exec.Stores.Labels.Save(set, store.Points()); err != nil {
		httputil.WriteError(w, err)
		return
	}
	water, nonWater := store.Counts()
	httputil.WriteJSON(w, http.StatusCreated, map[string]interface{}{
		"name":       set,
		"points":     store.Len(),
		"water":      water,
		"non_water":  nonWater,
		"duplicates": store.Duplicates(),
	})
}
