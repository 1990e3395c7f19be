// Package rasterclient serves and consumes the raster data service over
// HTTP. Client implements raster.Service against a remote catalog;
// Handler exposes a local catalog with the same protocol.
//
//	POST {base}/filter       body: filterRequest  -> filterResponse
//	GET  {base}/images/{id}                      -> wireImage with pixels
package rasterclient

import (
	"time"

	"github.com/paulmach/orb"

	"github.com/banshee-data/waterextent/internal/raster"
)

type filterRequest struct {
	Source string             `json:"source"`
	Start  *time.Time         `json:"start,omitempty"`
	End    *time.Time         `json:"end,omitempty"`
	Bounds *[4]float64        `json:"bounds,omitempty"` // min x, min y, max x, max y
	CRS    string             `json:"crs,omitempty"`
	Where  []raster.Condition `json:"where,omitempty"`
}

type filterResponse struct {
	Images []wireImage `json:"images"`
}

type wireBand struct {
	Name  string    `json:"name"`
	Data  []float64 `json:"data"`
	Valid []bool    `json:"valid,omitempty"`
}

type wireImage struct {
	ID         string             `json:"id"`
	Source     string             `json:"source"`
	Acquired   time.Time          `json:"acquired"`
	Grid       raster.Grid        `json:"grid"`
	Properties map[string]float64 `json:"properties,omitempty"`
	Bands      []wireBand         `json:"bands,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func toRequest(q raster.Query) filterRequest {
	r := filterRequest{Source: q.Source, CRS: q.CRS, Where: q.Where}
	if !q.Start.IsZero() {
		t := q.Start
		r.Start = &t
	}
	if !q.End.IsZero() {
		t := q.End
		r.End = &t
	}
	if q.Bounds != nil {
		r.Bounds = &[4]float64{q.Bounds.Min[0], q.Bounds.Min[1], q.Bounds.Max[0], q.Bounds.Max[1]}
	}
	return r
}

func (r filterRequest) query() raster.Query {
	q := raster.Query{Source: r.Source, CRS: r.CRS, Where: r.Where}
	if r.Start != nil {
		q.Start = *r.Start
	}
	if r.End != nil {
		q.End = *r.End
	}
	if r.Bounds != nil {
		b := orb.Bound{Min: orb.Point{r.Bounds[0], r.Bounds[1]}, Max: orb.Point{r.Bounds[2], r.Bounds[3]}}
		q.Bounds = &b
	}
	return q
}

// NaN and Inf do not survive JSON; invalid pixels travel as zero with a
// false mask entry.
func toWire(im *raster.Image) wireImage {
	w := wireImage{ID: im.ID, Source: im.Source, Acquired: im.Acquired, Grid: im.Grid, Properties: im.Properties}
	for _, b := range im.Bands {
		wb := wireBand{Name: b.Name, Data: make([]float64, len(b.Data)), Valid: b.Valid}
		for i, v := range b.Data {
			if b.IsValid(i) {
				wb.Data[i] = v
			}
		}
		w.Bands = append(w.Bands, wb)
	}
	return w
}

func (w wireImage) image() (*raster.Image, error) {
	im := &raster.Image{ID: w.ID, Source: w.Source, Acquired: w.Acquired, Grid: w.Grid, Properties: w.Properties}
	n := w.Grid.Len()
	for _, b := range w.Bands {
		if len(b.Data) != n || (b.Valid != nil && len(b.Valid) != n) {
			return nil, raster.ExternalServicef("image %s band %s has %d pixels, grid %s", w.ID, b.Name, len(b.Data), w.Grid)
		}
		im.Bands = append(im.Bands, raster.Band{Name: b.Name, Data: b.Data, Valid: b.Valid})
	}
	return im, nil
}
