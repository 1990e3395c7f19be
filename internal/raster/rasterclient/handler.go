package rasterclient

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/banshee-data/waterextent/internal/httputil"
	"github.com/banshee-data/waterextent/internal/raster"
)

// maxFilterBody bounds a filter request body.
const maxFilterBody = 1 << 20

// Handler serves svc with the protocol Client speaks. Mount it with
// http.StripPrefix when it does not sit at the root.
func Handler(svc *raster.LocalService) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/filter", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			httputil.MethodNotAllowed(w)
			return
		}
		var req filterRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxFilterBody)).Decode(&req); err != nil {
			httputil.BadRequest(w, "invalid filter request: "+err.Error())
			return
		}
		metas := svc.Metadata(req.query())
		resp := filterResponse{Images: make([]wireImage, len(metas))}
		for i, m := range metas {
			resp.Images[i] = toWire(m)
		}
		httputil.WriteJSONOK(w, resp)
	})
	mux.HandleFunc("/images/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			httputil.MethodNotAllowed(w)
			return
		}
		id := strings.TrimPrefix(r.URL.Path, "/images/")
		if id == "" {
			httputil.BadRequest(w, "missing image id")
			return
		}
		im, err := svc.Get(r.Context(), id)
		switch {
		case errors.Is(err, raster.ErrInput):
			httputil.NotFound(w, err.Error())
			return
		case err != nil:
			httputil.InternalServerError(w, err.Error())
			return
		}
		httputil.WriteJSONOK(w, toWire(im))
	})
	return mux
}
