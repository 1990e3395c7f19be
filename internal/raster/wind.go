package raster

import (
	"fmt"
	"math"
	"reflect"
	"strings"
	"time"

	"github.com/batchatco/go-native-netcdf/netcdf"
	"github.com/batchatco/go-native-netcdf/netcdf/api"
)

// WindFile describes a reanalysis NetCDF file holding hourly 10 m wind
// components on a regular latitude/longitude grid, dimensioned
// (time, latitude, longitude).
type WindFile struct {
	Path    string `json:"path"`
	Source  string `json:"source"`
	UVar    string `json:"u_var,omitempty"`    // default "u10"
	VVar    string `json:"v_var,omitempty"`    // default "v10"
	TimeVar string `json:"time_var,omitempty"` // default "time", then "valid_time"
	UBand   string `json:"u_band,omitempty"`
	VBand   string `json:"v_band,omitempty"`
}

// Default band names of decoded wind images.
const (
	WindUBand = "u_component_of_wind_10m"
	WindVBand = "v_component_of_wind_10m"
)

// LoadWindNetCDF decodes every time step of w into its own EPSG:4326
// image with a u and a v band.
func LoadWindNetCDF(w WindFile) ([]*Image, error) {
	uName := orDefault(w.UVar, "u10")
	vName := orDefault(w.VVar, "v10")
	uBand := orDefault(w.UBand, WindUBand)
	vBand := orDefault(w.VBand, WindVBand)

	nc, err := netcdf.Open(w.Path)
	if err != nil {
		return nil, Inputf("open wind file %s: %v", w.Path, err)
	}
	defer nc.Close()

	lat, err := readAxis(nc, "latitude", "lat")
	if err != nil {
		return nil, err
	}
	lon, err := readAxis(nc, "longitude", "lon")
	if err != nil {
		return nil, err
	}
	times, err := readTimes(nc, w.TimeVar)
	if err != nil {
		return nil, err
	}
	grid, err := axisGrid(lat, lon)
	if err != nil {
		return nil, fmt.Errorf("wind file %s: %w", w.Path, err)
	}

	u, err := readCube(nc, uName, len(times), grid)
	if err != nil {
		return nil, err
	}
	v, err := readCube(nc, vName, len(times), grid)
	if err != nil {
		return nil, err
	}

	out := make([]*Image, len(times))
	for t, at := range times {
		out[t] = &Image{
			ID:       fmt.Sprintf("%s/%s", w.Source, at.UTC().Format("20060102T1504")),
			Source:   w.Source,
			Acquired: at,
			Grid:     grid,
			Bands: []Band{
				{Name: uBand, Data: u[t].Data, Valid: u[t].Valid},
				{Name: vBand, Data: v[t].Data, Valid: v[t].Valid},
			},
		}
	}
	return out, nil
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func readAxis(g api.Group, names ...string) ([]float64, error) {
	for _, n := range names {
		v, err := g.GetVariable(n)
		if err != nil {
			continue
		}
		return flatten(v.Values)
	}
	return nil, Inputf("wind file has no %s variable", strings.Join(names, "/"))
}

// axisGrid builds a grid from regularly spaced pixel-centre axes.
func axisGrid(lat, lon []float64) (Grid, error) {
	if len(lat) < 2 || len(lon) < 2 {
		return Grid{}, Inputf("wind axes need at least 2 points, got %dx%d", len(lat), len(lon))
	}
	dLat := lat[1] - lat[0]
	dLon := lon[1] - lon[0]
	if dLat == 0 || dLon == 0 {
		return Grid{}, Inputf("wind axes are not strictly monotonic")
	}
	x0 := lon[0] - dLon/2
	if x0 >= 180 {
		x0 -= 360
	}
	return Grid{
		CRS:         EPSG4326,
		Width:       len(lon),
		Height:      len(lat),
		OriginX:     x0,
		OriginY:     lat[0] - dLat/2,
		PixelWidth:  dLon,
		PixelHeight: dLat,
	}, nil
}

func readTimes(g api.Group, name string) ([]time.Time, error) {
	names := []string{"time", "valid_time"}
	if name != "" {
		names = []string{name}
	}
	for _, n := range names {
		v, err := g.GetVariable(n)
		if err != nil {
			continue
		}
		raw, err := flatten(v.Values)
		if err != nil {
			return nil, err
		}
		units, _ := v.Attributes.Get("units")
		us, _ := units.(string)
		out := make([]time.Time, len(raw))
		for i, r := range raw {
			t, err := ParseCFTime(us, r)
			if err != nil {
				return nil, err
			}
			out[i] = t
		}
		return out, nil
	}
	return nil, Inputf("wind file has no time variable")
}

// ParseCFTime converts a CF-convention offset such as
// "hours since 1900-01-01 00:00:00.0" to an absolute UTC time.
func ParseCFTime(units string, v float64) (time.Time, error) {
	unit, ref, ok := strings.Cut(strings.TrimSpace(units), " since ")
	if !ok {
		return time.Time{}, Inputf("unsupported time units %q", units)
	}
	var step time.Duration
	switch strings.ToLower(unit) {
	case "seconds", "second", "s":
		step = time.Second
	case "minutes", "minute":
		step = time.Minute
	case "hours", "hour", "h":
		step = time.Hour
	case "days", "day", "d":
		step = 24 * time.Hour
	default:
		return time.Time{}, Inputf("unsupported time unit %q", unit)
	}
	ref = strings.TrimSpace(ref)
	var base time.Time
	var err error
	for _, layout := range []string{"2006-01-02 15:04:05.0", "2006-01-02 15:04:05", "2006-01-02T15:04:05Z07:00", "2006-01-02T15:04:05", "2006-01-02"} {
		base, err = time.Parse(layout, ref)
		if err == nil {
			break
		}
	}
	if err != nil {
		return time.Time{}, Inputf("unsupported time reference %q", ref)
	}
	return base.Add(time.Duration(math.Round(v * float64(step)))).UTC(), nil
}

// readCube reads a (time, lat, lon) variable and unpacks it into one band
// per time step, applying scale_factor/add_offset and _FillValue.
func readCube(g api.Group, name string, nt int, grid Grid) ([]Band, error) {
	v, err := g.GetVariable(name)
	if err != nil {
		return nil, Inputf("wind file has no %s variable: %v", name, err)
	}
	raw, err := flatten(v.Values)
	if err != nil {
		return nil, fmt.Errorf("variable %s: %w", name, err)
	}
	n := grid.Len()
	if len(raw) != nt*n {
		return nil, Inputf("variable %s has %d values, want %d", name, len(raw), nt*n)
	}
	scale, offset := 1.0, 0.0
	if s, ok := attrFloat(v.Attributes, "scale_factor"); ok {
		scale = s
	}
	if o, ok := attrFloat(v.Attributes, "add_offset"); ok {
		offset = o
	}
	fill, hasFill := attrFloat(v.Attributes, "_FillValue")
	missing, hasMissing := attrFloat(v.Attributes, "missing_value")

	out := make([]Band, nt)
	for t := range out {
		b := NewBand(name, n)
		for i := 0; i < n; i++ {
			r := raw[t*n+i]
			if (hasFill && r == fill) || (hasMissing && r == missing) || math.IsNaN(r) {
				continue
			}
			b.Set(i, r*scale+offset)
		}
		out[t] = b
	}
	return out, nil
}

func attrFloat(attrs api.AttributeMap, key string) (float64, bool) {
	if attrs == nil {
		return 0, false
	}
	v, ok := attrs.Get(key)
	if !ok {
		return 0, false
	}
	vals, err := flatten(v)
	if err != nil || len(vals) == 0 {
		return 0, false
	}
	return vals[0], true
}

// flatten converts the nested numeric slices the NetCDF reader returns
// into a row-major []float64.
func flatten(v any) ([]float64, error) {
	var out []float64
	var walk func(any) error
	walk = func(x any) error {
		switch t := x.(type) {
		case float64:
			out = append(out, t)
		case float32:
			out = append(out, float64(t))
		case int8:
			out = append(out, float64(t))
		case int16:
			out = append(out, float64(t))
		case int32:
			out = append(out, float64(t))
		case int64:
			out = append(out, float64(t))
		case uint8:
			out = append(out, float64(t))
		case uint16:
			out = append(out, float64(t))
		case uint32:
			out = append(out, float64(t))
		case []float64:
			out = append(out, t...)
		case []float32:
			for _, e := range t {
				out = append(out, float64(e))
			}
		case []int16:
			for _, e := range t {
				out = append(out, float64(e))
			}
		case []int32:
			for _, e := range t {
				out = append(out, float64(e))
			}
		case []int64:
			for _, e := range t {
				out = append(out, float64(e))
			}
		case []int8:
			for _, e := range t {
				out = append(out, float64(e))
			}
		case []any:
			for _, e := range t {
				if err := walk(e); err != nil {
					return err
				}
			}
		default:
			return walkNested(x, walk)
		}
		return nil
	}
	if err := walk(v); err != nil {
		return nil, err
	}
	return out, nil
}

func walkNested(x any, walk func(any) error) error {
	rv := reflect.ValueOf(x)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return Inputf("unsupported NetCDF value type %T", x)
	}
	for i := 0; i < rv.Len(); i++ {
		if err := walk(rv.Index(i).Interface()); err != nil {
			return err
		}
	}
	return nil
}
