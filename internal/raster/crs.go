package raster

import (
	"math"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"
)

// WGS84 ellipsoid and UTM constants.
const (
	wgs84A = 6378137.0
	wgs84F = 1 / 298.257223563
	utmK0  = 0.9996

	utmFalseEasting  = 500000.0
	utmFalseNorthing = 10000000.0
)

var (
	wgs84E2  = wgs84F * (2 - wgs84F)
	wgs84Ep2 = wgs84E2 / (1 - wgs84E2)
)

// utmZone is a WGS84 / UTM zone, EPSG:326NN (north) or EPSG:327NN (south).
type utmZone struct {
	zone  int
	south bool
}

func parseUTM(crs string) (utmZone, bool) {
	code, ok := strings.CutPrefix(crs, "EPSG:")
	if !ok || len(code) != 5 {
		return utmZone{}, false
	}
	n, err := strconv.Atoi(code)
	if err != nil {
		return utmZone{}, false
	}
	z := utmZone{zone: n % 100}
	switch n / 100 {
	case 326:
	case 327:
		z.south = true
	default:
		return utmZone{}, false
	}
	if z.zone < 1 || z.zone > 60 {
		return utmZone{}, false
	}
	return z, true
}

func (z utmZone) centralMeridian() float64 { return float64(z.zone-1)*6 - 180 + 3 }

// meridianArc is the distance along the central meridian from the
// equator to latitude phi (radians).
func meridianArc(phi float64) float64 {
	e2 := wgs84E2
	e4, e6 := e2*e2, e2*e2*e2
	return wgs84A * ((1-e2/4-3*e4/64-5*e6/256)*phi -
		(3*e2/8+3*e4/32+45*e6/1024)*math.Sin(2*phi) +
		(15*e4/256+45*e6/1024)*math.Sin(4*phi) -
		(35*e6/3072)*math.Sin(6*phi))
}

// forward projects a lon/lat point in degrees to easting/northing.
func (z utmZone) forward(p orb.Point) orb.Point {
	phi := p[1] * math.Pi / 180
	lam := (p[0] - z.centralMeridian()) * math.Pi / 180
	if lam > math.Pi {
		lam -= 2 * math.Pi
	} else if lam < -math.Pi {
		lam += 2 * math.Pi
	}
	sin, cos, tan := math.Sin(phi), math.Cos(phi), math.Tan(phi)
	n := wgs84A / math.Sqrt(1-wgs84E2*sin*sin)
	t := tan * tan
	c := wgs84Ep2 * cos * cos
	a := cos * lam
	a2 := a * a

	x := utmK0*n*(a+(1-t+c)*a2*a/6+(5-18*t+t*t+72*c-58*wgs84Ep2)*a2*a2*a/120) + utmFalseEasting
	y := utmK0 * (meridianArc(phi) + n*tan*(a2/2+(5-t+9*c+4*c*c)*a2*a2/24+
		(61-58*t+t*t+600*c-330*wgs84Ep2)*a2*a2*a2/720))
	if z.south {
		y += utmFalseNorthing
	}
	return orb.Point{x, y}
}

// inverse maps an easting/northing to lon/lat in degrees.
func (z utmZone) inverse(p orb.Point) orb.Point {
	x := p[0] - utmFalseEasting
	y := p[1]
	if z.south {
		y -= utmFalseNorthing
	}
	e2 := wgs84E2
	mu := y / utmK0 / (wgs84A * (1 - e2/4 - 3*e2*e2/64 - 5*e2*e2*e2/256))
	e1 := (1 - math.Sqrt(1-e2)) / (1 + math.Sqrt(1-e2))
	phi1 := mu + (3*e1/2-27*math.Pow(e1, 3)/32)*math.Sin(2*mu) +
		(21*e1*e1/16-55*math.Pow(e1, 4)/32)*math.Sin(4*mu) +
		(151*math.Pow(e1, 3)/96)*math.Sin(6*mu) +
		(1097*math.Pow(e1, 4)/512)*math.Sin(8*mu)

	sin, cos, tan := math.Sin(phi1), math.Cos(phi1), math.Tan(phi1)
	n1 := wgs84A / math.Sqrt(1-e2*sin*sin)
	t1 := tan * tan
	c1 := wgs84Ep2 * cos * cos
	r1 := wgs84A * (1 - e2) / math.Pow(1-e2*sin*sin, 1.5)
	d := x / (n1 * utmK0)
	d2 := d * d

	phi := phi1 - (n1*tan/r1)*(d2/2-(5+3*t1+10*c1-4*c1*c1-9*wgs84Ep2)*d2*d2/24+
		(61+90*t1+298*c1+45*t1*t1-252*wgs84Ep2-3*c1*c1)*d2*d2*d2/720)
	lam := (d - (1+2*t1+c1)*d2*d/6 + (5-2*c1+28*t1-3*c1*c1+8*wgs84Ep2+24*t1*t1)*d2*d2*d/120) / cos
	return orb.Point{z.centralMeridian() + lam*180/math.Pi, phi * 180 / math.Pi}
}

// Projection returns the point transform from one CRS to another.
// Supported systems are EPSG:4326 and the WGS84 UTM zones.
func Projection(from, to string) (orb.Projection, error) {
	if from == to {
		return func(p orb.Point) orb.Point { return p }, nil
	}
	var toGeo, fromGeo orb.Projection
	switch z, ok := parseUTM(from); {
	case from == EPSG4326:
	case ok:
		toGeo = z.inverse
	default:
		return nil, Inputf("unsupported CRS %q", from)
	}
	switch z, ok := parseUTM(to); {
	case to == EPSG4326:
	case ok:
		fromGeo = z.forward
	default:
		return nil, Inputf("unsupported CRS %q", to)
	}
	return func(p orb.Point) orb.Point {
		if toGeo != nil {
			p = toGeo(p)
		}
		if fromGeo != nil {
			p = fromGeo(p)
		}
		return p
	}, nil
}

// ReprojectBound returns the bounding box of b's outline after
// projection. Edges are densified since straight lines bend between
// geographic and projected systems.
func ReprojectBound(b orb.Bound, proj orb.Projection) orb.Bound {
	const steps = 8
	ring := make(orb.LineString, 0, 4*steps)
	for i := 0; i < steps; i++ {
		f := float64(i) / steps
		dx := b.Min[0] + f*(b.Max[0]-b.Min[0])
		dy := b.Min[1] + f*(b.Max[1]-b.Min[1])
		ring = append(ring,
			orb.Point{dx, b.Min[1]},
			orb.Point{b.Max[0], dy},
			orb.Point{b.Max[0] - (dx - b.Min[0]), b.Max[1]},
			orb.Point{b.Min[0], b.Max[1] - (dy - b.Min[1])},
		)
	}
	return project.LineString(ring, proj).Bound()
}

// intersectsIn reports whether g's footprint intersects b given in crs.
// An empty crs means b is already in the grid's CRS. Geographic grids
// stored with 0..360 longitudes are also tested one turn east.
func intersectsIn(g Grid, b orb.Bound, crs string) bool {
	if crs != "" && crs != g.CRS {
		proj, err := Projection(crs, g.CRS)
		if err != nil {
			return false
		}
		b = ReprojectBound(b, proj)
	}
	fp := g.Bound()
	if fp.Intersects(b) {
		return true
	}
	if g.CRS == EPSG4326 && fp.Max[0] > 180 {
		shifted := orb.Bound{Min: orb.Point{b.Min[0] + 360, b.Min[1]}, Max: orb.Point{b.Max[0] + 360, b.Max[1]}}
		return fp.Intersects(shifted)
	}
	return false
}

// SampleIn returns the band value of im at (x,y), which proj maps into
// im's CRS.
func SampleIn(im *Image, band string, proj orb.Projection, x, y float64) (float64, bool) {
	p := proj(orb.Point{x, y})
	if v, ok := SampleAt(im, band, p[0], p[1]); ok {
		return v, true
	}
	if im.Grid.CRS == EPSG4326 && p[0] < 0 {
		return SampleAt(im, band, p[0]+360, p[1])
	}
	return 0, false
}
