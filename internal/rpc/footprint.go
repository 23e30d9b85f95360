package rpc

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"
	"github.com/paulmach/orb/planar"
	"github.com/pkg/errors"
)

// ErrOutsideFootprint is returned for geographic points outside the
// configured validity footprint.
var ErrOutsideFootprint = errors.New("point outside RPC footprint")

// Footprint is a lon/lat validity area.
type Footprint struct {
	geom  orb.Geometry
	bound orb.Bound
}

// NewFootprint parses a POLYGON or MULTIPOLYGON WKT.
func NewFootprint(s string) (*Footprint, error) {
	g, err := wkt.Unmarshal(s)
	if err != nil {
		return nil, errors.Wrap(err, "parsing footprint WKT")
	}
	switch g.(type) {
	case orb.Polygon, orb.MultiPolygon:
	default:
		return nil, errors.Errorf("footprint must be a polygon, got %s", g.GeoJSONType())
	}
	return &Footprint{geom: g, bound: g.Bound()}, nil
}

// Contains reports whether (lon, lat) lies inside the footprint.
func (f *Footprint) Contains(lon, lat float64) bool {
	pt := orb.Point{lon, lat}
	if !f.bound.Contains(pt) {
		return false
	}
	switch g := f.geom.(type) {
	case orb.Polygon:
		return planar.PolygonContains(g, pt)
	case orb.MultiPolygon:
		return planar.MultiPolygonContains(g, pt)
	}
	return false
}

// Bound returns the lon/lat bounding box.
func (f *Footprint) Bound() orb.Bound { return f.bound }

// String returns the footprint as WKT.
func (f *Footprint) String() string { return wkt.MarshalString(f.geom) }

// ImageFootprint projects the image outline to the ground at height h and
// returns it as a polygon. Each edge is sampled at steps+1 points.
func ImageFootprint(m *Model, width, height int, h float64, steps int) (*Footprint, error) {
	if width <= 0 || height <= 0 {
		return nil, errors.Errorf("invalid image size %dx%d", width, height)
	}
	if steps < 1 {
		steps = 1
	}
	w, ht := float64(width), float64(height)
	var outline [][2]float64
	edge := func(x0, y0, x1, y1 float64) {
		for i := 0; i < steps; i++ {
			t := float64(i) / float64(steps)
			outline = append(outline, [2]float64{x0 + (x1-x0)*t, y0 + (y1-y0)*t})
		}
	}
	edge(0, 0, w, 0)
	edge(w, 0, w, ht)
	edge(w, ht, 0, ht)
	edge(0, ht, 0, 0)

	ring := make(orb.Ring, 0, len(outline)+1)
	for _, p := range outline {
		lon, lat, _, err := m.forwardUnbounded(p[0], p[1], h)
		if err != nil {
			return nil, errors.Wrapf(err, "projecting image corner (%g, %g)", p[0], p[1])
		}
		ring = append(ring, orb.Point{lon, lat})
	}
	ring = append(ring, ring[0])
	if ring.Orientation() != orb.CCW {
		ring.Reverse()
	}
	poly := orb.Polygon{ring}
	return &Footprint{geom: poly, bound: poly.Bound()}, nil
}
