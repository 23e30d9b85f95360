package coord

import (
	"math"

	"github.com/ctessum/geom/proj"
	"github.com/pkg/errors"
)

const wgs84Proj4 = "+proj=longlat +datum=WGS84 +no_defs"

// projProjection evaluates a PROJ or WKT definition with the pure-Go
// proj4 port. Both directions are prepared once at construction.
type projProjection struct {
	def     string
	epsg    int
	toWGS   proj.Transformer
	fromWGS proj.Transformer
}

func newProjProjection(def string, epsg int) (*projProjection, error) {
	src, err := proj.Parse(def)
	if err != nil {
		return nil, errors.Wrap(err, "parsing projection")
	}
	wgs, err := proj.Parse(wgs84Proj4)
	if err != nil {
		return nil, errors.Wrap(err, "parsing WGS84")
	}
	toWGS, err := src.NewTransform(wgs)
	if err != nil {
		return nil, errors.Wrap(err, "building inverse transform")
	}
	fromWGS, err := wgs.NewTransform(src)
	if err != nil {
		return nil, errors.Wrap(err, "building forward transform")
	}
	// NewTransform returns nil when the definition is equivalent to WGS84.
	if toWGS == nil {
		toWGS = identityTransformer
	}
	if fromWGS == nil {
		fromWGS = identityTransformer
	}
	return &projProjection{def: def, epsg: epsg, toWGS: toWGS, fromWGS: fromWGS}, nil
}

func identityTransformer(x, y float64) (float64, float64, error) { return x, y, nil }

func (p *projProjection) ToWGS84(x, y float64) (lon, lat float64, err error) {
	lon, lat, err = p.toWGS(x, y)
	if err == nil && (math.IsNaN(lon) || math.IsNaN(lat)) {
		err = errors.Errorf("(%g, %g) has no geographic equivalent", x, y)
	}
	return
}

func (p *projProjection) FromWGS84(lon, lat float64) (x, y float64, err error) {
	x, y, err = p.fromWGS(lon, lat)
	if err == nil && (math.IsNaN(x) || math.IsNaN(y)) {
		err = errors.Errorf("(%g, %g) cannot be projected", lon, lat)
	}
	return
}

func (p *projProjection) EPSG() int { return p.epsg }
