// Package coord converts coordinates between WGS84 and cartographic
// reference systems, and provides web-mercator tile math.
package coord

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// ErrUndefinedProjection is returned when a reference string does not
// resolve to a usable projection.
var ErrUndefinedProjection = errors.New("projection is not defined")

// WGS84WKT is the WKT of geographic WGS84, the pivot system of every transform chain.
const WGS84WKT = `GEOGCS["WGS 84",DATUM["WGS_1984",SPHEROID["WGS 84",6378137,298.257223563,AUTHORITY["EPSG","7030"]],AUTHORITY["EPSG","6326"]],PRIMEM["Greenwich",0,AUTHORITY["EPSG","8901"]],UNIT["degree",0.0174532925199433,AUTHORITY["EPSG","9122"]],AUTHORITY["EPSG","4326"]]`

// Projection converts between a source CRS and WGS84.
type Projection interface {
	// ToWGS84 converts source CRS coordinates to WGS84 longitude/latitude (degrees).
	ToWGS84(x, y float64) (lon, lat float64, err error)

	// FromWGS84 converts WGS84 longitude/latitude (degrees) to source CRS coordinates.
	FromWGS84(lon, lat float64) (x, y float64, err error)

	// EPSG returns the EPSG code, or 0 for definitions without one.
	EPSG() int
}

// ForEPSG returns a Projection for the given EPSG code.
// Returns nil if the EPSG code is not supported.
func ForEPSG(epsg int) Projection {
	switch {
	case epsg == 2056:
		return &SwissLV95{}
	case epsg == 4326:
		return &WGS84Identity{}
	case epsg == 3857 || epsg == 900913:
		return &WebMercatorProj{}
	case epsg >= 32601 && epsg <= 32660:
		return utmProjection(epsg, epsg-32600, false)
	case epsg >= 32701 && epsg <= 32760:
		return utmProjection(epsg, epsg-32700, true)
	default:
		return nil
	}
}

func utmProjection(epsg, zone int, south bool) Projection {
	def := "+proj=utm +zone=" + strconv.Itoa(zone) + " +datum=WGS84 +units=m +no_defs"
	if south {
		def = "+proj=utm +zone=" + strconv.Itoa(zone) + " +south +datum=WGS84 +units=m +no_defs"
	}
	p, err := newProjProjection(def, epsg)
	if err != nil {
		return nil
	}
	return p
}

var (
	epsgRefRe       = regexp.MustCompile(`(?i)^\s*epsg:\s*(\d+)\s*$`)
	wktAuthorityRe  = regexp.MustCompile(`AUTHORITY\[\s*"EPSG"\s*,\s*"?(\d+)"?\s*\]\s*\]\s*$`)
	wktLeadingTagRe = regexp.MustCompile(`^\s*(PROJCS|GEOGCS|GEOCCS|COMPD_CS|PROJCRS|GEOGCRS|GEODCRS)\s*\[`)
)

// ParseProjection resolves a projection reference. Accepted forms are
// "EPSG:nnnn", PROJ strings ("+proj=...") and WKT. WKT whose root
// authority is a built-in EPSG code uses the built-in implementation.
func ParseProjection(ref string) (Projection, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, ErrUndefinedProjection
	}

	if m := epsgRefRe.FindStringSubmatch(ref); m != nil {
		code, _ := strconv.Atoi(m[1])
		if p := ForEPSG(code); p != nil {
			return p, nil
		}
		return nil, errors.Wrapf(ErrUndefinedProjection, "unsupported EPSG code %d", code)
	}

	epsg := 0
	if wktLeadingTagRe.MatchString(ref) {
		if m := wktAuthorityRe.FindStringSubmatch(ref); m != nil {
			epsg, _ = strconv.Atoi(m[1])
			if p := ForEPSG(epsg); p != nil {
				return p, nil
			}
		}
	} else if !strings.HasPrefix(ref, "+") {
		return nil, errors.Wrapf(ErrUndefinedProjection, "unrecognized projection reference %q", truncate(ref, 40))
	}

	p, err := newProjProjection(ref, epsg)
	if err != nil {
		return nil, errors.Wrap(ErrUndefinedProjection, err.Error())
	}
	return p, nil
}

// IsWGS84 reports whether p is geographic WGS84.
func IsWGS84(p Projection) bool {
	_, ok := p.(*WGS84Identity)
	return ok
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// WGS84Identity is a no-op projection for data already in EPSG:4326.
type WGS84Identity struct{}

func (w *WGS84Identity) ToWGS84(x, y float64) (lon, lat float64, err error)   { return x, y, nil }
func (w *WGS84Identity) FromWGS84(lon, lat float64) (x, y float64, err error) { return lon, lat, nil }
func (w *WGS84Identity) EPSG() int                                            { return 4326 }
