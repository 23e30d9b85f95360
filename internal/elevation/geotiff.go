package elevation

import (
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/pspoerri/sensorgeo/internal/cog"
	"github.com/pspoerri/sensorgeo/internal/coord"
	"github.com/pspoerri/sensorgeo/internal/logging"
)

// GeoTIFFSource samples a single-band GeoTIFF DEM. The raster CRS must be
// one of the built-in EPSG projections.
type GeoTIFFSource struct {
	r      *cog.Reader
	proj   coord.Projection
	geo    cog.GeoInfo
	interp Interpolation
	logger *zap.SugaredLogger
}

// OpenGeoTIFF opens a GeoTIFF DEM.
func OpenGeoTIFF(path string, interp Interpolation, logger *zap.SugaredLogger) (*GeoTIFFSource, error) {
	r, err := cog.Open(path)
	if err != nil {
		return nil, err
	}
	src, err := NewGeoTIFFSource(r, interp, logger)
	if err != nil {
		r.Close()
		return nil, err
	}
	return src, nil
}

// NewGeoTIFFSource wraps an open reader. The source takes ownership of r.
func NewGeoTIFFSource(r *cog.Reader, interp Interpolation, logger *zap.SugaredLogger) (*GeoTIFFSource, error) {
	geo := r.GeoInfo()
	if !geo.HasGeoreference() {
		return nil, errors.Errorf("%s: DEM has no georeferencing", r.Path())
	}
	proj := coord.ForEPSG(geo.EPSG)
	if proj == nil {
		return nil, errors.Wrapf(coord.ErrUndefinedProjection, "%s: DEM CRS EPSG:%d", r.Path(), geo.EPSG)
	}
	return &GeoTIFFSource{
		r:      r,
		proj:   proj,
		geo:    geo,
		interp: interp,
		logger: logging.OrNop(logger),
	}, nil
}

// HeightAt implements Source.
func (s *GeoTIFFSource) HeightAt(lon, lat float64) (float64, bool) {
	x, y, err := s.proj.FromWGS84(lon, lat)
	if err != nil {
		return 0, false
	}
	px, py := s.geo.CRSToPixel(x, y)
	h, ok, err := Sample(readerGrid{s.r}, px, py, s.interp)
	if err != nil {
		s.logger.Debugw("DEM read failed", "path", s.r.Path(), "lon", lon, "lat", lat, "error", err)
		return 0, false
	}
	return h, ok
}

// Bounds returns the WGS84 bounding box of the DEM corners.
func (s *GeoTIFFSource) Bounds() (minLon, minLat, maxLon, maxLat float64, err error) {
	minX, minY, maxX, maxY := s.r.BoundsInCRS()
	first := true
	for _, c := range [][2]float64{{minX, minY}, {minX, maxY}, {maxX, minY}, {maxX, maxY}} {
		lon, lat, err := s.proj.ToWGS84(c[0], c[1])
		if err != nil {
			return 0, 0, 0, 0, err
		}
		if first {
			minLon, maxLon, minLat, maxLat = lon, lon, lat, lat
			first = false
			continue
		}
		minLon, maxLon = min(minLon, lon), max(maxLon, lon)
		minLat, maxLat = min(minLat, lat), max(maxLat, lat)
	}
	return minLon, minLat, maxLon, maxLat, nil
}

// Reader returns the underlying GeoTIFF reader.
func (s *GeoTIFFSource) Reader() *cog.Reader { return s.r }

// Close releases the file.
func (s *GeoTIFFSource) Close() error {
	return s.r.Close()
}

func (s *GeoTIFFSource) String() string {
	return s.r.Path()
}

type readerGrid struct{ r *cog.Reader }

func (g readerGrid) Size() (int, int) { return g.r.Width(), g.r.Height() }

func (g readerGrid) Value(px, py int) (float64, bool, error) { return g.r.Pixel(px, py) }
