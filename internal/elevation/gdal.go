//go:build gdal

package elevation

import (
	"math"

	"github.com/lukeroth/gdal"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/pspoerri/sensorgeo/internal/coord"
	"github.com/pspoerri/sensorgeo/internal/logging"
)

func init() {
	openGDAL = func(path string, interp Interpolation, logger *zap.SugaredLogger) (FileSource, error) {
		src, err := OpenGDAL(path, interp, logger)
		if err != nil {
			return nil, err
		}
		return src, nil
	}
}

// GDALSource samples band 1 of any raster GDAL can open. The band is read
// into memory once.
type GDALSource struct {
	path      string
	w, h      int
	gt        [6]float64
	values    []float32
	nodata    float64
	hasNoData bool
	proj      coord.Projection
	interp    Interpolation
	logger    *zap.SugaredLogger
}

// OpenGDAL opens path with GDAL.
func OpenGDAL(path string, interp Interpolation, logger *zap.SugaredLogger) (*GDALSource, error) {
	ds, err := gdal.Open(path, gdal.ReadOnly)
	if err != nil {
		return nil, errors.Wrapf(err, "gdal: opening %s", path)
	}
	defer ds.Close()

	gt := ds.GeoTransform()
	if gt[2] != 0 || gt[4] != 0 {
		return nil, errors.Errorf("%s: rotated geotransforms are not supported", path)
	}
	if gt[1] == 0 || gt[5] == 0 {
		return nil, errors.Errorf("%s: DEM has no georeferencing", path)
	}
	proj, err := gdalProjection(ds.Projection())
	if err != nil {
		return nil, errors.Wrap(err, path)
	}

	w, h := ds.RasterXSize(), ds.RasterYSize()
	band := ds.RasterBand(1)
	values := make([]float32, w*h)
	if err := band.IO(gdal.Read, 0, 0, w, h, values, w, h, 0, 0); err != nil {
		return nil, errors.Wrapf(err, "gdal: reading %s", path)
	}
	nodata, hasNoData := band.NoDataValue()

	logger = logging.OrNop(logger)
	logger.Debugw("opened DEM with GDAL", "path", path, "width", w, "height", h, "epsg", proj.EPSG())
	return &GDALSource{
		path:      path,
		w:         w,
		h:         h,
		gt:        gt,
		values:    values,
		nodata:    nodata,
		hasNoData: hasNoData,
		proj:      proj,
		interp:    interp,
		logger:    logger,
	}, nil
}

// gdalProjection resolves the dataset WKT, going through PROJ.4 when the
// WKT names no built-in EPSG code.
func gdalProjection(wkt string) (coord.Projection, error) {
	if wkt == "" {
		return nil, coord.ErrUndefinedProjection
	}
	if p, err := coord.ParseProjection(wkt); err == nil {
		return p, nil
	}
	sr := gdal.CreateSpatialReference(wkt)
	defer sr.Destroy()
	p4, err := sr.ToProj4()
	if err != nil {
		return nil, errors.Wrap(coord.ErrUndefinedProjection, err.Error())
	}
	return coord.ParseProjection(p4)
}

// HeightAt implements Source.
func (s *GDALSource) HeightAt(lon, lat float64) (float64, bool) {
	x, y, err := s.proj.FromWGS84(lon, lat)
	if err != nil {
		return 0, false
	}
	px := (x-s.gt[0])/s.gt[1] - 0.5
	py := (y-s.gt[3])/s.gt[5] - 0.5
	v, ok, err := Sample(s, px, py, s.interp)
	if err != nil {
		s.logger.Debugw("DEM sample failed", "path", s.path, "lon", lon, "lat", lat, "error", err)
		return 0, false
	}
	return v, ok
}

// Size implements Grid.
func (s *GDALSource) Size() (int, int) { return s.w, s.h }

// Value implements Grid.
func (s *GDALSource) Value(px, py int) (float64, bool, error) {
	v := float64(s.values[py*s.w+px])
	if math.IsNaN(v) || (s.hasNoData && v == s.nodata) {
		return 0, false, nil
	}
	return v, true, nil
}

// Close drops the in-memory band.
func (s *GDALSource) Close() error {
	s.values = nil
	return nil
}

func (s *GDALSource) String() string { return s.path }
