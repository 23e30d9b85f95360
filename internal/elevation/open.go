package elevation

import (
	"io"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// FileSource is a Source backed by an open file.
type FileSource interface {
	Source
	io.Closer
}

// openGDAL is set when the module is built with the gdal tag.
var openGDAL func(path string, interp Interpolation, logger *zap.SugaredLogger) (FileSource, error)

// OpenFile opens a DEM by extension: .pmtiles archives as terrarium tiles,
// .tif/.tiff as GeoTIFF, anything else through GDAL when available and as
// GeoTIFF otherwise.
func OpenFile(path string, interp Interpolation, logger *zap.SugaredLogger) (FileSource, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pmtiles":
		src, err := OpenTerrarium(path, interp, logger)
		if err != nil {
			return nil, err
		}
		return src, nil
	case ".tif", ".tiff":
		src, err := OpenGeoTIFF(path, interp, logger)
		if err != nil {
			if openGDAL != nil {
				return openGDAL(path, interp, logger)
			}
			return nil, err
		}
		return src, nil
	default:
		if openGDAL != nil {
			return openGDAL(path, interp, logger)
		}
		src, err := OpenGeoTIFF(path, interp, logger)
		if err != nil {
			return nil, err
		}
		return src, nil
	}
}

// isDEMFile reports whether OpenDEMDirectory picks up name.
func isDEMFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".tif", ".tiff", ".pmtiles":
		return true
	}
	return false
}
