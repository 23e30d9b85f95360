package tile

import (
	"github.com/pspoerri/sensorgeo/internal/coord"
	"github.com/pspoerri/sensorgeo/internal/pmtiles"
)

// AutoZoomRange computes min/max zoom levels for a DEM whose pixels are
// pixelSizeMeters on the ground near centerLat. The range spans six levels.
func AutoZoomRange(pixelSizeMeters float64, centerLat float64, tileSize int) (minZoom, maxZoom int) {
	maxZoom = coord.MaxZoomForResolution(pixelSizeMeters, centerLat, tileSize)
	minZoom = max(maxZoom-6, 0)
	return
}

// DEMZoomRange derives the zoom range from a DEM grid: its pixel size in CRS
// units, its EPSG code and WGS84 bounds.
func DEMZoomRange(pixelSize float64, epsg int, b pmtiles.Bounds, tileSize int) (minZoom, maxZoom int) {
	centerLat := (b.MinLat + b.MaxLat) / 2
	return AutoZoomRange(coord.PixelSizeInGroundMeters(pixelSize, epsg, centerLat), centerLat, tileSize)
}
