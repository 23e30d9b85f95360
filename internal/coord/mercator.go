package coord

import (
	"math"

	"github.com/pkg/errors"
)

const (
	// EarthCircumference is the equatorial circumference in meters at zoom 0.
	EarthCircumference = 40075016.685578488
	// OriginShift is half the earth's circumference.
	OriginShift = EarthCircumference / 2.0
	// DefaultTileSize is the standard web map tile dimension.
	DefaultTileSize = 256
	// MaxMercatorLat is the latitude where web-mercator y reaches OriginShift.
	MaxMercatorLat = 85.05112877980659
)

// WebMercatorProj implements the Projection interface for EPSG:3857.
type WebMercatorProj struct{}

func (w *WebMercatorProj) EPSG() int { return 3857 }

func (w *WebMercatorProj) ToWGS84(x, y float64) (lon, lat float64, err error) {
	lon = (x / OriginShift) * 180.0
	lat = (y / OriginShift) * 180.0
	lat = 180.0 / math.Pi * (2.0*math.Atan(math.Exp(lat*math.Pi/180.0)) - math.Pi/2.0)
	return lon, lat, nil
}

func (w *WebMercatorProj) FromWGS84(lon, lat float64) (x, y float64, err error) {
	if math.Abs(lat) >= 90 {
		return 0, 0, errors.Errorf("latitude %g has no web-mercator y", lat)
	}
	x = lon * OriginShift / 180.0
	y = math.Log(math.Tan((90.0+lat)*math.Pi/360.0)) / (math.Pi / 180.0)
	y = y * OriginShift / 180.0
	return x, y, nil
}

// LonLatToTile converts WGS84 lon/lat to tile coordinates at the given zoom level.
func LonLatToTile(lon, lat float64, zoom int) (x, y int) {
	n := math.Pow(2, float64(zoom))
	x = int(math.Floor((lon + 180.0) / 360.0 * n))
	latRad := lat * math.Pi / 180.0
	y = int(math.Floor((1.0 - math.Log(math.Tan(latRad)+1.0/math.Cos(latRad))/math.Pi) / 2.0 * n))

	maxTile := int(n) - 1
	return clampTile(x, maxTile), clampTile(y, maxTile)
}

func clampTile(v, maxTile int) int {
	if v < 0 {
		return 0
	}
	if v > maxTile {
		return maxTile
	}
	return v
}

// TilePixelCoords returns the fractional pixel coordinates within tile
// (z, tileX, tileY) of a WGS84 lon/lat. Values outside [0, tileSize) mean
// the point lies in a neighbouring tile.
func TilePixelCoords(lon, lat float64, z, tileX, tileY, tileSize int) (px, py float64) {
	n := math.Pow(2, float64(z))

	globalX := (lon + 180.0) / 360.0 * n * float64(tileSize)
	latRad := lat * math.Pi / 180.0
	globalY := (1.0 - math.Log(math.Tan(latRad)+1.0/math.Cos(latRad))/math.Pi) / 2.0 * n * float64(tileSize)

	px = globalX - float64(tileX)*float64(tileSize)
	py = globalY - float64(tileY)*float64(tileSize)
	return
}

// PixelToLonLat converts a pixel position within a tile to WGS84 lon/lat.
func PixelToLonLat(z, tileX, tileY, tileSize int, px, py float64) (lon, lat float64) {
	n := math.Pow(2, float64(z))

	globalX := float64(tileX)*float64(tileSize) + px
	globalY := float64(tileY)*float64(tileSize) + py

	lon = globalX/(n*float64(tileSize))*360.0 - 180.0
	lat = math.Atan(math.Sinh(math.Pi*(1.0-2.0*globalY/(n*float64(tileSize))))) * 180.0 / math.Pi
	return
}

// ResolutionAtLat returns the ground resolution in meters/pixel at the given
// latitude and zoom level for 256 px tiles.
func ResolutionAtLat(lat float64, zoom int) float64 {
	return EarthCircumference * math.Cos(lat*math.Pi/180.0) / math.Pow(2, float64(zoom)) / float64(DefaultTileSize)
}

// MaxZoomForResolution returns the highest zoom whose ground resolution is
// not finer than pixelSize meters. Non-positive sizes yield 0.
func MaxZoomForResolution(pixelSize, centerLat float64, tileSize int) int {
	if pixelSize <= 0 {
		return 0
	}
	if tileSize <= 0 {
		tileSize = DefaultTileSize
	}
	scale := float64(DefaultTileSize) / float64(tileSize)
	for z := 30; z >= 0; z-- {
		if ResolutionAtLat(centerLat, z)*scale >= pixelSize {
			return z
		}
	}
	return 0
}

// PixelSizeInGroundMeters converts a pixel size in CRS units to meters on
// the ground at the given latitude.
func PixelSizeInGroundMeters(pixelSize float64, epsg int, lat float64) float64 {
	switch epsg {
	case 4326:
		return pixelSize * EarthCircumference / 360.0 * math.Cos(lat*math.Pi/180.0)
	case 3857:
		return pixelSize * math.Cos(lat*math.Pi/180.0)
	default:
		return pixelSize
	}
}

// TilesInBounds returns all tile coordinates at the given zoom level that
// intersect the given WGS84 bounds.
func TilesInBounds(zoom int, minLon, minLat, maxLon, maxLat float64) [][3]int {
	minTX, minTY := LonLatToTile(minLon, maxLat, zoom) // maxLat gives the top row
	maxTX, maxTY := LonLatToTile(maxLon, minLat, zoom)

	var tiles [][3]int
	for ty := minTY; ty <= maxTY; ty++ {
		for tx := minTX; tx <= maxTX; tx++ {
			tiles = append(tiles, [3]int{zoom, tx, ty})
		}
	}
	return tiles
}
