package cog

import (
	"math"
	"strconv"
)

// GeoTIFF GeoKey IDs.
const (
	gkModelTypeGeoKey       = 1024
	gkRasterTypeGeoKey      = 1025
	gkGeographicTypeGeoKey  = 2048
	gkProjectedCSTypeGeoKey = 3072

	rasterPixelIsPoint = 2
	userDefined        = 32767
)

// GeoInfo holds the georeferencing of the first IFD. Origin is the outer
// corner of the upper-left pixel.
type GeoInfo struct {
	EPSG       int     // 0 when unknown or user defined
	OriginX    float64 // easting of upper-left corner
	OriginY    float64 // northing of upper-left corner
	PixelSizeX float64 // pixel width in CRS units (positive)
	PixelSizeY float64 // pixel height in CRS units (positive)
}

// HasGeoreference reports whether a pixel size is known.
func (g GeoInfo) HasGeoreference() bool {
	return g.PixelSizeX != 0 && g.PixelSizeY != 0
}

// ProjectionRef returns "EPSG:n", or "" when the CRS is unknown.
func (g GeoInfo) ProjectionRef() string {
	if g.EPSG == 0 {
		return ""
	}
	return "EPSG:" + strconv.Itoa(g.EPSG)
}

// PixelToCRS maps a (possibly fractional) pixel position to CRS
// coordinates, with (0, 0) at the outer upper-left corner.
func (g GeoInfo) PixelToCRS(px, py float64) (x, y float64) {
	return g.OriginX + px*g.PixelSizeX, g.OriginY - py*g.PixelSizeY
}

// CRSToPixel maps CRS coordinates to pixel-centre based positions:
// integer results address pixel centres.
func (g GeoInfo) CRSToPixel(x, y float64) (px, py float64) {
	return (x-g.OriginX)/g.PixelSizeX - 0.5, (g.OriginY-y)/g.PixelSizeY - 0.5
}

// parseGeoInfo extracts the georeferencing from an IFD.
func parseGeoInfo(ifd *IFD) GeoInfo {
	info := GeoInfo{EPSG: parseEPSG(ifd.GeoKeys)}

	switch {
	case len(ifd.ModelPixelScale) >= 2 && len(ifd.ModelTiepoint) >= 6:
		info.PixelSizeX = ifd.ModelPixelScale[0]
		info.PixelSizeY = ifd.ModelPixelScale[1]
		// The tiepoint maps pixel (I,J) to world (X,Y).
		info.OriginX = ifd.ModelTiepoint[3] - ifd.ModelTiepoint[0]*info.PixelSizeX
		info.OriginY = ifd.ModelTiepoint[4] + ifd.ModelTiepoint[1]*info.PixelSizeY
	case len(ifd.ModelTransformation) >= 16:
		// Row-major 4x4; only north-up transforms are supported.
		m := ifd.ModelTransformation
		if m[1] == 0 && m[4] == 0 {
			info.PixelSizeX = m[0]
			info.PixelSizeY = -m[5]
			info.OriginX = m[3]
			info.OriginY = m[7]
		}
	}

	if geoKeyValue(ifd.GeoKeys, gkRasterTypeGeoKey) == rasterPixelIsPoint {
		info.OriginX -= info.PixelSizeX / 2
		info.OriginY += info.PixelSizeY / 2
	}
	info.PixelSizeY = math.Abs(info.PixelSizeY)
	return info
}

// parseEPSG extracts the EPSG code from the GeoKey directory, preferring a
// projected CRS over a geographic one.
func parseEPSG(geoKeys []uint16) int {
	if v := geoKeyValue(geoKeys, gkProjectedCSTypeGeoKey); v > 0 && v != userDefined {
		return v
	}
	if v := geoKeyValue(geoKeys, gkGeographicTypeGeoKey); v > 0 && v != userDefined {
		return v
	}
	return 0
}

// geoKeyValue returns the inline SHORT value of a GeoKey, or 0.
func geoKeyValue(geoKeys []uint16, id uint16) int {
	if len(geoKeys) < 4 {
		return 0
	}
	// Header: [KeyDirectoryVersion, KeyRevision, MinorRevision, NumberOfKeys]
	numKeys := int(geoKeys[3])
	for i := 0; i < numKeys; i++ {
		base := 4 + i*4
		if base+3 >= len(geoKeys) {
			break
		}
		// Entries: [KeyID, TIFFTagLocation, Count, Value_Offset]
		if geoKeys[base] == id && geoKeys[base+1] == 0 {
			return int(geoKeys[base+3])
		}
	}
	return 0
}
