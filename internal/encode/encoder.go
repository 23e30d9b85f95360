// Package encode converts elevation rasters to and from terrarium tiles.
package encode

import (
	"image"

	"github.com/pkg/errors"
)

// TileType constants matching the PMTiles v3 header.
const (
	TileTypeUnknown = 0
	TileTypeMVT     = 1
	TileTypePNG     = 2
	TileTypeJPEG    = 3
	TileTypeWebP    = 4
	TileTypeAVIF    = 5
)

// Encoder encodes an image into tile bytes.
type Encoder interface {
	Encode(img image.Image) ([]byte, error)

	// Format returns the format name accepted by NewEncoder and DecodeImage.
	Format() string

	// PMTileType returns the PMTiles tile type constant.
	PMTileType() uint8

	FileExtension() string
}

// NewEncoder creates a terrarium encoder: "png" (or "terrarium") writes PNG
// tiles, "webp" (or "terrarium-webp") lossless WebP tiles.
func NewEncoder(format string) (Encoder, error) {
	switch format {
	case "png", "terrarium":
		return &TerrariumEncoder{}, nil
	case "webp", "terrarium-webp":
		return &TerrariumWebPEncoder{}, nil
	default:
		return nil, errors.Errorf("unsupported tile format: %q (supported: png, webp)", format)
	}
}

// FormatForTileType maps a PMTiles tile type to a DecodeImage format.
func FormatForTileType(tileType uint8) (string, error) {
	switch tileType {
	case TileTypePNG:
		return "png", nil
	case TileTypeWebP:
		return "webp", nil
	default:
		return "", errors.Errorf("tile type %d cannot hold terrarium elevation", tileType)
	}
}
