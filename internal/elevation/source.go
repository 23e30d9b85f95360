// Package elevation supplies ground heights to sensor models: constant
// heights, GeoTIFF and PMTiles terrarium DEMs, and a Handler that stacks
// DEMs over a geoid with a default height.
package elevation

import (
	"strings"

	"github.com/pkg/errors"
)

var (
	// ErrNoData is returned when no source covers a location.
	ErrNoData = errors.New("no elevation data")
	// ErrClosed is returned by operations on a closed Handler.
	ErrClosed = errors.New("elevation handler is closed")
)

// Source supplies a height in metres at a WGS84 location. ok is false where
// the source has no data. Implementations must be safe for concurrent use.
type Source interface {
	HeightAt(lon, lat float64) (h float64, ok bool)
}

// Constant is a Source returning the same height everywhere.
type Constant float64

// HeightAt implements Source.
func (c Constant) HeightAt(lon, lat float64) (float64, bool) {
	return float64(c), true
}

// SourceFunc adapts a function to Source.
type SourceFunc func(lon, lat float64) (float64, bool)

// HeightAt implements Source.
func (f SourceFunc) HeightAt(lon, lat float64) (float64, bool) {
	return f(lon, lat)
}

// Stack queries sources in order; the first one with data wins.
type Stack []Source

// HeightAt implements Source.
func (s Stack) HeightAt(lon, lat float64) (float64, bool) {
	for _, src := range s {
		if h, ok := src.HeightAt(lon, lat); ok {
			return h, true
		}
	}
	return 0, false
}

// Interpolation selects how raster sources sample between pixel centres.
type Interpolation int

const (
	Nearest Interpolation = iota
	Bilinear
	Cubic
)

func (i Interpolation) String() string {
	switch i {
	case Nearest:
		return "near"
	case Bilinear:
		return "bilinear"
	case Cubic:
		return "cubic"
	default:
		return "unknown"
	}
}

// ParseInterpolation parses "near", "nearest", "bilinear" or "cubic",
// ignoring case.
func ParseInterpolation(s string) (Interpolation, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "near", "nearest":
		return Nearest, nil
	case "bilinear", "linear":
		return Bilinear, nil
	case "cubic", "bicubic":
		return Cubic, nil
	default:
		return Nearest, errors.Errorf("unknown DEM interpolation %q (want near, bilinear or cubic)", s)
	}
}
