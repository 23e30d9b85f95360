package cog

import (
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// TFW holds the six parameters of a world file (.tfw):
//
//	line 1: pixel width
//	line 2: rotation about the y-axis
//	line 3: rotation about the x-axis
//	line 4: pixel height, negative for north-up images
//	line 5: x of the centre of the upper-left pixel
//	line 6: y of the centre of the upper-left pixel
type TFW struct {
	PixelSizeX float64
	RotationY  float64
	RotationX  float64
	PixelSizeY float64
	OriginX    float64
	OriginY    float64
}

// ParseTFW reads a world file. Rotated world files are rejected.
func ParseTFW(path string) (*TFW, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading world file %s", path)
	}

	fields := strings.Fields(string(data))
	if len(fields) < 6 {
		return nil, errors.Errorf("world file %s: expected 6 values, got %d", path, len(fields))
	}
	var vals [6]float64
	for i := range vals {
		v, err := strconv.ParseFloat(fields[i], 64)
		if err != nil {
			return nil, errors.Wrapf(err, "world file %s value %d", path, i+1)
		}
		vals[i] = v
	}

	tfw := &TFW{
		PixelSizeX: vals[0],
		RotationY:  vals[1],
		RotationX:  vals[2],
		PixelSizeY: vals[3],
		OriginX:    vals[4],
		OriginY:    vals[5],
	}
	if tfw.RotationX != 0 || tfw.RotationY != 0 {
		return nil, errors.Errorf("world file %s: rotation (%g, %g) is not supported",
			path, tfw.RotationX, tfw.RotationY)
	}
	return tfw, nil
}

// FindTFW returns the world file next to an image, or "".
func FindTFW(imagePath string) string {
	base := strings.TrimSuffix(imagePath, filepath.Ext(imagePath))
	for _, ext := range []string{".tfw", ".TFW", ".tifw", ".TIFW", ".wld", ".WLD"} {
		if _, err := os.Stat(base + ext); err == nil {
			return base + ext
		}
	}
	return ""
}

// GeoInfo converts the pixel-centre origin of the world file to the
// corner origin used by GeoInfo. The EPSG code is guessed.
func (tfw *TFW) GeoInfo(width, height int) GeoInfo {
	info := GeoInfo{
		PixelSizeX: math.Abs(tfw.PixelSizeX),
		PixelSizeY: math.Abs(tfw.PixelSizeY),
		OriginX:    tfw.OriginX - math.Abs(tfw.PixelSizeX)/2,
		OriginY:    tfw.OriginY + math.Abs(tfw.PixelSizeY)/2,
	}
	info.EPSG = InferEPSG(info, width, height)
	return info
}

// InferEPSG guesses the EPSG code from coordinate ranges: lon/lat ranges
// give 4326, Swiss LV95 ranges 2056, other metric ranges 3857.
func InferEPSG(info GeoInfo, width, height int) int {
	maxX := info.OriginX + float64(width)*info.PixelSizeX
	minY := info.OriginY - float64(height)*info.PixelSizeY

	if info.OriginX >= -180 && maxX <= 360 && minY >= -90 && info.OriginY <= 90 {
		return 4326
	}
	if info.OriginX >= 2_400_000 && info.OriginX <= 2_900_000 &&
		info.OriginY >= 1_000_000 && info.OriginY <= 1_400_000 {
		return 2056
	}
	if math.Abs(info.OriginX) <= 20037508.34 && math.Abs(info.OriginY) <= 20048966.10 {
		return 3857
	}
	return 0
}
