package encode

import (
	"image"
	"image/color"
	"math"
)

// TerrariumEncoder encodes terrarium tiles as PNG. The input image should
// already carry terrarium RGB values (see RenderTerrarium).
type TerrariumEncoder struct{}

func (e *TerrariumEncoder) Encode(img image.Image) ([]byte, error) {
	return encodePNG(img)
}

func (e *TerrariumEncoder) Format() string        { return "png" }
func (e *TerrariumEncoder) PMTileType() uint8     { return TileTypePNG }
func (e *TerrariumEncoder) FileExtension() string { return ".png" }

// ElevationToTerrarium converts an elevation to terrarium RGB:
//
//	elevation = (R * 256 + G + B / 256) - 32768
//
// The range is about -32768 to +32767.996 metres; NaN maps to transparent.
func ElevationToTerrarium(elevation float64) color.RGBA {
	if math.IsNaN(elevation) || math.IsInf(elevation, 0) {
		return color.RGBA{}
	}

	value := math.Max(0, math.Min(elevation+32768.0, 65535.996))
	r := math.Floor(value / 256)
	g := math.Floor(value - r*256)
	b := math.Floor((value - r*256 - g) * 256)
	return color.RGBA{R: uint8(r), G: uint8(g), B: uint8(math.Min(b, 255)), A: 255}
}

// TerrariumToElevation converts terrarium RGB back to an elevation, NaN for
// transparent pixels.
func TerrariumToElevation(c color.RGBA) float64 {
	if c.A == 0 {
		return math.NaN()
	}
	return float64(c.R)*256.0 + float64(c.G) + float64(c.B)/256.0 - 32768.0
}

// RenderTerrarium renders a size x size row-major elevation grid.
func RenderTerrarium(values []float64, size int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			img.SetRGBA(x, y, ElevationToTerrarium(values[y*size+x]))
		}
	}
	return img
}

// DecodeTerrarium converts a terrarium tile to row-major elevations.
func DecodeTerrarium(img image.Image) (values []float32, w, h int) {
	b := img.Bounds()
	w, h = b.Dx(), b.Dy()
	values = make([]float32, w*h)
	rgba, isRGBA := img.(*image.RGBA)
	nrgba, isNRGBA := img.(*image.NRGBA)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var c color.RGBA
			switch {
			case isNRGBA:
				// Straight alpha keeps the RGB of opaque pixels as written.
				n := nrgba.NRGBAAt(b.Min.X+x, b.Min.Y+y)
				c = color.RGBA{R: n.R, G: n.G, B: n.B, A: n.A}
			case isRGBA:
				c = rgba.RGBAAt(b.Min.X+x, b.Min.Y+y)
			default:
				r, g, bb, a := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
				c = color.RGBA{R: uint8(r >> 8), G: uint8(g >> 8), B: uint8(bb >> 8), A: uint8(a >> 8)}
			}
			values[y*w+x] = float32(TerrariumToElevation(c))
		}
	}
	return values, w, h
}
