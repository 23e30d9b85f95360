package tile

import (
	"image"
	"math"

	"github.com/pspoerri/sensorgeo/internal/encode"
)

// TileData is one elevation tile of the pyramid in metres, row-major, NaN
// for no data. Tiles where every pixel holds the same value (sea level,
// flat plateaus, no-data gaps) store only that value.
type TileData struct {
	values   []float64 // nil for uniform tiles
	value    float64   // the uniform value; meaningful when values == nil
	tileSize int
}

// newTileData wraps rendered values, detecting uniform tiles.
func newTileData(values []float64, tileSize int) *TileData {
	if v, ok := detectUniform(values); ok {
		return &TileData{value: v, tileSize: tileSize}
	}
	return &TileData{values: values, tileSize: tileSize}
}

func newTileDataUniform(v float64, tileSize int) *TileData {
	return &TileData{value: v, tileSize: tileSize}
}

// IsUniform returns true if all pixels share the same value.
func (t *TileData) IsUniform() bool {
	return t.values == nil
}

// Value returns the uniform value. Only meaningful when IsUniform() is true.
func (t *TileData) Value() float64 {
	return t.value
}

// IsEmpty reports whether the tile holds no data at all.
func (t *TileData) IsEmpty() bool {
	return t.values == nil && math.IsNaN(t.value)
}

// At returns the elevation at (x, y).
func (t *TileData) At(x, y int) float64 {
	if t.values != nil {
		return t.values[y*t.tileSize+x]
	}
	return t.value
}

// Values returns the full grid. Uniform tiles allocate a filled copy.
func (t *TileData) Values() []float64 {
	if t.values != nil {
		return t.values
	}
	out := make([]float64, t.tileSize*t.tileSize)
	for i := range out {
		out[i] = t.value
	}
	return out
}

// Image renders the tile as terrarium RGB.
func (t *TileData) Image() image.Image {
	return encode.RenderTerrarium(t.Values(), t.tileSize)
}

// detectUniform checks whether every value is equal, treating NaNs as equal
// to each other. The scan short-circuits on the first mismatch.
func detectUniform(values []float64) (float64, bool) {
	if len(values) == 0 {
		return 0, false
	}
	v0 := values[0]
	nan := math.IsNaN(v0)
	for _, v := range values[1:] {
		if nan {
			if !math.IsNaN(v) {
				return 0, false
			}
		} else if v != v0 {
			return 0, false
		}
	}
	return v0, true
}
