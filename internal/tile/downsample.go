package tile

import "math"

// downsampleTile creates a parent tile by combining up to 4 child tiles.
// The children correspond to the four quadrants:
//
//	topLeft     = (z+1, 2x,   2y)
//	topRight    = (z+1, 2x+1, 2y)
//	bottomLeft  = (z+1, 2x,   2y+1)
//	bottomRight = (z+1, 2x+1, 2y+1)
//
// Any child may be nil (edge tiles, partial coverage); nil children
// contribute no data. Each parent pixel is the mean of the valid values of
// its 2x2 source block, or NaN when none is valid.
func downsampleTile(topLeft, topRight, bottomLeft, bottomRight *TileData, tileSize int) *TileData {
	children := [4]*TileData{topLeft, topRight, bottomLeft, bottomRight}

	nonNilCount := 0
	allUniform := true
	for _, c := range children {
		if c == nil {
			continue
		}
		nonNilCount++
		if !c.IsUniform() {
			allUniform = false
		}
	}
	if nonNilCount == 0 {
		return nil
	}

	// Fast path: all 4 children present and uniform with the same value.
	if nonNilCount == 4 && allUniform {
		v0 := children[0].Value()
		same := true
		for _, c := range children[1:] {
			v := c.Value()
			if v != v0 && !(math.IsNaN(v) && math.IsNaN(v0)) {
				same = false
				break
			}
		}
		if same {
			return newTileDataUniform(v0, tileSize)
		}
	}

	dst := make([]float64, tileSize*tileSize)
	for i := range dst {
		dst[i] = math.NaN()
	}
	half := tileSize / 2
	offsets := [4][2]int{{0, 0}, {half, 0}, {0, half}, {half, half}}
	for i, c := range children {
		if c == nil {
			continue
		}
		downsampleQuadrant(dst, c, offsets[i][0], offsets[i][1], half, tileSize)
	}
	return newTileData(dst, tileSize)
}

// downsampleQuadrant box-filters src by 2x into the half x half quadrant of
// dst starting at (dstOffX, dstOffY).
func downsampleQuadrant(dst []float64, src *TileData, dstOffX, dstOffY, half, tileSize int) {
	for dy := 0; dy < half; dy++ {
		sy := 2 * dy
		for dx := 0; dx < half; dx++ {
			sx := 2 * dx
			var sum float64
			var n int
			for _, p := range [4][2]int{{sx, sy}, {sx + 1, sy}, {sx, sy + 1}, {sx + 1, sy + 1}} {
				v := srcValue(src, p[0], p[1], tileSize)
				if math.IsNaN(v) {
					continue
				}
				sum += v
				n++
			}
			if n > 0 {
				dst[(dstOffY+dy)*tileSize+dstOffX+dx] = sum / float64(n)
			}
		}
	}
}

// srcValue reads a value from src, clamping coordinates to bounds.
func srcValue(src *TileData, x, y, tileSize int) float64 {
	if x >= tileSize {
		x = tileSize - 1
	}
	if y >= tileSize {
		y = tileSize - 1
	}
	return src.At(x, y)
}
