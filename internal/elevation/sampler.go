package elevation

import "math"

// Grid is a raster of heights addressed by integer pixel positions.
type Grid interface {
	Size() (w, h int)
	// Value returns the height of pixel (px, py); ok is false on nodata.
	Value(px, py int) (v float64, ok bool, err error)
}

// Sample interpolates g at (fx, fy), where integer positions are pixel
// centres. Positions outside the outer pixel edges have no data.
func Sample(g Grid, fx, fy float64, mode Interpolation) (float64, bool, error) {
	w, h := g.Size()
	if math.IsNaN(fx) || math.IsNaN(fy) ||
		fx < -0.5 || fy < -0.5 || fx > float64(w)-0.5 || fy > float64(h)-0.5 {
		return 0, false, nil
	}
	switch mode {
	case Nearest:
		return sampleNearest(g, fx, fy, w, h)
	case Cubic:
		return sampleCubic(g, fx, fy, w, h)
	default:
		return sampleBilinear(g, fx, fy, w, h)
	}
}

func sampleNearest(g Grid, fx, fy float64, w, h int) (float64, bool, error) {
	px := clamp(int(math.Floor(fx+0.5)), 0, w-1)
	py := clamp(int(math.Floor(fy+0.5)), 0, h-1)
	return g.Value(px, py)
}

// sampleBilinear reports no data when any of the four neighbours is nodata.
func sampleBilinear(g Grid, fx, fy float64, w, h int) (float64, bool, error) {
	x0 := int(math.Floor(fx))
	y0 := int(math.Floor(fy))
	dx := fx - float64(x0)
	dy := fy - float64(y0)

	var v [2][2]float64
	for j := 0; j < 2; j++ {
		for i := 0; i < 2; i++ {
			val, ok, err := g.Value(clamp(x0+i, 0, w-1), clamp(y0+j, 0, h-1))
			if err != nil || !ok {
				return 0, false, err
			}
			v[j][i] = val
		}
	}

	top := v[0][0]*(1-dx) + v[0][1]*dx
	bot := v[1][0]*(1-dx) + v[1][1]*dx
	return top*(1-dy) + bot*dy, true, nil
}

// sampleCubic uses the Catmull-Rom kernel over 4x4 neighbours and falls
// back to bilinear when any of them is nodata.
func sampleCubic(g Grid, fx, fy float64, w, h int) (float64, bool, error) {
	const n = 4
	ix0 := int(math.Floor(fx)) - 1
	iy0 := int(math.Floor(fy)) - 1

	var wx, wy [n]float64
	for k := 0; k < n; k++ {
		wx[k] = bicubicLUT(fx - float64(ix0+k))
		wy[k] = bicubicLUT(fy - float64(iy0+k))
	}

	var sum, wTotal float64
	for ky := 0; ky < n; ky++ {
		py := clamp(iy0+ky, 0, h-1)
		for kx := 0; kx < n; kx++ {
			val, ok, err := g.Value(clamp(ix0+kx, 0, w-1), py)
			if err != nil {
				return 0, false, err
			}
			if !ok {
				return sampleBilinear(g, fx, fy, w, h)
			}
			wt := wx[kx] * wy[ky]
			sum += val * wt
			wTotal += wt
		}
	}
	if wTotal == 0 {
		return sampleNearest(g, fx, fy, w, h)
	}
	return sum / wTotal, true, nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// bicubic computes the Catmull-Rom (a = -0.5) kernel:
//
//	W(x) = 1.5|x|³ - 2.5|x|² + 1         for |x| ≤ 1
//	W(x) = -0.5|x|³ + 2.5|x|² - 4|x| + 2 for 1 < |x| ≤ 2
//	W(x) = 0                                for |x| > 2
func bicubic(x float64) float64 {
	if x < 0 {
		x = -x
	}
	if x >= 2 {
		return 0
	}
	x2 := x * x
	x3 := x2 * x
	if x <= 1 {
		return 1.5*x3 - 2.5*x2 + 1
	}
	return -0.5*x3 + 2.5*x2 - 4*x + 2
}

// 1024 entries over [0, 2] gives a step of ~0.00195.
const bicubicLUTSize = 1024

var bicubicTable [bicubicLUTSize]float64

func init() {
	for i := 0; i < bicubicLUTSize; i++ {
		bicubicTable[i] = bicubic(float64(i) * 2.0 / float64(bicubicLUTSize))
	}
}

// bicubicLUT evaluates the kernel by table lookup with linear interpolation.
func bicubicLUT(x float64) float64 {
	if x < 0 {
		x = -x
	}
	if x >= 2 {
		return 0
	}
	pos := x * (bicubicLUTSize / 2.0)
	idx := int(pos)
	if idx >= bicubicLUTSize-1 {
		return bicubicTable[bicubicLUTSize-1]
	}
	frac := pos - float64(idx)
	return bicubicTable[idx]*(1-frac) + bicubicTable[idx+1]*frac
}
