package rpc

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// flt32Epsilon is the single-precision machine epsilon.
const flt32Epsilon = 1.1920929e-07

// TiePoint pairs an image position with its ground position.
type TiePoint struct {
	Sample, Line float64
	Lon, Lat     float64
	Height       float64
}

// FitOptions controls Fit.
type FitOptions struct {
	// UseElevation fits the height terms. It is turned off automatically
	// when every tie point has zero height.
	UseElevation bool
	// MaxIterations caps the denominator reweighting. Zero means 10.
	MaxIterations int
}

// FitResult describes the quality of a fitted model in pixels.
type FitResult struct {
	RMS              float64
	MaxResidual      float64
	Iterations       int
	ElevationEnabled bool
}

// MinTiePoints returns the number of tie points Fit needs.
func MinTiePoints(useElevation bool) int {
	if useElevation {
		return 39
	}
	return 20
}

// Fit estimates RPC00B coefficients from tie points by iteratively
// reweighted linear least squares. Each image axis is solved separately for
// 20 numerator and 19 denominator coefficients with a fixed constant
// denominator term of 1.
func Fit(points []TiePoint, opts FitOptions) (Param, FitResult, error) {
	useElevation := opts.UseElevation
	if n := MinTiePoints(useElevation); len(points) < n {
		return Param{}, FitResult{}, errors.Errorf("RPC fit needs at least %d tie points, got %d", n, len(points))
	}
	maxIter := opts.MaxIterations
	if maxIter <= 0 {
		maxIter = 10
	}

	var p Param
	minS, maxS := math.Inf(1), math.Inf(-1)
	minL, maxL := math.Inf(1), math.Inf(-1)
	var sumLon, sumLat, sumH float64
	for _, tp := range points {
		minS, maxS = math.Min(minS, tp.Sample), math.Max(maxS, tp.Sample)
		minL, maxL = math.Min(minL, tp.Line), math.Max(maxL, tp.Line)
		sumLon += tp.Lon
		sumLat += tp.Lat
		sumH += tp.Height
	}
	n := float64(len(points))
	p.SampleOffset = (minS + maxS) / 2
	p.LineOffset = (minL + maxL) / 2
	p.SampleScale = math.Max((maxS-minS)/2, 1)
	p.LineScale = math.Max((maxL-minL)/2, 1)
	p.LonOffset = sumLon / n
	p.LatOffset = sumLat / n
	p.HeightOffset = sumH / n

	var maxDLon, maxDLat, maxH float64
	for _, tp := range points {
		maxDLon = math.Max(maxDLon, math.Abs(tp.Lon-p.LonOffset))
		maxDLat = math.Max(maxDLat, math.Abs(tp.Lat-p.LatOffset))
		maxH = math.Max(maxH, math.Abs(tp.Height))
	}
	p.LonScale = math.Max(maxDLon, 1)
	p.LatScale = math.Max(maxDLat, 1)
	if maxH < flt32Epsilon {
		useElevation = false
	}
	p.HeightScale = math.Max(maxH, 1)
	if !useElevation {
		p.HeightOffset = 0
	}

	P := make([]float64, len(points))
	L := make([]float64, len(points))
	H := make([]float64, len(points))
	u := make([]float64, len(points))
	v := make([]float64, len(points))
	for i, tp := range points {
		P[i] = (tp.Lat - p.LatOffset) / p.LatScale
		L[i] = (tp.Lon - p.LonOffset) / p.LonScale
		if useElevation {
			H[i] = (tp.Height - p.HeightOffset) / p.HeightScale
		}
		u[i] = (tp.Line - p.LineOffset) / p.LineScale
		v[i] = (tp.Sample - p.SampleOffset) / p.SampleScale
	}

	var itLine, itSample int
	var err error
	p.LineNum, p.LineDen, itLine, err = solveRational(P, L, H, u, maxIter)
	if err != nil {
		return Param{}, FitResult{}, errors.Wrap(err, "fitting line polynomial")
	}
	p.SampleNum, p.SampleDen, itSample, err = solveRational(P, L, H, v, maxIter)
	if err != nil {
		return Param{}, FitResult{}, errors.Wrap(err, "fitting sample polynomial")
	}

	res := FitResult{Iterations: max(itLine, itSample), ElevationEnabled: useElevation}
	var sumSq float64
	for _, tp := range points {
		h := tp.Height
		if !useElevation {
			h = 0
		}
		s, l := p.GroundToImage(tp.Lon, tp.Lat, h)
		d := math.Hypot(s-tp.Sample, l-tp.Line)
		sumSq += d * d
		res.MaxResidual = math.Max(res.MaxResidual, d)
	}
	res.RMS = math.Sqrt(sumSq / n)
	return p, res, nil
}

// solveRational fits f ≈ num(P,L,H)/den(P,L,H), reweighting each equation
// by 1/den until the solution settles.
func solveRational(P, L, H, f []float64, maxIter int) (num, den [NumCoeffs]float64, iterations int, err error) {
	rows := len(f)
	a := mat.NewDense(rows, 2*NumCoeffs-1, nil)
	b := mat.NewVecDense(rows, nil)
	w := make([]float64, rows)
	for i := range w {
		w[i] = 1
	}

	var t [NumCoeffs]float64
	var prev []float64
	for iterations = 1; iterations <= maxIter; iterations++ {
		for i := 0; i < rows; i++ {
			terms(&t, P[i], L[i], H[i])
			for j := 0; j < NumCoeffs; j++ {
				a.Set(i, j, w[i]*t[j])
			}
			for j := 1; j < NumCoeffs; j++ {
				a.Set(i, NumCoeffs+j-1, -w[i]*f[i]*t[j])
			}
			b.SetVec(i, w[i]*f[i])
		}

		c, err := pseudoSolve(a, b)
		if err != nil {
			return num, den, iterations, err
		}
		copy(num[:], c[:NumCoeffs])
		den[0] = 1
		copy(den[1:], c[NumCoeffs:])

		for i := 0; i < rows; i++ {
			d := polynomial(&den, P[i], L[i], H[i])
			w[i] = 1
			if d > flt32Epsilon {
				w[i] = 1 / d
			}
		}

		if prev != nil && maxAbsDiff(prev, c) < flt32Epsilon {
			break
		}
		prev = c
	}
	return num, den, min(iterations, maxIter), nil
}

// pseudoSolve returns the minimum-norm least-squares solution of a·x = b,
// dropping singular values at or below FLT_EPSILON relative to the largest.
// Columns are scaled to unit norm first so that small high-order terms of a
// compact scene are not mistaken for rank deficiency. a is modified.
func pseudoSolve(a *mat.Dense, b *mat.VecDense) ([]float64, error) {
	rows, cols := a.Dims()
	norms := make([]float64, cols)
	for j := 0; j < cols; j++ {
		n := mat.Norm(a.ColView(j), 2)
		if n == 0 {
			n = 1
		}
		norms[j] = n
		for i := 0; i < rows; i++ {
			a.Set(i, j, a.At(i, j)/n)
		}
	}

	var svd mat.SVD
	if !svd.Factorize(a, mat.SVDThin) {
		return nil, errors.New("SVD factorization failed")
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	values := svd.Values(nil)
	if len(values) == 0 || values[0] == 0 {
		return nil, errors.New("tie point system is degenerate")
	}

	var utb mat.VecDense
	utb.MulVec(u.T(), b)
	cutoff := values[0] * flt32Epsilon
	for i, s := range values {
		if s > cutoff {
			utb.SetVec(i, utb.AtVec(i)/s)
		} else {
			utb.SetVec(i, 0)
		}
	}
	var x mat.VecDense
	x.MulVec(&v, &utb)
	out := mat.Col(nil, 0, &x)
	for j := range out {
		out[j] /= norms[j]
	}
	return out, nil
}

func maxAbsDiff(a, b []float64) float64 {
	m := 0.0
	for i := range a {
		m = math.Max(m, math.Abs(a[i]-b[i]))
	}
	return m
}
