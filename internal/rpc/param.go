// Package rpc implements the RPC00B rational polynomial sensor model:
// coefficient parameters, image/ground evaluation in both directions,
// tuning options, an optional validity footprint and least-squares fitting
// from tie points.
package rpc

import (
	"math"

	"github.com/pkg/errors"
)

// NumCoeffs is the number of terms of each RPC00B cubic polynomial.
const NumCoeffs = 20

// TagValueCount is the number of doubles in the GeoTIFF RPC coefficient tag.
const TagValueCount = 12 + 4*NumCoeffs

// ErrInvalidParam is returned by Validate and by parsers for unusable parameters.
var ErrInvalidParam = errors.New("invalid RPC parameters")

// Param is one set of RPC00B coefficients. It is a plain value: a Model
// keeps its own copy.
type Param struct {
	ErrBias float64
	ErrRand float64

	LineOffset   float64
	SampleOffset float64
	LatOffset    float64
	LonOffset    float64
	HeightOffset float64

	LineScale   float64
	SampleScale float64
	LatScale    float64
	LonScale    float64
	HeightScale float64

	LineNum   [NumCoeffs]float64
	LineDen   [NumCoeffs]float64
	SampleNum [NumCoeffs]float64
	SampleDen [NumCoeffs]float64
}

// Validate rejects zero scales and non-finite values. All-zero polynomial
// coefficients are accepted.
func (p Param) Validate() error {
	scalars := []struct {
		name string
		v    float64
	}{
		{"LINE_OFF", p.LineOffset}, {"SAMP_OFF", p.SampleOffset},
		{"LAT_OFF", p.LatOffset}, {"LONG_OFF", p.LonOffset}, {"HEIGHT_OFF", p.HeightOffset},
		{"LINE_SCALE", p.LineScale}, {"SAMP_SCALE", p.SampleScale},
		{"LAT_SCALE", p.LatScale}, {"LONG_SCALE", p.LonScale}, {"HEIGHT_SCALE", p.HeightScale},
	}
	for _, s := range scalars {
		if math.IsNaN(s.v) || math.IsInf(s.v, 0) {
			return errors.Wrapf(ErrInvalidParam, "%s is not finite", s.name)
		}
	}
	for _, s := range scalars[5:] {
		if s.v == 0 {
			return errors.Wrapf(ErrInvalidParam, "%s is zero", s.name)
		}
	}
	for _, c := range [][NumCoeffs]float64{p.LineNum, p.LineDen, p.SampleNum, p.SampleDen} {
		for i, v := range c {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return errors.Wrapf(ErrInvalidParam, "coefficient %d is not finite", i+1)
			}
		}
	}
	return nil
}

// FromTag builds a Param from the 92 doubles of GeoTIFF tag 50844.
func FromTag(v []float64) (Param, error) {
	if len(v) != TagValueCount {
		return Param{}, errors.Wrapf(ErrInvalidParam, "RPC tag has %d values, want %d", len(v), TagValueCount)
	}
	p := Param{
		ErrBias:      v[0],
		ErrRand:      v[1],
		LineOffset:   v[2],
		SampleOffset: v[3],
		LatOffset:    v[4],
		LonOffset:    v[5],
		HeightOffset: v[6],
		LineScale:    v[7],
		SampleScale:  v[8],
		LatScale:     v[9],
		LonScale:     v[10],
		HeightScale:  v[11],
	}
	copy(p.LineNum[:], v[12:32])
	copy(p.LineDen[:], v[32:52])
	copy(p.SampleNum[:], v[52:72])
	copy(p.SampleDen[:], v[72:92])
	return p, nil
}

// Tag returns p in GeoTIFF tag 50844 order.
func (p Param) Tag() []float64 {
	v := make([]float64, 0, TagValueCount)
	v = append(v,
		p.ErrBias, p.ErrRand,
		p.LineOffset, p.SampleOffset, p.LatOffset, p.LonOffset, p.HeightOffset,
		p.LineScale, p.SampleScale, p.LatScale, p.LonScale, p.HeightScale)
	v = append(v, p.LineNum[:]...)
	v = append(v, p.LineDen[:]...)
	v = append(v, p.SampleNum[:]...)
	v = append(v, p.SampleDen[:]...)
	return v
}

// terms fills t with the 20 RPC00B monomials of normalized (lat P, lon L, height H).
func terms(t *[NumCoeffs]float64, P, L, H float64) {
	t[0] = 1
	t[1] = L
	t[2] = P
	t[3] = H
	t[4] = L * P
	t[5] = L * H
	t[6] = P * H
	t[7] = L * L
	t[8] = P * P
	t[9] = H * H
	t[10] = P * L * H
	t[11] = L * L * L
	t[12] = L * P * P
	t[13] = L * H * H
	t[14] = L * L * P
	t[15] = P * P * P
	t[16] = P * H * H
	t[17] = L * L * H
	t[18] = P * P * H
	t[19] = H * H * H
}

func polynomial(c *[NumCoeffs]float64, P, L, H float64) float64 {
	var t [NumCoeffs]float64
	terms(&t, P, L, H)
	s := 0.0
	for i := range t {
		s += c[i] * t[i]
	}
	return s
}

// dLat is the partial derivative of the polynomial with respect to P.
func dLat(c *[NumCoeffs]float64, P, L, H float64) float64 {
	return c[2] + c[4]*L + c[6]*H + 2*c[8]*P + c[10]*L*H + 2*c[12]*L*P +
		c[14]*L*L + 3*c[15]*P*P + c[16]*H*H + 2*c[18]*P*H
}

// dLon is the partial derivative of the polynomial with respect to L.
func dLon(c *[NumCoeffs]float64, P, L, H float64) float64 {
	return c[1] + c[4]*P + c[5]*H + 2*c[7]*L + c[10]*P*H + 3*c[11]*L*L +
		c[12]*P*P + c[13]*H*H + 2*c[14]*P*L + 2*c[17]*L*H
}

// normalizedImage evaluates the polynomial ratios at normalized ground
// coordinates and returns normalized (line, sample).
func (p *Param) normalizedImage(P, L, H float64) (u, v float64) {
	u = polynomial(&p.LineNum, P, L, H) / polynomial(&p.LineDen, P, L, H)
	v = polynomial(&p.SampleNum, P, L, H) / polynomial(&p.SampleDen, P, L, H)
	return u, v
}

// GroundToImage evaluates the closed-form polynomial ratio.
// It returns sample and line in pixels.
func (p *Param) GroundToImage(lon, lat, h float64) (sample, line float64) {
	P := (lat - p.LatOffset) / p.LatScale
	L := (lon - p.LonOffset) / p.LonScale
	H := (h - p.HeightOffset) / p.HeightScale
	u, v := p.normalizedImage(P, L, H)
	return v*p.SampleScale + p.SampleOffset, u*p.LineScale + p.LineOffset
}
