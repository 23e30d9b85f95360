package rstransform

import (
	"math"

	geo "github.com/kellydunn/golang-geo"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/stat"
)

// TiePoint pairs an image position with its surveyed WGS84 location.
type TiePoint struct {
	Image    Point
	Lon, Lat float64
}

// ResidualStats summarizes ground distances between transformed tie points
// and their reference locations, in metres.
type ResidualStats struct {
	Count  int
	Failed int
	Mean   float64
	RMS    float64
	Max    float64
	// Errors holds the distance of each tie point; NaN where the transform failed.
	Errors []float64
}

// Residuals transforms the image position of every tie point with h, which
// must map into WGS84 lon/lat, and measures the great-circle distance to
// the reference location.
func Residuals(h *Instantiated, tps []TiePoint) (ResidualStats, error) {
	if len(tps) == 0 {
		return ResidualStats{}, errors.New("no tie points")
	}
	pts := make([]Point, len(tps))
	for i, tp := range tps {
		pts[i] = tp.Image
	}
	ground, ok, err := h.TransformPoints(pts)
	if err != nil {
		return ResidualStats{}, err
	}

	stats := ResidualStats{Errors: make([]float64, len(tps))}
	var dist, sq []float64
	for i, tp := range tps {
		if !ok[i] {
			stats.Errors[i] = math.NaN()
			stats.Failed++
			continue
		}
		ref := geo.NewPoint(tp.Lat, tp.Lon)
		got := geo.NewPoint(ground[i].Y, ground[i].X)
		d := ref.GreatCircleDistance(got) * 1000
		stats.Errors[i] = d
		dist = append(dist, d)
		sq = append(sq, d*d)
		stats.Max = math.Max(stats.Max, d)
	}
	stats.Count = len(dist)
	if stats.Count == 0 {
		return stats, errors.New("no tie point could be transformed")
	}
	stats.Mean = stat.Mean(dist, nil)
	stats.RMS = math.Sqrt(stat.Mean(sq, nil))
	return stats, nil
}
