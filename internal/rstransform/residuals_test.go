package rstransform_test

import (
	"math"
	"testing"

	"go.viam.com/test"

	"github.com/pspoerri/sensorgeo/internal/rpc"
	"github.com/pspoerri/sensorgeo/internal/rstransform"
)

func TestResiduals(t *testing.T) {
	g := rstransform.New(nil)
	g.SetInputImageMetadata(sceneMetadata())
	h := instantiate(t, g)

	exact, err := h.TransformPoint(rstransform.Pt(15184, 16201))
	test.That(t, err, test.ShouldBeNil)

	tps := []rstransform.TiePoint{
		{Image: rstransform.Pt(15184, 16201), Lon: exact.X, Lat: exact.Y},
		{Image: rstransform.Pt(15184, 16201), Lon: exact.X, Lat: exact.Y + 0.001},
	}
	stats, err := rstransform.Residuals(h, tps)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, stats.Count, test.ShouldEqual, 2)
	test.That(t, stats.Failed, test.ShouldEqual, 0)
	test.That(t, stats.Errors[0], test.ShouldAlmostEqual, 0, 1e-6)
	test.That(t, stats.Errors[1], test.ShouldAlmostEqual, 111.2, 0.5)
	test.That(t, stats.Max, test.ShouldEqual, stats.Errors[1])
	test.That(t, stats.Mean, test.ShouldAlmostEqual, stats.Errors[1]/2, 1e-9)
	test.That(t, stats.RMS, test.ShouldAlmostEqual, stats.Errors[1]/math.Sqrt2, 1e-9)

	_, err = rstransform.Residuals(h, nil)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestResidualsFailedPoints(t *testing.T) {
	opts := rpc.DefaultOptions()
	opts.MaxIterations = 0
	g := rstransform.New(nil)
	g.SetInputImageMetadata(sceneMetadata())
	g.SetInputRPCOptions(opts)
	h := instantiate(t, g)

	stats, err := rstransform.Residuals(h, []rstransform.TiePoint{{Image: rstransform.Pt(20.5, 10.5)}})
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, stats.Failed, test.ShouldEqual, 1)
	test.That(t, math.IsNaN(stats.Errors[0]), test.ShouldBeTrue)
}
