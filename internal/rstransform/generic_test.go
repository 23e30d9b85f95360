package rstransform_test

import (
	"context"
	"math"
	"testing"

	"github.com/pkg/errors"
	"go.viam.com/test"

	"github.com/pspoerri/sensorgeo/internal/coord"
	"github.com/pspoerri/sensorgeo/internal/elevation"
	"github.com/pspoerri/sensorgeo/internal/logging"
	"github.com/pspoerri/sensorgeo/internal/metadata"
	"github.com/pspoerri/sensorgeo/internal/rpc"
	"github.com/pspoerri/sensorgeo/internal/rstransform"
)

// sceneMetadata returns a raw sensor image over Pyongyang with a synthetic
// RPC model, using spacing 1 and origin 0 so pixel positions are RPC
// image coordinates.
func sceneMetadata() *metadata.ImageMetadata {
	p := rpc.Param{
		LineOffset: 16201, SampleOffset: 15184,
		LatOffset: 39.7792, LonOffset: 125.7510, HeightOffset: 500,
		LineScale: 16480, SampleScale: 15217,
		LatScale: 0.0931038, LonScale: 0.1014256, HeightScale: 500,
	}
	p.LineNum[0], p.LineNum[1], p.LineNum[2], p.LineNum[3] = 0.002, 0.01, -1.0, 0.005
	p.LineNum[4], p.LineNum[7], p.LineNum[8] = 0.0005, 0.0003, -0.0004
	p.LineNum[11], p.LineNum[15] = 1e-5, -2e-5
	p.LineDen[0], p.LineDen[1], p.LineDen[2] = 1, 0.0001, 0.0002
	p.SampleNum[0], p.SampleNum[1], p.SampleNum[2], p.SampleNum[3] = -0.001, 1.0, 0.02, 0.003
	p.SampleNum[4], p.SampleNum[7], p.SampleNum[8] = -0.0006, -0.0002, 0.0001
	p.SampleNum[12] = 2e-5
	p.SampleDen[0], p.SampleDen[1], p.SampleDen[2] = 1, -0.0001, 0.00015

	md := metadata.New()
	md.RPC = &p
	md.Width, md.Height = 30368, 32402
	md.Origin = [2]float64{0, 0}
	return md
}

func instantiate(t *testing.T, g *rstransform.GenericRSTransform) *rstransform.Instantiated {
	t.Helper()
	h, err := g.InstantiateTransform()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, g.IsUpToDate(), test.ShouldBeTrue)
	return h
}

func TestIdentityFallback(t *testing.T) {
	g := rstransform.New(logging.NewTestLogger(t))
	h := instantiate(t, g)

	for _, p := range []rstransform.Point{rstransform.Pt(3.5, -2), rstransform.Pt3(1e6, 7, 42)} {
		got, err := h.TransformPoint(p)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, got, test.ShouldResemble, p)
	}
	test.That(t, h.Accuracy(), test.ShouldEqual, rstransform.AccuracyUnknown)
	test.That(t, g.GetAccuracy(), test.ShouldEqual, rstransform.AccuracyUnknown)

	ct, err := h.Transform()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ct.IsIdentity(), test.ShouldBeTrue)
	test.That(t, h.InputProjectionRef(), test.ShouldEqual, "")
	test.That(t, h.OutputProjectionRef(), test.ShouldEqual, "")
}

func TestSpacingOrigin(t *testing.T) {
	g := rstransform.New(nil)
	g.SetInputSpacing([2]float64{2, 3})
	g.SetInputOrigin([2]float64{100, 200})
	h := instantiate(t, g)

	got, err := h.TransformPoint(rstransform.Pt3(1, 1, 9))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, got, test.ShouldResemble, rstransform.Pt3(102, 203, 9))

	// The output side divides its spacing and origin back out.
	g.SetOutputSpacing([2]float64{2, 3})
	g.SetOutputOrigin([2]float64{100, 200})
	h = instantiate(t, g)
	got, err = h.TransformPoint(rstransform.Pt(1, 1))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, got, test.ShouldResemble, rstransform.Pt(1, 1))

	g.SetOutputSpacing([2]float64{0, 1})
	_, err = g.InstantiateTransform()
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, g.IsUpToDate(), test.ShouldBeFalse)
}

func TestAccuracy(t *testing.T) {
	for _, tc := range []struct {
		name    string
		inRef   string
		outRef  string
		inMeta  *metadata.ImageMetadata
		outMeta *metadata.ImageMetadata
		want    rstransform.Accuracy
	}{
		{"rpc input", "", "", sceneMetadata(), nil, rstransform.AccuracyEstimate},
		{"rpc output", "EPSG:4326", "", nil, sceneMetadata(), rstransform.AccuracyEstimate},
		{"map projections", "EPSG:2056", "EPSG:4326", nil, nil, rstransform.AccuracyPrecise},
		{"one map projection", "EPSG:32652", "", nil, nil, rstransform.AccuracyPrecise},
		{"nothing", "", "", nil, nil, rstransform.AccuracyUnknown},
		{"invalid refs", "not a projection", "EPSG:none", nil, nil, rstransform.AccuracyUnknown},
		{"metadata without rpc", "", "", metadata.New(), metadata.New(), rstransform.AccuracyUnknown},
	} {
		t.Run(tc.name, func(t *testing.T) {
			g := rstransform.New(logging.NewTestLogger(t))
			g.SetInputProjectionRef(tc.inRef)
			g.SetOutputProjectionRef(tc.outRef)
			g.SetInputImageMetadata(tc.inMeta)
			g.SetOutputImageMetadata(tc.outMeta)
			h := instantiate(t, g)
			test.That(t, h.Accuracy(), test.ShouldEqual, tc.want)
			test.That(t, g.GetAccuracy(), test.ShouldEqual, tc.want)
		})
	}
}

func TestRPCForwardKnownPoint(t *testing.T) {
	g := rstransform.New(logging.NewTestLogger(t))
	g.SetInputImageMetadata(sceneMetadata())
	h := instantiate(t, g)

	got, err := h.TransformPoint(rstransform.Pt(20.5, 10.5))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, got.X, test.ShouldAlmostEqual, 125.6483, 1e-6)
	test.That(t, got.Y, test.ShouldAlmostEqual, 39.8694, 1e-6)
	test.That(t, got.HasZ, test.ShouldBeFalse)
}

func TestCrossConsistency(t *testing.T) {
	md := sceneMetadata()

	implicit := rstransform.New(nil)
	implicit.SetInputImageMetadata(md)
	hi := instantiate(t, implicit)
	test.That(t, hi.OutputProjectionRef(), test.ShouldEqual, coord.WGS84WKT)
	test.That(t, hi.InputProjectionRef(), test.ShouldEqual, "")
	ct, err := hi.Transform()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ct.First.Kind(), test.ShouldEqual, rstransform.KindRPCForward)
	test.That(t, ct.Second.Kind(), test.ShouldEqual, rstransform.KindMapForward)

	explicit := rstransform.New(nil)
	explicit.SetInputImageMetadata(md)
	explicit.SetOutputProjectionRef("EPSG:4326")
	he := instantiate(t, explicit)

	for _, p := range []rstransform.Point{
		rstransform.Pt(20.5, 10.5), rstransform.Pt(15184, 16201), rstransform.Pt3(30000, 5000, 250),
	} {
		a, err := hi.TransformPoint(p)
		test.That(t, err, test.ShouldBeNil)
		b, err := he.TransformPoint(p)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, a.X, test.ShouldAlmostEqual, b.X, 1e-9)
		test.That(t, a.Y, test.ShouldAlmostEqual, b.Y, 1e-9)
	}

	// A projected input with nothing on the output side maps to WGS84 as well.
	g := rstransform.New(nil)
	g.SetInputProjectionRef("EPSG:2056")
	h := instantiate(t, g)
	test.That(t, h.OutputProjectionRef(), test.ShouldEqual, coord.WGS84WKT)
	got, err := h.TransformPoint(rstransform.Pt(2_600_000, 1_200_000))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, got.X, test.ShouldAlmostEqual, 7.438632, 1e-3)
	test.That(t, got.Y, test.ShouldAlmostEqual, 46.951083, 1e-3)
}

func TestGeographicProjString(t *testing.T) {
	viaProj := rstransform.New(nil)
	viaProj.SetInputProjectionRef("+proj=longlat +datum=WGS84 +no_defs")
	viaProj.SetOutputProjectionRef("EPSG:32652")
	hp := instantiate(t, viaProj)
	test.That(t, hp.Accuracy(), test.ShouldEqual, rstransform.AccuracyPrecise)

	viaEPSG := rstransform.New(nil)
	viaEPSG.SetInputProjectionRef("EPSG:4326")
	viaEPSG.SetOutputProjectionRef("EPSG:32652")
	he := instantiate(t, viaEPSG)

	got, err := hp.TransformPoint(rstransform.Pt(125.75, 39.78))
	test.That(t, err, test.ShouldBeNil)
	want, err := he.TransformPoint(rstransform.Pt(125.75, 39.78))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, got.X, test.ShouldAlmostEqual, want.X, 1e-6)
	test.That(t, got.Y, test.ShouldAlmostEqual, want.Y, 1e-6)
	test.That(t, got.X, test.ShouldAlmostEqual, 221665.39, 1)
	test.That(t, got.Y, test.ShouldAlmostEqual, 4408393.71, 1)
}

func TestInverseRoundTrip(t *testing.T) {
	md := sceneMetadata()
	md.Origin = [2]float64{0.5, 0.5}

	g := rstransform.New(logging.NewTestLogger(t))
	g.SetInputImageMetadata(md)
	g.SetInputSpacing(md.Spacing)
	g.SetInputOrigin(md.Origin)
	img2wgs := instantiate(t, g)

	inv, wgs2img, err := g.GetInverseTransform()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, inv.IsUpToDate(), test.ShouldBeTrue)
	test.That(t, wgs2img.Accuracy(), test.ShouldEqual, rstransform.AccuracyEstimate)
	test.That(t, wgs2img.InputProjectionRef(), test.ShouldEqual, coord.WGS84WKT)

	for _, p := range []rstransform.Point{
		rstransform.Pt(20, 10), rstransform.Pt(15000, 16000), rstransform.Pt3(29000, 31000, 120),
	} {
		ground, err := img2wgs.TransformPoint(p)
		test.That(t, err, test.ShouldBeNil)
		back, err := wgs2img.TransformPoint(ground)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, back.X, test.ShouldAlmostEqual, p.X, rpc.DefaultPixelErrorThreshold)
		test.That(t, back.Y, test.ShouldAlmostEqual, p.Y, rpc.DefaultPixelErrorThreshold)
		test.That(t, back.Z, test.ShouldEqual, p.Z)
	}

	// Swapping twice gives the original direction.
	_, again, err := inv.GetInverseTransform()
	test.That(t, err, test.ShouldBeNil)
	a, err := again.TransformPoint(rstransform.Pt(20, 10))
	test.That(t, err, test.ShouldBeNil)
	b, err := img2wgs.TransformPoint(rstransform.Pt(20, 10))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, a, test.ShouldResemble, b)

	g.SetOutputSpacing([2]float64{1, 0})
	_, _, err = g.GetInverseTransform()
	test.That(t, err, test.ShouldNotBeNil)
}

func TestStaleHandle(t *testing.T) {
	g := rstransform.New(nil)
	_, err := g.TransformPoint(rstransform.Pt(1, 2))
	test.That(t, errors.Is(err, rstransform.ErrNotInstantiated), test.ShouldBeTrue)

	g.SetInputImageMetadata(sceneMetadata())
	h := instantiate(t, g)
	test.That(t, h.Valid(), test.ShouldBeTrue)
	_, err = g.TransformPoint(rstransform.Pt(20.5, 10.5))
	test.That(t, err, test.ShouldBeNil)

	g.SetInputOrigin([2]float64{0.5, 0.5})
	test.That(t, g.IsUpToDate(), test.ShouldBeFalse)
	test.That(t, h.Valid(), test.ShouldBeFalse)
	test.That(t, g.GetAccuracy(), test.ShouldEqual, rstransform.AccuracyUnknown)

	_, err = h.TransformPoint(rstransform.Pt(20.5, 10.5))
	test.That(t, errors.Is(err, rstransform.ErrNotInstantiated), test.ShouldBeTrue)
	_, _, err = h.TransformPoints([]rstransform.Point{rstransform.Pt(20.5, 10.5)})
	test.That(t, errors.Is(err, rstransform.ErrNotInstantiated), test.ShouldBeTrue)
	_, err = h.Transform()
	test.That(t, errors.Is(err, rstransform.ErrNotInstantiated), test.ShouldBeTrue)
	_, err = g.TransformPoint(rstransform.Pt(20.5, 10.5))
	test.That(t, errors.Is(err, rstransform.ErrNotInstantiated), test.ShouldBeTrue)

	// Re-instantiating is idempotent.
	h1 := instantiate(t, g)
	h2 := instantiate(t, g)
	test.That(t, h1.Valid(), test.ShouldBeTrue)
	test.That(t, h2.Valid(), test.ShouldBeTrue)
	a, err := h1.TransformPoint(rstransform.Pt(100, 100))
	test.That(t, err, test.ShouldBeNil)
	b, err := h2.TransformPoint(rstransform.Pt(100, 100))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, a, test.ShouldResemble, b)
}

func TestRPCOptionsAndElevation(t *testing.T) {
	md := sceneMetadata()

	opts := rpc.DefaultOptions()
	opts.MaxIterations = 0
	g := rstransform.New(nil)
	g.SetInputImageMetadata(md)
	g.SetInputRPCOptions(opts)
	h := instantiate(t, g)
	_, err := h.TransformPoint(rstransform.Pt(20.5, 10.5))
	test.That(t, errors.Is(err, rpc.ErrNotConverged), test.ShouldBeTrue)
	pts, ok, err := h.TransformPoints([]rstransform.Point{rstransform.Pt(20.5, 10.5)})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ok, test.ShouldResemble, []bool{false})
	test.That(t, pts[0], test.ShouldResemble, rstransform.Pt(20.5, 10.5))

	// A flat DEM at 250 m gives the same ground point as a 250 m input height.
	withDEM := rstransform.New(nil)
	withDEM.SetInputImageMetadata(md)
	withDEM.SetElevationSource(elevation.Constant(250))
	a, err := instantiate(t, withDEM).TransformPoint(rstransform.Pt(30000, 5000))
	test.That(t, err, test.ShouldBeNil)

	plain := rstransform.New(nil)
	plain.SetInputImageMetadata(md)
	b, err := instantiate(t, plain).TransformPoint(rstransform.Pt3(30000, 5000, 250))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, a.X, test.ShouldAlmostEqual, b.X, 1e-9)
	test.That(t, a.Y, test.ShouldAlmostEqual, b.Y, 1e-9)

	c, err := instantiate(t, plain).TransformPoint(rstransform.Pt(30000, 5000))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, math.Abs(c.X-b.X)+math.Abs(c.Y-b.Y), test.ShouldBeGreaterThan, 1e-6)
}

func TestTransformPointsContext(t *testing.T) {
	g := rstransform.New(nil)
	g.SetInputImageMetadata(sceneMetadata())
	h := instantiate(t, g)

	pts := make([]rstransform.Point, 2*rstransform.BlockSize+17)
	for i := range pts {
		pts[i] = rstransform.Pt(float64(i*10), float64(i*11))
	}
	out, ok, err := h.TransformPointsContext(context.Background(), pts, 3)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldHaveLength, len(pts))
	test.That(t, rpc.AllOK(ok), test.ShouldBeTrue)
	for _, i := range []int{0, rstransform.BlockSize, len(pts) - 1} {
		want, err := h.TransformPoint(pts[i])
		test.That(t, err, test.ShouldBeNil)
		test.That(t, out[i], test.ShouldResemble, want)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err = h.TransformPointsContext(ctx, pts, 2)
	test.That(t, errors.Is(err, context.Canceled), test.ShouldBeTrue)

	g.SetInputSpacing([2]float64{1, 1})
	_, _, err = h.TransformPointsContext(context.Background(), pts, 2)
	test.That(t, errors.Is(err, rstransform.ErrNotInstantiated), test.ShouldBeTrue)
}
