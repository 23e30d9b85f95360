package rpc

import (
	"bytes"
	"math"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"go.viam.com/test"
)

func TestValidate(t *testing.T) {
	test.That(t, fixtureParam().Validate(), test.ShouldBeNil)

	// All-zero polynomials are allowed.
	p := fixtureParam()
	p.LineNum = [NumCoeffs]float64{}
	test.That(t, p.Validate(), test.ShouldBeNil)

	p = fixtureParam()
	p.LatScale = 0
	err := p.Validate()
	test.That(t, errors.Is(err, ErrInvalidParam), test.ShouldBeTrue)
	test.That(t, err.Error(), test.ShouldContainSubstring, "LAT_SCALE")

	p = fixtureParam()
	p.SampleDen[3] = math.NaN()
	test.That(t, errors.Is(p.Validate(), ErrInvalidParam), test.ShouldBeTrue)
}

func TestTag(t *testing.T) {
	p := fixtureParam()
	p.ErrBias = 3.5

	v := p.Tag()
	test.That(t, len(v), test.ShouldEqual, TagValueCount)
	test.That(t, v[2], test.ShouldEqual, 16201.0)
	test.That(t, v[12+2], test.ShouldEqual, -1.0)

	got, err := FromTag(v)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, got, test.ShouldResemble, p)

	_, err = FromTag(v[:90])
	test.That(t, errors.Is(err, ErrInvalidParam), test.ShouldBeTrue)
}

func TestRPCText(t *testing.T) {
	p := fixtureParam()
	var buf bytes.Buffer
	test.That(t, WriteRPCText(&buf, p), test.ShouldBeNil)
	test.That(t, buf.String(), test.ShouldContainSubstring, "LINE_OFF: 16201 pixels\n")
	test.That(t, buf.String(), test.ShouldContainSubstring, "SAMP_DEN_COEFF_20: 0\n")

	got, err := ParseRPCText(&buf)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, got, test.ShouldResemble, p)
}

func TestRPCTextListForm(t *testing.T) {
	coeffs := func(first string) string {
		return first + strings.Repeat(" 0", NumCoeffs-1)
	}
	text := strings.Join([]string{
		"SATID: TEST",
		"LINE_OFF: 100 pixels",
		"SAMP_OFF: 200 pixels",
		"LAT_OFF: 46.9",
		"LONG_OFF: 7.4",
		"HEIGHT_OFF: 500",
		"LINE_SCALE: 100",
		"SAMP_SCALE: 200",
		"LAT_SCALE: 0.1",
		"LONG_SCALE: 0.1",
		"HEIGHT_SCALE: 500",
		"LINE_NUM_COEFF: " + coeffs("0.5"),
		"LINE_DEN_COEFF: " + coeffs("1"),
		"SAMP_NUM_COEFF: " + coeffs("-0.5"),
		"SAMP_DEN_COEFF: " + coeffs("1"),
	}, "\n")

	p, err := ParseRPCText(strings.NewReader(text))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, p.LatOffset, test.ShouldEqual, 46.9)
	test.That(t, p.LineNum[0], test.ShouldEqual, 0.5)
	test.That(t, p.SampleNum[0], test.ShouldEqual, -0.5)

	sample, line := p.GroundToImage(7.4, 46.9, 500)
	test.That(t, sample, test.ShouldAlmostEqual, 100, 1e-9)
	test.That(t, line, test.ShouldAlmostEqual, 150, 1e-9)
}

func TestRPCTextErrors(t *testing.T) {
	for _, tc := range []struct {
		name string
		text string
	}{
		{"missing scalar", "LINE_OFF: 1\n"},
		{"bad number", "LINE_OFF: abc\n"},
		{"no colon", "LINE_OFF 1\n"},
		{"coefficient out of range", "LINE_NUM_COEFF_21: 1\n"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseRPCText(strings.NewReader(tc.text))
			test.That(t, errors.Is(err, ErrInvalidParam), test.ShouldBeTrue)
		})
	}
}

func TestParseRPB(t *testing.T) {
	list := func(first string) string {
		vals := []string{first}
		for i := 1; i < NumCoeffs; i++ {
			vals = append(vals, "+0.000000000000000e+00")
		}
		return "(\n\t\t\t" + strings.Join(vals, ",\n\t\t\t") + ")"
	}
	rpb := `satId = "QB02";
bandId = "P";
SpecId = "RPC00B";
BEGIN_GROUP = IMAGE
	errBias =   1.0;
	errRand =   0.5;
	lineOffset = 16201;
	sampOffset = 15184;
	latOffset =  +39.7792;
	longOffset = +125.7510;
	heightOffset = +500;
	lineScale = 16480;
	sampScale = 15217;
	latScale =  +0.0931038;
	longScale = +0.1014256;
	heightScale = +500;
	lineNumCoef = ` + list("+2.0e-03") + `;
	lineDenCoef = ` + list("+1.0e+00") + `;
	sampNumCoef = ` + list("-1.0e-03") + `;
	sampDenCoef = ` + list("+1.0e+00") + `;
END_GROUP = IMAGE
END;
`
	p, err := ParseRPB(strings.NewReader(rpb))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, p.ErrBias, test.ShouldEqual, 1.0)
	test.That(t, p.LineOffset, test.ShouldEqual, 16201.0)
	test.That(t, p.LonOffset, test.ShouldEqual, 125.7510)
	test.That(t, p.HeightScale, test.ShouldEqual, 500.0)
	test.That(t, p.LineNum[0], test.ShouldEqual, 0.002)
	test.That(t, p.SampleNum[0], test.ShouldEqual, -0.001)
	test.That(t, p.Validate(), test.ShouldBeNil)

	_, err = ParseRPB(strings.NewReader("lineOffset = 1;\n"))
	test.That(t, errors.Is(err, ErrInvalidParam), test.ShouldBeTrue)
}

func TestParseOptions(t *testing.T) {
	opts, err := ParseOptions(map[string]string{
		OptHeight:              "120.5",
		OptHeightScale:         "2",
		OptDEMInterpolation:    "cubic",
		OptDEMMissingValue:     "-10",
		OptPixelErrorThreshold: "0.01",
		OptMaxIterations:       "15",
		OptFootprint:           "POLYGON((0 0, 1 0, 1 1, 0 1, 0 0))",
	})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, opts.HeightOffset, test.ShouldEqual, 120.5)
	test.That(t, opts.HeightScale, test.ShouldEqual, 2.0)
	test.That(t, opts.HasDEMMissingValue, test.ShouldBeTrue)
	test.That(t, opts.DEMMissingValue, test.ShouldEqual, -10.0)
	test.That(t, opts.PixelErrorThreshold, test.ShouldEqual, 0.01)
	test.That(t, opts.maxIterations(), test.ShouldEqual, 15)
	test.That(t, opts.HasDEM(), test.ShouldBeFalse)

	defaults := DefaultOptions()
	test.That(t, defaults.maxIterations(), test.ShouldEqual, DefaultMaxIterations)
	defaults.DEMPath = "/data/dem.tif"
	test.That(t, defaults.maxIterations(), test.ShouldEqual, DefaultMaxIterationsDEM)

	for _, kv := range []map[string]string{
		{OptHeight: "high"},
		{OptMaxIterations: "1.5"},
		{OptDEMInterpolation: "lanczos"},
		{OptFootprint: "LINESTRING(0 0, 1 1)"},
		{"RPC_UNKNOWN": "1"},
	} {
		_, err := ParseOptions(kv)
		test.That(t, err, test.ShouldNotBeNil)
	}
}
