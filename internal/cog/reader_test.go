package cog_test

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"go.viam.com/test"

	"github.com/pspoerri/sensorgeo/internal/cog"
	"github.com/pspoerri/sensorgeo/internal/cog/cogtest"
)

// ramp returns v(x, y) = 100 + 10*x - y for a w x h image.
func ramp(w, h int) []float64 {
	data := make([]float64, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			data[y*w+x] = 100 + 10*float64(x) - float64(y)
		}
	}
	return data
}

func writeTIFF(t *testing.T, name string, data []float64, opts cogtest.Options) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	test.That(t, cogtest.WriteFile(path, data, opts), test.ShouldBeNil)
	return path
}

func TestReaderLayouts(t *testing.T) {
	const w, h = 37, 23
	data := ramp(w, h)
	geo := cogtest.Options{
		Width: w, Height: h,
		OriginX: 125.6, OriginY: 39.9, PixelSizeX: 0.01, PixelSizeY: 0.01, EPSG: 4326,
	}

	tests := []struct {
		name   string
		adjust func(o *cogtest.Options)
	}{
		{"float32 single strip", func(o *cogtest.Options) {}},
		{"float32 strips", func(o *cogtest.Options) { o.RowsPerStrip = 5 }},
		{"float32 tiles deflate", func(o *cogtest.Options) {
			o.TileWidth, o.TileHeight, o.Deflate = 16, 16, true
		}},
		{"float32 predictor 3", func(o *cogtest.Options) {
			o.TileWidth, o.TileHeight, o.Deflate, o.Predictor = 16, 16, true, 3
		}},
		{"float32 predictor 3 big endian", func(o *cogtest.Options) {
			o.RowsPerStrip, o.Deflate, o.Predictor, o.BigEndian = 4, true, 3, true
		}},
		{"int16 predictor 2", func(o *cogtest.Options) {
			o.Type, o.TileWidth, o.TileHeight, o.Deflate, o.Predictor = cogtest.Int16, 16, 16, true, 2
		}},
		{"int16 big endian", func(o *cogtest.Options) {
			o.Type, o.BigEndian, o.RowsPerStrip = cogtest.Int16, true, 7
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := geo
			tt.adjust(&opts)
			r, err := cog.Open(writeTIFF(t, "dem.tif", data, opts))
			test.That(t, err, test.ShouldBeNil)
			defer r.Close()

			test.That(t, r.Width(), test.ShouldEqual, w)
			test.That(t, r.Height(), test.ShouldEqual, h)
			test.That(t, r.EPSG(), test.ShouldEqual, 4326)

			for _, p := range [][2]int{{0, 0}, {36, 0}, {0, 22}, {36, 22}, {17, 9}, {16, 16}} {
				v, ok, err := r.Pixel(p[0], p[1])
				test.That(t, err, test.ShouldBeNil)
				test.That(t, ok, test.ShouldBeTrue)
				test.That(t, v, test.ShouldAlmostEqual, data[p[1]*w+p[0]], 1e-4)
			}

			_, ok, err := r.Pixel(w, 0)
			test.That(t, err, test.ShouldBeNil)
			test.That(t, ok, test.ShouldBeFalse)
		})
	}
}

func TestReaderGeoInfo(t *testing.T) {
	r, err := cog.Open(writeTIFF(t, "dem.tif", ramp(10, 20), cogtest.Options{
		Width: 10, Height: 20,
		OriginX: 2600000, OriginY: 1200000, PixelSizeX: 2, PixelSizeY: 2,
		EPSG: 2056, Projected: true,
	}))
	test.That(t, err, test.ShouldBeNil)
	defer r.Close()

	g := r.GeoInfo()
	test.That(t, g.EPSG, test.ShouldEqual, 2056)
	test.That(t, g.ProjectionRef(), test.ShouldEqual, "EPSG:2056")

	minX, minY, maxX, maxY := r.BoundsInCRS()
	test.That(t, minX, test.ShouldEqual, 2600000.0)
	test.That(t, maxX, test.ShouldEqual, 2600020.0)
	test.That(t, minY, test.ShouldEqual, 1199960.0)
	test.That(t, maxY, test.ShouldEqual, 1200000.0)

	// Integer pixel positions address pixel centres.
	px, py := g.CRSToPixel(2600001, 1199999)
	test.That(t, px, test.ShouldAlmostEqual, 0.0)
	test.That(t, py, test.ShouldAlmostEqual, 0.0)
	x, y := g.PixelToCRS(0.5, 0.5)
	test.That(t, x, test.ShouldAlmostEqual, 2600001.0)
	test.That(t, y, test.ShouldAlmostEqual, 1199999.0)
}

func TestReaderNoData(t *testing.T) {
	data := ramp(8, 8)
	data[3*8+4] = -32768
	r, err := cog.Open(writeTIFF(t, "dem.tif", data, cogtest.Options{
		Width: 8, Height: 8, Type: cogtest.Int16, NoData: "-32768",
	}))
	test.That(t, err, test.ShouldBeNil)
	defer r.Close()

	nd, ok := r.NoData()
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, nd, test.ShouldEqual, -32768.0)

	_, ok, err = r.Pixel(4, 3)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ok, test.ShouldBeFalse)

	v, ok, err := r.Pixel(5, 3)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, v, test.ShouldEqual, 147.0)

	test.That(t, r.IsNoData(math.NaN()), test.ShouldBeTrue)
}

func TestReaderRPCTag(t *testing.T) {
	rpc := make([]float64, 92)
	for i := range rpc {
		rpc[i] = float64(i) + 0.5
	}
	r, err := cog.Open(writeTIFF(t, "img.tif", ramp(4, 4), cogtest.Options{Width: 4, Height: 4, RPC: rpc}))
	test.That(t, err, test.ShouldBeNil)
	defer r.Close()

	test.That(t, r.RPCCoefficients(), test.ShouldResemble, rpc)
	test.That(t, r.GeoInfo().HasGeoreference(), test.ShouldBeFalse)
}

func TestReaderWorldFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dem.tif")
	test.That(t, cogtest.WriteFile(path, ramp(10, 10), cogtest.Options{Width: 10, Height: 10}), test.ShouldBeNil)
	tfw := "0.5\n0\n0\n-0.5\n7.25\n46.75\n"
	test.That(t, os.WriteFile(filepath.Join(dir, "dem.tfw"), []byte(tfw), 0o644), test.ShouldBeNil)

	r, err := cog.Open(path)
	test.That(t, err, test.ShouldBeNil)
	defer r.Close()

	g := r.GeoInfo()
	test.That(t, g.EPSG, test.ShouldEqual, 4326)
	test.That(t, g.OriginX, test.ShouldEqual, 7.0)
	test.That(t, g.OriginY, test.ShouldEqual, 47.0)
	test.That(t, g.PixelSizeY, test.ShouldEqual, 0.5)
}

func TestReaderErrors(t *testing.T) {
	_, err := cog.Open(filepath.Join(t.TempDir(), "missing.tif"))
	test.That(t, err, test.ShouldNotBeNil)

	path := filepath.Join(t.TempDir(), "junk.tif")
	test.That(t, os.WriteFile(path, []byte("not a tiff at all"), 0o644), test.ShouldBeNil)
	_, err = cog.Open(path)
	test.That(t, err, test.ShouldNotBeNil)

	r, err := cog.Open(writeTIFF(t, "dem.tif", ramp(4, 4), cogtest.Options{Width: 4, Height: 4}))
	test.That(t, err, test.ShouldBeNil)
	_, _, _, err = r.ReadFloatTile(0, 1, 0)
	test.That(t, err, test.ShouldNotBeNil)
	_, _, _, err = r.ReadFloatTile(3, 0, 0)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, r.Close(), test.ShouldBeNil)
	_, _, _, err = r.ReadFloatTile(0, 0, 0)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestSharedTileCache(t *testing.T) {
	cache := cog.NewTileCache(4)
	defer cache.Stop()

	r, err := cog.Open(writeTIFF(t, "dem.tif", ramp(32, 32), cogtest.Options{
		Width: 32, Height: 32, TileWidth: 16, TileHeight: 16,
	}))
	test.That(t, err, test.ShouldBeNil)
	defer r.Close()
	r.SetTileCache(cache)

	for i := 0; i < 3; i++ {
		_, _, err := r.Pixel(1, 1)
		test.That(t, err, test.ShouldBeNil)
	}
	tile, err := cache.Get(r, 0, 1, 1)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, tile.Width, test.ShouldEqual, 16)
	test.That(t, float64(tile.At(0, 0)), test.ShouldEqual, 100+10*16-16.0)
}
