package pmtiles

import (
	"testing"

	"go.viam.com/test"
)

func TestTileIDs(t *testing.T) {
	test.That(t, ZXYToTileID(0, 0, 0), test.ShouldEqual, uint64(0))

	// Zoom 1 follows the Hilbert curve: (0,0) (0,1) (1,1) (1,0).
	test.That(t, ZXYToTileID(1, 0, 0), test.ShouldEqual, uint64(1))
	test.That(t, ZXYToTileID(1, 0, 1), test.ShouldEqual, uint64(2))
	test.That(t, ZXYToTileID(1, 1, 1), test.ShouldEqual, uint64(3))
	test.That(t, ZXYToTileID(1, 1, 0), test.ShouldEqual, uint64(4))
	test.That(t, ZXYToTileID(2, 0, 0), test.ShouldEqual, uint64(5))

	for z := 0; z <= 6; z++ {
		seen := map[uint64]bool{}
		n := 1 << z
		for x := 0; x < n; x++ {
			for y := 0; y < n; y++ {
				id := ZXYToTileID(z, x, y)
				test.That(t, seen[id], test.ShouldBeFalse)
				seen[id] = true
				test.That(t, id, test.ShouldBeGreaterThanOrEqualTo, zoomBase(z))
				test.That(t, id, test.ShouldBeLessThan, zoomBase(z+1))

				gz, gx, gy := TileIDToZXY(id)
				test.That(t, [3]int{gz, gx, gy}, test.ShouldResemble, [3]int{z, x, y})
			}
		}
	}

	z, x, y := TileIDToZXY(ZXYToTileID(18, 215123, 99871))
	test.That(t, [3]int{z, x, y}, test.ShouldResemble, [3]int{18, 215123, 99871})
}

func TestMergeRuns(t *testing.T) {
	test.That(t, mergeRuns(nil), test.ShouldHaveLength, 0)

	// Consecutive IDs sharing data collapse; distinct data or gaps do not.
	got := mergeRuns([]Entry{
		{TileID: 10, Offset: 0, Length: 50},
		{TileID: 11, Offset: 0, Length: 50},
		{TileID: 12, Offset: 0, Length: 50},
		{TileID: 13, Offset: 50, Length: 50},
		{TileID: 15, Offset: 50, Length: 50},
	})
	test.That(t, got, test.ShouldResemble, []Entry{
		{TileID: 10, Offset: 0, Length: 50, RunLength: 3},
		{TileID: 13, Offset: 50, Length: 50, RunLength: 1},
		{TileID: 15, Offset: 50, Length: 50, RunLength: 1},
	})
}

func TestDirectoryEncoding(t *testing.T) {
	entries := []Entry{
		{TileID: 0, Offset: 0, Length: 100, RunLength: 1},
		{TileID: 1, Offset: 100, Length: 80, RunLength: 4},
		{TileID: 9, Offset: 20, Length: 80, RunLength: 1},
		{TileID: 4000, Offset: 180, Length: 7, RunLength: 1},
	}
	data, err := encodeDirectory(entries)
	test.That(t, err, test.ShouldBeNil)

	got, err := decodeDirectory(data, CompressionGzip)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, got, test.ShouldResemble, entries)

	e, ok := findEntry(got, 3)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, e.TileID, test.ShouldEqual, uint64(1))
	_, ok = findEntry(got, 5)
	test.That(t, ok, test.ShouldBeFalse)
	_, ok = findEntry(got, 4001)
	test.That(t, ok, test.ShouldBeFalse)

	_, err = decodeDirectory(data[:len(data)/2], CompressionGzip)
	test.That(t, err, test.ShouldNotBeNil)
	_, err = decodeDirectory(data, CompressionZstd)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestHeaderRoundTrip(t *testing.T) {
	h := newHeader(WriterOptions{
		MinZoom: 3, MaxZoom: 15, TileType: TileTypeWebP,
		Bounds: Bounds{MinLon: 6.0, MinLat: 46.0, MaxLon: 10.5, MaxLat: 48.25},
	})
	h.RootDirOffset = HeaderSize
	h.RootDirLength = 42
	h.NumAddressedTiles = 7

	buf := h.Bytes()
	test.That(t, buf, test.ShouldHaveLength, HeaderSize)
	test.That(t, string(buf[0:7]), test.ShouldEqual, "PMTiles")
	test.That(t, buf[7], test.ShouldEqual, uint8(3))

	got, err := ParseHeader(buf)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, got.TileType, test.ShouldEqual, uint8(TileTypeWebP))
	test.That(t, got.MinZoom, test.ShouldEqual, uint8(3))
	test.That(t, got.MaxZoom, test.ShouldEqual, uint8(15))
	test.That(t, got.CenterZoom, test.ShouldEqual, uint8(9))
	test.That(t, got.RootDirLength, test.ShouldEqual, uint64(42))
	test.That(t, got.NumAddressedTiles, test.ShouldEqual, uint64(7))
	test.That(t, got.Clustered, test.ShouldBeTrue)
	test.That(t, got.Bounds.MinLon, test.ShouldAlmostEqual, 6.0, 1e-7)
	test.That(t, got.Bounds.MaxLat, test.ShouldAlmostEqual, 48.25, 1e-7)
	test.That(t, got.CenterLon, test.ShouldAlmostEqual, 8.25, 1e-7)

	// Negative coordinates survive the E7 encoding.
	h.Bounds.MinLon = -122.4194
	got, err = ParseHeader(h.Bytes())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, got.Bounds.MinLon, test.ShouldAlmostEqual, -122.4194, 1e-7)

	_, err = ParseHeader(buf[:10])
	test.That(t, err, test.ShouldNotBeNil)
	bad := append([]byte(nil), buf...)
	bad[7] = 2
	_, err = ParseHeader(bad)
	test.That(t, err, test.ShouldNotBeNil)
}
