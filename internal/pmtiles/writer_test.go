package pmtiles

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"go.viam.com/test"
)

func writeArchive(t *testing.T, tiles map[[3]int][]byte, opts WriterOptions) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dem.pmtiles")
	w, err := NewWriter(path, opts)
	test.That(t, err, test.ShouldBeNil)
	for k, data := range tiles {
		test.That(t, w.WriteTile(k[0], k[1], k[2], data), test.ShouldBeNil)
	}
	test.That(t, w.Finalize(), test.ShouldBeNil)
	return path
}

func TestWriterReaderRoundTrip(t *testing.T) {
	tiles := map[[3]int][]byte{
		{0, 0, 0}: []byte("zoom zero"),
		{1, 0, 0}: []byte("shared"),
		{1, 0, 1}: []byte("shared"),
		{1, 1, 1}: []byte("shared"),
		{1, 1, 0}: []byte("east"),
		{2, 2, 1}: []byte("deep"),
	}
	path := writeArchive(t, tiles, WriterOptions{
		MinZoom: 0, MaxZoom: 2, TileType: TileTypePNG, TileSize: 256,
		Bounds:   Bounds{MinLon: -10, MinLat: -10, MaxLon: 10, MaxLat: 10},
		Encoding: "terrarium",
	})

	r, err := OpenReader(path)
	test.That(t, err, test.ShouldBeNil)
	defer r.Close()

	h := r.Header()
	test.That(t, h.TileType, test.ShouldEqual, uint8(TileTypePNG))
	test.That(t, h.NumAddressedTiles, test.ShouldEqual, uint64(6))
	test.That(t, h.NumTileContents, test.ShouldEqual, uint64(4))
	// The three shared tiles have consecutive IDs 1..3 and form one run.
	test.That(t, h.NumTileEntries, test.ShouldEqual, uint64(4))
	test.That(t, r.NumTiles(), test.ShouldEqual, 6)

	for k, want := range tiles {
		got, err := r.ReadTile(k[0], k[1], k[2])
		test.That(t, err, test.ShouldBeNil)
		test.That(t, string(got), test.ShouldEqual, string(want))
	}
	missing, err := r.ReadTile(2, 0, 0)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, missing, test.ShouldBeNil)

	test.That(t, r.TilesAtZoom(1), test.ShouldHaveLength, 4)
	test.That(t, r.TilesAtZoom(2), test.ShouldResemble, [][3]int{{2, 2, 1}})
	test.That(t, r.TilesAtZoom(3), test.ShouldHaveLength, 0)

	meta, err := r.Metadata()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, meta["encoding"], test.ShouldEqual, "terrarium")
	test.That(t, meta["format"], test.ShouldEqual, "png")
	test.That(t, meta["maxzoom"], test.ShouldEqual, "2")
}

func TestWriterLeafDirectories(t *testing.T) {
	oldRoot, oldLeaf := maxRootEntries, leafSize
	maxRootEntries, leafSize = 8, 5
	defer func() { maxRootEntries, leafSize = oldRoot, oldLeaf }()

	tiles := map[[3]int][]byte{}
	for x := 0; x < 8; x++ {
		for y := 0; y < 8; y++ {
			tiles[[3]int{3, x, y}] = []byte("tile " + strconv.Itoa(x) + "/" + strconv.Itoa(y))
		}
	}
	path := writeArchive(t, tiles, WriterOptions{MinZoom: 3, MaxZoom: 3, TileType: TileTypeWebP})

	r, err := OpenReader(path)
	test.That(t, err, test.ShouldBeNil)
	defer r.Close()
	test.That(t, r.Header().LeafDirLength, test.ShouldBeGreaterThan, uint64(0))
	test.That(t, r.NumTiles(), test.ShouldEqual, 64)

	for k, want := range tiles {
		got, err := r.ReadTile(k[0], k[1], k[2])
		test.That(t, err, test.ShouldBeNil)
		test.That(t, string(got), test.ShouldEqual, string(want))
	}
}

func TestWriterLifecycle(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(filepath.Join(dir, "a.pmtiles"), WriterOptions{TileType: TileTypePNG})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, w.WriteTile(0, 0, 0, nil), test.ShouldBeNil)
	test.That(t, w.Finalize(), test.ShouldBeNil)
	test.That(t, w.Finalize(), test.ShouldNotBeNil)
	test.That(t, w.WriteTile(0, 0, 0, []byte("late")), test.ShouldNotBeNil)

	w, err = NewWriter(filepath.Join(dir, "b.pmtiles"), WriterOptions{TempDir: dir})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, w.WriteTile(0, 0, 0, []byte("x")), test.ShouldBeNil)
	w.Abort()

	// Only the finalized archive remains; spool files are gone.
	names, err := os.ReadDir(dir)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, names, test.ShouldHaveLength, 1)
	test.That(t, names[0].Name(), test.ShouldEqual, "a.pmtiles")

	_, err = OpenReader(filepath.Join(dir, "b.pmtiles"))
	test.That(t, err, test.ShouldNotBeNil)
}
