package pmtiles

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"io"
	"os"
	"sort"

	"github.com/pkg/errors"
)

// Reader reads tiles from a PMTiles v3 archive. The directory is loaded
// once at open; ReadTile is safe for concurrent use.
type Reader struct {
	ra      io.ReaderAt
	closer  io.Closer
	header  Header
	entries []Entry // tile runs sorted by tile ID, leaves resolved
}

// OpenReader opens the archive at path.
func OpenReader(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s", path)
	}
	r, err := NewReader(f)
	if err != nil {
		f.Close()
		return nil, errors.Wrap(err, path)
	}
	r.closer = f
	return r, nil
}

// NewReader reads the header and directories from ra.
func NewReader(ra io.ReaderAt) (*Reader, error) {
	buf := make([]byte, HeaderSize)
	if _, err := ra.ReadAt(buf, 0); err != nil {
		return nil, errors.Wrap(err, "reading header")
	}
	hdr, err := ParseHeader(buf)
	if err != nil {
		return nil, err
	}

	r := &Reader{ra: ra, header: hdr}
	if err := r.loadDirectory(hdr.RootDirOffset, hdr.RootDirLength, 0); err != nil {
		return nil, err
	}
	sort.Slice(r.entries, func(i, j int) bool { return r.entries[i].TileID < r.entries[j].TileID })
	return r, nil
}

// loadDirectory appends the tile entries of a directory, following leaf
// pointers up to the depth the format allows.
func (r *Reader) loadDirectory(offset, length uint64, depth int) error {
	if depth > 3 {
		return errors.New("leaf directories nested too deeply")
	}
	data := make([]byte, length)
	if _, err := r.ra.ReadAt(data, int64(offset)); err != nil {
		return errors.Wrapf(err, "reading directory at %d", offset)
	}
	entries, err := decodeDirectory(data, r.header.InternalCompression)
	if err != nil {
		return errors.Wrapf(err, "directory at %d", offset)
	}
	for _, e := range entries {
		if e.RunLength > 0 {
			r.entries = append(r.entries, e)
			continue
		}
		if err := r.loadDirectory(r.header.LeafDirOffset+e.Offset, uint64(e.Length), depth+1); err != nil {
			return err
		}
	}
	return nil
}

// Header returns the archive header.
func (r *Reader) Header() Header {
	return r.header
}

// ReadTile returns the stored bytes of tile z/x/y, or nil when the archive
// has no such tile.
func (r *Reader) ReadTile(z, x, y int) ([]byte, error) {
	e, ok := findEntry(r.entries, ZXYToTileID(z, x, y))
	if !ok {
		return nil, nil
	}
	data := make([]byte, e.Length)
	if _, err := r.ra.ReadAt(data, int64(r.header.TileDataOffset+e.Offset)); err != nil {
		return nil, errors.Wrapf(err, "reading tile %d/%d/%d", z, x, y)
	}
	if r.header.TileCompression == CompressionGzip {
		gr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, errors.Wrapf(err, "tile %d/%d/%d", z, x, y)
		}
		defer gr.Close()
		return io.ReadAll(gr)
	}
	return data, nil
}

// TilesAtZoom lists the [z, x, y] of every tile stored at zoom z.
func (r *Reader) TilesAtZoom(z int) [][3]int {
	lo, hi := zoomBase(z), zoomBase(z+1)
	start := sort.Search(len(r.entries), func(i int) bool {
		e := r.entries[i]
		return e.TileID+uint64(e.RunLength) > lo
	})
	var tiles [][3]int
	for _, e := range r.entries[start:] {
		if e.TileID >= hi {
			break
		}
		for id := max(e.TileID, lo); id < e.TileID+uint64(e.RunLength) && id < hi; id++ {
			tz, x, y := TileIDToZXY(id)
			tiles = append(tiles, [3]int{tz, x, y})
		}
	}
	return tiles
}

// NumTiles returns the number of addressed tiles.
func (r *Reader) NumTiles() int {
	n := 0
	for _, e := range r.entries {
		n += int(e.RunLength)
	}
	return n
}

// Metadata decodes the JSON metadata, or returns nil when there is none.
func (r *Reader) Metadata() (map[string]interface{}, error) {
	if r.header.MetadataLength == 0 {
		return nil, nil
	}
	raw := make([]byte, r.header.MetadataLength)
	if _, err := r.ra.ReadAt(raw, int64(r.header.MetadataOffset)); err != nil {
		return nil, errors.Wrap(err, "reading metadata")
	}
	if r.header.InternalCompression == CompressionGzip {
		gr, err := gzip.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, errors.Wrap(err, "decompressing metadata")
		}
		defer gr.Close()
		if raw, err = io.ReadAll(gr); err != nil {
			return nil, errors.Wrap(err, "decompressing metadata")
		}
	}
	var meta map[string]interface{}
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, errors.Wrap(err, "parsing metadata")
	}
	return meta, nil
}

// Close closes the underlying file, if the reader opened one.
func (r *Reader) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}
