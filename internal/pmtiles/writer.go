package pmtiles

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"hash/fnv"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"

	"github.com/pkg/errors"
)

// WriterOptions configures a Writer.
type WriterOptions struct {
	MinZoom  int
	MaxZoom  int
	Bounds   Bounds
	TileType uint8
	TileSize int

	Name        string
	Description string
	Attribution string
	// Encoding names the raster encoding in the metadata, e.g. "terrarium".
	Encoding string
	// TempDir holds the tile spool file; defaults to the output directory.
	TempDir string
}

type spooled struct {
	offset uint64
	length uint32
}

// Writer spools tiles to a temporary file and assembles the archive in
// Finalize. Identical tiles are stored once. Safe for concurrent WriteTile
// calls.
type Writer struct {
	path string
	opts WriterOptions

	mu        sync.Mutex
	spool     *os.File
	size      uint64
	entries   []Entry
	byHash    map[uint64][]spooled
	contents  int
	finalized bool
}

// NewWriter creates a writer for the archive at path.
func NewWriter(path string, opts WriterOptions) (*Writer, error) {
	dir := opts.TempDir
	if dir == "" {
		dir = filepath.Dir(path)
	}
	spool, err := os.CreateTemp(dir, "pmtiles-spool-*.tmp")
	if err != nil {
		return nil, errors.Wrap(err, "creating spool file")
	}
	return &Writer{
		path:   path,
		opts:   opts,
		spool:  spool,
		byHash: make(map[uint64][]spooled),
	}, nil
}

// WriteTile adds a tile. Empty tiles are skipped.
func (w *Writer) WriteTile(z, x, y int, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	h := fnv.New64a()
	h.Write(data)
	sum := h.Sum64()
	id := ZXYToTileID(z, x, y)

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.finalized {
		return errors.New("writer is finalized")
	}

	for _, s := range w.byHash[sum] {
		if s.length != uint32(len(data)) {
			continue
		}
		same, err := w.spoolEquals(s, data)
		if err != nil {
			return err
		}
		if same {
			w.entries = append(w.entries, Entry{TileID: id, Offset: s.offset, Length: s.length, RunLength: 1})
			return nil
		}
	}

	if _, err := w.spool.WriteAt(data, int64(w.size)); err != nil {
		return errors.Wrapf(err, "spooling tile %d/%d/%d", z, x, y)
	}
	s := spooled{offset: w.size, length: uint32(len(data))}
	w.size += uint64(len(data))
	w.byHash[sum] = append(w.byHash[sum], s)
	w.entries = append(w.entries, Entry{TileID: id, Offset: s.offset, Length: s.length, RunLength: 1})
	w.contents++
	return nil
}

func (w *Writer) spoolEquals(s spooled, data []byte) (bool, error) {
	buf := make([]byte, s.length)
	if _, err := w.spool.ReadAt(buf, int64(s.offset)); err != nil {
		return false, errors.Wrap(err, "reading spool")
	}
	return bytes.Equal(buf, data), nil
}

// Finalize writes the archive:
//
//	[header][root directory][metadata][leaf directories][tile data]
//
// Tile data is rewritten in tile ID order so the archive is clustered.
func (w *Writer) Finalize() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.finalized {
		return errors.New("writer is finalized")
	}
	w.finalized = true
	defer w.removeSpool()

	sort.Slice(w.entries, func(i, j int) bool { return w.entries[i].TileID < w.entries[j].TileID })
	tileData, err := w.cluster()
	if err != nil {
		return err
	}

	root, leaves, err := buildDirectories(w.entries)
	if err != nil {
		return errors.Wrap(err, "building directories")
	}
	meta, err := gzipBytes(w.metadata())
	if err != nil {
		return errors.Wrap(err, "compressing metadata")
	}

	hdr := newHeader(w.opts)
	hdr.RootDirOffset = HeaderSize
	hdr.RootDirLength = uint64(len(root))
	hdr.MetadataOffset = hdr.RootDirOffset + hdr.RootDirLength
	hdr.MetadataLength = uint64(len(meta))
	hdr.LeafDirOffset = hdr.MetadataOffset + hdr.MetadataLength
	hdr.LeafDirLength = uint64(len(leaves))
	hdr.TileDataOffset = hdr.LeafDirOffset + hdr.LeafDirLength
	hdr.TileDataLength = w.size
	hdr.NumAddressedTiles = uint64(len(w.entries))
	hdr.NumTileEntries = uint64(len(mergeRuns(w.entries)))
	hdr.NumTileContents = uint64(w.contents)

	out, err := os.Create(w.path)
	if err != nil {
		return errors.Wrap(err, "creating archive")
	}
	for _, part := range [][]byte{hdr.Bytes(), root, meta, leaves} {
		if _, err := out.Write(part); err != nil {
			out.Close()
			return errors.Wrap(err, "writing archive")
		}
	}
	if _, err := io.Copy(out, io.NewSectionReader(tileData, 0, int64(w.size))); err != nil {
		out.Close()
		return errors.Wrap(err, "writing tile data")
	}
	return errors.Wrap(out.Close(), "closing archive")
}

// cluster copies the spooled tiles in entry order into a new spool file and
// rewrites the entry offsets. Shared tiles are copied once.
func (w *Writer) cluster() (*os.File, error) {
	dst, err := os.CreateTemp(filepath.Dir(w.spool.Name()), "pmtiles-clustered-*.tmp")
	if err != nil {
		return nil, errors.Wrap(err, "creating spool file")
	}
	moved := make(map[uint64]uint64)
	var size uint64
	var buf []byte
	for i := range w.entries {
		e := &w.entries[i]
		if off, ok := moved[e.Offset]; ok {
			e.Offset = off
			continue
		}
		if cap(buf) < int(e.Length) {
			buf = make([]byte, e.Length)
		}
		buf = buf[:e.Length]
		if _, err := w.spool.ReadAt(buf, int64(e.Offset)); err != nil {
			dst.Close()
			os.Remove(dst.Name())
			return nil, errors.Wrap(err, "reading spool")
		}
		if _, err := dst.Write(buf); err != nil {
			dst.Close()
			os.Remove(dst.Name())
			return nil, errors.Wrap(err, "writing clustered spool")
		}
		moved[e.Offset] = size
		e.Offset = size
		size += uint64(e.Length)
	}

	w.removeSpool()
	w.spool = dst
	w.size = size
	return dst, nil
}

// Abort discards the spooled tiles without writing the archive.
func (w *Writer) Abort() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.finalized = true
	w.removeSpool()
}

func (w *Writer) removeSpool() {
	if w.spool == nil {
		return
	}
	name := w.spool.Name()
	w.spool.Close()
	os.Remove(name)
	w.spool = nil
}

// metadata builds the JSON metadata block.
func (w *Writer) metadata() []byte {
	format := "unknown"
	switch w.opts.TileType {
	case TileTypePNG:
		format = "png"
	case TileTypeWebP:
		format = "webp"
	}
	name := w.opts.Name
	if name == "" {
		name = "sensorgeo"
	}
	b := w.opts.Bounds
	lon, lat := b.Center()
	meta := map[string]string{
		"name":    name,
		"format":  format,
		"type":    "baselayer",
		"minzoom": strconv.Itoa(w.opts.MinZoom),
		"maxzoom": strconv.Itoa(w.opts.MaxZoom),
		"bounds": strconv.FormatFloat(b.MinLon, 'f', 6, 64) + "," +
			strconv.FormatFloat(b.MinLat, 'f', 6, 64) + "," +
			strconv.FormatFloat(b.MaxLon, 'f', 6, 64) + "," +
			strconv.FormatFloat(b.MaxLat, 'f', 6, 64),
		"center": strconv.FormatFloat(lon, 'f', 6, 64) + "," +
			strconv.FormatFloat(lat, 'f', 6, 64) + "," +
			strconv.Itoa((w.opts.MinZoom+w.opts.MaxZoom)/2),
	}
	if w.opts.Description != "" {
		meta["description"] = w.opts.Description
	}
	if w.opts.Attribution != "" {
		meta["attribution"] = w.opts.Attribution
	}
	if w.opts.Encoding != "" {
		meta["encoding"] = w.opts.Encoding
	}
	if w.opts.TileSize > 0 {
		meta["tileSize"] = strconv.Itoa(w.opts.TileSize)
	}
	data, _ := json.Marshal(meta)
	return data
}

func gzipBytes(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	gw, err := gzip.NewWriterLevel(&buf, gzip.BestCompression)
	if err != nil {
		return nil, err
	}
	if _, err := gw.Write(data); err != nil {
		return nil, err
	}
	if err := gw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
