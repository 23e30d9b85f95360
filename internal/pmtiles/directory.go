package pmtiles

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"io"
	"sort"

	"github.com/pkg/errors"
)

// Entry is a directory entry. RunLength 0 marks a pointer to a leaf
// directory; otherwise the entry covers RunLength consecutive tile IDs that
// share the same data.
type Entry struct {
	TileID    uint64
	Offset    uint64
	Length    uint32
	RunLength uint32
}

// Directory size limits before entries spill into leaf directories.
var (
	maxRootEntries = 16384
	leafSize       = 4096
)

// buildDirectories sorts entries and encodes the root directory, plus leaf
// directories when the root would grow too large.
func buildDirectories(entries []Entry) (root, leaves []byte, err error) {
	sort.Slice(entries, func(i, j int) bool { return entries[i].TileID < entries[j].TileID })
	runs := mergeRuns(entries)

	if len(runs) <= maxRootEntries {
		root, err = encodeDirectory(runs)
		return root, nil, err
	}

	var leafBuf bytes.Buffer
	var pointers []Entry
	for start := 0; start < len(runs); start += leafSize {
		chunk := runs[start:min(start+leafSize, len(runs))]
		data, err := encodeDirectory(chunk)
		if err != nil {
			return nil, nil, err
		}
		pointers = append(pointers, Entry{
			TileID: chunk[0].TileID,
			Offset: uint64(leafBuf.Len()),
			Length: uint32(len(data)),
		})
		leafBuf.Write(data)
	}
	root, err = encodeDirectory(pointers)
	return root, leafBuf.Bytes(), err
}

// mergeRuns folds consecutive tile IDs that point at identical data into
// one run. entries must be sorted.
func mergeRuns(entries []Entry) []Entry {
	var out []Entry
	for _, e := range entries {
		if e.RunLength == 0 {
			e.RunLength = 1
		}
		if n := len(out); n > 0 {
			last := &out[n-1]
			if e.TileID == last.TileID+uint64(last.RunLength) &&
				e.Offset == last.Offset && e.Length == last.Length {
				last.RunLength += e.RunLength
				continue
			}
		}
		out = append(out, e)
	}
	return out
}

// encodeDirectory writes the columnar varint layout of the v3 format and
// gzips it.
func encodeDirectory(entries []Entry) ([]byte, error) {
	var raw bytes.Buffer
	tmp := make([]byte, binary.MaxVarintLen64)
	put := func(v uint64) {
		raw.Write(tmp[:binary.PutUvarint(tmp, v)])
	}

	put(uint64(len(entries)))
	var lastID uint64
	for _, e := range entries {
		put(e.TileID - lastID)
		lastID = e.TileID
	}
	for _, e := range entries {
		put(uint64(e.RunLength))
	}
	for _, e := range entries {
		put(uint64(e.Length))
	}
	for i, e := range entries {
		// 0 means "directly after the previous entry"; others are offset+1.
		if i > 0 && e.Offset == entries[i-1].Offset+uint64(entries[i-1].Length) {
			put(0)
		} else {
			put(e.Offset + 1)
		}
	}

	var out bytes.Buffer
	gw, err := gzip.NewWriterLevel(&out, gzip.BestCompression)
	if err != nil {
		return nil, err
	}
	if _, err := gw.Write(raw.Bytes()); err != nil {
		return nil, errors.Wrap(err, "compressing directory")
	}
	if err := gw.Close(); err != nil {
		return nil, errors.Wrap(err, "compressing directory")
	}
	return out.Bytes(), nil
}

// decodeDirectory parses a directory compressed with the given internal
// compression.
func decodeDirectory(data []byte, compression uint8) ([]Entry, error) {
	raw := data
	switch compression {
	case CompressionNone:
	case CompressionGzip, CompressionUnknown:
		gr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, errors.Wrap(err, "opening directory")
		}
		defer gr.Close()
		if raw, err = io.ReadAll(gr); err != nil {
			return nil, errors.Wrap(err, "decompressing directory")
		}
	default:
		return nil, errors.Errorf("unsupported directory compression %d", compression)
	}

	r := bytes.NewReader(raw)
	var readErr error
	next := func() uint64 {
		if readErr != nil {
			return 0
		}
		v, err := binary.ReadUvarint(r)
		if err != nil {
			readErr = errors.Wrap(err, "truncated directory")
		}
		return v
	}

	n := next()
	if readErr != nil {
		return nil, readErr
	}
	if n > uint64(len(raw)) {
		return nil, errors.Errorf("directory claims %d entries in %d bytes", n, len(raw))
	}
	entries := make([]Entry, n)
	var id uint64
	for i := range entries {
		id += next()
		entries[i].TileID = id
	}
	for i := range entries {
		entries[i].RunLength = uint32(next())
	}
	for i := range entries {
		entries[i].Length = uint32(next())
	}
	for i := range entries {
		v := next()
		if v == 0 && i > 0 {
			entries[i].Offset = entries[i-1].Offset + uint64(entries[i-1].Length)
		} else {
			entries[i].Offset = v - 1
		}
	}
	if readErr != nil {
		return nil, readErr
	}
	return entries, nil
}

// findEntry returns the entry covering id in a sorted directory.
func findEntry(entries []Entry, id uint64) (Entry, bool) {
	i := sort.Search(len(entries), func(i int) bool { return entries[i].TileID > id }) - 1
	if i < 0 {
		return Entry{}, false
	}
	e := entries[i]
	if e.RunLength == 0 || id < e.TileID+uint64(e.RunLength) {
		return e, true
	}
	return Entry{}, false
}
