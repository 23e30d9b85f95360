// Package cogtest writes small single-band GeoTIFFs for tests.
package cogtest

import (
	"bytes"
	"encoding/binary"
	"io"
	"math"
	"os"
	"sort"

	"github.com/klauspost/compress/zlib"
	"github.com/pkg/errors"
)

// SampleType selects the stored sample type.
type SampleType int

// Sample types.
const (
	Float32 SampleType = iota
	Int16
)

// Options describes the image to write. Zero tile sizes write strips.
type Options struct {
	Width, Height         int
	TileWidth, TileHeight int
	RowsPerStrip          int
	Type                  SampleType
	Deflate               bool
	Predictor             int // 1 (none), 2 for Int16, 3 for Float32
	BigEndian             bool

	// Georeferencing. OriginX/OriginY is the outer upper-left corner.
	OriginX, OriginY       float64
	PixelSizeX, PixelSizeY float64
	EPSG                   int
	Projected              bool

	NoData string
	RPC    []float64
}

// WriteFile encodes data (row-major, Width*Height values) to path.
func WriteFile(path string, data []float64, opts Options) error {
	var buf bytes.Buffer
	if err := Encode(&buf, data, opts); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}

type entry struct {
	tag   uint16
	typ   uint16
	count uint32
	value []byte
}

// Encode writes a classic TIFF with one IFD.
func Encode(w io.Writer, data []float64, opts Options) error {
	if opts.Width <= 0 || opts.Height <= 0 {
		return errors.New("cogtest: image has no size")
	}
	if len(data) != opts.Width*opts.Height {
		return errors.Errorf("cogtest: %d values for %dx%d", len(data), opts.Width, opts.Height)
	}
	var bo binary.ByteOrder = binary.LittleEndian
	magic := []byte("II")
	if opts.BigEndian {
		bo = binary.BigEndian
		magic = []byte("MM")
	}
	if opts.Predictor == 0 {
		opts.Predictor = 1
	}

	tiled := opts.TileWidth > 0 && opts.TileHeight > 0
	cw, ch := opts.TileWidth, opts.TileHeight
	if !tiled {
		cw = opts.Width
		ch = opts.RowsPerStrip
		if ch <= 0 || ch > opts.Height {
			ch = opts.Height
		}
	}
	across := (opts.Width + cw - 1) / cw
	down := (opts.Height + ch - 1) / ch

	var out bytes.Buffer
	out.Write(magic)
	header := make([]byte, 6)
	bo.PutUint16(header, 42)
	out.Write(header) // IFD offset patched below

	var offsets, counts []uint32
	for row := 0; row < down; row++ {
		for col := 0; col < across; col++ {
			rows := ch
			if !tiled && (row+1)*ch > opts.Height {
				rows = opts.Height - row*ch
			}
			chunk, err := encodeChunk(data, opts, bo, col*cw, row*ch, cw, rows)
			if err != nil {
				return err
			}
			offsets = append(offsets, uint32(out.Len()))
			counts = append(counts, uint32(len(chunk)))
			out.Write(chunk)
			if out.Len()%2 == 1 {
				out.WriteByte(0)
			}
		}
	}

	bps, format := uint16(32), uint16(3)
	if opts.Type == Int16 {
		bps, format = 16, 2
	}

	entries := []entry{
		shorts(bo, 256, uint16(opts.Width)),
		shorts(bo, 257, uint16(opts.Height)),
		shorts(bo, 258, bps),
		shorts(bo, 259, compressionCode(opts)),
		shorts(bo, 262, 1),
		shorts(bo, 277, 1),
		shorts(bo, 284, 1),
		shorts(bo, 339, format),
	}
	if opts.Predictor != 1 {
		entries = append(entries, shorts(bo, 317, uint16(opts.Predictor)))
	}
	if tiled {
		entries = append(entries,
			shorts(bo, 322, uint16(cw)),
			shorts(bo, 323, uint16(ch)),
			longs(bo, 324, offsets...),
			longs(bo, 325, counts...))
	} else {
		entries = append(entries,
			longs(bo, 273, offsets...),
			longs(bo, 278, uint32(ch)),
			longs(bo, 279, counts...))
	}
	if opts.PixelSizeX != 0 {
		entries = append(entries,
			doubles(bo, 33550, opts.PixelSizeX, opts.PixelSizeY, 0),
			doubles(bo, 33922, 0, 0, 0, opts.OriginX, opts.OriginY, 0))
	}
	if opts.EPSG != 0 {
		modelType, crsKey := uint16(2), uint16(2048)
		if opts.Projected {
			modelType, crsKey = 1, 3072
		}
		entries = append(entries, shorts(bo, 34735,
			1, 1, 0, 3,
			1024, 0, 1, modelType,
			1025, 0, 1, 1,
			crsKey, 0, 1, uint16(opts.EPSG)))
	}
	if opts.NoData != "" {
		entries = append(entries, entry{tag: 42113, typ: 2, count: uint32(len(opts.NoData) + 1),
			value: append([]byte(opts.NoData), 0)})
	}
	if len(opts.RPC) > 0 {
		entries = append(entries, doubles(bo, 50844, opts.RPC...))
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].tag < entries[j].tag })

	ifdOffset := uint32(out.Len())
	blobOffset := ifdOffset + 2 + 12*uint32(len(entries)) + 4
	var ifd, blobs bytes.Buffer
	b2 := make([]byte, 2)
	b4 := make([]byte, 4)
	bo.PutUint16(b2, uint16(len(entries)))
	ifd.Write(b2)
	for _, e := range entries {
		bo.PutUint16(b2, e.tag)
		ifd.Write(b2)
		bo.PutUint16(b2, e.typ)
		ifd.Write(b2)
		bo.PutUint32(b4, e.count)
		ifd.Write(b4)
		if len(e.value) <= 4 {
			inline := make([]byte, 4)
			copy(inline, e.value)
			ifd.Write(inline)
			continue
		}
		bo.PutUint32(b4, blobOffset+uint32(blobs.Len()))
		ifd.Write(b4)
		blobs.Write(e.value)
		if blobs.Len()%2 == 1 {
			blobs.WriteByte(0)
		}
	}
	ifd.Write([]byte{0, 0, 0, 0})

	res := out.Bytes()
	bo.PutUint32(res[4:8], ifdOffset)
	for _, part := range [][]byte{res, ifd.Bytes(), blobs.Bytes()} {
		if _, err := w.Write(part); err != nil {
			return errors.Wrap(err, "cogtest: writing")
		}
	}
	return nil
}

func compressionCode(opts Options) uint16 {
	if opts.Deflate {
		return 8
	}
	return 1
}

// encodeChunk encodes a w x h block at (x0, y0), padding outside the image
// with zeros.
func encodeChunk(data []float64, opts Options, bo binary.ByteOrder, x0, y0, w, h int) ([]byte, error) {
	bps := 4
	if opts.Type == Int16 {
		bps = 2
	}
	rowBytes := w * bps
	raw := make([]byte, rowBytes*h)

	for y := 0; y < h; y++ {
		line := raw[y*rowBytes : (y+1)*rowBytes]
		vals := make([]float64, w)
		for x := 0; x < w; x++ {
			if x0+x < opts.Width && y0+y < opts.Height {
				vals[x] = data[(y0+y)*opts.Width+x0+x]
			}
		}

		switch {
		case opts.Type == Int16:
			for x := w - 1; x >= 0; x-- {
				v := uint16(int16(vals[x]))
				if opts.Predictor == 2 && x > 0 {
					v -= uint16(int16(vals[x-1]))
				}
				bo.PutUint16(line[x*2:], v)
			}
		case opts.Predictor == 3:
			// Byte planes, most significant first, then byte differencing.
			for x := 0; x < w; x++ {
				bits := math.Float32bits(float32(vals[x]))
				for b := 0; b < 4; b++ {
					line[b*w+x] = byte(bits >> (24 - 8*b))
				}
			}
			for i := rowBytes - 1; i > 0; i-- {
				line[i] -= line[i-1]
			}
		default:
			for x := 0; x < w; x++ {
				bo.PutUint32(line[x*4:], math.Float32bits(float32(vals[x])))
			}
		}
	}

	if !opts.Deflate {
		return raw, nil
	}
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		return nil, errors.Wrap(err, "cogtest: deflate")
	}
	if err := zw.Close(); err != nil {
		return nil, errors.Wrap(err, "cogtest: deflate")
	}
	return buf.Bytes(), nil
}

func shorts(bo binary.ByteOrder, tag uint16, vals ...uint16) entry {
	b := make([]byte, 2*len(vals))
	for i, v := range vals {
		bo.PutUint16(b[i*2:], v)
	}
	return entry{tag: tag, typ: 3, count: uint32(len(vals)), value: b}
}

func longs(bo binary.ByteOrder, tag uint16, vals ...uint32) entry {
	b := make([]byte, 4*len(vals))
	for i, v := range vals {
		bo.PutUint32(b[i*4:], v)
	}
	return entry{tag: tag, typ: 4, count: uint32(len(vals)), value: b}
}

func doubles(bo binary.ByteOrder, tag uint16, vals ...float64) entry {
	b := make([]byte, 8*len(vals))
	for i, v := range vals {
		bo.PutUint64(b[i*8:], math.Float64bits(v))
	}
	return entry{tag: tag, typ: 12, count: uint32(len(vals)), value: b}
}
