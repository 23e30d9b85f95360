package cog

import (
	"bytes"
	"encoding/binary"
	"io"
	"math"
	"os"
	"strconv"
	"sync"

	"github.com/klauspost/compress/zlib"
	"github.com/pkg/errors"
)

// Reader provides tile-level access to the first band of a GeoTIFF/COG.
// The file is memory-mapped where the platform allows it, so concurrent
// tile reads need no locking.
type Reader struct {
	data   []byte
	mapped bool
	bo     binary.ByteOrder
	ifds   []IFD // full resolution first, then overviews; masks dropped
	geo    GeoInfo
	path   string

	nodata    float64
	hasNoData bool
	rpc       []float64

	cacheOnce   sync.Once
	cache       *TileCache
	sharedCache bool
}

// Open opens a GeoTIFF and parses its structure. Georeferencing comes from
// the GeoTIFF tags, or from a world file next to the image when the tags
// are absent.
func Open(path string) (*Reader, error) {
	data, mapped, err := loadFile(path)
	if err != nil {
		return nil, err
	}

	r, err := newReader(data, path)
	if err != nil {
		if mapped {
			_ = munmapFile(data)
		}
		return nil, err
	}
	r.mapped = mapped
	return r, nil
}

func loadFile(path string) ([]byte, bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, false, errors.Wrapf(err, "opening %s", path)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, false, errors.Wrapf(err, "stat %s", path)
	}
	if fi.Size() == 0 {
		return nil, false, errors.Errorf("%s: empty file", path)
	}

	if data, err := mmapFile(f.Fd(), int(fi.Size())); err == nil {
		return data, true, nil
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, false, errors.Wrapf(err, "reading %s", path)
	}
	return data, false, nil
}

func newReader(data []byte, path string) (*Reader, error) {
	all, bo, err := parseTIFF(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrapf(err, "parsing %s", path)
	}

	var ifds []IFD
	for _, ifd := range all {
		if !ifd.IsMask() {
			ifds = append(ifds, ifd)
		}
	}
	if len(ifds) == 0 {
		return nil, errors.Errorf("%s: no image IFDs found", path)
	}

	first := &ifds[0]
	if err := checkSupported(first); err != nil {
		return nil, errors.Wrap(err, path)
	}

	r := &Reader{
		data: data,
		bo:   bo,
		ifds: ifds,
		geo:  parseGeoInfo(first),
		path: path,
		rpc:  first.RPCCoefficients,
	}
	if !r.geo.HasGeoreference() {
		if tfwPath := FindTFW(path); tfwPath != "" {
			tfw, err := ParseTFW(tfwPath)
			if err != nil {
				return nil, err
			}
			r.geo = tfw.GeoInfo(int(first.Width), int(first.Height))
		}
	}
	if first.NoData != "" {
		v, err := strconv.ParseFloat(first.NoData, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "%s: nodata value %q", path, first.NoData)
		}
		r.nodata, r.hasNoData = v, true
	}
	return r, nil
}

func checkSupported(ifd *IFD) error {
	switch ifd.Compression {
	case compressionNone, compressionLZW, compressionDeflate, compressionAdobeDeflate:
	default:
		return errors.Errorf("unsupported compression %d", ifd.Compression)
	}
	switch ifd.Predictor {
	case predictorNone, predictorHorizontal, predictorFloatingPoint:
	default:
		return errors.Errorf("unsupported predictor %d", ifd.Predictor)
	}
	switch ifd.SampleFormat {
	case sampleFormatUint, sampleFormatInt:
		switch ifd.bytesPerSample() {
		case 1, 2, 4:
		default:
			return errors.Errorf("unsupported integer sample size %d", ifd.bytesPerSample())
		}
	case sampleFormatFloat:
		switch ifd.bytesPerSample() {
		case 4, 8:
		default:
			return errors.Errorf("unsupported float sample size %d", ifd.bytesPerSample())
		}
	default:
		return errors.Errorf("unsupported sample format %d", ifd.SampleFormat)
	}
	return nil
}

// Close releases the file mapping.
func (r *Reader) Close() error {
	if r.cache != nil && !r.sharedCache {
		r.cache.Stop()
	}
	r.cache = nil
	if r.mapped && r.data != nil {
		err := munmapFile(r.data)
		r.data = nil
		return err
	}
	r.data = nil
	return nil
}

// Path returns the file path.
func (r *Reader) Path() string {
	return r.path
}

// GeoInfo returns the parsed georeferencing.
func (r *Reader) GeoInfo() GeoInfo {
	return r.geo
}

// Width returns the full-resolution image width.
func (r *Reader) Width() int {
	return int(r.ifds[0].Width)
}

// Height returns the full-resolution image height.
func (r *Reader) Height() int {
	return int(r.ifds[0].Height)
}

// TileSize returns the tile (or strip) dimensions of the full-resolution level.
func (r *Reader) TileSize() (w, h int) {
	return int(r.ifds[0].TileWidth), int(r.ifds[0].TileHeight)
}

// IFDCount returns the number of image levels, overviews included.
func (r *Reader) IFDCount() int {
	return len(r.ifds)
}

// EPSG returns the detected EPSG code, 0 if unknown.
func (r *Reader) EPSG() int {
	return r.geo.EPSG
}

// NoData returns the GDAL nodata value, if the file declares one.
func (r *Reader) NoData() (float64, bool) {
	return r.nodata, r.hasNoData
}

// RPCCoefficients returns the raw RPCCoefficientTag values, or nil.
func (r *Reader) RPCCoefficients() []float64 {
	return r.rpc
}

// BoundsInCRS returns the bounding box in the source CRS.
func (r *Reader) BoundsInCRS() (minX, minY, maxX, maxY float64) {
	ifd := &r.ifds[0]
	minX = r.geo.OriginX
	maxY = r.geo.OriginY
	maxX = minX + float64(ifd.Width)*r.geo.PixelSizeX
	minY = maxY - float64(ifd.Height)*r.geo.PixelSizeY
	return
}

// ReadFloatTile reads and decodes one tile of the first band as float32.
// For stripped images row is the strip index and the last strip may be
// shorter than the others. Level 0 is the full resolution.
func (r *Reader) ReadFloatTile(level, col, row int) ([]float32, int, int, error) {
	if r.data == nil {
		return nil, 0, 0, errors.Errorf("%s: reader is closed", r.path)
	}
	if level < 0 || level >= len(r.ifds) {
		return nil, 0, 0, errors.Errorf("invalid IFD level %d (have %d)", level, len(r.ifds))
	}

	ifd := &r.ifds[level]
	across, down := ifd.TilesAcross(), ifd.TilesDown()
	if col < 0 || col >= across || row < 0 || row >= down {
		return nil, 0, 0, errors.Errorf("tile (%d,%d) out of range (%dx%d)", col, row, across, down)
	}

	w := int(ifd.TileWidth)
	h := int(ifd.TileHeight)
	if !ifd.Tiled {
		if rest := int(ifd.Height) - row*h; rest < h {
			h = rest
		}
	}

	idx := row*across + col
	if idx >= len(ifd.Offsets) {
		return nil, 0, 0, errors.Errorf("tile index %d out of range", idx)
	}
	offset, size := ifd.Offsets[idx], ifd.ByteCounts[idx]

	out := make([]float32, w*h)
	if size == 0 {
		// Sparse tile: GDAL treats it as nodata, or zero without one.
		fill := float32(0)
		if r.hasNoData {
			fill = float32(r.nodata)
		}
		for i := range out {
			out[i] = fill
		}
		return out, w, h, nil
	}
	end := offset + size
	if end > uint64(len(r.data)) {
		return nil, 0, 0, errors.Errorf("tile data [%d:%d] exceeds file size %d", offset, end, len(r.data))
	}

	spp := 1
	if ifd.PlanarConfig == 1 {
		spp = int(ifd.SamplesPerPixel)
	}
	bps := ifd.bytesPerSample()
	rowBytes := w * spp * bps
	raw, err := decompress(ifd.Compression, r.data[offset:end], rowBytes*h)
	if err != nil {
		return nil, 0, 0, errors.Wrapf(err, "tile (%d,%d) level %d", col, row, level)
	}
	if len(raw) < rowBytes*h {
		return nil, 0, 0, errors.Errorf("tile (%d,%d) level %d: %d bytes decoded, want %d",
			col, row, level, len(raw), rowBytes*h)
	}

	switch ifd.Predictor {
	case predictorHorizontal:
		undoHorizontal(raw, r.bo, w, h, spp, bps)
	case predictorFloatingPoint:
		raw = undoFloatingPoint(raw, r.bo, w, h, spp, bps)
	}

	for y := 0; y < h; y++ {
		line := raw[y*rowBytes:]
		for x := 0; x < w; x++ {
			out[y*w+x] = sampleValue(line[x*spp*bps:], r.bo, ifd.SampleFormat, bps)
		}
	}
	return out, w, h, nil
}

func decompress(compression uint16, data []byte, sizeHint int) ([]byte, error) {
	switch compression {
	case compressionNone:
		// The mapping is read-only and predictors decode in place.
		return append([]byte(nil), data...), nil
	case compressionLZW:
		return decompressTIFFLZW(data, sizeHint)
	case compressionDeflate, compressionAdobeDeflate:
		zr, err := zlib.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, errors.Wrap(err, "deflate")
		}
		defer zr.Close()
		buf := bytes.NewBuffer(make([]byte, 0, sizeHint))
		if _, err := io.Copy(buf, zr); err != nil {
			return nil, errors.Wrap(err, "deflate")
		}
		return buf.Bytes(), nil
	default:
		return nil, errors.Errorf("unsupported compression %d", compression)
	}
}

// undoHorizontal reverses integer horizontal differencing in place.
func undoHorizontal(raw []byte, bo binary.ByteOrder, w, h, spp, bps int) {
	rowBytes := w * spp * bps
	for y := 0; y < h; y++ {
		line := raw[y*rowBytes : (y+1)*rowBytes]
		switch bps {
		case 1:
			for i := spp; i < w*spp; i++ {
				line[i] += line[i-spp]
			}
		case 2:
			for i := spp; i < w*spp; i++ {
				v := bo.Uint16(line[i*2:]) + bo.Uint16(line[(i-spp)*2:])
				bo.PutUint16(line[i*2:], v)
			}
		case 4:
			for i := spp; i < w*spp; i++ {
				v := bo.Uint32(line[i*4:]) + bo.Uint32(line[(i-spp)*4:])
				bo.PutUint32(line[i*4:], v)
			}
		}
	}
}

// undoFloatingPoint reverses the floating point predictor: byte-wise
// differencing followed by a split into byte planes, most significant
// plane first. The result is in file byte order.
func undoFloatingPoint(raw []byte, bo binary.ByteOrder, w, h, spp, bps int) []byte {
	bigEndian := bo == binary.ByteOrder(binary.BigEndian)
	wc := w * spp
	rowBytes := wc * bps
	out := make([]byte, len(raw))
	for y := 0; y < h; y++ {
		line := raw[y*rowBytes : (y+1)*rowBytes]
		for i := spp; i < rowBytes; i++ {
			line[i] += line[i-spp]
		}
		dst := out[y*rowBytes:]
		for j := 0; j < wc; j++ {
			for b := 0; b < bps; b++ {
				if bigEndian {
					dst[j*bps+b] = line[b*wc+j]
				} else {
					dst[j*bps+(bps-1-b)] = line[b*wc+j]
				}
			}
		}
	}
	return out
}

// sampleValue decodes the first sample at b.
func sampleValue(b []byte, bo binary.ByteOrder, format uint16, bps int) float32 {
	switch format {
	case sampleFormatFloat:
		if bps == 8 {
			return float32(math.Float64frombits(bo.Uint64(b)))
		}
		return math.Float32frombits(bo.Uint32(b))
	case sampleFormatInt:
		switch bps {
		case 1:
			return float32(int8(b[0]))
		case 2:
			return float32(int16(bo.Uint16(b)))
		default:
			return float32(int32(bo.Uint32(b)))
		}
	default:
		switch bps {
		case 1:
			return float32(b[0])
		case 2:
			return float32(bo.Uint16(b))
		default:
			return float32(bo.Uint32(b))
		}
	}
}

// Pixel returns the full-resolution value at integer pixel (px, py).
// ok is false outside the image or on nodata.
func (r *Reader) Pixel(px, py int) (float64, bool, error) {
	ifd := &r.ifds[0]
	if px < 0 || py < 0 || px >= int(ifd.Width) || py >= int(ifd.Height) {
		return 0, false, nil
	}
	tw, th := int(ifd.TileWidth), int(ifd.TileHeight)
	col, row := px/tw, py/th

	tile, err := r.tileCache().Get(r, 0, col, row)
	if err != nil {
		return 0, false, err
	}
	v := float64(tile.At(px-col*tw, py-row*th))
	if r.IsNoData(v) {
		return 0, false, nil
	}
	return v, true, nil
}

// IsNoData reports whether v is NaN or equals the declared nodata value.
func (r *Reader) IsNoData(v float64) bool {
	if math.IsNaN(v) {
		return true
	}
	return r.hasNoData && v == float64(float32(r.nodata))
}

func (r *Reader) tileCache() *TileCache {
	r.cacheOnce.Do(func() {
		if r.cache == nil {
			r.cache = NewTileCache(DefaultTileCacheSize)
		}
	})
	return r.cache
}

// SetTileCache shares a tile cache between readers. It must be called
// before the first Pixel call.
func (r *Reader) SetTileCache(c *TileCache) {
	r.cache = c
	r.sharedCache = true
}
