package cog

import (
	"encoding/binary"
	"io"
	"math"
	"strings"

	"github.com/pkg/errors"
)

// TIFF tag IDs.
const (
	tagNewSubfileType      = 254
	tagImageWidth          = 256
	tagImageLength         = 257
	tagBitsPerSample       = 258
	tagCompression         = 259
	tagPhotometric         = 262
	tagStripOffsets        = 273
	tagSamplesPerPixel     = 277
	tagRowsPerStrip        = 278
	tagStripByteCounts     = 279
	tagPlanarConfig        = 284
	tagPredictor           = 317
	tagTileWidth           = 322
	tagTileLength          = 323
	tagTileOffsets         = 324
	tagTileByteCounts      = 325
	tagSampleFormat        = 339
	tagModelPixelScaleTag  = 33550
	tagModelTiepointTag    = 33922
	tagModelTransformation = 34264
	tagGeoKeyDirectoryTag  = 34735
	tagGeoDoubleParamsTag  = 34736
	tagGeoAsciiParamsTag   = 34737
	tagGDALNoData          = 42113
	tagRPCCoefficient      = 50844
)

// TIFF data types.
const (
	dtByte      = 1
	dtASCII     = 2
	dtShort     = 3
	dtLong      = 4
	dtRational  = 5
	dtSByte     = 6
	dtUndef     = 7
	dtSShort    = 8
	dtSLong     = 9
	dtSRational = 10
	dtFloat     = 11
	dtDouble    = 12
	dtLong8     = 16
	dtSLong8    = 17
	dtIFD8      = 18
)

// Compression schemes.
const (
	compressionNone         = 1
	compressionLZW          = 5
	compressionDeflate      = 8
	compressionAdobeDeflate = 32946
)

// Predictor values.
const (
	predictorNone          = 1
	predictorHorizontal    = 2
	predictorFloatingPoint = 3
)

// Sample formats.
const (
	sampleFormatUint  = 1
	sampleFormatInt   = 2
	sampleFormatFloat = 3
)

// IFD is a parsed TIFF Image File Directory. Stripped images are described
// as one tile column whose tiles are the strips.
type IFD struct {
	SubfileType     uint32
	Width           uint32
	Height          uint32
	TileWidth       uint32
	TileHeight      uint32
	Tiled           bool
	BitsPerSample   []uint16
	SamplesPerPixel uint16
	SampleFormat    uint16
	Compression     uint16
	Photometric     uint16
	PlanarConfig    uint16
	Predictor       uint16
	Offsets         []uint64
	ByteCounts      []uint64

	ModelTiepoint       []float64
	ModelPixelScale     []float64
	ModelTransformation []float64
	GeoKeys             []uint16
	GeoDoubleParams     []float64
	GeoAsciiParams      string
	NoData              string
	RPCCoefficients     []float64
}

// TilesAcross returns the number of tiles in the horizontal direction.
func (ifd *IFD) TilesAcross() int {
	return int((ifd.Width + ifd.TileWidth - 1) / ifd.TileWidth)
}

// TilesDown returns the number of tiles in the vertical direction.
func (ifd *IFD) TilesDown() int {
	return int((ifd.Height + ifd.TileHeight - 1) / ifd.TileHeight)
}

// IsMask reports whether the IFD is a transparency mask.
func (ifd *IFD) IsMask() bool { return ifd.SubfileType&4 != 0 }

// bytesPerSample returns the size of one sample of the first band.
func (ifd *IFD) bytesPerSample() int {
	if len(ifd.BitsPerSample) == 0 {
		return 1
	}
	return int(ifd.BitsPerSample[0]+7) / 8
}

// tiffEntry is a raw TIFF directory entry.
type tiffEntry struct {
	Tag      uint16
	DataType uint16
	Count    uint64
	Value    []byte // inline value or resolved external data
}

// parseTIFF reads all IFDs of a classic TIFF or BigTIFF.
func parseTIFF(r io.ReadSeeker) ([]IFD, binary.ByteOrder, error) {
	var header [8]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, nil, errors.Wrap(err, "reading TIFF header")
	}

	var bo binary.ByteOrder
	switch string(header[0:2]) {
	case "II":
		bo = binary.LittleEndian
	case "MM":
		bo = binary.BigEndian
	default:
		return nil, nil, errors.Errorf("invalid TIFF byte order: %x", header[0:2])
	}

	magic := bo.Uint16(header[2:4])
	if magic != 42 && magic != 43 {
		return nil, nil, errors.Errorf("invalid TIFF magic: %d", magic)
	}
	bigTIFF := magic == 43

	var offset uint64
	if bigTIFF {
		// Bytes 4-7 hold the offset size and padding; the first IFD offset follows.
		var bigHeader [8]byte
		if _, err := io.ReadFull(r, bigHeader[:]); err != nil {
			return nil, nil, errors.Wrap(err, "reading BigTIFF header")
		}
		offset = bo.Uint64(bigHeader[:])
	} else {
		offset = uint64(bo.Uint32(header[4:8]))
	}

	var ifds []IFD
	seen := map[uint64]bool{}
	for offset != 0 {
		if seen[offset] {
			return nil, nil, errors.Errorf("IFD loop at offset %d", offset)
		}
		seen[offset] = true

		ifd, next, err := parseOneIFD(r, bo, offset, bigTIFF)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "parsing IFD at offset %d", offset)
		}
		ifds = append(ifds, ifd)
		offset = next
	}
	return ifds, bo, nil
}

func parseOneIFD(r io.ReadSeeker, bo binary.ByteOrder, offset uint64, bigTIFF bool) (IFD, uint64, error) {
	if _, err := r.Seek(int64(offset), io.SeekStart); err != nil {
		return IFD{}, 0, err
	}

	countSize, entrySize, nextSize := 2, 12, 4
	if bigTIFF {
		countSize, entrySize, nextSize = 8, 20, 8
	}

	buf := make([]byte, countSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return IFD{}, 0, err
	}
	numEntries := readUint(buf, bo)

	raw := make([]byte, int(numEntries)*entrySize+nextSize)
	if _, err := io.ReadFull(r, raw); err != nil {
		return IFD{}, 0, err
	}
	entries := make([]tiffEntry, numEntries)
	for i := range entries {
		entries[i] = parseTiffEntry(raw[i*entrySize:(i+1)*entrySize], bo, bigTIFF)
	}
	next := readUint(raw[len(raw)-nextSize:], bo)

	for i := range entries {
		if err := resolveEntry(r, bo, &entries[i], bigTIFF); err != nil {
			return IFD{}, 0, errors.Wrapf(err, "resolving tag %d", entries[i].Tag)
		}
	}
	ifd, err := buildIFD(entries, bo)
	return ifd, next, err
}

func readUint(b []byte, bo binary.ByteOrder) uint64 {
	switch len(b) {
	case 2:
		return uint64(bo.Uint16(b))
	case 4:
		return uint64(bo.Uint32(b))
	default:
		return bo.Uint64(b)
	}
}

func parseTiffEntry(buf []byte, bo binary.ByteOrder, bigTIFF bool) tiffEntry {
	e := tiffEntry{
		Tag:      bo.Uint16(buf[0:2]),
		DataType: bo.Uint16(buf[2:4]),
	}
	if bigTIFF {
		e.Count = bo.Uint64(buf[4:12])
		e.Value = append([]byte(nil), buf[12:20]...)
	} else {
		e.Count = uint64(bo.Uint32(buf[4:8]))
		e.Value = append([]byte(nil), buf[8:12]...)
	}
	return e
}

func dataTypeSize(dt uint16) int {
	switch dt {
	case dtByte, dtASCII, dtSByte, dtUndef:
		return 1
	case dtShort, dtSShort:
		return 2
	case dtLong, dtSLong, dtFloat:
		return 4
	case dtRational, dtSRational, dtDouble, dtLong8, dtSLong8, dtIFD8:
		return 8
	default:
		return 1
	}
}

// resolveEntry reads the value of an entry that does not fit inline.
func resolveEntry(r io.ReadSeeker, bo binary.ByteOrder, e *tiffEntry, bigTIFF bool) error {
	total := e.Count * uint64(dataTypeSize(e.DataType))
	if total <= uint64(len(e.Value)) {
		return nil
	}
	if total > 1<<30 {
		return errors.Errorf("tag %d value of %d bytes is too large", e.Tag, total)
	}

	var dataOffset uint64
	if bigTIFF {
		dataOffset = bo.Uint64(e.Value)
	} else {
		dataOffset = uint64(bo.Uint32(e.Value))
	}
	if _, err := r.Seek(int64(dataOffset), io.SeekStart); err != nil {
		return err
	}
	data := make([]byte, total)
	if _, err := io.ReadFull(r, data); err != nil {
		return err
	}
	e.Value = data
	return nil
}

func buildIFD(entries []tiffEntry, bo binary.ByteOrder) (IFD, error) {
	ifd := IFD{
		SamplesPerPixel: 1,
		SampleFormat:    sampleFormatUint,
		Compression:     compressionNone,
		PlanarConfig:    1,
		Predictor:       predictorNone,
	}
	var rowsPerStrip uint32
	var stripOffsets, stripCounts []uint64

	for _, e := range entries {
		switch e.Tag {
		case tagNewSubfileType:
			ifd.SubfileType = getUint32(e, bo)
		case tagImageWidth:
			ifd.Width = getUint32(e, bo)
		case tagImageLength:
			ifd.Height = getUint32(e, bo)
		case tagTileWidth:
			ifd.TileWidth = getUint32(e, bo)
		case tagTileLength:
			ifd.TileHeight = getUint32(e, bo)
		case tagBitsPerSample:
			ifd.BitsPerSample = getUint16Slice(e, bo)
		case tagSamplesPerPixel:
			ifd.SamplesPerPixel = uint16(getUint32(e, bo))
		case tagSampleFormat:
			ifd.SampleFormat = uint16(getUint32(e, bo))
		case tagCompression:
			ifd.Compression = uint16(getUint32(e, bo))
		case tagPhotometric:
			ifd.Photometric = uint16(getUint32(e, bo))
		case tagPlanarConfig:
			ifd.PlanarConfig = uint16(getUint32(e, bo))
		case tagPredictor:
			ifd.Predictor = uint16(getUint32(e, bo))
		case tagTileOffsets:
			ifd.Offsets = getUint64Slice(e, bo)
			ifd.Tiled = true
		case tagTileByteCounts:
			ifd.ByteCounts = getUint64Slice(e, bo)
		case tagStripOffsets:
			stripOffsets = getUint64Slice(e, bo)
		case tagStripByteCounts:
			stripCounts = getUint64Slice(e, bo)
		case tagRowsPerStrip:
			rowsPerStrip = getUint32(e, bo)
		case tagModelTiepointTag:
			ifd.ModelTiepoint = getFloat64Slice(e, bo)
		case tagModelPixelScaleTag:
			ifd.ModelPixelScale = getFloat64Slice(e, bo)
		case tagModelTransformation:
			ifd.ModelTransformation = getFloat64Slice(e, bo)
		case tagGeoKeyDirectoryTag:
			ifd.GeoKeys = getUint16Slice(e, bo)
		case tagGeoDoubleParamsTag:
			ifd.GeoDoubleParams = getFloat64Slice(e, bo)
		case tagGeoAsciiParamsTag:
			ifd.GeoAsciiParams = asciiValue(e)
		case tagGDALNoData:
			ifd.NoData = strings.TrimSpace(asciiValue(e))
		case tagRPCCoefficient:
			ifd.RPCCoefficients = getFloat64Slice(e, bo)
		}
	}

	if !ifd.Tiled {
		if rowsPerStrip == 0 || rowsPerStrip > ifd.Height {
			rowsPerStrip = ifd.Height
		}
		ifd.TileWidth = ifd.Width
		ifd.TileHeight = rowsPerStrip
		ifd.Offsets = stripOffsets
		ifd.ByteCounts = stripCounts
	}
	if ifd.Width == 0 || ifd.Height == 0 {
		return ifd, errors.New("image has no size")
	}
	if ifd.TileWidth == 0 || ifd.TileHeight == 0 {
		return ifd, errors.New("image has no tile or strip layout")
	}
	if len(ifd.Offsets) != len(ifd.ByteCounts) {
		return ifd, errors.Errorf("%d offsets but %d byte counts", len(ifd.Offsets), len(ifd.ByteCounts))
	}
	return ifd, nil
}

func asciiValue(e tiffEntry) string {
	n := int(e.Count)
	if n > len(e.Value) {
		n = len(e.Value)
	}
	return strings.TrimRight(string(e.Value[:n]), "\x00")
}

func getUint32(e tiffEntry, bo binary.ByteOrder) uint32 {
	switch e.DataType {
	case dtShort, dtSShort:
		return uint32(bo.Uint16(e.Value))
	case dtLong, dtSLong:
		return bo.Uint32(e.Value)
	case dtLong8, dtSLong8, dtIFD8:
		return uint32(bo.Uint64(e.Value))
	default:
		return uint32(e.Value[0])
	}
}

func getUint16Slice(e tiffEntry, bo binary.ByteOrder) []uint16 {
	n := int(e.Count)
	result := make([]uint16, n)
	for i := 0; i < n; i++ {
		switch e.DataType {
		case dtByte:
			result[i] = uint16(e.Value[i])
		case dtLong:
			result[i] = uint16(bo.Uint32(e.Value[i*4:]))
		default:
			result[i] = bo.Uint16(e.Value[i*2:])
		}
	}
	return result
}

func getUint64Slice(e tiffEntry, bo binary.ByteOrder) []uint64 {
	n := int(e.Count)
	result := make([]uint64, n)
	switch e.DataType {
	case dtShort:
		for i := 0; i < n; i++ {
			result[i] = uint64(bo.Uint16(e.Value[i*2:]))
		}
	case dtLong:
		for i := 0; i < n; i++ {
			result[i] = uint64(bo.Uint32(e.Value[i*4:]))
		}
	case dtLong8, dtIFD8:
		for i := 0; i < n; i++ {
			result[i] = bo.Uint64(e.Value[i*8:])
		}
	}
	return result
}

func getFloat64Slice(e tiffEntry, bo binary.ByteOrder) []float64 {
	n := int(e.Count)
	result := make([]float64, n)
	for i := 0; i < n; i++ {
		switch e.DataType {
		case dtDouble:
			result[i] = math.Float64frombits(bo.Uint64(e.Value[i*8:]))
		case dtFloat:
			result[i] = float64(math.Float32frombits(bo.Uint32(e.Value[i*4:])))
		}
	}
	return result
}
