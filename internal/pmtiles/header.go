// Package pmtiles reads and writes PMTiles v3 archives of terrarium
// elevation tiles.
package pmtiles

import (
	"encoding/binary"
	"math"

	"github.com/pkg/errors"
)

// HeaderSize is the fixed size of a v3 header.
const HeaderSize = 127

// Internal and tile compression codes.
const (
	CompressionUnknown = 0
	CompressionNone    = 1
	CompressionGzip    = 2
	CompressionBrotli  = 3
	CompressionZstd    = 4
)

// Tile types.
const (
	TileTypeUnknown = 0
	TileTypeMVT     = 1
	TileTypePNG     = 2
	TileTypeJPEG    = 3
	TileTypeWebP    = 4
)

// Bounds is a WGS84 bounding box.
type Bounds struct {
	MinLon, MinLat float64
	MaxLon, MaxLat float64
}

// Contains reports whether (lon, lat) lies inside b, edges included.
func (b Bounds) Contains(lon, lat float64) bool {
	return lon >= b.MinLon && lon <= b.MaxLon && lat >= b.MinLat && lat <= b.MaxLat
}

// Center returns the centre of b.
func (b Bounds) Center() (lon, lat float64) {
	return (b.MinLon + b.MaxLon) / 2, (b.MinLat + b.MaxLat) / 2
}

// Header is the fixed-size archive header.
type Header struct {
	RootDirOffset       uint64
	RootDirLength       uint64
	MetadataOffset      uint64
	MetadataLength      uint64
	LeafDirOffset       uint64
	LeafDirLength       uint64
	TileDataOffset      uint64
	TileDataLength      uint64
	NumAddressedTiles   uint64
	NumTileEntries      uint64
	NumTileContents     uint64
	Clustered           bool
	InternalCompression uint8
	TileCompression     uint8
	TileType            uint8
	MinZoom             uint8
	MaxZoom             uint8
	Bounds              Bounds
	CenterZoom          uint8
	CenterLon           float64
	CenterLat           float64
}

// newHeader fills the descriptive header fields from writer options.
func newHeader(opts WriterOptions) Header {
	lon, lat := opts.Bounds.Center()
	return Header{
		Clustered:           true,
		InternalCompression: CompressionGzip,
		TileCompression:     CompressionNone, // PNG and WebP are compressed already
		TileType:            opts.TileType,
		MinZoom:             uint8(opts.MinZoom),
		MaxZoom:             uint8(opts.MaxZoom),
		Bounds:              opts.Bounds,
		CenterZoom:          uint8((opts.MinZoom + opts.MaxZoom) / 2),
		CenterLon:           lon,
		CenterLat:           lat,
	}
}

// Bytes encodes the header.
func (h *Header) Bytes() []byte {
	buf := make([]byte, HeaderSize)
	copy(buf[0:7], "PMTiles")
	buf[7] = 3

	le := binary.LittleEndian
	for i, v := range []uint64{
		h.RootDirOffset, h.RootDirLength, h.MetadataOffset, h.MetadataLength,
		h.LeafDirOffset, h.LeafDirLength, h.TileDataOffset, h.TileDataLength,
		h.NumAddressedTiles, h.NumTileEntries, h.NumTileContents,
	} {
		le.PutUint64(buf[8+8*i:], v)
	}
	if h.Clustered {
		buf[96] = 1
	}
	buf[97] = h.InternalCompression
	buf[98] = h.TileCompression
	buf[99] = h.TileType
	buf[100] = h.MinZoom
	buf[101] = h.MaxZoom
	le.PutUint32(buf[102:], toE7(h.Bounds.MinLon))
	le.PutUint32(buf[106:], toE7(h.Bounds.MinLat))
	le.PutUint32(buf[110:], toE7(h.Bounds.MaxLon))
	le.PutUint32(buf[114:], toE7(h.Bounds.MaxLat))
	buf[118] = h.CenterZoom
	le.PutUint32(buf[119:], toE7(h.CenterLon))
	le.PutUint32(buf[123:], toE7(h.CenterLat))
	return buf
}

// ParseHeader decodes a v3 header.
func ParseHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, errors.Errorf("header is %d bytes, want %d", len(buf), HeaderSize)
	}
	if string(buf[0:7]) != "PMTiles" {
		return Header{}, errors.New("not a PMTiles archive")
	}
	if buf[7] != 3 {
		return Header{}, errors.Errorf("unsupported PMTiles version %d", buf[7])
	}

	le := binary.LittleEndian
	var v [11]uint64
	for i := range v {
		v[i] = le.Uint64(buf[8+8*i:])
	}
	return Header{
		RootDirOffset:       v[0],
		RootDirLength:       v[1],
		MetadataOffset:      v[2],
		MetadataLength:      v[3],
		LeafDirOffset:       v[4],
		LeafDirLength:       v[5],
		TileDataOffset:      v[6],
		TileDataLength:      v[7],
		NumAddressedTiles:   v[8],
		NumTileEntries:      v[9],
		NumTileContents:     v[10],
		Clustered:           buf[96] == 1,
		InternalCompression: buf[97],
		TileCompression:     buf[98],
		TileType:            buf[99],
		MinZoom:             buf[100],
		MaxZoom:             buf[101],
		Bounds: Bounds{
			MinLon: fromE7(le.Uint32(buf[102:])),
			MinLat: fromE7(le.Uint32(buf[106:])),
			MaxLon: fromE7(le.Uint32(buf[110:])),
			MaxLat: fromE7(le.Uint32(buf[114:])),
		},
		CenterZoom: buf[118],
		CenterLon:  fromE7(le.Uint32(buf[119:])),
		CenterLat:  fromE7(le.Uint32(buf[123:])),
	}, nil
}

func toE7(v float64) uint32 {
	return uint32(int32(math.Round(v * 1e7)))
}

func fromE7(v uint32) float64 {
	return float64(int32(v)) / 1e7
}
