package cog

// TIFF LZW decoding.
//
// compress/lzw implements the GIF variant, which widens the code one entry
// later than TIFF ("early change"). TIFF streams therefore fail there with
// "invalid code", so the TIFF 6.0 variant is decoded here.

import (
	"github.com/pkg/errors"
)

const (
	lzwMaxWidth  = 12
	lzwClearCode = 256
	lzwEOICode   = 257
	lzwFirstCode = 258
	lzwTableSize = 1 << lzwMaxWidth
)

type lzwEntry struct {
	prefix int32 // -1 for literals
	suffix byte
	length int32
}

// msbBitReader reads MSB-first codes of up to 16 bits.
type msbBitReader struct {
	src   []byte
	pos   int
	acc   uint32
	nbits uint
}

func (br *msbBitReader) read(width uint) (int, bool) {
	for br.nbits < width {
		if br.pos >= len(br.src) {
			return 0, false
		}
		br.acc = br.acc<<8 | uint32(br.src[br.pos])
		br.pos++
		br.nbits += 8
	}
	br.nbits -= width
	code := int(br.acc>>br.nbits) & (1<<width - 1)
	return code, true
}

// decompressTIFFLZW decodes TIFF LZW data. sizeHint preallocates the output.
// A stream that ends without an EOI code returns what was decoded.
func decompressTIFFLZW(data []byte, sizeHint int) ([]byte, error) {
	if len(data) == 0 {
		return nil, nil
	}

	var table [lzwTableSize + 1]lzwEntry
	for i := 0; i < 256; i++ {
		table[i] = lzwEntry{prefix: -1, suffix: byte(i), length: 1}
	}

	br := &msbBitReader{src: data}
	out := make([]byte, 0, sizeHint)

	// appendString appends the string of code and returns its first byte.
	appendString := func(code int) byte {
		n := int(table[code].length)
		start := len(out)
		out = append(out, make([]byte, n)...)
		for i := start + n - 1; code >= 0; i-- {
			out[i] = table[code].suffix
			code = int(table[code].prefix)
		}
		return out[start]
	}

	width := uint(9)
	nextCode := lzwFirstCode
	prev := -1
	for {
		code, ok := br.read(width)
		if !ok || code == lzwEOICode {
			return out, nil
		}
		if code == lzwClearCode {
			width = 9
			nextCode = lzwFirstCode
			prev = -1
			continue
		}
		if prev == -1 {
			if code > 255 {
				return nil, errors.Errorf("lzw: code %d after clear is not a literal", code)
			}
			out = append(out, byte(code))
			prev = code
			continue
		}

		var first byte
		switch {
		case code < nextCode:
			first = appendString(code)
		case code == nextCode:
			// KwKwK: the string of prev followed by its own first byte.
			first = appendString(prev)
			out = append(out, first)
		default:
			return nil, errors.Errorf("lzw: invalid code %d (next %d)", code, nextCode)
		}

		if nextCode <= lzwTableSize {
			table[nextCode] = lzwEntry{prefix: int32(prev), suffix: first, length: table[prev].length + 1}
			nextCode++
		}
		if nextCode+1 >= 1<<width && width < lzwMaxWidth {
			width++
		}
		prev = code
	}
}
