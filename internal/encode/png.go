package encode

import (
	"bytes"
	"image"
	"image/png"

	"github.com/pkg/errors"
)

func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	enc := &png.Encoder{CompressionLevel: png.BestSpeed}
	if err := enc.Encode(&buf, img); err != nil {
		return nil, errors.Wrap(err, "png")
	}
	return buf.Bytes(), nil
}
