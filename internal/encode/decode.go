package encode

import (
	"bytes"
	"image"
	"image/png"

	"github.com/gen2brain/webp"
	"github.com/pkg/errors"
)

// DecodeImage decodes tile bytes in the given format ("png", "terrarium",
// "webp" or "terrarium-webp").
func DecodeImage(data []byte, format string) (image.Image, error) {
	r := bytes.NewReader(data)
	switch format {
	case "png", "terrarium":
		img, err := png.Decode(r)
		return img, errors.Wrap(err, "decoding png tile")
	case "webp", "terrarium-webp":
		// DecodeAll keeps exact RGBA pixels; Decode converts to 4:2:0 YCbCr.
		w, err := webp.DecodeAll(r)
		if err != nil {
			return nil, errors.Wrap(err, "decoding webp tile")
		}
		if len(w.Image) == 0 {
			return nil, errors.New("decoding webp tile: no frames")
		}
		return w.Image[0], nil
	default:
		return nil, errors.Errorf("unsupported decode format: %q", format)
	}
}
