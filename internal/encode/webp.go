package encode

import (
	"bytes"
	"image"

	"github.com/gen2brain/webp"
	"github.com/pkg/errors"
)

// TerrariumWebPEncoder encodes terrarium tiles as lossless WebP. Lossy
// compression would corrupt the encoded heights. gen2brain/webp runs libwebp
// through purego when installed and an embedded WASM build otherwise.
type TerrariumWebPEncoder struct{}

func (e *TerrariumWebPEncoder) Encode(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := webp.Encode(&buf, img, webp.Options{Lossless: true}); err != nil {
		return nil, errors.Wrap(err, "webp")
	}
	return buf.Bytes(), nil
}

func (e *TerrariumWebPEncoder) Format() string        { return "webp" }
func (e *TerrariumWebPEncoder) PMTileType() uint8     { return TileTypeWebP }
func (e *TerrariumWebPEncoder) FileExtension() string { return ".webp" }
