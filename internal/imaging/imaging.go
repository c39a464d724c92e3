// Package imaging provides the pixel-level primitives shared by the image
// forensics and deepfake analyzers: decoding, planes, metadata, JPEG
// recompression, the 2-D spectrum and face detection.
package imaging

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"  // register decoder
	_ "image/jpeg" // register decoder
	_ "image/png"  // register decoder

	imgx "github.com/disintegration/imaging"
	"github.com/opensource-finance/harrier/internal/domain"
	_ "golang.org/x/image/bmp"  // register decoder
	_ "golang.org/x/image/tiff" // register decoder
	_ "golang.org/x/image/webp" // register decoder
)

// MaxPixels bounds the decoded size of a single image.
const MaxPixels = 50_000_000

// Image is a decoded image in non-premultiplied RGBA together with the
// bytes it was decoded from.
type Image struct {
	Format string
	Width  int
	Height int
	Pix    *image.NRGBA
	Raw    []byte
}

// Decode decodes an image. Undecodable or oversized input yields a
// *domain.InputError.
func Decode(data []byte) (*Image, error) {
	if len(data) == 0 {
		return nil, domain.NewInputError("image", "empty image data", nil)
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, domain.NewInputError("image", "unsupported or corrupt image", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, domain.NewInputError("image", "image has no pixels", nil)
	}
	if cfg.Width*cfg.Height > MaxPixels {
		return nil, domain.NewInputError("image", fmt.Sprintf("image too large (%dx%d)", cfg.Width, cfg.Height), nil)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, domain.NewInputError("image", "failed to decode image", err)
	}

	out := FromImage(img, format)
	out.Raw = data
	return out, nil
}

// FromImage wraps an already decoded image, such as a video frame.
func FromImage(img image.Image, format string) *Image {
	pix := imgx.Clone(img)
	b := pix.Bounds()
	return &Image{
		Format: format,
		Width:  b.Dx(),
		Height: b.Dy(),
		Pix:    pix,
	}
}
