package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"math"
)

// ELAQuality is the JPEG quality used for error-level analysis.
const ELAQuality = 90

// Recompress encodes img as JPEG at quality in memory and decodes it back.
func Recompress(img image.Image, quality int) (image.Image, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("failed to encode jpeg: %w", err)
	}
	out, err := jpeg.Decode(&buf)
	if err != nil {
		return nil, fmt.Errorf("failed to decode recompressed jpeg: %w", err)
	}
	return out, nil
}

// ErrorLevel recompresses a grayscale plane and returns the per-pixel
// absolute difference.
func ErrorLevel(gray *Plane, quality int) (*Plane, error) {
	if gray.Width == 0 || gray.Height == 0 {
		return nil, fmt.Errorf("empty plane")
	}
	src := gray.GrayImage()
	re, err := Recompress(src, quality)
	if err != nil {
		return nil, err
	}

	diff := NewPlane(gray.Width, gray.Height)
	b := re.Bounds()
	switch g := re.(type) {
	case *image.Gray:
		for y := 0; y < gray.Height; y++ {
			for x := 0; x < gray.Width; x++ {
				v := float64(g.Pix[(b.Min.Y+y)*g.Stride+b.Min.X+x])
				diff.Set(x, y, math.Abs(float64(src.Pix[y*src.Stride+x])-v))
			}
		}
	default:
		for y := 0; y < gray.Height; y++ {
			for x := 0; x < gray.Width; x++ {
				r, _, _, _ := re.At(b.Min.X+x, b.Min.Y+y).RGBA()
				diff.Set(x, y, math.Abs(float64(src.Pix[y*src.Stride+x])-float64(r>>8)))
			}
		}
	}
	return diff, nil
}
