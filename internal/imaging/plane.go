package imaging

import (
	"image"
	"math"

	"github.com/opensource-finance/harrier/internal/numeric"
)

// Plane is a single-channel image of float samples in row-major order.
type Plane struct {
	Width  int
	Height int
	Pix    []float64
}

// NewPlane allocates a zeroed plane.
func NewPlane(width, height int) *Plane {
	return &Plane{Width: width, Height: height, Pix: make([]float64, width*height)}
}

// At returns the sample at (x, y).
func (p *Plane) At(x, y int) float64 {
	return p.Pix[y*p.Width+x]
}

// Set stores the sample at (x, y).
func (p *Plane) Set(x, y int, v float64) {
	p.Pix[y*p.Width+x] = v
}

// Sub copies the samples inside r, clipped to the plane.
func (p *Plane) Sub(r image.Rectangle) *Plane {
	r = r.Intersect(image.Rect(0, 0, p.Width, p.Height))
	out := NewPlane(r.Dx(), r.Dy())
	for y := 0; y < out.Height; y++ {
		copy(out.Pix[y*out.Width:(y+1)*out.Width], p.Pix[(r.Min.Y+y)*p.Width+r.Min.X:])
	}
	return out
}

// MeanStd returns the mean and population standard deviation of the samples.
func (p *Plane) MeanStd() (float64, float64) {
	return numeric.MeanStdDev(p.Pix)
}

// Max returns the largest sample, or 0 for an empty plane.
func (p *Plane) Max() float64 {
	m := 0.0
	for i, v := range p.Pix {
		if i == 0 || v > m {
			m = v
		}
	}
	return m
}

// ChannelMean returns the unweighted mean of R, G and B per pixel.
func ChannelMean(img *image.NRGBA) *Plane {
	return fromPixels(img, func(r, g, b uint8) float64 {
		return (float64(r) + float64(g) + float64(b)) / 3
	})
}

// ChannelMean8 is ChannelMean truncated to an 8-bit value.
func ChannelMean8(img *image.NRGBA) *Plane {
	return fromPixels(img, func(r, g, b uint8) float64 {
		return float64(uint8((float64(r) + float64(g) + float64(b)) / 3))
	})
}

// Luma returns the ITU-R BT.601 luma plane rounded to 8-bit values.
func Luma(img *image.NRGBA) *Plane {
	return fromPixels(img, func(r, g, b uint8) float64 {
		return math.Round(0.299*float64(r) + 0.587*float64(g) + 0.114*float64(b))
	})
}

// RGBValues returns every R, G and B sample inside r.
func RGBValues(img *image.NRGBA, r image.Rectangle) []float64 {
	r = r.Intersect(img.Bounds())
	out := make([]float64, 0, r.Dx()*r.Dy()*3)
	for y := r.Min.Y; y < r.Max.Y; y++ {
		off := img.PixOffset(r.Min.X, y)
		for x := r.Min.X; x < r.Max.X; x++ {
			out = append(out, float64(img.Pix[off]), float64(img.Pix[off+1]), float64(img.Pix[off+2]))
			off += 4
		}
	}
	return out
}

// GrayImage converts a plane to an 8-bit grayscale image, clamping samples.
func (p *Plane) GrayImage() *image.Gray {
	g := image.NewGray(image.Rect(0, 0, p.Width, p.Height))
	for i, v := range p.Pix {
		g.Pix[i] = uint8(numeric.Clamp(math.Round(v), 0, 255))
	}
	return g
}

func fromPixels(img *image.NRGBA, f func(r, g, b uint8) float64) *Plane {
	b := img.Bounds()
	p := NewPlane(b.Dx(), b.Dy())
	for y := 0; y < p.Height; y++ {
		off := img.PixOffset(b.Min.X, b.Min.Y+y)
		row := p.Pix[y*p.Width : (y+1)*p.Width]
		for x := range row {
			row[x] = f(img.Pix[off], img.Pix[off+1], img.Pix[off+2])
			off += 4
		}
	}
	return p
}
