package imaging

import (
	"math"
	"math/cmplx"

	imgx "github.com/disintegration/imaging"
	"gonum.org/v1/gonum/dsp/fourier"
)

// MaxSpectrumPixels bounds the plane size fed to the 2-D transform; larger
// planes are box-downscaled first.
const MaxSpectrumPixels = 1 << 22

// Spectrum returns the centred magnitude of the 2-D discrete Fourier
// transform of p, matching the layout of an fftshift-ed spectrum.
func Spectrum(p *Plane) *Plane {
	if p.Width == 0 || p.Height == 0 {
		return NewPlane(0, 0)
	}
	p = limitPlane(p)
	w, h := p.Width, p.Height

	data := make([]complex128, w*h)
	for i, v := range p.Pix {
		data[i] = complex(v, 0)
	}

	row := fourier.NewCmplxFFT(w)
	buf := make([]complex128, w)
	for y := 0; y < h; y++ {
		line := data[y*w : (y+1)*w]
		row.Coefficients(buf, line)
		copy(line, buf)
	}

	col := fourier.NewCmplxFFT(h)
	in := make([]complex128, h)
	out := make([]complex128, h)
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			in[y] = data[y*w+x]
		}
		col.Coefficients(out, in)
		for y := 0; y < h; y++ {
			data[y*w+x] = out[y]
		}
	}

	mag := NewPlane(w, h)
	for y := 0; y < h; y++ {
		sy := (y + h - h/2) % h
		for x := 0; x < w; x++ {
			sx := (x + w - w/2) % w
			mag.Set(x, y, cmplx.Abs(data[sy*w+sx]))
		}
	}
	return mag
}

func limitPlane(p *Plane) *Plane {
	n := p.Width * p.Height
	if n <= MaxSpectrumPixels {
		return p
	}
	scale := math.Sqrt(float64(MaxSpectrumPixels) / float64(n))
	w := max(1, int(float64(p.Width)*scale))
	h := max(1, int(float64(p.Height)*scale))

	small := imgx.Resize(p.GrayImage(), w, h, imgx.Box)
	out := NewPlane(w, h)
	for y := 0; y < h; y++ {
		off := small.PixOffset(0, y)
		for x := 0; x < w; x++ {
			out.Set(x, y, float64(small.Pix[off]))
			off += 4
		}
	}
	return out
}
