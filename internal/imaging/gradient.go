package imaging

import "math"

// Gradient returns the horizontal and vertical derivatives of p using
// central differences in the interior and one-sided differences at the
// borders. A dimension of length 1 has a zero derivative.
func Gradient(p *Plane) (gx, gy *Plane) {
	w, h := p.Width, p.Height
	gx, gy = NewPlane(w, h), NewPlane(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			switch {
			case w < 2:
			case x == 0:
				gx.Set(x, y, p.At(1, y)-p.At(0, y))
			case x == w-1:
				gx.Set(x, y, p.At(x, y)-p.At(x-1, y))
			default:
				gx.Set(x, y, (p.At(x+1, y)-p.At(x-1, y))/2)
			}
			switch {
			case h < 2:
			case y == 0:
				gy.Set(x, y, p.At(x, 1)-p.At(x, 0))
			case y == h-1:
				gy.Set(x, y, p.At(x, y)-p.At(x, y-1))
			default:
				gy.Set(x, y, (p.At(x, y+1)-p.At(x, y-1))/2)
			}
		}
	}
	return gx, gy
}

// Sobel returns the L1 Sobel gradient magnitude of p. Borders are
// replicated.
func Sobel(p *Plane) *Plane {
	w, h := p.Width, p.Height
	out := NewPlane(w, h)
	at := func(x, y int) float64 {
		x = min(max(x, 0), w-1)
		y = min(max(y, 0), h-1)
		return p.At(x, y)
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			gx := at(x+1, y-1) + 2*at(x+1, y) + at(x+1, y+1) -
				at(x-1, y-1) - 2*at(x-1, y) - at(x-1, y+1)
			gy := at(x-1, y+1) + 2*at(x, y+1) + at(x+1, y+1) -
				at(x-1, y-1) - 2*at(x, y-1) - at(x+1, y-1)
			out.Set(x, y, math.Abs(gx)+math.Abs(gy))
		}
	}
	return out
}

// EdgeDensity returns the fraction of samples in p whose Sobel magnitude
// exceeds threshold.
func EdgeDensity(p *Plane, threshold float64) float64 {
	if len(p.Pix) == 0 {
		return 0
	}
	mag := Sobel(p)
	n := 0
	for _, v := range mag.Pix {
		if v > threshold {
			n++
		}
	}
	return float64(n) / float64(len(mag.Pix))
}
