package deepfake

import (
	"fmt"
	"image"
	"math"

	"github.com/lucasb-eyer/go-colorful"
	"github.com/opensource-finance/harrier/internal/imaging"
	"github.com/opensource-finance/harrier/internal/numeric"
)

const (
	faceMaskCap = 60

	// boundaryEdgeThreshold is the Sobel magnitude counted as an edge in
	// the face boundary bands.
	boundaryEdgeThreshold = 150
)

// FaceMaskScore looks for the seams a face replacement leaves behind:
// sharp boundaries, colour mismatch with the surrounding skin, odd face
// proportions, uneven texture and implausible lighting.
func FaceMaskScore(img *image.NRGBA, faces imaging.FaceDetector) (float64, []string) {
	if !faces.Available() {
		return 0, []string{faceUnavailable}
	}
	found := faces.Detect(img)
	if len(found) == 0 {
		return 0, []string{"No face detected - cannot check for face mask edits"}
	}

	gray := imaging.Luma(img)
	var (
		score      float64
		indicators []string
	)
	add := func(points float64, reason string) {
		score += points
		indicators = append(indicators, reason)
	}

	for _, r := range found {
		w, h := r.Dx(), r.Dy()
		if w == 0 || h == 0 {
			continue
		}
		face := gray.Sub(r)

		// Boundary bands
		bw, bh := max(3, w/10), max(3, h/10)
		bands := []image.Rectangle{
			image.Rect(0, 0, w, bh),
			image.Rect(0, h-bh, w, h),
			image.Rect(0, 0, bw, h),
			image.Rect(w-bw, 0, w, h),
		}
		var edge float64
		for _, b := range bands {
			edge += imaging.EdgeDensity(face.Sub(b), boundaryEdgeThreshold)
		}
		edge /= 4
		switch {
		case edge > 0.15:
			add(30, fmt.Sprintf("Unnatural face boundary detected (edge density: %.3f)", edge))
		case edge > 0.10:
			add(15, fmt.Sprintf("Moderate face boundary anomalies (edge density: %.3f)", edge))
		}

		// Colour mismatch against the surrounding ring
		if expand := min(20, w/4, h/4); expand > 0 {
			outer := r.Inset(-expand).Intersect(img.Bounds())
			if diff, ok := ringColourDiff(img, r, outer); ok {
				switch {
				case diff > 30:
					add(25, fmt.Sprintf("Color mismatch between face and surrounding (diff: %.1f)", diff))
				case diff > 20:
					add(12, fmt.Sprintf("Moderate color inconsistency (diff: %.1f)", diff))
				}
			}
		}

		if aspect := float64(w) / float64(h); aspect < 0.5 || aspect > 1.2 {
			add(15, fmt.Sprintf("Unusual face aspect ratio: %.2f", aspect))
		}

		// Quadrant texture
		hm, wm := h/2, w/2
		var vars []float64
		for _, q := range []image.Rectangle{
			image.Rect(0, 0, wm, hm), image.Rect(wm, 0, w, hm),
			image.Rect(0, hm, wm, h), image.Rect(wm, hm, w, h),
		} {
			if sub := face.Sub(q); len(sub.Pix) > 0 {
				vars = append(vars, numeric.PopVariance(sub.Pix))
			}
		}
		if len(vars) > 1 {
			mean, std := numeric.MeanStdDev(vars)
			if std > mean*0.5 {
				add(20, "Inconsistent texture patterns within face region")
			}
		}

		// Lighting on the LAB lightness channel
		gx, gy := imaging.Gradient(lightness(img, r))
		if numeric.AbsMean(gx.Pix) > 25 || numeric.AbsMean(gy.Pix) > 25 {
			add(18, "Unnatural lighting patterns detected in face region")
		}
	}
	return min(score, faceMaskCap), indicators
}

// ringColourDiff returns the Euclidean distance between the mean RGB of the
// face and the mean RGB of the ring between face and outer.
func ringColourDiff(img *image.NRGBA, face, outer image.Rectangle) (float64, bool) {
	face = face.Intersect(img.Bounds())
	var in, ring [3]float64
	var nIn, nRing int
	for y := outer.Min.Y; y < outer.Max.Y; y++ {
		off := img.PixOffset(outer.Min.X, y)
		for x := outer.Min.X; x < outer.Max.X; x++ {
			px := img.Pix[off : off+3]
			if image.Pt(x, y).In(face) {
				in[0], in[1], in[2] = in[0]+float64(px[0]), in[1]+float64(px[1]), in[2]+float64(px[2])
				nIn++
			} else {
				ring[0], ring[1], ring[2] = ring[0]+float64(px[0]), ring[1]+float64(px[1]), ring[2]+float64(px[2])
				nRing++
			}
			off += 4
		}
	}
	if nIn == 0 || nRing == 0 {
		return 0, false
	}
	var sq float64
	for c := range 3 {
		d := in[c]/float64(nIn) - ring[c]/float64(nRing)
		sq += d * d
	}
	return math.Sqrt(sq), true
}

// lightness returns the CIE L* channel of r scaled to 0..255.
func lightness(img *image.NRGBA, r image.Rectangle) *imaging.Plane {
	r = r.Intersect(img.Bounds())
	p := imaging.NewPlane(r.Dx(), r.Dy())
	for y := 0; y < p.Height; y++ {
		for x := 0; x < p.Width; x++ {
			c, _ := colorful.MakeColor(img.NRGBAAt(r.Min.X+x, r.Min.Y+y))
			l, _, _ := c.Lab()
			p.Set(x, y, math.Round(l*255))
		}
	}
	return p
}
