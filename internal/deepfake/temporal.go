package deepfake

import (
	"fmt"
	"image"

	imgx "github.com/disintegration/imaging"
	"github.com/opensource-finance/harrier/internal/imaging"
	"github.com/opensource-finance/harrier/internal/numeric"
)

const (
	temporalCap = 50

	// compareSide is the square size frames are resized to before
	// frame-to-frame differencing.
	compareSide = 100
)

// TemporalFaceScore looks for a face that jitters, resizes or flickers
// across frames in a way a real head does not.
func TemporalFaceScore(frames []*image.NRGBA, faces imaging.FaceDetector) (float64, []string) {
	if len(frames) < 2 {
		return 0, []string{"Need at least 2 frames for temporal analysis"}
	}
	if !faces.Available() {
		return 0, []string{faceUnavailable}
	}

	var xs, ys, ws, hs, brightness []float64
	grays := make([]*imaging.Plane, len(frames))
	for i, f := range frames {
		gray := imaging.Luma(f)
		grays[i] = gray

		found := faces.Detect(f)
		if len(found) == 0 {
			continue
		}
		largest := found[0]
		for _, r := range found[1:] {
			if r.Dx()*r.Dy() > largest.Dx()*largest.Dy() {
				largest = r
			}
		}
		xs = append(xs, float64(largest.Min.X))
		ys = append(ys, float64(largest.Min.Y))
		ws = append(ws, float64(largest.Dx()))
		hs = append(hs, float64(largest.Dy()))
		brightness = append(brightness, numeric.Mean(gray.Sub(largest).Pix))
	}
	if len(xs) < 2 {
		return 0, []string{"Not enough faces detected for temporal analysis"}
	}

	var (
		score      float64
		indicators []string
	)

	if jitter := (numeric.PopStdDev(xs) + numeric.PopStdDev(ys)) / 2; jitter > 10 {
		score += 20
		indicators = append(indicators, fmt.Sprintf("Unnatural face position jitter (variance: %.1f)", jitter))
	}
	if sizeVar := (numeric.PopStdDev(ws) + numeric.PopStdDev(hs)) / 2; sizeVar > 5 {
		score += 15
		indicators = append(indicators, fmt.Sprintf("Unnatural face size variation (variance: %.1f)", sizeVar))
	}

	switch flicker := numeric.PopStdDev(brightness); {
	case flicker > 15:
		score += 25
		indicators = append(indicators, fmt.Sprintf("Unnatural brightness flickering (std: %.1f)", flicker))
	case flicker > 10:
		score += 12
		indicators = append(indicators, fmt.Sprintf("Moderate brightness inconsistency (std: %.1f)", flicker))
	}

	if len(frames) >= 3 {
		changes := make([]float64, 0, len(grays)-1)
		for i := 0; i+1 < len(grays); i++ {
			changes = append(changes, frameChange(grays[i], grays[i+1]))
		}
		mean, std := numeric.MeanStdDev(changes)
		if std > mean*0.5 {
			score += 20
			indicators = append(indicators, "Inconsistent face appearance changes between frames")
		}
	}

	return min(score, temporalCap), indicators
}

// frameChange crops two frames to their common size, resizes both to
// compareSide squares and returns their mean absolute difference.
func frameChange(a, b *imaging.Plane) float64 {
	common := image.Rect(0, 0, min(a.Width, b.Width), min(a.Height, b.Height))
	if common.Empty() {
		return 0
	}
	ra := imgx.Resize(a.Sub(common).GrayImage(), compareSide, compareSide, imgx.Linear)
	rb := imgx.Resize(b.Sub(common).GrayImage(), compareSide, compareSide, imgx.Linear)

	var sum float64
	for i := 0; i < len(ra.Pix); i += 4 {
		d := float64(ra.Pix[i]) - float64(rb.Pix[i])
		if d < 0 {
			d = -d
		}
		sum += d
	}
	return sum / float64(compareSide*compareSide)
}
